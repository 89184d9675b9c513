// Package remote talks to the live streaming platform's status API.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"livewatch/internal/model"
	logx "livewatch/pkg/logx"
)

const (
	DefaultLiveBaseURL = "https://api.live.bilibili.com"
	DefaultTimeout     = 10 * time.Second
	DefaultRatePerSec  = 2.0

	maxResponseBodySize = 4 << 20

	batchPath    = "/room/v1/Room/get_status_info_by_uids"
	metadataPath = "/live_user/v1/Master/info"
)

// DefaultUserAgents is the identity pool used when none is configured.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36 Edg/124.0.0.0",
}

type Options struct {
	BaseURL    string
	Timeout    time.Duration
	RatePerSec float64
	UserAgents []string

	HTTPClient *http.Client
	Stats      *Stats
	Logger     logx.Logger
}

// Client queries live status for many accounts in one request.
//
// Every call waits on a shared rate limiter and carries its own timeout.
type Client struct {
	base    string
	timeout time.Duration
	agents  []string

	http    *http.Client
	limiter *rate.Limiter
	stats   *Stats
	log     logx.Logger
}

func New(opt Options) *Client {
	base := strings.TrimRight(strings.TrimSpace(opt.BaseURL), "/")
	if base == "" {
		base = DefaultLiveBaseURL
	}
	timeout := opt.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	rps := opt.RatePerSec
	if rps <= 0 {
		rps = DefaultRatePerSec
	}
	agents := opt.UserAgents
	if len(agents) == 0 {
		agents = DefaultUserAgents
	}
	hc := opt.HTTPClient
	if hc == nil {
		// no client-wide timeout; each request gets its own via context
		hc = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        16,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     60 * time.Second,
			},
		}
	}
	st := opt.Stats
	if st == nil {
		st = NewStats()
	}
	return &Client{
		base:    base,
		timeout: timeout,
		agents:  agents,
		http:    hc,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		stats:   st,
		log:     opt.Logger.With(logx.String("comp", "remote")),
	}
}

// Stats exposes the shared request counters.
func (c *Client) Stats() *Stats { return c.stats }

// envelope is the common response wrapper of the platform API.
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Msg     string          `json:"msg"`
	Data    json.RawMessage `json:"data"`
}

type roomStatus struct {
	Title         string `json:"title"`
	UID           int64  `json:"uid"`
	Uname         string `json:"uname"`
	RoomID        int64  `json:"room_id"`
	LiveStatus    int    `json:"live_status"`
	LiveTime      int64  `json:"live_time"`
	CoverFromUser string `json:"cover_from_user"`
}

type masterInfo struct {
	Info struct {
		UID   int64  `json:"uid"`
		Uname string `json:"uname"`
	} `json:"info"`
	RoomID int64 `json:"room_id"`
}

// BatchQuery returns the current status of every id the platform knows about,
// in a single request. An empty id set returns an empty map without a call.
// Ids the platform does not report are absent from the result.
func (c *Client) BatchQuery(ctx context.Context, ids []string) (map[string]model.Sample, error) {
	out := make(map[string]model.Sample, len(ids))

	uids := make([]int64, 0, len(ids))
	for _, id := range ids {
		n, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
		if err != nil || n <= 0 {
			c.log.Warn("skipping non-numeric account id", logx.String("id", id))
			continue
		}
		uids = append(uids, n)
	}
	if len(uids) == 0 {
		return out, nil
	}

	body, err := json.Marshal(map[string][]int64{"uids": uids})
	if err != nil {
		return nil, &Error{Op: "batch_query", Cause: "encode request", Err: err}
	}

	var env envelope
	if err := c.call(ctx, "batch_query", http.MethodPost, c.base+batchPath, body, &env); err != nil {
		return nil, err
	}

	rooms := map[string]roomStatus{}
	// the API answers [] instead of {} when none of the ids exist
	if raw := bytes.TrimSpace(env.Data); len(raw) > 0 && !bytes.Equal(raw, []byte("[]")) && !bytes.Equal(raw, []byte("null")) {
		if err := json.Unmarshal(raw, &rooms); err != nil {
			c.stats.IncFailure()
			return nil, &Error{Op: "batch_query", Cause: "malformed data", Err: err}
		}
	}

	for key, r := range rooms {
		id := key
		if r.UID > 0 {
			id = strconv.FormatInt(r.UID, 10)
		}
		s := model.Sample{
			ID:       id,
			IsLive:   r.LiveStatus == 1,
			Title:    r.Title,
			CoverRef: r.CoverFromUser,
		}
		if r.LiveTime > 0 {
			s.SessionStart = time.Unix(r.LiveTime, 0)
		}
		out[id] = s
	}
	return out, nil
}

// FetchAccountMetadata looks up the display name and room of one account.
func (c *Client) FetchAccountMetadata(ctx context.Context, id string) (model.AccountInfo, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
	if err != nil || n <= 0 {
		return model.AccountInfo{}, &Error{Op: "account_metadata", Cause: fmt.Sprintf("invalid account id %q", id)}
	}

	u := c.base + metadataPath + "?" + url.Values{"uid": {strconv.FormatInt(n, 10)}}.Encode()
	var env envelope
	if err := c.call(ctx, "account_metadata", http.MethodGet, u, nil, &env); err != nil {
		return model.AccountInfo{}, err
	}

	var mi masterInfo
	if err := json.Unmarshal(env.Data, &mi); err != nil {
		c.stats.IncFailure()
		return model.AccountInfo{}, &Error{Op: "account_metadata", Cause: "malformed data", Err: err}
	}
	if strings.TrimSpace(mi.Info.Uname) == "" || mi.RoomID == 0 {
		c.stats.IncFailure()
		return model.AccountInfo{}, &Error{Op: "account_metadata", Cause: fmt.Sprintf("account %s does not exist", id)}
	}
	return model.AccountInfo{
		DisplayName:   mi.Info.Uname,
		RoomReference: strconv.FormatInt(mi.RoomID, 10),
	}, nil
}

// RoomURL builds the public deep link for a room reference.
func RoomURL(room string) string {
	return "https://live.bilibili.com/" + room
}

// call performs one request and decodes the envelope into env. It owns the
// request and failure counters for everything up to envelope validation.
func (c *Client) call(ctx context.Context, op, method, u string, body []byte, env *envelope) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &Error{Op: op, Cause: "rate limiter", Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	c.stats.IncRequest()
	fail := func(cause string, err error) error {
		c.stats.IncFailure()
		c.log.Debug("remote call failed", logx.String("op", op), logx.String("cause", cause), logx.Err(err))
		return &Error{Op: op, Cause: cause, Err: err}
	}

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return fail("build request", err)
	}
	req.Header.Set("User-Agent", c.pickAgent())
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fail("transport", err)
	}
	defer func() { _ = resp.Body.Close() }()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return fail("read body", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fail(fmt.Sprintf("http status %d", resp.StatusCode), nil)
	}
	if err := json.Unmarshal(b, env); err != nil {
		return fail("malformed payload", err)
	}
	if env.Code != 0 {
		msg := env.Message
		if msg == "" {
			msg = env.Msg
		}
		return fail(fmt.Sprintf("application code %d: %s", env.Code, msg), nil)
	}
	return nil
}

// pickAgent is stateless: each request draws uniformly from the pool.
func (c *Client) pickAgent() string {
	return c.agents[rand.IntN(len(c.agents))]
}
