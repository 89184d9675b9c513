package livecmd

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"livewatch/internal/model"
	"livewatch/internal/remote"
	"livewatch/internal/storage"
	"livewatch/internal/subscribe"
	kit "livewatch/internal/transport"
	"livewatch/internal/transport/telegram/router"
	logx "livewatch/pkg/logx"
)

type fakeMeta struct{ err error }

func (f fakeMeta) FetchAccountMetadata(_ context.Context, id string) (model.AccountInfo, error) {
	if f.err != nil {
		return model.AccountInfo{}, f.err
	}
	return model.AccountInfo{DisplayName: "主播" + id, RoomReference: "9" + id}, nil
}

type auditStore struct {
	storage.Store
	mu      sync.Mutex
	entries []storage.AuditEntry
}

func (s *auditStore) AppendAudit(ctx context.Context, e storage.AuditEntry) error {
	s.mu.Lock()
	s.entries = append(s.entries, e)
	s.mu.Unlock()
	return s.Store.AppendAudit(ctx, e)
}

type fakeAdapter struct {
	texts   []string
	answers map[string]string
}

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                     { return nil }
func (f *fakeAdapter) SendText(_ context.Context, _ kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.texts = append(f.texts, text)
	return kit.MessageRef{}, nil
}
func (f *fakeAdapter) EditText(context.Context, kit.MessageRef, string, *kit.SendOptions) error {
	return nil
}
func (f *fakeAdapter) AnswerCallback(_ context.Context, id string, text string) error {
	if f.answers == nil {
		f.answers = map[string]string{}
	}
	f.answers[id] = text
	return nil
}

func (f *fakeAdapter) last() string {
	if len(f.texts) == 0 {
		return ""
	}
	return f.texts[len(f.texts)-1]
}

var now = time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

func setup(t *testing.T, meta subscribe.Metadata) (*Handlers, *auditStore, *fakeAdapter) {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "subs.json")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	as := &auditStore{Store: st}
	h := New(Deps{
		Subs:  subscribe.New(as, meta, &storage.Locks{}, logx.Nop()),
		Store: as,
		Stats: remote.NewStats(),
		Now:   func() time.Time { return now },
	})
	return h, as, &fakeAdapter{}
}

func request(fa *fakeAdapter, args ...string) *router.Request {
	return &router.Request{
		Chat:         kit.ChatTarget{ChatID: -100, ThreadID: 3},
		FromID:       11,
		FromUsername: "op",
		Args:         args,
		Adapter:      fa,
		Logger:       logx.Nop(),
	}
}

func TestAddListRemove(t *testing.T) {
	h, as, fa := setup(t, fakeMeta{})
	ctx := context.Background()

	if err := h.add(ctx, request(fa, "42")); err != nil {
		t.Fatalf("add: %v", err)
	}
	if !strings.Contains(fa.last(), "已订阅 <b>主播42</b>") {
		t.Fatalf("add reply = %q", fa.last())
	}
	if err := h.add(ctx, request(fa, "42")); err != nil {
		t.Fatalf("second add: %v", err)
	}
	if !strings.Contains(fa.last(), "本群已订阅") {
		t.Fatalf("duplicate add reply = %q", fa.last())
	}

	if err := h.list(ctx, request(fa)); err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(fa.last(), "<code>42</code>") || !strings.Contains(fa.last(), "(1)") {
		t.Fatalf("list reply = %q", fa.last())
	}

	if err := h.remove(ctx, request(fa, "42")); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if !strings.Contains(fa.last(), "该主播已无订阅") {
		t.Fatalf("remove reply = %q", fa.last())
	}
	if err := h.remove(ctx, request(fa, "42")); err != nil {
		t.Fatalf("second remove: %v", err)
	}
	if !strings.Contains(fa.last(), "本群未订阅") {
		t.Fatalf("missing remove reply = %q", fa.last())
	}

	if len(as.entries) != 4 {
		t.Fatalf("audit entries = %d, want 4", len(as.entries))
	}
	first, dup := as.entries[0], as.entries[1]
	if first.Action != "live_add" || first.Target != "42" || first.ActorID != 11 || first.ThreadID != 3 || first.Error != "" {
		t.Fatalf("first audit = %+v", first)
	}
	if dup.Error == "" {
		t.Fatalf("failed add must be audited with its error")
	}
}

func TestAddRejectsBadInput(t *testing.T) {
	h, as, fa := setup(t, fakeMeta{})
	ctx := context.Background()

	if err := h.add(ctx, request(fa)); err != nil {
		t.Fatalf("add without args: %v", err)
	}
	if !strings.Contains(fa.last(), "用法") {
		t.Fatalf("usage reply = %q", fa.last())
	}
	if err := h.add(ctx, request(fa, "abc")); err != nil {
		t.Fatalf("add bad id: %v", err)
	}
	if !strings.Contains(fa.last(), "正整数") {
		t.Fatalf("bad id reply = %q", fa.last())
	}
	if len(as.entries) != 1 {
		t.Fatalf("audit entries = %d, want 1", len(as.entries))
	}
}

func TestAddRemoteFailure(t *testing.T) {
	h, _, fa := setup(t, fakeMeta{err: &remote.Error{Op: "metadata", Cause: "transport"}})
	if err := h.add(context.Background(), request(fa, "7")); err == nil {
		t.Fatalf("expected the remote error to surface")
	}
	if !strings.Contains(fa.last(), "获取主播信息失败") {
		t.Fatalf("reply = %q", fa.last())
	}
}

func TestInfoCallback(t *testing.T) {
	h, as, fa := setup(t, fakeMeta{})
	ctx := context.Background()

	sub := model.Subscription{
		ID:            "5",
		DisplayName:   "主播5",
		NotifyTargets: []model.NotifyTarget{{ChatID: -100, ThreadID: 3}},
		Status: &model.LiveStatus{
			IsLive:       true,
			Title:        "晚间杂谈",
			SessionStart: now.Add(-90 * time.Minute),
			MessageRefs:  []*model.MessageRef{{ChatID: -100, ThreadID: 3, MessageID: 77, Media: true}},
		},
	}
	if err := as.Upsert(ctx, sub); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	req := request(fa)
	req.MessageID = 77
	req.CallbackID = "cb"
	if err := h.info(ctx, req); err != nil {
		t.Fatalf("info: %v", err)
	}
	if got := fa.answers["cb"]; !strings.Contains(got, "晚间杂谈") || !strings.Contains(got, "1 小时 30 分钟") {
		t.Fatalf("answer = %q", got)
	}

	req.MessageID = 78
	req.CallbackID = "cb2"
	if err := h.info(ctx, req); err != nil {
		t.Fatalf("info: %v", err)
	}
	if got := fa.answers["cb2"]; got != "该通知已失效" {
		t.Fatalf("answer for unknown message = %q", got)
	}
}

func TestStatusReport(t *testing.T) {
	h, _, fa := setup(t, fakeMeta{})
	ctx := context.Background()
	_ = h.add(ctx, request(fa, "1"))
	_ = h.add(ctx, request(fa, "2"))
	h.d.Stats.IncRequest()
	h.d.Stats.IncRequest()
	h.d.Stats.IncFailure()

	text, err := h.StatusReport(ctx)
	if err != nil {
		t.Fatalf("StatusReport: %v", err)
	}
	for _, want := range []string{"订阅: 2 (直播中 0, 推送目标 2)", "请求: 2 次, 失败 1 次 (50.0%)"} {
		if !strings.Contains(text, want) {
			t.Fatalf("report missing %q:\n%s", want, text)
		}
	}
}

func TestCommandsTable(t *testing.T) {
	h, _, _ := setup(t, fakeMeta{})
	routes := map[string]router.Access{}
	for _, c := range h.Commands() {
		routes[c.Route] = c.Access
	}
	if routes["live add"] != router.AccessOwnerOnly || routes["live remove"] != router.AccessOwnerOnly {
		t.Fatalf("mutating commands must be owner-only: %v", routes)
	}
	if _, ok := routes["live status"]; !ok {
		t.Fatalf("missing live status: %v", routes)
	}
	if cbs := h.Callbacks(); len(cbs) != 1 || cbs[0].Key != "live_info" {
		t.Fatalf("callbacks = %+v", cbs)
	}
}
