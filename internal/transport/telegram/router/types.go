package router

import (
	"context"
	"time"

	kit "livewatch/internal/transport"
	logx "livewatch/pkg/logx"
	"livewatch/pkg/tgui"
)

type Access int

const (
	AccessEveryone Access = iota
	// AccessOwnerOnly restricts a command to the configured owners. With no
	// owners configured it is open to everyone.
	AccessOwnerOnly
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Command struct {
	// Route is a space-separated command path, e.g. "live add". Multi-token
	// routes are also reachable through their underscore form ("/live_add").
	Route       string
	Aliases     []string
	Description string
	Usage       string
	Access      Access
	Timeout     time.Duration
	Handle      HandlerFunc
}

// CallbackRoute handles inline button presses whose data is Key or starts
// with "Key:". The remainder after the colon is passed as Request.Payload.
type CallbackRoute struct {
	Key     string
	Access  Access
	Timeout time.Duration
	Handle  HandlerFunc
}

type Request struct {
	Update       kit.Update
	Chat         kit.ChatTarget
	FromID       int64
	FromUsername string
	// MessageID is the message a callback button belongs to.
	MessageID  int
	Path       []string
	Command    string
	Args       []string
	Payload    string
	CallbackID string
	ReqID      string

	Adapter kit.Adapter
	Logger  logx.Logger
}

// Reply sends text to the chat and thread the request came from.
func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.Adapter.SendText(ctx, r.Chat, text, &kit.SendOptions{ParseMode: tgui.ParseMode, DisablePreview: true})
	return err
}
