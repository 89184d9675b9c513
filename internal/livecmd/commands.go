// Package livecmd provides the chat commands that manage subscriptions and
// the callback behind the info button of live notifications.
package livecmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"livewatch/internal/dispatch"
	"livewatch/internal/model"
	"livewatch/internal/remote"
	"livewatch/internal/storage"
	"livewatch/internal/subscribe"
	"livewatch/internal/transport/telegram/router"
	logx "livewatch/pkg/logx"
	"livewatch/pkg/tgui"
)

type Subscriptions interface {
	Add(ctx context.Context, id string, target model.NotifyTarget) (model.Subscription, error)
	Remove(ctx context.Context, id string, target model.NotifyTarget) (bool, error)
	List(ctx context.Context, target model.NotifyTarget) ([]model.Subscription, error)
	ListAll(ctx context.Context) ([]model.Subscription, error)
}

type Store interface {
	FindByMessageRef(ctx context.Context, ref model.MessageRef) (model.Subscription, bool, error)
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
}

// PollState reports the poll loop; satisfied by *poll.Loop.
type PollState interface {
	Cycles() uint64
}

type Deps struct {
	Subs  Subscriptions
	Store Store
	Stats *remote.Stats
	Poll  PollState
	Log   logx.Logger
	Now   func() time.Time
}

type Handlers struct {
	d Deps
}

func New(d Deps) *Handlers {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	return &Handlers{d: d}
}

func (h *Handlers) Commands() []router.Command {
	return []router.Command{
		{
			Route:       "live add",
			Description: "订阅主播开播通知",
			Usage:       "/live_add <uid>",
			Access:      router.AccessOwnerOnly,
			Timeout:     20 * time.Second,
			Handle:      h.add,
		},
		{
			Route:       "live remove",
			Aliases:     []string{"live_rm"},
			Description: "取消订阅",
			Usage:       "/live_remove <uid>",
			Access:      router.AccessOwnerOnly,
			Timeout:     10 * time.Second,
			Handle:      h.remove,
		},
		{
			Route:       "live list",
			Description: "本群订阅列表",
			Usage:       "/live_list",
			Timeout:     10 * time.Second,
			Handle:      h.list,
		},
		{
			Route:       "live status",
			Description: "运行状态",
			Usage:       "/live_status",
			Timeout:     10 * time.Second,
			Handle:      h.status,
		},
	}
}

func (h *Handlers) Callbacks() []router.CallbackRoute {
	return []router.CallbackRoute{
		{Key: dispatch.InfoCallbackData, Timeout: 5 * time.Second, Handle: h.info},
	}
}

func targetOf(req *router.Request) model.NotifyTarget {
	return model.NotifyTarget{ChatID: req.Chat.ChatID, ThreadID: req.Chat.ThreadID}
}

func (h *Handlers) add(ctx context.Context, req *router.Request) error {
	if len(req.Args) != 1 {
		return req.Reply(ctx, "用法: <code>/live_add &lt;uid&gt;</code>")
	}
	sub, err := h.d.Subs.Add(ctx, req.Args[0], targetOf(req))
	h.audit(ctx, req, "live_add", req.Args[0], err)

	switch {
	case err == nil:
		return req.Reply(ctx, fmt.Sprintf("✅ 已订阅 %s (%s)", tgui.B(sub.DisplayName), sub.ID))
	case errors.Is(err, subscribe.ErrInvalidID):
		return req.Reply(ctx, "uid 必须是正整数")
	case errors.Is(err, subscribe.ErrTargetExists):
		return req.Reply(ctx, fmt.Sprintf("本群已订阅 %s", tgui.B(sub.DisplayName)))
	case remote.IsRemoteError(err):
		_ = req.Reply(ctx, "获取主播信息失败，请确认 uid 后重试")
		return err
	default:
		_ = req.Reply(ctx, "订阅失败，请稍后重试")
		return err
	}
}

func (h *Handlers) remove(ctx context.Context, req *router.Request) error {
	if len(req.Args) != 1 {
		return req.Reply(ctx, "用法: <code>/live_remove &lt;uid&gt;</code>")
	}
	deleted, err := h.d.Subs.Remove(ctx, req.Args[0], targetOf(req))
	h.audit(ctx, req, "live_remove", req.Args[0], err)

	switch {
	case err == nil && deleted:
		return req.Reply(ctx, "✅ 已取消订阅，该主播已无订阅")
	case err == nil:
		return req.Reply(ctx, "✅ 已取消订阅")
	case errors.Is(err, subscribe.ErrInvalidID):
		return req.Reply(ctx, "uid 必须是正整数")
	case errors.Is(err, subscribe.ErrTargetMissing):
		return req.Reply(ctx, "本群未订阅该主播")
	default:
		_ = req.Reply(ctx, "取消订阅失败，请稍后重试")
		return err
	}
}

func (h *Handlers) list(ctx context.Context, req *router.Request) error {
	subs, err := h.d.Subs.List(ctx, targetOf(req))
	if err != nil {
		return err
	}
	if len(subs) == 0 {
		return req.Reply(ctx, "本群暂无订阅")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "<b>本群订阅 (%d)</b>\n", len(subs))
	for _, s := range subs {
		state := "未开播"
		if s.CurrentStatus().IsLive {
			state = "🔴 直播中"
		}
		fmt.Fprintf(&b, "\n%s %s %s", tgui.B(s.DisplayName), tgui.Code(s.ID), state)
	}
	return req.Reply(ctx, b.String())
}

func (h *Handlers) status(ctx context.Context, req *router.Request) error {
	text, err := h.StatusReport(ctx)
	if err != nil {
		return err
	}
	return req.Reply(ctx, text)
}

// StatusReport renders remote client statistics and subscription counts.
func (h *Handlers) StatusReport(ctx context.Context) (string, error) {
	all, err := h.d.Subs.ListAll(ctx)
	if err != nil {
		return "", err
	}
	live, targets := 0, 0
	for _, s := range all {
		if s.CurrentStatus().IsLive {
			live++
		}
		targets += len(s.NotifyTargets)
	}

	now := h.d.Now()
	var b strings.Builder
	b.WriteString("<b>livewatch 状态</b>\n")
	fmt.Fprintf(&b, "\n订阅: %d (直播中 %d, 推送目标 %d)", len(all), live, targets)
	if h.d.Poll != nil {
		fmt.Fprintf(&b, "\n轮询周期: %d", h.d.Poll.Cycles())
	}
	if h.d.Stats != nil {
		snap := h.d.Stats.Snapshot()
		fmt.Fprintf(&b, "\n请求: %d 次, 失败 %d 次 (%.1f%%)", snap.Requests, snap.Failures, snap.FailureRatio()*100)
		fmt.Fprintf(&b, "\n请求速率: %.2f 次/分钟", snap.RatePerMinute(now))
		fmt.Fprintf(&b, "\n统计起始: %s", snap.Since.Format("2006-01-02 15:04:05"))
	}
	return b.String(), nil
}

func (h *Handlers) info(ctx context.Context, req *router.Request) error {
	sub, ok, err := h.d.Store.FindByMessageRef(ctx, model.MessageRef{ChatID: req.Chat.ChatID, MessageID: req.MessageID})
	if err != nil {
		return err
	}
	text := "该通知已失效"
	if ok {
		text = dispatch.InfoText(sub, h.d.Now())
	}
	return req.Adapter.AnswerCallback(ctx, req.CallbackID, text)
}

func (h *Handlers) audit(ctx context.Context, req *router.Request, action, target string, cmdErr error) {
	e := storage.AuditEntry{
		At:            h.d.Now(),
		ActorID:       req.FromID,
		ActorUsername: req.FromUsername,
		ChatID:        req.Chat.ChatID,
		ThreadID:      req.Chat.ThreadID,
		Action:        action,
		Target:        target,
	}
	if cmdErr != nil {
		e.Error = cmdErr.Error()
	}
	if err := h.d.Store.AppendAudit(ctx, e); err != nil {
		req.Logger.Warn("audit append failed", logx.Err(err))
	}
}
