// Package router turns Telegram updates into command and callback handler
// invocations on a bounded worker pool.
package router

import (
	"context"
	"runtime"
	"runtime/debug"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	rtsup "livewatch/internal/runtime/supervisor"
	kit "livewatch/internal/transport"
	logx "livewatch/pkg/logx"
)

type CommandManager struct {
	mu    sync.RWMutex
	root  *cmdNode
	alias map[string]*cmdNode // single word -> leaf node
	cbs   map[string]CallbackRoute

	owners []int64

	log     logx.Logger
	adapter kit.Adapter

	jobs chan func()
}

func NewCommandManager(log logx.Logger, adapter kit.Adapter, owners []int64) *CommandManager {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &CommandManager{
		root:    newRoot(),
		alias:   map[string]*cmdNode{},
		cbs:     map[string]CallbackRoute{},
		owners:  slices.Clone(owners),
		log:     log.With(logx.String("comp", "telegram.router")),
		adapter: adapter,
		jobs:    make(chan func(), 256),
	}
}

// SetOwners updates the owner list used for AccessOwnerOnly checks.
// Safe to call during hot-reload.
func (m *CommandManager) SetOwners(owners []int64) {
	cp := slices.Clone(owners)
	m.mu.Lock()
	m.owners = cp
	m.mu.Unlock()
}

func (m *CommandManager) allowed(access Access, userID int64) bool {
	if access != AccessOwnerOnly {
		return true
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.owners) == 0 || slices.Contains(m.owners, userID)
}

// SetRegistry replaces the command and callback tables. A /help command is
// always added. When the adapter supports it the platform menu is refreshed
// in the background.
func (m *CommandManager) SetRegistry(cmds []Command, cbs []CallbackRoute) {
	cmds = append(slices.Clone(cmds), Command{
		Route:       "help",
		Aliases:     []string{"start"},
		Description: "查看可用命令",
		Usage:       "/help [命令]",
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, m.helpText(req.Args))
		},
	})

	root := newRoot()
	alias := map[string]*cmdNode{}
	registered := make([]Command, 0, len(cmds))
	for _, c := range cmds {
		route := splitRoute(c.Route)
		if len(route) == 0 || c.Handle == nil {
			continue
		}
		root.add(route, c)
		registered = append(registered, c)
		leaf := root.find(route)

		// Multi-token routes get their underscore form as an alias. The
		// canonical single token is left out so subcommand traversal still
		// works for it.
		if name := menuName(route); name != "" && (len(route) > 1 || name != route[0]) {
			if _, exists := alias[name]; !exists {
				alias[name] = leaf
			}
		}
		for _, a := range c.Aliases {
			if a = sanitizeTelegramCommand(a); a != "" {
				alias[a] = leaf
			}
		}
	}

	cb := make(map[string]CallbackRoute, len(cbs))
	for _, r := range cbs {
		k := strings.TrimSpace(r.Key)
		if k == "" || r.Handle == nil {
			continue
		}
		cb[k] = r
	}

	m.mu.Lock()
	m.root = root
	m.alias = alias
	m.cbs = cb
	m.mu.Unlock()

	if up, ok := m.adapter.(kit.CommandMenuUpdater); ok {
		menu := buildMenuCommands(registered)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := up.UpdateMenuCommands(ctx, menu); err != nil {
				m.log.Warn("menu update failed", logx.Err(err))
			}
		}()
	}
}

// DispatchLoop consumes updates until ctx is done or updates is closed.
// Handlers run on a restartable worker pool; when the queue is full the user
// is told to retry.
func (m *CommandManager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	workers := max(runtime.NumCPU(), 2)
	sup := rtsup.New(ctx, rtsup.WithLogger(m.log))
	m.log.Info("command dispatcher started", logx.Int("workers", workers), logx.Int("job_queue_cap", cap(m.jobs)))

	for i := 0; i < workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-m.jobs:
					m.runJob(idx, job)
				}
			}
		}, rtsup.RestartPolicy{MinBackoff: 200 * time.Millisecond, MaxBackoff: 5 * time.Second})
	}

	defer func() {
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			m.routeUpdate(sup.Context(), up)
		}
	}
}

func (m *CommandManager) runJob(worker int, job func()) {
	if job == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("panic in command job", logx.Int("worker", worker), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	job()
}

func (m *CommandManager) tryEnqueue(fn func()) bool {
	select {
	case m.jobs <- fn:
		return true
	default:
		return false
	}
}

func (m *CommandManager) routeUpdate(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		m.routeMessage(ctx, up)
	case kit.UpdateCallback:
		m.routeCallback(ctx, up)
	}
}

// resolve finds the command for the tokens of a message. It returns nil
// when the first word is unknown.
func (m *CommandManager) resolve(parts []string) (cmd *Command, path, args []string) {
	word := commandWord(parts[0])
	args = parts[1:]

	m.mu.RLock()
	root, alias := m.root, m.alias
	m.mu.RUnlock()

	if leaf, ok := alias[word]; ok && leaf.cmd != nil {
		return leaf.cmd, splitRoute(leaf.cmd.Route), args
	}
	cur, ok := root.child(word)
	if !ok {
		return nil, nil, nil
	}
	path = []string{word}
	for len(args) > 0 {
		child, ok := cur.child(strings.ToLower(args[0]))
		if !ok {
			break
		}
		cur = child
		path = append(path, strings.ToLower(args[0]))
		args = args[1:]
	}
	return cur.cmd, path, args
}

func (m *CommandManager) routeMessage(ctx context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return
	}
	parts := tokenizeCommandLine(text)
	if len(parts) == 0 {
		return
	}
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}

	cmd, path, args := m.resolve(parts)
	if path == nil {
		// unknown commands are ignored; groups often host other bots
		return
	}
	if cmd == nil {
		_, _ = m.adapter.SendText(ctx, chat, m.helpText(path), &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
		return
	}
	if !m.allowed(cmd.Access, msg.FromID) {
		_, _ = m.adapter.SendText(ctx, chat, "⛔ 没有权限执行该命令", nil)
		return
	}

	rid := uuid.NewString()[:8]
	route := strings.Join(path, " ")
	req := &Request{
		Update:       up,
		Chat:         chat,
		FromID:       msg.FromID,
		FromUsername: msg.FromUsername,
		Path:         path,
		Command:      route,
		Args:         args,
		ReqID:        rid,
		Adapter:      m.adapter,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int("thread_id", msg.ThreadID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", route),
		),
	}
	final := Chain(cmd.Handle, MWPanicRecover(m.log), MWRequestLog(m.log), MWTimeout(cmd.Timeout))
	if !m.tryEnqueue(func() { _ = final(ctx, req) }) {
		_, _ = m.adapter.SendText(ctx, chat, "忙碌中，请稍后再试", nil)
	}
}

func (m *CommandManager) routeCallback(ctx context.Context, up kit.Update) {
	cb := up.Callback
	if cb == nil {
		return
	}
	key, payload, _ := strings.Cut(strings.TrimSpace(cb.Data), ":")

	m.mu.RLock()
	route, ok := m.cbs[key]
	m.mu.RUnlock()
	if !ok {
		_ = m.adapter.AnswerCallback(ctx, cb.ID, "")
		return
	}
	if !m.allowed(route.Access, cb.FromID) {
		_ = m.adapter.AnswerCallback(ctx, cb.ID, "没有权限")
		return
	}

	rid := uuid.NewString()[:8]
	req := &Request{
		Update:     up,
		Chat:       kit.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID},
		FromID:     cb.FromID,
		MessageID:  cb.MessageID,
		Command:    "cb:" + key,
		Payload:    payload,
		CallbackID: cb.ID,
		ReqID:      rid,
		Adapter:    m.adapter,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", cb.ChatID),
			logx.Int64("from_id", cb.FromID),
			logx.String("cmd", "cb:"+key),
		),
	}
	final := Chain(route.Handle, MWPanicRecover(m.log), MWRequestLog(m.log), MWTimeout(route.Timeout))
	job := func() {
		if err := final(ctx, req); err != nil {
			_ = m.adapter.AnswerCallback(ctx, cb.ID, "操作失败")
		}
	}
	if !m.tryEnqueue(job) {
		_ = m.adapter.AnswerCallback(ctx, cb.ID, "忙碌中")
	}
}
