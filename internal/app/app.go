// Package app wires the live watcher together: config, logging, storage, the
// remote client, the poll loop and the Telegram command surface.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"livewatch/internal/config"
	"livewatch/internal/dispatch"
	"livewatch/internal/eventbus"
	"livewatch/internal/livecmd"
	"livewatch/internal/poll"
	"livewatch/internal/remote"
	"livewatch/internal/runtime/supervisor"
	"livewatch/internal/storage"
	"livewatch/internal/subscribe"
	kit "livewatch/internal/transport"
	telegram "livewatch/internal/transport/telegram/adapter"
	"livewatch/internal/transport/telegram/router"
	logx "livewatch/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store   storage.Store
	adapter *telegram.Adapter
	disp    *dispatch.Dispatcher
	loop    *poll.Loop
	cmdm    *router.CommandManager
	report  *reporter

	updates chan kit.Update
}

// New builds every component from the loaded config in cfgm. Nothing runs
// until Start.
func New(cfgm *config.ConfigManager) (*App, error) {
	cfg := cfgm.Get()
	if cfg == nil {
		return nil, fmt.Errorf("config not loaded")
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole(cfg.Logging.Level).With(logx.String("comp", "telegram"))
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: duration("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second),
		MediaChat:   mediaChat(cfg),
	}, bootLog)
	if err != nil {
		return nil, err
	}

	// The admin target is set before Apply enables the admin sink so the
	// first Apply does not warn about a missing target.
	logCfg := mapLogConfig(cfg)
	bootCfg := logCfg
	bootCfg.Admin.Enabled = false
	logSvc, root := logx.New(bootCfg, ad)
	logSvc.SetAdminTarget(adminTarget(cfg))
	logSvc.Apply(logCfg)
	log := root.With(logx.String("comp", "app"))

	store, err := storage.Open(mapStorageConfig(cfg), root)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	log.Info("storage opened", logx.String("driver", cfg.Storage.Driver), logx.String("path", cfg.Storage.Path))

	bus := eventbus.New()
	locks := &storage.Locks{}
	rc := remote.New(mapRemoteOptions(cfg, root))
	disp := dispatch.New(ad, mapDispatchConfig(cfg), root)

	loop := poll.New(poll.Options{
		Store:       store,
		Remote:      rc,
		Dispatcher:  disp,
		Bus:         bus,
		Locks:       locks,
		Logger:      root,
		Interval:    func() time.Duration { return pollInterval(cfgm.Get()) },
		ItemTimeout: func() time.Duration { return itemTimeout(cfgm.Get()) },
	})

	handlers := livecmd.New(livecmd.Deps{
		Subs:  subscribe.New(store, rc, locks, root),
		Store: store,
		Stats: rc.Stats(),
		Poll:  loop,
		Log:   root,
	})
	cmdm := router.NewCommandManager(root, ad, cfg.Telegram.OwnerUserIDs)
	cmdm.SetRegistry(handlers.Commands(), handlers.Callbacks())

	a := &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		adapter: ad,
		disp:    disp,
		loop:    loop,
		cmdm:    cmdm,
		updates: make(chan kit.Update, 256),
	}
	a.report = newReporter(handlers.StatusReport, ad, func() kit.ChatTarget { return adminTarget(a.cfgm.Get()) }, root)
	return a, nil
}

// Done is closed when the app context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// validate before commit on hot reload
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return config.Validate(cfg)
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})
	a.sup.Go("poll.loop", a.loop.Run)

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.logEvent(e)
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				// coalesce bursts; only the newest config matters
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							next = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(last, next)
				last = next
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.report.Start()
	a.report.Apply(a.cfgm.Get().Report)

	a.sup.Go0("systemd.watchdog", a.watchdog)
	a.notifyReady()

	a.log.Info("app started",
		logx.Int("interval_seconds", a.cfgm.Get().Interval()),
		logx.Int("owners", len(a.cfgm.Get().Telegram.OwnerUserIDs)),
	)
	return nil
}

// applyConfig fans a committed config out to the components that support
// live updates.
func (a *App) applyConfig(prev, next *config.Config) {
	a.logs.SetAdminTarget(adminTarget(next))
	a.logs.Apply(mapLogConfig(next))
	a.disp.SetConfig(mapDispatchConfig(next))
	a.cmdm.SetOwners(next.Telegram.OwnerUserIDs)
	a.adapter.SetMediaChat(mediaChat(next))
	a.report.Apply(next.Report)

	if sections := restartOnly(prev, next); len(sections) > 0 {
		a.log.Warn("config changed; restart required for these sections", logx.String("sections", strings.Join(sections, ",")))
	}
	a.log.Info("config reloaded", logx.Int("interval_seconds", next.Interval()))
}

func (a *App) logEvent(e eventbus.Event) {
	switch d := e.Data.(type) {
	case eventbus.LiveEvent:
		a.log.Debug("event", logx.String("type", e.Type), logx.String("uid", d.ID), logx.String("name", d.Name),
			logx.Int("delivered", d.Delivered), logx.Int("failed", d.Failed))
	case eventbus.CycleEvent:
		fields := []logx.Field{logx.String("type", e.Type), logx.String("cycle", d.CycleID),
			logx.Int("polled", d.Polled), logx.Int("changed", d.Changed), logx.Int("item_fails", d.ItemFails)}
		if d.Err != "" {
			fields = append(fields, logx.String("err", d.Err))
		}
		a.log.Debug("event", fields...)
	default:
		a.log.Debug("event", logx.String("type", e.Type))
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.notifyStopping()
	a.sup.Cancel()

	a.step(ctx, "report", time.Second, a.report.Stop)
	a.step(ctx, "adapter", 2*time.Second, a.adapter.Stop)
	// the poll loop persists with a detached context; wait for it before
	// closing the store
	a.step(ctx, "supervisor", 5*time.Second, a.sup.Wait)
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}

// step runs one shutdown step bounded by max and the caller's deadline, so a
// stuck component cannot stall the whole stop.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < max {
			max = rem
		}
	}
	if max <= 0 {
		a.log.Warn("stop step skipped, no time left", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
	}
}
