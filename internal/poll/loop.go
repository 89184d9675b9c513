// Package poll runs the periodic live-status cycle: load subscriptions, query
// the remote source in one batch, decide transitions, dispatch, persist.
package poll

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"livewatch/internal/dispatch"
	"livewatch/internal/eventbus"
	"livewatch/internal/model"
	"livewatch/internal/storage"
	"livewatch/internal/transition"
	logx "livewatch/pkg/logx"
)

type Store interface {
	LoadAll(ctx context.Context) ([]model.Subscription, error)
	Get(ctx context.Context, id string) (model.Subscription, bool, error)
	Upsert(ctx context.Context, sub model.Subscription) error
}

// Locker serializes updates of one subscription with other writers.
type Locker interface {
	Lock(id string) (unlock func())
}

type Remote interface {
	BatchQuery(ctx context.Context, ids []string) (map[string]model.Sample, error)
}

type Dispatcher interface {
	Apply(ctx context.Context, t transition.Transition, sub model.Subscription) (model.Subscription, dispatch.Report, error)
}

type State int32

const (
	Idle State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "idle"
}

const (
	DefaultItemTimeout = 2 * time.Minute
	persistTimeout     = 10 * time.Second
)

type Options struct {
	Store      Store
	Remote     Remote
	Dispatcher Dispatcher
	Bus        eventbus.Bus
	Locks      Locker
	Logger     logx.Logger

	// Interval is read before every sleep so configuration changes apply to
	// the next cycle.
	Interval func() time.Duration
	// ItemTimeout bounds dispatch for one subscription.
	ItemTimeout func() time.Duration
	Now         func() time.Time
}

// Loop alternates between Idle (sleeping) and Running (one cycle). Only one
// cycle is ever in flight.
type Loop struct {
	store  Store
	remote Remote
	disp   Dispatcher
	bus    eventbus.Bus
	locks  Locker
	log    logx.Logger

	interval    func() time.Duration
	itemTimeout func() time.Duration
	now         func() time.Time

	state  atomic.Int32
	cycles atomic.Uint64
}

func New(opt Options) *Loop {
	l := &Loop{
		store:       opt.Store,
		remote:      opt.Remote,
		disp:        opt.Dispatcher,
		bus:         opt.Bus,
		locks:       opt.Locks,
		log:         opt.Logger.With(logx.String("comp", "poll")),
		interval:    opt.Interval,
		itemTimeout: opt.ItemTimeout,
		now:         opt.Now,
	}
	if l.bus == nil {
		l.bus = eventbus.Nop{}
	}
	if l.locks == nil {
		l.locks = &storage.Locks{}
	}
	if l.interval == nil {
		l.interval = func() time.Duration { return 30 * time.Second }
	}
	if l.itemTimeout == nil {
		l.itemTimeout = func() time.Duration { return DefaultItemTimeout }
	}
	if l.now == nil {
		l.now = time.Now
	}
	return l
}

func (l *Loop) State() State { return State(l.state.Load()) }

// Cycles is the number of completed or abandoned cycles.
func (l *Loop) Cycles() uint64 { return l.cycles.Load() }

// ItemResult is the outcome of one subscription in a cycle.
type ItemResult struct {
	ID     string
	Kind   transition.Kind
	Report dispatch.Report
	// Persisted is false when the new state was not written, either because
	// dispatch aborted or the store failed.
	Persisted bool
	Err       error
}

type CycleReport struct {
	ID     string
	Loaded int
	Items  []ItemResult
	// Err is set when the cycle was abandoned before per-item processing.
	Err error
}

func (r CycleReport) Changed() int {
	n := 0
	for _, it := range r.Items {
		if it.Kind != transition.NoChange {
			n++
		}
	}
	return n
}

func (r CycleReport) Failed() int {
	n := 0
	for _, it := range r.Items {
		if it.Err != nil {
			n++
		}
	}
	return n
}

// Run executes a cycle immediately, then one per interval, until ctx is
// canceled. Cycle failures never stop the loop.
func (l *Loop) Run(ctx context.Context) error {
	l.log.Info("poll loop started")
	for {
		l.state.Store(int32(Running))
		l.RunCycle(ctx)
		l.state.Store(int32(Idle))

		wait := l.interval()
		if wait <= 0 {
			wait = time.Second
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			l.log.Info("poll loop stopped")
			return ctx.Err()
		case <-t.C:
		}
	}
}

// RunCycle performs one full pass. A panic anywhere in the pass ends the
// cycle with an error instead of unwinding into the caller.
func (l *Loop) RunCycle(ctx context.Context) (rep CycleReport) {
	rep = CycleReport{ID: uuid.NewString()}
	log := l.log.With(logx.String("cycle", rep.ID))
	start := l.now()
	defer l.cycles.Add(1)
	defer func() {
		if r := recover(); r != nil {
			rep.Err = fmt.Errorf("cycle panic: %v", r)
			log.Error("poll cycle panicked", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()

	subs, err := l.store.LoadAll(ctx)
	if err != nil {
		rep.Err = fmt.Errorf("load subscriptions: %w", err)
		l.abandon(log, rep)
		return rep
	}
	rep.Loaded = len(subs)
	if len(subs) == 0 {
		log.Debug("no subscriptions; skipping remote query")
		return rep
	}

	ids := make([]string, 0, len(subs))
	for _, s := range subs {
		ids = append(ids, s.ID)
	}
	samples, err := l.remote.BatchQuery(ctx, ids)
	if err != nil {
		rep.Err = fmt.Errorf("batch query: %w", err)
		l.abandon(log, rep)
		return rep
	}

	for _, sub := range subs {
		if ctx.Err() != nil {
			log.Info("cycle interrupted", logx.Int("processed", len(rep.Items)), logx.Int("total", len(subs)))
			return rep
		}
		sample, ok := samples[sub.ID]
		if !ok {
			log.Debug("no status for subscription", logx.String("uid", sub.ID))
			continue
		}
		res := l.processItem(ctx, sub, sample)
		if res.Err != nil {
			log.Error("subscription update failed", logx.String("uid", sub.ID), logx.String("transition", res.Kind.String()), logx.Bool("persisted", res.Persisted), logx.Err(res.Err))
		}
		rep.Items = append(rep.Items, res)
	}

	log.Debug("cycle done",
		logx.Int("loaded", rep.Loaded),
		logx.Int("changed", rep.Changed()),
		logx.Int("failed", rep.Failed()),
		logx.Duration("took", l.now().Sub(start)),
	)
	l.bus.Publish(eventbus.Event{Type: eventbus.TypeCycleDone, Data: eventbus.CycleEvent{
		CycleID: rep.ID, Polled: rep.Loaded, Changed: rep.Changed(), ItemFails: rep.Failed(),
	}})
	return rep
}

func (l *Loop) abandon(log logx.Logger, rep CycleReport) {
	log.Error("poll cycle abandoned", logx.Err(rep.Err))
	l.bus.Publish(eventbus.Event{Type: eventbus.TypeCycleFailed, Data: eventbus.CycleEvent{
		CycleID: rep.ID, Polled: rep.Loaded, Err: rep.Err.Error(),
	}})
}

// processItem runs decide, dispatch and persist for one subscription while
// holding its lock. Panics are contained to the item.
func (l *Loop) processItem(ctx context.Context, sub model.Subscription, sample model.Sample) (res ItemResult) {
	res.ID = sub.ID
	unlock := l.locks.Lock(sub.ID)
	defer unlock()
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("subscription panicked", logx.String("uid", sub.ID), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			res.Err = fmt.Errorf("panic: %v", r)
		}
	}()

	// Targets may have changed since LoadAll.
	fresh, ok, err := l.store.Get(ctx, sub.ID)
	if err != nil {
		res.Err = err
		return res
	}
	if !ok {
		return res
	}
	sub = fresh

	t := transition.Decide(sub.CurrentStatus(), sample, l.now())
	res.Kind = t.Kind
	if t.Kind == transition.NoChange {
		return res
	}

	ictx, cancel := context.WithTimeout(ctx, l.itemTimeout())
	updated, drep, err := l.disp.Apply(ictx, t, sub)
	cancel()
	res.Report = drep
	if err != nil {
		// State stays as it was so the next cycle derives the same
		// transition again.
		res.Err = err
		return res
	}

	// Notifications may already be out; the write must not be lost to a
	// shutdown that races it.
	pctx, pcancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	err = l.store.Upsert(pctx, updated)
	pcancel()
	if err != nil {
		res.Err = err
		return res
	}
	res.Persisted = true

	typ := eventbus.TypeWentLive
	if t.Kind == transition.WentOffline {
		typ = eventbus.TypeWentOffline
	}
	l.bus.Publish(eventbus.Event{Type: typ, Data: eventbus.LiveEvent{
		ID:        sub.ID,
		Name:      sub.DisplayName,
		Title:     t.Title,
		Delivered: drep.Delivered(),
		Failed:    drep.Failed(),
	}})
	return res
}
