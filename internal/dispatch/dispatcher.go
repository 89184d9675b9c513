// Package dispatch turns live/offline transitions into outbound messages and
// records the delivered message references.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"golang.org/x/time/rate"

	"livewatch/internal/model"
	"livewatch/internal/transition"
	kit "livewatch/internal/transport"
	logx "livewatch/pkg/logx"
)

// Messenger is the delivery API the dispatcher needs.
type Messenger interface {
	kit.CardSender
	kit.MediaUploader
}

// Config controls pacing and retries. Zero values fall back to defaults.
type Config struct {
	// SendInterval is the fixed pause between consecutive sends or edits.
	SendInterval   time.Duration
	SendAttempts   int
	UploadAttempts int
	RetryDelay     time.Duration
}

const (
	DefaultSendInterval   = time.Second
	DefaultSendAttempts   = 2
	DefaultUploadAttempts = 3
	DefaultRetryDelay     = time.Second
)

func (c Config) withDefaults() Config {
	if c.SendInterval <= 0 {
		c.SendInterval = DefaultSendInterval
	}
	if c.SendAttempts <= 0 {
		c.SendAttempts = DefaultSendAttempts
	}
	if c.UploadAttempts <= 0 {
		c.UploadAttempts = DefaultUploadAttempts
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	return c
}

// Outcome is the result of one send or edit. Exactly one of Ref and Err is
// meaningful.
type Outcome struct {
	Target model.NotifyTarget
	Ref    *model.MessageRef
	Err    error
}

// Report lists per-target outcomes of one Apply call.
type Report struct {
	Outcomes []Outcome
}

func (r Report) Failed() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Err != nil {
			n++
		}
	}
	return n
}

func (r Report) Delivered() int { return len(r.Outcomes) - r.Failed() }

type Dispatcher struct {
	msg Messenger
	log logx.Logger

	mu      sync.RWMutex
	cfg     Config
	limiter *rate.Limiter
}

func New(msg Messenger, cfg Config, log logx.Logger) *Dispatcher {
	d := &Dispatcher{msg: msg, log: log.With(logx.String("comp", "dispatch"))}
	d.SetConfig(cfg)
	return d
}

// SetConfig swaps pacing and retry settings; safe while dispatching.
func (d *Dispatcher) SetConfig(cfg Config) {
	cfg = cfg.withDefaults()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg = cfg
	if d.limiter == nil {
		d.limiter = rate.NewLimiter(rate.Every(cfg.SendInterval), 1)
		return
	}
	d.limiter.SetLimit(rate.Every(cfg.SendInterval))
}

func (d *Dispatcher) config() (Config, *rate.Limiter) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cfg, d.limiter
}

// Apply performs the message operations for t and returns sub with its
// status updated.
//
// WentLive re-hosts the cover, then sends one card per target. A target whose
// send fails keeps a nil reference at its position. If the upload fails, or no
// target received the card, an *Error is returned together with the unchanged
// subscription so the caller can leave the stored state alone and retry.
//
// WentOffline edits every recorded reference to the closing card. Edit
// failures are reported in the Report only.
func (d *Dispatcher) Apply(ctx context.Context, t transition.Transition, sub model.Subscription) (model.Subscription, Report, error) {
	switch t.Kind {
	case transition.WentLive:
		return d.wentLive(ctx, t, sub)
	case transition.WentOffline:
		return d.wentOffline(ctx, t, sub)
	default:
		return sub, Report{}, nil
	}
}

func (d *Dispatcher) wentLive(ctx context.Context, t transition.Transition, sub model.Subscription) (model.Subscription, Report, error) {
	cfg, lim := d.config()
	log := d.log.With(logx.String("uid", sub.ID))

	var photo string
	if t.CoverRef != "" {
		var err error
		photo, err = d.upload(ctx, cfg, t.CoverRef, log)
		if err != nil {
			return sub, Report{}, &Error{Kind: KindUpload, Err: err}
		}
	}

	card := LiveCard(sub, t, photo)
	refs := make([]*model.MessageRef, len(sub.NotifyTargets))
	rep := Report{Outcomes: make([]Outcome, 0, len(sub.NotifyTargets))}
	var errs []error

	for i, target := range sub.NotifyTargets {
		if err := lim.Wait(ctx); err != nil {
			de := &Error{Kind: KindSend, Target: &target, Err: err}
			rep.Outcomes = append(rep.Outcomes, Outcome{Target: target, Err: de})
			errs = append(errs, de)
			continue
		}
		var got kit.MessageRef
		err := retry.Do(
			func() error {
				r, err := d.msg.SendCard(ctx, kit.ChatTarget{ChatID: target.ChatID, ThreadID: target.ThreadID}, card)
				if err != nil {
					return err
				}
				got = r
				return nil
			},
			retry.Attempts(uint(cfg.SendAttempts)),
			retry.Delay(cfg.RetryDelay),
			retry.MaxDelay(10*cfg.RetryDelay),
			retry.MaxJitter(cfg.RetryDelay/2+time.Millisecond),
			retry.Context(ctx),
			retry.OnRetry(func(n uint, err error) {
				log.Debug("send retry", logx.Int64("chat", target.ChatID), logx.Int("attempt", int(n)+1), logx.Err(err))
			}),
		)
		if err != nil {
			de := &Error{Kind: KindSend, Target: &target, Err: err}
			rep.Outcomes = append(rep.Outcomes, Outcome{Target: target, Err: de})
			errs = append(errs, de)
			log.Warn("live notification not delivered", logx.Int64("chat", target.ChatID), logx.Int("thread", target.ThreadID), logx.Err(err))
			continue
		}
		ref := &model.MessageRef{ChatID: got.ChatID, ThreadID: got.ThreadID, MessageID: got.MessageID, Media: got.Media}
		refs[i] = ref
		rep.Outcomes = append(rep.Outcomes, Outcome{Target: target, Ref: ref})
	}

	if len(sub.NotifyTargets) > 0 && rep.Delivered() == 0 {
		return sub, rep, &Error{Kind: KindSend, Err: errors.Join(errs...)}
	}
	if f := rep.Failed(); f > 0 {
		log.Warn("live notification partially delivered", logx.Int("delivered", rep.Delivered()), logx.Int("failed", f))
	}

	out := sub.Clone()
	next := transition.Apply(sub.CurrentStatus(), t, refs)
	out.Status = &next
	return out, rep, nil
}

func (d *Dispatcher) wentOffline(ctx context.Context, t transition.Transition, sub model.Subscription) (model.Subscription, Report, error) {
	cfg, lim := d.config()
	log := d.log.With(logx.String("uid", sub.ID))
	prev := sub.CurrentStatus()

	card := ClosingCard(sub, t)
	var rep Report
	for _, r := range prev.MessageRefs {
		if r == nil {
			continue
		}
		target := model.NotifyTarget{ChatID: r.ChatID, ThreadID: r.ThreadID}
		ref := kit.MessageRef{ChatID: r.ChatID, ThreadID: r.ThreadID, MessageID: r.MessageID, Media: r.Media}

		err := lim.Wait(ctx)
		if err == nil {
			err = retry.Do(
				func() error { return d.msg.EditCard(ctx, ref, card) },
				retry.Attempts(uint(cfg.SendAttempts)),
				retry.Delay(cfg.RetryDelay),
				retry.MaxDelay(10*cfg.RetryDelay),
				retry.MaxJitter(cfg.RetryDelay/2+time.Millisecond),
				retry.Context(ctx),
			)
		}
		if err != nil {
			log.Warn("closing edit failed", logx.Int64("chat", r.ChatID), logx.Int("message", r.MessageID), logx.Err(err))
			rep.Outcomes = append(rep.Outcomes, Outcome{Target: target, Err: &Error{Kind: KindEdit, Target: &target, Err: err}})
			continue
		}
		rep.Outcomes = append(rep.Outcomes, Outcome{Target: target, Ref: r})
	}

	out := sub.Clone()
	next := transition.Apply(prev, t, nil)
	out.Status = &next
	return out, rep, nil
}

func (d *Dispatcher) upload(ctx context.Context, cfg Config, src string, log logx.Logger) (string, error) {
	var ref string
	err := retry.Do(
		func() error {
			r, err := d.msg.UploadMedia(ctx, src)
			if errors.Is(err, kit.ErrMediaUnavailable) {
				log.Debug("cover upload unavailable; sending without photo")
				return nil
			}
			if err != nil {
				return err
			}
			ref = r
			return nil
		},
		retry.Attempts(uint(cfg.UploadAttempts)),
		retry.Delay(cfg.RetryDelay),
		retry.MaxDelay(10*cfg.RetryDelay),
		retry.MaxJitter(cfg.RetryDelay/2+time.Millisecond),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			log.Debug("cover upload retry", logx.Int("attempt", int(n)+1), logx.Err(err))
		}),
	)
	return ref, err
}
