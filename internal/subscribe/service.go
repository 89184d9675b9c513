// Package subscribe manages notify targets of subscriptions on behalf of the
// command surface. A subscription exists exactly as long as it has at least
// one target.
package subscribe

import (
	"context"
	"errors"
	"slices"
	"strconv"
	"strings"

	"livewatch/internal/model"
	logx "livewatch/pkg/logx"
)

var (
	ErrTargetExists  = errors.New("target already subscribed")
	ErrTargetMissing = errors.New("target not subscribed")
	ErrInvalidID     = errors.New("invalid account id")
)

type Store interface {
	LoadAll(ctx context.Context) ([]model.Subscription, error)
	Get(ctx context.Context, id string) (model.Subscription, bool, error)
	Upsert(ctx context.Context, sub model.Subscription) error
	Delete(ctx context.Context, id string) error
}

type Metadata interface {
	FetchAccountMetadata(ctx context.Context, id string) (model.AccountInfo, error)
}

type Locker interface {
	Lock(id string) (unlock func())
}

type Service struct {
	store Store
	meta  Metadata
	locks Locker
	log   logx.Logger
}

func New(store Store, meta Metadata, locks Locker, log logx.Logger) *Service {
	return &Service{store: store, meta: meta, locks: locks, log: log.With(logx.String("comp", "subscribe"))}
}

// NormalizeID validates an account id as typed by a user.
func NormalizeID(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return "", ErrInvalidID
	}
	return strconv.FormatInt(n, 10), nil
}

// Add registers target for id. The first target creates the subscription
// from freshly fetched account metadata; its status stays unset so the first
// poll decides from an offline baseline.
func (s *Service) Add(ctx context.Context, id string, target model.NotifyTarget) (model.Subscription, error) {
	id, err := NormalizeID(id)
	if err != nil {
		return model.Subscription{}, err
	}
	unlock := s.locks.Lock(id)
	defer unlock()

	sub, ok, err := s.store.Get(ctx, id)
	if err != nil {
		return model.Subscription{}, err
	}
	if ok {
		if sub.TargetIndex(target) >= 0 {
			return sub, ErrTargetExists
		}
		sub.NotifyTargets = append(sub.NotifyTargets, target)
	} else {
		info, err := s.meta.FetchAccountMetadata(ctx, id)
		if err != nil {
			return model.Subscription{}, err
		}
		sub = model.Subscription{
			ID:            id,
			DisplayName:   info.DisplayName,
			RoomReference: info.RoomReference,
			NotifyTargets: []model.NotifyTarget{target},
		}
	}
	if err := s.store.Upsert(ctx, sub); err != nil {
		return model.Subscription{}, err
	}
	s.log.Info("target added", logx.String("uid", id), logx.Int64("chat", target.ChatID), logx.Int("thread", target.ThreadID), logx.Bool("created", !ok))
	return sub, nil
}

// Remove unregisters target from id. The message reference recorded for that
// position goes with it. Removing the last target deletes the subscription;
// deleted reports whether that happened.
func (s *Service) Remove(ctx context.Context, id string, target model.NotifyTarget) (deleted bool, err error) {
	id, err = NormalizeID(id)
	if err != nil {
		return false, err
	}
	unlock := s.locks.Lock(id)
	defer unlock()

	sub, ok, err := s.store.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, ErrTargetMissing
	}
	idx := sub.TargetIndex(target)
	if idx < 0 {
		return false, ErrTargetMissing
	}

	if len(sub.NotifyTargets) == 1 {
		if err := s.store.Delete(ctx, id); err != nil {
			return false, err
		}
		s.log.Info("subscription deleted", logx.String("uid", id))
		return true, nil
	}

	sub.NotifyTargets = slices.Delete(sub.NotifyTargets, idx, idx+1)
	if sub.Status != nil && idx < len(sub.Status.MessageRefs) {
		sub.Status.MessageRefs = slices.Delete(sub.Status.MessageRefs, idx, idx+1)
	}
	if err := s.store.Upsert(ctx, sub); err != nil {
		return false, err
	}
	s.log.Info("target removed", logx.String("uid", id), logx.Int64("chat", target.ChatID), logx.Int("thread", target.ThreadID))
	return false, nil
}

// List returns the subscriptions delivering to target, ordered by id.
func (s *Service) List(ctx context.Context, target model.NotifyTarget) ([]model.Subscription, error) {
	all, err := s.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(all, func(sub model.Subscription) bool {
		return sub.TargetIndex(target) < 0
	}), nil
}

// ListAll returns every subscription ordered by id.
func (s *Service) ListAll(ctx context.Context) ([]model.Subscription, error) {
	all, err := s.store.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(all, func(a, b model.Subscription) int {
		if len(a.ID) != len(b.ID) {
			return len(a.ID) - len(b.ID)
		}
		return strings.Compare(a.ID, b.ID)
	})
	return all, nil
}
