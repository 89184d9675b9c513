package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"livewatch/internal/model"
)

var ErrNotFound = errors.New("not found")

// Config configures storage.
//
// Driver values:
//   - "sqlite" / "sqlite3": SQLite database file
//   - "file": JSON snapshot + JSONL journal next to Path
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the subscription persistence API.
//
// Upsert is last-writer-wins per id. Delete of a missing id is a no-op.
// LoadAll makes no ordering guarantee.
type Store interface {
	LoadAll(ctx context.Context) ([]model.Subscription, error)
	Get(ctx context.Context, id string) (model.Subscription, bool, error)
	Upsert(ctx context.Context, sub model.Subscription) error
	Delete(ctx context.Context, id string) error
	// FindByMessageRef resolves a delivered message (chat + message id) to
	// the subscription whose current status references it.
	FindByMessageRef(ctx context.Context, ref model.MessageRef) (model.Subscription, bool, error)

	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}

// AuditEntry records a subscription command.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At            time.Time
	ActorID       int64
	ActorUsername string
	ChatID        int64
	ThreadID      int
	Action        string
	Target        string
	Error         string
}

// Error is a persistence failure (StoreError).
type Error struct {
	Op  string
	Key string
	Err error
}

func (e *Error) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("storage %s %q: %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func IsStoreError(err error) bool {
	var se *Error
	return errors.As(err, &se)
}

func wrap(op, key string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Key: key, Err: err}
}
