// Package eventbus is an in-memory fan-out of small domain events.
package eventbus

import (
	"sync"
	"time"
)

// Event types published by the poll loop.
const (
	TypeWentLive    = "live.went_live"
	TypeWentOffline = "live.went_offline"
	TypeCycleFailed = "poll.cycle_failed"
	TypeCycleDone   = "poll.cycle_done"
)

// Event is a lightweight signal. Data is one of the payload types below.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// LiveEvent is the payload of TypeWentLive and TypeWentOffline.
type LiveEvent struct {
	ID        string
	Name      string
	Title     string
	Delivered int
	Failed    int
}

// CycleEvent is the payload of TypeCycleFailed and TypeCycleDone.
type CycleEvent struct {
	CycleID   string
	Polled    int
	Changed   int
	ItemFails int
	Err       string
}

// Bus delivers events without blocking the publisher. Subscribers use
// buffered channels; a full subscriber misses events.
type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

func New() Bus {
	return &memBus{subs: map[chan Event]struct{}{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Sends never block, so holding the read lock is fine and keeps
	// unsubscribe from closing a channel mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Nop is a Bus that discards everything.
type Nop struct{}

func (Nop) Publish(Event) {}

func (Nop) Subscribe(int) (<-chan Event, func()) {
	ch := make(chan Event)
	close(ch)
	return ch, func() {}
}
