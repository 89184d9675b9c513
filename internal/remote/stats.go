package remote

import (
	"math"
	"sync/atomic"
	"time"
)

// Stats counts remote requests and failures since a start time. Both counters
// reset together, along with the start time, when either reaches its limit.
//
// Stats is safe for concurrent use.
type Stats struct {
	requests atomic.Uint64
	failures atomic.Uint64
	since    atomic.Int64 // unix nanos

	limit uint64
	now   func() time.Time
}

// Snapshot is a point-in-time copy of Stats.
type Snapshot struct {
	Requests uint64
	Failures uint64
	Since    time.Time
}

func NewStats() *Stats {
	return newStats(math.MaxUint64, time.Now)
}

func newStats(limit uint64, now func() time.Time) *Stats {
	s := &Stats{limit: limit, now: now}
	s.since.Store(now().UnixNano())
	return s
}

// IncRequest is called before a response is interpreted.
func (s *Stats) IncRequest() {
	if s.requests.Add(1) >= s.limit {
		s.Reset()
	}
}

func (s *Stats) IncFailure() {
	if s.failures.Add(1) >= s.limit {
		s.Reset()
	}
}

func (s *Stats) Reset() {
	s.requests.Store(0)
	s.failures.Store(0)
	s.since.Store(s.now().UnixNano())
}

func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		Requests: s.requests.Load(),
		Failures: s.failures.Load(),
		Since:    time.Unix(0, s.since.Load()),
	}
}

// RatePerMinute is the average request rate since the last reset.
func (s Snapshot) RatePerMinute(now time.Time) float64 {
	minutes := now.Sub(s.Since).Minutes()
	if minutes <= 0 {
		return 0
	}
	return float64(s.Requests) / minutes
}

// FailureRatio is failures/requests, 0 when no request was made.
func (s Snapshot) FailureRatio() float64 {
	if s.Requests == 0 {
		return 0
	}
	return float64(s.Failures) / float64(s.Requests)
}
