// Package transition decides live/offline edges from a previous status and a
// fresh sample. It performs no I/O.
package transition

import (
	"time"

	"livewatch/internal/model"
)

type Kind int

const (
	NoChange Kind = iota
	WentLive
	WentOffline
)

func (k Kind) String() string {
	switch k {
	case WentLive:
		return "went_live"
	case WentOffline:
		return "went_offline"
	default:
		return "no_change"
	}
}

// Transition is the outcome of Decide.
//
// For WentLive, Title, CoverRef and SessionStart come from the sample.
// For WentOffline, SessionStart is the recorded start and EndedAt is now.
type Transition struct {
	Kind         Kind
	Title        string
	CoverRef     string
	SessionStart time.Time
	EndedAt      time.Time
}

// Decide compares prev with s. Only on/off edges count; a title or cover
// change while live is NoChange.
func Decide(prev model.LiveStatus, s model.Sample, now time.Time) Transition {
	switch {
	case !prev.IsLive && s.IsLive:
		return Transition{
			Kind:         WentLive,
			Title:        s.Title,
			CoverRef:     s.CoverRef,
			SessionStart: s.SessionStart,
		}
	case prev.IsLive && !s.IsLive:
		return Transition{
			Kind:         WentOffline,
			Title:        prev.Title,
			CoverRef:     prev.CoverRef,
			SessionStart: prev.SessionStart,
			EndedAt:      now,
		}
	default:
		return Transition{Kind: NoChange}
	}
}

// Apply returns the status to persist after t. refs is the fresh message
// reference list for WentLive and is ignored otherwise.
func Apply(prev model.LiveStatus, t Transition, refs []*model.MessageRef) model.LiveStatus {
	switch t.Kind {
	case WentLive:
		return model.LiveStatus{
			IsLive:       true,
			Title:        t.Title,
			CoverRef:     t.CoverRef,
			SessionStart: t.SessionStart,
			MessageRefs:  refs,
		}
	case WentOffline:
		// Title, cover and refs are kept for the closing notice and for
		// callbacks on the edited messages.
		next := prev
		next.IsLive = false
		return next
	default:
		return prev
	}
}

// Elapsed is a session duration split for display.
type Elapsed struct {
	Hours   int
	Minutes int
}

// Duration returns the session length of a WentOffline transition.
func (t Transition) Duration() Elapsed { return Breakdown(t.SessionStart, t.EndedAt) }

// Breakdown floors end-start to whole minutes and splits it into hours and
// the remaining minutes. Negative spans clamp to zero.
func Breakdown(start, end time.Time) Elapsed {
	total := int(end.Sub(start) / time.Minute)
	if total < 0 {
		total = 0
	}
	return Elapsed{Hours: total / 60, Minutes: total % 60}
}
