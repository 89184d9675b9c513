// Package model holds the persisted subscription records shared by the store,
// the poll loop and the command surface.
package model

import (
	"slices"
	"time"
)

// NotifyTarget is a delivery destination: a group chat and an optional forum
// thread inside it.
type NotifyTarget struct {
	ChatID   int64 `json:"chat_id"`
	ThreadID int   `json:"thread_id,omitempty"`
}

// MessageRef identifies a delivered notification so it can be edited later.
type MessageRef struct {
	ChatID    int64 `json:"chat_id"`
	ThreadID  int   `json:"thread_id,omitempty"`
	MessageID int   `json:"message_id"`
	Media     bool  `json:"media,omitempty"`
}

// LiveStatus is the last observed state of an account.
//
// MessageRefs is positionally aligned with the subscription's NotifyTargets as
// they were at dispatch time. A nil entry means nothing was delivered there.
type LiveStatus struct {
	IsLive       bool          `json:"is_live"`
	Title        string        `json:"title,omitempty"`
	CoverRef     string        `json:"cover_ref,omitempty"`
	SessionStart time.Time     `json:"session_start,omitzero"`
	MessageRefs  []*MessageRef `json:"message_refs,omitempty"`
}

// Subscription is one monitored account.
//
// Status is nil until the account has been polled once.
type Subscription struct {
	ID            string         `json:"id"`
	DisplayName   string         `json:"display_name"`
	RoomReference string         `json:"room_reference"`
	NotifyTargets []NotifyTarget `json:"notify_targets"`
	Status        *LiveStatus    `json:"status,omitempty"`
}

// CurrentStatus returns the stored status, or an offline status for a
// subscription that has never been polled.
func (s Subscription) CurrentStatus() LiveStatus {
	if s.Status == nil {
		return LiveStatus{}
	}
	return *s.Status
}

// TargetIndex returns the position of t in NotifyTargets, or -1.
func (s Subscription) TargetIndex(t NotifyTarget) int {
	return slices.Index(s.NotifyTargets, t)
}

// Clone returns a deep copy so callers can mutate without aliasing stored data.
func (s Subscription) Clone() Subscription {
	out := s
	out.NotifyTargets = slices.Clone(s.NotifyTargets)
	if s.Status != nil {
		st := *s.Status
		st.MessageRefs = make([]*MessageRef, len(s.Status.MessageRefs))
		for i, r := range s.Status.MessageRefs {
			if r != nil {
				c := *r
				st.MessageRefs[i] = &c
			}
		}
		if len(s.Status.MessageRefs) == 0 {
			st.MessageRefs = nil
		}
		out.Status = &st
	}
	return out
}

// Sample is one account's status as reported by the remote source in a poll
// cycle. It is never persisted.
type Sample struct {
	ID           string
	IsLive       bool
	Title        string
	CoverRef     string
	SessionStart time.Time
}

// AccountInfo is the metadata fetched when a subscription is created.
type AccountInfo struct {
	DisplayName   string
	RoomReference string
}
