package transition

import (
	"testing"
	"time"

	"livewatch/internal/model"
)

func TestDecide(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 20, 0, 0, 0, time.UTC)
	now := t0.Add(125 * time.Minute)

	tests := []struct {
		name   string
		prev   model.LiveStatus
		sample model.Sample
		want   Kind
	}{
		{"offline stays offline", model.LiveStatus{}, model.Sample{IsLive: false}, NoChange},
		{"live stays live", model.LiveStatus{IsLive: true, Title: "a"}, model.Sample{IsLive: true, Title: "b"}, NoChange},
		{"goes live", model.LiveStatus{}, model.Sample{IsLive: true, Title: "T", SessionStart: t0}, WentLive},
		{"goes offline", model.LiveStatus{IsLive: true, SessionStart: t0}, model.Sample{}, WentOffline},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decide(tt.prev, tt.sample, now)
			if got.Kind != tt.want {
				t.Fatalf("Decide() kind = %v, want %v", got.Kind, tt.want)
			}
		})
	}
}

func TestWentLiveUsesSampleStart(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 20, 0, 0, 0, time.UTC)
	wall := t0.Add(3 * time.Minute)

	tr := Decide(model.LiveStatus{}, model.Sample{IsLive: true, Title: "T", CoverRef: "c", SessionStart: t0}, wall)
	if !tr.SessionStart.Equal(t0) {
		t.Fatalf("SessionStart = %v, want sample start %v", tr.SessionStart, t0)
	}
	if tr.Title != "T" || tr.CoverRef != "c" {
		t.Fatalf("unexpected transition: %+v", tr)
	}
}

func TestFirstPollIsTreatedAsOffline(t *testing.T) {
	sub := model.Subscription{ID: "1"}
	tr := Decide(sub.CurrentStatus(), model.Sample{IsLive: true}, time.Now())
	if tr.Kind != WentLive {
		t.Fatalf("first live sample should be WentLive, got %v", tr.Kind)
	}
}

func TestWentOfflineDuration(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 20, 0, 0, 0, time.UTC)
	prev := model.LiveStatus{IsLive: true, SessionStart: t0}

	tr := Decide(prev, model.Sample{}, t0.Add(125*time.Minute+59*time.Second))
	if tr.Kind != WentOffline {
		t.Fatalf("kind = %v", tr.Kind)
	}
	if !tr.SessionStart.Equal(t0) {
		t.Fatalf("SessionStart = %v, want recorded start", tr.SessionStart)
	}
	if got := tr.Duration(); got != (Elapsed{Hours: 2, Minutes: 5}) {
		t.Fatalf("Duration() = %+v, want 2h5m", got)
	}
}

func TestBreakdown(t *testing.T) {
	t0 := time.Unix(1_700_000_000, 0)
	tests := []struct {
		span time.Duration
		want Elapsed
	}{
		{0, Elapsed{}},
		{59 * time.Second, Elapsed{}},
		{60 * time.Minute, Elapsed{Hours: 1}},
		{119*time.Minute + 30*time.Second, Elapsed{Hours: 1, Minutes: 59}},
		{-5 * time.Minute, Elapsed{}},
	}
	for _, tt := range tests {
		if got := Breakdown(t0, t0.Add(tt.span)); got != tt.want {
			t.Errorf("Breakdown(%v) = %+v, want %+v", tt.span, got, tt.want)
		}
	}
}

func TestApply(t *testing.T) {
	t0 := time.Unix(1_700_000_000, 0)
	old := &model.MessageRef{ChatID: 1, MessageID: 9}

	prev := model.LiveStatus{IsLive: false, Title: "old", MessageRefs: []*model.MessageRef{old}}
	fresh := []*model.MessageRef{{ChatID: 1, MessageID: 10}, nil}

	live := Apply(prev, Transition{Kind: WentLive, Title: "T", SessionStart: t0}, fresh)
	if !live.IsLive || live.Title != "T" || len(live.MessageRefs) != 2 || live.MessageRefs[0].MessageID != 10 {
		t.Fatalf("WentLive apply = %+v", live)
	}

	off := Apply(live, Transition{Kind: WentOffline, SessionStart: t0, EndedAt: t0.Add(time.Hour)}, nil)
	if off.IsLive {
		t.Fatalf("expected offline")
	}
	if off.Title != "T" || len(off.MessageRefs) != 2 {
		t.Fatalf("WentOffline should keep metadata and refs: %+v", off)
	}

	same := Apply(live, Transition{Kind: NoChange}, fresh)
	if same.Title != live.Title || len(same.MessageRefs) != len(live.MessageRefs) {
		t.Fatalf("NoChange mutated status")
	}
}
