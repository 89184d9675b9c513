package storage

import (
	"context"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"livewatch/internal/model"
	logx "livewatch/pkg/logx"
)

func openBoth(t *testing.T) map[string]func() Store {
	t.Helper()
	dir := t.TempDir()
	return map[string]func() Store{
		"sqlite": func() Store {
			st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(dir, "subs.db")}, logx.Nop())
			if err != nil {
				t.Fatalf("open sqlite: %v", err)
			}
			return st
		},
		"file": func() Store {
			st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "subs.json")}, logx.Nop())
			if err != nil {
				t.Fatalf("open file: %v", err)
			}
			return st
		},
	}
}

func sampleSub() model.Subscription {
	t0 := time.Date(2024, 3, 1, 20, 0, 0, 0, time.UTC)
	return model.Subscription{
		ID:            "100",
		DisplayName:   "streamer",
		RoomReference: "777",
		NotifyTargets: []model.NotifyTarget{{ChatID: -3, ThreadID: 9}, {ChatID: -1}, {ChatID: -2, ThreadID: 4}},
		Status: &model.LiveStatus{
			IsLive:       true,
			Title:        "T",
			CoverRef:     "file-id",
			SessionStart: t0,
			MessageRefs: []*model.MessageRef{
				{ChatID: -3, ThreadID: 9, MessageID: 11, Media: true},
				nil,
				{ChatID: -2, ThreadID: 4, MessageID: 12, Media: true},
			},
		},
	}
}

func TestRoundTripPreservesOrderAndStatus(t *testing.T) {
	for name, open := range openBoth(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st := open()
			want := sampleSub()
			if err := st.Upsert(ctx, want); err != nil {
				t.Fatalf("Upsert: %v", err)
			}
			if err := st.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}

			st = open()
			defer st.Close()
			all, err := st.LoadAll(ctx)
			if err != nil {
				t.Fatalf("LoadAll: %v", err)
			}
			if len(all) != 1 {
				t.Fatalf("LoadAll len = %d", len(all))
			}
			got := all[0]
			if !slices.Equal(got.NotifyTargets, want.NotifyTargets) {
				t.Fatalf("targets = %v, want %v", got.NotifyTargets, want.NotifyTargets)
			}
			if got.Status == nil || got.Status.IsLive != want.Status.IsLive || got.Status.Title != "T" ||
				got.Status.CoverRef != "file-id" || !got.Status.SessionStart.Equal(want.Status.SessionStart) {
				t.Fatalf("status = %+v", got.Status)
			}
			refs := got.Status.MessageRefs
			if len(refs) != 3 || refs[1] != nil || refs[0].MessageID != 11 || refs[2].MessageID != 12 {
				t.Fatalf("refs not positionally preserved: %+v", refs)
			}
		})
	}
}

func TestUpsertReplacesAndDelete(t *testing.T) {
	for name, open := range openBoth(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st := open()
			defer st.Close()

			sub := sampleSub()
			if err := st.Upsert(ctx, sub); err != nil {
				t.Fatalf("Upsert: %v", err)
			}
			sub.NotifyTargets = sub.NotifyTargets[:1]
			sub.Status = nil
			if err := st.Upsert(ctx, sub); err != nil {
				t.Fatalf("Upsert replace: %v", err)
			}
			got, ok, err := st.Get(ctx, "100")
			if err != nil || !ok {
				t.Fatalf("Get: ok=%v err=%v", ok, err)
			}
			if len(got.NotifyTargets) != 1 || got.Status != nil {
				t.Fatalf("replace not applied: %+v", got)
			}
			if _, ok, _ := st.FindByMessageRef(ctx, model.MessageRef{ChatID: -3, MessageID: 11}); ok {
				t.Fatalf("stale message ref still indexed")
			}

			if err := st.Delete(ctx, "100"); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if err := st.Delete(ctx, "100"); err != nil {
				t.Fatalf("Delete of missing id should be a no-op: %v", err)
			}
			if _, ok, _ := st.Get(ctx, "100"); ok {
				t.Fatalf("subscription still present")
			}
		})
	}
}

func TestFindByMessageRef(t *testing.T) {
	for name, open := range openBoth(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st := open()
			defer st.Close()

			if err := st.Upsert(ctx, sampleSub()); err != nil {
				t.Fatalf("Upsert: %v", err)
			}
			other := model.Subscription{ID: "200", NotifyTargets: []model.NotifyTarget{{ChatID: -1}}}
			if err := st.Upsert(ctx, other); err != nil {
				t.Fatalf("Upsert: %v", err)
			}

			got, ok, err := st.FindByMessageRef(ctx, model.MessageRef{ChatID: -2, MessageID: 12})
			if err != nil || !ok {
				t.Fatalf("FindByMessageRef: ok=%v err=%v", ok, err)
			}
			if got.ID != "100" {
				t.Fatalf("found %q, want 100", got.ID)
			}
			if _, ok, _ := st.FindByMessageRef(ctx, model.MessageRef{ChatID: -2, MessageID: 999}); ok {
				t.Fatalf("unexpected match")
			}
		})
	}
}

func TestAppendAudit(t *testing.T) {
	for name, open := range openBoth(t) {
		t.Run(name, func(t *testing.T) {
			st := open()
			defer st.Close()
			err := st.AppendAudit(context.Background(), AuditEntry{ActorID: 1, ChatID: -1, Action: "live_add", Target: "100"})
			if err != nil {
				t.Fatalf("AppendAudit: %v", err)
			}
		})
	}
}

func TestFileJournalReplay(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "subs.json")

	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	fs := st.(*fileStore)
	fs.compactEvery = 1000

	for _, id := range []string{"1", "2", "3"} {
		if err := st.Upsert(ctx, model.Subscription{ID: id, NotifyTargets: []model.NotifyTarget{{ChatID: -1}}}); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}
	if err := st.Delete(ctx, "2"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	// Close without compaction; reopening must replay the journal.
	_ = st.Close()

	st, err = Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()
	all, _ := st.LoadAll(ctx)
	ids := make([]string, 0, len(all))
	for _, s := range all {
		ids = append(ids, s.ID)
	}
	slices.Sort(ids)
	if !slices.Equal(ids, []string{"1", "3"}) {
		t.Fatalf("ids after replay = %v", ids)
	}
}

func TestStoreErrorWrapping(t *testing.T) {
	st, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "s.json")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_ = st.Close()
	err = st.Upsert(context.Background(), model.Subscription{ID: "1"})
	if !IsStoreError(err) {
		t.Fatalf("expected store error after close, got %v", err)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(Config{Driver: "redis", Path: "x"}, logx.Nop()); err == nil {
		t.Fatalf("expected error")
	}
}
