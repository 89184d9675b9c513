package subscribe

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"testing"

	"livewatch/internal/model"
	"livewatch/internal/remote"
	"livewatch/internal/storage"
	logx "livewatch/pkg/logx"
)

type fakeMeta struct {
	calls int
	err   error
}

func (f *fakeMeta) FetchAccountMetadata(ctx context.Context, id string) (model.AccountInfo, error) {
	f.calls++
	if f.err != nil {
		return model.AccountInfo{}, f.err
	}
	return model.AccountInfo{DisplayName: "name-" + id, RoomReference: "room-" + id}, nil
}

func newService(t *testing.T, meta Metadata) (*Service, storage.Store) {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "subs.json")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return New(st, meta, &storage.Locks{}, logx.Nop()), st
}

var (
	a = model.NotifyTarget{ChatID: -1}
	b = model.NotifyTarget{ChatID: -2, ThreadID: 7}
	c = model.NotifyTarget{ChatID: -3}
)

func TestAddCreatesWithMetadata(t *testing.T) {
	meta := &fakeMeta{}
	svc, _ := newService(t, meta)
	ctx := context.Background()

	sub, err := svc.Add(ctx, " 42 ", a)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if sub.ID != "42" || sub.DisplayName != "name-42" || sub.RoomReference != "room-42" {
		t.Fatalf("sub = %+v", sub)
	}
	if sub.Status != nil {
		t.Fatalf("new subscription must not carry a status")
	}

	if _, err := svc.Add(ctx, "42", b); err != nil {
		t.Fatalf("Add second target: %v", err)
	}
	if meta.calls != 1 {
		t.Fatalf("metadata fetched %d times, want only at creation", meta.calls)
	}
	if _, err := svc.Add(ctx, "42", a); !errors.Is(err, ErrTargetExists) {
		t.Fatalf("duplicate add = %v", err)
	}
}

func TestAddUnknownAccount(t *testing.T) {
	svc, st := newService(t, &fakeMeta{err: &remote.Error{Op: "account_metadata", Cause: "account 9 does not exist"}})
	if _, err := svc.Add(context.Background(), "9", a); !remote.IsRemoteError(err) {
		t.Fatalf("Add = %v", err)
	}
	if _, ok, _ := st.Get(context.Background(), "9"); ok {
		t.Fatalf("nothing should be stored")
	}
	if _, err := svc.Add(context.Background(), "abc", a); !errors.Is(err, ErrInvalidID) {
		t.Fatalf("invalid id = %v", err)
	}
}

func TestRemoveKeepsOrderAndAlignment(t *testing.T) {
	svc, st := newService(t, &fakeMeta{})
	ctx := context.Background()
	for _, tg := range []model.NotifyTarget{a, b, c} {
		if _, err := svc.Add(ctx, "1", tg); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	sub, _, _ := st.Get(ctx, "1")
	sub.Status = &model.LiveStatus{IsLive: true, MessageRefs: []*model.MessageRef{{ChatID: -1, MessageID: 1}, nil, {ChatID: -3, MessageID: 3}}}
	if err := st.Upsert(ctx, sub); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	deleted, err := svc.Remove(ctx, "1", b)
	if err != nil || deleted {
		t.Fatalf("Remove = %v, %v", deleted, err)
	}
	got, _, _ := st.Get(ctx, "1")
	if !slices.Equal(got.NotifyTargets, []model.NotifyTarget{a, c}) {
		t.Fatalf("targets = %v", got.NotifyTargets)
	}
	refs := got.Status.MessageRefs
	if len(refs) != 2 || refs[0].MessageID != 1 || refs[1].MessageID != 3 {
		t.Fatalf("refs misaligned: %+v", refs)
	}
}

func TestRemoveLastTargetDeletes(t *testing.T) {
	svc, st := newService(t, &fakeMeta{})
	ctx := context.Background()
	if _, err := svc.Add(ctx, "1", a); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := svc.Remove(ctx, "1", b); !errors.Is(err, ErrTargetMissing) {
		t.Fatalf("Remove unknown target = %v", err)
	}
	deleted, err := svc.Remove(ctx, "1", a)
	if err != nil || !deleted {
		t.Fatalf("Remove = %v, %v", deleted, err)
	}
	if _, ok, _ := st.Get(ctx, "1"); ok {
		t.Fatalf("subscription should be deleted")
	}
	if _, err := svc.Remove(ctx, "1", a); !errors.Is(err, ErrTargetMissing) {
		t.Fatalf("Remove after delete = %v", err)
	}
}

func TestListByTarget(t *testing.T) {
	svc, _ := newService(t, &fakeMeta{})
	ctx := context.Background()
	_, _ = svc.Add(ctx, "20", a)
	_, _ = svc.Add(ctx, "3", a)
	_, _ = svc.Add(ctx, "100", b)

	got, err := svc.List(ctx, a)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	ids := []string{}
	for _, s := range got {
		ids = append(ids, s.ID)
	}
	if !slices.Equal(ids, []string{"3", "20"}) {
		t.Fatalf("ids = %v", ids)
	}
	all, _ := svc.ListAll(ctx)
	if len(all) != 3 || all[2].ID != "100" {
		t.Fatalf("ListAll = %+v", all)
	}
}
