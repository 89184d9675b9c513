package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"livewatch/internal/model"
	logx "livewatch/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.audit.jsonl    (append-only JSON Lines)
//   - <prefix>.snapshot.json  (periodic snapshot of all subscriptions)
//   - <prefix>.journal.jsonl  (append-only put/del journal)
//
// The journal is compacted into the snapshot on open and every
// compactEvery writes.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	auditFile *os.File

	snapshotPath string
	journalFile  *os.File

	subs map[string]model.Subscription
	refs map[[2]int64]string

	writes       int
	compactEvery int
}

type journalRecord struct {
	Op  string              `json:"op"` // put | del
	ID  string              `json:"id"`
	Sub *model.Subscription `json:"sub,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, wrap("open", path, err)
	}

	af, err := os.OpenFile(prefix+".audit.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, wrap("open", path, err)
	}

	s := &fileStore{
		log:          log,
		auditFile:    af,
		snapshotPath: prefix + ".snapshot.json",
		subs:         map[string]model.Subscription{},
		refs:         map[[2]int64]string{},
		compactEvery: 200,
	}

	journalPath := prefix + ".journal.jsonl"
	if err := loadSnapshot(s.snapshotPath, s.subs); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("snapshot unreadable; starting from journal", logx.Err(err))
	}
	if n, err := replayJournal(journalPath, s.subs); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("journal replay stopped early", logx.Int("applied", n), logx.Err(err))
	}
	for id, sub := range s.subs {
		s.indexLocked(id, sub)
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = af.Close()
		return nil, wrap("open", path, err)
	}
	s.journalFile = jf

	s.mu.Lock()
	err = s.compactLocked()
	s.mu.Unlock()
	if err != nil {
		log.Debug("initial compact failed", logx.Err(err))
	}
	log.Debug("file store opened", logx.String("prefix", prefix), logx.Int("subscriptions", len(s.subs)))
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err1, err2 error
	if s.auditFile != nil {
		err1 = s.auditFile.Close()
		s.auditFile = nil
	}
	if s.journalFile != nil {
		err2 = s.journalFile.Close()
		s.journalFile = nil
	}
	return errors.Join(err1, err2)
}

func (s *fileStore) LoadAll(ctx context.Context) ([]model.Subscription, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		out = append(out, sub.Clone())
	}
	return out, nil
}

func (s *fileStore) Get(ctx context.Context, id string) (model.Subscription, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[id]
	if !ok {
		return model.Subscription{}, false, nil
	}
	return sub.Clone(), true, nil
}

func (s *fileStore) Upsert(ctx context.Context, sub model.Subscription) error {
	_ = ctx
	if strings.TrimSpace(sub.ID) == "" {
		return wrap("upsert", "", errors.New("empty subscription id"))
	}
	sub = sub.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.appendLocked(journalRecord{Op: "put", ID: sub.ID, Sub: &sub}); err != nil {
		return wrap("upsert", sub.ID, err)
	}
	s.unindexLocked(sub.ID)
	s.subs[sub.ID] = sub
	s.indexLocked(sub.ID, sub)
	return nil
}

func (s *fileStore) Delete(ctx context.Context, id string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[id]; !ok {
		return nil
	}
	if err := s.appendLocked(journalRecord{Op: "del", ID: id}); err != nil {
		return wrap("delete", id, err)
	}
	s.unindexLocked(id)
	delete(s.subs, id)
	return nil
}

func (s *fileStore) FindByMessageRef(ctx context.Context, ref model.MessageRef) (model.Subscription, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.refs[refIndexKey(ref.ChatID, ref.MessageID)]
	if !ok {
		return model.Subscription{}, false, nil
	}
	sub, ok := s.subs[id]
	if !ok {
		return model.Subscription{}, false, nil
	}
	return sub.Clone(), true, nil
}

func (s *fileStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	_ = ctx
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return wrap("audit", e.Action, errors.New("audit file closed"))
	}
	return wrap("audit", e.Action, json.NewEncoder(s.auditFile).Encode(e))
}

func (s *fileStore) indexLocked(id string, sub model.Subscription) {
	for _, r := range liveRefs(sub) {
		s.refs[refIndexKey(r.ChatID, r.MessageID)] = id
	}
}

func (s *fileStore) unindexLocked(id string) {
	old, ok := s.subs[id]
	if !ok {
		return
	}
	for _, r := range liveRefs(old) {
		k := refIndexKey(r.ChatID, r.MessageID)
		if s.refs[k] == id {
			delete(s.refs, k)
		}
	}
}

func (s *fileStore) appendLocked(rec journalRecord) error {
	if s.journalFile == nil {
		return errors.New("journal closed")
	}
	if err := json.NewEncoder(s.journalFile).Encode(rec); err != nil {
		return err
	}
	if err := s.journalFile.Sync(); err != nil {
		return err
	}
	s.writes++
	if s.writes%s.compactEvery == 0 {
		// Best-effort; the journal stays authoritative until it succeeds.
		if err := s.compactLocked(); err != nil {
			s.log.Debug("journal compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) compactLocked() error {
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.subs); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.journalFile.Seek(0, 2)
	return err
}

func loadSnapshot(path string, out map[string]model.Subscription) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]model.Subscription
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

// replayJournal applies records in order. A torn trailing line from a crash is
// skipped.
func replayJournal(path string, out map[string]model.Subscription) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4<<20)
	n := 0
	for sc.Scan() {
		var r journalRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil || r.ID == "" {
			continue
		}
		switch r.Op {
		case "put":
			if r.Sub != nil {
				out[r.ID] = *r.Sub
			}
		case "del":
			delete(out, r.ID)
		default:
			return n, fmt.Errorf("unknown journal op %q", r.Op)
		}
		n++
	}
	return n, sc.Err()
}
