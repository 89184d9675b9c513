package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"livewatch/internal/model"
	logx "livewatch/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, wrap("open", path, err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, wrap("open", path, err)
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, wrap("migrate", path, err)
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) LoadAll(ctx context.Context) ([]model.Subscription, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, data FROM subscriptions`)
	if err != nil {
		return nil, wrap("load_all", "", err)
	}
	defer rows.Close()

	var out []model.Subscription
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, wrap("load_all", "", err)
		}
		var sub model.Subscription
		if err := json.Unmarshal([]byte(data), &sub); err != nil {
			s.log.Warn("skipping undecodable subscription", logx.String("uid", id), logx.Err(err))
			continue
		}
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("load_all", "", err)
	}
	return out, nil
}

func (s *sqliteStore) Get(ctx context.Context, id string) (model.Subscription, bool, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM subscriptions WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Subscription{}, false, nil
	}
	if err != nil {
		return model.Subscription{}, false, wrap("get", id, err)
	}
	return decodeSub("get", id, data)
}

func (s *sqliteStore) Upsert(ctx context.Context, sub model.Subscription) error {
	if strings.TrimSpace(sub.ID) == "" {
		return wrap("upsert", "", errors.New("empty subscription id"))
	}
	data, err := json.Marshal(sub)
	if err != nil {
		return wrap("upsert", sub.ID, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap("upsert", sub.ID, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO subscriptions(id, data, updated_at) VALUES(?,?,?)
		 ON CONFLICT(id) DO UPDATE SET data=excluded.data, updated_at=excluded.updated_at`,
		sub.ID, string(data), time.Now().UnixMilli(),
	); err != nil {
		return wrap("upsert", sub.ID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM message_refs WHERE sub_id = ?`, sub.ID); err != nil {
		return wrap("upsert", sub.ID, err)
	}
	for _, r := range liveRefs(sub) {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO message_refs(chat_id, message_id, sub_id) VALUES(?,?,?)`,
			r.ChatID, r.MessageID, sub.ID,
		); err != nil {
			return wrap("upsert", sub.ID, err)
		}
	}
	return wrap("upsert", sub.ID, tx.Commit())
}

func (s *sqliteStore) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap("delete", id, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM message_refs WHERE sub_id = ?`, id); err != nil {
		return wrap("delete", id, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM subscriptions WHERE id = ?`, id); err != nil {
		return wrap("delete", id, err)
	}
	return wrap("delete", id, tx.Commit())
}

func (s *sqliteStore) FindByMessageRef(ctx context.Context, ref model.MessageRef) (model.Subscription, bool, error) {
	var id, data string
	err := s.db.QueryRowContext(ctx,
		`SELECT s.id, s.data FROM message_refs r JOIN subscriptions s ON s.id = r.sub_id
		 WHERE r.chat_id = ? AND r.message_id = ?`,
		ref.ChatID, ref.MessageID,
	).Scan(&id, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Subscription{}, false, nil
	}
	if err != nil {
		return model.Subscription{}, false, wrap("find_by_ref", fmt.Sprintf("%d/%d", ref.ChatID, ref.MessageID), err)
	}
	return decodeSub("find_by_ref", id, data)
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, actor_id, actor_username, chat_id, thread_id, action, target, err)
		 VALUES(?,?,?,?,?,?,?,?)`,
		e.At.Format(time.RFC3339Nano), e.ActorID, nullStr(e.ActorUsername), e.ChatID, e.ThreadID,
		e.Action, e.Target, nullStr(e.Error),
	)
	return wrap("audit", e.Action, err)
}

func decodeSub(op, id, data string) (model.Subscription, bool, error) {
	var sub model.Subscription
	if err := json.Unmarshal([]byte(data), &sub); err != nil {
		return model.Subscription{}, false, wrap(op, id, err)
	}
	return sub, true, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
