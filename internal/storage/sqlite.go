package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "tibiabot/pkg/logx"
)

//go:embed migrations.sql
var migrationsSQL string

const (
	sqlLoadState = `SELECT creature, boss, updated_at FROM boosted_state WHERE id = 1`
	sqlSaveState = `INSERT INTO boosted_state(id, creature, boss, updated_at) VALUES(1, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET creature = excluded.creature, boss = excluded.boss, updated_at = excluded.updated_at`
	sqlAppendPost = `INSERT INTO posts(at, run_id, kind, name, chat_id, thread_id, forced, ok, err, took_ms)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	sqlPutDedup   = `INSERT INTO dedup(key, until) VALUES(?, ?) ON CONFLICT(key) DO UPDATE SET until = excluded.until`
	sqlGetDedup   = `SELECT until FROM dedup WHERE key = ? AND until >= ?`
	sqlPruneDedup = `DELETE FROM dedup WHERE until < ?`
)

// sqliteStore uses a single connection; timestamps are stored as RFC 3339
// text, dedup expiry as unix milliseconds.
type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func sqliteDSN(path string, busy time.Duration) string {
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	return path + "?" + q.Encode()
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	db, err := sql.Open("sqlite", sqliteDSN(path, busy))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), busy+5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, migrationsSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	if res, err := db.ExecContext(ctx, sqlPruneDedup, time.Now().UnixMilli()); err != nil {
		log.Warn("prune dedup failed", logx.Err(err))
	} else if n, _ := res.RowsAffected(); n > 0 {
		log.Debug("dropped expired dedup marks", logx.Int64("count", n))
	}
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func (s *sqliteStore) LoadState(ctx context.Context) (BoostedState, bool, error) {
	var creature, boss sql.NullString
	var updated string
	switch err := s.db.QueryRowContext(ctx, sqlLoadState).Scan(&creature, &boss, &updated); {
	case errors.Is(err, sql.ErrNoRows):
		return BoostedState{}, false, nil
	case err != nil:
		return BoostedState{}, false, err
	}
	st := BoostedState{Creature: creature.String, Boss: boss.String}
	st.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return st, true, nil
}

func (s *sqliteStore) SaveState(ctx context.Context, st BoostedState) error {
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, sqlSaveState, optional(st.Creature), optional(st.Boss), rfc3339(st.UpdatedAt))
	return err
}

func (s *sqliteStore) AppendPost(ctx context.Context, r PostRecord) error {
	if r.At.IsZero() {
		r.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx, sqlAppendPost,
		rfc3339(r.At), optional(r.RunID), r.Kind, r.Name, r.ChatID, r.ThreadID,
		r.Forced, r.OK, optional(r.Error), r.TookMS)
	return err
}

func (s *sqliteStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if key = strings.TrimSpace(key); key == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx, sqlPutDedup, key, until.UnixMilli())
	return err
}

// GetDedup ignores marks that have already expired.
func (s *sqliteStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	var ms int64
	err := s.db.QueryRowContext(ctx, sqlGetDedup, strings.TrimSpace(key), time.Now().UnixMilli()).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

// optional maps blank strings to SQL NULL.
func optional(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func rfc3339(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }
