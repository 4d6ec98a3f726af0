package storage

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	logx "tibiabot/pkg/logx"
)

//go:embed migrations_postgres.sql
var postgresMigrationsSQL string

type postgresStore struct {
	pool *pgxpool.Pool
	log  logx.Logger

	opCount    atomic.Uint64
	pruneEvery uint64
}

func openPostgres(cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres dsn: %w", err)
	}
	// One bot process, a handful of writes per day.
	pcfg.MaxConns = 4
	pcfg.MinConns = 0
	pcfg.MaxConnIdleTime = 10 * time.Minute

	timeout := cfg.BusyTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	st := &postgresStore{pool: pool, log: log, pruneEvery: 500}
	if _, err := pool.Exec(ctx, postgresMigrationsSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}
	log.Debug("postgres store ready", logx.String("host", pcfg.ConnConfig.Host), logx.String("database", pcfg.ConnConfig.Database))
	return st, nil
}

func (s *postgresStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func (s *postgresStore) LoadState(ctx context.Context) (BoostedState, bool, error) {
	if s == nil || s.pool == nil {
		return BoostedState{}, false, ErrDisabled
	}
	var (
		st             BoostedState
		creature, boss *string
	)
	err := s.pool.QueryRow(ctx, `SELECT creature, boss, updated_at FROM boosted_state WHERE id = 1`).
		Scan(&creature, &boss, &st.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return BoostedState{}, false, nil
	}
	if err != nil {
		return BoostedState{}, false, err
	}
	if creature != nil {
		st.Creature = *creature
	}
	if boss != nil {
		st.Boss = *boss
	}
	return st, true, nil
}

func (s *postgresStore) SaveState(ctx context.Context, st BoostedState) error {
	if s == nil || s.pool == nil {
		return ErrDisabled
	}
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO boosted_state(id, creature, boss, updated_at) VALUES(1, $1, $2, $3)
		 ON CONFLICT(id) DO UPDATE SET creature = EXCLUDED.creature, boss = EXCLUDED.boss, updated_at = EXCLUDED.updated_at`,
		optional(st.Creature), optional(st.Boss), st.UpdatedAt.UTC(),
	)
	return err
}

func (s *postgresStore) AppendPost(ctx context.Context, r PostRecord) error {
	if s == nil || s.pool == nil {
		return ErrDisabled
	}
	if r.At.IsZero() {
		r.At = time.Now()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO posts(at, run_id, kind, name, chat_id, thread_id, forced, ok, err, took_ms)
		 VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		r.At.UTC(), optional(r.RunID), r.Kind, r.Name, r.ChatID, r.ThreadID,
		r.Forced, r.OK, optional(r.Error), r.TookMS,
	)
	return err
}

func (s *postgresStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if s == nil || s.pool == nil {
		return ErrDisabled
	}
	if key == "" {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO dedup(key, until) VALUES($1, $2)
		 ON CONFLICT(key) DO UPDATE SET until = EXCLUDED.until`,
		key, until.UnixMilli(),
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		if _, perr := s.pool.Exec(pctx, `DELETE FROM dedup WHERE until < $1`, time.Now().UnixMilli()); perr != nil {
			s.log.Debug("dedup prune failed", logx.Err(perr))
		}
		cancel()
	}
	return err
}

func (s *postgresStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if s == nil || s.pool == nil {
		return time.Time{}, false, ErrDisabled
	}
	if key == "" {
		return time.Time{}, false, nil
	}
	var ms int64
	err := s.pool.QueryRow(ctx, `SELECT until FROM dedup WHERE key = $1`, key).Scan(&ms)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}
