package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	logx "tibiabot/pkg/logx"
)

// Store is the persistence API used by the detector and the notifier.
type Store interface {
	LoadState(ctx context.Context) (BoostedState, bool, error)
	SaveState(ctx context.Context, st BoostedState) error
	AppendPost(ctx context.Context, r PostRecord) error
	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)
	Close() error
}

var drivers = map[string]func(Config, logx.Logger) (Store, error){
	"file":       openFile,
	"sqlite":     openSQLite,
	"sqlite3":    openSQLite,
	"postgres":   openPostgres,
	"postgresql": openPostgres,
}

// Open returns (nil, nil) when cfg.Driver is empty or "none".
func Open(cfg Config, log logx.Logger) (Store, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if name == "" || name == "none" {
		return nil, nil
	}
	open, ok := drivers[name]
	if !ok {
		return nil, fmt.Errorf("unknown storage driver: %q", cfg.Driver)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return open(cfg, log.With(logx.String("driver", name)))
}
