package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": one JSON document plus a JSONL post log
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
//   - "postgres": PostgreSQL via pgx; DSN is a libpq URL or key=value string
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	DSN         string
	BusyTimeout time.Duration // sqlite busy timeout, postgres connect timeout; 0 means default
}

// BoostedState is the persisted form of the last posted names.
type BoostedState struct {
	Creature  string    `json:"creature"`
	Boss      string    `json:"boss"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PostRecord records one publish attempt.
// Keep it compact and schema-stable.
type PostRecord struct {
	At       time.Time `json:"at"`
	RunID    string    `json:"run_id"`
	Kind     string    `json:"kind"`
	Name     string    `json:"name"`
	ChatID   int64     `json:"chat_id"`
	ThreadID int       `json:"thread_id,omitempty"`
	Forced   bool      `json:"forced,omitempty"`
	OK       bool      `json:"ok"`
	Error    string    `json:"error,omitempty"`
	TookMS   int64     `json:"took_ms"`
}
