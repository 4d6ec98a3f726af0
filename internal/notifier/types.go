package notifier

import (
	"errors"
	"time"

	kit "tibiabot/internal/transport"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
	ErrNoSender  = errors.New("notifier has no sender")

	// ErrPermanent marks a send error that a retry cannot fix.
	ErrPermanent = kit.ErrPermanent
)

// Config controls channel publishing and the async alert pipeline.
type Config struct {
	Enabled    bool
	Workers    int
	QueueSize  int
	RatePerSec int // also the limiter burst

	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	SendTimeout   time.Duration

	DedupWindow     time.Duration // 0 disables dedup
	DedupMaxEntries int
	PersistDedup    bool
}

func (c Config) withDefaults() Config {
	setInt := func(v *int, def int) {
		if *v <= 0 {
			*v = def
		}
	}
	setDur := func(v *time.Duration, def time.Duration) {
		if *v <= 0 {
			*v = def
		}
	}
	setInt(&c.Workers, 1)
	setInt(&c.QueueSize, 64)
	setInt(&c.RatePerSec, 3)
	setInt(&c.DedupMaxEntries, 500)
	setDur(&c.RetryBase, 500*time.Millisecond)
	setDur(&c.RetryMaxDelay, 10*time.Second)
	setDur(&c.SendTimeout, 15*time.Second)
	c.RetryMax = max(c.RetryMax, 0)
	c.DedupWindow = max(c.DedupWindow, 0)
	return c
}

type HistoryItem struct {
	At     time.Time
	ChatID int64
	Text   string
}

// NotificationEvent is the payload of notifier.* bus events.
type NotificationEvent struct {
	Channel  string    `json:"channel"`
	ChatID   int64     `json:"chat_id"`
	ThreadID int       `json:"thread_id,omitempty"`
	Key      string    `json:"key,omitempty"`
	At       time.Time `json:"at"`
	Attempts int       `json:"attempts,omitempty"`
	Error    string    `json:"error,omitempty"`
}
