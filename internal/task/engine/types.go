package engine

import (
	"context"
	"sync"
	"time"
)

// Config controls the worker pool. The app maps config.task_engine into it.
type Config struct {
	Enabled   bool
	Workers   int
	QueueSize int

	// DefaultTimeout bounds one attempt when Task.Timeout is 0.
	DefaultTimeout time.Duration

	// MaxQueueDelay drops tasks that waited longer than this before a worker
	// picked them up. 0 keeps them.
	MaxQueueDelay time.Duration

	HistorySize int
	// RetryMax is the retry count for tasks that leave Retry.Max at 0.
	RetryMax int
}

func (c Config) normalized() Config {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 16
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 50
	}
	c.RetryMax = max(c.RetryMax, 0)
	return c
}

// Retry is the per-task retry policy. Delays double from Base up to MaxDelay,
// spread by +/- Jitter.
type Retry struct {
	Max      int
	Base     time.Duration
	MaxDelay time.Duration
	Jitter   float64 // 0.2 = 20%
}

func (r Retry) withDefaults(cfg Config) Retry {
	if r.Max <= 0 {
		r.Max = cfg.RetryMax
	}
	if r.Base <= 0 {
		r.Base = 500 * time.Millisecond
	}
	if r.MaxDelay < r.Base {
		r.MaxDelay = max(15*time.Second, r.Base)
	}
	if r.Jitter < 0 {
		r.Jitter = 0
	}
	return r
}

// Gate keeps the tasks sharing it from overlapping. It is held from a
// successful Enqueue until the task finishes or is dropped.
type Gate struct {
	mu   sync.Mutex
	held bool
}

func (g *Gate) tryHold() bool {
	if g == nil {
		return true
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.held {
		return false
	}
	g.held = true
	return true
}

func (g *Gate) release() {
	if g == nil {
		return
	}
	g.mu.Lock()
	g.held = false
	g.mu.Unlock()
}

// Busy reports whether a task holding g is queued or running.
func (g *Gate) Busy() bool {
	if g == nil {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.held
}

// Task is a unit of work. A nil Gate lets the task overlap freely.
type Task struct {
	ID      string
	Name    string
	Timeout time.Duration
	Gate    *Gate
	Retry   Retry
	Run     func(ctx context.Context) error
}

type HistoryItem struct {
	ID         string
	Name       string
	Started    time.Time
	QueueDelay time.Duration
	Duration   time.Duration
	Attempts   int
	Error      string
}

// TaskEvent is the payload of task.* bus events.
type TaskEvent struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Started    time.Time     `json:"started"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
	Attempts   int           `json:"attempts"`
	Error      string        `json:"error,omitempty"`
}

type Snapshot struct {
	Enabled  bool
	Workers  int
	QueueLen int
	QueueCap int
	InFlight int

	Dropped          uint64
	DroppedQueueFull uint64
	DroppedStale     uint64

	DefaultTimeout time.Duration
	MaxQueueDelay  time.Duration
	RetryMax       int

	History []HistoryItem
}
