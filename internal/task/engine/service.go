package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"tibiabot/internal/eventbus"
	rtsup "tibiabot/internal/runtime/supervisor"
	logx "tibiabot/pkg/logx"
)

// Drop warnings are logged at most this often; counters still see every drop.
const dropWarnEvery = 5 * time.Second

// pool is one Start..Stop lifetime of the workers.
type pool struct {
	queue    chan pending
	stop     chan struct{}
	done     chan struct{} // closed when workers exited and the queue is drained
	sup      *rtsup.Supervisor
	stopping bool
}

type pending struct {
	task    Task
	queued  time.Time
	timeout time.Duration
	retry   Retry
}

type Service struct {
	mu   sync.Mutex
	cfg  Config
	pool *pool

	log logx.Logger
	bus eventbus.Bus

	hmu     sync.Mutex
	history []HistoryItem

	seq      atomic.Uint64
	inFlight atomic.Int32

	droppedFull  atomic.Uint64
	droppedStale atomic.Uint64
	warnedFull   atomic.Int64
	warnedStale  atomic.Int64
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg.normalized(), log: log, bus: bus}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Supervisor returns the worker supervisor (nil if not running).
func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pool == nil || s.pool.stopping {
		return nil
	}
	return s.pool.sup
}

// Apply swaps the config. The pool restarts only when it must: disabled,
// or a different worker count or queue size.
func (s *Service) Apply(ctx context.Context, cfg Config) {
	cfg = cfg.normalized()
	s.mu.Lock()
	prev := s.cfg
	s.cfg = cfg
	running := s.pool != nil && !s.pool.stopping
	s.mu.Unlock()

	if !running {
		return
	}
	if !cfg.Enabled {
		s.Stop(ctx)
		return
	}
	if prev.Workers != cfg.Workers || prev.QueueSize != cfg.QueueSize {
		s.Stop(ctx)
		s.Start(ctx)
	}
}

// Start launches the workers. It is a no-op when disabled or already running,
// and waits (bounded by ctx) for a previous Stop to finish.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	for s.pool != nil {
		p := s.pool
		if !p.stopping {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
		select {
		case <-p.done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}
	cfg := s.cfg
	p := &pool{
		queue: make(chan pending, cfg.QueueSize),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
		// Workers outlive the caller's ctx (Apply passes a short-lived one); Stop ends them.
		sup: rtsup.New(context.WithoutCancel(ctx),
			rtsup.WithLogger(s.log),
			rtsup.WithCancelOnError(false),
		),
	}
	s.pool = p
	s.mu.Unlock()

	for i := 0; i < cfg.Workers; i++ {
		idx := i
		p.sup.GoRestart(fmt.Sprintf("worker.%d", idx), func(c context.Context) error {
			s.worker(c, p, idx)
			select {
			case <-p.stop:
				return nil
			default:
			}
			if err := c.Err(); err != nil {
				return err
			}
			return errors.New("worker exited unexpectedly")
		}, rtsup.WithPublishFirstError(true))
	}
	s.log.Info("task engine started", logx.Int("workers", cfg.Workers), logx.Int("queue", cfg.QueueSize))
}

// Stop ends the workers and waits, bounded by ctx, for the task in flight.
// Queued tasks are discarded and release their gates.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	p := s.pool
	if p == nil {
		s.mu.Unlock()
		return
	}
	if !p.stopping {
		p.stopping = true
		close(p.stop)
		go s.retire(p)
	}
	s.mu.Unlock()

	select {
	case <-p.done:
		s.log.Info("task engine stopped")
	case <-ctx.Done():
		// Give up on the in-flight task: cancel it and let retire finish in the background.
		p.sup.Cancel()
		s.log.Warn("task engine stop timed out", logx.Err(ctx.Err()))
	}
}

// retire waits for the workers to return after p.stop closed, then drains the queue.
func (s *Service) retire(p *pool) {
	_ = p.sup.Wait(context.Background())
	p.sup.Cancel()
	for {
		select {
		case pt := <-p.queue:
			pt.task.Gate.release()
			continue
		default:
		}
		break
	}
	s.mu.Lock()
	if s.pool == p {
		s.pool = nil
	}
	s.mu.Unlock()
	close(p.done)
}

// Enqueue queues t without blocking. A held gate yields ErrBusy and a full
// queue ErrQueueFull.
func (s *Service) Enqueue(t Task) error {
	if t.Run == nil {
		return errors.New("task Run is nil")
	}
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return errors.New("task Name is required")
	}
	now := time.Now()
	if t.ID == "" {
		t.ID = fmt.Sprintf("%s-%d", t.Name, s.seq.Add(1))
	}

	s.mu.Lock()
	cfg, p := s.cfg, s.pool
	s.mu.Unlock()
	switch {
	case !cfg.Enabled:
		return ErrDisabled
	case p == nil:
		return ErrStopped
	case p.stopping:
		return ErrStopping
	}

	if !t.Gate.tryHold() {
		s.publish(eventbus.TypeTaskDropped, now, TaskEvent{ID: t.ID, Name: t.Name, Started: now, Error: "busy"})
		return ErrBusy
	}
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = cfg.DefaultTimeout
	}
	select {
	case p.queue <- pending{task: t, queued: now, timeout: timeout, retry: t.Retry.withDefaults(cfg)}:
		return nil
	default:
		t.Gate.release()
		s.droppedFull.Add(1)
		s.publish(eventbus.TypeTaskDropped, now, TaskEvent{ID: t.ID, Name: t.Name, Started: now, Error: "queue_full"})
		if warnDue(&s.warnedFull, now) {
			s.log.Warn("task dropped: queue full", logx.String("task", t.Name), logx.Int("queue_cap", cap(p.queue)),
				logx.Uint64("dropped_queue_full", s.droppedFull.Load()))
		}
		return ErrQueueFull
	}
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	cfg, p := s.cfg, s.pool
	s.mu.Unlock()

	s.hmu.Lock()
	h := append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()

	full, stale := s.droppedFull.Load(), s.droppedStale.Load()
	snap := Snapshot{
		Enabled:          cfg.Enabled,
		Workers:          cfg.Workers,
		InFlight:         int(s.inFlight.Load()),
		Dropped:          full + stale,
		DroppedQueueFull: full,
		DroppedStale:     stale,
		DefaultTimeout:   cfg.DefaultTimeout,
		MaxQueueDelay:    cfg.MaxQueueDelay,
		RetryMax:         cfg.RetryMax,
		History:          h,
	}
	if p != nil {
		snap.QueueLen, snap.QueueCap = len(p.queue), cap(p.queue)
	}
	return snap
}

func (s *Service) record(item HistoryItem) {
	s.mu.Lock()
	limit := s.cfg.HistorySize
	s.mu.Unlock()

	s.hmu.Lock()
	s.history = append(s.history, item)
	if over := len(s.history) - limit; over > 0 {
		s.history = append(s.history[:0:0], s.history[over:]...)
	}
	s.hmu.Unlock()
}

func (s *Service) publish(typ string, at time.Time, ev TaskEvent) {
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: typ, Time: at, Data: ev})
	}
}

func warnDue(last *atomic.Int64, now time.Time) bool {
	prev := last.Load()
	if prev != 0 && now.UnixNano()-prev < int64(dropWarnEvery) {
		return false
	}
	return last.CompareAndSwap(prev, now.UnixNano())
}
