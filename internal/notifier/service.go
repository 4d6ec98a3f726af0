package notifier

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"tibiabot/internal/eventbus"
	rtsup "tibiabot/internal/runtime/supervisor"
	"tibiabot/internal/storage"
	kit "tibiabot/internal/transport"
	logx "tibiabot/pkg/logx"
)

const historySize = 100

type alert struct {
	n   kit.Notification
	key string
}

// Service publishes payloads and runs the async alert pipeline.
// Safe for concurrent use.
type Service struct {
	log    logx.Logger
	bus    eventbus.Bus
	store  storage.Store
	dedup  *dedupSet
	sleep  func(ctx context.Context, d time.Duration) error
	sender kit.Sender

	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter
	queue   chan alert // nil while stopped
	sup     *rtsup.Supervisor

	// intake counts Notify calls between the open check and their enqueue.
	intake   sync.WaitGroup
	stopping chan struct{}

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, sender kit.Sender, log logx.Logger, bus eventbus.Bus, store storage.Store) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:    log,
		bus:    bus,
		store:  store,
		dedup:  newDedupSet(),
		sleep:  sleepCtx,
		sender: sender,
	}
	s.Apply(cfg)
	return s
}

// Apply swaps the config. Worker and queue sizes take effect on the next Start.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Enabled reports whether Notify accepts alerts. Publish ignores it.
func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Supervisor is nil while the workers are stopped.
func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup
}

// Start launches the alert workers. Publish works without Start.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	for s.stopping != nil {
		wait := s.stopping
		s.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	defer s.mu.Unlock()
	if s.queue != nil || !s.cfg.Enabled {
		return
	}
	q := make(chan alert, s.cfg.QueueSize)
	s.queue = q
	s.sup = rtsup.New(context.WithoutCancel(ctx),
		rtsup.WithLogger(s.log.Component("notifier")),
		rtsup.WithCancelOnError(false),
	)
	for i := range s.cfg.Workers {
		s.sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			s.drain(c, q)
			if c.Err() != nil || s.isStopping() {
				return nil
			}
			return fmt.Errorf("notifier worker %d exited", i)
		}, rtsup.WithPublishFirstError(true))
	}
}

func (s *Service) isStopping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopping != nil
}

// Stop closes intake and lets workers finish the queue. If ctx ends first
// the workers are cancelled and the rest of the queue is dropped.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.queue == nil {
		s.mu.Unlock()
		return
	}
	if s.stopping != nil {
		wait := s.stopping
		s.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	q, sup := s.queue, s.sup
	s.stopping = done
	s.mu.Unlock()

	go func() {
		s.intake.Wait()
		close(q)
		_ = sup.Wait(context.Background())
		s.mu.Lock()
		s.queue, s.sup, s.stopping = nil, nil, nil
		s.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		sup.Cancel()
	}
}

// Notify queues an operator alert. A repeat inside the dedup window is
// dropped with a nil error.
func (s *Service) Notify(ctx context.Context, n kit.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	switch {
	case !s.cfg.Enabled:
		s.mu.Unlock()
		return ErrDisabled
	case s.queue == nil || s.stopping != nil:
		s.mu.Unlock()
		return ErrStopped
	}
	q, cfg := s.queue, s.cfg
	s.intake.Add(1)
	s.mu.Unlock()
	defer s.intake.Done()

	key := dedupKey(n)
	if cfg.DedupWindow > 0 && key != "" && !s.dedup.claim(ctx, key, cfg.DedupWindow, cfg.DedupMaxEntries, s.persisted(cfg)) {
		s.log.Debug("alert suppressed by dedup window", logx.String("key", key))
		return nil
	}

	ev := NotificationEvent{Channel: n.Channel, ChatID: n.Target.ChatID, ThreadID: n.Target.ThreadID, Key: key, At: time.Now()}
	select {
	case q <- alert{n: n, key: key}:
		s.publish(eventbus.TypeNotifierQueued, ev)
		return nil
	default:
		ev.Error = ErrQueueFull.Error()
		s.publish(eventbus.TypeNotifierFailed, ev)
		return ErrQueueFull
	}
}

func (s *Service) persisted(cfg Config) storage.Store {
	if cfg.PersistDedup {
		return s.store
	}
	return nil
}

func (s *Service) drain(ctx context.Context, q <-chan alert) {
	for {
		select {
		case <-ctx.Done():
			return
		case a, ok := <-q:
			if !ok {
				return
			}
			s.deliver(ctx, a)
		}
	}
}

// deliver sends one alert. Only delivered alerts are written to the store,
// so a failed alert is retried after a restart.
func (s *Service) deliver(ctx context.Context, a alert) {
	text := priorityBadge(a.n.Priority) + a.n.Text
	if _, err := s.send(ctx, a.n.Target, text, a.n.Options, a.key); err != nil {
		s.log.Warn("alert delivery failed", logx.Int64("chat_id", a.n.Target.ChatID), logx.Err(err))
		return
	}
	s.mu.Lock()
	st := s.persisted(s.cfg)
	s.mu.Unlock()
	if st == nil || a.key == "" {
		return
	}
	until, ok := s.dedup.expiry(a.key)
	if !ok {
		return
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	if err := st.PutDedup(cctx, a.key, until); err != nil {
		s.log.Debug("persist dedup failed", logx.Err(err))
	}
}

// History returns recently delivered messages, oldest first.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) remember(chatID int64, text string) {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.history = append(s.history, HistoryItem{At: time.Now(), ChatID: chatID, Text: text})
	if over := len(s.history) - historySize; over > 0 {
		s.history = s.history[over:]
	}
}

func (s *Service) publish(typ string, ev NotificationEvent) {
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: typ, Time: ev.At, Data: ev})
	}
}
