package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"tibiabot/internal/boosted"
	"tibiabot/internal/eventbus"
	"tibiabot/internal/task/engine"
	logx "tibiabot/pkg/logx"
)

type job struct {
	trigger boosted.Trigger
	at      clock
	sched   cron.Schedule
	entryID cron.EntryID
}

type Service struct {
	mu  sync.Mutex
	log logx.Logger
	cfg Config
	bus eventbus.Bus
	now func() time.Time

	engine *engine.Service
	runner Runner

	parser cron.Parser
	c      *cron.Cron
	loc    *time.Location
	jobs   []job // primary first

	// Shared by primary, backup and catch-up: at most one check queued or running.
	gate  *engine.Gate
	retry engine.Retry

	// Checks currently inside the runner, scheduled or manual. Stop waits for zero.
	active  atomic.Int32
	closing atomic.Bool

	// Enqueue failures other than ErrBusy repeat on every trigger while the engine is down.
	enqWarn rate.Sometimes
}

type Option func(*Service)

// WithClock overrides time.Now for trigger guards and next-run calculation.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func New(cfg Config, eng *engine.Service, runner Runner, log logx.Logger, bus eventbus.Bus, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg:     cfg.withDefaults(),
		log:     log,
		bus:     bus,
		now:     time.Now,
		engine:  eng,
		runner:  runner,
		parser:  cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		gate:    &engine.Gate{},
		retry:   engine.Retry{Max: 2, Base: 30 * time.Second, MaxDelay: 2 * time.Minute, Jitter: 0.2},
		enqWarn: rate.Sometimes{Interval: 5 * time.Minute},
	}
	for _, o := range opts {
		o(s)
	}
	// Best effort so TimezoneInfo/NextRunTime answer before Start; Start reports errors.
	if loc, jobs, err := s.prepare(s.cfg); err == nil {
		s.loc, s.jobs = loc, jobs
	} else {
		s.loc = time.Local
	}
	return s
}

func (s *Service) prepare(cfg Config) (*time.Location, []job, error) {
	loc, err := loadLocation(cfg.Timezone)
	if err != nil {
		return nil, nil, fmt.Errorf("schedule timezone: %w", err)
	}
	var jobs []job
	for _, j := range []struct {
		trigger boosted.Trigger
		raw     string
	}{
		{boosted.TriggerPrimary, cfg.Primary},
		{boosted.TriggerBackup, cfg.Backup},
	} {
		at, err := parseHHMM(j.raw)
		if err != nil {
			return nil, nil, fmt.Errorf("schedule %s: %w", j.trigger, err)
		}
		sched, err := s.parser.Parse(at.spec())
		if err != nil {
			return nil, nil, fmt.Errorf("schedule %s: %w", j.trigger, err)
		}
		jobs = append(jobs, job{trigger: j.trigger, at: at, sched: sched})
	}
	return loc, jobs, nil
}

// Start registers the daily jobs and begins triggering. Calling it while
// running logs a warning and returns nil. A disabled schedule is a no-op.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		s.log.Warn("scheduler already running")
		return nil
	}
	s.closing.Store(false)
	if !s.cfg.Enabled {
		s.log.Info("scheduler disabled; only manual checks will run")
		return nil
	}
	loc, jobs, err := s.prepare(s.cfg)
	if err != nil {
		return err
	}
	if err := s.startCronLocked(loc, jobs); err != nil {
		return err
	}
	s.catchUpLocked()

	next, _ := s.nextLocked(boosted.TriggerPrimary)
	s.log.Info("scheduler started",
		logx.String("tz", loc.String()),
		logx.String("primary", jobs[0].at.String()),
		logx.String("backup", jobs[1].at.String()),
		logx.Time("next_run", next),
	)
	return nil
}

func (s *Service) startCronLocked(loc *time.Location, jobs []job) error {
	c := cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	for i := range jobs {
		trigger := jobs[i].trigger
		id, err := c.AddFunc(jobs[i].at.spec(), func() { s.fire(trigger) })
		if err != nil {
			return fmt.Errorf("register %s: %w", trigger, err)
		}
		jobs[i].entryID = id
	}
	s.c, s.loc, s.jobs = c, loc, jobs
	c.Start()
	return nil
}

// catchUpLocked fires one run when the process starts shortly after today's primary time.
func (s *Service) catchUpLocked() {
	now := s.now().In(s.loc)
	primary := s.jobs[0].at.on(now)
	late := now.Sub(primary)
	if late < 0 || late >= s.cfg.Grace {
		return
	}
	s.log.Info("started within grace window of primary run; catching up", logx.Duration("late", late))
	_ = s.enqueue(boosted.TriggerCatchUp)
}

// Stop halts triggering and waits (bounded by ctx) for in-flight checks,
// manual ones included. Checks requested afterwards are refused until Start.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.closing.Store(true)
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()

	start := time.Now()
	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}

	t := time.NewTicker(20 * time.Millisecond)
	defer t.Stop()
	for s.active.Load() > 0 {
		select {
		case <-ctx.Done():
			s.log.Warn("scheduler stop timed out waiting for running check", logx.Err(ctx.Err()))
			return
		case <-t.C:
		}
	}
	if c != nil {
		s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
	}
}

// Apply swaps the config. A running cron is rebuilt when timezone or times changed.
func (s *Service) Apply(cfg Config) error {
	cfg = cfg.withDefaults()
	loc, jobs, err := s.prepare(cfg)
	if err != nil {
		return err
	}

	s.mu.Lock()
	prev := s.cfg
	s.cfg = cfg
	c := s.c
	if c == nil {
		s.loc, s.jobs = loc, jobs
		s.mu.Unlock()
		return nil
	}
	if !cfg.Enabled {
		s.c = nil
		s.mu.Unlock()
		<-c.Stop().Done()
		s.log.Info("scheduler disabled by config")
		return nil
	}
	if prev.Timezone == cfg.Timezone && prev.Primary == cfg.Primary && prev.Backup == cfg.Backup {
		s.mu.Unlock()
		return nil
	}
	s.c = nil
	s.mu.Unlock()
	// Jobs take s.mu in fire; wait for them outside the lock.
	<-c.Stop().Done()

	s.mu.Lock()
	if s.c != nil {
		s.mu.Unlock()
		return nil
	}
	err = s.startCronLocked(loc, jobs)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.log.Info("scheduler rescheduled", logx.String("tz", loc.String()),
		logx.String("primary", jobs[0].at.String()), logx.String("backup", jobs[1].at.String()))
	return nil
}

// fire is the cron callback.
func (s *Service) fire(trigger boosted.Trigger) {
	s.mu.Lock()
	now := s.now().In(s.loc)
	primary := s.jobs[0].at
	s.mu.Unlock()

	// A backup firing before the primary's time of day (timezone edits,
	// clock jumps) has nothing to back up yet.
	if trigger == boosted.TriggerBackup && primary.before(now) {
		s.log.Debug("backup fired before primary time; skipped", logx.Time("now", now))
		return
	}
	_ = s.enqueue(trigger)
}

func (s *Service) enqueue(trigger boosted.Trigger) error {
	name := "boosted." + string(trigger)
	if s.engine == nil {
		go func() { _ = s.run(context.Background(), trigger) }()
		return nil
	}
	err := s.engine.Enqueue(engine.Task{
		Name: name,
		Gate: s.gate,
		// Only a failed fetch comes back retryable; the backup trigger covers the rest.
		Retry: s.retry,
		Run:   func(ctx context.Context) error { return s.run(ctx, trigger) },
	})
	switch {
	case err == nil:
	case errors.Is(err, engine.ErrBusy):
		s.log.Info("check already queued or running; trigger coalesced", logx.String("trigger", string(trigger)))
	default:
		s.enqWarn.Do(func() {
			s.log.Warn("could not queue check", logx.String("trigger", string(trigger)), logx.Err(err))
		})
	}
	return err
}

// run executes one scheduled attempt. A failed boosted fetch is returned as a
// retryable error; every other failure is final.
func (s *Service) run(ctx context.Context, trigger boosted.Trigger) error {
	res, ok := s.check(ctx, trigger, false)
	if !ok {
		return engine.NoRetry(errStopping)
	}
	if res.OK() {
		return nil
	}
	err := errors.New(strings.Join(res.Errors, "; "))
	if res.FetchFailed {
		return err
	}
	return engine.NoRetry(err)
}

// Check runs one detection pass now, outside the schedule. It is tracked like
// a scheduled run: Stop waits for it and cancelling ctx does not abort it.
func (s *Service) Check(ctx context.Context, force bool) boosted.Result {
	res, ok := s.check(ctx, boosted.TriggerManual, force)
	if !ok {
		now := s.now()
		return boosted.Result{Trigger: boosted.TriggerManual, Force: force, Errors: []string{errStopping.Error()}, Started: now, Finished: now}
	}
	return res
}

var errStopping = errors.New("scheduler is stopping")

// check detaches ctx from cancellation and bounds it by RunTimeout. ok is false
// when Stop has begun and the runner was not called.
func (s *Service) check(ctx context.Context, trigger boosted.Trigger, force bool) (boosted.Result, bool) {
	s.active.Add(1)
	defer s.active.Add(-1)
	if s.closing.Load() {
		return boosted.Result{}, false
	}

	s.mu.Lock()
	timeout := s.cfg.RunTimeout
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	rctx := context.WithoutCancel(ctx)
	if timeout > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(rctx, timeout)
		defer cancel()
	}
	return s.runner.RunWith(rctx, trigger, force), true
}
