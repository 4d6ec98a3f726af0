package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"tibiabot/internal/boosted"
	"tibiabot/internal/task/engine"
	logx "tibiabot/pkg/logx"
)

type call struct {
	trigger boosted.Trigger
	force   bool
}

type fakeRunner struct {
	calls       chan call
	block       chan struct{}
	errs        []string
	fetchFailed bool
	active      atomic.Int32
	done        atomic.Int32
	cancelled   atomic.Int32
}

func newFakeRunner() *fakeRunner { return &fakeRunner{calls: make(chan call, 16)} }

func (f *fakeRunner) RunWith(ctx context.Context, trigger boosted.Trigger, force bool) boosted.Result {
	f.active.Add(1)
	defer f.active.Add(-1)
	f.calls <- call{trigger: trigger, force: force}
	if f.block != nil {
		<-f.block
	}
	if ctx.Err() != nil {
		f.cancelled.Add(1)
	}
	f.done.Add(1)
	return boosted.Result{Trigger: trigger, Force: force, Errors: f.errs, FetchFailed: f.fetchFailed}
}

func (f *fakeRunner) expect(t *testing.T, want call) {
	t.Helper()
	select {
	case got := <-f.calls:
		if got != want {
			t.Fatalf("run = %+v, want %+v", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no run; want %+v", want)
	}
}

func (f *fakeRunner) expectNone(t *testing.T) {
	t.Helper()
	select {
	case got := <-f.calls:
		t.Fatalf("unexpected run %+v", got)
	case <-time.After(100 * time.Millisecond):
	}
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func berlin(t *testing.T, month time.Month, day, hour, minute int) time.Time {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Fatalf("load tz: %v", err)
	}
	return time.Date(2026, month, day, hour, minute, 0, 0, loc)
}

type harness struct {
	sch    *Service
	eng    *engine.Service
	runner *fakeRunner
	clock  *fakeClock
}

func newHarness(t *testing.T, now time.Time, cfg Config) *harness {
	t.Helper()
	eng := engine.New(engine.Config{Enabled: true, Workers: 1, MaxQueueDelay: time.Minute}, logx.Nop(), nil)
	eng.Start(context.Background())
	runner := newFakeRunner()
	clk := &fakeClock{t: now}
	sch := New(cfg, eng, runner, logx.Nop(), nil, WithClock(clk.Now))
	t.Cleanup(func() {
		if runner.block != nil {
			select {
			case <-runner.block:
			default:
				close(runner.block)
			}
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		sch.Stop(ctx)
		eng.Stop(ctx)
	})
	return &harness{sch: sch, eng: eng, runner: runner, clock: clk}
}

func enabled() Config { return Config{Enabled: true} }

func TestCatchUpWithinGrace(t *testing.T) {
	h := newHarness(t, berlin(t, time.July, 1, 10, 8), enabled())
	if err := h.sch.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.runner.expect(t, call{trigger: boosted.TriggerCatchUp})
}

func TestNoCatchUpOutsideGrace(t *testing.T) {
	for _, now := range []time.Time{berlin(t, time.July, 1, 10, 20), berlin(t, time.July, 1, 9, 0)} {
		h := newHarness(t, now, enabled())
		if err := h.sch.Start(context.Background()); err != nil {
			t.Fatalf("Start: %v", err)
		}
		h.runner.expectNone(t)
	}
}

func TestBackupGuard(t *testing.T) {
	h := newHarness(t, berlin(t, time.July, 1, 9, 30), enabled())

	h.sch.fire(boosted.TriggerBackup)
	h.runner.expectNone(t)

	h.clock.Set(berlin(t, time.July, 1, 10, 36))
	h.sch.fire(boosted.TriggerBackup)
	h.runner.expect(t, call{trigger: boosted.TriggerBackup})
}

func TestTriggersCoalesceWhileRunning(t *testing.T) {
	h := newHarness(t, berlin(t, time.July, 1, 10, 40), enabled())
	h.runner.block = make(chan struct{})

	h.sch.fire(boosted.TriggerPrimary)
	h.runner.expect(t, call{trigger: boosted.TriggerPrimary})

	h.sch.fire(boosted.TriggerBackup)
	close(h.runner.block)
	h.runner.expectNone(t)
	if got := h.runner.done.Load(); got != 1 {
		t.Fatalf("runs completed = %d, want 1", got)
	}
}

func TestNextRunTime(t *testing.T) {
	h := newHarness(t, berlin(t, time.July, 1, 9, 0), enabled())
	if _, ok := h.sch.NextRunTime(); ok {
		t.Fatal("NextRunTime should report false before Start")
	}
	if err := h.sch.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	next, ok := h.sch.NextRunTime()
	if want := berlin(t, time.July, 1, 10, 6); !ok || !next.Equal(want) {
		t.Fatalf("NextRunTime = %v %v, want %v", next, ok, want)
	}

	h.clock.Set(berlin(t, time.July, 1, 11, 0))
	next, _ = h.sch.NextRunTime()
	if want := berlin(t, time.July, 2, 10, 6); !next.Equal(want) {
		t.Fatalf("NextRunTime after primary = %v, want %v", next, want)
	}

	st := h.sch.Status()
	if !st.Running || len(st.Jobs) != 2 {
		t.Fatalf("Status = %+v", st)
	}
	// At 11:00 the backup (10:36) has passed as well, so both point at tomorrow.
	if want := berlin(t, time.July, 2, 10, 6); !st.NextRun.Equal(want) {
		t.Fatalf("Status.NextRun = %v, want %v", st.NextRun, want)
	}
	if st.Jobs[1].Spec != "36 10 * * *" {
		t.Fatalf("backup spec = %q", st.Jobs[1].Spec)
	}
}

func TestTimezoneInfo(t *testing.T) {
	h := newHarness(t, berlin(t, time.July, 1, 12, 0), enabled())
	if got := h.sch.TimezoneInfo(); got != "CEST (UTC+02:00)" {
		t.Fatalf("summer = %q", got)
	}
	h.clock.Set(berlin(t, time.January, 15, 12, 0))
	if got := h.sch.TimezoneInfo(); got != "CET (UTC+01:00)" {
		t.Fatalf("winter = %q", got)
	}
}

func TestStartIsIdempotent(t *testing.T) {
	h := newHarness(t, berlin(t, time.July, 1, 12, 0), enabled())
	if err := h.sch.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := h.sch.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if !h.sch.IsRunning() {
		t.Fatal("expected running")
	}
}

func TestDisabledScheduleDoesNotRun(t *testing.T) {
	h := newHarness(t, berlin(t, time.July, 1, 10, 7), Config{Enabled: false})
	if err := h.sch.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if h.sch.IsRunning() {
		t.Fatal("disabled scheduler must not run")
	}
	h.runner.expectNone(t)
}

func TestStartRejectsBadConfig(t *testing.T) {
	h := newHarness(t, berlin(t, time.July, 1, 12, 0), Config{Enabled: true, Primary: "25:00"})
	if err := h.sch.Start(context.Background()); err == nil {
		t.Fatal("expected error for invalid primary time")
	}
	h = newHarness(t, berlin(t, time.July, 1, 12, 0), Config{Enabled: true, Timezone: "Mars/Olympus"})
	if err := h.sch.Start(context.Background()); err == nil {
		t.Fatal("expected error for invalid timezone")
	}
}

func TestForceCheckBypassesSchedule(t *testing.T) {
	h := newHarness(t, berlin(t, time.July, 1, 3, 0), Config{Enabled: false})
	res := h.sch.ForceCheck(context.Background())
	if !res.Force || res.Trigger != boosted.TriggerManual {
		t.Fatalf("ForceCheck result = %+v", res)
	}
	h.runner.expect(t, call{trigger: boosted.TriggerManual, force: true})
}

func TestApplyReschedules(t *testing.T) {
	h := newHarness(t, berlin(t, time.July, 1, 9, 0), enabled())
	if err := h.sch.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := h.sch.Apply(Config{Enabled: true, Primary: "11:30", Backup: "12:00"}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	next, ok := h.sch.NextRunTime()
	if want := berlin(t, time.July, 1, 11, 30); !ok || !next.Equal(want) {
		t.Fatalf("NextRunTime = %v, want %v", next, want)
	}
	if err := h.sch.Apply(Config{Enabled: true, Primary: "bogus"}); err == nil {
		t.Fatal("expected Apply to reject invalid time")
	}
	if got := h.sch.Config().Primary; got != "11:30" {
		t.Fatalf("config after rejected Apply = %q", got)
	}
}

func TestStopWaitsForRunningCheck(t *testing.T) {
	h := newHarness(t, berlin(t, time.July, 1, 10, 7), enabled())
	h.runner.block = make(chan struct{})
	if err := h.sch.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.runner.expect(t, call{trigger: boosted.TriggerCatchUp})

	go func() {
		time.Sleep(60 * time.Millisecond)
		close(h.runner.block)
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	h.sch.Stop(ctx)
	if h.runner.done.Load() != 1 {
		t.Fatal("Stop returned before the running check finished")
	}
}

func TestFailedRunIsRecorded(t *testing.T) {
	h := newHarness(t, berlin(t, time.July, 1, 10, 7), enabled())
	h.runner.errs = []string{"fetch boosted: boom"}
	if err := h.sch.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.runner.expect(t, call{trigger: boosted.TriggerCatchUp})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hist := h.eng.Snapshot().History; len(hist) == 1 {
			if hist[0].Error != "fetch boosted: boom" || hist[0].Attempts != 1 {
				t.Fatalf("history = %+v", hist[0])
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("failed run not recorded")
}

func TestStopWaitsForManualCheck(t *testing.T) {
	h := newHarness(t, berlin(t, time.July, 1, 12, 0), enabled())
	h.runner.block = make(chan struct{})
	if err := h.sch.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	cmdCtx, cmdCancel := context.WithCancel(context.Background())
	finished := make(chan boosted.Result, 1)
	go func() { finished <- h.sch.ForceCheck(cmdCtx) }()
	h.runner.expect(t, call{trigger: boosted.TriggerManual, force: true})

	// Shutdown cancels the command context before stopping the scheduler.
	cmdCancel()
	go func() {
		time.Sleep(60 * time.Millisecond)
		close(h.runner.block)
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	h.sch.Stop(ctx)
	if h.runner.done.Load() != 1 {
		t.Fatal("Stop returned before the manual check finished")
	}
	if h.runner.cancelled.Load() != 0 {
		t.Fatal("manual check saw a cancelled context")
	}
	if res := <-finished; !res.OK() {
		t.Fatalf("ForceCheck = %+v", res)
	}
}

func TestCheckRefusedAfterStop(t *testing.T) {
	h := newHarness(t, berlin(t, time.July, 1, 12, 0), enabled())
	h.sch.Stop(context.Background())

	res := h.sch.Check(context.Background(), false)
	if res.OK() || res.Trigger != boosted.TriggerManual {
		t.Fatalf("Check after Stop = %+v", res)
	}
	h.runner.expectNone(t)

	if err := h.sch.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.sch.Check(context.Background(), false)
	h.runner.expect(t, call{trigger: boosted.TriggerManual})
}

func TestFetchFailureIsRetried(t *testing.T) {
	h := newHarness(t, berlin(t, time.July, 1, 10, 40), enabled())
	h.sch.retry = engine.Retry{Max: 2, Base: time.Millisecond, MaxDelay: time.Millisecond}
	h.runner.errs = []string{"fetch boosted: api down"}
	h.runner.fetchFailed = true

	h.sch.fire(boosted.TriggerPrimary)
	for i := 0; i < 3; i++ {
		h.runner.expect(t, call{trigger: boosted.TriggerPrimary})
	}
	h.runner.expectNone(t)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hist := h.eng.Snapshot().History; len(hist) == 1 {
			if hist[0].Attempts != 3 || hist[0].Error != "fetch boosted: api down" {
				t.Fatalf("history = %+v", hist[0])
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("retried run not recorded")
}
