package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"tibiabot/internal/boosted"
	"tibiabot/internal/config"
	"tibiabot/internal/eventbus"
	"tibiabot/internal/format"
	"tibiabot/internal/task/scheduler"
	"tibiabot/internal/tibia"
	kit "tibiabot/internal/transport"
	"tibiabot/internal/transport/telegram/router"
	logx "tibiabot/pkg/logx"
)

func intp(v int) *int    { return &v }
func boolp(v bool) *bool { return &v }

func TestMapScheduleAndEngineDefaults(t *testing.T) {
	cfg := &config.Config{}
	sc, err := mapScheduleConfig(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if !sc.Enabled || sc.Grace != scheduler.DefaultGrace {
		t.Fatalf("schedule = %+v", sc)
	}
	ec, err := mapTaskEngineConfig(cfg, sc.Grace)
	if err != nil {
		t.Fatal(err)
	}
	if ec.Workers != 1 || ec.MaxQueueDelay != scheduler.DefaultGrace || !ec.Enabled {
		t.Fatalf("engine = %+v", ec)
	}

	cfg.Schedule = config.ScheduleConfig{Enabled: boolp(false), Grace: "2m", Primary: " 10:10 "}
	cfg.TaskEngine = &config.TaskEngineConfig{Workers: 3, RetryMax: -1, DefaultTimeout: "10s"}
	sc, err = mapScheduleConfig(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if sc.Enabled || sc.Primary != "10:10" || sc.Grace != 2*time.Minute {
		t.Fatalf("schedule = %+v", sc)
	}
	ec, err = mapTaskEngineConfig(cfg, sc.Grace)
	if err != nil {
		t.Fatal(err)
	}
	if ec.Workers != 3 || ec.RetryMax != 0 || ec.DefaultTimeout != 10*time.Second || ec.MaxQueueDelay != 2*time.Minute {
		t.Fatalf("engine = %+v", ec)
	}
}

func TestMapTibiaConfig(t *testing.T) {
	cfg := &config.Config{}
	tc, err := mapTibiaConfig(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if tc.Retries != tibia.DefaultRetries || tc.Timeout != tibia.DefaultTimeout {
		t.Fatalf("defaults = %+v", tc)
	}
	cfg.Boosted.Retries = intp(0)
	cfg.Boosted.RequestTimeout = "5s"
	tc, err = mapTibiaConfig(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if tc.Retries != 0 || tc.Timeout != 5*time.Second {
		t.Fatalf("explicit = %+v", tc)
	}
	cfg.Boosted.RequestTimeout = "soon"
	if _, err := mapTibiaConfig(cfg); err == nil {
		t.Fatal("expected error for bad timeout")
	}
}

func TestMapStorageConfig(t *testing.T) {
	tests := []struct {
		name    string
		st      *config.StorageConfig
		enabled bool
		driver  string
		wantErr bool
	}{
		{"absent", nil, false, "", false},
		{"none", &config.StorageConfig{Driver: "none"}, false, "", false},
		{"file default path", &config.StorageConfig{Driver: "file"}, true, "file", false},
		{"sqlite", &config.StorageConfig{Driver: "SQLite", Path: "x.db"}, true, "sqlite", false},
		{"sqlite without path", &config.StorageConfig{Driver: "sqlite"}, false, "", true},
		{"postgres", &config.StorageConfig{Driver: "postgresql", DSN: "postgres://bot@db/tibiabot"}, true, "postgres", false},
		{"postgres without dsn", &config.StorageConfig{Driver: "postgres"}, false, "", true},
		{"unknown", &config.StorageConfig{Driver: "redis"}, false, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc, enabled, err := mapStorageConfig(&config.Config{Storage: tt.st})
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v", err)
			}
			if enabled != tt.enabled || sc.Driver != tt.driver {
				t.Fatalf("got %+v enabled=%v", sc, enabled)
			}
		})
	}
}

func TestMapNotifierConfig(t *testing.T) {
	nc, err := mapNotifierConfig(&config.Config{})
	if err != nil {
		t.Fatal(err)
	}
	if !nc.Enabled || nc.DedupWindow != 30*time.Minute {
		t.Fatalf("default = %+v", nc)
	}
	if _, err := mapNotifierConfig(&config.Config{Notifier: &config.NotifierConfig{RetryBase: "fast"}}); err == nil {
		t.Fatal("expected duration error")
	}
	if _, err := mapNotifierConfig(&config.Config{Notifier: &config.NotifierConfig{Workers: -1}}); err == nil {
		t.Fatal("expected bounds error")
	}
}

func TestServerSaveClock(t *testing.T) {
	h, m, err := serverSaveClock(&config.Config{})
	if err != nil || h != 10 || m != 0 {
		t.Fatalf("default = %d:%d %v", h, m, err)
	}
	h, m, err = serverSaveClock(&config.Config{Schedule: config.ScheduleConfig{ServerSave: "09:30"}})
	if err != nil || h != 9 || m != 30 {
		t.Fatalf("custom = %d:%d %v", h, m, err)
	}
}

// ---- commands ----

type replySender struct {
	mu   sync.Mutex
	msgs []string
	opts []*kit.SendOptions
}

func (s *replySender) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, text)
	s.opts = append(s.opts, opt)
	return kit.MessageRef{Chat: to, MessageID: len(s.msgs)}, nil
}

type fakeChecker struct{ res boosted.Result }

func (f fakeChecker) ForceCheck(context.Context) boosted.Result { return f.res }

type fakeView struct {
	payloads map[tibia.Kind]format.Payload
	err      error
}

func (f fakeView) Current(_ context.Context, k tibia.Kind) (format.Payload, error) {
	return f.payloads[k], f.err
}

type fakeSchedule struct{ loc *time.Location }

func (f fakeSchedule) Status() scheduler.Status {
	return scheduler.Status{Running: true, Timezone: "CEST (UTC+02:00)", NextRun: time.Date(2026, 7, 2, 10, 6, 0, 0, f.loc)}
}
func (f fakeSchedule) Config() scheduler.Config {
	return scheduler.Config{Primary: "10:06", Backup: "10:36", Timezone: "Europe/Berlin"}
}
func (f fakeSchedule) Location() *time.Location { return f.loc }

func findCommand(t *testing.T, cmds []router.Command, route string) router.Command {
	t.Helper()
	for _, c := range cmds {
		if c.Name == route {
			return c
		}
	}
	t.Fatalf("command %q not registered", route)
	return router.Command{}
}

func runCommand(t *testing.T, cmd router.Command) *replySender {
	t.Helper()
	s := &replySender{}
	req := &router.Request{Chat: kit.ChatTarget{ChatID: 1}, MsgID: 9, Sender: s, Logger: logx.Nop(), Command: cmd.Name}
	if err := cmd.Handle(context.Background(), req); err != nil {
		t.Fatalf("%s: %v", cmd.Name, err)
	}
	return s
}

func testDeps(t *testing.T) commandDeps {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skip("tzdata unavailable:", err)
	}
	return commandDeps{
		Checker: fakeChecker{res: boosted.Result{CreaturePosted: true, Errors: []string{"boss: <timeout>"}}},
		Boosted: fakeView{payloads: map[tibia.Kind]format.Payload{
			tibia.KindCreature: {Title: "Dragon", ImageURL: "https://example.test/dragon.gif"},
		}},
		Schedule:   fakeSchedule{loc: loc},
		ServerSave: func() (int, int) { return 10, 0 },
		Status:     func() string { return "all good" },
		Now:        func() time.Time { return time.Date(2026, 7, 1, 9, 30, 0, 0, loc) },
	}
}

func TestUpdateCommandSummarizesForcedRun(t *testing.T) {
	cmds := buildCommands(testDeps(t))
	cmd := findCommand(t, cmds, "update")
	if cmd.Access != router.AccessOwnerOnly {
		t.Fatal("update must be owner-only")
	}
	s := runCommand(t, cmd)
	if len(s.msgs) != 2 {
		t.Fatalf("replies = %q", s.msgs)
	}
	last := s.msgs[1]
	for _, want := range []string{"✅ Boosted creature updated", "⚠️ No boss update needed", "❌ boss: &lt;timeout&gt;"} {
		if !strings.Contains(last, want) {
			t.Errorf("summary missing %q:\n%s", want, last)
		}
	}
}

func TestCreatureCommandRepliesWithPreview(t *testing.T) {
	s := runCommand(t, findCommand(t, buildCommands(testDeps(t)), "creature"))
	if len(s.msgs) != 1 || !strings.Contains(s.msgs[0], "Dragon") {
		t.Fatalf("reply = %q", s.msgs)
	}
	if s.opts[0].DisablePreview {
		t.Fatal("creature reply should keep the link preview")
	}
}

func TestBossCommandFetchFailure(t *testing.T) {
	d := testDeps(t)
	d.Boosted = fakeView{err: errors.New("upstream down")}
	s := runCommand(t, findCommand(t, buildCommands(d), "boss"))
	if len(s.msgs) != 1 || !strings.Contains(s.msgs[0], "Could not fetch the boosted boss") {
		t.Fatalf("reply = %q", s.msgs)
	}
}

func TestNextCommandCountsDownToServerSave(t *testing.T) {
	s := runCommand(t, findCommand(t, buildCommands(testDeps(t)), "next"))
	if !strings.Contains(s.msgs[0], "0h 30m") || !strings.Contains(s.msgs[0], "10:00") {
		t.Fatalf("reply = %q", s.msgs[0])
	}
}

func TestScheduleAndStatusCommands(t *testing.T) {
	cmds := buildCommands(testDeps(t))
	s := runCommand(t, findCommand(t, cmds, "schedule"))
	for _, want := range []string{"10:06", "10:36", "CEST"} {
		if !strings.Contains(s.msgs[0], want) {
			t.Errorf("schedule reply missing %q:\n%s", want, s.msgs[0])
		}
	}
	s = runCommand(t, findCommand(t, cmds, "status"))
	if s.msgs[0] != "all good" {
		t.Fatalf("status reply = %q", s.msgs[0])
	}
}

// ---- alerts ----

type fakeNotifier struct {
	got []kit.Notification
	err error
}

func (f *fakeNotifier) Notify(_ context.Context, n kit.Notification) error {
	f.got = append(f.got, n)
	return f.err
}

type alertCounter struct{ ok, failed int }

func (c *alertCounter) ObserveAlert(err error) {
	if err != nil {
		c.failed++
		return
	}
	c.ok++
}

func runEvent(res boosted.Result) eventbus.Event {
	return eventbus.Event{Type: eventbus.TypeBoostedRun, Data: res}
}

func TestHandleRunEventAlertsOnScheduledFailure(t *testing.T) {
	to := kit.ChatTarget{ChatID: -100, ThreadID: 4}
	n := &fakeNotifier{}
	rec := &alertCounter{}
	res := boosted.Result{RunID: "r1", Trigger: boosted.TriggerBackup, Errors: []string{"creature: fetch failed"}}

	handleRunEvent(context.Background(), runEvent(res), to, n, rec, logx.Nop())
	if len(n.got) != 1 {
		t.Fatalf("notifications = %+v", n.got)
	}
	if n.got[0].Target != to || n.got[0].Priority != 8 || !strings.Contains(n.got[0].Text, "creature: fetch failed") {
		t.Fatalf("notification = %+v", n.got[0])
	}
	if rec.ok != 1 {
		t.Fatalf("recorded = %+v", rec)
	}

	n.err = errors.New("queue full")
	handleRunEvent(context.Background(), runEvent(res), to, n, rec, logx.Nop())
	if rec.failed != 1 {
		t.Fatalf("recorded = %+v", rec)
	}
}

func TestHandleRunEventIgnores(t *testing.T) {
	to := kit.ChatTarget{ChatID: -100}
	failed := boosted.Result{Trigger: boosted.TriggerPrimary, Errors: []string{"x"}}
	tests := []struct {
		name string
		e    eventbus.Event
		to   kit.ChatTarget
	}{
		{"successful run", runEvent(boosted.Result{Trigger: boosted.TriggerPrimary}), to},
		{"manual run", runEvent(boosted.Result{Trigger: boosted.TriggerManual, Errors: []string{"x"}}), to},
		{"no alert chat", runEvent(failed), kit.ChatTarget{}},
		{"other event", eventbus.Event{Type: eventbus.TypeTaskFailed, Data: failed}, to},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := &fakeNotifier{}
			handleRunEvent(context.Background(), tt.e, tt.to, n, nil, logx.Nop())
			if len(n.got) != 0 {
				t.Fatalf("unexpected alert: %+v", n.got)
			}
		})
	}
}
