package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"tibiabot/internal/boosted"
	"tibiabot/internal/config"
	"tibiabot/internal/eventbus"
	"tibiabot/internal/format"
	"tibiabot/internal/metrics"
	"tibiabot/internal/notifier"
	rtsup "tibiabot/internal/runtime/supervisor"
	"tibiabot/internal/storage"
	"tibiabot/internal/task/engine"
	"tibiabot/internal/task/scheduler"
	"tibiabot/internal/tibia"
	kit "tibiabot/internal/transport"
	telegram "tibiabot/internal/transport/telegram/adapter"
	"tibiabot/internal/transport/telegram/router"
	logx "tibiabot/pkg/logx"
	"tibiabot/pkg/systemd"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter *telegram.Adapter
	client  *tibia.Client

	metrics    *metrics.Metrics
	metricsSrv *metrics.Server

	notif    *notifier.Service
	detector *boosted.Detector
	engine   *engine.Service
	sched    *scheduler.Service

	cmdm *router.CommandManager
	sups *rtsup.Registry

	updates chan kit.Update

	mu         sync.RWMutex
	alertTo    kit.ChatTarget
	saveHour   int
	saveMinute int
	startedAt  time.Time
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	warnings, err := config.Validate(cfg)
	if err != nil {
		return nil, err
	}

	pollTimeout, err := config.DurationOr("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, logx.NewConsole("INFO").Component("telegram"))
	if err != nil {
		return nil, err
	}

	// Bootstrap with the Telegram sink off so Apply does not warn about a
	// missing target, then enable it once the target is set.
	logCfg := mapLogConfig(cfg)
	tgEnabled := logCfg.Telegram.Enabled
	logCfg.Telegram.Enabled = false
	logSvc, root := logx.New(logCfg, ad)
	logSvc.SetTelegramTarget(cfg.Telegram.LogChatID, cfg.Logging.Telegram.ThreadID)
	logCfg.Telegram.Enabled = tgEnabled
	logSvc.Apply(logCfg)

	log := root.Component("app")
	for _, w := range warnings {
		log.Warn("config warning", logx.String("warning", w))
	}

	bus := eventbus.New()

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, root.Component("storage"))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	m := metrics.New()

	tcfg, err := mapTibiaConfig(cfg)
	if err != nil {
		return nil, err
	}
	client := tibia.New(tcfg, root.Component("tibia"), tibia.WithObserver(m.FetchObserver()))

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}
	notif := notifier.New(ncfg, ad, root.Component("notifier"), bus, store)

	dopts := []boosted.Option{boosted.WithBus(bus), boosted.WithObserver(m)}
	if store != nil {
		dopts = append(dopts, boosted.WithPostLog(store))
		if cfg.Boosted.PersistState {
			dopts = append(dopts, boosted.WithStateStore(boosted.StorageState(store)))
		}
	}
	det := boosted.NewDetector(client, notif, mapTargets(cfg), root.Component("boosted"), dopts...)

	scfg, err := mapScheduleConfig(cfg)
	if err != nil {
		return nil, err
	}
	ecfg, err := mapTaskEngineConfig(cfg, scfg.Grace)
	if err != nil {
		return nil, err
	}
	eng := engine.New(ecfg, root.Component("taskengine"), bus)
	sched := scheduler.New(scfg, eng, det, root.Component("scheduler"), bus)

	mcfg, err := mapMetricsConfig(cfg)
	if err != nil {
		return nil, err
	}
	hour, minute, err := serverSaveClock(cfg)
	if err != nil {
		return nil, err
	}

	sups := rtsup.NewRegistry()
	a := &App{
		cfgm:       cfgm,
		log:        log,
		logs:       logSvc,
		bus:        bus,
		store:      store,
		adapter:    ad,
		client:     client,
		metrics:    m,
		notif:      notif,
		detector:   det,
		engine:     eng,
		sched:      sched,
		sups:       sups,
		cmdm:       router.NewCommandManager(root.Component("commands"), ad, sups, cfg.Telegram.OwnerUserIDs),
		updates:    make(chan kit.Update, 256),
		alertTo:    alertTarget(cfg),
		saveHour:   hour,
		saveMinute: minute,
	}
	a.metricsSrv = metrics.NewServer(mcfg, m, a.health, root.Component("metrics"))
	return a, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.mu.Lock()
	a.startedAt = time.Now()
	a.mu.Unlock()
	run := a.sup.Context()

	a.cfgm.SetLogger(a.log.Component("config"))
	a.cfgm.SetValidator(a.validate)

	if err := a.adapter.Start(run, a.updates); err != nil {
		return err
	}
	a.sups.Set("telegram.adapter", a.adapter.Supervisor())

	if a.notif.Enabled() {
		a.notif.Start(run)
		a.sups.Set("notifier", a.notif.Supervisor())
	}
	a.engine.Start(run)
	a.sups.Set("task.engine", a.engine.Supervisor())
	if err := a.sched.Start(run); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	if a.metricsSrv.Enabled() {
		a.metricsSrv.Start(run)
		a.sups.Set("metrics", a.metricsSrv.Supervisor())
	}

	a.cmdm.SetRegistry(run, buildCommands(commandDeps{
		Checker:    a.sched,
		Boosted:    a.detector,
		Schedule:   a.sched,
		ServerSave: a.serverSave,
		Status:     a.statusText,
	}))
	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})
	a.sup.Go0("alerts", a.alertLoop)

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) { a.reloadLoop(c, sub) })
	a.sup.GoRestart("config.watch", a.cfgm.Watch, rtsup.WithRestartBackoff(250*time.Millisecond, 5*time.Second))

	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		systemd.Watchdog(c, a.log.Component("systemd"), a.health)
	})
	if ok, err := systemd.Ready(); err != nil {
		a.log.Warn("systemd notify failed", logx.Err(err))
	} else if ok {
		_, _ = systemd.Status("polling telegram; next check " + a.nextRunString())
	}

	a.log.Info("app started", logx.String("next_check", a.nextRunString()))
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.Close()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = systemd.Stopping()

	a.sup.Cancel()

	// step runs fn with an upper bound so one component cannot stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < max {
				max = rem
			}
		}
		if max <= 0 {
			a.log.Warn("stop step skipped (deadline reached)", logx.String("name", name))
			return
		}
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
			go func() {
				err := <-done
				a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", time.Since(start)), logx.Err(err))
			}()
		}
	}

	// An in-flight check is allowed to finish; the scheduler waits for it.
	step("scheduler", 30*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("taskengine", 2*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("metrics", time.Second, func(c context.Context) error { a.metricsSrv.Stop(c); return nil })
	step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	return a.logs.Close()
}

// Close releases storage and log sinks of an app that was never started.
func (a *App) Close() error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	errs = append(errs, a.logs.Close())
	return errors.Join(errs...)
}

// CheckOnce runs a single detection pass outside the schedule. Stop waits for it.
func (a *App) CheckOnce(ctx context.Context, force bool) boosted.Result {
	return a.sched.Check(ctx, force)
}

// NextInfo describes the next server save and the next scheduled check as plain text.
func (a *App) NextInfo(now time.Time) string {
	h, m := a.serverSave()
	save := format.NextServerSave(now, a.sched.Location(), h, m)
	var b strings.Builder
	b.WriteString(format.PlainText(format.ServerSavePayload(now, save)))
	b.WriteString("\n\n")
	b.WriteString(format.PlainText(format.SchedulePayload(scheduleViewOf(a.sched))))
	return b.String()
}

func (a *App) serverSave() (hour, minute int) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.saveHour, a.saveMinute
}

func (a *App) nextRunString() string {
	next, ok := a.sched.NextRunTime()
	if !ok {
		return "not scheduled"
	}
	return next.Format(time.RFC3339)
}

// health reports a fatal supervisor error or a stopped chat transport.
func (a *App) health() error {
	if a.sup != nil {
		if err := a.sup.Err(); err != nil {
			return err
		}
	}
	if a.adapter.Supervisor() == nil {
		return errors.New("telegram adapter not running")
	}
	return nil
}

// validate gates hot reloads: a config that would fail any mapping is rejected.
func (a *App) validate(_ context.Context, cfg *config.Config) error {
	warnings, err := config.Validate(cfg)
	if err != nil {
		return err
	}
	for _, w := range warnings {
		a.log.Warn("config warning", logx.String("warning", w))
	}
	if _, err := mapTibiaConfig(cfg); err != nil {
		return err
	}
	scfg, err := mapScheduleConfig(cfg)
	if err != nil {
		return err
	}
	if _, err := mapTaskEngineConfig(cfg, scfg.Grace); err != nil {
		return err
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapMetricsConfig(cfg); err != nil {
		return err
	}
	_, _, err = serverSaveClock(cfg)
	return err
}
