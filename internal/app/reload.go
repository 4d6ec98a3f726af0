package app

import (
	"context"
	"slices"
	"strings"
	"time"

	"tibiabot/internal/config"
	logx "tibiabot/pkg/logx"
)

// sectionsNeedingRestart are read once at start-up.
var sectionsNeedingRestart = []string{"storage"}

func (a *App) reloadLoop(c context.Context, sub chan *config.Config) {
	defer a.cfgm.Unsubscribe(sub)
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-c.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			if newCfg == nil {
				continue
			}
			a.applyConfig(c, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) applyConfig(c context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	for _, s := range sections {
		if slices.Contains(sectionsNeedingRestart, s) {
			a.log.Warn("config section changed; restart required for it to take effect", logx.String("section", s))
		}
	}
	if oldCfg != nil {
		if oldCfg.Telegram.Token != newCfg.Telegram.Token || oldCfg.Telegram.PollTimeout != newCfg.Telegram.PollTimeout {
			a.log.Warn("telegram token or poll timeout changed; restart required")
		}
		prev, _ := mapTibiaConfig(oldCfg)
		next, _ := mapTibiaConfig(newCfg)
		if prev != next {
			a.log.Warn("boosted API settings changed; restart required")
		}
		if oldCfg.Boosted.PersistState != newCfg.Boosted.PersistState {
			a.log.Warn("boosted.persist_state changed; restart required")
		}
	}

	// Target first so Apply does not warn when the Telegram sink is enabled.
	a.logs.SetTelegramTarget(newCfg.Telegram.LogChatID, newCfg.Logging.Telegram.ThreadID)
	a.logs.Apply(mapLogConfig(newCfg))

	a.cmdm.SetOwners(newCfg.Telegram.OwnerUserIDs)
	a.detector.SetTargets(mapTargets(newCfg))

	a.mu.Lock()
	a.alertTo = alertTarget(newCfg)
	if h, m, err := serverSaveClock(newCfg); err == nil {
		a.saveHour, a.saveMinute = h, m
	}
	a.mu.Unlock()

	scfg, err := mapScheduleConfig(newCfg)
	if err != nil {
		a.log.Warn("invalid schedule config; keeping previous", logx.Err(err))
	} else {
		if ecfg, err := mapTaskEngineConfig(newCfg, scfg.Grace); err != nil {
			a.log.Warn("invalid task_engine config; keeping previous", logx.Err(err))
		} else {
			a.engine.Apply(c, ecfg)
		}
		if err := a.sched.Apply(scfg); err != nil {
			a.log.Warn("schedule apply failed", logx.Err(err))
		} else if scfg.Enabled && !a.sched.IsRunning() {
			a.log.Info("scheduler enabled via config")
			if err := a.sched.Start(c); err != nil {
				a.log.Warn("scheduler start failed", logx.Err(err))
			}
		}
	}

	if ncfg, err := mapNotifierConfig(newCfg); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		prevEnabled := a.notif.Enabled()
		a.notif.Apply(ncfg)
		switch {
		case prevEnabled && !ncfg.Enabled:
			a.log.Info("notifier alerts disabled via config")
			stopCtx, cancel := context.WithTimeout(c, 3*time.Second)
			a.notif.Stop(stopCtx)
			cancel()
			a.sups.Delete("notifier")
		case !prevEnabled && ncfg.Enabled:
			a.log.Info("notifier alerts enabled via config")
			a.notif.Start(c)
			a.sups.Set("notifier", a.notif.Supervisor())
		}
	}

	if mcfg, err := mapMetricsConfig(newCfg); err != nil {
		a.log.Warn("invalid metrics config; keeping previous", logx.Err(err))
	} else {
		a.metricsSrv.Reconfigure(c, mcfg)
		a.sups.Set("metrics", a.metricsSrv.Supervisor())
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}
