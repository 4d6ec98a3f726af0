package app

import (
	"fmt"
	"strings"
	"time"

	"tibiabot/internal/boosted"
	"tibiabot/internal/config"
	"tibiabot/internal/metrics"
	"tibiabot/internal/notifier"
	"tibiabot/internal/storage"
	"tibiabot/internal/task/engine"
	"tibiabot/internal/task/scheduler"
	"tibiabot/internal/tibia"
	kit "tibiabot/internal/transport"
	logx "tibiabot/pkg/logx"
)

const defaultServerSave = "10:00"

func chatTarget(c config.ChatConfig) kit.ChatTarget {
	return kit.ChatTarget{ChatID: c.ChatID, ThreadID: c.ThreadID}
}

func mapTargets(cfg *config.Config) boosted.Targets {
	return boosted.Targets{
		Creature: chatTarget(cfg.Boosted.CreatureChat),
		Boss:     chatTarget(cfg.Boosted.BossChat),
	}
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapTibiaConfig(cfg *config.Config) (tibia.Config, error) {
	b := cfg.Boosted
	timeout, err := config.DurationOr("boosted.request_timeout", b.RequestTimeout, tibia.DefaultTimeout)
	if err != nil {
		return tibia.Config{}, err
	}
	retries := tibia.DefaultRetries
	if b.Retries != nil {
		retries = *b.Retries
	}
	return tibia.Config{
		BaseURL:     strings.TrimSpace(b.APIBaseURL),
		WikiBaseURL: strings.TrimSpace(b.WikiBaseURL),
		UserAgent:   strings.TrimSpace(b.UserAgent),
		Retries:     retries,
		Timeout:     timeout,
		RatePerSec:  b.RatePerSec,
	}, nil
}

func mapScheduleConfig(cfg *config.Config) (scheduler.Config, error) {
	s := cfg.Schedule
	grace, err := config.DurationOr("schedule.grace", s.Grace, scheduler.DefaultGrace)
	if err != nil {
		return scheduler.Config{}, err
	}
	runTimeout, err := config.DurationOr("schedule.run_timeout", s.RunTimeout, 5*time.Minute)
	if err != nil {
		return scheduler.Config{}, err
	}
	enabled := true
	if s.Enabled != nil {
		enabled = *s.Enabled
	}
	return scheduler.Config{
		Enabled:    enabled,
		Timezone:   strings.TrimSpace(s.Timezone),
		Primary:    strings.TrimSpace(s.Primary),
		Backup:     strings.TrimSpace(s.Backup),
		Grace:      grace,
		RunTimeout: runTimeout,
	}, nil
}

// serverSaveClock returns the configured daily server save time.
func serverSaveClock(cfg *config.Config) (hour, minute int, err error) {
	raw := strings.TrimSpace(cfg.Schedule.ServerSave)
	if raw == "" {
		raw = defaultServerSave
	}
	return config.ParseClock("schedule.server_save", raw)
}

// mapTaskEngineConfig derives the engine config. A queued check older than
// the schedule grace window is dropped instead of running late.
func mapTaskEngineConfig(cfg *config.Config, grace time.Duration) (engine.Config, error) {
	out := engine.Config{
		Enabled:       true,
		Workers:       1,
		QueueSize:     16,
		HistorySize:   50,
		MaxQueueDelay: grace,
	}
	te := cfg.TaskEngine
	if te == nil {
		return out, nil
	}
	if te.Workers > 0 {
		out.Workers = te.Workers
	}
	if te.QueueSize > 0 {
		out.QueueSize = te.QueueSize
	}
	if te.HistorySize > 0 {
		out.HistorySize = te.HistorySize
	}
	out.RetryMax = max(te.RetryMax, 0)
	d, err := config.ParseDuration("task_engine.default_timeout", te.DefaultTimeout)
	if err != nil {
		return engine.Config{}, err
	}
	out.DefaultTimeout = d
	return out, nil
}

// mapNotifierConfig applies notifier defaults. An omitted section means enabled.
func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	n := cfg.Notifier
	if n == nil {
		return notifier.Config{Enabled: true, RetryMax: 2, DedupWindow: 30 * time.Minute}, nil
	}
	retryBase, err := config.ParseDuration("notifier.retry_base", n.RetryBase)
	if err != nil {
		return notifier.Config{}, err
	}
	retryMaxDelay, err := config.ParseDuration("notifier.retry_max_delay", n.RetryMaxDelay)
	if err != nil {
		return notifier.Config{}, err
	}
	dedup, err := config.DurationOr("notifier.dedup_window", n.DedupWindow, 30*time.Minute)
	if err != nil {
		return notifier.Config{}, err
	}
	if n.Workers < 0 || n.QueueSize < 0 || n.RatePerSec < 0 || n.RetryMax < 0 || n.DedupMaxEntries < 0 {
		return notifier.Config{}, fmt.Errorf("notifier: numeric fields must be >= 0")
	}
	return notifier.Config{
		Enabled:         n.Enabled,
		Workers:         n.Workers,
		QueueSize:       n.QueueSize,
		RatePerSec:      n.RatePerSec,
		RetryMax:        n.RetryMax,
		RetryBase:       retryBase,
		RetryMaxDelay:   retryMaxDelay,
		DedupWindow:     dedup,
		DedupMaxEntries: n.DedupMaxEntries,
		PersistDedup:    n.PersistDedup,
	}, nil
}

func alertTarget(cfg *config.Config) kit.ChatTarget {
	if cfg.Notifier == nil {
		return kit.ChatTarget{}
	}
	return chatTarget(cfg.Notifier.AlertChat)
}

// mapStorageConfig reports enabled=false when no driver is configured.
func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "", "none":
		return storage.Config{}, false, nil
	case "file":
		if path == "" {
			path = "./tibiabot_store"
		}
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.DurationOr("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, true, nil
	case "postgres", "postgresql":
		dsn := strings.TrimSpace(sc.DSN)
		if dsn == "" {
			return storage.Config{}, false, fmt.Errorf("storage.dsn is required when storage.driver=postgres")
		}
		connect, err := config.DurationOr("storage.busy_timeout", sc.BusyTimeout, 10*time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: "postgres", DSN: dsn, BusyTimeout: connect}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapMetricsConfig(cfg *config.Config) (metrics.ServerConfig, error) {
	m := cfg.Metrics
	read, err := config.DurationOr("metrics.read_timeout", m.ReadTimeout, 10*time.Second)
	if err != nil {
		return metrics.ServerConfig{}, err
	}
	idle, err := config.DurationOr("metrics.idle_timeout", m.IdleTimeout, time.Minute)
	if err != nil {
		return metrics.ServerConfig{}, err
	}
	return metrics.ServerConfig{
		Enabled:     m.Enabled,
		Addr:        strings.TrimSpace(m.Addr),
		Path:        strings.TrimSpace(m.Path),
		ReadTimeout: read,
		IdleTimeout: idle,
	}, nil
}
