package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var ErrMissingToken = errors.New("telegram.token is required (or set " + EnvTelegramToken + ")")

// Validate checks cfg for errors that must block startup or a hot reload.
// It returns warnings for degraded-but-usable settings (e.g. a missing chat).
func Validate(cfg *Config) (warnings []string, err error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return nil, ErrMissingToken
	}
	if _, err := ParseDuration("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		return nil, err
	}

	b := cfg.Boosted
	if b.CreatureChat.ChatID == 0 {
		warnings = append(warnings, "boosted.creature_chat is not set; creature posts will be skipped")
	}
	if b.BossChat.ChatID == 0 {
		warnings = append(warnings, "boosted.boss_chat is not set; boss posts will be skipped")
	}
	if b.Retries != nil && (*b.Retries < 0 || *b.Retries > 10) {
		return nil, fmt.Errorf("boosted.retries must be within [0,10], got %d", *b.Retries)
	}
	if b.RatePerSec < 0 {
		return nil, fmt.Errorf("boosted.rate_per_sec must be >= 0")
	}
	if _, err := ParseDuration("boosted.request_timeout", b.RequestTimeout); err != nil {
		return nil, err
	}

	s := cfg.Schedule
	if tz := strings.TrimSpace(s.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return nil, fmt.Errorf("schedule.timezone: invalid %q: %w", tz, err)
		}
	}
	for _, f := range []struct{ path, raw string }{
		{"schedule.primary", s.Primary},
		{"schedule.backup", s.Backup},
		{"schedule.server_save", s.ServerSave},
	} {
		if strings.TrimSpace(f.raw) == "" {
			continue
		}
		if _, _, err := ParseClock(f.path, f.raw); err != nil {
			return nil, err
		}
	}
	if _, err := ParseDuration("schedule.grace", s.Grace); err != nil {
		return nil, err
	}
	if _, err := ParseDuration("schedule.run_timeout", s.RunTimeout); err != nil {
		return nil, err
	}

	if te := cfg.TaskEngine; te != nil {
		if te.Workers < 0 || te.QueueSize < 0 || te.HistorySize < 0 || te.RetryMax < 0 {
			return nil, fmt.Errorf("task_engine: workers, queue_size, history_size and retry_max must be >= 0")
		}
		if _, err := ParseDuration("task_engine.default_timeout", te.DefaultTimeout); err != nil {
			return nil, err
		}
	}

	if n := cfg.Notifier; n != nil {
		if n.Workers < 0 || n.QueueSize < 0 || n.RatePerSec < 0 || n.RetryMax < 0 || n.DedupMaxEntries < 0 {
			return nil, fmt.Errorf("notifier: numeric fields must be >= 0")
		}
		for _, f := range []struct{ path, raw string }{
			{"notifier.retry_base", n.RetryBase},
			{"notifier.retry_max_delay", n.RetryMaxDelay},
			{"notifier.dedup_window", n.DedupWindow},
		} {
			if _, err := ParseDuration(f.path, f.raw); err != nil {
				return nil, err
			}
		}
	}

	if st := cfg.Storage; st != nil {
		switch strings.ToLower(strings.TrimSpace(st.Driver)) {
		case "", "none", "file", "sqlite":
		case "postgres", "postgresql":
			if strings.TrimSpace(st.DSN) == "" {
				return nil, fmt.Errorf("storage.dsn is required when storage.driver=%s", st.Driver)
			}
		default:
			return nil, fmt.Errorf("storage.driver: unknown %q (want file|sqlite|postgres)", st.Driver)
		}
		if _, err := ParseDuration("storage.busy_timeout", st.BusyTimeout); err != nil {
			return nil, err
		}
		if b.PersistState && strings.TrimSpace(st.Driver) == "" {
			warnings = append(warnings, "boosted.persist_state is set but storage.driver is empty; state stays in memory")
		}
	} else if b.PersistState {
		warnings = append(warnings, "boosted.persist_state is set but storage is not configured; state stays in memory")
	}

	m := cfg.Metrics
	if _, err := ParseDuration("metrics.read_timeout", m.ReadTimeout); err != nil {
		return nil, err
	}
	if _, err := ParseDuration("metrics.idle_timeout", m.IdleTimeout); err != nil {
		return nil, err
	}
	if p := strings.TrimSpace(m.Path); p != "" && !strings.HasPrefix(p, "/") {
		return nil, fmt.Errorf("metrics.path must start with '/'")
	}

	return warnings, nil
}

// ParseClock parses a "HH:MM" wall-clock time.
func ParseClock(path, raw string) (hour, minute int, err error) {
	s := strings.TrimSpace(raw)
	hs, ms, ok := strings.Cut(s, ":")
	if !ok {
		return 0, 0, fmt.Errorf("%s: invalid time %q (want HH:MM)", path, raw)
	}
	hour, err = strconv.Atoi(hs)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("%s: invalid hour in %q", path, raw)
	}
	minute, err = strconv.Atoi(ms)
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("%s: invalid minute in %q", path, raw)
	}
	return hour, minute, nil
}
