package config

import (
	"reflect"
	"strings"

	logx "tibiabot/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections and safe
// structured attrs for logging. Secrets (the bot token) are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 24)

	// Telegram (never log token)
	if strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) ||
		!reflect.DeepEqual(oldCfg.Telegram.OwnerUserIDs, newCfg.Telegram.OwnerUserIDs) ||
		oldCfg.Telegram.LogChatID != newCfg.Telegram.LogChatID ||
		(oldCfg.Telegram.Token != newCfg.Telegram.Token) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.String("telegram.poll_timeout", strings.TrimSpace(newCfg.Telegram.PollTimeout)),
			logx.Int("telegram.owner_count", len(newCfg.Telegram.OwnerUserIDs)),
			logx.Bool("telegram.log_chat_set", newCfg.Telegram.LogChatID != 0),
			logx.Bool("telegram.token_changed", oldCfg.Telegram.Token != newCfg.Telegram.Token),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logx.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Boosted, newCfg.Boosted) {
		changed = append(changed, "boosted")
		nb := newCfg.Boosted
		attrs = append(attrs,
			logx.Int64("boosted.creature_chat", nb.CreatureChat.ChatID),
			logx.Int64("boosted.boss_chat", nb.BossChat.ChatID),
			logx.String("boosted.api_base_url", strings.TrimSpace(nb.APIBaseURL)),
			logx.String("boosted.request_timeout", strings.TrimSpace(nb.RequestTimeout)),
			logx.Bool("boosted.persist_state", nb.PersistState),
		)
		if nb.Retries != nil {
			attrs = append(attrs, logx.Int("boosted.retries", *nb.Retries))
		}
	}

	if !reflect.DeepEqual(oldCfg.Schedule, newCfg.Schedule) {
		changed = append(changed, "schedule")
		ns := newCfg.Schedule
		attrs = append(attrs,
			logx.Bool("schedule.enabled", ns.Enabled == nil || *ns.Enabled),
			logx.String("schedule.timezone", strings.TrimSpace(ns.Timezone)),
			logx.String("schedule.primary", strings.TrimSpace(ns.Primary)),
			logx.String("schedule.backup", strings.TrimSpace(ns.Backup)),
			logx.String("schedule.grace", strings.TrimSpace(ns.Grace)),
		)
	}

	oTE := derefTaskEngine(oldCfg.TaskEngine)
	nTE := derefTaskEngine(newCfg.TaskEngine)
	if (oldCfg.TaskEngine != nil) != (newCfg.TaskEngine != nil) || oTE != nTE {
		changed = append(changed, "task_engine")
		attrs = append(attrs,
			logx.Int("task_engine.workers", nTE.Workers),
			logx.Int("task_engine.queue_size", nTE.QueueSize),
			logx.String("task_engine.default_timeout", strings.TrimSpace(nTE.DefaultTimeout)),
			logx.Int("task_engine.history_size", nTE.HistorySize),
			logx.Int("task_engine.retry_max", nTE.RetryMax),
		)
	}

	// Notifier: nil means runtime defaults.
	oldN, newN := oldCfg.Notifier, newCfg.Notifier
	if oldN == nil {
		oldN = &NotifierConfig{Enabled: true}
	}
	if newN == nil {
		newN = &NotifierConfig{Enabled: true}
	}
	if !reflect.DeepEqual(oldN, newN) {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Bool("notifier.enabled", newN.Enabled),
			logx.Int("notifier.workers", newN.Workers),
			logx.Int("notifier.rate_per_sec", newN.RatePerSec),
			logx.Int("notifier.retry_max", newN.RetryMax),
			logx.Bool("notifier.alert_chat_set", newN.AlertChat.ChatID != 0),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		if newCfg.Storage != nil {
			attrs = append(attrs, logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)))
		}
	}

	if oldCfg.Metrics != newCfg.Metrics {
		changed = append(changed, "metrics")
		attrs = append(attrs,
			logx.Bool("metrics.enabled", newCfg.Metrics.Enabled),
			logx.String("metrics.addr", strings.TrimSpace(newCfg.Metrics.Addr)),
		)
	}

	return changed, attrs
}

func derefTaskEngine(c *TaskEngineConfig) TaskEngineConfig {
	if c == nil {
		return TaskEngineConfig{}
	}
	return *c
}
