package config

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`

	// Boosted configures where boosted creature/boss posts go and how
	// the game data API is reached.
	Boosted BoostedConfig `json:"boosted"`

	// Schedule controls the daily primary/backup checks.
	Schedule ScheduleConfig `json:"schedule"`

	// TaskEngine controls execution settings for scheduled checks.
	TaskEngine *TaskEngineConfig `json:"task_engine,omitempty"`

	Notifier *NotifierConfig `json:"notifier,omitempty"`
	Storage  *StorageConfig  `json:"storage,omitempty"`
	Metrics  MetricsConfig   `json:"metrics,omitempty"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// LogChatID receives warn/error log records when logging.telegram.enabled is set.
	LogChatID int64 `json:"log_chat_id,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// ChatConfig addresses a Telegram chat and optional forum topic.
// A zero chat_id means "not configured".
type ChatConfig struct {
	ChatID   int64 `json:"chat_id"`
	ThreadID int   `json:"thread_id,omitempty"`
}

// BoostedConfig controls the boosted creature/boss notifier.
//
// Defaults (when fields are omitted/zero):
//   - api_base_url: "https://api.tibiadata.com/v4"
//   - wiki_base_url: "https://tibia.fandom.com"
//   - retries: 3 (4 attempts in total)
//   - request_timeout: "30s"
//   - rate_per_sec: 2
//
// creature_chat / boss_chat may be left empty; that side is then skipped
// with a warning instead of failing startup.
type BoostedConfig struct {
	CreatureChat ChatConfig `json:"creature_chat"`
	BossChat     ChatConfig `json:"boss_chat"`

	APIBaseURL  string `json:"api_base_url,omitempty"`
	WikiBaseURL string `json:"wiki_base_url,omitempty"`
	UserAgent   string `json:"user_agent,omitempty"`

	// Retries is a pointer so an explicit 0 (single attempt) survives defaults.
	Retries        *int    `json:"retries,omitempty"`
	RequestTimeout string  `json:"request_timeout,omitempty"`
	RatePerSec     float64 `json:"rate_per_sec,omitempty"`

	// PersistState keeps the last posted names in storage across restarts.
	// Off by default: state normally lives for the process lifetime only.
	PersistState bool `json:"persist_state,omitempty"`
}

// ScheduleConfig controls the daily checks.
//
// Times are "HH:MM" in Timezone.
//
// Defaults:
//   - enabled: true
//   - timezone: "Europe/Berlin"
//   - primary: "10:06"
//   - backup: "10:36"
//   - server_save: "10:00"
//   - grace: "5m"
type ScheduleConfig struct {
	Enabled    *bool  `json:"enabled,omitempty"`
	Timezone   string `json:"timezone,omitempty"`
	Primary    string `json:"primary,omitempty"`
	Backup     string `json:"backup,omitempty"`
	ServerSave string `json:"server_save,omitempty"`
	Grace      string `json:"grace,omitempty"`
	// RunTimeout bounds a single detection run. "0s" disables it.
	RunTimeout string `json:"run_timeout,omitempty"`
}

// TaskEngineConfig controls the task execution engine.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - workers: 1
//   - queue_size: 16
//   - default_timeout: "0s" (disabled)
//   - history_size: 50
//   - retry_max: 0
type TaskEngineConfig struct {
	Workers   int `json:"workers,omitempty"`
	QueueSize int `json:"queue_size,omitempty"`

	// DefaultTimeout is a Go duration string (e.g. "10s", "1m").
	// Use "0s" to disable a global default timeout.
	DefaultTimeout string `json:"default_timeout,omitempty"`

	HistorySize int `json:"history_size,omitempty"`
	RetryMax    int `json:"retry_max,omitempty"`
}

// NotifierConfig controls channel publishing and operator alerts.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// If the whole section is omitted, the notifier defaults to enabled=true.
type NotifierConfig struct {
	Enabled         bool   `json:"enabled"`
	Workers         int    `json:"workers"`
	QueueSize       int    `json:"queue_size"`
	RatePerSec      int    `json:"rate_per_sec"`
	RetryMax        int    `json:"retry_max"`
	RetryBase       string `json:"retry_base"`
	RetryMaxDelay   string `json:"retry_max_delay"`
	DedupWindow     string `json:"dedup_window"`
	DedupMaxEntries int    `json:"dedup_max_entries"`
	PersistDedup    bool   `json:"persist_dedup,omitempty"`

	// AlertChat receives a short notice when a scheduled check reports errors.
	AlertChat ChatConfig `json:"alert_chat,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./tibiabot_store" }
//	"storage": { "driver": "postgres", "dsn": "postgres://bot@localhost/tibiabot" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"`          // postgres only
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite busy wait, postgres connect)
}

// MetricsConfig controls the optional Prometheus HTTP endpoint.
//
// Prefer binding to localhost (e.g. "127.0.0.1:9464").
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:9464"
	Path    string `json:"path,omitempty"` // default: "/metrics"

	ReadTimeout string `json:"read_timeout,omitempty"`
	IdleTimeout string `json:"idle_timeout,omitempty"`
}
