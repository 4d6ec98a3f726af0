package scheduler

import (
	"context"
	"time"

	"tibiabot/internal/boosted"
)

const (
	DefaultTimezone = "Europe/Berlin"
	DefaultPrimary  = "10:06"
	DefaultBackup   = "10:36"
	DefaultGrace    = 5 * time.Minute
)

// Config controls the daily triggers. Primary and Backup are "HH:MM" in Timezone.
type Config struct {
	Enabled  bool
	Timezone string
	Primary  string
	Backup   string

	// Grace is how late a scheduled run may start. Used for the start-up
	// catch-up; the app maps it onto engine MaxQueueDelay as well.
	Grace time.Duration

	// RunTimeout bounds one detection run. 0 disables it.
	RunTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Timezone == "" {
		c.Timezone = DefaultTimezone
	}
	if c.Primary == "" {
		c.Primary = DefaultPrimary
	}
	if c.Backup == "" {
		c.Backup = DefaultBackup
	}
	if c.Grace <= 0 {
		c.Grace = DefaultGrace
	}
	return c
}

// Runner executes one detection pass. *boosted.Detector implements it.
type Runner interface {
	RunWith(ctx context.Context, trigger boosted.Trigger, force bool) boosted.Result
}

type ScheduleInfo struct {
	Name string
	Spec string
	Next time.Time
	Prev time.Time
}

type Status struct {
	Running  bool
	Jobs     []ScheduleInfo
	NextRun  time.Time // earliest Next across Jobs
	Timezone string    // e.g. "CEST (UTC+02:00)"
}
