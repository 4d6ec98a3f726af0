package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"
)

type clock struct{ hour, minute int }

func parseHHMM(s string) (clock, error) {
	s = strings.TrimSpace(s)
	hh, mm, ok := strings.Cut(s, ":")
	if !ok {
		return clock{}, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return clock{}, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return clock{}, fmt.Errorf("invalid minute in %q", s)
	}
	return clock{hour: h, minute: m}, nil
}

// spec returns the daily cron expression for c.
func (c clock) spec() string { return fmt.Sprintf("%d %d * * *", c.minute, c.hour) }

func (c clock) String() string { return fmt.Sprintf("%02d:%02d", c.hour, c.minute) }

// on returns c on the calendar day of t, in t's location.
func (c clock) on(t time.Time) time.Time {
	y, mo, d := t.Date()
	return time.Date(y, mo, d, c.hour, c.minute, 0, 0, t.Location())
}

// before reports whether t's time of day is earlier than c.
func (c clock) before(t time.Time) bool {
	return t.Hour() < c.hour || (t.Hour() == c.hour && t.Minute() < c.minute)
}

// formatZone renders loc at t as "CEST (UTC+02:00)".
func formatZone(t time.Time) string {
	return fmt.Sprintf("%s (UTC%s)", t.Format("MST"), t.Format("-07:00"))
}

func loadLocation(tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local, nil
	}
	return time.LoadLocation(tz)
}
