package format

import (
	"fmt"
	"strings"
	"time"
)

// DailyResets lists what the game resets at server save.
var DailyResets = []string{
	"Boosted Creature",
	"Boosted Boss",
	"Daily Rewards",
	"Rashid Location",
	"Boss Cooldowns",
}

// NextServerSave returns the next occurrence of hour:minute in loc, strictly after now
// unless now is before today's save.
func NextServerSave(now time.Time, loc *time.Location, hour, minute int) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	n := now.In(loc)
	save := time.Date(n.Year(), n.Month(), n.Day(), hour, minute, 0, 0, loc)
	if !n.Before(save) {
		save = time.Date(n.Year(), n.Month(), n.Day()+1, hour, minute, 0, 0, loc)
	}
	return save
}

// Until renders d as "Xh Ym" (minutes truncated, never negative).
func Until(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	h := int(d / time.Hour)
	m := int((d % time.Hour) / time.Minute)
	return fmt.Sprintf("%dh %dm", h, m)
}

// ServerSavePayload answers "when is the next server save".
func ServerSavePayload(now, save time.Time) Payload {
	p := Payload{Title: "⏰ Next Server Save", Color: ColorInfo, Footer: FooterBot}
	p.add("🕙 Next Save Time", save.Format("15:04 MST"), true)
	p.add("⏳ Time Until", Until(save.Sub(now)), true)
	p.add("📅 Date", save.Format("2006-01-02"), true)
	p.add("📝 What Resets at Server Save", "• "+strings.Join(DailyResets, "\n• "), false)
	return p
}

// ScheduleView is what the schedule payload shows.
type ScheduleView struct {
	Primary  string // "10:06"
	Backup   string // "10:36"
	Timezone string // "CEST (UTC+02:00)"
	Running  bool
	NextRun  time.Time // zero when unknown
}

func SchedulePayload(v ScheduleView) Payload {
	p := Payload{
		Title:       "📅 Bot Schedule",
		Description: "When the bot automatically checks and posts updates",
		Color:       ColorSchedule,
		Footer:      FooterBot,
	}
	p.add("🕰️ Primary Check", fmt.Sprintf("**%s %s** daily\n(shortly after server save)", v.Primary, tzAbbrev(v.Timezone)), true)
	p.add("🔄 Backup Check", fmt.Sprintf("**%s %s** daily\n(In case primary fails)", v.Backup, tzAbbrev(v.Timezone)), true)
	p.add("🎯 Smart Detection", "Only posts when creatures/bosses change\n(No spam!)", false)
	switch {
	case !v.Running:
		p.add("⏸️ Scheduler", "Not running", false)
	case !v.NextRun.IsZero():
		p.add("⏰ Next Check", v.NextRun.Format("2006-01-02 15:04 MST"), false)
	}
	if v.Timezone != "" {
		p.add("🌍 Timezone", v.Timezone, false)
	}
	return p
}

// UpdateSummary is the reply to a forced update.
func UpdateSummary(creaturePosted, bossPosted bool, errs []string) string {
	lines := make([]string, 0, 2+len(errs))
	if creaturePosted {
		lines = append(lines, "✅ Boosted creature updated")
	} else {
		lines = append(lines, "⚠️ No creature update needed")
	}
	if bossPosted {
		lines = append(lines, "✅ Boosted boss updated")
	} else {
		lines = append(lines, "⚠️ No boss update needed")
	}
	for _, e := range errs {
		lines = append(lines, "❌ "+e)
	}
	return strings.Join(lines, "\n")
}

func ErrorPayload(title, description string) Payload {
	return Payload{Title: "❌ " + title, Description: description, Color: ColorError, Footer: FooterBot}
}

// tzAbbrev keeps the leading abbreviation of "CEST (UTC+02:00)".
func tzAbbrev(tz string) string {
	if i := strings.IndexByte(tz, ' '); i > 0 {
		return tz[:i]
	}
	return tz
}
