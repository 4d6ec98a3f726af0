package app

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"tibiabot/internal/eventbus"
)

// statusText renders /status.
func (a *App) statusText() string {
	var b strings.Builder
	b.WriteString("🤖 <b>Status</b>\n")

	a.mu.RLock()
	started := a.startedAt
	a.mu.RUnlock()
	if !started.IsZero() {
		fmt.Fprintf(&b, "Up since %s (%s)\n", started.Format("2006-01-02 15:04 MST"), humanize.Time(started))
	}

	st := a.detector.State()
	fmt.Fprintf(&b, "\n<b>Last posted</b>\nCreature: %s\nBoss: %s\n", orNone(st.Creature), orNone(st.Boss))

	if res, ok := a.detector.LastResult(); ok {
		outcome := "ok"
		if !res.OK() {
			outcome = fmt.Sprintf("%d error(s)", len(res.Errors))
		}
		fmt.Fprintf(&b, "\n<b>Last run</b>\n%s, %s, %s (took %s)\n",
			html.EscapeString(string(res.Trigger)), outcome, humanize.Time(res.Finished), res.Duration().Round(time.Millisecond))
		for _, e := range res.Errors {
			b.WriteString("• " + html.EscapeString(e) + "\n")
		}
	}

	ss := a.sched.Status()
	b.WriteString("\n<b>Scheduler</b>\n")
	if ss.Running {
		fmt.Fprintf(&b, "running, %s\n", html.EscapeString(ss.Timezone))
		for _, j := range ss.Jobs {
			fmt.Fprintf(&b, "%s: next %s (%s)\n", j.Name, j.Next.Format("15:04 MST"), humanize.Time(j.Next))
		}
	} else {
		b.WriteString("not running\n")
	}

	es := a.engine.Snapshot()
	fmt.Fprintf(&b, "\n<b>Engine</b>\nqueue %d/%d, in flight %d, dropped %s\n",
		es.QueueLen, es.QueueCap, es.InFlight, humanize.Comma(int64(es.Dropped)))

	fmt.Fprintf(&b, "\n<b>Notifier</b>\nalerts %s, sent %s\n",
		enabledWord(a.notif.Enabled()), humanize.Comma(int64(len(a.notif.History()))))

	b.WriteString("\n<b>Runtime</b>\n")
	for _, h := range a.sups.Health() {
		fmt.Fprintf(&b, "%s: %d running", html.EscapeString(h.Name), h.Active)
		if h.Restarts > 0 || h.Panics > 0 {
			fmt.Fprintf(&b, ", %d restarts, %d panics", h.Restarts, h.Panics)
		}
		if h.Err != "" {
			b.WriteString(" ⚠️ " + html.EscapeString(h.Err))
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "bus drops %s, log drops %s\n",
		humanize.Comma(int64(eventbus.Dropped(a.bus))),
		humanize.Comma(int64(a.logs.TelegramDropped())))
	return b.String()
}

func orNone(s string) string {
	if s == "" {
		return "<i>none yet</i>"
	}
	return html.EscapeString(s)
}

func enabledWord(on bool) string {
	if on {
		return "enabled"
	}
	return "disabled"
}
