package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	kit "tibiabot/internal/transport"
)

const (
	alertMaxLen   = 3500
	alertValueLen = 400
	alertStackLen = 900
	alertSendWait = 10 * time.Second
)

// Keys shown first, in this order, when present on a record.
var alertLeadKeys = []string{"comp", "trigger", "kind", "name", "run_id", "task", "chat_id"}

var alertSkipKeys = map[string]bool{
	zerolog.TimestampFieldName: true,
	zerolog.LevelFieldName:     true,
	zerolog.MessageFieldName:   true,
	zerolog.CallerFieldName:    true,
}

type alert struct {
	to   kit.ChatTarget
	text string
}

// alertSink is a zerolog.LevelWriter that forwards records to the log chat.
// Writes never block: the queue drops when full and the limiter sheds bursts.
type alertSink struct {
	sender  kit.Sender
	queue   chan alert
	dropped atomic.Uint64

	mu       sync.Mutex
	chatID   int64
	threadID int
	minLevel zerolog.Level
	limiter  *rate.Limiter

	startOnce sync.Once
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func newAlertSink(sender kit.Sender) *alertSink {
	return &alertSink{
		sender:   sender,
		queue:    make(chan alert, 256),
		minLevel: zerolog.WarnLevel,
		limiter:  rate.NewLimiter(1, 1),
	}
}

func (a *alertSink) configure(cfg TelegramConfig) {
	rps := max(1, cfg.RatePerSec)
	a.mu.Lock()
	a.minLevel = parseLevel(cfg.MinLevel, zerolog.WarnLevel)
	a.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	if cfg.ThreadID != 0 {
		a.threadID = cfg.ThreadID
	}
	a.mu.Unlock()
	if cfg.Enabled && a.sender != nil {
		a.startOnce.Do(a.start)
	}
}

func (a *alertSink) setTarget(chatID int64, threadID int) {
	a.mu.Lock()
	a.chatID = chatID
	if threadID != 0 {
		a.threadID = threadID
	}
	a.mu.Unlock()
}

func (a *alertSink) start() {
	ctx, cancel := context.WithCancel(context.Background())
	a.mu.Lock()
	a.cancel = cancel
	a.mu.Unlock()
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case it := <-a.queue:
				sctx, done := context.WithTimeout(ctx, alertSendWait)
				_, _ = a.sender.SendText(sctx, it.to, it.text, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
				done()
			}
		}
	}()
}

func (a *alertSink) stop() {
	a.mu.Lock()
	cancel := a.cancel
	a.cancel = nil
	a.mu.Unlock()
	if cancel != nil {
		cancel()
		a.wg.Wait()
	}
}

func (a *alertSink) Write(p []byte) (int, error) { return a.WriteLevel(zerolog.NoLevel, p) }

func (a *alertSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	a.mu.Lock()
	to := kit.ChatTarget{ChatID: a.chatID, ThreadID: a.threadID}
	minLevel, lim := a.minLevel, a.limiter
	a.mu.Unlock()

	if to.ChatID == 0 || a.sender == nil || level < minLevel || level == zerolog.NoLevel || !lim.Allow() {
		return len(p), nil
	}
	select {
	case a.queue <- alert{to: to, text: formatAlert(p)}:
	default:
		a.dropped.Add(1)
	}
	return len(p), nil
}

// formatAlert renders one JSON record as HTML: a level badge with the
// message, the run keys, the remaining keys sorted, and the stack last.
func formatAlert(p []byte) string {
	var rec map[string]any
	if err := json.Unmarshal(p, &rec); err != nil {
		return html.EscapeString(clip(strings.TrimSpace(string(p)), alertMaxLen))
	}

	var b strings.Builder
	lvl, _ := rec[zerolog.LevelFieldName].(string)
	msg, _ := rec[zerolog.MessageFieldName].(string)
	b.WriteString(levelBadge(lvl))
	b.WriteString(" <b>")
	b.WriteString(html.EscapeString(msg))
	b.WriteString("</b>")

	seen := map[string]bool{"stack": true}
	line := func(k string) {
		v, ok := rec[k]
		if !ok || seen[k] {
			return
		}
		seen[k] = true
		fmt.Fprintf(&b, "\n<code>%s</code> %s", k, html.EscapeString(clip(fmt.Sprint(v), alertValueLen)))
	}
	for _, k := range alertLeadKeys {
		line(k)
	}
	rest := make([]string, 0, len(rec))
	for k := range rec {
		if !seen[k] && !alertSkipKeys[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	for _, k := range rest {
		line(k)
	}
	if st, ok := rec["stack"].(string); ok && st != "" {
		b.WriteString("\n<pre>")
		b.WriteString(html.EscapeString(clip(st, alertStackLen)))
		b.WriteString("</pre>")
	}
	return clipHTML(b.String())
}

func levelBadge(lvl string) string {
	switch lvl {
	case "warn":
		return "⚠️"
	case "error", "fatal", "panic":
		return "❌"
	}
	return "ℹ️"
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// clipHTML cuts at a line break so no tag is left open.
func clipHTML(s string) string {
	if len(s) <= alertMaxLen {
		return s
	}
	s = s[:alertMaxLen]
	if i := strings.Index(s, "\n<pre>"); i > 0 && !strings.Contains(s[i:], "</pre>") {
		s = s[:i]
	} else if i := strings.LastIndexByte(s, '\n'); i > 0 {
		s = s[:i]
	}
	return s + "\n…"
}
