package app

import (
	"context"
	"fmt"
	"strings"

	"tibiabot/internal/boosted"
	"tibiabot/internal/eventbus"
	kit "tibiabot/internal/transport"
	logx "tibiabot/pkg/logx"
)

type alertNotifier interface {
	Notify(ctx context.Context, n kit.Notification) error
}

type alertRecorder interface {
	ObserveAlert(err error)
}

// alertText renders the operator notice for a failed scheduled run.
func alertText(res boosted.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Boosted check (%s) finished with %d error(s)", res.Trigger, len(res.Errors))
	for _, e := range res.Errors {
		b.WriteString("\n• ")
		b.WriteString(e)
	}
	return b.String()
}

// handleRunEvent queues an alert for a scheduled run that reported errors.
// Manual runs already answer the operator in chat.
func handleRunEvent(ctx context.Context, e eventbus.Event, to kit.ChatTarget, n alertNotifier, rec alertRecorder, log logx.Logger) {
	if e.Type != eventbus.TypeBoostedRun || to.IsZero() {
		return
	}
	res, ok := e.Data.(boosted.Result)
	if !ok || res.OK() || res.Trigger == boosted.TriggerManual {
		return
	}
	err := n.Notify(ctx, kit.Notification{
		Channel:  "telegram",
		Priority: 8,
		Target:   to,
		Text:     alertText(res),
	})
	if rec != nil {
		rec.ObserveAlert(err)
	}
	if err != nil {
		log.Warn("alert not queued", logx.String("run_id", res.RunID), logx.Err(err))
	}
}

func (a *App) alertLoop(ctx context.Context) {
	events, unsub := a.bus.Subscribe(32, eventbus.TypeBoostedRun)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			a.mu.RLock()
			to := a.alertTo
			a.mu.RUnlock()
			handleRunEvent(ctx, e, to, a.notif, a.metrics, a.log)
		}
	}
}
