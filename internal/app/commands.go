package app

import (
	"context"
	"fmt"
	"html"
	"time"

	"tibiabot/internal/boosted"
	"tibiabot/internal/format"
	"tibiabot/internal/task/scheduler"
	"tibiabot/internal/tibia"
	"tibiabot/internal/transport/telegram/router"
	logx "tibiabot/pkg/logx"
)

type forceChecker interface {
	ForceCheck(ctx context.Context) boosted.Result
}

type boostedView interface {
	Current(ctx context.Context, k tibia.Kind) (format.Payload, error)
}

type scheduleView interface {
	Status() scheduler.Status
	Config() scheduler.Config
	Location() *time.Location
}

// commandDeps are the pieces the chat commands read from. Tests swap in fakes.
type commandDeps struct {
	Checker    forceChecker
	Boosted    boostedView
	Schedule   scheduleView
	ServerSave func() (hour, minute int)
	Status     func() string
	Now        func() time.Time
}

func buildCommands(d commandDeps) []router.Command {
	if d.Now == nil {
		d.Now = time.Now
	}
	return []router.Command{
		{
			Name:        "update",
			Aliases:     []string{"force"},
			Description: "Force a boosted check and post both sides",
			Usage:       "/update",
			Access:      router.AccessOwnerOnly,
			Timeout:     5 * time.Minute,
			Handle: func(ctx context.Context, req *router.Request) error {
				_ = req.Reply(ctx, "🔄 Checking boosted creature and boss...")
				res := d.Checker.ForceCheck(ctx)
				return req.Reply(ctx, html.EscapeString(format.UpdateSummary(res.CreaturePosted, res.BossPosted, res.Errors)))
			},
		},
		currentCommand("creature", "Show today's boosted creature", tibia.KindCreature, d.Boosted),
		currentCommand("boss", "Show today's boosted boss", tibia.KindBoss, d.Boosted),
		{
			Name:        "next",
			Description: "Time until the next server save",
			Usage:       "/next",
			Handle: func(ctx context.Context, req *router.Request) error {
				now := d.Now()
				h, m := d.ServerSave()
				save := format.NextServerSave(now, d.Schedule.Location(), h, m)
				return req.Reply(ctx, format.RenderHTML(format.ServerSavePayload(now, save)))
			},
		},
		{
			Name:        "schedule",
			Description: "Show when the bot checks automatically",
			Usage:       "/schedule",
			Handle: func(ctx context.Context, req *router.Request) error {
				return req.Reply(ctx, format.RenderHTML(format.SchedulePayload(scheduleViewOf(d.Schedule))))
			},
		},
		{
			Name:        "status",
			Description: "Runtime status of the bot",
			Usage:       "/status",
			Access:      router.AccessOwnerOnly,
			Handle: func(ctx context.Context, req *router.Request) error {
				return req.Reply(ctx, d.Status())
			},
		},
	}
}

func currentCommand(route, desc string, k tibia.Kind, view boostedView) router.Command {
	return router.Command{
		Name:        route,
		Description: desc,
		Usage:       "/" + route,
		Timeout:     2 * time.Minute,
		Handle: func(ctx context.Context, req *router.Request) error {
			p, err := view.Current(ctx, k)
			if err != nil {
				req.Logger.Warn("current boosted lookup failed", logx.Err(err))
				return req.Reply(ctx, format.RenderHTML(format.ErrorPayload("Error",
					fmt.Sprintf("Could not fetch the boosted %s right now. Try again later.", k))))
			}
			return req.ReplyPreview(ctx, format.RenderHTML(p))
		},
	}
}

func scheduleViewOf(s scheduleView) format.ScheduleView {
	cfg := s.Config()
	st := s.Status()
	return format.ScheduleView{
		Primary:  cfg.Primary,
		Backup:   cfg.Backup,
		Timezone: st.Timezone,
		Running:  st.Running,
		NextRun:  st.NextRun,
	}
}
