package router

import (
	"context"
	"slices"
	"strconv"
	"sync"
	"time"

	rtsup "tibiabot/internal/runtime/supervisor"
	kit "tibiabot/internal/transport"
	logx "tibiabot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

// Command is one flat bot command such as /boss.
type Command struct {
	Name        string   // Telegram command name, [a-z0-9_]
	Aliases     []string // extra names, not shown in the menu
	Description string
	Usage       string
	Access      Access

	Timeout time.Duration // optional per-command override
	Handle  HandlerFunc
}

type Request struct {
	Update  kit.Update
	Chat    kit.ChatTarget
	FromID  int64
	MsgID   int
	Command string // canonical name, even when invoked through an alias
	Args    []string
	ReqID   string

	Sender kit.Sender
	Logger logx.Logger
}

// Reply sends an HTML message back to the chat (and topic) the command came from.
func (r *Request) Reply(ctx context.Context, html string) error {
	_, err := r.Sender.SendText(ctx, r.Chat, html, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true, ReplyTo: r.MsgID})
	return err
}

// ReplyPreview is Reply with link previews enabled (used for creature images).
func (r *Request) ReplyPreview(ctx context.Context, html string) error {
	_, err := r.Sender.SendText(ctx, r.Chat, html, &kit.SendOptions{ParseMode: "HTML", ReplyTo: r.MsgID})
	return err
}

// CommandManager owns the command set and dispatches updates to handlers on
// a small worker pool.
type CommandManager struct {
	log    logx.Logger
	sender kit.Sender
	sups   *rtsup.Registry

	workers  int
	queueCap int

	mu     sync.RWMutex
	set    *commandSet
	owners []int64
	sup    *rtsup.Supervisor
}

type job struct {
	run HandlerFunc
	req *Request
}

func NewCommandManager(log logx.Logger, sender kit.Sender, sups *rtsup.Registry, owners []int64) *CommandManager {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &CommandManager{
		log:      log,
		sender:   sender,
		sups:     sups,
		workers:  2,
		queueCap: 64,
		set:      emptyCommandSet(),
		owners:   slices.Clone(owners),
	}
}

// Supervisor is nil unless DispatchLoop is running.
func (m *CommandManager) Supervisor() *rtsup.Supervisor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sup
}

// SetOwners updates the owner list used for AccessOwnerOnly checks.
// Safe to call during hot-reload.
func (m *CommandManager) SetOwners(owners []int64) {
	cp := slices.Clone(owners)
	m.mu.Lock()
	m.owners = cp
	m.mu.Unlock()
}

func (m *CommandManager) isOwner(id int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Contains(m.owners, id)
}

func (m *CommandManager) commands() *commandSet {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.set
}

// SetRegistry installs cmds (plus an injected /help) and refreshes the
// Telegram command menu when the sender supports it.
func (m *CommandManager) SetRegistry(ctx context.Context, cmds []Command) {
	cmds = append(slices.Clone(cmds), Command{
		Name:        "help",
		Aliases:     []string{"start"},
		Description: "Show available commands",
		Usage:       "/help [command]",
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, m.helpText(req.Args))
		},
	})
	set, problems := newCommandSet(cmds)
	for _, p := range problems {
		m.log.Warn("command registry", logx.String("problem", p))
	}

	m.mu.Lock()
	m.set = set
	m.mu.Unlock()
	m.log.Info("commands registered", logx.Int("count", len(set.ordered)))

	up, ok := m.sender.(kit.MenuSetter)
	if !ok {
		return
	}
	menu := menuCommands(set)
	go func() {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := up.SetMenu(cctx, menu); err != nil {
			m.log.Warn("menu update failed", logx.Err(err))
		}
	}()
}

// DispatchLoop routes updates until ctx is done or updates is closed.
// Queued commands still run before it returns.
func (m *CommandManager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.New(ctx, rtsup.WithLogger(m.log), rtsup.WithCancelOnError(false))
	jobs := make(chan job, m.queueCap)
	for i := range m.workers {
		sup.Go0("command.worker."+strconv.Itoa(i), func(c context.Context) {
			for j := range jobs {
				_ = j.run(c, j.req)
			}
		})
	}
	m.mu.Lock()
	m.sup = sup
	m.mu.Unlock()
	m.sups.Set("telegram.router", sup)
	m.log.Info("command dispatcher started", logx.Int("workers", m.workers), logx.Int("queue_cap", m.queueCap))

	defer func() {
		close(jobs)
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = sup.Wait(wctx)
		sup.Cancel()
		m.sups.Delete("telegram.router")
		m.mu.Lock()
		m.sup = nil
		m.mu.Unlock()
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			if j, ok := m.route(ctx, up); ok {
				m.submit(ctx, jobs, j)
			}
		}
	}
}

func (m *CommandManager) submit(ctx context.Context, jobs chan<- job, j job) {
	select {
	case jobs <- j:
	default:
		_, _ = m.sender.SendText(ctx, j.req.Chat, "Busy, try again in a moment.", nil)
	}
}

// route resolves up to a command. Unknown and forbidden commands are
// answered here and yield no job.
func (m *CommandManager) route(ctx context.Context, up kit.Update) (job, bool) {
	name, _, args, ok := parseCommand(up.Text)
	if !ok {
		return job{}, false
	}
	cmd, ok := m.commands().lookup(name)
	switch {
	case !ok:
		// Groups host other bots; only answer unknown commands in private chats.
		if !up.Group {
			_, _ = m.sender.SendText(ctx, up.Chat, "Unknown command. Try /help", nil)
		}
		return job{}, false
	case cmd.Access == AccessOwnerOnly && !m.isOwner(up.FromID):
		_, _ = m.sender.SendText(ctx, up.Chat, "⛔ This command is restricted to bot owners.", nil)
		return job{}, false
	}

	rid := newReqID()
	return job{run: guard(cmd), req: &Request{
		Update:  up,
		Chat:    up.Chat,
		FromID:  up.FromID,
		MsgID:   up.MessageID,
		Command: cmd.Name,
		Args:    args,
		ReqID:   rid,
		Sender:  m.sender,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", up.Chat.ChatID),
			logx.Int64("from_id", up.FromID),
			logx.String("cmd", cmd.Name),
		),
	}}, true
}
