package adapter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	rtsup "tibiabot/internal/runtime/supervisor"
	kit "tibiabot/internal/transport"
	logx "tibiabot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
	// APIURL overrides the Bot API endpoint (tests, local bot API server).
	APIURL string
}

// Adapter long-polls Telegram for text messages and sends replies.
type Adapter struct {
	log logx.Logger
	bot *tele.Bot

	out      atomic.Pointer[chan<- kit.Update]
	dropped  atomic.Uint64
	dropWarn rate.Sometimes

	mu  sync.Mutex
	sup *rtsup.Supervisor

	menuMu sync.Mutex
	menu   string
}

var (
	_ kit.Adapter    = (*Adapter)(nil)
	_ kit.MenuSetter = (*Adapter)(nil)
)

// New builds the bot offline; nothing touches the network until Start.
func New(cfg Config, log logx.Logger) (*Adapter, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	if cfg.APIURL == "" {
		cfg.APIURL = tele.DefaultApiURL
	}
	bot, err := tele.NewBot(tele.Settings{
		URL:     cfg.APIURL,
		Token:   token,
		Poller:  &tele.LongPoller{Timeout: cfg.PollTimeout},
		Offline: true,
	})
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{log: log, bot: bot, dropWarn: rate.Sometimes{Interval: 5 * time.Second}}
	bot.Handle(tele.OnText, func(c tele.Context) error {
		if up, ok := toUpdate(c.Message()); ok {
			a.deliver(up)
		}
		return nil
	})
	return a, nil
}

func toUpdate(m *tele.Message) (kit.Update, bool) {
	if m == nil || m.Chat == nil {
		return kit.Update{}, false
	}
	up := kit.Update{
		MessageID: m.ID,
		Chat:      kit.ChatTarget{ChatID: m.Chat.ID, ThreadID: m.ThreadID},
		Text:      m.Text,
		Group:     m.Chat.Type != tele.ChatPrivate,
	}
	if m.Sender != nil {
		up.FromID = m.Sender.ID
		up.Username = m.Sender.Username
	}
	return up, true
}

// deliver never blocks the poller. Drops are summarized at most every 5s.
func (a *Adapter) deliver(up kit.Update) {
	p := a.out.Load()
	if p == nil {
		return
	}
	select {
	case *p <- up:
		return
	default:
	}
	a.dropped.Add(1)
	a.dropWarn.Do(func() {
		a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", a.dropped.Swap(0)), logx.Int("chan_cap", cap(*p)))
	})
}

// Supervisor is nil while the adapter is stopped.
func (a *Adapter) Supervisor() *rtsup.Supervisor {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sup
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sup != nil {
		return nil
	}
	a.out.Store(&out)
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(false))

	a.sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})
	// bot.Start returns only after bot.Stop; any other return is restarted.
	a.sup.GoRestart("telebot.poll", func(c context.Context) error {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
		if c.Err() != nil {
			return nil
		}
		return errors.New("telegram poller exited")
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithPublishFirstError(true),
	)
	return nil
}

// Stop waits at most 2s (or until ctx) for the long poll to return.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	sup := a.sup
	a.sup = nil
	a.out.Store(nil)
	a.mu.Unlock()
	if sup == nil {
		return nil
	}

	a.log.Info("stopping", logx.Uint64("dropped_updates", a.dropped.Load()))
	sup.Cancel()
	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		if wctx.Err() != nil {
			a.log.Warn("telegram stop timed out", logx.Err(err))
		} else {
			a.log.Debug("telegram stopped with supervisor error", logx.Err(err))
		}
	}
	return nil
}

// SendText splits text into Telegram-sized chunks; only the first chunk
// replies to opt.ReplyTo. The returned ref points at the first chunk.
func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	var o kit.SendOptions
	if opt != nil {
		o = *opt
	}
	chat := &tele.Chat{ID: to.ChatID}
	ref := kit.MessageRef{Chat: to}
	for i, chunk := range splitTelegramText(text, telegramTextLimit, o.ParseMode) {
		if err := ctx.Err(); err != nil {
			return ref, err
		}
		so := &tele.SendOptions{ParseMode: o.ParseMode, DisableWebPagePreview: o.DisablePreview, ThreadID: to.ThreadID}
		if i == 0 && o.ReplyTo > 0 {
			so.ReplyTo = &tele.Message{ID: o.ReplyTo, Chat: chat}
		}
		msg, err := a.bot.Send(chat, chunk, so)
		if err != nil {
			return ref, classifySendError(err)
		}
		if i == 0 {
			ref.MessageID = msg.ID
		}
	}
	return ref, nil
}

var permanentSendErrors = []error{
	tele.ErrChatNotFound,
	tele.ErrBlockedByUser,
	tele.ErrKickedFromGroup,
	tele.ErrKickedFromSuperGroup,
	tele.ErrUnauthorized,
}

// classifySendError marks errors that repeat for the same request with
// kit.ErrPermanent.
func classifySendError(err error) error {
	if err == nil || !isPermanent(err) {
		return err
	}
	return fmt.Errorf("%w: %w", kit.ErrPermanent, err)
}

func isPermanent(err error) bool {
	for _, p := range permanentSendErrors {
		if errors.Is(err, p) {
			return true
		}
	}
	var te *tele.Error
	if errors.As(err, &te) {
		switch te.Code {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
			return true
		}
	}
	// Unregistered API errors read "telegram: <description> (<code>)".
	msg := err.Error()
	return strings.HasSuffix(msg, "(400)") || strings.HasSuffix(msg, "(401)") || strings.HasSuffix(msg, "(403)")
}

// SetMenu publishes cmds with setMyCommands. An unchanged menu is not resent.
func (a *Adapter) SetMenu(ctx context.Context, cmds []kit.BotCommand) error {
	menu := make([]tele.Command, 0, len(cmds))
	var sig strings.Builder
	for _, c := range cmds {
		if c.Command == "" || len(menu) == 100 {
			continue
		}
		desc := c.Description
		if desc == "" {
			desc = c.Command
		}
		if len(desc) > 256 {
			desc = desc[:256]
		}
		menu = append(menu, tele.Command{Text: c.Command, Description: desc})
		fmt.Fprintf(&sig, "%s\x00%s\x00", c.Command, desc)
	}

	a.menuMu.Lock()
	defer a.menuMu.Unlock()
	if sig.String() == a.menu {
		return nil
	}
	done := make(chan error, 1)
	go func() { done <- a.bot.SetCommands(menu) }()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return fmt.Errorf("telegram setMyCommands: %w", err)
		}
	}
	a.menu = sig.String()
	a.log.Info("menu commands updated", logx.Int("count", len(menu)))
	return nil
}
