// Package transport holds the chat-platform types shared by the Telegram
// adapter, the command router and the notifier.
package transport

import (
	"context"
	"errors"
)

// ErrPermanent wraps send errors that a retry cannot fix: unknown chat,
// bot removed from the chat or missing rights.
var ErrPermanent = errors.New("permanent send failure")

// ChatTarget is a chat plus an optional forum topic. The zero value means
// "not configured".
type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

func (t ChatTarget) IsZero() bool { return t.ChatID == 0 }

// Update is one inbound text message.
type Update struct {
	MessageID int
	Chat      ChatTarget
	FromID    int64
	Username  string
	Text      string
	Group     bool
}

type MessageRef struct {
	Chat      ChatTarget
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	ReplyTo        int
}

// Notification is an alert queued on the notifier. Priority runs 0..10.
type Notification struct {
	Channel  string
	Priority int
	Target   ChatTarget
	Text     string
	Options  *SendOptions
}

type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

type Adapter interface {
	Sender
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error
}

type BotCommand struct {
	Command     string
	Description string
}

// MenuSetter is implemented by senders that can publish the command menu.
type MenuSetter interface {
	SetMenu(ctx context.Context, cmds []BotCommand) error
}
