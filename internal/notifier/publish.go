package notifier

import (
	"context"
	"fmt"

	"tibiabot/internal/format"
	kit "tibiabot/internal/transport"
	logx "tibiabot/pkg/logx"
)

// Publish renders p and sends it to one chat, synchronously. A nil error
// means the platform accepted the message.
func (s *Service) Publish(ctx context.Context, to kit.ChatTarget, p format.Payload) error {
	if to.IsZero() {
		return fmt.Errorf("publish: no chat configured")
	}
	text := format.RenderHTML(p)
	opt := &kit.SendOptions{
		ParseMode: "HTML",
		// The preview is what shows the creature image.
		DisablePreview: p.ImageURL == "",
	}
	attempts, err := s.send(ctx, to, text, opt, "")
	if err != nil {
		return fmt.Errorf("send to %d after %d attempt(s): %w", to.ChatID, attempts, err)
	}
	if attempts > 1 {
		s.log.Info("published after retry", logx.Int64("chat_id", to.ChatID), logx.Int("attempts", attempts))
	}
	return nil
}
