package notifier

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"tibiabot/internal/eventbus"
	kit "tibiabot/internal/transport"
	logx "tibiabot/pkg/logx"
)

// send delivers text through the shared limiter, retrying transient errors.
// It returns the number of attempts made.
func (s *Service) send(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions, key string) (int, error) {
	s.mu.Lock()
	cfg, lim, sender, sleep := s.cfg, s.limiter, s.sender, s.sleep
	s.mu.Unlock()
	if sender == nil {
		return 0, ErrNoSender
	}

	ev := NotificationEvent{Channel: "telegram", ChatID: to.ChatID, ThreadID: to.ThreadID, Key: key}
	attempts := 1 + cfg.RetryMax
	var err error
	n := 0
	for n < attempts {
		n++
		if err = lim.Wait(ctx); err != nil {
			break
		}
		err = s.sendOnce(ctx, sender, cfg.SendTimeout, to, text, opt)
		if err == nil {
			s.remember(to.ChatID, text)
			ev.At, ev.Attempts = time.Now(), n
			s.publish(eventbus.TypeNotifierSent, ev)
			return n, nil
		}
		s.log.Debug("send failed", logx.Int64("chat_id", to.ChatID), logx.Int("attempt", n), logx.Int("max", attempts), logx.Err(err))
		if errors.Is(err, ErrPermanent) || n == attempts {
			break
		}
		if serr := sleep(ctx, retryDelay(cfg, n)); serr != nil {
			err = serr
			break
		}
	}
	ev.At, ev.Attempts, ev.Error = time.Now(), n, err.Error()
	s.publish(eventbus.TypeNotifierFailed, ev)
	return n, err
}

func (s *Service) sendOnce(ctx context.Context, sender kit.Sender, timeout time.Duration, to kit.ChatTarget, text string, opt *kit.SendOptions) error {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	_, err := sender.SendText(cctx, to, text, opt)
	return err
}

// retryDelay is the pause after the given failed attempt: RetryBase doubled
// per attempt, jittered by ±30%, never above RetryMaxDelay.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := min(cfg.RetryBase<<min(attempt-1, 20), cfg.RetryMaxDelay)
	d = time.Duration(float64(d) * (0.7 + 0.6*rand.Float64()))
	return min(max(d, 0), cfg.RetryMaxDelay)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func priorityBadge(p int) string {
	switch {
	case p >= 9:
		return "🚨 "
	case p >= 7:
		return "⚠️ "
	case p >= 5:
		return "ℹ️ "
	}
	return ""
}
