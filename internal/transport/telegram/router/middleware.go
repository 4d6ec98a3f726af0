package router

import (
	"context"
	"errors"
	"fmt"
	"html"
	"time"

	logx "tibiabot/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

// Chain wraps h so that m[0] is the outermost layer.
func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

// Handlers that run longer than this are logged at info.
const slowCommand = 3 * time.Second

// guard is the fixed stack every command runs in: reply on failure, contain
// panics, log the outcome, then bound the handler by the command timeout.
func guard(cmd *Command) HandlerFunc {
	return Chain(cmd.Handle, replyOnError(cmd), recoverPanic(), logOutcome(), withTimeout(cmd.Timeout))
}

func withTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		if d <= 0 {
			return next
		}
		return func(ctx context.Context, req *Request) error {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, req)
		}
	}
}

func recoverPanic() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if r := recover(); r != nil {
					req.Logger.Error("command panicked", logx.Any("panic", r), logx.Stack(logx.StackTrace(3, 16)))
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}

func logOutcome() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			took := time.Since(start)
			fields := []logx.Field{logx.Int("args", len(req.Args)), logx.Duration("took", took)}
			switch {
			case err != nil:
				req.Logger.Warn("command failed", append(fields, logx.Err(err))...)
			case took >= slowCommand:
				req.Logger.Info("command handled (slow)", fields...)
			default:
				req.Logger.Debug("command handled", fields...)
			}
			return err
		}
	}
}

// replyOnError tells the user what went wrong. The error is still returned
// for logOutcome.
func replyOnError(cmd *Command) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			err := next(ctx, req)
			if err == nil || req.Sender == nil {
				return err
			}
			text := "❌ " + html.EscapeString(err.Error())
			if errors.Is(err, context.DeadlineExceeded) && cmd.Timeout > 0 {
				text = fmt.Sprintf("⌛ /%s took longer than %s. Try again later.", cmd.Name, cmd.Timeout)
			}
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			_ = req.Reply(rctx, text)
			return err
		}
	}
}
