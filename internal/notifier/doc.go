// Package notifier delivers messages to Telegram chats.
//
// Publish is the synchronous path used for boosted posts: it renders a
// format.Payload as HTML, waits on the shared rate limiter, and retries
// transient send failures with jittered backoff. The caller learns whether
// the platform accepted the message, which is what gates state advancement.
//
// Notify is the asynchronous path for operator alerts: a bounded queue and
// worker pool with the same limiter and retry policy, plus a dedup window
// (optionally persisted through internal/storage) so a failing daily check
// does not page twice for the same error.
//
// A small in-memory history of delivered messages backs /status.
package notifier
