// Package storage provides the optional persistence layer used by the bot.
//
// It supports:
//   - The last posted boosted names (opt-in, survives restarts)
//   - Post audit appends (one record per publish attempt)
//   - Notifier dedup state (to survive restarts)
package storage
