// Package scheduler fires the daily boosted checks.
//
// It owns two cron entries in the configured timezone: a primary run shortly
// after server save and a backup run half an hour later. Both enqueue the same
// detection routine into the task engine behind one shared engine.Gate, so at
// most one check runs or waits at a time. Execution, retries of failed fetches
// and stale-drop (the grace window) belong to internal/task/engine. Manual
// checks bypass the engine but are tracked so Stop waits for them too.
package scheduler
