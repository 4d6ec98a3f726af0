// Package metrics exposes Prometheus counters for detection runs, channel
// posts and upstream fetches, plus an optional HTTP server for /metrics and
// /healthz.
package metrics
