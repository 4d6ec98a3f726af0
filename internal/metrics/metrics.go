package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"tibiabot/internal/boosted"
	"tibiabot/internal/tibia"
)

const namespace = "tibiabot"

const (
	resultOK    = "ok"
	resultError = "error"
)

// Metrics bundles the bot's collectors.
type Metrics struct {
	reg *prometheus.Registry

	RunsTotal          *prometheus.CounterVec
	RunDuration        prometheus.Histogram
	PostsTotal         *prometheus.CounterVec
	FetchAttemptsTotal *prometheus.CounterVec
	AlertsTotal        *prometheus.CounterVec
	LastSuccess        prometheus.Gauge
}

var _ boosted.Observer = (*Metrics)(nil)

// New builds the collectors on a private registry together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Detection runs by trigger and result",
			},
			[]string{"trigger", "result"},
		),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Detection run duration in seconds",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		PostsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "posts_total",
				Help:      "Channel posts by kind and result (posted, skipped, failed)",
			},
			[]string{"kind", "result"},
		),
		FetchAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetch_attempts_total",
				Help:      "HTTP attempts against the game data sources by endpoint and result",
			},
			[]string{"endpoint", "result"},
		),
		AlertsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "alerts_total",
				Help:      "Operator alerts by result (queued, failed)",
			},
			[]string{"result"},
		),
		LastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last run that finished without errors",
		}),
	}
	m.reg.MustRegister(
		m.RunsTotal,
		m.RunDuration,
		m.PostsTotal,
		m.FetchAttemptsTotal,
		m.AlertsTotal,
		m.LastSuccess,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the registry backing the HTTP handler.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) ObserveRun(trigger string, ok bool, d time.Duration) {
	result := resultOK
	if !ok {
		result = resultError
	}
	m.RunsTotal.WithLabelValues(trigger, result).Inc()
	m.RunDuration.Observe(d.Seconds())
	if ok {
		m.LastSuccess.SetToCurrentTime()
	}
}

func (m *Metrics) ObservePost(kind, result string) {
	m.PostsTotal.WithLabelValues(kind, result).Inc()
}

// FetchObserver returns a tibia.Observer counting HTTP attempts.
func (m *Metrics) FetchObserver() tibia.Observer {
	return func(endpoint, result string) {
		m.FetchAttemptsTotal.WithLabelValues(endpoint, result).Inc()
	}
}

func (m *Metrics) ObserveAlert(err error) {
	if err != nil {
		m.AlertsTotal.WithLabelValues("failed").Inc()
		return
	}
	m.AlertsTotal.WithLabelValues("queued").Inc()
}
