// Package metrics exposes Prometheus metrics for the highscores service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Manager owns the service metrics. It implements engine.Metrics and
// webhook.Recorder.
type Manager struct {
	namespace        string
	histogramBuckets []float64
	registry         *prometheus.Registry
	system           bool

	leaderboardsCreated prometheus.Counter
	submissions         *prometheus.CounterVec
	clears              prometheus.Counter
	deletes             prometheus.Counter
	webhookDeliveries   *prometheus.CounterVec

	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// Option applies a configuration option to the Manager.
type Option func(*Manager)

// WithNamespace sets the namespace for all metrics.
func WithNamespace(namespace string) Option {
	return func(m *Manager) {
		if namespace != "" {
			m.namespace = namespace
		}
	}
}

// WithHistogramBuckets sets custom buckets for the request latency histogram.
func WithHistogramBuckets(buckets []float64) Option {
	return func(m *Manager) {
		if len(buckets) > 0 {
			m.histogramBuckets = buckets
		}
	}
}

// WithRegistry registers metrics on r instead of a private registry.
func WithRegistry(r *prometheus.Registry) Option {
	return func(m *Manager) {
		if r != nil {
			m.registry = r
		}
	}
}

// WithSystemCollectors adds the Go runtime and process collectors.
func WithSystemCollectors() Option {
	return func(m *Manager) { m.system = true }
}

// NewManager creates a metrics manager. Each manager gets its own registry
// unless WithRegistry is given.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "highscores",
		histogramBuckets: prometheus.DefBuckets,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.registry == nil {
		m.registry = prometheus.NewRegistry()
	}
	m.initializeMetrics()
	if m.system {
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return m
}

func (m *Manager) initializeMetrics() {
	f := promauto.With(m.registry)

	m.leaderboardsCreated = f.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "leaderboards_created_total",
		Help:      "Leaderboards created.",
	})
	m.submissions = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "score_submissions_total",
		Help:      "Score submissions by outcome.",
	}, []string{"outcome"})
	m.clears = f.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "scores_cleared_total",
		Help:      "Leaderboard clears.",
	})
	m.deletes = f.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "scores_deleted_total",
		Help:      "Single entry deletions.",
	})
	m.webhookDeliveries = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "webhook_deliveries_total",
		Help:      "Webhook deliveries by outcome.",
	}, []string{"outcome"})
	m.httpRequests = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by route, method and status.",
	}, []string{"route", "method", "status"})
	m.httpRequestDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   m.histogramBuckets,
	}, []string{"route", "method"})
}

func (m *Manager) LeaderboardCreated() { m.leaderboardsCreated.Inc() }

func (m *Manager) ScoreSubmitted(accepted bool) {
	outcome := "rejected"
	if accepted {
		outcome = "accepted"
	}
	m.submissions.WithLabelValues(outcome).Inc()
}

func (m *Manager) ScoresCleared() { m.clears.Inc() }

func (m *Manager) ScoreDeleted() { m.deletes.Inc() }

func (m *Manager) WebhookDelivery(outcome string) {
	m.webhookDeliveries.WithLabelValues(outcome).Inc()
}

// ObserveHTTP records one served request.
func (m *Manager) ObserveHTTP(route, method string, status int, d time.Duration) {
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(route, method).Observe(d.Seconds())
}

// Registry returns the registry metrics are registered on.
func (m *Manager) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Manager) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
