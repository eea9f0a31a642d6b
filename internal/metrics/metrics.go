// Package metrics exposes Prometheus metrics for audits, generation and HTTP.
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

// Metrics holds every collector the service records to.
type Metrics struct {
	registry *prometheus.Registry

	// Audit metrics
	AuditsStarted   prometheus.Counter
	AuditsFinished  *prometheus.CounterVec
	StageDuration   *prometheus.HistogramVec
	PersistFailures *prometheus.CounterVec
	BlockedFetches  *prometheus.CounterVec

	// Generation metrics
	GenerationAttempts *prometheus.CounterVec
	AttemptDuration    *prometheus.HistogramVec
	Deployments        *prometheus.CounterVec

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	StreamsActive       prometheus.Gauge
}

// New creates the collectors on a private registry along with the Go and
// process collectors.
func New(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		AuditsStarted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audits_started_total",
			Help:      "Total audit jobs started",
		}),
		AuditsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audits_finished_total",
			Help:      "Total audit jobs that reached a terminal state",
		}, []string{"status", "degraded"}),
		StageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "audit_stage_duration_seconds",
			Help:      "Audit stage duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"stage"}),
		PersistFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_failures_total",
			Help:      "Persistence writes that failed",
		}, []string{"operation"}),
		BlockedFetches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocked_fetches_total",
			Help:      "Fetch targets rejected by the address policy",
		}, []string{"reason"}),
		GenerationAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_attempts_total",
			Help:      "Generation attempts by terminal status",
		}, []string{"status", "directive"}),
		AttemptDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_attempt_duration_seconds",
			Help:      "Generation attempt duration in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 900, 1800},
		}, []string{"status"}),
		Deployments: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deployments_total",
			Help:      "Deployment triggers by outcome",
		}, []string{"outcome"}),
		HTTPRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method", "route"}),
		StreamsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "event_streams_active",
			Help:      "Open SSE and websocket event streams",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveStage records the duration of one audit stage.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// AuditFinished counts a terminal audit.
func (m *Metrics) AuditFinished(status string, degraded bool) {
	if m == nil {
		return
	}
	m.AuditsFinished.WithLabelValues(status, strconv.FormatBool(degraded)).Inc()
}

// PersistFailed counts a failed persistence write.
func (m *Metrics) PersistFailed(operation string) {
	if m == nil {
		return
	}
	m.PersistFailures.WithLabelValues(operation).Inc()
}

// FetchBlocked counts a rejected fetch target.
func (m *Metrics) FetchBlocked(reason string) {
	if m == nil {
		return
	}
	m.BlockedFetches.WithLabelValues(reason).Inc()
}

// AttemptFinished records a terminal generation attempt.
func (m *Metrics) AttemptFinished(status, directive string, d time.Duration) {
	if m == nil {
		return
	}
	m.GenerationAttempts.WithLabelValues(status, directive).Inc()
	m.AttemptDuration.WithLabelValues(status).Observe(d.Seconds())
}

// DeploymentFinished records a deployment trigger by outcome.
func (m *Metrics) DeploymentFinished(outcome string) {
	if m == nil {
		return
	}
	m.Deployments.WithLabelValues(outcome).Inc()
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
