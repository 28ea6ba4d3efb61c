// Package telemetry exposes the Prometheus metric set. Every metric hangs
// off an injected Registerer so parallel engines and tests never collide
// on the default registry.
package telemetry

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "loadcast"

// Metrics is the instrument set. A nil *Metrics is a valid no-op recorder
// so callers never branch on whether telemetry is wired.
type Metrics struct {
	registry prometheus.Registerer

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	breakerState    *prometheus.GaugeVec
	activeUsers     prometheus.Gauge
	subscribers     prometheus.Gauge
	runsTotal       *prometheus.CounterVec
}

// NewRegistry builds a private registry preloaded with the standard Go
// and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// New registers the instrument set on reg. A nil reg falls back to the
// process-wide default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{registry: reg}
	factory := promauto.With(reg)

	m.requestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Requests issued, by target and status code",
		},
		[]string{"target", "status"},
	)
	m.requestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "End-to-end request latency",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"target"},
	)
	m.breakerState = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "breaker_state",
			Help:      "Circuit breaker state per target (0 closed, 1 open, 2 half-open)",
		},
		[]string{"target"},
	)
	m.activeUsers = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_users",
			Help:      "In-flight virtual users",
		},
	)
	m.subscribers = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscribers",
			Help:      "Connected live-feed subscribers",
		},
	)
	m.runsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Completed runs by outcome",
		},
		[]string{"outcome"},
	)
	return m
}

func (m *Metrics) ObserveRequest(target string, status int, seconds float64) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(target, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(target).Observe(seconds)
}

func (m *Metrics) SetBreakerState(target string, state float64) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(target).Set(state)
}

func (m *Metrics) SetActiveUsers(n float64) {
	if m == nil {
		return
	}
	m.activeUsers.Set(n)
}

func (m *Metrics) SetSubscribers(n float64) {
	if m == nil {
		return
	}
	m.subscribers.Set(n)
}

func (m *Metrics) CountRun(outcome string) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(outcome).Inc()
}

// Handler serves reg over HTTP for scraping.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
