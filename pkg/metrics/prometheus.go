// Package metrics provides Prometheus metrics for the sync service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Manager owns every Prometheus metric of the service.
type Manager struct {
	namespace string
	registry  *prometheus.Registry

	// Sync core
	fetchCycles     *prometheus.CounterVec
	fetchDuration   *prometheus.HistogramVec
	newRecords      *prometheus.CounterVec
	reauthAttempts  prometheus.Counter
	reauthFailures  prometheus.Counter
	acknowledgments prometheus.Counter

	// Change notifications
	eventsPublished *prometheus.CounterVec
	eventsDropped   *prometheus.CounterVec

	// Read surface
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Scale indicators
	trackedPersons prometheus.Gauge
}

// Option applies a configuration option to the Manager.
type Option func(*Manager)

// WithNamespace overrides the metric namespace.
func WithNamespace(ns string) Option {
	return func(m *Manager) {
		if ns != "" {
			m.namespace = ns
		}
	}
}

// WithRegistry replaces the backing registry, used by tests.
func WithRegistry(r *prometheus.Registry) Option {
	return func(m *Manager) {
		if r != nil {
			m.registry = r
		}
	}
}

// NewManager creates a Manager and registers all metrics.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace: "skolnik",
		registry:  prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initialize()
	return m
}

func (m *Manager) initialize() {
	auto := promauto.With(m.registry)

	m.fetchCycles = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "fetch_cycles_total",
		Help:      "Completed fetch cycles by domain and result",
	}, []string{"domain", "result"})

	m.fetchDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Name:      "fetch_duration_seconds",
		Help:      "Fetch cycle duration by domain",
		Buckets:   prometheus.DefBuckets,
	}, []string{"domain"})

	m.newRecords = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "new_records_total",
		Help:      "Newly discovered records by domain",
	}, []string{"domain"})

	m.reauthAttempts = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "reauth_attempts_total",
		Help:      "Reauthentication attempts triggered by expired sessions",
	})

	m.reauthFailures = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "reauth_failures_total",
		Help:      "Reauthentication attempts that ended in rejected credentials",
	})

	m.acknowledgments = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "acknowledgments_total",
		Help:      "Out-of-band mark-as-seen calls",
	})

	m.eventsPublished = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "events_published_total",
		Help:      "Change notifications published by type",
	}, []string{"type"})

	m.eventsDropped = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "events_dropped_total",
		Help:      "Change notifications dropped on dispatch backpressure",
	}, []string{"type"})

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by endpoint, method and status code",
	}, []string{"endpoint", "method", "status_code"})

	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration by endpoint, method and status code",
		Buckets:   prometheus.DefBuckets,
	}, []string{"endpoint", "method", "status_code"})

	m.trackedPersons = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Name:      "tracked_persons",
		Help:      "Number of persons with active polling loops",
	})
}

// Handler returns the HTTP handler serving this manager's registry.
func (m *Manager) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional singleton

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager()
}

// Get returns the global metrics manager.
func Get() *Manager { return globalManager }

// Package-level record helpers over the global manager.

// RecordFetchCycle counts one completed fetch cycle.
func RecordFetchCycle(domain string, ok bool) {
	result := "success"
	if !ok {
		result = "failure"
	}
	globalManager.fetchCycles.WithLabelValues(domain, result).Inc()
}

// ObserveFetchDuration records how long one fetch cycle took.
func ObserveFetchDuration(domain string, d time.Duration) {
	globalManager.fetchDuration.WithLabelValues(domain).Observe(d.Seconds())
}

// RecordNewRecords counts newly discovered records.
func RecordNewRecords(domain string, n int) {
	if n > 0 {
		globalManager.newRecords.WithLabelValues(domain).Add(float64(n))
	}
}

// RecordReauth counts a reauthentication attempt.
func RecordReauth() { globalManager.reauthAttempts.Inc() }

// RecordReauthFailure counts a rejected reauthentication.
func RecordReauthFailure() { globalManager.reauthFailures.Inc() }

// RecordAcknowledgment counts an out-of-band mark-as-seen call.
func RecordAcknowledgment() { globalManager.acknowledgments.Inc() }

// RecordEventPublished counts one published change notification.
func RecordEventPublished(eventType string) {
	globalManager.eventsPublished.WithLabelValues(eventType).Inc()
}

// RecordEventDropped counts one dropped change notification.
func RecordEventDropped(eventType string) {
	globalManager.eventsDropped.WithLabelValues(eventType).Inc()
}

// RecordHTTPRequest counts one handled HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records the latency of one HTTP request.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, d time.Duration) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(d.Seconds())
}

// UpdateTrackedPersons sets the tracked person gauge.
func UpdateTrackedPersons(n int) { globalManager.trackedPersons.Set(float64(n)) }

// Handler returns the HTTP handler for the global registry.
func Handler() http.Handler { return globalManager.Handler() }
