// Package metrics implements the optional observability surface dropped by
// the spec's distillation and supplemented per SPEC_FULL.md #5: connection,
// command, document, and compaction counters exposed in Prometheus text
// format over a plain HTTP endpoint.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the process-wide collector, grounded on the original source's
// ussl-transport metrics module (one registry, vectors keyed by transport
// and command).
type Metrics struct {
	registry *prometheus.Registry

	ConnectionsTotal  *prometheus.CounterVec
	ConnectionsActive *prometheus.GaugeVec

	CommandsTotal        *prometheus.CounterVec
	CommandsErrors       *prometheus.CounterVec
	CommandDurationSecs  *prometheus.HistogramVec

	DocumentsTotal   prometheus.Gauge
	DocumentsCreated prometheus.Counter
	DocumentsDeleted prometheus.Counter

	SubscriptionsActive prometheus.Gauge
	UpdatesPublished    prometheus.Counter

	RateLimitedRequests prometheus.Counter

	CompactionsTotal      prometheus.Counter
	CompactionBytesSaved  prometheus.Counter
}

// New constructs and registers every metric against a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		ConnectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ussyncd_connections_total",
			Help: "Total number of connections accepted",
		}, []string{"transport"}),
		ConnectionsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ussyncd_connections_active",
			Help: "Number of active connections",
		}, []string{"transport"}),
		CommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ussyncd_commands_total",
			Help: "Total number of commands processed",
		}, []string{"command"}),
		CommandsErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ussyncd_commands_errors_total",
			Help: "Total number of command errors",
		}, []string{"command"}),
		CommandDurationSecs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ussyncd_command_duration_seconds",
			Help:    "Command processing duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		}, []string{"command"}),
		DocumentsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ussyncd_documents_total",
			Help: "Total number of documents in memory",
		}),
		DocumentsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ussyncd_documents_created_total",
			Help: "Total documents created",
		}),
		DocumentsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ussyncd_documents_deleted_total",
			Help: "Total documents deleted",
		}),
		SubscriptionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ussyncd_subscriptions_active",
			Help: "Number of active subscriptions",
		}),
		UpdatesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ussyncd_updates_published_total",
			Help: "Total updates published to subscribers",
		}),
		RateLimitedRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ussyncd_rate_limited_requests_total",
			Help: "Total requests rejected due to rate limiting",
		}),
		CompactionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ussyncd_compactions_total",
			Help: "Total document compactions performed",
		}),
		CompactionBytesSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ussyncd_compaction_bytes_saved_total",
			Help: "Total bytes saved by compaction",
		}),
	}
	reg.MustRegister(
		m.ConnectionsTotal, m.ConnectionsActive,
		m.CommandsTotal, m.CommandsErrors, m.CommandDurationSecs,
		m.DocumentsTotal, m.DocumentsCreated, m.DocumentsDeleted,
		m.SubscriptionsActive, m.UpdatesPublished,
		m.RateLimitedRequests,
		m.CompactionsTotal, m.CompactionBytesSaved,
	)
	return m
}

// RecordConnection records a new connection on the given transport ("tcp",
// "ws").
func (m *Metrics) RecordConnection(transport string) {
	m.ConnectionsTotal.WithLabelValues(transport).Inc()
	m.ConnectionsActive.WithLabelValues(transport).Inc()
}

// RecordDisconnection records a connection closing on the given transport.
func (m *Metrics) RecordDisconnection(transport string) {
	m.ConnectionsActive.WithLabelValues(transport).Dec()
}

// RecordCommand records one command's processing duration.
func (m *Metrics) RecordCommand(command string, durationSecs float64) {
	m.CommandsTotal.WithLabelValues(command).Inc()
	m.CommandDurationSecs.WithLabelValues(command).Observe(durationSecs)
}

// RecordError records a command failing.
func (m *Metrics) RecordError(command string) {
	m.CommandsErrors.WithLabelValues(command).Inc()
}

// Handler returns the promhttp handler serving this registry's metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
