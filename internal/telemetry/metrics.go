// Package telemetry wires the CLASP router's Prometheus metrics and the
// resource guard that protects it from overload, grounded on the teacher's
// two metrics registries (internal/metrics/metrics.go, go-server-3's
// internal/metrics/metrics.go) and its resource_guard.go pattern.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects every Prometheus series the router exports, named after
// CLASP's own concerns (sessions, addresses, subscriptions, federation)
// rather than the teacher's websocket-only vocabulary.
type Metrics struct {
	SessionsActive  prometheus.Gauge
	SessionsTotal   prometheus.Counter
	SessionsRejected prometheus.Counter

	MessagesReceived *prometheus.CounterVec
	MessagesSent     prometheus.Counter
	DroppedFrames    prometheus.Counter

	SetApplied  prometheus.Counter
	SetRejected *prometheus.CounterVec

	SubscriptionsActive prometheus.Gauge
	SubscriptionsTotal  prometheus.Counter

	StateAddresses prometheus.Gauge

	FederationSyncsSent     prometheus.Counter
	FederationSyncsReceived prometheus.Counter
	FederationConflicts     prometheus.Counter

	CPUPercent    prometheus.Gauge
	MemoryBytes   prometheus.Gauge
	GoroutineCount prometheus.Gauge
}

// NewMetrics registers every collector against the default Prometheus
// registry via promauto, as the teacher does.
func NewMetrics() *Metrics {
	return &Metrics{
		SessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "clasp_sessions_active", Help: "Number of currently active CLASP sessions",
		}),
		SessionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "clasp_sessions_total", Help: "Total number of CLASP sessions accepted",
		}),
		SessionsRejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "clasp_sessions_rejected_total", Help: "Total number of connections rejected by the resource guard",
		}),
		MessagesReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "clasp_messages_received_total", Help: "Messages received, by type",
		}, []string{"type"}),
		MessagesSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "clasp_messages_sent_total", Help: "Total number of messages sent to sessions",
		}),
		DroppedFrames: promauto.NewCounter(prometheus.CounterOpts{
			Name: "clasp_frames_dropped_total", Help: "Total number of outbound frames dropped due to backpressure",
		}),
		SetApplied: promauto.NewCounter(prometheus.CounterOpts{
			Name: "clasp_set_applied_total", Help: "Total number of SET operations applied to the state store",
		}),
		SetRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "clasp_set_rejected_total", Help: "Total number of SET operations rejected, by reason",
		}, []string{"reason"}),
		SubscriptionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "clasp_subscriptions_active", Help: "Number of live subscriptions held by the index",
		}),
		SubscriptionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "clasp_subscriptions_total", Help: "Total number of SUBSCRIBE operations accepted",
		}),
		StateAddresses: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "clasp_state_addresses", Help: "Number of addresses currently held in the state store",
		}),
		FederationSyncsSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "clasp_federation_syncs_sent_total", Help: "Total number of FEDERATION_SYNC messages sent to peers",
		}),
		FederationSyncsReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "clasp_federation_syncs_received_total", Help: "Total number of FEDERATION_SYNC messages received from peers",
		}),
		FederationConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "clasp_federation_namespace_conflicts_total", Help: "Total number of overlapping namespace declarations detected",
		}),
		CPUPercent: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "clasp_cpu_percent", Help: "Process CPU usage percent, sampled by the resource guard",
		}),
		MemoryBytes: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "clasp_memory_bytes", Help: "Process resident memory in bytes",
		}),
		GoroutineCount: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "clasp_goroutines", Help: "Current goroutine count",
		}),
	}
}

// Handler exposes the registered collectors over HTTP.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
