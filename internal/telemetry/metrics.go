// Package telemetry registers the engine's Prometheus metrics, exposed via
// internal/control's /metrics passthrough. Grounded on
// original_source/engine/src/metrics.rs's metric names and on the teacher's
// use of prometheus/client_golang.
package telemetry

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles the engine-wide gauges and counters.
type Metrics struct {
	ActiveWallets     prometheus.Gauge
	ActiveAssignments prometheus.Gauge
	QueueDepth        prometheus.Gauge
	WatchedAddresses  prometheus.Gauge
	CopyTradesTotal   *prometheus.CounterVec
}

// New registers every metric against the default registry and returns the
// bundle. Safe to call once per process.
func New() *Metrics {
	return &Metrics{
		ActiveWallets: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_active_wallets",
			Help: "Number of distinct wallets with at least one active assignment.",
		}),
		ActiveAssignments: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_active_assignments",
			Help: "Number of active (wallet, strategy) assignments.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_execution_queue_depth",
			Help: "Current depth of the execution queue.",
		}),
		WatchedAddresses: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_watched_addresses",
			Help: "Number of leader addresses currently watched for copy-trading.",
		}),
		CopyTradesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_copy_trades_total",
			Help: "Copy-trade candidates observed, partitioned by outcome.",
		}, []string{"status"}),
	}
}

// MustRegister registers every metric against reg, panicking on a
// duplicate-registration error (startup-time invariant).
func (m *Metrics) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(m.ActiveWallets, m.ActiveAssignments, m.QueueDepth, m.WatchedAddresses, m.CopyTradesTotal)
}
