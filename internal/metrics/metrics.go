package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Store holds the Prometheus metrics collectors.
type Store struct {
	Registry            *prometheus.Registry // Use a custom registry
	ScanRunning         prometheus.Gauge
	ScanDuration        prometheus.Histogram
	TableScanDuration   *prometheus.HistogramVec
	TablesScannedTotal  *prometheus.CounterVec
	QueryRetriesTotal   *prometheus.CounterVec
	BatchesFlushedTotal prometheus.Counter
	FlushErrorsTotal    prometheus.Counter
	ScanErrorsTotal     *prometheus.CounterVec
	GatewayConnections  prometheus.Gauge
}

// NewMetricsStore creates and registers Prometheus metrics.
func NewMetricsStore() *Store {
	registry := prometheus.NewRegistry() // non-global registry

	store := &Store{
		Registry: registry,
		ScanRunning: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
			Name: "reconscan_up",
			Help: "Indicates if a reconciliation scan is currently running (1 = running, 0 = not running).",
		}),
		ScanDuration: promauto.With(registry).NewHistogram(prometheus.HistogramOpts{
			Name:    "reconscan_run_duration_seconds",
			Help:    "Duration of the entire reconciliation run.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 15),
		}),
		TableScanDuration: promauto.With(registry).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "reconscan_table_scan_duration_seconds",
			Help:    "Duration histogram for scanning individual tables.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 16),
		}, []string{"table"}),
		TablesScannedTotal: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "reconscan_tables_scanned_total",
			Help: "Total number of tables scanned, labeled by terminal status.",
		}, []string{"status"}), // SUCCESS, ERROR
		QueryRetriesTotal: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "reconscan_query_retries_total",
			Help: "Total number of query retry attempts, labeled by table.",
		}, []string{"table"}),
		BatchesFlushedTotal: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "reconscan_report_batches_flushed_total",
			Help: "Total number of result batches flushed to the report sink.",
		}),
		FlushErrorsTotal: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "reconscan_report_flush_errors_total",
			Help: "Total number of failed report sink writes (including recovered fallbacks).",
		}),
		ScanErrorsTotal: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "reconscan_errors_total",
			Help: "Total number of errors encountered during a scan, labeled by type and table.",
		}, []string{"type", "table"}), // Types: discover, connection, table_scan, collect_timeout, flush
		GatewayConnections: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
			Name: "reconscan_gateway_connections_active",
			Help: "Number of gateway connections currently held by table workers.",
		}),
	}

	return store
}
