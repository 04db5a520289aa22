package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the lending ledger.
type Metrics struct {
	// Ledger operations
	OpsApplied  *prometheus.CounterVec
	OpsRejected *prometheus.CounterVec
	OpDuration  *prometheus.HistogramVec
	Sequence    prometheus.Gauge

	// Accrual
	InterestAccrued *prometheus.CounterVec

	// Liquidation
	LiquidationsTotal    *prometheus.CounterVec
	CollateralSeized     *prometheus.CounterVec
	LiquidationsRejected prometheus.Counter

	// Oracle
	OracleRequests *prometheus.CounterVec
	OracleErrors   *prometheus.CounterVec
	OracleLatency  prometheus.Histogram

	// Persistence
	PersistEventsWritten prometheus.Counter
	PersistErrors        *prometheus.CounterVec
	PersistBatchDur      prometheus.Histogram
	SnapshotTaken        prometheus.Counter
	SnapshotLastSeq      prometheus.Gauge

	// Outbound stream
	PublishDrops  prometheus.Counter
	PublishErrors prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	opBuckets := []float64{
		0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1,
	}

	return &Metrics{
		OpsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_ops_applied_total",
			Help: "Ledger operations committed",
		}, []string{"op"}),

		OpsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_ops_rejected_total",
			Help: "Ledger operations rejected (validation, price, transfer)",
		}, []string{"op", "reason"}),

		OpDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lend_op_duration_seconds",
			Help:    "Time to run one ledger operation end to end",
			Buckets: opBuckets,
		}, []string{"op"}),

		Sequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "lend_sequence",
			Help: "Current global event sequence",
		}),

		InterestAccrued: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_interest_accrued_total",
			Help: "Interest added to pooled totals (1e8 fixed-point units)",
		}, []string{"asset", "side"}),

		LiquidationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_liquidations_total",
			Help: "Partial liquidations executed",
		}, []string{"borrow_asset", "collateral_asset"}),

		CollateralSeized: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_collateral_seized_total",
			Help: "Collateral transferred to liquidators (1e8 units)",
		}, []string{"collateral_asset"}),

		LiquidationsRejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lend_liquidations_rejected_total",
			Help: "Liquidation attempts on healthy positions",
		}),

		OracleRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_oracle_requests_total",
			Help: "Price lookups by asset",
		}, []string{"asset"}),

		OracleErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_oracle_errors_total",
			Help: "Failed or non-positive price lookups",
		}, []string{"asset"}),

		OracleLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "lend_oracle_latency_seconds",
			Help:    "Price lookup latency",
			Buckets: []float64{0.0001, 0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
		}),

		PersistEventsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lend_persist_events_written_total",
			Help: "Events written to Postgres",
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "lend_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		SnapshotTaken: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lend_snapshot_taken_total",
			Help: "State snapshots created",
		}),

		SnapshotLastSeq: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "lend_snapshot_last_sequence",
			Help: "Sequence of last snapshot",
		}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lend_publish_drops_total",
			Help: "Events dropped due to full publish channel",
		}),

		PublishErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lend_publish_errors_total",
			Help: "NATS publish failures",
		}),
	}
}
