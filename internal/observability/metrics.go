package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the node.
type Metrics struct {
	// --- Block processing ---
	BlocksApplied     prometheus.Counter
	BlocksRejected    *prometheus.CounterVec
	BlockApplyDur     prometheus.Histogram
	TxApplied         prometheus.Counter
	TxRejected        *prometheus.CounterVec
	OpsApplied        *prometheus.CounterVec
	VirtualOps        *prometheus.CounterVec
	StateHashDur      prometheus.Histogram
	HeadBlockHeight   prometheus.Gauge

	// --- Market ---
	OrdersFilled      *prometheus.CounterVec
	MarginCalls       prometheus.Counter
	GlobalSettlements prometheus.Counter
	ForceSettlements  prometheus.Counter
	ExpiredOrders     prometheus.Counter

	// --- Maintenance ---
	MaintenanceRuns prometheus.Counter
	MaintenanceDur  prometheus.Histogram

	// --- Channel & backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ChannelUtilization  *prometheus.GaugeVec
	NotifyDrops         prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Dedup & linkage ---
	TxDuplicates      *prometheus.CounterVec
	DedupLRUSize      prometheus.Gauge
	DedupLRUEvictions prometheus.Counter
	DedupStoreDur     prometheus.Histogram
	BlockGaps         prometheus.Counter
	StaleBlocks       prometheus.Counter

	// --- Persistence ---
	PersistBlocksWritten prometheus.Counter
	PersistOpsWritten    prometheus.Counter
	PersistBatchDur      prometheus.Histogram
	PersistErrors        *prometheus.CounterVec
	PersistRetry         prometheus.Counter
	PersistLastHeight    prometheus.Gauge

	// --- Snapshot & replay ---
	SnapshotTaken      prometheus.Counter
	SnapshotDuration   prometheus.Histogram
	SnapshotSizeBytes  prometheus.Gauge
	SnapshotLastHeight prometheus.Gauge
	ReplayBlocksTotal  prometheus.Counter
	ReplayDuration     prometheus.Gauge

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	blockBuckets := []float64{
		0.00001, 0.00005, 0.0001, 0.00025, 0.0005,
		0.001, 0.002, 0.005, 0.01, 0.025, 0.05,
	}

	return &Metrics{
		BlocksApplied: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chain_blocks_applied_total",
			Help: "Blocks successfully applied",
		}),

		BlocksRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "chain_blocks_rejected_total",
			Help: "Blocks rejected (gap, stale, bad time)",
		}, []string{"reason"}),

		BlockApplyDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "chain_block_apply_duration_seconds",
			Help:    "Time to apply a full block",
			Buckets: blockBuckets,
		}),

		TxApplied: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chain_transactions_applied_total",
			Help: "Transactions successfully applied",
		}),

		TxRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "chain_transactions_rejected_total",
			Help: "Transactions rejected (duplicate, expired, evaluation)",
		}, []string{"reason"}),

		OpsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "chain_operations_applied_total",
			Help: "Operations applied, by type",
		}, []string{"op_type"}),

		VirtualOps: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "chain_virtual_operations_total",
			Help: "Virtual operations generated (fills, settlements)",
		}, []string{"op_type"}),

		StateHashDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "chain_state_hash_duration_seconds",
			Help:    "Time to compute the state digest and hash",
			Buckets: latencyBuckets,
		}),

		HeadBlockHeight: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "chain_head_block_height",
			Help: "Current head block height",
		}),

		OrdersFilled: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "chain_orders_filled_total",
			Help: "Order fills, by kind (limit/call/settle)",
		}, []string{"kind"}),

		MarginCalls: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chain_margin_calls_total",
			Help: "Margin call executions",
		}),

		GlobalSettlements: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chain_global_settlements_total",
			Help: "Global settlement events",
		}),

		ForceSettlements: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chain_force_settlements_total",
			Help: "Force settlements executed at maturity",
		}),

		ExpiredOrders: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chain_expired_orders_total",
			Help: "Limit orders cancelled by expiration",
		}),

		MaintenanceRuns: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chain_maintenance_runs_total",
			Help: "Maintenance intervals processed",
		}),

		MaintenanceDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "chain_maintenance_duration_seconds",
			Help:    "Time to run one maintenance interval",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}),

		ChannelSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "chain_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "chain_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "chain_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		NotifyDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chain_notify_drops_total",
			Help: "Block outputs dropped due to full notify channel",
		}),

		PersistBackpressure: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chain_persist_backpressure_total",
			Help: "Times the engine blocked on the persist channel",
		}),

		TxDuplicates: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "chain_tx_duplicates_total",
			Help: "Duplicate transactions caught (lru/store)",
		}, []string{"tier"}),

		DedupLRUSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "chain_dedup_lru_size",
			Help: "Current LRU occupancy",
		}),

		DedupLRUEvictions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chain_dedup_lru_evictions_total",
			Help: "LRU evictions",
		}),

		DedupStoreDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "chain_dedup_store_duration_seconds",
			Help:    "Cold-tier dedup lookup latency",
			Buckets: latencyBuckets,
		}),

		BlockGaps: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chain_block_gaps_total",
			Help: "Height gaps detected in incoming blocks",
		}),

		StaleBlocks: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chain_stale_blocks_total",
			Help: "Blocks rejected as already applied",
		}),

		PersistBlocksWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chain_persist_blocks_written_total",
			Help: "Blocks written to Postgres",
		}),

		PersistOpsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chain_persist_operations_written_total",
			Help: "Operations written to Postgres",
		}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "chain_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "chain_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chain_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastHeight: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "chain_persist_last_height",
			Help: "Last persisted block height",
		}),

		SnapshotTaken: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chain_snapshot_taken_total",
			Help: "Snapshots created",
		}),

		SnapshotDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "chain_snapshot_duration_seconds",
			Help:    "Snapshot creation time",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
		}),

		SnapshotSizeBytes: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "chain_snapshot_size_bytes",
			Help: "Last snapshot size",
		}),

		SnapshotLastHeight: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "chain_snapshot_last_height",
			Help: "Height of last snapshot",
		}),

		ReplayBlocksTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chain_replay_blocks_total",
			Help: "Blocks replayed on startup",
		}),

		ReplayDuration: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "chain_replay_duration_seconds",
			Help: "Total replay time",
		}),

		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "chain_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chain_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),

		QueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "chain_query_errors_total",
			Help: "Query errors",
		}, []string{"endpoint", "code"}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
