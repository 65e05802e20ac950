package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics definitions
var (
	TransactionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dmx_transactions_total",
		Help: "Finished transactions by outcome (commit, rollback, error).",
	}, []string{"outcome"})

	TransactionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dmx_transaction_seconds",
		Help:    "Time between begin and finish of a transaction.",
		Buckets: prometheus.DefBuckets,
	})

	BridgeOpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dmx_bridge_operation_seconds",
		Help:    "Latency of storage bridge operations.",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	IndexWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dmx_index_writes_total",
		Help: "Index entries written, by index mode.",
	}, []string{"mode"})

	ObjectsCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dmx_objects_created_total",
		Help: "Topics and associations created.",
	}, []string{"kind"})

	ObjectsDeletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dmx_objects_deleted_total",
		Help: "Topics and associations deleted.",
	}, []string{"kind"})

	TypeCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dmx_type_cache_lookups_total",
		Help: "Type cache lookups by result (hit, miss).",
	}, []string{"result"})

	EventsDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dmx_events_dropped_total",
		Help: "Events dropped because the subscription queue was full.",
	})

	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dmx_notifications_total",
		Help: "Subscription notifications by delivery result.",
	}, []string{"result"})
)
