package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initQueueMetrics() {
	r.ReplicatorsTotal = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "tessera_replicators_total",
			Help: "Number of replicators tracked in the queue ledger",
		},
	)

	r.QueuesTotal = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "tessera_queues_total",
			Help: "Number of replication queues across all replicators",
		},
	)

	r.QueueOperationsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "tessera_queue_operations_total",
			Help: "Total number of queue ledger operations",
		},
		[]string{"operation", "status"},
	)

	r.WALPositionUpdatesTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "tessera_wal_position_updates_total",
			Help: "Total number of WAL position updates",
		},
		[]string{"status"}, // advanced, stale
	)

	r.QueueClaimsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "tessera_queue_claims_total",
			Help: "Total number of queue claim attempts",
		},
		[]string{"outcome"}, // won, lost, error
	)

	r.QueueClaimDuration = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tessera_queue_claim_duration_seconds",
			Help:    "Queue claim duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		},
	)

	r.HFileRefsTotal = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "tessera_hfile_refs_total",
			Help: "Number of bulk-load file references awaiting replication",
		},
	)

	r.RecoveredQueuesTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "tessera_recovered_queues_total",
			Help: "Total number of queues claimed away from dead replicators",
		},
	)
}
