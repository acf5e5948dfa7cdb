package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initStoreMetrics() {
	r.StoreOperationsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "tessera_store_operations_total",
			Help: "Total number of coordination store operations",
		},
		[]string{"operation", "status"},
	)

	r.StoreOperationDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tessera_store_operation_duration_seconds",
			Help:    "Coordination store operation duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		},
		[]string{"operation"},
	)

	r.StoreUnavailableTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "tessera_store_unavailable_total",
			Help: "Total number of operations that failed because the store was unreachable",
		},
	)

	r.StoreWatchEventsTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "tessera_store_watch_events_total",
			Help: "Total number of watch events received from the store",
		},
	)
}
