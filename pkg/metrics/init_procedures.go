package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initProcedureMetrics() {
	r.ProceduresInFlight = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "tessera_procedures_in_flight",
			Help: "Number of peer modification procedures currently executing",
		},
	)

	r.ProceduresTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "tessera_procedures_total",
			Help: "Total number of completed peer modification procedures",
		},
		[]string{"operation", "outcome"}, // add/remove/... x succeeded/failed
	)

	r.ProcedureDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tessera_procedure_duration_seconds",
			Help:    "Peer modification procedure duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 30.0, 120.0},
		},
		[]string{"operation"},
	)

	r.ProcedureRetriesTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "tessera_procedure_retries_total",
			Help: "Total number of procedure step retries after transient store failures",
		},
	)

	r.ProcedureRollbacksTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "tessera_procedure_rollbacks_total",
			Help: "Total number of procedures that entered rollback",
		},
	)
}
