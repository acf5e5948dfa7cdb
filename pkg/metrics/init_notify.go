package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initNotifyMetrics() {
	r.NotificationsSentTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "tessera_notifications_sent_total",
			Help: "Total number of peer change notifications published",
		},
		[]string{"kind"},
	)

	r.NotificationsReceivedTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "tessera_notifications_received_total",
			Help: "Total number of peer change notifications received",
		},
		[]string{"kind"},
	)

	r.SurveyRoundsTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "tessera_survey_rounds_total",
			Help: "Total number of replicator liveness survey rounds",
		},
	)

	r.DeadReplicatorsTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "tessera_dead_replicators_detected_total",
			Help: "Total number of replicators declared dead by the surveyor",
		},
	)
}
