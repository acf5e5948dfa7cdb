package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initPeerMetrics() {
	r.PeersTotal = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tessera_peers_total",
			Help: "Number of registered replication peers by state",
		},
		[]string{"state"}, // enabled, disabled
	)

	r.PeerOperationsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "tessera_peer_operations_total",
			Help: "Total number of peer registry operations",
		},
		[]string{"operation", "status"},
	)

	r.PeerRefreshesTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "tessera_peer_cache_refreshes_total",
			Help: "Total number of peer cache refreshes from the store",
		},
	)

	r.PeerCacheSize = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "tessera_peer_cache_size",
			Help: "Number of peers currently held in the read-through cache",
		},
	)
}
