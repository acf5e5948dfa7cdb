package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds all metrics for the replication control plane
type Registry struct {
	// Peer Metrics
	PeersTotal          *prometheus.GaugeVec
	PeerOperationsTotal *prometheus.CounterVec
	PeerRefreshesTotal  prometheus.Counter
	PeerCacheSize       prometheus.Gauge

	// Queue Metrics
	ReplicatorsTotal         prometheus.Gauge
	QueuesTotal              prometheus.Gauge
	QueueOperationsTotal     *prometheus.CounterVec
	WALPositionUpdatesTotal  *prometheus.CounterVec
	QueueClaimsTotal         *prometheus.CounterVec
	QueueClaimDuration       prometheus.Histogram
	HFileRefsTotal           prometheus.Gauge
	RecoveredQueuesTotal     prometheus.Counter

	// Procedure Metrics
	ProceduresInFlight      prometheus.Gauge
	ProceduresTotal         *prometheus.CounterVec
	ProcedureDuration       *prometheus.HistogramVec
	ProcedureRetriesTotal   prometheus.Counter
	ProcedureRollbacksTotal prometheus.Counter

	// Coordination Store Metrics
	StoreOperationsTotal    *prometheus.CounterVec
	StoreOperationDuration  *prometheus.HistogramVec
	StoreUnavailableTotal   prometheus.Counter
	StoreWatchEventsTotal   prometheus.Counter

	// Notification Metrics
	NotificationsSentTotal     *prometheus.CounterVec
	NotificationsReceivedTotal *prometheus.CounterVec
	SurveyRoundsTotal          prometheus.Counter
	DeadReplicatorsTotal       prometheus.Counter

	// System Metrics
	UptimeSeconds    prometheus.Gauge
	GoRoutines       prometheus.Gauge
	MemoryAllocBytes prometheus.Gauge
	MemorySysBytes   prometheus.Gauge

	registry *prometheus.Registry
}

var (
	// Global registry instance
	defaultRegistry *Registry
	once            sync.Once
)

// DefaultRegistry returns the global metrics registry
func DefaultRegistry() *Registry {
	once.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// NewRegistry creates a new metrics registry with all metrics initialized
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		registry: reg,
	}

	// Initialize all metrics
	r.initPeerMetrics()
	r.initQueueMetrics()
	r.initProcedureMetrics()
	r.initStoreMetrics()
	r.initNotifyMetrics()
	r.initSystemMetrics()

	return r
}

// GetPrometheusRegistry returns the underlying Prometheus registry
func (r *Registry) GetPrometheusRegistry() *prometheus.Registry {
	return r.registry
}
