package metrics

import (
	"runtime"
	"time"
)

// RecordPeerOperation records a peer registry operation
func (r *Registry) RecordPeerOperation(operation, status string) {
	r.PeerOperationsTotal.WithLabelValues(operation, status).Inc()
}

// SetPeerCounts updates the per-state peer gauges and the cache size
func (r *Registry) SetPeerCounts(enabled, disabled int) {
	r.PeersTotal.WithLabelValues("enabled").Set(float64(enabled))
	r.PeersTotal.WithLabelValues("disabled").Set(float64(disabled))
	r.PeerCacheSize.Set(float64(enabled + disabled))
}

// RecordPeerRefresh records one cache refresh from the backing store
func (r *Registry) RecordPeerRefresh() {
	r.PeerRefreshesTotal.Inc()
}

// RecordQueueOperation records a queue ledger operation
func (r *Registry) RecordQueueOperation(operation, status string) {
	r.QueueOperationsTotal.WithLabelValues(operation, status).Inc()
}

// RecordPositionUpdate records a WAL position write, advanced or rejected
// as stale
func (r *Registry) RecordPositionUpdate(stale bool) {
	if stale {
		r.WALPositionUpdatesTotal.WithLabelValues("stale").Inc()
		return
	}
	r.WALPositionUpdatesTotal.WithLabelValues("advanced").Inc()
}

// RecordClaim records the outcome of a queue claim attempt
func (r *Registry) RecordClaim(outcome string, duration time.Duration) {
	r.QueueClaimsTotal.WithLabelValues(outcome).Inc()
	r.QueueClaimDuration.Observe(duration.Seconds())
	if outcome == "won" {
		r.RecoveredQueuesTotal.Inc()
	}
}

// UpdateQueueCounts updates the ledger-wide gauges
func (r *Registry) UpdateQueueCounts(replicators, queues, hfileRefs int) {
	r.ReplicatorsTotal.Set(float64(replicators))
	r.QueuesTotal.Set(float64(queues))
	r.HFileRefsTotal.Set(float64(hfileRefs))
}

// ProcedureStarted marks one procedure as executing
func (r *Registry) ProcedureStarted() {
	r.ProceduresInFlight.Inc()
}

// RecordProcedure records a finished procedure with its outcome
func (r *Registry) RecordProcedure(operation, outcome string, duration time.Duration) {
	r.ProceduresInFlight.Dec()
	r.ProceduresTotal.WithLabelValues(operation, outcome).Inc()
	r.ProcedureDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordProcedureRetry records one retried procedure step
func (r *Registry) RecordProcedureRetry() {
	r.ProcedureRetriesTotal.Inc()
}

// RecordProcedureRollback records a procedure entering rollback
func (r *Registry) RecordProcedureRollback() {
	r.ProcedureRollbacksTotal.Inc()
}

// RecordStoreOperation records a coordination store operation
func (r *Registry) RecordStoreOperation(operation, status string, duration time.Duration) {
	r.StoreOperationsTotal.WithLabelValues(operation, status).Inc()
	r.StoreOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if status == "unavailable" {
		r.StoreUnavailableTotal.Inc()
	}
}

// RecordWatchEvent records one event received from a store watch
func (r *Registry) RecordWatchEvent() {
	r.StoreWatchEventsTotal.Inc()
}

// RecordNotificationSent records a published peer change notification
func (r *Registry) RecordNotificationSent(kind string) {
	r.NotificationsSentTotal.WithLabelValues(kind).Inc()
}

// RecordNotificationReceived records a consumed peer change notification
func (r *Registry) RecordNotificationReceived(kind string) {
	r.NotificationsReceivedTotal.WithLabelValues(kind).Inc()
}

// RecordSurveyRound records one liveness survey round and how many
// replicators it declared dead
func (r *Registry) RecordSurveyRound(dead int) {
	r.SurveyRoundsTotal.Inc()
	if dead > 0 {
		r.DeadReplicatorsTotal.Add(float64(dead))
	}
}

// UpdateSystemMetrics refreshes the process-level gauges
func (r *Registry) UpdateSystemMetrics(startTime time.Time) {
	r.UptimeSeconds.Set(time.Since(startTime).Seconds())
	r.GoRoutines.Set(float64(runtime.NumGoroutine()))

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	r.MemoryAllocBytes.Set(float64(m.Alloc))
	r.MemorySysBytes.Set(float64(m.Sys))
}
