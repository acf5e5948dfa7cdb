package health

import (
	"runtime"
	"time"
)

// Health checks for the replication control plane.

// SimpleCheck creates a check that always reports healthy. Used for
// liveness, where reaching the handler at all is the signal.
func SimpleCheck(name string) Check {
	return Check{
		Name:        name,
		Status:      StatusHealthy,
		LastChecked: time.Now(),
	}
}

// StoreCheck reports whether the coordination store answers reads. The
// control plane is inoperable without it, so failure is unhealthy.
func StoreCheck(ping func() error) CheckFunc {
	return func() Check {
		check := Check{
			Name: "coordination_store",
		}

		if err := ping(); err != nil {
			check.Status = StatusUnhealthy
			check.Message = err.Error()
		} else {
			check.Status = StatusHealthy
			check.Message = "Reachable"
		}

		return check
	}
}

// RegistryCheck reports the peer cache census. An empty registry is
// healthy; a cluster may simply have no peers yet.
func RegistryCheck(counts func() (enabled, disabled int)) CheckFunc {
	return func() Check {
		check := Check{
			Name:    "peer_registry",
			Details: make(map[string]any),
		}

		enabled, disabled := counts()

		check.Details["enabled_peers"] = enabled
		check.Details["disabled_peers"] = disabled
		check.Status = StatusHealthy
		if enabled+disabled == 0 {
			check.Message = "No peers registered"
		} else {
			check.Message = "Tracking peers"
		}

		return check
	}
}

// LedgerCheck reports the queue ledger census. A census that cannot be
// read means the store rejected a read the control plane depends on.
func LedgerCheck(census func() (replicators, queues int, err error)) CheckFunc {
	return func() Check {
		check := Check{
			Name:    "queue_ledger",
			Details: make(map[string]any),
		}

		replicators, queues, err := census()
		if err != nil {
			check.Status = StatusUnhealthy
			check.Message = err.Error()
			return check
		}

		check.Details["replicators"] = replicators
		check.Details["queues"] = queues
		check.Status = StatusHealthy
		check.Message = "Ledger readable"

		return check
	}
}

// ProcedureBacklogCheck reports peer modifications still waiting to be
// resumed. A persistent backlog means procedures are failing faster than
// the executor can finish them.
func ProcedureBacklogCheck(pending func() (int, error), degradedAbove int) CheckFunc {
	return func() Check {
		check := Check{
			Name:    "procedure_backlog",
			Details: make(map[string]any),
		}

		count, err := pending()
		if err != nil {
			check.Status = StatusUnhealthy
			check.Message = err.Error()
			return check
		}

		check.Details["pending"] = count
		if degradedAbove > 0 && count > degradedAbove {
			check.Status = StatusDegraded
			check.Message = "Procedure backlog growing"
		} else {
			check.Status = StatusHealthy
			check.Message = "Backlog nominal"
		}

		return check
	}
}

// MemoryCheck creates a health check for memory usage.
func MemoryCheck() CheckFunc {
	return func() Check {
		check := Check{
			Name:    "memory",
			Details: make(map[string]any),
		}

		var m runtime.MemStats
		runtime.ReadMemStats(&m)

		check.Details["alloc_bytes"] = m.Alloc
		check.Details["sys_bytes"] = m.Sys

		usagePercent := float64(m.Alloc) / float64(m.Sys) * 100
		if usagePercent > 90 {
			check.Status = StatusDegraded
			check.Message = "High memory usage"
		} else {
			check.Status = StatusHealthy
			check.Message = "Memory usage normal"
		}

		return check
	}
}
