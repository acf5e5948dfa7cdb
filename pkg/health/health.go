// Package health aggregates component health checks and serves them over
// HTTP for orchestrator probes.
package health

import (
	"sync"
	"time"
)

// Status represents the health status of a component
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Check represents a health check result for a specific component
type Check struct {
	Name        string         `json:"name"`
	Status      Status         `json:"status"`
	Message     string         `json:"message,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
	LastChecked time.Time      `json:"last_checked"`
	Duration    time.Duration  `json:"duration_ms"`
}

// CheckFunc is a function that performs a health check
type CheckFunc func() Check

// Response represents the overall health response
type Response struct {
	Status    Status           `json:"status"`
	Timestamp time.Time        `json:"timestamp"`
	Checks    map[string]Check `json:"checks"`
	Uptime    float64          `json:"uptime_seconds"`
}

// Checker manages the health, readiness and liveness checks of the node
type Checker struct {
	mu          sync.RWMutex
	checks      map[string]CheckFunc
	readyChecks map[string]CheckFunc
	liveChecks  map[string]CheckFunc
	startTime   time.Time
}

// NewChecker creates an empty health checker
func NewChecker() *Checker {
	return &Checker{
		checks:      make(map[string]CheckFunc),
		readyChecks: make(map[string]CheckFunc),
		liveChecks:  make(map[string]CheckFunc),
		startTime:   time.Now(),
	}
}

// RegisterCheck registers a health check
func (c *Checker) RegisterCheck(name string, check CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// RegisterReadinessCheck registers a readiness check
func (c *Checker) RegisterReadinessCheck(name string, check CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readyChecks[name] = check
}

// RegisterLivenessCheck registers a liveness check
func (c *Checker) RegisterLivenessCheck(name string, check CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.liveChecks[name] = check
}

// Check performs all health checks
func (c *Checker) Check() Response {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.performChecks(c.checks)
}

// CheckReadiness performs readiness checks
func (c *Checker) CheckReadiness() Response {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.performChecks(c.readyChecks)
}

// CheckLiveness performs liveness checks
func (c *Checker) CheckLiveness() Response {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.performChecks(c.liveChecks)
}

func (c *Checker) performChecks(checksMap map[string]CheckFunc) Response {
	response := Response{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
		Checks:    make(map[string]Check),
		Uptime:    time.Since(c.startTime).Seconds(),
	}

	for name, checkFunc := range checksMap {
		start := time.Now()
		check := checkFunc()
		check.Duration = time.Since(start)
		check.LastChecked = start

		response.Checks[name] = check

		// Worst status wins.
		if check.Status == StatusUnhealthy {
			response.Status = StatusUnhealthy
		} else if check.Status == StatusDegraded && response.Status != StatusUnhealthy {
			response.Status = StatusDegraded
		}
	}

	return response
}
