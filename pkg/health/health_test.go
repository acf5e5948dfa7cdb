package health

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewChecker(t *testing.T) {
	c := NewChecker()

	if c == nil {
		t.Fatal("NewChecker returned nil")
	}
	if c.checks == nil {
		t.Error("checks map not initialized")
	}
	if c.readyChecks == nil {
		t.Error("readyChecks map not initialized")
	}
	if c.liveChecks == nil {
		t.Error("liveChecks map not initialized")
	}
}

func TestRegisterCheck(t *testing.T) {
	c := NewChecker()

	called := false
	c.RegisterCheck("test", func() Check {
		called = true
		return Check{Status: StatusHealthy}
	})

	resp := c.Check()
	if !called {
		t.Error("registered check was not called")
	}
	if _, exists := resp.Checks["test"]; !exists {
		t.Error("check result not in response")
	}
}

func TestRegisterReadinessCheck(t *testing.T) {
	c := NewChecker()

	called := false
	c.RegisterReadinessCheck("ready-test", func() Check {
		called = true
		return Check{Status: StatusHealthy}
	})

	// Should not be called for regular Check()
	c.Check()
	if called {
		t.Error("readiness check should not be called for Check()")
	}

	// Should be called for CheckReadiness()
	resp := c.CheckReadiness()
	if !called {
		t.Error("readiness check was not called")
	}
	if _, exists := resp.Checks["ready-test"]; !exists {
		t.Error("readiness check result not in response")
	}
}

func TestRegisterLivenessCheck(t *testing.T) {
	c := NewChecker()

	called := false
	c.RegisterLivenessCheck("live-test", func() Check {
		called = true
		return Check{Status: StatusHealthy}
	})

	// Should not be called for regular Check()
	c.Check()
	if called {
		t.Error("liveness check should not be called for Check()")
	}

	// Should be called for CheckLiveness()
	resp := c.CheckLiveness()
	if !called {
		t.Error("liveness check was not called")
	}
	if _, exists := resp.Checks["live-test"]; !exists {
		t.Error("liveness check result not in response")
	}
}

func TestCheckStatusAggregation(t *testing.T) {
	tests := []struct {
		name           string
		checkStatuses  []Status
		expectedStatus Status
	}{
		{
			name:           "all healthy",
			checkStatuses:  []Status{StatusHealthy, StatusHealthy, StatusHealthy},
			expectedStatus: StatusHealthy,
		},
		{
			name:           "one degraded",
			checkStatuses:  []Status{StatusHealthy, StatusDegraded, StatusHealthy},
			expectedStatus: StatusDegraded,
		},
		{
			name:           "one unhealthy",
			checkStatuses:  []Status{StatusHealthy, StatusUnhealthy, StatusHealthy},
			expectedStatus: StatusUnhealthy,
		},
		{
			name:           "degraded and unhealthy",
			checkStatuses:  []Status{StatusDegraded, StatusUnhealthy, StatusHealthy},
			expectedStatus: StatusUnhealthy,
		},
		{
			name:           "no checks",
			checkStatuses:  []Status{},
			expectedStatus: StatusHealthy,
		},
		{
			name:           "single healthy",
			checkStatuses:  []Status{StatusHealthy},
			expectedStatus: StatusHealthy,
		},
		{
			name:           "single unhealthy",
			checkStatuses:  []Status{StatusUnhealthy},
			expectedStatus: StatusUnhealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker()

			for i, status := range tt.checkStatuses {
				s := status // capture
				c.RegisterCheck(string(rune('a'+i)), func() Check {
					return Check{Status: s}
				})
			}

			resp := c.Check()
			if resp.Status != tt.expectedStatus {
				t.Errorf("expected status %s, got %s", tt.expectedStatus, resp.Status)
			}
		})
	}
}

func TestCheckTimestampAndUptime(t *testing.T) {
	c := NewChecker()
	c.RegisterCheck("test", func() Check {
		return Check{Status: StatusHealthy}
	})

	before := time.Now()
	resp := c.Check()
	after := time.Now()

	if resp.Timestamp.Before(before) || resp.Timestamp.After(after) {
		t.Errorf("timestamp %v not between %v and %v", resp.Timestamp, before, after)
	}
	if resp.Uptime < 0 {
		t.Errorf("negative uptime %f", resp.Uptime)
	}
}

func TestCheckDuration(t *testing.T) {
	c := NewChecker()

	sleepDuration := 10 * time.Millisecond
	c.RegisterCheck("slow", func() Check {
		time.Sleep(sleepDuration)
		return Check{Status: StatusHealthy}
	})

	resp := c.Check()
	check := resp.Checks["slow"]

	if check.Duration < sleepDuration {
		t.Errorf("duration %v less than sleep time %v", check.Duration, sleepDuration)
	}
}

func TestSimpleCheck(t *testing.T) {
	check := SimpleCheck("test-component")

	if check.Name != "test-component" {
		t.Errorf("expected name 'test-component', got %s", check.Name)
	}
	if check.Status != StatusHealthy {
		t.Errorf("expected status healthy, got %s", check.Status)
	}
	if check.LastChecked.IsZero() {
		t.Error("LastChecked not set")
	}
}

func TestStoreCheck(t *testing.T) {
	tests := []struct {
		name           string
		pingErr        error
		expectedStatus Status
		expectedMsg    string
	}{
		{
			name:           "reachable",
			pingErr:        nil,
			expectedStatus: StatusHealthy,
			expectedMsg:    "Reachable",
		},
		{
			name:           "connection error",
			pingErr:        errors.New("connection refused"),
			expectedStatus: StatusUnhealthy,
			expectedMsg:    "connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checkFunc := StoreCheck(func() error {
				return tt.pingErr
			})

			check := checkFunc()

			if check.Status != tt.expectedStatus {
				t.Errorf("expected status %s, got %s", tt.expectedStatus, check.Status)
			}
			if check.Message != tt.expectedMsg {
				t.Errorf("expected message %q, got %q", tt.expectedMsg, check.Message)
			}
			if check.Name != "coordination_store" {
				t.Errorf("expected name 'coordination_store', got %s", check.Name)
			}
		})
	}
}

func TestRegistryCheck(t *testing.T) {
	tests := []struct {
		name        string
		enabled     int
		disabled    int
		expectedMsg string
	}{
		{
			name:        "no peers",
			enabled:     0,
			disabled:    0,
			expectedMsg: "No peers registered",
		},
		{
			name:        "some peers",
			enabled:     2,
			disabled:    1,
			expectedMsg: "Tracking peers",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checkFunc := RegistryCheck(func() (int, int) {
				return tt.enabled, tt.disabled
			})

			check := checkFunc()

			if check.Status != StatusHealthy {
				t.Errorf("expected status healthy, got %s", check.Status)
			}
			if check.Message != tt.expectedMsg {
				t.Errorf("expected message %q, got %q", tt.expectedMsg, check.Message)
			}
			if check.Details["enabled_peers"] != tt.enabled {
				t.Errorf("expected enabled_peers=%d in details", tt.enabled)
			}
			if check.Details["disabled_peers"] != tt.disabled {
				t.Errorf("expected disabled_peers=%d in details", tt.disabled)
			}
		})
	}
}

func TestLedgerCheck(t *testing.T) {
	tests := []struct {
		name           string
		replicators    int
		queues         int
		err            error
		expectedStatus Status
	}{
		{
			name:           "readable",
			replicators:    3,
			queues:         7,
			expectedStatus: StatusHealthy,
		},
		{
			name:           "census fails",
			err:            errors.New("store unavailable"),
			expectedStatus: StatusUnhealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checkFunc := LedgerCheck(func() (int, int, error) {
				return tt.replicators, tt.queues, tt.err
			})

			check := checkFunc()

			if check.Status != tt.expectedStatus {
				t.Errorf("expected status %s, got %s", tt.expectedStatus, check.Status)
			}
			if tt.err == nil && check.Details["replicators"] != tt.replicators {
				t.Errorf("expected replicators=%d in details", tt.replicators)
			}
		})
	}
}

func TestProcedureBacklogCheck(t *testing.T) {
	tests := []struct {
		name           string
		pending        int
		err            error
		degradedAbove  int
		expectedStatus Status
	}{
		{
			name:           "no backlog",
			pending:        0,
			degradedAbove:  10,
			expectedStatus: StatusHealthy,
		},
		{
			name:           "backlog at threshold",
			pending:        10,
			degradedAbove:  10,
			expectedStatus: StatusHealthy,
		},
		{
			name:           "backlog over threshold",
			pending:        11,
			degradedAbove:  10,
			expectedStatus: StatusDegraded,
		},
		{
			name:           "count fails",
			err:            errors.New("store unavailable"),
			degradedAbove:  10,
			expectedStatus: StatusUnhealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checkFunc := ProcedureBacklogCheck(func() (int, error) {
				return tt.pending, tt.err
			}, tt.degradedAbove)

			check := checkFunc()

			if check.Status != tt.expectedStatus {
				t.Errorf("expected status %s, got %s", tt.expectedStatus, check.Status)
			}
		})
	}
}

func TestMemoryCheck(t *testing.T) {
	check := MemoryCheck()()

	if check.Name != "memory" {
		t.Errorf("expected name 'memory', got %s", check.Name)
	}
	if check.Status != StatusHealthy && check.Status != StatusDegraded {
		t.Errorf("unexpected status %s", check.Status)
	}
	if _, ok := check.Details["alloc_bytes"]; !ok {
		t.Error("expected alloc_bytes in details")
	}
}

func TestHTTPHandler(t *testing.T) {
	tests := []struct {
		name         string
		checkStatus  Status
		expectedCode int
	}{
		{
			name:         "healthy returns 200",
			checkStatus:  StatusHealthy,
			expectedCode: http.StatusOK,
		},
		{
			name:         "degraded returns 200",
			checkStatus:  StatusDegraded,
			expectedCode: http.StatusOK,
		},
		{
			name:         "unhealthy returns 503",
			checkStatus:  StatusUnhealthy,
			expectedCode: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker()
			c.RegisterCheck("test", func() Check {
				return Check{Status: tt.checkStatus}
			})

			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			rec := httptest.NewRecorder()

			c.HTTPHandler()(rec, req)

			if rec.Code != tt.expectedCode {
				t.Errorf("expected status code %d, got %d", tt.expectedCode, rec.Code)
			}

			if rec.Header().Get("Content-Type") != "application/json" {
				t.Error("expected Content-Type application/json")
			}

			var resp Response
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}

			if resp.Status != tt.checkStatus {
				t.Errorf("expected response status %s, got %s", tt.checkStatus, resp.Status)
			}
		})
	}
}

func TestReadinessHandler(t *testing.T) {
	tests := []struct {
		name         string
		checkStatus  Status
		expectedCode int
	}{
		{
			name:         "healthy returns 200",
			checkStatus:  StatusHealthy,
			expectedCode: http.StatusOK,
		},
		{
			name:         "degraded returns 503",
			checkStatus:  StatusDegraded,
			expectedCode: http.StatusServiceUnavailable,
		},
		{
			name:         "unhealthy returns 503",
			checkStatus:  StatusUnhealthy,
			expectedCode: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker()
			c.RegisterReadinessCheck("test", func() Check {
				return Check{Status: tt.checkStatus}
			})

			req := httptest.NewRequest(http.MethodGet, "/ready", nil)
			rec := httptest.NewRecorder()

			c.ReadinessHandler()(rec, req)

			if rec.Code != tt.expectedCode {
				t.Errorf("expected status code %d, got %d", tt.expectedCode, rec.Code)
			}
		})
	}
}

func TestLivenessHandler(t *testing.T) {
	tests := []struct {
		name         string
		checkStatus  Status
		expectedCode int
	}{
		{
			name:         "healthy returns 200",
			checkStatus:  StatusHealthy,
			expectedCode: http.StatusOK,
		},
		{
			name:         "unhealthy returns 503",
			checkStatus:  StatusUnhealthy,
			expectedCode: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker()
			c.RegisterLivenessCheck("test", func() Check {
				return Check{Status: tt.checkStatus}
			})

			req := httptest.NewRequest(http.MethodGet, "/live", nil)
			rec := httptest.NewRecorder()

			c.LivenessHandler()(rec, req)

			if rec.Code != tt.expectedCode {
				t.Errorf("expected status code %d, got %d", tt.expectedCode, rec.Code)
			}
		})
	}
}

func TestConcurrentCheckRegistration(t *testing.T) {
	c := NewChecker()

	// Register checks concurrently
	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func(id int) {
			c.RegisterCheck(string(rune('a'+id)), func() Check {
				return Check{Status: StatusHealthy}
			})
			done <- true
		}(i)
	}

	// Wait for all registrations
	for i := 0; i < 10; i++ {
		<-done
	}

	// Run checks concurrently
	for i := 0; i < 10; i++ {
		go func() {
			c.Check()
			done <- true
		}()
	}

	// Wait for all checks
	for i := 0; i < 10; i++ {
		<-done
	}

	// Verify all checks registered
	resp := c.Check()
	if len(resp.Checks) != 10 {
		t.Errorf("expected 10 checks, got %d", len(resp.Checks))
	}
}

func TestResponseJSONSerialization(t *testing.T) {
	c := NewChecker()
	c.RegisterCheck("test", func() Check {
		return Check{
			Status:  StatusHealthy,
			Message: "All good",
			Details: map[string]any{
				"version": "1.0.0",
				"count":   42,
			},
		}
	})

	resp := c.Check()

	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("failed to marshal response: %v", err)
	}

	var decoded Response
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}

	if decoded.Status != resp.Status {
		t.Errorf("status mismatch: expected %s, got %s", resp.Status, decoded.Status)
	}

	check, exists := decoded.Checks["test"]
	if !exists {
		t.Fatal("check 'test' not found in decoded response")
	}

	if check.Message != "All good" {
		t.Errorf("message mismatch: expected 'All good', got %s", check.Message)
	}
}
