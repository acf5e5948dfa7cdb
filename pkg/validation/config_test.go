package validation

import (
	"errors"
	"testing"
	"time"
)

func TestConfigValidator_Required(t *testing.T) {
	cv := NewConfigValidator("TestConfig")
	cv.Required("StoreDSN", "")

	if !cv.HasErrors() {
		t.Error("Expected error for empty required field")
	}

	cv2 := NewConfigValidator("TestConfig")
	cv2.Required("StoreDSN", "postgres://localhost/replication")

	if cv2.HasErrors() {
		t.Error("Expected no error for non-empty required field")
	}
}

func TestConfigValidator_Positive(t *testing.T) {
	cv := NewConfigValidator("TestConfig")
	cv.Positive("Workers", 0)

	if !cv.HasErrors() {
		t.Error("Expected error for zero value")
	}

	cv2 := NewConfigValidator("TestConfig")
	cv2.Positive("Workers", 4)

	if cv2.HasErrors() {
		t.Error("Expected no error for positive value")
	}
}

func TestConfigValidator_RangeInt(t *testing.T) {
	cv := NewConfigValidator("TestConfig")
	cv.RangeInt("Port", 70000, 1, 65535)

	if !cv.HasErrors() {
		t.Error("Expected error for out-of-range value")
	}

	cv2 := NewConfigValidator("TestConfig")
	cv2.RangeInt("Port", 9090, 1, 65535)

	if cv2.HasErrors() {
		t.Error("Expected no error for in-range value")
	}
}

func TestConfigValidator_MinDuration(t *testing.T) {
	cv := NewConfigValidator("TestConfig")
	cv.MinDuration("SurveyInterval", 10*time.Millisecond, 100*time.Millisecond)

	if !cv.HasErrors() {
		t.Error("Expected error for duration below minimum")
	}
}

func TestConfigValidator_OneOf(t *testing.T) {
	cv := NewConfigValidator("TestConfig")
	cv.OneOf("Backend", "etcd", []string{"mem", "postgres"})

	if !cv.HasErrors() {
		t.Error("Expected error for disallowed value")
	}

	cv2 := NewConfigValidator("TestConfig")
	cv2.OneOf("Backend", "postgres", []string{"mem", "postgres"})

	if cv2.HasErrors() {
		t.Error("Expected no error for allowed value")
	}
}

func TestConfigValidator_When(t *testing.T) {
	cv := NewConfigValidator("TestConfig")
	cv.When(true, func(v *ConfigValidator) {
		v.Required("StoreDSN", "")
	})
	if !cv.HasErrors() {
		t.Error("Expected conditional validation to run")
	}

	cv2 := NewConfigValidator("TestConfig")
	cv2.When(false, func(v *ConfigValidator) {
		v.Required("StoreDSN", "")
	})
	if cv2.HasErrors() {
		t.Error("Expected conditional validation to be skipped")
	}
}

func TestConfigValidator_Custom(t *testing.T) {
	cv := NewConfigValidator("TestConfig")
	cv.Custom("ClusterKey", func() error {
		return errors.New("bad key")
	})
	if !cv.HasErrors() {
		t.Error("Expected custom validation error")
	}
}

func TestConfigValidator_Validate(t *testing.T) {
	cv := NewConfigValidator("TestConfig")
	if err := cv.Validate(); err != nil {
		t.Errorf("Expected nil for no errors, got %v", err)
	}

	cv.Required("A", "")
	if err := cv.Validate(); err == nil {
		t.Error("Expected error for single failure")
	}

	cv.Required("B", "")
	err := cv.Validate()
	if err == nil {
		t.Fatal("Expected combined error for multiple failures")
	}
	if len(cv.Errors()) != 2 {
		t.Errorf("Errors() = %d, want 2", len(cv.Errors()))
	}
}

func TestDefaultHelpers(t *testing.T) {
	if got := DefaultOr("", "fallback"); got != "fallback" {
		t.Errorf("DefaultOr empty = %q", got)
	}
	if got := DefaultOr("set", "fallback"); got != "set" {
		t.Errorf("DefaultOr set = %q", got)
	}
	if got := DefaultOrDuration(0, time.Second); got != time.Second {
		t.Errorf("DefaultOrDuration zero = %v", got)
	}
	if got := ClampDuration(10*time.Second, time.Second, 5*time.Second); got != 5*time.Second {
		t.Errorf("ClampDuration = %v", got)
	}
}
