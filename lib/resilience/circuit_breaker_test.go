package resilience

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-i2p/asyncpool/lib/metrics"
)

func TestCircuitBreakerDefaultsApplied(t *testing.T) {
	cb := NewCircuitBreaker("test", CircuitBreakerConfig{})

	cfg := cb.Stats().Config
	if cfg != DefaultCircuitBreakerConfig() {
		t.Errorf("expected defaults, got %+v", cfg)
	}
}

func TestCircuitBreakerInitialState(t *testing.T) {
	cb := NewCircuitBreaker("my-circuit", DefaultCircuitBreakerConfig())
	if cb.State() != CircuitClosed {
		t.Errorf("expected initial state Closed, got %v", cb.State())
	}
	if cb.Name() != "my-circuit" {
		t.Errorf("expected name 'my-circuit', got '%s'", cb.Name())
	}
	if !cb.Allow() {
		t.Error("expected Allow to return true when closed")
	}
}

func TestCircuitBreakerOpensAfterFailures(t *testing.T) {
	cfg := CircuitBreakerConfig{
		FailureThreshold:    3,
		SuccessThreshold:    1,
		Timeout:             time.Second,
		MaxHalfOpenRequests: 1,
	}
	cb := NewCircuitBreaker("test", cfg)

	for i := 0; i < cfg.FailureThreshold; i++ {
		if cb.State() == CircuitOpen {
			t.Errorf("circuit opened too early at failure %d", i)
		}
		cb.RecordFailure()
	}

	if cb.State() != CircuitOpen {
		t.Errorf("expected circuit to be Open, got %v", cb.State())
	}
	if cb.Allow() {
		t.Error("expected Allow to return false when open")
	}
	if cb.Stats().Rejected != 1 {
		t.Errorf("expected 1 rejection, got %d", cb.Stats().Rejected)
	}
}

func TestCircuitBreakerSuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker("test", CircuitBreakerConfig{FailureThreshold: 3})

	cb.RecordFailure()
	cb.RecordFailure()
	cb.Record(nil)
	cb.RecordFailure()
	cb.RecordFailure()

	if cb.State() != CircuitClosed {
		t.Errorf("expected Closed after interleaved success, got %v", cb.State())
	}
}

func TestCircuitBreakerHalfOpenProbe(t *testing.T) {
	cfg := CircuitBreakerConfig{
		FailureThreshold:    1,
		SuccessThreshold:    1,
		Timeout:             30 * time.Millisecond,
		MaxHalfOpenRequests: 1,
	}
	cb := NewCircuitBreaker("test", cfg)
	cb.RecordFailure()

	time.Sleep(40 * time.Millisecond)

	if cb.State() != CircuitHalfOpen {
		t.Fatalf("expected HalfOpen after timeout, got %v", cb.State())
	}
	if !cb.Allow() {
		t.Fatal("expected the first probe to be allowed")
	}
	if cb.Allow() {
		t.Error("expected a second concurrent probe to be rejected")
	}

	cb.RecordSuccess()
	if cb.State() != CircuitClosed {
		t.Errorf("expected Closed after successful probe, got %v", cb.State())
	}
}

func TestCircuitBreakerReopensOnFailedProbe(t *testing.T) {
	cfg := CircuitBreakerConfig{
		FailureThreshold: 1,
		Timeout:          30 * time.Millisecond,
	}
	cb := NewCircuitBreaker("test", cfg)
	cb.RecordFailure()

	time.Sleep(40 * time.Millisecond)
	if !cb.Allow() {
		t.Fatal("expected probe to be allowed")
	}
	cb.Record(errors.New("refused"))

	if cb.State() != CircuitOpen {
		t.Errorf("expected Open after failed probe, got %v", cb.State())
	}
}

func TestCircuitBreakerAbandonFreesHalfOpenSlot(t *testing.T) {
	cfg := CircuitBreakerConfig{
		FailureThreshold:    1,
		Timeout:             30 * time.Millisecond,
		MaxHalfOpenRequests: 1,
	}
	cb := NewCircuitBreaker("test", cfg)
	cb.RecordFailure()

	time.Sleep(40 * time.Millisecond)
	if !cb.Allow() {
		t.Fatal("expected a half-open attempt to be allowed")
	}
	cb.Abandon()

	if cb.State() != CircuitHalfOpen {
		t.Fatalf("expected HalfOpen after an abandoned attempt, got %v", cb.State())
	}
	if !cb.Allow() {
		t.Fatal("expected another attempt after the first was abandoned")
	}
	cb.RecordSuccess()
	if cb.State() != CircuitClosed {
		t.Errorf("expected Closed after a successful attempt, got %v", cb.State())
	}
}

func TestCircuitBreakerAbandonWhileClosed(t *testing.T) {
	cb := NewCircuitBreaker("test", CircuitBreakerConfig{FailureThreshold: 2, Timeout: time.Minute})

	cb.RecordFailure()
	cb.Abandon()
	cb.RecordFailure()
	if cb.State() != CircuitOpen {
		t.Errorf("Abandon should not reset the failure count, got %v", cb.State())
	}
}

func TestCircuitBreakerStateChangeCallback(t *testing.T) {
	cb := NewCircuitBreaker("test", CircuitBreakerConfig{FailureThreshold: 2, Timeout: time.Minute})

	got := make(chan [2]CircuitState, 1)
	cb.SetStateChangeCallback(func(from, to CircuitState) {
		got <- [2]CircuitState{from, to}
	})

	cb.RecordFailure()
	cb.RecordFailure()

	select {
	case tr := <-got:
		if tr[0] != CircuitClosed || tr[1] != CircuitOpen {
			t.Errorf("unexpected transition: %v -> %v", tr[0], tr[1])
		}
	case <-time.After(time.Second):
		t.Fatal("state change callback not called")
	}
}

func TestCircuitBreakerConcurrency(t *testing.T) {
	cb := NewCircuitBreaker("test", CircuitBreakerConfig{
		FailureThreshold:    100,
		SuccessThreshold:    10,
		Timeout:             time.Second,
		MaxHalfOpenRequests: 50,
	})

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				cb.Allow()
				if n%2 == 0 {
					cb.RecordSuccess()
				} else {
					cb.RecordFailure()
				}
			}
		}(i)
	}
	wg.Wait()

	state := cb.State()
	if state != CircuitClosed && state != CircuitOpen && state != CircuitHalfOpen {
		t.Errorf("unexpected state: %v", state)
	}
}

func TestCircuitStateString(t *testing.T) {
	tests := []struct {
		state    CircuitState
		expected string
	}{
		{CircuitClosed, "closed"},
		{CircuitOpen, "open"},
		{CircuitHalfOpen, "half-open"},
		{CircuitState(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.expected {
			t.Errorf("CircuitState(%d).String() = %s, want %s", tt.state, got, tt.expected)
		}
	}
}

func TestInstrument(t *testing.T) {
	reg := metrics.NewRegistry()
	cb := NewCircuitBreaker("test", CircuitBreakerConfig{FailureThreshold: 1, Timeout: time.Minute})
	Instrument(cb, reg, "test")

	cb.RecordFailure()

	trips := reg.Counter("test_circuit_trips_total", "")
	deadline := time.Now().Add(time.Second)
	for trips.Value() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if trips.Value() != 1 {
		t.Errorf("expected 1 trip, got %d", trips.Value())
	}
	if reg.Gauge("test_circuit_state", "").Value() != int64(CircuitOpen) {
		t.Error("state gauge should report open")
	}
	if !strings.Contains(reg.Expose(), "test_circuit_state 1") {
		t.Errorf("exposition missing state: %s", reg.Expose())
	}
}
