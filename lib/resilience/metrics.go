package resilience

import (
	"github.com/go-i2p/asyncpool/lib/metrics"
)

// Instrument registers state and trip metrics for cb in reg and keeps them
// current through the breaker's state change callback. It replaces any
// callback set earlier.
//
// Metrics, with prefix p:
//   - p_circuit_state: 0 = closed, 1 = open, 2 = half-open
//   - p_circuit_trips_total: times the circuit opened
func Instrument(cb *CircuitBreaker, reg *metrics.Registry, prefix string) {
	state := reg.Gauge(
		prefix+"_circuit_state",
		"Current state of the connect circuit breaker (0=closed, 1=open, 2=half-open)",
	)
	trips := reg.Counter(
		prefix+"_circuit_trips_total",
		"Total number of times the connect circuit breaker opened",
	)

	state.Set(int64(cb.State()))
	cb.SetStateChangeCallback(func(from, to CircuitState) {
		state.Set(int64(to))
		if to == CircuitOpen {
			trips.Inc()
		}
	})
}
