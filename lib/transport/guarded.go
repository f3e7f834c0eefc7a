package transport

import (
	"errors"

	apperrors "github.com/go-i2p/asyncpool/lib/errors"
	"github.com/go-i2p/asyncpool/lib/resilience"
)

// GuardedConnector wraps a Connector with a circuit breaker. While the
// circuit is open, attempts fail immediately with resilience.ErrCircuitOpen
// and never reach the inner connector.
type GuardedConnector struct {
	inner   Connector
	circuit *resilience.CircuitBreaker
}

// NewGuardedConnector wraps inner with circuit.
func NewGuardedConnector(inner Connector, circuit *resilience.CircuitBreaker) *GuardedConnector {
	return &GuardedConnector{
		inner:   inner,
		circuit: circuit,
	}
}

// Circuit returns the breaker guarding this connector.
func (g *GuardedConnector) Circuit() *resilience.CircuitBreaker {
	return g.circuit
}

// ConnectAsync implements Connector.
func (g *GuardedConnector) ConnectAsync(ep Endpoint, onComplete func(Result)) CancelFunc {
	if !g.circuit.Allow() {
		log.WithField("endpoint", ep.String()).
			WithField("circuit", g.circuit.Name()).
			Debug("connect rejected by open circuit")
		go onComplete(Result{Err: &ConnectError{Endpoint: ep, Err: resilience.ErrCircuitOpen}})
		return func() {}
	}

	return g.inner.ConnectAsync(ep, func(r Result) {
		// Canceled attempts say nothing about the endpoint.
		if errors.Is(r.Err, apperrors.ErrConnectCanceled) {
			g.circuit.Abandon()
		} else {
			g.circuit.Record(r.Err)
		}
		onComplete(r)
	})
}
