// Package transport defines the collaborator a connection pool uses to
// establish connections, and ships connectors for TCP and for I2P through
// a SAM bridge.
//
// A Connector starts one asynchronous connect attempt per ConnectAsync call
// and reports the outcome to a callback. The pool built on top of it never
// dials by itself and never looks inside a Conn.
package transport

import (
	"fmt"

	apperrors "github.com/go-i2p/asyncpool/lib/errors"
)

// Conn is an established transport session. The pool only tracks who holds
// it and closes it when it is no longer wanted.
//
// Implementations must be comparable (typically pointer types) since
// possession is tracked by identity.
type Conn interface {
	Close() error
}

// Result is the outcome of one connect attempt. Exactly one of Conn and Err
// is set.
type Result struct {
	Conn Conn
	Err  error
}

// CancelFunc cancels an in-flight connect attempt. It is safe to call more
// than once and after the attempt completed.
type CancelFunc func()

// Connector starts asynchronous connect attempts against an endpoint.
//
// ConnectAsync must not block on the connect itself. onComplete is called
// exactly once per call, from any goroutine, including after the attempt
// was canceled; a Conn delivered after cancellation belongs to the receiver,
// which is expected to close it.
type Connector interface {
	ConnectAsync(ep Endpoint, onComplete func(Result)) CancelFunc
}

// ConnectorFunc adapts a function to the Connector interface.
type ConnectorFunc func(ep Endpoint, onComplete func(Result)) CancelFunc

// ConnectAsync calls f.
func (f ConnectorFunc) ConnectAsync(ep Endpoint, onComplete func(Result)) CancelFunc {
	return f(ep, onComplete)
}

// ConnectError reports a failed connect attempt.
type ConnectError struct {
	Endpoint Endpoint
	Err      error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Endpoint, e.Err)
}

// Unwrap returns the underlying dial error.
func (e *ConnectError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrConnection) match every connect failure.
func (e *ConnectError) Is(target error) bool {
	return target == apperrors.ErrConnection
}
