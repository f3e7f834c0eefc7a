// Package testutil provides test doubles for the transport layer: a
// connector whose attempts tests complete by hand, mock connections that
// remember being closed, and a local TCP echo server.
package testutil

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/go-i2p/asyncpool/lib/errors"
	"github.com/go-i2p/asyncpool/lib/transport"
)

// ErrRefused is the failure FakeConnector reports by default.
var ErrRefused = errors.New("connection refused")

var connIDCounter int64

// MockConn is a connection that only records whether it was closed.
type MockConn struct {
	ID     int64
	closes int32
}

// NewMockConn returns a MockConn with a process-unique ID.
func NewMockConn() *MockConn {
	return &MockConn{ID: atomic.AddInt64(&connIDCounter, 1)}
}

// Close implements transport.Conn.
func (c *MockConn) Close() error {
	atomic.AddInt32(&c.closes, 1)
	return nil
}

// IsClosed reports whether Close was called.
func (c *MockConn) IsClosed() bool {
	return atomic.LoadInt32(&c.closes) > 0
}

// Closes returns how many times Close was called.
func (c *MockConn) Closes() int {
	return int(atomic.LoadInt32(&c.closes))
}

// Attempt is one ConnectAsync call recorded by FakeConnector.
type Attempt struct {
	Endpoint transport.Endpoint

	mu         sync.Mutex
	onComplete func(transport.Result)
	done       bool
	canceled   bool
}

// complete delivers r unless the attempt already completed.
func (a *Attempt) complete(r transport.Result) bool {
	a.mu.Lock()
	if a.done {
		a.mu.Unlock()
		return false
	}
	a.done = true
	a.mu.Unlock()

	a.onComplete(r)
	return true
}

// Canceled reports whether the attempt's CancelFunc was called before it completed.
func (a *Attempt) Canceled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.canceled
}

// Done reports whether the attempt has completed.
func (a *Attempt) Done() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.done
}

// Outcome decides how an automatic attempt ends: nil for success.
type Outcome func(n int) error

// FakeConnector records every ConnectAsync call. In manual mode tests end
// attempts with Succeed or Fail; with an Outcome set, each attempt
// completes on its own goroutine after Delay.
type FakeConnector struct {
	mu       sync.Mutex
	attempts []*Attempt
	changed  chan struct{}

	outcome Outcome
	delay   time.Duration
}

// NewFakeConnector returns a manual-mode connector.
func NewFakeConnector() *FakeConnector {
	return &FakeConnector{changed: make(chan struct{})}
}

// NewAutoConnector returns a connector that completes attempt n (0-based)
// with outcome(n) after delay. A nil outcome always succeeds.
func NewAutoConnector(outcome Outcome, delay time.Duration) *FakeConnector {
	if outcome == nil {
		outcome = func(int) error { return nil }
	}
	f := NewFakeConnector()
	f.outcome = outcome
	f.delay = delay
	return f
}

// FailEvery returns an Outcome failing the attempts whose index is in idx.
func FailEvery(idx ...int) Outcome {
	failing := make(map[int]bool, len(idx))
	for _, i := range idx {
		failing[i] = true
	}
	return func(n int) error {
		if failing[n] {
			return ErrRefused
		}
		return nil
	}
}

// ConnectAsync implements transport.Connector.
func (f *FakeConnector) ConnectAsync(ep transport.Endpoint, onComplete func(transport.Result)) transport.CancelFunc {
	a := &Attempt{Endpoint: ep, onComplete: onComplete}

	f.mu.Lock()
	n := len(f.attempts)
	f.attempts = append(f.attempts, a)
	close(f.changed)
	f.changed = make(chan struct{})
	outcome, delay := f.outcome, f.delay
	f.mu.Unlock()

	if outcome != nil {
		go func() {
			if delay > 0 {
				time.Sleep(delay)
			}
			a.complete(resultFor(ep, outcome(n)))
		}()
	}

	return func() {
		a.mu.Lock()
		if a.done {
			a.mu.Unlock()
			return
		}
		a.canceled = true
		a.mu.Unlock()
		go a.complete(transport.Result{Err: &transport.ConnectError{Endpoint: ep, Err: apperrors.ErrConnectCanceled}})
	}
}

func resultFor(ep transport.Endpoint, err error) transport.Result {
	if err != nil {
		return transport.Result{Err: &transport.ConnectError{Endpoint: ep, Err: err}}
	}
	return transport.Result{Conn: NewMockConn()}
}

// Attempts returns the number of ConnectAsync calls so far.
func (f *FakeConnector) Attempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.attempts)
}

// Attempt returns the i-th recorded attempt.
func (f *FakeConnector) Attempt(i int) *Attempt {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[i]
}

// WaitAttempts blocks until at least n attempts were made or timeout elapses.
func (f *FakeConnector) WaitAttempts(n int, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		f.mu.Lock()
		got, changed := len(f.attempts), f.changed
		f.mu.Unlock()
		if got >= n {
			return true
		}
		select {
		case <-changed:
		case <-deadline.C:
			return false
		}
	}
}

// Succeed completes attempt i with a new MockConn and returns it.
// It panics if the attempt already completed.
func (f *FakeConnector) Succeed(i int) *MockConn {
	conn := NewMockConn()
	if !f.Attempt(i).complete(transport.Result{Conn: conn}) {
		panic(fmt.Sprintf("testutil: attempt %d already completed", i))
	}
	return conn
}

// Fail completes attempt i with err, or ErrRefused if err is nil.
func (f *FakeConnector) Fail(i int, err error) {
	if err == nil {
		err = ErrRefused
	}
	a := f.Attempt(i)
	if !a.complete(transport.Result{Err: &transport.ConnectError{Endpoint: a.Endpoint, Err: err}}) {
		panic(fmt.Sprintf("testutil: attempt %d already completed", i))
	}
}
