package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	apperrors "github.com/go-i2p/asyncpool/lib/errors"
)

// DefaultDialTimeout bounds a single connect attempt.
const DefaultDialTimeout = 10 * time.Second

// DialFunc establishes one connection, blocking until it succeeds, fails or
// ctx ends.
type DialFunc func(ctx context.Context, ep Endpoint) (Conn, error)

// DialConnector turns a blocking DialFunc into a Connector. Every
// ConnectAsync runs the dial on its own goroutine under a context that the
// returned CancelFunc cancels.
type DialConnector struct {
	dial    DialFunc
	timeout time.Duration
}

// NewDialConnector creates a DialConnector. A timeout of zero or less uses
// DefaultDialTimeout.
func NewDialConnector(dial DialFunc, timeout time.Duration) *DialConnector {
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	return &DialConnector{
		dial:    dial,
		timeout: timeout,
	}
}

// NewTCPConnector returns a connector that dials TCP endpoints.
func NewTCPConnector(timeout time.Duration) *DialConnector {
	dialer := &net.Dialer{KeepAlive: 30 * time.Second}
	return NewDialConnector(func(ctx context.Context, ep Endpoint) (Conn, error) {
		return dialer.DialContext(ctx, "tcp", ep.Address())
	}, timeout)
}

// ConnectAsync implements Connector.
func (d *DialConnector) ConnectAsync(ep Endpoint, onComplete func(Result)) CancelFunc {
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		dialCtx, stop := context.WithTimeout(ctx, d.timeout)
		defer stop()

		start := time.Now()
		conn, err := d.dial(dialCtx, ep)
		if err == nil && conn == nil {
			err = errors.New("dialer returned no connection")
		}
		if err != nil {
			if ctx.Err() != nil {
				err = fmt.Errorf("%w: %v", apperrors.ErrConnectCanceled, err)
			}
			log.WithField("endpoint", ep.String()).WithError(err).Debug("connect attempt failed")
			onComplete(Result{Err: &ConnectError{Endpoint: ep, Err: err}})
			return
		}

		log.WithField("endpoint", ep.String()).
			WithField("elapsed", time.Since(start)).
			Debug("connect attempt succeeded")
		onComplete(Result{Conn: conn})
	}()

	return CancelFunc(cancel)
}
