package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	apperrors "github.com/go-i2p/asyncpool/lib/errors"

	"github.com/go-i2p/onramp"
)

// GarlicConnector dials I2P endpoints through a SAM bridge. It owns one
// onramp.Garlic session, shared by every connect attempt.
//
// Open must be called before the connector is handed to a pool; attempts
// made while the session is closed fail with ErrTransportNotOpen.
type GarlicConnector struct {
	mu sync.RWMutex

	name    string
	samAddr string
	options []string

	garlic *onramp.Garlic
	isOpen bool

	dialer *DialConnector
}

// NewGarlicConnector creates a connector for the named SAM session. If
// options is empty, onramp.OPT_DEFAULTS is used.
func NewGarlicConnector(name, samAddr string, options []string, timeout time.Duration) *GarlicConnector {
	if len(options) == 0 {
		options = onramp.OPT_DEFAULTS
	}
	g := &GarlicConnector{
		name:    name,
		samAddr: samAddr,
		options: options,
	}
	g.dialer = NewDialConnector(g.dial, timeout)
	return g
}

// Open starts the SAM session.
func (g *GarlicConnector) Open() error {
	log.WithField("name", g.name).WithField("samAddr", g.samAddr).Debug("opening garlic connector")
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.isOpen {
		return apperrors.ErrTransportAlreadyOpen
	}

	garlic, err := onramp.NewGarlic(g.name, g.samAddr, g.options)
	if err != nil {
		log.WithError(err).Error("failed to create SAM session")
		return fmt.Errorf("opening SAM session %q: %w", g.name, err)
	}

	g.garlic = garlic
	g.isOpen = true
	log.WithField("name", g.name).Info("garlic connector opened")
	return nil
}

// IsOpen reports whether the SAM session is open.
func (g *GarlicConnector) IsOpen() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.isOpen
}

// Close shuts down the SAM session. Connections already handed out are not
// closed by this call.
func (g *GarlicConnector) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.isOpen {
		return nil
	}
	g.isOpen = false

	err := g.garlic.Close()
	g.garlic = nil
	if err != nil {
		log.WithError(err).Warn("error closing SAM session")
	}
	return err
}

// ConnectAsync implements Connector.
func (g *GarlicConnector) ConnectAsync(ep Endpoint, onComplete func(Result)) CancelFunc {
	return g.dialer.ConnectAsync(ep, onComplete)
}

// dial runs a blocking garlic dial and gives up when ctx ends. A connection
// that arrives after that is closed here.
func (g *GarlicConnector) dial(ctx context.Context, ep Endpoint) (Conn, error) {
	if !ep.IsI2P() {
		return nil, fmt.Errorf("%w: %s is not an I2P endpoint", apperrors.ErrInvalidEndpoint, ep)
	}

	g.mu.RLock()
	garlic := g.garlic
	g.mu.RUnlock()
	if garlic == nil {
		return nil, apperrors.ErrTransportNotOpen
	}

	type dialed struct {
		conn net.Conn
		err  error
	}
	done := make(chan dialed, 1)
	go func() {
		conn, err := garlic.Dial("tcp", ep.Address())
		done <- dialed{conn, err}
	}()

	select {
	case d := <-done:
		return d.conn, d.err
	case <-ctx.Done():
		go func() {
			if d := <-done; d.conn != nil {
				d.conn.Close()
			}
		}()
		return nil, ctx.Err()
	}
}
