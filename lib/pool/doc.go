// Package pool provides a bounded connection pool to a single endpoint.
//
// A pool owns a fixed number of slots. New starts one asynchronous connect
// per slot and returns at once; callers that Acquire before any connection
// is ready simply wait, bounded by their timeout. The pool never opens a
// connection on demand.
//
// # Basic Usage
//
//	ep, _ := transport.ParseEndpoint("db.internal:5432")
//	connector := transport.NewTCPConnector(5 * time.Second)
//
//	cfg := pool.DefaultConfig()
//	cfg.Size = 4
//
//	p, err := pool.New(ep, connector, cfg)
//	if err != nil {
//	    return err
//	}
//	defer p.Shutdown()
//
//	conn, ok := p.Acquire(2 * time.Second)
//	if !ok {
//	    return errNoConnection
//	}
//	defer p.Release(conn)
//
//	// Use connection...
//
// # Slot Lifecycle
//
// Every slot is in exactly one state: pending (connect in flight), ready
// (connection waiting in the ready set), checked-out, failed or retired.
// Stats reports the count of each; they always add up to the pool size.
// Ready connections are handed out oldest first.
//
// A failed connect leaves its slot failed. Set Config.Replacement to
// reconnect failed and discarded slots a bounded number of times.
//
// # Misuse
//
// Release and Discard reject nil, foreign and already returned connections
// with an error wrapping errors.ErrProtocolViolation; the pool state is left
// unchanged.
//
// # Metrics
//
// Pass a MetricsObserver as Config.Observer to export pool gauges, counters
// and an acquire latency histogram through a metrics.Registry.
package pool
