package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/go-i2p/asyncpool/lib/errors"
	"github.com/go-i2p/asyncpool/lib/transport"

	"golang.org/x/time/rate"
)

// DefaultAcquireTimeout is the wait applied by AcquireContext when the
// context carries no deadline.
const DefaultAcquireTimeout = 30 * time.Second

// ReplacementPolicy controls whether failed or discarded slots are
// reconnected. The zero value disables replacement.
type ReplacementPolicy struct {
	// MaxAttempts is the number of replacement connects allowed per slot.
	MaxAttempts int
	// Interval is the minimum spacing between replacement connects across
	// the whole pool. Zero means no pacing.
	Interval time.Duration
}

// Enabled reports whether any replacement is allowed.
func (r ReplacementPolicy) Enabled() bool {
	return r.MaxAttempts > 0
}

// Config configures the connection pool.
type Config struct {
	// Size is the fixed number of connection slots.
	// Default: 10
	Size int
	// AcquireTimeout is how long AcquireContext waits when its context has
	// no deadline.
	// Default: 30 seconds
	AcquireTimeout time.Duration
	// Replacement reconnects failed slots. Disabled by default.
	Replacement ReplacementPolicy
	// Observer receives pool events. Nil means NopObserver.
	Observer Observer
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Size:           10,
		AcquireTimeout: DefaultAcquireTimeout,
	}
}

type slotState int

const (
	slotPending slotState = iota
	slotReady
	slotCheckedOut
	slotFailed
	slotRetired
)

func (s slotState) String() string {
	switch s {
	case slotPending:
		return "pending"
	case slotReady:
		return "ready"
	case slotCheckedOut:
		return "checked-out"
	case slotFailed:
		return "failed"
	case slotRetired:
		return "retired"
	default:
		return "unknown"
	}
}

// slot is one of the pool's Size connection lifecycles.
type slot struct {
	index int
	state slotState
	conn  transport.Conn

	// gen identifies the current connect attempt; completions carrying an
	// older generation are stale.
	gen    uint64
	cancel transport.CancelFunc

	replacements int
}

// Pool hands out at most Size connections to one endpoint. Connections are
// opened once, in the background, when the pool is created.
//
// Connections are tracked by identity, so transport.Conn implementations
// must be comparable (pointer types are).
type Pool struct {
	endpoint  transport.Endpoint
	connector transport.Connector
	config    Config
	observer  Observer
	limiter   *rate.Limiter

	mu    sync.Mutex
	cond  *sync.Cond
	slots []*slot
	ready []*slot // FIFO
	owned map[transport.Conn]*slot

	closed bool
	stop   context.Context
	halt   context.CancelFunc

	acquireCount    uint64
	acquireSuccess  uint64
	acquireTimeouts uint64
	releaseCount    uint64
	discardCount    uint64
	violations      uint64
	replacements    uint64
	seq             uint64
}

// New creates a pool and starts cfg.Size connect attempts to endpoint. It
// returns without waiting for any of them.
func New(endpoint transport.Endpoint, connector transport.Connector, cfg Config) (*Pool, error) {
	if cfg.Size < 1 {
		return nil, apperrors.ErrInvalidPoolSize
	}
	if connector == nil {
		return nil, apperrors.ErrNilConnector
	}
	if err := endpoint.Validate(); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInvalidInput, "invalid pool endpoint", err)
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = DefaultAcquireTimeout
	}
	if cfg.Replacement.MaxAttempts < 0 {
		cfg.Replacement.MaxAttempts = 0
	}
	observer := cfg.Observer
	if observer == nil {
		observer = NopObserver{}
	}

	limit := rate.Inf
	if cfg.Replacement.Interval > 0 {
		limit = rate.Every(cfg.Replacement.Interval)
	}

	p := &Pool{
		endpoint:  endpoint,
		connector: connector,
		config:    cfg,
		observer:  observer,
		limiter:   rate.NewLimiter(limit, 1),
		slots:     make([]*slot, cfg.Size),
		ready:     make([]*slot, 0, cfg.Size),
		owned:     make(map[transport.Conn]*slot, cfg.Size),
	}
	p.cond = sync.NewCond(&p.mu)
	p.stop, p.halt = context.WithCancel(context.Background())

	for i := range p.slots {
		p.slots[i] = &slot{index: i, state: slotPending}
	}

	log.WithField("endpoint", endpoint.String()).
		WithField("size", cfg.Size).
		WithField("replacement", cfg.Replacement.MaxAttempts).
		Info("pool created")

	for _, s := range p.slots {
		p.connect(s, 0)
	}
	return p, nil
}

// Endpoint returns the endpoint every connection is made to.
func (p *Pool) Endpoint() transport.Endpoint {
	return p.endpoint
}

// Size returns the number of slots.
func (p *Pool) Size() int {
	return p.config.Size
}

// connect starts attempt gen for s and records its cancel handle.
// It must be called without holding p.mu.
func (p *Pool) connect(s *slot, gen uint64) {
	cancel := p.connector.ConnectAsync(p.endpoint, func(r transport.Result) {
		p.complete(s, gen, r)
	})

	p.mu.Lock()
	if s.gen != gen || s.state != slotPending {
		p.mu.Unlock()
		return
	}
	if p.closed {
		p.mu.Unlock()
		cancel()
		return
	}
	s.cancel = cancel
	p.mu.Unlock()
}

// complete handles the outcome of a connect attempt.
func (p *Pool) complete(s *slot, gen uint64, r transport.Result) {
	err := r.Err
	if err == nil && r.Conn == nil {
		err = fmt.Errorf("%w: connector returned no connection", apperrors.ErrConnection)
	}

	p.mu.Lock()
	if s.gen != gen || s.state != slotPending {
		state := s.state
		p.mu.Unlock()
		log.WithField("slot", s.index).WithField("state", state.String()).Debug("ignoring stale connect completion")
		if r.Conn != nil {
			r.Conn.Close()
		}
		return
	}
	s.cancel = nil

	var toClose transport.Conn
	replace := false
	switch {
	case err != nil:
		toClose = r.Conn
		if !p.closed && p.canReplaceLocked(s) {
			p.scheduleLocked(s)
			replace = true
		} else {
			s.state = slotFailed
		}
	case p.closed:
		toClose = r.Conn
		s.state = slotRetired
	default:
		s.conn = r.Conn
		s.state = slotReady
		p.owned[r.Conn] = s
		p.ready = append(p.ready, s)
		p.cond.Signal()
	}
	gen = s.gen
	stats := p.statsLocked()
	p.mu.Unlock()

	if toClose != nil {
		toClose.Close()
	}

	entry := log.WithField("slot", s.index).WithField("endpoint", p.endpoint.String())
	switch {
	case apperrors.IsInvalidInput(err):
		// The connector rejected the endpoint itself.
		entry.WithField("code", apperrors.CodeOf(err)).WithError(err).Error("connect attempt rejected")
	case err != nil:
		entry.WithField("code", apperrors.CodeOf(err)).WithError(err).Warn("connect attempt failed")
	default:
		entry.Debug("connection ready")
	}

	p.observer.ConnectDone(s.index, err)
	p.observer.StatsChanged(stats)

	if replace {
		go p.replace(s, gen)
	}
}

// canReplaceLocked reports whether s may be reconnected. Caller must hold p.mu.
func (p *Pool) canReplaceLocked(s *slot) bool {
	return s.replacements < p.config.Replacement.MaxAttempts
}

// scheduleLocked moves s back to pending under a new attempt generation.
// Caller must hold p.mu.
func (p *Pool) scheduleLocked(s *slot) {
	s.replacements++
	s.gen++
	s.conn = nil
	s.state = slotPending
	p.replacements++
}

// replace waits for the pacing limiter, then reconnects s.
func (p *Pool) replace(s *slot, gen uint64) {
	if err := p.limiter.Wait(p.stop); err != nil {
		p.retirePending(s, gen)
		return
	}

	p.mu.Lock()
	closed, attempt := p.closed, s.replacements
	p.mu.Unlock()
	if closed {
		p.retirePending(s, gen)
		return
	}

	log.WithField("slot", s.index).WithField("attempt", attempt).Debug("replacing connection")
	p.connect(s, gen)
}

// retirePending retires s if attempt gen never started.
func (p *Pool) retirePending(s *slot, gen uint64) {
	p.mu.Lock()
	if s.gen != gen || s.state != slotPending || s.cancel != nil {
		p.mu.Unlock()
		return
	}
	s.state = slotRetired
	stats := p.statsLocked()
	p.mu.Unlock()

	p.observer.StatsChanged(stats)
}

// Acquire waits up to timeout for a ready connection. A timeout of zero or
// less checks the ready set once without blocking. ok is false when no
// connection became available, including after Shutdown.
func (p *Pool) Acquire(timeout time.Duration) (conn transport.Conn, ok bool) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	conn, err := p.AcquireContext(ctx)
	return conn, err == nil
}

// AcquireContext waits for a ready connection until ctx ends. It returns
// ErrPoolTimeout when the deadline passes, ctx.Err() when ctx is canceled
// and ErrPoolClosed after Shutdown. A context without a deadline is bounded
// by Config.AcquireTimeout.
//
// The ready set is checked before the deadline, so a context that is
// already done still gets one non-blocking attempt.
func (p *Pool) AcquireContext(ctx context.Context) (transport.Conn, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.AcquireTimeout)
		defer cancel()
	}

	start := time.Now()
	p.mu.Lock()
	p.acquireCount++

	stopWake := context.AfterFunc(ctx, func() {
		p.mu.Lock()
		p.cond.Broadcast()
		p.mu.Unlock()
	})
	defer stopWake()

	for {
		if p.closed {
			p.mu.Unlock()
			log.Debug("acquire on closed pool")
			return nil, apperrors.ErrPoolClosed
		}

		if s := p.popReadyLocked(); s != nil {
			s.state = slotCheckedOut
			p.acquireSuccess++
			conn := s.conn
			stats := p.statsLocked()
			p.mu.Unlock()

			wait := time.Since(start)
			log.WithField("slot", s.index).WithField("wait", wait).Debug("connection acquired")
			p.observer.Acquired(wait)
			p.observer.StatsChanged(stats)
			return conn, nil
		}

		if err := ctx.Err(); err != nil {
			p.acquireTimeouts++
			stats := p.statsLocked()
			p.mu.Unlock()

			wait := time.Since(start)
			log.WithField("wait", wait).Debug("no connection available")
			p.observer.AcquireTimedOut(wait)
			p.observer.StatsChanged(stats)
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, apperrors.ErrPoolTimeout
			}
			return nil, err
		}

		p.cond.Wait()
	}
}

// popReadyLocked removes the oldest ready slot. Caller must hold p.mu.
func (p *Pool) popReadyLocked() *slot {
	if len(p.ready) == 0 {
		return nil
	}
	s := p.ready[0]
	p.ready[0] = nil
	p.ready = p.ready[1:]
	return s
}

// Release returns a checked-out connection to the ready set and wakes one
// waiter. Releasing nil, a connection the pool never handed out or one that
// was already returned fails with an error wrapping ErrProtocolViolation and
// leaves the pool untouched. After Shutdown the connection is dropped from
// the pool without being closed and ErrPoolClosed is returned.
func (p *Pool) Release(conn transport.Conn) error {
	p.mu.Lock()
	s, err := p.checkedOutLocked(conn)
	if err != nil {
		p.violations++
		stats := p.statsLocked()
		p.mu.Unlock()
		return p.violation(err, stats)
	}

	p.releaseCount++
	if p.closed {
		delete(p.owned, conn)
		s.conn = nil
		s.state = slotRetired
		stats := p.statsLocked()
		p.mu.Unlock()

		log.WithField("slot", s.index).Debug("connection returned after shutdown")
		p.observer.Released()
		p.observer.StatsChanged(stats)
		return apperrors.ErrPoolClosed
	}

	s.state = slotReady
	p.ready = append(p.ready, s)
	p.cond.Signal()
	stats := p.statsLocked()
	p.mu.Unlock()

	log.WithField("slot", s.index).Debug("connection released")
	p.observer.Released()
	p.observer.StatsChanged(stats)
	return nil
}

// Discard takes back a checked-out connection the caller found broken. The
// pool closes it and retires the slot, or reconnects the slot when the
// replacement policy allows. It follows the same misuse rules as Release.
func (p *Pool) Discard(conn transport.Conn) error {
	p.mu.Lock()
	s, err := p.checkedOutLocked(conn)
	if err != nil {
		p.violations++
		stats := p.statsLocked()
		p.mu.Unlock()
		return p.violation(err, stats)
	}

	p.discardCount++
	delete(p.owned, conn)
	s.conn = nil

	replace := false
	if !p.closed && p.canReplaceLocked(s) {
		p.scheduleLocked(s)
		replace = true
	} else {
		s.state = slotRetired
	}
	gen := s.gen
	closed := p.closed
	stats := p.statsLocked()
	p.mu.Unlock()

	if err := conn.Close(); err != nil {
		log.WithField("slot", s.index).WithError(err).Debug("error closing discarded connection")
	}
	log.WithField("slot", s.index).WithField("replace", replace).Debug("connection discarded")
	p.observer.Discarded()
	p.observer.StatsChanged(stats)

	if replace {
		go p.replace(s, gen)
	}
	if closed {
		return apperrors.ErrPoolClosed
	}
	return nil
}

// checkedOutLocked finds the slot holding conn and checks that the caller
// owns it. Caller must hold p.mu.
func (p *Pool) checkedOutLocked(conn transport.Conn) (*slot, error) {
	if conn == nil {
		return nil, fmt.Errorf("%w: nil connection", apperrors.ErrUnknownConnection)
	}
	s, ok := p.owned[conn]
	if !ok {
		return nil, apperrors.ErrUnknownConnection
	}
	if s.state != slotCheckedOut {
		return nil, apperrors.ErrDoubleRelease
	}
	return s, nil
}

func (p *Pool) violation(err error, stats Stats) error {
	log.WithField("code", apperrors.CodeOf(err)).WithError(err).Warn("connection protocol violation")
	p.observer.Violation(err)
	p.observer.StatsChanged(stats)
	return err
}

// Shutdown cancels pending connect attempts, closes every ready connection
// and wakes all waiters. Connections that are checked out stay open; their
// holders may still Release them. Calling Shutdown more than once is a no-op.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.halt()

	var cancels []transport.CancelFunc
	for _, s := range p.slots {
		if s.state == slotPending && s.cancel != nil {
			cancels = append(cancels, s.cancel)
			s.cancel = nil
		}
	}

	toClose := make([]transport.Conn, 0, len(p.ready))
	for _, s := range p.ready {
		toClose = append(toClose, s.conn)
		delete(p.owned, s.conn)
		s.conn = nil
		s.state = slotRetired
	}
	p.ready = nil

	p.cond.Broadcast()
	stats := p.statsLocked()
	p.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	for _, conn := range toClose {
		if err := conn.Close(); err != nil {
			log.WithError(err).Debug("error closing connection at shutdown")
		}
	}

	log.WithField("endpoint", p.endpoint.String()).
		WithField("canceled", len(cancels)).
		WithField("closed", len(toClose)).
		WithField("checkedOut", stats.CheckedOut).
		Info("pool shut down")
	p.observer.StatsChanged(stats)
}

// Closed reports whether Shutdown was called.
func (p *Pool) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
