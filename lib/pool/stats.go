package pool

// Stats is a point-in-time snapshot of the pool.
//
// Ready + CheckedOut + Pending + Failed + Retired always equals Size.
type Stats struct {
	// Size is the number of slots.
	Size int `json:"size"`
	// Ready is the number of connections waiting to be acquired.
	Ready int `json:"ready"`
	// CheckedOut is the number of connections held by callers.
	CheckedOut int `json:"checked_out"`
	// Pending is the number of connect attempts not yet completed.
	Pending int `json:"pending"`
	// Failed is the number of slots whose connect attempt failed.
	Failed int `json:"failed"`
	// Retired is the number of slots whose connection was discarded,
	// closed at shutdown or returned after shutdown.
	Retired int `json:"retired"`

	AcquireCount    uint64 `json:"acquire_count"`
	AcquireSuccess  uint64 `json:"acquire_success"`
	AcquireTimeouts uint64 `json:"acquire_timeouts"`
	ReleaseCount    uint64 `json:"release_count"`
	DiscardCount    uint64 `json:"discard_count"`
	Violations      uint64 `json:"violations"`
	Replacements    uint64 `json:"replacements"`

	// Seq orders snapshots of one pool: a later snapshot has a larger Seq.
	Seq uint64 `json:"seq"`
}

// Accounted returns the sum of the slot state counts.
func (s Stats) Accounted() int {
	return s.Ready + s.CheckedOut + s.Pending + s.Failed + s.Retired
}

// Stats returns current pool statistics.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statsLocked()
}

// statsLocked builds a snapshot. Caller must hold p.mu.
func (p *Pool) statsLocked() Stats {
	p.seq++
	st := Stats{
		Seq:             p.seq,
		Size:            len(p.slots),
		AcquireCount:    p.acquireCount,
		AcquireSuccess:  p.acquireSuccess,
		AcquireTimeouts: p.acquireTimeouts,
		ReleaseCount:    p.releaseCount,
		DiscardCount:    p.discardCount,
		Violations:      p.violations,
		Replacements:    p.replacements,
	}
	for _, s := range p.slots {
		switch s.state {
		case slotPending:
			st.Pending++
		case slotReady:
			st.Ready++
		case slotCheckedOut:
			st.CheckedOut++
		case slotFailed:
			st.Failed++
		case slotRetired:
			st.Retired++
		}
	}
	return st
}
