package pool

import "time"

// Observer receives pool events. Methods are called outside the pool lock,
// possibly from several goroutines at once, and must not block.
type Observer interface {
	// ConnectDone reports the outcome of a connect attempt for slot.
	ConnectDone(slot int, err error)
	// Acquired reports a successful acquire and how long it waited.
	Acquired(wait time.Duration)
	// AcquireTimedOut reports an acquire that ended without a connection.
	AcquireTimedOut(wait time.Duration)
	// Released reports a connection handed back with Release.
	Released()
	// Discarded reports a connection handed back with Discard.
	Discarded()
	// Violation reports a rejected Release or Discard.
	Violation(err error)
	// StatsChanged delivers a snapshot taken right after an event.
	StatsChanged(stats Stats)
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) ConnectDone(int, error)        {}
func (NopObserver) Acquired(time.Duration)        {}
func (NopObserver) AcquireTimedOut(time.Duration) {}
func (NopObserver) Released()                     {}
func (NopObserver) Discarded()                    {}
func (NopObserver) Violation(error)               {}
func (NopObserver) StatsChanged(Stats)            {}
