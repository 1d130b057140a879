// Package phaser implements a reusable, dynamically sized, multi-phase
// barrier.
//
// Parties may register and deregister between (and during) phases. A phase
// advances exactly when every registered party has arrived. Unlike some
// barrier implementations, a Phaser never terminates: the phase may advance
// with zero registered parties, and registration may later resume.
package phaser

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Phaser is a reusable rendezvous barrier. The zero value is not usable, use
// New.
type Phaser struct {
	// advance is closed when the current phase completes, and replaced
	advance chan struct{}
	mu      sync.Mutex
	parties int
	arrived int
	phase   int
}

// New returns a Phaser with no registered parties, at phase 0.
func New() *Phaser {
	return &Phaser{advance: make(chan struct{})}
}

// Register adds a new unarrived party to the current phase, returning the
// phase number.
func (x *Phaser) Register() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.parties++
	return x.phase
}

// Deregister removes an unarrived party, returning the phase number prior to
// any advance this triggers. If every remaining party has already arrived,
// the phase advances.
func (x *Phaser) Deregister() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.parties-x.arrived <= 0 {
		panic(fmt.Errorf(`phaser: deregister with no unarrived parties (registered=%d, arrived=%d)`, x.parties, x.arrived))
	}
	x.parties--
	phase := x.phase
	x.maybeAdvanceLocked()
	return phase
}

// ArriveAndDeregister is an alias of Deregister, arriving at the current
// phase without waiting, and leaving the barrier.
func (x *Phaser) ArriveAndDeregister() int { return x.Deregister() }

// Arrive marks one party as arrived at the current phase, without waiting
// for the others, returning the arrival phase number. Use AwaitAdvance (or
// a variant) to wait for the phase to complete.
func (x *Phaser) Arrive() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.arriveLocked()
}

// ArriveAndAwaitAdvance arrives at the current phase and blocks until it
// completes, returning the new phase number.
func (x *Phaser) ArriveAndAwaitAdvance() int {
	x.mu.Lock()
	phase := x.arriveLocked()
	if x.phase != phase {
		// we were the last party
		next := x.phase
		x.mu.Unlock()
		return next
	}
	ch := x.advance
	x.mu.Unlock()
	<-ch
	return phase + 1
}

// AwaitAdvance blocks until the given phase completes, returning the next
// phase number. Returns immediately if the current phase differs.
func (x *Phaser) AwaitAdvance(phase int) int {
	ch, current, ok := x.waitChan(phase)
	if !ok {
		return current
	}
	<-ch
	return phase + 1
}

// AwaitAdvanceTimeout behaves like AwaitAdvance, but gives up after d,
// returning false if the phase didn't complete in time.
func (x *Phaser) AwaitAdvanceTimeout(phase int, d time.Duration) (int, bool) {
	ch, current, ok := x.waitChan(phase)
	if !ok {
		return current, true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ch:
		return phase + 1, true
	case <-timer.C:
		return phase, false
	}
}

// AwaitAdvanceContext behaves like AwaitAdvance, but returns ctx.Err() if
// ctx is done before the phase completes.
func (x *Phaser) AwaitAdvanceContext(ctx context.Context, phase int) (int, error) {
	ch, current, ok := x.waitChan(phase)
	if !ok {
		return current, nil
	}
	select {
	case <-ch:
		return phase + 1, nil
	case <-ctx.Done():
		return phase, ctx.Err()
	}
}

// Phase returns the current phase number.
func (x *Phaser) Phase() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.phase
}

// Registered returns the number of registered parties.
func (x *Phaser) Registered() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.parties
}

// Arrived returns the number of parties that have arrived at the current
// phase.
func (x *Phaser) Arrived() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.arrived
}

// Unarrived returns the number of registered parties that have not yet
// arrived at the current phase.
func (x *Phaser) Unarrived() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.parties - x.arrived
}

func (x *Phaser) waitChan(phase int) (ch <-chan struct{}, current int, ok bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.phase != phase {
		return nil, x.phase, false
	}
	return x.advance, x.phase, true
}

func (x *Phaser) arriveLocked() int {
	if x.arrived >= x.parties {
		panic(fmt.Errorf(`phaser: arrival exceeds registered parties (registered=%d, arrived=%d)`, x.parties, x.arrived))
	}
	x.arrived++
	phase := x.phase
	x.maybeAdvanceLocked()
	return phase
}

func (x *Phaser) maybeAdvanceLocked() {
	if x.arrived != x.parties {
		return
	}
	x.phase++
	x.arrived = 0
	close(x.advance)
	x.advance = make(chan struct{})
}
