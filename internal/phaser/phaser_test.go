package phaser

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPhaser_singleParty(t *testing.T) {
	p := New()
	require.Equal(t, 0, p.Register())
	for i := 0; i < 5; i++ {
		require.Equal(t, i+1, p.ArriveAndAwaitAdvance())
	}
	assert.Equal(t, 5, p.Phase())
	assert.Equal(t, 1, p.Registered())
	assert.Equal(t, 0, p.Arrived())
}

func TestPhaser_arriveAndAwaitAdvance_allParties(t *testing.T) {
	const parties = 8
	p := New()
	for i := 0; i < parties; i++ {
		p.Register()
	}
	var (
		wg      sync.WaitGroup
		before  atomic.Int32
		invalid atomic.Int32
	)
	for i := 0; i < parties; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for phase := 0; phase < 10; phase++ {
				before.Add(1)
				next := p.ArriveAndAwaitAdvance()
				// every party must have arrived at this phase before any leaves it
				if before.Load() < int32(parties*(phase+1)) {
					invalid.Add(1)
				}
				if next != phase+1 {
					invalid.Add(1)
				}
			}
		}()
	}
	wg.Wait()
	assert.Zero(t, invalid.Load())
	assert.Equal(t, 10, p.Phase())
}

func TestPhaser_arriveThenAwait(t *testing.T) {
	p := New()
	p.Register()
	p.Register()

	phase := p.Arrive()
	require.Equal(t, 0, phase)
	require.Equal(t, 1, p.Arrived())
	require.Equal(t, 1, p.Unarrived())

	_, ok := p.AwaitAdvanceTimeout(phase, 10*time.Millisecond)
	require.False(t, ok)

	done := make(chan int)
	go func() { done <- p.ArriveAndAwaitAdvance() }()

	next, ok := p.AwaitAdvanceTimeout(phase, time.Second*5)
	require.True(t, ok)
	require.Equal(t, 1, next)
	require.Equal(t, 1, <-done)
}

func TestPhaser_awaitAdvance_stalePhase(t *testing.T) {
	p := New()
	p.Register()
	p.ArriveAndAwaitAdvance()
	assert.Equal(t, 1, p.AwaitAdvance(0))
	next, ok := p.AwaitAdvanceTimeout(0, time.Millisecond)
	assert.True(t, ok)
	assert.Equal(t, 1, next)
	next, err := p.AwaitAdvanceContext(context.Background(), 0)
	assert.NoError(t, err)
	assert.Equal(t, 1, next)
}

func TestPhaser_awaitAdvanceContext_canceled(t *testing.T) {
	p := New()
	p.Register()
	p.Register()
	phase := p.Arrive()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got, err := p.AwaitAdvanceContext(ctx, phase)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, phase, got)
}

func TestPhaser_deregisterCompletesPhase(t *testing.T) {
	p := New()
	p.Register()
	p.Register()
	phase := p.Arrive()

	// the remaining party leaves, rather than arriving
	p.Deregister()

	next, ok := p.AwaitAdvanceTimeout(phase, time.Second*5)
	require.True(t, ok)
	assert.Equal(t, 1, next)
	assert.Equal(t, 1, p.Registered())
}

func TestPhaser_zeroPartiesNeverTerminates(t *testing.T) {
	p := New()
	p.Register()
	p.ArriveAndDeregister()
	assert.Equal(t, 0, p.Registered())
	assert.Equal(t, 1, p.Phase())

	// registration may resume, and the barrier continues to function
	phase := p.Register()
	assert.Equal(t, 1, phase)
	assert.Equal(t, 2, p.ArriveAndAwaitAdvance())
}

func TestPhaser_registerDuringPhase(t *testing.T) {
	p := New()
	p.Register()
	p.Register()
	phase := p.Arrive()
	p.Register() // now two unarrived
	assert.Equal(t, 2, p.Unarrived())
	p.Arrive()
	_, ok := p.AwaitAdvanceTimeout(phase, 10*time.Millisecond)
	assert.False(t, ok)
	p.Arrive()
	_, ok = p.AwaitAdvanceTimeout(phase, time.Second)
	assert.True(t, ok)
}

func TestPhaser_misuse(t *testing.T) {
	for _, tc := range [...]struct {
		name string
		fn   func(p *Phaser)
	}{
		{`arrive unregistered`, func(p *Phaser) { p.Arrive() }},
		{`deregister unregistered`, func(p *Phaser) { p.Deregister() }},
		{`arrive after leaving`, func(p *Phaser) {
			p.Register()
			p.Deregister()
			p.Arrive()
		}},
		{`deregister twice`, func(p *Phaser) {
			p.Register()
			p.Deregister()
			p.Deregister()
		}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			assert.Panics(t, func() { tc.fn(New()) })
		})
	}
}
