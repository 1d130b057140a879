package safepoint

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInterruptMode_String(t *testing.T) {
	for _, tc := range [...]struct {
		mode InterruptMode
		want string
	}{
		{InterruptImmediate, `immediate`},
		{InterruptOnBlocking, `on_blocking`},
		{InterruptNever, `never`},
		{InterruptMode(42), `InterruptMode(42)`},
	} {
		t.Run(tc.want, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.mode.String())
		})
	}
}

func TestThread_interruptible(t *testing.T) {
	for _, tc := range [...]struct {
		mode     InterruptMode
		blocking bool
		want     bool
	}{
		{InterruptImmediate, false, true},
		{InterruptImmediate, true, true},
		{InterruptOnBlocking, false, false},
		{InterruptOnBlocking, true, true},
		{InterruptNever, false, false},
		{InterruptNever, true, false},
	} {
		t.Run(fmt.Sprintf(`%s blocking=%v`, tc.mode, tc.blocking), func(t *testing.T) {
			th := newThread(nil, `test`, 1)
			th.SetInterruptMode(tc.mode)
			assert.Equal(t, tc.want, th.interruptible(tc.blocking))
		})
	}
}

func TestThread_defaults(t *testing.T) {
	m, _ := newTestManager(t)
	th := m.EnterThread(`main`)
	defer th.Leave()

	assert.NotZero(t, th.ID())
	assert.Equal(t, getGoroutineID(), th.goid)
	assert.Equal(t, InterruptImmediate, th.InterruptMode())
	assert.Nil(t, th.Data())
	assert.Zero(t, th.PendingActions())

	fiber := th.ActiveFiber()
	require.NotNil(t, fiber)
	assert.Equal(t, th.ID(), fiber.ID)
	assert.Equal(t, `main`, fiber.Name)

	assert.Contains(t, th.String(), fmt.Sprintf(`Thread(id=%d, name="main", goroutine=%d`, th.ID(), th.goid))
	assert.Equal(t, `Thread(nil)`, (*Thread)(nil).String())
}

func TestThread_SetInterruptMode(t *testing.T) {
	th := newThread(nil, `test`, 1)
	assert.Equal(t, InterruptImmediate, th.SetInterruptMode(InterruptNever))
	assert.Equal(t, InterruptNever, th.SetInterruptMode(InterruptOnBlocking))
	assert.Equal(t, InterruptOnBlocking, th.InterruptMode())
}

func TestThread_RunPendingActions(t *testing.T) {
	th := newThread(nil, `test`, 1)
	var order []string
	th.deferAction(ActionFunc(func(th *Thread) {
		order = append(order, `a`)
		// deferred while draining
		th.deferAction(ActionFunc(func(*Thread) { order = append(order, `c`) }))
	}))
	th.deferAction(ActionFunc(func(*Thread) { order = append(order, `b`) }))
	assert.Equal(t, 2, th.PendingActions())

	th.RunPendingActions()
	assert.Equal(t, []string{`a`, `b`, `c`}, order)
	assert.Zero(t, th.PendingActions())

	th.RunPendingActions()
	assert.Equal(t, []string{`a`, `b`, `c`}, order)
}

func TestThread_WithInterruptMode(t *testing.T) {
	t.Run(`restores immediate and drains`, func(t *testing.T) {
		th := newThread(nil, `test`, 1)
		var ran bool
		th.WithInterruptMode(InterruptNever, func() {
			assert.Equal(t, InterruptNever, th.InterruptMode())
			th.deferAction(ActionFunc(func(*Thread) { ran = true }))
			assert.False(t, ran)
		})
		assert.True(t, ran)
		assert.Equal(t, InterruptImmediate, th.InterruptMode())
	})

	t.Run(`restores non-immediate without draining`, func(t *testing.T) {
		th := newThread(nil, `test`, 1)
		th.SetInterruptMode(InterruptOnBlocking)
		var ran bool
		th.WithInterruptMode(InterruptImmediate, func() {
			th.deferAction(ActionFunc(func(*Thread) { ran = true }))
		})
		assert.False(t, ran)
		assert.Equal(t, 1, th.PendingActions())
		assert.Equal(t, InterruptOnBlocking, th.InterruptMode())
	})

	t.Run(`restores on panic`, func(t *testing.T) {
		th := newThread(nil, `test`, 1)
		assert.Panics(t, func() {
			th.WithInterruptMode(InterruptNever, func() { panic(`some panic`) })
		})
		assert.Equal(t, InterruptImmediate, th.InterruptMode())
	})
}

func TestThread_Interrupted(t *testing.T) {
	th := newThread(nil, `test`, 1)
	select {
	case <-th.Interrupted():
		t.Fatal(`unexpected interrupt`)
	default:
	}

	// coalesced, never blocks
	th.interrupt()
	th.interrupt()
	require.NoError(t, defaultInterrupt(th))

	select {
	case <-th.Interrupted():
	case <-time.After(time.Second):
		t.Fatal(`expected interrupt`)
	}
	select {
	case <-th.Interrupted():
		t.Fatal(`unexpected interrupt`)
	default:
	}
}

func TestThread_Data(t *testing.T) {
	th := newThread(nil, `test`, 1)
	th.SetData(`some value`)
	assert.Equal(t, `some value`, th.Data())
	th.SetData(42)
	assert.Equal(t, 42, th.Data())
	th.SetData(nil)
	assert.Nil(t, th.Data())
}

func TestThread_ActiveFiber(t *testing.T) {
	th := newThread(nil, `test`, 1)
	initial := th.ActiveFiber()
	other := &Fiber{Name: `other`}
	th.SetActiveFiber(other)
	assert.Same(t, other, th.ActiveFiber())
	assert.NotSame(t, initial, th.ActiveFiber())
}

func TestPredicates(t *testing.T) {
	a := newThread(nil, `a`, 1)
	b := newThread(nil, `b`, 2)

	assert.True(t, AllThreads(a))
	assert.False(t, NoThreads(a))

	assert.True(t, ThreadIs(a)(a))
	assert.False(t, ThreadIs(a)(b))

	assert.True(t, CurrentFiberOf(nil, a)(a))
	assert.False(t, CurrentFiberOf(nil, a)(b))

	scheduled := &Fiber{Name: `scheduled`}
	fibers := func(*Thread) *Fiber { return scheduled }
	assert.False(t, CurrentFiberOf(fibers, a)(a))
	a.SetActiveFiber(scheduled)
	assert.True(t, CurrentFiberOf(fibers, a)(a))
	assert.False(t, CurrentFiberOf(fibers, a)(b))

	assert.True(t, (&request{}).test(a))
	assert.False(t, (&request{predicate: NoThreads}).test(a))
}

func TestIsDeferrable(t *testing.T) {
	assert.False(t, IsDeferrable(ActionFunc(func(*Thread) {})))
	assert.True(t, IsDeferrable(DeferrableActionFunc(func(*Thread) {})))
	assert.False(t, IsDeferrable(notDeferrable{}))
}

type notDeferrable struct{}

func (notDeferrable) Run(*Thread)      {}
func (notDeferrable) Deferrable() bool { return false }
