package safepoint

import (
	"fmt"
	"sync/atomic"
)

// InterruptMode governs whether a deferrable safepoint action runs as soon as
// the thread reaches the safepoint, or is queued until the thread reaches a
// convenient interruptible point.
type InterruptMode int32

const (
	// InterruptImmediate runs deferrable actions at the safepoint.
	InterruptImmediate InterruptMode = iota
	// InterruptOnBlocking runs deferrable actions only if the safepoint was
	// reached from a blocking call, see Thread.PollFromBlockingCall.
	InterruptOnBlocking
	// InterruptNever always queues deferrable actions.
	InterruptNever
)

// String returns the string representation of the interrupt mode.
func (x InterruptMode) String() string {
	switch x {
	case InterruptImmediate:
		return "immediate"
	case InterruptOnBlocking:
		return "on_blocking"
	case InterruptNever:
		return "never"
	default:
		return fmt.Sprintf("InterruptMode(%d)", int32(x))
	}
}

type (
	// Thread is a worker participating in safepoints, bound to the goroutine
	// that called Manager.EnterThread.
	//
	// Unless otherwise documented, methods must only be called from the
	// thread's own goroutine.
	Thread struct {
		data       atomic.Value
		manager    *Manager
		fiber      atomic.Pointer[Fiber]
		interrupts chan struct{}
		name       string
		pending    []Action
		id         uint64
		goid       uint64
		osThreadID int
		mode       atomic.Int32
		registered atomic.Bool
		foreign    bool
	}

	// Fiber identifies a cooperative sub-task, hosted by a Thread. Fibers
	// are compared by identity.
	Fiber struct {
		Name string
		ID   uint64
	}

	// threadData wraps values stored via Thread.SetData, as atomic.Value
	// requires a consistent concrete type.
	threadData struct{ v any }
)

var threadIDCounter atomic.Uint64

func newThread(manager *Manager, name string, goid uint64) *Thread {
	t := &Thread{
		manager:    manager,
		interrupts: make(chan struct{}, 1),
		name:       name,
		id:         threadIDCounter.Add(1),
		goid:       goid,
		osThreadID: getOSThreadID(),
	}
	t.fiber.Store(&Fiber{ID: t.id, Name: name})
	return t
}

// ID returns the unique id of the thread. Safe for concurrent use.
func (t *Thread) ID() uint64 { return t.id }

// Name returns the name the thread was registered with. Safe for concurrent use.
func (t *Thread) Name() string { return t.name }

// Manager returns the manager the thread belongs to. Safe for concurrent use.
func (t *Thread) Manager() *Manager { return t.manager }

// Registered reports whether the thread is still registered. Safe for
// concurrent use.
func (t *Thread) Registered() bool { return t.registered.Load() }

// String returns a diagnostic representation of the thread. Safe for
// concurrent use.
func (t *Thread) String() string {
	if t == nil {
		return "Thread(nil)"
	}
	if t.osThreadID != 0 {
		return fmt.Sprintf("Thread(id=%d, name=%q, goroutine=%d, tid=%d)", t.id, t.name, t.goid, t.osThreadID)
	}
	return fmt.Sprintf("Thread(id=%d, name=%q, goroutine=%d)", t.id, t.name, t.goid)
}

// Poll is the hot-path safepoint check. It must be called regularly, e.g. at
// loop back-edges, and call boundaries.
func (t *Thread) Poll() {
	if !t.manager.flag.Valid() {
		t.manager.assumptionInvalidated(t, false)
	}
}

// PollFromBlockingCall is a variant of Poll, for use by blocking calls, e.g.
// after being woken via Interrupted.
func (t *Thread) PollFromBlockingCall() {
	if !t.manager.flag.Valid() {
		t.manager.assumptionInvalidated(t, true)
	}
}

// Interrupted returns a channel that receives when the thread has been
// interrupted, which blocking calls should select on, polling (see
// PollFromBlockingCall) before resuming their wait.
//
// Interrupts are best-effort, and may be spurious.
func (t *Thread) Interrupted() <-chan struct{} { return t.interrupts }

// interrupt is the default Interrupter behavior. Safe for concurrent use.
func (t *Thread) interrupt() {
	select {
	case t.interrupts <- struct{}{}:
	default:
	}
}

// InterruptMode returns the current interrupt mode. Safe for concurrent use.
func (t *Thread) InterruptMode() InterruptMode {
	return InterruptMode(t.mode.Load())
}

// SetInterruptMode sets the interrupt mode, returning the previous mode.
// Pending actions are not drained, see WithInterruptMode.
func (t *Thread) SetInterruptMode(mode InterruptMode) InterruptMode {
	return InterruptMode(t.mode.Swap(int32(mode)))
}

// WithInterruptMode runs fn with the given interrupt mode, restoring the
// previous mode after. If the restored mode is InterruptImmediate, any
// pending actions are run.
func (t *Thread) WithInterruptMode(mode InterruptMode, fn func()) {
	prev := t.SetInterruptMode(mode)
	defer func() {
		t.SetInterruptMode(prev)
		if prev == InterruptImmediate {
			t.RunPendingActions()
		}
	}()
	fn()
}

// ActiveFiber returns the fiber recorded as active on this thread. Safe for
// concurrent use.
func (t *Thread) ActiveFiber() *Fiber {
	return t.fiber.Load()
}

// SetActiveFiber records the fiber now active on this thread. It is intended
// to be called by the cooperative scheduler, when switching fibers.
func (t *Thread) SetActiveFiber(fiber *Fiber) {
	t.fiber.Store(fiber)
}

// Data returns the value last passed to SetData. Safe for concurrent use.
func (t *Thread) Data() any {
	if v, ok := t.data.Load().(threadData); ok {
		return v.v
	}
	return nil
}

// SetData associates an arbitrary value with the thread. Safe for concurrent
// use.
func (t *Thread) SetData(v any) {
	t.data.Store(threadData{v})
}

// PendingActions returns the number of deferred actions, waiting for
// RunPendingActions.
func (t *Thread) PendingActions() int {
	return len(t.pending)
}

// RunPendingActions runs deferred actions in the order they were deferred,
// including any deferred while running.
func (t *Thread) RunPendingActions() {
	for len(t.pending) != 0 {
		action := t.pending[0]
		t.pending[0] = nil
		t.pending = t.pending[1:]
		action.Run(t)
	}
	t.pending = nil
}

// Leave is equivalent to calling Manager.LeaveThread from this thread's
// goroutine.
func (t *Thread) Leave() {
	if getGoroutineID() != t.goid {
		invariantViolation(`leave thread`, t, ErrWrongGoroutine)
	}
	t.manager.leaveThread(t)
}

func (t *Thread) interruptible(fromBlockingCall bool) bool {
	switch t.InterruptMode() {
	case InterruptImmediate:
		return true
	case InterruptOnBlocking:
		return fromBlockingCall
	default:
		return false
	}
}

func (t *Thread) deferAction(action Action) {
	t.pending = append(t.pending, action)
}
