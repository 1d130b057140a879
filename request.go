package safepoint

type (
	// Predicate selects the threads that should run a safepoint action. It
	// is evaluated on each participating thread's own goroutine.
	Predicate func(t *Thread) bool

	// Action is run at a safepoint, on the goroutine of each thread selected
	// by the Predicate.
	//
	// An Action may also implement the optional interface
	// `interface{ Deferrable() bool }`, see DeferrableActionFunc.
	Action interface {
		Run(t *Thread)
	}

	// ActionFunc implements Action, as a non-deferrable action.
	ActionFunc func(t *Thread)

	// DeferrableActionFunc implements Action, as a deferrable action.
	//
	// Deferrable actions are not run during the safepoint, but immediately
	// after, and only if the thread is interruptible at that point, see
	// InterruptMode. Otherwise, they are queued, see
	// Thread.RunPendingActions.
	DeferrableActionFunc func(t *Thread)

	// FiberAccessor returns the fiber currently executing on the given
	// thread, as known by the cooperative scheduler. It is called on the
	// thread's own goroutine.
	FiberAccessor func(t *Thread) *Fiber

	// request models the package of state, installed by the driving thread,
	// for the duration of a single safepoint.
	request struct {
		predicate Predicate
		action    Action
		reason    string
	}
)

// Run implements Action.
func (f ActionFunc) Run(t *Thread) { f(t) }

// Run implements Action.
func (f DeferrableActionFunc) Run(t *Thread) { f(t) }

// Deferrable always returns true.
func (f DeferrableActionFunc) Deferrable() bool { return true }

// IsDeferrable reports whether the action should be returned to (rather than
// run within) the safepoint protocol.
func IsDeferrable(action Action) bool {
	if v, ok := action.(interface{ Deferrable() bool }); ok {
		return v.Deferrable()
	}
	return false
}

// AllThreads is a Predicate matching every thread.
func AllThreads(*Thread) bool { return true }

// NoThreads is a Predicate matching no threads.
func NoThreads(*Thread) bool { return false }

// ThreadIs returns a Predicate matching only target.
func ThreadIs(target *Thread) Predicate {
	return func(t *Thread) bool { return t == target }
}

// CurrentFiberOf returns a Predicate matching only target, and only while
// it is executing its active fiber. A nil fibers uses the active fiber of
// the thread, i.e. the predicate reduces to ThreadIs.
func CurrentFiberOf(fibers FiberAccessor, target *Thread) Predicate {
	return func(t *Thread) bool {
		if t != target {
			return false
		}
		if fibers == nil {
			return true
		}
		return fibers(t) == target.ActiveFiber()
	}
}

func (x *request) test(t *Thread) bool {
	if x.predicate == nil {
		return true
	}
	return x.predicate(t)
}

func defaultFiberAccessor(t *Thread) *Fiber {
	return t.ActiveFiber()
}
