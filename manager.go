package safepoint

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/go-safepoint/internal/phaser"
	"github.com/joeycumines/logiface"
)

type (
	// Manager coordinates safepoints, for a set of registered threads.
	//
	// Exactly one safepoint may be in progress at a time, driven by the
	// thread that requested it. Every other registered thread takes part by
	// polling (see Thread.Poll), which costs a single atomic load while no
	// safepoint is in progress.
	Manager struct {
		// Prevent copying
		_ [0]func()

		flag         *Flag
		phaser       *phaser.Phaser
		registry     *registry
		logger       *logiface.Logger[logiface.Event]
		reinterrupts *catrate.Limiter
		opts         *managerOptions
		request      atomic.Pointer[request]

		// mu is the driving lock
		mu sync.Mutex

		// driver is the goroutine id of the driving thread, or 0
		driver atomic.Uint64

		// active is true from just before the flag is invalidated, until
		// all threads have arrived
		active atomic.Bool
	}

	// Interrupter interrupts a thread, e.g. to wake it from a blocking call,
	// so that it polls. It must be best-effort, idempotent, and safe to call
	// on a thread that is not blocked.
	Interrupter interface {
		Interrupt(t *Thread) error
	}

	// InterrupterFunc implements Interrupter.
	InterrupterFunc func(t *Thread) error
)

// Interrupt implements Interrupter.
func (f InterrupterFunc) Interrupt(t *Thread) error { return f(t) }

// New creates a new Manager, with no registered threads.
func New(opts ...Option) (*Manager, error) {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}
	m := &Manager{
		flag:     cfg.flag,
		phaser:   phaser.New(),
		registry: newRegistry(),
		logger:   cfg.logger,
		opts:     cfg,
	}
	if len(cfg.reinterruptRates) != 0 {
		m.reinterrupts = catrate.NewLimiter(cfg.reinterruptRates)
	}
	return m, nil
}

// Flag returns the fast-path flag used by this manager.
func (m *Manager) Flag() *Flag { return m.flag }

// Active reports whether a safepoint is in progress, and still waiting for
// threads to arrive.
func (m *Manager) Active() bool { return m.active.Load() }

// CurrentThread returns the thread registered for the calling goroutine, or
// nil.
func (m *Manager) CurrentThread() *Thread {
	return m.registry.lookup(getGoroutineID())
}

// Threads returns the registered threads, ordered by id.
func (m *Manager) Threads() []*Thread {
	return m.registry.snapshot()
}

// Poll is the hot-path safepoint check, for callers that don't have a
// reference to their Thread. See also Thread.Poll, which is preferable.
//
// Unregistered goroutines may call Poll, it has no effect.
func (m *Manager) Poll() {
	if !m.flag.Valid() {
		m.assumptionInvalidated(nil, false)
	}
}

// PollFromBlockingCall is the variant of Poll for blocking calls, see also
// Thread.PollFromBlockingCall.
func (m *Manager) PollFromBlockingCall() {
	if !m.flag.Valid() {
		m.assumptionInvalidated(nil, true)
	}
}

// EnterThread registers the calling goroutine as a thread, which must
// participate in every safepoint until it calls LeaveThread.
//
// Blocks while a safepoint is in progress. Panics with an *InvariantError if
// the goroutine is already registered.
func (m *Manager) EnterThread(name string) *Thread {
	goid := getGoroutineID()
	if m.driver.Load() == goid {
		invariantViolation(`enter thread`, nil, ErrReentrantSafepoint)
	}
	if t := m.registry.lookup(goid); t != nil {
		invariantViolation(`enter thread`, t, ErrThreadAlreadyRegistered)
	}
	t := newThread(m, name, goid)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enterLocked(t)
	return t
}

// LeaveThread deregisters the calling goroutine. It must be called exactly
// once per EnterThread, from the same goroutine.
//
// If a safepoint is in progress, the thread takes part in it before leaving.
func (m *Manager) LeaveThread() {
	t := m.registry.lookup(getGoroutineID())
	if t == nil {
		invariantViolation(`leave thread`, nil, ErrThreadNotRegistered)
	}
	m.leaveThread(t)
}

// PauseAllThreadsAndExecute stops every registered thread at a safepoint,
// runs action on each thread matching predicate (nil matches all), then
// resumes all threads. It returns once every thread has finished its action.
//
// The caller must be a registered thread, and is itself a participant. If
// another safepoint is being driven, the caller takes part in it, before
// driving its own.
func (m *Manager) PauseAllThreadsAndExecute(reason string, predicate Predicate, action Action) {
	if action == nil {
		panic(`safepoint: nil action`)
	}
	goid := getGoroutineID()
	if m.driver.Load() == goid {
		invariantViolation(`pause all threads`, nil, ErrReentrantSafepoint)
	}
	t := m.registry.lookup(goid)
	if t == nil {
		invariantViolation(`pause all threads`, nil, ErrThreadNotRegistered)
	}

	m.lockInterruptibly(t)
	deferred := func() Action {
		defer m.mu.Unlock()
		return m.drive(t, reason, predicate, action)
	}()

	// the driving thread runs its own action once it has released the lock,
	// actions queued by other safepoints still wait for its interrupt mode
	if deferred != nil {
		deferred.Run(t)
	}
}

// PauseAllThreadsAndExecuteFromUnregistered is a variant of
// PauseAllThreadsAndExecute, for goroutines that are not registered threads,
// e.g. signal handling goroutines. The caller is registered for the
// duration, but never runs the action itself.
func (m *Manager) PauseAllThreadsAndExecuteFromUnregistered(reason string, predicate Predicate, action Action) {
	if action == nil {
		panic(`safepoint: nil action`)
	}
	goid := getGoroutineID()
	if m.driver.Load() == goid {
		invariantViolation(`pause all threads from unregistered`, nil, ErrReentrantSafepoint)
	}
	if t := m.registry.lookup(goid); t != nil {
		invariantViolation(`pause all threads from unregistered`, t, ErrThreadAlreadyRegistered)
	}

	// not a participant, so there is no need to poll while waiting
	m.mu.Lock()
	defer m.mu.Unlock()

	t := newThread(m, `unregistered`, goid)
	t.foreign = true
	m.enterLocked(t)
	defer m.leaveLocked(t)

	m.drive(t, reason, predicate, action)
}

// PauseThreadAndExecute runs action on target, as soon as it reaches a
// safepoint, while it is running its active fiber. If target is the calling
// thread, action is run immediately.
func (m *Manager) PauseThreadAndExecute(reason string, target *Thread, action Action) {
	if action == nil {
		panic(`safepoint: nil action`)
	}
	current := m.CurrentThread()
	if current == nil {
		invariantViolation(`pause thread`, nil, ErrThreadNotRegistered)
	}
	if current == target {
		if m.opts.fibers(current) != target.ActiveFiber() {
			invariantViolation(`pause thread`, target, ErrFiberMismatch)
		}
		action.Run(target)
		return
	}
	m.PauseAllThreadsAndExecute(reason, CurrentFiberOf(m.opts.fibers, target), action)
}

// lockInterruptibly acquires the driving lock, on behalf of a registered
// thread, which must continue to take part in safepoints while it waits.
func (m *Manager) lockInterruptibly(t *Thread) {
	for i := 0; !m.mu.TryLock(); i++ {
		t.Poll()
		if i < 64 {
			runtime.Gosched()
		} else {
			time.Sleep(100 * time.Microsecond)
		}
	}
}

func (m *Manager) enterLocked(t *Thread) {
	if !m.registry.add(t) {
		invariantViolation(`enter thread`, t, ErrThreadAlreadyRegistered)
	}
	t.registered.Store(true)
	m.phaser.Register()
	m.logger.Debug().
		Str(`category`, categoryRegistry).
		Str(`thread`, t.String()).
		Log(`thread entered`)
}

func (m *Manager) leaveThread(t *Thread) {
	if !m.registry.contains(t) {
		invariantViolation(`leave thread`, t, ErrThreadNotRegistered)
	}
	if m.driver.Load() == t.goid {
		invariantViolation(`leave thread`, t, ErrReentrantSafepoint)
	}
	m.lockInterruptibly(t)
	defer m.mu.Unlock()
	m.leaveLocked(t)
}

func (m *Manager) leaveLocked(t *Thread) {
	if !m.registry.remove(t) {
		invariantViolation(`leave thread`, t, ErrThreadNotRegistered)
	}
	t.registered.Store(false)
	m.phaser.ArriveAndDeregister()
	m.logger.Debug().
		Str(`category`, categoryRegistry).
		Str(`thread`, t.String()).
		Log(`thread left`)
}

// assumptionInvalidated is the poll slow path. A nil t indicates the thread
// should be resolved from the calling goroutine.
func (m *Manager) assumptionInvalidated(t *Thread, fromBlockingCall bool) {
	if !m.active.Load() {
		// e.g. the flag is shared, and another manager is driving
		return
	}

	goid := getGoroutineID()
	if m.driver.Load() == goid {
		invariantViolation(`poll`, t, ErrPollFromDrivingThread)
	}
	if t == nil {
		if t = m.registry.lookup(goid); t == nil {
			return
		}
	}
	if !t.registered.Load() {
		return
	}

	interruptible := t.interruptible(fromBlockingCall)

	deferred := m.step(t, false, ``)

	// running normally again, deferred actions may now be run, after any
	// that are already pending
	if deferred != nil {
		t.deferAction(deferred)
		if interruptible {
			t.RunPendingActions()
		}
	}
}

// drive runs the safepoint protocol, as the driving thread. The driving lock
// must be held.
func (m *Manager) drive(t *Thread, reason string, predicate Predicate, action Action) Action {
	m.driver.Store(t.goid)
	defer m.driver.Store(0)

	m.request.Store(&request{reason: reason, predicate: predicate, action: action})
	defer m.request.Store(nil)

	// invalidate before interrupting, so interrupted threads observe the
	// invalidation when they poll, rather than resuming their blocking call
	m.active.Store(true)
	m.flag.Invalidate()
	m.interruptOtherThreads(t, false)

	return m.step(t, true, reason)
}

// step implements the three phase safepoint protocol, for both the driving
// thread, and all other participants.
func (m *Manager) step(t *Thread, driving bool, reason string) (deferred Action) {
	// phase 1: wait for every thread to arrive
	if driving {
		m.driveArrival(t, reason)
		m.flag.Revalidate()
		m.active.Store(false)
	} else {
		m.phaser.ArriveAndAwaitAdvance()
	}

	// phase 2: wait for the flag to be revalidated
	m.phaser.ArriveAndAwaitAdvance()

	// phase 3: wait for every thread to finish its action
	defer m.phaser.ArriveAndAwaitAdvance()

	req := m.request.Load()
	if !t.foreign && req.test(t) {
		if IsDeferrable(req.action) {
			deferred = req.action
		} else {
			req.action.Run(t)
		}
	}

	return deferred
}

func (m *Manager) interruptOtherThreads(current *Thread, limited bool) {
	for _, t := range m.registry.snapshot() {
		if t == current {
			continue
		}
		if limited {
			if _, ok := m.reinterrupts.Allow(t.id); !ok {
				continue
			}
		}
		if err := m.opts.interrupter.Interrupt(t); err != nil {
			m.logger.Warning().
				Str(`category`, categoryInterrupt).
				Str(`thread`, t.String()).
				Err(err).
				Log(`failed to interrupt thread`)
		}
	}
}

func defaultInterrupt(t *Thread) error {
	t.interrupt()
	return nil
}
