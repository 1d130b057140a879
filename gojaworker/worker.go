package gojaworker

import (
	"fmt"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/joeycumines/go-safepoint"
)

// Worker is a JavaScript runtime, hosted by a safepoint thread. With the
// exception of Thread and Name, methods must be called on the worker's own
// goroutine, e.g. from a safepoint action.
type Worker struct {
	runtime *goja.Runtime
	thread  *safepoint.Thread
	stop    chan struct{}
	once    sync.Once
}

// Run registers the calling goroutine as a thread of m, then evaluates src
// in a new JavaScript runtime, returning the result. The thread leaves m
// before Run returns.
//
// If the worker was interrupted (see Worker.Interrupt), the error will be a
// *goja.InterruptedError.
func Run(m *safepoint.Manager, name string, src string, opts ...Option) (goja.Value, error) {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}

	thread := m.EnterThread(name)
	defer thread.Leave()

	w := &Worker{
		runtime: goja.New(),
		thread:  thread,
		stop:    make(chan struct{}),
	}
	thread.SetData(w)
	defer thread.SetData(nil)

	if err := w.Bind(); err != nil {
		return nil, fmt.Errorf("gojaworker: failed to bind globals: %w", err)
	}

	if cfg.ready != nil {
		cfg.ready(w)
	}

	return w.runtime.RunString(src)
}

// From returns the worker hosted by t, or nil.
func From(t *safepoint.Thread) *Worker {
	if t == nil {
		return nil
	}
	w, _ := t.Data().(*Worker)
	return w
}

// Thread returns the safepoint thread hosting the worker. Safe for
// concurrent use.
func (w *Worker) Thread() *safepoint.Thread { return w.thread }

// Name returns the name of the worker's thread. Safe for concurrent use.
func (w *Worker) Name() string { return w.thread.Name() }

// Runtime returns the Goja runtime
func (w *Worker) Runtime() *goja.Runtime { return w.runtime }

// Get returns the value of a global variable, or nil if it is undefined.
func (w *Worker) Get(name string) goja.Value { return w.runtime.Get(name) }

// Interrupt stops the worker's script, as soon as it resumes (e.g. after the
// current safepoint), including any in-progress sleep. Safe for concurrent
// use.
func (w *Worker) Interrupt(v any) {
	w.once.Do(func() {
		w.runtime.Interrupt(v)
		close(w.stop)
	})
}

// Bind creates the safepoint bindings in the Goja global scope. It is called
// by Run.
//
// The following globals are available in JavaScript:
//   - poll() → undefined
//   - sleep(ms) → undefined, polls if interrupted
//   - setInterruptMode(mode) → previous mode, one of "immediate",
//     "on_blocking", or "never"
//   - pendingActions() → number of deferred actions
//   - runPendingActions() → undefined
//   - threadName() → name of the thread
func (w *Worker) Bind() error {
	for _, v := range [...]struct {
		name string
		fn   func(call goja.FunctionCall) goja.Value
	}{
		{`poll`, w.poll},
		{`sleep`, w.sleep},
		{`setInterruptMode`, w.setInterruptMode},
		{`pendingActions`, w.pendingActions},
		{`runPendingActions`, w.runPendingActions},
		{`threadName`, w.threadName},
	} {
		if err := w.runtime.Set(v.name, v.fn); err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) poll(goja.FunctionCall) goja.Value {
	w.thread.Poll()
	return goja.Undefined()
}

func (w *Worker) sleep(call goja.FunctionCall) goja.Value {
	ms := call.Argument(0).ToInteger()
	if ms < 0 {
		panic(w.runtime.NewTypeError("sleep duration cannot be negative"))
	}

	timer := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			return goja.Undefined()
		case <-w.stop:
			return goja.Undefined()
		case <-w.thread.Interrupted():
			w.thread.PollFromBlockingCall()
		}
	}
}

func (w *Worker) setInterruptMode(call goja.FunctionCall) goja.Value {
	var mode safepoint.InterruptMode
	switch v := call.Argument(0).String(); v {
	case safepoint.InterruptImmediate.String():
		mode = safepoint.InterruptImmediate
	case safepoint.InterruptOnBlocking.String():
		mode = safepoint.InterruptOnBlocking
	case safepoint.InterruptNever.String():
		mode = safepoint.InterruptNever
	default:
		panic(w.runtime.NewTypeError("invalid interrupt mode: %s", v))
	}
	return w.runtime.ToValue(w.thread.SetInterruptMode(mode).String())
}

func (w *Worker) pendingActions(goja.FunctionCall) goja.Value {
	return w.runtime.ToValue(w.thread.PendingActions())
}

func (w *Worker) runPendingActions(goja.FunctionCall) goja.Value {
	w.thread.RunPendingActions()
	return goja.Undefined()
}

func (w *Worker) threadName(goja.FunctionCall) goja.Value {
	return w.runtime.ToValue(w.thread.Name())
}
