package safepoint

import (
	"bytes"
	"errors"
	"io"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"github.com/stretchr/testify/require"
)

type (
	syncBuffer struct {
		b  bytes.Buffer
		mu sync.Mutex
	}

	// testWorker is a registered thread, that sits in a blocking call
	// (select) until interrupted, or given something to run.
	testWorker struct {
		thread *Thread
		calls  chan func(th *Thread)
		stop   chan struct{}
		done   chan struct{}
	}
)

func (x *syncBuffer) Write(p []byte) (int, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.b.Write(p)
}

func (x *syncBuffer) String() string {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.b.String()
}

func checkNumGoroutines(timeout time.Duration) func(t *testing.T) {
	before := runtime.NumGoroutine()
	return func(t *testing.T) {
		t.Helper()
		deadline := time.Now().Add(timeout)
		for {
			after := runtime.NumGoroutine()
			if after <= before {
				return
			}
			if time.Now().After(deadline) {
				t.Errorf(`goroutine leak: before=%d after=%d`, before, after)
				return
			}
			time.Sleep(time.Millisecond * 10)
		}
	}
}

func newTestLogger(w io.Writer) *logiface.Logger[logiface.Event] {
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(w), stumpy.WithTimeField(``)),
		stumpy.L.WithLevel(logiface.LevelDebug),
	).Logger()
}

// newTestManager returns a manager that logs to the returned buffer, and
// fails the test if it attempts to exit.
func newTestManager(t *testing.T, opts ...Option) (*Manager, *syncBuffer) {
	t.Helper()
	logs := new(syncBuffer)
	m, err := New(append([]Option{
		WithLogger(newTestLogger(logs)),
		WithStackDumpWriter(io.Discard),
		WithInterruptHandlerReset(nil),
		WithReinterruptRates(nil),
		WithExitFunc(func(code int) {
			t.Errorf(`unexpected exit: %d`, code)
		}),
	}, opts...)...)
	require.NoError(t, err)
	return m, logs
}

func startWorker(m *Manager, name string) *testWorker {
	w := &testWorker{
		calls: make(chan func(th *Thread)),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	ready := make(chan *Thread)
	go func() {
		defer close(w.done)
		th := m.EnterThread(name)
		ready <- th
		for {
			th.Poll()
			select {
			case <-w.stop:
				th.Leave()
				return
			case fn := <-w.calls:
				fn(th)
			case <-th.Interrupted():
				th.PollFromBlockingCall()
			}
		}
	}()
	w.thread = <-ready
	return w
}

func startWorkers(m *Manager, n int) []*testWorker {
	workers := make([]*testWorker, n)
	for i := range workers {
		workers[i] = startWorker(m, `worker-`+string(rune('a'+i)))
	}
	return workers
}

func stopWorkers(workers []*testWorker) {
	for _, w := range workers {
		close(w.stop)
	}
	for _, w := range workers {
		<-w.done
	}
}

// run calls fn on the worker's goroutine, and waits for it to return. The
// caller must not be a registered thread.
func (x *testWorker) run(fn func(th *Thread)) {
	done := make(chan struct{})
	x.calls <- func(th *Thread) {
		defer close(done)
		fn(th)
	}
	<-done
}

func threadsOf(workers []*testWorker) []*Thread {
	threads := make([]*Thread, len(workers))
	for i, w := range workers {
		threads[i] = w.thread
	}
	return threads
}

func catchPanic(fn func()) (r any) {
	defer func() { r = recover() }()
	fn()
	return nil
}

func requireInvariant(t *testing.T, target error, fn func()) {
	t.Helper()
	r := catchPanic(fn)
	require.NotNil(t, r, `expected a panic`)
	err, ok := r.(error)
	require.True(t, ok, `expected an error panic, got %T: %v`, r, r)
	var invariant *InvariantError
	require.True(t, errors.As(err, &invariant), `expected *InvariantError, got %T: %v`, err, err)
	require.ErrorIs(t, err, target)
}

func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(time.Millisecond)
	}
	return true
}
