package safepoint

import (
	"bytes"
	"fmt"
	"reflect"
	"runtime"
	"strconv"
	"strings"
)

// stepBacktraceMaxOffset is the number of frames, from the top of a stack,
// searched for the safepoint step.
const stepBacktraceMaxOffset = 12

const (
	threadDriver      threadKind = `DRIVER`
	threadBlocked     threadKind = `BLOCKED`
	threadInSafepoint threadKind = `IN SAFEPOINT`
)

var (
	packagePath  = reflect.TypeFor[Manager]().PkgPath()
	stepFuncName = packagePath + `.(*Manager).step`
)

type (
	threadKind string

	goroutineStack struct {
		// funcs are the function lines, top first, without arguments
		funcs []string
		text  string
		id    uint64
	}

	threadState struct {
		thread *Thread
		stack  *goroutineStack
		kind   threadKind
	}
)

// allGoroutineStacks returns the formatted stacks of all goroutines.
func allGoroutineStacks() []byte {
	buf := make([]byte, 64<<10)
	for {
		n := runtime.Stack(buf, true)
		if n < len(buf) {
			return buf[:n]
		}
		buf = make([]byte, len(buf)*2)
	}
}

// parseGoroutineStacks parses output in the format of runtime.Stack, keyed by
// goroutine id. Unparseable records are skipped.
func parseGoroutineStacks(dump []byte) map[uint64]*goroutineStack {
	stacks := make(map[uint64]*goroutineStack)
	for _, record := range bytes.Split(dump, []byte("\n\n")) {
		record = bytes.TrimSpace(record)
		if len(record) == 0 {
			continue
		}
		lines := strings.Split(string(record), "\n")
		id, ok := parseGoroutineHeader(lines[0])
		if !ok {
			continue
		}
		s := &goroutineStack{
			text: string(record),
			id:   id,
		}
		for _, line := range lines[1:] {
			if line == `` || line[0] == '\t' || strings.HasPrefix(line, `created by `) {
				continue
			}
			if i := strings.LastIndexByte(line, '('); i > 0 {
				line = line[:i]
			}
			s.funcs = append(s.funcs, line)
		}
		stacks[id] = s
	}
	return stacks
}

// parseGoroutineHeader parses e.g. "goroutine 18 [chan receive]:".
func parseGoroutineHeader(line string) (uint64, bool) {
	line, ok := strings.CutPrefix(line, `goroutine `)
	if !ok {
		return 0, false
	}
	if i := strings.IndexByte(line, ' '); i >= 0 {
		line = line[:i]
	}
	id, err := strconv.ParseUint(line, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

func (x *goroutineStack) inSafepoint() bool {
	for i, fn := range x.funcs {
		if i >= stepBacktraceMaxOffset {
			break
		}
		if fn == stepFuncName {
			return true
		}
	}
	return false
}

// inPackage reports whether any frame is within this package, or its
// internal packages.
func (x *goroutineStack) inPackage() bool {
	for _, fn := range x.funcs {
		if strings.HasPrefix(fn, packagePath+`.`) || strings.HasPrefix(fn, packagePath+`/internal/`) {
			return true
		}
	}
	return false
}

// threadStates classifies each registered thread, by inspecting its stack.
func (m *Manager) threadStates() []threadState {
	stacks := parseGoroutineStacks(allGoroutineStacks())
	driver := m.driver.Load()
	threads := m.registry.snapshot()
	states := make([]threadState, 0, len(threads))
	for _, t := range threads {
		s := threadState{thread: t, stack: stacks[t.goid]}
		switch {
		case t.goid == driver:
			s.kind = threadDriver
		case s.stack != nil && s.stack.inSafepoint():
			s.kind = threadInSafepoint
		default:
			s.kind = threadBlocked
		}
		states = append(states, s)
	}
	return states
}

func (m *Manager) writeStackDump(states []threadState) {
	var b strings.Builder
	b.WriteString("Dumping stacktraces of all threads:\n")
	for _, s := range states {
		fmt.Fprintf(&b, "%s: %s\n", s.kind, s.thread)
		if s.stack != nil {
			b.WriteString(s.stack.text)
			b.WriteByte('\n')
		}
		b.WriteByte('\n')
	}
	if _, err := m.opts.dumpWriter.Write([]byte(b.String())); err != nil {
		m.logger.Warning().
			Str(`category`, categoryWatchdog).
			Err(err).
			Log(`failed to write stack dump`)
	}
}

// CheckNoRunningThreads reports whether no threads remain registered, and
// logs a warning if any do. It is intended to be called at shutdown, after
// all threads are expected to have left.
func (m *Manager) CheckNoRunningThreads() bool {
	threads := m.registry.snapshot()
	if len(threads) == 0 {
		return true
	}
	names := make([]string, len(threads))
	for i, t := range threads {
		names[i] = t.String()
	}
	m.logger.Warning().
		Str(`category`, categoryShutdown).
		Str(`threads`, strings.Join(names, `, `)).
		Log(`threads are still registered with the safepoint manager at shutdown: ` + m.DebugInfo())
	return false
}

// DebugInfo returns a one line summary of the manager's state, for
// diagnostics. The count of threads that appear to be running is a
// heuristic: the number of other goroutines with a frame in this package.
func (m *Manager) DebugInfo() string {
	current := getGoroutineID()
	var running int
	for id, s := range parseGoroutineStacks(allGoroutineStacks()) {
		if id != current && s.inPackage() {
			running++
		}
	}
	return fmt.Sprintf(`safepoints: %d known threads, %d registered with phaser, %d arrived, %d appear to be running`,
		m.registry.len(),
		m.phaser.Registered(),
		m.phaser.Arrived(),
		running,
	)
}
