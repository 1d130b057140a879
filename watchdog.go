package safepoint

import (
	"fmt"
	"strings"
	"time"
)

// driveArrival waits, on behalf of the driving thread, for every other thread
// to arrive at the first barrier.
//
// While waiting, threads that have not arrived are periodically interrupted
// again (subject to rate limits), in case the first interrupt landed before
// they entered a blocking call. After the wait time, and every wait time
// after that, the stragglers are reported. Once the max wait time has been
// exceeded, the process is terminated, via the configured exit func.
func (m *Manager) driveArrival(t *Thread, reason string) {
	phase := m.phaser.Arrive()

	var (
		start    = time.Now()
		deadline = start.Add(m.opts.waitTime)
		exitAt   = start.Add(m.opts.maxWaitTime)
	)

	for waits := 1; ; {
		if _, ok := m.phaser.AwaitAdvanceTimeout(phase, m.opts.arrivalPollInterval); ok {
			return
		}

		if time.Now().Before(deadline) {
			m.interruptOtherThreads(t, true)
			continue
		}

		states := m.threadStates()

		var blocked []string
		for _, s := range states {
			if s.kind == threadBlocked {
				blocked = append(blocked, s.thread.String())
			}
		}

		m.logger.Err().
			Str(`category`, categoryWatchdog).
			Str(`reason`, reason).
			Dur(`waited`, time.Duration(waits)*m.opts.waitTime).
			Int(`unarrived`, m.phaser.Unarrived()).
			Int(`others`, m.phaser.Registered()-1).
			Str(`blocked`, strings.Join(blocked, `, `)).
			Logf(`waited %s in the safepoint manager but %d of %d threads did not arrive, a thread is likely making a blocking call which does not poll, reason for the safepoint: %q`,
				time.Duration(waits)*m.opts.waitTime,
				m.phaser.Unarrived(),
				m.phaser.Registered()-1,
				reason,
			)

		if waits == 1 {
			m.writeStackDump(states)
			m.restoreInterruptHandler()
		}

		if !deadline.Before(exitAt) {
			m.logger.Crit().
				Str(`category`, categoryShutdown).
				Str(`reason`, reason).
				Dur(`max_wait_time`, m.opts.maxWaitTime).
				Logf(`waited %s in the safepoint manager, terminating the process as it is unlikely to get unstuck`, m.opts.maxWaitTime)
			m.opts.exit(1)
			// exit func returned, nothing further can be done
			m.phaser.AwaitAdvance(phase)
			return
		}

		deadline = deadline.Add(m.opts.waitTime)
		waits++
	}
}

func (m *Manager) restoreInterruptHandler() {
	reset := m.opts.resetInterruptHandler
	if reset == nil {
		return
	}
	m.logger.Warning().
		Str(`category`, categoryWatchdog).
		Log(`restoring the default interrupt handler, so the process can be interrupted`)
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf(`panic: %v`, r)
			}
		}()
		return reset()
	}()
	if err != nil {
		m.logger.Warning().
			Str(`category`, categoryWatchdog).
			Err(err).
			Log(`failed to restore the default interrupt handler`)
	}
}
