// Package safepoint coordinates stop-the-world pauses, across a set of
// cooperating goroutines ("threads").
//
// Each participating goroutine registers itself with a [Manager], via
// [Manager.EnterThread], then calls [Thread.Poll] regularly, e.g. at loop
// back-edges. While no safepoint is in progress, a poll is a single atomic
// load. Any registered thread may request a safepoint, via
// [Manager.PauseAllThreadsAndExecute], which:
//
//  1. Invalidates the shared [Flag], and interrupts every other thread
//  2. Waits for every registered thread to arrive (poll)
//  3. Runs the requested [Action], on each thread selected by the
//     [Predicate], on that thread's own goroutine
//  4. Resumes all threads, once every action has completed
//
// Blocking calls should select on [Thread.Interrupted], and call
// [Thread.PollFromBlockingCall] when it fires, before resuming the wait. A
// thread that fails to arrive is reported, with a stack dump, after a
// configurable wait time, and the process is terminated after a configurable
// max wait time, as every future safepoint would otherwise deadlock.
//
// # Deferred actions
//
// Actions implementing `Deferrable() bool` (see [DeferrableActionFunc]) are
// run after the safepoint, rather than during it, and only if the thread is
// interruptible at that point (see [InterruptMode]). Otherwise, they are
// queued, until [Thread.RunPendingActions] is called.
//
// # Invariants
//
// Misuse of the protocol, e.g. registering the same goroutine twice, or
// polling from within the driving thread, panics with an [*InvariantError].
// Such panics are not intended to be recovered.
package safepoint
