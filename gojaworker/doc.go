// Package gojaworker hosts JavaScript runtimes (goja) as safepoint threads.
//
// Each call to Run occupies the calling goroutine, for the duration of the
// script. Scripts cooperate by calling the poll() global, e.g. in loops,
// while sleep() is a blocking call that remains responsive to safepoints.
// Safepoint actions run on the worker's own goroutine, and may therefore
// access the runtime directly, see From.
package gojaworker
