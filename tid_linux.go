//go:build linux

package safepoint

import (
	"golang.org/x/sys/unix"
)

// getOSThreadID returns the id of the OS thread running the calling
// goroutine. It is only stable if the goroutine has called
// runtime.LockOSThread.
func getOSThreadID() int {
	return unix.Gettid()
}
