package safepoint

import (
	"runtime"
)

// getGoroutineID returns the current goroutine's ID.
//
// Only used off the hot path (registration, the poll slow path, and the
// driving entry points).
func getGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}
