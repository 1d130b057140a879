//go:build !linux

package safepoint

func getOSThreadID() int {
	return 0
}
