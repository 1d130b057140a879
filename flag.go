package safepoint

import (
	"sync/atomic"
)

// These constants are verified via unit tests.
const (
	// sizeOfCacheLine is the size of a CPU cache line.
	// 64 bytes is standard for x86-64.
	// 128 bytes is standard for Apple Silicon (M1/M2/M3) and other ARM64.
	// We use 128 to satisfy the largest common alignment requirement.
	sizeOfCacheLine = 128

	// sizeOfAtomicUint64 is the size of an atomic.Uint64 variable.
	sizeOfAtomicUint64 = 8
)

const (
	flagPendingMask = 1<<32 - 1
	flagEpochUnit   = 1 << 32
)

// Flag is the fast-path safepoint check, shared by every poll site.
//
// The low 32 bits count outstanding invalidations, and the flag is valid only
// while that count is zero. The high 32 bits count completed invalidations
// (the epoch). Counting, rather than toggling, allows a single Flag to be
// shared by multiple Manager instances (see WithFlag), each of which may have
// a safepoint in progress.
//
// PERFORMANCE: Valid is a single atomic load. Cache-line padding prevents
// false sharing with neighbouring hot fields.
type Flag struct { // betteralign:ignore
	_ [sizeOfCacheLine]byte                      // Cache line padding (before value) //nolint:unused
	v atomic.Uint64                              // Epoch (high) and pending invalidations (low)
	_ [sizeOfCacheLine - sizeOfAtomicUint64]byte // Pad to complete cache line //nolint:unused
}

// NewFlag returns a valid Flag.
func NewFlag() *Flag {
	return &Flag{}
}

// Valid reports whether no safepoint is in progress.
func (x *Flag) Valid() bool {
	return x.v.Load()&flagPendingMask == 0
}

// Epoch returns the number of completed invalidations.
func (x *Flag) Epoch() uint64 {
	return x.v.Load() >> 32
}

// Pending returns the number of outstanding invalidations.
func (x *Flag) Pending() int {
	return int(x.v.Load() & flagPendingMask)
}

// Invalidate marks the flag as invalid, until a matching Revalidate.
func (x *Flag) Invalidate() {
	x.v.Add(1)
}

// Revalidate completes one invalidation. The flag becomes valid once every
// outstanding invalidation has been completed. Panics if there are no
// outstanding invalidations.
func (x *Flag) Revalidate() {
	for {
		v := x.v.Load()
		if v&flagPendingMask == 0 {
			panic(`safepoint: flag revalidated without a matching invalidation`)
		}
		if x.v.CompareAndSwap(v, v-1+flagEpochUnit) {
			return
		}
	}
}
