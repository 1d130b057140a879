package safepoint

import (
	"errors"
	"fmt"
)

// Standard errors.
//
// With the exception of ErrInvalidOption, these indicate that an invariant
// of the coordinator has been broken, by the caller. They are never returned,
// instead they are wrapped in an *InvariantError, and used as a panic value.
var (
	// ErrInvalidOption is returned by New when an Option is invalid.
	ErrInvalidOption = errors.New("safepoint: invalid option")

	// ErrThreadAlreadyRegistered indicates the calling goroutine entered twice.
	ErrThreadAlreadyRegistered = errors.New("safepoint: thread already registered")

	// ErrThreadNotRegistered indicates the calling goroutine is not a registered thread.
	ErrThreadNotRegistered = errors.New("safepoint: thread not registered")

	// ErrWrongGoroutine indicates a thread was operated on from a goroutine other than its own.
	ErrWrongGoroutine = errors.New("safepoint: thread used from a different goroutine")

	// ErrReentrantSafepoint indicates the driving thread attempted to drive a nested safepoint.
	ErrReentrantSafepoint = errors.New("safepoint: re-entered safepoint manager")

	// ErrPollFromDrivingThread indicates the slow path was taken by the driving thread.
	ErrPollFromDrivingThread = errors.New("safepoint: poll should not be called by the driving thread")

	// ErrFiberMismatch indicates the caller is not running the target thread's active fiber.
	ErrFiberMismatch = errors.New("safepoint: current fiber does not match the active fiber of the thread")
)

// InvariantError models a protocol invariant violation. It is used as a
// panic value, and is not recoverable in any meaningful sense.
type InvariantError struct {
	Err    error
	Thread *Thread
	Op     string
}

// Error implements the error interface.
func (e *InvariantError) Error() string {
	if e.Thread != nil {
		return fmt.Sprintf("%s: %v: %s", e.Op, e.Err, e.Thread)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying sentinel for use with [errors.Is].
func (e *InvariantError) Unwrap() error {
	return e.Err
}

func invariantViolation(op string, thread *Thread, err error) {
	panic(&InvariantError{Op: op, Thread: thread, Err: err})
}
