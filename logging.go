package safepoint

import (
	"os"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Log categories, set on every event as the "category" field.
const (
	categoryRegistry  = "registry"
	categoryInterrupt = "interrupt"
	categoryWatchdog  = "watchdog"
	categoryShutdown  = "shutdown"
)

// defaultLogger writes JSON lines to stderr, at warning level and above.
// Under normal operation the coordinator is silent.
func defaultLogger() *logiface.Logger[logiface.Event] {
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(os.Stderr)),
		stumpy.L.WithLevel(logiface.LevelWarning),
	).Logger()
}
