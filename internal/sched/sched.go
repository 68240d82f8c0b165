// Package sched pins stage goroutines to OS threads and raises their
// scheduling priority where the platform allows it.
package sched

import (
	"log/slog"
	"runtime"
)

// Priorities as nice values. Lower runs first.
const (
	Acquisition = -10
	Background  = -5
	Normal      = 0
)

// Pin locks the calling goroutine to its OS thread and applies nice to that
// thread. A priority that cannot be applied is logged and otherwise ignored.
// The returned func unlocks the thread; call it from the same goroutine. A
// goroutine that exits without calling it takes the thread with it, so the
// priority never leaks to other goroutines.
func Pin(nice int, logger *slog.Logger) func() {
	runtime.LockOSThread()
	if nice != Normal {
		if err := setThreadNice(nice); err != nil {
			logger.Warn("Could not raise thread priority", "nice", nice, "error", err)
		} else {
			logger.Debug("Thread priority set", "nice", nice)
		}
	}
	return runtime.UnlockOSThread
}
