//go:build !linux

package sched

import "errors"

var errUnsupported = errors.New("per-thread priority is only supported on linux")

func setThreadNice(int) error {
	return errUnsupported
}

// ThreadNice is not available on this platform.
func ThreadNice() (int, error) {
	return 0, errUnsupported
}
