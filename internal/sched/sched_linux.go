//go:build linux

package sched

import "golang.org/x/sys/unix"

func setThreadNice(nice int) error {
	return unix.Setpriority(unix.PRIO_PROCESS, unix.Gettid(), nice)
}

// ThreadNice returns the nice value of the calling thread.
func ThreadNice() (int, error) {
	// getpriority returns 20-nice to keep the result positive.
	p, err := unix.Getpriority(unix.PRIO_PROCESS, unix.Gettid())
	if err != nil {
		return 0, err
	}
	return 20 - p, nil
}
