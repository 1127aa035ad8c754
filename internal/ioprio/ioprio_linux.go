//go:build linux

package ioprio

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"golang.org/x/sys/unix"
)

// IOPRIO_WHO_PROCESS addresses a single thread by its tid.
const whoProcess = 1

const taskDir = "/proc/self/task"

// Supported reports whether Set has an effect on this platform.
const Supported = true

// Set applies p to every thread of the process. Threads that exit while
// the priority is being applied are skipped.
func Set(p Priority) error {
	if p.Level < 0 || p.Level > LowestLevel {
		return fmt.Errorf("ioprio level %d out of range 0-%d", p.Level, LowestLevel)
	}
	tids, err := threadIDs()
	if err != nil {
		return err
	}
	var errs []error
	for _, tid := range tids {
		_, _, errno := unix.Syscall(unix.SYS_IOPRIO_SET, whoProcess, uintptr(tid), uintptr(p.encode()))
		if errno != 0 && errno != unix.ESRCH {
			errs = append(errs, fmt.Errorf("ioprio_set %s on thread %d: %w", p, tid, errno))
		}
	}
	return errors.Join(errs...)
}

// Get returns the calling thread's priority.
func Get() (Priority, error) {
	r, _, errno := unix.Syscall(unix.SYS_IOPRIO_GET, whoProcess, 0, 0)
	if errno != 0 {
		return Priority{}, fmt.Errorf("ioprio_get: %w", errno)
	}
	return decode(int(r)), nil
}

// threadIDs lists the tids of the running process.
func threadIDs() ([]int, error) {
	entries, err := os.ReadDir(taskDir)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	tids := make([]int, 0, len(entries))
	for _, e := range entries {
		tid, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		tids = append(tids, tid)
	}
	return tids, nil
}
