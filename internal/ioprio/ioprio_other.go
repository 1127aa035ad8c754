//go:build !linux

package ioprio

import "fsminer/internal/logging"

// Supported reports whether Set has an effect on this platform.
const Supported = false

// Set is a no-op outside Linux.
func Set(p Priority) error {
	logging.Debug("I/O priority %s not supported on this platform", p)
	return nil
}

// Get always reports ClassNone outside Linux.
func Get() (Priority, error) {
	return Priority{}, nil
}
