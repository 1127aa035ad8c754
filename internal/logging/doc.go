// Package logging provides the leveled printf logger used across fsminer.
//
// Levels, lowest first:
//   - DEBUG: per-item decisions (coalescing, skipped files, late results)
//   - INFO: crawl passes, root changes, lifecycle
//   - WARN: recoverable trouble (unreadable directories, dropped notifications)
//   - ERROR: failed commits, lost event source
//   - FATAL: startup failures that terminate the process
//
// The level comes from DEBUG or LOG_LEVEL and may be overridden with
// SetLevel. Component returns a Logger that tags messages with a subsystem
// name so interleaved crawler, dispatcher and committer output stays readable.
package logging
