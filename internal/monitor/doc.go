// Package monitor turns fsnotify events into the change stream consumed by
// the miner engine.
//
// fsnotify reports a move as a Rename for the old path followed by a Create
// for the new one. [Monitor] holds each Rename for a short window and, if a
// matching Create arrives, emits a single moved event carrying both paths.
// A Rename that is never paired means the entry left the watched area and
// is reported as a deletion once the window expires.
//
// Watches are not recursive; the engine adds one per traversed directory.
package monitor
