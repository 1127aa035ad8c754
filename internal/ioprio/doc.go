// Package ioprio lowers the process I/O scheduling priority so indexing
// yields to interactive disk use.
//
// On Linux [Lower] moves every thread of the process to the best-effort
// class at level 7, the lowest in that class. Threads the Go runtime
// creates afterwards inherit the setting from their creator. On other
// platforms it is a no-op.
package ioprio
