// Package memory configures Go's soft memory limit for containers and turns
// heap usage into backpressure on the miner.
//
// # Configuration
//
// Call [ConfigureFromEnv] early in main, before significant allocations:
//
//   - GOMEMLIMIT: standard Go variable; takes precedence when set.
//   - MEMORY_LIMIT: container limit in bytes or with a suffix ("512Mi",
//     "2G"), typically from the Kubernetes Downward API.
//   - otherwise the cgroup v2 memory.max of the container, if limited.
//   - MEMORY_RATIO: fraction of the container limit given to the Go heap, default
//     0.85. The remainder covers SQLite's page cache, cgo allocations and
//     goroutine stacks.
//
// # Backpressure
//
// A [Monitor] samples heap allocation against the limit and reports a
// pressure value to its [PressureFunc]:
//
//	monitor := memory.NewMonitor(memory.DefaultConfig(), engine.Controller().SetPressure)
//	monitor.Start()
//	defer monitor.Stop()
//
// Pressure is 0 below the high water mark, 1 at the critical mark, and
// linear in between. The throttle controller treats it as a floor under
// the user's throttle, so extraction slows down as memory fills and stops
// admitting new work at the critical mark. Reaching the critical mark also
// forces a GC.
//
// Without GOMEMLIMIT or an explicit limit the monitor does nothing.
package memory
