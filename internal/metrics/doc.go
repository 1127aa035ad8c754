// Package metrics provides Prometheus instrumentation for fsminer.
//
// All metrics are prefixed with "fsminer_" and registered with the default
// registry through promauto.
//
// # Metric Categories
//
// ## HTTP Metrics
//
// Control API request rates and latency:
//   - HTTPRequestsTotal: Counter of requests by method, path, and status
//   - HTTPRequestDuration: Histogram of request duration by method and path
//   - HTTPRequestsInFlight: Gauge of currently processing requests
//   - EventSubscribers: Gauge of connected notification stream clients
//
// ## Database Metrics
//
//   - DBQueryTotal: Counter of queries by operation and status
//   - DBQueryDuration: Histogram of query duration by operation
//   - DBConnectionsOpen: Gauge of open database connections
//   - DBResourcesTotal: Gauge of indexed resources by kind
//
// DBConnectionsOpen, DBResourcesTotal and MinerRoots are refreshed by a
// [Collector] from a [StatsProvider] rather than on every commit.
//
// ## Engine Metrics
//
// Recorded through [NewMinerObserver], which the engine calls without
// importing this package:
//   - MinerEnqueuedTotal, MinerQueuePending, MinerQueueBusy
//   - MinerExtractionsTotal, MinerExtractionDuration by outcome
//   - MinerCommitsTotal, MinerCommitDuration, MinerFactsCommitted
//   - MinerCrawlsTotal, MinerCrawlDuration, MinerCrawledItems
//   - MinerThrottle, MinerAdmissionLimit
//   - MinerNotificationsDropped by kind
//
// ## Filesystem Metrics
//
// Recorded through [NewFilesystemObserver] for every retried stat, open and
// readdir the crawler and extractor perform.
//
// ## Memory Metrics
//
//   - MemoryUsageRatio: heap allocation as a ratio of the limit
//   - MemoryPaused: whether memory pressure has pinned the throttle
//   - MemoryPressure: throttle floor derived from memory usage
//
// # Usage
//
//	mux.Handle("/metrics", promhttp.Handler())
//
// Example PromQL:
//
//	rate(fsminer_extractions_total{outcome="timeout"}[5m])
//	histogram_quantile(0.95, sum(rate(fsminer_commit_duration_seconds_bucket[5m])) by (le))
package metrics
