package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fsminer_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fsminer_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fsminer_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	EventSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fsminer_event_subscribers",
			Help: "Number of connected notification stream subscribers",
		},
	)
)

// Database metrics
var (
	DBQueryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fsminer_db_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"operation", "status"},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fsminer_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)

	DBConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fsminer_db_connections_open",
			Help: "Number of open database connections",
		},
	)

	DBResourcesTotal = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fsminer_db_resources_total",
			Help: "Number of indexed resources by kind",
		},
		[]string{"kind"},
	)
)

// Engine metrics
var (
	MinerEnqueuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fsminer_enqueued_total",
			Help: "Total number of work items enqueued by discovery type",
		},
		[]string{"discovery"},
	)

	MinerQueuePending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fsminer_queue_pending",
			Help: "Number of work items waiting for dispatch",
		},
	)

	MinerQueueBusy = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fsminer_queue_busy",
			Help: "Number of work items dispatched and not yet completed",
		},
	)

	MinerExtractionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fsminer_extractions_total",
			Help: "Total number of extractions by outcome",
		},
		[]string{"outcome"},
	)

	MinerExtractionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fsminer_extraction_duration_seconds",
			Help:    "Extraction duration in seconds by outcome",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"outcome"},
	)

	MinerCommitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fsminer_commits_total",
			Help: "Total number of commit batches by status",
		},
		[]string{"status"},
	)

	MinerCommitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fsminer_commit_duration_seconds",
			Help:    "Commit batch duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
	)

	MinerFactsCommitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fsminer_facts_committed_total",
			Help: "Total number of facts successfully committed",
		},
	)

	MinerRetractsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fsminer_retracts_total",
			Help: "Total number of retractions by status",
		},
		[]string{"status"},
	)

	MinerCrawlsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fsminer_crawls_total",
			Help: "Total number of completed crawl passes",
		},
	)

	MinerCrawlDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fsminer_crawl_duration_seconds",
			Help:    "Crawl pass duration in seconds",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 300, 900},
		},
	)

	MinerCrawledItems = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fsminer_crawled_items_total",
			Help: "Total number of items produced by crawls",
		},
	)

	MinerLastCrawlTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fsminer_last_crawl_timestamp_seconds",
			Help: "Unix timestamp of the last completed crawl pass",
		},
	)

	MinerEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fsminer_events_total",
			Help: "Total number of filesystem change events by operation",
		},
		[]string{"op"},
	)

	MinerThrottle = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fsminer_throttle",
			Help: "Effective throttle level (0.0-1.0)",
		},
	)

	MinerAdmissionLimit = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fsminer_admission_limit",
			Help: "Maximum concurrent extractions at the current throttle",
		},
	)

	MinerNotificationsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fsminer_notifications_dropped_total",
			Help: "Notifications dropped because the consumer fell behind",
		},
		[]string{"kind"},
	)

	MinerRoots = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fsminer_roots",
			Help: "Number of registered roots",
		},
	)

	MinerWatchedDirectories = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fsminer_watched_directories",
			Help: "Number of directories currently being watched",
		},
	)

	MonitorEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fsminer_monitor_raw_events_total",
			Help: "Total number of raw fsnotify events by type",
		},
		[]string{"event_type"},
	)

	MonitorErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fsminer_monitor_errors_total",
			Help: "Total number of filesystem watcher errors",
		},
	)
)

// Extractor metrics
var (
	ExtractCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fsminer_extract_cache_hits_total",
			Help: "Extraction results served from the memo cache",
		},
	)

	ExtractCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fsminer_extract_cache_misses_total",
			Help: "Extraction requests that missed the memo cache",
		},
	)

	ExtractBytesRead = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fsminer_extract_bytes_read_total",
			Help: "Bytes read by the extractor by file class",
		},
		[]string{"class"},
	)
)

// Filesystem metrics
var (
	FilesystemOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fsminer_filesystem_operation_duration_seconds",
			Help:    "Filesystem operation duration in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"volume", "operation"},
	)

	FilesystemOperationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fsminer_filesystem_operation_errors_total",
			Help: "Total number of failed filesystem operations",
		},
		[]string{"volume", "operation"},
	)

	FilesystemRetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fsminer_filesystem_retry_attempts_total",
			Help: "Total number of filesystem operation retries",
		},
		[]string{"operation", "volume"},
	)

	FilesystemRetrySuccess = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fsminer_filesystem_retry_success_total",
			Help: "Filesystem operations that succeeded after retrying",
		},
		[]string{"operation", "volume"},
	)

	FilesystemRetryFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fsminer_filesystem_retry_failures_total",
			Help: "Filesystem operations that failed after all retries",
		},
		[]string{"operation", "volume"},
	)

	FilesystemRetryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fsminer_filesystem_retry_duration_seconds",
			Help:    "Total time spent in retried filesystem operations",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"operation", "volume"},
	)

	FilesystemStaleErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fsminer_filesystem_stale_errors_total",
			Help: "Stale NFS file handle errors",
		},
		[]string{"operation", "volume"},
	)
)

// Memory metrics
var (
	MemoryUsageRatio = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fsminer_memory_usage_ratio",
			Help: "Heap allocation as a fraction of the memory limit",
		},
	)

	MemoryPaused = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fsminer_memory_paused",
			Help: "Whether memory pressure has pinned the throttle (1) or not (0)",
		},
	)

	MemoryGCPauses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fsminer_memory_gc_pauses_total",
			Help: "Times a critical memory level triggered a forced GC",
		},
	)

	MemoryPressure = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fsminer_memory_pressure",
			Help: "Throttle floor derived from memory pressure (0.0-1.0)",
		},
	)
)

// Application info metric
var (
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fsminer_app_info",
			Help: "Application information",
		},
		[]string{"version", "commit", "go_version"},
	)
)

// SetAppInfo sets the application info metric
func SetAppInfo(version, commit, goVersion string) {
	AppInfo.WithLabelValues(version, commit, goVersion).Set(1)
}
