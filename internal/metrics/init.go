package metrics

// InitializeMetrics pre-populates all expected label combinations so that
// every metric is exported from the first Prometheus scrape.
// Call this once at startup after metric registration. volumes are the
// root labels the filesystem volume resolver will report.
func InitializeMetrics(volumes ...string) {
	// --- Filesystem operation metrics (per volume × operation) ---
	volumes = append(volumes, "database", "unknown")
	fsOps := []string{"stat", "lstat", "open", "readdir"}

	for _, vol := range volumes {
		for _, op := range fsOps {
			FilesystemOperationDuration.WithLabelValues(vol, op)
			FilesystemOperationErrors.WithLabelValues(vol, op)
			FilesystemRetryAttempts.WithLabelValues(op, vol)
			FilesystemRetrySuccess.WithLabelValues(op, vol)
			FilesystemRetryFailures.WithLabelValues(op, vol)
			FilesystemStaleErrors.WithLabelValues(op, vol)
			FilesystemRetryDuration.WithLabelValues(op, vol)
		}
	}

	// --- Engine ---
	for _, d := range []string{"crawled", "created", "updated", "deleted", "moved"} {
		MinerEnqueuedTotal.WithLabelValues(d)
	}
	for _, o := range []string{"success", "error", "timeout", "cancelled"} {
		MinerExtractionsTotal.WithLabelValues(o)
		MinerExtractionDuration.WithLabelValues(o)
	}
	for _, s := range []string{"success", "error"} {
		MinerCommitsTotal.WithLabelValues(s)
		MinerRetractsTotal.WithLabelValues(s)
	}
	for _, op := range []string{"created", "updated", "deleted", "moved"} {
		MinerEventsTotal.WithLabelValues(op)
	}
	for _, k := range []string{"finished", "error", "progress"} {
		MinerNotificationsDropped.WithLabelValues(k)
	}
	for _, e := range []string{"create", "write", "remove", "rename", "chmod"} {
		MonitorEventsTotal.WithLabelValues(e)
	}

	// --- Extractor ---
	for _, c := range []string{"image", "text", "other"} {
		ExtractBytesRead.WithLabelValues(c)
	}

	// --- DB query operations ---
	for _, op := range []string{"initialize_schema", "commit_batch", "retract", "list_indexed",
		"count", "max_generation", "get_metadata", "set_metadata", "begin_transaction", "commit", "rollback"} {
		DBQueryTotal.WithLabelValues(op, "success")
		DBQueryTotal.WithLabelValues(op, "error")
		DBQueryDuration.WithLabelValues(op)
	}
	for _, k := range []string{"file", "directory"} {
		DBResourcesTotal.WithLabelValues(k)
	}
}
