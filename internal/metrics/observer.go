package metrics

import (
	"time"

	"fsminer/internal/filesystem"
	"fsminer/internal/miner"
)

// filesystemObserver implements filesystem.Observer using the Prometheus
// metrics declared in this package.
type filesystemObserver struct{}

// NewFilesystemObserver creates an observer that records filesystem metrics
// into the Prometheus counters and histograms declared in metrics.go.
func NewFilesystemObserver() filesystem.Observer {
	return &filesystemObserver{}
}

func (o *filesystemObserver) ObserveOperation(volume, operation string, durationSeconds float64, err error) {
	FilesystemOperationDuration.WithLabelValues(volume, operation).Observe(durationSeconds)
	if err != nil {
		FilesystemOperationErrors.WithLabelValues(volume, operation).Inc()
	}
}

func (o *filesystemObserver) ObserveRetryAttempt(retryOp, volume string) {
	FilesystemRetryAttempts.WithLabelValues(retryOp, volume).Inc()
}

func (o *filesystemObserver) ObserveRetrySuccess(retryOp, volume string) {
	FilesystemRetrySuccess.WithLabelValues(retryOp, volume).Inc()
}

func (o *filesystemObserver) ObserveRetryFailure(retryOp, volume string) {
	FilesystemRetryFailures.WithLabelValues(retryOp, volume).Inc()
}

func (o *filesystemObserver) ObserveRetryDuration(retryOp, volume string, durationSeconds float64) {
	FilesystemRetryDuration.WithLabelValues(retryOp, volume).Observe(durationSeconds)
}

func (o *filesystemObserver) ObserveStaleError(retryOp, volume string) {
	FilesystemStaleErrors.WithLabelValues(retryOp, volume).Inc()
}

// minerObserver implements miner.Observer.
type minerObserver struct{}

// NewMinerObserver creates an observer that records engine metrics.
func NewMinerObserver() miner.Observer {
	return &minerObserver{}
}

func (o *minerObserver) ObserveEnqueue(d miner.Discovery) {
	MinerEnqueuedTotal.WithLabelValues(d.String()).Inc()
}

func (o *minerObserver) ObserveQueue(pending, busy int) {
	MinerQueuePending.Set(float64(pending))
	MinerQueueBusy.Set(float64(busy))
}

func (o *minerObserver) ObserveExtraction(outcome string, seconds float64) {
	MinerExtractionsTotal.WithLabelValues(outcome).Inc()
	MinerExtractionDuration.WithLabelValues(outcome).Observe(seconds)
}

func (o *minerObserver) ObserveCommit(facts int, seconds float64, err error) {
	MinerCommitDuration.Observe(seconds)
	if err != nil {
		MinerCommitsTotal.WithLabelValues("error").Inc()
		return
	}
	MinerCommitsTotal.WithLabelValues("success").Inc()
	MinerFactsCommitted.Add(float64(facts))
}

func (o *minerObserver) ObserveRetract(err error) {
	MinerRetractsTotal.WithLabelValues(statusLabel(err)).Inc()
}

func (o *minerObserver) ObserveCrawl(_ string, items int, seconds float64) {
	MinerCrawlsTotal.Inc()
	MinerCrawlDuration.Observe(seconds)
	MinerCrawledItems.Add(float64(items))
	MinerLastCrawlTimestamp.Set(float64(time.Now().Unix()))
}

func (o *minerObserver) ObserveEvent(op miner.Op) {
	MinerEventsTotal.WithLabelValues(op.String()).Inc()
}

func (o *minerObserver) ObserveThrottle(effective float64, admissionLimit int) {
	MinerThrottle.Set(effective)
	MinerAdmissionLimit.Set(float64(admissionLimit))
}

func (o *minerObserver) ObserveNotificationDropped(kind miner.NotificationKind) {
	MinerNotificationsDropped.WithLabelValues(kind.String()).Inc()
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
