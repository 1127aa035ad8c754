package miner

// Observer records engine metrics. The metrics package provides the
// Prometheus implementation; the engine never imports it directly.
type Observer interface {
	ObserveEnqueue(d Discovery)
	ObserveQueue(pending, busy int)
	// ObserveExtraction records one terminal extraction outcome:
	// "success", "error", "timeout" or "cancelled".
	ObserveExtraction(outcome string, seconds float64)
	ObserveCommit(facts int, seconds float64, err error)
	ObserveRetract(err error)
	ObserveCrawl(root string, items int, seconds float64)
	ObserveEvent(op Op)
	ObserveThrottle(effective float64, admissionLimit int)
	ObserveNotificationDropped(kind NotificationKind)
}

type nopObserver struct{}

func (nopObserver) ObserveEnqueue(Discovery)                   {}
func (nopObserver) ObserveQueue(int, int)                      {}
func (nopObserver) ObserveExtraction(string, float64)          {}
func (nopObserver) ObserveCommit(int, float64, error)          {}
func (nopObserver) ObserveRetract(error)                       {}
func (nopObserver) ObserveCrawl(string, int, float64)          {}
func (nopObserver) ObserveEvent(Op)                            {}
func (nopObserver) ObserveThrottle(float64, int)               {}
func (nopObserver) ObserveNotificationDropped(NotificationKind) {}
