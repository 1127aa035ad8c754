package filesystem

import "sync/atomic"

// Observer receives timing and retry outcomes for the stat, lstat, open and
// readdir calls made by the crawler and extractors. The metrics package
// implements it.
type Observer interface {
	ObserveOperation(volume, operation string, durationSeconds float64, err error)

	ObserveRetryAttempt(retryOp, volume string)
	ObserveRetrySuccess(retryOp, volume string)
	ObserveRetryFailure(retryOp, volume string)
	ObserveRetryDuration(retryOp, volume string, durationSeconds float64)
	ObserveStaleError(retryOp, volume string)
}

type observerBox struct{ Observer }

var defaultObserver atomic.Pointer[observerBox]

// SetObserver installs o for all filesystem calls. Nil disables recording.
func SetObserver(o Observer) {
	if o == nil {
		defaultObserver.Store(nil)
		return
	}
	defaultObserver.Store(&observerBox{o})
}

// observe returns the installed observer or nil.
func observe() Observer {
	if b := defaultObserver.Load(); b != nil {
		return b.Observer
	}
	return nil
}
