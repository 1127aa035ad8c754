package miner

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownRoot is returned when removing a path that was never added.
	ErrUnknownRoot = errors.New("unknown root")
	// ErrOverlap is returned when a new root is already covered by a
	// recursive root. Callers should treat it as a no-op.
	ErrOverlap = errors.New("root is covered by an existing recursive root")
	// ErrExtractionFailure wraps every per-item extraction error.
	ErrExtractionFailure = errors.New("extraction failed")
	// ErrTimeout is an extraction failure caused by the per-item deadline.
	ErrTimeout = fmt.Errorf("%w: deadline exceeded", ErrExtractionFailure)
	// ErrEventSourceLost reports that change notifications can no longer be
	// trusted; every root is re-crawled.
	ErrEventSourceLost = errors.New("event source lost")
	// ErrShuttingDown is returned by operations invoked after Stop.
	ErrShuttingDown = errors.New("miner is shutting down")
	// ErrCancelled is the cancellation cause of extractions superseded by a
	// deletion, root removal or shutdown.
	ErrCancelled = errors.New("extraction cancelled")
)

// ItemError ties an error to the path it happened on.
type ItemError struct {
	Path string
	Err  error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *ItemError) Unwrap() error {
	return e.Err
}

func extractionError(path string, err error) error {
	if errors.Is(err, ErrExtractionFailure) {
		return &ItemError{Path: path, Err: err}
	}
	return &ItemError{Path: path, Err: fmt.Errorf("%w: %w", ErrExtractionFailure, err)}
}
