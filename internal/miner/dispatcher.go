package miner

import (
	"context"
	"errors"
	"sync"
	"time"

	"fsminer/internal/filesystem"
	"fsminer/internal/logging"
	"fsminer/internal/throttle"
)

var dispatchLog = logging.Component("dispatcher")

// result is the single completion of a dequeued item.
type result struct {
	item      Item
	fact      Fact
	err       error
	discarded bool
}

type inflight struct {
	item     Item
	cancel   context.CancelCauseFunc
	deadline time.Time
}

// dispatcher runs extractions under the throttle's admission limit, each with
// its own deadline. Every dispatched item produces exactly one result.
type dispatcher struct {
	extractor Extractor
	throttle  *throttle.Controller
	timeout   time.Duration
	retry     filesystem.RetryConfig
	results   chan<- result
	obs       Observer

	mu       sync.Mutex
	active   int
	inflight map[string]*inflight
	released chan struct{}

	wg sync.WaitGroup
}

func newDispatcher(extractor Extractor, ctl *throttle.Controller, timeout time.Duration, retry filesystem.RetryConfig, results chan<- result, obs Observer) *dispatcher {
	return &dispatcher{
		extractor: extractor,
		throttle:  ctl,
		timeout:   timeout,
		retry:     retry,
		results:   results,
		obs:       obs,
		inflight:  make(map[string]*inflight),
		released:  make(chan struct{}),
	}
}

// dispatch blocks until an admission slot is free, then starts the
// extraction and returns. If the item is cancelled or ctx ends while waiting
// for a slot, a discarded result is reported instead.
func (d *dispatcher) dispatch(ctx context.Context, item Item) {
	xctx, cancel := context.WithCancelCause(ctx)
	f := &inflight{item: item, cancel: cancel}

	d.mu.Lock()
	d.inflight[item.Path] = f
	d.mu.Unlock()

	if err := d.admit(xctx); err != nil {
		d.mu.Lock()
		if d.inflight[item.Path] == f {
			delete(d.inflight, item.Path)
		}
		d.mu.Unlock()
		cancel(nil)
		dispatchLog.Debug("Discarded %s before admission: %v", item.Path, err)
		d.obs.ObserveExtraction("cancelled", 0)
		d.results <- result{item: item, discarded: true}
		return
	}

	tctx, tcancel := context.WithTimeoutCause(xctx, d.timeout, ErrTimeout)
	d.mu.Lock()
	f.deadline = time.Now().Add(d.timeout)
	d.mu.Unlock()

	d.wg.Add(1)
	go d.run(tctx, func() {
		tcancel()
		cancel(nil)
	}, f)
}

// admit takes a slot once fewer than AdmissionLimit extractions are active.
func (d *dispatcher) admit(ctx context.Context) error {
	for {
		changed := d.throttle.Changed()

		d.mu.Lock()
		if d.active < d.throttle.AdmissionLimit() {
			d.active++
			d.mu.Unlock()
			return nil
		}
		released := d.released
		d.mu.Unlock()

		select {
		case <-ctx.Done():
			return context.Cause(ctx)
		case <-released:
		case <-changed:
		}
	}
}

type outcome struct {
	fact Fact
	err  error
}

func (d *dispatcher) run(ctx context.Context, cancel func(), f *inflight) {
	defer d.wg.Done()
	defer cancel()

	start := time.Now()
	done := make(chan outcome, 1)
	go func() {
		fact, err := d.extract(ctx, f.item)
		done <- outcome{fact: fact, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-ctx.Done():
		// A non-cooperative extractor may still be running; its result is
		// dropped by the buffered channel.
		out = outcome{err: ctx.Err()}
	}

	res, status := classify(ctx, f.item, out)
	d.obs.ObserveExtraction(status, time.Since(start).Seconds())
	if status == "timeout" {
		dispatchLog.Warn("Extraction of %s exceeded %v", f.item.Path, d.timeout)
	}

	d.release(f)
	d.results <- res
}

// classify maps an extraction outcome to a result. Cancellation wins over
// everything, a timeout only over failures.
func classify(ctx context.Context, item Item, out outcome) (result, string) {
	cause := context.Cause(ctx)
	switch {
	case ctx.Err() != nil && !errors.Is(cause, ErrTimeout):
		return result{item: item, discarded: true}, "cancelled"
	case out.err == nil:
		return result{item: item, fact: out.fact}, "success"
	case errors.Is(cause, ErrTimeout):
		return result{item: item, err: &ItemError{Path: item.Path, Err: ErrTimeout}}, "timeout"
	default:
		return result{item: item, err: extractionError(item.Path, out.err)}, "error"
	}
}

func (d *dispatcher) extract(ctx context.Context, item Item) (Fact, error) {
	info, err := filesystem.StatWithRetry(ctx, item.Path, d.retry)
	if err != nil {
		return Fact{}, err
	}
	data, err := d.extractor.ProcessFile(ctx, item.Path)
	if err != nil {
		return Fact{}, err
	}
	return Fact{
		Path:       item.Path,
		Root:       item.Root,
		Kind:       KindFile,
		Generation: item.Generation,
		ModTime:    info.ModTime(),
		Size:       info.Size(),
		Data:       data,
	}, nil
}

func (d *dispatcher) release(f *inflight) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.active--
	if d.inflight[f.item.Path] == f {
		delete(d.inflight, f.item.Path)
	}
	close(d.released)
	d.released = make(chan struct{})
}

// cancel abandons the extraction for path, if any.
func (d *dispatcher) cancel(path string) bool {
	d.mu.Lock()
	f, ok := d.inflight[path]
	d.mu.Unlock()
	if ok {
		f.cancel(ErrCancelled)
	}
	return ok
}

// cancelUnder abandons every extraction at or beneath prefix.
func (d *dispatcher) cancelUnder(prefix string) int {
	d.mu.Lock()
	var victims []*inflight
	for path, f := range d.inflight {
		if under(prefix, path) {
			victims = append(victims, f)
		}
	}
	d.mu.Unlock()

	for _, f := range victims {
		f.cancel(ErrCancelled)
	}
	return len(victims)
}

func (d *dispatcher) cancelAll() {
	d.mu.Lock()
	victims := make([]*inflight, 0, len(d.inflight))
	for _, f := range d.inflight {
		victims = append(victims, f)
	}
	d.mu.Unlock()

	for _, f := range victims {
		f.cancel(ErrShuttingDown)
	}
}

// activeCount returns the number of held admission slots.
func (d *dispatcher) activeCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

// wait blocks until every started extraction has reported.
func (d *dispatcher) wait() {
	d.wg.Wait()
}
