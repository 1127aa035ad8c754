package miner

import (
	"context"
	"sync"
	"time"

	"fsminer/internal/logging"
)

var commitLog = logging.Component("committer")

// committer batches facts for the sink and serializes every sink call, so a
// commit of a path always lands before a later retract of it.
type committer struct {
	sink      CommitSink
	batchSize int
	obs       Observer
	onError   func(path string, err error)

	mu      sync.Mutex
	pending []Fact
}

func newCommitter(sink CommitSink, batchSize int, obs Observer, onError func(string, error)) *committer {
	if batchSize < 1 {
		batchSize = 1
	}
	return &committer{
		sink:      sink,
		batchSize: batchSize,
		obs:       obs,
		onError:   onError,
	}
}

// add queues fact for the next batch unless alive reports that the owning
// root has been removed. alive is evaluated under the committer lock, which
// root removal also takes before retracting.
func (c *committer) add(ctx context.Context, fact Fact, alive func() bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !alive() {
		commitLog.Debug("Dropped fact for %s: root removed", fact.Path)
		return false
	}
	c.pending = append(c.pending, fact)
	if len(c.pending) >= c.batchSize {
		c.flushLocked(ctx)
	}
	return true
}

// replace retracts every prefix in stale, then queues fact.
func (c *committer) replace(ctx context.Context, fact Fact, alive func() bool, stale ...string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !alive() {
		return false
	}
	c.flushLocked(ctx)
	for _, prefix := range stale {
		c.retractLocked(ctx, prefix)
	}
	c.pending = append(c.pending, fact)
	if len(c.pending) >= c.batchSize {
		c.flushLocked(ctx)
	}
	return true
}

// retract flushes pending facts, then removes prefix and everything under it.
// A nil alive retracts unconditionally.
func (c *committer) retract(ctx context.Context, prefix string, alive func() bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if alive != nil && !alive() {
		return nil
	}
	c.flushLocked(ctx)
	return c.retractLocked(ctx, prefix)
}

// purge drops pending facts under prefix without committing them.
func (c *committer) purge(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	kept := c.pending[:0]
	for _, f := range c.pending {
		if !under(prefix, f.Path) {
			kept = append(kept, f)
		}
	}
	clear(c.pending[len(kept):])
	c.pending = kept
}

func (c *committer) flush(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushLocked(ctx)
}

func (c *committer) pendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *committer) flushLocked(ctx context.Context) {
	if len(c.pending) == 0 {
		return
	}
	batch := c.pending
	c.pending = nil

	start := time.Now()
	err := c.sink.Commit(ctx, batch)
	c.obs.ObserveCommit(len(batch), time.Since(start).Seconds(), err)
	if err != nil {
		commitLog.Error("Failed to commit %d facts: %v", len(batch), err)
		for _, f := range batch {
			c.onError(f.Path, err)
		}
		return
	}
	commitLog.Debug("Committed %d facts in %v", len(batch), time.Since(start))
}

func (c *committer) retractLocked(ctx context.Context, prefix string) error {
	err := c.sink.Retract(ctx, prefix)
	c.obs.ObserveRetract(err)
	if err != nil {
		commitLog.Error("Failed to retract %s: %v", prefix, err)
		c.onError(prefix, err)
		return err
	}
	return nil
}
