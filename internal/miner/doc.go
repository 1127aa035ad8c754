/*
Package miner implements an incremental filesystem indexing engine.

The engine walks registered directory trees, asks a Policy which files and
directories matter, hands relevant files to an Extractor and commits the
results to a CommitSink in batches. Afterwards it keeps the index consistent
with live change events (create, update, delete, move) without re-scanning
everything.

# Components

  - registry: the set of watched roots and the per-directory watches placed
    for them. A recursive root covers its whole subtree, a non-recursive root
    its direct children.
  - Crawler: a lazy, depth-first walk in filename order (iter.Seq2). Each pass
    over a root is a generation; paths known from an earlier generation but not
    seen again are queued as deletions when the pass ends.
  - Queue: at most one pending entry per path. New work for a queued path
    coalesces into the existing entry; a deletion always wins over pending
    work and is served before creations and updates.
  - throttle.Controller: maps a scalar in [0,1] to an admission limit and an
    inter-dispatch delay.
  - dispatcher: runs each extraction in its own goroutine with a deadline and
    reports exactly one result per item.
  - committer: batches facts and serializes every sink call.

# Lifecycle

	eng := miner.New(policy, extractor, store, miner.DefaultConfig())
	eng.SetEventSource(watcher)
	if err := eng.AddDirectory("/srv/docs", true); err != nil {
	    return err
	}
	if err := eng.Start(ctx); err != nil {
	    return err
	}
	for n := range eng.Notifications() {
	    if n.Kind == miner.NotifyFinished {
	        log.Printf("indexed %s", n.Root)
	    }
	}

Each root moves Idle → Crawling → Draining → Idle. A NotifyFinished
notification is sent when a root's pass has no pending or busy items left.
Stop cancels everything and closes the notification channel.

# Error handling

Per-item failures (ErrExtractionFailure, ErrTimeout) are reported once on the
notification stream as *ItemError and never retried. An unreadable directory
fails only its own subtree. ErrEventSourceLost triggers a re-crawl of every
root.
*/
package miner
