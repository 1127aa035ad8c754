package miner

import (
	"container/heap"
	"context"
	"sync"
)

// Tiers are served lowest first. Deletions release resources, so they go
// ahead of everything else.
const (
	tierDelete = iota
	tierOther
)

type entry struct {
	item  Item
	seq   uint64
	index int // position in ready; -1 while parked behind a busy path
}

func (e *entry) tier() int {
	if e.item.Discovery == Deleted || e.item.RetractFirst {
		return tierDelete
	}
	return tierOther
}

type readyHeap []*entry

func (h readyHeap) Len() int { return len(h) }

func (h readyHeap) Less(i, j int) bool {
	ti, tj := h[i].tier(), h[j].tier()
	if ti != tj {
		return ti < tj
	}
	return h[i].seq < h[j].seq
}

func (h readyHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *readyHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *readyHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Queue holds at most one pending entry per path and hands items out
// deletions first, then in first-enqueue order. A path handed out by Dequeue
// is busy until Done; new work for it waits in a parked entry so a path is
// never processed twice at once.
type Queue struct {
	mu      sync.Mutex
	entries map[string]*entry
	ready   readyHeap
	busy    map[string]Item
	seq     uint64
	signal  chan struct{}
	closed  bool

	onCancel func(path string)
}

// NewQueue creates an empty queue. onCancel is invoked, outside the queue
// lock, for busy paths whose in-flight work must be abandoned.
func NewQueue(onCancel func(path string)) *Queue {
	return &Queue{
		entries:  make(map[string]*entry),
		busy:     make(map[string]Item),
		signal:   make(chan struct{}),
		onCancel: onCancel,
	}
}

// coalesce merges next into the pending item old.
//
// A deletion replaces anything pending. A crawl rediscovery never undoes a
// pending deletion. A live event for a path whose deletion is pending keeps
// the deletion as RetractFirst, so the old facts are retracted before the
// recreated path is indexed. The source path of a pending move is carried
// along so it still gets retracted.
func coalesce(old, next Item) Item {
	merged := next
	if old.Discovery == Deleted && next.Discovery == Crawled {
		merged = old
	}
	if merged.Discovery != Deleted &&
		(old.RetractFirst || old.Discovery == Deleted || next.RetractFirst) {
		merged.RetractFirst = true
	}
	if merged.From == "" && old.From != "" && old.From != merged.Path {
		merged.From = old.From
		if merged.Discovery != Deleted {
			merged.Discovery = Moved
		}
	}
	if old.Generation > merged.Generation {
		merged.Generation = old.Generation
	}
	return merged
}

// Enqueue adds item or coalesces it into the pending entry for its path.
func (q *Queue) Enqueue(item Item) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrShuttingDown
	}

	_, busy := q.busy[item.Path]
	if e, ok := q.entries[item.Path]; ok {
		e.item = coalesce(e.item, item)
		if e.index >= 0 {
			heap.Fix(&q.ready, e.index)
		}
	} else {
		q.seq++
		e := &entry{item: item, seq: q.seq, index: -1}
		q.entries[item.Path] = e
		if !busy {
			heap.Push(&q.ready, e)
			q.broadcast()
		}
	}
	cancel := busy && item.Discovery == Deleted
	q.mu.Unlock()

	if cancel && q.onCancel != nil {
		q.onCancel(item.Path)
	}
	return nil
}

// Dequeue blocks until an item is ready, ctx is done, or the queue is closed.
// The returned path stays busy until Done is called for it.
func (q *Queue) Dequeue(ctx context.Context) (Item, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return Item{}, ErrShuttingDown
		}
		if q.ready.Len() > 0 {
			e := heap.Pop(&q.ready).(*entry)
			delete(q.entries, e.item.Path)
			q.busy[e.item.Path] = e.item
			q.mu.Unlock()
			return e.item, nil
		}
		signal := q.signal
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return Item{}, ctx.Err()
		case <-signal:
		}
	}
}

// Done marks path as no longer busy and releases any parked entry for it.
func (q *Queue) Done(path string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.busy, path)
	if e, ok := q.entries[path]; ok && e.index < 0 {
		heap.Push(&q.ready, e)
		q.broadcast()
	}
}

// Remove drops the pending entry for path and cancels it if busy. It reports
// whether anything was found.
func (q *Queue) Remove(path string) bool {
	q.mu.Lock()
	found := q.drop(path)
	_, busy := q.busy[path]
	q.mu.Unlock()

	if busy && q.onCancel != nil {
		q.onCancel(path)
	}
	return found || busy
}

// RemoveUnder drops every pending entry at or beneath prefix and cancels busy
// paths there. It returns the number of pending entries dropped.
func (q *Queue) RemoveUnder(prefix string) int {
	q.mu.Lock()
	removed := 0
	for path := range q.entries {
		if under(prefix, path) && q.drop(path) {
			removed++
		}
	}
	var cancel []string
	for path := range q.busy {
		if under(prefix, path) {
			cancel = append(cancel, path)
		}
	}
	q.mu.Unlock()

	if q.onCancel != nil {
		for _, path := range cancel {
			q.onCancel(path)
		}
	}
	return removed
}

func (q *Queue) drop(path string) bool {
	e, ok := q.entries[path]
	if !ok {
		return false
	}
	if e.index >= 0 {
		heap.Remove(&q.ready, e.index)
	}
	delete(q.entries, path)
	return true
}

// Retag moves every pending and busy item tagged with from over to root,
// used when a new root absorbs from. It returns the number of items moved.
func (q *Queue) Retag(from string, root *rootState) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, e := range q.entries {
		if e.item.Root == from {
			e.item.Root, e.item.root = root.Path, root
			n++
		}
	}
	for path, item := range q.busy {
		if item.Root == from {
			item.Root, item.root = root.Path, root
			q.busy[path] = item
			n++
		}
	}
	return n
}

// Outstanding counts pending and busy items tagged with root.
func (q *Queue) Outstanding(root string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, e := range q.entries {
		if e.item.Root == root {
			n++
		}
	}
	for _, item := range q.busy {
		if item.Root == root {
			n++
		}
	}
	return n
}

// Pending returns a copy of the pending item for path.
func (q *Queue) Pending(path string) (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.entries[path]
	if !ok {
		return Item{}, false
	}
	return e.item, true
}

// Len returns the number of pending entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// InFlight returns the number of busy paths.
func (q *Queue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.busy)
}

// Close rejects further enqueues and wakes every blocked Dequeue.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.broadcast()
}

// broadcast wakes all waiters. Caller holds q.mu.
func (q *Queue) broadcast() {
	close(q.signal)
	q.signal = make(chan struct{})
}
