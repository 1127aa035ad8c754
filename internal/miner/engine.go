package miner

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"fsminer/internal/filesystem"
	"fsminer/internal/logging"
	"fsminer/internal/throttle"
)

var engineLog = logging.Component("miner")

// progressEvery is the number of crawled items between progress notifications.
const progressEvery = 500

// Config tunes the engine.
type Config struct {
	Throttle           throttle.Config
	ExtractTimeout     time.Duration
	CommitBatchSize    int
	CommitInterval     time.Duration
	NotificationBuffer int
	Retry              filesystem.RetryConfig
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		Throttle:           throttle.DefaultConfig(),
		ExtractTimeout:     10 * time.Second,
		CommitBatchSize:    100,
		CommitInterval:     time.Second,
		NotificationBuffer: 1024,
		Retry:              filesystem.DefaultRetryConfig(),
	}
}

type lifecycle int

const (
	stateCreated lifecycle = iota
	stateRunning
	stateStopped
)

// Engine crawls watched roots, reconciles live change events, extracts
// relevant files under the throttle and commits the results in batches.
type Engine struct {
	cfg       Config
	policy    Policy
	extractor Extractor
	sink      CommitSink
	source    EventSource
	obs       Observer

	cell       *throttle.Cell
	throttle   *throttle.Controller
	queue      *Queue
	registry   *registry
	crawler    *Crawler
	dispatcher *dispatcher
	committer  *committer

	results       chan result
	notifications chan Notification
	notifyMu      sync.RWMutex
	notifyClosed  bool

	knownMu sync.Mutex
	known   map[string]knownPath

	mu             sync.Mutex
	state          lifecycle
	ctx            context.Context
	sinkCtx        context.Context
	cancel         context.CancelFunc
	loops          sync.WaitGroup
	crawls         sync.WaitGroup
	completionDone chan struct{}
}

// New creates an engine. The throttle cell is owned by the engine; use
// SetThrottle or Controller to change it.
func New(policy Policy, extractor Extractor, sink CommitSink, cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.Throttle.MaxConcurrency < 1 {
		cfg.Throttle.MaxConcurrency = def.Throttle.MaxConcurrency
	}
	if cfg.ExtractTimeout <= 0 {
		cfg.ExtractTimeout = def.ExtractTimeout
	}
	if cfg.CommitBatchSize < 1 {
		cfg.CommitBatchSize = def.CommitBatchSize
	}
	if cfg.CommitInterval <= 0 {
		cfg.CommitInterval = def.CommitInterval
	}
	if cfg.NotificationBuffer < 1 {
		cfg.NotificationBuffer = def.NotificationBuffer
	}
	if cfg.Retry.MaxRetries == 0 && cfg.Retry.InitialBackoff == 0 {
		cfg.Retry = def.Retry
	}

	e := &Engine{
		cfg:           cfg,
		policy:        policy,
		extractor:     extractor,
		sink:          sink,
		obs:           nopObserver{},
		cell:          &throttle.Cell{},
		registry:      newRegistry(),
		crawler:       NewCrawler(policy, cfg.Retry),
		results:       make(chan result, 64),
		notifications: make(chan Notification, cfg.NotificationBuffer),
		known:         make(map[string]knownPath),
		sinkCtx:       context.Background(),
	}
	e.throttle = throttle.NewController(e.cell, cfg.Throttle)
	e.dispatcher = newDispatcher(extractor, e.throttle, cfg.ExtractTimeout, cfg.Retry, e.results, e.obs)
	e.queue = NewQueue(func(path string) { e.dispatcher.cancel(path) })
	e.committer = newCommitter(sink, cfg.CommitBatchSize, e.obs, e.notifyError)
	return e
}

// SetEventSource installs the change notification source. Call before Start.
func (e *Engine) SetEventSource(source EventSource) {
	e.source = source
	e.registry.setSource(source)
}

// SetObserver installs a metrics observer. Call before Start.
func (e *Engine) SetObserver(obs Observer) {
	if obs == nil {
		obs = nopObserver{}
	}
	e.obs = obs
	e.dispatcher.obs = obs
	e.committer.obs = obs
}

// Controller exposes the throttle controller so external signals (memory
// pressure) can drive its pressure floor.
func (e *Engine) Controller() *throttle.Controller {
	return e.throttle
}

// Notifications returns the notification stream. It is closed by Stop.
func (e *Engine) Notifications() <-chan Notification {
	return e.notifications
}

// Start launches the engine loops and crawls every root added so far.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case stateStopped:
		return ErrShuttingDown
	case stateRunning:
		return fmt.Errorf("miner already started")
	}

	e.ctx, e.cancel = context.WithCancel(ctx)
	e.sinkCtx = context.WithoutCancel(ctx)
	e.state = stateRunning
	e.completionDone = make(chan struct{})

	e.loops.Add(2)
	go e.dispatchLoop(e.ctx)
	go e.flushLoop(e.ctx)
	go e.completionLoop()
	if e.source != nil {
		e.loops.Add(1)
		go e.eventLoop(e.ctx)
	}

	e.observeThrottle()
	roots := e.registry.list()
	engineLog.Info("Miner started with %d roots (admission limit %d, extract timeout %v)",
		len(roots), e.throttle.AdmissionLimit(), e.cfg.ExtractTimeout)
	for _, root := range roots {
		e.startCrawlLocked(root)
	}
	return nil
}

// Stop cancels in-flight work, closes the event source and the queue, flushes
// pending commits and closes the notification stream. Further calls return
// ErrShuttingDown.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if e.state == stateStopped {
		e.mu.Unlock()
		return nil
	}
	wasRunning := e.state == stateRunning
	e.state = stateStopped
	e.mu.Unlock()

	engineLog.Info("Stopping miner")
	e.queue.Close()
	e.dispatcher.cancelAll()
	if e.cancel != nil {
		e.cancel()
	}

	var closeErr error
	if e.source != nil {
		closeErr = e.source.Close()
	}

	if wasRunning {
		e.loops.Wait()
		e.crawls.Wait()
		e.dispatcher.wait()
		close(e.results)
		<-e.completionDone
	}

	e.committer.flush(e.sinkCtx)

	e.notifyMu.Lock()
	e.notifyClosed = true
	close(e.notifications)
	e.notifyMu.Unlock()

	engineLog.Info("Miner stopped")
	return closeErr
}

func (e *Engine) stopped() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == stateStopped
}

func (e *Engine) running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == stateRunning
}

// AddDirectory registers a root and, if the engine is running, starts a crawl
// of it. ErrOverlap means the path is already covered; callers should treat
// it as a no-op.
func (e *Engine) AddDirectory(path string, recursive bool) error {
	if e.stopped() {
		return ErrShuttingDown
	}
	path, err := normalize(path)
	if err != nil {
		return err
	}

	root, absorbed, err := e.registry.addRoot(path, recursive)
	if err != nil {
		if errors.Is(err, ErrOverlap) {
			engineLog.Info("Root %s already covered, ignoring", path)
		}
		return err
	}
	for _, old := range absorbed {
		old.stopCrawl()
		// Continue the absorbed root's generations so its known paths age.
		if g := old.generation.Load(); g > root.generation.Load() {
			root.generation.Store(g)
		}
		moved := e.queue.Retag(old.Path, root)
		e.retagKnown(old, root)
		engineLog.Info("Root %s absorbed by %s (%d queued items moved)", old.Path, path, moved)
	}
	e.seedGeneration(root)
	engineLog.Info("Added root %s (recursive=%v)", path, recursive)

	e.startCrawl(root)
	return nil
}

// seedGeneration raises root's generation to the highest one the sink holds
// beneath it.
func (e *Engine) seedGeneration(root *rootState) {
	gs, ok := e.sink.(GenerationSource)
	if !ok {
		return
	}
	stored, err := gs.MaxGeneration(e.sinkCtx, root.Path)
	if err != nil {
		engineLog.Warn("Failed to read stored generation under %s: %v", root.Path, err)
		e.notifyError(root.Path, err)
		return
	}
	for {
		cur := root.generation.Load()
		if stored <= cur || root.generation.CompareAndSwap(cur, stored) {
			break
		}
	}
	if stored > 0 {
		engineLog.Debug("Root %s continues from stored generation %d", root.Path, stored)
	}
}

// RemoveDirectory unregisters a root and every root nested beneath it. Before
// returning, pending and in-flight work under the path is discarded, watches
// are removed and all facts under the path are retracted from the sink.
func (e *Engine) RemoveDirectory(path string) (bool, error) {
	if e.stopped() {
		return false, ErrShuttingDown
	}
	path, err := normalize(path)
	if err != nil {
		return false, err
	}

	removed, err := e.registry.removeRoot(path)
	if err != nil {
		return false, err
	}
	for _, r := range removed {
		r.removed.Store(true)
		r.stopCrawl()
	}

	purged := e.queue.RemoveUnder(path)
	cancelled := e.dispatcher.cancelUnder(path)
	unwatched := e.registry.unwatchUnder(path)
	e.forgetUnder(path)
	e.committer.purge(path)

	engineLog.Info("Removed root %s (%d queued dropped, %d extractions cancelled, %d watches removed)",
		path, purged, cancelled, unwatched)

	if err := e.committer.retract(e.sinkCtx, path, nil); err != nil {
		return true, fmt.Errorf("failed to retract %s: %w", path, err)
	}
	return true, nil
}

// SetThrottle sets the throttle value, clamped to [0,1].
func (e *Engine) SetThrottle(v float64) {
	e.throttle.Set(v)
	e.observeThrottle()
	engineLog.Info("Throttle set to %.2f (admission limit %d, delay %v)",
		e.throttle.Get(), e.throttle.AdmissionLimit(), e.throttle.InterDispatchDelay())
}

// Throttle returns the user throttle value.
func (e *Engine) Throttle() float64 {
	return e.throttle.Get()
}

// Roots returns the watched roots in path order.
func (e *Engine) Roots() []WatchedRoot {
	roots := e.registry.list()
	out := make([]WatchedRoot, len(roots))
	for i, r := range roots {
		out[i] = r.WatchedRoot
	}
	return out
}

// RootState returns the crawl state of a root.
func (e *Engine) RootState(path string) (RootState, error) {
	path, err := normalize(path)
	if err != nil {
		return RootIdle, err
	}
	root := e.registry.get(path)
	if root == nil {
		return RootIdle, ErrUnknownRoot
	}
	return root.loadState(), nil
}

// RootStatus describes one root in Status.
type RootStatus struct {
	WatchedRoot
	State       string `json:"state"`
	Generation  uint64 `json:"generation"`
	Outstanding int    `json:"outstanding"`
}

// Status is a point-in-time snapshot of the engine.
type Status struct {
	Running        bool         `json:"running"`
	Roots          []RootStatus `json:"roots"`
	Queued         int          `json:"queued"`
	InFlight       int          `json:"inFlight"`
	Extracting     int          `json:"extracting"`
	PendingCommits int          `json:"pendingCommits"`
	Watches        int          `json:"watches"`
	Throttle       float64      `json:"throttle"`
	Pressure       float64      `json:"pressure"`
	AdmissionLimit int          `json:"admissionLimit"`
	DispatchDelay  string       `json:"dispatchDelay"`
}

// Status returns a snapshot of the engine.
func (e *Engine) Status() Status {
	roots := e.registry.list()
	st := Status{
		Running:        e.running(),
		Roots:          make([]RootStatus, 0, len(roots)),
		Queued:         e.queue.Len(),
		InFlight:       e.queue.InFlight(),
		Extracting:     e.dispatcher.activeCount(),
		PendingCommits: e.committer.pendingCount(),
		Watches:        e.registry.watchCount(),
		Throttle:       e.throttle.Get(),
		Pressure:       e.throttle.Pressure(),
		AdmissionLimit: e.throttle.AdmissionLimit(),
		DispatchDelay:  e.throttle.InterDispatchDelay().String(),
	}
	for _, r := range roots {
		st.Roots = append(st.Roots, RootStatus{
			WatchedRoot: r.WatchedRoot,
			State:       r.loadState().String(),
			Generation:  r.generation.Load(),
			Outstanding: e.queue.Outstanding(r.Path),
		})
	}
	return st
}

// Recrawl starts a new crawl pass of every root.
func (e *Engine) Recrawl() error {
	if !e.running() {
		return ErrShuttingDown
	}
	for _, root := range e.registry.list() {
		e.startCrawl(root)
	}
	return nil
}

func (e *Engine) enqueue(item Item) {
	if err := e.queue.Enqueue(item); err != nil {
		return
	}
	e.obs.ObserveEnqueue(item.Discovery)
	e.obs.ObserveQueue(e.queue.Len(), e.queue.InFlight())
}

// knownPath records the last generation a path was seen in.
type knownPath struct {
	generation uint64
	kind       Kind
	root       *rootState
}

func (e *Engine) remember(item Item) {
	e.knownMu.Lock()
	defer e.knownMu.Unlock()
	if k, ok := e.known[item.Path]; !ok || item.Generation >= k.generation {
		e.known[item.Path] = knownPath{generation: item.Generation, kind: item.Kind, root: item.root}
	}
}

// descendants returns crawl items for every known path strictly beneath
// prefix. A prefix retraction also removes these, so they are indexed again.
func (e *Engine) descendants(prefix string) []Item {
	e.knownMu.Lock()
	defer e.knownMu.Unlock()

	var items []Item
	for path, k := range e.known {
		if path == prefix || !under(prefix, path) || k.root == nil || k.root.removed.Load() {
			continue
		}
		items = append(items, Item{
			Path:       path,
			Root:       k.root.Path,
			Kind:       k.kind,
			Discovery:  Crawled,
			Generation: k.generation,
			root:       k.root,
		})
	}
	return items
}

// retagKnown hands the known paths of an absorbed root to its new owner.
func (e *Engine) retagKnown(from, to *rootState) {
	e.knownMu.Lock()
	defer e.knownMu.Unlock()
	for path, k := range e.known {
		if k.root == from {
			k.root = to
			e.known[path] = k
		}
	}
}

func (e *Engine) forget(path string) {
	e.knownMu.Lock()
	defer e.knownMu.Unlock()
	delete(e.known, path)
}

func (e *Engine) isKnown(path string) bool {
	e.knownMu.Lock()
	defer e.knownMu.Unlock()
	_, ok := e.known[path]
	return ok
}

func (e *Engine) forgetUnder(prefix string) {
	e.knownMu.Lock()
	defer e.knownMu.Unlock()
	for path := range e.known {
		if under(prefix, path) {
			delete(e.known, path)
		}
	}
}

func (e *Engine) observeThrottle() {
	e.obs.ObserveThrottle(e.throttle.Effective(), e.throttle.AdmissionLimit())
}

func (e *Engine) notify(n Notification) {
	n.Time = time.Now()

	e.notifyMu.RLock()
	defer e.notifyMu.RUnlock()
	if e.notifyClosed {
		return
	}
	select {
	case e.notifications <- n:
	default:
		e.obs.ObserveNotificationDropped(n.Kind)
		engineLog.Warn("Notification buffer full, dropped %s", n)
	}
}

func (e *Engine) notifyError(path string, err error) {
	var ie *ItemError
	if !errors.As(err, &ie) && path != "" {
		err = &ItemError{Path: path, Err: err}
	}
	root := ""
	if r := e.registry.rootFor(path); r != nil {
		root = r.Path
	}
	e.notify(Notification{Kind: NotifyError, Root: root, Path: path, Err: err})
}

func (e *Engine) flushLoop(ctx context.Context) {
	defer e.loops.Done()

	ticker := time.NewTicker(e.cfg.CommitInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.committer.flush(e.sinkCtx)
		}
	}
}

// dispatchLoop is the single consumer of the queue. Deletions and directories
// are settled directly; files go to the dispatcher.
func (e *Engine) dispatchLoop(ctx context.Context) {
	defer e.loops.Done()

	for {
		item, err := e.queue.Dequeue(ctx)
		if err != nil {
			return
		}
		e.obs.ObserveQueue(e.queue.Len(), e.queue.InFlight())

		switch {
		case item.Discovery == Deleted:
			e.results <- result{item: item}
		case item.Kind == KindDirectory:
			e.results <- e.directoryResult(ctx, item)
		default:
			e.dispatcher.dispatch(ctx, item)
			if delay := e.throttle.InterDispatchDelay(); delay > 0 {
				timer := time.NewTimer(delay)
				select {
				case <-ctx.Done():
					timer.Stop()
				case <-timer.C:
				}
			}
		}
	}
}

func (e *Engine) directoryResult(ctx context.Context, item Item) result {
	info, err := filesystem.StatWithRetry(ctx, item.Path, e.cfg.Retry)
	if err != nil {
		if ctx.Err() != nil {
			return result{item: item, discarded: true}
		}
		return result{item: item, err: &ItemError{Path: item.Path, Err: err}}
	}
	return result{item: item, fact: Fact{
		Path:       item.Path,
		Root:       item.Root,
		Kind:       KindDirectory,
		Generation: item.Generation,
		ModTime:    info.ModTime(),
	}}
}

func (e *Engine) completionLoop() {
	defer close(e.completionDone)
	for res := range e.results {
		e.complete(res)
	}
}

// complete settles one dequeued item: exactly one of commit, retract or
// error report, unless the item was superseded.
func (e *Engine) complete(res result) {
	item := res.item
	root := item.root
	alive := func() bool { return root == nil || !root.removed.Load() }

	// Paths whose earlier facts must go before this outcome lands.
	var stale []string
	if item.From != "" {
		stale = append(stale, item.From)
	}
	if item.RetractFirst {
		stale = append(stale, item.Path)
	}

	switch {
	case res.discarded:
		for _, p := range stale {
			e.committer.retract(e.sinkCtx, p, alive)
		}
	case item.Discovery == Deleted:
		e.committer.retract(e.sinkCtx, item.Path, alive)
		if item.From != "" {
			e.committer.retract(e.sinkCtx, item.From, alive)
		}
		e.forget(item.Path)
	case res.err != nil:
		for _, p := range stale {
			e.committer.retract(e.sinkCtx, p, alive)
		}
		engineLog.Debug("Failed %s: %v", item.Path, res.err)
		e.notifyError(item.Path, res.err)
	case len(stale) > 0:
		e.committer.replace(e.sinkCtx, res.fact, alive, stale...)
	default:
		e.committer.add(e.sinkCtx, res.fact, alive)
	}

	// Live paths beneath a retracted directory (a stale directory that is
	// still traversed, or a recreated one) go back through the queue.
	if item.Discovery == Deleted || item.RetractFirst {
		for _, child := range e.descendants(item.Path) {
			e.enqueue(child)
		}
	}

	e.queue.Done(item.Path)
	e.obs.ObserveQueue(e.queue.Len(), e.queue.InFlight())
	owner := e.registry.get(item.Root)
	if owner == nil {
		// The item's root was absorbed while it was in flight.
		owner = e.registry.rootFor(item.Path)
	}
	e.checkDrained(owner)
}

// checkDrained moves a draining root to idle and reports it finished once it
// has no pending or busy items.
func (e *Engine) checkDrained(root *rootState) {
	if root == nil || root.removed.Load() {
		return
	}
	if root.loadState() != RootDraining {
		return
	}
	if e.queue.Outstanding(root.Path) > 0 {
		return
	}
	if !root.state.CompareAndSwap(int32(RootDraining), int32(RootIdle)) {
		return
	}
	e.committer.flush(e.sinkCtx)
	engineLog.Info("Finished %s (generation %d)", root.Path, root.generation.Load())
	e.notify(Notification{Kind: NotifyFinished, Root: root.Path, Progress: Progress{
		Generation: root.generation.Load(),
		Crawled:    int(root.crawled.Load()),
	}})
}

// startCrawl begins a new generation for root if the engine is running.
func (e *Engine) startCrawl(root *rootState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != stateRunning {
		return
	}
	e.startCrawlLocked(root)
}

func (e *Engine) startCrawlLocked(root *rootState) {
	gen := root.generation.Add(1)
	ctx, cancel := context.WithCancel(e.ctx)
	root.setCrawl(cancel)
	root.state.Store(int32(RootCrawling))

	e.crawls.Add(1)
	go func() {
		defer e.crawls.Done()
		defer cancel()
		e.crawl(ctx, root, gen)
	}()
}

// crawl runs one generation over root: enqueue everything the walk yields,
// then enqueue deletions for known paths it did not see.
func (e *Engine) crawl(ctx context.Context, root *rootState, gen uint64) {
	start := time.Now()
	engineLog.Info("Crawling %s (generation %d)", root.Path, gen)

	var failed []string
	crawled := 0
	walk := e.crawler.Walk(ctx, Crawl{
		Root:       root.Path,
		Recursive:  root.Recursive,
		Generation: gen,
		OnTraverse: func(dir string) { e.traversed(root, dir) },
	})
	for item, err := range walk {
		if root.removed.Load() {
			return
		}
		if err != nil {
			failed = append(failed, item.Path)
			engineLog.Warn("Cannot enumerate %s: %v", item.Path, err)
			e.notifyError(item.Path, err)
			continue
		}
		item.root = root
		e.remember(item)
		e.enqueue(item)
		crawled++
		if crawled%progressEvery == 0 {
			e.notify(Notification{Kind: NotifyProgress, Root: root.Path, Progress: Progress{
				Generation: gen,
				Crawled:    crawled,
				Queued:     e.queue.Outstanding(root.Path),
			}})
		}
	}
	if ctx.Err() != nil || root.removed.Load() || root.generation.Load() != gen {
		return
	}

	stale := e.enqueueStale(ctx, root, gen, failed)
	e.obs.ObserveCrawl(root.Path, crawled, time.Since(start).Seconds())
	engineLog.Info("Crawled %s: %d items, %d stale, %d failed subtrees in %v",
		root.Path, crawled, stale, len(failed), time.Since(start))
	e.notify(Notification{Kind: NotifyProgress, Root: root.Path, Progress: Progress{
		Generation: gen,
		Crawled:    crawled,
		Queued:     e.queue.Outstanding(root.Path),
	}})

	root.crawled.Store(int64(crawled))
	root.state.CompareAndSwap(int32(RootCrawling), int32(RootDraining))
	e.checkDrained(root)
}

// enqueueStale queues a deletion for every path owned by root that was known
// before gen but not seen in it. Paths under failed subtrees are kept.
func (e *Engine) enqueueStale(ctx context.Context, root *rootState, gen uint64, failed []string) int {
	owned := func(path string) bool {
		if path == root.Path || !under(root.Path, path) {
			return false
		}
		for _, f := range failed {
			if under(f, path) {
				return false
			}
		}
		return e.registry.rootFor(path) == root
	}

	var stale []string
	e.knownMu.Lock()
	for path, k := range e.known {
		if k.generation < gen && owned(path) {
			stale = append(stale, path)
		}
	}
	e.knownMu.Unlock()

	if lister, ok := e.sink.(IndexedLister); ok {
		indexed, err := lister.ListIndexed(ctx, root.Path)
		if err != nil {
			engineLog.Warn("Failed to list indexed paths under %s: %v", root.Path, err)
		}
		e.knownMu.Lock()
		for _, path := range indexed {
			if _, ok := e.known[path]; !ok && owned(path) {
				stale = append(stale, path)
			}
		}
		e.knownMu.Unlock()
	}

	for _, path := range stale {
		e.enqueue(Item{Path: path, Root: root.Path, Discovery: Deleted, Generation: gen, root: root})
	}
	return len(stale)
}

// traversed places a watch on dir when the policy asks for it. Non-recursive
// roots only watch the root itself.
func (e *Engine) traversed(root *rootState, dir string) {
	if !root.Recursive && dir != root.Path {
		return
	}
	if !e.policy.MonitorDirectory(dir) {
		return
	}
	if err := e.registry.watch(dir, root); err != nil {
		engineLog.Warn("Failed to watch %s: %v", dir, err)
		e.notifyError(dir, err)
	}
}

// crawlSubtree enqueues a newly appeared directory and its contents as
// created items of root's current generation.
func (e *Engine) crawlSubtree(root *rootState, dir string) {
	if !e.running() {
		return
	}
	e.crawls.Add(1)
	go func() {
		defer e.crawls.Done()

		gen := root.generation.Load()
		walk := e.crawler.Walk(e.ctx, Crawl{
			Root:       root.Path,
			Dir:        dir,
			Recursive:  true,
			IncludeDir: true,
			Generation: gen,
			OnTraverse: func(d string) { e.traversed(root, d) },
		})
		for item, err := range walk {
			if root.removed.Load() {
				return
			}
			if err != nil {
				e.notifyError(item.Path, err)
				continue
			}
			item.root = root
			item.Discovery = Created
			e.remember(item)
			e.enqueue(item)
		}
	}()
}

func (e *Engine) eventLoop(ctx context.Context) {
	defer e.loops.Done()

	events := e.source.Events()
	errs := e.source.Errors()
	for events != nil || errs != nil {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				events = nil
				e.sourceLost(ctx, errors.New("event channel closed"))
				continue
			}
			e.obs.ObserveEvent(ev.Op)
			e.handleEvent(ctx, ev)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			e.sourceLost(ctx, err)
		}
	}
}

// sourceLost reports the failure and re-crawls every root, since events may
// have been missed.
func (e *Engine) sourceLost(ctx context.Context, cause error) {
	if ctx.Err() != nil {
		return
	}
	err := fmt.Errorf("%w: %v", ErrEventSourceLost, cause)
	engineLog.Error("%v; re-crawling all roots", err)
	e.notify(Notification{Kind: NotifyError, Err: err})
	for _, root := range e.registry.list() {
		e.startCrawl(root)
	}
}

func (e *Engine) handleEvent(ctx context.Context, ev ChangeEvent) {
	switch ev.Op {
	case OpCreated, OpUpdated:
		e.handleChange(ctx, ev.Op, ev.Path)
	case OpDeleted:
		e.handleDelete(ev.Path)
	case OpMoved:
		e.handleMove(ctx, ev.OldPath, ev.Path)
	}
}

// handleChange reconciles a created or updated path.
func (e *Engine) handleChange(ctx context.Context, op Op, path string) {
	root := e.registry.rootFor(path)
	if root == nil || path == root.Path {
		return
	}
	info, err := filesystem.LstatWithRetry(ctx, path, e.cfg.Retry)
	if err != nil {
		// Gone again; the deletion event will follow.
		return
	}

	discovery := Created
	if op == OpUpdated {
		discovery = Updated
	}
	gen := root.generation.Load()

	switch {
	case info.IsDir():
		if op != OpCreated {
			return
		}
		if root.Recursive {
			e.crawlSubtree(root, path)
			return
		}
		item, ok, err := e.crawler.DirectoryItem(ctx, Crawl{Root: root.Path, Generation: gen}, path)
		if err != nil {
			e.notifyError(path, err)
			return
		}
		if ok {
			item.root = root
			item.Discovery = discovery
			e.remember(item)
			e.enqueue(item)
		}
	case info.Mode().IsRegular():
		if !e.policy.CheckFile(path) || !e.parentsAccepted(root, path) {
			if e.isKnown(path) {
				e.enqueue(Item{Path: path, Root: root.Path, Discovery: Deleted, Generation: gen, root: root})
			}
			return
		}
		item := Item{Path: path, Root: root.Path, Kind: KindFile, Discovery: discovery, Generation: gen, root: root}
		e.remember(item)
		e.enqueue(item)
	}
}

// parentsAccepted checks CheckDirectory for every directory between the root
// and path, mirroring crawl pruning.
func (e *Engine) parentsAccepted(root *rootState, path string) bool {
	for dir := filepath.Dir(path); dir != root.Path && under(root.Path, dir); dir = filepath.Dir(dir) {
		if !e.policy.CheckDirectory(dir) {
			return false
		}
	}
	return true
}

// handleDelete discards everything pending under path and queues its deletion.
func (e *Engine) handleDelete(path string) {
	root := e.registry.rootFor(path)
	if root == nil {
		return
	}
	e.queue.RemoveUnder(path)
	e.registry.unwatchUnder(path)
	e.forgetUnder(path)
	e.enqueue(Item{Path: path, Root: root.Path, Discovery: Deleted, Generation: root.generation.Load(), root: root})
}

// handleMove translates a rename. Both ends outside every root: ignored. One
// end inside: a creation or a deletion. Same root: one moved item that
// retracts the old path and indexes the new one. Different roots: a deletion
// plus a creation.
func (e *Engine) handleMove(ctx context.Context, from, to string) {
	src := e.registry.rootFor(from)
	dst := e.registry.rootFor(to)

	switch {
	case src == nil && dst == nil:
		return
	case dst == nil:
		e.handleDelete(from)
		return
	case src == nil || src != dst:
		if src != nil {
			e.handleDelete(from)
		}
		e.handleChange(ctx, OpCreated, to)
		return
	}

	info, err := filesystem.LstatWithRetry(ctx, to, e.cfg.Retry)
	if err != nil {
		e.handleDelete(from)
		return
	}

	e.queue.RemoveUnder(from)
	e.registry.unwatchUnder(from)
	e.forgetUnder(from)

	gen := dst.generation.Load()
	moved := Item{Path: to, Root: dst.Path, Discovery: Moved, From: from, Generation: gen, root: dst}

	switch {
	case info.IsDir() && e.policy.CheckDirectory(to) && e.parentsAccepted(dst, to):
		moved.Kind = KindDirectory
		e.remember(moved)
		e.enqueue(moved)
		if dst.Recursive {
			e.crawlSubtree(dst, to)
		}
	case info.Mode().IsRegular() && e.policy.CheckFile(to) && e.parentsAccepted(dst, to):
		moved.Kind = KindFile
		e.remember(moved)
		e.enqueue(moved)
	default:
		// The new name is not relevant: only the old path goes away.
		e.enqueue(Item{Path: from, Root: src.Path, Discovery: Deleted, Generation: gen, root: src})
	}
}
