package miner

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"fsminer/internal/logging"
)

// RootState is the crawl state of a watched root. Monitoring runs alongside
// every state once the root's directories are watched.
type RootState int32

const (
	RootIdle RootState = iota
	RootCrawling
	RootDraining
)

func (s RootState) String() string {
	switch s {
	case RootIdle:
		return "idle"
	case RootCrawling:
		return "crawling"
	case RootDraining:
		return "draining"
	default:
		return "unknown"
	}
}

// WatchedRoot is a registered directory tree.
type WatchedRoot struct {
	Path      string `json:"path"`
	Recursive bool   `json:"recursive"`
}

type rootState struct {
	WatchedRoot

	generation atomic.Uint64
	state      atomic.Int32
	removed    atomic.Bool
	crawled    atomic.Int64 // items yielded by the last completed pass

	mu          sync.Mutex
	crawlCancel context.CancelFunc
}

func newRootState(path string, recursive bool) *rootState {
	return &rootState{WatchedRoot: WatchedRoot{Path: path, Recursive: recursive}}
}

func (r *rootState) covers(path string) bool {
	if r.Recursive {
		return under(r.Path, path)
	}
	return path == r.Path || isDirectChild(r.Path, path)
}

func (r *rootState) loadState() RootState {
	return RootState(r.state.Load())
}

// setCrawl installs the cancel func of a new crawl pass, cancelling any pass
// still running.
func (r *rootState) setCrawl(cancel context.CancelFunc) {
	r.mu.Lock()
	prev := r.crawlCancel
	r.crawlCancel = cancel
	r.mu.Unlock()
	if prev != nil {
		prev()
	}
}

func (r *rootState) stopCrawl() {
	r.setCrawl(nil)
}

var registryLog = logging.Component("registry")

// registry owns the watched roots and the directory watches placed for them.
type registry struct {
	mu      sync.RWMutex
	roots   map[string]*rootState
	watched map[string]string // directory → root path
	source  EventSource
}

func newRegistry() *registry {
	return &registry{
		roots:   make(map[string]*rootState),
		watched: make(map[string]string),
	}
}

func (g *registry) setSource(source EventSource) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.source = source
}

// addRoot registers path. It fails with ErrOverlap when an existing recursive
// root already covers path, or when the same non-recursive root is added
// twice. A new recursive root absorbs the roots it covers; they are returned
// so their crawls can be stopped.
func (g *registry) addRoot(path string, recursive bool) (*rootState, []*rootState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, r := range g.roots {
		if r.Recursive && under(r.Path, path) {
			return nil, nil, ErrOverlap
		}
		if r.Path == path && !recursive {
			return nil, nil, ErrOverlap
		}
	}

	var absorbed []*rootState
	if recursive {
		for p, r := range g.roots {
			if under(path, p) {
				absorbed = append(absorbed, r)
				delete(g.roots, p)
			}
		}
		for dir, owner := range g.watched {
			if under(path, owner) {
				g.watched[dir] = path
			}
		}
	}

	root := newRootState(path, recursive)
	g.roots[path] = root
	return root, absorbed, nil
}

// removeRoot unregisters path and every root nested beneath it.
func (g *registry) removeRoot(path string) ([]*rootState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.roots[path]; !ok {
		return nil, ErrUnknownRoot
	}

	var removed []*rootState
	for p, r := range g.roots {
		if under(path, p) {
			removed = append(removed, r)
			delete(g.roots, p)
		}
	}
	return removed, nil
}

func (g *registry) get(path string) *rootState {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.roots[path]
}

// rootFor returns the most specific root covering path, or nil.
func (g *registry) rootFor(path string) *rootState {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var best *rootState
	for _, r := range g.roots {
		if r.covers(path) && (best == nil || len(r.Path) > len(best.Path)) {
			best = r
		}
	}
	return best
}

func (g *registry) list() []*rootState {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]*rootState, 0, len(g.roots))
	for _, r := range g.roots {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// watch places a watch on dir for root. Watching an already watched
// directory is a no-op.
func (g *registry) watch(dir string, root *rootState) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if root.removed.Load() {
		return nil
	}
	if _, ok := g.watched[dir]; ok {
		return nil
	}
	if g.source != nil {
		if err := g.source.Watch(dir); err != nil {
			return err
		}
	}
	g.watched[dir] = root.Path
	registryLog.Debug("Watching %s (root %s)", dir, root.Path)
	return nil
}

// unwatchUnder removes every watch at or beneath prefix.
func (g *registry) unwatchUnder(prefix string) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	n := 0
	for dir := range g.watched {
		if !under(prefix, dir) {
			continue
		}
		if g.source != nil {
			if err := g.source.Unwatch(dir); err != nil {
				registryLog.Debug("Unwatch %s: %v", dir, err)
			}
		}
		delete(g.watched, dir)
		n++
	}
	return n
}

func (g *registry) watchCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.watched)
}
