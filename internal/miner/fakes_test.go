package miner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"fsminer/internal/filesystem"
	"fsminer/internal/throttle"
)

// testPolicy accepts everything unless a hook says otherwise.
type testPolicy struct {
	file     func(string) bool
	dir      func(string) bool
	contents func(string, []string) bool
	monitor  func(string) bool
}

func (p *testPolicy) CheckFile(path string) bool {
	return p.file == nil || p.file(path)
}

func (p *testPolicy) CheckDirectory(path string) bool {
	if p.dir != nil {
		return p.dir(path)
	}
	return !strings.HasPrefix(filepath.Base(path), ".")
}

func (p *testPolicy) CheckDirectoryContents(dir string, children []string) bool {
	if p.contents != nil {
		return p.contents(dir, children)
	}
	return len(children) > 0
}

func (p *testPolicy) MonitorDirectory(path string) bool {
	return p.monitor == nil || p.monitor(path)
}

type funcExtractor func(ctx context.Context, path string) (map[string]any, error)

func (f funcExtractor) ProcessFile(ctx context.Context, path string) (map[string]any, error) {
	return f(ctx, path)
}

// countingExtractor succeeds immediately and counts calls per path.
type countingExtractor struct {
	mu    sync.Mutex
	calls map[string]int
}

func newCountingExtractor() *countingExtractor {
	return &countingExtractor{calls: make(map[string]int)}
}

func (c *countingExtractor) ProcessFile(_ context.Context, path string) (map[string]any, error) {
	c.mu.Lock()
	c.calls[path]++
	c.mu.Unlock()
	return map[string]any{"name": filepath.Base(path)}, nil
}

func (c *countingExtractor) count(path string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[path]
}

// memorySink keeps facts in a map and records every call.
type memorySink struct {
	mu         sync.Mutex
	facts      map[string]Fact
	commits    []string
	retracts   []string
	failCommit error
}

func newMemorySink() *memorySink {
	return &memorySink{facts: make(map[string]Fact)}
}

func (s *memorySink) Commit(_ context.Context, facts []Fact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCommit != nil {
		return s.failCommit
	}
	for _, f := range facts {
		s.facts[f.Path] = f
		s.commits = append(s.commits, f.Path)
	}
	return nil
}

func (s *memorySink) Retract(_ context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for path := range s.facts {
		if under(prefix, path) {
			delete(s.facts, path)
		}
	}
	s.retracts = append(s.retracts, prefix)
	return nil
}

func (s *memorySink) ListIndexed(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for path := range s.facts {
		if under(prefix, path) {
			out = append(out, path)
		}
	}
	sort.Strings(out)
	return out, nil
}

// blindSink hides ListIndexed, so stale detection only knows what the
// engine remembers.
type blindSink struct{ s *memorySink }

func (b blindSink) Commit(ctx context.Context, facts []Fact) error { return b.s.Commit(ctx, facts) }
func (b blindSink) Retract(ctx context.Context, prefix string) error {
	return b.s.Retract(ctx, prefix)
}

func (s *memorySink) kind(path string) (Kind, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.facts[path]
	return f.Kind, ok
}

func (s *memorySink) fact(path string) (Fact, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.facts[path]
	return f, ok
}

func (s *memorySink) has(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.facts[path]
	return ok
}

func (s *memorySink) commitCount(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, p := range s.commits {
		if p == path {
			n++
		}
	}
	return n
}

func (s *memorySink) retracted(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.retracts {
		if p == path {
			return true
		}
	}
	return false
}

func (s *memorySink) indexedFiles() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for path, f := range s.facts {
		if f.Kind == KindFile {
			out = append(out, path)
		}
	}
	sort.Strings(out)
	return out
}

// fakeSource is an EventSource driven by the test.
type fakeSource struct {
	mu      sync.Mutex
	watched map[string]bool
	events  chan ChangeEvent
	errs    chan error
	closed  bool
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		watched: make(map[string]bool),
		events:  make(chan ChangeEvent, 16),
		errs:    make(chan error, 1),
	}
}

func (f *fakeSource) Watch(dir string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.watched[dir] = true
	return nil
}

func (f *fakeSource) Unwatch(dir string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.watched[dir] {
		return errors.New("not watched")
	}
	delete(f.watched, dir)
	return nil
}

func (f *fakeSource) Events() <-chan ChangeEvent { return f.events }
func (f *fakeSource) Errors() <-chan error       { return f.errs }

func (f *fakeSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSource) isWatched(dir string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.watched[dir]
}

func testConfig(maxConcurrency int) Config {
	return Config{
		Throttle:        throttle.Config{MaxConcurrency: maxConcurrency},
		ExtractTimeout:  2 * time.Second,
		CommitBatchSize: 10,
		CommitInterval:  20 * time.Millisecond,
		Retry: filesystem.RetryConfig{
			MaxRetries:     1,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     time.Millisecond,
		},
	}
}

// writeTree creates files (paths ending in "/" are directories) under root.
func writeTree(t *testing.T, root string, paths ...string) {
	t.Helper()
	for _, p := range paths {
		full := filepath.Join(root, filepath.FromSlash(p))
		if strings.HasSuffix(p, "/") {
			if err := os.MkdirAll(full, 0o755); err != nil {
				t.Fatalf("Failed to create dir %s: %v", full, err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatalf("Failed to create dir for %s: %v", full, err)
		}
		if err := os.WriteFile(full, []byte("content of "+p), 0o644); err != nil {
			t.Fatalf("Failed to write %s: %v", full, err)
		}
	}
}

func stopEngine(t *testing.T, e *Engine) {
	t.Helper()
	t.Cleanup(func() {
		if err := e.Stop(); err != nil {
			t.Errorf("Stop() error = %v", err)
		}
	})
}

// awaitFinished reads notifications until root is reported finished and
// returns the error notifications seen on the way.
func awaitFinished(t *testing.T, e *Engine, root string) []Notification {
	t.Helper()
	_, errs := awaitFinishedNotification(t, e, root)
	return errs
}

// awaitFinishedNotification is awaitFinished that also returns the
// finished notification itself.
func awaitFinishedNotification(t *testing.T, e *Engine, root string) (Notification, []Notification) {
	t.Helper()
	var errs []Notification
	timeout := time.After(5 * time.Second)
	for {
		select {
		case n, ok := <-e.Notifications():
			if !ok {
				t.Fatalf("Notification channel closed before %s finished", root)
			}
			switch n.Kind {
			case NotifyError:
				errs = append(errs, n)
			case NotifyFinished:
				if n.Root == root {
					return n, errs
				}
			}
		case <-timeout:
			t.Fatalf("Timed out waiting for %s to finish (status %+v)", root, e.Status())
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
