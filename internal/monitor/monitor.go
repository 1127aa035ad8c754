package monitor

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"fsminer/internal/logging"
	"fsminer/internal/metrics"
	"fsminer/internal/miner"
)

var log = logging.Component("monitor")

// Config tunes the event translation.
type Config struct {
	// MoveWindow is how long a Rename waits for its Create before it is
	// reported as a deletion.
	MoveWindow time.Duration
	// Buffer is the capacity of the Events channel.
	Buffer int
}

// DefaultConfig returns the defaults used by the fsminer binary.
func DefaultConfig() Config {
	return Config{
		MoveWindow: 100 * time.Millisecond,
		Buffer:     1024,
	}
}

type pendingRename struct {
	path string
	at   time.Time
}

// Monitor is an fsnotify backed miner.EventSource.
type Monitor struct {
	cfg     Config
	watcher *fsnotify.Watcher

	events chan miner.ChangeEvent
	errs   chan error
	done   chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	watched map[string]struct{}

	// renames is only touched by the run loop.
	renames []pendingRename

	closeOnce sync.Once
	closeErr  error
}

var _ miner.EventSource = (*Monitor)(nil)

// New creates a Monitor and starts its event loop.
func New(cfg Config) (*Monitor, error) {
	if cfg.MoveWindow <= 0 {
		cfg.MoveWindow = DefaultConfig().MoveWindow
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = DefaultConfig().Buffer
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	m := &Monitor{
		cfg:     cfg,
		watcher: w,
		events:  make(chan miner.ChangeEvent, cfg.Buffer),
		errs:    make(chan error, 1),
		done:    make(chan struct{}),
		watched: make(map[string]struct{}),
	}

	m.wg.Add(1)
	go m.run()
	return m, nil
}

// Watch starts watching dir. Watching an already watched directory is a
// no-op.
func (m *Monitor) Watch(dir string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.watched[dir]; ok {
		return nil
	}
	if err := m.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	m.watched[dir] = struct{}{}
	metrics.MinerWatchedDirectories.Set(float64(len(m.watched)))
	return nil
}

// Unwatch stops watching dir. Directories the kernel already dropped, such
// as deleted ones, are not an error.
func (m *Monitor) Unwatch(dir string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.watched[dir]; !ok {
		return nil
	}
	delete(m.watched, dir)
	metrics.MinerWatchedDirectories.Set(float64(len(m.watched)))

	if err := m.watcher.Remove(dir); err != nil && !errors.Is(err, fsnotify.ErrNonExistentWatch) {
		return fmt.Errorf("failed to unwatch %s: %w", dir, err)
	}
	return nil
}

// WatchCount returns the number of watched directories.
func (m *Monitor) WatchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.watched)
}

// Events returns the translated change stream. It is closed by Close.
func (m *Monitor) Events() <-chan miner.ChangeEvent {
	return m.events
}

// Errors returns watcher failures such as queue overflows.
func (m *Monitor) Errors() <-chan error {
	return m.errs
}

// Close stops the event loop and releases the watcher.
func (m *Monitor) Close() error {
	m.closeOnce.Do(func() {
		close(m.done)
		m.closeErr = m.watcher.Close()
		m.wg.Wait()
		close(m.events)
	})
	return m.closeErr
}

func (m *Monitor) run() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.MoveWindow / 2)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case ev, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			m.handle(ev)
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			metrics.MonitorErrors.Inc()
			log.Error("Watcher error: %v", err)
			select {
			case m.errs <- err:
			default:
			}
		case now := <-ticker.C:
			m.expire(now)
		}
	}
}

func (m *Monitor) handle(ev fsnotify.Event) {
	metrics.MonitorEventsTotal.WithLabelValues(eventType(ev.Op)).Inc()
	log.Debug("Event %s %s", ev.Op, ev.Name)

	path := filepath.Clean(ev.Name)
	switch {
	case ev.Op.Has(fsnotify.Create):
		if from, ok := m.takeRename(path); ok {
			m.emit(miner.ChangeEvent{Op: miner.OpMoved, Path: path, OldPath: from})
			return
		}
		m.emit(miner.ChangeEvent{Op: miner.OpCreated, Path: path})
	case ev.Op.Has(fsnotify.Rename):
		m.holdRename(path)
	case ev.Op.Has(fsnotify.Remove):
		m.dropRename(path)
		m.emit(miner.ChangeEvent{Op: miner.OpDeleted, Path: path})
	case ev.Op.Has(fsnotify.Write):
		m.emit(miner.ChangeEvent{Op: miner.OpUpdated, Path: path})
	}
}

// holdRename parks a Rename until its Create arrives. A watched directory
// reports its own rename too, so duplicates collapse.
func (m *Monitor) holdRename(path string) {
	for _, r := range m.renames {
		if r.path == path {
			return
		}
	}
	m.renames = append(m.renames, pendingRename{path: path, at: time.Now()})
}

// takeRename pairs a Create with a parked Rename, preferring one with the
// same base name and otherwise the oldest.
func (m *Monitor) takeRename(path string) (string, bool) {
	if len(m.renames) == 0 {
		return "", false
	}
	idx := 0
	base := filepath.Base(path)
	for i, r := range m.renames {
		if filepath.Base(r.path) == base {
			idx = i
			break
		}
	}
	from := m.renames[idx].path
	m.renames = append(m.renames[:idx], m.renames[idx+1:]...)
	if from == path {
		return "", false
	}
	return from, true
}

func (m *Monitor) dropRename(path string) {
	for i, r := range m.renames {
		if r.path == path {
			m.renames = append(m.renames[:i], m.renames[i+1:]...)
			return
		}
	}
}

// expire reports renames that were never paired as deletions.
func (m *Monitor) expire(now time.Time) {
	kept := m.renames[:0]
	var gone []string
	for _, r := range m.renames {
		if now.Sub(r.at) >= m.cfg.MoveWindow {
			gone = append(gone, r.path)
			continue
		}
		kept = append(kept, r)
	}
	m.renames = kept

	for _, path := range gone {
		m.emit(miner.ChangeEvent{Op: miner.OpDeleted, Path: path})
	}
}

func (m *Monitor) emit(ev miner.ChangeEvent) {
	select {
	case m.events <- ev:
	case <-m.done:
	}
}

// eventType returns a label for the fsnotify operation
func eventType(op fsnotify.Op) string {
	switch {
	case op&fsnotify.Create != 0:
		return "create"
	case op&fsnotify.Write != 0:
		return "write"
	case op&fsnotify.Remove != 0:
		return "remove"
	case op&fsnotify.Rename != 0:
		return "rename"
	case op&fsnotify.Chmod != 0:
		return "chmod"
	default:
		return "unknown"
	}
}
