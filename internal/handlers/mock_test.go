package handlers

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"fsminer/internal/database"
	"fsminer/internal/miner"
)

// =============================================================================
// Mock Miner
// =============================================================================

type mockMiner struct {
	mu         sync.Mutex
	running    bool
	throttle   float64
	roots      []miner.WatchedRoot
	addErr     error
	removeErr  error
	removed    bool
	recrawlErr error
	recrawls   int
	lastAdd    miner.WatchedRoot
	lastRemove string
}

func newMockMiner() *mockMiner {
	return &mockMiner{running: true}
}

func (m *mockMiner) AddDirectory(path string, recursive bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastAdd = miner.WatchedRoot{Path: path, Recursive: recursive}
	if m.addErr != nil {
		return m.addErr
	}
	m.roots = append(m.roots, m.lastAdd)
	return nil
}

func (m *mockMiner) RemoveDirectory(path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastRemove = path
	return m.removed, m.removeErr
}

func (m *mockMiner) SetThrottle(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.throttle = v
}

func (m *mockMiner) Throttle() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.throttle
}

func (m *mockMiner) Roots() []miner.WatchedRoot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]miner.WatchedRoot(nil), m.roots...)
}

func (m *mockMiner) Status() miner.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := miner.Status{
		Running:        m.running,
		Throttle:       m.throttle,
		AdmissionLimit: 4,
		DispatchDelay:  "0s",
		Queued:         7,
	}
	for _, r := range m.roots {
		st.Roots = append(st.Roots, miner.RootStatus{WatchedRoot: r, State: "idle", Generation: 1})
	}
	return st
}

func (m *mockMiner) Recrawl() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recrawls++
	return m.recrawlErr
}

// =============================================================================
// Mock Store
// =============================================================================

type mockStore struct {
	pingErr    error
	resources  map[string]*database.Resource
	stats      database.IndexStats
	statsErr   error
	lastCrawls map[string]time.Time
}

func newMockStore() *mockStore {
	return &mockStore{
		resources:  make(map[string]*database.Resource),
		lastCrawls: make(map[string]time.Time),
	}
}

func (s *mockStore) Ping(context.Context) error { return s.pingErr }

func (s *mockStore) GetResource(_ context.Context, path string) (*database.Resource, error) {
	if path == "/broken" {
		return nil, errors.New("disk I/O error")
	}
	r, ok := s.resources[path]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return r, nil
}

func (s *mockStore) CalculateStats(context.Context) (database.IndexStats, error) {
	return s.stats, s.statsErr
}

func (s *mockStore) GetStats() database.IndexStats { return s.stats }

func (s *mockStore) GetLastCrawl(_ context.Context, root string) (time.Time, error) {
	return s.lastCrawls[root], nil
}
