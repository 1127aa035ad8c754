package metrics

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestCollectorCollect(t *testing.T) {
	c := NewCollector(StatsProviderFunc(func(context.Context) (Stats, error) {
		return Stats{Files: 12, Directories: 3, Roots: 2, OpenConnections: 1}, nil
	}), time.Second)

	c.Collect()

	if got := value(DBResourcesTotal.WithLabelValues("file")); got != 12 {
		t.Errorf("Expected 12 files, got %v", got)
	}
	if got := value(DBResourcesTotal.WithLabelValues("directory")); got != 3 {
		t.Errorf("Expected 3 directories, got %v", got)
	}
	if got := value(MinerRoots); got != 2 {
		t.Errorf("Expected 2 roots, got %v", got)
	}
	if got := value(DBConnectionsOpen); got != 1 {
		t.Errorf("Expected 1 open connection, got %v", got)
	}
}

func TestCollectorKeepsValuesOnError(t *testing.T) {
	MinerRoots.Set(5)
	c := NewCollector(StatsProviderFunc(func(context.Context) (Stats, error) {
		return Stats{}, errors.New("database is locked")
	}), time.Second)

	c.Collect()

	if got := value(MinerRoots); got != 5 {
		t.Errorf("Expected roots gauge to stay at 5, got %v", got)
	}
}

func TestCollectorNilProvider(_ *testing.T) {
	NewCollector(nil, time.Second).Collect()
}

func TestCollectorStartStop(t *testing.T) {
	var calls atomic.Int32
	c := NewCollector(StatsProviderFunc(func(context.Context) (Stats, error) {
		calls.Add(1)
		return Stats{}, nil
	}), 10*time.Millisecond)

	c.Start()
	deadline := time.Now().Add(2 * time.Second)
	for calls.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	c.Stop()
	c.Stop()

	if calls.Load() < 2 {
		t.Fatalf("Expected at least 2 collections, got %d", calls.Load())
	}
	after := calls.Load()
	time.Sleep(30 * time.Millisecond)
	if calls.Load() != after {
		t.Error("Expected no collections after Stop")
	}
}
