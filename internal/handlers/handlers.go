package handlers

import (
	"context"
	"time"

	"fsminer/internal/database"
	"fsminer/internal/miner"
)

// Miner is the part of the engine the control API drives.
type Miner interface {
	AddDirectory(path string, recursive bool) error
	RemoveDirectory(path string) (bool, error)
	SetThrottle(v float64)
	Throttle() float64
	Roots() []miner.WatchedRoot
	Status() miner.Status
	Recrawl() error
}

// Store is the read side of the commit sink.
type Store interface {
	Ping(ctx context.Context) error
	GetResource(ctx context.Context, path string) (*database.Resource, error)
	CalculateStats(ctx context.Context) (database.IndexStats, error)
	GetStats() database.IndexStats
	GetLastCrawl(ctx context.Context, root string) (time.Time, error)
}

// Handlers serves the control API.
type Handlers struct {
	miner     Miner
	store     Store
	hub       *Hub
	startTime time.Time
}

// New creates the control API handlers. hub may be nil, in which case the
// event stream answers 503.
func New(m Miner, store Store, hub *Hub) *Handlers {
	return &Handlers{
		miner:     m,
		store:     store,
		hub:       hub,
		startTime: time.Now(),
	}
}
