package metrics

import (
	"context"
	"sync"
	"time"

	"fsminer/internal/logging"
)

// Stats is one snapshot of index and engine state.
type Stats struct {
	Files           int
	Directories     int
	Roots           int
	OpenConnections int
}

// StatsProvider produces the snapshot published by a Collector.
type StatsProvider interface {
	CollectStats(ctx context.Context) (Stats, error)
}

// StatsProviderFunc adapts a function to StatsProvider.
type StatsProviderFunc func(ctx context.Context) (Stats, error)

// CollectStats calls f.
func (f StatsProviderFunc) CollectStats(ctx context.Context) (Stats, error) {
	return f(ctx)
}

// Collector refreshes the index gauges on an interval. Counting resources
// is a table scan, so it runs on its own schedule rather than per commit.
type Collector struct {
	provider StatsProvider
	interval time.Duration
	stopChan chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewCollector creates a collector polling provider every interval.
func NewCollector(provider StatsProvider, interval time.Duration) *Collector {
	return &Collector{
		provider: provider,
		interval: interval,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start collects once immediately and then on every tick until Stop.
func (c *Collector) Start() {
	go c.collectLoop()
}

// Stop ends collection and waits for a running collection to finish. It is
// safe to call more than once.
func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.stopChan) })
	<-c.done
}

func (c *Collector) collectLoop() {
	defer close(c.done)
	c.Collect()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Collect()
		case <-c.stopChan:
			return
		}
	}
}

// Collect takes one snapshot and publishes it. A failed snapshot leaves
// the gauges at their previous values.
func (c *Collector) Collect() {
	if c.provider == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.interval)
	defer cancel()

	stats, err := c.provider.CollectStats(ctx)
	if err != nil {
		logging.Warn("Failed to collect index stats: %v", err)
		return
	}

	DBResourcesTotal.WithLabelValues("file").Set(float64(stats.Files))
	DBResourcesTotal.WithLabelValues("directory").Set(float64(stats.Directories))
	DBConnectionsOpen.Set(float64(stats.OpenConnections))
	MinerRoots.Set(float64(stats.Roots))

	logging.Debug("Metrics collected: files=%d, directories=%d, roots=%d",
		stats.Files, stats.Directories, stats.Roots)
}
