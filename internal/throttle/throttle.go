package throttle

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"fsminer/internal/workers"
)

// Cell is a shared, atomically updated throttle value in [0,1].
type Cell struct {
	bits atomic.Uint64
}

// Set stores v, clamped to [0,1]. NaN is treated as 0.
func (c *Cell) Set(v float64) {
	c.bits.Store(math.Float64bits(clamp(v)))
}

// Get returns the current value.
func (c *Cell) Get() float64 {
	return math.Float64frombits(c.bits.Load())
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// Config bounds the interpolation.
type Config struct {
	// MaxConcurrency is the admission limit at throttle 0.
	MaxConcurrency int
	// MaxDelay is the inter-dispatch delay at throttle 1.
	MaxDelay time.Duration
}

// DefaultConfig returns I/O sized concurrency and a one second max delay.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: workers.ForIO(16),
		MaxDelay:       time.Second,
	}
}

// Controller reads a Cell and derives admission parameters from it.
type Controller struct {
	cell *Cell
	cfg  Config

	pressure atomic.Uint64

	mu      sync.Mutex
	changed chan struct{}
}

// NewController binds a controller to cell. A nil cell gets a private one.
func NewController(cell *Cell, cfg Config) *Controller {
	if cell == nil {
		cell = &Cell{}
	}
	if cfg.MaxConcurrency < 1 {
		cfg.MaxConcurrency = 1
	}
	if cfg.MaxDelay < 0 {
		cfg.MaxDelay = 0
	}
	return &Controller{
		cell:    cell,
		cfg:     cfg,
		changed: make(chan struct{}),
	}
}

// Config returns the bounds the controller was built with.
func (c *Controller) Config() Config {
	return c.cfg
}

// Set updates the user throttle and wakes blocked admissions.
func (c *Controller) Set(v float64) {
	c.cell.Set(v)
	c.notify()
}

// Get returns the user throttle, ignoring pressure.
func (c *Controller) Get() float64 {
	return c.cell.Get()
}

// SetPressure sets the external floor. Admission re-evaluates immediately.
func (c *Controller) SetPressure(p float64) {
	old := math.Float64frombits(c.pressure.Swap(math.Float64bits(clamp(p))))
	if old != clamp(p) {
		c.notify()
	}
}

// Pressure returns the external floor.
func (c *Controller) Pressure() float64 {
	return math.Float64frombits(c.pressure.Load())
}

// Effective returns max(cell, pressure).
func (c *Controller) Effective() float64 {
	return math.Max(c.cell.Get(), c.Pressure())
}

// AdmissionLimit returns the number of extractions allowed in flight.
func (c *Controller) AdmissionLimit() int {
	return LimitFor(c.Effective(), c.cfg.MaxConcurrency)
}

// InterDispatchDelay returns the pause between consecutive dispatches.
func (c *Controller) InterDispatchDelay() time.Duration {
	return DelayFor(c.Effective(), c.cfg.MaxDelay)
}

// Changed returns a channel that is closed the next time the effective
// throttle may have changed. Callers fetch a fresh channel after each wake.
func (c *Controller) Changed() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.changed
}

func (c *Controller) notify() {
	c.mu.Lock()
	close(c.changed)
	c.changed = make(chan struct{})
	c.mu.Unlock()
}

// LimitFor interpolates the admission limit for throttle t. The result is
// non-increasing in t and always within [1, maxConcurrency].
func LimitFor(t float64, maxConcurrency int) int {
	if maxConcurrency < 1 {
		return 1
	}
	t = clamp(t)
	limit := maxConcurrency - int(math.Round(t*float64(maxConcurrency-1)))
	if limit < 1 {
		return 1
	}
	return limit
}

// DelayFor interpolates the inter-dispatch delay for throttle t. The result is
// non-decreasing in t.
func DelayFor(t float64, maxDelay time.Duration) time.Duration {
	if maxDelay <= 0 {
		return 0
	}
	return time.Duration(clamp(t) * float64(maxDelay))
}
