package memory

import (
	"math"
	"runtime"
	"runtime/debug"
	rtmetrics "runtime/metrics"
	"sync"
	"time"

	"fsminer/internal/logging"
	"fsminer/internal/metrics"
)

// heapObjectsSample is the live heap size; reading it does not stop the world.
const heapObjectsSample = "/memory/classes/heap/objects:bytes"

// Config holds memory management configuration
type Config struct {
	// MemoryLimitBytes is the soft limit; 0 means use GOMEMLIMIT
	MemoryLimitBytes int64

	// HighWaterMark is the usage fraction where pressure starts to rise
	HighWaterMark float64

	// CriticalWaterMark is the usage fraction where pressure is 1 and a GC
	// is forced
	CriticalWaterMark float64

	// CheckInterval is the sampling period
	CheckInterval time.Duration
}

// DefaultConfig returns the marks used by serve.
func DefaultConfig() Config {
	return Config{
		HighWaterMark:     0.7,
		CriticalWaterMark: 0.85,
		CheckInterval:     5 * time.Second,
	}
}

// PressureFunc receives the throttle floor derived from memory usage.
type PressureFunc func(pressure float64)

// Monitor samples the heap and reports a throttle floor. Once usage reaches
// the critical mark the monitor stays critical until usage drops back under
// the high mark.
type Monitor struct {
	config     Config
	limit      int64
	onPressure PressureFunc

	done     chan struct{}
	stopOnce sync.Once

	mu       sync.RWMutex
	heap     uint64
	pressure float64
	critical bool
}

// NewMonitor creates a monitor. onPressure may be nil.
func NewMonitor(config Config, onPressure PressureFunc) *Monitor {
	limit := config.MemoryLimitBytes
	if limit == 0 {
		if l := debug.SetMemoryLimit(-1); l > 0 && l < math.MaxInt64 {
			limit = l
			logging.Info("Memory monitor using GOMEMLIMIT: %s", FormatBytes(limit))
		}
	}
	if limit == 0 {
		logging.Warn("Memory monitor: no memory limit configured, backpressure disabled")
	}

	return &Monitor{
		config:     config,
		limit:      limit,
		onPressure: onPressure,
		done:       make(chan struct{}),
	}
}

// Start samples in the background until Stop. Without a limit it does
// nothing.
func (m *Monitor) Start() {
	if m.limit == 0 {
		return
	}
	go m.run()
}

// Stop ends sampling. It is safe to call more than once.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.done) })
}

func (m *Monitor) run() {
	sample := []rtmetrics.Sample{{Name: heapObjectsSample}}
	ticker := time.NewTicker(m.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			rtmetrics.Read(sample)
			if sample[0].Value.Kind() == rtmetrics.KindUint64 {
				m.evaluate(sample[0].Value.Uint64())
			}
		}
	}
}

// evaluate folds a heap size sample into the monitor state.
func (m *Monitor) evaluate(heap uint64) {
	if m.limit <= 0 {
		return
	}
	usage := float64(heap) / float64(m.limit)
	pressure := PressureFor(usage, m.config.HighWaterMark, m.config.CriticalWaterMark)

	m.mu.Lock()
	m.heap = heap
	changed := pressure != m.pressure
	m.pressure = pressure
	entered, left := false, false
	switch {
	case !m.critical && usage >= m.config.CriticalWaterMark:
		m.critical, entered = true, true
	case m.critical && usage < m.config.HighWaterMark:
		m.critical, left = false, true
	}
	m.mu.Unlock()

	metrics.MemoryUsageRatio.Set(usage)
	metrics.MemoryPressure.Set(pressure)

	if entered {
		logging.Warn("Memory critical (%.1f%% of %s), pinning throttle", usage*100, FormatBytes(m.limit))
		metrics.MemoryPaused.Set(1)
		metrics.MemoryGCPauses.Inc()
		go runtime.GC()
	}
	if left {
		logging.Info("Memory recovered (%.1f%% of limit), releasing throttle", usage*100)
		metrics.MemoryPaused.Set(0)
	}
	if changed && m.onPressure != nil {
		m.onPressure(pressure)
	}
}

// PressureFor maps a usage ratio onto [0, 1]: zero below high, one at or
// above critical, linear in between.
func PressureFor(usage, high, critical float64) float64 {
	switch {
	case usage >= critical:
		return 1
	case usage <= high || critical <= high:
		return 0
	default:
		return (usage - high) / (critical - high)
	}
}

// IsPaused reports whether the monitor is in the critical state.
func (m *Monitor) IsPaused() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.critical
}

// Pressure returns the last computed throttle floor.
func (m *Monitor) Pressure() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pressure
}

// GetUsage returns the last sample as a fraction of the limit, or 0
// without a limit.
func (m *Monitor) GetUsage() float64 {
	_, _, usage := m.GetStats()
	return usage
}

// GetStats returns the last heap sample, the limit and their ratio.
func (m *Monitor) GetStats() (current, limit int64, usage float64) {
	m.mu.RLock()
	heap := m.heap
	m.mu.RUnlock()

	current = math.MaxInt64
	if heap <= math.MaxInt64 {
		current = int64(heap)
	}
	if m.limit > 0 {
		usage = float64(heap) / float64(m.limit)
	}
	return current, m.limit, usage
}
