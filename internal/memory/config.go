package memory

import (
	"errors"
	"fmt"
	"math"
	"os"
	"runtime/debug"
	"strconv"
	"strings"

	"fsminer/internal/logging"
)

const (
	// DefaultMemoryRatio is the fraction of the container limit given to the
	// Go heap. The rest covers the SQLite page cache, cgo allocations and
	// goroutine stacks.
	DefaultMemoryRatio = 0.85
)

// Where a memory limit came from.
const (
	SourceGOMEMLIMIT  = "GOMEMLIMIT"
	SourceMemoryLimit = "MEMORY_LIMIT"
	SourceCgroup      = "cgroup"
	SourceNone        = "none"
)

// cgroupMemoryMax is the cgroup v2 limit file. Tests point it elsewhere.
var cgroupMemoryMax = "/sys/fs/cgroup/memory.max"

var errNoLimit = errors.New("no memory limit")

// ConfigResult holds the result of memory configuration
type ConfigResult struct {
	// Configured indicates whether GOMEMLIMIT was set
	Configured bool

	// Source is one of the Source constants
	Source string

	// ContainerLimit is the container memory limit in bytes (0 if not set)
	ContainerLimit int64

	// GoMemLimit is the configured GOMEMLIMIT in bytes (0 if not set)
	GoMemLimit int64

	// Ratio is the memory ratio used (0 if not applicable)
	Ratio float64
}

// ConfigureFromEnv sets the Go memory limit from the container limit. Call
// it early in main before significant allocations.
//
// Precedence:
//   - GOMEMLIMIT: left untouched and reported
//   - MEMORY_LIMIT: container limit in bytes or with a Ki/Mi/Gi/Ti or K/M/G/T suffix
//   - the cgroup v2 memory.max of the current container
//
// MEMORY_RATIO (default 0.85) sets the share of the limit given to the heap.
func ConfigureFromEnv() ConfigResult {
	if goMemLimitEnv := os.Getenv("GOMEMLIMIT"); goMemLimitEnv != "" {
		result := ConfigResult{Source: SourceGOMEMLIMIT}
		if limit := debug.SetMemoryLimit(-1); limit > 0 && limit < math.MaxInt64 {
			result.Configured = true
			result.GoMemLimit = limit
		}
		logging.Info("GOMEMLIMIT set via environment: %s", goMemLimitEnv)
		return result
	}

	limit, source, err := containerLimit()
	if err != nil {
		if !errors.Is(err, errNoLimit) {
			logging.Warn("Ignoring memory limit: %v", err)
		}
		logging.Debug("No container memory limit found, GOMEMLIMIT will not be configured automatically")
		return ConfigResult{Source: SourceNone}
	}

	ratio := ratioFromEnv()
	goMemLimit := int64(float64(limit) * ratio)
	debug.SetMemoryLimit(goMemLimit)

	logging.Info("Configured GOMEMLIMIT: %s (%.1f%% of %s limit from %s)",
		FormatBytes(goMemLimit), ratio*100, FormatBytes(limit), source)

	return ConfigResult{
		Configured:     true,
		Source:         source,
		ContainerLimit: limit,
		GoMemLimit:     goMemLimit,
		Ratio:          ratio,
	}
}

// containerLimit reads MEMORY_LIMIT, falling back to the cgroup limit.
func containerLimit() (int64, string, error) {
	if s := os.Getenv("MEMORY_LIMIT"); s != "" {
		limit, err := ParseSize(s)
		if err != nil {
			return 0, "", fmt.Errorf("MEMORY_LIMIT: %w", err)
		}
		return limit, SourceMemoryLimit, nil
	}

	data, err := os.ReadFile(cgroupMemoryMax)
	if err != nil {
		return 0, "", errNoLimit
	}
	s := strings.TrimSpace(string(data))
	if s == "" || s == "max" {
		return 0, "", errNoLimit
	}
	limit, err := strconv.ParseInt(s, 10, 64)
	if err != nil || limit <= 0 {
		return 0, "", fmt.Errorf("%s: unexpected content %q", cgroupMemoryMax, s)
	}
	return limit, SourceCgroup, nil
}

func ratioFromEnv() float64 {
	ratioStr := os.Getenv("MEMORY_RATIO")
	if ratioStr == "" {
		return DefaultMemoryRatio
	}
	ratio, err := strconv.ParseFloat(ratioStr, 64)
	if err != nil {
		logging.Warn("Failed to parse MEMORY_RATIO %q: %v, using default %.2f", ratioStr, err, DefaultMemoryRatio)
		return DefaultMemoryRatio
	}
	if ratio <= 0 || ratio > 1.0 {
		logging.Warn("MEMORY_RATIO %q out of range (0.0-1.0), using default %.2f", ratioStr, DefaultMemoryRatio)
		return DefaultMemoryRatio
	}
	return ratio
}

var sizeSuffixes = []struct {
	suffix string
	mult   int64
}{
	{"Ki", 1 << 10}, {"Mi", 1 << 20}, {"Gi", 1 << 30}, {"Ti", 1 << 40},
	{"K", 1e3}, {"M", 1e6}, {"G", 1e9}, {"T", 1e12},
}

// ParseSize parses a byte count with an optional Kubernetes style suffix,
// e.g. "1073741824", "512Mi" or "2G".
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	digits, mult := s, int64(1)
	for _, sf := range sizeSuffixes {
		if d, ok := strings.CutSuffix(s, sf.suffix); ok {
			digits, mult = d, sf.mult
			break
		}
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	if n <= 0 {
		return 0, fmt.Errorf("size must be positive, got %d", n)
	}
	if n > math.MaxInt64/mult {
		return 0, fmt.Errorf("size %q overflows", s)
	}
	return n * mult, nil
}

// FormatBytes formats a byte count with binary units.
func FormatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return strconv.FormatInt(b, 10) + " B"
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return strconv.FormatFloat(float64(b)/float64(div), 'f', 1, 64) + " " + string("KMGTPE"[exp]) + "iB"
}
