package workers

import (
	"os"
	"runtime"
	"strconv"
)

// EnvOverride names the environment variable that pins the extraction
// worker count regardless of GOMAXPROCS.
const EnvOverride = "MINER_WORKERS"

// Count returns the number of extraction workers for a given workload.
// It respects container CPU limits via GOMAXPROCS.
//
// The multiplier adjusts for task characteristics:
//   - 1.0 for CPU-bound extractors (hashing, decoding)
//   - 2.0 for I/O-bound extractors (stat, header sniffing)
//
// The limit parameter caps the result. Use 0 for no limit.
func Count(multiplier float64, limit int) int {
	if count, ok := override(); ok {
		if limit > 0 && count > limit {
			return limit
		}
		return count
	}

	available := runtime.GOMAXPROCS(0)

	n := int(float64(available) * multiplier)
	if n < 1 {
		n = 1
	}
	if limit > 0 && n > limit {
		n = limit
	}

	return n
}

// override reads MINER_WORKERS. Non-numeric and non-positive values are ignored.
func override() (int, bool) {
	raw := os.Getenv(EnvOverride)
	if raw == "" {
		return 0, false
	}
	count, err := strconv.Atoi(raw)
	if err != nil || count <= 0 {
		return 0, false
	}
	return count, true
}

// ForCPU returns the worker count for CPU-bound extraction (1 per CPU).
func ForCPU(limit int) int {
	return Count(1.0, limit)
}

// ForIO returns the worker count for I/O-bound extraction (2 per CPU).
// This is the default ceiling for the miner's admission limit.
func ForIO(limit int) int {
	return Count(2.0, limit)
}
