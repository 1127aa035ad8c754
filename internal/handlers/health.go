package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"fsminer/internal/startup"
)

const (
	statusHealthy  = "healthy"
	statusStarting = "starting"
	statusDegraded = "degraded"
)

const pingTimeout = 2 * time.Second

// HealthResponse contains the health check response
type HealthResponse struct {
	Status   string `json:"status"`
	Ready    bool   `json:"ready"`
	Version  string `json:"version"`
	Uptime   string `json:"uptime"`
	Database string `json:"database"`

	// Engine summary
	Roots    int     `json:"roots"`
	Queued   int     `json:"queued"`
	InFlight int     `json:"inFlight"`
	Throttle float64 `json:"throttle"`

	// System info
	GoVersion    string `json:"goVersion"`
	NumCPU       int    `json:"numCpu"`
	NumGoroutine int    `json:"numGoroutine"`

	// Stats summary
	TotalFiles       int `json:"totalFiles,omitempty"`
	TotalDirectories int `json:"totalDirectories,omitempty"`
}

func (h *Handlers) pingStore(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return h.store.Ping(ctx)
}

// HealthCheck returns the health status of the service
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := h.miner.Status()
	stats := h.store.GetStats()

	response := HealthResponse{
		Ready:            status.Running,
		Version:          startup.Version,
		Uptime:           time.Since(h.startTime).Round(time.Second).String(),
		Database:         "ok",
		Roots:            len(status.Roots),
		Queued:           status.Queued,
		InFlight:         status.InFlight,
		Throttle:         status.Throttle,
		GoVersion:        runtime.Version(),
		NumCPU:           runtime.NumCPU(),
		NumGoroutine:     runtime.NumGoroutine(),
		TotalFiles:       stats.Files,
		TotalDirectories: stats.Directories,
	}

	if status.Running {
		response.Status = statusHealthy
	} else {
		response.Status = statusStarting
	}

	if err := h.pingStore(r.Context()); err != nil {
		response.Database = err.Error()
		response.Status = statusDegraded
		response.Ready = false
	}

	code := http.StatusOK
	if !response.Ready {
		code = http.StatusServiceUnavailable
	}
	writeJSONStatusCode(w, code, response)
}

// LivenessCheck is a simple liveness probe (always returns 200 if server is running)
func (h *Handlers) LivenessCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	// For HEAD requests, only send headers (no body)
	if r.Method != http.MethodHead {
		writeJSON(w, map[string]string{
			"status": "alive",
		})
	}
}

// ReadinessCheck returns 200 only when the engine is running and the store
// answers.
func (h *Handlers) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	if !h.miner.Status().Running || h.pingStore(r.Context()) != nil {
		writeJSONStatus(w, http.StatusServiceUnavailable, "not_ready")
		return
	}
	writeJSONStatus(w, http.StatusOK, "ready")
}
