package handlers

import (
	"database/sql"
	"errors"
	"net/http"

	"fsminer/internal/logging"
	"fsminer/internal/miner"
)

// GetStatus returns a snapshot of the engine.
func (h *Handlers) GetStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Cache-Control", "no-cache")
	writeJSONStatusCode(w, http.StatusOK, h.miner.Status())
}

// TriggerRecrawl starts a new crawl pass of every root.
func (h *Handlers) TriggerRecrawl(w http.ResponseWriter, _ *http.Request) {
	if err := h.miner.Recrawl(); err != nil {
		if errors.Is(err, miner.ErrShuttingDown) {
			writeJSONError(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSONStatus(w, http.StatusAccepted, "recrawl started")
}

// GetResource returns the stored facts for one path.
func (h *Handlers) GetResource(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeJSONError(w, "Path is required", http.StatusBadRequest)
		return
	}

	res, err := h.store.GetResource(r.Context(), path)
	if errors.Is(err, sql.ErrNoRows) {
		writeJSONError(w, "Not indexed", http.StatusNotFound)
		return
	}
	if err != nil {
		logging.Error("failed to get resource %s: %v", path, err)
		writeJSONError(w, "Failed to get resource", http.StatusInternalServerError)
		return
	}
	writeJSONStatusCode(w, http.StatusOK, res)
}

// GetStats recounts the indexed resources.
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.CalculateStats(r.Context())
	if err != nil {
		logging.Error("failed to calculate stats: %v", err)
		writeJSONError(w, "Failed to get stats", http.StatusInternalServerError)
		return
	}
	writeJSONStatusCode(w, http.StatusOK, map[string]int{
		"files":       stats.Files,
		"directories": stats.Directories,
		"total":       stats.Total(),
	})
}
