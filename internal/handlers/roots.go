package handlers

import (
	"errors"
	"net/http"
	"time"

	"fsminer/internal/logging"
	"fsminer/internal/miner"
)

// RootRequest adds a root. Recursive defaults to true.
type RootRequest struct {
	Path      string `json:"path"`
	Recursive *bool  `json:"recursive,omitempty"`
}

// RootInfo describes a watched root.
type RootInfo struct {
	miner.RootStatus
	LastCrawl *time.Time `json:"lastCrawl,omitempty"`
}

// ListRoots returns every watched root with its crawl state.
func (h *Handlers) ListRoots(w http.ResponseWriter, r *http.Request) {
	status := h.miner.Status()

	roots := make([]RootInfo, 0, len(status.Roots))
	for _, rs := range status.Roots {
		info := RootInfo{RootStatus: rs}
		last, err := h.store.GetLastCrawl(r.Context(), rs.Path)
		if err != nil {
			logging.Warn("failed to read last crawl for %s: %v", rs.Path, err)
		} else if !last.IsZero() {
			info.LastCrawl = &last
		}
		roots = append(roots, info)
	}

	writeJSONStatusCode(w, http.StatusOK, roots)
}

// AddRoot registers a new root. A root already covered by a recursive root
// is accepted as a no-op.
func (h *Handlers) AddRoot(w http.ResponseWriter, r *http.Request) {
	var req RootRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Path == "" {
		writeJSONError(w, "Path is required", http.StatusBadRequest)
		return
	}

	recursive := true
	if req.Recursive != nil {
		recursive = *req.Recursive
	}

	err := h.miner.AddDirectory(req.Path, recursive)
	switch {
	case err == nil:
		writeJSONStatus(w, http.StatusCreated, "added")
	case errors.Is(err, miner.ErrOverlap):
		writeJSONStatus(w, http.StatusOK, "covered")
	case errors.Is(err, miner.ErrShuttingDown):
		writeJSONError(w, err.Error(), http.StatusServiceUnavailable)
	default:
		writeJSONError(w, err.Error(), http.StatusBadRequest)
	}
}

// RemoveRoot unregisters a root given by the path query parameter and
// retracts everything indexed under it.
func (h *Handlers) RemoveRoot(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeJSONError(w, "Path is required", http.StatusBadRequest)
		return
	}

	removed, err := h.miner.RemoveDirectory(path)
	switch {
	case err == nil:
		writeJSONStatus(w, http.StatusOK, "removed")
	case errors.Is(err, miner.ErrUnknownRoot):
		writeJSONError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, miner.ErrShuttingDown):
		writeJSONError(w, err.Error(), http.StatusServiceUnavailable)
	case removed:
		logging.Error("root %s removed but retract failed: %v", path, err)
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
	default:
		writeJSONError(w, err.Error(), http.StatusBadRequest)
	}
}
