package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"fsminer/internal/database"
	"fsminer/internal/miner"
)

func newTestHandlers() (*Handlers, *mockMiner, *mockStore) {
	m := newMockMiner()
	s := newMockStore()
	return New(m, s, NewHub(8)), m, s
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("Failed to decode response %q: %v", w.Body.String(), err)
	}
	return v
}

func TestHealthCheck(t *testing.T) {
	tests := []struct {
		name       string
		running    bool
		pingErr    error
		wantCode   int
		wantStatus string
	}{
		{"running", true, nil, http.StatusOK, statusHealthy},
		{"starting", false, nil, http.StatusServiceUnavailable, statusStarting},
		{"database down", true, errors.New("connection refused"), http.StatusServiceUnavailable, statusDegraded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, m, s := newTestHandlers()
			m.running = tt.running
			s.pingErr = tt.pingErr
			s.stats = database.IndexStats{Files: 3, Directories: 1}

			w := httptest.NewRecorder()
			h.HealthCheck(w, httptest.NewRequest(http.MethodGet, "/health", http.NoBody))

			if w.Code != tt.wantCode {
				t.Errorf("Expected status %d, got %d", tt.wantCode, w.Code)
			}
			resp := decodeBody[HealthResponse](t, w)
			if resp.Status != tt.wantStatus {
				t.Errorf("Expected status %q, got %q", tt.wantStatus, resp.Status)
			}
			if resp.TotalFiles != 3 || resp.TotalDirectories != 1 {
				t.Errorf("Expected stats 3/1, got %d/%d", resp.TotalFiles, resp.TotalDirectories)
			}
			if resp.Queued != 7 {
				t.Errorf("Expected queued 7, got %d", resp.Queued)
			}
			if resp.NumCPU < 1 {
				t.Errorf("Expected NumCPU >= 1, got %d", resp.NumCPU)
			}
		})
	}
}

func TestLivenessCheck(t *testing.T) {
	h, _, _ := newTestHandlers()

	w := httptest.NewRecorder()
	h.LivenessCheck(w, httptest.NewRequest(http.MethodGet, "/livez", http.NoBody))
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "alive") {
		t.Errorf("Expected alive body, got %q", w.Body.String())
	}

	w = httptest.NewRecorder()
	h.LivenessCheck(w, httptest.NewRequest(http.MethodHead, "/livez", http.NoBody))
	if w.Body.Len() != 0 {
		t.Errorf("Expected empty body for HEAD, got %q", w.Body.String())
	}
}

func TestReadinessCheck(t *testing.T) {
	h, m, s := newTestHandlers()

	w := httptest.NewRecorder()
	h.ReadinessCheck(w, httptest.NewRequest(http.MethodGet, "/readyz", http.NoBody))
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 when running, got %d", w.Code)
	}

	s.pingErr = errors.New("down")
	w = httptest.NewRecorder()
	h.ReadinessCheck(w, httptest.NewRequest(http.MethodGet, "/readyz", http.NoBody))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 with store down, got %d", w.Code)
	}

	s.pingErr = nil
	m.running = false
	w = httptest.NewRecorder()
	h.ReadinessCheck(w, httptest.NewRequest(http.MethodGet, "/readyz", http.NoBody))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 when stopped, got %d", w.Code)
	}
}

func TestAddRoot(t *testing.T) {
	tests := []struct {
		name          string
		body          string
		addErr        error
		wantCode      int
		wantRecursive bool
	}{
		{"recursive by default", `{"path":"/data"}`, nil, http.StatusCreated, true},
		{"non-recursive", `{"path":"/data","recursive":false}`, nil, http.StatusCreated, false},
		{"covered", `{"path":"/data/sub"}`, miner.ErrOverlap, http.StatusOK, true},
		{"shutting down", `{"path":"/data"}`, miner.ErrShuttingDown, http.StatusServiceUnavailable, true},
		{"engine rejects", `{"path":"/data"}`, errors.New("bad path"), http.StatusBadRequest, true},
		{"missing path", `{}`, nil, http.StatusBadRequest, true},
		{"invalid json", `{"path":`, nil, http.StatusBadRequest, true},
		{"unknown field", `{"path":"/data","depth":3}`, nil, http.StatusBadRequest, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, m, _ := newTestHandlers()
			m.addErr = tt.addErr

			req := httptest.NewRequest(http.MethodPost, "/api/roots", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			h.AddRoot(w, req)

			if w.Code != tt.wantCode {
				t.Errorf("Expected status %d, got %d (%s)", tt.wantCode, w.Code, w.Body.String())
			}
			if tt.wantCode == http.StatusCreated && m.lastAdd.Recursive != tt.wantRecursive {
				t.Errorf("Expected recursive=%v, got %v", tt.wantRecursive, m.lastAdd.Recursive)
			}
		})
	}
}

func TestRemoveRoot(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		removed   bool
		removeErr error
		wantCode  int
	}{
		{"removed", "?path=/data", true, nil, http.StatusOK},
		{"unknown", "?path=/nope", false, fmt.Errorf("remove: %w", miner.ErrUnknownRoot), http.StatusNotFound},
		{"retract failed", "?path=/data", true, errors.New("database locked"), http.StatusInternalServerError},
		{"shutting down", "?path=/data", false, miner.ErrShuttingDown, http.StatusServiceUnavailable},
		{"missing path", "", false, nil, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, m, _ := newTestHandlers()
			m.removed = tt.removed
			m.removeErr = tt.removeErr

			w := httptest.NewRecorder()
			h.RemoveRoot(w, httptest.NewRequest(http.MethodDelete, "/api/roots"+tt.query, http.NoBody))

			if w.Code != tt.wantCode {
				t.Errorf("Expected status %d, got %d", tt.wantCode, w.Code)
			}
		})
	}
}

func TestListRoots(t *testing.T) {
	h, m, s := newTestHandlers()
	m.roots = []miner.WatchedRoot{{Path: "/a", Recursive: true}, {Path: "/b"}}
	crawled := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s.lastCrawls["/a"] = crawled

	w := httptest.NewRecorder()
	h.ListRoots(w, httptest.NewRequest(http.MethodGet, "/api/roots", http.NoBody))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var roots []struct {
		Path      string     `json:"path"`
		Recursive bool       `json:"recursive"`
		State     string     `json:"state"`
		LastCrawl *time.Time `json:"lastCrawl"`
	}
	if err := json.NewDecoder(w.Body).Decode(&roots); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(roots) != 2 {
		t.Fatalf("Expected 2 roots, got %d", len(roots))
	}
	if roots[0].Path != "/a" || !roots[0].Recursive || roots[0].State != "idle" {
		t.Errorf("Unexpected first root: %+v", roots[0])
	}
	if roots[0].LastCrawl == nil || !roots[0].LastCrawl.Equal(crawled) {
		t.Errorf("Expected lastCrawl %v, got %v", crawled, roots[0].LastCrawl)
	}
	if roots[1].LastCrawl != nil {
		t.Errorf("Expected no lastCrawl for /b, got %v", roots[1].LastCrawl)
	}
}

func TestListRootsEmptyIsArray(t *testing.T) {
	h, _, _ := newTestHandlers()
	w := httptest.NewRecorder()
	h.ListRoots(w, httptest.NewRequest(http.MethodGet, "/api/roots", http.NoBody))
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("Expected [], got %q", w.Body.String())
	}
}

func TestThrottle(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode int
		want     float64
	}{
		{"set half", `{"throttle":0.5}`, http.StatusOK, 0.5},
		{"set zero", `{"throttle":0}`, http.StatusOK, 0},
		{"set one", `{"throttle":1}`, http.StatusOK, 1},
		{"too high", `{"throttle":1.5}`, http.StatusBadRequest, 0.25},
		{"negative", `{"throttle":-0.1}`, http.StatusBadRequest, 0.25},
		{"missing", `{}`, http.StatusBadRequest, 0.25},
		{"not a number", `{"throttle":"fast"}`, http.StatusBadRequest, 0.25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, m, _ := newTestHandlers()
			m.throttle = 0.25

			w := httptest.NewRecorder()
			h.SetThrottle(w, httptest.NewRequest(http.MethodPut, "/api/throttle", strings.NewReader(tt.body)))

			if w.Code != tt.wantCode {
				t.Errorf("Expected status %d, got %d", tt.wantCode, w.Code)
			}
			if got := m.Throttle(); got != tt.want {
				t.Errorf("Expected throttle %v, got %v", tt.want, got)
			}
			if tt.wantCode == http.StatusOK {
				resp := decodeBody[ThrottleResponse](t, w)
				if resp.Throttle != tt.want {
					t.Errorf("Expected response throttle %v, got %v", tt.want, resp.Throttle)
				}
			}
		})
	}
}

func TestGetThrottle(t *testing.T) {
	h, m, _ := newTestHandlers()
	m.throttle = 0.75

	w := httptest.NewRecorder()
	h.GetThrottle(w, httptest.NewRequest(http.MethodGet, "/api/throttle", http.NoBody))

	resp := decodeBody[ThrottleResponse](t, w)
	if resp.Throttle != 0.75 || resp.AdmissionLimit != 4 {
		t.Errorf("Unexpected response %+v", resp)
	}
}

func TestGetStatus(t *testing.T) {
	h, m, _ := newTestHandlers()
	m.roots = []miner.WatchedRoot{{Path: "/a", Recursive: true}}

	w := httptest.NewRecorder()
	h.GetStatus(w, httptest.NewRequest(http.MethodGet, "/api/status", http.NoBody))

	st := decodeBody[miner.Status](t, w)
	if !st.Running || len(st.Roots) != 1 || st.Roots[0].Path != "/a" {
		t.Errorf("Unexpected status %+v", st)
	}
}

func TestTriggerRecrawl(t *testing.T) {
	h, m, _ := newTestHandlers()

	w := httptest.NewRecorder()
	h.TriggerRecrawl(w, httptest.NewRequest(http.MethodPost, "/api/recrawl", http.NoBody))
	if w.Code != http.StatusAccepted {
		t.Errorf("Expected 202, got %d", w.Code)
	}
	if m.recrawls != 1 {
		t.Errorf("Expected 1 recrawl, got %d", m.recrawls)
	}

	m.recrawlErr = miner.ErrShuttingDown
	w = httptest.NewRecorder()
	h.TriggerRecrawl(w, httptest.NewRequest(http.MethodPost, "/api/recrawl", http.NoBody))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", w.Code)
	}
}

func TestGetResource(t *testing.T) {
	h, _, s := newTestHandlers()
	s.resources["/data/a.txt"] = &database.Resource{
		Path: "/data/a.txt", Kind: "file", Size: 12,
		Data: map[string]any{"lines": float64(2)},
	}

	tests := []struct {
		query    string
		wantCode int
	}{
		{"?path=/data/a.txt", http.StatusOK},
		{"?path=/data/missing", http.StatusNotFound},
		{"?path=/broken", http.StatusInternalServerError},
		{"", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.GetResource(w, httptest.NewRequest(http.MethodGet, "/api/resources"+tt.query, http.NoBody))
			if w.Code != tt.wantCode {
				t.Errorf("Expected status %d, got %d", tt.wantCode, w.Code)
			}
		})
	}

	w := httptest.NewRecorder()
	h.GetResource(w, httptest.NewRequest(http.MethodGet, "/api/resources?path=/data/a.txt", http.NoBody))
	res := decodeBody[database.Resource](t, w)
	if res.Size != 12 || res.Data["lines"] != float64(2) {
		t.Errorf("Unexpected resource %+v", res)
	}
}

func TestGetStats(t *testing.T) {
	h, _, s := newTestHandlers()
	s.stats = database.IndexStats{Files: 10, Directories: 2}

	w := httptest.NewRecorder()
	h.GetStats(w, httptest.NewRequest(http.MethodGet, "/api/stats", http.NoBody))
	got := decodeBody[map[string]int](t, w)
	if got["files"] != 10 || got["directories"] != 2 || got["total"] != 12 {
		t.Errorf("Unexpected stats %v", got)
	}

	s.statsErr = errors.New("boom")
	w = httptest.NewRecorder()
	h.GetStats(w, httptest.NewRequest(http.MethodGet, "/api/stats", http.NoBody))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500, got %d", w.Code)
	}
}

func TestGetVersion(t *testing.T) {
	h, _, _ := newTestHandlers()
	w := httptest.NewRecorder()
	h.GetVersion(w, httptest.NewRequest(http.MethodGet, "/version", http.NoBody))

	if w.Header().Get("Cache-Control") != "no-cache" {
		t.Error("Expected Cache-Control: no-cache")
	}
	info := decodeBody[map[string]string](t, w)
	if info["version"] == "" || info["goVersion"] == "" {
		t.Errorf("Expected version info, got %v", info)
	}
}

func TestMetricsHandler(t *testing.T) {
	h, _, _ := newTestHandlers()
	handler := h.MetricsHandler()

	tests := []struct {
		name       string
		accept     string
		wantPrefix string
	}{
		{"text exposition", "", "text/plain"},
		{"openmetrics", "application/openmetrics-text; version=1.0.0", "application/openmetrics-text"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody)
			if tt.accept != "" {
				req.Header.Set("Accept", tt.accept)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != http.StatusOK {
				t.Fatalf("Expected status 200, got %d", w.Code)
			}
			if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, tt.wantPrefix) {
				t.Errorf("Expected content type %s, got %q", tt.wantPrefix, ct)
			}
			if !strings.Contains(w.Body.String(), "go_goroutines") {
				t.Error("Expected runtime metrics in the scrape")
			}
		})
	}
}
