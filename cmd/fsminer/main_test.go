package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"fsminer/internal/handlers"
	"fsminer/internal/startup"
)

func TestVersionCommand(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version", "--json"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	var info startup.BuildInfo
	if err := json.Unmarshal(out.Bytes(), &info); err != nil {
		t.Fatalf("Expected JSON output, got %q: %v", out.String(), err)
	}
	if info.Version != startup.Version {
		t.Errorf("Expected version %s, got %s", startup.Version, info.Version)
	}
}

func TestVersionCommandPlain(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.HasPrefix(out.String(), "fsminer ") {
		t.Errorf("Unexpected output %q", out.String())
	}
}

func TestInvalidLogLevel(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--log-level", "loud", "version"})

	if err := cmd.Execute(); err == nil {
		t.Error("Expected error for invalid log level")
	}
}

func TestLoadConfigFlagsOverrideEnv(t *testing.T) {
	root := t.TempDir()
	t.Setenv("DATABASE_DIR", t.TempDir())
	t.Setenv("MINER_ROOTS", "/from/env")
	t.Setenv("MINER_THROTTLE", "0.1")
	t.Setenv("MINER_MAX_WORKERS", "8")

	opts := &options{noBanner: true}
	cmd := newServeCmd(opts)
	if err := cmd.ParseFlags([]string{"--throttle", "0.6", "--no-ioprio", "--port", "9999"}); err != nil {
		t.Fatalf("ParseFlags() error = %v", err)
	}

	cfg, err := loadConfig(cmd, opts, []string{root, "!" + filepath.Join(root, "flat")})
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}

	if len(cfg.Roots) != 2 || cfg.Roots[0].Path != root || cfg.Roots[1].Recursive {
		t.Errorf("Expected roots from arguments, got %+v", cfg.Roots)
	}
	if cfg.Throttle != 0.6 {
		t.Errorf("Expected throttle 0.6 from flag, got %v", cfg.Throttle)
	}
	if cfg.MaxWorkers != 8 {
		t.Errorf("Expected workers 8 from env, got %d", cfg.MaxWorkers)
	}
	if cfg.LowerIOPriority {
		t.Error("Expected --no-ioprio to disable IO priority lowering")
	}
	if cfg.ControlPort != "9999" {
		t.Errorf("Expected port 9999, got %s", cfg.ControlPort)
	}
}

func TestLoadConfigRejectsBadFlags(t *testing.T) {
	t.Setenv("DATABASE_DIR", t.TempDir())
	t.Setenv("MINER_ROOTS", "")

	tests := [][]string{
		{"--throttle", "2"},
		{"--workers", "0"},
	}
	for _, flags := range tests {
		t.Run(strings.Join(flags, " "), func(t *testing.T) {
			opts := &options{noBanner: true}
			cmd := newCrawlCmd(opts)
			if err := cmd.ParseFlags(flags); err != nil {
				t.Fatalf("ParseFlags() error = %v", err)
			}
			if _, err := loadConfig(cmd, opts, nil); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

func TestRootLabel(t *testing.T) {
	tests := map[string]string{
		"/srv/docs":     "docs",
		"/home/a/Music": "Music",
		"/":             "root:/",
		"/var/database": "root:/var/database",
	}
	for in, want := range tests {
		if got := rootLabel(in); got != want {
			t.Errorf("rootLabel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestVolumeResolver(t *testing.T) {
	cfg := &startup.Config{
		Roots: []startup.RootSpec{
			{Path: "/srv/docs", Recursive: true},
			{Path: "/mnt/docs", Recursive: true},
			{Path: "/srv/photos", Recursive: true},
		},
		DatabaseDir: "/var/lib/fsminer",
	}
	resolver, labels := volumeResolver(cfg)

	if len(labels) != 2 {
		t.Errorf("Expected 2 distinct labels, got %v", labels)
	}
	if got := resolver.Resolve("/srv/photos/a.jpg"); got != "photos" {
		t.Errorf("Expected photos, got %s", got)
	}
	if got := resolver.Resolve("/var/lib/fsminer/fsminer.db"); got != "database" {
		t.Errorf("Expected database, got %s", got)
	}
	if got := resolver.Resolve("/elsewhere"); got != "unknown" {
		t.Errorf("Expected unknown, got %s", got)
	}
}

func TestSetupRouter(t *testing.T) {
	h := handlers.New(nil, nil, nil)
	router := setupRouter(h)

	routes, err := startup.GetRoutes(router)
	if err != nil {
		t.Fatalf("GetRoutes() error = %v", err)
	}
	found := make(map[string]bool)
	for _, r := range routes {
		found[r.Method+" "+r.Path] = true
	}
	for _, want := range []string{
		"GET /health", "GET /livez", "GET /readyz", "GET /version",
		"GET /api/roots", "POST /api/roots", "DELETE /api/roots",
		"GET /api/throttle", "PUT /api/throttle",
		"GET /api/status", "POST /api/recrawl", "GET /api/resources",
		"GET /api/stats", "GET /api/events",
	} {
		if !found[want] {
			t.Errorf("Route %q not registered", want)
		}
	}

	// Unknown methods are rejected by the router before reaching a handler.
	w := httptest.NewRecorder()
	wrapHandler(router, false).ServeHTTP(w, httptest.NewRequest(http.MethodPatch, "/api/throttle", http.NoBody))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", w.Code)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func crawlConfig(t *testing.T, roots ...string) *startup.Config {
	t.Helper()
	dbDir := t.TempDir()
	cfg := &startup.Config{
		DatabaseDriver:  "sqlite3",
		DatabaseDir:     dbDir,
		DatabasePath:    filepath.Join(dbDir, "fsminer.db"),
		MaxWorkers:      2,
		MaxDelay:        10 * time.Millisecond,
		ExtractTimeout:  5 * time.Second,
		CommitBatchSize: 10,
		CommitInterval:  50 * time.Millisecond,
		IgnoreDirs:      []string{"node_modules"},
	}
	for _, r := range roots {
		cfg.Roots = append(cfg.Roots, startup.RootSpec{Path: r, Recursive: true})
	}
	return cfg
}

func TestRunCrawl(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "hello world\n")
	writeFile(t, filepath.Join(root, "sub", "b.txt"), "one\ntwo\n")
	writeFile(t, filepath.Join(root, "node_modules", "skip.js"), "ignored")
	writeFile(t, filepath.Join(root, ".hidden"), "ignored")

	cfg := crawlConfig(t, root)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	summary, err := runCrawl(ctx, cfg)
	if err != nil {
		t.Fatalf("runCrawl() error = %v", err)
	}
	if summary.Roots != 1 || summary.Finished != 1 {
		t.Errorf("Expected 1/1 roots finished, got %+v", summary)
	}
	if summary.Files != 2 {
		t.Errorf("Expected 2 files indexed, got %d", summary.Files)
	}
	if summary.Dirs != 1 {
		t.Errorf("Expected 1 directory indexed, got %d", summary.Dirs)
	}
	if summary.Items != 3 {
		t.Errorf("Expected 3 crawled items, got %d", summary.Items)
	}
	if !strings.Contains(summary.String(), "crawled 1/1 roots") {
		t.Errorf("Unexpected summary string %q", summary)
	}
}

func TestRunCrawlRetractsStaleEntries(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "keep.txt"), "keep")
	writeFile(t, filepath.Join(root, "gone.txt"), "gone")

	cfg := crawlConfig(t, root)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := runCrawl(ctx, cfg); err != nil {
		t.Fatalf("first runCrawl() error = %v", err)
	}
	if err := os.Remove(filepath.Join(root, "gone.txt")); err != nil {
		t.Fatal(err)
	}

	summary, err := runCrawl(ctx, cfg)
	if err != nil {
		t.Fatalf("second runCrawl() error = %v", err)
	}
	if summary.Files != 1 {
		t.Errorf("Expected stale file retracted leaving 1 file, got %d", summary.Files)
	}
}

func TestAppCollectStats(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "a")

	cfg := crawlConfig(t, root)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := runCrawl(ctx, cfg); err != nil {
		t.Fatalf("runCrawl() error = %v", err)
	}

	a, err := newApp(ctx, cfg, false)
	if err != nil {
		t.Fatalf("newApp() error = %v", err)
	}
	defer a.close()

	stats, err := a.collectStats(ctx)
	if err != nil {
		t.Fatalf("collectStats() error = %v", err)
	}
	if stats.Files != 1 {
		t.Errorf("Expected 1 file, got %d", stats.Files)
	}
	if stats.Roots != 0 {
		t.Errorf("Expected no registered roots before addRoots, got %d", stats.Roots)
	}
	if a.db.GetStats().Files != 1 {
		t.Errorf("Expected cached stats to be refreshed, got %+v", a.db.GetStats())
	}
}
