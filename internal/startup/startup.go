package startup

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"

	"fsminer/internal/logging"
	"fsminer/internal/memory"
	"fsminer/internal/workers"
)

// Build-time variables (injected via -ldflags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
	GoVersion = runtime.Version()
)

// BuildInfo contains version and build information
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
	GoVersion string `json:"goVersion"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// GetBuildInfo returns the current build information
func GetBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: GoVersion,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}

// RouteInfo contains information about a registered route
type RouteInfo struct {
	Method string
	Path   string
	Name   string
}

// RootSpec is one configured root. A "!" prefix in MINER_ROOTS marks a
// root as non-recursive.
type RootSpec struct {
	Path      string
	Recursive bool
}

// Config holds all application configuration
type Config struct {
	Roots           []RootSpec
	DatabaseDir     string
	DatabaseDriver  string
	DatabaseDSN     string
	ControlPort     string
	MetricsPort     string
	MetricsEnabled  bool
	LogHealthChecks bool

	Throttle        float64
	MaxWorkers      int
	MaxDelay        time.Duration
	ExtractTimeout  time.Duration
	CommitBatchSize int
	CommitInterval  time.Duration
	IgnoreDirs      []string
	LowerIOPriority bool

	// Derived paths
	DatabasePath string
}

// LoadEnvFiles loads .env style files into the environment without
// overriding variables that are already set. Missing files are skipped.
// With no arguments it loads ".env" from the working directory.
func LoadEnvFiles(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		err := godotenv.Load(p)
		if err == nil {
			logging.Debug("Loaded environment from %s", p)
			continue
		}
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		return fmt.Errorf("failed to load %s: %w", p, err)
	}
	return nil
}

// LoadConfig loads and validates configuration from environment variables
func LoadConfig() (*Config, error) {
	logSystemInfo()

	section("CONFIGURATION")

	rootsStr := getEnv("MINER_ROOTS", "")
	databaseDir := getEnv("DATABASE_DIR", "/database")
	driver := getEnv("DATABASE_DRIVER", "sqlite3")
	dsn := getEnv("DATABASE_DSN", "")
	controlPort := getEnv("CONTROL_PORT", "8080")
	metricsPort := getEnv("METRICS_PORT", "9090")
	metricsEnabled := getEnvBool("METRICS_ENABLED", true)
	logHealthChecks := getEnvBool("LOG_HEALTH_CHECKS", false)
	throttle := getEnvFloat("MINER_THROTTLE", 0)
	maxWorkers := getEnvInt("MINER_MAX_WORKERS", workers.ForIO(0))
	maxDelay := getEnvDuration("MINER_MAX_DELAY", 100*time.Millisecond)
	extractTimeout := getEnvDuration("EXTRACT_TIMEOUT", 10*time.Second)
	batchSize := getEnvInt("COMMIT_BATCH_SIZE", 100)
	commitInterval := getEnvDuration("COMMIT_INTERVAL", time.Second)
	ignoreDirs := splitList(getEnv("IGNORE_DIRS", "node_modules,__pycache__,lost+found"))
	lowerIO := getEnvBool("LOWER_IO_PRIORITY", true)

	if throttle < 0 || throttle > 1 {
		logging.Warn("  Invalid MINER_THROTTLE %.2f (must be 0.0-1.0), using default: 0", throttle)
		throttle = 0
	}
	if maxWorkers < 1 {
		logging.Warn("  Invalid MINER_MAX_WORKERS %d, using default: %d", maxWorkers, workers.ForIO(0))
		maxWorkers = workers.ForIO(0)
	}
	if batchSize < 1 {
		logging.Warn("  Invalid COMMIT_BATCH_SIZE %d, using default: 100", batchSize)
		batchSize = 100
	}

	logging.Info("  MINER_ROOTS:         %s", rootsStr)
	logging.Info("  DATABASE_DIR:        %s", databaseDir)
	logging.Info("  DATABASE_DRIVER:     %s", driver)
	logging.Info("  DATABASE_DSN:        %s", redactDSN(dsn))
	logging.Info("  CONTROL_PORT:        %s", controlPort)
	logging.Info("  METRICS_PORT:        %s", metricsPort)
	logging.Info("  METRICS_ENABLED:     %v", metricsEnabled)
	logging.Info("  MINER_THROTTLE:      %.2f", throttle)
	logging.Info("  MINER_MAX_WORKERS:   %d", maxWorkers)
	logging.Info("  MINER_MAX_DELAY:     %v", maxDelay)
	logging.Info("  EXTRACT_TIMEOUT:     %v", extractTimeout)
	logging.Info("  COMMIT_BATCH_SIZE:   %d", batchSize)
	logging.Info("  COMMIT_INTERVAL:     %v", commitInterval)
	logging.Info("  IGNORE_DIRS:         %s", strings.Join(ignoreDirs, ","))
	logging.Info("  LOWER_IO_PRIORITY:   %v", lowerIO)
	logging.Info("  LOG_LEVEL:           %s", logging.GetLevel())

	roots, err := ParseRoots(rootsStr)
	if err != nil {
		return nil, err
	}

	config := &Config{
		Roots:           roots,
		DatabaseDriver:  driver,
		DatabaseDSN:     dsn,
		ControlPort:     controlPort,
		MetricsPort:     metricsPort,
		MetricsEnabled:  metricsEnabled,
		LogHealthChecks: logHealthChecks,
		Throttle:        throttle,
		MaxWorkers:      maxWorkers,
		MaxDelay:        maxDelay,
		ExtractTimeout:  extractTimeout,
		CommitBatchSize: batchSize,
		CommitInterval:  commitInterval,
		IgnoreDirs:      ignoreDirs,
		LowerIOPriority: lowerIO,
	}

	section("DIRECTORY SETUP")

	for _, r := range roots {
		if err := checkRoot(r.Path); err != nil {
			logging.Warn("  Root %s: %v", r.Path, err)
			continue
		}
		logging.Info("  [OK] Root %s (recursive: %v)", r.Path, r.Recursive)
	}

	if driver == "sqlite3" && dsn == "" {
		if err := config.prepareDatabaseDir(databaseDir); err != nil {
			return nil, err
		}
	} else {
		logging.Info("  Database directory not used (driver %s with DSN)", driver)
	}

	return config, nil
}

func (c *Config) prepareDatabaseDir(databaseDir string) error {
	databaseDir, err := filepath.Abs(databaseDir)
	if err != nil {
		return fmt.Errorf("failed to resolve database directory path: %w", err)
	}
	logging.Info("  Database directory (absolute): %s", databaseDir)

	if err := ensureDirectory(databaseDir, "database"); err != nil {
		return fmt.Errorf("database directory error: %w", err)
	}

	logging.Debug("  Testing database directory write access...")
	if err := testWriteAccess(databaseDir); err != nil {
		return fmt.Errorf("database directory is not writable (required for database): %w", err)
	}
	logging.Info("  [OK] Database directory is writable")

	c.DatabaseDir = databaseDir
	c.DatabasePath = filepath.Join(databaseDir, "fsminer.db")
	return nil
}

// ParseRoots parses a comma separated root list. A leading "!" marks a root
// as non-recursive; empty entries are skipped.
func ParseRoots(s string) ([]RootSpec, error) {
	var roots []RootSpec
	for _, entry := range splitList(s) {
		recursive := true
		if strings.HasPrefix(entry, "!") {
			recursive = false
			entry = strings.TrimSpace(entry[1:])
		}
		if entry == "" {
			continue
		}
		abs, err := filepath.Abs(entry)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve root %q: %w", entry, err)
		}
		roots = append(roots, RootSpec{Path: abs, Recursive: recursive})
	}
	return roots, nil
}

// LogDatabaseInit logs database initialization
func LogDatabaseInit(driver string, duration time.Duration) {
	section("DATABASE INITIALIZATION")
	logging.Info("  [OK] Database (%s) initialized in %v", driver, duration)
}

// LogMemoryConfig logs the outcome of memory.ConfigureFromEnv
func LogMemoryConfig(result memory.ConfigResult) {
	section("MEMORY CONFIGURATION")
	switch result.Source {
	case memory.SourceGOMEMLIMIT:
		logging.Info("  GOMEMLIMIT:      %s (from environment)", memory.FormatBytes(result.GoMemLimit))
	case memory.SourceMemoryLimit, memory.SourceCgroup:
		logging.Info("  Container limit: %s (%s)", memory.FormatBytes(result.ContainerLimit), result.Source)
		logging.Info("  GOMEMLIMIT:      %s (%.0f%%)", memory.FormatBytes(result.GoMemLimit), result.Ratio*100)
	default:
		logging.Info("  No memory limit configured; memory backpressure disabled")
	}
}

// LogMinerInit logs miner initialization
func LogMinerInit(cfg *Config) {
	section("MINER INITIALIZATION")
	logging.Info("  Roots:           %d", len(cfg.Roots))
	logging.Info("  Max workers:     %d", cfg.MaxWorkers)
	logging.Info("  Throttle:        %.2f", cfg.Throttle)
	logging.Info("  Extract timeout: %v", cfg.ExtractTimeout)
	logging.Info("  Starting miner...")
}

// LogMinerStarted logs successful miner start
func LogMinerStarted() {
	logging.Info("  [OK] Miner started")
}

// GetRoutes extracts all registered routes from a mux.Router
func GetRoutes(router *mux.Router) ([]RouteInfo, error) {
	var routes []RouteInfo

	err := router.Walk(func(route *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		pathTemplate, err := route.GetPathTemplate()
		if err != nil {
			return err
		}

		methods, err := route.GetMethods()
		if err != nil {
			methods = []string{"*"}
		}

		for _, method := range methods {
			routes = append(routes, RouteInfo{
				Method: method,
				Path:   pathTemplate,
				Name:   route.GetName(),
			})
		}
		return nil
	})

	return routes, err
}

// LogHTTPRoutes logs all registered HTTP routes dynamically
func LogHTTPRoutes(router *mux.Router, logHealthChecks bool) {
	section("HTTP SERVER SETUP")

	if logging.IsDebugEnabled() {
		routes, err := GetRoutes(router)
		if err != nil {
			logging.Warn("error walking routes: %v", err)
		}

		logging.Debug("  Registered routes (%d total):", len(routes))
		logging.Debug("")

		groups := make(map[string][]RouteInfo)
		for _, route := range routes {
			prefix := getRouteGroup(route.Path)
			groups[prefix] = append(groups[prefix], route)
		}

		groupKeys := make([]string, 0, len(groups))
		for k := range groups {
			groupKeys = append(groupKeys, k)
		}
		sort.Strings(groupKeys)

		for _, group := range groupKeys {
			if group != "" {
				logging.Debug("  [%s]", group)
			} else {
				logging.Debug("  [root]")
			}
			for _, route := range groups[group] {
				logging.Debug("    %-6s %s", route.Method, route.Path)
			}
			logging.Debug("")
		}
	}

	logging.Info("  HTTP logging enabled")
	if logHealthChecks {
		logging.Info("    Health check logging: ON")
	} else {
		logging.Info("    Health check logging: OFF (set LOG_HEALTH_CHECKS=true to enable)")
	}
}

// getRouteGroup extracts a group name from a route path
func getRouteGroup(path string) string {
	path = strings.TrimPrefix(path, "/")

	parts := strings.SplitN(path, "/", 2)
	first := parts[0]

	if first == "api" && len(parts) > 1 {
		subParts := strings.SplitN(parts[1], "/", 2)
		return "api/" + subParts[0]
	}

	return first
}

// ServerConfig holds configuration for the server startup log
type ServerConfig struct {
	ControlPort     string
	MetricsPort     string
	MetricsEnabled  bool
	StartupDuration time.Duration
}

// LogServerStarted logs successful server start with all endpoint information
func LogServerStarted(config ServerConfig) {
	section("SERVER STARTED")
	logging.Info("  Startup time:    %v", config.StartupDuration)
	logging.Info("")
	logging.Info("  Endpoints:")
	logging.Info("    Control API:   http://0.0.0.0:%s/api", config.ControlPort)
	logging.Info("    Events:        ws://0.0.0.0:%s/api/events", config.ControlPort)
	if config.MetricsEnabled {
		logging.Info("    Metrics:       http://0.0.0.0:%s/metrics", config.MetricsPort)
	} else {
		logging.Info("    Metrics:       DISABLED")
	}
	logging.Info("")
	logging.Info("  Press Ctrl+C to stop the server")
	logging.Info("------------------------------------------------------------")
	logging.Info("")
}

// LogShutdownInitiated logs shutdown start
func LogShutdownInitiated(signal string) {
	section("SHUTDOWN INITIATED (received %s)", signal)
}

// LogShutdownStep logs a shutdown step
func LogShutdownStep(step string) {
	logging.Debug("  %s...", step)
}

// LogShutdownStepComplete logs a completed shutdown step
func LogShutdownStepComplete(step string) {
	logging.Info("  [OK] %s", step)
}

// LogShutdownComplete logs shutdown completion
func LogShutdownComplete() {
	logging.Info("  [OK] Shutdown complete")
}

// PrintBanner prints the startup banner and build details.
func PrintBanner() {
	banner := `
------------------------------------------------------------
     ____                  _
    / __/________ ___  (_)___  ___  _____
   / /_/ ___/ __ '__ \/ / __ \/ _ \/ ___/
  / __(__  ) / / / / / / / / /  __/ /
 /_/ /____/_/ /_/ /_/_/_/ /_/\___/_/

------------------------------------------------------------`
	fmt.Println(banner)
	logging.Info("  Version:    %s", Version)
	logging.Info("  Commit:     %s", Commit)
	logging.Info("  Build Time: %s", BuildTime)
	logging.Info("  Started:    %s", time.Now().Format(time.RFC1123))
	logging.Info("")
}

// section starts a titled block of the startup log.
func section(format string, args ...any) {
	logging.Info("")
	logging.Info("%s", strings.Repeat("-", 60))
	logging.Info(format, args...)
	logging.Info("%s", strings.Repeat("-", 60))
}

func logSystemInfo() {
	section("SYSTEM INFORMATION")
	logging.Info("  Go version:      %s", runtime.Version())
	logging.Info("  OS/Arch:         %s/%s", runtime.GOOS, runtime.GOARCH)
	logging.Info("  CPUs available:  %d", runtime.NumCPU())
	logging.Info("  GOMAXPROCS:      %d", runtime.GOMAXPROCS(0))

	if runtime.GOMAXPROCS(0) < runtime.NumCPU() {
		logging.Info("  (Container CPU limit detected)")
	}

	if logging.IsDebugEnabled() {
		if wd, err := os.Getwd(); err == nil {
			logging.Debug("  Working dir:     %s", wd)
		}
		if hostname, err := os.Hostname(); err == nil {
			logging.Debug("  Hostname:        %s", hostname)
		}
	}

	logging.Info("")
}

// checkRoot reports whether a root exists and is a directory. Missing roots
// are only a warning; they can be created later and re-added.
func checkRoot(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("not a directory")
	}

	if logging.IsDebugEnabled() {
		if entries, err := os.ReadDir(path); err == nil {
			fileCount, dirCount := 0, 0
			for _, e := range entries {
				if e.IsDir() {
					dirCount++
				} else {
					fileCount++
				}
			}
			logging.Debug("    Contents: %d files, %d directories (top level)", fileCount, dirCount)
		}
	}
	return nil
}

func ensureDirectory(path, name string) error {
	logging.Debug("  Checking %s directory: %s", name, path)

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		logging.Debug("    Directory does not exist, creating...")
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
		logging.Debug("    [OK] Created directory: %s", path)
		return nil
	}

	if err != nil {
		return fmt.Errorf("failed to stat directory: %w", err)
	}

	if !info.IsDir() {
		return fmt.Errorf("path exists but is not a directory")
	}

	logging.Debug("    [OK] Directory exists")
	return nil
}

func testWriteAccess(dir string) error {
	testFile := filepath.Join(dir, ".write-test")
	if err := os.WriteFile(testFile, []byte("test"), 0o644); err != nil {
		return err
	}
	if err := os.Remove(testFile); err != nil {
		logging.Warn("failed to remove write test file %s: %v", testFile, err)
	}
	return nil
}

// redactDSN hides the password in a URL style DSN.
func redactDSN(dsn string) string {
	if dsn == "" {
		return "(none)"
	}
	scheme, rest, ok := strings.Cut(dsn, "://")
	if !ok {
		return dsn
	}
	userinfo, host, ok := strings.Cut(rest, "@")
	if !ok {
		return dsn
	}
	if user, _, hasPass := strings.Cut(userinfo, ":"); hasPass {
		return scheme + "://" + user + ":****@" + host
	}
	return dsn
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		logging.Warn("Invalid boolean value for %s: %q, using default: %v", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		logging.Warn("Invalid integer value for %s: %q, using default: %d", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		logging.Warn("Invalid number value for %s: %q, using default: %v", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed < 0 {
		logging.Warn("Invalid duration value for %s: %q, using default: %v", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}
