// Package startup handles application initialization, configuration loading,
// and startup/shutdown logging.
//
// # Configuration
//
// Configuration is loaded from environment variables via [LoadConfig]. A .env
// file in the working directory is read first by [LoadEnvFiles]; variables
// already present in the environment win.
//
//   - MINER_ROOTS: Comma separated roots to index. Prefix a root with "!" to index
//     only its top level (example: /srv/docs,!/home/me/Downloads)
//   - DATABASE_DRIVER: sqlite3 or pgx (default: sqlite3)
//   - DATABASE_DSN: Connection string; required for pgx, optional for sqlite3
//   - DATABASE_DIR: Directory for fsminer.db when no DSN is given (default: /database)
//   - CONTROL_PORT: Control API port (default: 8080)
//   - METRICS_PORT: Prometheus metrics server port (default: 9090)
//   - METRICS_ENABLED: Enable or disable metrics server (default: true)
//   - MINER_THROTTLE: Initial throttle 0.0-1.0 (default: 0)
//   - MINER_MAX_WORKERS: Concurrent extractions (default: derived from CPU count)
//   - MINER_MAX_DELAY: Delay between admissions at full throttle (default: 100ms)
//   - EXTRACT_TIMEOUT: Per-item extraction timeout (default: 10s)
//   - COMMIT_BATCH_SIZE: Facts per commit batch (default: 100)
//   - COMMIT_INTERVAL: Longest time a fact waits for its batch (default: 1s)
//   - IGNORE_DIRS: Directory names never indexed
//   - LOWER_IO_PRIORITY: Drop to best-effort/7 IO priority on Linux (default: true)
//   - LOG_LEVEL: Logging level - debug, info, warn, error (default: info)
//   - LOG_HEALTH_CHECKS: Log health check requests (default: false)
//   - MEMORY_LIMIT, MEMORY_RATIO, GOMEMLIMIT: see package memory
//
// # Build Information
//
// Build-time variables are injected via ldflags and exposed via [GetBuildInfo].
//
// # Lifecycle Logging
//
//   - [LogDatabaseInit]: Database initialization timing
//   - [LogMemoryConfig]: Memory limit configuration
//   - [LogMinerInit]: Miner configuration
//   - [LogHTTPRoutes]: Registered HTTP routes (debug level)
//   - [LogServerStarted]: Server endpoints and startup duration
//   - [LogShutdownInitiated]: Graceful shutdown start
//   - [LogShutdownComplete]: Shutdown completion
package startup
