package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver, registered as "pgx"
	_ "github.com/mattn/go-sqlite3"    // SQLite3 driver

	"fsminer/internal/logging"
	"fsminer/internal/metrics"
	"fsminer/internal/miner"
)

// Default timeout for database operations
const defaultTimeout = 5 * time.Second

// Supported drivers.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

// Options selects the backing database. Path is used by the SQLite driver
// when DSN is empty.
type Options struct {
	Driver string
	DSN    string
	Path   string
}

// Database stores committed facts. It implements miner.CommitSink,
// miner.IndexedLister and miner.GenerationSource.
type Database struct {
	db      *sql.DB
	driver  string
	mu      sync.RWMutex
	stats   IndexStats
	statsMu sync.RWMutex
}

var (
	_ miner.CommitSink       = (*Database)(nil)
	_ miner.IndexedLister    = (*Database)(nil)
	_ miner.GenerationSource = (*Database)(nil)
)

// New opens the database and creates the schema.
// For SQLite the parent directory of opts.Path must already exist and be
// writable; startup.LoadConfig validates it.
func New(ctx context.Context, opts Options) (*Database, error) {
	driver := opts.Driver
	if driver == "" {
		driver = DriverSQLite
	}

	dsn := opts.DSN
	switch driver {
	case DriverSQLite:
		if dsn == "" {
			if opts.Path == "" {
				return nil, errors.New("sqlite database requires a path or DSN")
			}
			logging.Info("Database path: %s", opts.Path)
			if err := diagnoseDatabasePermissions(opts.Path); err != nil {
				logging.Warn("Database permission diagnostics: %v", err)
			}
			// busy_timeout helps prevent "database is locked" errors
			dsn = fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=10000&_temp_store=MEMORY&_busy_timeout=5000", opts.Path)
		}
	case DriverPostgres:
		if dsn == "" {
			return nil, errors.New("pgx driver requires DATABASE_DSN")
		}
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close database after ping failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(time.Hour)

	d := &Database{
		db:     db,
		driver: driver,
	}

	if err := d.initialize(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close database after initialization failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	logging.Info("Database initialized successfully (driver: %s)", driver)
	return d, nil
}

func (d *Database) initialize(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { recordQuery("initialize_schema", start, err) }()

	// One statement per Exec; the pgx driver rejects multi-statement
	// strings on the extended protocol.
	statements := []string{
		`CREATE TABLE IF NOT EXISTS resources (
			path TEXT PRIMARY KEY,
			parent_path TEXT NOT NULL,
			root TEXT NOT NULL,
			kind TEXT NOT NULL,
			generation BIGINT NOT NULL DEFAULT 0,
			size BIGINT NOT NULL DEFAULT 0,
			mod_time BIGINT NOT NULL DEFAULT 0,
			data TEXT,
			updated_at BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_resources_parent_path ON resources(parent_path)`,
		`CREATE INDEX IF NOT EXISTS idx_resources_root ON resources(root)`,
		`CREATE INDEX IF NOT EXISTS idx_resources_kind ON resources(kind)`,
		`CREATE TABLE IF NOT EXISTS metadata (
			key TEXT PRIMARY KEY,
			value TEXT
		)`,
	}

	for _, stmt := range statements {
		if _, err = d.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database connection.
func (d *Database) Close() error {
	return d.db.Close()
}

// Ping reports whether the database is reachable.
func (d *Database) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()
	return d.db.PingContext(ctx)
}

// Driver returns the database/sql driver name in use.
func (d *Database) Driver() string {
	return d.driver
}

// BeginBatch starts a transaction for batch operations.
// The caller is responsible for calling EndBatch when done.
func (d *Database) BeginBatch(ctx context.Context) (*sql.Tx, error) {
	start := time.Now()

	d.mu.Lock()
	tx, err := d.db.BeginTx(ctx, nil)
	d.mu.Unlock()

	recordQuery("begin_transaction", start, err)
	return tx, err
}

// EndBatch commits or rolls back a transaction.
func (d *Database) EndBatch(tx *sql.Tx, err error) error {
	start := time.Now()

	if err != nil {
		rbErr := tx.Rollback()
		recordQuery("rollback", start, rbErr)
		if rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback also failed: %w", rbErr))
		}
		return err
	}

	err = tx.Commit()
	recordQuery("commit", start, err)
	return err
}

// Commit upserts a batch of facts in a single transaction. A row is only
// replaced by a fact of the same or a newer generation.
func (d *Database) Commit(ctx context.Context, facts []miner.Fact) (err error) {
	if len(facts) == 0 {
		return nil
	}

	start := time.Now()
	defer func() { recordQuery("commit_batch", start, err) }()

	tx, err := d.BeginBatch(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin commit: %w", err)
	}

	query := d.rebind(`
	INSERT INTO resources (path, parent_path, root, kind, generation, size, mod_time, data, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(path) DO UPDATE SET
		parent_path = excluded.parent_path,
		root = excluded.root,
		kind = excluded.kind,
		generation = excluded.generation,
		size = excluded.size,
		mod_time = excluded.mod_time,
		data = excluded.data,
		updated_at = excluded.updated_at
	WHERE resources.generation <= excluded.generation
	`)

	now := time.Now().Unix()
	for _, f := range facts {
		var data []byte
		if f.Data != nil {
			if data, err = json.Marshal(f.Data); err != nil {
				err = fmt.Errorf("failed to encode data for %s: %w", f.Path, err)
				return d.EndBatch(tx, err)
			}
		}

		var modTime int64
		if !f.ModTime.IsZero() {
			modTime = f.ModTime.Unix()
		}

		if _, err = tx.ExecContext(ctx, query,
			f.Path,
			filepath.Dir(f.Path),
			f.Root,
			f.Kind.String(),
			int64(f.Generation), //nolint:gosec // generations never approach MaxInt64
			f.Size,
			modTime,
			nullableText(data),
			now,
		); err != nil {
			err = fmt.Errorf("failed to upsert %s: %w", f.Path, err)
			return d.EndBatch(tx, err)
		}
	}

	return d.EndBatch(tx, nil)
}

// Retract deletes prefix and every row beneath it.
func (d *Database) Retract(ctx context.Context, prefix string) (err error) {
	start := time.Now()
	defer func() { recordQuery("retract", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	child := childPrefix(prefix)
	_, err = d.db.ExecContext(ctx, d.rebind(
		"DELETE FROM resources WHERE path = ? OR substr(path, 1, ?) = ?"),
		prefix, utf8.RuneCountInString(child), child,
	)
	if err != nil {
		return fmt.Errorf("failed to retract %s: %w", prefix, err)
	}
	return nil
}

// ListIndexed returns every stored path equal to or beneath prefix, sorted.
func (d *Database) ListIndexed(ctx context.Context, prefix string) (paths []string, err error) {
	start := time.Now()
	defer func() { recordQuery("list_indexed", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	child := childPrefix(prefix)
	rows, err := d.db.QueryContext(ctx, d.rebind(
		"SELECT path FROM resources WHERE path = ? OR substr(path, 1, ?) = ? ORDER BY path"),
		prefix, utf8.RuneCountInString(child), child,
	)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	for rows.Next() {
		var p string
		if err = rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// MaxGeneration returns the highest generation stored at or beneath prefix,
// or 0 when nothing is indexed there.
func (d *Database) MaxGeneration(ctx context.Context, prefix string) (gen uint64, err error) {
	start := time.Now()
	defer func() { recordQuery("max_generation", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	child := childPrefix(prefix)
	var stored sql.NullInt64
	err = d.db.QueryRowContext(ctx, d.rebind(
		"SELECT MAX(generation) FROM resources WHERE path = ? OR substr(path, 1, ?) = ?"),
		prefix, utf8.RuneCountInString(child), child,
	).Scan(&stored)
	if err != nil {
		return 0, fmt.Errorf("failed to read generation under %s: %w", prefix, err)
	}
	if !stored.Valid || stored.Int64 < 0 {
		return 0, nil
	}
	return uint64(stored.Int64), nil //nolint:gosec // checked non-negative
}

// GetResource retrieves a single resource by path.
// Returns sql.ErrNoRows when the path is not indexed.
func (d *Database) GetResource(ctx context.Context, path string) (*Resource, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	query := d.rebind(`
	SELECT path, parent_path, root, kind, generation, size, mod_time, data, updated_at
	FROM resources WHERE path = ?
	`)

	var (
		r          Resource
		generation int64
		modTime    int64
		updatedAt  int64
		data       sql.NullString
	)

	err := d.db.QueryRowContext(ctx, query, path).Scan(
		&r.Path, &r.ParentPath, &r.Root, &r.Kind,
		&generation, &r.Size, &modTime, &data, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	r.Generation = uint64(generation) //nolint:gosec // stored from a uint64
	r.ModTime = time.Unix(modTime, 0)
	r.UpdatedAt = time.Unix(updatedAt, 0)
	if data.Valid && data.String != "" {
		if err := json.Unmarshal([]byte(data.String), &r.Data); err != nil {
			return nil, fmt.Errorf("failed to decode data for %s: %w", path, err)
		}
	}
	return &r, nil
}

// CalculateStats counts indexed resources by kind and caches the result.
func (d *Database) CalculateStats(ctx context.Context) (stats IndexStats, err error) {
	start := time.Now()
	defer func() { recordQuery("count", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := d.db.QueryContext(ctx, "SELECT kind, COUNT(*) FROM resources GROUP BY kind")
	if err != nil {
		return stats, err
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	for rows.Next() {
		var (
			kind  string
			count int
		)
		if err = rows.Scan(&kind, &count); err != nil {
			return stats, err
		}
		switch kind {
		case miner.KindDirectory.String():
			stats.Directories = count
		default:
			stats.Files += count
		}
	}
	if err = rows.Err(); err != nil {
		return stats, err
	}

	d.UpdateStats(stats)
	return stats, nil
}

// UpdateStats updates the cached statistics.
func (d *Database) UpdateStats(stats IndexStats) {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	d.stats = stats
}

// GetStats returns the cached statistics from the last CalculateStats.
func (d *Database) GetStats() IndexStats {
	d.statsMu.RLock()
	defer d.statsMu.RUnlock()
	return d.stats
}

// rebind rewrites ? placeholders to $n for the pgx driver.
func (d *Database) rebind(query string) string {
	if d.driver != DriverPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// childPrefix returns the string every descendant of prefix starts with.
func childPrefix(prefix string) string {
	if strings.HasSuffix(prefix, string(filepath.Separator)) {
		return prefix
	}
	return prefix + string(filepath.Separator)
}

func nullableText(b []byte) sql.NullString {
	if b == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

// recordQuery records database query metrics
func recordQuery(operation string, start time.Time, err error) {
	duration := time.Since(start).Seconds()
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.DBQueryTotal.WithLabelValues(operation, status).Inc()
	metrics.DBQueryDuration.WithLabelValues(operation).Observe(duration)
}

// OpenConnections returns the number of open pool connections.
func (d *Database) OpenConnections() int {
	return d.db.Stats().OpenConnections
}

// diagnoseDatabasePermissions checks database directory and file permissions
func diagnoseDatabasePermissions(dbPath string) error {
	dir := filepath.Dir(dbPath)

	dirInfo, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("cannot stat database directory: %w", err)
	}

	logging.Debug("Database directory: %s (mode: %v)", dir, dirInfo.Mode())

	testFile := filepath.Join(dir, ".perm-test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return fmt.Errorf("database directory not writable: %w", err)
	}
	_ = os.Remove(testFile)
	logging.Debug("Database directory is writable")

	for _, p := range []string{dbPath, dbPath + "-wal", dbPath + "-shm"} {
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		logging.Debug("Database file exists: %s (mode: %v, size: %d bytes)", p, info.Mode(), info.Size())
		if info.Mode().Perm()&0o200 != 0 {
			continue
		}
		logging.Warn("Database file %s is read-only! Mode: %v - this will cause write failures", p, info.Mode())
		if chmodErr := os.Chmod(p, 0o600); chmodErr != nil {
			logging.Error("Failed to fix permissions on %s: %v", p, chmodErr)
		} else {
			logging.Info("Fixed permissions on %s", p)
		}
	}

	return nil
}
