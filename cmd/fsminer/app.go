package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"fsminer/internal/database"
	"fsminer/internal/extract"
	"fsminer/internal/filesystem"
	"fsminer/internal/ioprio"
	"fsminer/internal/logging"
	"fsminer/internal/metrics"
	"fsminer/internal/miner"
	"fsminer/internal/monitor"
	"fsminer/internal/startup"
	"fsminer/internal/throttle"
)

// app wires the engine to its collaborators.
type app struct {
	cfg     *startup.Config
	db      *database.Database
	engine  *miner.Engine
	monitor *monitor.Monitor
}

// newApp opens the store and builds an engine with a live event source.
// withEvents false builds an engine without inotify, used by crawl.
func newApp(ctx context.Context, cfg *startup.Config, withEvents bool) (*app, error) {
	resolver, labels := volumeResolver(cfg)
	metrics.InitializeMetrics(labels...)
	metrics.SetAppInfo(startup.Version, startup.Commit, startup.GoVersion)
	filesystem.SetObserver(metrics.NewFilesystemObserver())
	filesystem.SetDefaultVolumeResolver(resolver)

	if cfg.LowerIOPriority {
		if err := ioprio.Lower(); err != nil {
			logging.Warn("Failed to lower IO priority: %v", err)
		} else if ioprio.Supported {
			logging.Info("IO priority lowered to %s", ioprio.Priority{Class: ioprio.ClassBestEffort, Level: ioprio.LowestLevel})
		}
	}

	dbStart := time.Now()
	db, err := database.New(ctx, database.Options{
		Driver: cfg.DatabaseDriver,
		DSN:    cfg.DatabaseDSN,
		Path:   cfg.DatabasePath,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	startup.LogDatabaseInit(db.Driver(), time.Since(dbStart))

	retry := filesystem.DefaultRetryConfig()
	xcfg := extract.DefaultConfig()
	xcfg.Retry = retry
	extractor, err := extract.New(xcfg)
	if err != nil {
		return nil, errors.Join(err, db.Close())
	}

	policy := extract.NewPolicy(extract.PolicyConfig{IgnoreNames: cfg.IgnoreDirs})

	engine := miner.New(policy, extractor, db, miner.Config{
		Throttle: throttle.Config{
			MaxConcurrency: cfg.MaxWorkers,
			MaxDelay:       cfg.MaxDelay,
		},
		ExtractTimeout:  cfg.ExtractTimeout,
		CommitBatchSize: cfg.CommitBatchSize,
		CommitInterval:  cfg.CommitInterval,
		Retry:           retry,
	})
	engine.SetObserver(metrics.NewMinerObserver())
	engine.SetThrottle(cfg.Throttle)

	a := &app{cfg: cfg, db: db, engine: engine}
	if withEvents {
		mon, err := monitor.New(monitor.DefaultConfig())
		if err != nil {
			return nil, errors.Join(fmt.Errorf("failed to create change monitor: %w", err), db.Close())
		}
		engine.SetEventSource(mon)
		a.monitor = mon
	}
	return a, nil
}

// addRoots registers every configured root. Covered roots are skipped.
func (a *app) addRoots() error {
	var errs []error
	for _, r := range a.cfg.Roots {
		err := a.engine.AddDirectory(r.Path, r.Recursive)
		if err != nil && !errors.Is(err, miner.ErrOverlap) {
			errs = append(errs, fmt.Errorf("root %s: %w", r.Path, err))
		}
	}
	return errors.Join(errs...)
}

// recordFinished stores the crawl completion time of a root.
func (a *app) recordFinished(ctx context.Context, n miner.Notification) {
	if err := a.db.SetLastCrawl(ctx, n.Root, n.Time); err != nil {
		logging.Warn("Failed to record crawl completion for %s: %v", n.Root, err)
	}
	if _, err := a.db.CalculateStats(ctx); err != nil {
		logging.Warn("Failed to update stats: %v", err)
	}
}

// collectStats counts the index for the metrics collector. It also
// refreshes the cached counts served by /api/stats.
func (a *app) collectStats(ctx context.Context) (metrics.Stats, error) {
	idx, err := a.db.CalculateStats(ctx)
	if err != nil {
		return metrics.Stats{}, err
	}
	return metrics.Stats{
		Files:           idx.Files,
		Directories:     idx.Directories,
		Roots:           len(a.engine.Roots()),
		OpenConnections: a.db.OpenConnections(),
	}, nil
}

// close stops the engine (which closes the monitor) and the database.
func (a *app) close() error {
	return errors.Join(a.engine.Stop(), a.db.Close())
}

// volumeResolver labels filesystem metrics by root base name. Roots that
// share a base name share a label.
func volumeResolver(cfg *startup.Config) (*filesystem.VolumeResolver, []string) {
	volumes := make(map[string]string, len(cfg.Roots)+1)
	labels := make([]string, 0, len(cfg.Roots))
	for _, r := range cfg.Roots {
		label := rootLabel(r.Path)
		if _, dup := volumes[label]; !dup {
			labels = append(labels, label)
		}
		volumes[label] = r.Path
	}
	if cfg.DatabaseDir != "" {
		volumes["database"] = cfg.DatabaseDir
	}
	return filesystem.NewVolumeResolver(volumes), labels
}

func rootLabel(path string) string {
	base := filepath.Base(path)
	if base == "/" || base == "." || base == "database" || base == "unknown" {
		return "root:" + path
	}
	return base
}
