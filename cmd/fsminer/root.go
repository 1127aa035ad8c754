package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"fsminer/internal/logging"
	"fsminer/internal/startup"
)

// options holds flags shared by serve and crawl. Flags that were set on
// the command line override the environment.
type options struct {
	envFiles  []string
	logLevel  string
	roots     []string
	throttle  float64
	workers   int
	dbDriver  string
	dbDSN     string
	noBanner  bool
	noIOPrio  bool
	ignore    []string
	ctrlPort  string
	metricsOn bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "fsminer",
		Short: "Incremental filesystem indexing miner",
		Long: `fsminer crawls a set of root directories, follows live changes through
inotify, extracts metadata from relevant files under a user controlled
throttle and commits the results to SQLite or PostgreSQL.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := startup.LoadEnvFiles(opts.envFiles...); err != nil {
				return err
			}
			if opts.logLevel != "" {
				level, ok := logging.ParseLevel(opts.logLevel)
				if !ok {
					return fmt.Errorf("invalid log level %q", opts.logLevel)
				}
				logging.SetLevel(level)
			}
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringSliceVar(&opts.envFiles, "env-file", nil, "Environment files to load (default .env)")
	pf.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides LOG_LEVEL)")
	pf.BoolVar(&opts.noBanner, "no-banner", false, "Do not print the startup banner")

	root.AddCommand(newServeCmd(opts), newCrawlCmd(opts), newVersionCmd())
	return root
}

// addMinerFlags registers the flags that tune the engine.
func addMinerFlags(cmd *cobra.Command, opts *options) {
	f := cmd.Flags()
	f.Float64Var(&opts.throttle, "throttle", 0, "Throttle 0.0-1.0 (overrides MINER_THROTTLE)")
	f.IntVar(&opts.workers, "workers", 0, "Concurrent extractions (overrides MINER_MAX_WORKERS)")
	f.StringVar(&opts.dbDriver, "db-driver", "", "Database driver: sqlite3 or pgx (overrides DATABASE_DRIVER)")
	f.StringVar(&opts.dbDSN, "db-dsn", "", "Database connection string (overrides DATABASE_DSN)")
	f.StringSliceVar(&opts.ignore, "ignore", nil, "Directory names to skip (overrides IGNORE_DIRS)")
	f.BoolVar(&opts.noIOPrio, "no-ioprio", false, "Keep the default IO priority")
}

// loadConfig reads the environment and applies explicitly set flags.
func loadConfig(cmd *cobra.Command, opts *options, args []string) (*startup.Config, error) {
	if !opts.noBanner && term.IsTerminal(int(os.Stdout.Fd())) {
		startup.PrintBanner()
	}

	cfg, err := startup.LoadConfig()
	if err != nil {
		return nil, err
	}

	f := cmd.Flags()
	if len(args) > 0 {
		roots, err := startup.ParseRoots(strings.Join(args, ","))
		if err != nil {
			return nil, err
		}
		cfg.Roots = roots
	}
	if f.Changed("throttle") {
		if opts.throttle < 0 || opts.throttle > 1 {
			return nil, fmt.Errorf("--throttle must be between 0 and 1, got %v", opts.throttle)
		}
		cfg.Throttle = opts.throttle
	}
	if f.Changed("workers") {
		if opts.workers < 1 {
			return nil, fmt.Errorf("--workers must be at least 1, got %d", opts.workers)
		}
		cfg.MaxWorkers = opts.workers
	}
	if f.Changed("db-driver") {
		cfg.DatabaseDriver = opts.dbDriver
	}
	if f.Changed("db-dsn") {
		cfg.DatabaseDSN = opts.dbDSN
	}
	if f.Changed("ignore") {
		cfg.IgnoreDirs = opts.ignore
	}
	if opts.noIOPrio {
		cfg.LowerIOPriority = false
	}
	if f.Lookup("port") != nil && f.Changed("port") {
		cfg.ControlPort = opts.ctrlPort
	}
	if f.Lookup("metrics") != nil && f.Changed("metrics") {
		cfg.MetricsEnabled = opts.metricsOn
	}
	return cfg, nil
}
