package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"fsminer/internal/logging"
	"fsminer/internal/miner"
	"fsminer/internal/startup"
)

// ErrCrawlTimeout is returned when roots do not finish within --timeout.
var ErrCrawlTimeout = errors.New("crawl did not finish in time")

func newCrawlCmd(opts *options) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "crawl [root...]",
		Short: "Index the given roots once and exit",
		Long: `Crawl every root once, commit the results and exit when all roots have
finished. Stale entries left from earlier runs are retracted. No change
monitoring is set up.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts, args)
			if err != nil {
				return err
			}
			if len(cfg.Roots) == 0 {
				return fmt.Errorf("no roots given; pass them as arguments or set MINER_ROOTS")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeoutCause(ctx, timeout, ErrCrawlTimeout)
				defer cancel()
			}

			summary, err := runCrawl(ctx, cfg)
			fmt.Fprintln(cmd.OutOrStdout(), summary)
			return err
		},
	}
	addMinerFlags(cmd, opts)
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Give up after this long (0 waits forever)")
	return cmd
}

// crawlSummary reports the outcome of a one-shot crawl.
type crawlSummary struct {
	Roots    int
	Finished int
	Items    int
	Errors   int
	Files    int
	Dirs     int
	Duration time.Duration
}

func (s crawlSummary) String() string {
	return fmt.Sprintf("crawled %d/%d roots: %d items, %d errors, %d files and %d directories indexed in %v",
		s.Finished, s.Roots, s.Items, s.Errors, s.Files, s.Dirs, s.Duration.Round(time.Millisecond))
}

// runCrawl crawls every configured root once and waits for each to finish.
func runCrawl(ctx context.Context, cfg *startup.Config) (summary crawlSummary, err error) {
	start := time.Now()
	a, err := newApp(ctx, cfg, false)
	if err != nil {
		return summary, err
	}
	defer func() {
		closeErr := a.engine.Stop()
		if stats, statErr := a.db.CalculateStats(context.WithoutCancel(ctx)); statErr == nil {
			summary.Files, summary.Dirs = stats.Files, stats.Directories
		}
		summary.Duration = time.Since(start)
		err = errors.Join(err, closeErr, a.db.Close())
	}()

	if err := a.engine.Start(ctx); err != nil {
		return summary, err
	}
	if err := a.addRoots(); err != nil {
		return summary, err
	}

	pending := make(map[string]bool)
	for _, r := range a.engine.Roots() {
		pending[r.Path] = true
	}
	summary.Roots = len(pending)

	for len(pending) > 0 {
		select {
		case <-ctx.Done():
			return summary, context.Cause(ctx)
		case n, ok := <-a.engine.Notifications():
			if !ok {
				return summary, miner.ErrShuttingDown
			}
			switch n.Kind {
			case miner.NotifyFinished:
				if pending[n.Root] {
					delete(pending, n.Root)
					summary.Finished++
					summary.Items += n.Progress.Crawled
					a.recordFinished(ctx, n)
					logging.Info("Finished %s (%d items)", n.Root, n.Progress.Crawled)
				}
			case miner.NotifyError:
				summary.Errors++
				logging.Warn("%s", n)
			}
		}
	}
	return summary, nil
}
