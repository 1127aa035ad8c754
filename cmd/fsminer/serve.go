package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"fsminer/internal/handlers"
	"fsminer/internal/logging"
	"fsminer/internal/memory"
	"fsminer/internal/metrics"
	"fsminer/internal/miner"
	"fsminer/internal/startup"
)

const (
	shutdownTimeout = 30 * time.Second
	statsInterval   = time.Minute
)

func newServeCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve [root...]",
		Short: "Run the miner with the control API and metrics server",
		Long: `Run the miner until interrupted. Roots come from the arguments or
MINER_ROOTS; prefix a root with ! to index only its top level. Roots can
also be added and removed at runtime through the control API.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts, args)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}
	addMinerFlags(cmd, opts)
	cmd.Flags().StringVar(&opts.ctrlPort, "port", "", "Control API port (overrides CONTROL_PORT)")
	cmd.Flags().BoolVar(&opts.metricsOn, "metrics", true, "Serve Prometheus metrics (overrides METRICS_ENABLED)")
	return cmd
}

func runServe(ctx context.Context, cfg *startup.Config) error {
	startTime := time.Now()

	startup.LogMemoryConfig(memory.ConfigureFromEnv())

	a, err := newApp(ctx, cfg, true)
	if err != nil {
		return err
	}

	startup.LogMinerInit(cfg)
	if err := a.engine.Start(ctx); err != nil {
		return errors.Join(err, a.close())
	}
	if err := a.addRoots(); err != nil {
		logging.Warn("Some roots could not be added: %v", err)
	}
	startup.LogMinerStarted()

	memMonitor := memory.NewMonitor(memory.DefaultConfig(), a.engine.Controller().SetPressure)
	memMonitor.Start()

	collector := metrics.NewCollector(metrics.StatsProviderFunc(a.collectStats), statsInterval)
	collector.Start()

	hub := handlers.NewHub(handlers.DefaultSubscriberBuffer)
	h := handlers.New(a.engine, a.db, hub)

	router := setupRouter(h)
	startup.LogHTTPRoutes(router, cfg.LogHealthChecks)

	controlSrv := &http.Server{
		Addr:              ":" + cfg.ControlPort,
		Handler:           wrapHandler(router, cfg.LogHealthChecks),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	var metricsSrv *http.Server
	if cfg.MetricsEnabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", h.MetricsHandler())
		metricsSrv = &http.Server{
			Addr:              ":" + cfg.MetricsPort,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	g, gCtx := errgroup.WithContext(ctx)

	// Notification pump: record completions, log failures, fan out to
	// websocket subscribers. Ends when Stop closes the stream.
	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		pumpNotifications(context.WithoutCancel(ctx), a, hub)
	}()

	g.Go(func() error {
		if err := controlSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if metricsSrv != nil {
		g.Go(func() error {
			if err := metricsSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gCtx.Done()

		reason := "server error"
		if ctx.Err() != nil {
			reason = "signal"
		}
		startup.LogShutdownInitiated(reason)

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		startup.LogShutdownStep("Shutting down HTTP servers")
		hub.Close()
		var errs []error
		if err := controlSrv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		if metricsSrv != nil {
			if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, err)
			}
		}
		startup.LogShutdownStepComplete("HTTP servers stopped")

		startup.LogShutdownStep("Stopping background monitors")
		memMonitor.Stop()
		collector.Stop()

		startup.LogShutdownStep("Stopping miner")
		if err := a.close(); err != nil {
			errs = append(errs, err)
		}
		<-pumpDone
		startup.LogShutdownStepComplete("Miner stopped")

		return errors.Join(errs...)
	})

	startup.LogServerStarted(startup.ServerConfig{
		ControlPort:     cfg.ControlPort,
		MetricsPort:     cfg.MetricsPort,
		MetricsEnabled:  cfg.MetricsEnabled,
		StartupDuration: time.Since(startTime),
	})

	err = g.Wait()
	startup.LogShutdownComplete()
	if err != nil {
		logging.Error("Shutdown finished with errors: %v", err)
	}
	return err
}

// pumpNotifications drains the engine's notification stream until it closes.
func pumpNotifications(ctx context.Context, a *app, hub *handlers.Hub) {
	for n := range a.engine.Notifications() {
		switch n.Kind {
		case miner.NotifyFinished:
			logging.Info("Crawl of %s finished (%d items)", n.Root, n.Progress.Crawled)
			a.recordFinished(ctx, n)
		case miner.NotifyError:
			logging.Debug("Miner error: %s", n)
		}
		hub.Publish(n)
	}
}
