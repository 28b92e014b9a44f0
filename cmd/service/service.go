// Package service implements the long-running service command: periodic
// sweeps and quota queue drains plus a Prometheus metrics endpoint.
package service

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/storyboard/enrich-go/internal/conf"
	"github.com/storyboard/enrich-go/internal/logging"
	"github.com/storyboard/enrich-go/internal/pipeline"
)

// Command creates the service command.
func Command(settings *conf.Settings) *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "service",
		Short: "Run sweeps and quota drains on a schedule until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runService(cmd.Context(), settings, metricsAddr)
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Address for the Prometheus metrics endpoint (empty disables it)")
	return cmd
}

func runService(ctx context.Context, settings *conf.Settings, metricsAddr string) error {
	p, err := pipeline.New(settings)
	if err != nil {
		return err
	}
	defer p.Close()

	log := logging.ForService("service")

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var metricsServer *http.Server
	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(p.Registry, promhttp.HandlerOpts{}))
		metricsServer = &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			log.Info("metrics endpoint listening", "addr", metricsAddr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server failed", "error", err)
			}
		}()
	}

	sweepInterval := settings.Pipeline.SweepInterval
	if sweepInterval <= 0 {
		sweepInterval = 5 * time.Minute
	}
	drainInterval := settings.Pipeline.DrainInterval
	if drainInterval <= 0 {
		drainInterval = 15 * time.Minute
	}

	sweepTicker := time.NewTicker(sweepInterval)
	defer sweepTicker.Stop()
	drainTicker := time.NewTicker(drainInterval)
	defer drainTicker.Stop()

	log.Info("service started",
		"sweep_interval", sweepInterval,
		"drain_interval", drainInterval)

	// First sweep immediately; the tickers take over from there.
	if _, err := p.Orchestrator.RunSweep(ctx); err != nil {
		log.Error("sweep failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			log.Info("shutting down")
			if metricsServer != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				_ = metricsServer.Shutdown(shutdownCtx)
				cancel()
			}
			return nil
		case <-sweepTicker.C:
			if _, err := p.Orchestrator.RunSweep(ctx); err != nil {
				log.Error("sweep failed", "error", err)
			}
		case <-drainTicker.C:
			if _, err := p.Orchestrator.DrainQuotaQueue(ctx); err != nil {
				log.Error("quota drain failed", "error", err)
			}
		}
	}
}
