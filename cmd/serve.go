package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jeeves-cluster-organization/ventureflow/coreengine/config"
	grpcserver "github.com/jeeves-cluster-organization/ventureflow/coreengine/grpc"
	"github.com/jeeves-cluster-organization/ventureflow/coreengine/kernel"
)

// metricsShutdownTimeout bounds the metrics listener shutdown.
const metricsShutdownTimeout = 5 * time.Second

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the StageService over gRPC with a Prometheus metrics endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}
	cmd.Flags().String("address", "", "gRPC listen address (overrides grpc.address)")
	cmd.Flags().String("metrics-address", "", "metrics listen address (overrides grpc.metrics_address)")
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	eng, err := newEngine(ctx, a.cfg, a.log)
	if err != nil {
		return err
	}
	defer eng.Close(context.Background())

	stage := grpcserver.NewStageServer(eng.kv.Named("grpc"))
	stage.Processor = eng.orchestrator
	stage.Runner = eng.runner
	stage.Gate = eng.gate
	stage.Artifacts = eng.store
	stage.Prober = eng.prober
	stage.Decisions = eng.store
	stage.Defaults = a.cfg.Orchestrator

	server := grpcserver.NewGracefulServer(stage, eng.kv.Named("grpc"), a.cfg.GRPC)

	cleanup := kernel.NewCleanupLoop(kernel.CleanupConfig{
		Interval:          a.cfg.Cleanup.Interval,
		DecisionRetention: a.cfg.Cleanup.DecisionRetention,
	}, eng.store, eng.kv.Named("cleanup"))
	cleanup.AddSweeper("budget_cache", eng.cache)
	stopCleanup := cleanup.Start()
	defer stopCleanup()

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(gCtx)
	})
	if a.cfg.GRPC.MetricsAddress != "" {
		g.Go(func() error {
			return serveMetrics(gCtx, a.cfg.GRPC, a.log)
		})
	}

	a.log.Info("VentureFlow serving",
		zap.String("address", a.cfg.GRPC.Address),
		zap.String("metrics_address", a.cfg.GRPC.MetricsAddress),
	)
	if err := g.Wait(); err != nil {
		return err
	}
	a.log.Info("VentureFlow stopped")
	return nil
}

// serveMetrics exposes /metrics until ctx is cancelled.
func serveMetrics(ctx context.Context, cfg config.GRPCConfig, log *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              cfg.MetricsAddress,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("Metrics server shutdown failed", zap.Error(err))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
