package grpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/jeeves-cluster-organization/ventureflow/coreengine/config"
)

// Logger interface for the server.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// DefaultShutdownGrace bounds GracefulStop when the config leaves it unset.
const DefaultShutdownGrace = 15 * time.Second

// =============================================================================
// Graceful Server
// =============================================================================

// GracefulServer serves StageService and the standard health service, and
// shuts down cleanly when its context is cancelled.
type GracefulServer struct {
	grpcServer *grpc.Server
	health     *health.Server
	logger     Logger
	address    string
	grace      time.Duration

	shutdownMu sync.Mutex
	isShutdown bool
}

// NewGracefulServer creates a server for stage. Without opts the standard
// interceptor chain is installed, rate limited per cfg.
func NewGracefulServer(stage StageServiceServer, logger Logger, cfg config.GRPCConfig, opts ...grpc.ServerOption) *GracefulServer {
	if len(opts) == 0 {
		var limiter *rate.Limiter
		if cfg.RateLimit > 0 {
			burst := cfg.RateBurst
			if burst <= 0 {
				burst = int(cfg.RateLimit) + 1
			}
			limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
		}
		opts = ServerOptions(logger, limiter)
	}
	opts = append(opts, grpc.StatsHandler(otelgrpc.NewServerHandler()))

	grpcServer := grpc.NewServer(opts...)
	RegisterStageServiceServer(grpcServer, stage)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, hs)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	grace := cfg.ShutdownGrace
	if grace <= 0 {
		grace = DefaultShutdownGrace
	}
	return &GracefulServer{
		grpcServer: grpcServer,
		health:     hs,
		logger:     logger,
		address:    cfg.Address,
		grace:      grace,
	}
}

// Start listens on the configured address and blocks until ctx is cancelled
// or the server fails.
func (s *GracefulServer) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(ctx, lis)
}

// Serve serves on lis until ctx is cancelled, then drains in-flight calls
// for at most the shutdown grace. A shutdown triggered by ctx returns nil.
func (s *GracefulServer) Serve(ctx context.Context, lis net.Listener) error {
	s.logger.Info("grpc_server_started",
		"address", lis.Addr().String(),
	)

	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.grpcServer.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("grpc_graceful_shutdown_initiated",
			"reason", ctx.Err().Error(),
		)
		s.ShutdownWithTimeout(s.grace)
		<-errCh
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}
}

// GracefulStop marks the server NOT_SERVING, stops accepting connections and
// waits for in-flight calls.
func (s *GracefulServer) GracefulStop() {
	if !s.markShutdown() {
		return
	}
	s.logger.Info("grpc_graceful_stop_started")
	s.grpcServer.GracefulStop()
	s.logger.Info("grpc_graceful_stop_completed")
}

// Stop closes every connection immediately.
func (s *GracefulServer) Stop() {
	if !s.markShutdown() {
		return
	}
	s.logger.Warn("grpc_immediate_stop")
	s.grpcServer.Stop()
}

// ShutdownWithTimeout stops gracefully, forcing Stop after timeout.
func (s *GracefulServer) ShutdownWithTimeout(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		s.logger.Warn("grpc_graceful_shutdown_timeout",
			"timeout_ms", timeout.Milliseconds(),
		)
		s.grpcServer.Stop()
		<-done
	}
}

func (s *GracefulServer) markShutdown() bool {
	s.shutdownMu.Lock()
	defer s.shutdownMu.Unlock()
	if s.isShutdown {
		return false
	}
	s.isShutdown = true
	s.health.Shutdown()
	return true
}

// GetGRPCServer returns the underlying grpc.Server.
func (s *GracefulServer) GetGRPCServer() *grpc.Server {
	return s.grpcServer
}

// Address returns the configured listen address.
func (s *GracefulServer) Address() string {
	return s.address
}
