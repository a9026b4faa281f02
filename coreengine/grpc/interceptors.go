// Package grpc exposes the stage orchestrator as the ventureflow.v1.StageService
// gRPC service, together with the interceptors and server lifecycle around it.
package grpc

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/jeeves-cluster-organization/ventureflow/coreengine/observability"
)

// =============================================================================
// LOGGING INTERCEPTOR
// =============================================================================

// LoggingInterceptor logs the duration and result of each unary call.
func LoggingInterceptor(logger Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		start := time.Now()
		logger.Debug("grpc_request_started",
			"method", info.FullMethod,
		)

		resp, err := handler(ctx, req)
		duration := time.Since(start)

		if err != nil {
			st, _ := status.FromError(err)
			logFn := logger.Error
			if isClientError(st.Code()) {
				logFn = logger.Warn
			}
			logFn("grpc_request_failed",
				"method", info.FullMethod,
				"duration_ms", duration.Milliseconds(),
				"code", st.Code().String(),
				"error", err.Error(),
			)
		} else {
			logger.Debug("grpc_request_completed",
				"method", info.FullMethod,
				"duration_ms", duration.Milliseconds(),
			)
		}
		return resp, err
	}
}

// isClientError reports codes caused by the caller rather than the server.
func isClientError(code codes.Code) bool {
	switch code {
	case codes.InvalidArgument, codes.NotFound, codes.OutOfRange,
		codes.FailedPrecondition, codes.ResourceExhausted, codes.Canceled:
		return true
	}
	return false
}

// =============================================================================
// RECOVERY INTERCEPTOR
// =============================================================================

// RecoveryHandler converts a recovered panic value into the RPC error.
type RecoveryHandler func(p any) error

// DefaultRecoveryHandler returns an Internal error with the panic value.
func DefaultRecoveryHandler(p any) error {
	return status.Errorf(codes.Internal, "panic recovered: %v", p)
}

// RecoveryInterceptor turns a handler panic into an error and logs the stack.
func RecoveryInterceptor(logger Logger, handler RecoveryHandler) grpc.UnaryServerInterceptor {
	if handler == nil {
		handler = DefaultRecoveryHandler
	}

	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		grpcHandler grpc.UnaryHandler,
	) (resp any, err error) {
		defer func() {
			if p := recover(); p != nil {
				logger.Error("grpc_panic_recovered",
					"method", info.FullMethod,
					"panic", fmt.Sprintf("%v", p),
					"stack", string(debug.Stack()),
				)
				resp, err = nil, handler(p)
			}
		}()

		return grpcHandler(ctx, req)
	}
}

// =============================================================================
// METRICS INTERCEPTOR
// =============================================================================

// MetricsInterceptor records request counts and durations per method and code.
func MetricsInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		observability.RecordGRPCRequest(info.FullMethod, status.Code(err).String(), int(time.Since(start).Milliseconds()))
		return resp, err
	}
}

// =============================================================================
// RATE LIMIT INTERCEPTOR
// =============================================================================

// RateLimitInterceptor rejects calls with ResourceExhausted once the shared
// token bucket is empty. Health checks are never limited.
func RateLimitInterceptor(limiter *rate.Limiter) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		if limiter != nil && !isHealthMethod(info.FullMethod) && !limiter.Allow() {
			return nil, ResourceExhausted("request rate", fmt.Sprintf("%.0f/s", float64(limiter.Limit())))
		}
		return handler(ctx, req)
	}
}

func isHealthMethod(method string) bool {
	return strings.HasPrefix(method, "/"+healthpb.Health_ServiceDesc.ServiceName+"/")
}

// =============================================================================
// SERVER OPTIONS BUILDER
// =============================================================================

// ServerOptions returns the standard interceptor chain: recovery outermost so
// it also covers the other interceptors, then metrics, logging and the rate
// limit. limiter may be nil.
func ServerOptions(logger Logger, limiter *rate.Limiter) []grpc.ServerOption {
	return []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			RecoveryInterceptor(logger, nil),
			MetricsInterceptor(),
			LoggingInterceptor(logger),
			RateLimitInterceptor(limiter),
		),
	}
}
