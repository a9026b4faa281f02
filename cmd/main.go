// VentureFlow Stage Orchestrator
//
// Runs venture lifecycle stages: analysis steps, the decision filter, the
// stage and reality gates, and the chairman review loop.
//
// Usage:
//
//	ventureflow serve                              # gRPC StageService on :50051
//	ventureflow run-stage --venture v1 --stage 3   # one stage, result as JSON
//	ventureflow run-loop --venture v1              # advance until a stop condition
//	ventureflow filter < stage_output.json         # evaluate the decision filter
//	ventureflow migrate                            # create the database schema
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
