package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jeeves-cluster-organization/ventureflow/coreengine/kernel"
)

// stageFlags are the per-stage options shared by run-stage and run-loop.
type stageFlags struct {
	venture        string
	stage          int
	dryRun         bool
	idempotencyKey string
	chairman       string
}

func (f *stageFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.venture, "venture", "", "venture id")
	cmd.Flags().IntVar(&f.stage, "stage", 0, "stage to run (default: the venture's current stage)")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "evaluate without writing anything")
	cmd.Flags().StringVar(&f.idempotencyKey, "idempotency-key", "", "deduplicate repeated runs")
	cmd.Flags().StringVar(&f.chairman, "chairman", "", "chairman whose preferences apply")
	cmd.Flags().Bool("strict-contracts", false, "fail stages whose upstream contracts are violated")
	_ = cmd.MarkFlagRequired("venture")
}

func (f *stageFlags) stageID() *int {
	if f.stage <= 0 {
		return nil
	}
	id := f.stage
	return &id
}

func (f *stageFlags) options(a *app) kernel.StageOptions {
	auto := a.cfg.Orchestrator.AutoProceed
	return kernel.StageOptions{
		AutoProceed:     &auto,
		DryRun:          f.dryRun,
		IdempotencyKey:  f.idempotencyKey,
		ChairmanID:      f.chairman,
		StrictContracts: a.cfg.Orchestrator.StrictContracts,
	}
}

func newRunStageCmd(a *app) *cobra.Command {
	f := &stageFlags{}
	cmd := &cobra.Command{
		Use:   "run-stage",
		Short: "Run a single venture stage and print the result as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runStage(cmd.Context(), cmd.OutOrStdout(), f)
		},
	}
	f.register(cmd)
	return cmd
}

func (a *app) runStage(ctx context.Context, out io.Writer, f *stageFlags) error {
	eng, err := newEngine(ctx, a.cfg, a.log)
	if err != nil {
		return err
	}
	defer eng.Close(context.Background())

	result := eng.orchestrator.ProcessStage(ctx, kernel.StageRequest{
		VentureID: f.venture,
		StageID:   f.stageID(),
		Options:   f.options(a),
	})
	a.log.Info("Stage run finished",
		zap.String("venture_id", result.VentureID),
		zap.Int("stage_id", result.StageID),
		zap.String("status", string(result.Status)),
	)
	if err := writeJSON(out, result); err != nil {
		return err
	}
	if result.Status == kernel.StatusFailed {
		return fmt.Errorf("stage %d failed", result.StageID)
	}
	return nil
}

func newRunLoopCmd(a *app) *cobra.Command {
	f := &stageFlags{}
	cmd := &cobra.Command{
		Use:   "run-loop",
		Short: "Advance a venture stage by stage until a stop condition",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runLoop(cmd.Context(), cmd.OutOrStdout(), f)
		},
	}
	f.register(cmd)
	cmd.Flags().Int("max-stages", 0, "maximum stages to process (overrides orchestrator.max_stages)")
	cmd.Flags().Bool("wait-for-review", false, "block on chairman review instead of stopping")
	cmd.Flags().Duration("review-timeout", 0, "bound the review wait (overrides orchestrator.review_timeout)")
	return cmd
}

func (a *app) runLoop(ctx context.Context, out io.Writer, f *stageFlags) error {
	eng, err := newEngine(ctx, a.cfg, a.log)
	if err != nil {
		return err
	}
	defer eng.Close(context.Background())

	opts := runOptions(a.cfg.Orchestrator)
	opts.StageID = f.stageID()
	opts.Stage = f.options(a)

	run, err := eng.runner.Run(ctx, f.venture, opts)
	if err != nil {
		return err
	}
	a.log.Info("Venture run finished",
		zap.String("venture_id", run.VentureID),
		zap.Int("stages", len(run.Results)),
		zap.String("stop_reason", string(run.StopReason)),
	)
	return writeJSON(out, run)
}

// writeJSON writes v as indented JSON followed by a newline.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("error encoding JSON: %w", err)
	}
	return nil
}
