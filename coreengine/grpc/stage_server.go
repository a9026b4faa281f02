package grpc

import (
	"context"
	"errors"
	"time"

	"google.golang.org/grpc/status"

	"github.com/jeeves-cluster-organization/ventureflow/coreengine/config"
	"github.com/jeeves-cluster-organization/ventureflow/coreengine/filter"
	"github.com/jeeves-cluster-organization/ventureflow/coreengine/kernel"
	"github.com/jeeves-cluster-organization/ventureflow/coreengine/observability"
	"github.com/jeeves-cluster-organization/ventureflow/coreengine/realitygate"
	"github.com/jeeves-cluster-organization/ventureflow/coreengine/runtime"
)

// StageServer implements StageServiceServer on top of the orchestrator.
// Backends left nil make the methods that need them return Unavailable.
type StageServer struct {
	Processor runtime.StageProcessor
	Runner    *runtime.VentureRunner
	Gate      *realitygate.Evaluator
	Artifacts realitygate.ArtifactReader
	Prober    realitygate.Prober
	Decisions kernel.DecisionStore

	// Defaults fill run options the request leaves unset.
	Defaults config.OrchestratorConfig

	logger Logger
}

var _ StageServiceServer = (*StageServer)(nil)

// NewStageServer creates a server with the default orchestrator options.
func NewStageServer(logger Logger) *StageServer {
	return &StageServer{
		Defaults: config.NewDefaultConfig().Orchestrator,
		logger:   logger,
	}
}

// =============================================================================
// Stage Processing
// =============================================================================

// ProcessStage runs one stage. Stage failures are reported in the result,
// not as RPC errors.
func (s *StageServer) ProcessStage(ctx context.Context, req *kernel.StageRequest) (*kernel.StageResult, error) {
	if err := validateRequired(req.VentureID, "venture_id"); err != nil {
		return nil, err
	}
	if req.StageID != nil && *req.StageID < 1 {
		return nil, OutOfRange("stage_id", *req.StageID)
	}
	if s.Processor == nil {
		return nil, Unavailable("stage processor")
	}
	if !req.Options.StrictContracts {
		req.Options.StrictContracts = s.Defaults.StrictContracts
	}

	result := s.Processor.ProcessStage(ctx, *req)
	s.logger.Debug("stage_processed",
		"venture_id", req.VentureID,
		"stage", result.StageID,
		"status", string(result.Status),
	)
	return result, nil
}

// RunVenture advances a venture until a stop condition. Cancellation of the
// call surfaces as Canceled or DeadlineExceeded.
func (s *StageServer) RunVenture(ctx context.Context, req *RunVentureRequest) (*runtime.RunResult, error) {
	if err := validateRequired(req.VentureID, "venture_id"); err != nil {
		return nil, err
	}
	if req.MaxStages < 0 {
		return nil, OutOfRange("max_stages", req.MaxStages)
	}
	if s.Runner == nil {
		return nil, Unavailable("venture runner")
	}

	opts := runtime.RunOptions{
		MaxStages:     req.MaxStages,
		StageID:       req.StageID,
		Stage:         req.Options,
		WaitForReview: req.WaitForReview || s.Defaults.WaitForReview,
		ReviewTimeout: s.Defaults.ReviewTimeout,
		PollInterval:  s.Defaults.ReviewPollInterval,
	}
	if opts.MaxStages == 0 {
		opts.MaxStages = s.Defaults.MaxStages
	}
	if req.ReviewTimeoutMs > 0 {
		opts.ReviewTimeout = time.Duration(req.ReviewTimeoutMs) * time.Millisecond
	}
	if opts.Stage.AutoProceed == nil {
		auto := s.Defaults.AutoProceed
		opts.Stage.AutoProceed = &auto
	}
	opts.Stage.StrictContracts = opts.Stage.StrictContracts || s.Defaults.StrictContracts

	result, err := s.Runner.Run(ctx, req.VentureID, opts)
	if err != nil {
		return nil, status.FromContextError(err).Err()
	}
	return result, nil
}

// =============================================================================
// Standalone Evaluations
// =============================================================================

// EvaluateFilter evaluates a raw stage payload against the given preferences.
func (s *StageServer) EvaluateFilter(_ context.Context, req *EvaluateFilterRequest) (*filter.Decision, error) {
	if req.StageOutput == nil {
		return nil, InvalidArgument("stage_output")
	}
	decision := filter.Evaluate(filter.FromPayload(req.StageOutput), filter.Options{
		Preferences: req.Preferences,
		Logger:      s.logger,
	})
	observability.RecordFilterDecision(string(decision.Action))
	return &decision, nil
}

// EvaluateRealityGate evaluates one boundary against the venture's current
// artifacts.
func (s *StageServer) EvaluateRealityGate(ctx context.Context, req *EvaluateRealityGateRequest) (*realitygate.Result, error) {
	if err := validateRequired(req.VentureID, "venture_id"); err != nil {
		return nil, err
	}
	if req.FromStage < 1 {
		return nil, OutOfRange("from_stage", req.FromStage)
	}
	to := req.ToStage
	if to == 0 {
		to = req.FromStage + 1
	}
	if to <= req.FromStage {
		return nil, OutOfRange("to_stage", to)
	}
	if s.Gate == nil || s.Artifacts == nil {
		return nil, Unavailable("reality gate")
	}

	result := s.Gate.Evaluate(ctx, realitygate.Request{
		VentureID: req.VentureID,
		FromStage: req.FromStage,
		ToStage:   to,
		Reader:    s.Artifacts,
		Prober:    s.Prober,
	})
	return &result, nil
}

// =============================================================================
// Chairman Decisions
// =============================================================================

// ResolveDecision approves, rejects or cancels a pending decision.
func (s *StageServer) ResolveDecision(ctx context.Context, req *ResolveDecisionRequest) (*kernel.Decision, error) {
	if err := validateRequired(req.DecisionID, "decision_id"); err != nil {
		return nil, err
	}
	target := kernel.DecisionStatus(req.Status)
	switch target {
	case kernel.DecisionApproved, kernel.DecisionRejected, kernel.DecisionCancelled:
	default:
		return nil, InvalidValue("status", req.Status)
	}
	if s.Decisions == nil {
		return nil, Unavailable("decision store")
	}

	d, err := s.Decisions.ResolveDecision(ctx, req.DecisionID, target, req.ResolvedBy, req.Notes)
	switch {
	case errors.Is(err, kernel.ErrDecisionNotFound):
		return nil, NotFound("decision", req.DecisionID)
	case errors.Is(err, kernel.ErrDecisionNotPending):
		return nil, FailedPrecondition("decision "+req.DecisionID, "resolved", "be resolved again")
	case err != nil:
		return nil, Internal("resolve decision", err)
	}
	return d, nil
}
