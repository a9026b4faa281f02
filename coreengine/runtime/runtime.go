// Package runtime provides the VentureRunner, the bounded loop that drives a
// venture through consecutive stages.
package runtime

import (
	"context"
	"errors"
	"time"

	"github.com/jeeves-cluster-organization/ventureflow/commbus"
	"github.com/jeeves-cluster-organization/ventureflow/coreengine/filter"
	"github.com/jeeves-cluster-organization/ventureflow/coreengine/kernel"
	"github.com/jeeves-cluster-organization/ventureflow/coreengine/observability"
)

const (
	// DefaultMaxStages bounds one run.
	DefaultMaxStages = 25
	// DefaultPollInterval is how often a pending decision is re-read.
	DefaultPollInterval = 2 * time.Second
)

// StopReason says why a run ended.
type StopReason string

const (
	StopFailed         StopReason = "failed"
	StopBlocked        StopReason = "blocked"
	StopFilter         StopReason = "filter_stop"
	StopReviewRequired StopReason = "review_required"
	StopReviewRejected StopReason = "review_rejected"
	StopReviewTimeout  StopReason = "review_timeout"
	StopNoNextStage    StopReason = "no_next_stage"
	StopMaxStages      StopReason = "max_stages"
	StopCancelled      StopReason = "cancelled"
)

// RunOptions configures one run.
type RunOptions struct {
	// MaxStages bounds the number of ProcessStage calls. Default: 25.
	MaxStages int

	// StageID is the first stage to run. Nil uses the venture's pointer.
	StageID *int

	// Stage is passed to every ProcessStage call. The idempotency key only
	// applies to the first call.
	Stage kernel.StageOptions

	// WaitForReview blocks on REQUIRE_REVIEW until the decision is resolved.
	WaitForReview bool

	// ReviewTimeout bounds the wait. Zero waits until ctx is done.
	ReviewTimeout time.Duration

	// PollInterval is the decision re-read period. Default: 2s.
	PollInterval time.Duration
}

// RunResult is the outcome of a run.
type RunResult struct {
	VentureID  string                `json:"ventureId"`
	Results    []*kernel.StageResult `json:"results"`
	StopReason StopReason            `json:"stopReason"`
	DecisionID string                `json:"decisionId,omitempty"`
}

// Last returns the final stage result, or nil when nothing ran.
func (r *RunResult) Last() *kernel.StageResult {
	if len(r.Results) == 0 {
		return nil
	}
	return r.Results[len(r.Results)-1]
}

// StageProcessor runs one stage. *kernel.Orchestrator implements it.
type StageProcessor interface {
	ProcessStage(ctx context.Context, req kernel.StageRequest) *kernel.StageResult
}

// VentureRunner repeatedly processes stages of one venture until a stop
// condition is reached.
type VentureRunner struct {
	Processor StageProcessor
	Decisions kernel.DecisionStore
	Pointer   kernel.StagePointer
	Telemetry kernel.Telemetry
	Logger    kernel.Logger

	now func() time.Time
}

// NewVentureRunner creates a VentureRunner. decisions may be nil, in which
// case a REQUIRE_REVIEW result simply ends the run.
func NewVentureRunner(processor StageProcessor, decisions kernel.DecisionStore, logger kernel.Logger) *VentureRunner {
	return &VentureRunner{
		Processor: processor,
		Decisions: decisions,
		Logger:    logger,
		now:       time.Now,
	}
}

// Run processes stages of ventureID in order. It returns an error only when
// ctx is cancelled; the partial result is returned with it.
func (r *VentureRunner) Run(ctx context.Context, ventureID string, opts RunOptions) (*RunResult, error) {
	if opts.MaxStages <= 0 {
		opts.MaxStages = DefaultMaxStages
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}

	run := &RunResult{VentureID: ventureID, Results: []*kernel.StageResult{}, StopReason: StopMaxStages}
	startTime := r.clock()
	r.info("venture_run_started",
		"venture_id", ventureID,
		"max_stages", opts.MaxStages,
		"wait_for_review", opts.WaitForReview,
	)

	stageOpts := opts.Stage
	next := opts.StageID
	var runErr error

loop:
	for i := 0; i < opts.MaxStages; i++ {
		if err := ctx.Err(); err != nil {
			run.StopReason, runErr = StopCancelled, err
			break
		}

		res := r.Processor.ProcessStage(ctx, kernel.StageRequest{VentureID: ventureID, StageID: next, Options: stageOpts})
		run.Results = append(run.Results, res)
		stageOpts.IdempotencyKey = ""

		switch res.Status {
		case kernel.StatusFailed:
			run.StopReason = StopFailed
			break loop
		case kernel.StatusBlocked:
			run.StopReason = StopBlocked
			break loop
		}

		switch res.Action() {
		case filter.ActionStop:
			run.StopReason = StopFilter
			break loop
		case filter.ActionRequireReview:
			reason, resume, err := r.review(ctx, run, res, opts)
			if !resume {
				run.StopReason, runErr = reason, err
				break loop
			}
			n := res.StageID + 1
			next = &n
			continue
		}

		if res.NextStageID == nil {
			run.StopReason = StopNoNextStage
			break
		}
		n := *res.NextStageID
		next = &n
	}

	observability.RecordVentureRun(string(run.StopReason))
	r.info("venture_run_completed",
		"venture_id", ventureID,
		"stages_processed", len(run.Results),
		"stop_reason", string(run.StopReason),
		"duration_ms", r.clock().Sub(startTime).Milliseconds(),
	)
	return run, runErr
}

// review raises a chairman decision for res and, when asked to, waits for
// it. It reports whether the run continues.
func (r *VentureRunner) review(ctx context.Context, run *RunResult, res *kernel.StageResult, opts RunOptions) (StopReason, bool, error) {
	if r.Decisions == nil {
		r.warn("decision_store_unavailable", "venture_id", res.VentureID, "stage", res.StageID)
		return StopReviewRequired, false, nil
	}

	fd := res.FilterDecision
	summary := "Review required: filter trigger"
	if len(fd.Reasons) > 0 {
		summary = "Review required: " + fd.Reasons[0]
	}
	d, reused, err := r.Decisions.CreateOrReusePending(ctx, kernel.Decision{
		VentureID:   res.VentureID,
		StageNumber: res.StageID,
		Summary:     summary,
		BriefData: map[string]any{
			"reasons":        fd.Reasons,
			"recommendation": fd.Recommendation,
		},
	})
	if err != nil {
		r.warn("decision_create_failed", "venture_id", res.VentureID, "stage", res.StageID, "error", err.Error())
		return StopReviewRequired, false, nil
	}

	run.DecisionID = d.ID
	r.info("decision_requested",
		"venture_id", res.VentureID,
		"stage", res.StageID,
		"decision_id", d.ID,
		"reused", reused,
	)
	if !reused && r.Telemetry != nil {
		r.Telemetry.Emit(&commbus.DecisionRequested{
			DecisionID: d.ID,
			VentureID:  res.VentureID,
			Stage:      res.StageID,
			Summary:    summary,
			Timestamp:  r.clock().UTC(),
		})
	}

	if !opts.WaitForReview {
		return StopReviewRequired, false, nil
	}

	status, err := r.waitForDecision(ctx, d.ID, opts)
	if err != nil {
		if ctx.Err() != nil {
			return StopCancelled, false, err
		}
		r.warn("decision_wait_failed", "venture_id", res.VentureID, "decision_id", d.ID, "error", err.Error())
		return StopReviewRequired, false, nil
	}

	r.info("decision_resolved", "venture_id", res.VentureID, "decision_id", d.ID, "status", string(status))
	switch status {
	case kernel.DecisionApproved:
		if !opts.Stage.DryRun {
			r.advance(ctx, res.VentureID, res.StageID+1)
		}
		return "", true, nil
	case kernel.DecisionPending, kernel.DecisionExpired:
		return StopReviewTimeout, false, nil
	default:
		return StopReviewRejected, false, nil
	}
}

// waitForDecision polls the decision until it is resolved. A wait that
// outlives ReviewTimeout reports DecisionPending.
func (r *VentureRunner) waitForDecision(ctx context.Context, decisionID string, opts RunOptions) (kernel.DecisionStatus, error) {
	waitCtx := ctx
	if opts.ReviewTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, opts.ReviewTimeout)
		defer cancel()
	}

	ticker := time.NewTicker(opts.PollInterval)
	defer ticker.Stop()

	for {
		d, err := r.Decisions.GetDecision(ctx, decisionID)
		if err != nil {
			return "", err
		}
		if d == nil {
			return "", kernel.ErrDecisionNotFound
		}
		if d.Status.IsResolved() {
			return d.Status, nil
		}

		select {
		case <-waitCtx.Done():
			if err := ctx.Err(); err != nil {
				return "", err
			}
			if errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
				r.warn("decision_wait_timeout", "decision_id", decisionID, "timeout", opts.ReviewTimeout.String())
			}
			return kernel.DecisionPending, nil
		case <-ticker.C:
		}
	}
}

func (r *VentureRunner) advance(ctx context.Context, ventureID string, stage int) {
	if r.Pointer == nil {
		return
	}
	if err := r.Pointer.AdvanceStage(ctx, ventureID, stage); err != nil {
		r.warn("stage_advance_failed", "venture_id", ventureID, "next_stage", stage, "error", err.Error())
	}
}

func (r *VentureRunner) clock() time.Time {
	if r.now == nil {
		return time.Now()
	}
	return r.now()
}

func (r *VentureRunner) info(msg string, kv ...any) {
	if r.Logger != nil {
		r.Logger.Info(msg, kv...)
	}
}

func (r *VentureRunner) warn(msg string, kv ...any) {
	if r.Logger != nil {
		r.Logger.Warn(msg, kv...)
	}
}
