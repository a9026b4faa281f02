package kernel

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jeeves-cluster-organization/ventureflow/commbus"
	"github.com/jeeves-cluster-organization/ventureflow/coreengine/filter"
	"github.com/jeeves-cluster-organization/ventureflow/coreengine/gaterecovery"
	"github.com/jeeves-cluster-organization/ventureflow/coreengine/observability"
	"github.com/jeeves-cluster-organization/ventureflow/coreengine/realitygate"
	"github.com/jeeves-cluster-organization/ventureflow/coreengine/stagegate"
	"github.com/jeeves-cluster-organization/ventureflow/coreengine/templates"
)

const tracerName = "github.com/jeeves-cluster-organization/ventureflow/coreengine/kernel"

// reviewSource is the source recorded on advisory review artifacts.
const reviewSource = "devils_advocate"

// Orchestrator processes one venture stage per call. It holds no state
// between calls and is safe for concurrent use.
type Orchestrator struct {
	deps   Deps
	tracer trace.Tracer
	now    func() time.Time
}

// NewOrchestrator creates an Orchestrator over deps.
func NewOrchestrator(deps Deps) *Orchestrator {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{
		deps:   deps,
		tracer: otel.Tracer(tracerName),
		now:    now,
	}
}

// stageRun is the working state of one ProcessStage call.
type stageRun struct {
	req     StageRequest
	venture *Venture
	stage   int
	tmpl    *templates.Template
	input   templates.StepInput
	output  filter.StageOutput
	result  *StageResult
}

func (r *stageRun) dryRun() bool {
	return r.req.Options.DryRun
}

// ProcessStage runs one stage of a venture. It never returns nil and never
// panics; every failure is reported through the result's status and errors.
func (o *Orchestrator) ProcessStage(ctx context.Context, req StageRequest) *StageResult {
	ctx, span := o.tracer.Start(ctx, "kernel.process_stage",
		trace.WithAttributes(
			attribute.String("venture.id", req.VentureID),
			attribute.Bool("stage.dry_run", req.Options.DryRun),
		),
	)
	defer span.End()

	res := &StageResult{
		VentureID:     req.VentureID,
		StartedAt:     o.now().UTC(),
		CorrelationID: uuid.NewString(),
		Artifacts:     []Artifact{},
		GateResults:   []GateResult{},
		Errors:        []StageError{},
		TraceID:       observability.TraceID(ctx),
	}
	if req.StageID != nil {
		res.StageID = *req.StageID
	}
	run := &stageRun{req: req, result: res}

	if missing := o.missingDependency(req.Options); missing != "" {
		return o.fail(ctx, run, StageError{Code: ErrMissingDependency, Message: missing + " is required"})
	}

	if prior := o.lookupRun(ctx, req); prior != nil {
		o.info("stage_run_reused",
			"venture_id", req.VentureID,
			"stage", prior.StageID,
			"idempotency_key", req.Options.IdempotencyKey,
			"status", string(prior.Status),
		)
		span.SetAttributes(attribute.Bool("stage.reused", true))
		return prior
	}

	// context_loaded
	venture, err := o.loadVenture(ctx, req.VentureID)
	if err != nil {
		return o.fail(ctx, run, StageError{Code: ErrContextLoadFailed, Message: err.Error()})
	}
	run.venture = venture
	run.stage = resolveStage(req.StageID, venture)
	res.StageID = run.stage
	span.SetAttributes(attribute.Int("stage.id", run.stage))

	o.info("stage_processing_started",
		"venture_id", venture.ID,
		"stage", run.stage,
		"correlation_id", res.CorrelationID,
		"dry_run", req.Options.DryRun,
	)
	o.emit(&commbus.StageStarted{
		VentureID:     venture.ID,
		Stage:         run.stage,
		CorrelationID: res.CorrelationID,
		DryRun:        req.Options.DryRun,
		Timestamp:     res.StartedAt,
	})

	// preferences_loaded
	prefs := o.loadPreferences(ctx, req.Options.ChairmanID, venture.ID)

	if se := o.precheckContracts(ctx, run); se != nil {
		return o.fail(ctx, run, *se)
	}

	// template_executed
	tmpl, err := o.deps.Templates.Template(ctx, run.stage)
	if err != nil {
		return o.fail(ctx, run, StageError{Code: ErrTemplateExecutionFailed, Message: err.Error()})
	}
	if tmpl == nil {
		tmpl = templates.Empty(run.stage)
	}
	run.tmpl = tmpl
	run.input = templates.StepInput{
		VentureID:   venture.ID,
		VentureName: venture.Name,
		Archetype:   venture.Archetype,
		Stage:       run.stage,
		Preferences: prefs,
	}

	artifacts, err := o.executeSteps(ctx, tmpl, run.input)
	res.Artifacts = artifacts
	if err != nil {
		se := StageError{Code: ErrAnalysisStepFailed, Message: err.Error()}
		var stepErr *StepError
		if errors.As(err, &stepErr) {
			se.Step = stepErr.Step
		}
		return o.fail(ctx, run, se)
	}
	run.output = mergeOutputs(venture, run.stage, res.Artifacts)

	// gates_evaluated
	blocked := o.evaluateGates(ctx, run)
	o.adversarialReview(ctx, run)

	if blocked {
		return o.block(ctx, run)
	}

	// filter_evaluated
	if status := o.budgetStatus(ctx, venture.ID); status != nil {
		run.output.Budget = status
	}
	decision := filter.Evaluate(run.output, filter.Options{Preferences: prefs, Logger: o.deps.Logger})
	res.FilterDecision = &decision
	observability.RecordFilterDecision(string(decision.Action))
	o.info("filter_evaluated",
		"venture_id", venture.ID,
		"stage", run.stage,
		"action", string(decision.Action),
		"reasons", decision.Reasons,
	)

	// persisted
	if !run.dryRun() {
		if err := o.persist(ctx, run); err != nil {
			return o.fail(ctx, run, StageError{Code: ErrArtifactPersistFailed, Message: err.Error()})
		}
	}

	// advanced | held
	if decision.Action == filter.ActionAutoProceed {
		next := run.stage + 1
		res.NextStageID = &next
		if req.Options.AutoProceedEnabled() && !run.dryRun() {
			o.advance(ctx, venture.ID, next)
		}
	}

	return o.finish(ctx, run, StatusCompleted)
}

// =============================================================================
// Phases
// =============================================================================

func (o *Orchestrator) missingDependency(opts StageOptions) string {
	switch {
	case o.deps.Ventures == nil:
		return "venture loader"
	case o.deps.Templates == nil:
		return "template provider"
	case o.deps.Persister == nil && !opts.DryRun:
		return "artifact persister"
	case o.deps.RealityGate != nil && o.deps.GateReader == nil:
		return "reality gate artifact reader"
	}
	return ""
}

func (o *Orchestrator) lookupRun(ctx context.Context, req StageRequest) *StageResult {
	key := req.Options.IdempotencyKey
	if key == "" || o.deps.Runs == nil {
		return nil
	}
	prior, err := o.deps.Runs.FindStageRun(ctx, req.VentureID, key)
	if err != nil {
		o.warn("idempotency_lookup_failed",
			"venture_id", req.VentureID,
			"idempotency_key", key,
			"error", err.Error(),
		)
		return nil
	}
	if prior == nil {
		return nil
	}
	if req.StageID != nil && prior.StageID != *req.StageID {
		o.warn("idempotency_key_stage_mismatch",
			"venture_id", req.VentureID,
			"idempotency_key", key,
			"stored_stage", prior.StageID,
			"requested_stage", *req.StageID,
		)
		return nil
	}
	return prior
}

func (o *Orchestrator) loadVenture(ctx context.Context, ventureID string) (*Venture, error) {
	ctx, span := o.tracer.Start(ctx, "kernel.load_context")
	defer span.End()

	if strings.TrimSpace(ventureID) == "" {
		return nil, fmt.Errorf("venture id is required")
	}
	v, err := o.deps.Ventures.LoadVenture(ctx, ventureID)
	if err == nil && v == nil {
		err = ErrVentureNotFound
	}
	if err == nil && v.IsKilled() {
		err = ErrVentureKilled
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("load venture %s: %w", ventureID, err)
	}
	return v, nil
}

// resolveStage prefers an explicit stage, then the venture's pointer, then 1.
func resolveStage(explicit *int, v *Venture) int {
	if explicit != nil {
		return *explicit
	}
	if v.CurrentStage != nil && *v.CurrentStage > 0 {
		return *v.CurrentStage
	}
	return 1
}

func (o *Orchestrator) loadPreferences(ctx context.Context, chairmanID, ventureID string) filter.Preferences {
	if chairmanID == "" || o.deps.Preferences == nil {
		return nil
	}
	prefs, err := o.deps.Preferences.ResolvePreferences(ctx, chairmanID, ventureID, filter.Keys())
	if err != nil {
		o.warn("preferences_load_failed",
			"venture_id", ventureID,
			"chairman_id", chairmanID,
			"error", err.Error(),
		)
		return nil
	}
	return prefs
}

func (o *Orchestrator) precheckContracts(ctx context.Context, run *stageRun) *StageError {
	if o.deps.Contracts == nil {
		return nil
	}
	report := o.deps.Contracts.Check(ctx, run.venture.ID, run.stage)
	for producer, err := range report.LoadErrors {
		o.warn("contract_payload_load_failed",
			"venture_id", run.venture.ID,
			"stage", run.stage,
			"producer_stage", producer,
			"error", err.Error(),
		)
	}
	if report.OK() {
		return nil
	}

	msgs := report.Messages()
	if run.req.Options.StrictContracts {
		return &StageError{Code: ErrContractPrecheckFailed, Message: strings.Join(msgs, "; ")}
	}
	o.warn("contract_precheck_violations",
		"venture_id", run.venture.ID,
		"stage", run.stage,
		"violations", msgs,
	)
	return nil
}

// executeSteps runs the template's steps in order. On failure the artifacts
// of the steps that completed are returned with the error.
func (o *Orchestrator) executeSteps(ctx context.Context, tmpl *templates.Template, in templates.StepInput) ([]Artifact, error) {
	ctx, span := o.tracer.Start(ctx, "kernel.execute_template",
		trace.WithAttributes(
			attribute.Int("template.steps", len(tmpl.Steps)),
			attribute.String("template.version", tmpl.Version),
			attribute.Bool("template.retry", in.Retry != nil),
		),
	)
	defer span.End()

	artifacts := make([]Artifact, 0, len(tmpl.Steps))
	for i, step := range tmpl.Steps {
		name := step.ID
		if name == "" {
			name = "step_" + strconv.Itoa(i+1)
		}

		out, err := SafeExecuteWithResult(o.deps.Logger, "analysis_step:"+name, func() (templates.StepOutput, error) {
			return step.Run(ctx, in)
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "analysis step failed")
			o.warn("analysis_step_failed",
				"venture_id", in.VentureID,
				"stage", in.Stage,
				"step", name,
				"completed_steps", len(artifacts),
				"error", err.Error(),
			)
			return artifacts, &StepError{Step: name, Err: err}
		}

		artifacts = append(artifacts, Artifact{
			ArtifactType: out.ArtifactType,
			StageID:      in.Stage,
			CreatedAt:    o.now().UTC(),
			Payload:      out.Payload,
			Source:       out.Source,
		})
		if out.Usage != nil {
			o.recordUsage(ctx, in.VentureID, out.Usage.CostUSD)
		}
	}
	return artifacts, nil
}

func (o *Orchestrator) recordUsage(ctx context.Context, ventureID string, costUSD float64) {
	if o.deps.Usage == nil || costUSD <= 0 {
		return
	}
	err := SafeExecute(o.deps.Logger, "record_usage", func() error {
		o.deps.Usage.RecordUsage(ctx, ventureID, costUSD)
		return nil
	})
	if err != nil {
		o.warn("usage_record_failed", "venture_id", ventureID, "error", err.Error())
	}
}

// mergeOutputs overlays artifact payloads in order onto a base output whose
// description is the venture name.
func mergeOutputs(v *Venture, stage int, artifacts []Artifact) filter.StageOutput {
	out := filter.StageOutput{Stage: strconv.Itoa(stage), Description: v.Name}
	for _, a := range artifacts {
		out.Overlay(a.Payload)
	}
	return out
}

// =============================================================================
// Gates
// =============================================================================

// evaluateGates runs the stage gate and the reality gate and reports whether
// either left the transition blocked. A failed reality gate goes through
// recovery first.
func (o *Orchestrator) evaluateGates(ctx context.Context, run *stageRun) bool {
	ctx, span := o.tracer.Start(ctx, "kernel.evaluate_gates")
	defer span.End()

	res := run.result
	next := run.stage + 1
	blocked := false

	if o.deps.StageGate != nil {
		entry := o.stageGate(ctx, run, next)
		res.GateResults = append(res.GateResults, entry)
		blocked = blocked || !entry.Passed
	}

	if o.deps.RealityGate != nil {
		entry := o.realityGate(ctx, run, next)
		res.GateResults = append(res.GateResults, entry)
		blocked = blocked || !entry.Passed
	}

	span.SetAttributes(attribute.Bool("gates.blocked", blocked))
	return blocked
}

func (o *Orchestrator) stageGate(ctx context.Context, run *stageRun, next int) GateResult {
	opts := stagegate.Options{ChairmanID: run.req.Options.ChairmanID, StageOutput: run.output}
	sg, err := SafeExecuteWithResult(o.deps.Logger, "stage_gate", func() (stagegate.Result, error) {
		return o.deps.StageGate.Validate(ctx, run.venture.ID, run.stage, next, opts), nil
	})
	if err != nil {
		o.emitGate(run, "stage", "", "ERROR", false)
		return GateResult{Type: GateKindError, Error: err.Error()}
	}

	o.emitGate(run, "stage", sg.GateName, string(sg.Status), sg.Passed)
	if !sg.Passed {
		o.warn("stage_gate_failed",
			"venture_id", run.venture.ID,
			"stage", run.stage,
			"gate", sg.GateName,
			"status", string(sg.Status),
		)
	}
	return GateResult{Type: GateKindStage, Passed: sg.Passed, Summary: sg.Summary, StageGate: &sg}
}

func (o *Orchestrator) realityGate(ctx context.Context, run *stageRun, next int) GateResult {
	rg, err := o.evaluateReality(ctx, run, next)
	if err != nil {
		o.emitGate(run, "reality", "", "ERROR", false)
		return GateResult{Type: GateKindError, Error: err.Error()}
	}
	o.emitGate(run, "reality", rg.Boundary, string(rg.Status), rg.Passed())

	entry := GateResult{Type: GateKindReality, Passed: rg.Passed(), Summary: rg.Summary(), RealityGate: &rg}
	if rg.Passed() || o.deps.Recoverer == nil {
		return entry
	}

	outcome := o.deps.Recoverer.Recover(ctx, gaterecovery.Request{
		VentureID:  run.venture.ID,
		FromStage:  run.stage,
		ToStage:    next,
		GateResult: rg,
		Rerun:      o.rerun(run, next),
	})
	entry.Recovery = &outcome
	if outcome.GateResult != nil {
		entry.RealityGate = outcome.GateResult
		entry.Summary = outcome.GateResult.Summary()
	}
	if outcome.Recovered {
		entry.Passed = true
		o.info("reality_gate_recovered",
			"venture_id", run.venture.ID,
			"stage", run.stage,
			"attempts", outcome.Attempts,
		)
	}
	if outcome.Killed {
		reasons := make([]string, 0, len(entry.RealityGate.Reasons))
		for _, r := range entry.RealityGate.Reasons {
			reasons = append(reasons, r.Message)
		}
		o.emit(&commbus.VentureKilled{
			VentureID: run.venture.ID,
			Gate:      gaterecovery.GateName(run.stage, next),
			Reasons:   reasons,
			Timestamp: o.now().UTC(),
		})
	}
	return entry
}

func (o *Orchestrator) evaluateReality(ctx context.Context, run *stageRun, next int) (realitygate.Result, error) {
	req := realitygate.Request{
		VentureID: run.venture.ID,
		FromStage: run.stage,
		ToStage:   next,
		Reader:    o.deps.GateReader,
		Prober:    o.deps.Prober,
		Now:       o.now,
	}
	return SafeExecuteWithResult(o.deps.Logger, "reality_gate", func() (realitygate.Result, error) {
		return o.deps.RealityGate.Evaluate(ctx, req), nil
	})
}

// rerun re-executes the stage analysis with the retry context, persists the
// new artifacts so the gate can see them, and evaluates the gate again.
func (o *Orchestrator) rerun(run *stageRun, next int) gaterecovery.RerunFunc {
	return func(ctx context.Context, _ string, _ int, rc gaterecovery.RetryContext) (realitygate.Result, error) {
		in := run.input
		retry := rc
		in.Retry = &retry

		artifacts, err := o.executeSteps(ctx, run.tmpl, in)
		if err != nil {
			return realitygate.Result{}, err
		}
		run.result.Artifacts = artifacts
		run.output = mergeOutputs(run.venture, run.stage, artifacts)

		if !run.dryRun() {
			if err := o.persist(ctx, run); err != nil {
				return realitygate.Result{}, err
			}
		}
		return o.evaluateReality(ctx, run, next)
	}
}

// adversarialReview records an advisory review on kill and promotion stages.
// It never affects the outcome.
func (o *Orchestrator) adversarialReview(ctx context.Context, run *stageRun) {
	if o.deps.Reviewer == nil {
		return
	}
	gateType, ok := stagegate.GateTypeFor(run.stage)
	if !ok {
		return
	}

	req := stagegate.ReviewRequest{
		VentureID:   run.venture.ID,
		VentureName: run.venture.Name,
		Stage:       run.stage,
		GateType:    gateType,
		StageOutput: run.output,
	}
	for _, g := range run.result.GateResults {
		if g.StageGate != nil && g.StageGate.GateType == gateType {
			req.GateResult = g.StageGate
		}
	}

	review, err := SafeExecuteWithResult(o.deps.Logger, "adversarial_review", func() (*stagegate.Review, error) {
		return o.deps.Reviewer.Review(ctx, req)
	})
	if err != nil || review == nil {
		msg := "no review returned"
		if err != nil {
			msg = err.Error()
		}
		o.warn("adversarial_review_failed", "venture_id", run.venture.ID, "stage", run.stage, "error", msg)
		return
	}

	run.result.DevilsAdvocateReview = review
	run.result.GateResults = append(run.result.GateResults, GateResult{
		Type:    GateKindDevilsAdvocate,
		Passed:  true,
		Summary: review.OverallAssessment,
		Review:  review,
	})

	if run.dryRun() || o.deps.Persister == nil {
		return
	}
	artifact := Artifact{
		ArtifactType: stagegate.ReviewArtifactType,
		StageID:      run.stage,
		CreatedAt:    o.now().UTC(),
		Payload:      review.Payload(),
		Source:       reviewSource,
	}
	if _, err := o.deps.Persister.PersistArtifacts(ctx, run.venture.ID, run.stage, []Artifact{artifact}, ""); err != nil {
		o.warn("adversarial_review_persist_failed", "venture_id", run.venture.ID, "stage", run.stage, "error", err.Error())
	}
}

// =============================================================================
// Side Effects
// =============================================================================

func (o *Orchestrator) budgetStatus(ctx context.Context, ventureID string) *filter.BudgetStatus {
	if o.deps.Budget == nil {
		return nil
	}
	status, err := o.deps.Budget.BudgetStatus(ctx, ventureID)
	if err != nil {
		o.warn("budget_status_unavailable", "venture_id", ventureID, "error", err.Error())
		return nil
	}
	return &status
}

// persist writes the run's artifacts that have no id yet and records the
// returned ids on them.
func (o *Orchestrator) persist(ctx context.Context, run *stageRun) error {
	ctx, span := o.tracer.Start(ctx, "kernel.persist_artifacts")
	defer span.End()

	artifacts := run.result.Artifacts
	var pending []int
	for i := range artifacts {
		if artifacts[i].ID == "" {
			pending = append(pending, i)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	batch := make([]Artifact, len(pending))
	for i, idx := range pending {
		batch[i] = artifacts[idx]
	}
	ids, err := o.deps.Persister.PersistArtifacts(ctx, run.venture.ID, run.stage, batch, run.req.Options.IdempotencyKey)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("persist %d artifact(s): %w", len(batch), err)
	}
	for i, idx := range pending {
		if i < len(ids) {
			artifacts[idx].ID = ids[i]
		}
	}
	span.SetAttributes(attribute.Int("artifacts.persisted", len(ids)))
	return nil
}

func (o *Orchestrator) advance(ctx context.Context, ventureID string, next int) {
	if o.deps.Pointer == nil {
		return
	}
	if err := o.deps.Pointer.AdvanceStage(ctx, ventureID, next); err != nil {
		o.warn("stage_advance_failed", "venture_id", ventureID, "next_stage", next, "error", err.Error())
		return
	}
	o.info("stage_advanced", "venture_id", ventureID, "next_stage", next)
}

// =============================================================================
// Terminal States
// =============================================================================

func (o *Orchestrator) block(ctx context.Context, run *stageRun) *StageResult {
	res := run.result
	if !run.dryRun() {
		if err := o.persist(ctx, run); err != nil {
			o.warn("blocked_artifact_persist_failed", "venture_id", run.venture.ID, "stage", run.stage, "error", err.Error())
			res.Errors = append(res.Errors, StageError{Code: ErrArtifactPersistFailed, Message: err.Error()})
		}
	}

	var gateErrors []StageError
	for _, g := range res.GateResults {
		if g.Passed {
			continue
		}
		code := ErrRealityGateFailed
		if g.Type == GateKindStage {
			code = ErrStageGateFailed
		}
		msg := g.Summary
		if msg == "" {
			msg = g.Error
		}
		if msg == "" {
			msg = "Gate check failed"
		}
		gateErrors = append(gateErrors, StageError{Code: code, Message: msg})
	}
	res.Errors = append(gateErrors, res.Errors...)
	return o.finish(ctx, run, StatusBlocked)
}

func (o *Orchestrator) fail(ctx context.Context, run *stageRun, se StageError) *StageResult {
	run.result.Errors = append(run.result.Errors, se)
	o.logError("stage_processing_failed",
		"venture_id", run.result.VentureID,
		"stage", run.result.StageID,
		"code", string(se.Code),
		"step", se.Step,
		"error", se.Message,
	)
	return o.finish(ctx, run, StatusFailed)
}

func (o *Orchestrator) finish(ctx context.Context, run *stageRun, status StageStatus) *StageResult {
	res := run.result
	res.Status = status
	res.CompletedAt = o.now().UTC()
	duration := res.CompletedAt.Sub(res.StartedAt)

	observability.RecordStageExecution(strconv.Itoa(res.StageID), string(status), int(duration.Milliseconds()))

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attribute.String("stage.status", string(status)))
	if status != StatusCompleted {
		span.SetStatus(codes.Error, strings.Join(res.ErrorCodes(), ","))
	}

	key := run.req.Options.IdempotencyKey
	if key != "" && status != StatusFailed && !run.dryRun() && o.deps.Runs != nil {
		if err := o.deps.Runs.SaveStageRun(ctx, key, res); err != nil {
			o.warn("idempotency_save_failed", "venture_id", res.VentureID, "idempotency_key", key, "error", err.Error())
		}
	}

	o.emit(&commbus.StageCompleted{
		VentureID:     res.VentureID,
		Stage:         res.StageID,
		CorrelationID: res.CorrelationID,
		Status:        string(status),
		DurationMS:    duration.Milliseconds(),
		NextStage:     res.NextStageID,
		ErrorCodes:    res.ErrorCodes(),
		Timestamp:     res.CompletedAt,
	})
	o.info("stage_processing_completed",
		"venture_id", res.VentureID,
		"stage", res.StageID,
		"status", string(status),
		"artifacts", len(res.Artifacts),
		"duration_ms", duration.Milliseconds(),
	)
	return res
}

// =============================================================================
// Helpers
// =============================================================================

func (o *Orchestrator) emit(msg commbus.Message) {
	if o.deps.Telemetry != nil {
		o.deps.Telemetry.Emit(msg)
	}
}

func (o *Orchestrator) emitGate(run *stageRun, gate, name, status string, passed bool) {
	o.emit(&commbus.GateEvaluated{
		VentureID: run.venture.ID,
		Stage:     run.stage,
		Gate:      gate,
		Name:      name,
		Status:    status,
		Passed:    passed,
		Timestamp: o.now().UTC(),
	})
}

func (o *Orchestrator) info(msg string, kv ...any) {
	if o.deps.Logger != nil {
		o.deps.Logger.Info(msg, kv...)
	}
}

func (o *Orchestrator) warn(msg string, kv ...any) {
	if o.deps.Logger != nil {
		o.deps.Logger.Warn(msg, kv...)
	}
}

func (o *Orchestrator) logError(msg string, kv ...any) {
	if o.deps.Logger != nil {
		o.deps.Logger.Error(msg, kv...)
	}
}
