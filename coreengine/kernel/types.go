// Package kernel runs one venture stage end to end.
//
// A stage run moves through
//
//	started -> context_loaded -> preferences_loaded -> template_executed
//	        -> gates_evaluated -> (blocked | filter_evaluated) -> persisted
//	        -> (advanced | held)
//
// and always ends in exactly one of COMPLETED, BLOCKED or FAILED. Every
// collaborator is injected through Deps so independent ventures can be
// processed concurrently without shared state.
package kernel

import (
	"errors"
	"fmt"
	"time"

	"github.com/jeeves-cluster-organization/ventureflow/coreengine/filter"
	"github.com/jeeves-cluster-organization/ventureflow/coreengine/gaterecovery"
	"github.com/jeeves-cluster-organization/ventureflow/coreengine/realitygate"
	"github.com/jeeves-cluster-organization/ventureflow/coreengine/stagegate"
)

// =============================================================================
// Status
// =============================================================================

// StageStatus is the terminal outcome of a stage run.
type StageStatus string

const (
	StatusCompleted StageStatus = "COMPLETED"
	StatusBlocked   StageStatus = "BLOCKED"
	StatusFailed    StageStatus = "FAILED"
)

// IsTerminalFailure reports whether the run loop must stop on this status.
func (s StageStatus) IsTerminalFailure() bool {
	return s == StatusBlocked || s == StatusFailed
}

// =============================================================================
// Errors
// =============================================================================

// ErrorCode is the stable code of a stage error.
type ErrorCode string

const (
	ErrMissingDependency       ErrorCode = "MISSING_DEPENDENCY"
	ErrContextLoadFailed       ErrorCode = "CONTEXT_LOAD_FAILED"
	ErrContractPrecheckFailed  ErrorCode = "CONTRACT_PRECHECK_FAILED"
	ErrTemplateExecutionFailed ErrorCode = "TEMPLATE_EXECUTION_FAILED"
	ErrAnalysisStepFailed      ErrorCode = "ANALYSIS_STEP_FAILED"
	ErrStageGateFailed         ErrorCode = "STAGE_GATE_FAILED"
	ErrRealityGateFailed       ErrorCode = "REALITY_GATE_FAILED"
	ErrArtifactPersistFailed   ErrorCode = "ARTIFACT_PERSIST_FAILED"
)

// StageError is one entry of StageResult.Errors.
type StageError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Step    string    `json:"step,omitempty"`
}

var (
	// ErrVentureNotFound is returned by loaders when the venture does not exist.
	ErrVentureNotFound = errors.New("venture not found")
	// ErrVentureKilled is returned for ventures terminated by a gate. A kill
	// is final: killed ventures are never processed or advanced again.
	ErrVentureKilled = errors.New("venture is killed")
)

// StepError wraps the failure of one analysis step.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("analysis step %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// =============================================================================
// Venture and Artifacts
// =============================================================================

// Venture is the context a stage run is executed against.
type Venture struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Status       string    `json:"status"`
	CurrentStage *int      `json:"currentLifecycleStage,omitempty"`
	Archetype    string    `json:"archetype,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// VentureStatusKilled is the status of a venture terminated by a gate.
const VentureStatusKilled = "killed"

// IsKilled reports whether the venture was terminated.
func (v *Venture) IsKilled() bool {
	return v.Status == VentureStatusKilled
}

// Artifact is one output of an analysis step. ID is set once persisted.
type Artifact struct {
	ID           string         `json:"id,omitempty"`
	ArtifactType string         `json:"artifactType"`
	StageID      int            `json:"stageId"`
	CreatedAt    time.Time      `json:"createdAt"`
	Payload      map[string]any `json:"payload"`
	Source       string         `json:"source"`
}

// =============================================================================
// Gate Results
// =============================================================================

// GateKind identifies an entry of StageResult.GateResults.
type GateKind string

const (
	GateKindStage          GateKind = "stage_gate"
	GateKindReality        GateKind = "reality_gate"
	GateKindDevilsAdvocate GateKind = "devils_advocate"
	GateKindError          GateKind = "error"
)

// GateResult is one gate evaluated during a stage run. Exactly one of the
// typed result fields is set, matching Type.
type GateResult struct {
	Type    GateKind `json:"type"`
	Passed  bool     `json:"passed"`
	Summary string   `json:"summary,omitempty"`
	Error   string   `json:"error,omitempty"`

	StageGate   *stagegate.Result     `json:"stageGate,omitempty"`
	RealityGate *realitygate.Result   `json:"realityGate,omitempty"`
	Recovery    *gaterecovery.Outcome `json:"recovery,omitempty"`
	Review      *stagegate.Review     `json:"review,omitempty"`
}

// =============================================================================
// Request and Result
// =============================================================================

// StageOptions tune a single stage run.
type StageOptions struct {
	// AutoProceed advances the stage pointer on AUTO_PROCEED. Defaults to true.
	AutoProceed *bool `json:"autoProceed,omitempty"`
	// DryRun skips every write.
	DryRun bool `json:"dryRun,omitempty"`
	// IdempotencyKey deduplicates repeated runs of the same venture stage.
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
	// ChairmanID selects whose preferences apply.
	ChairmanID string `json:"chairmanId,omitempty"`
	// StrictContracts turns contract violations into failures.
	StrictContracts bool `json:"strictContracts,omitempty"`
}

// AutoProceedEnabled resolves the AutoProceed default.
func (o StageOptions) AutoProceedEnabled() bool {
	return o.AutoProceed == nil || *o.AutoProceed
}

// StageRequest asks for one stage of a venture to be processed. A nil
// StageID runs the venture's current stage.
type StageRequest struct {
	VentureID string       `json:"ventureId"`
	StageID   *int         `json:"stageId,omitempty"`
	Options   StageOptions `json:"options"`
}

// StageResult is the terminal record of a stage run.
type StageResult struct {
	VentureID            string            `json:"ventureId"`
	StageID              int               `json:"stageId"`
	StartedAt            time.Time         `json:"startedAt"`
	CompletedAt          time.Time         `json:"completedAt"`
	CorrelationID        string            `json:"correlationId"`
	Status               StageStatus       `json:"status"`
	Artifacts            []Artifact        `json:"artifacts"`
	FilterDecision       *filter.Decision  `json:"filterDecision"`
	GateResults          []GateResult      `json:"gateResults"`
	NextStageID          *int              `json:"nextStageId"`
	Errors               []StageError      `json:"errors"`
	DevilsAdvocateReview *stagegate.Review `json:"devilsAdvocateReview"`
	TraceID              string            `json:"traceId,omitempty"`
}

// Action returns the filter action, or "" when the filter did not run.
func (r *StageResult) Action() filter.Action {
	if r == nil || r.FilterDecision == nil {
		return ""
	}
	return r.FilterDecision.Action
}

// ErrorCodes returns the codes of the result's errors in order.
func (r *StageResult) ErrorCodes() []string {
	codes := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		codes[i] = string(e.Code)
	}
	return codes
}

// Logger is the key/value logger used across the kernel.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}
