package kernel

import (
	"context"
	"time"

	"github.com/jeeves-cluster-organization/ventureflow/commbus"
	"github.com/jeeves-cluster-organization/ventureflow/coreengine/budget"
	"github.com/jeeves-cluster-organization/ventureflow/coreengine/contracts"
	"github.com/jeeves-cluster-organization/ventureflow/coreengine/filter"
	"github.com/jeeves-cluster-organization/ventureflow/coreengine/gaterecovery"
	"github.com/jeeves-cluster-organization/ventureflow/coreengine/realitygate"
	"github.com/jeeves-cluster-organization/ventureflow/coreengine/stagegate"
	"github.com/jeeves-cluster-organization/ventureflow/coreengine/templates"
)

// =============================================================================
// Collaborators
// =============================================================================

// VentureLoader loads venture context. It returns ErrVentureNotFound for
// unknown ventures.
type VentureLoader interface {
	LoadVenture(ctx context.Context, ventureID string) (*Venture, error)
}

// PreferenceResolver resolves chairman preferences for a venture.
type PreferenceResolver interface {
	ResolvePreferences(ctx context.Context, chairmanID, ventureID string, keys []string) (filter.Preferences, error)
}

// ArtifactPersister writes stage artifacts and returns their ids in order.
type ArtifactPersister interface {
	PersistArtifacts(ctx context.Context, ventureID string, stage int, artifacts []Artifact, idempotencyKey string) ([]string, error)
}

// IdempotencyStore remembers the terminal result of keyed stage runs.
// FindStageRun returns nil and no error on a miss.
type IdempotencyStore interface {
	FindStageRun(ctx context.Context, ventureID, idempotencyKey string) (*StageResult, error)
	SaveStageRun(ctx context.Context, idempotencyKey string, result *StageResult) error
}

// StagePointer moves a venture's current stage.
type StagePointer interface {
	AdvanceStage(ctx context.Context, ventureID string, stage int) error
}

// StageGate validates a stage transition.
type StageGate interface {
	Validate(ctx context.Context, ventureID string, fromStage, toStage int, opts stagegate.Options) stagegate.Result
}

// RealityGate evaluates a stage boundary.
type RealityGate interface {
	Evaluate(ctx context.Context, req realitygate.Request) realitygate.Result
}

// Recoverer handles a failed reality gate.
type Recoverer interface {
	Recover(ctx context.Context, req gaterecovery.Request) gaterecovery.Outcome
}

// ContractChecker checks the upstream payloads a stage consumes.
type ContractChecker interface {
	Check(ctx context.Context, ventureID string, stage int) contracts.Report
}

// UsageRecorder records the spend reported by analysis steps.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, ventureID string, costUSD float64) budget.Account
}

// Telemetry accepts lifecycle events. Emit must not block.
type Telemetry interface {
	Emit(msg commbus.Message)
}

// Deps are the collaborators of an Orchestrator. Ventures and Templates are
// always required; Persister is required unless the run is a dry run. Every
// other collaborator is optional and skipped when nil.
type Deps struct {
	Ventures    VentureLoader
	Templates   templates.Provider
	Persister   ArtifactPersister
	Preferences PreferenceResolver
	Runs        IdempotencyStore
	Pointer     StagePointer

	StageGate   StageGate
	RealityGate RealityGate
	GateReader  realitygate.ArtifactReader
	Prober      realitygate.Prober
	Recoverer   Recoverer
	Reviewer    stagegate.Reviewer
	Contracts   ContractChecker

	Budget    budget.Source
	Usage     UsageRecorder
	Telemetry Telemetry

	Logger Logger
	Now    func() time.Time
}

// =============================================================================
// Chairman Decisions
// =============================================================================

// DecisionStore keeps chairman decisions raised by REQUIRE_REVIEW.
type DecisionStore interface {
	// CreateOrReusePending returns the pending decision for the venture and
	// stage, creating it when none exists. reused reports which happened.
	CreateOrReusePending(ctx context.Context, d Decision) (decision *Decision, reused bool, err error)
	GetDecision(ctx context.Context, decisionID string) (*Decision, error)
	ResolveDecision(ctx context.Context, decisionID string, status DecisionStatus, resolvedBy, notes string) (*Decision, error)
}
