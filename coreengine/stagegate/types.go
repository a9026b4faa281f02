// Package stagegate validates business rules at stage transitions.
//
// Three gate families exist:
//
//	EXISTING  - artifact checks at 5->6, 21->22 and 22->23
//	KILL      - filter thresholds when entering stages 3, 5, 13 and 23
//	PROMOTION - chairman approval when entering stages 16, 17 and 22
//
// Gates never return errors. Infrastructure failures produce a failing
// result with status ERROR.
package stagegate

import (
	"context"
	"time"

	"github.com/jeeves-cluster-organization/ventureflow/coreengine/filter"
)

// =============================================================================
// ENUMS
// =============================================================================

// GateType is the family a stage gate belongs to.
type GateType string

const (
	GateTypeExisting  GateType = "EXISTING"
	GateTypeKill      GateType = "KILL"
	GateTypePromotion GateType = "PROMOTION"
)

// Status is the outcome of a stage gate.
type Status string

const (
	StatusPass                     Status = "PASS"
	StatusFail                     Status = "FAIL"
	StatusRequiresChairmanDecision Status = "REQUIRES_CHAIRMAN_DECISION"
	StatusRequiresChairmanApproval Status = "REQUIRES_CHAIRMAN_APPROVAL"
	StatusError                    Status = "ERROR"
)

var (
	killStages      = map[int]bool{3: true, 5: true, 13: true, 23: true}
	promotionStages = map[int]bool{16: true, 17: true, 22: true}
)

// GateTypeFor reports whether entering stage is guarded by a kill or
// promotion gate. The same stages receive an adversarial review.
func GateTypeFor(stage int) (GateType, bool) {
	switch {
	case killStages[stage]:
		return GateTypeKill, true
	case promotionStages[stage]:
		return GateTypePromotion, true
	default:
		return "", false
	}
}

// KillStages returns the stages guarded by a kill gate, ascending.
func KillStages() []int { return []int{3, 5, 13, 23} }

// PromotionStages returns the stages guarded by a promotion gate, ascending.
func PromotionStages() []int { return []int{16, 17, 22} }

// =============================================================================
// RESULT
// =============================================================================

// Check is one step of an artifact gate.
type Check struct {
	Check   string         `json:"check"`
	Passed  bool           `json:"passed"`
	Reason  string         `json:"reason,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// Threshold is a filter trigger seen through a kill or promotion gate.
type Threshold struct {
	ThresholdID string          `json:"thresholdId"`
	Expected    any             `json:"expected"`
	Actual      any             `json:"actual"`
	Pass        bool            `json:"pass"`
	Severity    filter.Severity `json:"severity"`
	Message     string          `json:"message"`
}

// Result is the outcome of Validate.
type Result struct {
	Passed   bool     `json:"passed"`
	GateName string   `json:"gateName,omitempty"`
	GateType GateType `json:"gateType,omitempty"`
	Status   Status   `json:"status,omitempty"`
	Summary  string   `json:"summary,omitempty"`
	Checks   []Check  `json:"checks,omitempty"`

	// Kill and promotion gates only.
	CorrelationID  string      `json:"correlationId,omitempty"`
	Stage          int         `json:"stage,omitempty"`
	Thresholds     []Threshold `json:"evaluatedThresholds,omitempty"`
	Recommendation string      `json:"recommendation,omitempty"`
	Error          string      `json:"error,omitempty"`

	Details map[string]any `json:"details,omitempty"`
}

// =============================================================================
// COLLABORATORS
// =============================================================================

// StoredArtifact is a persisted artifact as the gates read it.
type StoredArtifact struct {
	Payload   map[string]any
	CreatedAt time.Time
}

// ArtifactSource reads the current artifact of a type produced at a stage.
// It returns nil and no error when there is none.
type ArtifactSource interface {
	CurrentStageArtifact(ctx context.Context, ventureID string, stage int, artifactType string) (*StoredArtifact, error)
}

// PreferenceResolver resolves chairman preferences for a venture.
type PreferenceResolver interface {
	ResolvePreferences(ctx context.Context, chairmanID, ventureID string, keys []string) (filter.Preferences, error)
}

// Logger is the logging surface the gates need.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Options carries per-call inputs to the kill and promotion gates.
type Options struct {
	ChairmanID  string
	StageOutput filter.StageOutput
}
