package kernel

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Decision Status
// =============================================================================

// DecisionStatus is the state of a chairman decision.
type DecisionStatus string

const (
	DecisionPending   DecisionStatus = "pending"
	DecisionApproved  DecisionStatus = "approved"
	DecisionRejected  DecisionStatus = "rejected"
	DecisionExpired   DecisionStatus = "expired"
	DecisionCancelled DecisionStatus = "cancelled"
)

// IsResolved reports whether the decision left the pending state.
func (s DecisionStatus) IsResolved() bool {
	return s != DecisionPending
}

var (
	// ErrDecisionNotFound is returned for unknown decision ids.
	ErrDecisionNotFound = errors.New("decision not found")
	// ErrDecisionNotPending is returned when resolving a resolved decision.
	ErrDecisionNotPending = errors.New("decision is not pending")
)

// =============================================================================
// Decision
// =============================================================================

// Decision is a chairman review raised when the filter requires one.
type Decision struct {
	ID          string         `json:"id"`
	VentureID   string         `json:"ventureId"`
	StageNumber int            `json:"stageNumber"`
	Status      DecisionStatus `json:"status"`
	Summary     string         `json:"summary"`
	BriefData   map[string]any `json:"briefData,omitempty"`
	ResolvedBy  string         `json:"resolvedBy,omitempty"`
	Notes       string         `json:"notes,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	ResolvedAt  *time.Time     `json:"resolvedAt,omitempty"`
	ExpiresAt   *time.Time     `json:"expiresAt,omitempty"`
}

// IsPending reports whether the decision still awaits the chairman.
func (d *Decision) IsPending() bool {
	return d.Status == DecisionPending
}

// IsExpired reports whether the decision passed its deadline at now.
func (d *Decision) IsExpired(now time.Time) bool {
	return d.ExpiresAt != nil && now.After(*d.ExpiresAt)
}

// NewDecisionID returns a fresh decision id.
func NewDecisionID() string {
	return "dec_" + uuid.New().String()[:16]
}
