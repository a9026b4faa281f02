// Package filter implements the decision filter engine.
//
// The engine is a pure function over a stage's merged output and the
// chairman's preferences. It performs no I/O and holds no state, so two
// evaluations of the same input always produce identical decisions.
//
// Rules run in a fixed order:
//
//	cost_threshold -> budget_exceeded -> new_tech_vendor -> strategic_pivot
//	-> low_score -> novel_pattern -> constraint_drift
package filter

// =============================================================================
// Trigger Types
// =============================================================================

// TriggerType identifies the rule that produced a trigger.
type TriggerType string

const (
	// TriggerCostThreshold fires when stage cost exceeds the configured ceiling.
	TriggerCostThreshold TriggerType = "cost_threshold"
	// TriggerBudgetExceeded fires when the venture is over or near its budget.
	TriggerBudgetExceeded TriggerType = "budget_exceeded"
	// TriggerNewTechVendor fires per unapproved technology or vendor.
	TriggerNewTechVendor TriggerType = "new_tech_vendor"
	// TriggerStrategicPivot fires when the description mentions a pivot keyword.
	TriggerStrategicPivot TriggerType = "strategic_pivot"
	// TriggerLowScore fires when the stage score is below the configured minimum.
	TriggerLowScore TriggerType = "low_score"
	// TriggerNovelPattern fires per pattern not seen in the prior stage.
	TriggerNovelPattern TriggerType = "novel_pattern"
	// TriggerConstraintDrift fires per constraint that differs from its approved value.
	// Missing-preference findings share this type tag; see TriggerKind.
	TriggerConstraintDrift TriggerType = "constraint_drift"
)

// TriggerOrder is the fixed rule evaluation order.
var TriggerOrder = []TriggerType{
	TriggerCostThreshold,
	TriggerBudgetExceeded,
	TriggerNewTechVendor,
	TriggerStrategicPivot,
	TriggerLowScore,
	TriggerNovelPattern,
	TriggerConstraintDrift,
}

// Rank returns the position of the trigger type in TriggerOrder.
// Unknown types sort last.
func (t TriggerType) Rank() int {
	for i, tt := range TriggerOrder {
		if tt == t {
			return i
		}
	}
	return len(TriggerOrder)
}

// IsValid returns true for a type in TriggerOrder.
func (t TriggerType) IsValid() bool {
	return t.Rank() < len(TriggerOrder)
}

// =============================================================================
// Trigger Kinds
// =============================================================================

// TriggerKind separates business findings from missing-preference findings.
// Both kinds can carry TriggerConstraintDrift; only business findings take
// part in the action decision.
type TriggerKind string

const (
	// KindBusiness is a finding produced by a rule against stage output.
	KindBusiness TriggerKind = "business"
	// KindMissingPreference records that a preference key fell back to its default.
	KindMissingPreference TriggerKind = "missing_preference"
)

// =============================================================================
// Severity and Action
// =============================================================================

// Severity is the weight a trigger carries in the action decision.
type Severity string

const (
	SeverityHigh   Severity = "HIGH"
	SeverityMedium Severity = "MEDIUM"
	SeverityInfo   Severity = "INFO"
)

// Action is the outcome of a filter evaluation.
type Action string

const (
	// ActionAutoProceed lets the venture advance without review.
	ActionAutoProceed Action = "AUTO_PROCEED"
	// ActionRequireReview holds the venture for a chairman decision.
	ActionRequireReview Action = "REQUIRE_REVIEW"
	// ActionStop halts the venture run.
	ActionStop Action = "STOP"
)

const (
	// RecommendationAutoProceed is the raw recommendation when no review is needed.
	RecommendationAutoProceed = "AUTO_PROCEED"
	// RecommendationPresentToChairman is the raw recommendation otherwise.
	RecommendationPresentToChairman = "PRESENT_TO_CHAIRMAN"
)

// =============================================================================
// Trigger
// =============================================================================

// Details carries the rule-specific evidence for a trigger.
// Which fields are set depends on Trigger.Type.
type Details struct {
	// cost_threshold and low_score
	Threshold *float64 `json:"threshold,omitempty"`
	Cost      *float64 `json:"cost,omitempty"`
	Score     *float64 `json:"score,omitempty"`

	// budget_exceeded
	UsagePercent *float64 `json:"usagePercent,omitempty"`
	OverBudget   bool     `json:"overBudget,omitempty"`

	// new_tech_vendor and novel_pattern
	Name     string `json:"name,omitempty"`
	Category string `json:"category,omitempty"`

	// strategic_pivot
	Keywords []string `json:"keywords,omitempty"`

	// constraint_drift
	ConstraintKey string `json:"constraintKey,omitempty"`
	Current       any    `json:"current,omitempty"`
	Approved      any    `json:"approved,omitempty"`

	// missing preference
	DefaultValue any `json:"defaultValue,omitempty"`
}

// Trigger is a single rule finding.
type Trigger struct {
	Type     TriggerType `json:"type"`
	Kind     TriggerKind `json:"kind"`
	Severity Severity    `json:"severity"`
	Message  string      `json:"message"`
	Details  Details     `json:"details"`

	// MissingKey is set only on missing-preference findings.
	MissingKey string `json:"missingKey,omitempty"`
}

// IsMissingPreference reports whether the trigger records a defaulted preference.
// MissingKey is checked as well so triggers decoded from older payloads,
// which carry no kind, are still excluded from the action decision.
func (t Trigger) IsMissingPreference() bool {
	return t.Kind == KindMissingPreference || t.MissingKey != ""
}

// Expected returns the configured threshold the trigger was compared against, if any.
func (t Trigger) Expected() any {
	if t.Details.Threshold != nil {
		return *t.Details.Threshold
	}
	return nil
}

// Actual returns the observed value that crossed the threshold, if any.
func (t Trigger) Actual() any {
	switch {
	case t.Details.Cost != nil:
		return *t.Details.Cost
	case t.Details.Score != nil:
		return *t.Details.Score
	case t.Details.UsagePercent != nil:
		return *t.Details.UsagePercent
	}
	return nil
}

// =============================================================================
// Decision
// =============================================================================

// Raw is the engine's unmapped output.
type Raw struct {
	AutoProceed    bool      `json:"auto_proceed"`
	Triggers       []Trigger `json:"triggers"`
	Recommendation string    `json:"recommendation"`
}

// Decision is the filter result consumed by the orchestrator.
type Decision struct {
	Action         Action   `json:"action"`
	Reasons        []string `json:"reasons"`
	Recommendation string   `json:"recommendation,omitempty"`
	Raw            *Raw     `json:"raw,omitempty"`
}

// BusinessTriggers returns the triggers that take part in the action decision.
func (d Decision) BusinessTriggers() []Trigger {
	if d.Raw == nil {
		return nil
	}
	return businessTriggers(d.Raw.Triggers)
}

// HasSeverity reports whether any business trigger carries the given severity.
func (d Decision) HasSeverity(s Severity) bool {
	for _, t := range d.BusinessTriggers() {
		if t.Severity == s {
			return true
		}
	}
	return false
}

// =============================================================================
// Input
// =============================================================================

// BudgetStatus is the venture's spend position at evaluation time.
type BudgetStatus struct {
	OverBudget   bool    `json:"overBudget"`
	UsagePercent float64 `json:"usagePercent"`
}

// StageOutput is the merged, typed view of a stage's artifacts.
// Nil numeric fields mean the stage did not report the value.
type StageOutput struct {
	Stage               string         `json:"stage,omitempty"`
	Description         string         `json:"description"`
	Cost                *float64       `json:"cost,omitempty"`
	Score               *float64       `json:"score,omitempty"`
	Technologies        []string       `json:"technologies,omitempty"`
	Vendors             []string       `json:"vendors,omitempty"`
	Patterns            []string       `json:"patterns,omitempty"`
	PriorPatterns       []string       `json:"priorPatterns,omitempty"`
	Constraints         map[string]any `json:"constraints,omitempty"`
	ApprovedConstraints map[string]any `json:"approvedConstraints,omitempty"`
	Budget              *BudgetStatus  `json:"budgetStatus,omitempty"`
}

// Logger is the logging surface the engine needs.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
}
