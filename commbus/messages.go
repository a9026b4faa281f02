package commbus

import (
	"fmt"
	"time"
)

// MessageCategory classifies messages by delivery semantics.
type MessageCategory string

const (
	MessageCategoryEvent   MessageCategory = "event"
	MessageCategoryCommand MessageCategory = "command"
	MessageCategoryQuery   MessageCategory = "query"
)

// VentureEvent is an event scoped to one venture.
type VentureEvent interface {
	Message
	Venture() string
}

// =============================================================================
// EVENTS
// =============================================================================

// StageStarted is published when the orchestrator begins a stage.
type StageStarted struct {
	VentureID     string    `json:"ventureId"`
	Stage         int       `json:"stage"`
	CorrelationID string    `json:"correlationId"`
	DryRun        bool      `json:"dryRun,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

func (m *StageStarted) Category() string { return string(MessageCategoryEvent) }
func (m *StageStarted) Venture() string  { return m.VentureID }

// StageCompleted is published with the terminal status of a stage run.
type StageCompleted struct {
	VentureID     string    `json:"ventureId"`
	Stage         int       `json:"stage"`
	CorrelationID string    `json:"correlationId"`
	Status        string    `json:"status"`
	DurationMS    int64     `json:"durationMs"`
	NextStage     *int      `json:"nextStageId,omitempty"`
	ErrorCodes    []string  `json:"errorCodes,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

func (m *StageCompleted) Category() string { return string(MessageCategoryEvent) }
func (m *StageCompleted) Venture() string  { return m.VentureID }

// GateEvaluated is published for every stage or reality gate decision.
type GateEvaluated struct {
	VentureID string    `json:"ventureId"`
	Stage     int       `json:"stage"`
	Gate      string    `json:"gate"` // "stage" or "reality"
	Name      string    `json:"name,omitempty"`
	Status    string    `json:"status"`
	Passed    bool      `json:"passed"`
	Timestamp time.Time `json:"timestamp"`
}

func (m *GateEvaluated) Category() string { return string(MessageCategoryEvent) }
func (m *GateEvaluated) Venture() string  { return m.VentureID }

// VentureKilled is published when a critical gate failure terminates a venture.
type VentureKilled struct {
	VentureID string    `json:"ventureId"`
	Gate      string    `json:"gate"`
	Reasons   []string  `json:"reasons,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (m *VentureKilled) Category() string { return string(MessageCategoryEvent) }
func (m *VentureKilled) Venture() string  { return m.VentureID }

// UsageRecorded is published after spend is recorded against a venture.
type UsageRecorded struct {
	VentureID string    `json:"ventureId"`
	CostUSD   float64   `json:"costUsd"`
	SpentUSD  float64   `json:"spentUsd"`
	Timestamp time.Time `json:"timestamp"`
}

func (m *UsageRecorded) Category() string { return string(MessageCategoryEvent) }
func (m *UsageRecorded) Venture() string  { return m.VentureID }

// DecisionRequested is published when a stage needs chairman review.
type DecisionRequested struct {
	DecisionID string    `json:"decisionId"`
	VentureID  string    `json:"ventureId"`
	Stage      int       `json:"stage"`
	Summary    string    `json:"summary"`
	Timestamp  time.Time `json:"timestamp"`
}

func (m *DecisionRequested) Category() string { return string(MessageCategoryEvent) }
func (m *DecisionRequested) Venture() string  { return m.VentureID }

// =============================================================================
// COMMANDS
// =============================================================================

// InvalidateBudget drops any cached budget status of a venture.
type InvalidateBudget struct {
	VentureID string `json:"ventureId"`
}

func (m *InvalidateBudget) Category() string { return string(MessageCategoryCommand) }

// =============================================================================
// QUERIES
// =============================================================================

// GetBudgetStatus asks for the current budget position of a venture.
type GetBudgetStatus struct {
	VentureID string `json:"ventureId"`
}

func (m *GetBudgetStatus) Category() string { return string(MessageCategoryQuery) }
func (m *GetBudgetStatus) IsQuery()         {}

// BudgetStatusResponse answers GetBudgetStatus.
type BudgetStatusResponse struct {
	VentureID    string  `json:"ventureId"`
	SpentUSD     float64 `json:"spentUsd"`
	LimitUSD     float64 `json:"limitUsd"`
	UsagePercent float64 `json:"usagePercent"`
	OverBudget   bool    `json:"overBudget"`
}

// =============================================================================
// ROUTING
// =============================================================================

// GetMessageType returns the routing key of a message.
func GetMessageType(msg Message) string {
	if typed, ok := msg.(TypedMessage); ok {
		return typed.MessageType()
	}

	switch msg.(type) {
	case *StageStarted:
		return "StageStarted"
	case *StageCompleted:
		return "StageCompleted"
	case *GateEvaluated:
		return "GateEvaluated"
	case *VentureKilled:
		return "VentureKilled"
	case *UsageRecorded:
		return "UsageRecorded"
	case *DecisionRequested:
		return "DecisionRequested"
	case *InvalidateBudget:
		return "InvalidateBudget"
	case *GetBudgetStatus:
		return "GetBudgetStatus"
	default:
		return fmt.Sprintf("%T", msg)
	}
}

// Ensure message types implement their interfaces.
var (
	_ VentureEvent = (*StageStarted)(nil)
	_ VentureEvent = (*StageCompleted)(nil)
	_ VentureEvent = (*GateEvaluated)(nil)
	_ VentureEvent = (*VentureKilled)(nil)
	_ VentureEvent = (*UsageRecorded)(nil)
	_ VentureEvent = (*DecisionRequested)(nil)
	_ Message      = (*InvalidateBudget)(nil)
	_ Query        = (*GetBudgetStatus)(nil)
)
