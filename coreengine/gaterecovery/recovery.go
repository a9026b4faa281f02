// Package gaterecovery decides what happens after a reality gate fails.
//
// Failures are classified by their reason codes. Critical failures are
// escalated immediately; non-critical ones are rerun up to a fixed bound
// with a RetryContext describing why the previous attempt failed. A failure
// that is not recovered always ends with the venture marked killed at the
// gate.
package gaterecovery

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jeeves-cluster-organization/ventureflow/coreengine/observability"
	"github.com/jeeves-cluster-organization/ventureflow/coreengine/realitygate"
)

// DefaultMaxRetries bounds reruns of a non-critical failure.
const DefaultMaxRetries = 3

// =============================================================================
// Severity
// =============================================================================

// Severity of a gate failure.
type Severity string

const (
	SeverityCritical    Severity = "critical"
	SeverityNonCritical Severity = "non_critical"
)

var nonCritical = map[realitygate.ReasonCode]bool{
	realitygate.ReasonQualityScoreBelowThreshold: true,
	realitygate.ReasonURLUnreachable:             true,
}

// Classify returns the severity of a set of failure reasons. Any critical or
// unrecognised code makes the whole set critical, as does an empty set.
func Classify(reasons []realitygate.FailureReason) Severity {
	if len(reasons) == 0 {
		return SeverityCritical
	}
	for _, r := range reasons {
		if !nonCritical[r.Code] {
			return SeverityCritical
		}
	}
	return SeverityNonCritical
}

// =============================================================================
// Types
// =============================================================================

// RetryContext is handed to each rerun so the analysis can target the deficiency.
type RetryContext struct {
	Attempt         int                         `json:"attempt"`
	MaxRetries      int                         `json:"maxRetries"`
	PreviousReasons []realitygate.FailureReason `json:"previousReasons"`
	FromStage       int                         `json:"fromStage"`
	ToStage         int                         `json:"toStage"`
}

// RerunFunc re-executes the analysis of fromStage and re-evaluates the gate.
type RerunFunc func(ctx context.Context, ventureID string, fromStage int, rc RetryContext) (realitygate.Result, error)

// Routing is where an unrecovered failure was sent.
type Routing string

const (
	RoutingNone        Routing = ""
	RoutingEscalated   Routing = "escalated"
	RoutingAutoTracked Routing = "auto_tracked"
)

// Escalation is the record created for out-of-band review of a critical failure.
type Escalation struct {
	ID        string                      `json:"id"`
	VentureID string                      `json:"ventureId"`
	Boundary  string                      `json:"boundary"`
	FromStage int                         `json:"fromStage"`
	ToStage   int                         `json:"toStage"`
	Severity  Severity                    `json:"severity"`
	Reasons   []realitygate.FailureReason `json:"reasons"`
	Attempts  int                         `json:"attempts"`
	CreatedAt time.Time                   `json:"createdAt"`
}

// Store performs the routing side effects.
type Store interface {
	CreateEscalation(ctx context.Context, e Escalation) error
	MergeVentureMetadata(ctx context.Context, ventureID string, patch map[string]any) error
	MarkKilledAtGate(ctx context.Context, ventureID, gate string) error
}

// Logger is the logging surface recovery needs.
type Logger interface {
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Request describes one failed gate.
type Request struct {
	VentureID  string
	FromStage  int
	ToStage    int
	GateResult realitygate.Result
	Rerun      RerunFunc
}

// Outcome is the result of recovery.
type Outcome struct {
	Recovered  bool                `json:"recovered"`
	GateResult *realitygate.Result `json:"gateResult,omitempty"`
	Killed     bool                `json:"killed"`
	Severity   Severity            `json:"severity"`
	Attempts   int                 `json:"attempts"`
	Routing    Routing             `json:"routing,omitempty"`
}

// =============================================================================
// Recoverer
// =============================================================================

// Recoverer runs the classify -> retry -> route sequence.
type Recoverer struct {
	store      Store
	logger     Logger
	maxRetries int
	now        func() time.Time
}

// Option configures a Recoverer.
type Option func(*Recoverer)

// WithMaxRetries overrides the rerun bound. Negative values are ignored.
func WithMaxRetries(n int) Option {
	return func(r *Recoverer) {
		if n >= 0 {
			r.maxRetries = n
		}
	}
}

// WithClock overrides the time source used for routing records.
func WithClock(now func() time.Time) Option {
	return func(r *Recoverer) {
		if now != nil {
			r.now = now
		}
	}
}

// New creates a Recoverer. A nil store skips routing writes.
func New(store Store, logger Logger, opts ...Option) *Recoverer {
	r := &Recoverer{
		store:      store,
		logger:     logger,
		maxRetries: DefaultMaxRetries,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// MaxRetries returns the configured rerun bound.
func (r *Recoverer) MaxRetries() int {
	return r.maxRetries
}

// GateName identifies the reality gate at a boundary in kill records.
func GateName(fromStage, toStage int) string {
	return "reality_gate_" + realitygate.BoundaryKey(fromStage, toStage)
}

// Recover attempts to recover a failed gate.
func (r *Recoverer) Recover(ctx context.Context, req Request) Outcome {
	reasons := req.GateResult.Reasons
	severity := Classify(reasons)
	out := Outcome{Severity: severity}

	r.info("gate_recovery_started",
		"venture_id", req.VentureID,
		"boundary", realitygate.BoundaryKey(req.FromStage, req.ToStage),
		"severity", string(severity),
		"reason_count", len(reasons),
	)

	if severity == SeverityNonCritical {
		if req.Rerun == nil {
			r.warn("gate_recovery_no_rerun", "venture_id", req.VentureID)
		} else {
			for attempt := 1; attempt <= r.maxRetries; attempt++ {
				rc := RetryContext{
					Attempt:         attempt,
					MaxRetries:      r.maxRetries,
					PreviousReasons: reasons,
					FromStage:       req.FromStage,
					ToStage:         req.ToStage,
				}
				out.Attempts = attempt

				result, err := req.Rerun(ctx, req.VentureID, req.FromStage, rc)
				if err != nil {
					observability.RecordRecoveryAttempt("error")
					r.warn("gate_recovery_attempt",
						"venture_id", req.VentureID,
						"attempt", attempt,
						"max_retries", r.maxRetries,
						"outcome", "error",
						"error", err.Error(),
					)
					continue
				}

				if result.Status == realitygate.StatusPass {
					observability.RecordRecoveryAttempt("passed")
					r.info("gate_recovery_attempt",
						"venture_id", req.VentureID,
						"attempt", attempt,
						"max_retries", r.maxRetries,
						"outcome", "passed",
					)
					res := result
					out.Recovered = true
					out.GateResult = &res
					return out
				}

				observability.RecordRecoveryAttempt("failed")
				r.info("gate_recovery_attempt",
					"venture_id", req.VentureID,
					"attempt", attempt,
					"max_retries", r.maxRetries,
					"outcome", "failed",
					"status", string(result.Status),
					"reason_count", len(result.Reasons),
				)
				res := result
				out.GateResult = &res
				if len(result.Reasons) > 0 {
					reasons = result.Reasons
				}
			}
		}
		// A rerun can surface a critical problem; route on the latest reasons.
		out.Severity = Classify(reasons)
	}

	if out.Severity == SeverityCritical {
		r.escalate(ctx, req, reasons, out.Attempts)
		out.Routing = RoutingEscalated
	} else {
		r.autoTrack(ctx, req, reasons, out.Attempts)
		out.Routing = RoutingAutoTracked
	}

	r.kill(ctx, req)
	out.Killed = true
	return out
}

func (r *Recoverer) escalate(ctx context.Context, req Request, reasons []realitygate.FailureReason, attempts int) {
	if r.store == nil {
		return
	}
	esc := Escalation{
		ID:        "esc_" + uuid.New().String(),
		VentureID: req.VentureID,
		Boundary:  realitygate.BoundaryKey(req.FromStage, req.ToStage),
		FromStage: req.FromStage,
		ToStage:   req.ToStage,
		Severity:  SeverityCritical,
		Reasons:   reasons,
		Attempts:  attempts,
		CreatedAt: r.now().UTC(),
	}
	if err := r.store.CreateEscalation(ctx, esc); err != nil {
		r.logError("gate_recovery_escalation_failed", "venture_id", req.VentureID, "error", err.Error())
		return
	}
	r.info("gate_recovery_escalated", "venture_id", req.VentureID, "escalation_id", esc.ID)
}

func (r *Recoverer) autoTrack(ctx context.Context, req Request, reasons []realitygate.FailureReason, attempts int) {
	if r.store == nil {
		return
	}
	patch := map[string]any{
		"gate_recovery": map[string]any{
			"status":      string(RoutingAutoTracked),
			"boundary":    realitygate.BoundaryKey(req.FromStage, req.ToStage),
			"fromStage":   req.FromStage,
			"toStage":     req.ToStage,
			"attempts":    attempts,
			"maxRetries":  r.maxRetries,
			"lastReasons": reasons,
			"trackedAt":   r.now().UTC().Format(time.RFC3339),
		},
	}
	if err := r.store.MergeVentureMetadata(ctx, req.VentureID, patch); err != nil {
		r.logError("gate_recovery_autotrack_failed", "venture_id", req.VentureID, "error", err.Error())
		return
	}
	r.info("gate_recovery_auto_tracked", "venture_id", req.VentureID, "attempts", attempts)
}

func (r *Recoverer) kill(ctx context.Context, req Request) {
	gate := GateName(req.FromStage, req.ToStage)
	if r.store == nil {
		return
	}
	if err := r.store.MarkKilledAtGate(ctx, req.VentureID, gate); err != nil {
		r.logError("gate_recovery_kill_failed", "venture_id", req.VentureID, "gate", gate, "error", err.Error())
		return
	}
	r.warn("venture_killed_at_gate", "venture_id", req.VentureID, "gate", gate)
}

func (r *Recoverer) info(msg string, kv ...any) {
	if r.logger != nil {
		r.logger.Info(msg, kv...)
	}
}

func (r *Recoverer) warn(msg string, kv ...any) {
	if r.logger != nil {
		r.logger.Warn(msg, kv...)
	}
}

func (r *Recoverer) logError(msg string, kv ...any) {
	if r.logger != nil {
		r.logger.Error(msg, kv...)
	}
}

// String renders an outcome for logs.
func (o Outcome) String() string {
	return fmt.Sprintf("recovered=%t killed=%t severity=%s attempts=%d routing=%s",
		o.Recovered, o.Killed, o.Severity, o.Attempts, o.Routing)
}
