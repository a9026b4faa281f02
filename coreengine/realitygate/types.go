// Package realitygate checks that a venture has produced real, good-enough
// artifacts before it crosses a gated stage boundary.
//
// For each required artifact the evaluator collects every problem in one
// pass: missing artifact, missing or low quality score, and (when a prober
// is supplied) an unreachable deployment URL. Infrastructure errors fail
// closed.
package realitygate

import (
	"context"
	"fmt"
	"time"
)

// =============================================================================
// Status and Reason Codes
// =============================================================================

// Status is the outcome of a gate evaluation.
type Status string

const (
	StatusPass          Status = "PASS"
	StatusFail          Status = "FAIL"
	StatusNotApplicable Status = "NOT_APPLICABLE"
)

// ReasonCode classifies a gate failure.
type ReasonCode string

const (
	ReasonArtifactMissing            ReasonCode = "ARTIFACT_MISSING"
	ReasonQualityScoreMissing        ReasonCode = "QUALITY_SCORE_MISSING"
	ReasonQualityScoreBelowThreshold ReasonCode = "QUALITY_SCORE_BELOW_THRESHOLD"
	ReasonURLUnreachable             ReasonCode = "URL_UNREACHABLE"
	ReasonDBError                    ReasonCode = "DB_ERROR"
	ReasonConfigError                ReasonCode = "CONFIG_ERROR"
)

// KnownReasonCodes lists every code the evaluator can emit.
var KnownReasonCodes = []ReasonCode{
	ReasonArtifactMissing,
	ReasonQualityScoreMissing,
	ReasonQualityScoreBelowThreshold,
	ReasonURLUnreachable,
	ReasonDBError,
	ReasonConfigError,
}

// IsKnown reports whether the code is one the evaluator emits.
func (c ReasonCode) IsKnown() bool {
	for _, k := range KnownReasonCodes {
		if k == c {
			return true
		}
	}
	return false
}

// =============================================================================
// Results
// =============================================================================

// FailureReason describes one problem found at a boundary.
type FailureReason struct {
	Code         ReasonCode `json:"code"`
	Message      string     `json:"message"`
	ArtifactType string     `json:"artifactType,omitempty"`
	Actual       *float64   `json:"actual,omitempty"`
	Required     *float64   `json:"required,omitempty"`
	Overridden   bool       `json:"overridden,omitempty"`
	URL          string     `json:"url,omitempty"`
	HTTPStatus   int        `json:"httpStatus,omitempty"`
}

// Result is the outcome of one boundary evaluation.
type Result struct {
	Status      Status          `json:"status"`
	Boundary    string          `json:"boundary"`
	Reasons     []FailureReason `json:"reasons"`
	EvaluatedAt time.Time       `json:"evaluatedAt"`
}

// Passed reports whether the boundary may be crossed. NOT_APPLICABLE passes.
func (r Result) Passed() bool {
	return r.Status != StatusFail
}

// Codes returns the reason codes in order.
func (r Result) Codes() []ReasonCode {
	codes := make([]ReasonCode, len(r.Reasons))
	for i, reason := range r.Reasons {
		codes[i] = reason.Code
	}
	return codes
}

// Summary joins the reason messages for display.
func (r Result) Summary() string {
	if len(r.Reasons) == 0 {
		return fmt.Sprintf("Reality gate %s: %s", r.Boundary, r.Status)
	}
	msg := fmt.Sprintf("Reality gate %s failed:", r.Boundary)
	for _, reason := range r.Reasons {
		msg += " " + reason.Message + ";"
	}
	return msg
}

// =============================================================================
// Collaborators
// =============================================================================

// Artifact is the gate's view of a persisted current artifact.
type Artifact struct {
	ArtifactType string    `json:"artifactType"`
	QualityScore *float64  `json:"qualityScore,omitempty"`
	URL          string    `json:"url,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// ArtifactReader performs the batched read of current artifacts for a venture.
type ArtifactReader interface {
	CurrentArtifacts(ctx context.Context, ventureID string, artifactTypes []string) ([]Artifact, error)
}

// Prober issues a HEAD request and reports the HTTP status code.
type Prober interface {
	Head(ctx context.Context, url string, timeout time.Duration) (int, error)
}

// Logger is the logging surface the evaluator needs.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}
