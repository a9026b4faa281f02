package realitygate

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/jeeves-cluster-organization/ventureflow/coreengine/observability"
)

// DefaultProbeTimeout is the per-attempt deadline for URL probes.
const DefaultProbeTimeout = 5 * time.Second

// reachableStatuses are HTTP codes that prove a deployment exists. Auth and
// method errors count: the host answered.
var reachableStatuses = map[int]bool{
	200: true, 201: true, 204: true,
	301: true, 302: true, 307: true, 308: true,
	401: true, 403: true, 405: true,
}

// IsReachableStatus reports whether an HTTP status counts as reachable.
func IsReachableStatus(code int) bool {
	return reachableStatuses[code]
}

// Request is the input of one evaluation. Collaborators are passed per call.
type Request struct {
	VentureID string
	FromStage int
	ToStage   int

	Reader ArtifactReader
	// Prober is optional; without it URL checks are skipped.
	Prober Prober
	// Now is optional; defaults to time.Now.
	Now func() time.Time
	// ThresholdOverrides replaces policy minimums per artifact type.
	ThresholdOverrides map[string]float64
}

// Evaluator evaluates boundaries against a policy table.
type Evaluator struct {
	policy       Policy
	probeTimeout time.Duration
	logger       Logger
}

// EvaluatorOption configures an Evaluator.
type EvaluatorOption func(*Evaluator)

// WithProbeTimeout overrides the per-attempt URL probe deadline.
func WithProbeTimeout(d time.Duration) EvaluatorOption {
	return func(e *Evaluator) {
		if d > 0 {
			e.probeTimeout = d
		}
	}
}

// WithLogger sets the evaluator logger.
func WithLogger(logger Logger) EvaluatorOption {
	return func(e *Evaluator) {
		e.logger = logger
	}
}

// NewEvaluator creates an evaluator. A nil policy uses DefaultPolicy.
func NewEvaluator(policy Policy, opts ...EvaluatorOption) *Evaluator {
	if policy == nil {
		policy = DefaultPolicy
	}
	e := &Evaluator{
		policy:       policy,
		probeTimeout: DefaultProbeTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policy returns the evaluator's boundary table.
func (e *Evaluator) Policy() Policy {
	return e.policy
}

// Evaluate checks the boundary fromStage->toStage for the venture.
func (e *Evaluator) Evaluate(ctx context.Context, req Request) Result {
	now := time.Now
	if req.Now != nil {
		now = req.Now
	}
	boundary := BoundaryKey(req.FromStage, req.ToStage)

	reqs, ok := e.policy.Lookup(req.FromStage, req.ToStage)
	if !ok {
		return Result{Status: StatusNotApplicable, Boundary: boundary, Reasons: []FailureReason{}, EvaluatedAt: now()}
	}

	if strings.TrimSpace(req.VentureID) == "" || req.Reader == nil {
		missing := "ventureId"
		if req.Reader == nil {
			missing = "artifact reader"
		}
		return e.finish(boundary, now(), []FailureReason{{
			Code:    ReasonConfigError,
			Message: fmt.Sprintf("Reality gate misconfigured: %s is required", missing),
		}})
	}

	artifacts, err := req.Reader.CurrentArtifacts(ctx, req.VentureID, artifactTypes(reqs))
	if err != nil {
		e.warn("reality_gate_read_failed", "venture_id", req.VentureID, "boundary", boundary, "error", err.Error())
		return e.finish(boundary, now(), []FailureReason{{
			Code:    ReasonDBError,
			Message: fmt.Sprintf("Artifact query failed: %v", err),
		}})
	}

	byType := latestByType(artifacts)
	reasons := make([]FailureReason, 0)
	for _, r := range reqs {
		reasons = append(reasons, e.check(ctx, r, byType, req)...)
	}

	result := e.finish(boundary, now(), reasons)
	e.debug("reality_gate_evaluated",
		"venture_id", req.VentureID,
		"boundary", boundary,
		"status", string(result.Status),
		"reason_count", len(reasons),
	)
	return result
}

// check collects every problem with one required artifact.
func (e *Evaluator) check(ctx context.Context, r Requirement, byType map[string]Artifact, req Request) []FailureReason {
	art, ok := byType[r.ArtifactType]
	if !ok {
		return []FailureReason{{
			Code:         ReasonArtifactMissing,
			Message:      fmt.Sprintf("Required artifact %s is missing", r.ArtifactType),
			ArtifactType: r.ArtifactType,
		}}
	}

	var reasons []FailureReason
	required, overridden := r.MinQualityScore, false
	if v, ok := req.ThresholdOverrides[r.ArtifactType]; ok {
		required, overridden = v, true
	}

	switch {
	case art.QualityScore == nil:
		reasons = append(reasons, FailureReason{
			Code:         ReasonQualityScoreMissing,
			Message:      fmt.Sprintf("Artifact %s has no quality score", r.ArtifactType),
			ArtifactType: r.ArtifactType,
			Required:     ptr(required),
		})
	case *art.QualityScore < required:
		reasons = append(reasons, FailureReason{
			Code:         ReasonQualityScoreBelowThreshold,
			Message:      fmt.Sprintf("Artifact %s quality %.2f below required %.2f", r.ArtifactType, *art.QualityScore, required),
			ArtifactType: r.ArtifactType,
			Actual:       ptr(*art.QualityScore),
			Required:     ptr(required),
			Overridden:   overridden,
		})
	}

	if r.RequiresURLCheck && req.Prober != nil {
		if reason, ok := e.checkURL(ctx, r.ArtifactType, art.URL, req.Prober); !ok {
			reasons = append(reasons, reason)
		}
	}
	return reasons
}

// checkURL probes the URL, retrying exactly once on a timeout.
func (e *Evaluator) checkURL(ctx context.Context, artifactType, url string, prober Prober) (FailureReason, bool) {
	if strings.TrimSpace(url) == "" {
		observability.RecordURLProbe("missing")
		return FailureReason{
			Code:         ReasonURLUnreachable,
			Message:      fmt.Sprintf("Artifact %s has no URL to verify", artifactType),
			ArtifactType: artifactType,
		}, false
	}

	status, err := prober.Head(ctx, url, e.probeTimeout)
	if err != nil && IsTimeout(err) {
		e.debug("reality_gate_probe_retry", "url", url, "error", err.Error())
		status, err = prober.Head(ctx, url, e.probeTimeout)
	}

	if err != nil {
		observability.RecordURLProbe("error")
		return FailureReason{
			Code:         ReasonURLUnreachable,
			Message:      fmt.Sprintf("URL %s unreachable: %v", url, err),
			ArtifactType: artifactType,
			URL:          url,
		}, false
	}
	if !IsReachableStatus(status) {
		observability.RecordURLProbe("bad_status")
		return FailureReason{
			Code:         ReasonURLUnreachable,
			Message:      fmt.Sprintf("URL %s returned HTTP %d", url, status),
			ArtifactType: artifactType,
			URL:          url,
			HTTPStatus:   status,
		}, false
	}
	observability.RecordURLProbe("reachable")
	return FailureReason{}, true
}

func (e *Evaluator) finish(boundary string, at time.Time, reasons []FailureReason) Result {
	status := StatusPass
	if len(reasons) > 0 {
		status = StatusFail
	}
	observability.RecordGateEvaluation("reality", string(status))
	return Result{Status: status, Boundary: boundary, Reasons: reasons, EvaluatedAt: at}
}

func (e *Evaluator) debug(msg string, kv ...any) {
	if e.logger != nil {
		e.logger.Debug(msg, kv...)
	}
}

func (e *Evaluator) warn(msg string, kv ...any) {
	if e.logger != nil {
		e.logger.Warn(msg, kv...)
	}
}

// IsTimeout reports whether err is a timeout-class failure. DNS and
// connection-refused errors are not.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// latestByType keeps the newest artifact per type. More than one artifact
// of a type can be flagged current.
func latestByType(artifacts []Artifact) map[string]Artifact {
	out := make(map[string]Artifact, len(artifacts))
	for _, a := range artifacts {
		prev, ok := out[a.ArtifactType]
		if !ok || a.CreatedAt.After(prev.CreatedAt) {
			out[a.ArtifactType] = a
		}
	}
	return out
}

func ptr(f float64) *float64 { return &f }
