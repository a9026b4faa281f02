package stagegate

import (
	"context"
	"fmt"
	"time"

	"github.com/jeeves-cluster-organization/ventureflow/coreengine/filter"
)

// ReviewArtifactType is the artifact type advisory reviews are stored under.
const ReviewArtifactType = "devils_advocate_review"

// Assessments a review can reach.
const (
	AssessmentConcerns   = "concerns"
	AssessmentAcceptable = "acceptable"
)

// Review is an adversarial review of a kill or promotion stage. Reviews are
// advisory and never block a transition.
type Review struct {
	Stage             int       `json:"stageId"`
	GateType          GateType  `json:"gateType"`
	OverallAssessment string    `json:"overallAssessment"`
	CounterArguments  []string  `json:"counterArguments"`
	IsFallback        bool      `json:"isFallback"`
	ReviewedAt        time.Time `json:"reviewedAt"`
}

// Payload renders the review as an artifact payload.
func (r Review) Payload() map[string]any {
	args := make([]any, len(r.CounterArguments))
	for i, a := range r.CounterArguments {
		args[i] = a
	}
	return map[string]any{
		"stageId":           r.Stage,
		"gateType":          string(r.GateType),
		"overallAssessment": r.OverallAssessment,
		"counterArguments":  args,
		"isFallback":        r.IsFallback,
		"reviewedAt":        r.ReviewedAt.UTC().Format(time.RFC3339),
	}
}

// ReviewRequest is the input of an advisory review.
type ReviewRequest struct {
	VentureID   string
	VentureName string
	Stage       int
	GateType    GateType
	GateResult  *Result
	StageOutput filter.StageOutput
}

// Reviewer produces advisory reviews.
type Reviewer interface {
	Review(ctx context.Context, req ReviewRequest) (*Review, error)
}

// FallbackReviewer derives a deterministic review from the gate result and
// stage output. It is used when no model-backed reviewer is configured.
type FallbackReviewer struct {
	Now func() time.Time
}

// Review implements Reviewer.
func (f FallbackReviewer) Review(_ context.Context, req ReviewRequest) (*Review, error) {
	now := time.Now
	if f.Now != nil {
		now = f.Now
	}

	args := []string{}
	if g := req.GateResult; g != nil {
		for _, th := range g.Thresholds {
			args = append(args, th.Message)
		}
		for _, c := range g.Checks {
			if !c.Passed && c.Reason != "" {
				args = append(args, c.Reason)
			}
		}
	}

	out := req.StageOutput
	if out.Score == nil {
		args = append(args, "No quality score was reported for this stage")
	}
	if out.Cost != nil {
		args = append(args, fmt.Sprintf("Cost estimate of %.0f has not been independently validated", *out.Cost))
	}
	if len(out.Vendors) > 0 {
		args = append(args, fmt.Sprintf("Depends on %d external vendor(s)", len(out.Vendors)))
	}

	assessment := AssessmentAcceptable
	if g := req.GateResult; g != nil && (!g.Passed || len(g.Thresholds) > 0) {
		assessment = AssessmentConcerns
	}

	return &Review{
		Stage:             req.Stage,
		GateType:          req.GateType,
		OverallAssessment: assessment,
		CounterArguments:  args,
		IsFallback:        true,
		ReviewedAt:        now().UTC(),
	}, nil
}

// Ensure FallbackReviewer implements Reviewer.
var _ Reviewer = FallbackReviewer{}
