package stagegate

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/jeeves-cluster-organization/ventureflow/coreengine/filter"
	"github.com/jeeves-cluster-organization/ventureflow/coreengine/observability"
)

// maxSummaryLength bounds chairman-facing summaries.
const maxSummaryLength = 240

// Validator dispatches a transition to its stage gate.
type Validator struct {
	artifacts ArtifactSource
	prefs     PreferenceResolver
	logger    Logger
	newID     func() string
}

// NewValidator creates a Validator. A nil preference resolver evaluates
// kill and promotion gates against default thresholds.
func NewValidator(artifacts ArtifactSource, prefs PreferenceResolver, logger Logger) *Validator {
	return &Validator{
		artifacts: artifacts,
		prefs:     prefs,
		logger:    logger,
		newID:     uuid.NewString,
	}
}

// Validate checks the transition fromStage -> toStage. Artifact gates take
// precedence, then kill gates, then promotion gates. Transitions without a
// gate pass.
func (v *Validator) Validate(ctx context.Context, ventureID string, fromStage, toStage int, opts Options) Result {
	transition := fmt.Sprintf("%d->%d", fromStage, toStage)
	v.debug("stage_gate_check", "venture_id", ventureID, "transition", transition)

	var res Result
	switch {
	case transition == "5->6":
		res = v.financialViability(ctx, ventureID)
	case transition == "21->22":
		res = v.uatSignoff(ctx, ventureID)
	case transition == "22->23":
		res = v.deploymentHealth(ctx, ventureID)
	case killStages[toStage]:
		res = v.thresholdGate(ctx, GateTypeKill, ventureID, toStage, opts)
	case promotionStages[toStage]:
		res = v.thresholdGate(ctx, GateTypePromotion, ventureID, toStage, opts)
	default:
		return Result{Passed: true, Details: map[string]any{"message": "No stage-specific gate required"}}
	}

	observability.RecordGateEvaluation("stage", gateStatus(res))
	v.info("stage_gate_evaluated",
		"venture_id", ventureID,
		"transition", transition,
		"gate", res.GateName,
		"passed", res.Passed,
	)
	return res
}

// thresholdGate runs the filter engine for a kill or promotion gate.
func (v *Validator) thresholdGate(ctx context.Context, gateType GateType, ventureID string, toStage int, opts Options) Result {
	res := Result{
		GateName:      gateName(gateType, toStage),
		GateType:      gateType,
		CorrelationID: v.newID(),
		Stage:         toStage,
	}

	prefs, err := v.resolve(ctx, ventureID, opts.ChairmanID)
	if err != nil {
		v.logError("stage_gate_error", "gate", res.GateName, "venture_id", ventureID, "error", err.Error())
		res.Status = StatusError
		res.Error = err.Error()
		res.Thresholds = []Threshold{}
		res.Summary = fmt.Sprintf("%s gate error at stage %d. System failure requires investigation.", label(gateType), toStage)
		return res
	}

	input := opts.StageOutput
	input.Stage = fmt.Sprint(toStage)
	decision := filter.Evaluate(input, filter.Options{Preferences: prefs, Logger: v.logger})

	// Defaulted preferences are not failed thresholds.
	business := decision.BusinessTriggers()
	res.Thresholds = thresholds(business)
	res.Recommendation = decision.Raw.Recommendation

	switch {
	case gateType == GateTypeKill && decision.Raw.AutoProceed:
		res.Passed = true
		res.Status = StatusPass
	case gateType == GateTypeKill:
		res.Status = StatusRequiresChairmanDecision
	case hasHigh(business):
		res.Status = StatusFail
	default:
		// Promotion always needs the chairman, even when every threshold holds.
		res.Status = StatusRequiresChairmanApproval
	}

	res.Summary = buildSummary(gateType, toStage, res.Status, len(res.Thresholds))
	return res
}

func (v *Validator) resolve(ctx context.Context, ventureID, chairmanID string) (filter.Preferences, error) {
	if chairmanID == "" || v.prefs == nil {
		return filter.Preferences{}, nil
	}
	prefs, err := v.prefs.ResolvePreferences(ctx, chairmanID, ventureID, filter.Keys())
	if err != nil {
		return nil, fmt.Errorf("resolve preferences: %w", err)
	}
	return prefs, nil
}

func thresholds(triggers []filter.Trigger) []Threshold {
	out := make([]Threshold, 0, len(triggers))
	for _, t := range triggers {
		out = append(out, Threshold{
			ThresholdID: string(t.Type),
			Expected:    t.Expected(),
			Actual:      t.Actual(),
			Pass:        false,
			Severity:    t.Severity,
			Message:     t.Message,
		})
	}
	return out
}

func hasHigh(triggers []filter.Trigger) bool {
	for _, t := range triggers {
		if t.Severity == filter.SeverityHigh {
			return true
		}
	}
	return false
}

func gateName(gateType GateType, stage int) string {
	if gateType == GateTypeKill {
		return fmt.Sprintf("KILL_GATE_STAGE_%d", stage)
	}
	return fmt.Sprintf("PROMOTION_GATE_STAGE_%d", stage)
}

func label(gateType GateType) string {
	if gateType == GateTypeKill {
		return "Kill"
	}
	return "Promotion"
}

// buildSummary renders a chairman-facing summary of at most maxSummaryLength characters.
func buildSummary(gateType GateType, stage int, status Status, failed int) string {
	l := label(gateType)

	var s string
	switch status {
	case StatusPass:
		s = fmt.Sprintf("%s gate at stage %d: PASSED. All thresholds met. Venture may proceed.", l, stage)
	case StatusFail:
		s = fmt.Sprintf("%s gate at stage %d: BLOCKED. %d threshold(s) failed. Venture cannot advance until issues resolved.", l, stage, failed)
	case StatusRequiresChairmanDecision:
		s = fmt.Sprintf("%s gate at stage %d: %d threshold(s) failed. Chairman decision required: continue or terminate venture.", l, stage, failed)
	case StatusRequiresChairmanApproval:
		if failed > 0 {
			s = fmt.Sprintf("%s gate at stage %d: %d minor issue(s) noted. Chairman approval required to advance.", l, stage, failed)
		} else {
			s = fmt.Sprintf("%s gate at stage %d: All thresholds met. Chairman approval required to advance.", l, stage)
		}
	case StatusError:
		s = fmt.Sprintf("%s gate at stage %d: System error. Investigation required before proceeding.", l, stage)
	default:
		s = fmt.Sprintf("%s gate at stage %d: Status %s.", l, stage, status)
	}
	return Truncate(s)
}

// Truncate shortens s to the summary limit, marking the cut with "...".
func Truncate(s string) string {
	r := []rune(s)
	if len(r) <= maxSummaryLength {
		return s
	}
	return string(r[:maxSummaryLength-3]) + "..."
}

func gateStatus(res Result) string {
	if res.Status != "" {
		return string(res.Status)
	}
	if res.Passed {
		return string(StatusPass)
	}
	return string(StatusFail)
}

// errNoArtifactSource is reported when an artifact gate runs without a source.
var errNoArtifactSource = errors.New("artifact source not configured")

func (v *Validator) debug(msg string, kv ...any) {
	if v.logger != nil {
		v.logger.Debug(msg, kv...)
	}
}

func (v *Validator) info(msg string, kv ...any) {
	if v.logger != nil {
		v.logger.Info(msg, kv...)
	}
}

func (v *Validator) warn(msg string, kv ...any) {
	if v.logger != nil {
		v.logger.Warn(msg, kv...)
	}
}

func (v *Validator) logError(msg string, kv ...any) {
	if v.logger != nil {
		v.logger.Error(msg, kv...)
	}
}
