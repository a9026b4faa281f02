package filter

import (
	"sort"
)

// Options carries the per-call configuration of an evaluation.
type Options struct {
	Preferences Preferences
	Logger      Logger
}

// Evaluate runs every rule against the stage output and maps the resulting
// triggers to an action. It never fails: malformed input degrades to the
// affected rule not firing.
func Evaluate(out StageOutput, opts Options) Decision {
	th, triggers := resolve(opts.Preferences, opts.Logger)

	for _, r := range rules {
		triggers = append(triggers, r(out, th)...)
	}

	sort.SliceStable(triggers, func(i, j int) bool {
		return triggers[i].Type.Rank() < triggers[j].Type.Rank()
	})

	business := businessTriggers(triggers)
	action := decideAction(business, th.allowInformational)
	auto := action == ActionAutoProceed

	recommendation := RecommendationPresentToChairman
	if auto {
		recommendation = RecommendationAutoProceed
	}

	reasons := make([]string, 0, len(business))
	for _, t := range business {
		reasons = append(reasons, t.Message)
	}

	if opts.Logger != nil {
		opts.Logger.Debug("filter_evaluated",
			"stage", out.Stage,
			"action", string(action),
			"trigger_count", len(triggers),
			"business_trigger_count", len(business),
		)
	}

	return Decision{
		Action:         action,
		Reasons:        reasons,
		Recommendation: recommendation,
		Raw: &Raw{
			AutoProceed:    auto,
			Triggers:       triggers,
			Recommendation: recommendation,
		},
	}
}

// decideAction maps business triggers to an action. HIGH wins over MEDIUM;
// an informational-only set proceeds when the chairman allows it.
func decideAction(business []Trigger, allowInformational bool) Action {
	if len(business) == 0 {
		return ActionAutoProceed
	}

	var high, medium bool
	for _, t := range business {
		switch t.Severity {
		case SeverityHigh:
			high = true
		case SeverityMedium:
			medium = true
		}
	}

	switch {
	case high:
		return ActionStop
	case medium:
		return ActionRequireReview
	case allowInformational:
		return ActionAutoProceed
	default:
		return ActionRequireReview
	}
}

func businessTriggers(triggers []Trigger) []Trigger {
	out := make([]Trigger, 0, len(triggers))
	for _, t := range triggers {
		if !t.IsMissingPreference() {
			out = append(out, t)
		}
	}
	return out
}
