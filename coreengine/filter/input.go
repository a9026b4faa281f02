package filter

import (
	"github.com/jeeves-cluster-organization/ventureflow/coreengine/typeutil"
)

// FromPayload builds a StageOutput from a decoded JSON object.
func FromPayload(payload map[string]any) StageOutput {
	var out StageOutput
	out.Overlay(payload)
	return out
}

// Overlay copies recognised fields from payload onto the output.
// Later payloads win field by field; fields with the wrong shape are ignored.
func (o *StageOutput) Overlay(payload map[string]any) {
	if payload == nil {
		return
	}
	if s, ok := typeutil.NonEmptyString(payload["description"]); ok {
		o.Description = s
	}
	if f, ok := typeutil.Float64(payload["cost"]); ok {
		o.Cost = float(f)
	}
	if f, ok := typeutil.Float64(payload["score"]); ok {
		o.Score = float(f)
	}
	if names := typeutil.Names(payload["technologies"]); names != nil {
		o.Technologies = names
	}
	if names := typeutil.Names(payload["vendors"]); names != nil {
		o.Vendors = names
	}
	if list, ok := typeutil.StringSlice(payload["patterns"]); ok {
		o.Patterns = list
	}
	if list, ok := typeutil.StringSlice(payload["priorPatterns"]); ok {
		o.PriorPatterns = list
	}
	if m, ok := typeutil.Map(payload["constraints"]); ok {
		o.Constraints = m
	}
	if m, ok := typeutil.Map(payload["approvedConstraints"]); ok {
		o.ApprovedConstraints = m
	}
	if m, ok := typeutil.Map(payload["budgetStatus"]); ok {
		o.Budget = &BudgetStatus{
			OverBudget:   typeutil.BoolDefault(m["overBudget"], false),
			UsagePercent: typeutil.Float64Default(m["usagePercent"], 0),
		}
	}
}
