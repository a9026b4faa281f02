package filter

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// rule evaluates one trigger type against the stage output.
type rule func(out StageOutput, th thresholds) []Trigger

// rules is indexed in TriggerOrder.
var rules = []rule{
	costThresholdRule,
	budgetRule,
	newTechVendorRule,
	strategicPivotRule,
	lowScoreRule,
	novelPatternRule,
	constraintDriftRule,
}

func costThresholdRule(out StageOutput, th thresholds) []Trigger {
	if out.Cost == nil || *out.Cost <= th.costMax {
		return nil
	}
	return []Trigger{{
		Type:     TriggerCostThreshold,
		Kind:     KindBusiness,
		Severity: SeverityHigh,
		Message:  fmt.Sprintf("Cost $%s exceeds threshold $%s", formatNumber(*out.Cost), formatNumber(th.costMax)),
		Details:  Details{Threshold: float(th.costMax), Cost: float(*out.Cost)},
	}}
}

func budgetRule(out StageOutput, _ thresholds) []Trigger {
	if out.Budget == nil {
		return nil
	}
	b := out.Budget
	switch {
	case b.OverBudget:
		return []Trigger{{
			Type:     TriggerBudgetExceeded,
			Kind:     KindBusiness,
			Severity: SeverityHigh,
			Message:  fmt.Sprintf("Budget exceeded (%s%% used)", formatNumber(b.UsagePercent)),
			Details:  Details{UsagePercent: float(b.UsagePercent), OverBudget: true, Threshold: float(100)},
		}}
	case b.UsagePercent >= budgetWarnUsagePercent:
		return []Trigger{{
			Type:     TriggerBudgetExceeded,
			Kind:     KindBusiness,
			Severity: SeverityMedium,
			Message:  fmt.Sprintf("Budget usage at %s%%", formatNumber(b.UsagePercent)),
			Details:  Details{UsagePercent: float(b.UsagePercent), Threshold: float(budgetWarnUsagePercent)},
		}}
	}
	return nil
}

func newTechVendorRule(out StageOutput, th thresholds) []Trigger {
	var triggers []Trigger
	check := func(names []string, approved map[string]bool, category string) {
		seen := map[string]bool{}
		for _, name := range names {
			key := strings.ToLower(strings.TrimSpace(name))
			if key == "" || approved[key] || seen[key] {
				continue
			}
			seen[key] = true
			triggers = append(triggers, Trigger{
				Type:     TriggerNewTechVendor,
				Kind:     KindBusiness,
				Severity: SeverityHigh,
				Message:  fmt.Sprintf("Unapproved %s: %s", category, name),
				Details:  Details{Name: name, Category: category},
			})
		}
	}
	check(out.Technologies, th.approvedTech, "technology")
	check(out.Vendors, th.approvedVendors, "vendor")
	return triggers
}

func strategicPivotRule(out StageOutput, th thresholds) []Trigger {
	text := strings.ToLower(out.Description)
	if strings.TrimSpace(text) == "" {
		return nil
	}
	var matched []string
	for _, kw := range th.pivotKeywords {
		k := strings.ToLower(strings.TrimSpace(kw))
		if k != "" && strings.Contains(text, k) {
			matched = append(matched, kw)
		}
	}
	if len(matched) == 0 {
		return nil
	}
	return []Trigger{{
		Type:     TriggerStrategicPivot,
		Kind:     KindBusiness,
		Severity: SeverityHigh,
		Message:  fmt.Sprintf("Strategic pivot detected: %s", strings.Join(matched, ", ")),
		Details:  Details{Keywords: matched},
	}}
}

func lowScoreRule(out StageOutput, th thresholds) []Trigger {
	if out.Score == nil || *out.Score >= th.minScore {
		return nil
	}
	return []Trigger{{
		Type:     TriggerLowScore,
		Kind:     KindBusiness,
		Severity: SeverityMedium,
		Message:  fmt.Sprintf("Score %s below minimum %s", formatNumber(*out.Score), formatNumber(th.minScore)),
		Details:  Details{Threshold: float(th.minScore), Score: float(*out.Score)},
	}}
}

func novelPatternRule(out StageOutput, _ thresholds) []Trigger {
	prior := lowerSet(out.PriorPatterns)
	seen := map[string]bool{}
	var triggers []Trigger
	for _, p := range out.Patterns {
		key := strings.ToLower(strings.TrimSpace(p))
		if key == "" || prior[key] || seen[key] {
			continue
		}
		seen[key] = true
		triggers = append(triggers, Trigger{
			Type:     TriggerNovelPattern,
			Kind:     KindBusiness,
			Severity: SeverityMedium,
			Message:  fmt.Sprintf("Novel pattern: %s", p),
			Details:  Details{Name: p},
		})
	}
	return triggers
}

func constraintDriftRule(out StageOutput, _ thresholds) []Trigger {
	if len(out.Constraints) == 0 || len(out.ApprovedConstraints) == 0 {
		return nil
	}
	keys := make([]string, 0, len(out.Constraints))
	for k := range out.Constraints {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var triggers []Trigger
	for _, k := range keys {
		approved, ok := out.ApprovedConstraints[k]
		if !ok {
			continue
		}
		current := out.Constraints[k]
		if reflect.DeepEqual(current, approved) {
			continue
		}
		triggers = append(triggers, Trigger{
			Type:     TriggerConstraintDrift,
			Kind:     KindBusiness,
			Severity: SeverityMedium,
			Message:  fmt.Sprintf("Constraint drift on %s", k),
			Details:  Details{ConstraintKey: k, Current: current, Approved: approved},
		})
	}
	return triggers
}

func float(f float64) *float64 { return &f }

// formatNumber prints integral values without a fractional part.
func formatNumber(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%.2f", f)
}
