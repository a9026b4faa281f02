package filter

import (
	"fmt"
	"strings"

	"github.com/jeeves-cluster-organization/ventureflow/coreengine/typeutil"
)

// Canonical preference keys read by the engine.
const (
	PrefCostMaxUSD         = "filter.cost_max_usd"
	PrefMinScore           = "filter.min_score"
	PrefApprovedTechList   = "filter.approved_tech_list"
	PrefApprovedVendorList = "filter.approved_vendor_list"
	PrefPivotKeywords      = "filter.pivot_keywords"
	PrefAllowInformational = "filter.allow_informational"
)

const (
	defaultCostMaxUSD      = 10000.0
	defaultMinScore        = 7.0
	budgetWarnUsagePercent = 80.0
)

// DefaultPivotKeywords are used when filter.pivot_keywords is not set.
var DefaultPivotKeywords = []string{
	"pivot",
	"rebrand",
	"change direction",
	"new market",
	"abandon",
}

// CanonicalKeys lists the keys that produce a missing-preference finding when unset.
var CanonicalKeys = []string{
	PrefCostMaxUSD,
	PrefMinScore,
	PrefApprovedTechList,
	PrefApprovedVendorList,
	PrefPivotKeywords,
}

// PreferenceValue is one resolved chairman preference.
type PreferenceValue struct {
	Value any    `json:"value"`
	Scope string `json:"scope,omitempty"`
}

// Preferences maps preference keys to resolved values.
type Preferences map[string]PreferenceValue

// Keys returns all keys the engine may read, for batched resolution.
func Keys() []string {
	keys := make([]string, 0, len(CanonicalKeys)+1)
	keys = append(keys, CanonicalKeys...)
	return append(keys, PrefAllowInformational)
}

// thresholds is the fully resolved configuration for one evaluation.
type thresholds struct {
	costMax            float64
	minScore           float64
	approvedTech       map[string]bool
	approvedVendors    map[string]bool
	pivotKeywords      []string
	allowInformational bool
}

// resolve reads every canonical key, falling back to defaults. Each missing
// key yields an INFO finding; malformed values fall back silently apart
// from a warning.
func resolve(prefs Preferences, logger Logger) (thresholds, []Trigger) {
	var missing []Trigger
	lookup := func(key string, def any) (any, bool) {
		pv, ok := prefs[key]
		if !ok || pv.Value == nil {
			missing = append(missing, missingPreference(key, def))
			return nil, false
		}
		return pv.Value, true
	}
	malformed := func(key string, v any) {
		if logger != nil {
			logger.Warn("filter_preference_malformed",
				"key", key,
				"type", fmt.Sprintf("%T", v),
			)
		}
	}

	th := thresholds{
		costMax:  defaultCostMaxUSD,
		minScore: defaultMinScore,
	}

	if v, ok := lookup(PrefCostMaxUSD, defaultCostMaxUSD); ok {
		if f, ok := typeutil.Float64(v); ok {
			th.costMax = f
		} else {
			malformed(PrefCostMaxUSD, v)
		}
	}

	if v, ok := lookup(PrefMinScore, defaultMinScore); ok {
		if f, ok := typeutil.Float64(v); ok {
			th.minScore = f
		} else {
			malformed(PrefMinScore, v)
		}
	}

	th.approvedTech = map[string]bool{}
	if v, ok := lookup(PrefApprovedTechList, []string{}); ok {
		if list, ok := typeutil.StringSlice(v); ok {
			th.approvedTech = lowerSet(list)
		} else {
			malformed(PrefApprovedTechList, v)
		}
	}

	th.approvedVendors = map[string]bool{}
	if v, ok := lookup(PrefApprovedVendorList, []string{}); ok {
		if list, ok := typeutil.StringSlice(v); ok {
			th.approvedVendors = lowerSet(list)
		} else {
			malformed(PrefApprovedVendorList, v)
		}
	}

	th.pivotKeywords = DefaultPivotKeywords
	if v, ok := lookup(PrefPivotKeywords, DefaultPivotKeywords); ok {
		if list, ok := typeutil.StringSlice(v); ok {
			th.pivotKeywords = list
		} else {
			malformed(PrefPivotKeywords, v)
		}
	}

	if pv, ok := prefs[PrefAllowInformational]; ok {
		th.allowInformational = typeutil.BoolDefault(pv.Value, false)
	}

	return th, missing
}

func missingPreference(key string, def any) Trigger {
	return Trigger{
		Type:       TriggerConstraintDrift,
		Kind:       KindMissingPreference,
		Severity:   SeverityInfo,
		Message:    fmt.Sprintf("Preference %s not set; using default", key),
		Details:    Details{DefaultValue: def},
		MissingKey: key,
	}
}

func lowerSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, item := range items {
		set[strings.ToLower(strings.TrimSpace(item))] = true
	}
	return set
}
