package stagegate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeeves-cluster-organization/ventureflow/coreengine/filter"
)

// =============================================================================
// TEST DOUBLES
// =============================================================================

type artifactKey struct {
	stage        int
	artifactType string
}

type fakeArtifacts struct {
	items map[artifactKey]map[string]any
	err   error
}

func (f *fakeArtifacts) CurrentStageArtifact(_ context.Context, _ string, stage int, artifactType string) (*StoredArtifact, error) {
	if f.err != nil {
		return nil, f.err
	}
	payload, ok := f.items[artifactKey{stage, artifactType}]
	if !ok {
		return nil, nil
	}
	return &StoredArtifact{Payload: payload, CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}, nil
}

type fakePrefs struct {
	prefs filter.Preferences
	err   error
	calls int
}

func (f *fakePrefs) ResolvePreferences(_ context.Context, _, _ string, _ []string) (filter.Preferences, error) {
	f.calls++
	return f.prefs, f.err
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

func ptr(f float64) *float64 { return &f }

func newValidator(arts *fakeArtifacts, prefs PreferenceResolver) *Validator {
	v := NewValidator(arts, prefs, nopLogger{})
	v.newID = func() string { return "corr-1" }
	return v
}

// =============================================================================
// DISPATCH TESTS
// =============================================================================

func TestGateTypeFor(t *testing.T) {
	for _, s := range KillStages() {
		gt, ok := GateTypeFor(s)
		assert.True(t, ok)
		assert.Equal(t, GateTypeKill, gt, "stage %d", s)
	}
	for _, s := range PromotionStages() {
		gt, ok := GateTypeFor(s)
		assert.True(t, ok)
		assert.Equal(t, GateTypePromotion, gt, "stage %d", s)
	}
	_, ok := GateTypeFor(4)
	assert.False(t, ok)
}

func TestValidate_UngatedTransitionPasses(t *testing.T) {
	res := newValidator(&fakeArtifacts{}, nil).Validate(context.Background(), "v1", 6, 7, Options{})

	assert.True(t, res.Passed)
	assert.Empty(t, res.GateName)
	assert.Equal(t, "No stage-specific gate required", res.Details["message"])
}

func TestValidate_ArtifactGateTakesPrecedenceOverKill(t *testing.T) {
	// 22->23 enters a kill stage but is guarded by the deployment gate.
	res := newValidator(&fakeArtifacts{}, nil).Validate(context.Background(), "v1", 22, 23, Options{})
	assert.Equal(t, "DEPLOYMENT_HEALTH", res.GateName)
	assert.Equal(t, GateTypeExisting, res.GateType)

	// 4->5 enters a kill stage and has no artifact gate.
	res = newValidator(&fakeArtifacts{}, nil).Validate(context.Background(), "v1", 4, 5, Options{})
	assert.Equal(t, "KILL_GATE_STAGE_5", res.GateName)
}

// =============================================================================
// KILL GATE TESTS
// =============================================================================

func TestKillGate(t *testing.T) {
	tests := []struct {
		name       string
		output     filter.StageOutput
		wantPassed bool
		wantStatus Status
		wantCount  int
	}{
		{"clean output passes", filter.StageOutput{Cost: ptr(100), Score: ptr(9)}, true, StatusPass, 0},
		{"low score needs decision", filter.StageOutput{Score: ptr(3)}, false, StatusRequiresChairmanDecision, 1},
		{"cost over ceiling needs decision", filter.StageOutput{Cost: ptr(50000)}, false, StatusRequiresChairmanDecision, 1},
	}

	prefs := &fakePrefs{prefs: filter.Preferences{
		filter.PrefCostMaxUSD:         {Value: 10000.0},
		filter.PrefMinScore:           {Value: 7.0},
		filter.PrefApprovedTechList:   {Value: []any{}},
		filter.PrefApprovedVendorList: {Value: []any{}},
		filter.PrefPivotKeywords:      {Value: []any{"pivot"}},
	}}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := newValidator(&fakeArtifacts{}, prefs).Validate(context.Background(), "v1", 2, 3, Options{
				ChairmanID:  "chair-1",
				StageOutput: tt.output,
			})

			assert.Equal(t, tt.wantPassed, res.Passed)
			assert.Equal(t, tt.wantStatus, res.Status)
			assert.Equal(t, GateTypeKill, res.GateType)
			assert.Equal(t, "KILL_GATE_STAGE_3", res.GateName)
			assert.Equal(t, "corr-1", res.CorrelationID)
			assert.Equal(t, 3, res.Stage)
			assert.Len(t, res.Thresholds, tt.wantCount)
			assert.LessOrEqual(t, len(res.Summary), maxSummaryLength)
			for _, th := range res.Thresholds {
				assert.False(t, th.Pass)
			}
		})
	}
}

func TestKillGate_ThresholdCarriesExpectedAndActual(t *testing.T) {
	prefs := &fakePrefs{prefs: filter.Preferences{
		filter.PrefCostMaxUSD:         {Value: 10000.0},
		filter.PrefMinScore:           {Value: 7.0},
		filter.PrefApprovedTechList:   {Value: []any{}},
		filter.PrefApprovedVendorList: {Value: []any{}},
		filter.PrefPivotKeywords:      {Value: []any{}},
	}}
	res := newValidator(&fakeArtifacts{}, prefs).Validate(context.Background(), "v1", 12, 13, Options{
		ChairmanID:  "chair-1",
		StageOutput: filter.StageOutput{Cost: ptr(15000)},
	})

	require.Len(t, res.Thresholds, 1)
	th := res.Thresholds[0]
	assert.Equal(t, "cost_threshold", th.ThresholdID)
	assert.Equal(t, 10000.0, th.Expected)
	assert.Equal(t, 15000.0, th.Actual)
	assert.Equal(t, filter.SeverityHigh, th.Severity)
	assert.Equal(t, "Kill gate at stage 13: 1 threshold(s) failed. Chairman decision required: continue or terminate venture.", res.Summary)
}

func TestKillGate_PreferenceErrorFailsClosed(t *testing.T) {
	prefs := &fakePrefs{err: errors.New("preference store offline")}

	res := newValidator(&fakeArtifacts{}, prefs).Validate(context.Background(), "v1", 4, 5, Options{ChairmanID: "chair-1"})

	assert.False(t, res.Passed)
	assert.Equal(t, StatusError, res.Status)
	assert.Contains(t, res.Error, "preference store offline")
	assert.Empty(t, res.Thresholds)
	assert.Equal(t, "Kill gate error at stage 5. System failure requires investigation.", res.Summary)
}

func TestKillGate_NoChairmanSkipsPreferenceLoad(t *testing.T) {
	prefs := &fakePrefs{}
	newValidator(&fakeArtifacts{}, prefs).Validate(context.Background(), "v1", 2, 3, Options{})
	assert.Zero(t, prefs.calls)
}

// =============================================================================
// PROMOTION GATE TESTS
// =============================================================================

func TestPromotionGate(t *testing.T) {
	tests := []struct {
		name       string
		output     filter.StageOutput
		wantStatus Status
		wantPrefix string
	}{
		{"high severity fails", filter.StageOutput{Cost: ptr(99999)}, StatusFail, "Promotion gate at stage 16: BLOCKED."},
		{"medium needs approval", filter.StageOutput{Score: ptr(2)}, StatusRequiresChairmanApproval, "Promotion gate at stage 16: 1 minor issue(s) noted."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := newValidator(&fakeArtifacts{}, nil).Validate(context.Background(), "v1", 15, 16, Options{StageOutput: tt.output})

			assert.False(t, res.Passed, "promotion never auto-passes")
			assert.Equal(t, tt.wantStatus, res.Status)
			assert.Equal(t, "PROMOTION_GATE_STAGE_16", res.GateName)
			assert.True(t, strings.HasPrefix(res.Summary, tt.wantPrefix), res.Summary)
		})
	}
}

func TestPromotionGate_CleanStillNeedsApproval(t *testing.T) {
	prefs := &fakePrefs{prefs: filter.Preferences{
		filter.PrefCostMaxUSD:         {Value: 10000.0},
		filter.PrefMinScore:           {Value: 7.0},
		filter.PrefApprovedTechList:   {Value: []any{}},
		filter.PrefApprovedVendorList: {Value: []any{}},
		filter.PrefPivotKeywords:      {Value: []any{}},
	}}
	res := newValidator(&fakeArtifacts{}, prefs).Validate(context.Background(), "v1", 16, 17, Options{ChairmanID: "c"})

	assert.False(t, res.Passed)
	assert.Equal(t, StatusRequiresChairmanApproval, res.Status)
	assert.Equal(t, "Promotion gate at stage 17: All thresholds met. Chairman approval required to advance.", res.Summary)
}

// =============================================================================
// ARTIFACT GATE TESTS
// =============================================================================

func TestFinancialViabilityGate(t *testing.T) {
	canvas := map[string]any{"customerSegments": map[string]any{}}
	tests := []struct {
		name       string
		items      map[artifactKey]map[string]any
		wantPassed bool
		lastCheck  string
	}{
		{"no pricing model", nil, false, "pricing_model_exists"},
		{"no canvas", map[artifactKey]map[string]any{
			{7, "pricing_model"}: {"tiers": []any{"basic"}},
		}, false, "bmc_exists"},
		{"no revenue streams", map[artifactKey]map[string]any{
			{7, "pricing_model"}:         {},
			{8, "business_model_canvas"}: canvas,
		}, false, "revenue_streams_defined"},
		{"tiers satisfy revenue check", map[artifactKey]map[string]any{
			{7, "pricing_model"}:         {"tiers": []any{map[string]any{"name": "pro"}}},
			{8, "business_model_canvas"}: canvas,
		}, true, "revenue_streams_defined"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := newValidator(&fakeArtifacts{items: tt.items}, nil).Validate(context.Background(), "v1", 5, 6, Options{})

			assert.Equal(t, "FINANCIAL_VIABILITY", res.GateName)
			assert.Equal(t, tt.wantPassed, res.Passed)
			require.NotEmpty(t, res.Checks)
			last := res.Checks[len(res.Checks)-1]
			assert.Equal(t, tt.lastCheck, last.Check)
			assert.Equal(t, tt.wantPassed, last.Passed)
		})
	}
}

func TestFinancialViabilityGate_LookupErrorFails(t *testing.T) {
	res := newValidator(&fakeArtifacts{err: errors.New("timeout")}, nil).Validate(context.Background(), "v1", 5, 6, Options{})

	assert.False(t, res.Passed)
	assert.Equal(t, "pricing_model", res.Details["missing_artifact"])
}

func TestUATSignoffGate(t *testing.T) {
	scenarios := func(statuses ...string) []any {
		out := []any{}
		for _, s := range statuses {
			out = append(out, map[string]any{"status": s})
		}
		return out
	}

	tests := []struct {
		name       string
		payload    map[string]any
		wantPassed bool
		lastCheck  string
		reason     string
	}{
		{"failing scenario", map[string]any{
			"uatScenarios": scenarios("passed", "failed"),
		}, false, "uat_100_percent_pass", "UAT pass rate 50.0% < 100% required"},
		{"no scenarios", map[string]any{}, false, "uat_100_percent_pass", "UAT pass rate 0.0% < 100% required"},
		{"automated below threshold", map[string]any{
			"uatScenarios": scenarios("passed"),
			"testSuites":   []any{map[string]any{"total": 100.0, "passed": 90.0}},
		}, false, "automated_tests_threshold", "Automated test pass rate 90.0% < 95% threshold"},
		{"all green", map[string]any{
			"uatScenarios": scenarios("passed", "passed"),
			"testSuites": []any{
				map[string]any{"total": 50.0, "passed": 49.0},
				map[string]any{"total": 50.0, "passed": 48.0},
			},
		}, true, "automated_tests_threshold", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			arts := &fakeArtifacts{items: map[artifactKey]map[string]any{{21, "test_coverage_report"}: tt.payload}}
			res := newValidator(arts, nil).Validate(context.Background(), "v1", 21, 22, Options{})

			assert.Equal(t, "UAT_SIGNOFF", res.GateName)
			assert.Equal(t, tt.wantPassed, res.Passed)
			last := res.Checks[len(res.Checks)-1]
			assert.Equal(t, tt.lastCheck, last.Check)
			assert.Equal(t, tt.reason, last.Reason)
		})
	}
}

func TestDeploymentHealthGate(t *testing.T) {
	ready := func() map[string]any {
		return map[string]any{
			"infrastructure": []any{map[string]any{"status": "configured"}},
			"checklist":      []any{map[string]any{"item": "dns", "checked": true}},
			"environments":   []any{map[string]any{"status": "active"}},
		}
	}

	tests := []struct {
		name      string
		mutate    func(map[string]any)
		passed    bool
		lastCheck string
	}{
		{"ready", func(map[string]any) {}, true, "environment_active"},
		{"infrastructure pending", func(p map[string]any) {
			p["infrastructure"] = []any{map[string]any{"status": "configured"}, map[string]any{"status": "pending"}}
		}, false, "infrastructure_configured"},
		{"no infrastructure", func(p map[string]any) { delete(p, "infrastructure") }, false, "infrastructure_configured"},
		{"checklist open", func(p map[string]any) {
			p["checklist"] = []any{map[string]any{"item": "dns", "checked": true}, map[string]any{"item": "tls", "checked": false}}
		}, false, "checklist_complete"},
		{"no active environment", func(p map[string]any) {
			p["environments"] = []any{map[string]any{"status": "stopped"}}
		}, false, "environment_active"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := ready()
			tt.mutate(payload)
			arts := &fakeArtifacts{items: map[artifactKey]map[string]any{{22, "deployment_runbook"}: payload}}

			res := newValidator(arts, nil).Validate(context.Background(), "v1", 22, 23, Options{})

			assert.Equal(t, tt.passed, res.Passed)
			assert.Equal(t, tt.lastCheck, res.Checks[len(res.Checks)-1].Check)
		})
	}
}

func TestDeploymentHealthGate_ListsUncheckedItems(t *testing.T) {
	arts := &fakeArtifacts{items: map[artifactKey]map[string]any{{22, "deployment_runbook"}: {
		"infrastructure": []any{map[string]any{"status": "configured"}},
		"checklist":      []any{map[string]any{"item": "dns", "checked": true}, map[string]any{"item": "tls"}},
	}}}

	res := newValidator(arts, nil).Validate(context.Background(), "v1", 22, 23, Options{})

	assert.Equal(t, []string{"tls"}, res.Details["unchecked_items"])
	assert.Equal(t, 1, res.Details["checklist_remaining"])
}

// =============================================================================
// SUMMARY TESTS
// =============================================================================

func TestTruncate(t *testing.T) {
	short := "fits"
	assert.Equal(t, short, Truncate(short))

	exact := strings.Repeat("x", maxSummaryLength)
	assert.Equal(t, exact, Truncate(exact))

	long := strings.Repeat("y", maxSummaryLength+10)
	got := Truncate(long)
	assert.Len(t, got, maxSummaryLength)
	assert.True(t, strings.HasSuffix(got, "..."))
}

func TestBuildSummary_AllStatusesFit(t *testing.T) {
	for _, status := range []Status{StatusPass, StatusFail, StatusRequiresChairmanDecision, StatusRequiresChairmanApproval, StatusError, "OTHER"} {
		for _, gt := range []GateType{GateTypeKill, GateTypePromotion} {
			s := buildSummary(gt, 23, status, 1000)
			assert.LessOrEqual(t, len(s), maxSummaryLength, fmt.Sprintf("%s %s", gt, status))
		}
	}
}
