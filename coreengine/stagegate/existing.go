package stagegate

import (
	"context"
	"fmt"
	"time"

	"github.com/jeeves-cluster-organization/ventureflow/coreengine/typeutil"
)

// Artifact gate thresholds.
const (
	uatRequiredPassRate       = 100.0
	automatedRequiredPassRate = 95.0
)

// artifactGate accumulates checks and stops at the first failure.
type artifactGate struct {
	res Result
}

func newArtifactGate(name string) *artifactGate {
	return &artifactGate{res: Result{
		GateName: name,
		GateType: GateTypeExisting,
		Checks:   []Check{},
		Details:  map[string]any{},
	}}
}

func (g *artifactGate) pass(check string, details map[string]any) {
	g.res.Checks = append(g.res.Checks, Check{Check: check, Passed: true, Details: details})
}

func (g *artifactGate) fail(check, reason string, details map[string]any) Result {
	g.res.Checks = append(g.res.Checks, Check{Check: check, Passed: false, Reason: reason, Details: details})
	g.res.Passed = false
	g.res.Status = StatusFail
	g.res.Summary = Truncate(fmt.Sprintf("%s gate failed: %s", g.res.GateName, reason))
	return g.res
}

func (g *artifactGate) succeed(details map[string]any) Result {
	g.res.Passed = true
	g.res.Status = StatusPass
	g.res.Details = details
	if msg, ok := details["message"].(string); ok {
		g.res.Summary = Truncate(msg)
	}
	return g.res
}

// load reads an artifact; lookup errors count as a missing artifact.
func (v *Validator) load(ctx context.Context, ventureID string, stage int, artifactType string) *StoredArtifact {
	if v.artifacts == nil {
		v.warn("stage_gate_artifact_lookup_failed", "artifact_type", artifactType, "error", errNoArtifactSource.Error())
		return nil
	}
	art, err := v.artifacts.CurrentStageArtifact(ctx, ventureID, stage, artifactType)
	if err != nil {
		v.warn("stage_gate_artifact_lookup_failed",
			"venture_id", ventureID,
			"stage", stage,
			"artifact_type", artifactType,
			"error", err.Error(),
		)
		return nil
	}
	return art
}

// financialViability guards 5->6: a pricing model with revenue streams and a
// business model canvas must exist.
func (v *Validator) financialViability(ctx context.Context, ventureID string) Result {
	g := newArtifactGate("FINANCIAL_VIABILITY")

	pricing := v.load(ctx, ventureID, 7, "pricing_model")
	if pricing == nil {
		g.res.Details["missing_artifact"] = "pricing_model"
		return g.fail("pricing_model_exists", "No pricing model artifact found", nil)
	}
	g.pass("pricing_model_exists", nil)

	bmc := v.load(ctx, ventureID, 8, "business_model_canvas")
	if bmc == nil {
		g.res.Details["missing_artifact"] = "business_model_canvas"
		return g.fail("bmc_exists", "No business model canvas found", nil)
	}
	g.pass("bmc_exists", nil)

	streams, _ := typeutil.Slice(pricing.Payload["revenueStreams"])
	tiers, _ := typeutil.Slice(pricing.Payload["tiers"])
	if len(streams) == 0 && len(tiers) == 0 {
		return g.fail("revenue_streams_defined", "No revenue streams or pricing tiers defined", nil)
	}
	g.pass("revenue_streams_defined", nil)

	return g.succeed(map[string]any{
		"pricing_artifact_date": pricing.CreatedAt.UTC().Format(time.RFC3339),
		"bmc_artifact_date":     bmc.CreatedAt.UTC().Format(time.RFC3339),
		"message":               "Financial viability validated - pricing model and BMC present",
	})
}

// uatSignoff guards 21->22: every UAT scenario passed and automated suites
// meet their threshold.
func (v *Validator) uatSignoff(ctx context.Context, ventureID string) Result {
	g := newArtifactGate("UAT_SIGNOFF")

	report := v.load(ctx, ventureID, 21, "test_coverage_report")
	if report == nil {
		g.res.Details["missing_artifact"] = "test_coverage_report"
		return g.fail("test_report_exists", "No test coverage report found", nil)
	}
	g.pass("test_report_exists", nil)

	scenarios, _ := typeutil.Slice(report.Payload["uatScenarios"])
	passedScenarios := 0
	for _, s := range scenarios {
		if m, ok := typeutil.Map(s); ok && typeutil.StringDefault(m["status"], "") == "passed" {
			passedScenarios++
		}
	}
	uatRate := percent(passedScenarios, len(scenarios))
	if uatRate < uatRequiredPassRate {
		g.res.Details["uat_pass_rate"] = uatRate
		g.res.Details["scenarios_remaining"] = len(scenarios) - passedScenarios
		return g.fail("uat_100_percent_pass",
			fmt.Sprintf("UAT pass rate %.1f%% < 100%% required", uatRate),
			map[string]any{"passed": passedScenarios, "total": len(scenarios), "rate": uatRate})
	}
	g.pass("uat_100_percent_pass", map[string]any{"rate": uatRate})

	suites, _ := typeutil.Slice(report.Payload["testSuites"])
	var total, passed int
	for _, s := range suites {
		m, ok := typeutil.Map(s)
		if !ok {
			continue
		}
		if n, ok := typeutil.Int(m["total"]); ok {
			total += n
		}
		if n, ok := typeutil.Int(m["passed"]); ok {
			passed += n
		}
	}
	autoRate := percent(passed, total)
	if autoRate < automatedRequiredPassRate {
		return g.fail("automated_tests_threshold",
			fmt.Sprintf("Automated test pass rate %.1f%% < 95%% threshold", autoRate),
			map[string]any{"passed": passed, "total": total, "rate": autoRate})
	}
	g.pass("automated_tests_threshold", map[string]any{"rate": autoRate})

	return g.succeed(map[string]any{
		"uat_pass_rate":         uatRate,
		"automated_pass_rate":   autoRate,
		"total_uat_scenarios":   len(scenarios),
		"total_automated_tests": total,
		"message":               "UAT signoff validated - all scenarios passed, automated tests at threshold",
	})
}

// deploymentHealth guards 22->23: infrastructure configured, checklist
// complete and at least one active environment.
func (v *Validator) deploymentHealth(ctx context.Context, ventureID string) Result {
	g := newArtifactGate("DEPLOYMENT_HEALTH")

	runbook := v.load(ctx, ventureID, 22, "deployment_runbook")
	if runbook == nil {
		g.res.Details["missing_artifact"] = "deployment_runbook"
		return g.fail("runbook_exists", "No deployment runbook found", nil)
	}
	g.pass("runbook_exists", nil)

	infra, _ := typeutil.Slice(runbook.Payload["infrastructure"])
	configured := countWhere(infra, func(m map[string]any) bool {
		return typeutil.StringDefault(m["status"], "") == "configured"
	})
	if len(infra) == 0 || configured != len(infra) {
		g.res.Details["infrastructure_gap"] = len(infra) - configured
		return g.fail("infrastructure_configured",
			fmt.Sprintf("Infrastructure %d/%d configured", configured, len(infra)),
			map[string]any{"configured": configured, "total": len(infra)})
	}
	g.pass("infrastructure_configured", nil)

	checklist, _ := typeutil.Slice(runbook.Payload["checklist"])
	checked := countWhere(checklist, func(m map[string]any) bool {
		return typeutil.BoolDefault(m["checked"], false)
	})
	if len(checklist) == 0 || checked != len(checklist) {
		unchecked := []string{}
		for _, c := range checklist {
			if m, ok := typeutil.Map(c); ok && !typeutil.BoolDefault(m["checked"], false) {
				unchecked = append(unchecked, typeutil.StringDefault(m["item"], ""))
			}
		}
		g.res.Details["checklist_remaining"] = len(checklist) - checked
		g.res.Details["unchecked_items"] = unchecked
		return g.fail("checklist_complete",
			fmt.Sprintf("Deployment checklist %d/%d complete", checked, len(checklist)),
			map[string]any{"checked": checked, "total": len(checklist)})
	}
	g.pass("checklist_complete", nil)

	envs, _ := typeutil.Slice(runbook.Payload["environments"])
	active := countWhere(envs, func(m map[string]any) bool {
		return typeutil.StringDefault(m["status"], "") == "active"
	})
	if active == 0 {
		return g.fail("environment_active", "No active environments found", nil)
	}
	g.pass("environment_active", map[string]any{"active_envs": active})

	return g.succeed(map[string]any{
		"infrastructure_ready": fmt.Sprintf("%d/%d", configured, len(infra)),
		"checklist_complete":   fmt.Sprintf("%d/%d", checked, len(checklist)),
		"active_environments":  active,
		"message":              "Deployment health validated - infrastructure configured, checklist complete",
	})
}

func percent(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total) * 100
}

func countWhere(items []any, pred func(map[string]any) bool) int {
	n := 0
	for _, item := range items {
		if m, ok := typeutil.Map(item); ok && pred(m) {
			n++
		}
	}
	return n
}
