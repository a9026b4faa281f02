package realitygate

import (
	"fmt"
	"sort"
)

// Requirement is one artifact that must exist at a boundary.
type Requirement struct {
	ArtifactType     string  `json:"artifactType"`
	MinQualityScore  float64 `json:"minQualityScore"`
	RequiresURLCheck bool    `json:"requiresUrlCheck"`
}

// Policy maps "from->to" boundary keys to required artifacts.
// Requirement order is significant: failure reasons follow it.
type Policy map[string][]Requirement

// BoundaryKey formats a boundary the way Policy keys are written.
func BoundaryKey(fromStage, toStage int) string {
	return fmt.Sprintf("%d->%d", fromStage, toStage)
}

// DefaultPolicy is the boundary table enforced in production. Quality scores
// are normalised to 0..1.
var DefaultPolicy = Policy{
	"5->6": {
		{ArtifactType: "problem_statement", MinQualityScore: 0.6},
		{ArtifactType: "market_analysis", MinQualityScore: 0.6},
		{ArtifactType: "financial_model", MinQualityScore: 0.7},
	},
	"9->10": {
		{ArtifactType: "customer_validation", MinQualityScore: 0.6},
		{ArtifactType: "competitive_analysis", MinQualityScore: 0.6},
		{ArtifactType: "business_model_canvas", MinQualityScore: 0.7},
	},
	"12->13": {
		{ArtifactType: "pricing_model", MinQualityScore: 0.7},
		{ArtifactType: "go_to_market_plan", MinQualityScore: 0.6},
	},
	"16->17": {
		{ArtifactType: "technical_architecture", MinQualityScore: 0.7},
		{ArtifactType: "mvp_build", MinQualityScore: 0.7, RequiresURLCheck: true},
	},
	"20->21": {
		{ArtifactType: "test_coverage_report", MinQualityScore: 0.7},
	},
	"22->23": {
		{ArtifactType: "deployment_runbook", MinQualityScore: 0.8},
		{ArtifactType: "production_deployment", MinQualityScore: 0.8, RequiresURLCheck: true},
	},
}

// Lookup returns the requirements for a boundary.
func (p Policy) Lookup(fromStage, toStage int) ([]Requirement, bool) {
	reqs, ok := p[BoundaryKey(fromStage, toStage)]
	return reqs, ok && len(reqs) > 0
}

// Boundaries returns the gated boundary keys in a stable order.
func (p Policy) Boundaries() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		var fi, ti, fj, tj int
		fmt.Sscanf(keys[i], "%d->%d", &fi, &ti)
		fmt.Sscanf(keys[j], "%d->%d", &fj, &tj)
		if fi != fj {
			return fi < fj
		}
		return ti < tj
	})
	return keys
}

// artifactTypes lists the distinct types required, in declaration order.
func artifactTypes(reqs []Requirement) []string {
	seen := make(map[string]bool, len(reqs))
	types := make([]string, 0, len(reqs))
	for _, r := range reqs {
		if !seen[r.ArtifactType] {
			seen[r.ArtifactType] = true
			types = append(types, r.ArtifactType)
		}
	}
	return types
}
