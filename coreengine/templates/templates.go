// Package templates provides the analysis templates executed for each stage.
package templates

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jeeves-cluster-organization/ventureflow/coreengine/filter"
	"github.com/jeeves-cluster-organization/ventureflow/coreengine/gaterecovery"
)

// DefaultVersion is reported for templates that do not set one.
const DefaultVersion = "1.0.0"

// Usage is the spend an analysis step reports.
type Usage struct {
	CostUSD float64 `json:"costUsd"`
	Tokens  int     `json:"tokens,omitempty"`
}

// StepInput is what an analysis step sees of the venture.
type StepInput struct {
	VentureID   string
	VentureName string
	Archetype   string
	Stage       int
	Preferences filter.Preferences
	// Retry is set when the step runs again after a failed reality gate.
	Retry *gaterecovery.RetryContext
}

// StepOutput is one artifact produced by a step.
type StepOutput struct {
	ArtifactType string         `json:"artifactType"`
	Payload      map[string]any `json:"payload"`
	Source       string         `json:"source"`
	Usage        *Usage         `json:"usage,omitempty"`
}

// StepFunc executes an analysis step.
type StepFunc func(ctx context.Context, in StepInput) (StepOutput, error)

// Step is one analysis step of a stage template.
type Step struct {
	ID           string
	ArtifactType string
	Execute      StepFunc
}

// Run executes the step. A step without a function yields an empty artifact.
func (s Step) Run(ctx context.Context, in StepInput) (StepOutput, error) {
	if s.Execute == nil {
		return StepOutput{ArtifactType: s.artifactType("generic"), Payload: map[string]any{}, Source: s.source()}, nil
	}
	out, err := s.Execute(ctx, in)
	if err != nil {
		return StepOutput{}, err
	}
	if out.ArtifactType == "" {
		out.ArtifactType = s.artifactType("stage_output")
	}
	if out.Source == "" {
		out.Source = s.source()
	}
	if out.Payload == nil {
		out.Payload = map[string]any{}
	}
	return out, nil
}

func (s Step) artifactType(fallback string) string {
	if s.ArtifactType != "" {
		return s.ArtifactType
	}
	return fallback
}

func (s Step) source() string {
	if s.ID != "" {
		return s.ID
	}
	return "template"
}

// Template is the ordered analysis of one stage.
type Template struct {
	Stage   int
	Version string
	Steps   []Step
}

// Empty returns the template used for stages nothing is registered for.
func Empty(stage int) *Template {
	return &Template{Stage: stage, Version: DefaultVersion}
}

// =============================================================================
// DEFINITIONS
// =============================================================================

// StepDefinition is a declarative step. It emits Payload, overlaid with the
// output of Analyzer when one is named.
type StepDefinition struct {
	ID           string         `json:"id"`
	ArtifactType string         `json:"artifactType"`
	Payload      map[string]any `json:"payload"`
	Source       string         `json:"source,omitempty"`
	Analyzer     string         `json:"analyzer,omitempty"`
	Params       map[string]any `json:"params,omitempty"`
}

// Definition is a declarative template as stored outside the process.
type Definition struct {
	Stage   int              `json:"stageId"`
	Version string           `json:"version"`
	Steps   []StepDefinition `json:"analysisSteps"`
}

// Compile turns a definition into an executable template. Analyzer names are
// resolved against analyzers when the step runs; analyzers may be nil.
func (d Definition) Compile(analyzers *Analyzers) *Template {
	t := &Template{Stage: d.Stage, Version: d.Version}
	if t.Version == "" {
		t.Version = DefaultVersion
	}
	for _, sd := range d.Steps {
		sd := sd
		t.Steps = append(t.Steps, Step{
			ID:           sd.ID,
			ArtifactType: sd.ArtifactType,
			Execute: func(ctx context.Context, in StepInput) (StepOutput, error) {
				payload := make(map[string]any, len(sd.Payload))
				for k, v := range sd.Payload {
					payload[k] = v
				}
				if sd.Analyzer != "" {
					if analyzers == nil {
						return StepOutput{}, fmt.Errorf("analyzer not found: %s", sd.Analyzer)
					}
					computed, err := analyzers.Execute(ctx, sd.Analyzer, in, sd.Params)
					if err != nil {
						return StepOutput{}, err
					}
					for k, v := range computed {
						payload[k] = v
					}
				}
				return StepOutput{ArtifactType: sd.ArtifactType, Payload: payload, Source: sd.Source}, nil
			},
		})
	}
	return t
}

// DefinitionSource loads stored definitions. It returns nil and no error
// when a stage has none.
type DefinitionSource interface {
	StageTemplate(ctx context.Context, stage int) (*Definition, error)
}

// =============================================================================
// REGISTRY
// =============================================================================

// Provider resolves the template of a stage.
type Provider interface {
	Template(ctx context.Context, stage int) (*Template, error)
}

// Registry resolves templates from registered code first, then from an
// optional definition source, and finally falls back to Empty.
type Registry struct {
	templates map[int]*Template
	source    DefinitionSource
	analyzers *Analyzers
	mu        sync.RWMutex
}

// NewRegistry creates a Registry. source may be nil.
func NewRegistry(source DefinitionSource) *Registry {
	return &Registry{
		templates: make(map[int]*Template),
		source:    source,
	}
}

// WithAnalyzers sets the analyzers stored definitions may reference.
func (r *Registry) WithAnalyzers(a *Analyzers) *Registry {
	r.analyzers = a
	return r
}

// Register adds or replaces the template of a stage.
func (r *Registry) Register(t *Template) error {
	if t == nil {
		return fmt.Errorf("template is required")
	}
	if t.Stage <= 0 {
		return fmt.Errorf("template stage must be positive, got %d", t.Stage)
	}
	seen := make(map[string]bool, len(t.Steps))
	for i, s := range t.Steps {
		if s.ID == "" {
			return fmt.Errorf("stage %d step %d: id is required", t.Stage, i)
		}
		if seen[s.ID] {
			return fmt.Errorf("stage %d: duplicate step id '%s'", t.Stage, s.ID)
		}
		seen[s.ID] = true
	}
	if t.Version == "" {
		t.Version = DefaultVersion
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[t.Stage] = t
	return nil
}

// Template returns the template of stage.
func (r *Registry) Template(ctx context.Context, stage int) (*Template, error) {
	r.mu.RLock()
	t, ok := r.templates[stage]
	r.mu.RUnlock()
	if ok {
		return t, nil
	}

	if r.source != nil {
		def, err := r.source.StageTemplate(ctx, stage)
		if err != nil {
			return nil, fmt.Errorf("load template for stage %d: %w", stage, err)
		}
		if def != nil {
			if def.Stage == 0 {
				def.Stage = stage
			}
			return def.Compile(r.analyzers), nil
		}
	}

	return Empty(stage), nil
}

// Has reports whether stage has a registered template.
func (r *Registry) Has(stage int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.templates[stage]
	return ok
}

// Stages returns the registered stages in ascending order.
func (r *Registry) Stages() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stages := make([]int, 0, len(r.templates))
	for s := range r.templates {
		stages = append(stages, s)
	}
	sort.Ints(stages)
	return stages
}

// Ensure Registry implements Provider
var _ Provider = (*Registry)(nil)
