package templates

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// AnalyzerFunc computes a payload for a declarative step. params are the
// step definition's params.
type AnalyzerFunc func(ctx context.Context, in StepInput, params map[string]any) (map[string]any, error)

// Analyzer is a named function that stored definitions can reference.
type Analyzer struct {
	Name        string
	Description string
	Run         AnalyzerFunc
}

// Analyzers executes analyzers by name.
type Analyzers struct {
	analyzers map[string]*Analyzer
	mu        sync.RWMutex
}

// NewAnalyzers creates an empty set.
func NewAnalyzers() *Analyzers {
	return &Analyzers{
		analyzers: make(map[string]*Analyzer),
	}
}

// Register adds an analyzer, replacing one with the same name.
func (a *Analyzers) Register(def *Analyzer) error {
	if def == nil || def.Name == "" {
		return fmt.Errorf("analyzer name is required")
	}
	if def.Run == nil {
		return fmt.Errorf("analyzer function is required for '%s'", def.Name)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.analyzers[def.Name] = def
	return nil
}

// Execute runs the named analyzer.
func (a *Analyzers) Execute(ctx context.Context, name string, in StepInput, params map[string]any) (map[string]any, error) {
	a.mu.RLock()
	def, ok := a.analyzers[name]
	a.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("analyzer not found: %s", name)
	}
	return def.Run(ctx, in, params)
}

// Has reports whether name is registered.
func (a *Analyzers) Has(name string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.analyzers[name]
	return ok
}

// List returns the registered names in sorted order.
func (a *Analyzers) List() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	names := make([]string, 0, len(a.analyzers))
	for name := range a.analyzers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// VentureProfileAnalyzer records the venture context a stage ran against.
const VentureProfileAnalyzer = "venture_profile"

// BuiltinAnalyzers returns the analyzers available to every definition.
func BuiltinAnalyzers() *Analyzers {
	a := NewAnalyzers()
	_ = a.Register(&Analyzer{
		Name:        VentureProfileAnalyzer,
		Description: "Snapshot of the venture name, archetype and stage",
		Run: func(_ context.Context, in StepInput, params map[string]any) (map[string]any, error) {
			out := map[string]any{
				"ventureId":   in.VentureID,
				"ventureName": in.VentureName,
				"archetype":   in.Archetype,
				"stage":       in.Stage,
			}
			if in.Retry != nil {
				out["retryAttempt"] = in.Retry.Attempt
			}
			for k, v := range params {
				out[k] = v
			}
			return out, nil
		},
	})
	return a
}
