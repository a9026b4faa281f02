package templates

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// STEP TESTS
// =============================================================================

func TestStepRun_Defaults(t *testing.T) {
	out, err := Step{ID: "market_scan"}.Run(context.Background(), StepInput{})
	require.NoError(t, err)
	assert.Equal(t, "generic", out.ArtifactType)
	assert.Equal(t, "market_scan", out.Source)
	assert.NotNil(t, out.Payload)

	step := Step{
		ID:           "pricing",
		ArtifactType: "pricing_model",
		Execute: func(context.Context, StepInput) (StepOutput, error) {
			return StepOutput{}, nil
		},
	}
	out, err = step.Run(context.Background(), StepInput{})
	require.NoError(t, err)
	assert.Equal(t, "pricing_model", out.ArtifactType)
	assert.Equal(t, "pricing", out.Source)
}

func TestStepRun_PassesInputAndErrors(t *testing.T) {
	var seen StepInput
	step := Step{ID: "s", Execute: func(_ context.Context, in StepInput) (StepOutput, error) {
		seen = in
		return StepOutput{}, errors.New("model timeout")
	}}

	_, err := step.Run(context.Background(), StepInput{VentureID: "v1", Stage: 4})

	require.EqualError(t, err, "model timeout")
	assert.Equal(t, "v1", seen.VentureID)
	assert.Equal(t, 4, seen.Stage)
}

// =============================================================================
// REGISTRY TESTS
// =============================================================================

func TestRegistry_Register(t *testing.T) {
	tests := []struct {
		name    string
		tmpl    *Template
		wantErr string
	}{
		{"nil template", nil, "template is required"},
		{"zero stage", &Template{}, "stage must be positive"},
		{"step without id", &Template{Stage: 2, Steps: []Step{{}}}, "id is required"},
		{"duplicate ids", &Template{Stage: 2, Steps: []Step{{ID: "a"}, {ID: "a"}}}, "duplicate step id 'a'"},
		{"valid", &Template{Stage: 2, Steps: []Step{{ID: "a"}, {ID: "b"}}}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewRegistry(nil).Register(tt.tmpl)
			if tt.wantErr == "" {
				require.NoError(t, err)
				assert.Equal(t, DefaultVersion, tt.tmpl.Version)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRegistry_MissingTemplateIsEmpty(t *testing.T) {
	tmpl, err := NewRegistry(nil).Template(context.Background(), 11)

	require.NoError(t, err)
	assert.Equal(t, 11, tmpl.Stage)
	assert.Equal(t, DefaultVersion, tmpl.Version)
	assert.Empty(t, tmpl.Steps)
}

type fakeSource struct {
	defs  map[int]*Definition
	err   error
	calls int
}

func (f *fakeSource) StageTemplate(_ context.Context, stage int) (*Definition, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.defs[stage], nil
}

func TestRegistry_Resolution(t *testing.T) {
	src := &fakeSource{defs: map[int]*Definition{
		3: {Steps: []StepDefinition{{ID: "validation", ArtifactType: "problem_statement", Payload: map[string]any{"score": 8.0}}}},
	}}
	reg := NewRegistry(src)
	require.NoError(t, reg.Register(&Template{Stage: 2, Steps: []Step{{ID: "coded"}}}))

	coded, err := reg.Template(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, "coded", coded.Steps[0].ID)
	assert.Zero(t, src.calls, "registered templates win")

	stored, err := reg.Template(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, 3, stored.Stage)
	require.Len(t, stored.Steps, 1)

	out, err := stored.Steps[0].Run(context.Background(), StepInput{})
	require.NoError(t, err)
	assert.Equal(t, "problem_statement", out.ArtifactType)
	assert.Equal(t, 8.0, out.Payload["score"])
	assert.Equal(t, "validation", out.Source)

	out.Payload["score"] = 1.0
	again, _ := stored.Steps[0].Run(context.Background(), StepInput{})
	assert.Equal(t, 8.0, again.Payload["score"], "payloads are copied per run")

	fallback, err := reg.Template(context.Background(), 4)
	require.NoError(t, err)
	assert.Empty(t, fallback.Steps)
}

func TestRegistry_SourceErrorPropagates(t *testing.T) {
	reg := NewRegistry(&fakeSource{err: errors.New("relation does not exist")})

	_, err := reg.Template(context.Background(), 5)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "load template for stage 5")
	assert.Contains(t, err.Error(), "relation does not exist")
}

func TestRegistry_Stages(t *testing.T) {
	reg := NewRegistry(nil)
	for _, s := range []int{9, 1, 4} {
		require.NoError(t, reg.Register(&Template{Stage: s}))
	}
	assert.Equal(t, []int{1, 4, 9}, reg.Stages())
	assert.True(t, reg.Has(4))
	assert.False(t, reg.Has(5))
}
