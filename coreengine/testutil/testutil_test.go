package testutil

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeeves-cluster-organization/ventureflow/coreengine/kernel"
	"github.com/jeeves-cluster-organization/ventureflow/coreengine/templates"
)

func TestMockVentureStore(t *testing.T) {
	store := NewMockVentureStore().WithVenture("v1", "Acme", 2)
	ctx := context.Background()

	v, err := store.LoadVenture(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, "Acme", v.Name)
	require.NotNil(t, v.CurrentStage)
	assert.Equal(t, 2, *v.CurrentStage)

	_, err = store.LoadVenture(ctx, "missing")
	assert.ErrorIs(t, err, kernel.ErrVentureNotFound)

	require.NoError(t, store.AdvanceStage(ctx, "v1", 3))
	assert.Equal(t, 3, store.CurrentStage("v1"))
	assert.Equal(t, 2, *v.CurrentStage, "loaded ventures are copies")
	assert.Equal(t, []StageAdvance{{VentureID: "v1", Stage: 3}}, store.GetAdvances())
}

func TestMockArtifactStore_PersistedArtifactsAreReadable(t *testing.T) {
	store := NewMockArtifactStore()
	ctx := context.Background()

	ids, err := store.PersistArtifacts(ctx, "v1", 5, []kernel.Artifact{
		{ArtifactType: "financial_model", Payload: map[string]any{"qualityScore": 80.0}},
		{ArtifactType: "landing_page", Payload: map[string]any{"url": "https://acme.test"}},
	}, "key-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"art-1", "art-2"}, ids)

	got, err := store.CurrentArtifacts(ctx, "v1", []string{"financial_model"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.NotNil(t, got[0].QualityScore)
	assert.Equal(t, 80.0, *got[0].QualityScore)

	assert.Equal(t, []string{"financial_model", "landing_page"}, store.PersistedTypes())
	assert.Equal(t, "key-1", store.GetBatches()[0].IdempotencyKey)
}

func TestMockArtifactStore_Errors(t *testing.T) {
	boom := errors.New("boom")
	store := NewMockArtifactStore().WithPersistError(boom).WithReadError(boom)

	_, err := store.PersistArtifacts(context.Background(), "v1", 1, nil, "")
	assert.ErrorIs(t, err, boom)
	_, err = store.CurrentArtifacts(context.Background(), "v1", nil)
	assert.ErrorIs(t, err, boom)
	assert.Len(t, store.GetBatches(), 1, "failed calls are still recorded")
}

func TestMockLogger(t *testing.T) {
	log := NewMockLogger()
	log.Warn("gate_failed", "venture_id", "v1", "dangling")

	assert.True(t, log.HasLog("warn", "gate_failed"))
	assert.False(t, log.HasLog("error", "gate_failed"))
	entries := log.GetLogs()
	require.Len(t, entries, 1)
	assert.Equal(t, map[string]any{"venture_id": "v1"}, entries[0].Fields)

	log.Clear()
	assert.Empty(t, log.GetLogs())
}

func TestStepHelpers(t *testing.T) {
	var calls int
	var mu sync.Mutex
	reg := NewRegistry(&templates.Template{Stage: 1, Steps: []templates.Step{
		CountingStep(StaticStep("scan", "market_scan", map[string]any{"tam": 1e9}), &calls, &mu),
		FailingStep("broken", errors.New("model timeout")),
	}})

	tmpl, err := reg.Template(context.Background(), 1)
	require.NoError(t, err)

	out, err := tmpl.Steps[0].Run(context.Background(), templates.StepInput{})
	require.NoError(t, err)
	assert.Equal(t, "market_scan", out.ArtifactType)
	assert.Equal(t, 1e9, out.Payload["tam"])
	assert.Equal(t, 1, calls)

	_, err = tmpl.Steps[1].Run(context.Background(), templates.StepInput{})
	assert.EqualError(t, err, "model timeout")

	assert.Panics(t, func() { NewRegistry(&templates.Template{}) })
}
