package runtime_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeeves-cluster-organization/ventureflow/coreengine/filter"
	"github.com/jeeves-cluster-organization/ventureflow/coreengine/kernel"
	"github.com/jeeves-cluster-organization/ventureflow/coreengine/realitygate"
	"github.com/jeeves-cluster-organization/ventureflow/coreengine/runtime"
	"github.com/jeeves-cluster-organization/ventureflow/coreengine/templates"
	"github.com/jeeves-cluster-organization/ventureflow/coreengine/testutil"
)

func scoredTemplate(stage int, score float64) *templates.Template {
	return &templates.Template{Stage: stage, Steps: []templates.Step{
		testutil.StaticStep("assess", "stage_assessment", map[string]any{"score": score}),
	}}
}

type pipeline struct {
	ventures  *testutil.MockVentureStore
	artifacts *testutil.MockArtifactStore
	decisions *testutil.DecisionStore
	runner    *runtime.VentureRunner
}

func newPipeline(tmpls ...*templates.Template) *pipeline {
	logger := testutil.NewMockLogger()
	p := &pipeline{
		ventures:  testutil.NewMockVentureStore().WithVenture("v1", "Meal Kit Co", 1),
		artifacts: testutil.NewMockArtifactStore(),
		decisions: testutil.NewDecisionStore(logger, time.Hour),
	}
	orch := kernel.NewOrchestrator(kernel.Deps{
		Ventures:    p.ventures,
		Templates:   testutil.NewRegistry(tmpls...),
		Persister:   p.artifacts,
		Runs:        testutil.NewMockRunStore(),
		Pointer:     p.ventures,
		RealityGate: realitygate.NewEvaluator(realitygate.DefaultPolicy),
		GateReader:  p.artifacts,
		Logger:      logger,
	})
	p.runner = runtime.NewVentureRunner(orch, p.decisions, logger)
	p.runner.Pointer = p.ventures
	return p
}

func TestPipeline_RunsUntilReview(t *testing.T) {
	p := newPipeline(scoredTemplate(1, 9), scoredTemplate(2, 8), scoredTemplate(3, 5))

	run, err := p.runner.Run(context.Background(), "v1", runtime.RunOptions{
		Stage: kernel.StageOptions{IdempotencyKey: "loop-1"},
	})

	require.NoError(t, err)
	assert.Equal(t, runtime.StopReviewRequired, run.StopReason)
	require.Len(t, run.Results, 3)
	for i, res := range run.Results {
		assert.Equal(t, i+1, res.StageID)
		assert.Equal(t, kernel.StatusCompleted, res.Status)
	}
	assert.Equal(t, filter.ActionRequireReview, run.Last().Action())
	assert.Equal(t, 3, p.ventures.CurrentStage("v1"), "the pointer stays on the reviewed stage")
	assert.Len(t, p.decisions.PendingForVenture("v1"), 1)

	batches := p.artifacts.GetBatches()
	require.Len(t, batches, 3)
	assert.Equal(t, "loop-1", batches[0].IdempotencyKey)
	assert.Empty(t, batches[1].IdempotencyKey)
}

func TestPipeline_StopsAtRealityGate(t *testing.T) {
	p := newPipeline(scoredTemplate(4, 9), scoredTemplate(5, 9))
	p.ventures.WithVenture("v1", "Meal Kit Co", 4)

	run, err := p.runner.Run(context.Background(), "v1", runtime.RunOptions{})

	require.NoError(t, err)
	assert.Equal(t, runtime.StopBlocked, run.StopReason)
	require.Len(t, run.Results, 2)
	assert.Equal(t, kernel.StatusBlocked, run.Last().Status)
	assert.Equal(t, []string{string(kernel.ErrRealityGateFailed)}, run.Last().ErrorCodes())
	assert.Equal(t, 5, p.ventures.CurrentStage("v1"))
}

func TestPipeline_ApprovedReviewResumes(t *testing.T) {
	p := newPipeline(scoredTemplate(1, 5), scoredTemplate(2, 9))
	resolveWhenPending(t, p.decisions, kernel.DecisionApproved)

	run, err := p.runner.Run(context.Background(), "v1", runtime.RunOptions{
		MaxStages:     2,
		WaitForReview: true,
		ReviewTimeout: 2 * time.Second,
		PollInterval:  5 * time.Millisecond,
	})

	require.NoError(t, err)
	require.Len(t, run.Results, 2)
	assert.Equal(t, 2, run.Results[1].StageID)
	assert.Equal(t, filter.ActionAutoProceed, run.Results[1].Action())
	assert.Equal(t, 3, p.ventures.CurrentStage("v1"))
	assert.Equal(t, runtime.StopMaxStages, run.StopReason)
}
