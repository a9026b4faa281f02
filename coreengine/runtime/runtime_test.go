package runtime_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeeves-cluster-organization/ventureflow/commbus"
	"github.com/jeeves-cluster-organization/ventureflow/coreengine/filter"
	"github.com/jeeves-cluster-organization/ventureflow/coreengine/kernel"
	"github.com/jeeves-cluster-organization/ventureflow/coreengine/runtime"
	"github.com/jeeves-cluster-organization/ventureflow/coreengine/testutil"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// scriptedProcessor returns canned results in order and records requests.
// Once the script is exhausted it reports a completed stage with no next stage.
type scriptedProcessor struct {
	script   []*kernel.StageResult
	requests []kernel.StageRequest
	mu       sync.Mutex
}

func (p *scriptedProcessor) ProcessStage(_ context.Context, req kernel.StageRequest) *kernel.StageResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := len(p.requests)
	p.requests = append(p.requests, req)
	if i < len(p.script) {
		return p.script[i]
	}
	return &kernel.StageResult{VentureID: req.VentureID, Status: kernel.StatusCompleted}
}

func (p *scriptedProcessor) Requests() []kernel.StageRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]kernel.StageRequest(nil), p.requests...)
}

func completed(stage int, action filter.Action, reasons ...string) *kernel.StageResult {
	res := &kernel.StageResult{
		VentureID:      "v1",
		StageID:        stage,
		Status:         kernel.StatusCompleted,
		FilterDecision: &filter.Decision{Action: action, Reasons: reasons, Recommendation: filter.RecommendationPresentToChairman},
	}
	if action == filter.ActionAutoProceed {
		next := stage + 1
		res.NextStageID = &next
		res.FilterDecision.Recommendation = filter.RecommendationAutoProceed
	}
	return res
}

func terminal(stage int, status kernel.StageStatus) *kernel.StageResult {
	return &kernel.StageResult{VentureID: "v1", StageID: stage, Status: status}
}

func newRunner(script ...*kernel.StageResult) (*runtime.VentureRunner, *scriptedProcessor, *testutil.DecisionStore, *testutil.MockLogger) {
	proc := &scriptedProcessor{script: script}
	logger := testutil.NewMockLogger()
	decisions := testutil.NewDecisionStore(logger, time.Hour)
	return runtime.NewVentureRunner(proc, decisions, logger), proc, decisions, logger
}

// resolveWhenPending resolves the first pending decision of v1 with status.
func resolveWhenPending(t *testing.T, decisions *testutil.DecisionStore, status kernel.DecisionStatus) {
	t.Helper()
	go func() {
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			if pending := decisions.PendingForVenture("v1"); len(pending) > 0 {
				_, _ = decisions.ResolveDecision(context.Background(), pending[0].ID, status, "chair-1", "")
				return
			}
			time.Sleep(2 * time.Millisecond)
		}
	}()
}

// =============================================================================
// STOP CONDITIONS
// =============================================================================

func TestRun_StopConditions(t *testing.T) {
	tests := []struct {
		name      string
		script    []*kernel.StageResult
		maxStages int
		want      runtime.StopReason
		processed int
	}{
		{
			name:      "failed stage",
			script:    []*kernel.StageResult{completed(1, filter.ActionAutoProceed), terminal(2, kernel.StatusFailed)},
			want:      runtime.StopFailed,
			processed: 2,
		},
		{
			name:      "blocked stage",
			script:    []*kernel.StageResult{terminal(5, kernel.StatusBlocked)},
			want:      runtime.StopBlocked,
			processed: 1,
		},
		{
			name:      "filter stop",
			script:    []*kernel.StageResult{completed(1, filter.ActionAutoProceed), completed(2, filter.ActionStop, "Cost $50,000 exceeds threshold $10,000")},
			want:      runtime.StopFilter,
			processed: 2,
		},
		{
			name:      "no next stage",
			script:    []*kernel.StageResult{completed(24, filter.ActionAutoProceed), completed(25, filter.ActionAutoProceed)},
			want:      runtime.StopNoNextStage,
			processed: 3,
		},
		{
			name: "max stages",
			script: []*kernel.StageResult{
				completed(1, filter.ActionAutoProceed),
				completed(2, filter.ActionAutoProceed),
				completed(3, filter.ActionAutoProceed),
				completed(4, filter.ActionAutoProceed),
			},
			maxStages: 3,
			want:      runtime.StopMaxStages,
			processed: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner, proc, _, logger := newRunner(tt.script...)

			run, err := runner.Run(context.Background(), "v1", runtime.RunOptions{MaxStages: tt.maxStages})

			require.NoError(t, err)
			assert.Equal(t, tt.want, run.StopReason)
			assert.Len(t, run.Results, tt.processed)
			assert.Len(t, proc.Requests(), tt.processed)
			assert.True(t, logger.HasLog("info", "venture_run_completed"))
		})
	}
}

func TestRun_DefaultMaxStages(t *testing.T) {
	script := make([]*kernel.StageResult, 30)
	for i := range script {
		script[i] = completed(i+1, filter.ActionAutoProceed)
	}
	runner, _, _, _ := newRunner(script...)

	run, err := runner.Run(context.Background(), "v1", runtime.RunOptions{})

	require.NoError(t, err)
	assert.Len(t, run.Results, runtime.DefaultMaxStages)
	assert.Equal(t, 25, run.Last().StageID)
}

func TestRun_RequestsFollowNextStage(t *testing.T) {
	runner, proc, _, _ := newRunner(
		completed(4, filter.ActionAutoProceed),
		completed(5, filter.ActionAutoProceed),
		completed(6, filter.ActionStop),
	)

	_, err := runner.Run(context.Background(), "v1", runtime.RunOptions{
		Stage: kernel.StageOptions{IdempotencyKey: "run-1", ChairmanID: "chair-1"},
	})
	require.NoError(t, err)

	reqs := proc.Requests()
	require.Len(t, reqs, 3)
	assert.Nil(t, reqs[0].StageID, "first stage comes from the venture pointer")
	assert.Equal(t, "run-1", reqs[0].Options.IdempotencyKey)
	for i, want := range []int{5, 6} {
		req := reqs[i+1]
		require.NotNil(t, req.StageID)
		assert.Equal(t, want, *req.StageID)
		assert.Empty(t, req.Options.IdempotencyKey, "key applies to the first stage only")
		assert.Equal(t, "chair-1", req.Options.ChairmanID)
	}
}

func TestRun_ExplicitStartStage(t *testing.T) {
	runner, proc, _, _ := newRunner(completed(7, filter.ActionStop))
	start := 7

	_, err := runner.Run(context.Background(), "v1", runtime.RunOptions{StageID: &start})

	require.NoError(t, err)
	require.NotNil(t, proc.Requests()[0].StageID)
	assert.Equal(t, 7, *proc.Requests()[0].StageID)
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	runner, proc, _, _ := newRunner(completed(1, filter.ActionAutoProceed))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	run, err := runner.Run(ctx, "v1", runtime.RunOptions{})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, runtime.StopCancelled, run.StopReason)
	assert.Empty(t, run.Results)
	assert.Empty(t, proc.Requests())
	assert.Nil(t, run.Last())
}

// =============================================================================
// REVIEW
// =============================================================================

func TestRun_ReviewCreatesPendingDecision(t *testing.T) {
	runner, _, decisions, _ := newRunner(
		completed(3, filter.ActionAutoProceed),
		completed(4, filter.ActionRequireReview, "Score 5 below minimum 7"),
	)
	telemetry := testutil.NewMockTelemetry()
	runner.Telemetry = telemetry

	run, err := runner.Run(context.Background(), "v1", runtime.RunOptions{})

	require.NoError(t, err)
	assert.Equal(t, runtime.StopReviewRequired, run.StopReason)
	require.NotEmpty(t, run.DecisionID)

	d, err := decisions.GetDecision(context.Background(), run.DecisionID)
	require.NoError(t, err)
	assert.Equal(t, kernel.DecisionPending, d.Status)
	assert.Equal(t, 4, d.StageNumber)
	assert.Equal(t, "Review required: Score 5 below minimum 7", d.Summary)
	assert.Equal(t, []string{"Score 5 below minimum 7"}, d.BriefData["reasons"])
	assert.Equal(t, filter.RecommendationPresentToChairman, d.BriefData["recommendation"])

	events := telemetry.Events()
	require.Len(t, events, 1)
	requested, ok := events[0].(*commbus.DecisionRequested)
	require.True(t, ok)
	assert.Equal(t, run.DecisionID, requested.DecisionID)
}

func TestRun_ReviewSummaryFallback(t *testing.T) {
	runner, _, decisions, _ := newRunner(completed(4, filter.ActionRequireReview))

	run, err := runner.Run(context.Background(), "v1", runtime.RunOptions{})
	require.NoError(t, err)

	d, err := decisions.GetDecision(context.Background(), run.DecisionID)
	require.NoError(t, err)
	assert.Equal(t, "Review required: filter trigger", d.Summary)
}

func TestRun_ReviewReusesPendingDecision(t *testing.T) {
	proc := &scriptedProcessor{script: []*kernel.StageResult{
		completed(4, filter.ActionRequireReview, "Score 5 below minimum 7"),
		completed(4, filter.ActionRequireReview, "Score 5 below minimum 7"),
	}}
	logger := testutil.NewMockLogger()
	decisions := testutil.NewDecisionStore(logger, time.Hour)
	telemetry := testutil.NewMockTelemetry()
	runner := runtime.NewVentureRunner(proc, decisions, logger)
	runner.Telemetry = telemetry

	first, err := runner.Run(context.Background(), "v1", runtime.RunOptions{})
	require.NoError(t, err)
	second, err := runner.Run(context.Background(), "v1", runtime.RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, first.DecisionID, second.DecisionID)
	assert.Equal(t, 1, decisions.Len())
	assert.Len(t, telemetry.Events(), 1, "reused decisions are not announced again")
}

func TestRun_ReviewApprovedContinues(t *testing.T) {
	runner, proc, decisions, _ := newRunner(
		completed(4, filter.ActionRequireReview, "Score 5 below minimum 7"),
		completed(5, filter.ActionStop),
	)
	ventures := testutil.NewMockVentureStore().WithVenture("v1", "Meal Kit Co", 4)
	runner.Pointer = ventures
	resolveWhenPending(t, decisions, kernel.DecisionApproved)

	run, err := runner.Run(context.Background(), "v1", runtime.RunOptions{
		WaitForReview: true,
		ReviewTimeout: 2 * time.Second,
		PollInterval:  5 * time.Millisecond,
	})

	require.NoError(t, err)
	assert.Equal(t, runtime.StopFilter, run.StopReason)
	require.Len(t, proc.Requests(), 2)
	assert.Equal(t, 5, *proc.Requests()[1].StageID)
	assert.Equal(t, []testutil.StageAdvance{{VentureID: "v1", Stage: 5}}, ventures.GetAdvances())
}

func TestRun_ReviewApprovedDryRunDoesNotAdvance(t *testing.T) {
	runner, proc, decisions, _ := newRunner(completed(4, filter.ActionRequireReview, "Score 5 below minimum 7"))
	ventures := testutil.NewMockVentureStore().WithVenture("v1", "Meal Kit Co", 4)
	runner.Pointer = ventures
	resolveWhenPending(t, decisions, kernel.DecisionApproved)

	_, err := runner.Run(context.Background(), "v1", runtime.RunOptions{
		Stage:         kernel.StageOptions{DryRun: true},
		WaitForReview: true,
		ReviewTimeout: 2 * time.Second,
		PollInterval:  5 * time.Millisecond,
	})

	require.NoError(t, err)
	assert.Len(t, proc.Requests(), 2)
	assert.Empty(t, ventures.GetAdvances())
}

func TestRun_ReviewOutcomes(t *testing.T) {
	tests := []struct {
		name    string
		resolve kernel.DecisionStatus
		timeout time.Duration
		want    runtime.StopReason
		log     string
	}{
		{"rejected", kernel.DecisionRejected, 2 * time.Second, runtime.StopReviewRejected, ""},
		{"cancelled", kernel.DecisionCancelled, 2 * time.Second, runtime.StopReviewRejected, ""},
		{"timeout", "", 20 * time.Millisecond, runtime.StopReviewTimeout, "decision_wait_timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner, proc, decisions, logger := newRunner(completed(4, filter.ActionRequireReview, "Score 5 below minimum 7"))
			if tt.resolve != "" {
				resolveWhenPending(t, decisions, tt.resolve)
			}

			run, err := runner.Run(context.Background(), "v1", runtime.RunOptions{
				WaitForReview: true,
				ReviewTimeout: tt.timeout,
				PollInterval:  5 * time.Millisecond,
			})

			require.NoError(t, err)
			assert.Equal(t, tt.want, run.StopReason)
			assert.Len(t, proc.Requests(), 1)
			if tt.log != "" {
				assert.True(t, logger.HasLog("warn", tt.log))
			}
		})
	}
}

func TestRun_ReviewWaitCancelled(t *testing.T) {
	runner, _, _, _ := newRunner(completed(4, filter.ActionRequireReview))
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	run, err := runner.Run(ctx, "v1", runtime.RunOptions{WaitForReview: true, PollInterval: 5 * time.Millisecond})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, runtime.StopCancelled, run.StopReason)
	assert.Len(t, run.Results, 1)
}

type brokenDecisions struct {
	*testutil.DecisionStore
}

func (brokenDecisions) CreateOrReusePending(context.Context, kernel.Decision) (*kernel.Decision, bool, error) {
	return nil, false, errors.New("chairman_decisions: permission denied")
}

func TestRun_ReviewDecisionFailures(t *testing.T) {
	t.Run("creation failure is a warning", func(t *testing.T) {
		proc := &scriptedProcessor{script: []*kernel.StageResult{completed(4, filter.ActionRequireReview)}}
		logger := testutil.NewMockLogger()
		runner := runtime.NewVentureRunner(proc, brokenDecisions{}, logger)

		run, err := runner.Run(context.Background(), "v1", runtime.RunOptions{WaitForReview: true})

		require.NoError(t, err)
		assert.Equal(t, runtime.StopReviewRequired, run.StopReason)
		assert.Empty(t, run.DecisionID)
		assert.True(t, logger.HasLog("warn", "decision_create_failed"))
	})

	t.Run("no decision store", func(t *testing.T) {
		proc := &scriptedProcessor{script: []*kernel.StageResult{completed(4, filter.ActionRequireReview)}}
		logger := testutil.NewMockLogger()
		runner := runtime.NewVentureRunner(proc, nil, logger)

		run, err := runner.Run(context.Background(), "v1", runtime.RunOptions{})

		require.NoError(t, err)
		assert.Equal(t, runtime.StopReviewRequired, run.StopReason)
		assert.True(t, logger.HasLog("warn", "decision_store_unavailable"))
	})
}
