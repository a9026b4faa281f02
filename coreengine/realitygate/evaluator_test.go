package realitygate

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// TEST DOUBLES
// =============================================================================

type fakeReader struct {
	artifacts []Artifact
	err       error
	calls     int
	types     []string
}

func (f *fakeReader) CurrentArtifacts(_ context.Context, _ string, types []string) ([]Artifact, error) {
	f.calls++
	f.types = types
	if f.err != nil {
		return nil, f.err
	}
	return f.artifacts, nil
}

type probeReply struct {
	status int
	err    error
}

type fakeProber struct {
	mu      sync.Mutex
	replies []probeReply
	calls   []string
	timeout time.Duration
}

func (f *fakeProber) Head(_ context.Context, url string, timeout time.Duration) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	f.timeout = timeout
	if len(f.replies) == 0 {
		return 200, nil
	}
	r := f.replies[0]
	f.replies = f.replies[1:]
	return r.status, r.err
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func score(f float64) *float64 { return &f }

func fixedNow() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

func artifact(t string, q float64) Artifact {
	return Artifact{ArtifactType: t, QualityScore: score(q), CreatedAt: fixedNow()}
}

// =============================================================================
// BOUNDARY TESTS
// =============================================================================

func TestEvaluate_UngatedBoundaryNotApplicable(t *testing.T) {
	reader := &fakeReader{}
	e := NewEvaluator(nil)

	res := e.Evaluate(context.Background(), Request{VentureID: "v1", FromStage: 1, ToStage: 2, Reader: reader})

	assert.Equal(t, StatusNotApplicable, res.Status)
	assert.True(t, res.Passed())
	assert.Empty(t, res.Reasons)
	assert.Zero(t, reader.calls, "ungated boundaries never read artifacts")
}

func TestEvaluate_OneOfThreeMissing(t *testing.T) {
	reader := &fakeReader{artifacts: []Artifact{
		artifact("problem_statement", 0.85),
		artifact("market_analysis", 0.85),
	}}
	e := NewEvaluator(nil)

	res := e.Evaluate(context.Background(), Request{VentureID: "v1", FromStage: 5, ToStage: 6, Reader: reader, Now: fixedNow})

	assert.Equal(t, StatusFail, res.Status)
	require.Len(t, res.Reasons, 1)
	assert.Equal(t, ReasonArtifactMissing, res.Reasons[0].Code)
	assert.Equal(t, "financial_model", res.Reasons[0].ArtifactType)
	assert.Equal(t, "5->6", res.Boundary)
	assert.Equal(t, fixedNow(), res.EvaluatedAt)
	assert.Equal(t, []string{"problem_statement", "market_analysis", "financial_model"}, reader.types)
}

func TestEvaluate_AllPresentPasses(t *testing.T) {
	reader := &fakeReader{artifacts: []Artifact{
		artifact("problem_statement", 0.85),
		artifact("market_analysis", 0.85),
		artifact("financial_model", 0.85),
	}}

	res := NewEvaluator(nil).Evaluate(context.Background(), Request{VentureID: "v1", FromStage: 5, ToStage: 6, Reader: reader})

	assert.Equal(t, StatusPass, res.Status)
	assert.Empty(t, res.Reasons)
}

func TestEvaluate_EveryMissingArtifactReported(t *testing.T) {
	for key := range DefaultPolicy {
		t.Run(key, func(t *testing.T) {
			var from, to int
			_, err := fmt.Sscanf(key, "%d->%d", &from, &to)
			require.NoError(t, err)

			res := NewEvaluator(nil).Evaluate(context.Background(), Request{
				VentureID: "v1", FromStage: from, ToStage: to, Reader: &fakeReader{},
			})

			require.Equal(t, StatusFail, res.Status)
			assert.Len(t, res.Reasons, len(DefaultPolicy[key]))
			for i, reason := range res.Reasons {
				assert.Equal(t, ReasonArtifactMissing, reason.Code)
				assert.Equal(t, DefaultPolicy[key][i].ArtifactType, reason.ArtifactType, "reasons follow declaration order")
			}
		})
	}
}

// =============================================================================
// FAIL-CLOSED TESTS
// =============================================================================

func TestEvaluate_ReadErrorFailsClosed(t *testing.T) {
	reader := &fakeReader{err: errors.New("connection reset")}

	res := NewEvaluator(nil).Evaluate(context.Background(), Request{VentureID: "v1", FromStage: 9, ToStage: 10, Reader: reader})

	assert.Equal(t, StatusFail, res.Status)
	require.Len(t, res.Reasons, 1)
	assert.Equal(t, ReasonDBError, res.Reasons[0].Code)
	assert.Contains(t, res.Reasons[0].Message, "connection reset")
}

func TestEvaluate_ConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		req  Request
	}{
		{"missing venture", Request{FromStage: 5, ToStage: 6, Reader: &fakeReader{}}},
		{"missing reader", Request{VentureID: "v1", FromStage: 5, ToStage: 6}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := NewEvaluator(nil).Evaluate(context.Background(), tt.req)
			assert.Equal(t, StatusFail, res.Status)
			require.Len(t, res.Reasons, 1)
			assert.Equal(t, ReasonConfigError, res.Reasons[0].Code)
		})
	}
}

// =============================================================================
// QUALITY TESTS
// =============================================================================

func TestEvaluate_QualityChecks(t *testing.T) {
	reader := &fakeReader{artifacts: []Artifact{
		{ArtifactType: "customer_validation", CreatedAt: fixedNow()},
		artifact("competitive_analysis", 0.5),
		artifact("business_model_canvas", 0.9),
	}}

	res := NewEvaluator(nil).Evaluate(context.Background(), Request{VentureID: "v1", FromStage: 9, ToStage: 10, Reader: reader})

	require.Len(t, res.Reasons, 2)
	assert.Equal(t, []ReasonCode{ReasonQualityScoreMissing, ReasonQualityScoreBelowThreshold}, res.Codes())
	below := res.Reasons[1]
	assert.Equal(t, 0.5, *below.Actual)
	assert.Equal(t, 0.6, *below.Required)
	assert.False(t, below.Overridden)
}

func TestEvaluate_ThresholdOverride(t *testing.T) {
	reader := &fakeReader{artifacts: []Artifact{
		artifact("pricing_model", 0.75),
		artifact("go_to_market_plan", 0.75),
	}}

	res := NewEvaluator(nil).Evaluate(context.Background(), Request{
		VentureID: "v1", FromStage: 12, ToStage: 13, Reader: reader,
		ThresholdOverrides: map[string]float64{"go_to_market_plan": 0.9},
	})

	require.Len(t, res.Reasons, 1)
	r := res.Reasons[0]
	assert.Equal(t, ReasonQualityScoreBelowThreshold, r.Code)
	assert.Equal(t, "go_to_market_plan", r.ArtifactType)
	assert.Equal(t, 0.9, *r.Required)
	assert.True(t, r.Overridden)
}

func TestEvaluate_LatestCurrentArtifactWins(t *testing.T) {
	older := Artifact{ArtifactType: "test_coverage_report", QualityScore: score(0.9), CreatedAt: fixedNow().Add(-time.Hour)}
	newer := Artifact{ArtifactType: "test_coverage_report", QualityScore: score(0.2), CreatedAt: fixedNow()}

	res := NewEvaluator(nil).Evaluate(context.Background(), Request{
		VentureID: "v1", FromStage: 20, ToStage: 21,
		Reader: &fakeReader{artifacts: []Artifact{newer, older}},
	})

	require.Len(t, res.Reasons, 1)
	assert.Equal(t, 0.2, *res.Reasons[0].Actual)
}

// =============================================================================
// URL TESTS
// =============================================================================

func deploymentReader(url string) *fakeReader {
	return &fakeReader{artifacts: []Artifact{
		artifact("deployment_runbook", 0.9),
		{ArtifactType: "production_deployment", QualityScore: score(0.9), URL: url, CreatedAt: fixedNow()},
	}}
}

func TestEvaluate_URLSkippedWithoutProber(t *testing.T) {
	res := NewEvaluator(nil).Evaluate(context.Background(), Request{
		VentureID: "v1", FromStage: 22, ToStage: 23, Reader: deploymentReader(""),
	})
	assert.Equal(t, StatusPass, res.Status)
}

func TestEvaluate_URLChecks(t *testing.T) {
	tests := []struct {
		name       string
		url        string
		replies    []probeReply
		wantStatus Status
		wantCalls  int
	}{
		{"reachable", "https://app.example.com", []probeReply{{status: 200}}, StatusPass, 1},
		{"auth wall counts as reachable", "https://app.example.com", []probeReply{{status: 401}}, StatusPass, 1},
		{"redirect counts as reachable", "https://app.example.com", []probeReply{{status: 308}}, StatusPass, 1},
		{"not found", "https://app.example.com", []probeReply{{status: 404}}, StatusFail, 1},
		{"server error", "https://app.example.com", []probeReply{{status: 503}}, StatusFail, 1},
		{"missing url", "", nil, StatusFail, 0},
		{
			name:       "timeout then success retries once",
			url:        "https://app.example.com",
			replies:    []probeReply{{err: context.DeadlineExceeded}, {status: 204}},
			wantStatus: StatusPass,
			wantCalls:  2,
		},
		{
			name:       "net timeout twice fails after one retry",
			url:        "https://app.example.com",
			replies:    []probeReply{{err: timeoutErr{}}, {err: timeoutErr{}}, {status: 200}},
			wantStatus: StatusFail,
			wantCalls:  2,
		},
		{
			name:       "connection refused is not retried",
			url:        "https://app.example.com",
			replies:    []probeReply{{err: errors.New("dial tcp: connection refused")}, {status: 200}},
			wantStatus: StatusFail,
			wantCalls:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prober := &fakeProber{replies: tt.replies}
			e := NewEvaluator(nil, WithProbeTimeout(250*time.Millisecond))

			res := e.Evaluate(context.Background(), Request{
				VentureID: "v1", FromStage: 22, ToStage: 23,
				Reader: deploymentReader(tt.url), Prober: prober,
			})

			assert.Equal(t, tt.wantStatus, res.Status)
			assert.Len(t, prober.calls, tt.wantCalls)
			if tt.wantStatus == StatusFail {
				require.Len(t, res.Reasons, 1)
				assert.Equal(t, ReasonURLUnreachable, res.Reasons[0].Code)
			}
			if tt.wantCalls > 0 {
				assert.Equal(t, 250*time.Millisecond, prober.timeout)
			}
		})
	}
}

func TestEvaluate_CollectsAllProblemsForOneArtifact(t *testing.T) {
	reader := &fakeReader{artifacts: []Artifact{
		artifact("technical_architecture", 0.9),
		{ArtifactType: "mvp_build", QualityScore: score(0.1), URL: "", CreatedAt: fixedNow()},
	}}

	res := NewEvaluator(nil).Evaluate(context.Background(), Request{
		VentureID: "v1", FromStage: 16, ToStage: 17, Reader: reader, Prober: &fakeProber{},
	})

	assert.Equal(t, []ReasonCode{ReasonQualityScoreBelowThreshold, ReasonURLUnreachable}, res.Codes())
}

// =============================================================================
// HELPERS
// =============================================================================

func TestIsTimeout(t *testing.T) {
	assert.True(t, IsTimeout(context.DeadlineExceeded))
	assert.True(t, IsTimeout(timeoutErr{}))
	assert.False(t, IsTimeout(errors.New("no such host")))
	assert.False(t, IsTimeout(nil))
}

func TestPolicyBoundariesOrdered(t *testing.T) {
	assert.Equal(t,
		[]string{"5->6", "9->10", "12->13", "16->17", "20->21", "22->23"},
		DefaultPolicy.Boundaries(),
	)
}

func TestReasonCodeIsKnown(t *testing.T) {
	assert.True(t, ReasonDBError.IsKnown())
	assert.False(t, ReasonCode("SOMETHING_ELSE").IsKnown())
}
