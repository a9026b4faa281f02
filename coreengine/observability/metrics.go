// Package observability provides Prometheus metrics instrumentation for the engine.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// STAGE METRICS
// =============================================================================

var (
	stageExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ventureflow_stage_executions_total",
			Help: "Total number of stage executions",
		},
		[]string{"stage", "status"}, // status: COMPLETED, BLOCKED, FAILED
	)

	stageDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ventureflow_stage_duration_seconds",
			Help:    "Stage execution duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
		},
		[]string{"stage"},
	)
)

var ventureRunsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "ventureflow_venture_runs_total",
		Help: "Completed run loops by stop reason",
	},
	[]string{"stop_reason"},
)

// =============================================================================
// GATE METRICS
// =============================================================================

var (
	gateEvaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ventureflow_gate_evaluations_total",
			Help: "Total number of gate evaluations",
		},
		[]string{"gate", "status"}, // gate: reality, stage
	)

	gateRecoveryAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ventureflow_gate_recovery_attempts_total",
			Help: "Gate failure recovery attempts by outcome",
		},
		[]string{"outcome"}, // outcome: passed, failed, error
	)

	urlProbesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ventureflow_url_probes_total",
			Help: "Reality gate URL reachability probes by result",
		},
		[]string{"result"}, // result: reachable, bad_status, error, missing
	)
)

// =============================================================================
// FILTER METRICS
// =============================================================================

var filterDecisionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "ventureflow_filter_decisions_total",
		Help: "Decision filter outcomes",
	},
	[]string{"action"},
)

// =============================================================================
// BUDGET METRICS
// =============================================================================

var budgetCacheLookupsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "ventureflow_budget_cache_lookups_total",
		Help: "Budget status cache lookups by result",
	},
	[]string{"result"}, // result: hit, miss, error
)

// =============================================================================
// TELEMETRY METRICS
// =============================================================================

var telemetryDroppedTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "ventureflow_telemetry_dropped_total",
		Help: "Telemetry events dropped because the queue was full",
	},
)

var (
	busEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ventureflow_bus_events_total",
			Help: "Venture lifecycle events seen on the in-process bus",
		},
		[]string{"type"},
	)

	venturesKilledTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ventureflow_ventures_killed_total",
			Help: "Ventures terminated by a critical gate failure",
		},
		[]string{"gate"},
	)

	budgetSpendUSDTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ventureflow_budget_spend_usd_total",
			Help: "Spend recorded against all ventures, in USD",
		},
	)
)

// =============================================================================
// GRPC METRICS
// =============================================================================

var (
	grpcRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ventureflow_grpc_requests_total",
			Help: "Total gRPC requests",
		},
		[]string{"method", "status"}, // status: OK, InvalidArgument, Internal, etc.
	)

	grpcRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ventureflow_grpc_request_duration_seconds",
			Help:    "gRPC request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 30},
		},
		[]string{"method"},
	)
)

// =============================================================================
// PUBLIC API
// =============================================================================

// RecordStageExecution records a terminal stage result.
func RecordStageExecution(stage string, status string, durationMS int) {
	stageExecutionsTotal.WithLabelValues(stage, status).Inc()
	stageDurationSeconds.WithLabelValues(stage).Observe(float64(durationMS) / 1000.0)
}

// RecordVentureRun records why a run loop ended.
func RecordVentureRun(stopReason string) {
	ventureRunsTotal.WithLabelValues(stopReason).Inc()
}

// RecordGateEvaluation records one gate outcome.
func RecordGateEvaluation(gate string, status string) {
	gateEvaluationsTotal.WithLabelValues(gate, status).Inc()
}

// RecordRecoveryAttempt records one rerun performed by gate failure recovery.
func RecordRecoveryAttempt(outcome string) {
	gateRecoveryAttemptsTotal.WithLabelValues(outcome).Inc()
}

// RecordURLProbe records one reality gate URL check.
func RecordURLProbe(result string) {
	urlProbesTotal.WithLabelValues(result).Inc()
}

// RecordFilterDecision records the action chosen by the decision filter.
func RecordFilterDecision(action string) {
	filterDecisionsTotal.WithLabelValues(action).Inc()
}

// RecordBudgetCacheLookup records one budget status cache read.
func RecordBudgetCacheLookup(result string) {
	budgetCacheLookupsTotal.WithLabelValues(result).Inc()
}

// RecordTelemetryDropped counts an event the telemetry queue could not accept.
func RecordTelemetryDropped() {
	telemetryDroppedTotal.Inc()
}

// RecordBusEvent counts one event delivered on the in-process bus.
func RecordBusEvent(eventType string) {
	busEventsTotal.WithLabelValues(eventType).Inc()
}

// RecordVentureKilled counts a venture killed at gate.
func RecordVentureKilled(gate string) {
	venturesKilledTotal.WithLabelValues(gate).Inc()
}

// RecordBudgetSpend adds recorded spend.
func RecordBudgetSpend(costUSD float64) {
	if costUSD > 0 {
		budgetSpendUSDTotal.Add(costUSD)
	}
}

// RecordGRPCRequest records gRPC request metrics.
// This should be called from gRPC interceptors.
func RecordGRPCRequest(method string, status string, durationMS int) {
	grpcRequestsTotal.WithLabelValues(method, status).Inc()
	grpcRequestDurationSeconds.WithLabelValues(method).Observe(float64(durationMS) / 1000.0)
}
