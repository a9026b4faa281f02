package telemetry

import (
	"context"
	"strings"

	"github.com/jeeves-cluster-organization/ventureflow/commbus"
	"github.com/jeeves-cluster-organization/ventureflow/coreengine/kernel"
	"github.com/jeeves-cluster-organization/ventureflow/coreengine/observability"
)

// recordedEvents are the bus events the Recorder subscribes to.
var recordedEvents = []string{
	"StageStarted",
	"StageCompleted",
	"GateEvaluated",
	"VentureKilled",
	"UsageRecorded",
	"DecisionRequested",
}

// Recorder consumes venture events from the bus. It counts them, tracks
// kills and spend, and writes an audit line for every event that needs a
// human: kills, review requests and failed stages.
type Recorder struct {
	logger kernel.Logger
}

// NewRecorder creates a Recorder. logger may be nil.
func NewRecorder(logger kernel.Logger) *Recorder {
	return &Recorder{logger: logger}
}

// Attach subscribes r to bus and returns the func that detaches it.
func (r *Recorder) Attach(bus commbus.Subscriber) func() {
	detach := make([]func(), 0, len(recordedEvents))
	for _, t := range recordedEvents {
		detach = append(detach, bus.Subscribe(t, r.Handle))
	}
	return func() {
		for _, d := range detach {
			d()
		}
	}
}

// Handle records one event. It never fails.
func (r *Recorder) Handle(_ context.Context, msg commbus.Message) (any, error) {
	observability.RecordBusEvent(commbus.GetMessageType(msg))

	switch m := msg.(type) {
	case *commbus.VentureKilled:
		observability.RecordVentureKilled(m.Gate)
		r.audit("venture_killed",
			"venture_id", m.VentureID,
			"gate", m.Gate,
			"reasons", strings.Join(m.Reasons, "; "),
		)
	case *commbus.DecisionRequested:
		r.audit("decision_requested",
			"decision_id", m.DecisionID,
			"venture_id", m.VentureID,
			"stage", m.Stage,
		)
	case *commbus.StageCompleted:
		if m.Status == string(kernel.StatusFailed) {
			r.audit("stage_failed",
				"venture_id", m.VentureID,
				"stage", m.Stage,
				"correlation_id", m.CorrelationID,
				"error_codes", strings.Join(m.ErrorCodes, ","),
			)
		}
	case *commbus.UsageRecorded:
		observability.RecordBudgetSpend(m.CostUSD)
	}
	return nil, nil
}

func (r *Recorder) audit(msg string, kv ...any) {
	if r.logger != nil {
		r.logger.Info(msg, kv...)
	}
}
