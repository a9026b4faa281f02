package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/jeeves-cluster-organization/ventureflow/commbus"
	"github.com/jeeves-cluster-organization/ventureflow/coreengine/config"
	"github.com/jeeves-cluster-organization/ventureflow/coreengine/testutil"
)

// recordingSink collects delivered events.
type recordingSink struct {
	mu     sync.Mutex
	events []commbus.Message
}

func (s *recordingSink) Publish(_ context.Context, msg commbus.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, msg)
	return nil
}

func (s *recordingSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func started(venture string, stage int) *commbus.StageStarted {
	return &commbus.StageStarted{VentureID: venture, Stage: stage, CorrelationID: "corr-1"}
}

func closeQueue(t *testing.T, q *Queue) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, q.Close(ctx))
}

// =============================================================================
// Queue
// =============================================================================

func TestQueue_DeliversInOrder(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	first, second := &recordingSink{}, &recordingSink{}
	q := NewQueue(8, nil, first, second)
	q.Start()

	for stage := 1; stage <= 3; stage++ {
		q.Emit(started("v1", stage))
	}
	closeQueue(t, q)

	require.Equal(t, 3, first.Len())
	require.Equal(t, 3, second.Len())
	for i, msg := range first.events {
		assert.Equal(t, i+1, msg.(*commbus.StageStarted).Stage)
	}
	assert.Zero(t, q.Dropped())
}

func TestQueue_FullQueueDrops(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	blocking := SinkFunc(func(context.Context, commbus.Message) error {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
		return nil
	})
	logger := testutil.NewMockLogger()
	q := NewQueue(1, logger, blocking)
	q.Start()

	q.Emit(started("v1", 1))
	<-entered
	q.Emit(started("v1", 2))

	start := time.Now()
	q.Emit(started("v1", 3))
	assert.Less(t, time.Since(start), 100*time.Millisecond, "Emit must not block")

	assert.Equal(t, int64(1), q.Dropped())
	assert.True(t, logger.HasLog("debug", "telemetry_dropped"))

	close(release)
	closeQueue(t, q)
}

func TestQueue_SinkFailuresAreIsolated(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	logger := testutil.NewMockLogger()
	failing := SinkFunc(func(context.Context, commbus.Message) error { return errors.New("broker down") })
	panicking := SinkFunc(func(context.Context, commbus.Message) error { panic("sink bug") })
	healthy := &recordingSink{}

	q := NewQueue(4, logger, failing, panicking, healthy)
	q.Start()
	q.Emit(started("v1", 1))
	q.Emit(started("v1", 2))
	closeQueue(t, q)

	assert.Equal(t, 2, healthy.Len())
	assert.True(t, logger.HasLog("warn", "telemetry_publish_failed"))
	assert.True(t, logger.HasLog("error", "panic_recovered"))
}

func TestQueue_EmitAfterClose(t *testing.T) {
	sink := &recordingSink{}
	q := NewQueue(4, nil, sink)
	q.Start()
	closeQueue(t, q)

	assert.NotPanics(t, func() { q.Emit(started("v1", 1)) })
	assert.Equal(t, int64(1), q.Dropped())
	assert.Zero(t, sink.Len())
	assert.NoError(t, q.Close(context.Background()), "second close is a no-op")
}

func TestQueue_CloseWithoutStart(t *testing.T) {
	q := NewQueue(0, nil)
	q.Emit(started("v1", 1))

	assert.NoError(t, q.Close(context.Background()))
	assert.Equal(t, DefaultQueueSize, cap(q.events))
}

func TestQueue_CloseHonoursContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	q := NewQueue(2, nil, SinkFunc(func(context.Context, commbus.Message) error {
		<-release
		return nil
	}))
	q.Start()
	q.Emit(started("v1", 1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Close(ctx), context.DeadlineExceeded)
}

// =============================================================================
// Bus Sink
// =============================================================================

func TestBusSink(t *testing.T) {
	bus := commbus.NewInMemoryCommBus(time.Second, nil)
	got := make(chan commbus.Message, 1)
	bus.Subscribe("StageStarted", func(_ context.Context, msg commbus.Message) (any, error) {
		got <- msg
		return nil, nil
	})

	err := BusSink{Bus: bus}.Publish(context.Background(), started("v1", 4))
	require.NoError(t, err)

	select {
	case msg := <-got:
		assert.Equal(t, 4, msg.(*commbus.StageStarted).Stage)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

type brokenPublisher struct{}

func (brokenPublisher) Publish(context.Context, commbus.Message) error {
	return errors.New("bus closed")
}

func TestBusSink_WrapsErrors(t *testing.T) {
	err := BusSink{Bus: brokenPublisher{}}.Publish(context.Background(), started("v1", 4))

	var cbe *commbus.CommBusError
	require.ErrorAs(t, err, &cbe)
	assert.Equal(t, "StageStarted", cbe.MessageType)
	assert.EqualError(t, cbe.Cause, "bus closed")
}

// =============================================================================
// NATS Sink
// =============================================================================

func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()
	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	}
	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go server.Start()
	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}
	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})
	return server
}

func TestNATSSink_Subject(t *testing.T) {
	sink := NewNATSSink(nil, "")

	tests := []struct {
		venture string
		msgType string
		want    string
	}{
		{"v1", "StageCompleted", "ventureflow.v1.stage_completed"},
		{"acme.io", "GateEvaluated", "ventureflow.acme_io.gate_evaluated"},
		{"", "UsageRecorded", "ventureflow._global.usage_recorded"},
		{"v*>", "VentureKilled", "ventureflow.v__.venture_killed"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, sink.Subject(tt.venture, tt.msgType))
		})
	}
}

func TestNATSSink_Publish(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := ConnectNATS(config.NATSConfig{URL: server.ClientURL(), Name: "ventureflow-test", MaxReconnects: 1, ReconnectWait: 10 * time.Millisecond}, nil)
	require.NoError(t, err)
	defer nc.Close()

	sub, err := nc.SubscribeSync("events.>")
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	sink := NewNATSSink(nc, "events")
	completed := &commbus.StageCompleted{VentureID: "v1", Stage: 3, Status: "COMPLETED"}
	require.NoError(t, sink.Publish(context.Background(), completed))

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "events.v1.stage_completed", msg.Subject)

	var env struct {
		Type      string         `json:"type"`
		VentureID string         `json:"ventureId"`
		Data      map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(msg.Data, &env))
	assert.Equal(t, "StageCompleted", env.Type)
	assert.Equal(t, "v1", env.VentureID)
	assert.Equal(t, 3.0, env.Data["stage"])
}

func TestNATSSink_PublishOnClosedConn(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	nc.Close()

	err = NewNATSSink(nc, "").Publish(context.Background(), started("v1", 1))
	assert.ErrorIs(t, err, nats.ErrConnectionClosed)
}

// =============================================================================
// Recorder
// =============================================================================

func TestRecorder_AuditsVentureEvents(t *testing.T) {
	bus := commbus.NewInMemoryCommBus(time.Second, nil)
	log := testutil.NewMockLogger()
	detach := NewRecorder(log).Attach(bus)
	ctx := context.Background()

	assert.Equal(t, 1, bus.SubscriberCount("VentureKilled"))
	assert.Equal(t, 1, bus.SubscriberCount("UsageRecorded"))

	require.NoError(t, bus.Publish(ctx, &commbus.VentureKilled{VentureID: "v1", Gate: "reality_gate_16->17", Reasons: []string{"URL down", "score low"}}))
	require.NoError(t, bus.Publish(ctx, &commbus.DecisionRequested{DecisionID: "d1", VentureID: "v1", Stage: 5}))
	require.NoError(t, bus.Publish(ctx, &commbus.StageCompleted{VentureID: "v1", Stage: 6, Status: "FAILED", ErrorCodes: []string{"PERSIST_ERROR"}}))
	require.NoError(t, bus.Publish(ctx, &commbus.StageCompleted{VentureID: "v1", Stage: 7, Status: "COMPLETED"}))
	require.NoError(t, bus.Publish(ctx, &commbus.UsageRecorded{VentureID: "v1", CostUSD: 3}))

	logs := log.GetLogs()
	require.Len(t, logs, 3)
	assert.Equal(t, "venture_killed", logs[0].Message)
	assert.Equal(t, "URL down; score low", logs[0].Fields["reasons"])
	assert.Equal(t, "decision_requested", logs[1].Message)
	assert.Equal(t, "stage_failed", logs[2].Message)
	assert.Equal(t, "PERSIST_ERROR", logs[2].Fields["error_codes"])

	detach()
	assert.Zero(t, bus.SubscriberCount("VentureKilled"))
}

func TestRecorder_NilLogger(t *testing.T) {
	out, err := NewRecorder(nil).Handle(context.Background(), &commbus.VentureKilled{VentureID: "v1"})
	assert.NoError(t, err)
	assert.Nil(t, out)
}
