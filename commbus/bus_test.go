package commbus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// =============================================================================
// TEST HELPERS
// =============================================================================

func newTestBus() *InMemoryCommBus {
	return NewInMemoryCommBus(time.Second, nil)
}

type capturingLogger struct {
	mu   sync.Mutex
	msgs []string
}

func (l *capturingLogger) record(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = append(l.msgs, msg)
}

func (l *capturingLogger) Debug(msg string, _ ...any) { l.record(msg) }
func (l *capturingLogger) Info(msg string, _ ...any)  { l.record(msg) }
func (l *capturingLogger) Warn(msg string, _ ...any)  { l.record(msg) }
func (l *capturingLogger) Error(msg string, _ ...any) { l.record(msg) }

func (l *capturingLogger) has(msg string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range l.msgs {
		if m == msg {
			return true
		}
	}
	return false
}

func failingHandler(msg string) HandlerFunc {
	return func(context.Context, Message) (any, error) {
		return nil, errors.New(msg)
	}
}

func budgetHandler(ctx context.Context, msg Message) (any, error) {
	q := msg.(*GetBudgetStatus)
	return &BudgetStatusResponse{VentureID: q.VentureID, SpentUSD: 40, LimitUSD: 100, UsagePercent: 40}, nil
}

// trackingMiddleware records call order.
type trackingMiddleware struct {
	order *[]string
	mu    *sync.Mutex
	name  string
}

func (m *trackingMiddleware) Before(ctx context.Context, message Message) (Message, error) {
	m.mu.Lock()
	*m.order = append(*m.order, m.name+"-before")
	m.mu.Unlock()
	return message, nil
}

func (m *trackingMiddleware) After(ctx context.Context, message Message, result any, err error) (any, error) {
	m.mu.Lock()
	*m.order = append(*m.order, m.name+"-after")
	m.mu.Unlock()
	return result, err
}

// abortingMiddleware aborts processing by returning nil.
type abortingMiddleware struct{}

func (abortingMiddleware) Before(context.Context, Message) (Message, error) { return nil, nil }
func (abortingMiddleware) After(_ context.Context, _ Message, result any, err error) (any, error) {
	return result, err
}

// rejectingMiddleware fails in Before.
type rejectingMiddleware struct{}

func (rejectingMiddleware) Before(context.Context, Message) (Message, error) {
	return nil, errors.New("rejected")
}
func (rejectingMiddleware) After(_ context.Context, _ Message, result any, err error) (any, error) {
	return result, err
}

// wrappingMiddleware wraps successful results in After.
type wrappingMiddleware struct{}

func (wrappingMiddleware) Before(_ context.Context, msg Message) (Message, error) { return msg, nil }
func (wrappingMiddleware) After(_ context.Context, _ Message, result any, err error) (any, error) {
	if err != nil {
		return result, err
	}
	return map[string]any{"wrapped": result}, nil
}

// =============================================================================
// EVENT TESTS
// =============================================================================

func TestPublish_DeliversToAllSubscribers(t *testing.T) {
	bus := newTestBus()
	var count1, count2 int32
	var got *StageCompleted

	bus.Subscribe("StageCompleted", func(ctx context.Context, msg Message) (any, error) {
		atomic.AddInt32(&count1, 1)
		got = msg.(*StageCompleted)
		return nil, nil
	})
	bus.Subscribe("StageCompleted", func(ctx context.Context, msg Message) (any, error) {
		atomic.AddInt32(&count2, 1)
		return nil, nil
	})

	err := bus.Publish(context.Background(), &StageCompleted{VentureID: "v1", Stage: 4, Status: "COMPLETED"})

	require.NoError(t, err)
	// Publish waits for every subscriber.
	assert.Equal(t, int32(1), atomic.LoadInt32(&count1))
	assert.Equal(t, int32(1), atomic.LoadInt32(&count2))
	require.NotNil(t, got)
	assert.Equal(t, "v1", got.VentureID)
}

func TestPublish_NoSubscribers(t *testing.T) {
	assert.NoError(t, newTestBus().Publish(context.Background(), &StageStarted{VentureID: "v1"}))
}

func TestPublish_SubscriberFailuresAreIsolated(t *testing.T) {
	logger := &capturingLogger{}
	bus := NewInMemoryCommBus(time.Second, logger)
	var delivered int32

	bus.Subscribe("VentureKilled", failingHandler("sink down"))
	bus.Subscribe("VentureKilled", func(context.Context, Message) (any, error) {
		panic("boom")
	})
	bus.Subscribe("VentureKilled", func(context.Context, Message) (any, error) {
		atomic.AddInt32(&delivered, 1)
		return nil, nil
	})

	err := bus.Publish(context.Background(), &VentureKilled{VentureID: "v1", Gate: "reality_gate_16->17"})

	assert.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&delivered))
	assert.True(t, logger.has("commbus_subscriber_failed"))
	assert.True(t, logger.has("commbus_subscriber_panic"))
}

func TestPublish_AfterSeesFirstSubscriberError(t *testing.T) {
	bus := newTestBus()
	var seen error
	bus.AddMiddleware(&recordingAfter{err: &seen})
	bus.Subscribe("UsageRecorded", failingHandler("write failed"))

	require.NoError(t, bus.Publish(context.Background(), &UsageRecorded{VentureID: "v1"}))
	require.Error(t, seen)
	assert.Equal(t, "write failed", seen.Error())
}

type recordingAfter struct{ err *error }

func (m *recordingAfter) Before(_ context.Context, msg Message) (Message, error) { return msg, nil }
func (m *recordingAfter) After(_ context.Context, _ Message, result any, err error) (any, error) {
	*m.err = err
	return result, err
}

func TestUnsubscribe(t *testing.T) {
	bus := newTestBus()
	ctx := context.Background()
	var first, second int32

	unsubscribe := bus.Subscribe("GateEvaluated", func(context.Context, Message) (any, error) {
		atomic.AddInt32(&first, 1)
		return nil, nil
	})
	bus.Subscribe("GateEvaluated", func(context.Context, Message) (any, error) {
		atomic.AddInt32(&second, 1)
		return nil, nil
	})

	require.NoError(t, bus.Publish(ctx, &GateEvaluated{VentureID: "v1"}))
	unsubscribe()
	unsubscribe()
	require.NoError(t, bus.Publish(ctx, &GateEvaluated{VentureID: "v1"}))

	assert.Equal(t, int32(1), atomic.LoadInt32(&first))
	assert.Equal(t, int32(2), atomic.LoadInt32(&second))
	assert.Equal(t, 1, bus.SubscriberCount("GateEvaluated"))
}

func TestUnsubscribe_KeepsHandlerOfSameType(t *testing.T) {
	bus := newTestBus()
	require.NoError(t, bus.RegisterHandler("GetBudgetStatus", budgetHandler))
	unsubscribe := bus.Subscribe("GetBudgetStatus", func(context.Context, Message) (any, error) { return nil, nil })

	unsubscribe()

	assert.Zero(t, bus.SubscriberCount("GetBudgetStatus"))
	assert.True(t, bus.HasHandler("GetBudgetStatus"))
}

// =============================================================================
// COMMAND TESTS
// =============================================================================

func TestSend(t *testing.T) {
	bus := newTestBus()
	var invalidated string
	require.NoError(t, bus.RegisterHandler("InvalidateBudget", func(_ context.Context, msg Message) (any, error) {
		invalidated = msg.(*InvalidateBudget).VentureID
		return nil, nil
	}))

	require.NoError(t, bus.Send(context.Background(), &InvalidateBudget{VentureID: "v9"}))
	assert.Equal(t, "v9", invalidated)
}

func TestSend_WithoutHandlerIsDropped(t *testing.T) {
	assert.NoError(t, newTestBus().Send(context.Background(), &InvalidateBudget{VentureID: "v9"}))
}

func TestSend_ReturnsHandlerError(t *testing.T) {
	bus := newTestBus()
	require.NoError(t, bus.RegisterHandler("InvalidateBudget", failingHandler("cache locked")))

	err := bus.Send(context.Background(), &InvalidateBudget{VentureID: "v9"})
	assert.EqualError(t, err, "cache locked")
}

// =============================================================================
// QUERY TESTS
// =============================================================================

func TestQuerySync(t *testing.T) {
	bus := newTestBus()
	require.NoError(t, bus.RegisterHandler("GetBudgetStatus", budgetHandler))

	result, err := bus.QuerySync(context.Background(), &GetBudgetStatus{VentureID: "v1"})

	require.NoError(t, err)
	resp := result.(*BudgetStatusResponse)
	assert.Equal(t, "v1", resp.VentureID)
	assert.Equal(t, 40.0, resp.UsagePercent)
}

func TestQuerySync_NoHandler(t *testing.T) {
	_, err := newTestBus().QuerySync(context.Background(), &GetBudgetStatus{VentureID: "v1"})

	require.ErrorIs(t, err, ErrNoHandler)
	var cbe *CommBusError
	require.ErrorAs(t, err, &cbe)
	assert.Equal(t, "GetBudgetStatus", cbe.MessageType)
}

func TestQuerySync_Timeout(t *testing.T) {
	bus := NewInMemoryCommBus(20*time.Millisecond, nil)
	require.NoError(t, bus.RegisterHandler("GetBudgetStatus", func(ctx context.Context, _ Message) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))

	_, err := bus.QuerySync(context.Background(), &GetBudgetStatus{VentureID: "v1"})

	require.ErrorIs(t, err, ErrQueryTimeout)
	assert.EqualError(t, err, "commbus GetBudgetStatus: query timed out after 20ms")
}

func TestQuerySync_CallerCancellation(t *testing.T) {
	bus := newTestBus()
	require.NoError(t, bus.RegisterHandler("GetBudgetStatus", func(ctx context.Context, _ Message) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := bus.QuerySync(ctx, &GetBudgetStatus{VentureID: "v1"})

	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrQueryTimeout)
}

func TestQuerySync_HandlerPanic(t *testing.T) {
	bus := newTestBus()
	require.NoError(t, bus.RegisterHandler("GetBudgetStatus", func(context.Context, Message) (any, error) {
		panic("nil ledger")
	}))

	_, err := bus.QuerySync(context.Background(), &GetBudgetStatus{VentureID: "v1"})

	assert.EqualError(t, err, "query handler panic: nil ledger")
}

func TestRegisterHandler_Duplicate(t *testing.T) {
	bus := newTestBus()
	require.NoError(t, bus.RegisterHandler("GetBudgetStatus", budgetHandler))

	err := bus.RegisterHandler("GetBudgetStatus", budgetHandler)

	assert.ErrorIs(t, err, ErrHandlerExists)
	assert.True(t, bus.HasHandler("GetBudgetStatus"))
	assert.False(t, bus.HasHandler("InvalidateBudget"))
}

// =============================================================================
// MIDDLEWARE TESTS
// =============================================================================

func TestMiddleware_Order(t *testing.T) {
	bus := newTestBus()
	var order []string
	var mu sync.Mutex
	bus.AddMiddleware(&trackingMiddleware{order: &order, mu: &mu, name: "outer"})
	bus.AddMiddleware(&trackingMiddleware{order: &order, mu: &mu, name: "inner"})
	require.NoError(t, bus.RegisterHandler("GetBudgetStatus", budgetHandler))

	_, err := bus.QuerySync(context.Background(), &GetBudgetStatus{VentureID: "v1"})

	require.NoError(t, err)
	assert.Equal(t, []string{"outer-before", "inner-before", "inner-after", "outer-after"}, order)
}

func TestMiddleware_Abort(t *testing.T) {
	bus := newTestBus()
	bus.AddMiddleware(abortingMiddleware{})
	var delivered int32
	bus.Subscribe("StageStarted", func(context.Context, Message) (any, error) {
		atomic.AddInt32(&delivered, 1)
		return nil, nil
	})
	require.NoError(t, bus.RegisterHandler("GetBudgetStatus", budgetHandler))

	assert.NoError(t, bus.Publish(context.Background(), &StageStarted{VentureID: "v1"}))
	assert.Zero(t, atomic.LoadInt32(&delivered))

	_, err := bus.QuerySync(context.Background(), &GetBudgetStatus{VentureID: "v1"})
	assert.ErrorIs(t, err, ErrNoHandler, "aborted queries report no handler")
}

func TestMiddleware_BeforeErrorPropagates(t *testing.T) {
	bus := newTestBus()
	bus.AddMiddleware(rejectingMiddleware{})

	assert.EqualError(t, bus.Publish(context.Background(), &StageStarted{}), "rejected")
	assert.EqualError(t, bus.Send(context.Background(), &InvalidateBudget{}), "rejected")
}

func TestMiddleware_AfterMayReplaceResult(t *testing.T) {
	bus := newTestBus()
	bus.AddMiddleware(wrappingMiddleware{})
	require.NoError(t, bus.RegisterHandler("GetBudgetStatus", budgetHandler))

	result, err := bus.QuerySync(context.Background(), &GetBudgetStatus{VentureID: "v1"})

	require.NoError(t, err)
	wrapped, ok := result.(map[string]any)
	require.True(t, ok)
	assert.IsType(t, &BudgetStatusResponse{}, wrapped["wrapped"])
}

func TestLoggingMiddleware(t *testing.T) {
	logger := &capturingLogger{}
	bus := newTestBus()
	bus.AddMiddleware(NewLoggingMiddleware(logger))
	require.NoError(t, bus.RegisterHandler("InvalidateBudget", failingHandler("locked")))

	_ = bus.Publish(context.Background(), &StageStarted{VentureID: "v1"})
	_ = bus.Send(context.Background(), &InvalidateBudget{VentureID: "v1"})

	assert.True(t, logger.has("commbus_dispatch"))
	assert.True(t, logger.has("commbus_dispatch_done"))
	assert.True(t, logger.has("commbus_dispatch_failed"))
}

func TestLoggingMiddleware_NilLogger(t *testing.T) {
	bus := newTestBus()
	bus.AddMiddleware(NewLoggingMiddleware(nil))
	assert.NoError(t, bus.Publish(context.Background(), &StageStarted{VentureID: "v1"}))
}

// =============================================================================
// CIRCUIT BREAKER TESTS
// =============================================================================

// newBreaker returns a breaker driven by a settable clock.
func newBreaker(threshold int, excluded ...string) (*CircuitBreakerMiddleware, *time.Time) {
	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	cb := NewCircuitBreakerMiddleware(threshold, time.Minute, excluded, nil)
	cb.now = func() time.Time { return now }
	return cb, &now
}

func TestCircuitBreaker_OpensAndBlocks(t *testing.T) {
	bus := newTestBus()
	cb, _ := newBreaker(2)
	bus.AddMiddleware(cb)

	var calls int32
	require.NoError(t, bus.RegisterHandler("GetBudgetStatus", func(context.Context, Message) (any, error) {
		atomic.AddInt32(&calls, 1)
		return nil, errors.New("db down")
	}))

	ctx := context.Background()
	_, _ = bus.QuerySync(ctx, &GetBudgetStatus{})
	_, _ = bus.QuerySync(ctx, &GetBudgetStatus{})
	assert.Equal(t, CircuitOpen, cb.States()["GetBudgetStatus"])

	result, err := bus.QuerySync(ctx, &GetBudgetStatus{})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Nil(t, result)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls), "open circuit skips the handler")
}

func TestCircuitBreaker_HalfOpen(t *testing.T) {
	tests := []struct {
		name      string
		handler   HandlerFunc
		wantState string
	}{
		{"success closes", budgetHandler, CircuitClosed},
		{"failure reopens", failingHandler("still down"), CircuitOpen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := newTestBus()
			cb, now := newBreaker(1)
			bus.AddMiddleware(cb)

			fail := true
			require.NoError(t, bus.RegisterHandler("GetBudgetStatus", func(ctx context.Context, msg Message) (any, error) {
				if fail {
					return nil, errors.New("db down")
				}
				return tt.handler(ctx, msg)
			}))

			ctx := context.Background()
			_, _ = bus.QuerySync(ctx, &GetBudgetStatus{})
			require.Equal(t, CircuitOpen, cb.States()["GetBudgetStatus"])

			*now = now.Add(2 * time.Minute)
			fail = false
			_, _ = bus.QuerySync(ctx, &GetBudgetStatus{})

			assert.Equal(t, tt.wantState, cb.States()["GetBudgetStatus"])
		})
	}
}

func TestCircuitBreaker_ExcludedTypes(t *testing.T) {
	bus := newTestBus()
	cb, _ := newBreaker(1, "GetBudgetStatus")
	bus.AddMiddleware(cb)
	require.NoError(t, bus.RegisterHandler("GetBudgetStatus", failingHandler("db down")))

	for i := 0; i < 3; i++ {
		_, err := bus.QuerySync(context.Background(), &GetBudgetStatus{})
		assert.EqualError(t, err, "db down")
	}
	assert.NotContains(t, cb.States(), "GetBudgetStatus")
}

func TestCircuitBreaker_ZeroThresholdNeverOpens(t *testing.T) {
	bus := newTestBus()
	cb, _ := newBreaker(0)
	bus.AddMiddleware(cb)
	require.NoError(t, bus.RegisterHandler("GetBudgetStatus", failingHandler("db down")))

	for i := 0; i < 5; i++ {
		_, _ = bus.QuerySync(context.Background(), &GetBudgetStatus{})
	}
	assert.Equal(t, CircuitClosed, cb.States()["GetBudgetStatus"])
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb, _ := newBreaker(1)
	ctx := context.Background()
	_, _ = cb.After(ctx, &GetBudgetStatus{}, nil, errors.New("x"))
	_, _ = cb.After(ctx, &InvalidateBudget{}, nil, errors.New("x"))

	cb.Reset("GetBudgetStatus")
	assert.Len(t, cb.States(), 1)

	cb.Reset("")
	assert.Empty(t, cb.States())
}

func TestCircuitBreaker_SuccessResetsFailureRun(t *testing.T) {
	cb, _ := newBreaker(2)
	ctx := context.Background()
	q := &GetBudgetStatus{}

	_, _ = cb.After(ctx, q, nil, errors.New("x"))
	_, _ = cb.After(ctx, q, nil, nil)
	_, _ = cb.After(ctx, q, nil, errors.New("x"))

	assert.Equal(t, CircuitClosed, cb.States()["GetBudgetStatus"], "failures must be consecutive")
}

// =============================================================================
// CONCURRENCY TESTS
// =============================================================================

func TestConcurrentPublishAndSubscribe(t *testing.T) {
	bus := newTestBus()
	var delivered int64
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			unsub := bus.Subscribe("StageCompleted", func(context.Context, Message) (any, error) {
				atomic.AddInt64(&delivered, 1)
				return nil, nil
			})
			defer unsub()
		}()
		go func() {
			defer wg.Done()
			_ = bus.Publish(context.Background(), &StageCompleted{VentureID: "v1"})
		}()
	}
	wg.Wait()

	assert.Zero(t, bus.SubscriberCount("StageCompleted"))
}
