package commbus

import (
	"context"
	"sync"
	"time"
)

// chain is the ordered middleware of a bus.
type chain []Middleware

// before runs every Before hook. A nil message from any hook aborts the rest.
func (c chain) before(ctx context.Context, msg Message) (Message, error) {
	for _, m := range c {
		next, err := m.Before(ctx, msg)
		if err != nil || next == nil {
			return nil, err
		}
		msg = next
	}
	return msg, nil
}

// after runs the After hooks innermost first. A hook may replace the result
// or the error but cannot clear an error.
func (c chain) after(ctx context.Context, msg Message, result any, err error) (any, error) {
	for i := len(c) - 1; i >= 0; i-- {
		r, hookErr := c[i].After(ctx, msg, result, err)
		if hookErr != nil {
			err = hookErr
		}
		if r != nil {
			result = r
		}
	}
	return result, err
}

// =============================================================================
// LOGGING
// =============================================================================

// LoggingMiddleware traces every message at debug and failures at warn.
type LoggingMiddleware struct {
	logger Logger
}

// NewLoggingMiddleware creates a LoggingMiddleware. logger may be nil.
func NewLoggingMiddleware(logger Logger) *LoggingMiddleware {
	return &LoggingMiddleware{logger: logger}
}

func (m *LoggingMiddleware) Before(_ context.Context, msg Message) (Message, error) {
	if m.logger != nil {
		m.logger.Debug("commbus_dispatch", "category", msg.Category(), "type", GetMessageType(msg), "venture_id", ventureOf(msg))
	}
	return msg, nil
}

func (m *LoggingMiddleware) After(_ context.Context, msg Message, result any, err error) (any, error) {
	switch {
	case m.logger == nil:
	case err != nil:
		m.logger.Warn("commbus_dispatch_failed", "type", GetMessageType(msg), "venture_id", ventureOf(msg), "error", err.Error())
	default:
		m.logger.Debug("commbus_dispatch_done", "type", GetMessageType(msg))
	}
	return result, nil
}

func ventureOf(msg Message) string {
	switch m := msg.(type) {
	case VentureEvent:
		return m.Venture()
	case *GetBudgetStatus:
		return m.VentureID
	case *InvalidateBudget:
		return m.VentureID
	}
	return ""
}

// =============================================================================
// CIRCUIT BREAKER
// =============================================================================

// Circuit states.
const (
	CircuitClosed   = "closed"
	CircuitOpen     = "open"
	CircuitHalfOpen = "half-open"
)

// breaker is the circuit of one message type.
type breaker struct {
	state    string
	failures int
	openedAt time.Time
}

// CircuitBreakerMiddleware rejects a message type with ErrCircuitOpen once
// it has failed threshold times in a row. After cooldown one message is let
// through: success closes the circuit, failure opens it again. A threshold
// of zero never opens.
type CircuitBreakerMiddleware struct {
	threshold int
	cooldown  time.Duration
	exempt    map[string]bool
	logger    Logger
	now       func() time.Time

	mu       sync.Mutex
	breakers map[string]*breaker
}

// NewCircuitBreakerMiddleware creates a breaker. Types in exempt are never
// tracked.
func NewCircuitBreakerMiddleware(threshold int, cooldown time.Duration, exempt []string, logger Logger) *CircuitBreakerMiddleware {
	m := &CircuitBreakerMiddleware{
		threshold: threshold,
		cooldown:  cooldown,
		exempt:    make(map[string]bool, len(exempt)),
		logger:    logger,
		now:       time.Now,
		breakers:  make(map[string]*breaker),
	}
	for _, t := range exempt {
		m.exempt[t] = true
	}
	return m
}

func (m *CircuitBreakerMiddleware) breakerFor(msgType string) *breaker {
	b, ok := m.breakers[msgType]
	if !ok {
		b = &breaker{state: CircuitClosed}
		m.breakers[msgType] = b
	}
	return b
}

func (m *CircuitBreakerMiddleware) Before(_ context.Context, msg Message) (Message, error) {
	msgType := GetMessageType(msg)
	if m.exempt[msgType] {
		return msg, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	b := m.breakerFor(msgType)
	if b.state != CircuitOpen {
		return msg, nil
	}
	if m.now().Sub(b.openedAt) < m.cooldown {
		return nil, routeError(msgType, ErrCircuitOpen)
	}
	b.state = CircuitHalfOpen
	m.warn("commbus_circuit_half_open", "type", msgType)
	return msg, nil
}

func (m *CircuitBreakerMiddleware) After(_ context.Context, msg Message, result any, err error) (any, error) {
	msgType := GetMessageType(msg)
	if m.exempt[msgType] {
		return result, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	b := m.breakerFor(msgType)
	if err == nil {
		if b.state == CircuitHalfOpen {
			m.warn("commbus_circuit_closed", "type", msgType)
		}
		b.state, b.failures = CircuitClosed, 0
		return result, nil
	}

	b.failures++
	if b.state == CircuitHalfOpen || (m.threshold > 0 && b.failures >= m.threshold) {
		if b.state != CircuitOpen {
			m.warn("commbus_circuit_opened", "type", msgType, "failures", b.failures)
		}
		b.state, b.openedAt = CircuitOpen, m.now()
	}
	return result, nil
}

// States returns the circuit state of every tracked message type.
func (m *CircuitBreakerMiddleware) States() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]string, len(m.breakers))
	for t, b := range m.breakers {
		out[t] = b.state
	}
	return out
}

// Reset forgets the circuit of msgType, or of every type when msgType is empty.
func (m *CircuitBreakerMiddleware) Reset(msgType string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if msgType == "" {
		m.breakers = make(map[string]*breaker)
		return
	}
	delete(m.breakers, msgType)
}

func (m *CircuitBreakerMiddleware) warn(msg string, kv ...any) {
	if m.logger != nil {
		m.logger.Warn(msg, kv...)
	}
}

var (
	_ Middleware = (*LoggingMiddleware)(nil)
	_ Middleware = (*CircuitBreakerMiddleware)(nil)
)
