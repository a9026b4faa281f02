package commbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// route holds everything registered for one message type.
type route struct {
	handler HandlerFunc
	subs    []subscription
}

type subscription struct {
	id      uint64
	handler HandlerFunc
}

func (r *route) empty() bool {
	return r.handler == nil && len(r.subs) == 0
}

// InMemoryCommBus routes venture messages inside one process.
//
//	bus := NewInMemoryCommBus(5*time.Second, logger)
//	bus.AddMiddleware(NewLoggingMiddleware(logger))
//	bus.Subscribe("VentureKilled", audit)
//	_ = bus.RegisterHandler("GetBudgetStatus", budgetHandler)
//
//	status, err := bus.QuerySync(ctx, &GetBudgetStatus{VentureID: id})
type InMemoryCommBus struct {
	mu           sync.RWMutex
	routes       map[string]*route
	middleware   chain
	queryTimeout time.Duration
	logger       Logger
	seq          uint64
}

// NewInMemoryCommBus creates a bus. logger may be nil.
func NewInMemoryCommBus(queryTimeout time.Duration, logger Logger) *InMemoryCommBus {
	return &InMemoryCommBus{
		routes:       make(map[string]*route),
		queryTimeout: queryTimeout,
		logger:       logger,
	}
}

// snapshot copies the route of messageType and the middleware chain so
// delivery runs without the lock.
func (b *InMemoryCommBus) snapshot(messageType string) (HandlerFunc, []subscription, chain) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	mw := append(chain(nil), b.middleware...)
	r, ok := b.routes[messageType]
	if !ok {
		return nil, nil, mw
	}
	return r.handler, append([]subscription(nil), r.subs...), mw
}

// =============================================================================
// DELIVERY
// =============================================================================

// Publish fans an event out to every subscriber and waits for them.
// Subscriber failures are logged and handed to the middleware, never
// returned; only a middleware rejection is.
func (b *InMemoryCommBus) Publish(ctx context.Context, event Message) error {
	eventType := GetMessageType(event)
	_, subs, mw := b.snapshot(eventType)

	msg, err := mw.before(ctx, event)
	if err != nil {
		return err
	}
	if msg == nil {
		b.debug("commbus_event_aborted", "type", eventType)
		return nil
	}

	var g errgroup.Group
	for _, s := range subs {
		g.Go(func() error { return b.deliver(ctx, eventType, s.handler, msg) })
	}
	_, _ = mw.after(ctx, event, nil, g.Wait())
	return nil
}

func (b *InMemoryCommBus) deliver(ctx context.Context, eventType string, h HandlerFunc, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panic: %v", r)
			b.errorf("commbus_subscriber_panic", "type", eventType, "panic", fmt.Sprint(r))
		}
	}()
	if _, err = h(ctx, msg); err != nil {
		b.warn("commbus_subscriber_failed", "type", eventType, "error", err.Error())
	}
	return err
}

// Send hands a command to its handler. Commands nobody handles are dropped.
func (b *InMemoryCommBus) Send(ctx context.Context, command Message) error {
	commandType := GetMessageType(command)
	handler, _, mw := b.snapshot(commandType)

	msg, err := mw.before(ctx, command)
	if err != nil {
		return err
	}
	if msg == nil || handler == nil {
		b.debug("commbus_command_dropped", "type", commandType, "handled", handler != nil)
		return nil
	}

	_, err = handler(ctx, msg)
	if err != nil {
		b.warn("commbus_command_failed", "type", commandType, "error", err.Error())
	}
	_, err = mw.after(ctx, command, nil, err)
	return err
}

// QuerySync asks the handler of query and waits for the answer, bounded by
// the bus query timeout.
func (b *InMemoryCommBus) QuerySync(ctx context.Context, query Query) (any, error) {
	queryType := GetMessageType(query)
	handler, _, mw := b.snapshot(queryType)

	msg, err := mw.before(ctx, query)
	if err != nil {
		return nil, err
	}
	if msg == nil || handler == nil {
		return nil, routeError(queryType, ErrNoHandler)
	}

	value, err := b.ask(ctx, queryType, handler, msg)
	return mw.after(ctx, query, value, err)
}

func (b *InMemoryCommBus) ask(ctx context.Context, queryType string, h HandlerFunc, msg Message) (any, error) {
	qctx, cancel := context.WithTimeout(ctx, b.queryTimeout)
	defer cancel()

	type answer struct {
		value any
		err   error
	}
	done := make(chan answer, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- answer{err: fmt.Errorf("query handler panic: %v", r)}
			}
		}()
		v, err := h(qctx, msg)
		done <- answer{value: v, err: err}
	}()

	select {
	case a := <-done:
		// A handler that gave up because the deadline passed reports as a timeout.
		if a.err == nil || qctx.Err() == nil {
			return a.value, a.err
		}
	case <-qctx.Done():
	}
	if err := ctx.Err(); err != nil {
		return nil, routeError(queryType, err)
	}
	return nil, routeError(queryType, fmt.Errorf("%w after %s", ErrQueryTimeout, b.queryTimeout))
}

// =============================================================================
// REGISTRATION
// =============================================================================

// Subscribe adds a subscriber for eventType and returns the func that
// removes it. Calling the returned func more than once is harmless.
func (b *InMemoryCommBus) Subscribe(eventType string, handler HandlerFunc) func() {
	b.mu.Lock()
	b.seq++
	id := b.seq
	r := b.routeFor(eventType)
	r.subs = append(r.subs, subscription{id: id, handler: handler})
	b.mu.Unlock()

	b.debug("commbus_subscribed", "type", eventType)

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(eventType, id) })
	}
}

func (b *InMemoryCommBus) unsubscribe(eventType string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	r, ok := b.routes[eventType]
	if !ok {
		return
	}
	kept := r.subs[:0:0]
	for _, s := range r.subs {
		if s.id != id {
			kept = append(kept, s)
		}
	}
	r.subs = kept
	if r.empty() {
		delete(b.routes, eventType)
	}
}

// RegisterHandler sets the single handler of a command or query type.
func (b *InMemoryCommBus) RegisterHandler(messageType string, handler HandlerFunc) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	r := b.routeFor(messageType)
	if r.handler != nil {
		return routeError(messageType, ErrHandlerExists)
	}
	r.handler = handler
	return nil
}

// AddMiddleware appends to the chain. Before hooks run in the order added.
func (b *InMemoryCommBus) AddMiddleware(m Middleware) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.middleware = append(b.middleware, m)
}

// routeFor returns the route of messageType, creating it. Callers hold mu.
func (b *InMemoryCommBus) routeFor(messageType string) *route {
	r, ok := b.routes[messageType]
	if !ok {
		r = &route{}
		b.routes[messageType] = r
	}
	return r
}

// HasHandler reports whether messageType has a handler.
func (b *InMemoryCommBus) HasHandler(messageType string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	r, ok := b.routes[messageType]
	return ok && r.handler != nil
}

// SubscriberCount returns the number of subscribers of eventType.
func (b *InMemoryCommBus) SubscriberCount(eventType string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if r, ok := b.routes[eventType]; ok {
		return len(r.subs)
	}
	return 0
}

func (b *InMemoryCommBus) debug(msg string, kv ...any) {
	if b.logger != nil {
		b.logger.Debug(msg, kv...)
	}
}

func (b *InMemoryCommBus) warn(msg string, kv ...any) {
	if b.logger != nil {
		b.logger.Warn(msg, kv...)
	}
}

func (b *InMemoryCommBus) errorf(msg string, kv ...any) {
	if b.logger != nil {
		b.logger.Error(msg, kv...)
	}
}

var _ CommBus = (*InMemoryCommBus)(nil)
