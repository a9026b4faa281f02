// Package telemetry delivers lifecycle events off the stage-processing path.
//
// The Queue accepts events without blocking and hands them to its sinks from
// a single background goroutine. Delivery is best effort: a full queue drops
// the event, and a failing or panicking sink is logged and skipped.
package telemetry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jeeves-cluster-organization/ventureflow/commbus"
	"github.com/jeeves-cluster-organization/ventureflow/coreengine/kernel"
	"github.com/jeeves-cluster-organization/ventureflow/coreengine/observability"
)

const (
	// DefaultQueueSize is used when NewQueue is given a non-positive size.
	DefaultQueueSize = 256
	// DefaultPublishTimeout bounds one sink delivery.
	DefaultPublishTimeout = 5 * time.Second
)

// Sink receives drained events.
type Sink interface {
	Publish(ctx context.Context, msg commbus.Message) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, msg commbus.Message) error

// Publish implements Sink.
func (f SinkFunc) Publish(ctx context.Context, msg commbus.Message) error {
	return f(ctx, msg)
}

// Queue is a bounded fire-and-forget event queue. It implements
// kernel.Telemetry.
type Queue struct {
	events  chan commbus.Message
	sinks   []Sink
	logger  kernel.Logger
	timeout time.Duration

	dropped atomic.Int64
	done    chan struct{}

	mu      sync.RWMutex
	started bool
	closed  bool
}

var _ kernel.Telemetry = (*Queue)(nil)

// NewQueue creates a queue delivering to sinks. Call Start to begin draining.
func NewQueue(size int, logger kernel.Logger, sinks ...Sink) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{
		events:  make(chan commbus.Message, size),
		sinks:   sinks,
		logger:  logger,
		timeout: DefaultPublishTimeout,
		done:    make(chan struct{}),
	}
}

// WithPublishTimeout sets the per-sink delivery bound.
func (q *Queue) WithPublishTimeout(d time.Duration) *Queue {
	if d > 0 {
		q.timeout = d
	}
	return q
}

// Start launches the drain goroutine. Calling it twice has no effect.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || q.closed {
		return
	}
	q.started = true
	kernel.SafeGo(q.logger, "telemetry_drain", q.drain, func(any) { close(q.done) })
}

// Emit enqueues msg. It never blocks; when the queue is full or closed the
// event is dropped and counted.
func (q *Queue) Emit(msg commbus.Message) {
	if msg == nil {
		return
	}
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		q.drop(msg, "closed")
		return
	}
	select {
	case q.events <- msg:
	default:
		q.drop(msg, "full")
	}
}

// Dropped returns how many events were dropped.
func (q *Queue) Dropped() int64 {
	return q.dropped.Load()
}

// Close stops accepting events and waits until the queued ones are
// delivered or ctx is done.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.events)
	started := q.started
	q.mu.Unlock()

	if !started {
		return nil
	}
	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) drain() {
	for msg := range q.events {
		q.deliver(msg)
	}
	close(q.done)
}

func (q *Queue) deliver(msg commbus.Message) {
	for _, sink := range q.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
		err := kernel.SafeExecute(q.logger, "telemetry_sink", func() error {
			return sink.Publish(ctx, msg)
		})
		cancel()
		if err != nil && q.logger != nil {
			q.logger.Warn("telemetry_publish_failed",
				"message_type", commbus.GetMessageType(msg),
				"error", err.Error(),
			)
		}
	}
}

func (q *Queue) drop(msg commbus.Message, reason string) {
	q.dropped.Add(1)
	observability.RecordTelemetryDropped()
	if q.logger != nil {
		q.logger.Debug("telemetry_dropped",
			"message_type", commbus.GetMessageType(msg),
			"reason", reason,
		)
	}
}
