// Package commbus is the in-process message bus that carries venture
// lifecycle events between the engine and its observers.
//
// Events fan out to every subscriber, commands go to a single handler and
// queries return the handler's answer within a timeout. Middleware wraps all
// three.
package commbus

import (
	"context"
)

// Message is anything carried by the bus.
type Message interface {
	// Category returns "event", "command" or "query".
	Category() string
}

// Query is a message that expects a response.
type Query interface {
	Message
	IsQuery()
}

// TypedMessage names its own routing key. Messages that do not implement it
// are routed by their Go type name.
type TypedMessage interface {
	MessageType() string
}

// HandlerFunc handles one message.
type HandlerFunc func(ctx context.Context, message Message) (any, error)

// Middleware intercepts messages around handling. Before may return a nil
// message to abort processing. After runs in reverse registration order.
type Middleware interface {
	Before(ctx context.Context, message Message) (Message, error)
	After(ctx context.Context, message Message, result any, err error) (any, error)
}

// Publisher is the part of the bus event producers need.
type Publisher interface {
	Publish(ctx context.Context, event Message) error
}

// Subscriber is the part of the bus event consumers need.
type Subscriber interface {
	Subscribe(eventType string, handler HandlerFunc) func()
}

// Sender delivers commands.
type Sender interface {
	Send(ctx context.Context, command Message) error
}

// Querier answers queries.
type Querier interface {
	QuerySync(ctx context.Context, query Query) (any, error)
}

// CommBus is the full bus contract.
type CommBus interface {
	Publisher
	Subscriber
	Sender
	Querier

	RegisterHandler(messageType string, handler HandlerFunc) error
	AddMiddleware(middleware Middleware)
	HasHandler(messageType string) bool
}

// Logger is the key/value logger the bus reports through.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}
