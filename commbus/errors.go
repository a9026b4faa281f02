package commbus

import (
	"errors"
	"fmt"
)

var (
	// ErrNoHandler is returned for queries nobody answers.
	ErrNoHandler = errors.New("no handler registered")
	// ErrHandlerExists is returned when a type already has its handler.
	ErrHandlerExists = errors.New("handler already registered")
	// ErrQueryTimeout is returned when a query handler misses the bus timeout.
	ErrQueryTimeout = errors.New("query timed out")
	// ErrCircuitOpen is returned while a message type is short-circuited.
	ErrCircuitOpen = errors.New("circuit open")
)

// CommBusError ties a routing failure to the message type it happened on.
type CommBusError struct {
	MessageType string
	Cause       error
}

func (e *CommBusError) Error() string {
	if e.Cause == nil {
		return "commbus " + e.MessageType
	}
	return fmt.Sprintf("commbus %s: %v", e.MessageType, e.Cause)
}

func (e *CommBusError) Unwrap() error {
	return e.Cause
}

func routeError(messageType string, cause error) error {
	return &CommBusError{MessageType: messageType, Cause: cause}
}
