package kernel

import (
	"fmt"
	"runtime/debug"
)

// PanicError is returned when a recovered function panicked.
type PanicError struct {
	Operation string
	Value     any
	Stack     string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic in %s: %v", e.Operation, e.Value)
}

// SafeExecute runs fn and turns a panic into a *PanicError.
func SafeExecute(logger Logger, operation string, fn func() error) error {
	_, err := SafeExecuteWithResult(logger, operation, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// SafeExecuteWithResult is SafeExecute for functions that return a value.
// On panic the zero value is returned.
func SafeExecuteWithResult[T any](logger Logger, operation string, fn func() (T, error)) (result T, err error) {
	defer func() {
		if r := recover(); r != nil {
			pe := &PanicError{Operation: operation, Value: r, Stack: string(debug.Stack())}
			if logger != nil {
				logger.Error("panic_recovered",
					"operation", operation,
					"panic", r,
					"stack", pe.Stack,
				)
			}
			var zero T
			result, err = zero, pe
		}
	}()
	return fn()
}

// SafeGo runs fn on a new goroutine. A panic is logged and handed to onPanic.
func SafeGo(logger Logger, operation string, fn func(), onPanic func(recovered any)) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				if logger != nil {
					logger.Error("goroutine_panic_recovered",
						"operation", operation,
						"panic", r,
						"stack", string(debug.Stack()),
					)
				}
				if onPanic != nil {
					onPanic(r)
				}
			}
		}()
		fn()
	}()
}
