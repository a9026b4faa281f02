package grpc

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// =============================================================================
// REQUEST VALIDATION
// =============================================================================
//
// Handlers validate their request here before touching the orchestrator, so
// clients get stable codes and messages for malformed calls.

// validateRequired returns InvalidArgument when field is empty.
func validateRequired(field, fieldName string) error {
	if field == "" {
		return InvalidArgument(fieldName)
	}
	return nil
}

// =============================================================================
// ERROR BUILDERS
// =============================================================================

// InvalidArgument reports a missing required field.
func InvalidArgument(fieldName string) error {
	return status.Errorf(codes.InvalidArgument, "%s is required", fieldName)
}

// InvalidValue reports a field holding a value outside its enumeration.
func InvalidValue(fieldName string, value any) error {
	return status.Errorf(codes.InvalidArgument, "%s has invalid value %v", fieldName, value)
}

// OutOfRange reports a numeric field outside its allowed range.
func OutOfRange(fieldName string, value int) error {
	return status.Errorf(codes.OutOfRange, "%s out of range: %d", fieldName, value)
}

// NotFound returns a NotFound error for a missing resource.
func NotFound(resourceType, id string) error {
	return status.Errorf(codes.NotFound, "%s not found: %s", resourceType, id)
}

// Internal wraps an unexpected failure.
func Internal(operation string, cause error) error {
	return status.Errorf(codes.Internal, "%s failed: %v", operation, cause)
}

// FailedPrecondition reports an operation the resource's state forbids.
func FailedPrecondition(resource, currentState, attemptedAction string) error {
	return status.Errorf(codes.FailedPrecondition,
		"%s in state %s cannot %s", resource, currentState, attemptedAction)
}

// ResourceExhausted reports a rate or quota limit.
func ResourceExhausted(resourceType, limit string) error {
	return status.Errorf(codes.ResourceExhausted,
		"%s limit exceeded: %s", resourceType, limit)
}

// Unavailable reports a backend the server was started without.
func Unavailable(backend string) error {
	return status.Errorf(codes.Unavailable, "%s is not configured", backend)
}
