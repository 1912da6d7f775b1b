package engine

import (
	"fmt"
	"time"
)

// InitializationError means the engine could not load its model. It is
// unrecoverable for the process lifetime of that engine; the service keeps
// running in degraded mode.
type InitializationError struct {
	Backend string
	Err     error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("%s initialization failed: %v", e.Backend, e.Err)
}

func (e *InitializationError) Unwrap() error { return e.Err }

// NotInitializedError signals inference was requested before Initialize
// succeeded. This is a configuration or programming error, not a transient
// failure, and surfaces as service-unavailable.
type NotInitializedError struct {
	Backend string
}

func (e *NotInitializedError) Error() string {
	return fmt.Sprintf("%s engine not initialized", e.Backend)
}

// InvalidArgumentError rejects a malformed request parameter before any
// engine state is touched.
type InvalidArgumentError struct {
	Field  string
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// TimeoutError means an inference or load operation exceeded its configured
// deadline. The gate is released; retrying is the caller's responsibility.
type TimeoutError struct {
	Op    string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Op, e.After)
}

// InferenceError wraps an opaque backend fault.
type InferenceError struct {
	Backend string
	Err     error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("%s inference failed: %v", e.Backend, e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }
