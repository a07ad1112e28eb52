package core

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an error for propagation policy.
type ErrorClass string

const (
	// ErrorClassPrecondition indicates an invalid request or missing resource
	// detected before any mutation. Always fatal to the current operation.
	ErrorClassPrecondition ErrorClass = "precondition"

	// ErrorClassTransport indicates a provider or query-channel failure,
	// surfaced with its original detail. Fatal unless the calling step is
	// marked best-effort.
	ErrorClassTransport ErrorClass = "transport"

	// ErrorClassTimeout indicates a bounded wait elapsed. Distinct from
	// failure: the underlying operation may still complete.
	ErrorClassTimeout ErrorClass = "timeout"

	// ErrorClassInternal indicates a bug or unexpected state in poolhand
	// itself.
	ErrorClassInternal ErrorClass = "internal"
)

// Error represents a classified orchestration error with context.
type Error struct {
	// Class is the error classification for propagation policy.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Resource is the resource ID that caused the error, if applicable.
	Resource string `json:"resource,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// BestEffort marks errors raised by steps that degrade to warnings
	// (firewall rule resolution, backup acknowledgment, notification).
	BestEffort bool `json:"best_effort,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Resource != "" && e.Operation != "":
		return fmt.Sprintf("[%s] %s (resource=%s, operation=%s)%s",
			e.Class, e.Message, e.Resource, e.Operation, e.unwrapSuffix())
	case e.Resource != "":
		return fmt.Sprintf("[%s] %s (resource=%s)%s", e.Class, e.Message, e.Resource, e.unwrapSuffix())
	default:
		return fmt.Sprintf("[%s] %s%s", e.Class, e.Message, e.unwrapSuffix())
	}
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) unwrapSuffix() string {
	if e.Err != nil {
		return ": " + e.Err.Error()
	}
	return ""
}

// Is implements error equality checking for errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewPreconditionError creates a new precondition error.
func NewPreconditionError(message string, err error) *Error {
	return &Error{Class: ErrorClassPrecondition, Message: message, Err: err}
}

// NewTransportError creates a new transport error.
func NewTransportError(message string, err error) *Error {
	return &Error{Class: ErrorClassTransport, Message: message, Err: err}
}

// NewTimeoutError creates a new timeout error.
func NewTimeoutError(message string, err error) *Error {
	return &Error{Class: ErrorClassTimeout, Message: message, Err: err, Code: ErrCodeTimeout}
}

// NewInternalError creates a new internal error.
func NewInternalError(message string, err error) *Error {
	return &Error{Class: ErrorClassInternal, Message: message, Err: err}
}

// WithResource adds resource context to an error.
func (e *Error) WithResource(resourceID string) *Error {
	e.Resource = resourceID
	return e
}

// WithOperation adds operation context to an error.
func (e *Error) WithOperation(operation string) *Error {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// AsBestEffort marks the error as raised by a best-effort step.
func (e *Error) AsBestEffort() *Error {
	e.BestEffort = true
	return e
}

// IsPrecondition returns true if the error is classified as a precondition error.
func IsPrecondition(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Class == ErrorClassPrecondition
	}
	return false
}

// IsTransport returns true if the error is classified as a transport error.
func IsTransport(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Class == ErrorClassTransport
	}
	return false
}

// IsTimeout returns true if the error is classified as a timeout.
func IsTimeout(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Class == ErrorClassTimeout
	}
	return false
}

// IsBestEffort returns true if the error came from a best-effort step and
// should be reported as a warning rather than a failure.
func IsBestEffort(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.BestEffort
	}
	return false
}

// IsFatal returns true if the error must stop the current operation.
// Precondition errors and non-best-effort transport errors are fatal.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return !IsBestEffort(err)
}

// Common error codes.
const (
	ErrCodeInvalidSpec       = "INVALID_SPEC"
	ErrCodeMissingResource   = "MISSING_RESOURCE"
	ErrCodeMissingTargetPool = "MISSING_TARGET_POOL"
	ErrCodePlacementMismatch = "PLACEMENT_MISMATCH"
	ErrCodeTargetConflict    = "TARGET_CONFLICT"
	ErrCodeTimeout           = "TIMEOUT"
	ErrCodeQueryFailed       = "QUERY_FAILED"
	ErrCodeProviderFailed    = "PROVIDER_FAILED"
	ErrCodePolicyDenied      = "POLICY_DENIED"
	ErrCodeInternal          = "INTERNAL_ERROR"
)
