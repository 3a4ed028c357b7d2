package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	// Structure errors: the workflow graph itself is unusable.
	ErrCodeCycleDetected   = "CYCLE_DETECTED"
	ErrCodeUnknownNodeType = "UNKNOWN_NODE_TYPE"

	// Non-retriable execution errors.
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeNonRetryable      = "NON_RETRYABLE"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeOwnerBound        = "OWNER_BOUND"
	ErrCodeEventFiltered     = "EVENT_FILTERED"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeVault             = "VAULT_ERROR"

	// Retriable execution errors.
	ErrCodeExecution   = "EXECUTION_ERROR"
	ErrCodeTimeout     = "TIMEOUT_ERROR"
	ErrCodeStore       = "STORE_ERROR"
	ErrCodeCircuitOpen = "CIRCUIT_OPEN"
)

var nonRetryableCodes = map[string]bool{
	ErrCodeCycleDetected:     true,
	ErrCodeUnknownNodeType:   true,
	ErrCodeValidation:        true,
	ErrCodeNonRetryable:      true,
	ErrCodeUnauthorized:      true,
	ErrCodeOwnerBound:        true,
	ErrCodeEventFiltered:     true,
	ErrCodeNotFound:          true,
	ErrCodeInvalidTransition: true,
	ErrCodeConflict:          true,
	ErrCodeVault:             true,
}

// FlowError is the structured error type used across the engine, the
// executors and the store.
type FlowError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	NodeID  string         `json:"node_id,omitempty"`
	Cause   error          `json:"-"`
}

func (e *FlowError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("[%s] node %s: %s", e.Code, e.NodeID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *FlowError) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether the durable substrate may re-invoke the step
// that produced this error.
func (e *FlowError) IsRetryable() bool {
	return !nonRetryableCodes[e.Code]
}

// IsStructural reports whether the error describes an invalid workflow graph
// rather than a failure of a single node.
func (e *FlowError) IsStructural() bool {
	return e.Code == ErrCodeCycleDetected || e.Code == ErrCodeUnknownNodeType
}

// NewError creates a new FlowError.
func NewError(code, message string) *FlowError {
	return &FlowError{Code: code, Message: message}
}

// NewErrorf creates a new FlowError with a formatted message.
func NewErrorf(code, format string, args ...any) *FlowError {
	return &FlowError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithNode attaches a node ID to the error.
func (e *FlowError) WithNode(nodeID string) *FlowError {
	e.NodeID = nodeID
	return e
}

// WithCause attaches an underlying cause.
func (e *FlowError) WithCause(err error) *FlowError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *FlowError) WithDetails(details map[string]any) *FlowError {
	e.Details = details
	return e
}

// NonRetriable is shorthand for a NON_RETRYABLE error.
func NonRetriable(format string, args ...any) *FlowError {
	return NewErrorf(ErrCodeNonRetryable, format, args...)
}

// AsFlowError extracts a *FlowError from err's chain.
func AsFlowError(err error) (*FlowError, bool) {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// HasCode reports whether err carries a FlowError with the given code.
func HasCode(err error, code string) bool {
	fe, ok := AsFlowError(err)
	return ok && fe.Code == code
}
