package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeTransport         = "TRANSPORT_ERROR"
	ErrCodeMalformedPayload  = "MALFORMED_PAYLOAD"
	ErrCodeConfigRequired    = "CONFIG_REQUIRED"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeBusy              = "BUSY"
	ErrCodeStale             = "STALE"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeWizardIncomplete  = "WIZARD_INCOMPLETE"
	ErrCodeUnknownNode       = "UNKNOWN_NODE"
	ErrCodeUnknownField      = "UNKNOWN_FIELD"
	ErrCodeStore             = "STORE_ERROR"
	ErrCodeCircuitOpen       = "CIRCUIT_OPEN"
)

// FlowError is the structured error type for all flowcraft operations.
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

// IsRetryable reports whether the caller may retry the same operation.
// Transport failures and malformed payloads are treated alike.
func (e *FlowError) IsRetryable() bool {
	switch e.Code {
	case ErrCodeTransport, ErrCodeMalformedPayload, ErrCodeBusy:
		return true
	}
	return false
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
func (e *FlowError) WithNode(id ID) *FlowError {
	e.NodeID = id.String()
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

// ErrorCode extracts the FlowError code from err, or "" if there is none.
func ErrorCode(err error) string {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

// IsCode reports whether err carries the given FlowError code.
func IsCode(err error, code string) bool {
	return ErrorCode(err) == code
}
