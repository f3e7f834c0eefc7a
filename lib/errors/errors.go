// Package errors provides the error taxonomy for asyncpool.
//
// This package provides:
//   - Sentinel errors for common error conditions
//   - Pool and transport errors that wrap those sentinels
//   - Error codes for categorizing failures in logs and metrics
//   - A structured Error type with a safe message and a wrapped cause
package errors

import (
	"errors"
	"fmt"
)

// Error codes for categorizing errors.
const (
	CodeInternal          = 1000 // Internal error
	CodeInvalidInput      = 1001 // Invalid argument or configuration
	CodeTimeout           = 1002 // Operation timed out
	CodeClosed            = 1003 // Resource closed
	CodeConnection        = 1004 // Connection establishment failed
	CodeProtocolViolation = 1005 // Caller broke the acquire/release contract
	CodeUnavailable       = 1006 // Dependency unavailable (open circuit)
	CodeState             = 1007 // Invalid state
)

// Sentinel errors for common error conditions.
// Use errors.Is() to check for these conditions.
var (
	// ErrInvalidInput indicates invalid input was provided.
	ErrInvalidInput = errors.New("invalid input")

	// ErrTimeout indicates an operation timed out.
	ErrTimeout = errors.New("operation timed out")

	// ErrClosed indicates a resource is closed.
	ErrClosed = errors.New("closed")

	// ErrConnection indicates a connection error.
	ErrConnection = errors.New("connection error")

	// ErrProtocolViolation indicates a caller misused a pooled connection.
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrUnavailable indicates a dependency is unavailable.
	ErrUnavailable = errors.New("service unavailable")

	// ErrInvalidState indicates an invalid state transition.
	ErrInvalidState = errors.New("invalid state")

	// ErrInternal indicates an internal error.
	ErrInternal = errors.New("internal error")

	// ErrConfiguration indicates a configuration error.
	ErrConfiguration = errors.New("configuration error")

	// ErrCircuitOpen indicates the circuit breaker is open.
	ErrCircuitOpen = fmt.Errorf("circuit breaker is open: %w", ErrUnavailable)
)

// Pool errors
var (
	// ErrPoolClosed is returned when operating on a pool after Shutdown.
	ErrPoolClosed = fmt.Errorf("pool: %w", ErrClosed)

	// ErrPoolTimeout is returned when no connection became ready in time.
	ErrPoolTimeout = fmt.Errorf("pool: acquire %w", ErrTimeout)

	// ErrInvalidPoolSize is returned when the pool size is not positive.
	ErrInvalidPoolSize = fmt.Errorf("pool: size must be positive: %w", ErrInvalidInput)

	// ErrNilConnector is returned when no transport connector is supplied.
	ErrNilConnector = fmt.Errorf("pool: connector is required: %w", ErrInvalidInput)

	// ErrDoubleRelease is returned when a connection is handed back twice.
	ErrDoubleRelease = fmt.Errorf("pool: connection already returned: %w", ErrProtocolViolation)

	// ErrUnknownConnection is returned when a connection was never handed out by the pool.
	ErrUnknownConnection = fmt.Errorf("pool: connection not owned by this pool: %w", ErrProtocolViolation)
)

// Transport errors
var (
	// ErrInvalidEndpoint indicates a malformed endpoint.
	ErrInvalidEndpoint = fmt.Errorf("transport: endpoint %w", ErrInvalidInput)

	// ErrConnectCanceled indicates a connect attempt was canceled before it completed.
	ErrConnectCanceled = fmt.Errorf("transport: connect canceled: %w", ErrConnection)

	// ErrTransportNotOpen indicates the SAM session has not been opened.
	ErrTransportNotOpen = fmt.Errorf("transport: not open: %w", ErrInvalidState)

	// ErrTransportAlreadyOpen indicates the SAM session is already open.
	ErrTransportAlreadyOpen = fmt.Errorf("transport: already open: %w", ErrInvalidState)
)

// Error is a structured error with a code and safe message.
type Error struct {
	// Code is the error code for categorization
	Code int `json:"code"`
	// Message is a safe, user-facing error message
	Message string `json:"message"`
	// Err is the underlying error
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// SafeMessage returns the message without the wrapped cause.
func (e *Error) SafeMessage() string {
	return e.Message
}

// New creates a new structured error with the given code and message.
func New(code int, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with a code and safe message.
func Wrap(code int, message string, err error) *Error {
	if err != nil {
		log.WithField("code", code).WithError(err).Debug("wrapping error")
	}
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// FromSentinel creates a structured error from a sentinel error,
// assigning the code that matches the sentinel it wraps.
func FromSentinel(err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    CodeOf(err),
		Message: err.Error(),
		Err:     err,
	}
}

// CodeOf maps an error to its code. Structured errors keep their own code.
func CodeOf(err error) int {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	switch {
	case errors.Is(err, ErrProtocolViolation):
		return CodeProtocolViolation
	case errors.Is(err, ErrTimeout):
		return CodeTimeout
	case errors.Is(err, ErrClosed):
		return CodeClosed
	case errors.Is(err, ErrUnavailable):
		return CodeUnavailable
	case errors.Is(err, ErrConnection):
		return CodeConnection
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrConfiguration):
		return CodeInvalidInput
	case errors.Is(err, ErrInvalidState):
		return CodeState
	default:
		return CodeInternal
	}
}

// IsTimeout returns true if the error indicates a timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsClosed returns true if the error indicates a resource is closed.
func IsClosed(err error) bool {
	return errors.Is(err, ErrClosed)
}

// IsProtocolViolation returns true if the error reports caller misuse.
func IsProtocolViolation(err error) bool {
	return errors.Is(err, ErrProtocolViolation)
}

// IsInvalidInput returns true if the error indicates invalid input.
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// Join combines multiple errors into a single error.
// Returns nil if all errors are nil.
func Join(errs ...error) error {
	return errors.Join(errs...)
}
