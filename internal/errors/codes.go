package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a specific error type for relay operations.
type ErrorCode string

const (
	// ErrCodeSessionNotFound indicates no session exists for the conversation.
	ErrCodeSessionNotFound ErrorCode = "SESSION_NOT_FOUND"
	// ErrCodeBreakerOpen indicates a circuit breaker rejected the call.
	ErrCodeBreakerOpen ErrorCode = "BREAKER_OPEN"
	// ErrCodeAssistantUnavailable indicates the AI backend is not reachable.
	ErrCodeAssistantUnavailable ErrorCode = "ASSISTANT_UNAVAILABLE"
	// ErrCodeStoreUnavailable indicates the durable store or cache is not reachable.
	ErrCodeStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"
	// ErrCodeInvalidArgument indicates invalid input parameters.
	ErrCodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"
	// ErrCodeTimeout indicates the operation timed out.
	ErrCodeTimeout ErrorCode = "TIMEOUT"
)

// RelayError represents a structured error for relay operations.
type RelayError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *RelayError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *RelayError) Unwrap() error {
	return e.Cause
}

// Convenience constructors for common error types.

// SessionNotFound creates a session not found error.
func SessionNotFound(conversationID string) *RelayError {
	return &RelayError{
		Code:    ErrCodeSessionNotFound,
		Message: fmt.Sprintf("no session for conversation %s", conversationID),
	}
}

// BreakerOpen creates a breaker open error.
func BreakerOpen(dependency string, cause error) *RelayError {
	return &RelayError{
		Code:    ErrCodeBreakerOpen,
		Message: fmt.Sprintf("%s temporarily unavailable", dependency),
		Cause:   cause,
	}
}

// AssistantUnavailable creates an assistant unavailable error.
func AssistantUnavailable(msg string, cause error) *RelayError {
	return &RelayError{Code: ErrCodeAssistantUnavailable, Message: msg, Cause: cause}
}

// StoreUnavailable creates a store unavailable error.
func StoreUnavailable(msg string, cause error) *RelayError {
	return &RelayError{Code: ErrCodeStoreUnavailable, Message: msg, Cause: cause}
}

// InvalidArgument creates an invalid argument error.
func InvalidArgument(msg string) *RelayError {
	return &RelayError{Code: ErrCodeInvalidArgument, Message: msg}
}

// Timeout creates a timeout error.
func Timeout(msg string, cause error) *RelayError {
	return &RelayError{Code: ErrCodeTimeout, Message: msg, Cause: cause}
}

// Wrap wraps an existing error with a code and message.
func Wrap(cause error, code ErrorCode, msg string) *RelayError {
	return &RelayError{Code: code, Message: msg, Cause: cause}
}

// IsCode checks if an error carries a specific code anywhere in its chain.
func IsCode(err error, code ErrorCode) bool {
	var relayErr *RelayError
	if errors.As(err, &relayErr) {
		return relayErr.Code == code
	}
	return false
}

// CodeOf extracts the error code from any error, or empty string.
func CodeOf(err error) ErrorCode {
	var relayErr *RelayError
	if errors.As(err, &relayErr) {
		return relayErr.Code
	}
	return ""
}
