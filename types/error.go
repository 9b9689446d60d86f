package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the relay.
type ErrorCode string

// Provider error codes
const (
	ErrInvalidRequest      ErrorCode = "INVALID_REQUEST"
	ErrAuthentication      ErrorCode = "AUTHENTICATION"
	ErrUnauthorized        ErrorCode = "UNAUTHORIZED"
	ErrForbidden           ErrorCode = "FORBIDDEN"
	ErrRateLimit           ErrorCode = "RATE_LIMIT"
	ErrQuotaExceeded       ErrorCode = "QUOTA_EXCEEDED"
	ErrModelNotFound       ErrorCode = "MODEL_NOT_FOUND"
	ErrModelOverloaded     ErrorCode = "MODEL_OVERLOADED"
	ErrUpstreamTimeout     ErrorCode = "UPSTREAM_TIMEOUT"
	ErrTimeout             ErrorCode = "TIMEOUT"
	ErrUpstreamError       ErrorCode = "UPSTREAM_ERROR"
	ErrInternalError       ErrorCode = "INTERNAL_ERROR"
	ErrServiceUnavailable  ErrorCode = "SERVICE_UNAVAILABLE"
	ErrProviderUnavailable ErrorCode = "PROVIDER_UNAVAILABLE"
	ErrTransport           ErrorCode = "TRANSPORT_ERROR"
	ErrStreamParse         ErrorCode = "STREAM_PARSE_ERROR"
)

// Configuration error codes
const (
	ErrAppNotFound         ErrorCode = "APP_NOT_FOUND"
	ErrAPIKeyMissing       ErrorCode = "API_KEY_MISSING"
	ErrModelNotPermitted   ErrorCode = "MODEL_NOT_PERMITTED"
	ErrUnsupportedProvider ErrorCode = "UNSUPPORTED_PROVIDER"
)

// Session error codes
const (
	ErrNoActiveSession ErrorCode = "NO_ACTIVE_SESSION"
	ErrSessionNotFound ErrorCode = "SESSION_NOT_FOUND"
	ErrModelBusy       ErrorCode = "MODEL_BUSY"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Provider   string    `json:"provider,omitempty"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithProvider sets the provider name.
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// AsError extracts a *Error anywhere in the chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// IsConfigurationCode reports whether the code describes a local setup problem
// that is detected before any provider call.
func IsConfigurationCode(code ErrorCode) bool {
	switch code {
	case ErrModelNotFound, ErrAppNotFound, ErrAPIKeyMissing, ErrModelNotPermitted, ErrUnsupportedProvider:
		return true
	}
	return false
}
