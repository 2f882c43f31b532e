// Package errors provides standardized error handling for the admin service.
package errors

import (
	"fmt"
	"net/http"
)

// ErrorCode represents a standardized error code for the admin service.
type ErrorCode string

const (
	// Validation errors
	PA_VALIDATION  ErrorCode = "PA_VALIDATION"  // General validation error
	PA_BAD_REQUEST ErrorCode = "PA_BAD_REQUEST" // Bad request
	PA_UNCONFIRMED ErrorCode = "PA_UNCONFIRMED" // Destructive action was not confirmed

	// Authentication errors
	PA_AUTHN       ErrorCode = "PA_AUTHN"       // Authentication failed
	PA_JWT_INVALID ErrorCode = "PA_JWT_INVALID" // Invalid or expired session token

	// Resource errors
	PA_NOT_FOUND    ErrorCode = "PA_NOT_FOUND"    // Resource not found
	PA_LAST_PROFILE ErrorCode = "PA_LAST_PROFILE" // Refusing to delete the only app profile

	// Persistence errors
	PA_UPLOAD ErrorCode = "PA_UPLOAD" // Object store rejected the binary
	PA_QUOTA  ErrorCode = "PA_QUOTA"  // Local store quota exhausted
	PA_SAVE   ErrorCode = "PA_SAVE"   // Save failed on every backend
	PA_DELETE ErrorCode = "PA_DELETE" // Delete failed on every backend

	// Generation errors
	PA_AI_KEY_MISSING ErrorCode = "PA_AI_KEY_MISSING" // No Gemini API key configured
	PA_AI_FAILED      ErrorCode = "PA_AI_FAILED"      // Generation call failed

	// Rate limiting
	PA_RATE_LIMIT ErrorCode = "PA_RATE_LIMIT" // Rate limit exceeded

	// Server errors
	PA_INTERNAL    ErrorCode = "PA_INTERNAL"    // Internal server error
	PA_UNAVAILABLE ErrorCode = "PA_UNAVAILABLE" // Dependency unavailable
)

// Error represents a standardized error response.
type Error struct {
	Code          ErrorCode   `json:"code"`
	Message       string      `json:"message"`
	CorrelationID string      `json:"correlationId"`
	Details       interface{} `json:"details,omitempty"`
	HTTPStatus    int         `json:"-"`
	cause         error
}

// New creates a new Error with the specified code and message.
func New(code ErrorCode, message string, correlationID string) *Error {
	return &Error{
		Code:          code,
		Message:       message,
		CorrelationID: correlationID,
		HTTPStatus:    httpStatusCodeForCode(code),
	}
}

// NewWithDetails creates a new Error with the specified code, message, and details.
func NewWithDetails(code ErrorCode, message string, correlationID string, details interface{}) *Error {
	e := New(code, message, correlationID)
	e.Details = details
	return e
}

// Wrap creates an Error whose message is taken from cause and keeps cause for errors.Is/As.
func Wrap(code ErrorCode, cause error) *Error {
	e := New(code, cause.Error(), "")
	e.cause = cause
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Details != nil {
		return fmt.Sprintf("%s: %s (details: %v)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// WithCorrelation returns a copy of e stamped with the request correlation ID.
func (e *Error) WithCorrelation(id string) *Error {
	c := *e
	c.CorrelationID = id
	return &c
}

// httpStatusCodeForCode maps error codes to HTTP status codes.
func httpStatusCodeForCode(code ErrorCode) int {
	switch code {
	case PA_VALIDATION, PA_BAD_REQUEST, PA_UNCONFIRMED:
		return http.StatusBadRequest
	case PA_AUTHN, PA_JWT_INVALID:
		return http.StatusUnauthorized
	case PA_NOT_FOUND:
		return http.StatusNotFound
	case PA_LAST_PROFILE:
		return http.StatusConflict
	case PA_QUOTA:
		return http.StatusInsufficientStorage
	case PA_UPLOAD, PA_AI_FAILED:
		return http.StatusBadGateway
	case PA_AI_KEY_MISSING:
		return http.StatusPreconditionFailed
	case PA_RATE_LIMIT:
		return http.StatusTooManyRequests
	case PA_UNAVAILABLE:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
