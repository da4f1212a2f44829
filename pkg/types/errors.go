package types

import (
	"errors"
	"fmt"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	ErrorTypeValidation    ErrorType = "validation"
	ErrorTypeAuthorization ErrorType = "authorization"
	ErrorTypeNotFound      ErrorType = "not_found"
	ErrorTypeConflict      ErrorType = "conflict"
	ErrorTypeInternal      ErrorType = "internal"
	ErrorTypeExternal      ErrorType = "external"
)

// AccessError represents a structured error in the PHR access system
type AccessError struct {
	Type    ErrorType              `json:"type"`
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Cause   error                  `json:"-"`
}

// Error implements the error interface
func (e *AccessError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error
func (e *AccessError) Unwrap() error {
	return e.Cause
}

// NewValidationError creates a new validation error
func NewValidationError(code, message string) *AccessError {
	return &AccessError{
		Type:    ErrorTypeValidation,
		Code:    code,
		Message: message,
	}
}

// NewAuthorizationError creates a new authorization error
func NewAuthorizationError(code, message string) *AccessError {
	return &AccessError{
		Type:    ErrorTypeAuthorization,
		Code:    code,
		Message: message,
	}
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(code, message string) *AccessError {
	return &AccessError{
		Type:    ErrorTypeNotFound,
		Code:    code,
		Message: message,
	}
}

// NewInternalError creates a new internal error
func NewInternalError(code, message string, cause error) *AccessError {
	return &AccessError{
		Type:    ErrorTypeInternal,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewExternalError creates a new external collaborator error
func NewExternalError(code, message string, cause error) *AccessError {
	return &AccessError{
		Type:    ErrorTypeExternal,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Common error codes
const (
	ErrCodeInvalidPrincipal   = "INVALID_PRINCIPAL"
	ErrCodeInvalidRole        = "INVALID_ROLE"
	ErrCodeInvalidCategory    = "INVALID_CATEGORY"
	ErrCodeInvalidDuration    = "INVALID_DURATION"
	ErrCodeInvalidGrantee     = "INVALID_GRANTEE"
	ErrCodeInvalidInput       = "INVALID_INPUT"
	ErrCodeNotOwner           = "NOT_OWNER"
	ErrCodeInsufficientRole   = "INSUFFICIENT_ROLE"
	ErrCodeNoSuchRecord       = "NO_SUCH_RECORD"
	ErrCodeNoSuchRequest      = "NO_SUCH_REQUEST"
	ErrCodeNoSuchProfile      = "NO_SUCH_PROFILE"
	ErrCodeExpired            = "EXPIRED"
	ErrCodeStorageUnavailable = "STORAGE_UNAVAILABLE"
	ErrCodeInternalError      = "INTERNAL_ERROR"
)

// ErrorCode extracts the machine code from an error, or an empty string if
// err is not an AccessError.
func ErrorCode(err error) string {
	var ae *AccessError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

// IsErrorType reports whether err is an AccessError of the given type.
func IsErrorType(err error, t ErrorType) bool {
	var ae *AccessError
	if errors.As(err, &ae) {
		return ae.Type == t
	}
	return false
}
