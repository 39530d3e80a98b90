// Package errors provides standardized error handling for the payment
// confirmation flow.
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeValidation     ErrorCode = "VALIDATION_ERROR"
	ErrCodeGatewayInit    ErrorCode = "GATEWAY_INIT_ERROR"
	ErrCodeAuthExpired    ErrorCode = "AUTH_EXPIRED"
	ErrCodePermission     ErrorCode = "PERMISSION_DENIED"
	ErrCodeServer         ErrorCode = "SERVER_ERROR"
	ErrCodeTransport      ErrorCode = "TRANSPORT_ERROR"
	ErrCodeMissingUserID  ErrorCode = "MISSING_USER_ID"
	ErrCodeBackendConfirm ErrorCode = "BACKEND_CONFIRM_ERROR"
	ErrCodeUserCancelled  ErrorCode = "USER_CANCELLED"
	ErrCodeRequestFailed  ErrorCode = "REQUEST_FAILED"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// ==========================
// 2. Error Constructors
// ==========================

// NewValidationError creates a non-retryable bad-input error. It must be
// returned before any network call is made.
func NewValidationError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeValidation,
		Message:   "Payment request validation failed",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewGatewayInitError creates an error for a backend that refused to create
// an order or payment intent.
func NewGatewayInitError(gateway, details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeGatewayInit,
		Message:   fmt.Sprintf("Gateway '%s' initialization failed", gateway),
		Details:   details,
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewAuthExpiredError creates a non-retryable session-expiry error (401 at
// any stage). The flow must short-circuit to the session notifier.
func NewAuthExpiredError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeAuthExpired,
		Message:   "Authentication session has expired",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewPermissionError creates a non-retryable authorization error (403).
func NewPermissionError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodePermission,
		Message:   "Operation not permitted",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewServerError creates a retryable upstream 5xx error.
func NewServerError(status int, details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeServer,
		Message:   fmt.Sprintf("Backend returned status %d", status),
		Details:   details,
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewTransportError creates a retryable network-level error.
func NewTransportError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeTransport,
		Message:   "Network transport failure",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewMissingUserIDError creates a non-retryable identity resolution error:
// no source in the fallback chain yielded a user id.
func NewMissingUserIDError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeMissingUserID,
		Message:   "No resolvable user identity before confirmation",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewBackendConfirmError creates an error for a confirmation endpoint that
// reported failure. The user stays on the current screen and may retry.
func NewBackendConfirmError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeBackendConfirm,
		Message:   "Payment confirmation was rejected by the backend",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewUserCancelledError creates the explicit-cancel terminal state. It is not
// treated as a failure.
func NewUserCancelledError() *StandardError {
	return &StandardError{
		Code:      ErrCodeUserCancelled,
		Message:   "Payment was cancelled",
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewRequestFailedError creates an error for unexpected non-2xx statuses
// outside the 401/403/5xx taxonomy.
func NewRequestFailedError(status int, details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeRequestFailed,
		Message:   fmt.Sprintf("Request failed with status %d", status),
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// ==========================
// 3. Utility Functions
// ==========================

// CodeOf extracts the ErrorCode from any error, or empty string.
func CodeOf(err error) ErrorCode {
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		return stdErr.Code
	}
	return ""
}

// IsAuthExpired reports whether the error indicates session expiry at any
// stage of the flow.
func IsAuthExpired(err error) bool {
	return CodeOf(err) == ErrCodeAuthExpired
}

// IsUserCancelled reports whether the error is the normal cancel terminal state.
func IsUserCancelled(err error) bool {
	return CodeOf(err) == ErrCodeUserCancelled
}

// IsRetryable reports whether the user may usefully retry the operation.
func IsRetryable(err error) bool {
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		return stdErr.Retryable
	}
	return false
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "AUTH") || strings.Contains(codeStr, "PERMISSION"):
		return "AUTH"
	case strings.Contains(codeStr, "VALIDATION") || strings.Contains(codeStr, "MISSING"):
		return "VALIDATION"
	case strings.Contains(codeStr, "GATEWAY") || strings.Contains(codeStr, "CONFIRM"):
		return "GATEWAY"
	case strings.Contains(codeStr, "TRANSPORT") || strings.Contains(codeStr, "SERVER"):
		return "NETWORK"
	case strings.Contains(codeStr, "CANCELLED"):
		return "USER"
	default:
		return "OTHER"
	}
}
