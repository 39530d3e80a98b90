package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorCode
	}{
		{name: "validation", err: NewValidationError("amount"), expected: ErrCodeValidation},
		{name: "auth expired", err: NewAuthExpiredError("/profile"), expected: ErrCodeAuthExpired},
		{name: "gateway init", err: NewGatewayInitError("paypal", "no url"), expected: ErrCodeGatewayInit},
		{name: "wrapped", err: fmt.Errorf("calling: %w", NewServerError(500, "")), expected: ErrCodeServer},
		{name: "plain error", err: errors.New("boom"), expected: ErrorCode("")},
		{name: "nil", err: nil, expected: ErrorCode("")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, CodeOf(tt.err))
		})
	}
}

func TestRetryableFlags(t *testing.T) {
	assert.True(t, IsRetryable(NewServerError(503, "")))
	assert.True(t, IsRetryable(NewTransportError(errors.New("refused"))))
	assert.True(t, IsRetryable(NewGatewayInitError("stripe", "")))
	assert.True(t, IsRetryable(NewBackendConfirmError(errors.New("declined"))))

	assert.False(t, IsRetryable(NewValidationError("")))
	assert.False(t, IsRetryable(NewAuthExpiredError("")))
	assert.False(t, IsRetryable(NewMissingUserIDError("")))
	assert.False(t, IsRetryable(NewUserCancelledError()))
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestPredicates(t *testing.T) {
	assert.True(t, IsAuthExpired(NewAuthExpiredError("x")))
	assert.False(t, IsAuthExpired(NewPermissionError("x")))

	assert.True(t, IsUserCancelled(NewUserCancelledError()))
	assert.False(t, IsUserCancelled(NewValidationError("x")))
}

func TestGetErrorCategory(t *testing.T) {
	tests := []struct {
		code     ErrorCode
		expected string
	}{
		{ErrCodeAuthExpired, "AUTH"},
		{ErrCodePermission, "AUTH"},
		{ErrCodeValidation, "VALIDATION"},
		{ErrCodeMissingUserID, "VALIDATION"},
		{ErrCodeGatewayInit, "GATEWAY"},
		{ErrCodeBackendConfirm, "GATEWAY"},
		{ErrCodeTransport, "NETWORK"},
		{ErrCodeServer, "NETWORK"},
		{ErrCodeUserCancelled, "USER"},
		{ErrorCode("WEIRD"), "OTHER"},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.expected, GetErrorCategory(tt.code))
		})
	}
}

func TestStandardError_ErrorString(t *testing.T) {
	err := NewValidationError("amount must be positive")
	assert.Contains(t, err.Error(), "VALIDATION_ERROR")
	assert.Contains(t, err.Error(), "validation failed")
}
