package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Error(t *testing.T) {
	err := NewErrorWithContext(ErrorTypeEndpoint, "server error", true, errors.New("bad gateway"), "gpt-4o-mini", "https://api.openai.com/v1", 502)

	msg := err.Error()
	assert.True(t, strings.HasPrefix(msg, "endpoint HTTP 502 model=gpt-4o-mini server error"))
	assert.Contains(t, msg, "bad gateway")
	assert.Equal(t, "auth authentication failed", NewError(ErrorTypeAuth, "authentication failed", false, nil).Error())
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantType  ErrorType
		retryable bool
		status    int
	}{
		{"unauthorized", errors.New("error, status code: 401, message: invalid api key"), ErrorTypeAuth, false, 401},
		{"model missing", errors.New("The model `gpt-9` does not exist"), ErrorTypeModel, false, 0},
		{"endpoint 404", errors.New("status code: 404"), ErrorTypeEndpoint, false, 404},
		{"connection refused", errors.New("dial tcp: connection refused"), ErrorTypeEndpoint, true, 0},
		{"deadline", fmt.Errorf("post: %w", context.DeadlineExceeded), ErrorTypeTimeout, true, 0},
		{"canceled", context.Canceled, ErrorTypeTimeout, false, 0},
		{"rate limited", errors.New("status code: 429, rate limit reached"), ErrorTypeRateLimit, true, 429},
		{"anthropic overloaded", errors.New("status 529 overloaded_error"), ErrorTypeEndpoint, true, 529},
		{"server error", errors.New("status code: 503"), ErrorTypeEndpoint, true, 503},
		{"unknown", errors.New("something odd"), ErrorTypeUnknown, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyError(tt.err)
			assert.Equal(t, tt.wantType, got.Type)
			assert.Equal(t, tt.retryable, got.Retryable)
			assert.Equal(t, tt.status, got.StatusCode)
			assert.ErrorIs(t, got, tt.err)
		})
	}
}

func TestClassifyError_PreservesExistingError(t *testing.T) {
	original := NewError(ErrorTypeMalformed, "bad reply", false, nil)
	assert.Same(t, original, ClassifyError(fmt.Errorf("wrap: %w", original)))
	assert.Nil(t, ClassifyError(nil))
}

func TestIsRetryableAndGetErrorType(t *testing.T) {
	assert.True(t, IsRetryable(NewError(ErrorTypeRateLimit, "", true, nil)))
	assert.False(t, IsRetryable(errors.New("plain")))
	assert.Equal(t, ErrorTypeUnknown, GetErrorType(errors.New("plain")))
	assert.Equal(t, ErrorTypeMalformed, GetErrorType(fmt.Errorf("x: %w", NewError(ErrorTypeMalformed, "", false, nil))))
}
