package llmerrors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorType_String(t *testing.T) {
	assert.Equal(t, "rate_limit", ErrorTypeRateLimit.String())
	assert.Equal(t, "transient", ErrorTypeTransient.String())
	assert.Equal(t, "empty_response", ErrorTypeEmptyResponse.String())
	assert.Equal(t, "auth", ErrorTypeAuth.String())
	assert.Equal(t, "bad_prompt", ErrorTypeBadPrompt.String())
	assert.Equal(t, "unknown", ErrorTypeUnknown.String())
	assert.Equal(t, "invalid", ErrorType(42).String())
}

func TestError_IsRetryable(t *testing.T) {
	assert.True(t, NewError(ErrorTypeRateLimit, "").IsRetryable())
	assert.True(t, NewError(ErrorTypeTransient, "").IsRetryable())
	assert.True(t, NewError(ErrorTypeUnknown, "").IsRetryable())
	assert.False(t, NewError(ErrorTypeAuth, "").IsRetryable())
	assert.False(t, NewError(ErrorTypeBadPrompt, "").IsRetryable())
}

func TestErrorFormattingAndUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewErrorWithCause(ErrorTypeTransient, cause, "request failed")
	assert.Equal(t, "LLM error (transient): request failed", err.Error())
	require.ErrorIs(t, err, cause)

	assert.Equal(t, "LLM error (auth): status 401", (&Error{Type: ErrorTypeAuth, StatusCode: 401}).Error())
}

func TestIsAndTypeOf(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", NewErrorWithStatus(ErrorTypeRateLimit, 429, "slow down"))
	assert.True(t, Is(err, ErrorTypeRateLimit))
	assert.False(t, Is(err, ErrorTypeAuth))
	assert.Equal(t, ErrorTypeRateLimit, TypeOf(err))
	assert.Equal(t, ErrorTypeUnknown, TypeOf(errors.New("plain")))
}

func TestTypeForStatus(t *testing.T) {
	tests := map[int]ErrorType{
		429: ErrorTypeRateLimit,
		401: ErrorTypeAuth,
		403: ErrorTypeAuth,
		408: ErrorTypeTransient,
		500: ErrorTypeTransient,
		503: ErrorTypeTransient,
		400: ErrorTypeBadPrompt,
		413: ErrorTypeBadPrompt,
		0:   ErrorTypeUnknown,
	}
	for code, want := range tests {
		assert.Equal(t, want, TypeForStatus(code), "status %d", code)
	}
}

func TestClassify(t *testing.T) {
	assert.NoError(t, Classify("openai", 0, nil))

	canceled := fmt.Errorf("request: %w", context.Canceled)
	assert.Same(t, canceled, Classify("openai", 0, canceled))

	already := NewError(ErrorTypeAuth, "bad key")
	assert.Same(t, already, Classify("openai", 500, already))

	err := Classify("anthropic", 529, errors.New("overloaded"))
	assert.True(t, Is(err, ErrorTypeTransient))

	err = Classify("ollama", 0, errors.New("dial tcp: connection refused"))
	assert.True(t, Is(err, ErrorTypeTransient))
	assert.Contains(t, err.Error(), "ollama API error")

	err = Classify("gemini", 0, errors.New("Error 429, quota exceeded"))
	assert.True(t, Is(err, ErrorTypeRateLimit))

	err = Classify("gemini", 0, errors.New("something odd"))
	assert.True(t, Is(err, ErrorTypeUnknown))
}

func TestSanitizePrompt(t *testing.T) {
	short := "short prompt"
	assert.Equal(t, short, SanitizePrompt(short, 100))

	long := strings.Repeat("a", 500) + strings.Repeat("b", 500)
	out := SanitizePrompt(long, 200)
	assert.True(t, strings.HasPrefix(out, strings.Repeat("a", 100)))
	assert.True(t, strings.HasSuffix(out, strings.Repeat("b", 100)))
	assert.Contains(t, out, "[1000 chars, hash:")
}
