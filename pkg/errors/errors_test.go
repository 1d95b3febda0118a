package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
		permanent bool
		fatal     bool
	}{
		{"timeout", New(ErrorTypeTimeout, "read timed out"), true, false, false},
		{"connection", New(ErrorTypeConnection, "refused"), true, false, false},
		{"rate limit", New(ErrorTypeRateLimit, "429"), true, false, false},
		{"validation", New(ErrorTypeValidation, "missing field"), false, true, false},
		{"data", New(ErrorTypeData, "bad row"), false, true, false},
		{"auth", New(ErrorTypeAuthentication, "bad token"), false, false, true},
		{"config", New(ErrorTypeConfig, "missing path"), false, false, true},
		{"plain errors retry", stderrors.New("boom"), true, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.transient, IsTransient(tt.err))
			assert.Equal(t, tt.permanent, IsPermanent(tt.err))
			assert.Equal(t, tt.fatal, IsFatal(tt.err))
		})
	}
}

func TestNilIsNotTransient(t *testing.T) {
	assert.False(t, IsTransient(nil))
}

func TestWrapPreservesCauseChain(t *testing.T) {
	cause := stderrors.New("dial tcp: i/o timeout")
	err := Wrap(cause, ErrorTypeConnection, "destination send failed")
	require.NotNil(t, err)

	assert.True(t, stderrors.Is(err, cause))
	assert.True(t, IsType(err, ErrorTypeConnection))
	assert.Contains(t, err.Error(), "destination send failed")

	// Wrapping again keeps the classification reachable through errors.As.
	outer := fmt.Errorf("item 42: %w", err)
	assert.True(t, IsTransient(outer))
	assert.Equal(t, ErrorTypeConnection, TypeOf(outer))
}

func TestWrapNil(t *testing.T) {
	var err error = Wrap(nil, ErrorTypeData, "ignored")
	// Wrap returns a typed nil; callers must check before use.
	assert.Nil(t, Wrap(nil, ErrorTypeData, "ignored"))
	_ = err
}

func TestWithDetail(t *testing.T) {
	err := New(ErrorTypeData, "parse failed").
		WithDetail("line", 12).
		WithDetail("source", "csv")
	assert.Equal(t, 12, err.Details["line"])
	assert.Equal(t, "csv", err.Details["source"])
}

func TestExhaustedError(t *testing.T) {
	last := New(ErrorTypeTimeout, "still timing out")
	err := &ExhaustedError{Attempts: 3, Last: last}

	assert.True(t, IsExhausted(err))
	assert.True(t, IsExhausted(fmt.Errorf("send: %w", err)))
	assert.False(t, IsExhausted(last))
	assert.True(t, stderrors.Is(err, last))
	assert.Contains(t, err.Error(), "3 attempts")
}
