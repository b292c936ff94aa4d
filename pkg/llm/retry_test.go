package llm

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{"nil", nil, false},
		{"rate limit", errors.New("429 rate limit exceeded"), true},
		{"overloaded", errors.New("api error: overloaded_error"), true},
		{"server error", errors.New("502 bad gateway"), true},
		{"deadline", errors.New("context deadline exceeded"), true},
		{"canceled", context.Canceled, false},
		{"auth", errors.New("401 invalid api key"), false},
		{"bad request", errors.New("400 invalid request"), false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.transient, IsTransient(tc.err))
		})
	}
}

func TestWithRetry_TransientThenSuccess(t *testing.T) {
	calls := 0
	inner := &StaticModel{
		Fn: func(string) (Completion, error) {
			calls++
			if calls < 3 {
				return Completion{}, errors.New("503 service unavailable")
			}
			return Completion{Text: "ok"}, nil
		},
	}

	model := WithRetry(inner, RetryConfig{Attempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond})
	completion, err := model.Complete(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, "ok", completion.Text)
	assert.Equal(t, 3, calls)
}

func TestWithRetry_NonTransientFailsFast(t *testing.T) {
	calls := 0
	inner := &StaticModel{
		Fn: func(string) (Completion, error) {
			calls++
			return Completion{}, errors.New("401 invalid api key")
		},
	}

	model := WithRetry(inner, RetryConfig{Attempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond})
	_, err := model.Complete(context.Background(), "q")
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithRetry_ExhaustsBudget(t *testing.T) {
	calls := 0
	inner := &StaticModel{
		Fn: func(string) (Completion, error) {
			calls++
			return Completion{}, errors.New("500 internal server error")
		},
	}

	model := WithRetry(inner, RetryConfig{Attempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond})
	_, err := model.Complete(context.Background(), "q")
	require.Error(t, err)
	assert.Equal(t, 2, calls)
}
