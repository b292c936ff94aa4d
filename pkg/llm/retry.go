package llm

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/pkg/errors"

	"github.com/jingkaihe/crmmembench/pkg/logger"
)

// RetryConfig bounds the retry behaviour of a wrapped model. The budget is a
// per-call configuration parameter; helpers that need tighter budgets pass
// their own.
type RetryConfig struct {
	Attempts     int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultRetryConfig is the budget used for answering and judging calls.
var DefaultRetryConfig = RetryConfig{
	Attempts:     3,
	InitialDelay: 500 * time.Millisecond,
	MaxDelay:     10 * time.Second,
}

// RetryingModel wraps a Model with bounded retries on transient provider
// failures. Non-transient errors surface immediately.
type RetryingModel struct {
	inner  Model
	config RetryConfig
}

// WithRetry wraps the model using the given retry budget.
func WithRetry(inner Model, config RetryConfig) *RetryingModel {
	if config.Attempts <= 0 {
		config = DefaultRetryConfig
	}
	return &RetryingModel{inner: inner, config: config}
}

// Name returns the wrapped model's name.
func (m *RetryingModel) Name() string {
	return m.inner.Name()
}

// Complete delegates to the wrapped model, retrying transient failures with
// exponential backoff. The caller's deadline bounds the whole sequence.
func (m *RetryingModel) Complete(ctx context.Context, prompt string) (Completion, error) {
	var completion Completion
	err := retry.Do(
		func() error {
			var err error
			completion, err = m.inner.Complete(ctx, prompt)
			return err
		},
		retry.RetryIf(IsTransient),
		retry.Attempts(uint(m.config.Attempts)),
		retry.Delay(m.config.InitialDelay),
		retry.MaxDelay(m.config.MaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.G(ctx).WithError(err).WithField("attempt", n+1).Warn("retrying LLM call")
		}),
	)
	if err != nil {
		return Completion{}, errors.Wrapf(err, "model %s call failed", m.inner.Name())
	}
	return completion, nil
}

// IsTransient reports whether the error is worth retrying: timeouts,
// rate limits, and provider 5xx surface.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"rate limit", "rate_limit", "429",
		"overloaded", "internal server error",
		"500", "502", "503", "529",
		"timeout", "deadline exceeded", "connection reset",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
