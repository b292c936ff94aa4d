package llm

import (
	"context"
	"sync"
)

// StaticModel is an in-process Model that replies from a canned script.
// Used by tests and by dry runs that exercise the pipeline without spending
// money.
type StaticModel struct {
	ModelName string
	// Responses are returned in order; once exhausted, Fallback is returned.
	Responses []Completion
	Fallback  Completion
	// Fn, when set, overrides Responses entirely.
	Fn func(prompt string) (Completion, error)

	mu   sync.Mutex
	next int
	// Prompts records every prompt seen, for assertions.
	Prompts []string
}

// Name returns the configured model name, defaulting to "static".
func (m *StaticModel) Name() string {
	if m.ModelName == "" {
		return "static"
	}
	return m.ModelName
}

// Complete replies from the script. Safe for concurrent use.
func (m *StaticModel) Complete(_ context.Context, prompt string) (Completion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Prompts = append(m.Prompts, prompt)
	if m.Fn != nil {
		return m.Fn(prompt)
	}
	if m.next < len(m.Responses) {
		c := m.Responses[m.next]
		m.next++
		return c, nil
	}
	return m.Fallback, nil
}

// CallCount returns how many completions have been requested.
func (m *StaticModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Prompts)
}
