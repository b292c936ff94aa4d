// Package llm defines the model contract the benchmark runs against and thin
// provider adapters. The harness only ever needs a blocking completion call;
// everything else (answer strategies, judging) is built on top of it.
package llm

import (
	"context"
)

// Usage is the token accounting for a single completion call.
type Usage struct {
	InputTokens          int
	OutputTokens         int
	CacheReadInputTokens int
}

// Completion is the result of one blocking model call.
type Completion struct {
	Text  string
	Usage Usage
	Cost  float64
}

// Model is the blocking completion contract. Implementations must honour the
// context deadline; a timed-out call returns an error and the caller treats
// the record as "no answer".
type Model interface {
	// Complete sends a prompt and blocks until the model responds.
	Complete(ctx context.Context, prompt string) (Completion, error)
	// Name returns the provider model identifier, e.g. "claude-sonnet-4-5".
	Name() string
}

// Pricing holds per-million-token prices in USD used to attribute cost to
// each call.
type Pricing struct {
	InputPerMTok     float64
	OutputPerMTok    float64
	CacheReadPerMTok float64
}

// Cost computes the dollar cost of a call under this pricing.
func (p Pricing) Cost(u Usage) float64 {
	return float64(u.InputTokens)*p.InputPerMTok/1e6 +
		float64(u.OutputTokens)*p.OutputPerMTok/1e6 +
		float64(u.CacheReadInputTokens)*p.CacheReadPerMTok/1e6
}
