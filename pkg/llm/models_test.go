package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPricingFor(t *testing.T) {
	assert.Equal(t, 3.0, PricingFor("claude-sonnet-4-5").InputPerMTok)
	assert.Equal(t, 0.8, PricingFor("claude-3-5-haiku-latest").InputPerMTok)
	assert.Equal(t, 0.15, PricingFor("gpt-4o-mini").InputPerMTok)
	// More specific prefixes win over shorter ones.
	assert.Equal(t, 0.4, PricingFor("gpt-4.1-mini").InputPerMTok)
	assert.Zero(t, PricingFor("some-unknown-model").InputPerMTok)
}

func TestPricingCost(t *testing.T) {
	p := Pricing{InputPerMTok: 3, OutputPerMTok: 15, CacheReadPerMTok: 0.3}
	cost := p.Cost(Usage{InputTokens: 1_000_000, OutputTokens: 100_000, CacheReadInputTokens: 500_000})
	assert.InDelta(t, 3+1.5+0.15, cost, 1e-9)
}

func TestNewModelForNameRouting(t *testing.T) {
	assert.Equal(t, "claude-sonnet-4-5", NewModelForName("claude-sonnet-4-5").Name())
	assert.Equal(t, "gpt-4o-mini", NewModelForName("gpt-4o-mini").Name())
}
