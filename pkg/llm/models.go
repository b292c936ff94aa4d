package llm

import "strings"

// pricingTable maps model name prefixes to per-million-token prices. An
// unknown model falls back to zero pricing, so its cost shows as $0 rather
// than something invented.
var pricingTable = []struct {
	prefix  string
	pricing Pricing
}{
	{"claude-opus", Pricing{InputPerMTok: 15, OutputPerMTok: 75, CacheReadPerMTok: 1.5}},
	{"claude-sonnet", Pricing{InputPerMTok: 3, OutputPerMTok: 15, CacheReadPerMTok: 0.3}},
	{"claude-3-5-haiku", Pricing{InputPerMTok: 0.8, OutputPerMTok: 4, CacheReadPerMTok: 0.08}},
	{"claude-haiku", Pricing{InputPerMTok: 1, OutputPerMTok: 5, CacheReadPerMTok: 0.1}},
	{"gpt-4o-mini", Pricing{InputPerMTok: 0.15, OutputPerMTok: 0.6, CacheReadPerMTok: 0.075}},
	{"gpt-4o", Pricing{InputPerMTok: 2.5, OutputPerMTok: 10, CacheReadPerMTok: 1.25}},
	{"gpt-4.1-mini", Pricing{InputPerMTok: 0.4, OutputPerMTok: 1.6, CacheReadPerMTok: 0.1}},
	{"gpt-4.1", Pricing{InputPerMTok: 2, OutputPerMTok: 8, CacheReadPerMTok: 0.5}},
}

// PricingFor returns the configured pricing for a model name.
func PricingFor(model string) Pricing {
	for _, entry := range pricingTable {
		if strings.HasPrefix(model, entry.prefix) {
			return entry.pricing
		}
	}
	return Pricing{}
}

// NewModelForName routes a model name to its provider adapter and wraps it
// with transient-failure retries. OpenAI-style names go to the OpenAI
// adapter, everything else to Anthropic.
func NewModelForName(name string) Model {
	var inner Model
	if strings.HasPrefix(name, "gpt-") || strings.HasPrefix(name, "o1") || strings.HasPrefix(name, "o3") || strings.HasPrefix(name, "o4") {
		inner = NewOpenAIModel(name, PricingFor(name))
	} else {
		inner = NewAnthropicModel(name, 0, PricingFor(name))
	}
	return WithRetry(inner, DefaultRetryConfig)
}
