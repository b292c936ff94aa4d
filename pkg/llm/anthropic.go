package llm

import (
	"context"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/pkg/errors"
)

// AnthropicModel adapts the Anthropic messages API to the Model contract.
type AnthropicModel struct {
	client    anthropic.Client
	model     string
	maxTokens int
	pricing   Pricing
}

// NewAnthropicModel creates an adapter for the given model name. Credentials
// come from the environment (ANTHROPIC_API_KEY).
func NewAnthropicModel(model string, maxTokens int, pricing Pricing) *AnthropicModel {
	if maxTokens == 0 {
		maxTokens = 8192
	}
	return &AnthropicModel{
		client:    anthropic.NewClient(),
		model:     model,
		maxTokens: maxTokens,
		pricing:   pricing,
	}
}

// Name returns the provider model identifier.
func (m *AnthropicModel) Name() string {
	return m.model
}

// Complete sends the prompt as a single user message and returns the text of
// the response with token usage and attributed cost.
func (m *AnthropicModel) Complete(ctx context.Context, prompt string) (Completion, error) {
	message, err := m.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(m.model),
		MaxTokens: int64(m.maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return Completion{}, errors.Wrap(err, "anthropic completion failed")
	}

	var text string
	for _, block := range message.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			text += variant.Text
		}
	}

	usage := Usage{
		InputTokens:          int(message.Usage.InputTokens),
		OutputTokens:         int(message.Usage.OutputTokens),
		CacheReadInputTokens: int(message.Usage.CacheReadInputTokens),
	}
	return Completion{
		Text:  text,
		Usage: usage,
		Cost:  m.pricing.Cost(usage),
	}, nil
}
