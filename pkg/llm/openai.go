package llm

import (
	"context"
	"os"

	"github.com/pkg/errors"
	openai "github.com/sashabaranov/go-openai"
)

func envAPIKey() string {
	return os.Getenv("OPENAI_API_KEY")
}

// OpenAIModel adapts the OpenAI chat completions API to the Model contract.
// It also serves OpenAI-compatible endpoints via a custom base URL, which is
// how helper models on cheaper providers are wired in.
type OpenAIModel struct {
	client  *openai.Client
	model   string
	pricing Pricing
}

// NewOpenAIModel creates an adapter using OPENAI_API_KEY from the
// environment.
func NewOpenAIModel(model string, pricing Pricing) *OpenAIModel {
	return NewOpenAIModelWithConfig(model, pricing, openai.DefaultConfig(envAPIKey()))
}

// NewOpenAIModelWithConfig creates an adapter with an explicit client config,
// used for OpenAI-compatible providers.
func NewOpenAIModelWithConfig(model string, pricing Pricing, config openai.ClientConfig) *OpenAIModel {
	return &OpenAIModel{
		client:  openai.NewClientWithConfig(config),
		model:   model,
		pricing: pricing,
	}
}

// Name returns the provider model identifier.
func (m *OpenAIModel) Name() string {
	return m.model
}

// Complete sends the prompt as a single user message.
func (m *OpenAIModel) Complete(ctx context.Context, prompt string) (Completion, error) {
	resp, err := m.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: m.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return Completion{}, errors.Wrap(err, "openai completion failed")
	}
	if len(resp.Choices) == 0 {
		return Completion{}, errors.New("openai returned no choices")
	}

	usage := Usage{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}
	if resp.Usage.PromptTokensDetails != nil {
		usage.CacheReadInputTokens = resp.Usage.PromptTokensDetails.CachedTokens
	}
	return Completion{
		Text:  resp.Choices[0].Message.Content,
		Usage: usage,
		Cost:  m.pricing.Cost(usage),
	}, nil
}
