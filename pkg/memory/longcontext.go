package memory

import (
	"context"

	"github.com/pkg/errors"

	"github.com/jingkaihe/crmmembench/pkg/llm"
	"github.com/jingkaihe/crmmembench/pkg/prompts"
	benchtypes "github.com/jingkaihe/crmmembench/pkg/types/bench"
)

// LongContext is the no-memory baseline: every ingested conversation is
// stuffed into a single prompt and the main model answers from the full
// history.
type LongContext struct {
	model         llm.Model
	conversations []benchtypes.Conversation
}

// NewLongContext creates the baseline answerer.
func NewLongContext(model llm.Model) *LongContext {
	return &LongContext{model: model}
}

// MemoryType implements MemoryAnswerer.
func (a *LongContext) MemoryType() string { return TypeLongContext }

// Initialize implements MemoryAnswerer.
func (a *LongContext) Initialize(ctx context.Context) error { return nil }

// AddConversations implements MemoryAnswerer.
func (a *LongContext) AddConversations(ctx context.Context, conversations []benchtypes.Conversation) error {
	a.conversations = append(a.conversations, conversations...)
	return nil
}

// AnswerQuestion implements MemoryAnswerer. Every ingested conversation is
// "retrieved" since all of them sit in the prompt.
func (a *LongContext) AnswerQuestion(ctx context.Context, question, testCaseID string) (benchtypes.AnswerResult, error) {
	completion, err := a.model.Complete(ctx, prompts.LongContextAnswerPrompt(question, a.conversations))
	if err != nil {
		return benchtypes.AnswerResult{}, errors.Wrap(err, "long context answer failed")
	}

	retrieved := make([]string, 0, len(a.conversations))
	for _, c := range a.conversations {
		retrieved = append(retrieved, c.ID)
	}
	return benchtypes.AnswerResult{
		Answer:                   completion.Text,
		RetrievedConversationIDs: retrieved,
		InputTokens:              completion.Usage.InputTokens,
		OutputTokens:             completion.Usage.OutputTokens,
		CachedInputTokens:        completion.Usage.CacheReadInputTokens,
		Cost:                     completion.Cost,
		MemorySystemResponses:    []string{completion.Text},
	}, nil
}

// Cleanup implements MemoryAnswerer.
func (a *LongContext) Cleanup(ctx context.Context) error {
	a.conversations = nil
	return nil
}
