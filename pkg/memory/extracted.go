package memory

import (
	"context"

	"github.com/pkg/errors"

	"github.com/jingkaihe/crmmembench/pkg/llm"
	"github.com/jingkaihe/crmmembench/pkg/prompts"
	benchtypes "github.com/jingkaihe/crmmembench/pkg/types/bench"
)

// ExtractedContext runs one helper-model extraction pass over the whole
// history at question time, then answers from the extraction with the main
// model. A cheaper cousin of BlockBased for histories that still fit one
// helper call.
type ExtractedContext struct {
	mainModel     llm.Model
	helperModel   llm.Model
	conversations []benchtypes.Conversation
}

// NewExtractedContext creates an extracted-context answerer.
func NewExtractedContext(mainModel, helperModel llm.Model) *ExtractedContext {
	return &ExtractedContext{mainModel: mainModel, helperModel: helperModel}
}

// MemoryType implements MemoryAnswerer.
func (a *ExtractedContext) MemoryType() string { return TypeExtractedContext }

// Initialize implements MemoryAnswerer.
func (a *ExtractedContext) Initialize(ctx context.Context) error { return nil }

// AddConversations implements MemoryAnswerer.
func (a *ExtractedContext) AddConversations(ctx context.Context, conversations []benchtypes.Conversation) error {
	a.conversations = append(a.conversations, conversations...)
	return nil
}

// AnswerQuestion implements MemoryAnswerer.
func (a *ExtractedContext) AnswerQuestion(ctx context.Context, question, testCaseID string) (benchtypes.AnswerResult, error) {
	extraction, err := a.helperModel.Complete(ctx, prompts.BlockExtractionPrompt(question, a.conversations))
	if err != nil {
		return benchtypes.AnswerResult{}, errors.Wrap(err, "context extraction failed")
	}

	var notes []string
	var retrieved []string
	if !matchesNoInformation(extraction.Text) {
		notes = append(notes, extraction.Text)
		for _, c := range a.conversations {
			retrieved = append(retrieved, c.ID)
		}
	}

	final, err := a.mainModel.Complete(ctx, prompts.FinalAnswerPrompt(question, notes))
	if err != nil {
		return benchtypes.AnswerResult{}, errors.Wrap(err, "final answer failed")
	}

	return benchtypes.AnswerResult{
		Answer:                   final.Text,
		RetrievedConversationIDs: retrieved,
		InputTokens:              final.Usage.InputTokens,
		OutputTokens:             extraction.Usage.OutputTokens + final.Usage.OutputTokens,
		CachedInputTokens:        final.Usage.CacheReadInputTokens,
		Cost:                     extraction.Cost + final.Cost,
		MemorySystemResponses:    []string{extraction.Text, final.Text},
	}, nil
}

// Cleanup implements MemoryAnswerer.
func (a *ExtractedContext) Cleanup(ctx context.Context) error {
	a.conversations = nil
	return nil
}
