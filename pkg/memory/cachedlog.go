package memory

import (
	"context"

	"github.com/pkg/errors"

	benchtypes "github.com/jingkaihe/crmmembench/pkg/types/bench"
)

// CachedLog replays answers recorded by a previous run so they can be
// re-judged without spending model calls. Questions with no recorded entry
// surface as "no answer".
type CachedLog struct {
	entries EntrySource
}

// NewCachedLog creates a replay answerer over the given entry table.
func NewCachedLog(entries EntrySource) *CachedLog {
	return &CachedLog{entries: entries}
}

// MemoryType implements MemoryAnswerer.
func (a *CachedLog) MemoryType() string { return TypeCachedLog }

// Initialize implements MemoryAnswerer.
func (a *CachedLog) Initialize(ctx context.Context) error { return nil }

// AddConversations implements MemoryAnswerer. Replay cases carry no
// conversations, so there is nothing to ingest.
func (a *CachedLog) AddConversations(ctx context.Context, conversations []benchtypes.Conversation) error {
	return nil
}

// AnswerQuestion implements MemoryAnswerer, serving the recorded answer.
func (a *CachedLog) AnswerQuestion(ctx context.Context, question, testCaseID string) (benchtypes.AnswerResult, error) {
	entry, ok := a.entries.Entry(testCaseID)
	if !ok {
		return benchtypes.AnswerResult{}, errors.Errorf("no recorded answer for test case %s", testCaseID)
	}
	return entry.AnswerResult, nil
}

// Cleanup implements MemoryAnswerer.
func (a *CachedLog) Cleanup(ctx context.Context) error { return nil }
