// Package memory implements the answer strategies under evaluation. Each
// strategy ingests a test case's conversations and answers questions about
// them; the harness measures how well that survives context growth.
package memory

import (
	"context"

	"github.com/pkg/errors"

	"github.com/jingkaihe/crmmembench/pkg/llm"
	benchtypes "github.com/jingkaihe/crmmembench/pkg/types/bench"
)

// MemoryAnswerer is one strategy instance bound to one test case. Instances
// are single-use and not safe for concurrent use; the evaluator creates a
// fresh one per test case and always calls Cleanup.
type MemoryAnswerer interface {
	Initialize(ctx context.Context) error
	AddConversations(ctx context.Context, conversations []benchtypes.Conversation) error
	AnswerQuestion(ctx context.Context, question, testCaseID string) (benchtypes.AnswerResult, error)
	Cleanup(ctx context.Context) error
	MemoryType() string
}

// Supported memory system names.
const (
	TypeLongContext      = "long_context"
	TypeBlockBased       = "block_based"
	TypeExtractedContext = "extracted_context"
	TypeMem0             = "mem0"
	TypeCachedLog        = "cached_log"
)

// DefaultHelperModel is used for block extraction when no helper model is
// configured.
const DefaultHelperModel = "claude-3-5-haiku-latest"

var defaultHelperPricing = llm.Pricing{
	InputPerMTok:     0.80,
	OutputPerMTok:    4.00,
	CacheReadPerMTok: 0.08,
}

// EntrySource resolves a test case id to the log entry it was rehydrated
// from. The log-based generator satisfies this.
type EntrySource interface {
	Entry(testCaseID string) (benchtypes.EvaluationLogEntry, bool)
}

// Factory builds fresh answerer instances for a configured memory system.
type Factory struct {
	memoryType        string
	blockSize         int
	extractionThreads int
	mem0BaseURL       string
	entries           EntrySource
}

// Option configures a Factory.
type Option func(*Factory)

// WithBlockSize overrides the block-based partition size.
func WithBlockSize(n int) Option {
	return func(f *Factory) { f.blockSize = n }
}

// WithExtractionThreads overrides the block extraction pool size.
func WithExtractionThreads(n int) Option {
	return func(f *Factory) { f.extractionThreads = n }
}

// WithMem0BaseURL points the mem0 answerer at a server.
func WithMem0BaseURL(url string) Option {
	return func(f *Factory) { f.mem0BaseURL = url }
}

// WithEntrySource supplies the replay table for cached_log runs.
func WithEntrySource(src EntrySource) Option {
	return func(f *Factory) { f.entries = src }
}

// NewFactory creates a factory for the named memory system.
func NewFactory(memoryType string, opts ...Option) (*Factory, error) {
	switch memoryType {
	case TypeLongContext, TypeBlockBased, TypeExtractedContext, TypeMem0, TypeCachedLog:
	default:
		return nil, errors.Errorf("unknown memory system %q", memoryType)
	}
	f := &Factory{
		memoryType:        memoryType,
		blockSize:         defaultBlockSize,
		extractionThreads: defaultExtractionThreads,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// MemoryType returns the configured memory system name.
func (f *Factory) MemoryType() string { return f.memoryType }

// Create builds one answerer instance. Block-based and extracted-context
// systems need a helper model and fall back to a default when none is given.
func (f *Factory) Create(mainModel, helperModel llm.Model) (MemoryAnswerer, error) {
	switch f.memoryType {
	case TypeLongContext:
		return NewLongContext(mainModel), nil
	case TypeBlockBased:
		return NewBlockBased(mainModel, f.helperOrDefault(helperModel), f.blockSize, f.extractionThreads), nil
	case TypeExtractedContext:
		return NewExtractedContext(mainModel, f.helperOrDefault(helperModel)), nil
	case TypeMem0:
		if f.mem0BaseURL == "" {
			return nil, errors.New("mem0 base URL is not configured; set mem0_base_url or start a mem0 server")
		}
		return NewMem0(mainModel, f.mem0BaseURL), nil
	case TypeCachedLog:
		if f.entries == nil {
			return nil, errors.New("cached_log requires a log-based generator as the entry source")
		}
		return NewCachedLog(f.entries), nil
	}
	return nil, errors.Errorf("unknown memory system %q", f.memoryType)
}

func (f *Factory) helperOrDefault(helper llm.Model) llm.Model {
	if helper != nil {
		return helper
	}
	return llm.NewAnthropicModel(DefaultHelperModel, 0, defaultHelperPricing)
}
