package memory

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/jingkaihe/crmmembench/pkg/llm"
	"github.com/jingkaihe/crmmembench/pkg/logger"
	"github.com/jingkaihe/crmmembench/pkg/prompts"
	benchtypes "github.com/jingkaihe/crmmembench/pkg/types/bench"
)

const (
	defaultBlockSize         = 10
	defaultExtractionThreads = 100

	// Paraphrase tolerance when matching the "no relevant information"
	// sentinel on alphanumeric-lowered strings.
	sentinelEditDistance = 5
)

// BlockBased partitions the ingested conversations into fixed-size blocks,
// extracts per-block relevance with the helper model in parallel, and
// synthesizes the final answer from the non-empty extractions with the main
// model.
type BlockBased struct {
	mainModel         llm.Model
	helperModel       llm.Model
	blockSize         int
	extractionThreads int
	conversations     []benchtypes.Conversation
}

// NewBlockBased creates a block-based answerer. Zero blockSize or
// extractionThreads fall back to the defaults.
func NewBlockBased(mainModel, helperModel llm.Model, blockSize, extractionThreads int) *BlockBased {
	if blockSize <= 0 {
		blockSize = defaultBlockSize
	}
	if extractionThreads <= 0 {
		extractionThreads = defaultExtractionThreads
	}
	return &BlockBased{
		mainModel:         mainModel,
		helperModel:       helperModel,
		blockSize:         blockSize,
		extractionThreads: extractionThreads,
	}
}

// MemoryType implements MemoryAnswerer.
func (a *BlockBased) MemoryType() string { return TypeBlockBased }

// Initialize implements MemoryAnswerer.
func (a *BlockBased) Initialize(ctx context.Context) error { return nil }

// AddConversations implements MemoryAnswerer.
func (a *BlockBased) AddConversations(ctx context.Context, conversations []benchtypes.Conversation) error {
	a.conversations = append(a.conversations, conversations...)
	return nil
}

type blockExtraction struct {
	conversations []benchtypes.Conversation
	text          string
	usage         llm.Usage
	cost          float64
	relevant      bool
}

// AnswerQuestion implements MemoryAnswerer. The aggregate accounting follows
// fixed rules: input and cached tokens reflect only the final call, output
// tokens sum every call, cost sums every call.
func (a *BlockBased) AnswerQuestion(ctx context.Context, question, testCaseID string) (benchtypes.AnswerResult, error) {
	blocks := a.blocks()
	extractions := make([]blockExtraction, len(blocks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.extractionThreads)
	for i, block := range blocks {
		i, block := i, block
		g.Go(func() error {
			completion, err := a.helperModel.Complete(gctx, prompts.BlockExtractionPrompt(question, block))
			if err != nil {
				return errors.Wrapf(err, "block %d extraction failed", i)
			}
			extractions[i] = blockExtraction{
				conversations: block,
				text:          completion.Text,
				usage:         completion.Usage,
				cost:          completion.Cost,
				relevant:      !matchesNoInformation(completion.Text),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return benchtypes.AnswerResult{}, err
	}

	var notes []string
	var retrieved []string
	responses := make([]string, 0, len(extractions)+1)
	outputTokens := 0
	cost := 0.0
	for _, e := range extractions {
		responses = append(responses, e.text)
		outputTokens += e.usage.OutputTokens
		cost += e.cost
		if !e.relevant {
			continue
		}
		notes = append(notes, e.text)
		for _, c := range e.conversations {
			retrieved = append(retrieved, c.ID)
		}
	}
	logger.G(ctx).WithField("test_case_id", testCaseID).
		WithField("blocks", len(blocks)).WithField("relevant", len(notes)).
		Debug("block extraction complete")

	final, err := a.mainModel.Complete(ctx, prompts.FinalAnswerPrompt(question, notes))
	if err != nil {
		return benchtypes.AnswerResult{}, errors.Wrap(err, "final answer failed")
	}
	responses = append(responses, final.Text)

	return benchtypes.AnswerResult{
		Answer:                   final.Text,
		RetrievedConversationIDs: retrieved,
		InputTokens:              final.Usage.InputTokens,
		OutputTokens:             outputTokens + final.Usage.OutputTokens,
		CachedInputTokens:        final.Usage.CacheReadInputTokens,
		Cost:                     cost + final.Cost,
		MemorySystemResponses:    responses,
	}, nil
}

// Cleanup implements MemoryAnswerer.
func (a *BlockBased) Cleanup(ctx context.Context) error {
	a.conversations = nil
	return nil
}

func (a *BlockBased) blocks() [][]benchtypes.Conversation {
	var blocks [][]benchtypes.Conversation
	for start := 0; start < len(a.conversations); start += a.blockSize {
		end := start + a.blockSize
		if end > len(a.conversations) {
			end = len(a.conversations)
		}
		blocks = append(blocks, a.conversations[start:end])
	}
	return blocks
}

// matchesNoInformation reports whether an extraction is the "nothing
// relevant" sentinel, tolerating small paraphrases.
func matchesNoInformation(text string) bool {
	normalized := normalizeAlnum(text)
	if normalized == "" {
		return true
	}
	return levenshtein(normalized, normalizeAlnum(prompts.NoRelevantInformation)) <= sentinelEditDistance
}

func normalizeAlnum(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// levenshtein computes edit distance with a single rolling row.
func levenshtein(a, b string) int {
	if a == b {
		return 0
	}
	row := make([]int, len(b)+1)
	for j := range row {
		row[j] = j
	}
	for i := 1; i <= len(a); i++ {
		prev := row[0]
		row[0] = i
		for j := 1; j <= len(b); j++ {
			cur := row[j]
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			row[j] = min3(row[j]+1, row[j-1]+1, prev+cost)
			prev = cur
		}
	}
	return row[len(b)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
