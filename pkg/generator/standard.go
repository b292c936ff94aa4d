package generator

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/jingkaihe/crmmembench/pkg/corpus"
	"github.com/jingkaihe/crmmembench/pkg/logger"
	"github.com/jingkaihe/crmmembench/pkg/prompts"
	benchtypes "github.com/jingkaihe/crmmembench/pkg/types/bench"
)

// Standard builds the cartesian product of evidence items and context sizes:
// one test case per combination, each holding a single evidence item diluted
// with filler from the same persona.
type Standard struct {
	evidence     []benchtypes.EvidenceItem
	loader       corpus.Loader
	contextSizes []int
	evaluation   prompts.AnsweringEvaluation
	rng          *rand.Rand

	once  sync.Once
	cases []*benchtypes.TestCase
	err   error
}

// NewStandard creates a standard generator over the given evidence and
// context sizes.
func NewStandard(evidence []benchtypes.EvidenceItem, loader corpus.Loader, contextSizes []int, evaluation prompts.AnsweringEvaluation) *Standard {
	return &Standard{
		evidence:     evidence,
		loader:       loader,
		contextSizes: contextSizes,
		evaluation:   evaluation,
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Type implements Generator.
func (g *Standard) Type() string { return "standard" }

// ClassType implements Generator.
func (g *Standard) ClassType() string { return "Standard Generator" }

// EvidenceCount implements Generator: one evidence item per case.
func (g *Standard) EvidenceCount() int { return 1 }

// Evaluation implements Generator.
func (g *Standard) Evaluation() prompts.AnsweringEvaluation { return g.evaluation }

// Generate builds all cases, caching the result for repeat calls.
func (g *Standard) Generate(ctx context.Context) ([]*benchtypes.TestCase, error) {
	g.once.Do(func() {
		g.cases, g.err = g.generate(ctx)
	})
	return g.cases, g.err
}

func (g *Standard) generate(ctx context.Context) ([]*benchtypes.TestCase, error) {
	pool, err := g.loader.Load(ctx)
	if err != nil {
		return nil, err
	}
	personIDs := corpus.PersonIDs(pool)

	var cases []*benchtypes.TestCase
	// Over-size items collapse to the same case at every smaller target;
	// dedup by id so the output stays unique.
	seen := make(map[string]struct{})
	for _, contextSize := range g.contextSizes {
		for _, item := range g.evidence {
			tc := g.buildCase(ctx, item, contextSize, pool, personIDs)
			if _, dup := seen[tc.ID()]; dup {
				continue
			}
			seen[tc.ID()] = struct{}{}
			cases = append(cases, tc)
		}
	}
	logger.G(ctx).WithField("cases", len(cases)).WithField("evidence", len(g.evidence)).
		Info("standard generation complete")
	return cases, nil
}

func (g *Standard) buildCase(ctx context.Context, item benchtypes.EvidenceItem, contextSize int, pool map[string][]benchtypes.Conversation, personIDs []string) *benchtypes.TestCase {
	evidence := item.Conversations

	// Completeness over dilution: an item larger than the target is emitted
	// whole with no filler, letting the case exceed the target.
	if len(evidence) > contextSize {
		logger.G(ctx).WithField("evidence_conversations", len(evidence)).
			WithField("context_size", contextSize).
			Info("evidence exceeds context target, emitting over-size case")
		return &benchtypes.TestCase{
			EvidenceItems: []benchtypes.EvidenceItem{item},
			Conversations: append([]benchtypes.Conversation(nil), evidence...),
		}
	}

	personID := item.PersonID
	if _, ok := pool[personID]; !ok || personID == "" {
		personID = personIDs[g.rng.Intn(len(personIDs))]
	}

	needed := contextSize - len(evidence)
	filler := sampleWithoutReplacement(g.rng, pool[personID], needed)
	if len(filler) < needed {
		logger.G(ctx).WithField("person_id", personID).
			WithField("available", len(filler)).WithField("needed", needed).
			Warnf("%v, emitting short case", benchtypes.ErrInsufficientFiller)
	}

	tc := &benchtypes.TestCase{
		EvidenceItems: []benchtypes.EvidenceItem{item},
		Conversations: mixConversations(g.rng, evidence, filler),
	}
	if len(tc.Conversations) == contextSize {
		tc.ContextSize = contextSize
	}
	return tc
}
