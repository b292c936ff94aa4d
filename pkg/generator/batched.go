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

// Batched packs several evidence items into each test case. Per context size
// it sweeps the evidence in shuffled order and opens a new group whenever the
// next item would push the group past maxEvidencePerBatch items or past
// contextSize evidence conversations, whichever binds first.
type Batched struct {
	evidence               []benchtypes.EvidenceItem
	loader                 corpus.Loader
	contextSizes           []int
	maxEvidencePerBatch    int
	minTestCasesPerContext int
	evaluation             prompts.AnsweringEvaluation
	rng                    *rand.Rand

	once  sync.Once
	cases []*benchtypes.TestCase
	err   error
}

// NewBatched creates a batched generator. maxEvidencePerBatch caps the
// evidence items per case; minTestCasesPerContext forces round-robin reuse of
// evidence when a context size would otherwise come up short.
func NewBatched(evidence []benchtypes.EvidenceItem, loader corpus.Loader, contextSizes []int, maxEvidencePerBatch, minTestCasesPerContext int, evaluation prompts.AnsweringEvaluation) *Batched {
	return &Batched{
		evidence:               evidence,
		loader:                 loader,
		contextSizes:           contextSizes,
		maxEvidencePerBatch:    maxEvidencePerBatch,
		minTestCasesPerContext: minTestCasesPerContext,
		evaluation:             evaluation,
		rng:                    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Type implements Generator.
func (g *Batched) Type() string { return "batched" }

// ClassType implements Generator.
func (g *Batched) ClassType() string { return "Batched Generator" }

// EvidenceCount implements Generator: the per-case evidence cap names the
// artifact directory.
func (g *Batched) EvidenceCount() int { return g.maxEvidencePerBatch }

// Evaluation implements Generator.
func (g *Batched) Evaluation() prompts.AnsweringEvaluation { return g.evaluation }

// Generate builds all cases, caching the result for repeat calls.
func (g *Batched) Generate(ctx context.Context) ([]*benchtypes.TestCase, error) {
	g.once.Do(func() {
		g.cases, g.err = g.generate(ctx)
	})
	return g.cases, g.err
}

func (g *Batched) generate(ctx context.Context) ([]*benchtypes.TestCase, error) {
	pool, err := g.loader.Load(ctx)
	if err != nil {
		return nil, err
	}
	personIDs := corpus.PersonIDs(pool)

	var cases []*benchtypes.TestCase
	seen := make(map[string]struct{})
	for _, contextSize := range g.contextSizes {
		produced := 0
		// Reuse evidence in further shuffled passes until the per-context
		// minimum is met. A pass that yields nothing new means every
		// possible grouping is exhausted, so stop rather than spin.
		for {
			added := 0
			items := append([]benchtypes.EvidenceItem(nil), g.evidence...)
			g.rng.Shuffle(len(items), func(i, j int) { items[i], items[j] = items[j], items[i] })
			for _, group := range g.groupEvidence(items, contextSize) {
				tc := g.buildCase(ctx, group, contextSize, pool, personIDs)
				if _, dup := seen[tc.ID()]; dup {
					continue
				}
				seen[tc.ID()] = struct{}{}
				cases = append(cases, tc)
				produced++
				added++
			}
			if produced >= g.minTestCasesPerContext || added == 0 {
				break
			}
		}
		if produced < g.minTestCasesPerContext {
			logger.G(ctx).WithField("context_size", contextSize).
				WithField("produced", produced).
				WithField("minimum", g.minTestCasesPerContext).
				Warn("evidence exhausted before reaching per-context minimum")
		}
	}
	logger.G(ctx).WithField("cases", len(cases)).WithField("evidence", len(g.evidence)).
		Info("batched generation complete")
	return cases, nil
}

// groupEvidence partitions items into groups in sweep order. A group is
// closed when the next item would exceed the item cap or the conversation
// budget; a single item larger than the budget gets a group of its own.
func (g *Batched) groupEvidence(items []benchtypes.EvidenceItem, contextSize int) [][]benchtypes.EvidenceItem {
	var groups [][]benchtypes.EvidenceItem
	var current []benchtypes.EvidenceItem
	conversations := 0
	for _, item := range items {
		n := len(item.Conversations)
		if len(current) > 0 && (len(current) >= g.maxEvidencePerBatch || conversations+n > contextSize) {
			groups = append(groups, current)
			current = nil
			conversations = 0
		}
		current = append(current, item)
		conversations += n
	}
	if len(current) > 0 {
		groups = append(groups, current)
	}
	return groups
}

func (g *Batched) buildCase(ctx context.Context, group []benchtypes.EvidenceItem, contextSize int, pool map[string][]benchtypes.Conversation, personIDs []string) *benchtypes.TestCase {
	var evidence []benchtypes.Conversation
	for _, item := range group {
		evidence = append(evidence, item.Conversations...)
	}

	// Completeness over dilution, same as the single-evidence path.
	if len(evidence) > contextSize {
		logger.G(ctx).WithField("evidence_conversations", len(evidence)).
			WithField("context_size", contextSize).
			Info("evidence exceeds context target, emitting over-size case")
		return &benchtypes.TestCase{
			EvidenceItems: append([]benchtypes.EvidenceItem(nil), group...),
			Conversations: evidence,
		}
	}

	// Resolve each item to a persona; items without one draw from a random
	// person so their filler share still comes from somewhere.
	weights := make(map[string]int)
	var order []string
	for _, item := range group {
		personID := item.PersonID
		if _, ok := pool[personID]; !ok || personID == "" {
			personID = personIDs[g.rng.Intn(len(personIDs))]
		}
		if _, ok := weights[personID]; !ok {
			order = append(order, personID)
		}
		weights[personID] += len(item.Conversations)
	}

	needed := contextSize - len(evidence)
	var filler []benchtypes.Conversation
	for person, count := range allocateFiller(order, weights, needed) {
		drawn := sampleWithoutReplacement(g.rng, pool[person], count)
		if len(drawn) < count {
			logger.G(ctx).WithField("person_id", person).
				WithField("available", len(drawn)).WithField("needed", count).
				Warnf("%v, emitting short case", benchtypes.ErrInsufficientFiller)
		}
		filler = append(filler, drawn...)
	}

	tc := &benchtypes.TestCase{
		EvidenceItems: append([]benchtypes.EvidenceItem(nil), group...),
		Conversations: mixConversations(g.rng, evidence, filler),
	}
	if len(tc.Conversations) == contextSize {
		tc.ContextSize = contextSize
	}
	return tc
}

// allocateFiller splits needed filler across persons proportionally to their
// evidence weight, guaranteeing every person at least one conversation while
// any filler budget remains.
func allocateFiller(order []string, weights map[string]int, needed int) map[string]int {
	alloc := make(map[string]int, len(order))
	if needed <= 0 || len(order) == 0 {
		return alloc
	}

	remaining := needed
	for _, person := range order {
		if remaining == 0 {
			return alloc
		}
		alloc[person] = 1
		remaining--
	}

	totalWeight := 0
	for _, person := range order {
		totalWeight += weights[person]
	}
	distributed := 0
	for _, person := range order {
		share := remaining * weights[person] / totalWeight
		alloc[person] += share
		distributed += share
	}
	for i := 0; distributed < remaining; i++ {
		alloc[order[i%len(order)]]++
		distributed++
	}
	return alloc
}
