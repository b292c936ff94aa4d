package generator

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/jingkaihe/crmmembench/pkg/llm"
	"github.com/jingkaihe/crmmembench/pkg/logger"
	"github.com/jingkaihe/crmmembench/pkg/prompts"
	benchtypes "github.com/jingkaihe/crmmembench/pkg/types/bench"
)

// VerifyCases checks the structural guarantees every generator promises:
// unique ids, and evidence conversations present in their original relative
// order. Cases with no conversations (log replays) skip the ordering check.
func VerifyCases(cases []*benchtypes.TestCase) error {
	seen := make(map[string]struct{}, len(cases))
	for _, tc := range cases {
		id := tc.ID()
		if _, dup := seen[id]; dup {
			return errors.Errorf("duplicate test case id %s", id)
		}
		seen[id] = struct{}{}

		if len(tc.Conversations) == 0 {
			continue
		}
		for _, item := range tc.EvidenceItems {
			if !containsInOrder(tc.Conversations, item.Conversations) {
				return errors.Errorf("test case %s is missing evidence conversations for question %q", id, item.Question)
			}
		}
	}
	return nil
}

// Verification is one pre-use check of an evidence item inside a candidate
// test case. Checks are composable; the executor drops a case when any
// check rejects any of its items.
type Verification interface {
	Name() string
	// Verify reports whether the item should be kept.
	Verify(ctx context.Context, tc *benchtypes.TestCase, item benchtypes.EvidenceItem) (bool, error)
}

// FilteringVerification asks a model two questions about an evidence item:
// is the question answerable from its evidence conversations alone, and is
// it unanswerable from the case's filler alone. Items failing either side
// are rejected, which catches both broken evidence and filler that leaks
// the answer.
type FilteringVerification struct {
	model llm.Model
}

// NewFilteringVerification creates the check against the given model,
// typically the cheap helper model.
func NewFilteringVerification(model llm.Model) *FilteringVerification {
	return &FilteringVerification{model: model}
}

// Name implements Verification.
func (v *FilteringVerification) Name() string { return "filtering" }

// Verify implements Verification.
func (v *FilteringVerification) Verify(ctx context.Context, tc *benchtypes.TestCase, item benchtypes.EvidenceItem) (bool, error) {
	answerable, err := v.ask(ctx, item.Question, item.Conversations)
	if err != nil {
		return false, err
	}
	if !answerable {
		return false, nil
	}

	filler := fillerConversations(tc, item)
	if len(filler) == 0 {
		return true, nil
	}
	leaks, err := v.ask(ctx, item.Question, filler)
	if err != nil {
		return false, err
	}
	return !leaks, nil
}

func (v *FilteringVerification) ask(ctx context.Context, question string, conversations []benchtypes.Conversation) (bool, error) {
	completion, err := v.model.Complete(ctx, prompts.AnswerabilityPrompt(question, conversations))
	if err != nil {
		return false, errors.Wrap(err, "answerability check failed")
	}
	answerable, ok := prompts.ParseAnswerability(completion.Text)
	if !ok {
		return false, errors.Errorf("unparseable answerability response %q", completion.Text)
	}
	return answerable, nil
}

func fillerConversations(tc *benchtypes.TestCase, item benchtypes.EvidenceItem) []benchtypes.Conversation {
	evidence := make(map[string]struct{}, len(item.Conversations))
	for _, c := range item.Conversations {
		evidence[c.ID] = struct{}{}
	}
	var filler []benchtypes.Conversation
	for _, c := range tc.Conversations {
		if _, ok := evidence[c.ID]; !ok {
			filler = append(filler, c)
		}
	}
	return filler
}

// VerificationExecutor runs a set of checks over freshly generated cases,
// keeping only the cases every check accepts. Check errors keep the case:
// verification is advisory and a flaky model must not shrink the corpus.
type VerificationExecutor struct {
	checks  []Verification
	threads int
}

// NewVerificationExecutor creates an executor fanning out over threads
// workers.
func NewVerificationExecutor(threads int, checks ...Verification) *VerificationExecutor {
	if threads < 1 {
		threads = 1
	}
	return &VerificationExecutor{checks: checks, threads: threads}
}

// Filter returns the cases that pass every check, in their original order.
func (e *VerificationExecutor) Filter(ctx context.Context, cases []*benchtypes.TestCase) ([]*benchtypes.TestCase, error) {
	keep := make([]bool, len(cases))
	var mu sync.Mutex
	dropped := 0

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(e.threads)
	for i, tc := range cases {
		i, tc := i, tc
		group.Go(func() error {
			ok, err := e.verifyCase(ctx, tc)
			if err != nil {
				return err
			}
			keep[i] = ok
			if !ok {
				mu.Lock()
				dropped++
				mu.Unlock()
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	if dropped > 0 {
		logger.G(ctx).WithField("dropped", dropped).WithField("total", len(cases)).
			Warn("verification rejected test cases")
	}
	kept := make([]*benchtypes.TestCase, 0, len(cases)-dropped)
	for i, tc := range cases {
		if keep[i] {
			kept = append(kept, tc)
		}
	}
	return kept, nil
}

func (e *VerificationExecutor) verifyCase(ctx context.Context, tc *benchtypes.TestCase) (bool, error) {
	for _, check := range e.checks {
		for _, item := range tc.EvidenceItems {
			ok, err := check.Verify(ctx, tc, item)
			if err != nil {
				if ctx.Err() != nil {
					return false, ctx.Err()
				}
				logger.G(ctx).WithError(err).WithField("check", check.Name()).
					WithField("test_case", tc.ID()).
					Warn("verification check failed; keeping case")
				continue
			}
			if !ok {
				logger.G(ctx).WithField("check", check.Name()).
					WithField("test_case", tc.ID()).
					WithField("question", item.Question).
					Debug("verification rejected item")
				return false, nil
			}
		}
	}
	return true, nil
}

// Verified wraps a generator and filters its output through an executor,
// so verification composes with the caching wrapper (verify first, cache
// the surviving cases).
type Verified struct {
	inner    Generator
	executor *VerificationExecutor
}

// NewVerified creates the wrapper.
func NewVerified(inner Generator, executor *VerificationExecutor) *Verified {
	return &Verified{inner: inner, executor: executor}
}

// Generate implements Generator.
func (g *Verified) Generate(ctx context.Context) ([]*benchtypes.TestCase, error) {
	cases, err := g.inner.Generate(ctx)
	if err != nil {
		return nil, err
	}
	return g.executor.Filter(ctx, cases)
}

// Type implements Generator.
func (g *Verified) Type() string { return g.inner.Type() }

// ClassType implements Generator.
func (g *Verified) ClassType() string { return g.inner.ClassType() }

// EvidenceCount implements Generator.
func (g *Verified) EvidenceCount() int { return g.inner.EvidenceCount() }

// Evaluation implements Generator.
func (g *Verified) Evaluation() prompts.AnsweringEvaluation { return g.inner.Evaluation() }

// containsInOrder reports whether haystack contains every needle
// conversation, by id, in the needles' relative order.
func containsInOrder(haystack, needles []benchtypes.Conversation) bool {
	n := 0
	for _, conv := range haystack {
		if n == len(needles) {
			return true
		}
		if conv.ID == needles[n].ID {
			n++
		}
	}
	return n == len(needles)
}
