package generator

import (
	"context"
	"sync"

	"github.com/jingkaihe/crmmembench/pkg/corpus"
	"github.com/jingkaihe/crmmembench/pkg/prompts"
	benchtypes "github.com/jingkaihe/crmmembench/pkg/types/bench"
)

// Stitching splits the context sizes at a threshold: sizes below it take the
// single-evidence path, sizes at or above it take the batched path. The
// output is the union of both.
type Stitching struct {
	standard *Standard
	batched  *Batched

	once  sync.Once
	cases []*benchtypes.TestCase
	err   error
}

// NewStitching creates a stitching generator over the given threshold.
func NewStitching(evidence []benchtypes.EvidenceItem, loader corpus.Loader, contextSizes []int, threshold, maxEvidencePerBatch, minTestCasesPerContext int, evaluation prompts.AnsweringEvaluation) *Stitching {
	var small, large []int
	for _, size := range contextSizes {
		if size < threshold {
			small = append(small, size)
		} else {
			large = append(large, size)
		}
	}
	return &Stitching{
		standard: NewStandard(evidence, loader, small, evaluation),
		batched:  NewBatched(evidence, loader, large, maxEvidencePerBatch, minTestCasesPerContext, evaluation),
	}
}

// Type implements Generator.
func (g *Stitching) Type() string { return "stitching" }

// ClassType implements Generator.
func (g *Stitching) ClassType() string { return "Stitching Generator" }

// EvidenceCount implements Generator: the batched side's cap names the
// artifact directory.
func (g *Stitching) EvidenceCount() int { return g.batched.EvidenceCount() }

// Evaluation implements Generator.
func (g *Stitching) Evaluation() prompts.AnsweringEvaluation { return g.batched.Evaluation() }

// Generate builds both halves, caching the union for repeat calls.
func (g *Stitching) Generate(ctx context.Context) ([]*benchtypes.TestCase, error) {
	g.once.Do(func() {
		small, err := g.standard.Generate(ctx)
		if err != nil {
			g.err = err
			return
		}
		large, err := g.batched.Generate(ctx)
		if err != nil {
			g.err = err
			return
		}
		g.cases = append(append([]*benchtypes.TestCase(nil), small...), large...)
	})
	return g.cases, g.err
}
