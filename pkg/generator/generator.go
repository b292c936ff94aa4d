// Package generator builds the population of test cases an evaluation runs
// over. Variants trade construction strategy: one evidence item per case
// (standard), many per case (batched), a threshold switch between the two
// (stitching), disk-backed caching, and replay of a previous run's log.
package generator

import (
	"context"
	"math/rand"
	"sort"
	"strings"

	"github.com/jingkaihe/crmmembench/pkg/prompts"
	benchtypes "github.com/jingkaihe/crmmembench/pkg/types/bench"
)

// Generator produces the full list of test cases for a run. Generate is
// idempotent within a process and may be expensive on first call; every id in
// its output is unique.
type Generator interface {
	Generate(ctx context.Context) ([]*benchtypes.TestCase, error)
	// Type is the short label carried into every log entry, e.g. "standard".
	Type() string
	// ClassType is the descriptive name used to derive artifact directories.
	ClassType() string
	// EvidenceCount is the evidence-per-case figure used in artifact names.
	EvidenceCount() int
	// Evaluation supplies the judge rubric for answers to this generator's
	// cases.
	Evaluation() prompts.AnsweringEvaluation
}

// DeriveName turns a generator class type into the directory segment used
// for CSV and log artifacts: lower-cased, "generator" dropped, spaces to
// underscores.
func DeriveName(classType string) string {
	name := strings.ToLower(classType)
	name = strings.ReplaceAll(name, "generator", "")
	name = strings.TrimSpace(name)
	return strings.ReplaceAll(name, " ", "_")
}

// mixConversations builds a case's conversation sequence: evidence
// conversations keep their original relative order, filler fills the
// remaining positions in order. Positions are chosen by shuffling the index
// space and using the first len(evidence) indices, sorted ascending.
func mixConversations(rng *rand.Rand, evidence, filler []benchtypes.Conversation) []benchtypes.Conversation {
	total := len(evidence) + len(filler)
	indexes := rng.Perm(total)[:len(evidence)]
	sort.Ints(indexes)

	evidencePos := make(map[int]struct{}, len(indexes))
	for _, i := range indexes {
		evidencePos[i] = struct{}{}
	}

	mixed := make([]benchtypes.Conversation, 0, total)
	e, f := 0, 0
	for i := 0; i < total; i++ {
		if _, ok := evidencePos[i]; ok {
			mixed = append(mixed, evidence[e])
			e++
		} else {
			mixed = append(mixed, filler[f])
			f++
		}
	}
	return mixed
}

// sampleWithoutReplacement draws up to n conversations from the pool.
// Returns fewer when the pool is short; the caller decides whether that is a
// warning.
func sampleWithoutReplacement(rng *rand.Rand, pool []benchtypes.Conversation, n int) []benchtypes.Conversation {
	if n <= 0 || len(pool) == 0 {
		return nil
	}
	if n > len(pool) {
		n = len(pool)
	}
	picked := make([]benchtypes.Conversation, 0, n)
	for _, i := range rng.Perm(len(pool))[:n] {
		picked = append(picked, pool[i])
	}
	return picked
}
