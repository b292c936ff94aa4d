package generator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"

	"github.com/jingkaihe/crmmembench/pkg/evallog"
	"github.com/jingkaihe/crmmembench/pkg/logger"
	"github.com/jingkaihe/crmmembench/pkg/prompts"
	benchtypes "github.com/jingkaihe/crmmembench/pkg/types/bench"
)

// LogBased rehydrates test cases from a previous run's log directory for
// re-judging. Each log entry becomes one case with no conversations and the
// entry's recorded context size; the matching entry is kept in a lookup
// table so a replaying answerer can serve the original response.
type LogBased struct {
	runDir     string
	evaluation prompts.AnsweringEvaluation

	once    sync.Once
	cases   []*benchtypes.TestCase
	entries map[string]benchtypes.EvaluationLogEntry
	err     error
}

// NewLogBased creates a generator over the correct and incorrect response
// files in runDir.
func NewLogBased(runDir string, evaluation prompts.AnsweringEvaluation) *LogBased {
	return &LogBased{runDir: runDir, evaluation: evaluation}
}

// Type implements Generator.
func (g *LogBased) Type() string { return "log_based" }

// ClassType implements Generator.
func (g *LogBased) ClassType() string { return "Log Based Generator" }

// EvidenceCount implements Generator: log entries carry one evidence item
// each.
func (g *LogBased) EvidenceCount() int { return 1 }

// Evaluation implements Generator.
func (g *LogBased) Evaluation() prompts.AnsweringEvaluation { return g.evaluation }

// Generate loads both log files and builds one case per entry.
func (g *LogBased) Generate(ctx context.Context) ([]*benchtypes.TestCase, error) {
	g.once.Do(func() {
		g.cases, g.err = g.generate(ctx)
	})
	return g.cases, g.err
}

// Entry returns the log entry a test case was rehydrated from.
func (g *LogBased) Entry(testCaseID string) (benchtypes.EvaluationLogEntry, bool) {
	entry, ok := g.entries[testCaseID]
	return entry, ok
}

func (g *LogBased) generate(ctx context.Context) ([]*benchtypes.TestCase, error) {
	var entries []benchtypes.EvaluationLogEntry
	for _, name := range []string{evallog.CorrectFile, evallog.IncorrectFile} {
		path := filepath.Join(g.runDir, name)
		loaded, err := evallog.ReadEntries(path)
		if err != nil {
			if os.IsNotExist(errors.Cause(err)) {
				logger.G(ctx).WithField("path", path).Warn("log file missing, skipping")
				continue
			}
			return nil, err
		}
		entries = append(entries, loaded...)
	}

	g.entries = make(map[string]benchtypes.EvaluationLogEntry, len(entries))
	cases := make([]*benchtypes.TestCase, 0, len(entries))
	for _, entry := range entries {
		tc := &benchtypes.TestCase{
			EvidenceItems: []benchtypes.EvidenceItem{entry.ContextTestResult.EvidenceItem},
			ContextSize:   entry.ContextTestResult.ContextSize,
		}
		id := tc.ID()
		if prior, dup := g.entries[id]; dup {
			fmt.Fprintf(os.Stderr, "test case id collision %s:\n", id)
			for _, e := range []benchtypes.EvaluationLogEntry{prior, entry} {
				item := e.ContextTestResult.EvidenceItem
				fmt.Fprintf(os.Stderr, "  question=%q contextSize=%d evidenceHash=%016x\n",
					item.Question, e.ContextTestResult.ContextSize, item.Hash())
			}
			return nil, benchtypes.Fatal(errors.Wrapf(benchtypes.ErrDuplicateTestCaseID, "id %s", id))
		}
		g.entries[id] = entry
		cases = append(cases, tc)
	}

	logger.G(ctx).WithField("cases", len(cases)).WithField("run_dir", g.runDir).
		Info("rehydrated test cases from evaluation log")
	return cases, nil
}
