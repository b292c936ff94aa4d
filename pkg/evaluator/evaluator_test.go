package evaluator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jingkaihe/crmmembench/pkg/evallog"
	"github.com/jingkaihe/crmmembench/pkg/llm"
	"github.com/jingkaihe/crmmembench/pkg/memory"
	"github.com/jingkaihe/crmmembench/pkg/presenter"
	"github.com/jingkaihe/crmmembench/pkg/prompts"
	benchtypes "github.com/jingkaihe/crmmembench/pkg/types/bench"
)

func TestMain(m *testing.M) {
	presenter.SetQuiet(true)
	os.Exit(m.Run())
}

type stubGenerator struct {
	cases []*benchtypes.TestCase
}

func (g *stubGenerator) Generate(ctx context.Context) ([]*benchtypes.TestCase, error) {
	return g.cases, nil
}
func (g *stubGenerator) Type() string      { return "standard" }
func (g *stubGenerator) ClassType() string { return "Standard Generator" }
func (g *stubGenerator) EvidenceCount() int {
	return 1
}
func (g *stubGenerator) Evaluation() prompts.AnsweringEvaluation {
	return prompts.FactualEvaluation{}
}

func conversations(prefix string, n int) []benchtypes.Conversation {
	out := make([]benchtypes.Conversation, n)
	for i := range out {
		out[i] = benchtypes.Conversation{
			ID: fmt.Sprintf("%s-%d", prefix, i),
			Messages: []benchtypes.Message{
				{Speaker: benchtypes.SpeakerUser, Text: fmt.Sprintf("%s message %d", prefix, i)},
			},
		}
	}
	return out
}

func testCase(question string, contextSize int) *benchtypes.TestCase {
	evidence := conversations("ev-"+question, 1)
	filler := conversations("fill-"+question, contextSize-1)
	return &benchtypes.TestCase{
		EvidenceItems: []benchtypes.EvidenceItem{{
			Question:      question,
			Answer:        "Miso",
			Category:      "factual",
			Conversations: evidence,
		}},
		Conversations: append(evidence, filler...),
		ContextSize:   contextSize,
	}
}

func testOptions(t *testing.T, gen *stubGenerator, main, judge *llm.StaticModel, contextSizes []int) Options {
	t.Helper()
	factory, err := memory.NewFactory(memory.TypeLongContext)
	require.NoError(t, err)
	return Options{
		Generator:       gen,
		Factory:         factory,
		MainModel:       main,
		JudgeModel:      judge,
		ContextSizes:    contextSizes,
		TestCaseThreads: 4,
		BatchCount:      2,
		StatsInterval:   time.Hour,
		LogBaseDir:      filepath.Join(t.TempDir(), "logs"),
		CSVBaseDir:      filepath.Join(t.TempDir(), "results"),
	}
}

func TestRunEndToEnd(t *testing.T) {
	cases := []*benchtypes.TestCase{
		testCase("q1", 10),
		testCase("q2", 10),
		testCase("q3", 40),
		testCase("q4", 40),
	}
	main := &llm.StaticModel{Fallback: llm.Completion{
		Text:  "Miso",
		Usage: llm.Usage{InputTokens: 100, OutputTokens: 5},
		Cost:  0.01,
	}}
	judge := &llm.StaticModel{Fn: func(prompt string) (llm.Completion, error) {
		if strings.Contains(prompt, "Model answer: Miso") {
			return llm.Completion{Text: "RIGHT"}, nil
		}
		return llm.Completion{Text: "WRONG"}, nil
	}}

	opts := testOptions(t, &stubGenerator{cases: cases}, main, judge, []int{10, 40})
	e := NewMultithreaded(opts)
	require.NoError(t, e.Run(context.Background(), cases))

	assert.Equal(t, int64(4), e.tracker.TotalProcessed())
	assert.InDelta(t, 0.04, e.tracker.TotalCost(), 1e-9)
	assert.Equal(t, 4, main.CallCount())
	assert.Equal(t, 4, judge.CallCount())

	correct, incorrect := e.log.Counts()
	assert.Equal(t, int64(4), correct)
	assert.Equal(t, int64(0), incorrect)

	// The run directory holds both finalized arrays.
	entries, err := evallog.ReadEntries(filepath.Join(e.log.RunDir(), evallog.CorrectFile))
	require.NoError(t, err)
	require.Len(t, entries, 4)
	for _, entry := range entries {
		assert.Equal(t, "long_context", entry.MemorySystem)
		assert.Equal(t, "standard", entry.TestCaseGeneratorType)
		assert.True(t, entry.ContextTestResult.IsCorrect)
		// Long context retrieves everything, so the one evidence
		// conversation is always found.
		assert.Equal(t, 1, entry.ContextTestResult.RetrievedRelevantConversations)
	}

	// Final export leaves a CSV and a history file behind.
	csvPath := filepath.Join(opts.CSVBaseDir, "standard", "long_context", "static", "1_evidence.csv")
	data, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "context_size,success_rate_percent")
	_, err = os.Stat(filepath.Join(opts.CSVBaseDir, "standard", "long_context", "static", "1_evidence.history"))
	require.NoError(t, err)
}

func TestRunStopsAtCostCap(t *testing.T) {
	var cases []*benchtypes.TestCase
	for i := 0; i < 40; i++ {
		cases = append(cases, testCase(fmt.Sprintf("q%d", i), 10))
	}
	main := &llm.StaticModel{Fallback: llm.Completion{Text: "Miso", Cost: 16}}
	judge := &llm.StaticModel{Fallback: llm.Completion{Text: "RIGHT"}}

	opts := testOptions(t, &stubGenerator{cases: cases}, main, judge, []int{10})
	e := NewMultithreaded(opts)
	require.NoError(t, e.Run(context.Background(), cases))

	// Two batches of 20; the first batch alone costs $320, so the second
	// never runs.
	assert.Equal(t, int64(20), e.tracker.TotalProcessed())
	assert.Equal(t, 20, main.CallCount())
}

func TestRunEmptyCases(t *testing.T) {
	main := &llm.StaticModel{}
	judge := &llm.StaticModel{}
	opts := testOptions(t, &stubGenerator{}, main, judge, []int{10})
	require.NoError(t, NewMultithreaded(opts).Run(context.Background(), nil))
	assert.Zero(t, main.CallCount())
}

func TestRunShortTruncates(t *testing.T) {
	var cases []*benchtypes.TestCase
	for i := 0; i < 10; i++ {
		cases = append(cases, testCase(fmt.Sprintf("q%d", i), 10))
	}
	main := &llm.StaticModel{Fallback: llm.Completion{Text: "Miso"}}
	judge := &llm.StaticModel{Fallback: llm.Completion{Text: "RIGHT"}}

	opts := testOptions(t, &stubGenerator{cases: cases}, main, judge, []int{10})
	require.NoError(t, New(opts, true).RunEvaluation(context.Background()))

	assert.Equal(t, 5, main.CallCount())
}

func TestJudgeAnswerVerdicts(t *testing.T) {
	item := benchtypes.EvidenceItem{Question: "q", Answer: "Miso"}

	tests := []struct {
		name     string
		judge    *llm.StaticModel
		expected bool
	}{
		{
			name:     "right",
			judge:    &llm.StaticModel{Fallback: llm.Completion{Text: "RIGHT"}},
			expected: true,
		},
		{
			name:     "wrong",
			judge:    &llm.StaticModel{Fallback: llm.Completion{Text: "wrong"}},
			expected: false,
		},
		{
			name:     "ambiguous counts as incorrect",
			judge:    &llm.StaticModel{Fallback: llm.Completion{Text: "right or wrong, hard to say"}},
			expected: false,
		},
		{
			name: "invalid retried until valid",
			judge: &llm.StaticModel{
				Responses: []llm.Completion{{Text: "hmm"}, {Text: "RIGHT"}},
				Fallback:  llm.Completion{Text: "RIGHT"},
			},
			expected: true,
		},
		{
			name:     "invalid exhausted counts as incorrect",
			judge:    &llm.StaticModel{Fallback: llm.Completion{Text: "no idea"}},
			expected: false,
		},
		{
			name: "judge error counts as incorrect",
			judge: &llm.StaticModel{Fn: func(string) (llm.Completion, error) {
				return llm.Completion{}, errors.New("boom")
			}},
			expected: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			opts := testOptions(t, &stubGenerator{}, &llm.StaticModel{}, tc.judge, []int{10})
			e := NewMultithreaded(opts)
			assert.Equal(t, tc.expected, e.judgeAnswer(context.Background(), item, "Miso"))
		})
	}
}
