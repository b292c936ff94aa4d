package stats

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	benchtypes "github.com/jingkaihe/crmmembench/pkg/types/bench"
)

func testCase(contextSize int) *benchtypes.TestCase {
	return &benchtypes.TestCase{
		EvidenceItems: []benchtypes.EvidenceItem{
			{Question: fmt.Sprintf("q-%d", contextSize), Answer: "a", Category: "factual"},
		},
		ContextSize: contextSize,
	}
}

func record(t *Tracker, contextSize int, correct bool, responseMs int64, cost float64) {
	t.RecordEvidenceResult(testCase(contextSize), benchtypes.ContextTestResult{
		EvidenceItem: benchtypes.EvidenceItem{Question: "q", Category: "factual"},
		ContextSize:  contextSize,
		IsCorrect:    correct,
	}, responseMs, &benchtypes.AnswerResult{Cost: cost, InputTokens: 100, OutputTokens: 10})
}

func TestPercentilesNearestRank(t *testing.T) {
	tracker := NewTracker([]int{10})
	for i := 0; i < 1000; i++ {
		record(tracker, 10, true, int64(100+i), 0)
	}

	snap := tracker.Snapshot()[0]
	assert.Equal(t, int64(599), snap.P50Ms)
	assert.Equal(t, int64(999), snap.P90Ms)
	assert.Equal(t, int64(1089), snap.P99Ms)
}

func TestTotalsAddUpAcrossContexts(t *testing.T) {
	tracker := NewTracker([]int{2, 10, 50})
	var wg sync.WaitGroup
	for _, size := range []int{2, 10, 50} {
		for i := 0; i < 40; i++ {
			wg.Add(1)
			go func(size, i int) {
				defer wg.Done()
				record(tracker, size, i%2 == 0, 100, 0.01)
			}(size, i)
		}
	}
	wg.Wait()

	sum := 0
	for _, snap := range tracker.Snapshot() {
		sum += snap.TotalProcessed
	}
	assert.Equal(t, int64(sum), tracker.TotalProcessed())
	assert.Equal(t, int64(120), tracker.TotalProcessed())
}

func TestSuccessRateAndCost(t *testing.T) {
	tracker := NewTracker([]int{10})
	record(tracker, 10, true, 100, 0.02)
	record(tracker, 10, true, 100, 0.02)
	record(tracker, 10, false, 100, 0.02)

	snap := tracker.Snapshot()[0]
	assert.Equal(t, "66.7", formatPercent(snap.SuccessRate))
	assert.InDelta(t, 0.06, snap.TotalCost, 1e-9)
	assert.InDelta(t, 0.06, tracker.TotalCost(), 1e-9)
}

func TestCacheRatioClamped(t *testing.T) {
	tracker := NewTracker([]int{10})
	// A provider occasionally reports more cached tokens than prompt tokens.
	tracker.RecordEvidenceResult(testCase(10), benchtypes.ContextTestResult{IsCorrect: true}, 100,
		&benchtypes.AnswerResult{InputTokens: 100, CachedInputTokens: 250})

	snap := tracker.Snapshot()[0]
	assert.LessOrEqual(t, snap.CacheRatio, 100.0)
	assert.Equal(t, 100.0, snap.CacheRatio)
}

func TestOverSizeContextGetsOwnBucket(t *testing.T) {
	tracker := NewTracker([]int{10})
	record(tracker, 17, true, 100, 0)

	sizes := tracker.ContextSizes()
	assert.Equal(t, []int{10, 17}, sizes)
}

func TestCostCapTermination(t *testing.T) {
	tracker := NewTracker([]int{10})
	for i := 0; i < 20; i++ {
		record(tracker, 10, true, 100, 16)
	}
	assert.InDelta(t, 320, tracker.TotalCost(), 1e-9)

	stop, reason := tracker.ShouldTerminateEarly()
	assert.True(t, stop)
	assert.Equal(t, "cost cap", reason)
}

func TestTerminationFloorsNotCrossed(t *testing.T) {
	tracker := NewTracker([]int{10})
	// $50 spend: under the wobble and dilution floors, and the healthy rule
	// needs 50 correct answers per size.
	record(tracker, 10, true, 100, 50)

	stop, _ := tracker.ShouldTerminateEarly()
	assert.False(t, stop)
}

func TestHealthyMonotoneDecline(t *testing.T) {
	tracker := NewTracker([]int{2, 10})
	// 60 correct of 70 at size 2, 55 of 90 at size 10; cost well over $20
	// but under the wobble floor.
	for i := 0; i < 70; i++ {
		record(tracker, 2, i < 60, 100, 0.2)
	}
	for i := 0; i < 90; i++ {
		record(tracker, 10, i < 55, 100, 0.2)
	}

	stop, reason := tracker.ShouldTerminateEarly()
	require.True(t, stop)
	assert.Equal(t, "healthy monotone decline", reason)
}

func TestHealthyRuleNeedsEveryContextSampled(t *testing.T) {
	tracker := NewTracker([]int{2, 10, 50})
	for i := 0; i < 70; i++ {
		record(tracker, 2, i < 60, 100, 0.2)
	}
	for i := 0; i < 90; i++ {
		record(tracker, 10, i < 55, 100, 0.2)
	}
	// Size 50 never sampled: healthy rule must not fire, and total cost $32
	// is below every other floor.
	stop, _ := tracker.ShouldTerminateEarly()
	assert.False(t, stop)
}

func TestWobbleTermination(t *testing.T) {
	tracker := NewTracker([]int{2, 10, 50})
	// Rates 80%, 90%, 70%: one violation. Cost over $100.
	for i := 0; i < 10; i++ {
		record(tracker, 2, i < 8, 100, 4)
		record(tracker, 10, i < 9, 100, 4)
		record(tracker, 50, i < 7, 100, 4)
	}

	stop, reason := tracker.ShouldTerminateEarly()
	require.True(t, stop)
	assert.Equal(t, "monotone decline with at most one wobble", reason)
}

func TestWobbleNotTriggeredByTwoViolations(t *testing.T) {
	tracker := NewTracker([]int{2, 10, 50, 150})
	// Rates 50%, 90%, 50%, 90%: two violations. Cost between $100 and $150.
	for i := 0; i < 10; i++ {
		record(tracker, 2, i < 5, 100, 3)
		record(tracker, 10, i < 9, 100, 3)
		record(tracker, 50, i < 5, 100, 3)
		record(tracker, 150, i < 9, 100, 3)
	}

	stop, _ := tracker.ShouldTerminateEarly()
	assert.False(t, stop)
}

func TestDilutionHarmTermination(t *testing.T) {
	tracker := NewTracker([]int{2, 10, 50, 150})
	// Rates 80%, 90%, 40%, 50%: two violations keeps the wobble rule out;
	// first-half mean 85% vs second-half 45% is a clear dilution signal.
	// Cost over $150.
	for i := 0; i < 10; i++ {
		record(tracker, 2, i < 8, 100, 4)
		record(tracker, 10, i < 9, 100, 4)
		record(tracker, 50, i < 4, 100, 4)
		record(tracker, 150, i < 5, 100, 4)
	}

	stop, reason := tracker.ShouldTerminateEarly()
	require.True(t, stop)
	assert.Equal(t, "clear dilution harm signal", reason)
}

func TestMarkTestCaseCompleted(t *testing.T) {
	tracker := NewTracker([]int{10})
	tracker.SetExpectedTestCases(map[int]int{10: 3})
	tracker.MarkTestCaseCompleted(testCase(10))
	tracker.MarkTestCaseCompleted(testCase(10))

	snap := tracker.Snapshot()[0]
	assert.Equal(t, 2, snap.CompletedTestCases)
	assert.Equal(t, 3, snap.TotalTestCases)
}

func TestResultLoggerInvoked(t *testing.T) {
	tracker := NewTracker([]int{10})
	tracker.SetRunInfo("long_context", "standard")

	var entries []benchtypes.EvaluationLogEntry
	tracker.SetResultLogger(func(entry benchtypes.EvaluationLogEntry) {
		entries = append(entries, entry)
	})

	record(tracker, 10, true, 250, 0.01)
	require.Len(t, entries, 1)
	assert.Equal(t, "long_context", entries[0].MemorySystem)
	assert.Equal(t, "standard", entries[0].TestCaseGeneratorType)
	assert.Equal(t, int64(250), entries[0].ResponseTimeMs)
}

func TestStatsStringRenders(t *testing.T) {
	tracker := NewTracker([]int{10, 50})
	tracker.SetExpectedEvidence(100)
	tracker.SetExpectedTestCases(map[int]int{10: 5, 50: 5})
	record(tracker, 10, true, 120, 0.01)
	record(tracker, 50, false, 900, 0.02)

	out := tracker.StatsString(false)
	assert.Contains(t, out, "=== Evaluation Progress ===")
	assert.Contains(t, out, "context    10")
	assert.Contains(t, out, "context    50")
	assert.Contains(t, out, "progress: 0/10 test cases, 2/100 evidence items")
	assert.Contains(t, out, "cost: $0.0300 spent")

	debugOut := tracker.StatsString(true)
	assert.Contains(t, debugOut, "cached")
}
