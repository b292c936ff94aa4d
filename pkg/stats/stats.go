// Package stats aggregates evaluation results per context size: success
// rates, latency percentiles, token and cost accounting, processing rates,
// and the early-termination oracle that decides when a run has said all it is
// going to say.
package stats

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	benchtypes "github.com/jingkaihe/crmmembench/pkg/types/bench"
)

// ContextStats holds the aggregates for one context size. All mutation goes
// through the stats's own mutex; snapshots are taken under it too.
type ContextStats struct {
	mu sync.Mutex

	Correct            int
	TotalProcessed     int
	CompletedTestCases int
	TotalTestCases     int

	responseTimesMs []int64
	inputTokens     []int
	outputTokens    []int
	cachedTokens    []int
	costs           []float64
}

// ContextSnapshot is an immutable copy of one context size's aggregates.
type ContextSnapshot struct {
	ContextSize        int
	Correct            int
	TotalProcessed     int
	CompletedTestCases int
	TotalTestCases     int
	SuccessRate        float64 // percent, 0 when nothing processed
	AvgResponseMs      float64
	AvgInputTokens     float64
	AvgOutputTokens    float64
	AvgCachedTokens    float64
	AvgCost            float64
	TotalCost          float64
	P50Ms              int64
	P90Ms              int64
	P99Ms              int64
	CacheRatio         float64 // percent, clamped to [0, 100]
}

// ResultLogger receives every recorded evidence result, typically the
// evaluation logger.
type ResultLogger func(entry benchtypes.EvaluationLogEntry)

// Tracker aggregates results across all context sizes for one run.
type Tracker struct {
	mu              sync.Mutex
	contextSizes    []int
	configuredSizes []int
	stats           map[int]*ContextStats

	expectedEvidence atomic.Int64

	totalProcessed atomic.Int64
	totalCorrect   atomic.Int64

	startTime   time.Time
	recentMu    sync.Mutex
	recentTimes []time.Time

	resultLogger ResultLogger

	memorySystem  string
	generatorType string
}

// NewTracker creates a tracker preconfigured with the run's context sizes,
// given ascending.
func NewTracker(contextSizes []int) *Tracker {
	t := &Tracker{
		contextSizes:    append([]int(nil), contextSizes...),
		configuredSizes: append([]int(nil), contextSizes...),
		stats:           make(map[int]*ContextStats),
		startTime:       time.Now(),
	}
	sort.Ints(t.contextSizes)
	sort.Ints(t.configuredSizes)
	for _, size := range t.contextSizes {
		t.stats[size] = &ContextStats{}
	}
	return t
}

// SetResultLogger wires a logger invoked for every recorded result, outside
// any stats lock.
func (t *Tracker) SetResultLogger(logger ResultLogger) {
	t.resultLogger = logger
}

// SetRunInfo records the labels carried into every log entry.
func (t *Tracker) SetRunInfo(memorySystem, generatorType string) {
	t.memorySystem = memorySystem
	t.generatorType = generatorType
}

// SetExpectedTestCases declares how many test cases each context size will
// see, for progress reporting.
func (t *Tracker) SetExpectedTestCases(perContext map[int]int) {
	for size, count := range perContext {
		s := t.contextStats(size)
		s.mu.Lock()
		s.TotalTestCases = count
		s.mu.Unlock()
	}
}

// SetExpectedEvidence declares the run-wide number of evidence items, used
// for cost projection and time-to-completion estimates.
func (t *Tracker) SetExpectedEvidence(total int) {
	t.expectedEvidence.Store(int64(total))
}

// contextStats returns the stats bucket for a size, creating one for
// over-size cases that exceeded every configured target.
func (t *Tracker) contextStats(size int) *ContextStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.stats[size]
	if !ok {
		s = &ContextStats{}
		t.stats[size] = s
		t.contextSizes = append(t.contextSizes, size)
		sort.Ints(t.contextSizes)
	}
	return s
}

// RecordEvidenceResult folds one judged answer into the aggregates. Counter
// updates happen under the context's lock; the global counter and the result
// logger run outside it.
func (t *Tracker) RecordEvidenceResult(testCase *benchtypes.TestCase, result benchtypes.ContextTestResult, responseTimeMs int64, answerResult *benchtypes.AnswerResult) {
	s := t.contextStats(testCase.ConversationCount())

	s.mu.Lock()
	s.TotalProcessed++
	if result.IsCorrect {
		s.Correct++
	}
	s.responseTimesMs = append(s.responseTimesMs, responseTimeMs)
	if answerResult != nil {
		s.inputTokens = append(s.inputTokens, answerResult.InputTokens)
		s.outputTokens = append(s.outputTokens, answerResult.OutputTokens)
		s.cachedTokens = append(s.cachedTokens, answerResult.CachedInputTokens)
		s.costs = append(s.costs, answerResult.Cost)
	}
	s.mu.Unlock()

	t.totalProcessed.Add(1)
	if result.IsCorrect {
		t.totalCorrect.Add(1)
	}
	t.recentMu.Lock()
	t.recentTimes = append(t.recentTimes, time.Now())
	t.recentMu.Unlock()

	if t.resultLogger != nil {
		var ar benchtypes.AnswerResult
		if answerResult != nil {
			ar = *answerResult
		}
		t.resultLogger(benchtypes.EvaluationLogEntry{
			ContextTestResult:     result,
			AnswerResult:          ar,
			EvidenceType:          result.EvidenceItem.Category,
			MemorySystem:          t.memorySystem,
			TestCaseGeneratorType: t.generatorType,
			ResponseTimeMs:        responseTimeMs,
		})
	}
}

// MarkTestCaseCompleted records that all of a test case's evidence items have
// been processed.
func (t *Tracker) MarkTestCaseCompleted(testCase *benchtypes.TestCase) {
	s := t.contextStats(testCase.ConversationCount())
	s.mu.Lock()
	s.CompletedTestCases++
	s.mu.Unlock()
}

// TotalProcessed returns the run-wide number of judged evidence items.
func (t *Tracker) TotalProcessed() int64 {
	return t.totalProcessed.Load()
}

// TotalCost returns the run-wide accumulated cost.
func (t *Tracker) TotalCost() float64 {
	total := 0.0
	for _, snap := range t.Snapshot() {
		total += snap.TotalCost
	}
	return total
}

// ContextSizes returns the configured sizes plus any over-size buckets, in
// ascending order.
func (t *Tracker) ContextSizes() []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]int(nil), t.contextSizes...)
}

// Snapshot copies every context's aggregates, ordered by context size
// ascending. Each context is locked only while its own copy is taken.
func (t *Tracker) Snapshot() []ContextSnapshot {
	sizes := t.ContextSizes()
	snaps := make([]ContextSnapshot, 0, len(sizes))
	for _, size := range sizes {
		t.mu.Lock()
		s := t.stats[size]
		t.mu.Unlock()
		snaps = append(snaps, s.snapshot(size))
	}
	return snaps
}

func (s *ContextStats) snapshot(size int) ContextSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := ContextSnapshot{
		ContextSize:        size,
		Correct:            s.Correct,
		TotalProcessed:     s.TotalProcessed,
		CompletedTestCases: s.CompletedTestCases,
		TotalTestCases:     s.TotalTestCases,
	}
	if s.TotalProcessed > 0 {
		snap.SuccessRate = 100 * float64(s.Correct) / float64(s.TotalProcessed)
	}
	snap.AvgResponseMs = meanInt64(s.responseTimesMs)
	snap.AvgInputTokens = meanInt(s.inputTokens)
	snap.AvgOutputTokens = meanInt(s.outputTokens)
	snap.AvgCachedTokens = meanInt(s.cachedTokens)
	snap.AvgCost = mean(s.costs)
	for _, c := range s.costs {
		snap.TotalCost += c
	}
	snap.P50Ms = percentileNearestRank(s.responseTimesMs, 50)
	snap.P90Ms = percentileNearestRank(s.responseTimesMs, 90)
	snap.P99Ms = percentileNearestRank(s.responseTimesMs, 99)
	snap.CacheRatio = cacheRatio(s.inputTokens, s.cachedTokens)
	return snap
}

// percentileNearestRank computes the nearest-rank percentile over a freshly
// sorted copy of the samples.
func percentileNearestRank(samples []int64, p float64) int64 {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]int64(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}

// cacheRatio guards against provider APIs that occasionally report more
// cached tokens than prompt tokens: the ratio never exceeds 100%.
func cacheRatio(inputTokens, cachedTokens []int) float64 {
	totalInput, totalCached := 0, 0
	for _, v := range inputTokens {
		totalInput += v
	}
	for _, v := range cachedTokens {
		totalCached += v
	}
	if totalCached == 0 {
		return 0
	}
	denominator := totalInput
	if totalCached > denominator {
		denominator = totalCached
	}
	return math.Min(100*float64(totalCached)/float64(denominator), 100)
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	total := 0.0
	for _, v := range values {
		total += v
	}
	return total / float64(len(values))
}

func meanInt(values []int) float64 {
	if len(values) == 0 {
		return 0
	}
	total := 0
	for _, v := range values {
		total += v
	}
	return float64(total) / float64(len(values))
}

func meanInt64(values []int64) float64 {
	if len(values) == 0 {
		return 0
	}
	var total int64
	for _, v := range values {
		total += v
	}
	return float64(total) / float64(len(values))
}

// RatePerMinute returns the processing rates: items in the trailing minute,
// and the average per minute since the run started.
func (t *Tracker) RatePerMinute() (lastMinute float64, average float64) {
	now := time.Now()
	t.recentMu.Lock()
	cutoff := now.Add(-time.Minute)
	// Prune the window while we hold the lock.
	firstRecent := 0
	for firstRecent < len(t.recentTimes) && t.recentTimes[firstRecent].Before(cutoff) {
		firstRecent++
	}
	t.recentTimes = t.recentTimes[firstRecent:]
	lastMinute = float64(len(t.recentTimes))
	t.recentMu.Unlock()

	elapsed := now.Sub(t.startTime).Minutes()
	if elapsed > 0 {
		average = float64(t.totalProcessed.Load()) / elapsed
	}
	return lastMinute, average
}
