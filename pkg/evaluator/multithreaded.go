// Package evaluator drives a benchmark run: it fans test cases out over
// worker pools, judges every answer, folds results into the stats tracker,
// and stops early when the termination oracle fires.
package evaluator

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/jingkaihe/crmmembench/pkg/batch"
	"github.com/jingkaihe/crmmembench/pkg/evallog"
	"github.com/jingkaihe/crmmembench/pkg/generator"
	"github.com/jingkaihe/crmmembench/pkg/llm"
	"github.com/jingkaihe/crmmembench/pkg/logger"
	"github.com/jingkaihe/crmmembench/pkg/memory"
	"github.com/jingkaihe/crmmembench/pkg/presenter"
	"github.com/jingkaihe/crmmembench/pkg/prompts"
	"github.com/jingkaihe/crmmembench/pkg/stats"
	"github.com/jingkaihe/crmmembench/pkg/telemetry"
	benchtypes "github.com/jingkaihe/crmmembench/pkg/types/bench"
)

const (
	defaultBatchCount      = 30
	defaultTestCaseThreads = 20
	defaultStatsInterval   = 30 * time.Second

	// Cases at or above this conversation count go to the large pool.
	largeContextThreshold = 30

	csvSnapshotInterval = 5 * time.Minute

	// Extra judge attempts when the response contains neither verdict word.
	judgeRetryBudget = 2

	contextTypeConversations = "conversation_count"
)

// Options configures a MultithreadedEvaluator.
type Options struct {
	Generator   generator.Generator
	Factory     *memory.Factory
	MainModel   llm.Model
	HelperModel llm.Model
	JudgeModel  llm.Model

	// ContextSizes are the configured dilution targets, ascending. The
	// termination oracle's healthy-decline rule needs them even when some
	// sizes have not been touched yet.
	ContextSizes []int

	TestCaseThreads int
	BatchCount      int
	StatsInterval   time.Duration

	LogBaseDir string
	CSVBaseDir string
	Debug      bool
}

// MultithreadedEvaluator processes balanced batches with two parallel worker
// pools per batch, split by context size.
type MultithreadedEvaluator struct {
	opts    Options
	tracker *stats.Tracker
	log     *evallog.Logger
}

// NewMultithreaded creates an evaluator, filling unset options with
// defaults.
func NewMultithreaded(opts Options) *MultithreadedEvaluator {
	if opts.TestCaseThreads <= 0 {
		opts.TestCaseThreads = defaultTestCaseThreads
	}
	if opts.BatchCount <= 0 {
		opts.BatchCount = defaultBatchCount
	}
	if opts.StatsInterval <= 0 {
		opts.StatsInterval = defaultStatsInterval
	}
	if opts.LogBaseDir == "" {
		opts.LogBaseDir = "logs/evaluations"
	}
	if opts.CSVBaseDir == "" {
		opts.CSVBaseDir = "results"
	}
	return &MultithreadedEvaluator{opts: opts}
}

// Run processes the test cases to completion or early termination. The
// returned error covers setup failures only; per-case failures are logged
// and absorbed.
func (e *MultithreadedEvaluator) Run(ctx context.Context, cases []*benchtypes.TestCase) error {
	return telemetry.WithSpan(ctx, "evaluation.run", func(ctx context.Context) error {
		return e.run(ctx, cases)
	}, attribute.Int("test_cases", len(cases)))
}

func (e *MultithreadedEvaluator) run(ctx context.Context, cases []*benchtypes.TestCase) error {
	log := logger.G(ctx)
	if len(cases) == 0 {
		log.Info("no test cases to evaluate")
		return nil
	}

	generatorName := generator.DeriveName(e.opts.Generator.ClassType())
	evidenceCount := e.opts.Generator.EvidenceCount()
	memorySystem := e.opts.Factory.MemoryType()

	e.log = evallog.New(e.opts.LogBaseDir)
	runID, err := e.log.InitializeRun(generatorName, memorySystem, e.opts.MainModel.Name(), evidenceCount)
	if err != nil {
		return errors.Wrap(err, "initializing evaluation log")
	}
	log.WithField("run_id", runID).WithField("memory_system", memorySystem).
		WithField("generator", generatorName).Info("evaluation run starting")
	telemetry.SetAttributes(ctx,
		attribute.String("run_id", runID),
		attribute.String("memory_system", memorySystem),
		attribute.String("generator", generatorName))

	e.tracker = stats.NewTracker(e.opts.ContextSizes)
	e.tracker.SetRunInfo(memorySystem, e.opts.Generator.Type())
	e.tracker.SetResultLogger(func(entry benchtypes.EvaluationLogEntry) {
		if err := e.log.LogResult(entry); err != nil {
			log.WithError(err).Warn("failed to persist evaluation log entry")
		}
	})

	perContext := make(map[int]int)
	totalEvidence := 0
	for _, tc := range cases {
		perContext[tc.ConversationCount()]++
		totalEvidence += len(tc.EvidenceItems)
	}
	e.tracker.SetExpectedTestCases(perContext)
	e.tracker.SetExpectedEvidence(totalEvidence)

	batches, err := batch.CreateBalancedBatches(cases, e.opts.BatchCount)
	if err != nil {
		return errors.Wrap(err, "partitioning test cases")
	}

	timers, stopTimers := context.WithCancel(ctx)
	var timerWg sync.WaitGroup
	timerWg.Add(2)
	go e.periodicReporter(timers, &timerWg)
	go e.periodicCSVExport(timers, &timerWg, generatorName, evidenceCount)

	terminationReason := ""
	for i, b := range batches {
		if len(b) == 0 {
			continue
		}
		telemetry.WithSpanFunc(ctx, "evaluation.batch", func(ctx context.Context) {
			e.runBatch(ctx, b)
		}, attribute.Int("batch_index", i), attribute.Int("batch_size", len(b)))
		if stop, reason := e.tracker.ShouldTerminateEarly(); stop {
			terminationReason = reason
			log.WithField("batch", i+1).WithField("reason", reason).
				Info("early termination triggered")
			telemetry.AddEvent(ctx, "early_termination",
				attribute.String("reason", reason),
				attribute.Int("batches_processed", i+1))
			break
		}
	}

	stopTimers()
	timerWg.Wait()

	if err := e.exportCSV(ctx, generatorName, evidenceCount, true); err != nil {
		log.WithError(err).Warn("final CSV export failed")
		telemetry.RecordError(ctx, err)
	}
	if err := e.log.FinalizeRun(ctx); err != nil {
		log.WithError(err).Warn("failed to finalize evaluation log")
	}

	presenter.Separator()
	presenter.Info(e.tracker.StatsString(e.opts.Debug))
	if terminationReason != "" {
		presenter.Warning("run stopped early: " + terminationReason)
	}
	correct, incorrect := e.log.Counts()
	presenter.Stats(&presenter.RunStats{
		CorrectCount:   correct,
		IncorrectCount: incorrect,
		TotalCost:      e.tracker.TotalCost(),
	})
	return nil
}

// runBatch splits one batch into large and small context pools and drains
// both in parallel, each pool bounded by TestCaseThreads.
func (e *MultithreadedEvaluator) runBatch(ctx context.Context, cases []*benchtypes.TestCase) {
	var large, small []*benchtypes.TestCase
	for _, tc := range cases {
		if tc.ConversationCount() >= largeContextThreshold {
			large = append(large, tc)
		} else {
			small = append(small, tc)
		}
	}

	var wg sync.WaitGroup
	for _, pool := range [][]*benchtypes.TestCase{large, small} {
		if len(pool) == 0 {
			continue
		}
		wg.Add(1)
		go func(pool []*benchtypes.TestCase) {
			defer wg.Done()
			g := new(errgroup.Group)
			g.SetLimit(e.opts.TestCaseThreads)
			for _, tc := range pool {
				tc := tc
				g.Go(func() error {
					e.processTestCase(ctx, tc)
					return nil
				})
			}
			g.Wait()
		}(pool)
	}
	wg.Wait()
}

// processTestCase runs one test case end to end. Nothing here fails the
// run: every error path logs and moves on.
func (e *MultithreadedEvaluator) processTestCase(ctx context.Context, tc *benchtypes.TestCase) {
	log := logger.G(ctx).WithField("test_case_id", tc.ID())

	answerer, err := e.opts.Factory.Create(e.opts.MainModel, e.opts.HelperModel)
	if err != nil {
		log.WithError(err).Error("failed to create memory answerer")
		return
	}
	defer func() {
		if err := answerer.Cleanup(ctx); err != nil {
			log.WithError(err).Warn("answerer cleanup failed")
		}
	}()

	if err := answerer.Initialize(ctx); err != nil {
		log.WithError(err).Error("failed to initialize memory answerer")
		return
	}
	if err := answerer.AddConversations(ctx, tc.Conversations); err != nil {
		log.WithError(err).Error("failed to ingest conversations")
		return
	}

	evidenceIDs := tc.EvidenceConversationIDs()

	for _, item := range tc.EvidenceItems {
		start := time.Now()
		var answerResult benchtypes.AnswerResult
		err := telemetry.WithSpan(ctx, "memory.answer_question", func(ctx context.Context) error {
			var err error
			answerResult, err = answerer.AnswerQuestion(ctx, item.Question, tc.ID())
			return err
		}, attribute.String("test_case_id", tc.ID()),
			attribute.Int("context_size", tc.ConversationCount()))
		elapsedMs := time.Since(start).Milliseconds()

		result := benchtypes.ContextTestResult{
			EvidenceItem: item,
			ContextType:  contextTypeConversations,
			ContextSize:  tc.ConversationCount(),
		}
		var answerPtr *benchtypes.AnswerResult
		if err != nil {
			log.WithError(err).WithField("question", item.Question).
				Warn("failed to get answer, counting as incorrect")
		} else {
			answerPtr = &answerResult
			result.ModelAnswer = answerResult.Answer
			telemetry.WithSpanFunc(ctx, "evaluation.judge", func(ctx context.Context) {
				result.IsCorrect = e.judgeAnswer(ctx, item, answerResult.Answer)
			})
			for _, id := range answerResult.RetrievedConversationIDs {
				if _, ok := evidenceIDs[id]; ok {
					result.RetrievedRelevantConversations++
				}
			}
		}
		e.tracker.RecordEvidenceResult(tc, result, elapsedMs, answerPtr)
	}
	e.tracker.MarkTestCaseCompleted(tc)
}

// judgeAnswer scores one answer with the judge model. Ambiguous verdicts
// count as incorrect after a warning; invalid verdicts get a bounded retry.
func (e *MultithreadedEvaluator) judgeAnswer(ctx context.Context, item benchtypes.EvidenceItem, answer string) bool {
	log := logger.G(ctx).WithField("question", item.Question)
	prompt := e.opts.Generator.Evaluation().JudgePrompt(item.Question, item.Answer, answer, item.MessageEvidences)

	for attempt := 0; attempt <= judgeRetryBudget; attempt++ {
		completion, err := e.opts.JudgeModel.Complete(ctx, prompt)
		if err != nil {
			log.WithError(err).Warn("judge call failed, counting as incorrect")
			return false
		}
		switch prompts.ParseJudgeVerdict(completion.Text) {
		case prompts.VerdictRight:
			return true
		case prompts.VerdictWrong:
			return false
		case prompts.VerdictAmbiguous:
			log.WithField("response", completion.Text).
				Warn("judge response contains both verdicts, counting as incorrect")
			return false
		case prompts.VerdictInvalid:
			log.WithField("response", completion.Text).WithField("attempt", attempt+1).
				Warn("judge response contains no verdict, retrying")
		}
	}
	log.Warn("judge retries exhausted, counting as incorrect")
	return false
}

func (e *MultithreadedEvaluator) periodicReporter(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	ticker := time.NewTicker(e.opts.StatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			presenter.Info(e.tracker.StatsString(e.opts.Debug))
			if err := e.log.Flush(); err != nil {
				logger.G(ctx).WithError(err).Warn("log flush failed")
			}
		}
	}
}

func (e *MultithreadedEvaluator) periodicCSVExport(ctx context.Context, wg *sync.WaitGroup, generatorName string, evidenceCount int) {
	defer wg.Done()
	ticker := time.NewTicker(csvSnapshotInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.exportCSV(ctx, generatorName, evidenceCount, false); err != nil {
				logger.G(ctx).WithError(err).Warn("CSV snapshot failed")
			}
		}
	}
}

func (e *MultithreadedEvaluator) exportCSV(ctx context.Context, generatorName string, evidenceCount int, final bool) error {
	opts := stats.ExportOptions{
		BaseDir:       e.opts.CSVBaseDir,
		Generator:     generatorName,
		MemorySystem:  e.opts.Factory.MemoryType(),
		MainModel:     e.opts.MainModel.Name(),
		EvidenceCount: evidenceCount,
		Final:         final,
	}
	if e.opts.HelperModel != nil {
		opts.HelperModel = e.opts.HelperModel.Name()
	}
	return e.tracker.ExportCSV(ctx, opts)
}
