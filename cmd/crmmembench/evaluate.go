package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jingkaihe/crmmembench/pkg/config"
	"github.com/jingkaihe/crmmembench/pkg/corpus"
	"github.com/jingkaihe/crmmembench/pkg/evaluator"
	"github.com/jingkaihe/crmmembench/pkg/generator"
	"github.com/jingkaihe/crmmembench/pkg/llm"
	"github.com/jingkaihe/crmmembench/pkg/memory"
	"github.com/jingkaihe/crmmembench/pkg/prompts"
)

var (
	evalMemorySystem string
	evalGenerator    string
	evalMainModel    string
	evalHelperModel  string
	evalJudgeModel   string
	evalRunShort     bool

	stitchThreshold        int
	maxEvidencePerBatch    int
	minTestCasesPerContext int

	casesVerify bool
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Run a benchmark evaluation",
	Long: `Generate test cases (or load them from cache), answer every question with
the configured memory system, judge the answers, and export per-context-size
statistics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(cmd, runEvaluate)
	},
}

func init() {
	flags := evaluateCmd.Flags()
	flags.StringVar(&evalMemorySystem, "memory-system", "", "Memory system to evaluate (long_context, block_based, extracted_context, mem0)")
	flags.StringVar(&evalMainModel, "main-model", "", "Main answering model (overrides config)")
	flags.StringVar(&evalHelperModel, "helper-model", "", "Helper model for extraction strategies (overrides config)")
	flags.StringVar(&evalJudgeModel, "judge-model", "", "Judge model (overrides config)")
	flags.BoolVar(&evalRunShort, "run-short", false, "Truncate to 5 test cases for a smoke run")
	addGeneratorFlags(flags)
}

// addGeneratorFlags registers the generator selection flags shared by the
// evaluate and cases commands.
func addGeneratorFlags(flags *pflag.FlagSet) {
	flags.StringVar(&evalGenerator, "generator", "standard", "Test case generator (standard, batched, stitching)")
	flags.IntVar(&stitchThreshold, "stitch-threshold", 30, "Context size at which stitching switches to batched generation")
	flags.IntVar(&maxEvidencePerBatch, "max-evidence-per-batch", 5, "Evidence items per batched test case")
	flags.IntVar(&minTestCasesPerContext, "min-test-cases-per-context", 10, "Minimum batched cases per context size")
}

func runEvaluate(ctx context.Context, cfg *config.Config) error {
	memorySystem := cfg.MemorySystem
	if evalMemorySystem != "" {
		memorySystem = evalMemorySystem
	}
	mainModelName := cfg.MainModel
	if evalMainModel != "" {
		mainModelName = evalMainModel
	}
	helperModelName := cfg.HelperModel
	if evalHelperModel != "" {
		helperModelName = evalHelperModel
	}
	judgeModelName := cfg.JudgeModel
	if evalJudgeModel != "" {
		judgeModelName = evalJudgeModel
	}

	gen, err := buildGenerator(ctx, cfg)
	if err != nil {
		return err
	}

	factory, err := memory.NewFactory(memorySystem, memory.WithMem0BaseURL(cfg.Mem0BaseURL))
	if err != nil {
		return err
	}
	if memorySystem == memory.TypeMem0 {
		if err := memory.CheckMem0Server(ctx, cfg.Mem0BaseURL); err != nil {
			return err
		}
	}

	var helperModel llm.Model
	if helperModelName != "" {
		helperModel = llm.NewModelForName(helperModelName)
	}

	opts := evaluator.Options{
		Generator:       gen,
		Factory:         factory,
		MainModel:       llm.NewModelForName(mainModelName),
		HelperModel:     helperModel,
		JudgeModel:      llm.NewModelForName(judgeModelName),
		ContextSizes:    cfg.ContextSizes,
		TestCaseThreads: cfg.EvidenceItemThreads,
		StatsInterval:   time.Duration(cfg.EvaluationStatsIntervalSeconds) * time.Second,
		LogBaseDir:      cfg.LogBaseDir,
		CSVBaseDir:      cfg.CSVBaseDir,
		Debug:           cfg.Debug,
	}
	return evaluator.New(opts, evalRunShort).RunEvaluation(ctx)
}

// buildGenerator assembles the configured generator over the evidence and
// filler corpus, wrapped with the disk cache when enabled.
func buildGenerator(ctx context.Context, cfg *config.Config) (generator.Generator, error) {
	evidence, err := corpus.LoadEvidence(ctx, cfg.EvidenceDir)
	if err != nil {
		return nil, err
	}
	loader, err := conversationLoader(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var gen generator.Generator
	switch evalGenerator {
	case "standard":
		gen = generator.NewStandard(evidence, loader, cfg.ContextSizes, prompts.FactualEvaluation{})
	case "batched":
		gen = generator.NewBatched(evidence, loader, cfg.ContextSizes,
			maxEvidencePerBatch, minTestCasesPerContext, prompts.MultiEvidenceEvaluation{})
	case "stitching":
		gen = generator.NewStitching(evidence, loader, cfg.ContextSizes,
			stitchThreshold, maxEvidencePerBatch, minTestCasesPerContext, prompts.MultiEvidenceEvaluation{})
	default:
		return nil, errors.Errorf("unknown generator %q", evalGenerator)
	}

	if casesVerify {
		verifierName := cfg.HelperModel
		if verifierName == "" {
			verifierName = memory.DefaultHelperModel
		}
		executor := generator.NewVerificationExecutor(cfg.EvidenceItemThreads,
			generator.NewFilteringVerification(llm.NewModelForName(verifierName)))
		gen = generator.NewVerified(gen, executor)
	}

	if cfg.UseCachedTestCases {
		cachePath := filepath.Join(cfg.CacheDir,
			fmt.Sprintf("%s_%d_evidence.json", gen.Type(), gen.EvidenceCount()))
		gen = generator.NewCaching(gen, cachePath, cfg.OverwriteCache)
	}
	return gen, nil
}

func conversationLoader(ctx context.Context, cfg *config.Config) (corpus.Loader, error) {
	if cfg.CorpusDB != "" {
		return corpus.OpenSQLiteStore(ctx, cfg.CorpusDB)
	}
	return corpus.NewDirLoader(cfg.ConversationsDir), nil
}
