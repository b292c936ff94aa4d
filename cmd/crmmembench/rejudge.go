package main

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jingkaihe/crmmembench/pkg/config"
	"github.com/jingkaihe/crmmembench/pkg/evaluator"
	"github.com/jingkaihe/crmmembench/pkg/generator"
	"github.com/jingkaihe/crmmembench/pkg/llm"
	"github.com/jingkaihe/crmmembench/pkg/memory"
	"github.com/jingkaihe/crmmembench/pkg/prompts"
)

var (
	rejudgeRunDir     string
	rejudgeEvaluation string
	rejudgeJudgeModel string
)

var rejudgeCmd = &cobra.Command{
	Use:   "rejudge",
	Short: "Re-judge a previous run's recorded answers",
	Long: `Rehydrate the test cases of a finished (or interrupted) run from its log
directory and score the recorded answers again, without spending answering
model calls. Useful after changing the judge rubric or model.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(cmd, runRejudge)
	},
}

func init() {
	flags := rejudgeCmd.Flags()
	flags.StringVar(&rejudgeRunDir, "run-dir", "", "Run directory holding correct/incorrect response logs (required)")
	flags.StringVar(&rejudgeEvaluation, "evaluation", "factual", "Judge rubric (factual, multi_evidence)")
	flags.StringVar(&rejudgeJudgeModel, "judge-model", "", "Judge model (overrides config)")
	rejudgeCmd.MarkFlagRequired("run-dir")
}

func runRejudge(ctx context.Context, cfg *config.Config) error {
	var evaluation prompts.AnsweringEvaluation
	switch rejudgeEvaluation {
	case "factual":
		evaluation = prompts.FactualEvaluation{}
	case "multi_evidence":
		evaluation = prompts.MultiEvidenceEvaluation{}
	default:
		return errors.Errorf("unknown evaluation %q", rejudgeEvaluation)
	}

	gen := generator.NewLogBased(rejudgeRunDir, evaluation)
	factory, err := memory.NewFactory(memory.TypeCachedLog, memory.WithEntrySource(gen))
	if err != nil {
		return err
	}

	judgeModelName := cfg.JudgeModel
	if rejudgeJudgeModel != "" {
		judgeModelName = rejudgeJudgeModel
	}

	opts := evaluator.Options{
		Generator:       gen,
		Factory:         factory,
		MainModel:       llm.NewModelForName(cfg.MainModel),
		JudgeModel:      llm.NewModelForName(judgeModelName),
		ContextSizes:    cfg.ContextSizes,
		TestCaseThreads: cfg.EvidenceItemThreads,
		StatsInterval:   time.Duration(cfg.EvaluationStatsIntervalSeconds) * time.Second,
		LogBaseDir:      cfg.LogBaseDir,
		CSVBaseDir:      cfg.CSVBaseDir,
		Debug:           cfg.Debug,
	}
	return evaluator.New(opts, false).RunEvaluation(ctx)
}
