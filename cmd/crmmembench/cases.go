package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jingkaihe/crmmembench/pkg/config"
	"github.com/jingkaihe/crmmembench/pkg/presenter"
)

var casesCmd = &cobra.Command{
	Use:   "cases",
	Short: "Manage generated test cases",
}

var casesGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate test cases and write them to the cache",
	Long: `Run the configured generator ahead of time so evaluations can start from
the disk cache. The cache is always rewritten.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(cmd, runCasesGenerate)
	},
}

func init() {
	addGeneratorFlags(casesGenerateCmd.Flags())
	casesGenerateCmd.Flags().BoolVar(&casesVerify, "verify", false,
		"Filter generated cases through the answerability verification model")
	casesCmd.AddCommand(casesGenerateCmd)
}

func runCasesGenerate(ctx context.Context, cfg *config.Config) error {
	// Pre-generation always refreshes the cache.
	cfg.UseCachedTestCases = true
	cfg.OverwriteCache = true

	gen, err := buildGenerator(ctx, cfg)
	if err != nil {
		return err
	}
	cases, err := gen.Generate(ctx)
	if err != nil {
		return err
	}
	presenter.Success(fmt.Sprintf("generated %d test cases", len(cases)))
	return nil
}
