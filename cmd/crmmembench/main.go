package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jingkaihe/crmmembench/pkg/config"
	"github.com/jingkaihe/crmmembench/pkg/logger"
	"github.com/jingkaihe/crmmembench/pkg/presenter"
	"github.com/jingkaihe/crmmembench/pkg/telemetry"
	"github.com/jingkaihe/crmmembench/pkg/version"
)

var (
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "crmmembench",
	Short: "Benchmark long-term memory strategies for conversational AI",
	Long: `crmmembench measures how conversational memory systems hold up as the
conversation history grows: it dilutes known facts into ever larger piles of
filler conversations, asks each memory system to answer questions about the
facts, and scores the answers with a judge model.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := logger.SetLogLevel(logLevel); err != nil {
			return err
		}
		logger.SetLogFormat(logFormat)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format (text, json)")

	rootCmd.AddCommand(evaluateCmd)
	rootCmd.AddCommand(rejudgeCmd)
	rootCmd.AddCommand(casesCmd)
	rootCmd.AddCommand(corpusCmd)
	rootCmd.AddCommand(versionCmd)
}

// withRuntime loads configuration, initializes tracing, and installs signal
// handling for graceful drain before invoking f.
func withRuntime(cmd *cobra.Command, f func(ctx context.Context, cfg *config.Config) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.InitTracer(ctx, telemetry.Config{
		Enabled:        cfg.TracingEnabled,
		ServiceName:    "crmmembench",
		ServiceVersion: version.Get().Version,
		SamplerType:    cfg.TracingSampler,
		SamplerRatio:   cfg.TracingRatio,
	})
	if err != nil {
		logger.G(ctx).WithError(err).Warn("tracing disabled: initialization failed")
	} else {
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logger.G(ctx).WithError(err).Warn("tracer shutdown failed")
			}
		}()
	}

	return f(ctx, cfg)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		presenter.Error(err, "")
		os.Exit(1)
	}
}
