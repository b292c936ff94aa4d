package evaluator

import (
	"context"

	"github.com/pkg/errors"

	"github.com/jingkaihe/crmmembench/pkg/logger"
)

const (
	runShortCases   = 5
	runShortThreads = 10
)

// Evaluator is the facade a command wires up: generate the cases, then hand
// them to the multithreaded driver. RunShort truncates the run for smoke
// testing against live models.
type Evaluator struct {
	opts     Options
	runShort bool
}

// New creates an evaluator facade.
func New(opts Options, runShort bool) *Evaluator {
	return &Evaluator{opts: opts, runShort: runShort}
}

// RunEvaluation generates the test cases and processes them.
func (e *Evaluator) RunEvaluation(ctx context.Context) error {
	cases, err := e.opts.Generator.Generate(ctx)
	if err != nil {
		return errors.Wrap(err, "generating test cases")
	}

	opts := e.opts
	if e.runShort {
		if len(cases) > runShortCases {
			cases = cases[:runShortCases]
		}
		opts.TestCaseThreads = runShortThreads
		logger.G(ctx).WithField("cases", len(cases)).Info("short run: truncated test cases")
	}

	return NewMultithreaded(opts).Run(ctx, cases)
}
