package stats

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/jingkaihe/crmmembench/pkg/logger"
)

// csvHeader is the stable column contract of the per-run CSV artifact.
const csvHeader = "context_size,success_rate_percent,correct_answers,total_processed," +
	"test_cases_completed,total_test_cases,avg_response_time_ms,avg_input_tokens," +
	"avg_output_tokens,avg_cost,p50_ms,p90_ms,p99_ms,avg_cached_tokens,cache_ratio_percent"

var unsafePathChars = regexp.MustCompile(`[^A-Za-z0-9_]`)

// SanitizeName makes a model or system name filesystem-safe.
func SanitizeName(name string) string {
	return unsafePathChars.ReplaceAllString(name, "_")
}

// ExportOptions locates the CSV artifact for one (generator, memory system,
// model, evidence count) combination.
type ExportOptions struct {
	BaseDir       string
	Generator     string
	MemorySystem  string
	MainModel     string
	HelperModel   string // empty when the memory system has none
	EvidenceCount int
	Final         bool
}

// CSVPath returns the overwrite target for the aggregate CSV.
func (o ExportOptions) CSVPath() string {
	dir := filepath.Join(o.BaseDir, o.Generator, o.MemorySystem, SanitizeName(o.MainModel))
	if o.HelperModel != "" {
		dir = filepath.Join(dir, "helper_model_"+SanitizeName(o.HelperModel))
	}
	return filepath.Join(dir, fmt.Sprintf("%d_evidence.csv", o.EvidenceCount))
}

// HistoryPath returns the sibling append-only history file.
func (o ExportOptions) HistoryPath() string {
	return strings.TrimSuffix(o.CSVPath(), ".csv") + ".history"
}

// ExportCSV writes the per-context aggregate rows, overwriting the CSV every
// time. A final export additionally appends the same rows to the history
// file, preceded by a timestamp and a VCS checkpoint line. Export failures
// are warnings, never fatal, and a failed write leaves prior data intact.
func (t *Tracker) ExportCSV(ctx context.Context, opts ExportOptions) error {
	rows := t.csvRows()

	path := opts.CSVPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "failed to create export directory for %s", path)
	}

	// Write to a temp file and rename so an interrupted export never
	// corrupts the previous snapshot.
	content := csvHeader + "\n" + strings.Join(rows, "\n") + "\n"
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, []byte(content), 0o644); err != nil {
		return errors.Wrapf(err, "failed to write CSV %s", path)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return errors.Wrapf(err, "failed to replace CSV %s", path)
	}

	if !opts.Final {
		return nil
	}

	history, err := os.OpenFile(opts.HistoryPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrapf(err, "failed to open history %s", opts.HistoryPath())
	}
	defer history.Close()

	var b strings.Builder
	fmt.Fprintf(&b, "\n=== Run at %s ===\n", time.Now().Format("2006-01-02T15:04:05"))
	fmt.Fprintf(&b, "Git checkpoint: %s\n\n", gitCheckpoint(ctx))
	b.WriteString(csvHeader + "\n")
	b.WriteString(strings.Join(rows, "\n") + "\n\n")
	if _, err := history.WriteString(b.String()); err != nil {
		return errors.Wrapf(err, "failed to append history %s", opts.HistoryPath())
	}
	logger.G(ctx).WithField("path", path).Info("final CSV export written")
	return nil
}

func (t *Tracker) csvRows() []string {
	snaps := t.Snapshot()
	rows := make([]string, 0, len(snaps))
	for _, s := range snaps {
		rows = append(rows, strings.Join([]string{
			fmt.Sprintf("%d", s.ContextSize),
			formatPercent(s.SuccessRate),
			fmt.Sprintf("%d", s.Correct),
			fmt.Sprintf("%d", s.TotalProcessed),
			fmt.Sprintf("%d", s.CompletedTestCases),
			fmt.Sprintf("%d", s.TotalTestCases),
			formatRoundedInt(s.AvgResponseMs),
			formatRoundedInt(s.AvgInputTokens),
			formatRoundedInt(s.AvgOutputTokens),
			formatCost(s.AvgCost),
			fmt.Sprintf("%d", s.P50Ms),
			fmt.Sprintf("%d", s.P90Ms),
			fmt.Sprintf("%d", s.P99Ms),
			formatRoundedInt(s.AvgCachedTokens),
			formatPercent(s.CacheRatio),
		}, ","))
	}
	return rows
}

// gitCheckpoint identifies the code state of the run for the history file.
func gitCheckpoint(ctx context.Context) string {
	out, err := exec.CommandContext(ctx, "git", "rev-parse", "HEAD").Output()
	if err != nil {
		return "unknown"
	}
	return strings.TrimSpace(string(out))
}
