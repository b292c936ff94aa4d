package stats

import (
	"fmt"
	"strings"
	"time"
)

// Formatting helpers shared by the stdout block and the CSV exporter so the
// two never drift.

func formatPercent(v float64) string {
	return fmt.Sprintf("%.1f", v)
}

func formatCost(v float64) string {
	return fmt.Sprintf("%.4f", v)
}

func formatRoundedInt(v float64) string {
	return fmt.Sprintf("%d", int64(v+0.5))
}

// StatsString renders the progress block printed by the periodic reporter and
// at the end of the run. When debug is set, each context line additionally
// shows cache token detail.
func (t *Tracker) StatsString(debug bool) string {
	var b strings.Builder
	b.WriteString("=== Evaluation Progress ===\n")

	snaps := t.Snapshot()
	totalCases, completedCases := 0, 0
	totalCost := 0.0
	for _, s := range snaps {
		totalCases += s.TotalTestCases
		completedCases += s.CompletedTestCases
		totalCost += s.TotalCost

		fmt.Fprintf(&b, "context %5d | success %5s%% (%d/%d) | cases %d/%d | avg %sms | P50 %dms P90 %dms P99 %dms | cost $%s",
			s.ContextSize,
			formatPercent(s.SuccessRate), s.Correct, s.TotalProcessed,
			s.CompletedTestCases, s.TotalTestCases,
			formatRoundedInt(s.AvgResponseMs),
			s.P50Ms, s.P90Ms, s.P99Ms,
			formatCost(s.TotalCost))
		if debug {
			fmt.Fprintf(&b, " | in %s out %s cached %s (%s%%)",
				formatRoundedInt(s.AvgInputTokens),
				formatRoundedInt(s.AvgOutputTokens),
				formatRoundedInt(s.AvgCachedTokens),
				formatPercent(s.CacheRatio))
		}
		b.WriteString("\n")
	}

	processed := t.totalProcessed.Load()
	expected := t.expectedEvidence.Load()
	fmt.Fprintf(&b, "progress: %d/%d test cases, %d/%d evidence items\n",
		completedCases, totalCases, processed, expected)

	lastMinute, average := t.RatePerMinute()
	fmt.Fprintf(&b, "rate: %.1f/min last minute, %.1f/min average\n", lastMinute, average)

	projected := 0.0
	if processed > 0 && expected > 0 {
		projected = totalCost / float64(processed) * float64(expected)
	}
	hourly := 0.0
	if elapsed := time.Since(t.startTime).Hours(); elapsed > 0 {
		hourly = totalCost / elapsed
	}
	fmt.Fprintf(&b, "cost: $%s spent, $%s projected, $%s/hr\n",
		formatCost(totalCost), formatCost(projected), formatCost(hourly))

	if remaining := expected - processed; remaining > 0 && average > 0 {
		eta := time.Duration(float64(remaining)/average*60) * time.Second
		fmt.Fprintf(&b, "eta: %s\n", eta.Round(time.Second))
	}
	return b.String()
}
