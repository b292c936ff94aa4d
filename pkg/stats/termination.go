package stats

// Early-termination thresholds. Boundary equality never triggers the strict
// rules: a run at exactly $300 keeps going.
const (
	hardCostCap         = 300.0
	healthyCostFloor    = 20.0
	wobbleCostFloor     = 100.0
	dilutionCostFloor   = 150.0
	healthyMinCorrect   = 50
	healthyMinRate      = 40.0
	dilutionGapPoints   = 5.0
	maxWobbleViolations = 1
)

// ShouldTerminateEarly decides, between batches, whether the run has already
// produced a stable answer and further spend would be waste. Returns the
// printed reason when it fires.
//
// Rules, checked in order:
//   - hard cap: total cost over $300;
//   - healthy monotone decline: enough spend, every configured size well
//     sampled and above 40%, rates non-increasing with size;
//   - one wobble: over $100 spent and at most one monotonicity violation;
//   - dilution harm: over $150 spent and the small-context half outperforms
//     the large-context half by 5+ percentage points.
func (t *Tracker) ShouldTerminateEarly() (bool, string) {
	totalCost := t.TotalCost()
	if totalCost > hardCostCap {
		return true, "cost cap"
	}

	snaps := t.Snapshot()
	bySize := make(map[int]ContextSnapshot, len(snaps))
	var processed []ContextSnapshot
	for _, s := range snaps {
		bySize[s.ContextSize] = s
		if s.TotalProcessed > 0 {
			processed = append(processed, s)
		}
	}

	// Healthy monotone decline over the configured sizes.
	if totalCost >= healthyCostFloor {
		healthy := true
		for _, size := range t.configuredSizes {
			s, ok := bySize[size]
			if !ok || s.Correct < healthyMinCorrect || s.SuccessRate < healthyMinRate {
				healthy = false
				break
			}
		}
		if healthy && monotonicityViolations(snapshotsForSizes(bySize, t.configuredSizes)) == 0 {
			return true, "healthy monotone decline"
		}
	}

	// Only sizes with at least one processed item contribute below.
	violations := monotonicityViolations(processed)

	if totalCost > wobbleCostFloor && violations <= maxWobbleViolations {
		return true, "monotone decline with at most one wobble"
	}

	if totalCost > dilutionCostFloor && len(processed) >= 2 {
		half := len(processed) / 2
		firstMean := meanRate(processed[:half])
		secondMean := meanRate(processed[half:])
		if firstMean >= secondMean+dilutionGapPoints {
			return true, "clear dilution harm signal"
		}
	}

	return false, ""
}

// monotonicityViolations counts adjacent size pairs where the success rate
// increases with context size. Input is ordered by context size ascending.
func monotonicityViolations(snaps []ContextSnapshot) int {
	violations := 0
	for i := 1; i < len(snaps); i++ {
		if snaps[i].SuccessRate > snaps[i-1].SuccessRate {
			violations++
		}
	}
	return violations
}

func snapshotsForSizes(bySize map[int]ContextSnapshot, sizes []int) []ContextSnapshot {
	snaps := make([]ContextSnapshot, 0, len(sizes))
	for _, size := range sizes {
		if s, ok := bySize[size]; ok {
			snaps = append(snaps, s)
		}
	}
	return snaps
}

func meanRate(snaps []ContextSnapshot) float64 {
	if len(snaps) == 0 {
		return 0
	}
	total := 0.0
	for _, s := range snaps {
		total += s.SuccessRate
	}
	return total / float64(len(snaps))
}
