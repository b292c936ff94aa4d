// Package batch partitions test cases into balanced batches. Balance holds
// per context size: every batch gets within one case of every other batch for
// each size, so success-rate curves fill in evenly as batches complete.
package batch

import (
	"math/rand"
	"sort"

	"github.com/pkg/errors"

	benchtypes "github.com/jingkaihe/crmmembench/pkg/types/bench"
)

// CreateBalancedBatches splits cases into n batches. Within each batch the
// cases are ordered by conversation count descending so memory pressure from
// large contexts shows up early.
func CreateBalancedBatches(cases []*benchtypes.TestCase, n int) ([][]*benchtypes.TestCase, error) {
	if n <= 0 {
		return nil, errors.Errorf("batch count must be positive, got %d", n)
	}

	batches := make([][]*benchtypes.TestCase, n)
	for i := range batches {
		batches[i] = []*benchtypes.TestCase{}
	}
	if len(cases) == 0 {
		return batches, nil
	}

	// Group by context size, shuffle within each group, then deal the groups
	// round robin. Starting each group at a fresh offset spreads the
	// remainders across different batches.
	groups := make(map[int][]*benchtypes.TestCase)
	var sizes []int
	for _, tc := range cases {
		size := tc.ConversationCount()
		if _, seen := groups[size]; !seen {
			sizes = append(sizes, size)
		}
		groups[size] = append(groups[size], tc)
	}
	sort.Ints(sizes)

	offset := 0
	for _, size := range sizes {
		group := groups[size]
		rand.Shuffle(len(group), func(i, j int) {
			group[i], group[j] = group[j], group[i]
		})
		for i, tc := range group {
			batches[(offset+i)%n] = append(batches[(offset+i)%n], tc)
		}
		offset = (offset + len(group)) % n
	}

	for _, b := range batches {
		sort.SliceStable(b, func(i, j int) bool {
			return b[i].ConversationCount() > b[j].ConversationCount()
		})
	}
	return batches, nil
}

// ValidateBatches checks that the batches are a clean partition of the
// original cases: same total, no duplicate ids, same id set.
func ValidateBatches(original []*benchtypes.TestCase, batches [][]*benchtypes.TestCase) error {
	total := 0
	seen := make(map[string]struct{})
	for _, b := range batches {
		for _, tc := range b {
			id := tc.ID()
			if _, dup := seen[id]; dup {
				return errors.Errorf("test case %s appears in more than one batch", id)
			}
			seen[id] = struct{}{}
			total++
		}
	}
	if total != len(original) {
		return errors.Errorf("batches hold %d cases, expected %d", total, len(original))
	}
	for _, tc := range original {
		if _, ok := seen[tc.ID()]; !ok {
			return errors.Errorf("test case %s missing from batches", tc.ID())
		}
	}
	return nil
}
