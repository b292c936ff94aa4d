package batch

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	benchtypes "github.com/jingkaihe/crmmembench/pkg/types/bench"
)

func makeCases(contextSize, count int) []*benchtypes.TestCase {
	cases := make([]*benchtypes.TestCase, count)
	for i := 0; i < count; i++ {
		cases[i] = &benchtypes.TestCase{
			EvidenceItems: []benchtypes.EvidenceItem{
				{Question: fmt.Sprintf("q-%d-%d", contextSize, i), Answer: "a", Category: "factual"},
			},
			ContextSize: contextSize,
		}
	}
	return cases
}

func batchSizes(batches [][]*benchtypes.TestCase) []int {
	sizes := make([]int, len(batches))
	for i, b := range batches {
		sizes[i] = len(b)
	}
	return sizes
}

func TestCreateBalancedBatches_Empty(t *testing.T) {
	batches, err := CreateBalancedBatches(nil, 5)
	require.NoError(t, err)
	require.Len(t, batches, 5)
	for _, b := range batches {
		assert.Empty(t, b)
	}
}

func TestCreateBalancedBatches_InvalidCount(t *testing.T) {
	_, err := CreateBalancedBatches(nil, 0)
	assert.Error(t, err)
	_, err = CreateBalancedBatches(nil, -1)
	assert.Error(t, err)
}

func TestCreateBalancedBatches_EvenSplit(t *testing.T) {
	cases := makeCases(10, 30)
	batches, err := CreateBalancedBatches(cases, 10)
	require.NoError(t, err)
	for _, size := range batchSizes(batches) {
		assert.Equal(t, 3, size)
	}
	assert.NoError(t, ValidateBatches(cases, batches))
}

func TestCreateBalancedBatches_Remainder(t *testing.T) {
	cases := makeCases(10, 14)
	batches, err := CreateBalancedBatches(cases, 10)
	require.NoError(t, err)

	twos, ones := 0, 0
	for _, size := range batchSizes(batches) {
		switch size {
		case 2:
			twos++
		case 1:
			ones++
		default:
			t.Fatalf("unexpected batch size %d", size)
		}
	}
	assert.Equal(t, 4, twos)
	assert.Equal(t, 6, ones)
}

func TestCreateBalancedBatches_PerContextBalance(t *testing.T) {
	var cases []*benchtypes.TestCase
	cases = append(cases, makeCases(2, 20)...)
	cases = append(cases, makeCases(10, 10)...)
	cases = append(cases, makeCases(50, 5)...)

	batches, err := CreateBalancedBatches(cases, 5)
	require.NoError(t, err)
	require.NoError(t, ValidateBatches(cases, batches))

	// Every batch holds at least one case from each context size, and batch
	// sizes differ by at most one.
	minSize, maxSize := len(cases), 0
	for _, b := range batches {
		counts := map[int]int{}
		for _, tc := range b {
			counts[tc.ConversationCount()]++
		}
		for _, size := range []int{2, 10, 50} {
			assert.GreaterOrEqual(t, counts[size], 1, "batch missing context size %d", size)
		}
		if len(b) < minSize {
			minSize = len(b)
		}
		if len(b) > maxSize {
			maxSize = len(b)
		}
	}
	assert.LessOrEqual(t, maxSize-minSize, 1)
}

func TestCreateBalancedBatches_SortedDescendingWithinBatch(t *testing.T) {
	var cases []*benchtypes.TestCase
	for _, size := range []int{2, 10, 50, 150} {
		cases = append(cases, makeCases(size, 8)...)
	}

	batches, err := CreateBalancedBatches(cases, 4)
	require.NoError(t, err)
	for _, b := range batches {
		for i := 1; i < len(b); i++ {
			assert.GreaterOrEqual(t, b[i-1].ConversationCount(), b[i].ConversationCount())
		}
	}
}

func TestValidateBatches_DetectsLoss(t *testing.T) {
	cases := makeCases(10, 4)
	batches, err := CreateBalancedBatches(cases, 2)
	require.NoError(t, err)

	// Drop one case from a batch.
	for i, b := range batches {
		if len(b) > 0 {
			batches[i] = b[1:]
			break
		}
	}
	assert.Error(t, ValidateBatches(cases, batches))
}

func TestValidateBatches_DetectsDuplicates(t *testing.T) {
	cases := makeCases(10, 2)
	batches := [][]*benchtypes.TestCase{{cases[0], cases[0]}, {cases[1]}}
	assert.Error(t, ValidateBatches(cases, batches))
}
