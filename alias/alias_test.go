package alias

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetDrawsWithinRange(t *testing.T) {
	table := New([]float64{1, 2, 3, 4})
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 1000; i++ {
		idx := table.Get(rng)
		assert.GreaterOrEqual(t, idx, 0)
		assert.Less(t, idx, table.Len())
	}
}

func TestGetApproximatesWeights(t *testing.T) {
	weights := []float64{1, 0, 3}
	table := New(weights)
	rng := rand.New(rand.NewSource(7))

	counts := make([]int, len(weights))
	const draws = 20000
	for i := 0; i < draws; i++ {
		counts[table.Get(rng)]++
	}

	assert.Equal(t, 0, counts[1], "a zero-weight entry should never be drawn")
	ratio := float64(counts[2]) / float64(counts[0])
	assert.InDelta(t, 3.0, ratio, 0.3)
}

func TestEmptyTable(t *testing.T) {
	table := New(nil)
	assert.Equal(t, 0, table.Len())
	assert.Equal(t, -1, table.Get(rand.New(rand.NewSource(1))))
}
