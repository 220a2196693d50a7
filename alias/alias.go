// Package alias implements Walker's alias method for O(1) weighted
// categorical sampling (spec.md §4.6), ported from the teacher's original
// C++ source at original_source/include/ds/Alias.h. The construction
// algorithm -- partition into overfull/underfull lists, repeatedly pair one
// of each -- is kept line-for-line equivalent; only the RNG plumbing
// changes, since spec.md §9 requires passing the RNG source as an explicit
// parameter rather than reading a process-global one.
package alias

import "math/rand"

// Table draws indices in [0, n) with probability proportional to the
// weights it was built from, in O(1) time per draw using two uniform
// random numbers.
type Table struct {
	alias  []int
	cutoff []float64
}

// New builds an alias table over weights, which need not already be
// normalized (unlike the C++ original, which documents that requirement on
// its caller). Weights must be non-negative and sum to a positive value.
func New(weights []float64) *Table {
	n := len(weights)
	t := &Table{
		alias:  make([]int, n),
		cutoff: make([]float64, n),
	}
	if n == 0 {
		return t
	}

	total := 0.0
	for _, w := range weights {
		total += w
	}
	if total <= 0 {
		// Degenerate: treat every entry as equally likely rather than
		// dividing by zero.
		total = float64(n)
		weights = make([]float64, n)
		for i := range weights {
			weights[i] = 1
		}
	}

	overfull := make([]int, 0, n)
	underfull := make([]int, 0, n)

	for i, w := range weights {
		p := w / total
		t.cutoff[i] = float64(n) * p
		switch {
		case t.cutoff[i] > 1:
			overfull = append(overfull, i)
		case t.cutoff[i] < 1:
			underfull = append(underfull, i)
		default:
			t.alias[i] = i
		}
	}

	for len(overfull) > 0 && len(underfull) > 0 {
		i := overfull[len(overfull)-1]
		overfull = overfull[:len(overfull)-1]
		j := underfull[len(underfull)-1]
		underfull = underfull[:len(underfull)-1]

		t.alias[j] = i
		t.cutoff[i] = t.cutoff[i] + t.cutoff[j] - 1.0

		switch {
		case t.cutoff[i] > 1.0:
			overfull = append(overfull, i)
		case t.cutoff[i] < 1.0:
			underfull = append(underfull, i)
		}
	}
	return t
}

// Len returns the number of entries the table was built over.
func (t *Table) Len() int { return len(t.alias) }

// Get draws one index using the supplied RNG. Passing rng explicitly
// (rather than a package-global source) keeps sampling queries
// deterministic under a caller-seeded generator, per spec.md §9.
func (t *Table) Get(rng *rand.Rand) int {
	if len(t.alias) == 0 {
		return -1
	}
	coin1 := rng.Float64()
	coin2 := rng.Float64()

	k := int(float64(len(t.alias)) * coin1)
	if k >= len(t.alias) {
		k = len(t.alias) - 1
	}
	if coin2 < t.cutoff[k] {
		return k
	}
	return t.alias[k]
}
