package query

import (
	"math/rand"

	"github.com/psu-db/dynext/alias"
	"github.com/psu-db/dynext/buffer"
	"github.com/psu-db/dynext/record"
	"github.com/psu-db/dynext/shard"
)

// SamplingParams is the Parameters type for Sampling. Rng is threaded
// through explicitly (spec.md §9 / alias.Table.Get) rather than read from a
// package-global source, so two queries sharing a seeded Rng are
// reproducible. RetryFactor caps the draws a shard (or the buffer) attempts
// at RetryFactor times its allotment (at least once per allotted sample),
// tombstoned hits included, before giving up on the rest of its allotment
// (spec.md §4.4 "Bounded retries before failing the query").
type SamplingParams[K record.Key[K], V comparable] struct {
	Count       int
	Rng         *rand.Rand
	RetryFactor int
}

// SamplingResult is the FinalResult type for Sampling: the records actually
// drawn, plus whether the target Count was met.
type SamplingResult[K record.Key[K], V comparable] struct {
	Records  []record.Record[K, V]
	Complete bool
}

type sampleLocal[K record.Key[K], V comparable] struct {
	records []record.Record[K, V]
}

// sampleDraw is the LocalState/BufferState Sampling hands each shard and the
// buffer: how many samples to draw, plus an independent RNG seeded from the
// shared params.Rng. Execute dispatches Local/LocalBuffer across shards
// concurrently via errgroup, and math/rand.Rand is not safe for concurrent
// use -- sharing params.Rng directly across those goroutines would be a
// data race. Preprocess runs single-threaded, so drawing each shard's seed
// from params.Rng there (one Int63 call per shard) is itself race-free; the
// seeded *rand.Rand handed back is then only ever touched by the one
// goroutine that owns it.
type sampleDraw struct {
	count int
	rng   *rand.Rand
}

// Sampling implements spec.md §4.4's "Weighted/independent-range
// sampling": preprocess computes shard weights and apportions the target
// sample count across shards and the buffer via an alias.Table (§4.6), each
// shard then draws its allotment directly (retrying in place on a
// tombstoned hit, bounded by RetryFactor), and combine aggregates,
// reporting whether the global target was met.
type Sampling[K record.Key[K], V comparable, S shard.Shard[K, V]] struct{}

func (Sampling[K, V, S]) Preprocess(shards []S, bufView *buffer.View[K, V], params *SamplingParams[K, V]) ([]sampleDraw, sampleDraw) {
	weights := make([]float64, len(shards)+1)
	for i, s := range shards {
		weights[i] = s.Weight()
	}
	weights[len(shards)] = float64(liveCount(bufView))

	table := alias.New(weights)
	counts := make([]int, len(shards)+1)
	if table.Len() > 0 {
		for i := 0; i < params.Count; i++ {
			counts[table.Get(params.Rng)]++
		}
	}

	draws := make([]sampleDraw, len(shards))
	for i := range shards {
		draws[i] = sampleDraw{count: counts[i], rng: rand.New(rand.NewSource(params.Rng.Int63()))}
	}
	bufDraw := sampleDraw{count: counts[len(shards)], rng: rand.New(rand.NewSource(params.Rng.Int63()))}
	return draws, bufDraw
}

func (Sampling[K, V, S]) Local(s S, state sampleDraw, params *SamplingParams[K, V]) sampleLocal[K, V] {
	n := s.RecordCount()
	if n == 0 || state.count == 0 {
		return sampleLocal[K, V]{}
	}
	maxAttempts := state.count * maxInt(params.RetryFactor, 1)
	recs := make([]record.Record[K, V], 0, state.count)
	for attempts := 0; len(recs) < state.count && attempts < maxAttempts; attempts++ {
		idx := state.rng.Intn(n)
		w := s.RecordAt(idx)
		if w.IsTombstone() {
			continue
		}
		recs = append(recs, w.Rec)
	}
	return sampleLocal[K, V]{records: recs}
}

func (Sampling[K, V, S]) LocalBuffer(bufView *buffer.View[K, V], state sampleDraw, params *SamplingParams[K, V]) sampleLocal[K, V] {
	n := bufView.Len()
	if n == 0 || state.count == 0 {
		return sampleLocal[K, V]{}
	}
	maxAttempts := state.count * maxInt(params.RetryFactor, 1)
	recs := make([]record.Record[K, V], 0, state.count)
	for attempts := 0; len(recs) < state.count && attempts < maxAttempts; attempts++ {
		idx := state.rng.Intn(n)
		w := bufView.At(idx)
		if w.IsTombstone() {
			continue
		}
		recs = append(recs, w.Rec)
	}
	return sampleLocal[K, V]{records: recs}
}

func (Sampling[K, V, S]) Combine(results []sampleLocal[K, V], params *SamplingParams[K, V]) SamplingResult[K, V] {
	var out []record.Record[K, V]
	for _, r := range results {
		out = append(out, r.records...)
	}
	return SamplingResult[K, V]{Records: out, Complete: len(out) >= params.Count}
}

func (Sampling[K, V, S]) EarlyAbort() bool       { return false }
func (Sampling[K, V, S]) SkipDeleteFilter() bool { return false }

func liveCount[K record.Key[K], V comparable](v *buffer.View[K, V]) int {
	n := 0
	for i := 0; i < v.Len(); i++ {
		if !v.At(i).IsTombstone() {
			n++
		}
	}
	return n
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
