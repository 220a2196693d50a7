package query

import (
	"github.com/psu-db/dynext/buffer"
	"github.com/psu-db/dynext/record"
	"github.com/psu-db/dynext/shard"
)

// RangeCount implements spec.md §4.4's "Range count": the sum of per-shard
// (record_count - tombstone_count) contributions for the range, with no
// cross-shard reconciliation -- deliberately cruder than RangeQuery, since
// the spec defines it as a raw summation rather than a merge.
type RangeCount[K record.Key[K], V comparable, S shard.Shard[K, V]] struct{}

func (RangeCount[K, V, S]) Preprocess(shards []S, bufView *buffer.View[K, V], params *RangeParams[K]) ([]rangeSpan, []int) {
	states := make([]rangeSpan, len(shards))
	for i, s := range shards {
		states[i] = shardSpan[K, V, S](s, params)
	}
	return states, bufferMatches(bufView, params)
}

func (RangeCount[K, V, S]) Local(s S, state rangeSpan, params *RangeParams[K]) int {
	live := 0
	for i := state.start; i < state.end; i++ {
		if !s.RecordAt(i).IsTombstone() {
			live++
		}
	}
	return live
}

func (RangeCount[K, V, S]) LocalBuffer(bufView *buffer.View[K, V], state []int, params *RangeParams[K]) int {
	live := 0
	for _, i := range state {
		if !bufView.At(i).IsTombstone() {
			live++
		}
	}
	return live
}

func (RangeCount[K, V, S]) Combine(results []int, params *RangeParams[K]) int {
	total := 0
	for _, r := range results {
		total += r
	}
	return total
}

func (RangeCount[K, V, S]) EarlyAbort() bool       { return false }
func (RangeCount[K, V, S]) SkipDeleteFilter() bool { return true }
