package query

import (
	"container/heap"

	"github.com/psu-db/dynext/buffer"
	"github.com/psu-db/dynext/record"
	"github.com/psu-db/dynext/shard"
)

// RangeParams is the Parameters type for RangeQuery and RangeCount: an
// inclusive [Low, High] key range.
type RangeParams[K record.Key[K]] struct {
	Low, High K
}

// rangeSpan is the LocalState both range-shaped query classes share: the
// [start, end) index bounds a shard's records fall within, computed once in
// Preprocess via LowerBound so Local never re-binary-searches. Shards store
// records in key order (spec.md §4.3), so a contiguous index span is a
// valid representation there; the buffer does not (see bufferMatches) and
// uses its own BufferState shape, a plain index list.
type rangeSpan struct {
	start, end int
}

func shardSpan[K record.Key[K], V comparable, S shard.Shard[K, V]](s S, p *RangeParams[K]) rangeSpan {
	start := s.LowerBound(p.Low)
	// Binary search the exclusive upper bound directly, mirroring LowerBound.
	lo, hi := start, s.RecordCount()
	for lo < hi {
		mid := (lo + hi) / 2
		if !p.High.Less(s.RecordAt(mid).Key()) {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return rangeSpan{start: start, end: lo}
}

// bufferMatches is the BufferState both range-shaped query classes share.
// A buffer.View holds records in append order, not key order (Append only
// ever appends; Snapshot copies verbatim; nothing sorts it), so unlike
// shardSpan's binary search this must be a linear scan testing each record
// against [Low, High] directly -- exactly original_source's
// include/query/rangequery.h buffer_query, which loops `for i in
// [0,cutoff)` rather than bisecting. Binary-searching the unsorted view
// would silently drop in-range records and admit out-of-range ones for any
// non-full-range query.
func bufferMatches[K record.Key[K], V comparable](v *buffer.View[K, V], p *RangeParams[K]) []int {
	var idx []int
	n := v.Len()
	for i := 0; i < n; i++ {
		key := v.At(i).Key()
		if !key.Less(p.Low) && !p.High.Less(key) {
			idx = append(idx, i)
		}
	}
	return idx
}

// RangeQuery is the Class[...] implementing spec.md §4.4's "Range query":
// a multi-way merge of sorted partials with cross-shard tombstone
// cancellation, survivors emitted in key order.
type RangeQuery[K record.Key[K], V comparable, S shard.Shard[K, V]] struct{}

func (RangeQuery[K, V, S]) Preprocess(shards []S, bufView *buffer.View[K, V], params *RangeParams[K]) ([]rangeSpan, []int) {
	states := make([]rangeSpan, len(shards))
	for i, s := range shards {
		states[i] = shardSpan[K, V, S](s, params)
	}
	return states, bufferMatches(bufView, params)
}

func (RangeQuery[K, V, S]) Local(s S, state rangeSpan, params *RangeParams[K]) []record.Wrapped[K, V] {
	out := make([]record.Wrapped[K, V], 0, state.end-state.start)
	for i := state.start; i < state.end; i++ {
		out = append(out, s.RecordAt(i))
	}
	return out
}

func (RangeQuery[K, V, S]) LocalBuffer(bufView *buffer.View[K, V], state []int, params *RangeParams[K]) []record.Wrapped[K, V] {
	// state already holds exactly the in-range indices (bufferMatches); the
	// buffer view is append-ordered, not key-ordered, so the matches must
	// still be sorted before they can take part in the key-ordered merge
	// every other partial already satisfies.
	out := make([]record.Wrapped[K, V], 0, len(state))
	for _, i := range state {
		out = append(out, bufView.At(i))
	}
	insertionSortByKey(out)
	return out
}

func (RangeQuery[K, V, S]) Combine(results [][]record.Wrapped[K, V], params *RangeParams[K]) []record.Record[K, V] {
	// results is ordered [shard0 (newest), shard1, ..., shardN, buffer];
	// the buffer is newest of all, so it gets priority 0 and every shard's
	// priority is shifted up by one.
	n := len(results)
	priority := make([]int, n)
	priority[n-1] = 0
	for i := 0; i < n-1; i++ {
		priority[i] = i + 1
	}
	return mergeRanges(results, priority)
}

func (RangeQuery[K, V, S]) EarlyAbort() bool      { return false }
func (RangeQuery[K, V, S]) SkipDeleteFilter() bool { return false }

func insertionSortByKey[K record.Key[K], V comparable](data []record.Wrapped[K, V]) {
	for i := 1; i < len(data); i++ {
		for j := i; j > 0 && data[j].Key().Less(data[j-1].Key()); j-- {
			data[j], data[j-1] = data[j-1], data[j]
		}
	}
}

// mergeRanges performs the k-way merge with tombstone cancellation
// described in spec.md §4.5 "Merge with tombstone cancellation", identical
// in shape to shard.mergeConstruct but operating over already-materialized
// partial slices rather than live shard cursors, since combine only sees
// each class's LocalResult.
func mergeRanges[K record.Key[K], V comparable](partials [][]record.Wrapped[K, V], priority []int) []record.Record[K, V] {
	h := &rangeHeap[K, V]{}
	for i, part := range partials {
		if len(part) == 0 {
			continue
		}
		heap.Push(h, &rangeCursor[K, V]{data: part, pos: 0, priority: priority[i]})
	}
	heap.Init(h)

	var out []record.Record[K, V]
	for h.Len() > 0 {
		cur := (*h)[0]
		w := cur.data[cur.pos]

		var group []*rangeCursor[K, V]
		for h.Len() > 0 && (*h)[0].data[(*h)[0].pos].SameRecord(w) {
			group = append(group, heap.Pop(h).(*rangeCursor[K, V]))
		}

		var pendingTombs int
		for _, c := range group {
			rec := c.data[c.pos]
			if rec.IsTombstone() {
				pendingTombs++
				continue
			}
			if pendingTombs > 0 {
				pendingTombs--
				continue
			}
			out = append(out, rec.Rec)
		}

		for _, c := range group {
			c.pos++
			if c.pos < len(c.data) {
				heap.Push(h, c)
			}
		}
	}
	return out
}

type rangeCursor[K record.Key[K], V comparable] struct {
	data     []record.Wrapped[K, V]
	pos      int
	priority int
}

type rangeHeap[K record.Key[K], V comparable] []*rangeCursor[K, V]

func (h rangeHeap[K, V]) Len() int { return len(h) }
func (h rangeHeap[K, V]) Less(i, j int) bool {
	ri := h[i].data[h[i].pos]
	rj := h[j].data[h[j].pos]
	if ri.Key() != rj.Key() {
		return ri.Key().Less(rj.Key())
	}
	return h[i].priority < h[j].priority
}
func (h rangeHeap[K, V]) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *rangeHeap[K, V]) Push(x any)   { *h = append(*h, x.(*rangeCursor[K, V])) }
func (h *rangeHeap[K, V]) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
