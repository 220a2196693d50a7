package shard

import (
	"container/heap"
	"encoding/binary"

	"github.com/pborman/uuid"
	"github.com/steakknife/bloomfilter"

	"github.com/psu-db/dynext/record"
)

// bloomHash adapts a raw key byte slice to the hash.Hash64 interface
// steakknife/bloomfilter expects, the same pattern go-ethereum's
// core/state/pruner.stateBloomHasher uses to wrap a trie hash.
type bloomHash []byte

func (h bloomHash) Write(p []byte) (int, error) { panic("not implemented") }
func (h bloomHash) Sum(b []byte) []byte         { panic("not implemented") }
func (h bloomHash) Reset()                      {}
func (h bloomHash) BlockSize() int              { return 8 }
func (h bloomHash) Size() int                   { return 8 }
func (h bloomHash) Sum64() uint64 {
	if len(h) >= 8 {
		return binary.BigEndian.Uint64(h[:8])
	}
	var buf [8]byte
	copy(buf[8-len(h):], h)
	return binary.BigEndian.Uint64(buf[:])
}

// FlatShard is a sorted, in-memory array of wrapped records: the simplest
// shard that can back every query class in this module (range query/count
// by binary search, point lookup by binary search, k-NN by brute-force
// scan, sampling by uniform index draw). It is the reference shard this
// framework is built and tested against.
type FlatShard[K record.Key[K], V comparable] struct {
	id     string
	data   []record.Wrapped[K, V]
	tombs  int
	filter *bloomfilter.Filter // nil if the shard is too small to bother
}

// FlatBuilder is the Builder[K,V,*FlatShard[K,V]] for FlatShard.
type FlatBuilder[K record.Key[K], V comparable] struct {
	// KeyBytes encodes a key to bytes for the membership bloom filter. It
	// may be nil, in which case no bloom filter is built for shards
	// produced by this builder.
	KeyBytes func(K) []byte
}

// minBloomEntries is the smallest record count for which building a bloom
// filter is worth its construction cost, mirroring the threshold
// core/state/pruner.bloom.go's caller applies before allocating one.
const minBloomEntries = 64

func (b FlatBuilder[K, V]) BuildFromBuffer(records []record.Wrapped[K, V]) (*FlatShard[K, V], error) {
	data := make([]record.Wrapped[K, V], len(records))
	copy(data, records)
	quicksortWrapped(data)

	fs := &FlatShard[K, V]{id: uuid.New(), data: data}
	for _, w := range data {
		if w.IsTombstone() {
			fs.tombs++
		}
	}
	b.buildFilter(fs)
	return fs, nil
}

func (b FlatBuilder[K, V]) BuildFromMerge(shards []*FlatShard[K, V]) (*FlatShard[K, V], error) {
	merged, tombs := mergeConstruct(shards)
	fs := &FlatShard[K, V]{id: uuid.New(), data: merged, tombs: tombs}
	b.buildFilter(fs)
	return fs, nil
}

func (b FlatBuilder[K, V]) buildFilter(fs *FlatShard[K, V]) {
	if b.KeyBytes == nil || len(fs.data) < minBloomEntries {
		return
	}
	f, err := bloomfilter.NewOptimal(uint64(len(fs.data)), 0.01)
	if err != nil {
		return
	}
	for _, w := range fs.data {
		f.Add(bloomHash(b.KeyBytes(w.Key())))
	}
	fs.filter = f
}

// quicksortWrapped is a small quicksort over
// record.Wrapped.Less, avoiding a dependency on sort.Interface boilerplate
// for a generic slice.
func quicksortWrapped[K record.Key[K], V comparable](data []record.Wrapped[K, V]) {
	if len(data) < 2 {
		return
	}
	var rec func(lo, hi int)
	rec = func(lo, hi int) {
		for hi-lo > 12 {
			p := data[(lo+hi)/2]
			i, j := lo, hi
			for i <= j {
				for data[i].Less(p) {
					i++
				}
				for p.Less(data[j]) {
					j--
				}
				if i <= j {
					data[i], data[j] = data[j], data[i]
					i++
					j--
				}
			}
			if j-lo < hi-i {
				rec(lo, j)
				lo = i
			} else {
				rec(i, hi)
				hi = j
			}
		}
		// insertion sort the small remainder
		for i := lo + 1; i <= hi; i++ {
			for j := i; j > lo && data[j].Less(data[j-1]); j-- {
				data[j], data[j-1] = data[j-1], data[j]
			}
		}
	}
	rec(0, len(data)-1)
}

// RecordCount implements Shard.
func (fs *FlatShard[K, V]) RecordCount() int { return len(fs.data) }

// TombstoneCount implements Shard.
func (fs *FlatShard[K, V]) TombstoneCount() int { return fs.tombs }

// MemoryUsage implements Shard with a flat per-record estimate; callers
// needing a precise figure should use dynext.MemoryReport (fjl/memsize).
func (fs *FlatShard[K, V]) MemoryUsage() uint64 {
	var zero record.Wrapped[K, V]
	return uint64(len(fs.data)) * uint64(sizeofWrapped(zero))
}

func sizeofWrapped[K record.Key[K], V comparable](w record.Wrapped[K, V]) int {
	// A constant per-record estimate; it does not depend on K or V.
	return 32
}

// LowerBound implements Shard via binary search over the sorted array.
func (fs *FlatShard[K, V]) LowerBound(key K) int {
	lo, hi := 0, len(fs.data)
	for lo < hi {
		mid := (lo + hi) / 2
		if fs.data[mid].Key().Less(key) {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// RecordAt implements Shard.
func (fs *FlatShard[K, V]) RecordAt(idx int) record.Wrapped[K, V] {
	return fs.data[idx]
}

// PointLookup implements Shard by binary search over the sorted array. It
// does not consult the bloom filter; callers holding the key's bytes can
// check MaybeContains first.
func (fs *FlatShard[K, V]) PointLookup(key K) (record.Wrapped[K, V], bool) {
	idx := fs.LowerBound(key)
	if idx < len(fs.data) && fs.data[idx].Key() == key {
		return fs.data[idx], true
	}
	return record.Wrapped[K, V]{}, false
}

// MaybeContains reports whether the shard's bloom filter (if any) allows
// for the possibility that key is present. A false result is a definite
// "no"; a true result (or a shard with no filter) requires an actual
// lookup.
func (fs *FlatShard[K, V]) MaybeContains(keyBytes []byte) bool {
	if fs.filter == nil {
		return true
	}
	return fs.filter.Contains(bloomHash(keyBytes))
}

// ID returns the shard's unique identifier, used as a cache key by
// shard.HandleCache and in diagnostic logging.
func (fs *FlatShard[K, V]) ID() string { return fs.id }

// Weight implements Shard: the sampling mass is the live record count.
func (fs *FlatShard[K, V]) Weight() float64 {
	return float64(len(fs.data) - fs.tombs)
}

// mergeConstruct performs the k-way merge with tombstone cancellation
// described in spec.md §4.5 "Merge with tombstone cancellation", ported
// from go-ethereum's core/state/snapshot/iterator_heap.go: shards are
// assigned a priority equal to their position in the input slice (0 =
// newest, per spec.md's "youngest first" ordering contract on Builder),
// and a min-heap orders entries by (key, priority) so that, among equal
// keys, the newest copy is seen first -- exactly iteratorHeap.Less's
// "same account in multiple layers, split by priority" rule.
func mergeConstruct[K record.Key[K], V comparable](shards []*FlatShard[K, V]) ([]record.Wrapped[K, V], int) {
	h := &mergeHeap[K, V]{}
	for priority, s := range shards {
		if s.RecordCount() == 0 {
			continue
		}
		heap.Push(h, &mergeCursor[K, V]{shard: s, pos: 0, priority: priority})
	}
	heap.Init(h)

	var out []record.Wrapped[K, V]
	tombs := 0
	for h.Len() > 0 {
		cur := (*h)[0]
		w := cur.shard.RecordAt(cur.pos)

		// Gather every cursor currently positioned on the same (key,
		// value) pair so the visibility rule (spec.md §3 invariant 3)
		// can be applied across all of them, not just a pairwise peek.
		var group []*mergeCursor[K, V]
		for h.Len() > 0 && (*h)[0].shard.RecordAt((*h)[0].pos).SameRecord(w) {
			group = append(group, heap.Pop(h).(*mergeCursor[K, V]))
		}

		// group is ordered newest-to-oldest (the heap pops lowest
		// priority first, and priority 0 is newest). Per the
		// visibility rule (spec.md §3 invariant 3), a tombstone
		// cancels exactly one live copy that is the same age or
		// older -- i.e. one that appears at or after it in this
		// scan. A live copy encountered before any pending,
		// unmatched tombstone is strictly newer than every tombstone
		// seen so far and survives unconditionally; any tombstone
		// left unmatched once the group is exhausted is retained,
		// since it may still shadow a copy residing in a shard this
		// merge didn't include.
		var pendingTombs []record.Wrapped[K, V]
		for _, c := range group {
			rec := c.shard.RecordAt(c.pos)
			if rec.IsTombstone() {
				pendingTombs = append(pendingTombs, rec)
				continue
			}
			if len(pendingTombs) > 0 {
				pendingTombs = pendingTombs[1:] // cancelled; drop both
				continue
			}
			out = append(out, rec)
		}
		for _, t := range pendingTombs {
			out = append(out, t)
			tombs++
		}

		for _, c := range group {
			c.pos++
			if c.pos < c.shard.RecordCount() {
				heap.Push(h, c)
			}
		}
	}
	return out, tombs
}

type mergeCursor[K record.Key[K], V comparable] struct {
	shard    *FlatShard[K, V]
	pos      int
	priority int
}

type mergeHeap[K record.Key[K], V comparable] []*mergeCursor[K, V]

func (h mergeHeap[K, V]) Len() int { return len(h) }

func (h mergeHeap[K, V]) Less(i, j int) bool {
	ri := h[i].shard.RecordAt(h[i].pos)
	rj := h[j].shard.RecordAt(h[j].pos)
	if ri.Key() != rj.Key() {
		return ri.Key().Less(rj.Key())
	}
	return h[i].priority < h[j].priority
}

func (h mergeHeap[K, V]) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *mergeHeap[K, V]) Push(x any) {
	*h = append(*h, x.(*mergeCursor[K, V]))
}

func (h *mergeHeap[K, V]) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
