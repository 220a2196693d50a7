package query

import (
	"sort"

	"github.com/psu-db/dynext/buffer"
	"github.com/psu-db/dynext/record"
	"github.com/psu-db/dynext/shard"
)

// KNNParams is the Parameters type for KNN. Distance is supplied by the
// caller since V carries no intrinsic metric; concrete value types (points,
// vectors, ...) provide their own.
type KNNParams[K record.Key[K], V comparable] struct {
	Target   V
	Count    int
	Distance func(a, b V) float64
}

// Candidate pairs a record with its distance from the query target and
// whether this copy is a tombstone. Tombstones are carried through Local and
// LocalBuffer (rather than dropped there) precisely because a tombstone and
// the live copy it cancels share the same (key, value) and therefore the
// same Distance -- if the live copy is close enough to contend for a
// shard's local top-k, so is its tombstone, wherever it resides. Dropping
// tombstones before Combine (as an earlier revision did) let a record
// erased after being flushed to an older shard keep showing up forever,
// since its live copy's shard never sees the newer shard's tombstone.
type Candidate[K record.Key[K], V comparable] struct {
	Rec       record.Record[K, V]
	Distance  float64
	Tombstone bool
}

// KNN implements spec.md §4.4's "k-NN": each shard returns its local k
// best (live or tombstoned) by distance, and combine runs a k-way merge of
// distance-ordered partials, cancelling a live candidate against a
// newer-or-same-age tombstone for the same (key, value) before keeping the
// global top-k. The framework explicitly excludes concrete spatial index
// structures (spec.md §1 Non-goals); this is the brute-force baseline every
// such index would be benchmarked against.
type KNN[K record.Key[K], V comparable, S shard.Shard[K, V]] struct{}

func (KNN[K, V, S]) Preprocess(shards []S, bufView *buffer.View[K, V], params *KNNParams[K, V]) ([]struct{}, struct{}) {
	return make([]struct{}, len(shards)), struct{}{}
}

func (KNN[K, V, S]) Local(s S, _ struct{}, params *KNNParams[K, V]) []Candidate[K, V] {
	var best []Candidate[K, V]
	for i := 0; i < s.RecordCount(); i++ {
		w := s.RecordAt(i)
		best = insertTopK(best, Candidate[K, V]{Rec: w.Rec, Distance: params.Distance(params.Target, w.Value()), Tombstone: w.IsTombstone()}, params.Count)
	}
	return best
}

func (KNN[K, V, S]) LocalBuffer(bufView *buffer.View[K, V], _ struct{}, params *KNNParams[K, V]) []Candidate[K, V] {
	var best []Candidate[K, V]
	for i := 0; i < bufView.Len(); i++ {
		w := bufView.At(i)
		best = insertTopK(best, Candidate[K, V]{Rec: w.Rec, Distance: params.Distance(params.Target, w.Value()), Tombstone: w.IsTombstone()}, params.Count)
	}
	return best
}

// Combine merges every shard's and the buffer's local top-k, grouping by
// (key, value) and walking each group newest-first (the buffer is newest of
// all, shards are already newest-first per query.View's ordering) -- the
// same pendingTombs cancellation shape as shard.mergeConstruct and
// query.mergeRanges: a tombstone increments a pending count; a live copy
// consumes one pending tombstone if any are outstanding, otherwise survives
// unconditionally. Survivors are then re-sorted by distance and truncated
// to the global top-k.
func (KNN[K, V, S]) Combine(results [][]Candidate[K, V], params *KNNParams[K, V]) []Candidate[K, V] {
	n := len(results)
	priority := make([]int, n)
	priority[n-1] = 0 // the buffer, last in results, is newest
	for i := 0; i < n-1; i++ {
		priority[i] = i + 1
	}

	type entry struct {
		c   Candidate[K, V]
		pri int
	}
	groups := make(map[string][]entry)
	var order []string
	for i, part := range results {
		for _, c := range part {
			key := candidateKey(c)
			if _, ok := groups[key]; !ok {
				order = append(order, key)
			}
			groups[key] = append(groups[key], entry{c: c, pri: priority[i]})
		}
	}

	var all []Candidate[K, V]
	for _, key := range order {
		g := groups[key]
		sort.Slice(g, func(i, j int) bool { return g[i].pri < g[j].pri })
		pendingTombs := 0
		for _, e := range g {
			if e.c.Tombstone {
				pendingTombs++
				continue
			}
			if pendingTombs > 0 {
				pendingTombs--
				continue
			}
			all = append(all, e.c)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Distance < all[j].Distance })
	if len(all) > params.Count {
		all = all[:params.Count]
	}
	return all
}

func (KNN[K, V, S]) EarlyAbort() bool       { return false }
func (KNN[K, V, S]) SkipDeleteFilter() bool { return false }

func candidateKey[K record.Key[K], V comparable](c Candidate[K, V]) string {
	return c.Rec.String()
}

// insertTopK keeps best sorted ascending by Distance and bounded to k
// entries, inserting c only if it beats the current worst kept candidate.
func insertTopK[K record.Key[K], V comparable](best []Candidate[K, V], c Candidate[K, V], k int) []Candidate[K, V] {
	if k <= 0 {
		return best
	}
	i := sort.Search(len(best), func(i int) bool { return best[i].Distance >= c.Distance })
	best = append(best, Candidate[K, V]{})
	copy(best[i+1:], best[i:])
	best[i] = c
	if len(best) > k {
		best = best[:k]
	}
	return best
}
