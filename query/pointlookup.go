package query

import (
	"github.com/psu-db/dynext/buffer"
	"github.com/psu-db/dynext/record"
	"github.com/psu-db/dynext/shard"
)

// PointParams is the Parameters type for PointLookup.
type PointParams[K record.Key[K]] struct {
	Key K
}

type pointResult[K record.Key[K], V comparable] struct {
	w     record.Wrapped[K, V]
	found bool
}

// PointResult is the FinalResult type for PointLookup.
type PointResult[K record.Key[K], V comparable] struct {
	Record record.Wrapped[K, V]
	Found  bool
}

// PointLookup implements spec.md §4.4's "Point lookup": a newest-first
// scan where the first live match wins and a tombstone seen first
// suppresses any older copy.
type PointLookup[K record.Key[K], V comparable, S shard.Shard[K, V]] struct{}

func (PointLookup[K, V, S]) Preprocess(shards []S, bufView *buffer.View[K, V], params *PointParams[K]) ([]struct{}, struct{}) {
	return make([]struct{}, len(shards)), struct{}{}
}

func (PointLookup[K, V, S]) Local(s S, _ struct{}, params *PointParams[K]) pointResult[K, V] {
	w, ok := s.PointLookup(params.Key)
	return pointResult[K, V]{w: w, found: ok}
}

func (PointLookup[K, V, S]) LocalBuffer(bufView *buffer.View[K, V], _ struct{}, params *PointParams[K]) pointResult[K, V] {
	// The buffer is small and append-ordered; scan backwards so the most
	// recently appended copy of Key wins, matching Buffer's own
	// newest-write-wins semantics before any shard is even consulted.
	for i := bufView.Len() - 1; i >= 0; i-- {
		if w := bufView.At(i); w.Key() == params.Key {
			return pointResult[K, V]{w: w, found: true}
		}
	}
	return pointResult[K, V]{}
}

// Combine scans buffer-then-shards (results[len-1] is the buffer, newest of
// all; results[0..len-2] are shards already newest-first) and returns the
// first live match, or Found=false if a tombstone is the first hit, or if
// nothing matched at all.
func (PointLookup[K, V, S]) Combine(results []pointResult[K, V], params *PointParams[K]) PointResult[K, V] {
	n := len(results)
	if n == 0 {
		return PointResult[K, V]{}
	}
	ordered := make([]pointResult[K, V], 0, n)
	ordered = append(ordered, results[n-1])
	ordered = append(ordered, results[:n-1]...)

	for _, r := range ordered {
		if !r.found {
			continue
		}
		if r.w.IsTombstone() {
			return PointResult[K, V]{}
		}
		return PointResult[K, V]{Record: r.w, Found: true}
	}
	return PointResult[K, V]{}
}

func (PointLookup[K, V, S]) EarlyAbort() bool       { return true }
func (PointLookup[K, V, S]) SkipDeleteFilter() bool { return false }
