// Package shard defines the immutable, indexed record container the
// decomposition manager arranges into levels (spec.md §4.3), plus three
// reference implementations exercising it: an in-memory sorted array
// (FlatShard) and two on-disk variants for shards too large to comfortably
// keep resident, one backed by memory-mapped files (DiskShard) and one by
// goleveldb (LevelDBShard).
//
// Concrete static index structures (B-tree, ISAM, TrieSpline, PGM, VP-tree,
// M-tree, ...) are explicitly out of scope for this module (spec.md §1);
// FlatShard plays the same role a disklayer/diffLayer pair plays in
// go-ethereum's core/state/snapshot -- a minimal, always-available backing
// store the rest of the framework (level, query, dynext) can be built and
// tested against.
package shard

import "github.com/psu-db/dynext/record"

// Shard is the minimal contract every pluggable static index must satisfy
// to participate in the decomposition manager (spec.md §4.3 / §6). It is
// immutable once constructed: no method here ever mutates the shard's
// record set.
type Shard[K record.Key[K], V comparable] interface {
	// RecordCount returns the total number of wrapped records, live and
	// tombstoned, this shard holds.
	RecordCount() int

	// TombstoneCount returns the number of tombstone-marked records this
	// shard holds.
	TombstoneCount() int

	// MemoryUsage estimates the shard's resident memory footprint in
	// bytes.
	MemoryUsage() uint64

	// LowerBound returns the index of the first record with key >= the
	// given key, or RecordCount() if none exists. Requires the shard's
	// records be stored in key order; shards backing order-insensitive
	// query classes only (e.g. pure point lookup) may implement this by
	// falling back to a full scan.
	LowerBound(key K) int

	// RecordAt returns the wrapped record at position idx in the
	// shard's iteration order (key order, for order-based shards).
	RecordAt(idx int) record.Wrapped[K, V]

	// PointLookup returns the first record it holds with the given key,
	// and whether one was found. It does not resolve tombstones against
	// other shards -- that is the query protocol's job.
	PointLookup(key K) (record.Wrapped[K, V], bool)

	// Weight returns this shard's sampling mass, i.e. the number of live
	// (non-tombstoned) records it holds -- used by the weighted/IRS
	// sampling query class to apportion sample counts across shards via
	// alias.Table.
	Weight() float64
}

// Builder constructs a Shard of a specific concrete type from either a
// buffer view or from an ordered slice of existing shards (merge-construct,
// spec.md §4.3). A Level is generic over a Builder so the same cascade
// logic can produce FlatShard, DiskShard, or a caller's own Shard type.
type Builder[K record.Key[K], V comparable, S Shard[K, V]] interface {
	// BuildFromBuffer constructs a shard directly from a frozen buffer
	// range. The resulting shard's records are not tombstone-reconciled
	// against anything -- a fresh buffer snapshot may legitimately
	// contain both a live record and its own later tombstone.
	BuildFromBuffer(records []record.Wrapped[K, V]) (S, error)

	// BuildFromMerge constructs a shard from the multiset union of the
	// given shards' records, youngest first, applying tombstone
	// cancellation per spec.md §4.5 "Merge with tombstone cancellation".
	BuildFromMerge(shards []S) (S, error)
}
