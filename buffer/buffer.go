// Package buffer implements the mutable staging area records pass through
// before they are frozen into an immutable shard (spec.md §4.2).
//
// It plays the role go-ethereum's diffLayer plays at the top of a
// core/state/snapshot.Tree: a small, frequently-updated layer that gets
// snapshotted and pushed down into the immutable cascade once it grows too
// large, except here the snapshot is unconditional (by record count) rather
// than triggered by block boundaries.
package buffer

import (
	"sync"

	"github.com/psu-db/dynext/record"
)

// ErrFull is returned by Append when the buffer has already reached its
// configured capacity; the caller (dynext.DynamicExtension) is expected to
// flush and retry.
type ErrFull struct{}

func (ErrFull) Error() string { return "buffer: full" }

// Buffer is a bounded, append-only sequence of Wrapped records. At most one
// writer may call Append at a time (spec.md §5 "single-writer"); any number
// of readers may call Snapshot concurrently with a writer.
type Buffer[K record.Key[K], V comparable] struct {
	mu       sync.Mutex
	capacity int
	epoch    uint32
	data     []record.Wrapped[K, V]
	tombs    int
}

// New creates an empty buffer with the given capacity C (spec.md §3,
// typical value 12000).
func New[K record.Key[K], V comparable](capacity int) *Buffer[K, V] {
	if capacity <= 0 {
		panic("buffer: capacity must be positive")
	}
	return &Buffer[K, V]{
		capacity: capacity,
		data:     make([]record.Wrapped[K, V], 0, capacity),
	}
}

// Append reserves a slot and writes a Wrapped record, assigning it the next
// timestamp in the current epoch. It returns ErrFull without mutating state
// once the buffer has reached capacity; the caller must flush (via
// Snapshot+Reset) before retrying.
func (b *Buffer[K, V]) Append(rec record.Record[K, V], tombstone bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.data) >= b.capacity {
		return ErrFull{}
	}
	w := record.New(rec, tombstone, uint32(len(b.data)))
	b.data = append(b.data, w)
	if tombstone {
		b.tombs++
	}
	return nil
}

// RecordCount returns the number of wrapped records currently buffered.
func (b *Buffer[K, V]) RecordCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// TombstoneCount returns the number of tombstone-marked records currently
// buffered.
func (b *Buffer[K, V]) TombstoneCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tombs
}

// Capacity returns C, the configured maximum record count.
func (b *Buffer[K, V]) Capacity() int {
	return b.capacity
}

// Full reports whether the buffer has reached capacity and must be flushed
// before any further Append can succeed.
func (b *Buffer[K, V]) Full() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data) >= b.capacity
}

// Snapshot returns an immutable View over the buffer's current [0, count)
// range. The view owns a copy of that range, so it remains valid across a
// subsequent Reset -- this is the "must remain usable after a subsequent
// buffer reset" requirement of spec.md §4.2, and mirrors how a diffLayer's
// account/storage maps are handed to the next layer rather than aliased.
func (b *Buffer[K, V]) Snapshot() *View[K, V] {
	b.mu.Lock()
	defer b.mu.Unlock()

	frozen := make([]record.Wrapped[K, V], len(b.data))
	copy(frozen, b.data)
	return &View[K, V]{data: frozen, epoch: b.epoch}
}

// Reset discards every buffered record, including any appended after the
// last Snapshot, advances the epoch, and makes the buffer appendable again.
func (b *Buffer[K, V]) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = make([]record.Wrapped[K, V], 0, b.capacity)
	b.tombs = 0
	b.epoch++
}

// View is an immutable, owned snapshot of a buffer's contents at the moment
// Snapshot was called. Readers may iterate and randomly index it even after
// the originating Buffer has been Reset.
type View[K record.Key[K], V comparable] struct {
	data  []record.Wrapped[K, V]
	epoch uint32
}

// Len returns the number of wrapped records captured in this view.
func (v *View[K, V]) Len() int {
	if v == nil {
		return 0
	}
	return len(v.data)
}

// At returns the wrapped record at index i, 0 <= i < Len().
func (v *View[K, V]) At(i int) record.Wrapped[K, V] {
	return v.data[i]
}

// Epoch returns the epoch the buffer was in when this view was captured.
func (v *View[K, V]) Epoch() uint32 {
	return v.epoch
}

// All returns the captured records in append order. Callers must not mutate
// the returned slice.
func (v *View[K, V]) All() []record.Wrapped[K, V] {
	if v == nil {
		return nil
	}
	return v.data
}
