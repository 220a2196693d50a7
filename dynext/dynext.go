// Package dynext is the top-level orchestrator (spec.md §4.5 "Dynamic
// Extension (core orchestrator)"): a mutable buffer in front of a leveled
// shard cascade, with insert/erase/query as its only public contract. It
// plays the role go-ethereum's core/state/snapshot.Tree plays atop a
// diffLayer chain -- a single-writer, multi-reader structure published by
// atomic pointer swap after each mutation that crosses a capacity
// threshold -- generalized from "diff layers over one disk layer" to an
// arbitrary discipline-driven level cascade.
package dynext

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/fjl/memsize"

	"github.com/psu-db/dynext/buffer"
	"github.com/psu-db/dynext/internal/metrics"
	"github.com/psu-db/dynext/internal/rlog"
	"github.com/psu-db/dynext/level"
	"github.com/psu-db/dynext/query"
	"github.com/psu-db/dynext/record"
	"github.com/psu-db/dynext/shard"
)

// ErrShardConstructionFailed wraps any error a Builder returns while
// flushing the buffer or merging shards (spec.md §7); the layout is left
// at its pre-flush state.
type ErrShardConstructionFailed struct{ Err error }

func (e ErrShardConstructionFailed) Error() string { return fmt.Sprintf("dynext: shard construction failed: %v", e.Err) }
func (e ErrShardConstructionFailed) Unwrap() error  { return e.Err }

// ErrTombstoneBoundUnsatisfiable is returned by Erase when
// Config.MaxTombstoneProportion is 0, the only configuration under which
// no cascade state could ever satisfy the bound once a tombstone exists
// (spec.md §7).
type ErrTombstoneBoundUnsatisfiable struct{}

func (ErrTombstoneBoundUnsatisfiable) Error() string {
	return "dynext: max_tombstone_proportion is 0, no tombstone can ever be admitted"
}

// Config is the construction-time configuration of spec.md §6 "External
// interfaces": buffer_capacity, scale_factor, max_tombstone_proportion,
// discipline, plus the AsyncFlush extension resolving spec.md §9's open
// question on background reconstruction.
type Config struct {
	BufferCapacity         int
	ScaleFactor            int
	MaxTombstoneProportion float64
	Discipline             level.Discipline

	// AsyncFlush is a reserved field for background reconstruction (see
	// the Open Question decision recorded in DESIGN.md). It is not read:
	// every flush and merge runs synchronously within the Insert/Erase
	// that triggers it, so the "at most C buffered" invariant holds.
	AsyncFlush bool
}

// DynamicExtension is the framework's single public entry point: one
// buffer, one shard cascade, single-writer/multi-reader per spec.md §5.
type DynamicExtension[K record.Key[K], V comparable, S shard.Shard[K, V]] struct {
	cfg     Config
	builder shard.Builder[K, V, S]
	log     rlog.Logger
	metrics *metrics.Registry

	writeMu sync.Mutex // serializes Insert/Erase (spec.md §5 "single-writer")
	buf     *buffer.Buffer[K, V]
	cascade atomic.Pointer[level.Cascade[K, V, S]] // published COW root (spec.md §5)
}

// New constructs an empty DynamicExtension.
func New[K record.Key[K], V comparable, S shard.Shard[K, V]](cfg Config, builder shard.Builder[K, V, S]) *DynamicExtension[K, V, S] {
	if cfg.BufferCapacity <= 0 {
		panic("dynext: buffer_capacity must be positive")
	}
	de := &DynamicExtension[K, V, S]{
		cfg:     cfg,
		builder: builder,
		log:     rlog.New("component", "dynext"),
		metrics: metrics.NewRegistry(),
		buf:     buffer.New[K, V](cfg.BufferCapacity),
	}
	de.cascade.Store(level.New[K, V, S](cfg.Discipline, cfg.ScaleFactor, cfg.BufferCapacity, cfg.MaxTombstoneProportion, builder))
	return de
}

// Insert appends (rec, tombstone=false) to the buffer, flushing first if
// the buffer is already at capacity.
func (de *DynamicExtension[K, V, S]) Insert(rec record.Record[K, V]) error {
	return de.append(rec, false)
}

// Erase appends (rec, tombstone=true) to the buffer, flushing first if
// the buffer is already at capacity. It does not verify rec currently
// exists (spec.md §4.5).
func (de *DynamicExtension[K, V, S]) Erase(rec record.Record[K, V]) error {
	if de.cfg.MaxTombstoneProportion <= 0 {
		return ErrTombstoneBoundUnsatisfiable{}
	}
	return de.append(rec, true)
}

func (de *DynamicExtension[K, V, S]) append(rec record.Record[K, V], tombstone bool) error {
	de.writeMu.Lock()
	defer de.writeMu.Unlock()

	if err := de.buf.Append(rec, tombstone); err != nil {
		if _, full := err.(buffer.ErrFull); !full {
			return err
		}
		if err := de.flush(); err != nil {
			return err
		}
		if err := de.buf.Append(rec, tombstone); err != nil {
			return err
		}
	}
	if tombstone {
		de.metrics.Counter("erase").Inc(1)
	} else {
		de.metrics.Counter("insert").Inc(1)
	}
	de.metrics.Gauge("buffer_records").Set(float64(de.buf.RecordCount()))
	return nil
}

// flush implements spec.md §4.5 "Buffer flush". The caller must hold
// writeMu. The buffer is only reset once the new shard is built and
// installed, so a construction failure leaves it fully intact and
// queryable (spec.md §7 "no silent data loss").
func (de *DynamicExtension[K, V, S]) flush() error {
	view := de.buf.Snapshot()
	if view.Len() == 0 {
		return nil
	}
	fresh, err := de.builder.BuildFromBuffer(view.All())
	if err != nil {
		return ErrShardConstructionFailed{Err: err}
	}

	cur := de.cascade.Load()
	next, err := cur.Install(fresh)
	if err != nil {
		return ErrShardConstructionFailed{Err: err}
	}
	de.cascade.Store(next)
	de.buf.Reset()
	de.metrics.Meter("flush").Mark(1)
	de.metrics.Gauge("cascade_shards").Set(float64(len(next.Shards())))
	de.log.Debug("flushed buffer", "records", view.Len())
	return nil
}

// snapshot captures a consistent (buffer view, shard cascade) pair for a
// query, per spec.md §5's linearizability guarantee: the buffer view is
// taken first, then the cascade pointer, so a query never observes a shard
// produced by a flush without also observing that flush's buffer reset (or
// observes neither, if the query raced ahead of the flush entirely).
func (de *DynamicExtension[K, V, S]) snapshot() query.View[K, V, S] {
	view := de.buf.Snapshot()
	cascade := de.cascade.Load()
	return query.View[K, V, S]{Buffer: view, Shards: cascade.Shards()}
}

// RecordCount returns the number of wrapped records currently buffered.
// Shard-resident counts are not included; callers wanting the full extent
// should sum across a snapshot's shards plus this value.
func (de *DynamicExtension[K, V, S]) RecordCount() int { return de.buf.RecordCount() }

// TombstoneCount returns the number of tombstone-marked records currently
// buffered.
func (de *DynamicExtension[K, V, S]) TombstoneCount() int { return de.buf.TombstoneCount() }

// MemoryUsage estimates resident memory across every shard in the current
// cascade. The buffer is not counted.
func (de *DynamicExtension[K, V, S]) MemoryUsage() uint64 {
	var total uint64
	cascade := de.cascade.Load()
	for _, s := range cascade.Shards() {
		total += s.MemoryUsage()
	}
	return total
}

// Metrics returns the instance's metric registry (insert/erase counters,
// a buffer_records/cascade_shards gauge pair, and a flush rate meter),
// for callers that want to read a Snapshot directly or hand the registry
// to a reporter such as metrics.NewInfluxDBReporter.
func (de *DynamicExtension[K, V, S]) Metrics() *metrics.Registry { return de.metrics }

// MemoryReport runs fjl/memsize's deep scanner over the live
// DynamicExtension, producing a human-readable breakdown by type --
// useful in diagnostics where MemoryUsage's shard-level estimate isn't
// granular enough.
func (de *DynamicExtension[K, V, S]) MemoryReport() string {
	report := memsize.Scan(de)
	return report.Report()
}

// Query runs the full protocol of spec.md §4.4 over a consistent snapshot
// of (buffer view, shard cascade). It is a free function rather than a
// method because Go does not allow a generic method to introduce type
// parameters beyond its receiver's.
func Query[K record.Key[K], V comparable, S shard.Shard[K, V], P any, LS any, BS any, LR any, FR any](
	ctx context.Context,
	de *DynamicExtension[K, V, S],
	q query.Class[K, V, S, P, LS, BS, LR, FR],
	params *P,
) (FR, error) {
	return query.Execute(ctx, q, de.snapshot(), params)
}
