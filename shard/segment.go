// DiskShard is the on-disk counterpart to FlatShard: a write-once,
// snappy-compressed blob file plus a memory-mapped, fixed-width offset index,
// adapted from go-ethereum's core/rawdb.freezerTable (data file + index file,
// index entries small and cheap to keep resident, bulk payload left on
// disk). A freezerTable is a long-lived, appendable, multi-file chain built
// to survive process restarts across an entire chain's lifetime; a shard
// here is built once by a Builder and never appended to again, so this
// collapses that design to a single data file and a single index file,
// both written in one pass and then mapped read-only.
package shard

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/edsrzf/mmap-go"
	"github.com/golang/snappy"
	"github.com/pborman/uuid"
	"github.com/steakknife/bloomfilter"

	"github.com/psu-db/dynext/record"
	"github.com/psu-db/dynext/rlp"
)

// DiskShard reads its record set out of two memory-mapped files rather than
// a resident Go slice, trading PointLookup/RecordAt latency for a memory
// footprint bounded by the index (one fixed-width entry per record) instead
// of the full record set. A cascade uses DiskShards when it is built with
// a SegmentBuilder; there is no size threshold that switches shard types.
type DiskShard[K record.Key[K], V comparable] struct {
	id    string
	dir   string
	count int
	tombs int

	dataFile *os.File
	data     mmap.MMap // snappy-compressed record blobs, concatenated

	indexFile *os.File
	index     mmap.MMap // count*indexEntrySize, one (offset,length) pair per record

	keyCodec rlp.Codec[K]
	valCodec rlp.Codec[V]

	filter *bloomfilter.Filter
}

const indexEntrySize = 16 // uint64 offset + uint64 length, each into the compressed data file

// SegmentBuilder is the Builder[K,V,*DiskShard[K,V]] for DiskShard. Dir is
// the directory new shards are written under; each gets its own
// uuid-named subdirectory, mirroring freezerTable's one-table-per-name
// layout.
type SegmentBuilder[K record.Key[K], V comparable] struct {
	Dir       string
	KeyCodec  rlp.Codec[K]
	ValCodec  rlp.Codec[V]
	KeyBytes  func(K) []byte
}

func (b SegmentBuilder[K, V]) BuildFromBuffer(records []record.Wrapped[K, V]) (*DiskShard[K, V], error) {
	data := make([]record.Wrapped[K, V], len(records))
	copy(data, records)
	quicksortWrapped(data)
	return b.write(data)
}

func (b SegmentBuilder[K, V]) BuildFromMerge(shards []*DiskShard[K, V]) (*DiskShard[K, V], error) {
	flat := make([]*FlatShard[K, V], len(shards))
	for i, s := range shards {
		loaded, err := s.loadAll()
		if err != nil {
			return nil, err
		}
		flat[i] = &FlatShard[K, V]{id: s.id, data: loaded, tombs: s.tombs}
	}
	merged, tombs := mergeConstruct(flat)
	ds, err := b.write(merged)
	if err != nil {
		return nil, err
	}
	ds.tombs = tombs
	return ds, nil
}

// write serializes an already key-sorted record set to a fresh data/index
// file pair and maps them back in read-only, the same open-after-write
// pattern freezerTable's repair() uses after a table is finalized.
func (b SegmentBuilder[K, V]) write(data []record.Wrapped[K, V]) (*DiskShard[K, V], error) {
	id := uuid.New()
	dir := filepath.Join(b.Dir, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("shard: creating segment dir: %w", err)
	}

	dataFile, err := os.OpenFile(filepath.Join(dir, "data.snappy"), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	indexFile, err := os.OpenFile(filepath.Join(dir, "index.bin"), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}

	var offset uint64
	index := make([]byte, 0, len(data)*indexEntrySize)
	var entry [indexEntrySize]byte
	tombs := 0
	for _, w := range data {
		plain := rlp.EncodeWrapped(nil, w.IsTombstone(), w.Timestamp, b.KeyCodec.Encode(w.Key()), b.ValCodec.Encode(w.Value()))
		compressed := snappy.Encode(nil, plain)
		if _, err := dataFile.Write(compressed); err != nil {
			return nil, err
		}
		binary.BigEndian.PutUint64(entry[0:8], offset)
		binary.BigEndian.PutUint64(entry[8:16], uint64(len(compressed)))
		index = append(index, entry[:]...)
		offset += uint64(len(compressed))
		if w.IsTombstone() {
			tombs++
		}
	}
	if _, err := indexFile.Write(index); err != nil {
		return nil, err
	}
	if err := dataFile.Sync(); err != nil {
		return nil, err
	}
	if err := indexFile.Sync(); err != nil {
		return nil, err
	}

	ds := &DiskShard[K, V]{
		id: id, dir: dir, count: len(data), tombs: tombs,
		dataFile: dataFile, indexFile: indexFile,
		keyCodec: b.KeyCodec, valCodec: b.ValCodec,
	}
	if err := ds.mapFiles(); err != nil {
		return nil, err
	}
	if b.KeyBytes != nil && len(data) >= minBloomEntries {
		f, err := bloomfilter.NewOptimal(uint64(len(data)), 0.01)
		if err == nil {
			for _, w := range data {
				f.Add(bloomHash(b.KeyBytes(w.Key())))
			}
			ds.filter = f
		}
	}
	return ds, nil
}

func (ds *DiskShard[K, V]) mapFiles() error {
	if ds.count == 0 {
		return nil
	}
	data, err := mmap.Map(ds.dataFile, mmap.RDONLY, 0)
	if err != nil {
		return fmt.Errorf("shard: mapping data file: %w", err)
	}
	index, err := mmap.Map(ds.indexFile, mmap.RDONLY, 0)
	if err != nil {
		data.Unmap()
		return fmt.Errorf("shard: mapping index file: %w", err)
	}
	ds.data = data
	ds.index = index
	return nil
}

// Close unmaps the shard's backing files. A shard evicted from a Level's
// handle cache must be closed before its files can be removed or the
// process runs out of mapped regions under heavy churn.
func (ds *DiskShard[K, V]) Close() error {
	var err error
	if ds.data != nil {
		err = ds.data.Unmap()
	}
	if ds.index != nil {
		if e := ds.index.Unmap(); e != nil && err == nil {
			err = e
		}
	}
	if e := ds.dataFile.Close(); e != nil && err == nil {
		err = e
	}
	if e := ds.indexFile.Close(); e != nil && err == nil {
		err = e
	}
	return err
}

// Remove closes and deletes the shard's backing directory. Called once a
// merge that consumed this shard has been durably committed.
func (ds *DiskShard[K, V]) Remove() error {
	if err := ds.Close(); err != nil {
		return err
	}
	return os.RemoveAll(ds.dir)
}

func (ds *DiskShard[K, V]) entry(idx int) (offset, length uint64) {
	off := idx * indexEntrySize
	return binary.BigEndian.Uint64(ds.index[off : off+8]), binary.BigEndian.Uint64(ds.index[off+8 : off+16])
}

func (ds *DiskShard[K, V]) decodeAt(idx int) (record.Wrapped[K, V], error) {
	offset, length := ds.entry(idx)
	compressed := ds.data[offset : offset+length]
	plain, err := snappy.Decode(nil, compressed)
	if err != nil {
		var zero record.Wrapped[K, V]
		return zero, fmt.Errorf("shard: decompressing record %d: %w", idx, err)
	}
	tombstone, ts, keyBytes, valBytes, _, err := rlp.DecodeWrapped(plain)
	if err != nil {
		var zero record.Wrapped[K, V]
		return zero, err
	}
	key, err := ds.keyCodec.Decode(keyBytes)
	if err != nil {
		var zero record.Wrapped[K, V]
		return zero, err
	}
	val, err := ds.valCodec.Decode(valBytes)
	if err != nil {
		var zero record.Wrapped[K, V]
		return zero, err
	}
	return record.New(record.Record[K, V]{Key: key, Value: val}, tombstone, ts), nil
}

func (ds *DiskShard[K, V]) loadAll() ([]record.Wrapped[K, V], error) {
	out := make([]record.Wrapped[K, V], ds.count)
	for i := range out {
		w, err := ds.decodeAt(i)
		if err != nil {
			return nil, err
		}
		out[i] = w
	}
	return out, nil
}

// RecordCount implements Shard.
func (ds *DiskShard[K, V]) RecordCount() int { return ds.count }

// TombstoneCount implements Shard.
func (ds *DiskShard[K, V]) TombstoneCount() int { return ds.tombs }

// MemoryUsage implements Shard: only the mapped index counts against
// resident memory, since the data file is paged in by the OS on demand.
func (ds *DiskShard[K, V]) MemoryUsage() uint64 { return uint64(len(ds.index)) }

// LowerBound implements Shard via binary search, decoding only the probed
// entries rather than the whole shard.
func (ds *DiskShard[K, V]) LowerBound(key K) int {
	lo, hi := 0, ds.count
	for lo < hi {
		mid := (lo + hi) / 2
		w, err := ds.decodeAt(mid)
		if err != nil {
			// A corrupt record reads as "not less than anything", pushing
			// the search toward the safer (lower) half.
			hi = mid
			continue
		}
		if w.Key().Less(key) {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// RecordAt implements Shard.
func (ds *DiskShard[K, V]) RecordAt(idx int) record.Wrapped[K, V] {
	w, err := ds.decodeAt(idx)
	if err != nil {
		// Shard records are validated at construction time; a decode
		// failure here means on-disk corruption after the fact.
		panic(err)
	}
	return w
}

// PointLookup implements Shard by binary search over the mapped index. It
// does not consult the bloom filter; callers holding the key's bytes can
// check MaybeContains first.
func (ds *DiskShard[K, V]) PointLookup(key K) (record.Wrapped[K, V], bool) {
	idx := ds.LowerBound(key)
	if idx >= ds.count {
		return record.Wrapped[K, V]{}, false
	}
	w := ds.RecordAt(idx)
	if w.Key() != key {
		return record.Wrapped[K, V]{}, false
	}
	return w, true
}

// MaybeContains mirrors FlatShard.MaybeContains.
func (ds *DiskShard[K, V]) MaybeContains(keyBytes []byte) bool {
	if ds.filter == nil {
		return true
	}
	return ds.filter.Contains(bloomHash(keyBytes))
}

// ID implements the shard identity contract used by HandleCache.
func (ds *DiskShard[K, V]) ID() string { return ds.id }

// Weight implements Shard.
func (ds *DiskShard[K, V]) Weight() float64 { return float64(ds.count - ds.tombs) }
