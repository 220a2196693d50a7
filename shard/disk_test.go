package shard

import (
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psu-db/dynext/record"
)

type intCodec struct{}

func (intCodec) Encode(k intKey) []byte { return keyBytes(k) }
func (intCodec) Decode(b []byte) (intKey, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("intCodec: bad length %d", len(b))
	}
	return intKey(binary.BigEndian.Uint64(b)), nil
}

type stringCodec struct{}

func (stringCodec) Encode(s string) []byte        { return []byte(s) }
func (stringCodec) Decode(b []byte) (string, error) { return string(b), nil }

func TestDiskShardRoundTripsBuildFromBuffer(t *testing.T) {
	b := SegmentBuilder[intKey, string]{
		Dir:      t.TempDir(),
		KeyCodec: intCodec{},
		ValCodec: stringCodec{},
		KeyBytes: keyBytes,
	}
	ds, err := b.BuildFromBuffer([]record.Wrapped[intKey, string]{
		wrap(3, "c", false, 0), wrap(1, "a", false, 1), wrap(2, "b", false, 2),
	})
	require.NoError(t, err)
	defer ds.Close()

	require.Equal(t, 3, ds.RecordCount())
	assert.Equal(t, intKey(1), ds.RecordAt(0).Key())
	assert.Equal(t, intKey(2), ds.RecordAt(1).Key())
	assert.Equal(t, intKey(3), ds.RecordAt(2).Key())

	w, ok := ds.PointLookup(2)
	require.True(t, ok)
	assert.Equal(t, "b", w.Value())

	_, ok = ds.PointLookup(9)
	assert.False(t, ok)
}

func TestDiskShardMergeCancelsTombstone(t *testing.T) {
	dir := t.TempDir()
	b := SegmentBuilder[intKey, string]{Dir: dir, KeyCodec: intCodec{}, ValCodec: stringCodec{}}

	newest, err := b.BuildFromBuffer([]record.Wrapped[intKey, string]{wrap(1, "a", true, 5)})
	require.NoError(t, err)
	defer newest.Close()
	older, err := b.BuildFromBuffer([]record.Wrapped[intKey, string]{wrap(1, "a", false, 0), wrap(2, "b", false, 0)})
	require.NoError(t, err)
	defer older.Close()

	merged, err := b.BuildFromMerge([]*DiskShard[intKey, string]{newest, older})
	require.NoError(t, err)
	defer merged.Close()

	assert.Equal(t, 1, merged.RecordCount())
	assert.Equal(t, intKey(2), merged.RecordAt(0).Key())
}

func TestLevelDBShardRoundTripsBuildFromBuffer(t *testing.T) {
	b := LevelDBBuilder[intKey, string]{
		Dir:      t.TempDir(),
		KeyCodec: intCodec{},
		ValCodec: stringCodec{},
		KeyBytes: keyBytes,
	}

	ls, err := b.BuildFromBuffer([]record.Wrapped[intKey, string]{
		wrap(3, "c", false, 0), wrap(1, "a", false, 1), wrap(2, "b", false, 2),
	})
	require.NoError(t, err)
	defer ls.Close()

	require.Equal(t, 3, ls.RecordCount())
	assert.Equal(t, intKey(1), ls.RecordAt(0).Key())
	assert.Equal(t, intKey(3), ls.RecordAt(2).Key())

	w, ok := ls.PointLookup(3)
	require.True(t, ok)
	assert.Equal(t, "c", w.Value())
}

func TestLevelDBShardMergeRetainsUnmatchedTombstone(t *testing.T) {
	dir := t.TempDir()
	b := LevelDBBuilder[intKey, string]{Dir: dir, KeyCodec: intCodec{}, ValCodec: stringCodec{}}

	newest, err := b.BuildFromBuffer([]record.Wrapped[intKey, string]{wrap(5, "e", true, 1)})
	require.NoError(t, err)
	defer newest.Close()
	older, err := b.BuildFromBuffer([]record.Wrapped[intKey, string]{wrap(6, "f", false, 0)})
	require.NoError(t, err)
	defer older.Close()

	merged, err := b.BuildFromMerge([]*LevelDBShard[intKey, string]{newest, older})
	require.NoError(t, err)
	defer merged.Close()

	require.Equal(t, 2, merged.RecordCount())
	assert.Equal(t, 1, merged.TombstoneCount())
}
