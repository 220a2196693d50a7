package shard

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psu-db/dynext/record"
)

type intKey int

func (k intKey) Less(other intKey) bool { return k < other }

func keyBytes(k intKey) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(k))
	return b
}

func wrap(key intKey, val string, tomb bool, ts uint32) record.Wrapped[intKey, string] {
	return record.New(record.Record[intKey, string]{Key: key, Value: val}, tomb, ts)
}

func TestBuildFromBufferSortsByKey(t *testing.T) {
	b := FlatBuilder[intKey, string]{KeyBytes: keyBytes}
	fs, err := b.BuildFromBuffer([]record.Wrapped[intKey, string]{
		wrap(3, "c", false, 0), wrap(1, "a", false, 1), wrap(2, "b", false, 2),
	})
	require.NoError(t, err)
	require.Equal(t, 3, fs.RecordCount())
	assert.Equal(t, intKey(1), fs.RecordAt(0).Key())
	assert.Equal(t, intKey(2), fs.RecordAt(1).Key())
	assert.Equal(t, intKey(3), fs.RecordAt(2).Key())
}

func TestPointLookup(t *testing.T) {
	b := FlatBuilder[intKey, string]{}
	fs, err := b.BuildFromBuffer([]record.Wrapped[intKey, string]{
		wrap(1, "a", false, 0), wrap(5, "e", false, 1),
	})
	require.NoError(t, err)

	w, ok := fs.PointLookup(5)
	require.True(t, ok)
	assert.Equal(t, "e", w.Value())

	_, ok = fs.PointLookup(3)
	assert.False(t, ok)
}

func TestMergeCancelsLiveAndTombstonePair(t *testing.T) {
	b := FlatBuilder[intKey, string]{}
	// newest: a tombstone for key 1; older: the live record it cancels.
	newest, err := b.BuildFromBuffer([]record.Wrapped[intKey, string]{wrap(1, "a", true, 5)})
	require.NoError(t, err)
	older, err := b.BuildFromBuffer([]record.Wrapped[intKey, string]{wrap(1, "a", false, 0), wrap(2, "b", false, 0)})
	require.NoError(t, err)

	merged, err := b.BuildFromMerge([]*FlatShard[intKey, string]{newest, older})
	require.NoError(t, err)

	assert.Equal(t, 1, merged.RecordCount())
	assert.Equal(t, 0, merged.TombstoneCount())
	w := merged.RecordAt(0)
	assert.Equal(t, intKey(2), w.Key())
}

func TestMergeRetainsUnmatchedTombstone(t *testing.T) {
	b := FlatBuilder[intKey, string]{}
	newest, err := b.BuildFromBuffer([]record.Wrapped[intKey, string]{wrap(1, "a", true, 5)})
	require.NoError(t, err)
	older, err := b.BuildFromBuffer([]record.Wrapped[intKey, string]{wrap(2, "b", false, 0)})
	require.NoError(t, err)

	merged, err := b.BuildFromMerge([]*FlatShard[intKey, string]{newest, older})
	require.NoError(t, err)

	require.Equal(t, 2, merged.RecordCount())
	assert.Equal(t, 1, merged.TombstoneCount())
}

func TestMergeRetainsLiveRecordNewerThanTombstone(t *testing.T) {
	b := FlatBuilder[intKey, string]{}
	// newest: a live re-insert of key 1 after an older erase; the older
	// tombstone must not cancel a copy that is newer than it.
	newest, err := b.BuildFromBuffer([]record.Wrapped[intKey, string]{wrap(1, "a", false, 9)})
	require.NoError(t, err)
	older, err := b.BuildFromBuffer([]record.Wrapped[intKey, string]{wrap(1, "a", true, 0)})
	require.NoError(t, err)

	merged, err := b.BuildFromMerge([]*FlatShard[intKey, string]{newest, older})
	require.NoError(t, err)

	require.Equal(t, 2, merged.RecordCount())
	assert.Equal(t, 1, merged.TombstoneCount())
}

func TestBloomFilterRejectsAbsentKeyAboveThreshold(t *testing.T) {
	recs := make([]record.Wrapped[intKey, string], 0, minBloomEntries)
	for i := 0; i < minBloomEntries; i++ {
		recs = append(recs, wrap(intKey(i*2), "v", false, uint32(i)))
	}
	b := FlatBuilder[intKey, string]{KeyBytes: keyBytes}
	fs, err := b.BuildFromBuffer(recs)
	require.NoError(t, err)
	require.NotNil(t, fs.filter)

	assert.True(t, fs.MaybeContains(keyBytes(0)))
	// An absent odd key should usually be rejected by the filter; this is
	// probabilistic, so we only assert the filter is actually consulted
	// (MaybeContains returns false for at least one absent key).
	rejectedAny := false
	for i := 1; i < minBloomEntries*2; i += 2 {
		if !fs.MaybeContains(keyBytes(intKey(i))) {
			rejectedAny = true
			break
		}
	}
	assert.True(t, rejectedAny)
}
