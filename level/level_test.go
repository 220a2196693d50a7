package level

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psu-db/dynext/record"
	"github.com/psu-db/dynext/shard"
)

type intKey int

func (k intKey) Less(other intKey) bool { return k < other }

func buildShard(t *testing.T, b shard.FlatBuilder[intKey, int], keys ...intKey) *shard.FlatShard[intKey, int] {
	t.Helper()
	recs := make([]record.Wrapped[intKey, int], len(keys))
	for i, k := range keys {
		recs[i] = record.New(record.Record[intKey, int]{Key: k, Value: int(k)}, false, uint32(i))
	}
	s, err := b.BuildFromBuffer(recs)
	require.NoError(t, err)
	return s
}

func TestTieringMergesOnceScaleFactorExceeded(t *testing.T) {
	b := shard.FlatBuilder[intKey, int]{}
	c := New[intKey, int, *shard.FlatShard[intKey, int]](Tiering, 2, 10, 1.0, b)

	c1, err := c.Install(buildShard(t, b, 1, 2))
	require.NoError(t, err)
	assert.Len(t, c1.Shards(), 1)

	c2, err := c1.Install(buildShard(t, b, 3, 4))
	require.NoError(t, err)
	assert.Len(t, c2.Shards(), 2, "level 0 holds up to scale_factor shards before merging")

	c3, err := c2.Install(buildShard(t, b, 5, 6))
	require.NoError(t, err)
	// Installing a third shard overflows level 0 (scale_factor=2); all
	// three merge into one shard at level 1.
	require.Len(t, c3.Shards(), 1)
	assert.Equal(t, 6, c3.Shards()[0].RecordCount())
}

func TestTieringInstallDoesNotMutateReceiver(t *testing.T) {
	b := shard.FlatBuilder[intKey, int]{}
	c := New[intKey, int, *shard.FlatShard[intKey, int]](Tiering, 2, 10, 1.0, b)
	c1, err := c.Install(buildShard(t, b, 1))
	require.NoError(t, err)

	assert.Len(t, c.Shards(), 0)
	assert.Len(t, c1.Shards(), 1)
}

func TestLevelingKeepsAtMostOneResidentShardPerLevel(t *testing.T) {
	b := shard.FlatBuilder[intKey, int]{}
	c := New[intKey, int, *shard.FlatShard[intKey, int]](Leveling, 4, 10, 1.0, b)

	c1, err := c.Install(buildShard(t, b, 1))
	require.NoError(t, err)
	require.Len(t, c1.Shards(), 1)

	c2, err := c1.Install(buildShard(t, b, 2))
	require.NoError(t, err)
	require.Len(t, c2.Shards(), 1)
	assert.Equal(t, 2, c2.Shards()[0].RecordCount())
}

func TestTombstoneHeavyShardStopsAtEmptyLevel(t *testing.T) {
	b := shard.FlatBuilder[intKey, int]{}
	c := New[intKey, int, *shard.FlatShard[intKey, int]](Tiering, 4, 10, 0.1, b)

	recs := []record.Wrapped[intKey, int]{
		record.New(record.Record[intKey, int]{Key: 1, Value: 1}, true, 0),
	}
	tombShard, err := b.BuildFromBuffer(recs)
	require.NoError(t, err)

	c1, err := c.Install(tombShard)
	require.NoError(t, err)
	// A lone tombstone shard's ratio (1.0) exceeds delta=0.1, but level 0
	// is empty and holds nothing to merge it with, so the shard is accepted
	// there and Install terminates instead of cascading forever.
	require.Len(t, c1.Shards(), 1)
}
