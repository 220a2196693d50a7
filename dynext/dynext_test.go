package dynext

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/davecgh/go-spew/spew"
	mapset "github.com/deckarep/golang-set"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psu-db/dynext/level"
	"github.com/psu-db/dynext/query"
	"github.com/psu-db/dynext/record"
	"github.com/psu-db/dynext/shard"
)

type intKey int

func (k intKey) Less(other intKey) bool { return k < other }

func newTestExtension(t *testing.T, cfg Config) *DynamicExtension[intKey, int, *shard.FlatShard[intKey, int]] {
	t.Helper()
	return New[intKey, int, *shard.FlatShard[intKey, int]](cfg, shard.FlatBuilder[intKey, int]{})
}

func defaultCfg() Config {
	return Config{
		BufferCapacity:         4,
		ScaleFactor:            2,
		MaxTombstoneProportion: 0.5,
		Discipline:             level.Tiering,
	}
}

func TestInsertThenRangeQueryRoundTrip(t *testing.T) {
	de := newTestExtension(t, defaultCfg())
	for i := 1; i <= 3; i++ {
		require.NoError(t, de.Insert(record.Record[intKey, int]{Key: intKey(i), Value: i * 10}))
	}

	out, err := Query[intKey, int, *shard.FlatShard[intKey, int]](context.Background(), de, query.RangeQuery[intKey, int, *shard.FlatShard[intKey, int]]{}, &query.RangeParams[intKey]{Low: 1, High: 3})
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, intKey(1), out[0].Key)
	assert.Equal(t, intKey(3), out[2].Key)
}

func TestEraseHidesRecordFromPointLookup(t *testing.T) {
	de := newTestExtension(t, defaultCfg())
	require.NoError(t, de.Insert(record.Record[intKey, int]{Key: 1, Value: 100}))
	require.NoError(t, de.Erase(record.Record[intKey, int]{Key: 1, Value: 100}))

	out, err := Query[intKey, int, *shard.FlatShard[intKey, int]](context.Background(), de, query.PointLookup[intKey, int, *shard.FlatShard[intKey, int]]{}, &query.PointParams[intKey]{Key: 1})
	require.NoError(t, err)
	assert.False(t, out.Found)
}

func TestEraseSurvivesAcrossBufferFlush(t *testing.T) {
	cfg := defaultCfg()
	cfg.BufferCapacity = 2
	de := newTestExtension(t, cfg)

	require.NoError(t, de.Insert(record.Record[intKey, int]{Key: 1, Value: 100}))
	require.NoError(t, de.Insert(record.Record[intKey, int]{Key: 2, Value: 200}))
	// Buffer is now full; this Erase triggers a flush of [1,2] to a shard,
	// then buffers the tombstone for key 1 itself.
	require.NoError(t, de.Erase(record.Record[intKey, int]{Key: 1, Value: 100}))

	out, err := Query[intKey, int, *shard.FlatShard[intKey, int]](context.Background(), de, query.PointLookup[intKey, int, *shard.FlatShard[intKey, int]]{}, &query.PointParams[intKey]{Key: 1})
	require.NoError(t, err)
	assert.False(t, out.Found)

	out2, err := Query[intKey, int, *shard.FlatShard[intKey, int]](context.Background(), de, query.PointLookup[intKey, int, *shard.FlatShard[intKey, int]]{}, &query.PointParams[intKey]{Key: 2})
	require.NoError(t, err)
	require.True(t, out2.Found)
	assert.Equal(t, 200, out2.Record.Value())
}

func TestBufferFlushesAtCapacityAndResets(t *testing.T) {
	cfg := defaultCfg()
	cfg.BufferCapacity = 2
	de := newTestExtension(t, cfg)

	require.NoError(t, de.Insert(record.Record[intKey, int]{Key: 1, Value: 1}))
	require.NoError(t, de.Insert(record.Record[intKey, int]{Key: 2, Value: 2}))
	assert.Equal(t, 2, de.RecordCount())

	// Triggers a flush of the two buffered records before this one is
	// appended to the now-empty buffer.
	require.NoError(t, de.Insert(record.Record[intKey, int]{Key: 3, Value: 3}))
	assert.Equal(t, 1, de.RecordCount())

	out, err := Query[intKey, int, *shard.FlatShard[intKey, int]](context.Background(), de, query.RangeCount[intKey, int, *shard.FlatShard[intKey, int]]{}, &query.RangeParams[intKey]{Low: 0, High: 100})
	require.NoError(t, err)
	assert.Equal(t, 3, out)
}

func TestEraseReturnsErrTombstoneBoundUnsatisfiableWhenDeltaZero(t *testing.T) {
	cfg := defaultCfg()
	cfg.MaxTombstoneProportion = 0
	de := newTestExtension(t, cfg)

	err := de.Erase(record.Record[intKey, int]{Key: 1, Value: 1})
	assert.ErrorIs(t, err, ErrTombstoneBoundUnsatisfiable{})
	// The buffer must remain untouched by the rejected erase.
	assert.Equal(t, 0, de.RecordCount())
}

// failingBuilder fails its first BuildFromBuffer call, then delegates.
type failingBuilder struct {
	shard.FlatBuilder[intKey, int]
	fail bool
}

func (b *failingBuilder) BuildFromBuffer(records []record.Wrapped[intKey, int]) (*shard.FlatShard[intKey, int], error) {
	if b.fail {
		b.fail = false
		return nil, errors.New("construction boom")
	}
	return b.FlatBuilder.BuildFromBuffer(records)
}

func TestFailedFlushLeavesBufferIntact(t *testing.T) {
	fb := &failingBuilder{fail: true}
	cfg := defaultCfg()
	cfg.BufferCapacity = 2
	de := New[intKey, int, *shard.FlatShard[intKey, int]](cfg, fb)

	require.NoError(t, de.Insert(record.Record[intKey, int]{Key: 1, Value: 1}))
	require.NoError(t, de.Insert(record.Record[intKey, int]{Key: 2, Value: 2}))

	err := de.Insert(record.Record[intKey, int]{Key: 3, Value: 3})
	var ctorErr ErrShardConstructionFailed
	require.ErrorAs(t, err, &ctorErr)

	// The flush failed before resetting the buffer, so the two originally
	// buffered records must still be queryable.
	assert.Equal(t, 2, de.RecordCount())

	out, err := Query[intKey, int, *shard.FlatShard[intKey, int]](context.Background(), de, query.RangeCount[intKey, int, *shard.FlatShard[intKey, int]]{}, &query.RangeParams[intKey]{Low: 0, High: 100})
	require.NoError(t, err)
	assert.Equal(t, 2, out)

	// A retry with the builder no longer failing succeeds.
	require.NoError(t, de.Insert(record.Record[intKey, int]{Key: 3, Value: 3}))
	assert.Equal(t, 1, de.RecordCount())
}

// TestRangeQueryMatchesNaiveReferenceModel drives a randomized sequence of
// inserts/erases through both a DynamicExtension (forcing several buffer
// flushes and level merges along the way, via a deliberately small
// BufferCapacity/ScaleFactor) and a trivial map-based reference
// implementation, then checks a full-range RangeQuery surfaces exactly the
// reference's live key set -- order-independent, via mapset, since the two
// implementations may legitimately disagree on internal ordering of
// equal-priority ties that don't affect which keys are live.
func TestRangeQueryMatchesNaiveReferenceModel(t *testing.T) {
	cfg := defaultCfg()
	cfg.BufferCapacity = 5
	cfg.ScaleFactor = 2
	de := newTestExtension(t, cfg)

	reference := make(map[intKey]int)
	rng := rand.New(rand.NewSource(1234))

	for i := 0; i < 500; i++ {
		key := intKey(rng.Intn(40))
		if rng.Intn(3) == 0 && len(reference) > 0 {
			require.NoError(t, de.Erase(record.Record[intKey, int]{Key: key, Value: reference[key]}))
			delete(reference, key)
			continue
		}
		val := rng.Intn(1000)
		if old, ok := reference[key]; ok {
			// The extension holds a multiset of (key, value) records, so the
			// map model's "replace the value" is an erase of the old record
			// followed by an insert of the new one.
			require.NoError(t, de.Erase(record.Record[intKey, int]{Key: key, Value: old}))
		}
		require.NoError(t, de.Insert(record.Record[intKey, int]{Key: key, Value: val}))
		reference[key] = val
	}

	out, err := Query[intKey, int, *shard.FlatShard[intKey, int]](context.Background(), de, query.RangeQuery[intKey, int, *shard.FlatShard[intKey, int]]{}, &query.RangeParams[intKey]{Low: 0, High: 40})
	require.NoError(t, err)

	got := mapset.NewSet()
	gotValues := make(map[intKey]int, len(out))
	for _, r := range out {
		got.Add(r.Key)
		gotValues[r.Key] = r.Value
	}

	want := mapset.NewSet()
	for k := range reference {
		want.Add(k)
	}

	if !got.Equal(want) {
		t.Fatalf("live key sets differ (+got -want):\n%s\ngot records: %s", cmp.Diff(want.ToSlice(), got.ToSlice()), spew.Sdump(out))
	}
	for k, v := range reference {
		assert.Equal(t, v, gotValues[k], "key %v: value mismatch", k)
	}
}
