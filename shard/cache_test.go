package shard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type closerStub struct{ closed *bool }

func (c closerStub) Close() error {
	*c.closed = true
	return nil
}

func TestHandleCacheEvictsAndClosesLeastRecentlyUsed(t *testing.T) {
	hc, err := NewHandleCache[closerStub](1)
	require.NoError(t, err)

	closedA, closedB := false, false
	hc.Put("a", closerStub{closed: &closedA})
	assert.Equal(t, 1, hc.Len())

	hc.Put("b", closerStub{closed: &closedB})
	assert.Equal(t, 1, hc.Len(), "cache capacity is 1")
	assert.True(t, closedA, "evicting a over capacity must close its handle")
	assert.False(t, closedB)

	_, ok := hc.Get("a")
	assert.False(t, ok)
	_, ok = hc.Get("b")
	assert.True(t, ok)
}

func TestHandleCacheRemoveClosesOnDemand(t *testing.T) {
	hc, err := NewHandleCache[closerStub](4)
	require.NoError(t, err)

	closed := false
	hc.Put("x", closerStub{closed: &closed})
	hc.Remove("x")
	assert.True(t, closed)
	_, ok := hc.Get("x")
	assert.False(t, ok)
}

func TestRecordCacheRoundTripsAndResets(t *testing.T) {
	rc := NewRecordCache(1 << 20)
	rc.Set([]byte("k1"), []byte("v1"))

	v, ok := rc.Get([]byte("k1"))
	require.True(t, ok)
	assert.Equal(t, []byte("v1"), v)

	rc.Reset()
	_, ok = rc.Get([]byte("k1"))
	assert.False(t, ok)
}
