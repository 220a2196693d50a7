package shard

import (
	"fmt"
	"sync"

	"github.com/VictoriaMetrics/fastcache"
	lru "github.com/hashicorp/golang-lru"
)

// Closer is implemented by shard types that hold OS resources open for the
// life of the shard (DiskShard's memory maps and file descriptors).
type Closer interface {
	Close() error
}

// HandleCache bounds the number of open shard handles (for DiskShard,
// mmap'd file descriptors) its caller keeps at once, evicting the
// least-recently-used handle once the cap is reached. This is the same role
// go-ethereum's trie/state handle caches play around its disk layer: opening
// a shard is cheap relative to the syscalls of mmap'ing it, so the cache
// keys on shard ID and closes evictees rather than merely dropping them.
type HandleCache[S Closer] struct {
	mu    sync.Mutex
	cache *lru.Cache
}

// NewHandleCache builds a cache holding at most size open shard handles.
func NewHandleCache[S Closer](size int) (*HandleCache[S], error) {
	hc := &HandleCache[S]{}
	c, err := lru.NewWithEvict(size, func(_, value interface{}) {
		if s, ok := value.(S); ok {
			_ = s.Close()
		}
	})
	if err != nil {
		return nil, fmt.Errorf("shard: building handle cache: %w", err)
	}
	hc.cache = c
	return hc, nil
}

// Get returns the cached handle for id, if any.
func (hc *HandleCache[S]) Get(id string) (S, bool) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	var zero S
	v, ok := hc.cache.Get(id)
	if !ok {
		return zero, false
	}
	return v.(S), true
}

// Put registers a newly-opened handle under id, evicting and closing the
// least-recently-used handle if the cache is already at capacity.
func (hc *HandleCache[S]) Put(id string, s S) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.cache.Add(id, s)
}

// Remove evicts id without waiting for LRU pressure, used when a shard is
// deleted outright after a merge consumes it.
func (hc *HandleCache[S]) Remove(id string) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.cache.Remove(id)
}

// Len returns the number of handles currently cached.
func (hc *HandleCache[S]) Len() int {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	return hc.cache.Len()
}

// RecordCache is a bounded, off-heap byte cache fronting PointLookup against
// DiskShard, avoiding repeat decompress+decode of hot records. Keyed by a
// caller-supplied shard-id+key byte string; values are the caller's own
// encoding of a decoded record, so RecordCache stays agnostic to K and V.
// Grounded on go-ethereum's use of fastcache as the account/storage trie
// read cache in core/state/snapshot.
type RecordCache struct {
	cache *fastcache.Cache
}

// NewRecordCache builds a cache capped at maxBytes of off-heap memory.
func NewRecordCache(maxBytes int) *RecordCache {
	return &RecordCache{cache: fastcache.New(maxBytes)}
}

// Get returns the cached bytes for key, if present.
func (rc *RecordCache) Get(key []byte) ([]byte, bool) {
	v, ok := rc.cache.HasGet(nil, key)
	return v, ok
}

// Set stores value under key, overwriting any prior entry.
func (rc *RecordCache) Set(key, value []byte) {
	rc.cache.Set(key, value)
}

// Reset clears every cached entry, used after a merge invalidates a shard's
// contents wholesale.
func (rc *RecordCache) Reset() {
	rc.cache.Reset()
}
