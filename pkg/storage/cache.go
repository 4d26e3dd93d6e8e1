package storage

import (
	"container/list"
	"sync"
	"time"

	"github.com/vjranagit/pointstore/pkg/types"
)

// QueryCache implements an LRU cache for GET results.
//
// Writers call Invalidate after storing records for a stream. Readers take
// a Generation before reading from disk and hand it back to Put, which
// drops the result if the stream was written in between.
type QueryCache struct {
	capacity int
	ttl      time.Duration
	mu       sync.Mutex
	cache    map[cacheKey]*cacheEntry
	byUUID   map[string]map[cacheKey]struct{}
	lru      *list.List

	clock       uint64
	generations map[string]uint64

	now func() time.Time
}

type cacheKey struct {
	uuid  string
	start uint32
	end   uint32
}

// cacheEntry represents a cached query result
type cacheEntry struct {
	key       cacheKey
	records   []types.Record
	timestamp time.Time
	element   *list.Element
}

// NewQueryCache creates a new query cache. A capacity of zero or less
// disables caching.
func NewQueryCache(capacity int, ttl time.Duration) *QueryCache {
	return &QueryCache{
		capacity:    capacity,
		ttl:         ttl,
		cache:       make(map[cacheKey]*cacheEntry),
		byUUID:      make(map[string]map[cacheKey]struct{}),
		lru:         list.New(),
		generations: make(map[string]uint64),
		now:         time.Now,
	}
}

// Enabled reports whether the cache stores anything.
func (qc *QueryCache) Enabled() bool {
	return qc != nil && qc.capacity > 0
}

// Generation returns the current write generation of uuid.
func (qc *QueryCache) Generation(uuid string) uint64 {
	qc.mu.Lock()
	defer qc.mu.Unlock()
	return qc.generations[uuid]
}

// Get retrieves a cached query result
func (qc *QueryCache) Get(uuid string, tr types.TimeRange) ([]types.Record, bool) {
	if !qc.Enabled() {
		return nil, false
	}

	qc.mu.Lock()
	defer qc.mu.Unlock()

	key := cacheKey{uuid: uuid, start: tr.Start, end: tr.End}
	entry, exists := qc.cache[key]
	if !exists {
		return nil, false
	}

	if qc.expired(entry) {
		qc.removeLocked(key)
		return nil, false
	}

	// Move to front of LRU list (most recently used)
	qc.lru.MoveToFront(entry.element)

	return cloneRecords(entry.records), true
}

// Put stores a query result read at generation gen. It reports whether the
// result was stored.
func (qc *QueryCache) Put(uuid string, tr types.TimeRange, records []types.Record, gen uint64) bool {
	if !qc.Enabled() {
		return false
	}

	qc.mu.Lock()
	defer qc.mu.Unlock()

	if qc.generations[uuid] != gen {
		return false
	}

	key := cacheKey{uuid: uuid, start: tr.Start, end: tr.End}

	if entry, exists := qc.cache[key]; exists {
		entry.records = cloneRecords(records)
		entry.timestamp = qc.now()
		qc.lru.MoveToFront(entry.element)
		return true
	}

	entry := &cacheEntry{
		key:       key,
		records:   cloneRecords(records),
		timestamp: qc.now(),
	}
	entry.element = qc.lru.PushFront(entry)
	qc.cache[key] = entry

	keys, ok := qc.byUUID[uuid]
	if !ok {
		keys = make(map[cacheKey]struct{})
		qc.byUUID[uuid] = keys
	}
	keys[key] = struct{}{}

	// Evict oldest entry if cache is full
	if qc.lru.Len() > qc.capacity {
		if oldest := qc.lru.Back(); oldest != nil {
			qc.removeLocked(oldest.Value.(*cacheEntry).key)
		}
	}
	return true
}

// Invalidate drops every cached result of uuid and moves it to a new
// generation.
func (qc *QueryCache) Invalidate(uuid string) {
	qc.mu.Lock()
	defer qc.mu.Unlock()

	qc.clock++
	qc.generations[uuid] = qc.clock

	for key := range qc.byUUID[uuid] {
		qc.removeLocked(key)
	}
}

// removeLocked removes an entry from the cache (must hold lock)
func (qc *QueryCache) removeLocked(key cacheKey) {
	entry, exists := qc.cache[key]
	if !exists {
		return
	}
	qc.lru.Remove(entry.element)
	delete(qc.cache, key)

	if keys, ok := qc.byUUID[key.uuid]; ok {
		delete(keys, key)
		if len(keys) == 0 {
			delete(qc.byUUID, key.uuid)
		}
	}
}

func (qc *QueryCache) expired(entry *cacheEntry) bool {
	return qc.ttl > 0 && qc.now().Sub(entry.timestamp) > qc.ttl
}

// Clear clears all cache entries
func (qc *QueryCache) Clear() {
	qc.mu.Lock()
	defer qc.mu.Unlock()

	qc.cache = make(map[cacheKey]*cacheEntry)
	qc.byUUID = make(map[string]map[cacheKey]struct{})
	qc.lru = list.New()
}

// Size returns the current cache size
func (qc *QueryCache) Size() int {
	qc.mu.Lock()
	defer qc.mu.Unlock()
	return len(qc.cache)
}

// Stats returns cache statistics
func (qc *QueryCache) Stats() CacheStats {
	qc.mu.Lock()
	defer qc.mu.Unlock()

	expired := 0
	for _, entry := range qc.cache {
		if qc.expired(entry) {
			expired++
		}
	}

	return CacheStats{
		Size:     len(qc.cache),
		Capacity: qc.capacity,
		Expired:  expired,
	}
}

// CacheStats contains cache statistics
type CacheStats struct {
	Size     int `json:"size"`
	Capacity int `json:"capacity"`
	Expired  int `json:"expired"`
}

func cloneRecords(records []types.Record) []types.Record {
	if records == nil {
		return nil
	}
	out := make([]types.Record, len(records))
	copy(out, records)
	return out
}
