package cache

import (
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// Chance that a Set also sweeps every expired entry
const cleanupProbability = 0.1

type Entry[V any] struct {
	Value          V
	CreatedAt      time.Time
	TTL            time.Duration
	AccessCount    int64
	LastAccessedAt time.Time
}

func (e *Entry[V]) expiredAt(now time.Time) bool {
	return !e.CreatedAt.Add(e.TTL).After(now)
}

type StoreStats struct {
	Size      int
	Hits      int64
	Misses    int64
	Evictions int64
}

// Store is a key-value cache with a TTL per entry and a bounded number of entries.
//
// Entries are kept in access order (most recently used first) by the
// underlying ttlcache, so eviction removes the entry with the oldest
// LastAccessedAt, and ties are broken by the order the entries were last
// touched in. Expiry is judged against nowFunc rather than by ttlcache, which
// only knows the wall clock.
type Store[V any] struct {
	name       string
	maxEntries int
	nowFunc    func() time.Time
	randFunc   func() float64

	mu      sync.Mutex
	entries *ttlcache.Cache[string, *Entry[V]]

	hits      int64
	misses    int64
	evictions int64
}

func NewStore[V any](name string, maxEntries int, nowFunc func() time.Time) *Store[V] {
	if maxEntries <= 0 {
		panic("cache: maxEntries must be positive")
	}
	return &Store[V]{
		name:       name,
		maxEntries: maxEntries,
		nowFunc:    nowFunc,
		randFunc:   rand.Float64,
		entries: ttlcache.New[string, *Entry[V]](
			ttlcache.WithTTL[string, *Entry[V]](ttlcache.NoTTL),
			ttlcache.WithCapacity[string, *Entry[V]](uint64(maxEntries)),
			ttlcache.WithDisableTouchOnHit[string, *Entry[V]](),
		),
	}
}

func (s *Store[V]) Get(key string) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var empty V

	// Moves the entry to the front of the access order
	item := s.entries.Get(key)
	if item == nil {
		s.misses++
		recordLookup(s.name, "miss")
		return empty, false
	}

	now := s.nowFunc()
	entry := item.Value()
	if entry.expiredAt(now) {
		s.entries.Delete(key)
		s.misses++
		recordLookup(s.name, "expired")
		return empty, false
	}

	entry.AccessCount++
	entry.LastAccessedAt = now

	s.hits++
	recordLookup(s.name, "hit")
	return entry.Value, true
}

// Entry returns a copy of the entry metadata without counting as an access
func (s *Store[V]) Entry(key string) (Entry[V], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.entries.Items()[key]
	if !ok {
		return Entry[V]{}, false
	}
	entry := item.Value()
	if entry.expiredAt(s.nowFunc()) {
		return Entry[V]{}, false
	}
	return *entry, true
}

// Set stores value under key for ttl.
//
// A non-positive ttl stores nothing and drops any existing entry for the key.
// Use Invalidate to remove entries explicitly.
func (s *Store[V]) Set(key string, value V, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ttl <= 0 {
		s.entries.Delete(key)
		return
	}

	now := s.nowFunc()
	if !s.entries.Has(key) && s.entries.Len() >= s.maxEntries {
		s.removeExpired(now)
		if s.entries.Len() >= s.maxEntries {
			// ttlcache makes room by dropping the least recently used entry
			s.evictions++
			recordEvictions(s.name, 1)
		}
	}

	s.entries.Set(key, &Entry[V]{
		Value:          value,
		CreatedAt:      now,
		TTL:            ttl,
		AccessCount:    1,
		LastAccessedAt: now,
	}, ttlcache.NoTTL)

	if s.randFunc() < cleanupProbability {
		s.removeExpired(now)
	}
}

func (s *Store[V]) Invalidate(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries.Delete(key)
}

// InvalidatePrefix removes every entry whose key starts with prefix
func (s *Store[V]) InvalidatePrefix(prefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for _, key := range s.entries.Keys() {
		if strings.HasPrefix(key, prefix) {
			s.entries.Delete(key)
			removed++
		}
	}
	return removed
}

// Cleanup removes every expired entry and returns how many were removed
func (s *Store[V]) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.removeExpired(s.nowFunc())
}

func (s *Store[V]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries.DeleteAll()
}

func (s *Store[V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.entries.Len()
}

func (s *Store[V]) Stats() StoreStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return StoreStats{
		Size:      s.entries.Len(),
		Hits:      s.hits,
		Misses:    s.misses,
		Evictions: s.evictions,
	}
}

func (s *Store[V]) removeExpired(now time.Time) int {
	var expired []string
	s.entries.Range(func(item *ttlcache.Item[string, *Entry[V]]) bool {
		if item.Value().expiredAt(now) {
			expired = append(expired, item.Key())
		}
		return true
	})
	for _, key := range expired {
		s.entries.Delete(key)
	}
	return len(expired)
}
