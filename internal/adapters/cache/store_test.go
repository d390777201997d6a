package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type testClock struct {
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func newTestStore(t *testing.T, maxEntries int, clock *testClock) *Store[string] {
	t.Helper()
	store := NewStore[string]("test", maxEntries, clock.Now)
	// Only clean up when the tests ask for it
	store.randFunc = func() float64 { return 1 }
	return store
}

func TestStoreGetSet(t *testing.T) {
	t.Parallel()

	t.Run("missing key", func(t *testing.T) {
		t.Parallel()
		store := newTestStore(t, 10, newTestClock())

		_, ok := store.Get("key1")
		require.False(t, ok)
	})

	t.Run("set and get", func(t *testing.T) {
		t.Parallel()
		store := newTestStore(t, 10, newTestClock())

		store.Set("key1", "value1", time.Minute)

		value, ok := store.Get("key1")
		require.True(t, ok)
		require.Equal(t, "value1", value)
	})

	t.Run("overwrite", func(t *testing.T) {
		t.Parallel()
		store := newTestStore(t, 10, newTestClock())

		store.Set("key1", "value1", time.Minute)
		store.Set("key1", "value2", time.Minute)

		value, ok := store.Get("key1")
		require.True(t, ok)
		require.Equal(t, "value2", value)
		require.Equal(t, 1, store.Len())
	})

	t.Run("non-positive ttl drops the entry", func(t *testing.T) {
		t.Parallel()
		store := newTestStore(t, 10, newTestClock())

		store.Set("key1", "value1", time.Minute)
		store.Set("key1", "", 0)

		_, ok := store.Get("key1")
		require.False(t, ok)
		require.Equal(t, 0, store.Len())
	})

	t.Run("access tracking", func(t *testing.T) {
		t.Parallel()
		clock := newTestClock()
		store := newTestStore(t, 10, clock)

		store.Set("key1", "value1", time.Hour)
		createdAt := clock.Now()

		clock.Advance(time.Minute)
		_, ok := store.Get("key1")
		require.True(t, ok)
		clock.Advance(time.Minute)
		_, ok = store.Get("key1")
		require.True(t, ok)

		entry, ok := store.Entry("key1")
		require.True(t, ok)
		require.Equal(t, int64(3), entry.AccessCount)
		require.Equal(t, createdAt, entry.CreatedAt)
		require.Equal(t, createdAt.Add(2*time.Minute), entry.LastAccessedAt)
	})
}

func TestStoreTTL(t *testing.T) {
	t.Parallel()

	for _, ttl := range []time.Duration{time.Millisecond, time.Second, 5 * time.Minute, 24 * time.Hour} {
		t.Run(ttl.String(), func(t *testing.T) {
			t.Parallel()
			clock := newTestClock()
			store := newTestStore(t, 10, clock)

			store.Set("key", "value", ttl)

			clock.Advance(ttl - time.Nanosecond)
			value, ok := store.Get("key")
			require.True(t, ok, "entry should be present before the ttl has elapsed")
			require.Equal(t, "value", value)

			clock.Advance(time.Nanosecond)
			_, ok = store.Get("key")
			require.False(t, ok, "entry should be absent once the ttl has elapsed")

			// Removed as a side effect of the lookup
			require.Equal(t, 0, store.Len())
		})
	}

	t.Run("reads do not extend the ttl", func(t *testing.T) {
		t.Parallel()
		clock := newTestClock()
		store := newTestStore(t, 10, clock)

		store.Set("key", "value", time.Minute)
		for range 5 {
			clock.Advance(10 * time.Second)
			_, ok := store.Get("key")
			require.True(t, ok)
		}

		clock.Advance(10 * time.Second)
		_, ok := store.Get("key")
		require.False(t, ok)
	})

	t.Run("overwrite restarts the ttl", func(t *testing.T) {
		t.Parallel()
		clock := newTestClock()
		store := newTestStore(t, 10, clock)

		store.Set("key", "value1", time.Minute)
		clock.Advance(50 * time.Second)
		store.Set("key", "value2", time.Minute)
		clock.Advance(50 * time.Second)

		value, ok := store.Get("key")
		require.True(t, ok)
		require.Equal(t, "value2", value)
	})
}

func TestStoreLRUEviction(t *testing.T) {
	t.Parallel()

	t.Run("inserting one too many evicts the oldest access", func(t *testing.T) {
		t.Parallel()
		clock := newTestClock()
		store := newTestStore(t, 3, clock)

		store.Set("a", "a", time.Hour)
		clock.Advance(time.Second)
		store.Set("b", "b", time.Hour)
		clock.Advance(time.Second)
		store.Set("c", "c", time.Hour)
		clock.Advance(time.Second)

		// a is now the most recently used
		_, ok := store.Get("a")
		require.True(t, ok)
		clock.Advance(time.Second)

		store.Set("d", "d", time.Hour)

		require.Equal(t, 3, store.Len())
		_, ok = store.Get("b")
		require.False(t, ok, "b had the oldest access and should have been evicted")
		for _, key := range []string{"a", "c", "d"} {
			_, ok := store.Get(key)
			require.True(t, ok, key)
		}
		require.Equal(t, int64(1), store.Stats().Evictions)
	})

	t.Run("ties are broken by access order", func(t *testing.T) {
		t.Parallel()
		// Frozen clock: every entry has the same LastAccessedAt
		store := newTestStore(t, 3, newTestClock())

		store.Set("a", "a", time.Hour)
		store.Set("b", "b", time.Hour)
		store.Set("c", "c", time.Hour)
		_, ok := store.Get("a")
		require.True(t, ok)

		store.Set("d", "d", time.Hour)

		_, ok = store.Get("b")
		require.False(t, ok)
		_, ok = store.Get("a")
		require.True(t, ok)
	})

	t.Run("reading metadata is not an access", func(t *testing.T) {
		t.Parallel()
		store := newTestStore(t, 3, newTestClock())

		store.Set("a", "a", time.Hour)
		store.Set("b", "b", time.Hour)
		store.Set("c", "c", time.Hour)
		entry, ok := store.Entry("a")
		require.True(t, ok)
		require.Equal(t, int64(1), entry.AccessCount)

		store.Set("d", "d", time.Hour)

		_, ok = store.Entry("a")
		require.False(t, ok, "a was least recently used and should have been evicted")
		require.Equal(t, 3, store.Len())
	})

	t.Run("overwriting does not evict", func(t *testing.T) {
		t.Parallel()
		store := newTestStore(t, 2, newTestClock())

		store.Set("a", "a", time.Hour)
		store.Set("b", "b", time.Hour)
		store.Set("a", "a2", time.Hour)

		require.Equal(t, 2, store.Len())
		require.Equal(t, int64(0), store.Stats().Evictions)
		value, ok := store.Get("a")
		require.True(t, ok)
		require.Equal(t, "a2", value)
	})

	t.Run("expired entries are dropped before live ones", func(t *testing.T) {
		t.Parallel()
		clock := newTestClock()
		store := newTestStore(t, 3, clock)

		store.Set("a", "a", time.Hour)
		store.Set("short", "short", time.Second)
		store.Set("c", "c", time.Hour)
		clock.Advance(2 * time.Second)

		store.Set("d", "d", time.Hour)

		require.Equal(t, 3, store.Len())
		require.Equal(t, int64(0), store.Stats().Evictions)
		for _, key := range []string{"a", "c", "d"} {
			_, ok := store.Get(key)
			require.True(t, ok, key)
		}
	})

	t.Run("many inserts stay bounded", func(t *testing.T) {
		t.Parallel()
		clock := newTestClock()
		store := newTestStore(t, 10, clock)

		for i := range 100 {
			clock.Advance(time.Millisecond)
			store.Set(fmt.Sprintf("key%d", i), "value", time.Hour)
		}

		require.Equal(t, 10, store.Len())
		for i := 90; i < 100; i++ {
			_, ok := store.Get(fmt.Sprintf("key%d", i))
			require.True(t, ok)
		}
	})
}

func TestStoreInvalidate(t *testing.T) {
	t.Parallel()

	t.Run("invalidate", func(t *testing.T) {
		t.Parallel()
		store := newTestStore(t, 10, newTestClock())

		store.Set("key1", "value1", time.Minute)
		store.Set("key2", "value2", time.Minute)
		store.Invalidate("key1")
		store.Invalidate("missing")

		_, ok := store.Get("key1")
		require.False(t, ok)
		_, ok = store.Get("key2")
		require.True(t, ok)
	})

	t.Run("invalidate prefix", func(t *testing.T) {
		t.Parallel()
		store := newTestStore(t, 10, newTestClock())

		store.Set("messages:1:a", "1", time.Minute)
		store.Set("messages:1:b", "2", time.Minute)
		store.Set("messages:2:a", "3", time.Minute)

		require.Equal(t, 2, store.InvalidatePrefix("messages:1:"))
		require.Equal(t, 1, store.Len())
		_, ok := store.Get("messages:2:a")
		require.True(t, ok)
	})

	t.Run("clear", func(t *testing.T) {
		t.Parallel()
		store := newTestStore(t, 10, newTestClock())

		store.Set("key1", "value1", time.Minute)
		store.Clear()

		require.Equal(t, 0, store.Len())
		_, ok := store.Get("key1")
		require.False(t, ok)
	})
}

func TestStoreCleanup(t *testing.T) {
	t.Parallel()

	t.Run("explicit cleanup", func(t *testing.T) {
		t.Parallel()
		clock := newTestClock()
		store := newTestStore(t, 10, clock)

		store.Set("short1", "1", time.Second)
		store.Set("short2", "2", time.Second)
		store.Set("long", "3", time.Hour)
		clock.Advance(time.Minute)

		require.Equal(t, 3, store.Len())
		require.Equal(t, 2, store.Cleanup())
		require.Equal(t, 1, store.Len())
	})

	t.Run("opportunistic cleanup on set", func(t *testing.T) {
		t.Parallel()
		clock := newTestClock()
		store := newTestStore(t, 10, clock)

		store.Set("short", "1", time.Second)
		clock.Advance(time.Minute)

		store.randFunc = func() float64 { return 0.05 }
		store.Set("other", "2", time.Hour)

		require.Equal(t, 1, store.Len())
	})
}

func TestStoreStats(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, 10, newTestClock())
	store.Set("key", "value", time.Minute)

	_, _ = store.Get("key")
	_, _ = store.Get("key")
	_, _ = store.Get("missing")

	require.Equal(t, StoreStats{Size: 1, Hits: 2, Misses: 1}, store.Stats())
}
