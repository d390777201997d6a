package app

import (
	"fmt"
	"sync"
	"time"

	"github.com/Amund211/chatrelay/internal/adapters/cache"
	"github.com/jellydator/ttlcache/v3"
)

// Outlives any remote read, so a read never sees a write version disappear
const writeVersionTTL = 15 * time.Minute

// writeVersions records the last write to each cache key.
//
// A read remembers the version of its key before going to the remote, and
// only caches what it fetched if no write happened in the meantime.
type writeVersions struct {
	mu       sync.Mutex
	sequence uint64
	versions *ttlcache.Cache[string, uint64]
}

func newWriteVersions(ttl time.Duration) *writeVersions {
	return &writeVersions{
		versions: ttlcache.New[string, uint64](
			ttlcache.WithTTL[string, uint64](ttl),
			ttlcache.WithDisableTouchOnHit[string, uint64](),
		),
	}
}

func (v *writeVersions) currentLocked(key string) uint64 {
	if item := v.versions.Get(key); item != nil {
		return item.Value()
	}
	return 0
}

func (v *writeVersions) current(key string) uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.currentLocked(key)
}

// write records a write to key, and runs apply before any read can cache key again
func (v *writeVersions) write(key string, apply func()) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.sequence++
	v.versions.Set(key, v.sequence, ttlcache.DefaultTTL)
	apply()
}

// storeIfUnchanged runs store unless key was written since version was read
func (v *writeVersions) storeIfUnchanged(key string, version uint64, store func()) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.currentLocked(key) != version {
		return false
	}
	store()
	return true
}

func (v *writeVersions) Cleanup() {
	v.versions.DeleteExpired()
}

// requestKey identifies a remote read of key. Reads started after a write
// never join a read started before it.
func requestKey(key string, version uint64) string {
	return fmt.Sprintf("%s@%d", key, version)
}

// applyWrite updates the cached value of key as part of a write. update gets
// the cached value, if any, and returns what to cache, or false to drop it.
//
// Writes apply their change before the remote call and again after it
// succeeds, so a read that overlapped the remote call cannot leave the old
// value cached.
func applyWrite[T any](
	versions *writeVersions,
	store *cache.Store[T],
	key string,
	ttl time.Duration,
	update func(cached T, ok bool) (T, bool),
) {
	versions.write(key, func() {
		value, keep := update(store.Get(key))
		if !keep {
			store.Invalidate(key)
			return
		}
		store.Set(key, value, ttl)
	})
}

// discardWrite drops the cached value of key, which may not match the remote
func discardWrite[T any](versions *writeVersions, store *cache.Store[T], key string) {
	versions.write(key, func() {
		store.Invalidate(key)
	})
}
