package cache

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"
)

const DefaultSimilarityThreshold = 0.85

// Similarity scores how alike two queries are, from 0 (unrelated) to 1 (same)
type Similarity func(a, b string) float64

func tokenSet(text string) map[string]struct{} {
	tokens := strings.Fields(strings.ToLower(text))
	set := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		set[token] = struct{}{}
	}
	return set
}

// JaccardSimilarity is |A ∩ B| / |A ∪ B| over the lower-cased whitespace tokens of a and b
func JaccardSimilarity(a, b string) float64 {
	tokensA := tokenSet(a)
	tokensB := tokenSet(b)

	intersection := 0
	for token := range tokensA {
		if _, ok := tokensB[token]; ok {
			intersection++
		}
	}

	union := len(tokensA) + len(tokensB) - intersection
	if union == 0 {
		return 0
	}

	return float64(intersection) / float64(union)
}

type SemanticEntry[V any] struct {
	Entry[V]
	QueryText string
}

type semanticEntry[V any] struct {
	key string
	SemanticEntry[V]
}

// SemanticIndex caches values by approximate query text.
//
// Lookups score every live entry with the similarity function and return the
// best match at or above the threshold. The index has its own key space,
// separate from any Store.
type SemanticIndex[V any] struct {
	name       string
	threshold  float64
	similarity Similarity
	maxEntries int
	nowFunc    func() time.Time

	mu      sync.Mutex
	entries map[string]*list.Element
	// Insertion order, used as the tie-breaker when scoring
	order *list.List
}

func NewSemanticIndex[V any](
	name string,
	threshold float64,
	similarity Similarity,
	maxEntries int,
	nowFunc func() time.Time,
) *SemanticIndex[V] {
	if maxEntries <= 0 {
		panic("cache: maxEntries must be positive")
	}
	if similarity == nil {
		similarity = JaccardSimilarity
	}
	return &SemanticIndex[V]{
		name:       name,
		threshold:  threshold,
		similarity: similarity,
		maxEntries: maxEntries,
		nowFunc:    nowFunc,
		entries:    make(map[string]*list.Element),
		order:      list.New(),
	}
}

func QueryKey(query string) string {
	sum := sha256.Sum256([]byte(query))
	return hex.EncodeToString(sum[:])
}

func (idx *SemanticIndex[V]) Lookup(query string) (V, bool) {
	match, ok := idx.LookupEntry(query)
	return match.Value, ok
}

// LookupEntry is Lookup, but also returns the matched query and entry metadata
func (idx *SemanticIndex[V]) LookupEntry(query string) (SemanticEntry[V], bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	now := idx.nowFunc()

	var best *semanticEntry[V]
	bestScore := 0.0
	for elem := idx.order.Front(); elem != nil; {
		next := elem.Next()
		entry := elem.Value.(*semanticEntry[V])
		if entry.expiredAt(now) {
			idx.removeElement(elem)
			elem = next
			continue
		}

		score := idx.similarity(query, entry.QueryText)
		if score >= idx.threshold && (best == nil || score > bestScore) {
			best = entry
			bestScore = score
		}
		elem = next
	}

	if best == nil {
		recordLookup(idx.name, "miss")
		return SemanticEntry[V]{}, false
	}

	best.AccessCount++
	best.LastAccessedAt = now
	recordLookup(idx.name, "hit")
	return best.SemanticEntry, true
}

func (idx *SemanticIndex[V]) Store(query string, value V, ttl time.Duration) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	key := QueryKey(query)

	if ttl <= 0 {
		if elem, ok := idx.entries[key]; ok {
			idx.removeElement(elem)
		}
		return
	}

	now := idx.nowFunc()
	entry := SemanticEntry[V]{
		Entry: Entry[V]{
			Value:          value,
			CreatedAt:      now,
			TTL:            ttl,
			AccessCount:    1,
			LastAccessedAt: now,
		},
		QueryText: query,
	}

	if elem, ok := idx.entries[key]; ok {
		elem.Value.(*semanticEntry[V]).SemanticEntry = entry
		return
	}

	idx.entries[key] = idx.order.PushBack(&semanticEntry[V]{key: key, SemanticEntry: entry})

	evicted := 0
	for idx.order.Len() > idx.maxEntries {
		idx.removeElement(idx.leastRecentlyUsed(now))
		evicted++
	}
	recordEvictions(idx.name, evicted)
}

// Cleanup removes every expired entry and returns how many were removed
func (idx *SemanticIndex[V]) Cleanup() int {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	now := idx.nowFunc()
	removed := 0
	for elem := idx.order.Front(); elem != nil; {
		next := elem.Next()
		if elem.Value.(*semanticEntry[V]).expiredAt(now) {
			idx.removeElement(elem)
			removed++
		}
		elem = next
	}
	return removed
}

func (idx *SemanticIndex[V]) Clear() {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.entries = make(map[string]*list.Element)
	idx.order.Init()
}

func (idx *SemanticIndex[V]) Len() int {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	return idx.order.Len()
}

// leastRecentlyUsed prefers an expired entry, then the oldest access, first found on ties
func (idx *SemanticIndex[V]) leastRecentlyUsed(now time.Time) *list.Element {
	var oldest *list.Element
	for elem := idx.order.Front(); elem != nil; elem = elem.Next() {
		entry := elem.Value.(*semanticEntry[V])
		if entry.expiredAt(now) {
			return elem
		}
		if oldest == nil || entry.LastAccessedAt.Before(oldest.Value.(*semanticEntry[V]).LastAccessedAt) {
			oldest = elem
		}
	}
	return oldest
}

func (idx *SemanticIndex[V]) removeElement(elem *list.Element) {
	entry := idx.order.Remove(elem).(*semanticEntry[V])
	delete(idx.entries, entry.key)
}
