package assembly

import (
	"sync"
	"time"

	"github.com/hyperengineering/helix/internal/types"
)

// ResourceKind identifies what a cache entry holds.
type ResourceKind string

const (
	KindRecipe      ResourceKind = "recipe"
	KindFactSet     ResourceKind = "fact-set"
	KindQuestionSet ResourceKind = "question-set"
)

// cacheKey builds the canonical key for a stitch resource.
func cacheKey(kind ResourceKind, stitchID string) string {
	return string(kind) + "/" + stitchID
}

// CacheEntry is one assembled resource with its bookkeeping.
type CacheEntry struct {
	Key         string
	Kind        ResourceKind
	Recipe      *types.Recipe    // set when Kind == KindRecipe
	Facts       []types.Fact     // set when Kind == KindFactSet
	Questions   []types.Question // set when Kind == KindQuestionSet
	Tier        Tier
	FetchedAt   time.Time
	AccessCount int
	lastAccess  int64 // monotonic access sequence for LRU ordering
}

// Cache is the per-user assembled-content cache. Multiple readers may fetch
// concurrently; each key has a single writer (the pipeline task that owns
// the stitch). Eviction is LRU over buffer-tier entries only; entries inside
// the protected window are never evicted regardless of recency.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]*CacheEntry
	protected  map[string]struct{}
	maxEntries int
	accessSeq  int64
}

// NewCache creates a cache bounded to maxEntries.
func NewCache(maxEntries int) *Cache {
	return &Cache{
		entries:    make(map[string]*CacheEntry),
		protected:  make(map[string]struct{}),
		maxEntries: maxEntries,
	}
}

// Put stores an entry and evicts if the cache grew past its bound.
// Eviction never removes a protected entry, so a Put can leave the cache
// temporarily over budget when everything unprotected is gone.
func (c *Cache) Put(entry *CacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.accessSeq++
	entry.lastAccess = c.accessSeq
	if entry.FetchedAt.IsZero() {
		entry.FetchedAt = time.Now()
	}
	c.entries[entry.Key] = entry

	if len(c.entries) > c.maxEntries {
		c.evictLocked(len(c.entries) - c.maxEntries)
	}
}

// Get returns an entry and records the access.
func (c *Cache) Get(kind ResourceKind, stitchID string) (*CacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[cacheKey(kind, stitchID)]
	if !ok {
		return nil, false
	}
	c.accessSeq++
	entry.lastAccess = c.accessSeq
	entry.AccessCount++
	return entry, true
}

// Has reports presence without counting an access.
func (c *Cache) Has(kind ResourceKind, stitchID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[cacheKey(kind, stitchID)]
	return ok
}

// Retier updates the protected window. Keys in the window take the given
// tier; every other entry is demoted to the lowest buffer tier, making it
// eligible for eviction while staying available for revisit.
func (c *Cache) Retier(window map[string]Tier) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.protected = make(map[string]struct{}, len(window))
	for key, tier := range window {
		c.protected[key] = struct{}{}
		if entry, ok := c.entries[key]; ok {
			entry.Tier = tier
		}
	}
	for key, entry := range c.entries {
		if _, ok := window[key]; !ok {
			entry.Tier = TierBufferRecipes
		}
	}
}

// Evict trims the cache down to its bound. Called by the eviction
// coordinator between Put-driven evictions.
func (c *Cache) Evict() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	over := len(c.entries) - c.maxEntries
	if over <= 0 {
		return 0
	}
	return c.evictLocked(over)
}

// evictLocked removes up to n least-recently-accessed unprotected
// buffer-tier entries. Entries at tiers 1–3 are left alone; Retier demotes
// them once they leave the window.
func (c *Cache) evictLocked(n int) int {
	removed := 0
	for removed < n {
		var victim *CacheEntry
		for key, entry := range c.entries {
			if _, ok := c.protected[key]; ok {
				continue
			}
			if entry.Tier != TierBufferFacts && entry.Tier != TierBufferRecipes {
				continue
			}
			if victim == nil || entry.lastAccess < victim.lastAccess {
				victim = entry
			}
		}
		if victim == nil {
			break // nothing evictable
		}
		delete(c.entries, victim.Key)
		removed++
	}
	return removed
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
