package terrain

import (
	"sync"
	"time"

	"github.com/banshee-data/terrain.report/internal/timeutil"
)

// datasetCache is the in-memory fingerprint cache. Entries are committed
// whole under the lock, so readers always observe either nothing or a fully
// acquired dataset; there is no partially written state.
type datasetCache struct {
	mu      sync.RWMutex
	clock   timeutil.Clock
	ttl     time.Duration
	entries map[Fingerprint]cacheEntry
}

type cacheEntry struct {
	dataset *ElevationDataset
	expiry  time.Time
}

func newDatasetCache(clock timeutil.Clock, ttl time.Duration) *datasetCache {
	return &datasetCache{
		clock:   clock,
		ttl:     ttl,
		entries: make(map[Fingerprint]cacheEntry),
	}
}

// get returns a live entry, lazily evicting it when expired.
func (c *datasetCache) get(fp Fingerprint) (*ElevationDataset, bool) {
	c.mu.RLock()
	e, ok := c.entries[fp]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.clock.Now().After(e.expiry) {
		c.mu.Lock()
		// Re-check under the write lock; another goroutine may have
		// replaced the entry meanwhile.
		if cur, still := c.entries[fp]; still && c.clock.Now().After(cur.expiry) {
			delete(c.entries, fp)
		}
		c.mu.Unlock()
		return nil, false
	}
	return e.dataset, true
}

// put commits a dataset atomically.
func (c *datasetCache) put(ds *ElevationDataset) time.Time {
	expiry := c.clock.Now().Add(c.ttl)
	c.mu.Lock()
	c.entries[ds.Fingerprint] = cacheEntry{dataset: ds, expiry: expiry}
	c.mu.Unlock()
	return expiry
}

// invalidate removes an entry explicitly.
func (c *datasetCache) invalidate(fp Fingerprint) {
	c.mu.Lock()
	delete(c.entries, fp)
	c.mu.Unlock()
}

func (c *datasetCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
