// Package botcache caches each organization's bot list.
//
// Entries expire after a TTL and the number of cached organizations is
// bounded; the oldest entry is evicted first. Concurrent misses for the same
// organization share a single load.
package botcache

import (
	"context"
	"sync"
	"time"

	"github.com/RichardoC/mentorfy/internal/models"
	"golang.org/x/sync/singleflight"
)

// Loader fetches the authoritative bot list of an organization.
type Loader func(ctx context.Context, orgID string) ([]models.Bot, error)

type Stats struct {
	Hits    int
	Misses  int
	Entries int
}

type entry struct {
	bots     []models.Bot
	loadedAt time.Time
}

type Cache struct {
	mu         sync.Mutex
	entries    map[string]*entry
	gens       map[string]uint64 // bumped by Invalidate
	ttl        time.Duration
	maxEntries int
	load       Loader
	group      singleflight.Group
	now        func() time.Time

	hits   int
	misses int
}

// New creates a cache. ttl <= 0 defaults to one minute and maxEntries <= 0
// to 1000 organizations.
func New(load Loader, ttl time.Duration, maxEntries int) *Cache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	return &Cache{
		entries:    make(map[string]*entry),
		gens:       make(map[string]uint64),
		ttl:        ttl,
		maxEntries: maxEntries,
		load:       load,
		now:        time.Now,
	}
}

// Get returns the organization's bots, loading them on a miss. The returned
// slice is a copy.
func (c *Cache) Get(ctx context.Context, orgID string) ([]models.Bot, error) {
	c.mu.Lock()
	if e, ok := c.entries[orgID]; ok {
		if c.now().Sub(e.loadedAt) < c.ttl {
			c.hits++
			bots := clone(e.bots)
			c.mu.Unlock()
			return bots, nil
		}
		delete(c.entries, orgID)
	}
	c.misses++
	c.mu.Unlock()

	v, err, _ := c.group.Do(orgID, func() (any, error) {
		c.mu.Lock()
		gen := c.gens[orgID]
		c.mu.Unlock()

		bots, err := c.load(ctx, orgID)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		// a write landed while loading; serve the result but don't keep it
		if c.gens[orgID] == gen {
			c.storeLocked(orgID, bots)
		}
		c.mu.Unlock()
		return bots, nil
	})
	if err != nil {
		return nil, err
	}
	return clone(v.([]models.Bot)), nil
}

// Invalidate drops the organization's entry. Loads already in flight are
// not cached.
func (c *Cache) Invalidate(orgID string) {
	c.mu.Lock()
	delete(c.entries, orgID)
	c.gens[orgID]++
	c.mu.Unlock()
	c.group.Forget(orgID)
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Hits: c.hits, Misses: c.misses, Entries: len(c.entries)}
}

func (c *Cache) storeLocked(orgID string, bots []models.Bot) {
	if _, ok := c.entries[orgID]; !ok && len(c.entries) >= c.maxEntries {
		c.evictOldestLocked()
	}
	c.entries[orgID] = &entry{bots: clone(bots), loadedAt: c.now()}
}

func (c *Cache) evictOldestLocked() {
	var oldest string
	var oldestAt time.Time
	for id, e := range c.entries {
		if oldest == "" || e.loadedAt.Before(oldestAt) {
			oldest, oldestAt = id, e.loadedAt
		}
	}
	if oldest != "" {
		delete(c.entries, oldest)
	}
}

func clone(bots []models.Bot) []models.Bot {
	out := make([]models.Bot, len(bots))
	copy(out, bots)
	return out
}
