package calendar

import (
	"context"
	"sync"
	"time"
)

// Cache stores one Entry per year. Implementations replace entries as a whole
// so readers never see a partially updated year.
type Cache interface {
	Get(ctx context.Context, year int) (Entry, bool)
	Put(ctx context.Context, e Entry)
}

// MemoryCache is an in-process Cache. Expired entries are kept for the stale
// retention window so the Provider can fall back to them.
type MemoryCache struct {
	mu             sync.RWMutex
	entries        map[int]Entry
	staleRetention time.Duration
	now            func() time.Time
}

func NewMemoryCache(staleRetention time.Duration) *MemoryCache {
	return &MemoryCache{
		entries:        make(map[int]Entry),
		staleRetention: staleRetention,
		now:            time.Now,
	}
}

func (c *MemoryCache) Get(_ context.Context, year int) (Entry, bool) {
	c.mu.RLock()
	e, ok := c.entries[year]
	c.mu.RUnlock()
	if !ok {
		return Entry{}, false
	}
	if c.staleRetention > 0 && c.now().After(e.ExpiresAt.Add(c.staleRetention)) {
		c.mu.Lock()
		if cur, ok := c.entries[year]; ok && cur.ExpiresAt.Equal(e.ExpiresAt) {
			delete(c.entries, year)
		}
		c.mu.Unlock()
		return Entry{}, false
	}
	return e, true
}

func (c *MemoryCache) Put(_ context.Context, e Entry) {
	holidays := make([]Holiday, len(e.Holidays))
	copy(holidays, e.Holidays)
	e.Holidays = holidays

	c.mu.Lock()
	c.entries[e.Year] = e
	c.mu.Unlock()
}

// Tiered reads through layers in order. A stale hit does not end the lookup:
// a slower shared layer may hold a fresher entry written by another instance.
// The freshest entry wins and back-fills the faster layers that lacked it.
// Writes go to every layer.
type Tiered struct {
	layers []Cache
	now    func() time.Time
}

func NewTiered(layers ...Cache) *Tiered {
	return &Tiered{layers: layers, now: time.Now}
}

func (t *Tiered) Get(ctx context.Context, year int) (Entry, bool) {
	var (
		best  Entry
		found bool
		seen  = make([]*Entry, 0, len(t.layers))
	)
	for _, c := range t.layers {
		e, ok := c.Get(ctx, year)
		if !ok {
			seen = append(seen, nil)
			continue
		}
		seen = append(seen, &e)
		if !found || e.ExpiresAt.After(best.ExpiresAt) {
			best, found = e, true
		}
		if best.Fresh(t.now()) {
			break
		}
	}
	if !found {
		return Entry{}, false
	}

	for i, e := range seen {
		if e == nil || e.ExpiresAt.Before(best.ExpiresAt) {
			t.layers[i].Put(ctx, best)
		}
	}
	return best, true
}

func (t *Tiered) Put(ctx context.Context, e Entry) {
	for _, c := range t.layers {
		c.Put(ctx, e)
	}
}
