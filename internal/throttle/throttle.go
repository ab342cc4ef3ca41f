// Package throttle paces outbound search calls per source and memoizes
// their results.
package throttle

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"tomarr/internal/sources"
)

// Throttler enforces a minimum interval between calls per source. Callers
// block until their turn; nothing is dropped.
type Throttler struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rates    map[string]int
}

// NewThrottler builds a throttler from per-source calls-per-minute rates.
// Sources without an entry are not throttled.
func NewThrottler(ratesPerMinute map[string]int) *Throttler {
	t := &Throttler{
		limiters: make(map[string]*rate.Limiter),
		rates:    make(map[string]int, len(ratesPerMinute)),
	}
	for source, perMinute := range ratesPerMinute {
		t.rates[source] = perMinute
	}
	return t
}

// Wait blocks until the source may issue its next call.
func (t *Throttler) Wait(ctx context.Context, source string) error {
	limiter := t.limiter(source)
	if limiter == nil {
		return nil
	}
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("throttle %s: %w", source, err)
	}
	return nil
}

func (t *Throttler) limiter(source string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()

	if limiter, ok := t.limiters[source]; ok {
		return limiter
	}
	perMinute, ok := t.rates[source]
	if !ok || perMinute <= 0 {
		return nil
	}
	limiter := rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
	t.limiters[source] = limiter
	return limiter
}

// DefaultTTL is how long cached search results stay valid.
const DefaultTTL = 60 * time.Minute

type cacheEntry struct {
	results []sources.Result
	expires time.Time
}

// ResultCache memoizes search results by (source, normalized title, volume).
// Hits bypass the throttler entirely.
type ResultCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cacheEntry
	now     func() time.Time
}

// NewCache builds a cache with the given TTL; ttl <= 0 uses DefaultTTL.
func NewCache(ttl time.Duration) *ResultCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &ResultCache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

// Get returns the cached results and whether the entry was live.
func (c *ResultCache) Get(source, title string, volume int) ([]sources.Result, bool) {
	key := cacheKey(source, title, volume)

	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().After(entry.expires) {
		delete(c.entries, key)
		return nil, false
	}
	return entry.results, true
}

// Put stores one result list. Empty lists are cached too: a source that
// found nothing should not be hammered again within the TTL.
func (c *ResultCache) Put(source, title string, volume int, results []sources.Result) {
	key := cacheKey(source, title, volume)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{results: results, expires: c.now().Add(c.ttl)}
}

// Purge drops expired entries.
func (c *ResultCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for key, entry := range c.entries {
		if now.After(entry.expires) {
			delete(c.entries, key)
		}
	}
}

func cacheKey(source, title string, volume int) string {
	return strings.Join([]string{source, sources.NormalizeTitle(title), fmt.Sprintf("%d", volume)}, "|")
}
