package checkout

import (
	"context"
	"sync"
	"time"

	"siphon/pkg/logger"
)

// TokenCache is a bounded in-memory cache of idempotency token -> checkout
// result. It is strictly a latency optimization: correctness rests on the
// durable uniqueness constraint on the orders table, so a cold or evicted
// cache only costs an extra database round trip.
type TokenCache struct {
	mu         sync.RWMutex
	entries    map[string]tokenEntry
	ttl        time.Duration
	maxEntries int
}

type tokenEntry struct {
	result    Result
	expiresAt time.Time
}

// NewTokenCache creates a cache. TTL should be minutes, not hours, so memory
// stays bounded and stale retries eventually fall through to the durable path.
func NewTokenCache(ttl time.Duration, maxEntries int) *TokenCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if maxEntries <= 0 {
		maxEntries = 10_000
	}
	return &TokenCache{
		entries:    make(map[string]tokenEntry),
		ttl:        ttl,
		maxEntries: maxEntries,
	}
}

// Get returns the cached result for a token, if present and fresh.
func (c *TokenCache) Get(token string) (Result, bool) {
	if token == "" {
		return Result{}, false
	}

	c.mu.RLock()
	entry, ok := c.entries[token]
	c.mu.RUnlock()

	if !ok || time.Now().After(entry.expiresAt) {
		return Result{}, false
	}
	return entry.result, true
}

// Put stores a result under a token. When the cache is full, expired entries
// are swept first; if still full the new entry is simply not cached.
func (c *TokenCache) Put(token string, result Result) {
	if token == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxEntries {
		now := time.Now()
		for k, e := range c.entries {
			if now.After(e.expiresAt) {
				delete(c.entries, k)
			}
		}
		if len(c.entries) >= c.maxEntries {
			return
		}
	}

	c.entries[token] = tokenEntry{
		result:    result,
		expiresAt: time.Now().Add(c.ttl),
	}
}

// Len returns the number of cached entries, expired included.
func (c *TokenCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Sweep removes expired entries.
func (c *TokenCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// StartSweeper runs Sweep on an interval until the context is cancelled.
func (c *TokenCache) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if removed := c.Sweep(); removed > 0 {
					logger.Debug(ctx, "token cache swept", "removed", removed)
				}
			}
		}
	}()
}
