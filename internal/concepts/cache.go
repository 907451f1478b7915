package concepts

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
)

// CachedLookup memoizes chains of an underlying Lookup for a TTL. Failed
// lookups are not cached.
type CachedLookup struct {
	next  Lookup
	cache *cache.Cache
}

// NewCachedLookup wraps next. ttl <= 0 defaults to ten minutes.
func NewCachedLookup(next Lookup, ttl time.Duration) *CachedLookup {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &CachedLookup{next: next, cache: cache.New(ttl, 2*ttl)}
}

func (c *CachedLookup) Chain(ctx context.Context, concepts []string) ([]string, error) {
	key := strings.Join(Dedupe(concepts), "\x1f")
	if v, ok := c.cache.Get(key); ok {
		return slices.Clone(v.([]string)), nil
	}
	chain, err := c.next.Chain(ctx, concepts)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, slices.Clone(chain), cache.DefaultExpiration)
	return chain, nil
}

// Flush drops every cached chain.
func (c *CachedLookup) Flush() {
	c.cache.Flush()
}
