package execution

import (
	"context"
	"sync"
	"time"
)

const feeCacheTTL = 60 * time.Second

// FeeFetchFunc looks up the current fee rate (basis points) for a token
// from the venue.
type FeeFetchFunc func(ctx context.Context, tokenID string) (int, error)

// FeeCache caches the per-token fee rate for 60s without invalidation on
// rate changes (spec.md §4.10 step 2, §9: "acceptable for slow-moving
// fees but worth documenting").
type FeeCache struct {
	mu      sync.Mutex
	entries map[string]feeEntry
	fetch   FeeFetchFunc
}

type feeEntry struct {
	rateBps   int
	updatedAt time.Time
}

// NewFeeCache builds a cache backed by fetch for misses.
func NewFeeCache(fetch FeeFetchFunc) *FeeCache {
	return &FeeCache{entries: make(map[string]feeEntry), fetch: fetch}
}

// Get returns the fee rate for tokenID, fetching and caching it on a miss
// or stale entry.
func (c *FeeCache) Get(ctx context.Context, tokenID string) (int, error) {
	c.mu.Lock()
	entry, ok := c.entries[tokenID]
	c.mu.Unlock()
	if ok && time.Since(entry.updatedAt) < feeCacheTTL {
		return entry.rateBps, nil
	}

	rate, err := c.fetch(ctx, tokenID)
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	c.entries[tokenID] = feeEntry{rateBps: rate, updatedAt: time.Now()}
	c.mu.Unlock()
	return rate, nil
}
