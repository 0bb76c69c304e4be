// Package market provides the order-book cache, the order-book WebSocket
// feed, the reference spot-price poller, market discovery/expiry, and the
// periodic tick synthesiser.
//
// BookCache mirrors the CLOB order book for every token the engine
// currently cares about. It is updated from a single multiplexed
// WebSocket connection (see wsfeed.go):
//   - "book" events replace a token's book atomically (spec.md §3/§4.1)
//   - "price_change" events mutate individual levels in place via the
//     merge rule in §3
package market

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"craftstrat-engine/pkg/types"
)

// BookCache is a concurrency-safe map of token ID -> types.TokenBook.
type BookCache struct {
	mu     sync.RWMutex
	books  map[string]*types.TokenBook
}

// NewBookCache returns an empty book cache.
func NewBookCache() *BookCache {
	return &BookCache{books: make(map[string]*types.TokenBook)}
}

// Clear drops every book. Called on WS reconnect before the current
// subscription set is re-sent and before any deltas are processed
// (spec.md §4.1).
func (c *BookCache) Clear() {
	c.mu.Lock()
	c.books = make(map[string]*types.TokenBook)
	c.mu.Unlock()
}

// ApplySnapshot fully replaces the book for tokenID (spec.md §3: "Snapshot
// replaces the whole book"). Levels are parsed, sorted (bids descending,
// asks ascending), and any zero-size level is dropped on arrival.
func (c *BookCache) ApplySnapshot(tokenID string, bids, asks []types.PriceLevel) {
	book := &types.TokenBook{
		TokenID:   tokenID,
		Bids:      levelsFromWire(bids, true),
		Asks:      levelsFromWire(asks, false),
		UpdatedAt: time.Now(),
	}
	c.mu.Lock()
	c.books[tokenID] = book
	c.mu.Unlock()
}

// ApplyDelta applies one (side, price, size) update to tokenID's book per
// the merge rule in spec.md §3: size==0 removes the level; an existing
// price updates size in place; otherwise the level is inserted and the
// side is re-sorted. If the token has no cached book yet, a new one is
// created (a delta arriving for a market the engine has just subscribed
// to, ahead of the first snapshot, still needs somewhere to land).
func (c *BookCache) ApplyDelta(tokenID string, side types.BookSide, price, size float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	book, ok := c.books[tokenID]
	if !ok {
		book = &types.TokenBook{TokenID: tokenID}
		c.books[tokenID] = book
	}
	book.UpdatedAt = time.Now()

	if side == types.SideBid {
		book.Bids = mergeLevel(book.Bids, price, size, true)
	} else {
		book.Asks = mergeLevel(book.Asks, price, size, false)
	}
}

// mergeLevel implements spec.md §3's merge_level: size==0 removes the
// level at price; an existing price updates size in place; otherwise the
// level is inserted and the slice is re-sorted (descending for bids,
// ascending for asks).
func mergeLevel(levels []types.Level, price, size float64, descending bool) []types.Level {
	for i, lvl := range levels {
		if lvl.Price == price {
			if size == 0 {
				return append(levels[:i], levels[i+1:]...)
			}
			levels[i].Size = size
			return levels
		}
	}
	if size == 0 {
		return levels
	}
	levels = append(levels, types.Level{Price: price, Size: size})
	if descending {
		sort.Slice(levels, func(i, j int) bool { return levels[i].Price > levels[j].Price })
	} else {
		sort.Slice(levels, func(i, j int) bool { return levels[i].Price < levels[j].Price })
	}
	return levels
}

func levelsFromWire(raw []types.PriceLevel, descending bool) []types.Level {
	out := make([]types.Level, 0, len(raw))
	for _, r := range raw {
		size := parseFloat(r.Size)
		if size == 0 {
			continue
		}
		out = append(out, types.Level{Price: parseFloat(r.Price), Size: size})
	}
	if descending {
		sort.Slice(out, func(i, j int) bool { return out[i].Price > out[j].Price })
	} else {
		sort.Slice(out, func(i, j int) bool { return out[i].Price < out[j].Price })
	}
	return out
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

// Snapshot returns a shallow clone of the book for tokenID, or nil if
// unknown. Cloning the level slices lets the tick builder read a
// consistent view after releasing the lock (spec.md §4.4 step 1).
func (c *BookCache) Snapshot(tokenID string) *types.TokenBook {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.books[tokenID]
	if !ok {
		return nil
	}
	clone := *b
	clone.Bids = append([]types.Level(nil), b.Bids...)
	clone.Asks = append([]types.Level(nil), b.Asks...)
	return &clone
}

// SnapshotAll clones every cached book, releasing the lock before
// returning (spec.md §4.4 step 1: "Snapshot the books and prices maps
// (clone), drop locks").
func (c *BookCache) SnapshotAll() map[string]*types.TokenBook {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]*types.TokenBook, len(c.books))
	for id, b := range c.books {
		clone := *b
		clone.Bids = append([]types.Level(nil), b.Bids...)
		clone.Asks = append([]types.Level(nil), b.Asks...)
		out[id] = &clone
	}
	return out
}

// BestBidAsk returns the best (highest) bid and (lowest) ask for tokenID.
// ok is false if the book is unknown or either side is empty.
func (c *BookCache) BestBidAsk(tokenID string) (bid, ask float64, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, found := c.books[tokenID]
	if !found || len(b.Bids) == 0 || len(b.Asks) == 0 {
		return 0, 0, false
	}
	return b.Bids[0].Price, b.Asks[0].Price, true
}
