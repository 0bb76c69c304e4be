// Package redis implements the key-value store used for strategy-state
// snapshots (warm start) and the copy-watcher's per-leader watermark and
// watch-list presence markers (spec.md §4.15, §4.13), grounded on
// original_source/engine/src/storage/redis.rs.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"craftstrat-engine/pkg/types"
)

const (
	stateKeyPrefix   = "engine:strategy_state:"
	stateTTL         = time.Hour
	lastSeenPrefix   = "engine:watcher:last_seen:"
	watchedPrefix    = "engine:watcher:watched:"
)

// Store wraps a go-redis client with the key formats and TTLs spec.md §9
// fixes for persisted state.
type Store struct {
	client *redis.Client
}

// New connects to addr. Connection is lazy; go-redis dials on first use.
func New(addr string) *Store {
	return &Store{client: redis.NewClient(&redis.Options{Addr: addr})}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}

func stateKey(walletID, strategyID uint64) string {
	return fmt.Sprintf("%s%d:%d", stateKeyPrefix, walletID, strategyID)
}

// SaveState serializes state to JSON and stores it with a 1-hour TTL
// (spec.md §4.15).
func (s *Store) SaveState(ctx context.Context, walletID, strategyID uint64, state *types.StrategyState) error {
	body, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal strategy state: %w", err)
	}
	return s.client.Set(ctx, stateKey(walletID, strategyID), body, stateTTL).Err()
}

// SaveStates pipelines a batch of (wallet, strategy, state) triples in one
// round trip, as the 10s persistence task does for every distinct
// assignment in the registry (spec.md §4.15).
func (s *Store) SaveStates(ctx context.Context, states map[[2]uint64]*types.StrategyState) (int, error) {
	if len(states) == 0 {
		return 0, nil
	}
	pipe := s.client.Pipeline()
	for key, state := range states {
		body, err := json.Marshal(state)
		if err != nil {
			return 0, fmt.Errorf("marshal strategy state for %d:%d: %w", key[0], key[1], err)
		}
		pipe.Set(ctx, stateKey(key[0], key[1]), body, stateTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("pipeline save states: %w", err)
	}
	return len(states), nil
}

// LoadState reads a persisted strategy state for warm start. Returns
// (nil, nil) when no snapshot is present (spec.md §4.15: "Reads are by
// explicit lookup for warm start").
func (s *Store) LoadState(ctx context.Context, walletID, strategyID uint64) (*types.StrategyState, error) {
	body, err := s.client.Get(ctx, stateKey(walletID, strategyID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load strategy state: %w", err)
	}
	var state types.StrategyState
	if err := json.Unmarshal(body, &state); err != nil {
		return nil, fmt.Errorf("unmarshal strategy state: %w", err)
	}
	return &state, nil
}

// LastSeen reads the copy-watcher's last-processed trade timestamp for a
// leader address. Returns 0 when no watermark has been recorded yet
// (spec.md §4.13 step 1).
func (s *Store) LastSeen(ctx context.Context, address string) (int64, error) {
	val, err := s.client.Get(ctx, lastSeenPrefix+address).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load last_seen for %s: %w", address, err)
	}
	ts, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed last_seen for %s: %w", address, err)
	}
	return ts, nil
}

// UpdateLastSeen advances the watermark unconditionally; callers are
// responsible for only calling it with a monotonically increasing
// timestamp per leader (spec.md §4.13 step 6: unbounded TTL).
func (s *Store) UpdateLastSeen(ctx context.Context, address string, timestamp int64) error {
	return s.client.Set(ctx, lastSeenPrefix+address, strconv.FormatInt(timestamp, 10), 0).Err()
}

// MarkWatched records presence of a watched leader address with no TTL.
func (s *Store) MarkWatched(ctx context.Context, address string) error {
	return s.client.Set(ctx, watchedPrefix+address, "1", 0).Err()
}

// Unwatch removes a leader address's presence marker.
func (s *Store) Unwatch(ctx context.Context, address string) error {
	return s.client.Del(ctx, watchedPrefix+address).Err()
}

// IsWatched reports whether address is currently in the watch list.
func (s *Store) IsWatched(ctx context.Context, address string) (bool, error) {
	n, err := s.client.Exists(ctx, watchedPrefix+address).Result()
	if err != nil {
		return false, fmt.Errorf("check watched for %s: %w", address, err)
	}
	return n > 0, nil
}
