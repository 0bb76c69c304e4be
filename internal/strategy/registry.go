// Package strategy implements the assignment registry, the DAG/form
// interpreter, technical indicators, risk gates, and the per-tick
// evaluation loop.
package strategy

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"

	"craftstrat-engine/pkg/types"
)

// Assignment binds one (wallet, strategy) pair to a set of markets.
// Once activated its Graph, Markets, WalletID, StrategyID and MaxPosition
// are immutable; IsKilled is the only mutable flag outside State.
type Assignment struct {
	WalletID        uint64
	StrategyID      uint64
	Graph           json.RawMessage
	Markets         []string
	MaxPositionUSDC float64
	IsPaper         bool
	killed          atomic.Bool
	State           *StateGuard
}

// Killed reports whether this assignment is currently killed.
func (a *Assignment) Killed() bool { return a.killed.Load() }

// Kill marks the assignment killed; it is skipped at evaluation but not
// removed from the registry.
func (a *Assignment) Kill() { a.killed.Store(true) }

// Unkill clears the killed flag.
func (a *Assignment) Unkill() { a.killed.Store(false) }

// Registry is a read-mostly map market_slug -> []*Assignment.
type Registry struct {
	mu       sync.RWMutex
	byMarket map[string][]*Assignment
	logger   *slog.Logger

	onGauge func(wallets, assignments int)
}

// NewRegistry builds an empty registry. onGauge, if non-nil, is invoked
// after every mutation with the current aggregate counts (spec.md §4.5:
// "aggregate gauges ... are updated").
func NewRegistry(logger *slog.Logger, onGauge func(wallets, assignments int)) *Registry {
	return &Registry{
		byMarket: make(map[string][]*Assignment),
		logger:   logger,
		onGauge:  onGauge,
	}
}

// Activate inserts the assignment under every listed market. If
// initialState is supplied it replaces the default empty state (used to
// restore persisted state on startup). Idempotency is not guaranteed:
// duplicate activations duplicate entries; callers must ensure uniqueness.
func (r *Registry) Activate(walletID, strategyID uint64, graph json.RawMessage, markets []string, maxPositionUSDC float64, isPaper bool, initialState *types.StrategyState) *Assignment {
	a := &Assignment{
		WalletID:        walletID,
		StrategyID:      strategyID,
		Graph:           graph,
		Markets:         append([]string(nil), markets...),
		MaxPositionUSDC: maxPositionUSDC,
		IsPaper:         isPaper,
		State:           NewStateGuard(initialState),
	}

	r.mu.Lock()
	for _, m := range a.Markets {
		r.byMarket[m] = append(r.byMarket[m], a)
	}
	r.mu.Unlock()
	r.reportGauges()
	return a
}

// Deactivate removes the assignment from all markets and empties any
// market key left with no remaining assignments.
func (r *Registry) Deactivate(walletID, strategyID uint64) {
	r.mu.Lock()
	for market, list := range r.byMarket {
		kept := list[:0]
		for _, a := range list {
			if a.WalletID == walletID && a.StrategyID == strategyID {
				continue
			}
			kept = append(kept, a)
		}
		if len(kept) == 0 {
			delete(r.byMarket, market)
		} else {
			r.byMarket[market] = kept
		}
	}
	r.mu.Unlock()
	r.reportGauges()
}

// Kill flips IsKilled in place for the matching assignment across all its
// markets; it is skipped at evaluation but not removed.
func (r *Registry) Kill(walletID, strategyID uint64) {
	r.forEachMatching(walletID, strategyID, func(a *Assignment) { a.Kill() })
}

// Unkill clears the killed flag.
func (r *Registry) Unkill(walletID, strategyID uint64) {
	r.forEachMatching(walletID, strategyID, func(a *Assignment) { a.Unkill() })
}

func (r *Registry) forEachMatching(walletID, strategyID uint64, fn func(*Assignment)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, list := range r.byMarket {
		for _, a := range list {
			if a.WalletID == walletID && a.StrategyID == strategyID {
				fn(a)
			}
		}
	}
}

// SnapshotForMarket acquires the read lock, clones the assignment slice
// for the given market slug, and releases the lock before returning — per
// spec.md §4.7 step 1, heavy per-assignment work never happens while
// holding the registry lock.
func (r *Registry) SnapshotForMarket(marketSlug string) []*Assignment {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := r.byMarket[marketSlug]
	out := make([]*Assignment, len(list))
	copy(out, list)
	return out
}

// All returns a flat, deduplicated-by-identity snapshot of every
// assignment currently registered, for persistence and backtest warm
// start. Deduplication by (wallet, strategy) is the caller's
// responsibility (an assignment may appear under several market keys).
func (r *Registry) All() []*Assignment {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[[2]uint64]bool)
	var out []*Assignment
	for _, list := range r.byMarket {
		for _, a := range list {
			key := [2]uint64{a.WalletID, a.StrategyID}
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, a)
		}
	}
	return out
}

func (r *Registry) reportGauges() {
	if r.onGauge == nil {
		return
	}
	r.mu.RLock()
	wallets := make(map[uint64]bool)
	assignments := make(map[[2]uint64]bool)
	for _, list := range r.byMarket {
		for _, a := range list {
			wallets[a.WalletID] = true
			assignments[[2]uint64{a.WalletID, a.StrategyID}] = true
		}
	}
	r.mu.RUnlock()
	r.onGauge(len(wallets), len(assignments))
}
