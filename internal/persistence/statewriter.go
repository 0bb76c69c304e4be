// Package persistence drives the periodic strategy-state snapshot task
// (spec.md §4.15), grounded on
// original_source/engine/src/tasks/persistence.rs and
// original_source/engine/src/storage/redis.rs's save_states.
package persistence

import (
	"context"
	"log/slog"
	"time"

	"craftstrat-engine/internal/strategy"
	"craftstrat-engine/pkg/types"
)

const saveInterval = 10 * time.Second

// StateStore is the subset of internal/storage/redis.Store the state
// writer needs, kept interface-shaped so this package stays storage-agnostic.
type StateStore interface {
	SaveStates(ctx context.Context, states map[[2]uint64]*types.StrategyState) (int, error)
	LoadState(ctx context.Context, walletID, strategyID uint64) (*types.StrategyState, error)
}

// StateWriter periodically snapshots every distinct assignment's state and
// persists it, and offers an explicit warm-start lookup for the registry.
type StateWriter struct {
	registry *strategy.Registry
	store    StateStore
	logger   *slog.Logger
}

// New wires the writer to the live assignment registry and the key-value
// store backing it.
func New(registry *strategy.Registry, store StateStore, logger *slog.Logger) *StateWriter {
	return &StateWriter{registry: registry, store: store, logger: logger.With("component", "persistence")}
}

// Run saves every distinct (wallet, strategy) assignment's state every 10s
// until ctx is cancelled (spec.md §4.15, supervisor-compatible factory
// signature per §4.16). Save failures are logged and non-fatal.
func (w *StateWriter) Run(ctx context.Context) error {
	ticker := time.NewTicker(saveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.saveOnce(ctx)
		}
	}
}

func (w *StateWriter) saveOnce(ctx context.Context) {
	assignments := w.registry.All()
	if len(assignments) == 0 {
		return
	}

	states := make(map[[2]uint64]*types.StrategyState, len(assignments))
	for _, a := range assignments {
		states[[2]uint64{a.WalletID, a.StrategyID}] = a.State.Snapshot()
	}

	n, err := w.store.SaveStates(ctx, states)
	if err != nil {
		w.logger.Warn("strategy state save failed", "error", err)
		return
	}
	w.logger.Debug("strategy states saved", "count", n)
}

// WarmStart loads a persisted snapshot for (walletID, strategyID), for use
// at activation time so a restarted assignment resumes where it left off
// rather than starting cold (spec.md §4.15: "Reads are by explicit lookup
// for warm start").
func (w *StateWriter) WarmStart(ctx context.Context, walletID, strategyID uint64) *types.StrategyState {
	state, err := w.store.LoadState(ctx, walletID, strategyID)
	if err != nil {
		w.logger.Warn("warm start load failed", "wallet_id", walletID, "strategy_id", strategyID, "error", err)
		return nil
	}
	return state
}
