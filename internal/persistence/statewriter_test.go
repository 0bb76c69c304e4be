package persistence

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"craftstrat-engine/internal/strategy"
	"craftstrat-engine/pkg/types"
)

type fakeStore struct {
	saved map[[2]uint64]*types.StrategyState
}

func (f *fakeStore) SaveStates(ctx context.Context, states map[[2]uint64]*types.StrategyState) (int, error) {
	if f.saved == nil {
		f.saved = make(map[[2]uint64]*types.StrategyState)
	}
	for k, v := range states {
		f.saved[k] = v
	}
	return len(states), nil
}

func (f *fakeStore) LoadState(ctx context.Context, walletID, strategyID uint64) (*types.StrategyState, error) {
	return f.saved[[2]uint64{walletID, strategyID}], nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSaveOnceDedupesAcrossMarkets(t *testing.T) {
	registry := strategy.NewRegistry(discardLogger(), nil)
	registry.Activate(1, 100, []byte(`{"mode":"form"}`), []string{"btc-updown-1", "btc-updown-2"}, 500, true, nil)

	store := &fakeStore{}
	w := New(registry, store, discardLogger())
	w.saveOnce(context.Background())

	if len(store.saved) != 1 {
		t.Fatalf("expected 1 deduplicated state, got %d", len(store.saved))
	}
	if _, ok := store.saved[[2]uint64{1, 100}]; !ok {
		t.Fatal("expected state saved under (wallet=1, strategy=100)")
	}
}

func TestWarmStartReturnsNilWhenMissing(t *testing.T) {
	registry := strategy.NewRegistry(discardLogger(), nil)
	store := &fakeStore{}
	w := New(registry, store, discardLogger())

	if got := w.WarmStart(context.Background(), 9, 9); got != nil {
		t.Fatalf("expected nil for missing snapshot, got %v", got)
	}
}
