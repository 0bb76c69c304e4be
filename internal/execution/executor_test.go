package execution

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"craftstrat-engine/internal/strategy"
	"craftstrat-engine/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeTradeStore struct {
	mu         sync.Mutex
	trades     []TradeRecord
	copyTrades []CopyTradeRecord
}

func (f *fakeTradeStore) PersistTrade(_ context.Context, record TradeRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trades = append(f.trades, record)
	return nil
}

func (f *fakeTradeStore) PersistCopyTrade(_ context.Context, record CopyTradeRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.copyTrades = append(f.copyTrades, record)
	return nil
}

func (f *fakeTradeStore) snapshot() ([]TradeRecord, []CopyTradeRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]TradeRecord(nil), f.trades...), append([]CopyTradeRecord(nil), f.copyTrades...)
}

func TestExecutorPaperOrderSkipsSubmissionAndWritesback(t *testing.T) {
	t.Parallel()

	registry := strategy.NewRegistry(testLogger(), nil)
	assignment := registry.Activate(1, 10, nil, []string{"mkt-1"}, 100, true, nil)

	queue := NewQueue(1000)
	price := 0.42
	queue.Push(&types.ExecutionOrder{
		ID: "o1", WalletID: 1, StrategyID: &assignment.StrategyID,
		MarketSlug: "mkt-1", Side: types.BUY, Outcome: types.Up,
		Price: &price, SizeUSDC: 10, IsPaper: true, CreatedAt: 1,
	})

	store := &fakeTradeStore{}
	lookup := func(walletID, strategyID uint64) *strategy.Assignment {
		if walletID == 1 && strategyID == assignment.StrategyID {
			return assignment
		}
		return nil
	}

	exec := NewExecutor(queue, nil, lookup, store, testLogger())
	order, res := queue.PopIfAllowed()
	if res != PopOK {
		t.Fatalf("expected PopOK, got %v", res)
	}
	exec.process(context.Background(), order)

	trades, _ := store.snapshot()
	if len(trades) != 1 {
		t.Fatalf("expected 1 persisted trade, got %d", len(trades))
	}
	if trades[0].Result.Status != types.StatusFilled {
		t.Errorf("expected paper order to record Filled, got %v", trades[0].Result.Status)
	}
	if trades[0].Result.FilledPrice == nil || *trades[0].Result.FilledPrice != price {
		t.Errorf("expected filled price %v, got %v", price, trades[0].Result.FilledPrice)
	}

	// Paper orders must NOT write back to assignment state (spec.md §4.9 step 7).
	snap := assignment.State.Snapshot()
	if snap.Position != nil {
		t.Errorf("paper order must not update assignment position, got %+v", snap.Position)
	}
}

func TestExecutorAppliesFillToAssignmentState(t *testing.T) {
	t.Parallel()

	registry := strategy.NewRegistry(testLogger(), nil)
	assignment := registry.Activate(2, 20, nil, []string{"mkt-2"}, 100, false, nil)

	store := &fakeTradeStore{}
	lookup := func(walletID, strategyID uint64) *strategy.Assignment {
		if walletID == 2 && strategyID == assignment.StrategyID {
			return assignment
		}
		return nil
	}
	exec := NewExecutor(nil, nil, lookup, store, testLogger())

	buyPrice := 0.6
	buyOrder := &types.ExecutionOrder{
		WalletID: 2, StrategyID: &assignment.StrategyID, Side: types.BUY,
		Outcome: types.Up, SizeUSDC: 50,
	}
	exec.applyFill(buyOrder, types.OrderResult{Status: types.StatusFilled, FilledPrice: &buyPrice})

	snap := assignment.State.Snapshot()
	if snap.Position == nil || snap.Position.EntryPx != buyPrice {
		t.Fatalf("expected open position at %v, got %+v", buyPrice, snap.Position)
	}

	sellPrice := 0.8
	sellOrder := &types.ExecutionOrder{
		WalletID: 2, StrategyID: &assignment.StrategyID, Side: types.SELL,
	}
	exec.applyFill(sellOrder, types.OrderResult{Status: types.StatusFilled, FilledPrice: &sellPrice})

	snap = assignment.State.Snapshot()
	if snap.Position != nil {
		t.Errorf("expected position cleared after sell, got %+v", snap.Position)
	}
	wantPnL := (sellPrice - buyPrice) * 50
	if snap.PnL != wantPnL {
		t.Errorf("pnl = %v, want %v", snap.PnL, wantPnL)
	}
}

func TestExecutorRunStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	queue := NewQueue(10)
	exec := NewExecutor(queue, nil, nil, nil, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- exec.Run(ctx) }()

	select {
	case err := <-done:
		if err == nil {
			t.Error("expected context error, got nil")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("executor did not stop after context cancellation")
	}
}
