package backtest

import (
	"encoding/json"
	"testing"
	"time"

	"craftstrat-engine/pkg/types"
)

func graphWithStoploss(stoplossPct float64) json.RawMessage {
	g := map[string]interface{}{
		"mode": "form",
		"risk": map[string]interface{}{"stoploss_pct": stoplossPct},
		"conditions": []map[string]interface{}{
			{
				"type": "AND",
				"rules": []map[string]interface{}{
					{"indicator": map[string]string{"field": "abs_move_pct"}, "operator": ">", "value": 3},
				},
			},
		},
		"action": map[string]interface{}{"signal": "buy", "outcome": "UP", "size_usdc": 50},
	}
	raw, _ := json.Marshal(g)
	return raw
}

func TestRunStoplossExitScenario(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ticks := []types.Tick{
		{CapturedAt: base, AbsMovePct: 4, AskUp1: 0.62, MidUp: 0.62, BidUp1: 0.61},
		{CapturedAt: base.Add(time.Second), AbsMovePct: 4, AskUp1: 0.60, MidUp: 0.60, BidUp1: 0.59},
		{CapturedAt: base.Add(2 * time.Second), AbsMovePct: 4, MidUp: 0.54, BidUp1: 0.53, AskUp1: 0.55},
	}

	req := Request{Graph: graphWithStoploss(10), MarketTicks: map[string][]types.Tick{"btc-15m": ticks}}
	result, err := Run(req, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.TotalTrades != 1 {
		t.Fatalf("expected 1 trade, got %d (%+v)", result.TotalTrades, result.Trades)
	}
	trade := result.Trades[0]
	if trade.Reason != ReasonStopLoss {
		t.Errorf("reason = %v, want stoploss", trade.Reason)
	}
	if trade.ExitPrice != 0.53 {
		t.Errorf("exit price = %v, want 0.53", trade.ExitPrice)
	}
	if trade.PnL >= 0 {
		t.Errorf("expected negative pnl on stoploss exit, got %v", trade.PnL)
	}
}

func TestRunSlotResolutionScenario(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	winner := types.Up
	ticks := []types.Tick{
		{CapturedAt: base, AbsMovePct: 4, AskUp1: 0.62, MidUp: 0.62, BidUp1: 0.61},
		{CapturedAt: base.Add(time.Second), AbsMovePct: 0, Winner: &winner},
	}

	req := Request{Graph: graphWithStoploss(50), MarketTicks: map[string][]types.Tick{"btc-15m": ticks}}
	result, err := Run(req, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.TotalTrades != 1 {
		t.Fatalf("expected 1 trade, got %d", result.TotalTrades)
	}
	trade := result.Trades[0]
	if trade.Reason != ReasonSlotResolved {
		t.Errorf("reason = %v, want SlotResolved", trade.Reason)
	}
	if trade.ExitPrice != 1.0 {
		t.Errorf("exit price = %v, want 1.0", trade.ExitPrice)
	}
	wantPnL := (1.0 - 0.62) / 0.62 * 50
	if diff := trade.PnL - wantPnL; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("pnl = %v, want %v", trade.PnL, wantPnL)
	}
}

func TestAggregateEmptyIsZero(t *testing.T) {
	t.Parallel()
	result := aggregate(nil)
	if result.TotalTrades != 0 || result.TotalPnL != 0 || result.WinRate != 0 || result.MaxDrawdown != 0 || result.SharpePerTrade != 0 {
		t.Errorf("expected all-zero result for empty trades, got %+v", result)
	}
}

func TestAggregateWinRateAndDrawdown(t *testing.T) {
	t.Parallel()
	trades := []Trade{
		{PnL: 10},
		{PnL: -5},
		{PnL: 20},
	}
	result := aggregate(trades)
	if result.TotalTrades != 3 {
		t.Errorf("total trades = %d, want 3", result.TotalTrades)
	}
	wantWinRate := 2.0 / 3.0
	if diff := result.WinRate - wantWinRate; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("win rate = %v, want %v", result.WinRate, wantWinRate)
	}
	if result.TotalPnL != 25 {
		t.Errorf("total pnl = %v, want 25", result.TotalPnL)
	}
	// equity: 10, 5, 25 -> peak 10, trough 5 -> drawdown 0.5
	if result.MaxDrawdown != 0.5 {
		t.Errorf("max drawdown = %v, want 0.5", result.MaxDrawdown)
	}
}
