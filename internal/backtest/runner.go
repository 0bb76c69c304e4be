// Package backtest implements the deterministic tick-stream replay
// engine (spec.md §4.14): the same interpreter used live, fed a recorded
// tick sequence per market, producing closed trades and aggregate
// performance metrics.
package backtest

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"craftstrat-engine/internal/strategy"
	"craftstrat-engine/pkg/types"
)

// CloseReason is why a BacktestTrade was closed.
type CloseReason string

const (
	ReasonStopLoss     CloseReason = "stoploss"
	ReasonTakeProfit   CloseReason = "take_profit"
	ReasonSignal       CloseReason = "signal"
	ReasonSlotResolved CloseReason = "SlotResolved"
	ReasonEndOfData    CloseReason = "EndOfData"
)

// Trade is one opened-and-closed position over the replayed tick stream.
type Trade struct {
	MarketSlug string        `json:"market_slug"`
	Outcome    types.Outcome `json:"outcome"`
	EntryPrice float64       `json:"entry_price"`
	EntryAt    time.Time     `json:"entry_at"`
	ExitPrice  float64       `json:"exit_price"`
	ExitAt     time.Time     `json:"exit_at"`
	SizeUSDC   float64       `json:"size_usdc"`
	PnL        float64       `json:"pnl"`
	Reason     CloseReason   `json:"reason"`
}

// Request is one backtest invocation: a strategy graph replayed over a
// recorded tick sequence, grouped by market slug.
type Request struct {
	Graph       json.RawMessage        `json:"graph"`
	MarketTicks map[string][]types.Tick `json:"market_ticks"`
}

// Result is the aggregate outcome of a backtest run (spec.md §4.14).
type Result struct {
	TotalTrades   int     `json:"total_trades"`
	WinRate       float64 `json:"win_rate"`
	TotalPnL      float64 `json:"total_pnl"`
	MaxDrawdown   float64 `json:"max_drawdown"`
	SharpePerTrade float64 `json:"sharpe_per_trade"`
	Trades        []Trade `json:"trades"`
}

// marketState is the per-market mini-state mirroring spec.md §3: a tick
// ring (held inside StrategyState), the open trade if any, and the
// strategy's own mutable state.
type marketState struct {
	slug  string
	graph *strategy.Graph
	state *types.StrategyState
	open  *Trade
}

// Run replays req.Graph over every market's tick sequence and aggregates
// the closed trades into a Result. Ticks within a market must already be
// ordered by CapturedAt; Run performs no additional sorting so that
// identical input always yields a bit-identical Result (spec.md §8
// "Backtest idempotence").
func Run(req Request, logger *slog.Logger) (*Result, error) {
	graph, err := strategy.ParseGraph(req.Graph)
	if err != nil {
		return nil, fmt.Errorf("parse backtest graph: %w", err)
	}

	var allTrades []Trade
	for slug, ticks := range req.MarketTicks {
		ms := &marketState{slug: slug, graph: graph, state: types.NewStrategyState(len(ticks) + 1)}
		for i, tick := range ticks {
			tick := tick
			closed := processTick(ms, tick, logger)
			allTrades = append(allTrades, closed...)
			if i == len(ticks)-1 && ms.open != nil {
				allTrades = append(allTrades, forceClose(ms, tick))
			}
		}
	}

	return aggregate(allTrades), nil
}

// processTick implements spec.md §4.14 steps 1-2 for a single market's
// mini-state and a single inbound tick, returning any trade closed by
// slot resolution or by a Sell signal.
func processTick(ms *marketState, tick types.Tick, logger *slog.Logger) []Trade {
	var closed []Trade

	if tick.Winner != nil && ms.open != nil && ms.open.EntryAt.Before(tick.CapturedAt) {
		exit := 0.0
		if *tick.Winner == ms.open.Outcome {
			exit = 1.0
		}
		closed = append(closed, closeAt(ms, exit, ReasonSlotResolved, tick.CapturedAt))
	}

	signal := strategy.Evaluate(ms.graph, &tick, ms.state, nil, logger)

	switch signal.Kind {
	case types.SignalBuy:
		if ms.open == nil {
			askPrice := tick.AskUp1
			if signal.Outcome == types.Down {
				askPrice = tick.AskDown1
			}
			ms.state.Position = &types.Position{Outcome: signal.Outcome, EntryPx: askPrice, SizeUSDC: signal.SizeUSDC, EntryAt: tick.CapturedAt.Unix()}
			ms.open = &Trade{MarketSlug: ms.slug, Outcome: signal.Outcome, EntryPrice: askPrice, EntryAt: tick.CapturedAt, SizeUSDC: signal.SizeUSDC}
		}
	case types.SignalSell:
		if ms.open != nil {
			bidPrice := tick.BidUp1
			if ms.open.Outcome == types.Down {
				bidPrice = tick.BidDown1
			}
			closed = append(closed, closeAt(ms, bidPrice, reasonFromOrderType(signal.OrderType.Kind), tick.CapturedAt))
		}
	}

	return closed
}

func reasonFromOrderType(kind types.OrderKind) CloseReason {
	switch kind {
	case types.OrderStopLoss:
		return ReasonStopLoss
	case types.OrderTakeProfit:
		return ReasonTakeProfit
	default:
		return ReasonSignal
	}
}

func closeAt(ms *marketState, exitPrice float64, reason CloseReason, at time.Time) Trade {
	trade := *ms.open
	trade.ExitPrice = exitPrice
	trade.ExitAt = at
	if trade.EntryPrice != 0 {
		trade.PnL = (exitPrice - trade.EntryPrice) / trade.EntryPrice * trade.SizeUSDC
	}
	ms.open = nil
	ms.state.Position = nil
	return trade
}

// forceClose closes any trade still open at the end of a market's tick
// sequence, using the last tick: SlotResolved at 0/1 if a winner is known,
// else EndOfData at the mid price (spec.md §4.14 "At finish").
func forceClose(ms *marketState, lastTick types.Tick) Trade {
	if lastTick.Winner != nil {
		exit := 0.0
		if *lastTick.Winner == ms.open.Outcome {
			exit = 1.0
		}
		return closeAt(ms, exit, ReasonSlotResolved, lastTick.CapturedAt)
	}
	mid := lastTick.MidUp
	if ms.open.Outcome == types.Down {
		mid = lastTick.MidDown
	}
	return closeAt(ms, mid, ReasonEndOfData, lastTick.CapturedAt)
}
