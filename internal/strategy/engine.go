package strategy

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"craftstrat-engine/pkg/types"
)

// OrderSink receives an ExecutionOrder produced from a non-Hold signal,
// tagged with the originating (wallet, strategy, market, is_paper) per
// spec.md §4.7 step 3. Implementations are expected to push onto the
// execution queue.
type OrderSink func(*types.ExecutionOrder)

// NotifySink receives a Notify signal's channel/message pair for
// out-of-band delivery (e.g. a webhook or chat integration).
type NotifySink func(walletID, strategyID uint64, channel, message string)

// TokenLookup resolves a market's outcome token id for order construction,
// backed by the market-data plane's active-markets registry.
type TokenLookup func(marketSlug string, outcome types.Outcome) (tokenID string, ok bool)

// Engine is the strategy plane's per-tick evaluation loop (spec.md §4.7).
type Engine struct {
	registry *Registry
	cache    *ApiValueCache
	sink     OrderSink
	notify   NotifySink
	tokens   TokenLookup
	logger   *slog.Logger
}

// NewEngine wires the registry, the optional live-data cache (nil for
// backtests), the execution-bridge sink, the token-id lookup, and an
// optional notification sink.
func NewEngine(registry *Registry, cache *ApiValueCache, sink OrderSink, notify NotifySink, tokens TokenLookup, logger *slog.Logger) *Engine {
	return &Engine{registry: registry, cache: cache, sink: sink, notify: notify, tokens: tokens, logger: logger}
}

// Run subscribes to ticks and evaluates every assignment registered for
// each tick's market until ctx is cancelled or the channel closes
// (supervisor-compatible factory signature per spec.md §4.16).
func (e *Engine) Run(ctx context.Context, ticks <-chan types.Tick) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case tick, ok := <-ticks:
			if !ok {
				return nil
			}
			e.handleTick(tick)
		}
	}
}

// handleTick implements spec.md §4.7 steps 1-2: clone the assignment list
// under the registry's read lock, release it, then evaluate every
// assignment in parallel, one goroutine per assignment (work-stealing
// over the runtime scheduler), each serialized only by its own state
// mutex.
func (e *Engine) handleTick(tick types.Tick) {
	assignments := e.registry.SnapshotForMarket(tick.MarketSlug)
	if len(assignments) == 0 {
		return
	}

	var wg sync.WaitGroup
	wg.Add(len(assignments))
	for _, a := range assignments {
		go func(a *Assignment) {
			defer wg.Done()
			e.evaluateAssignment(a, tick)
		}(a)
	}
	wg.Wait()
}

func (e *Engine) evaluateAssignment(a *Assignment, tick types.Tick) {
	if a.Killed() {
		return
	}

	graph, err := ParseGraph(a.Graph)
	if err != nil {
		if e.logger != nil {
			e.logger.Error("parse strategy graph failed",
				"wallet_id", a.WalletID, "strategy_id", a.StrategyID, "error", err)
		}
		return
	}

	var signal types.Signal
	a.State.WithLock(e.logger, func(s *types.StrategyState) {
		signal = Evaluate(graph, &tick, s, e.cache, e.logger)
	})

	e.dispatch(a, tick, signal)
}

// dispatch turns a non-Hold signal into the appropriate side effect: Buy
// and Sell become ExecutionOrders on the bridge sink; Notify reaches the
// notification sink; Cancel and Hold produce no order (spec.md §4.7 step
// 3, §9: no live order-cancellation surface is specified beyond the
// queue itself).
func (e *Engine) dispatch(a *Assignment, tick types.Tick, signal types.Signal) {
	switch signal.Kind {
	case types.SignalBuy, types.SignalSell:
		order := e.toOrder(a, tick, signal)
		if order != nil && e.sink != nil {
			e.sink(order)
		}
	case types.SignalNotify:
		if e.notify != nil {
			e.notify(a.WalletID, a.StrategyID, signal.Channel, signal.Message)
		}
	case types.SignalCancel:
		if e.logger != nil {
			e.logger.Info("strategy requested cancel, no open-order cancellation surface",
				"wallet_id", a.WalletID, "strategy_id", a.StrategyID, "market_slug", tick.MarketSlug)
		}
	}
}

func (e *Engine) toOrder(a *Assignment, tick types.Tick, signal types.Signal) *types.ExecutionOrder {
	side := types.BUY
	if signal.Kind == types.SignalSell {
		side = types.SELL
	}

	strategyID := a.StrategyID

	tokenID := tick.MarketSlug
	if e.tokens != nil {
		id, ok := e.tokens(tick.MarketSlug, signal.Outcome)
		if !ok {
			if e.logger != nil {
				e.logger.Error("no token id for market/outcome, dropping signal",
					"market_slug", tick.MarketSlug, "outcome", signal.Outcome)
			}
			return nil
		}
		tokenID = id
	}

	order := &types.ExecutionOrder{
		ID:         uuid.NewString(),
		WalletID:   a.WalletID,
		StrategyID: &strategyID,
		MarketSlug: tick.MarketSlug,
		TokenID:    tokenID,
		Side:       side,
		Outcome:    signal.Outcome,
		SizeUSDC:   signal.SizeUSDC,
		OrderType:  signal.OrderType,
		Priority:   priorityFor(signal.OrderType.Kind),
		CreatedAt:  time.Now().Unix(),
		IsPaper:    a.IsPaper,
	}
	if signal.OrderType.Kind == types.OrderLimit || signal.OrderType.Kind == types.OrderStopLoss || signal.OrderType.Kind == types.OrderTakeProfit {
		price := signal.OrderType.Trigger
		order.Price = &price
	}
	return order
}

// priorityFor maps an order variant to its queue priority rank (spec.md
// §4.8: StopLoss=4, TakeProfit=3, CopyMarket=2, StrategyMarket=1, Limit=0
// — CopyMarket is assigned directly by the copy-watcher, never here).
func priorityFor(kind types.OrderKind) types.OrderPriority {
	switch kind {
	case types.OrderStopLoss:
		return types.PriorityStopLoss
	case types.OrderTakeProfit:
		return types.PriorityTakeProfit
	case types.OrderLimit:
		return types.PriorityLimit
	default:
		return types.PriorityStrategyMarket
	}
}
