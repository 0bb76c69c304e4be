package execution

import (
	"context"
	"log/slog"
	"time"

	"craftstrat-engine/internal/strategy"
	"craftstrat-engine/pkg/types"
)

const (
	executorIdleSleep    = 50 * time.Millisecond
	executorBlockedSleep = 500 * time.Millisecond
)

// TradeRecord is the persisted outcome of one submitted order, regardless
// of its origin (strategy signal or copy-trade).
type TradeRecord struct {
	Order       *types.ExecutionOrder
	Result      types.OrderResult
	RecordedAt  time.Time
}

// CopyTradeRecord is the persisted outcome of a single copy-trade
// candidate, "submitted" when pushed through the executor or "skipped"
// when rejected before ever reaching the queue (spec.md §4.13 step 4).
type CopyTradeRecord struct {
	LeaderAddress string
	LeaderTxHash  string
	WalletID      uint64
	Outcome       types.Outcome
	Side          types.Side
	SizeUSDC      float64
	Status        string // "submitted" | "skipped"
	Result        *types.OrderResult
	RecordedAt    time.Time
}

// TradeStore persists trade and copy-trade records to external storage.
type TradeStore interface {
	PersistTrade(ctx context.Context, record TradeRecord) error
	PersistCopyTrade(ctx context.Context, record CopyTradeRecord) error
}

// AssignmentLookup resolves the live assignment backing a (wallet,
// strategy) pair, or nil if it is no longer registered.
type AssignmentLookup func(walletID, strategyID uint64) *strategy.Assignment

// Executor runs the single-task infinite loop described in spec.md §4.9:
// pop_if_allowed, submit, update assignment state on fill, persist.
type Executor struct {
	queue     *Queue
	submitter *Submitter
	lookup    AssignmentLookup
	store     TradeStore
	logger    *slog.Logger
}

// NewExecutor wires the queue, submitter, assignment lookup, and trade
// store into one executor loop.
func NewExecutor(queue *Queue, submitter *Submitter, lookup AssignmentLookup, store TradeStore, logger *slog.Logger) *Executor {
	return &Executor{queue: queue, submitter: submitter, lookup: lookup, store: store, logger: logger}
}

// Run drives the executor loop until ctx is cancelled (spec.md §4.9,
// supervisor-compatible factory signature per §4.16).
func (e *Executor) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		order, res := e.queue.PopIfAllowed()
		switch res {
		case PopEmpty:
			if !e.sleep(ctx, executorIdleSleep) {
				return ctx.Err()
			}
			continue
		case PopBlocked:
			e.logger.Warn("execution queue head blocked by wallet rate limit")
			if !e.sleep(ctx, executorBlockedSleep) {
				return ctx.Err()
			}
			continue
		}

		e.process(ctx, order)
	}
}

// sleep waits for d or ctx cancellation, returning false if ctx was
// cancelled first.
func (e *Executor) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func (e *Executor) process(ctx context.Context, order *types.ExecutionOrder) {
	var result types.OrderResult

	if order.IsPaper {
		price := 0.5
		if order.Price != nil {
			price = *order.Price
		}
		result = types.OrderResult{Status: types.StatusFilled, FilledPrice: &price}
		e.logger.Info("paper order filled",
			"wallet_id", order.WalletID, "market_slug", order.MarketSlug, "side", order.Side, "price", price)
	} else {
		result = e.submitter.Submit(ctx, order)
		if result.Status == types.StatusFilled {
			e.applyFill(order, result)
		}
	}

	e.persistTrade(ctx, order, result)
	if order.CopyRelationshipID != nil {
		e.persistCopyTrade(ctx, order, result, "submitted")
	}
}

// applyFill updates the owning assignment's state on a filled order: Buy
// opens a position, Sell realizes PnL and clears it (spec.md §4.9 step 4).
// Copy-trade orders (StrategyID nil) carry no assignment to update.
func (e *Executor) applyFill(order *types.ExecutionOrder, result types.OrderResult) {
	if order.StrategyID == nil || e.lookup == nil {
		return
	}
	assignment := e.lookup(order.WalletID, *order.StrategyID)
	if assignment == nil {
		return
	}

	price := 0.5
	if result.FilledPrice != nil {
		price = *result.FilledPrice
	}

	assignment.State.WithLock(e.logger, func(s *types.StrategyState) {
		switch order.Side {
		case types.BUY:
			s.Position = &types.Position{
				Outcome:  order.Outcome,
				EntryPx:  price,
				SizeUSDC: order.SizeUSDC,
				EntryAt:  time.Now().Unix(),
			}
		case types.SELL:
			if s.Position != nil {
				s.PnL += (price - s.Position.EntryPx) * s.Position.SizeUSDC
				s.Position = nil
			}
		}
	})
}

func (e *Executor) persistTrade(ctx context.Context, order *types.ExecutionOrder, result types.OrderResult) {
	if e.store == nil {
		return
	}
	if err := e.store.PersistTrade(ctx, TradeRecord{Order: order, Result: result, RecordedAt: time.Now()}); err != nil {
		e.logger.Error("persist trade failed", "order_id", order.ID, "error", err)
	}
}

func (e *Executor) persistCopyTrade(ctx context.Context, order *types.ExecutionOrder, result types.OrderResult, status string) {
	if e.store == nil {
		return
	}
	rec := CopyTradeRecord{
		LeaderAddress: order.LeaderAddress,
		LeaderTxHash:  order.LeaderTxHash,
		WalletID:      order.WalletID,
		Outcome:       order.Outcome,
		Side:          order.Side,
		SizeUSDC:      order.SizeUSDC,
		Status:        status,
		Result:        &result,
		RecordedAt:    time.Now(),
	}
	if err := e.store.PersistCopyTrade(ctx, rec); err != nil {
		e.logger.Error("persist copy trade failed", "leader", order.LeaderAddress, "error", err)
	}
}
