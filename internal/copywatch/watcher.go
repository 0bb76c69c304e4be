// Package copywatch mirrors the public trades of watched leader wallets
// into copy-trade orders for subscribed followers (spec.md §4.13), grounded
// on original_source/engine/src/watcher/polymarket.rs.
package copywatch

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"craftstrat-engine/internal/execution"
	"craftstrat-engine/internal/storage/postgres"
	"craftstrat-engine/pkg/types"
)

const (
	pollInterval  = time.Second
	tradesPerPoll = 5
)

// LeaderTrade is the subset of the venue's data-API trade record the
// watcher needs.
type LeaderTrade struct {
	Side            string  `json:"side"`
	Asset           string  `json:"asset"`
	ConditionID     string  `json:"conditionId"`
	Size            float64 `json:"size"`
	Price           float64 `json:"price"`
	Timestamp       int64   `json:"timestamp"`
	TransactionHash string  `json:"transactionHash"`
	Outcome         string  `json:"outcome"`
}

// WatermarkStore tracks the last-processed trade timestamp per leader
// address and the set of currently-watched addresses (spec.md §4.13 step
// 1, §9's persisted-state layout).
type WatermarkStore interface {
	LastSeen(ctx context.Context, address string) (int64, error)
	UpdateLastSeen(ctx context.Context, address string, timestamp int64) error
	MarkWatched(ctx context.Context, address string) error
	Unwatch(ctx context.Context, address string) error
}

// RelationshipStore is the subset of internal/storage/postgres.Store the
// watcher needs to resolve active followers and warm-start the watch list.
type RelationshipStore interface {
	LoadWatchedAddresses(ctx context.Context) ([]string, error)
	GetActiveFollowers(ctx context.Context, watchedAddress string) ([]postgres.CopyRelationship, error)
	PersistCopyTrade(ctx context.Context, record execution.CopyTradeRecord) error
}

// MetricsSink receives copy-trade-candidate outcome counts.
type MetricsSink func(status string)

// Watcher is the copy-watch plane's single background task.
type Watcher struct {
	client  *resty.Client
	dataURL string
	queue   *execution.Queue
	marks   WatermarkStore
	rels    RelationshipStore
	metrics MetricsSink
	logger  *slog.Logger

	mu       sync.RWMutex
	manual   map[string]bool // addresses added via Watch() this run, beyond the DB-backed set
}

// New builds a watcher pointed at the venue's data API.
func New(dataAPIBaseURL string, client *resty.Client, queue *execution.Queue, marks WatermarkStore, rels RelationshipStore, metrics MetricsSink, logger *slog.Logger) *Watcher {
	return &Watcher{
		client:  client,
		dataURL: dataAPIBaseURL,
		queue:   queue,
		marks:   marks,
		rels:    rels,
		metrics: metrics,
		logger:  logger.With("component", "copywatch"),
		manual:  make(map[string]bool),
	}
}

// Watch adds address to the watch list immediately, without waiting for
// the next poll to pick it up from storage.
func (w *Watcher) Watch(ctx context.Context, address string) error {
	if err := w.marks.MarkWatched(ctx, address); err != nil {
		return fmt.Errorf("copywatch: mark watched: %w", err)
	}
	w.mu.Lock()
	w.manual[address] = true
	w.mu.Unlock()
	return nil
}

// Unwatch removes address from the watch list.
func (w *Watcher) Unwatch(ctx context.Context, address string) error {
	if err := w.marks.Unwatch(ctx, address); err != nil {
		return fmt.Errorf("copywatch: unwatch: %w", err)
	}
	w.mu.Lock()
	delete(w.manual, address)
	w.mu.Unlock()
	return nil
}

// Run polls every watched leader address once a second until ctx is
// cancelled (spec.md §4.13, supervisor-compatible factory signature per
// §4.16).
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if err := w.pass(ctx); err != nil {
			w.logger.Warn("copy-watch pass failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Count returns the number of currently-watched leader addresses, for the
// control surface's status query.
func (w *Watcher) Count(ctx context.Context) (int, error) {
	addrs, err := w.watchedAddresses(ctx)
	if err != nil {
		return 0, err
	}
	return len(addrs), nil
}

func (w *Watcher) watchedAddresses(ctx context.Context) ([]string, error) {
	addrs, err := w.rels.LoadWatchedAddresses(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(addrs))
	for _, a := range addrs {
		seen[a] = true
	}
	w.mu.RLock()
	for a := range w.manual {
		if !seen[a] {
			addrs = append(addrs, a)
			seen[a] = true
		}
	}
	w.mu.RUnlock()
	return addrs, nil
}

// pass fetches each watched address's recent trades in parallel, then
// processes every address's new trades in chronological arrival order,
// advancing its watermark monotonically as it goes (spec.md §4.13 steps
// 1-7).
func (w *Watcher) pass(ctx context.Context) error {
	addresses, err := w.watchedAddresses(ctx)
	if err != nil {
		return fmt.Errorf("load watched addresses: %w", err)
	}

	type fetchResult struct {
		address string
		trades  []LeaderTrade
		err     error
	}

	results := make(chan fetchResult, len(addresses))
	var wg sync.WaitGroup
	for _, address := range addresses {
		wg.Add(1)
		go func(address string) {
			defer wg.Done()
			lastSeen, err := w.marks.LastSeen(ctx, address)
			if err != nil {
				results <- fetchResult{address: address, err: err}
				return
			}
			trades, err := w.checkNewTrades(ctx, address, lastSeen)
			results <- fetchResult{address: address, trades: trades, err: err}
		}(address)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	for res := range results {
		if res.err != nil {
			w.logger.Warn("check new trades failed", "address", res.address, "error", res.err)
			continue
		}
		if len(res.trades) == 0 {
			continue
		}
		w.processLeaderTrades(ctx, res.address, res.trades)
	}
	return nil
}

// checkNewTrades fetches the address's most recent trades and filters to
// those after lastSeen (spec.md §4.13 steps 1-2).
func (w *Watcher) checkNewTrades(ctx context.Context, address string, lastSeen int64) ([]LeaderTrade, error) {
	var trades []LeaderTrade
	resp, err := w.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"user":          address,
			"limit":         fmt.Sprintf("%d", tradesPerPoll),
			"sortBy":        "TIMESTAMP",
			"sortDirection": "DESC",
		}).
		SetResult(&trades).
		Get(w.dataURL + "/trades")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("data api status %d", resp.StatusCode())
	}

	out := trades[:0]
	for _, t := range trades {
		if t.Timestamp > lastSeen {
			out = append(out, t)
		}
	}
	return out, nil
}

// processLeaderTrades fans each new trade out to every active follower,
// queueing accepted copy orders and persisting skipped ones with their
// rejection reason, then advances the leader's watermark (spec.md §4.13
// steps 3-7).
func (w *Watcher) processLeaderTrades(ctx context.Context, address string, trades []LeaderTrade) {
	followers, err := w.rels.GetActiveFollowers(ctx, address)
	if err != nil {
		w.logger.Warn("get active followers failed", "address", address, "error", err)
		return
	}

	// checkNewTrades returns trades newest-first; process oldest-first so the
	// watermark advances monotonically to the newest trade's timestamp.
	sort.Slice(trades, func(i, j int) bool { return trades[i].Timestamp < trades[j].Timestamp })

	for _, trade := range trades {
		for _, follower := range followers {
			order := buildCopyOrder(trade, follower, address)
			if order != nil {
				w.queue.Push(order)
				if w.metrics != nil {
					w.metrics("queued")
				}
				continue
			}

			outcomeStr := trade.Outcome
			if outcomeStr == "" {
				outcomeStr = "UP"
			}
			rec := execution.CopyTradeRecord{
				LeaderAddress: address,
				LeaderTxHash:  trade.TransactionHash,
				WalletID:      follower.FollowerWalletID,
				Outcome:       outcomeFromString(outcomeStr),
				Side:          sideFromString(trade.Side),
				SizeUSDC:      sizeForFollower(trade, follower),
				Status:        "skipped",
			}
			if err := w.rels.PersistCopyTrade(ctx, rec); err != nil {
				w.logger.Error("persist skipped copy trade failed", "address", address, "error", err)
			}
			if w.metrics != nil {
				w.metrics("skipped")
			}
		}

		if err := w.marks.UpdateLastSeen(ctx, address, trade.Timestamp); err != nil {
			w.logger.Error("update last_seen failed", "address", address, "error", err)
		}
	}
}

// buildCopyOrder is the pure decision function mapping one leader trade and
// one follower's subscription to an accepted order, or nil if the trade is
// filtered out or exceeds the follower's max position (spec.md §4.13 steps
// 3-4).
func buildCopyOrder(trade LeaderTrade, follower postgres.CopyRelationship, leaderAddress string) *types.ExecutionOrder {
	if follower.MarketsFilter != nil {
		allowed := false
		for _, m := range follower.MarketsFilter {
			if m == trade.ConditionID {
				allowed = true
				break
			}
		}
		if !allowed {
			return nil
		}
	}

	size := sizeForFollower(trade, follower)
	if size > follower.MaxPositionUSDC {
		return nil
	}

	price := trade.Price
	followerID := follower.FollowerWalletID
	relID := uint64(follower.ID)

	return &types.ExecutionOrder{
		ID:                 uuid.NewString(),
		WalletID:            followerID,
		StrategyID:          nil,
		CopyRelationshipID:  &relID,
		MarketSlug:          trade.ConditionID,
		TokenID:             trade.Asset,
		Side:                sideFromString(trade.Side),
		Outcome:             outcomeFromString(trade.Outcome),
		Price:               &price,
		SizeUSDC:            size,
		OrderType:           types.MarketOrder(),
		Priority:            types.PriorityCopyMarket,
		CreatedAt:           time.Now().Unix(),
		LeaderAddress:       leaderAddress,
		LeaderTxHash:        trade.TransactionHash,
		IsPaper:             false,
	}
}

func sizeForFollower(trade LeaderTrade, follower postgres.CopyRelationship) float64 {
	switch follower.SizeMode {
	case "proportional":
		return trade.Size * follower.SizeValue
	default: // "fixed" and any unrecognized mode default to the configured value
		return follower.SizeValue
	}
}

func outcomeFromString(s string) types.Outcome {
	switch s {
	case "No", "DOWN", "Down":
		return types.Down
	default:
		return types.Up
	}
}

func sideFromString(s string) types.Side {
	if s == "SELL" {
		return types.SELL
	}
	return types.BUY
}
