// Package postgres implements the persistent store: trade and copy-trade
// records, plus the copy-watcher's relationship and watch-list lookups
// (spec.md §4.9, §4.13), grounded on
// original_source/engine/src/storage/postgres.rs.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"craftstrat-engine/internal/execution"
	"craftstrat-engine/pkg/types"
)

// Store wraps a pgx connection pool and implements execution.TradeStore.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to databaseURL and verifies the connection with a ping.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// PersistTrade implements execution.TradeStore, inserting one row into
// trades per submitted order.
func (s *Store) PersistTrade(ctx context.Context, record execution.TradeRecord) error {
	order := record.Order

	var strategyID, copyRelID any
	if order.StrategyID != nil {
		strategyID = int64(*order.StrategyID)
	}
	if order.CopyRelationshipID != nil {
		copyRelID = int64(*order.CopyRelationshipID)
	}

	var feeBps any
	if record.Result.FeeRateBps != nil {
		feeBps = int16(*record.Result.FeeRateBps)
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO trades (
			wallet_id, strategy_id, copy_relationship_id,
			symbol, token_id, side, outcome,
			order_type, price, size_usdc,
			polymarket_order_id, status, filled_price, fee_bps,
			created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, to_timestamp($15))
	`,
		int64(order.WalletID), strategyID, copyRelID,
		order.MarketSlug, order.TokenID, sideString(order.Side), order.Outcome.String(),
		orderTypeString(order.OrderType.Kind), order.Price, order.SizeUSDC,
		record.Result.ExternalOrderID, string(record.Result.Status), record.Result.FilledPrice, feeBps,
		order.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: write trade: %w", err)
	}
	return nil
}

// PersistCopyTrade implements execution.TradeStore, inserting one row into
// copy_trades for every copy-trade candidate, "submitted" or "skipped"
// (spec.md §4.13 step 4).
func (s *Store) PersistCopyTrade(ctx context.Context, record execution.CopyTradeRecord) error {
	var followerPrice any
	var status, skipReason any = record.Status, nil
	if record.Result != nil && record.Result.FilledPrice != nil {
		followerPrice = *record.Result.FilledPrice
	}
	if record.Status == "skipped" {
		skipReason = "exceeds_max_position_or_filtered"
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO copy_trades (
			leader_address, leader_tx_hash, follower_wallet_id,
			follower_outcome, follower_side, follower_size_usdc,
			follower_price, status, skip_reason
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		record.LeaderAddress, record.LeaderTxHash, int64(record.WalletID),
		record.Outcome.String(), sideString(record.Side), record.SizeUSDC,
		followerPrice, status, skipReason,
	)
	if err != nil {
		return fmt.Errorf("postgres: write copy trade: %w", err)
	}
	return nil
}

// CopyRelationship is one follower's subscription to a watched leader
// (spec.md §4.13 step 3).
type CopyRelationship struct {
	ID               int64
	FollowerWalletID uint64
	SizeMode         string // "fixed" | "proportional"
	SizeValue        float64
	MaxPositionUSDC  float64
	MarketsFilter    []string // nil means "no filter, copy every market"
}

// GetActiveFollowers returns every active copy relationship subscribed to
// watchedAddress.
func (s *Store) GetActiveFollowers(ctx context.Context, watchedAddress string) ([]CopyRelationship, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT cr.id, cr.follower_wallet_id, cr.size_mode, cr.size_value,
		       cr.max_position_usdc, cr.markets_filter
		FROM copy_relationships cr
		JOIN watched_wallets ww ON ww.id = cr.watched_wallet_id
		WHERE ww.address = $1
		  AND cr.is_active = true
	`, watchedAddress)
	if err != nil {
		return nil, fmt.Errorf("postgres: get active followers: %w", err)
	}
	defer rows.Close()

	var out []CopyRelationship
	for rows.Next() {
		var (
			rel        CopyRelationship
			followerID int64
			filterRaw  []byte
		)
		if err := rows.Scan(&rel.ID, &followerID, &rel.SizeMode, &rel.SizeValue, &rel.MaxPositionUSDC, &filterRaw); err != nil {
			return nil, fmt.Errorf("postgres: scan copy relationship: %w", err)
		}
		rel.FollowerWalletID = uint64(followerID)
		if len(filterRaw) > 0 {
			if err := json.Unmarshal(filterRaw, &rel.MarketsFilter); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal markets_filter: %w", err)
			}
		}
		out = append(out, rel)
	}
	return out, rows.Err()
}

// LoadWatchedAddresses returns every leader address with at least one
// active copy relationship, for warm start of the copy-watcher.
func (s *Store) LoadWatchedAddresses(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT ww.address
		FROM watched_wallets ww
		JOIN copy_relationships cr ON cr.watched_wallet_id = ww.id
		WHERE cr.is_active = true
	`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load watched addresses: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, fmt.Errorf("postgres: scan watched address: %w", err)
		}
		out = append(out, addr)
	}
	return out, rows.Err()
}

// WalletKey is one tenant wallet's encrypted signer key and Safe address,
// loaded into the execution plane's WalletStore at startup.
type WalletKey struct {
	WalletID      uint64
	PrivateKeyEnc string // base64(iv‖tag‖ciphertext)
	SafeAddress   string // empty if no Safe deployed yet
}

// LoadWalletKeys returns every wallet's encrypted signer key for bootstrap,
// so wallets already activated before a restart don't need their key
// resubmitted via the control surface's activate call.
func (s *Store) LoadWalletKeys(ctx context.Context) ([]WalletKey, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT wallet_id, private_key_enc, COALESCE(safe_address, '')
		FROM wallet_keys
	`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load wallet keys: %w", err)
	}
	defer rows.Close()

	var out []WalletKey
	for rows.Next() {
		var (
			wk         WalletKey
			walletID   int64
		)
		if err := rows.Scan(&walletID, &wk.PrivateKeyEnc, &wk.SafeAddress); err != nil {
			return nil, fmt.Errorf("postgres: scan wallet key: %w", err)
		}
		wk.WalletID = uint64(walletID)
		out = append(out, wk)
	}
	return out, rows.Err()
}

// UpsertWalletKey persists a wallet's encrypted signer key and Safe address
// so it survives a restart (mirrors the control surface's activate-time
// wallet-key load, spec.md §4.12).
func (s *Store) UpsertWalletKey(ctx context.Context, walletID uint64, privateKeyEnc, safeAddress string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO wallet_keys (wallet_id, private_key_enc, safe_address)
		VALUES ($1, $2, NULLIF($3, ''))
		ON CONFLICT (wallet_id) DO UPDATE SET
			private_key_enc = CASE WHEN EXCLUDED.private_key_enc <> '' THEN EXCLUDED.private_key_enc ELSE wallet_keys.private_key_enc END,
			safe_address = COALESCE(EXCLUDED.safe_address, wallet_keys.safe_address)
	`, int64(walletID), privateKeyEnc, safeAddress)
	if err != nil {
		return fmt.Errorf("postgres: upsert wallet key: %w", err)
	}
	return nil
}

func sideString(s types.Side) string {
	if s == types.SELL {
		return "sell"
	}
	return "buy"
}

func orderTypeString(kind types.OrderKind) string {
	switch kind {
	case types.OrderLimit:
		return "limit"
	case types.OrderStopLoss:
		return "stoploss"
	case types.OrderTakeProfit:
		return "take_profit"
	default:
		return "market"
	}
}
