// Package engine is the central orchestrator of the trading engine. It
// wires together the market-data plane, the strategy plane, the execution
// plane, the copy-watch plane, the persistence and archival tasks, and the
// message bus, and implements internal/control.Engine so the out-of-core
// control surface can drive it (spec.md §4, §6).
package engine

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-resty/resty/v2"
	"github.com/prometheus/client_golang/prometheus"

	"craftstrat-engine/internal/backtest"
	"craftstrat-engine/internal/bus"
	"craftstrat-engine/internal/config"
	"craftstrat-engine/internal/control"
	"craftstrat-engine/internal/copywatch"
	"craftstrat-engine/internal/execution"
	"craftstrat-engine/internal/httppool"
	"craftstrat-engine/internal/market"
	"craftstrat-engine/internal/persistence"
	"craftstrat-engine/internal/storage/clickhouse"
	"craftstrat-engine/internal/storage/postgres"
	redisstore "craftstrat-engine/internal/storage/redis"
	"craftstrat-engine/internal/strategy"
	"craftstrat-engine/internal/supervisor"
	"craftstrat-engine/internal/telemetry"
	"craftstrat-engine/pkg/types"
)

// Engine owns every plane's components and their lifecycle.
type Engine struct {
	cfg    config.Config
	logger *slog.Logger

	books         *market.BookCache
	prices        *market.PriceCache
	activeMarkets *market.ActiveMarkets
	wsFeed        *market.WSFeed
	discovery     *market.Discovery
	pricePoller   *market.PricePoller
	tickBuilder   *market.TickBuilder

	registry       *strategy.Registry
	strategyEngine *strategy.Engine

	queue     *execution.Queue
	wallets   *execution.WalletStore
	fees      *execution.FeeCache
	relayer   *execution.Relayer
	submitter *execution.Submitter
	executor  *execution.Executor

	watcher     *copywatch.Watcher
	stateWriter *persistence.StateWriter

	busPublisher *bus.Publisher
	chWriter     *clickhouse.Writer

	pgStore    *postgres.Store
	redisStore *redisstore.Store

	metrics *telemetry.Metrics

	wg sync.WaitGroup
}

// New connects to every backing store and wires every plane's components.
// It does not start any background task — call Run for that.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Engine, error) {
	pgStore, err := postgres.Open(ctx, cfg.Storage.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("engine: connect postgres: %w", err)
	}
	redisStore := redisstore.New(cfg.Storage.RedisAddr)

	metrics := telemetry.New()
	metrics.MustRegister(prometheus.DefaultRegisterer)

	books := market.NewBookCache()
	prices := market.NewPriceCache()
	activeMarkets := market.NewActiveMarkets()
	wsFeed := market.NewWSFeed(cfg.Venue.WSMarketURL, books, logger)

	sources := make([]market.DiscoverySource, 0, len(cfg.Discovery.Sources))
	for _, s := range cfg.Discovery.Sources {
		sources = append(sources, market.DiscoverySource{
			Name:             s.Name,
			RefSymbol:        s.RefSymbol,
			SlotDurationSecs: s.SlotDurationSecs,
		})
	}
	discovery := market.NewDiscovery(cfg.Venue.GammaBaseURL, sources, activeMarkets, prices, wsFeed, cfg.Discovery.IntervalSecs, logger)
	pricePoller := market.NewPricePoller(cfg.Discovery.PriceBaseURL, cfg.Discovery.PriceSymbols, prices, logger)
	tickBuilder := market.NewTickBuilder(books, prices, activeMarkets, cfg.Discovery.TickIntervalMS, logger)

	registry := strategy.NewRegistry(logger, func(wallets, assignments int) {
		metrics.ActiveWallets.Set(float64(wallets))
		metrics.ActiveAssignments.Set(float64(assignments))
	})

	queue := execution.NewQueue(cfg.Venue.MaxOrdersPerDay)
	wallets := execution.NewWalletStore()

	for _, wk := range loadWalletKeysOrWarn(ctx, pgStore, logger) {
		if wk.PrivateKeyEnc != "" {
			if err := wallets.PutEncrypted(wk.WalletID, wk.PrivateKeyEnc); err != nil {
				logger.Warn("skipping malformed stored wallet key", "wallet_id", wk.WalletID, "error", err)
				continue
			}
		}
		if wk.SafeAddress != "" {
			wallets.SetSafeAddress(wk.WalletID, common.HexToAddress(wk.SafeAddress))
		}
	}

	clobClient := resty.New().SetBaseURL(cfg.Venue.CLOBBaseURL).SetTimeout(10 * time.Second)
	fees := execution.NewFeeCache(feeFetchFor(clobClient))

	creds := execution.BuilderCreds{APIKey: cfg.Builder.APIKey, Secret: cfg.Builder.Secret, Passphrase: cfg.Builder.Passphrase}
	contracts := execution.VerifyingContracts{Standard: cfg.Venue.VerifyingContract, NegRisk: cfg.Venue.NegRiskContract}
	submitter := execution.NewSubmitter(cfg.Venue.CLOBBaseURL, wallets, fees, creds, contracts, cfg.Wallet.EncryptionPassphrase, cfg.Venue.NegRisk)

	initCodeHash, err := parseInitCodeHash(cfg.Wallet.SafeInitCodeHash)
	if err != nil {
		return nil, fmt.Errorf("engine: parse wallet.safe_init_code_hash: %w", err)
	}
	exchanges := [2]string{cfg.Venue.VerifyingContract, cfg.Venue.NegRiskContract}
	relayer := execution.NewRelayer(cfg.Venue.RelayerBaseURL, cfg.Wallet.SafeFactoryAddress, initCodeHash, wallets, creds, cfg.Wallet.EncryptionPassphrase, cfg.Wallet.QuoteTokenAddress, exchanges)

	tokenLookup := func(marketSlug string, outcome types.Outcome) (string, bool) {
		m, ok := activeMarkets.Get(marketSlug)
		if !ok {
			return "", false
		}
		if outcome == types.Down {
			return m.DownTokenID, true
		}
		return m.UpTokenID, true
	}

	strategyEngine := strategy.NewEngine(registry, nil, func(order *types.ExecutionOrder) {
		queue.Push(order)
		metrics.QueueDepth.Set(float64(queue.Len()))
	}, nil, tokenLookup, logger)

	assignmentLookup := func(walletID, strategyID uint64) *strategy.Assignment {
		for _, a := range registry.All() {
			if a.WalletID == walletID && a.StrategyID == strategyID {
				return a
			}
		}
		return nil
	}
	executor := execution.NewExecutor(queue, submitter, assignmentLookup, pgStore, logger)

	pool, err := httppool.New(cfg.HTTPProxies, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("engine: build http pool: %w", err)
	}
	watcher := copywatch.New(cfg.Venue.GammaBaseURL, pool.Proxied(), queue, redisStore, pgStore, func(status string) {
		metrics.CopyTradesTotal.WithLabelValues(status).Inc()
	}, logger)
	for _, addr := range cfg.CopyWatch.LeaderAddresses {
		if err := watcher.Watch(ctx, addr); err != nil {
			logger.Warn("seed copy-watch address failed", "address", addr, "error", err)
		}
	}

	stateWriter := persistence.New(registry, redisStore, logger)

	var busPublisher *bus.Publisher
	if len(cfg.Bus.Brokers) > 0 {
		busPublisher = bus.NewPublisher(cfg.Bus.Brokers, cfg.Bus.Topic, logger)
	}

	var chWriter *clickhouse.Writer
	if cfg.Storage.ClickhouseURL != "" {
		chWriter = clickhouse.New(cfg.Storage.ClickhouseURL, logger)
	}

	return &Engine{
		cfg:            cfg,
		logger:         logger.With("component", "engine"),
		books:          books,
		prices:         prices,
		activeMarkets:  activeMarkets,
		wsFeed:         wsFeed,
		discovery:      discovery,
		pricePoller:    pricePoller,
		tickBuilder:    tickBuilder,
		registry:       registry,
		strategyEngine: strategyEngine,
		queue:          queue,
		wallets:        wallets,
		fees:           fees,
		relayer:        relayer,
		submitter:      submitter,
		executor:       executor,
		watcher:        watcher,
		stateWriter:    stateWriter,
		busPublisher:   busPublisher,
		chWriter:       chWriter,
		pgStore:        pgStore,
		redisStore:     redisStore,
		metrics:        metrics,
	}, nil
}

func parseInitCodeHash(hexStr string) ([]byte, error) {
	hexStr = strings.TrimPrefix(hexStr, "0x")
	return hex.DecodeString(hexStr)
}

func loadWalletKeysOrWarn(ctx context.Context, store *postgres.Store, logger *slog.Logger) []postgres.WalletKey {
	keys, err := store.LoadWalletKeys(ctx)
	if err != nil {
		logger.Warn("load wallet keys at startup failed, starting with an empty wallet store", "error", err)
		return nil
	}
	return keys
}

// feeFetchFor builds an execution.FeeFetchFunc hitting the CLOB's fee-rate
// endpoint (spec.md §4.10 step 2).
func feeFetchFor(client *resty.Client) execution.FeeFetchFunc {
	return func(ctx context.Context, tokenID string) (int, error) {
		var out struct {
			FeeRateBps int `json:"fee_rate_bps"`
		}
		resp, err := client.R().SetContext(ctx).SetQueryParam("token_id", tokenID).SetResult(&out).Get("/fee-rate-bps")
		if err != nil {
			return 0, err
		}
		if resp.IsError() {
			return 0, fmt.Errorf("fee-rate-bps status %d", resp.StatusCode())
		}
		return out.FeeRateBps, nil
	}
}

// Run starts every background task under the supervisor's restart-with-
// backoff wrapper and blocks until ctx is cancelled, at which point it waits
// for every task to exit before returning (spec.md §4.16, §7).
func (e *Engine) Run(ctx context.Context) error {
	tickStop := make(chan struct{})
	e.runSupervised(ctx, "ws_feed", func(ctx context.Context) error { return e.wsFeed.Run(ctx) })
	e.runBackground(func() { e.discovery.Run(ctx) })
	e.runSupervised(ctx, "price_poller", func(ctx context.Context) error { return e.pricePoller.Run(ctx) })
	e.runBackground(func() { e.tickBuilder.Run(tickStop) })

	strategyTicks, unsubStrategy := e.tickBuilder.Broadcaster().Subscribe()
	e.runSupervised(ctx, "strategy_engine", func(ctx context.Context) error { return e.strategyEngine.Run(ctx, strategyTicks) })

	e.runSupervised(ctx, "executor", e.executor.Run)
	e.runSupervised(ctx, "copy_watcher", e.watcher.Run)
	e.runSupervised(ctx, "state_writer", e.stateWriter.Run)

	if e.busPublisher != nil {
		busTicks, unsubBus := e.tickBuilder.Broadcaster().Subscribe()
		defer unsubBus()
		e.runSupervised(ctx, "bus_publisher", func(ctx context.Context) error { return e.busPublisher.Run(ctx, busTicks) })
	}
	if e.chWriter != nil {
		chTicks, unsubCH := e.tickBuilder.Broadcaster().Subscribe()
		defer unsubCH()
		e.runSupervised(ctx, "clickhouse_writer", func(ctx context.Context) error { return e.chWriter.Run(ctx, chTicks) })
	}

	<-ctx.Done()
	close(tickStop)
	unsubStrategy()
	e.tickBuilder.Broadcaster().Close()
	e.wg.Wait()

	if e.busPublisher != nil {
		_ = e.busPublisher.Close()
	}
	_ = e.redisStore.Close()
	e.pgStore.Close()

	return ctx.Err()
}

func (e *Engine) runSupervised(ctx context.Context, name string, task supervisor.Task) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := supervisor.Run(ctx, name, task, e.logger); err != nil && ctx.Err() == nil {
			e.logger.Error("supervised task exited", "task", name, "error", err)
		}
	}()
}

func (e *Engine) runBackground(fn func()) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn()
	}()
}

// Activate implements control.Engine (spec.md §6). A non-empty
// privateKeyEnc loads (and persists) the wallet's signer key as a side
// effect of activation, per §4.12.
func (e *Engine) Activate(walletID, strategyID uint64, graph json.RawMessage, markets []string, maxPositionUSDC float64, isPaper bool, privateKeyEnc, safeAddress string) error {
	ctx := context.Background()

	if privateKeyEnc != "" {
		if err := e.wallets.PutEncrypted(walletID, privateKeyEnc); err != nil {
			return fmt.Errorf("activate: store wallet key: %w", err)
		}
		if err := e.pgStore.UpsertWalletKey(ctx, walletID, privateKeyEnc, safeAddress); err != nil {
			e.logger.Warn("persist wallet key failed, key is usable for this process only", "wallet_id", walletID, "error", err)
		}
	}
	if safeAddress != "" {
		e.wallets.SetSafeAddress(walletID, common.HexToAddress(safeAddress))
	}

	initialState := e.stateWriter.WarmStart(ctx, walletID, strategyID)
	e.registry.Activate(walletID, strategyID, graph, markets, maxPositionUSDC, isPaper, initialState)
	return nil
}

// Deactivate implements control.Engine.
func (e *Engine) Deactivate(walletID, strategyID uint64) error {
	e.registry.Deactivate(walletID, strategyID)
	return nil
}

// Kill implements control.Engine.
func (e *Engine) Kill(walletID, strategyID uint64) error {
	e.registry.Kill(walletID, strategyID)
	return nil
}

// Unkill implements control.Engine.
func (e *Engine) Unkill(walletID, strategyID uint64) error {
	e.registry.Unkill(walletID, strategyID)
	return nil
}

// Watch implements control.Engine.
func (e *Engine) Watch(address string) error {
	return e.watcher.Watch(context.Background(), address)
}

// Unwatch implements control.Engine.
func (e *Engine) Unwatch(address string) error {
	return e.watcher.Unwatch(context.Background(), address)
}

// DeploySafe implements control.Engine, storing the wallet's signer key (if
// not already known) and deploying its Safe smart-contract wallet via the
// relayer, mirroring original_source's deploy_safe handler (spec.md §4.11).
func (e *Engine) DeploySafe(ctx context.Context, walletID uint64, privateKeyEnc string) (string, error) {
	if err := e.wallets.PutEncrypted(walletID, privateKeyEnc); err != nil {
		return "", fmt.Errorf("deploy safe: store wallet key: %w", err)
	}

	safeAddr, err := e.relayer.EnsureDeployed(ctx, walletID)
	if err != nil {
		return "", fmt.Errorf("deploy safe: %w", err)
	}

	if err := e.pgStore.UpsertWalletKey(ctx, walletID, privateKeyEnc, safeAddr.Hex()); err != nil {
		e.logger.Warn("persist wallet key after safe deploy failed", "wallet_id", walletID, "error", err)
	}
	return safeAddr.Hex(), nil
}

// Status implements control.Engine.
func (e *Engine) Status() control.StatusReport {
	assignments := e.registry.All()
	wallets := make(map[uint64]bool, len(assignments))
	for _, a := range assignments {
		wallets[a.WalletID] = true
	}

	watched, err := e.watcher.Count(context.Background())
	if err != nil {
		e.logger.Warn("status: count watched addresses failed", "error", err)
	}
	e.metrics.WatchedAddresses.Set(float64(watched))

	return control.StatusReport{
		ActiveWallets:     len(wallets),
		ActiveAssignments: len(assignments),
		QueueDepth:        e.queue.Len(),
		WatchedAddresses:  watched,
	}
}

// RunBacktest implements control.Engine, replaying req's recorded ticks
// through the same interpreter used live (spec.md §4.14).
func (e *Engine) RunBacktest(ctx context.Context, req backtest.Request) (*backtest.Result, error) {
	return backtest.Run(req, e.logger)
}
