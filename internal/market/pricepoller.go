package market

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	priceTickInterval = 2 * time.Second
	priceHTTPTimeout  = 10 * time.Second
)

// PriceCache is a concurrency-safe symbol -> last-known reference price
// map, updated by PricePoller and read by the tick builder.
type PriceCache struct {
	mu     sync.RWMutex
	prices map[string]float64
}

// NewPriceCache returns an empty cache.
func NewPriceCache() *PriceCache {
	return &PriceCache{prices: make(map[string]float64)}
}

// Get returns the last known price for symbol, or ok=false if never set.
func (c *PriceCache) Get(symbol string) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.prices[symbol]
	return v, ok
}

// Snapshot clones the whole map (spec.md §4.4 step 1).
func (c *PriceCache) Snapshot() map[string]float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]float64, len(c.prices))
	for k, v := range c.prices {
		out[k] = v
	}
	return out
}

func (c *PriceCache) set(symbol string, price float64) {
	c.mu.Lock()
	c.prices[symbol] = price
	c.mu.Unlock()
}

// PriceQuoteFunc fetches the current numeric price for a symbol from its
// venue endpoint. Exposed so tests can stub the HTTP dependency.
type PriceQuoteFunc func(ctx context.Context, client *resty.Client, symbol string) (float64, error)

// PricePoller fans a GET request out per configured symbol every 2s
// (spec.md §4.2), writing successful parses into a shared PriceCache. A
// symbol that fails leaves its last cached value in place and does not
// block its siblings.
type PricePoller struct {
	client  *resty.Client
	cache   *PriceCache
	symbols []string
	fetch   PriceQuoteFunc
	logger  *slog.Logger
}

// NewPricePoller builds a poller for the given symbols, hitting baseURL +
// "/price?symbol=" + symbol by default (fetch may be overridden).
func NewPricePoller(baseURL string, symbols []string, cache *PriceCache, logger *slog.Logger) *PricePoller {
	client := resty.New().SetTimeout(priceHTTPTimeout).SetBaseURL(baseURL)
	return &PricePoller{
		client:  client,
		cache:   cache,
		symbols: symbols,
		fetch:   defaultPriceFetch,
		logger:  logger.With("component", "pricepoller"),
	}
}

// Run polls every symbol concurrently on a 2s tick until ctx is cancelled.
func (p *PricePoller) Run(ctx context.Context) error {
	ticker := time.NewTicker(priceTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.pollOnce(ctx)
		}
	}
}

func (p *PricePoller) pollOnce(ctx context.Context) {
	var wg sync.WaitGroup
	for _, sym := range p.symbols {
		sym := sym
		wg.Add(1)
		go func() {
			defer wg.Done()
			price, err := p.fetch(ctx, p.client, sym)
			if err != nil {
				p.logger.Warn("price fetch failed, keeping last value", "symbol", sym, "error", err)
				return
			}
			p.cache.set(sym, price)
		}()
	}
	wg.Wait()
}

func defaultPriceFetch(ctx context.Context, client *resty.Client, symbol string) (float64, error) {
	resp, err := client.R().SetContext(ctx).SetQueryParam("symbol", symbol).Get("/price")
	if err != nil {
		return 0, err
	}
	if resp.IsError() {
		return 0, fmt.Errorf("price endpoint status %d", resp.StatusCode())
	}

	var payload struct {
		Price string `json:"price"`
	}
	if err := json.Unmarshal(resp.Body(), &payload); err == nil && payload.Price != "" {
		return strconv.ParseFloat(payload.Price, 64)
	}

	return strconv.ParseFloat(string(resp.Body()), 64)
}
