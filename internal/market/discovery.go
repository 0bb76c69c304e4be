package market

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"

	"craftstrat-engine/pkg/types"
)

const defaultDiscoveryInterval = 60 * time.Second

// DiscoverySource is one configured (symbol, slot duration) pair the
// discovery loop probes every pass (spec.md §4.3).
type DiscoverySource struct {
	Name             string // venue slug prefix, e.g. "btc-updown"
	RefSymbol        string // optional reference-spot symbol; empty if none required
	SlotDurationSecs int64
}

// gammaSlotMarket is the subset of the venue's market-lookup response
// discovery needs to build an ActiveMarket.
type gammaSlotMarket struct {
	ConditionID string `json:"conditionId"`
	Slug        string `json:"slug"`
	EndDateISO  string `json:"endDate"`
	ClobTokens  []struct {
		TokenID string `json:"token_id"`
		Outcome string `json:"outcome"`
	} `json:"tokens"`
}

// ProbeFunc looks up the venue market for one (source, slotTS) pair. It
// returns ok=false (no error) when no market exists yet for that slot.
type ProbeFunc func(ctx context.Context, client *resty.Client, source DiscoverySource, slotTS int64) (gammaSlotMarket, bool, error)

// Discovery periodically probes the venue for the current and next slot of
// every configured source, adding newly-seen markets and evicting expired
// ones (spec.md §4.3).
type Discovery struct {
	client   *resty.Client
	sources  []DiscoverySource
	markets  *ActiveMarkets
	prices   *PriceCache
	feed     *WSFeed
	interval time.Duration
	probe    ProbeFunc
	logger   *slog.Logger
}

// NewDiscovery builds a discovery loop. feed receives Subscribe/Unsubscribe
// calls for newly-discovered/evicted tokens.
func NewDiscovery(baseURL string, sources []DiscoverySource, markets *ActiveMarkets, prices *PriceCache, feed *WSFeed, intervalSecs int, logger *slog.Logger) *Discovery {
	interval := defaultDiscoveryInterval
	if intervalSecs > 0 {
		interval = time.Duration(intervalSecs) * time.Second
	}
	client := resty.New().SetBaseURL(baseURL).SetTimeout(10 * time.Second)
	return &Discovery{
		client:   client,
		sources:  sources,
		markets:  markets,
		prices:   prices,
		feed:     feed,
		interval: interval,
		probe:    defaultProbe,
		logger:   logger.With("component", "discovery"),
	}
}

// Run executes an immediate pass, then repeats every interval until ctx is
// cancelled. Additions and evictions are committed together in one batch
// per pass (spec.md §5).
func (d *Discovery) Run(ctx context.Context) {
	d.pass(ctx)
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.pass(ctx)
		}
	}
}

func (d *Discovery) pass(ctx context.Context) {
	now := time.Now()

	for _, src := range d.sources {
		if src.SlotDurationSecs <= 0 {
			continue
		}
		current := now.Unix() - (now.Unix() % src.SlotDurationSecs)
		for _, slotTS := range []int64{current, current + src.SlotDurationSecs} {
			slug := fmt.Sprintf("%s-%d", src.Name, slotTS)
			if d.markets.Has(slug) {
				continue
			}
			gm, ok, err := d.probe(ctx, d.client, src, slotTS)
			if err != nil {
				d.logger.Warn("discovery probe failed", "source", src.Name, "slot_ts", slotTS, "error", err)
				continue
			}
			if !ok {
				continue
			}
			market, err := toActiveMarket(gm, src, slotTS, d.prices)
			if err != nil {
				d.logger.Warn("discarding malformed market", "slug", gm.Slug, "error", err)
				continue
			}
			d.markets.Add(market)
			d.logger.Info("discovered market", "slug", market.Slug, "condition_id", market.ConditionID)
			if d.feed != nil {
				d.feed.Subscribe([]string{market.UpTokenID, market.DownTokenID})
			}
		}
	}

	for _, slug := range d.markets.ExpiredSlugs(now) {
		if m, ok := d.markets.Evict(slug); ok {
			d.logger.Info("evicted expired market", "slug", slug)
			if d.feed != nil {
				d.feed.Unsubscribe([]string{m.UpTokenID, m.DownTokenID})
			}
		}
	}
}

func toActiveMarket(gm gammaSlotMarket, src DiscoverySource, slotTS int64, prices *PriceCache) (*types.ActiveMarket, error) {
	if len(gm.ClobTokens) < 2 {
		return nil, fmt.Errorf("market %s missing outcome tokens", gm.Slug)
	}
	var up, down string
	for _, tok := range gm.ClobTokens {
		switch tok.Outcome {
		case "Up", "Yes":
			up = tok.TokenID
		case "Down", "No":
			down = tok.TokenID
		}
	}
	if up == "" || down == "" {
		up, down = gm.ClobTokens[0].TokenID, gm.ClobTokens[1].TokenID
	}

	endTime, err := time.Parse(time.RFC3339, gm.EndDateISO)
	if err != nil {
		endTime = time.Unix(slotTS+src.SlotDurationSecs, 0)
	}

	var refAtEntry float64
	if src.RefSymbol != "" && prices != nil {
		refAtEntry, _ = prices.Get(src.RefSymbol)
	}

	return &types.ActiveMarket{
		ConditionID:     gm.ConditionID,
		Slug:            gm.Slug,
		RefSymbol:       src.RefSymbol,
		SlotTS:          slotTS,
		SlotDuration:    src.SlotDurationSecs,
		EndTime:         endTime,
		UpTokenID:       up,
		DownTokenID:     down,
		RefPriceAtEntry: refAtEntry,
	}, nil
}

func defaultProbe(ctx context.Context, client *resty.Client, source DiscoverySource, slotTS int64) (gammaSlotMarket, bool, error) {
	slug := fmt.Sprintf("%s-%d", source.Name, slotTS)
	var gm gammaSlotMarket
	resp, err := client.R().SetContext(ctx).SetResult(&gm).Get("/markets/slug/" + slug)
	if err != nil {
		return gammaSlotMarket{}, false, err
	}
	if resp.StatusCode() == 404 {
		return gammaSlotMarket{}, false, nil
	}
	if resp.IsError() {
		return gammaSlotMarket{}, false, fmt.Errorf("status %d", resp.StatusCode())
	}
	if gm.Slug == "" {
		gm.Slug = slug
	}
	return gm, true, nil
}
