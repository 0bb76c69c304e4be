package market

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"

	"craftstrat-engine/pkg/types"
)

func TestDiscoveryAddsOnFirstSightAndEvictsExpired(t *testing.T) {
	t.Parallel()
	markets := NewActiveMarkets()
	prices := NewPriceCache()
	prices.set("BTCUSDT", 50000)

	src := DiscoverySource{Name: "btc-updown", RefSymbol: "BTCUSDT", SlotDurationSecs: 900}
	d := NewDiscovery("http://example.invalid", []DiscoverySource{src}, markets, prices, nil, 0, testLogger())

	seen := map[int64]bool{}
	d.probe = func(ctx context.Context, client *resty.Client, source DiscoverySource, slotTS int64) (gammaSlotMarket, bool, error) {
		seen[slotTS] = true
		return gammaSlotMarket{
			ConditionID: "cond-1",
			Slug:        "btc-updown-test",
			EndDateISO:  time.Now().Add(time.Hour).Format(time.RFC3339),
			ClobTokens: []struct {
				TokenID string `json:"token_id"`
				Outcome string `json:"outcome"`
			}{
				{TokenID: "up-token", Outcome: "Up"},
				{TokenID: "down-token", Outcome: "Down"},
			},
		}, true, nil
	}

	d.pass(context.Background())

	if len(seen) != 2 {
		t.Fatalf("expected probes for current and next slot, got %d", len(seen))
	}
	if !markets.Has("btc-updown-test") {
		t.Fatal("expected market to be added on first sight")
	}
	m := markets.Snapshot()["btc-updown-test"]
	if m.UpTokenID != "up-token" || m.DownTokenID != "down-token" {
		t.Errorf("token ids = (%s,%s), want (up-token,down-token)", m.UpTokenID, m.DownTokenID)
	}
	if m.RefPriceAtEntry != 50000 {
		t.Errorf("ref_price_at_entry = %v, want 50000", m.RefPriceAtEntry)
	}

	markets.Add(&types.ActiveMarket{
		Slug:    "stale-market",
		EndTime: time.Now().Add(-10 * time.Minute),
	})
	d.pass(context.Background())
	if markets.Has("stale-market") {
		t.Error("expected market past end_time+300s to be evicted")
	}
}

func TestDiscoverySkipsAlreadyKnownSlug(t *testing.T) {
	t.Parallel()
	markets := NewActiveMarkets()
	src := DiscoverySource{Name: "btc-updown", SlotDurationSecs: 900}
	d := NewDiscovery("http://example.invalid", []DiscoverySource{src}, markets, NewPriceCache(), nil, 0, testLogger())

	calls := 0
	d.probe = func(ctx context.Context, client *resty.Client, source DiscoverySource, slotTS int64) (gammaSlotMarket, bool, error) {
		calls++
		return gammaSlotMarket{}, false, nil
	}

	now := time.Now().Unix()
	slotTS := now - (now % 900)
	markets.Add(&types.ActiveMarket{Slug: "btc-updown-" + strconv.FormatInt(slotTS, 10), EndTime: time.Now().Add(time.Hour)})

	d.pass(context.Background())

	if calls != 1 {
		t.Errorf("expected only the next-slot probe (current already known), got %d calls", calls)
	}
}
