package market

import (
	"testing"
	"time"

	"craftstrat-engine/pkg/types"
)

func TestDerivedSpreadMidSizeRatio(t *testing.T) {
	t.Parallel()
	if got := derivedSpread(0.50, 0.55); got != 0.05 {
		t.Errorf("spread = %v, want 0.05", got)
	}
	if got := derivedSpread(0, 0.55); got != 0 {
		t.Errorf("spread with zero bid = %v, want 0", got)
	}
	if got := derivedMid(0.50, 0.60); got != 0.55 {
		t.Errorf("mid = %v, want 0.55", got)
	}
	if got := derivedMid(0, 0.60); got != 0 {
		t.Errorf("mid with zero bid = %v, want 0", got)
	}
	if got := derivedSizeRatio(100, 50); got != 2 {
		t.Errorf("size_ratio = %v, want 2", got)
	}
	if got := derivedSizeRatio(100, 0); got != 0 {
		t.Errorf("size_ratio with zero ask size = %v, want 0", got)
	}
}

func TestBuildTickDerivesMoveFromRefEntry(t *testing.T) {
	t.Parallel()
	m := &types.ActiveMarket{
		Slug:            "btc-updown-100",
		SlotTS:          time.Now().Add(-30 * time.Second).Unix(),
		SlotDuration:    900,
		UpTokenID:       "up",
		DownTokenID:     "down",
		RefPriceAtEntry: 50000,
		RefSymbol:       "BTCUSDT",
	}
	upBook := &types.TokenBook{Bids: []types.Level{{Price: 0.60, Size: 10}}, Asks: []types.Level{{Price: 0.62, Size: 8}}}

	tick := buildTick(m, upBook, nil, 51500)

	wantMove := (51500.0 - 50000.0) / 50000.0 * 100
	if tick.DirMovePct != wantMove {
		t.Errorf("dir_move_pct = %v, want %v", tick.DirMovePct, wantMove)
	}
	if tick.AbsMovePct != wantMove {
		t.Errorf("abs_move_pct = %v, want %v", tick.AbsMovePct, wantMove)
	}
	if tick.BidUp1 != 0.60 || tick.AskUp1 != 0.62 {
		t.Errorf("L1 up levels = (%v,%v), want (0.60,0.62)", tick.BidUp1, tick.AskUp1)
	}
	if tick.MidUp != 0.61 {
		t.Errorf("mid_up = %v, want 0.61", tick.MidUp)
	}
}

func TestBuildTickNegativeMoveIsAbsolute(t *testing.T) {
	t.Parallel()
	m := &types.ActiveMarket{Slug: "s", SlotTS: time.Now().Unix(), RefPriceAtEntry: 100, RefSymbol: "X"}
	tick := buildTick(m, nil, nil, 97)
	if tick.DirMovePct != -3 {
		t.Errorf("dir_move_pct = %v, want -3", tick.DirMovePct)
	}
	if tick.AbsMovePct != 3 {
		t.Errorf("abs_move_pct = %v, want 3", tick.AbsMovePct)
	}
}

func TestTickBuilderSkipsMarketsOutsideWindow(t *testing.T) {
	t.Parallel()
	books := NewBookCache()
	prices := NewPriceCache()
	markets := NewActiveMarkets()
	tb := NewTickBuilder(books, prices, markets, 0, testLogger())

	sub, unsub := tb.Broadcaster().Subscribe()
	defer unsub()

	// Market whose slot ended long ago (outside the 30s grace window).
	markets.Add(&types.ActiveMarket{
		Slug:         "expired",
		SlotTS:       time.Now().Add(-2 * time.Hour).Unix(),
		SlotDuration: 900,
		EndTime:      time.Now().Add(-time.Hour),
		UpTokenID:    "up",
		DownTokenID:  "down",
	})
	books.ApplySnapshot("up", []types.PriceLevel{{Price: "0.5", Size: "1"}}, []types.PriceLevel{{Price: "0.6", Size: "1"}})

	tb.buildOnce()

	select {
	case <-sub:
		t.Error("expected no tick for a market outside its slot window")
	default:
	}
}

func TestTickBuilderProducesTickWhenInWindow(t *testing.T) {
	t.Parallel()
	books := NewBookCache()
	prices := NewPriceCache()
	markets := NewActiveMarkets()
	tb := NewTickBuilder(books, prices, markets, 0, testLogger())

	sub, unsub := tb.Broadcaster().Subscribe()
	defer unsub()

	markets.Add(&types.ActiveMarket{
		Slug:         "live",
		SlotTS:       time.Now().Add(-time.Minute).Unix(),
		SlotDuration: 900,
		EndTime:      time.Now().Add(14 * time.Minute),
		UpTokenID:    "up",
		DownTokenID:  "down",
	})
	books.ApplySnapshot("up", []types.PriceLevel{{Price: "0.5", Size: "1"}}, []types.PriceLevel{{Price: "0.6", Size: "1"}})

	tb.buildOnce()

	select {
	case tick := <-sub:
		if tick.MarketSlug != "live" {
			t.Errorf("market_slug = %q, want live", tick.MarketSlug)
		}
	default:
		t.Error("expected a tick for an in-window market")
	}
}
