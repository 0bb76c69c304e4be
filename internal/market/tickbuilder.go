package market

import (
	"log/slog"
	"time"

	"craftstrat-engine/pkg/types"
)

const (
	defaultTickInterval = time.Second
	staleTickWarnAfter  = 15 * time.Second
	slotGrace           = 30 * time.Second
	tickBroadcastBuf    = 1024
)

// TickBuilder runs at a fixed cadence, snapshotting the book cache and
// price cache, computing a Tick for every in-window active market, and
// broadcasting it to every subscriber (spec.md §4.4).
type TickBuilder struct {
	books   *BookCache
	prices  *PriceCache
	markets *ActiveMarkets
	bus     *TickBroadcaster
	interval time.Duration
	logger  *slog.Logger

	lastProduced time.Time
	warnedStale  bool
}

// NewTickBuilder builds a tick synthesiser. intervalMS <= 0 uses the 1000ms
// default.
func NewTickBuilder(books *BookCache, prices *PriceCache, markets *ActiveMarkets, intervalMS int, logger *slog.Logger) *TickBuilder {
	interval := defaultTickInterval
	if intervalMS > 0 {
		interval = time.Duration(intervalMS) * time.Millisecond
	}
	return &TickBuilder{
		books:    books,
		prices:   prices,
		markets:  markets,
		bus:      NewTickBroadcaster(tickBroadcastBuf, logger),
		interval: interval,
		logger:   logger.With("component", "tickbuilder"),
	}
}

// Broadcaster exposes the tick stream for subscribers to attach to.
func (b *TickBuilder) Broadcaster() *TickBroadcaster { return b.bus }

// Run ticks at the configured interval until stopCh is closed.
func (b *TickBuilder) Run(stopCh <-chan struct{}) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			b.buildOnce()
		}
	}
}

func (b *TickBuilder) buildOnce() {
	books := b.books.SnapshotAll()
	prices := b.prices.Snapshot()
	marketSnapshot := b.markets.Snapshot()

	now := time.Now()
	produced := 0
	for _, m := range marketSnapshot {
		windowEnd := m.EndTime.Add(slotGrace)
		slotStart := time.Unix(m.SlotTS, 0)
		if now.Before(slotStart) || now.After(windowEnd) {
			continue
		}

		var refCurrent float64
		haveRef := true
		if m.RefSymbol != "" {
			refCurrent, haveRef = prices[m.RefSymbol]
		}
		if m.RefSymbol != "" && !haveRef {
			continue
		}

		upBook, hasUp := books[m.UpTokenID]
		downBook, hasDown := books[m.DownTokenID]
		if !hasUp && !hasDown {
			continue
		}

		tick := buildTick(m, upBook, downBook, refCurrent)
		b.bus.Publish(tick)
		produced++
	}

	if produced > 0 {
		b.lastProduced = now
		b.warnedStale = false
	} else if len(marketSnapshot) > 0 && !b.lastProduced.IsZero() && now.Sub(b.lastProduced) > staleTickWarnAfter && !b.warnedStale {
		b.logger.Warn("no ticks produced while markets are active", "since", now.Sub(b.lastProduced))
		b.warnedStale = true
	}
}

func buildTick(m *types.ActiveMarket, upBook, downBook *types.TokenBook, refCurrent float64) types.Tick {
	now := time.Now()
	t := types.Tick{
		CapturedAt:      now,
		MarketSlug:      m.Slug,
		SlotTS:          m.SlotTS,
		SlotDuration:    m.SlotDuration,
		HourOfDay:       now.Hour(),
		DayOfWeek:       int(now.Weekday()),
		RefPriceStart:   m.RefPriceAtEntry,
		RefPriceCurrent: refCurrent,
		RefPriceSource:  m.RefSymbol,
	}

	elapsed := now.Sub(time.Unix(m.SlotTS, 0)).Seconds()
	t.MinutesIntoSlot = elapsed / 60
	if m.SlotDuration > 0 {
		t.PctIntoSlot = (elapsed / float64(m.SlotDuration)) * 100
	}

	fillSide(upBook, &t.BidUp1, &t.AskUp1, &t.BidUpSz1, &t.AskUpSz1, &t.BidUp2, &t.AskUp2, &t.BidUpSz2, &t.AskUpSz2, &t.BidUp3, &t.AskUp3, &t.BidUpSz3, &t.AskUpSz3)
	fillSide(downBook, &t.BidDown1, &t.AskDown1, &t.BidDownSz1, &t.AskDownSz1, &t.BidDown2, &t.AskDown2, &t.BidDownSz2, &t.AskDownSz2, &t.BidDown3, &t.AskDown3, &t.BidDownSz3, &t.AskDownSz3)

	t.SpreadUp = derivedSpread(t.BidUp1, t.AskUp1)
	t.SpreadDown = derivedSpread(t.BidDown1, t.AskDown1)
	t.MidUp = derivedMid(t.BidUp1, t.AskUp1)
	t.MidDown = derivedMid(t.BidDown1, t.AskDown1)
	t.SizeRatioUp = derivedSizeRatio(t.BidUpSz1, t.AskUpSz1)
	t.SizeRatioDown = derivedSizeRatio(t.BidDownSz1, t.AskDownSz1)

	if m.RefPriceAtEntry > 0 {
		t.DirMovePct = (refCurrent - m.RefPriceAtEntry) / m.RefPriceAtEntry * 100
		if t.DirMovePct < 0 {
			t.AbsMovePct = -t.DirMovePct
		} else {
			t.AbsMovePct = t.DirMovePct
		}
	}

	return t
}

func fillSide(book *types.TokenBook, bid1, ask1, bidSz1, askSz1, bid2, ask2, bidSz2, askSz2, bid3, ask3, bidSz3, askSz3 *float64) {
	if book == nil {
		return
	}
	levels := []struct {
		p, s *float64
		side []types.Level
		idx  int
	}{
		{bid1, bidSz1, book.Bids, 0}, {bid2, bidSz2, book.Bids, 1}, {bid3, bidSz3, book.Bids, 2},
		{ask1, askSz1, book.Asks, 0}, {ask2, askSz2, book.Asks, 1}, {ask3, askSz3, book.Asks, 2},
	}
	for _, l := range levels {
		if l.idx < len(l.side) {
			*l.p = l.side[l.idx].Price
			*l.s = l.side[l.idx].Size
		}
	}
}

func derivedSpread(bid, ask float64) float64 {
	if bid > 0 && ask > 0 {
		return ask - bid
	}
	return 0
}

func derivedMid(bid, ask float64) float64 {
	if bid > 0 && ask > 0 {
		return (bid + ask) / 2
	}
	return 0
}

func derivedSizeRatio(bidSz, askSz float64) float64 {
	if askSz > 0 {
		return bidSz / askSz
	}
	return 0
}
