package market

import (
	"log/slog"
	"sync"

	"craftstrat-engine/pkg/types"
)

// TickBroadcaster is a bounded, multi-subscriber, best-effort fan-out for
// the tick stream. A lagged subscriber's channel is skipped (and logged),
// never blocking the tick builder (spec.md §4.4, §9 "Back-pressure").
type TickBroadcaster struct {
	mu       sync.Mutex
	subs     map[int]chan types.Tick
	nextID   int
	bufSize  int
	logger   *slog.Logger
}

// NewTickBroadcaster returns a broadcaster whose per-subscriber channels
// have capacity bufSize.
func NewTickBroadcaster(bufSize int, logger *slog.Logger) *TickBroadcaster {
	return &TickBroadcaster{
		subs:    make(map[int]chan types.Tick),
		bufSize: bufSize,
		logger:  logger.With("component", "tick_broadcast"),
	}
}

// Subscribe registers a new receiver and returns its channel plus an
// unsubscribe function.
func (b *TickBroadcaster) Subscribe() (<-chan types.Tick, func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	ch := make(chan types.Tick, b.bufSize)
	b.subs[id] = ch
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
		close(ch)
	}
}

// Publish sends tick to every subscriber without blocking; a full channel
// is skipped and logged rather than awaited.
func (b *TickBroadcaster) Publish(tick types.Tick) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		select {
		case ch <- tick:
		default:
			b.logger.Warn("tick subscriber lagging, dropping tick", "subscriber", id, "market", tick.MarketSlug)
		}
	}
}

// Close drops every subscriber channel, draining blocked readers (spec.md
// §5: "the broadcast sender is dropped to drain subscribers").
func (b *TickBroadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}
