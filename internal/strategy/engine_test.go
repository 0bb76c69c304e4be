package strategy

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"craftstrat-engine/pkg/types"
)

func engineTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func buyGraph() json.RawMessage {
	g := map[string]interface{}{
		"mode": "form",
		"conditions": []map[string]interface{}{
			{
				"type": "AND",
				"rules": []map[string]interface{}{
					{
						"indicator": map[string]string{"field": "hour_of_day"},
						"operator":  ">=",
						"value":     0,
					},
				},
			},
		},
		"action": map[string]interface{}{
			"signal":    "buy",
			"outcome":   "UP",
			"size_usdc": 25,
		},
	}
	raw, _ := json.Marshal(g)
	return raw
}

func TestEngineHandleTickProducesOrderOnBuySignal(t *testing.T) {
	t.Parallel()

	registry := NewRegistry(engineTestLogger(), nil)
	assignment := registry.Activate(1, 1, buyGraph(), []string{"mkt"}, 100, true, nil)
	_ = assignment

	var mu sync.Mutex
	var orders []*types.ExecutionOrder
	sink := func(o *types.ExecutionOrder) {
		mu.Lock()
		defer mu.Unlock()
		orders = append(orders, o)
	}

	lookup := func(slug string, outcome types.Outcome) (string, bool) {
		return slug + ":" + outcome.String(), true
	}

	eng := NewEngine(registry, nil, sink, nil, lookup, engineTestLogger())
	eng.handleTick(types.Tick{MarketSlug: "mkt", CapturedAt: time.Now()})

	mu.Lock()
	defer mu.Unlock()
	if len(orders) != 1 {
		t.Fatalf("expected 1 order, got %d", len(orders))
	}
	if orders[0].TokenID != "mkt:UP" {
		t.Errorf("token id = %q, want mkt:UP", orders[0].TokenID)
	}
	if !orders[0].IsPaper {
		t.Error("expected IsPaper true from assignment flag")
	}
}

func TestEngineSkipsKilledAssignment(t *testing.T) {
	t.Parallel()

	registry := NewRegistry(engineTestLogger(), nil)
	assignment := registry.Activate(2, 2, buyGraph(), []string{"mkt"}, 100, false, nil)
	assignment.Kill()

	called := false
	sink := func(*types.ExecutionOrder) { called = true }

	eng := NewEngine(registry, nil, sink, nil, nil, engineTestLogger())
	eng.handleTick(types.Tick{MarketSlug: "mkt", CapturedAt: time.Now()})

	if called {
		t.Error("killed assignment must not produce an order")
	}
}

func TestEngineTokenLookupMissDropsSignal(t *testing.T) {
	t.Parallel()

	registry := NewRegistry(engineTestLogger(), nil)
	registry.Activate(3, 3, buyGraph(), []string{"mkt"}, 100, false, nil)

	called := false
	sink := func(*types.ExecutionOrder) { called = true }
	lookup := func(string, types.Outcome) (string, bool) { return "", false }

	eng := NewEngine(registry, nil, sink, nil, lookup, engineTestLogger())
	eng.handleTick(types.Tick{MarketSlug: "mkt", CapturedAt: time.Now()})

	if called {
		t.Error("expected signal dropped when token lookup misses")
	}
}

func TestEngineRunStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	registry := NewRegistry(engineTestLogger(), nil)
	eng := NewEngine(registry, nil, nil, nil, nil, engineTestLogger())

	ticks := make(chan types.Tick)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx, ticks) }()

	select {
	case err := <-done:
		if err == nil {
			t.Error("expected context error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop after context cancellation")
	}
}
