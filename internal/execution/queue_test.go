package execution

import (
	"testing"

	"craftstrat-engine/pkg/types"
)

func order(wallet uint64, priority types.OrderPriority, createdAt int64) *types.ExecutionOrder {
	return &types.ExecutionOrder{WalletID: wallet, Priority: priority, CreatedAt: createdAt}
}

func TestQueueOrderingPriorityThenCreatedAt(t *testing.T) {
	t.Parallel()
	q := NewQueue(1000)
	q.Push(order(1, types.PriorityStrategyMarket, 3))
	q.Push(order(1, types.PriorityStopLoss, 5))
	q.Push(order(1, types.PriorityStrategyMarket, 1))
	q.Push(order(1, types.PriorityTakeProfit, 2))

	var gotPriorities []types.OrderPriority
	var gotCreated []int64
	for {
		o := q.Pop()
		if o == nil {
			break
		}
		gotPriorities = append(gotPriorities, o.Priority)
		gotCreated = append(gotCreated, o.CreatedAt)
	}

	for i := 1; i < len(gotPriorities); i++ {
		if gotPriorities[i] > gotPriorities[i-1] {
			t.Fatalf("priorities not non-increasing: %v", gotPriorities)
		}
	}
	// the two StrategyMarket orders (priority tie) must come out created_at 1 then 3
	if gotCreated[2] != 1 || gotCreated[3] != 3 {
		t.Errorf("tie-break by created_at failed: %v", gotCreated)
	}
}

func TestPopIfAllowedScenarioFromSpec(t *testing.T) {
	t.Parallel()
	q := NewQueue(2) // max 2 orders/day/wallet

	q.Push(order(1, types.PriorityStrategyMarket, 1))
	q.Push(order(1, types.PriorityStrategyMarket, 2))
	q.Push(order(1, types.PriorityStrategyMarket, 3))
	q.Push(order(2, types.PriorityStopLoss, 1))

	o, result := q.PopIfAllowed()
	if result != PopOK || o.WalletID != 2 {
		t.Fatalf("1st pop = (%v, %v), want wallet 2 StopLoss", o, result)
	}

	o, result = q.PopIfAllowed()
	if result != PopOK || o.WalletID != 1 {
		t.Fatalf("2nd pop = (%v, %v), want wallet 1", o, result)
	}

	o, result = q.PopIfAllowed()
	if result != PopOK || o.WalletID != 1 {
		t.Fatalf("3rd pop = (%v, %v), want wallet 1", o, result)
	}

	// Wallet 1's bucket (capacity 2) is now exhausted; its third order
	// stays at the head.
	o, result = q.PopIfAllowed()
	if result != PopBlocked || o != nil {
		t.Fatalf("4th pop = (%v, %v), want PopBlocked", o, result)
	}
	if q.Len() != 1 {
		t.Errorf("queue len = %d, want 1 (blocked order remains)", q.Len())
	}
}

func TestPopIfAllowedEmptyHeap(t *testing.T) {
	t.Parallel()
	q := NewQueue(10)
	o, result := q.PopIfAllowed()
	if result != PopEmpty || o != nil {
		t.Errorf("got (%v, %v), want PopEmpty", o, result)
	}
}
