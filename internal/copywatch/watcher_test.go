package copywatch

import (
	"testing"

	"craftstrat-engine/internal/storage/postgres"
	"craftstrat-engine/pkg/types"
)

func testTrade() LeaderTrade {
	return LeaderTrade{
		Side:            "BUY",
		Asset:           "token_abc",
		ConditionID:     "condition_456",
		Size:            100.0,
		Price:           0.65,
		Timestamp:       1_700_000_000,
		TransactionHash: "0xdeadbeef",
		Outcome:         "Yes",
	}
}

func testFollower() postgres.CopyRelationship {
	return postgres.CopyRelationship{
		ID:               1,
		FollowerWalletID: 42,
		SizeMode:         "fixed",
		SizeValue:        50.0,
		MaxPositionUSDC:  200.0,
	}
}

func TestBuildCopyOrderFixedSize(t *testing.T) {
	order := buildCopyOrder(testTrade(), testFollower(), "0xleader")
	if order == nil {
		t.Fatal("expected an order")
	}
	if order.SizeUSDC != 50.0 {
		t.Fatalf("size = %v, want 50.0", order.SizeUSDC)
	}
	if order.Priority != types.PriorityCopyMarket {
		t.Fatalf("priority = %v, want PriorityCopyMarket", order.Priority)
	}
	if order.Side != types.BUY {
		t.Fatalf("side = %v, want BUY", order.Side)
	}
	if order.Outcome != types.Up {
		t.Fatalf("outcome = %v, want Up", order.Outcome)
	}
	if order.StrategyID != nil {
		t.Fatal("expected nil strategy id for a copy trade")
	}
	if order.CopyRelationshipID == nil || *order.CopyRelationshipID != 1 {
		t.Fatal("expected copy_relationship_id = 1")
	}
	if order.LeaderAddress != "0xleader" || order.LeaderTxHash != "0xdeadbeef" {
		t.Fatal("expected leader address/tx hash to be carried through")
	}
}

func TestBuildCopyOrderProportionalSize(t *testing.T) {
	follower := testFollower()
	follower.SizeMode = "proportional"
	follower.SizeValue = 0.5

	order := buildCopyOrder(testTrade(), follower, "0xleader")
	if order == nil {
		t.Fatal("expected an order")
	}
	if order.SizeUSDC != 50.0 {
		t.Fatalf("size = %v, want 50.0", order.SizeUSDC)
	}
}

func TestBuildCopyOrderExceedsMaxPosition(t *testing.T) {
	follower := testFollower()
	follower.MaxPositionUSDC = 10.0

	if order := buildCopyOrder(testTrade(), follower, "0xleader"); order != nil {
		t.Fatal("expected nil when size exceeds max position")
	}
}

func TestBuildCopyOrderMarketsFilterPass(t *testing.T) {
	follower := testFollower()
	follower.MarketsFilter = []string{"condition_456"}

	if order := buildCopyOrder(testTrade(), follower, "0xleader"); order == nil {
		t.Fatal("expected an order when the market is in the allow-list")
	}
}

func TestBuildCopyOrderMarketsFilterReject(t *testing.T) {
	follower := testFollower()
	follower.MarketsFilter = []string{"other"}

	if order := buildCopyOrder(testTrade(), follower, "0xleader"); order != nil {
		t.Fatal("expected nil when the market is not in the allow-list")
	}
}

func TestBuildCopyOrderNilFilterPassesAll(t *testing.T) {
	follower := testFollower() // MarketsFilter is nil
	if order := buildCopyOrder(testTrade(), follower, "0xleader"); order == nil {
		t.Fatal("expected an order when no markets_filter is set")
	}
}

func TestBuildCopyOrderSellSide(t *testing.T) {
	trade := testTrade()
	trade.Side = "SELL"

	order := buildCopyOrder(trade, testFollower(), "0xleader")
	if order == nil {
		t.Fatal("expected an order")
	}
	if order.Side != types.SELL {
		t.Fatalf("side = %v, want SELL", order.Side)
	}
}
