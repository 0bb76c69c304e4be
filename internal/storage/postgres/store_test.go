package postgres

import (
	"testing"

	"craftstrat-engine/pkg/types"
)

func TestSideString(t *testing.T) {
	if got := sideString(types.BUY); got != "buy" {
		t.Fatalf("sideString(BUY) = %q", got)
	}
	if got := sideString(types.SELL); got != "sell" {
		t.Fatalf("sideString(SELL) = %q", got)
	}
}

func TestOrderTypeString(t *testing.T) {
	cases := map[types.OrderKind]string{
		types.OrderMarket:     "market",
		types.OrderLimit:      "limit",
		types.OrderStopLoss:   "stoploss",
		types.OrderTakeProfit: "take_profit",
	}
	for kind, want := range cases {
		if got := orderTypeString(kind); got != want {
			t.Fatalf("orderTypeString(%v) = %q, want %q", kind, got, want)
		}
	}
}
