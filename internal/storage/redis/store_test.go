package redis

import "testing"

func TestStateKeyFormat(t *testing.T) {
	got := stateKey(42, 100)
	want := "engine:strategy_state:42:100"
	if got != want {
		t.Fatalf("stateKey(42, 100) = %q, want %q", got, want)
	}
}
