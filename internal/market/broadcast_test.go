package market

import (
	"testing"

	"craftstrat-engine/pkg/types"
)

func TestTickBroadcasterFanOut(t *testing.T) {
	t.Parallel()
	b := NewTickBroadcaster(4, testLogger())
	ch1, unsub1 := b.Subscribe()
	ch2, unsub2 := b.Subscribe()
	defer unsub1()
	defer unsub2()

	b.Publish(types.Tick{MarketSlug: "m1"})

	for _, ch := range []<-chan types.Tick{ch1, ch2} {
		select {
		case tick := <-ch:
			if tick.MarketSlug != "m1" {
				t.Errorf("got slug %q, want m1", tick.MarketSlug)
			}
		default:
			t.Error("expected tick on every subscriber")
		}
	}
}

func TestTickBroadcasterDropsOnFullChannel(t *testing.T) {
	t.Parallel()
	b := NewTickBroadcaster(1, testLogger())
	ch, unsub := b.Subscribe()
	defer unsub()

	b.Publish(types.Tick{MarketSlug: "first"})
	b.Publish(types.Tick{MarketSlug: "second"}) // channel full, should be dropped not blocked

	first := <-ch
	if first.MarketSlug != "first" {
		t.Errorf("got %q, want first", first.MarketSlug)
	}
	select {
	case extra := <-ch:
		t.Errorf("unexpected second tick delivered: %+v", extra)
	default:
	}
}

func TestTickBroadcasterUnsubscribeStopsDelivery(t *testing.T) {
	t.Parallel()
	b := NewTickBroadcaster(4, testLogger())
	ch, unsub := b.Subscribe()
	unsub()

	b.Publish(types.Tick{MarketSlug: "after-unsub"})

	if _, ok := <-ch; ok {
		t.Error("expected channel to be closed after unsubscribe")
	}
}
