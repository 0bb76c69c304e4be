package market

import (
	"testing"

	"craftstrat-engine/pkg/types"
)

func TestApplySnapshotSortsAndDropsZero(t *testing.T) {
	t.Parallel()
	c := NewBookCache()

	c.ApplySnapshot("tok1",
		[]types.PriceLevel{{Price: "0.54", Size: "200"}, {Price: "0.55", Size: "100"}, {Price: "0.53", Size: "0"}},
		[]types.PriceLevel{{Price: "0.58", Size: "10"}, {Price: "0.57", Size: "150"}},
	)

	book := c.Snapshot("tok1")
	if book == nil {
		t.Fatal("expected a book after snapshot")
	}
	if len(book.Bids) != 2 {
		t.Fatalf("bids = %d, want 2 (zero-size level dropped)", len(book.Bids))
	}
	if book.Bids[0].Price != 0.55 || book.Bids[1].Price != 0.54 {
		t.Errorf("bids not sorted descending: %+v", book.Bids)
	}
	if book.Asks[0].Price != 0.57 || book.Asks[1].Price != 0.58 {
		t.Errorf("asks not sorted ascending: %+v", book.Asks)
	}
}

func TestApplyDeltaRemovesOnZeroSize(t *testing.T) {
	t.Parallel()
	c := NewBookCache()
	c.ApplySnapshot("tok1",
		[]types.PriceLevel{{Price: "0.55", Size: "100"}},
		[]types.PriceLevel{{Price: "0.57", Size: "150"}},
	)

	c.ApplyDelta("tok1", types.SideBid, 0.55, 0)

	book := c.Snapshot("tok1")
	if len(book.Bids) != 0 {
		t.Errorf("bids = %+v, want empty after size==0 delta", book.Bids)
	}
}

func TestApplyDeltaUpdatesExistingPriceInPlace(t *testing.T) {
	t.Parallel()
	c := NewBookCache()
	c.ApplySnapshot("tok1",
		[]types.PriceLevel{{Price: "0.55", Size: "100"}},
		nil,
	)

	c.ApplyDelta("tok1", types.SideBid, 0.55, 250)

	book := c.Snapshot("tok1")
	if len(book.Bids) != 1 || book.Bids[0].Size != 250 {
		t.Fatalf("bids = %+v, want single level at size 250", book.Bids)
	}
}

func TestApplyDeltaInsertsAndResorts(t *testing.T) {
	t.Parallel()
	c := NewBookCache()
	c.ApplySnapshot("tok1",
		[]types.PriceLevel{{Price: "0.55", Size: "100"}, {Price: "0.50", Size: "100"}},
		nil,
	)

	c.ApplyDelta("tok1", types.SideBid, 0.53, 40)

	book := c.Snapshot("tok1")
	want := []float64{0.55, 0.53, 0.50}
	if len(book.Bids) != len(want) {
		t.Fatalf("bids = %+v, want %d levels", book.Bids, len(want))
	}
	for i, p := range want {
		if book.Bids[i].Price != p {
			t.Errorf("bids[%d].Price = %v, want %v", i, book.Bids[i].Price, p)
		}
	}
}

func TestApplyDeltaOnUnknownTokenCreatesBook(t *testing.T) {
	t.Parallel()
	c := NewBookCache()

	c.ApplyDelta("tok-new", types.SideAsk, 0.60, 10)

	book := c.Snapshot("tok-new")
	if book == nil || len(book.Asks) != 1 || book.Asks[0].Price != 0.60 {
		t.Fatalf("expected a new book with one ask level, got %+v", book)
	}
}

func TestClearDropsAllBooks(t *testing.T) {
	t.Parallel()
	c := NewBookCache()
	c.ApplySnapshot("tok1", []types.PriceLevel{{Price: "0.5", Size: "1"}}, nil)

	c.Clear()

	if c.Snapshot("tok1") != nil {
		t.Error("expected nil book after Clear")
	}
}

func TestBestBidAsk(t *testing.T) {
	t.Parallel()
	c := NewBookCache()

	_, _, ok := c.BestBidAsk("tok1")
	if ok {
		t.Error("BestBidAsk should return ok=false for unknown token")
	}

	c.ApplySnapshot("tok1",
		[]types.PriceLevel{{Price: "0.50", Size: "100"}},
		[]types.PriceLevel{{Price: "0.60", Size: "100"}},
	)
	bid, ask, ok := c.BestBidAsk("tok1")
	if !ok || bid != 0.50 || ask != 0.60 {
		t.Errorf("BestBidAsk = (%v, %v, %v), want (0.5, 0.6, true)", bid, ask, ok)
	}
}

func TestSnapshotAllClones(t *testing.T) {
	t.Parallel()
	c := NewBookCache()
	c.ApplySnapshot("tok1", []types.PriceLevel{{Price: "0.5", Size: "1"}}, nil)

	all := c.SnapshotAll()
	all["tok1"].Bids[0].Size = 999

	fresh := c.Snapshot("tok1")
	if fresh.Bids[0].Size == 999 {
		t.Error("SnapshotAll should return a clone, not a live reference")
	}
}
