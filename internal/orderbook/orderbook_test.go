package orderbook

import "testing"

func TestAddAndBestPrices(t *testing.T) {
	b := New(1)

	mustAdd(t, b, &Order{ID: 1, UserID: 10, Side: SideBuy, Price: 1100, Qty: 5})
	mustAdd(t, b, &Order{ID: 2, UserID: 11, Side: SideBuy, Price: 1200, Qty: 3})
	mustAdd(t, b, &Order{ID: 3, UserID: 12, Side: SideSell, Price: 1300, Qty: 4})
	mustAdd(t, b, &Order{ID: 4, UserID: 13, Side: SideSell, Price: 1250, Qty: 2})

	if price, ok := b.BestBid(); !ok || price != 1200 {
		t.Fatalf("expected best bid 1200, got %d ok=%v", price, ok)
	}
	if price, ok := b.BestAsk(); !ok || price != 1250 {
		t.Fatalf("expected best ask 1250, got %d ok=%v", price, ok)
	}
}

func TestAddDuplicate(t *testing.T) {
	b := New(1)
	mustAdd(t, b, &Order{ID: 1, Side: SideSell, Price: 1000, Qty: 1})
	if err := b.Add(&Order{ID: 1, Side: SideSell, Price: 1000, Qty: 1}); err != ErrDuplicateOrder {
		t.Fatalf("expected ErrDuplicateOrder, got %v", err)
	}
}

func TestFIFOWithinLevel(t *testing.T) {
	b := New(1)
	mustAdd(t, b, &Order{ID: 1, UserID: 10, Side: SideSell, Price: 1000, Qty: 5})
	mustAdd(t, b, &Order{ID: 2, UserID: 11, Side: SideSell, Price: 1000, Qty: 3})

	if head := b.BestAskOrder(); head == nil || head.ID != 1 {
		t.Fatalf("expected order 1 at head, got %+v", head)
	}

	// 队首完全成交后第二单补位
	if err := b.Reduce(1, 5); err != nil {
		t.Fatalf("reduce: %v", err)
	}
	if head := b.BestAskOrder(); head == nil || head.ID != 2 {
		t.Fatalf("expected order 2 at head, got %+v", head)
	}
}

func TestReducePartial(t *testing.T) {
	b := New(1)
	mustAdd(t, b, &Order{ID: 1, Side: SideSell, Price: 1000, Qty: 10})

	if err := b.Reduce(1, 4); err != nil {
		t.Fatalf("reduce: %v", err)
	}
	if qty := b.RemainingQty(1); qty != 6 {
		t.Fatalf("expected remaining 6, got %d", qty)
	}
	if qty := b.AskLiquidity(); qty != 6 {
		t.Fatalf("expected ask liquidity 6, got %d", qty)
	}
}

func TestRemoveClearsEmptyLevel(t *testing.T) {
	b := New(1)
	mustAdd(t, b, &Order{ID: 1, Side: SideBuy, Price: 900, Qty: 2})

	if !b.Remove(1) {
		t.Fatal("remove should succeed")
	}
	if b.Remove(1) {
		t.Fatal("second remove should be a no-op")
	}
	if _, ok := b.BestBid(); ok {
		t.Fatal("bid side should be empty")
	}
	if !b.Empty() {
		t.Fatal("book should be empty")
	}
}

func TestOpenSellQty(t *testing.T) {
	b := New(1)
	mustAdd(t, b, &Order{ID: 1, UserID: 10, Side: SideSell, Price: 1000, Qty: 5})
	mustAdd(t, b, &Order{ID: 2, UserID: 10, Side: SideSell, Price: 1100, Qty: 7})
	mustAdd(t, b, &Order{ID: 3, UserID: 11, Side: SideSell, Price: 1000, Qty: 9})
	mustAdd(t, b, &Order{ID: 4, UserID: 10, Side: SideBuy, Price: 900, Qty: 3})

	if qty := b.OpenSellQty(10); qty != 12 {
		t.Fatalf("expected open sell qty 12, got %d", qty)
	}
}

func mustAdd(t *testing.T, b *Book, o *Order) {
	t.Helper()
	if err := b.Add(o); err != nil {
		t.Fatalf("add order %d: %v", o.ID, err)
	}
}
