package engine

import "testing"

func TestAddAndBestYesNo(t *testing.T) {
	b := NewOrderBook()

	b.Add(&OrderEntry{OrderID: "y1", UserID: "u1", Side: "YES", PriceBp: 4000, RemainingAmount: 10, Seq: 1})
	b.Add(&OrderEntry{OrderID: "y2", UserID: "u1", Side: "YES", PriceBp: 4500, RemainingAmount: 5, Seq: 2})
	b.Add(&OrderEntry{OrderID: "n1", UserID: "u2", Side: "NO", PriceBp: 4500, RemainingAmount: 10, Seq: 3})
	b.Add(&OrderEntry{OrderID: "n2", UserID: "u2", Side: "NO", PriceBp: 4000, RemainingAmount: 5, Seq: 4})

	if b.Size() != 4 {
		t.Fatalf("expected size 4, got %d", b.Size())
	}
	if by := b.BestYes(); by == nil || *by != 4500 {
		t.Fatalf("expected best yes 4500, got %v", by)
	}
	if bn := b.BestNo(); bn == nil || *bn != 4500 {
		t.Fatalf("expected best no 4500, got %v", bn)
	}
}

func TestRemoveOrder(t *testing.T) {
	b := NewOrderBook()
	b.Add(&OrderEntry{OrderID: "y1", UserID: "u1", Side: "YES", PriceBp: 5000, RemainingAmount: 5, Seq: 1})
	b.Add(&OrderEntry{OrderID: "y2", UserID: "u1", Side: "YES", PriceBp: 5000, RemainingAmount: 3, Seq: 2})

	removed := b.Remove("y1")
	if removed == nil || removed.OrderID != "y1" {
		t.Fatal("expected to remove y1")
	}
	if b.Size() != 1 {
		t.Fatalf("expected size 1 after remove, got %d", b.Size())
	}
	if by := b.BestYes(); by == nil || *by != 5000 {
		t.Fatal("best yes should still be 5000")
	}
}

func TestRemoveLastAtLevel(t *testing.T) {
	b := NewOrderBook()
	b.Add(&OrderEntry{OrderID: "n1", UserID: "u1", Side: "NO", PriceBp: 5000, RemainingAmount: 5, Seq: 1})
	b.Remove("n1")

	if b.BestNo() != nil {
		t.Fatal("expected no best NO price after removing the only order")
	}
	if b.Size() != 0 {
		t.Fatal("expected empty book")
	}
}

func TestApplyFillPartial(t *testing.T) {
	b := NewOrderBook()
	b.Add(&OrderEntry{OrderID: "n1", UserID: "u1", Side: "NO", PriceBp: 5000, RemainingAmount: 10, Seq: 1})

	rem := b.ApplyFill("n1", 3)
	if rem != 7 {
		t.Fatalf("expected remaining 7, got %d", rem)
	}
	if b.Size() != 1 {
		t.Fatal("order should still be in book")
	}
}

func TestApplyFillFull(t *testing.T) {
	b := NewOrderBook()
	b.Add(&OrderEntry{OrderID: "n1", UserID: "u1", Side: "NO", PriceBp: 5000, RemainingAmount: 5, Seq: 1})

	rem := b.ApplyFill("n1", 5)
	if rem != 0 {
		t.Fatalf("expected remaining 0, got %d", rem)
	}
	if b.Size() != 0 {
		t.Fatal("order should be removed from book")
	}
}

func TestSnapshotDepth(t *testing.T) {
	b := NewOrderBook()
	for i := 1; i <= 5; i++ {
		b.Add(&OrderEntry{OrderID: "y" + string(rune('0'+i)), UserID: "u1", Side: "YES", PriceBp: 4000 + i, RemainingAmount: 1, Seq: int64(i)})
	}
	for i := 1; i <= 5; i++ {
		b.Add(&OrderEntry{OrderID: "n" + string(rune('0'+i)), UserID: "u2", Side: "NO", PriceBp: 5000 + i, RemainingAmount: 1, Seq: int64(5 + i)})
	}

	yes, no := b.Snapshot(3)
	if len(yes) != 3 {
		t.Fatalf("expected 3 yes levels, got %d", len(yes))
	}
	if len(no) != 3 {
		t.Fatalf("expected 3 no levels, got %d", len(no))
	}
	if yes[0].PriceBp != 4005 {
		t.Fatalf("expected top yes price 4005, got %d", yes[0].PriceBp)
	}
	if no[0].PriceBp != 5005 {
		t.Fatalf("expected top no price 5005, got %d", no[0].PriceBp)
	}
}

func TestDuplicateAddIgnored(t *testing.T) {
	b := NewOrderBook()
	b.Add(&OrderEntry{OrderID: "y1", UserID: "u1", Side: "YES", PriceBp: 5000, RemainingAmount: 5, Seq: 1})
	b.Add(&OrderEntry{OrderID: "y1", UserID: "u1", Side: "YES", PriceBp: 5000, RemainingAmount: 5, Seq: 2})

	if b.Size() != 1 {
		t.Fatalf("expected size 1 (dup ignored), got %d", b.Size())
	}
}

