package model

import "testing"

func TestSplitCostExactSum(t *testing.T) {
	cases := []struct {
		amount  int64
		priceBp int
	}{
		{100, 5000}, {1, 1}, {1, 9999}, {7, 3333}, {1_000_000, 1}, {1_000_000, 9999}, {3, 10000}, {3, 0},
	}
	for _, c := range cases {
		yes, no := SplitCost(c.amount, c.priceBp)
		if yes+no != c.amount {
			t.Fatalf("SplitCost(%d,%d) = (%d,%d), sum %d != amount %d", c.amount, c.priceBp, yes, no, yes+no, c.amount)
		}
		if yes < 0 || no < 0 {
			t.Fatalf("SplitCost(%d,%d) produced a negative share: (%d,%d)", c.amount, c.priceBp, yes, no)
		}
	}
}

func TestSplitCostRoundsToNoSide(t *testing.T) {
	// 7 * 3333 / 10000 = 2.3331 -> floors to 2, leaving 5 for NO.
	yes, no := SplitCost(7, 3333)
	if yes != 2 || no != 5 {
		t.Fatalf("expected (2,5), got (%d,%d)", yes, no)
	}
}

func TestOrderRecomputeStatus(t *testing.T) {
	o := &Order{AmountKopecks: 100}
	o.RecomputeStatus()
	if o.Status != StatusOpen {
		t.Fatalf("expected OPEN at zero fill, got %s", o.Status)
	}
	o.FilledKopecks = 40
	o.RecomputeStatus()
	if o.Status != StatusPartial {
		t.Fatalf("expected PARTIAL at partial fill, got %s", o.Status)
	}
	o.FilledKopecks = 100
	o.RecomputeStatus()
	if o.Status != StatusFilled {
		t.Fatalf("expected FILLED at full fill, got %s", o.Status)
	}
}

func TestOrderSideOpposite(t *testing.T) {
	if SideYes.Opposite() != SideNo {
		t.Fatal("expected YES opposite to be NO")
	}
	if SideNo.Opposite() != SideYes {
		t.Fatal("expected NO opposite to be YES")
	}
}
