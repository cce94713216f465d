package money

import "testing"

func TestMarketBuyReservation(t *testing.T) {
	// 5 shares at a 500-cent best ask: 5*500*1.10 = 2750, exact, no rounding.
	got := MarketBuyReservation(5, 500, DefaultSlippageNumerator, DefaultSlippageDenominator)
	if got != 2750 {
		t.Fatalf("want 2750, got %d", got)
	}
}

func TestMarketBuyReservationRoundsUp(t *testing.T) {
	// 3 shares at 333 cents: 3*333*110 = 109890; /100 = 1098.9 -> ceil 1099.
	got := MarketBuyReservation(3, 333, DefaultSlippageNumerator, DefaultSlippageDenominator)
	if got != 1099 {
		t.Fatalf("want 1099, got %d", got)
	}
}

func TestAverageCostSimpleAverage(t *testing.T) {
	// 10 shares @ 100 + 10 shares @ 200 -> average 150.
	got := AverageCost(10, 100, 10, 200)
	if got != 150 {
		t.Fatalf("want 150, got %d", got)
	}
}

func TestAverageCostFirstFill(t *testing.T) {
	got := AverageCost(0, 0, 7, 321)
	if got != 321 {
		t.Fatalf("want 321, got %d", got)
	}
}

func TestAverageCostBankersRoundingToEven(t *testing.T) {
	// 1 share @ 1, 1 share @ 2: (1+2)/2 = 1.5 exact tie -> rounds to even (2).
	got := AverageCost(1, 1, 1, 2)
	if got != 2 {
		t.Fatalf("want 2 (round half to even), got %d", got)
	}

	// 1 share @ 0, 1 share @ 1: (0+1)/2 = 0.5 exact tie -> rounds to even (0).
	got = AverageCost(1, 0, 1, 1)
	if got != 0 {
		t.Fatalf("want 0 (round half to even), got %d", got)
	}
}

func TestAverageCostRoundsTowardNearest(t *testing.T) {
	// 3 shares @ 100, 1 share @ 101: (300+101)/4 = 100.25 -> rounds down to 100.
	got := AverageCost(3, 100, 1, 101)
	if got != 100 {
		t.Fatalf("want 100, got %d", got)
	}
}

func TestCeilDiv(t *testing.T) {
	cases := []struct{ num, den, want int64 }{
		{10, 5, 2},
		{11, 5, 3},
		{0, 5, 0},
		{1, 1, 1},
	}
	for _, c := range cases {
		if got := CeilDiv(c.num, c.den); got != c.want {
			t.Errorf("CeilDiv(%d,%d) = %d, want %d", c.num, c.den, got, c.want)
		}
	}
}
