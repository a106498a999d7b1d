package cpmm

import (
	"math"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// --- Price tests ---

func TestPrice_DegenerateReturnsHalf(t *testing.T) {
	pYes, pNo := Price(d(0), d(0))
	if !pYes.Equal(d(0.5)) || !pNo.Equal(d(0.5)) {
		t.Errorf("degenerate reserves should price (0.5, 0.5), got (%s, %s)", pYes, pNo)
	}
}

func TestPrice_EqualReservesFiftyFifty(t *testing.T) {
	pYes, pNo := Price(d(100), d(100))
	if !pYes.Equal(d(0.5)) || !pNo.Equal(d(0.5)) {
		t.Errorf("equal reserves should price (0.5, 0.5), got (%s, %s)", pYes, pNo)
	}
}

func TestPrice_BoundsAndSum(t *testing.T) {
	one := decimal.NewFromInt(1)

	tests := []struct {
		yes, no float64
	}{
		{0, 0},
		{100, 100},
		{1, 1000},
		{1000, 1},
		{0, 50},
		{50, 0},
		{0.001, 0.002},
		{1e9, 3},
	}
	for _, tt := range tests {
		pYes, pNo := Price(d(tt.yes), d(tt.no))
		if pYes.IsNegative() || pYes.GreaterThan(one) {
			t.Errorf("priceYes out of [0,1] for (%g,%g): %s", tt.yes, tt.no, pYes)
		}
		if pNo.IsNegative() || pNo.GreaterThan(one) {
			t.Errorf("priceNo out of [0,1] for (%g,%g): %s", tt.yes, tt.no, pNo)
		}
		if !pYes.Add(pNo).Equal(one) {
			t.Errorf("prices must sum to exactly 1 for (%g,%g): %s + %s", tt.yes, tt.no, pYes, pNo)
		}
	}
}

// --- Buy tests ---

func TestBuy_ConcreteScenario(t *testing.T) {
	// Reserves (100, 100), k = 10000, buy YES with amount 10:
	// newNo = 100*e^(-0.1), newYes = k/newNo.
	q, err := Buy(d(100), d(100), "YES", d(10))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	approx := func(got decimal.Decimal, want, tol float64) bool {
		return math.Abs(got.InexactFloat64()-want) < tol
	}

	if !approx(q.NewNo, 100*math.Exp(-0.1), 1e-6) {
		t.Errorf("newNo = %s, want ≈ %.8f", q.NewNo, 100*math.Exp(-0.1))
	}
	if !approx(q.NewYes, 110.51709180, 1e-6) {
		t.Errorf("newYes = %s, want ≈ 110.51709180", q.NewYes)
	}
	if !approx(q.Shares, 10.51709180, 1e-6) {
		t.Errorf("shares = %s, want ≈ 10.51709180", q.Shares)
	}
	if !approx(q.AvgPrice, 0.95083, 1e-4) {
		t.Errorf("avgPrice = %s, want ≈ 0.9508", q.AvgPrice)
	}
}

func TestBuy_ConstantProductInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 500; i++ {
		y := 1 + rng.Float64()*5000
		n := 1 + rng.Float64()*5000
		amount := 0.01 + rng.Float64()*500
		side := "YES"
		if rng.Intn(2) == 0 {
			side = "NO"
		}

		q, err := Buy(d(y), d(n), side, d(amount))
		if err != nil {
			t.Fatalf("unexpected error for (%g,%g,%g): %v", y, n, amount, err)
		}

		k := y * n
		newK := q.NewYes.InexactFloat64() * q.NewNo.InexactFloat64()
		if math.Abs(newK-k)/k >= 1e-9 {
			t.Fatalf("constant product violated for (%g,%g,%s,%g): k=%g newK=%g rel=%g",
				y, n, side, amount, k, newK, math.Abs(newK-k)/k)
		}
	}
}

func TestBuy_MonotonicPriceMove(t *testing.T) {
	oldYes, oldNo := Price(d(100), d(100))

	q, err := Buy(d(100), d(100), "YES", d(10))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	newYes, newNo := Price(q.NewYes, q.NewNo)

	if !newYes.GreaterThan(oldYes) {
		t.Errorf("buying YES must strictly increase priceYes: %s -> %s", oldYes, newYes)
	}
	if !newNo.LessThan(oldNo) {
		t.Errorf("buying YES must strictly decrease priceNo: %s -> %s", oldNo, newNo)
	}

	q, err = Buy(d(100), d(100), "NO", d(10))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	newYes, newNo = Price(q.NewYes, q.NewNo)

	if !newYes.LessThan(oldYes) {
		t.Errorf("buying NO must strictly decrease priceYes: %s -> %s", oldYes, newYes)
	}
	if !newNo.GreaterThan(oldNo) {
		t.Errorf("buying NO must strictly increase priceNo: %s -> %s", oldNo, newNo)
	}
}

func TestBuy_SharesPositive(t *testing.T) {
	q, err := Buy(d(250), d(80), "NO", d(15))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !q.Shares.IsPositive() {
		t.Errorf("shares received must be positive, got %s", q.Shares)
	}
	if !q.NewNo.GreaterThan(d(80)) {
		t.Errorf("NO reserve must grow on NO buy: %s", q.NewNo)
	}
	if !q.NewYes.LessThan(d(250)) {
		t.Errorf("YES reserve must shrink on NO buy: %s", q.NewYes)
	}
}

func TestBuy_NonPositiveAmount(t *testing.T) {
	if _, err := Buy(d(100), d(100), "YES", d(0)); err != ErrInvalidAmount {
		t.Errorf("expected ErrInvalidAmount for zero amount, got %v", err)
	}
	if _, err := Buy(d(100), d(100), "YES", d(-5)); err != ErrInvalidAmount {
		t.Errorf("expected ErrInvalidAmount for negative amount, got %v", err)
	}
}

func TestBuy_IlliquidReserves(t *testing.T) {
	if _, err := Buy(d(0), d(100), "YES", d(10)); err != ErrIlliquidMarket {
		t.Errorf("expected ErrIlliquidMarket for zero YES reserve, got %v", err)
	}
	if _, err := Buy(d(0), d(0), "NO", d(10)); err != ErrIlliquidMarket {
		t.Errorf("expected ErrIlliquidMarket for empty pool, got %v", err)
	}
}

func TestBuy_AmountExceedsPoolDepth(t *testing.T) {
	// amount/L ≈ 1000 drives exp(-amount/L) to 0 and the opposite reserve
	// to +Inf; the buy must be rejected, not panic.
	for _, side := range []string{"YES", "NO"} {
		if _, err := Buy(d(100), d(100), side, d(100000)); err != ErrAmountExhaustsPool {
			t.Errorf("expected ErrAmountExhaustsPool for huge %s buy, got %v", side, err)
		}
	}
}

// --- CostForShares tests ---

func TestCostForShares_InvertsBuy(t *testing.T) {
	tests := []struct {
		yes, no, amount float64
		side            string
	}{
		{100, 100, 10, "YES"},
		{100, 100, 10, "NO"},
		{400, 120, 55, "YES"},
		{30, 900, 7.5, "NO"},
	}
	for _, tt := range tests {
		q, err := Buy(d(tt.yes), d(tt.no), tt.side, d(tt.amount))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		cost, err := CostForShares(d(tt.yes), d(tt.no), tt.side, q.Shares)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if math.Abs(cost.InexactFloat64()-tt.amount) > 1e-6 {
			t.Errorf("cost for %s shares of %s should invert buy: got %s, want %g",
				q.Shares, tt.side, cost, tt.amount)
		}
	}
}

func TestCostForShares_InvalidInputs(t *testing.T) {
	if _, err := CostForShares(d(100), d(100), "YES", d(0)); err != ErrInvalidShares {
		t.Errorf("expected ErrInvalidShares, got %v", err)
	}
	if _, err := CostForShares(d(0), d(0), "YES", d(10)); err != ErrIlliquidMarket {
		t.Errorf("expected ErrIlliquidMarket, got %v", err)
	}
}

func TestCostForShares_NonFiniteCost(t *testing.T) {
	huge := decimal.New(1, 400) // overflows float64
	if _, err := CostForShares(d(100), d(100), "YES", huge); err != ErrAmountExhaustsPool {
		t.Errorf("expected ErrAmountExhaustsPool for overflowing share count, got %v", err)
	}
}

// --- MarketImpact tests ---

func TestMarketImpact_PositiveForBuy(t *testing.T) {
	imp, err := MarketImpact(d(100), d(100), "YES", d(10))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !imp.NewPrice.GreaterThan(imp.OldPrice) {
		t.Errorf("YES buy should raise the YES price: %s -> %s", imp.OldPrice, imp.NewPrice)
	}
	if !imp.RelativeImpact.IsPositive() {
		t.Errorf("relative impact should be positive, got %s", imp.RelativeImpact)
	}
}

func TestMarketImpact_Illiquid(t *testing.T) {
	if _, err := MarketImpact(d(0), d(0), "YES", d(10)); err != ErrIlliquidMarket {
		t.Errorf("expected ErrIlliquidMarket, got %v", err)
	}
}

// --- SeedReserves tests ---

func TestSeedReserves_InitialPriceMatchesProb(t *testing.T) {
	for _, p := range []float64{0.1, 0.35, 0.5, 0.82} {
		yes, no := SeedReserves(d(p), d(100))
		pYes, _ := Price(yes, no)
		if pYes.Sub(d(p)).Abs().GreaterThan(d(1e-8)) {
			t.Errorf("seeded price should be %g, got %s", p, pYes)
		}
	}
}

func TestSeedReserves_EvenSplitAtHalf(t *testing.T) {
	yes, no := SeedReserves(d(0.5), d(100))
	if !yes.Equal(d(100)) || !no.Equal(d(100)) {
		t.Errorf("p=0.5 seed of 100 should give (100, 100), got (%s, %s)", yes, no)
	}
}
