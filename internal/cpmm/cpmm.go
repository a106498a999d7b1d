// Package cpmm implements the constant-product market maker for binary
// outcome markets.
//
// The pool holds a pair of share reserves (yes, no). Every trade keeps
// the product yes*no invariant; the product only changes when liquidity
// is seeded at market creation. Buying an outcome with cost `a` decays
// the opposite reserve exponentially,
//
//	newOpp = opp * exp(-a / L),  L = sqrt(yes*no)
//
// and restores the invariant exactly via newOwn = k / newOpp, so the
// constant product holds by construction.
//
// All monetary values use shopspring/decimal — never float64 for money.
// Internal transcendental math runs in float64 with results converted to
// decimal at the boundary.
package cpmm

import (
	"errors"
	"math"

	"github.com/shopspring/decimal"
)

var (
	// ErrIlliquidMarket is returned when the reserve product is zero or
	// negative: the pool cannot quote or execute.
	ErrIlliquidMarket = errors.New("cpmm: market reserves are zero or degenerate")

	// ErrInvalidAmount is returned for non-positive trade amounts.
	ErrInvalidAmount = errors.New("cpmm: amount must be positive")

	// ErrInvalidShares is returned for non-positive desired share counts.
	ErrInvalidShares = errors.New("cpmm: desired shares must be positive")

	// ErrAmountExhaustsPool is returned when a trade is so large relative
	// to the pool depth that the decayed reserve underflows float64: the
	// pool cannot absorb it.
	ErrAmountExhaustsPool = errors.New("cpmm: amount exceeds pool depth")

	// PriceScale is the number of decimal places for quoted prices.
	PriceScale int32 = 8
)

var half = decimal.NewFromFloat(0.5)

// Price returns the instantaneous outcome prices implied by the reserves:
//
//	priceYes = yes / (yes + no),  priceNo = 1 - priceYes
//
// Both lie in [0,1] and sum to exactly 1. The degenerate case yes+no == 0
// returns (0.5, 0.5) by convention; it should never occur after
// initialization.
func Price(yes, no decimal.Decimal) (priceYes, priceNo decimal.Decimal) {
	y := yes.InexactFloat64()
	n := no.InexactFloat64()
	total := y + n
	if total <= 0 {
		return half, half
	}
	p := y / total
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	priceYes = decimal.NewFromFloat(p).Round(PriceScale)
	priceNo = decimal.NewFromInt(1).Sub(priceYes)
	return priceYes, priceNo
}

// Quote is the result of executing or simulating a buy against the pool.
type Quote struct {
	NewYes   decimal.Decimal `json:"new_yes"`
	NewNo    decimal.Decimal `json:"new_no"`
	Shares   decimal.Decimal `json:"shares"`
	AvgPrice decimal.Decimal `json:"avg_price"`
}

// Buy executes a buy of `side` with cost `amount` against reserves
// (yes, no), solving the cost integral in closed form. It returns the new
// reserve pair, the reserve shares received, and the average price paid.
//
// Postcondition: NewYes*NewNo equals yes*no within relative 1e-9.
func Buy(yes, no decimal.Decimal, side string, amount decimal.Decimal) (Quote, error) {
	if !amount.IsPositive() {
		return Quote{}, ErrInvalidAmount
	}
	y := yes.InexactFloat64()
	n := no.InexactFloat64()
	k := y * n
	if k <= 0 {
		return Quote{}, ErrIlliquidMarket
	}
	l := math.Sqrt(k)
	a := amount.InexactFloat64()

	var newY, newN, shares float64
	if side == "YES" {
		newN = n * math.Exp(-a/l)
		newY = k / newN
		shares = newY - y
	} else {
		newY = y * math.Exp(-a/l)
		newN = k / newY
		shares = newN - n
	}
	// exp(-a/l) underflows to 0 for a/l beyond ~745, driving the grown
	// reserve to +Inf.
	if newY <= 0 || newN <= 0 || math.IsInf(newY, 0) || math.IsInf(newN, 0) {
		return Quote{}, ErrAmountExhaustsPool
	}

	return Quote{
		NewYes:   decimal.NewFromFloat(newY),
		NewNo:    decimal.NewFromFloat(newN),
		Shares:   decimal.NewFromFloat(shares),
		AvgPrice: decimal.NewFromFloat(a / shares).Round(PriceScale),
	}, nil
}

// CostForShares is the inverse quote: the cost to acquire desiredShares of
// `side` from reserves (yes, no), in logarithmic form. No state mutation.
func CostForShares(yes, no decimal.Decimal, side string, desiredShares decimal.Decimal) (decimal.Decimal, error) {
	if !desiredShares.IsPositive() {
		return decimal.Zero, ErrInvalidShares
	}
	y := yes.InexactFloat64()
	n := no.InexactFloat64()
	k := y * n
	if k <= 0 {
		return decimal.Zero, ErrIlliquidMarket
	}
	l := math.Sqrt(k)
	s := desiredShares.InexactFloat64()

	// Buying YES grows the YES reserve to y+s and the NO reserve decays to
	// k/(y+s); the spent amount is the log of that decay scaled by L.
	var cost float64
	if side == "YES" {
		cost = l * math.Log(n*(y+s)/k)
	} else {
		cost = l * math.Log(y*(n+s)/k)
	}
	if math.IsInf(cost, 0) || math.IsNaN(cost) {
		return decimal.Zero, ErrAmountExhaustsPool
	}
	return decimal.NewFromFloat(cost).Round(PriceScale), nil
}

// Impact describes how a hypothetical buy would move the side's price.
type Impact struct {
	OldPrice       decimal.Decimal `json:"old_price"`
	NewPrice       decimal.Decimal `json:"new_price"`
	RelativeImpact decimal.Decimal `json:"relative_impact"`
}

// MarketImpact composes Price and Buy: the side's price before and after
// a buy of `amount`, and the relative move. No state mutation.
func MarketImpact(yes, no decimal.Decimal, side string, amount decimal.Decimal) (Impact, error) {
	q, err := Buy(yes, no, side, amount)
	if err != nil {
		return Impact{}, err
	}

	oldYes, oldNo := Price(yes, no)
	newYes, newNo := Price(q.NewYes, q.NewNo)

	old, neu := oldYes, newYes
	if side != "YES" {
		old, neu = oldNo, newNo
	}

	rel := decimal.Zero
	if old.IsPositive() {
		rel = neu.Sub(old).Div(old).Round(PriceScale)
	}
	return Impact{OldPrice: old, NewPrice: neu, RelativeImpact: rel}, nil
}

// SeedReserves derives the initial reserve pair from a starting
// probability p in (0,1) and a seed liquidity amount S:
//
//	yes = 2*S*p,  no = 2*S*(1-p)
//
// so the initial YES price is exactly p and the pool depth scales with S.
func SeedReserves(initialProb, seed decimal.Decimal) (yes, no decimal.Decimal) {
	twoSeed := seed.Mul(decimal.NewFromInt(2))
	yes = twoSeed.Mul(initialProb)
	no = twoSeed.Sub(yes)
	return yes, no
}
