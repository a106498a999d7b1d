// Package model defines the core domain types shared across the engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Market statuses. Transitions are monotonic along
// draft → open → closed → resolved, with side branches for disputes and
// cancellation; disputed may flow back to closed for re-resolution.
const (
	MarketDraft     = "draft"
	MarketOpen      = "open"
	MarketClosed    = "closed"
	MarketResolved  = "resolved"
	MarketDisputed  = "disputed"
	MarketCancelled = "cancelled"
)

var marketTransitions = map[string][]string{
	MarketDraft:    {MarketOpen, MarketCancelled},
	MarketOpen:     {MarketClosed, MarketCancelled},
	MarketClosed:   {MarketResolved, MarketDisputed},
	MarketDisputed: {MarketClosed, MarketResolved},
}

// CanTransition reports whether a market status change is legal.
func CanTransition(from, to string) bool {
	for _, next := range marketTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Outcome sides of a binary market.
const (
	SideYes = "YES"
	SideNo  = "NO"
)

// Trade statuses.
const (
	TradePending   = "pending"
	TradeFilled    = "filled"
	TradeFailed    = "failed"
	TradeCancelled = "cancelled"
)

// Points-ledger reasons.
const (
	ReasonBetPlaced     = "bet_placed"
	ReasonBetRefund     = "bet_refund"
	ReasonBetCancelled  = "bet_cancelled"
	ReasonResolutionWin = "market_resolution_win"
	ReasonAdminCredit   = "admin_credit"
)

// Points-ledger reference types for audit trails.
const (
	RefTrade    = "trade"
	RefPosition = "position"
)

// Market is a binary prediction market. The winning outcome reference is
// set only when a resolution record is created, in the same transaction.
type Market struct {
	ID               string    `json:"id" db:"id"`
	Question         string    `json:"question" db:"question"`
	Status           string    `json:"status" db:"status"`
	YesOutcomeID     string    `json:"yes_outcome_id" db:"yes_outcome_id"`
	NoOutcomeID      string    `json:"no_outcome_id" db:"no_outcome_id"`
	ClosesAt         time.Time `json:"closes_at" db:"closes_at"`
	WinningOutcomeID string    `json:"winning_outcome_id,omitempty" db:"winning_outcome_id"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}

// OutcomeSide maps one of the market's outcome IDs to its side.
// The second return is false when the outcome does not belong here.
func (m *Market) OutcomeSide(outcomeID string) (string, bool) {
	switch outcomeID {
	case m.YesOutcomeID:
		return SideYes, true
	case m.NoOutcomeID:
		return SideNo, true
	}
	return "", false
}

// OppositeOutcome returns the other outcome ID of the pair.
func (m *Market) OppositeOutcome(outcomeID string) string {
	if outcomeID == m.YesOutcomeID {
		return m.NoOutcomeID
	}
	return m.YesOutcomeID
}

// Reserves is the AMM's share pair for one market, owned 1:1 by the
// market and created together with it. yes*no stays constant across a
// single trade; it only changes when liquidity is seeded at creation.
type Reserves struct {
	MarketID  string          `json:"market_id" db:"market_id"`
	Yes       decimal.Decimal `json:"yes_shares" db:"yes_shares"`
	No        decimal.Decimal `json:"no_shares" db:"no_shares"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// Position is a user's holding in one outcome of one market. Exactly one
// row exists per (user, market, outcome); it is created on the first fill
// and updated in place afterwards. SettledAt marks payout completion so
// settlement re-runs can never pay twice.
type Position struct {
	ID            string          `json:"id" db:"id"`
	UserID        string          `json:"user_id" db:"user_id"`
	MarketID      string          `json:"market_id" db:"market_id"`
	OutcomeID     string          `json:"outcome_id" db:"outcome_id"`
	Quantity      decimal.Decimal `json:"quantity" db:"quantity"`             // points-denominated shares
	TokenQuantity decimal.Decimal `json:"token_quantity" db:"token_quantity"` // external-asset shares
	AvgPrice      decimal.Decimal `json:"avg_price" db:"avg_price"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl" db:"realized_pnl"`
	SettledAt     *time.Time      `json:"settled_at,omitempty" db:"settled_at"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

// PointsEntry is one append-only points-ledger row. The current balance
// of a user is the BalanceAfter of their most recent entry.
type PointsEntry struct {
	ID           string          `json:"id" db:"id"`
	UserID       string          `json:"user_id" db:"user_id"`
	Delta        decimal.Decimal `json:"delta" db:"delta"`
	BalanceAfter decimal.Decimal `json:"balance_after" db:"balance_after"`
	Reason       string          `json:"reason" db:"reason"`
	RefType      string          `json:"ref_type,omitempty" db:"ref_type"`
	RefID        string          `json:"ref_id,omitempty" db:"ref_id"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// Trade is an immutable record of one bet execution attempt. Once filled
// or failed it is never mutated; only a still-pending trade may be
// cancelled by its owner.
type Trade struct {
	ID          string          `json:"id" db:"id"`
	UserID      string          `json:"user_id" db:"user_id"`
	MarketID    string          `json:"market_id" db:"market_id"`
	OutcomeID   string          `json:"outcome_id" db:"outcome_id"`
	Side        string          `json:"side" db:"side"` // YES or NO
	Price       decimal.Decimal `json:"price" db:"price"`
	PointsStake decimal.Decimal `json:"points_stake" db:"points_stake"`
	TokenStake  decimal.Decimal `json:"token_stake" db:"token_stake"`
	Quantity    decimal.Decimal `json:"quantity" db:"quantity"`       // shares credited to the position
	PoolShares  decimal.Decimal `json:"pool_shares" db:"pool_shares"` // reserve shares moved by the AMM
	Status      string          `json:"status" db:"status"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

// Stake returns the trade's stake amount and whether it is
// points-denominated.
func (t *Trade) Stake() (decimal.Decimal, bool) {
	if t.PointsStake.IsPositive() {
		return t.PointsStake, true
	}
	return t.TokenStake, false
}

// Resolution records the one-time outcome decision of a market. At most
// one row exists per market, enforced by a uniqueness constraint.
type Resolution struct {
	ID               string    `json:"id" db:"id"`
	MarketID         string    `json:"market_id" db:"market_id"`
	WinningOutcomeID string    `json:"winning_outcome_id" db:"winning_outcome_id"`
	Source           string    `json:"source" db:"source"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}

// SettlementCredit is one winning-position payout to apply during
// settlement. Credits are applied record-by-record so a mid-batch failure
// retries at the record level, never the whole settlement.
type SettlementCredit struct {
	PositionID string
	UserID     string
	MarketID   string
	OutcomeID  string
	Payout     decimal.Decimal
}
