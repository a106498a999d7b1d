// Package notify publishes engine events for downstream consumers
// (activity feeds, push notifications, analytics). Delivery is
// best-effort: a publish failure is logged and never fails the trade or
// settlement that produced the event.
package notify

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Event types, used as the subject segment after the stream prefix.
const (
	EventBetFilled      = "bet_filled"
	EventMarketResolved = "market_resolved"
	EventPayoutApplied  = "payout_applied"
)

// BetFilled is emitted after a trade transitions to filled.
type BetFilled struct {
	TradeID   string          `json:"trade_id"`
	UserID    string          `json:"user_id"`
	MarketID  string          `json:"market_id"`
	OutcomeID string          `json:"outcome_id"`
	Side      string          `json:"side"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	FilledAt  time.Time       `json:"filled_at"`
}

// MarketResolved is emitted once per market, when the resolution record
// is created.
type MarketResolved struct {
	MarketID         string    `json:"market_id"`
	WinningOutcomeID string    `json:"winning_outcome_id"`
	ResolutionID     string    `json:"resolution_id"`
	ResolvedAt       time.Time `json:"resolved_at"`
}

// PayoutApplied is emitted for each settlement credit written to the
// points ledger.
type PayoutApplied struct {
	UserID       string          `json:"user_id"`
	MarketID     string          `json:"market_id"`
	Delta        decimal.Decimal `json:"delta"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	Reason       string          `json:"reason"`
	AppliedAt    time.Time       `json:"applied_at"`
}

// Notifier fans engine events out to interested systems.
type Notifier interface {
	BetFilled(ctx context.Context, e BetFilled)
	MarketResolved(ctx context.Context, e MarketResolved)
	PayoutApplied(ctx context.Context, e PayoutApplied)
}

// Noop discards all events. Used in tests and when NATS is not
// configured.
type Noop struct{}

func (Noop) BetFilled(context.Context, BetFilled)           {}
func (Noop) MarketResolved(context.Context, MarketResolved) {}
func (Noop) PayoutApplied(context.Context, PayoutApplied)   {}
