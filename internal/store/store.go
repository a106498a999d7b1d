// Package store defines the persistence interface for the engine.
// Implementations include PostgreSQL (source of truth), Redis
// (read-through cache), and in-memory (for testing).
package store

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/imanuelcio/be-moodswing-sub000/internal/model"
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer for hot market reads.
//
// Error contract: missing rows map to domain.ErrNotFound, lost
// compare-and-set races to domain.ErrConflict, illegal status transitions
// to domain.ErrInvalidState, duplicate resolutions to
// domain.ErrAlreadyResolved, rejected debits to
// domain.ErrInsufficientBalance, and infrastructure failures to
// domain.ErrTransientStore.
type Store interface {
	// --- Markets ---

	// CreateMarket persists a new market together with its seeded
	// reserves (1:1 ownership, created together).
	CreateMarket(ctx context.Context, m *model.Market, r *model.Reserves) error

	// GetMarket retrieves a market by ID.
	GetMarket(ctx context.Context, id string) (*model.Market, error)

	// ListMarkets returns markets, optionally filtered by status.
	ListMarkets(ctx context.Context, status string) ([]model.Market, error)

	// UpdateMarketStatus transitions a market from one status to another.
	// The write is conditional on the current status.
	UpdateMarketStatus(ctx context.Context, id, from, to string) error

	// --- Reserves ---

	// GetReserves retrieves the AMM reserve pair for a market.
	GetReserves(ctx context.Context, marketID string) (*model.Reserves, error)

	// UpdateReserves writes a new reserve pair conditionally on the old
	// pair still being current (compare-and-set). A lost race returns
	// domain.ErrConflict and the caller re-reads and retries.
	UpdateReserves(ctx context.Context, marketID string, oldYes, oldNo, newYes, newNo decimal.Decimal) error

	// --- Positions ---

	// GetPosition retrieves the unique (user, market, outcome) position.
	GetPosition(ctx context.Context, userID, marketID, outcomeID string) (*model.Position, error)

	// UpsertPosition creates or replaces the position row.
	UpsertPosition(ctx context.Context, p *model.Position) error

	// ListPositionsByMarket pages through a market's positions ordered by
	// ID. It returns the next cursor, empty when the set is exhausted.
	ListPositionsByMarket(ctx context.Context, marketID, afterID string, limit int) ([]model.Position, string, error)

	// ListPositionsByUser returns all positions held by a user.
	ListPositionsByUser(ctx context.Context, userID string) ([]model.Position, error)

	// LiquidatePositions zeroes both quantity columns of every unsettled
	// position on the losing outcome, preserving the rows for audit.
	// Idempotent: already-liquidated positions are untouched. Returns the
	// number of positions affected.
	LiquidatePositions(ctx context.Context, marketID, losingOutcomeID string) (int64, error)

	// ApplySettlementCredits applies winning payouts record-by-record:
	// each credit marks its position settled and appends the points-ledger
	// entry atomically, skipping positions already settled so re-runs
	// never double-pay. Returns the ledger entries actually written.
	ApplySettlementCredits(ctx context.Context, credits []model.SettlementCredit) ([]model.PointsEntry, error)

	// --- Points ledger ---

	// GetPointsBalance returns the user's current balance (the running
	// total of the most recent ledger entry; zero when none exist).
	GetPointsBalance(ctx context.Context, userID string) (decimal.Decimal, error)

	// AppendPointsEntry appends a ledger entry, computing BalanceAfter
	// from the latest entry. Debits that would drive the balance negative
	// are rejected with domain.ErrInsufficientBalance. The check and the
	// append are atomic with respect to concurrent entries for the same
	// user.
	AppendPointsEntry(ctx context.Context, e *model.PointsEntry) (*model.PointsEntry, error)

	// ListPointsEntries returns a user's most recent ledger entries,
	// newest first, up to limit.
	ListPointsEntries(ctx context.Context, userID string, limit int) ([]model.PointsEntry, error)

	// --- Trades ---

	// CreateTrade persists a new trade record.
	CreateTrade(ctx context.Context, t *model.Trade) error

	// GetTrade retrieves a trade by ID.
	GetTrade(ctx context.Context, id string) (*model.Trade, error)

	// GetLastFilledTrade returns the most recently filled trade for a
	// market, or domain.ErrNotFound when the market has no fills yet.
	GetLastFilledTrade(ctx context.Context, marketID string) (*model.Trade, error)

	// MarkTradeFilled transitions a pending trade to filled and records
	// the executed quantities. Non-pending trades return
	// domain.ErrInvalidState.
	MarkTradeFilled(ctx context.Context, id string, quantity, poolShares decimal.Decimal) error

	// UpdateTradeStatus transitions a trade conditionally on its current
	// status (pending→failed, pending→cancelled). A stale `from` returns
	// domain.ErrInvalidState.
	UpdateTradeStatus(ctx context.Context, id, from, to string) error

	// --- Resolution ---

	// CreateResolution records the resolution and, in the same logical
	// step, marks the market resolved with the winning outcome set. A
	// second resolution for the same market fails with
	// domain.ErrAlreadyResolved; an illegal market status fails with
	// domain.ErrInvalidState.
	CreateResolution(ctx context.Context, r *model.Resolution) error

	// GetResolution retrieves the resolution record for a market.
	GetResolution(ctx context.Context, marketID string) (*model.Resolution, error)
}
