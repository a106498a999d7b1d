// Package ledger maintains per-user outcome positions. Each (user, market,
// outcome) triple owns exactly one position row, created on the first fill
// and updated in place afterwards with a stake-weighted average price.
package ledger

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/imanuelcio/be-moodswing-sub000/internal/domain"
	"github.com/imanuelcio/be-moodswing-sub000/internal/model"
	"github.com/imanuelcio/be-moodswing-sub000/internal/store"
)

// Fill describes one executed trade's effect on a position.
type Fill struct {
	UserID    string
	MarketID  string
	OutcomeID string
	Quantity  decimal.Decimal // shares acquired, must be positive
	Price     decimal.Decimal // execution price in (0,1)
	IsPoints  bool            // points stake vs external-token stake
}

// Service owns all position reads and mutations.
type Service struct {
	store  store.Store
	logger *slog.Logger
}

func New(st store.Store, logger *slog.Logger) *Service {
	return &Service{store: st, logger: logger}
}

// Get returns the position for (user, market, outcome), or
// domain.ErrNotFound when the user never traded that outcome.
func (s *Service) Get(ctx context.Context, userID, marketID, outcomeID string) (*model.Position, error) {
	return s.store.GetPosition(ctx, userID, marketID, outcomeID)
}

// ApplyFill folds an executed fill into the user's position. On the first
// fill the position is created; afterwards the average price is
// stake-weighted across fills:
//
//	newAvg = (oldAvg*oldQty + price*qty) / (oldQty + qty)
//
// Points-stake fills accumulate in Quantity, token-stake fills in
// TokenQuantity. Both share the same average price series.
func (s *Service) ApplyFill(ctx context.Context, f Fill) (*model.Position, error) {
	if !f.Quantity.IsPositive() {
		return nil, domain.Validationf("fill quantity must be positive, got %s", f.Quantity)
	}
	if !f.Price.IsPositive() || f.Price.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, domain.Validationf("fill price must be in (0,1), got %s", f.Price)
	}

	now := time.Now().UTC()
	pos, err := s.store.GetPosition(ctx, f.UserID, f.MarketID, f.OutcomeID)
	switch {
	case err == nil:
	case domain.CodeOf(err) == domain.CodeNotFound:
		pos = &model.Position{
			ID:        uuid.New().String(),
			UserID:    f.UserID,
			MarketID:  f.MarketID,
			OutcomeID: f.OutcomeID,
			CreatedAt: now,
		}
	default:
		return nil, err
	}

	oldQty := pos.Quantity.Add(pos.TokenQuantity)
	newQty := oldQty.Add(f.Quantity)
	pos.AvgPrice = pos.AvgPrice.Mul(oldQty).
		Add(f.Price.Mul(f.Quantity)).
		Div(newQty)

	if f.IsPoints {
		pos.Quantity = pos.Quantity.Add(f.Quantity)
	} else {
		pos.TokenQuantity = pos.TokenQuantity.Add(f.Quantity)
	}
	pos.UpdatedAt = now

	if err := s.store.UpsertPosition(ctx, pos); err != nil {
		return nil, err
	}

	s.logger.Debug("position fill applied",
		"position_id", pos.ID,
		"user_id", f.UserID,
		"market_id", f.MarketID,
		"outcome_id", f.OutcomeID,
		"quantity", f.Quantity.String(),
		"avg_price", pos.AvgPrice.String())
	return pos, nil
}

// Restore writes back a prior position snapshot. The trade executor uses
// it to unwind a fill whose downstream write failed.
func (s *Service) Restore(ctx context.Context, snapshot *model.Position) error {
	return s.store.UpsertPosition(ctx, snapshot)
}

// Liquidate zeroes every unsettled position on the losing outcome of a
// resolved market. Idempotent; returns the number of positions affected.
func (s *Service) Liquidate(ctx context.Context, marketID, losingOutcomeID string) (int64, error) {
	n, err := s.store.LiquidatePositions(ctx, marketID, losingOutcomeID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("positions liquidated",
			"market_id", marketID,
			"losing_outcome_id", losingOutcomeID,
			"count", n)
	}
	return n, nil
}

// ListForMarket pages through a market's positions in ID order. An empty
// cursor starts from the beginning; the returned cursor is empty once the
// set is exhausted.
func (s *Service) ListForMarket(ctx context.Context, marketID, afterID string, limit int) ([]model.Position, string, error) {
	if limit <= 0 {
		return nil, "", domain.Validationf("page limit must be positive, got %d", limit)
	}
	return s.store.ListPositionsByMarket(ctx, marketID, afterID, limit)
}

// ListForUser returns every position a user holds across markets.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]model.Position, error) {
	return s.store.ListPositionsByUser(ctx, userID)
}
