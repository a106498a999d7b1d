// Package settle resolves markets and pays winners out of the points
// ledger. Settlement is idempotent: a crashed or retried run never pays a
// position twice and always converges on the same final state.
package settle

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/imanuelcio/be-moodswing-sub000/internal/domain"
	"github.com/imanuelcio/be-moodswing-sub000/internal/ledger"
	"github.com/imanuelcio/be-moodswing-sub000/internal/metrics"
	"github.com/imanuelcio/be-moodswing-sub000/internal/model"
	"github.com/imanuelcio/be-moodswing-sub000/internal/notify"
	"github.com/imanuelcio/be-moodswing-sub000/internal/store"
)

// Engine executes market resolution end to end: the resolution record,
// loser liquidation, and winner payouts.
type Engine struct {
	store     store.Store
	positions *ledger.Service
	locks     domain.LockManager
	notifier  notify.Notifier
	logger    *slog.Logger
	pageSize  int
	lockTTL   time.Duration
}

func NewEngine(st store.Store, positions *ledger.Service, locks domain.LockManager, notifier notify.Notifier, pageSize int, lockTTL time.Duration, logger *slog.Logger) *Engine {
	return &Engine{
		store:     st,
		positions: positions,
		locks:     locks,
		notifier:  notifier,
		logger:    logger,
		pageSize:  pageSize,
		lockTTL:   lockTTL,
	}
}

// Result summarizes one resolution run.
type Result struct {
	ResolutionID     string          `json:"resolution_id"`
	MarketID         string          `json:"market_id"`
	WinningOutcomeID string          `json:"winning_outcome_id"`
	CreditsApplied   int             `json:"credits_applied"`
	PointsPaid       decimal.Decimal `json:"points_paid"`
	Liquidated       int64           `json:"liquidated"`
	Resumed          bool            `json:"resumed"`
}

// ResolveMarket resolves a market to the winning outcome and settles all
// positions. The market must be closed or disputed. Each winning position
// pays floor(quantity) points; losing positions are liquidated to zero.
//
// Calling ResolveMarket on an already-resolved market re-runs the payout
// sweep so an interrupted settlement can resume. If the sweep finds
// nothing left to do, the call fails with domain.ErrAlreadyResolved.
func (e *Engine) ResolveMarket(ctx context.Context, marketID, winningOutcomeID, source string) (*Result, error) {
	release, err := e.locks.Acquire(ctx, "settle:"+marketID, e.lockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return nil, domain.Conflictf("settlement already in progress for market %s", marketID)
		}
		return nil, domain.Transient(err)
	}
	defer release()

	m, err := e.store.GetMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	if _, ok := m.OutcomeSide(winningOutcomeID); !ok {
		return nil, domain.Validationf("outcome %s does not belong to market %s", winningOutcomeID, marketID)
	}

	if m.Status == model.MarketResolved {
		return e.resume(ctx, m, winningOutcomeID)
	}
	if m.Status != model.MarketClosed && m.Status != model.MarketDisputed {
		return nil, domain.InvalidStatef("market %s is %s, not closed or disputed", marketID, m.Status)
	}

	r := &model.Resolution{
		ID:               uuid.New().String(),
		MarketID:         marketID,
		WinningOutcomeID: winningOutcomeID,
		Source:           source,
		CreatedAt:        time.Now().UTC(),
	}
	if err := e.store.CreateResolution(ctx, r); err != nil {
		return nil, err
	}

	e.logger.Info("market resolved",
		"market_id", marketID,
		"winning_outcome_id", winningOutcomeID,
		"resolution_id", r.ID,
		"source", source)
	e.notifier.MarketResolved(ctx, notify.MarketResolved{
		MarketID:         marketID,
		WinningOutcomeID: winningOutcomeID,
		ResolutionID:     r.ID,
		ResolvedAt:       r.CreatedAt,
	})

	res, err := e.sweep(ctx, m, winningOutcomeID)
	if err != nil {
		return nil, err
	}
	res.ResolutionID = r.ID
	metrics.SettlementsTotal.Inc()
	return res, nil
}

// resume re-runs the sweep on an already-resolved market. A prior
// resolution must exist and must name the same winner.
func (e *Engine) resume(ctx context.Context, m *model.Market, winningOutcomeID string) (*Result, error) {
	prior, err := e.store.GetResolution(ctx, m.ID)
	if err != nil {
		return nil, err
	}
	if prior.WinningOutcomeID != winningOutcomeID {
		return nil, domain.Conflictf("market %s already resolved to a different outcome", m.ID)
	}

	res, err := e.sweep(ctx, m, winningOutcomeID)
	if err != nil {
		return nil, err
	}
	if res.CreditsApplied == 0 && res.Liquidated == 0 {
		return nil, domain.ErrAlreadyResolved
	}
	res.ResolutionID = prior.ID
	res.Resumed = true
	e.logger.Info("settlement resumed",
		"market_id", m.ID,
		"credits_applied", res.CreditsApplied,
		"liquidated", res.Liquidated)
	return res, nil
}

// sweep liquidates the losing outcome and pays every unsettled winning
// position, paging through positions so a large market never loads whole.
func (e *Engine) sweep(ctx context.Context, m *model.Market, winningOutcomeID string) (*Result, error) {
	res := &Result{
		MarketID:         m.ID,
		WinningOutcomeID: winningOutcomeID,
		PointsPaid:       decimal.Zero,
	}

	liquidated, err := e.positions.Liquidate(ctx, m.ID, m.OppositeOutcome(winningOutcomeID))
	if err != nil {
		return nil, err
	}
	res.Liquidated = liquidated

	cursor := ""
	for {
		page, next, err := e.positions.ListForMarket(ctx, m.ID, cursor, e.pageSize)
		if err != nil {
			return nil, err
		}

		var credits []model.SettlementCredit
		for _, p := range page {
			if p.OutcomeID != winningOutcomeID || p.SettledAt != nil {
				continue
			}
			credits = append(credits, model.SettlementCredit{
				PositionID: p.ID,
				UserID:     p.UserID,
				MarketID:   m.ID,
				OutcomeID:  p.OutcomeID,
				Payout:     p.Quantity.Floor(),
			})
		}

		if len(credits) > 0 {
			applied, err := e.store.ApplySettlementCredits(ctx, credits)
			res.CreditsApplied += len(credits)
			for _, entry := range applied {
				res.PointsPaid = res.PointsPaid.Add(entry.Delta)
				metrics.SettlementPayouts.Inc()
				e.notifier.PayoutApplied(ctx, notify.PayoutApplied{
					UserID:       entry.UserID,
					MarketID:     m.ID,
					Delta:        entry.Delta,
					BalanceAfter: entry.BalanceAfter,
					Reason:       entry.Reason,
					AppliedAt:    entry.CreatedAt,
				})
			}
			if err != nil {
				// Everything applied so far stands; the next run resumes
				// from the unsettled remainder.
				return nil, err
			}
		}

		if next == "" {
			break
		}
		cursor = next
	}

	return res, nil
}
