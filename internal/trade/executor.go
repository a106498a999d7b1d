// Package trade implements bet execution against the constant-product
// pool: price resolution, balance debits, reserve updates, position
// fills, and the HTTP surface exposing them.
package trade

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/imanuelcio/be-moodswing-sub000/internal/config"
	"github.com/imanuelcio/be-moodswing-sub000/internal/cpmm"
	"github.com/imanuelcio/be-moodswing-sub000/internal/domain"
	"github.com/imanuelcio/be-moodswing-sub000/internal/ledger"
	"github.com/imanuelcio/be-moodswing-sub000/internal/metrics"
	"github.com/imanuelcio/be-moodswing-sub000/internal/model"
	"github.com/imanuelcio/be-moodswing-sub000/internal/notify"
	"github.com/imanuelcio/be-moodswing-sub000/internal/store"
)

// PriceBroadcaster pushes live price updates to subscribed clients.
type PriceBroadcaster interface {
	PriceUpdate(marketID string, priceYes, priceNo decimal.Decimal)
}

// Executor coordinates the two-phase bet lifecycle: PlaceBet validates
// and debits under the user's lock and records a pending trade; Fill
// executes the pending trade against the pool and credits the position.
// Points bets are filled immediately by the handler; token-stake bets
// stay pending until the external transfer is confirmed.
type Executor struct {
	store     store.Store
	positions *ledger.Service
	notifier  notify.Notifier
	hub       PriceBroadcaster
	logger    *slog.Logger
	cfg       config.EngineConfig
	userLocks *keyedMutex
}

func NewExecutor(st store.Store, positions *ledger.Service, notifier notify.Notifier, hub PriceBroadcaster, cfg config.EngineConfig, logger *slog.Logger) *Executor {
	return &Executor{
		store:     st,
		positions: positions,
		notifier:  notifier,
		hub:       hub,
		logger:    logger,
		cfg:       cfg,
		userLocks: newKeyedMutex(),
	}
}

// --- Markets ---

// CreateMarketParams carries market creation input. InitialProb defaults
// to 0.5 and Seed to the configured default liquidity.
type CreateMarketParams struct {
	Question    string
	ClosesAt    time.Time
	InitialProb decimal.Decimal
	Seed        decimal.Decimal
}

// CreateMarket creates a draft market with its reserve pool seeded so the
// opening YES price equals InitialProb.
func (e *Executor) CreateMarket(ctx context.Context, p CreateMarketParams) (*model.Market, error) {
	if p.Question == "" {
		return nil, domain.Validationf("question is required")
	}
	if !p.ClosesAt.After(time.Now()) {
		return nil, domain.Validationf("closes_at must be in the future")
	}
	if p.InitialProb.IsZero() {
		p.InitialProb = decimal.NewFromFloat(0.5)
	}
	if p.InitialProb.LessThan(e.cfg.MinPrice) || p.InitialProb.GreaterThan(e.cfg.MaxPrice) {
		return nil, domain.Validationf("initial_prob must lie in [%s, %s]", e.cfg.MinPrice, e.cfg.MaxPrice)
	}
	if p.Seed.IsZero() {
		p.Seed = e.cfg.SeedLiquidity
	}
	if !p.Seed.IsPositive() {
		return nil, domain.Validationf("seed must be positive")
	}

	now := time.Now().UTC()
	m := &model.Market{
		ID:           uuid.New().String(),
		Question:     p.Question,
		Status:       model.MarketDraft,
		YesOutcomeID: uuid.New().String(),
		NoOutcomeID:  uuid.New().String(),
		ClosesAt:     p.ClosesAt.UTC(),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	yes, no := cpmm.SeedReserves(p.InitialProb, p.Seed)
	r := &model.Reserves{MarketID: m.ID, Yes: yes, No: no, UpdatedAt: now}

	if err := e.store.CreateMarket(ctx, m, r); err != nil {
		return nil, err
	}
	e.logger.Info("market created",
		"market_id", m.ID,
		"initial_prob", p.InitialProb.String(),
		"seed", p.Seed.String())
	return m, nil
}

// SetMarketStatus transitions a market between lifecycle statuses,
// enforcing the legal transition graph.
func (e *Executor) SetMarketStatus(ctx context.Context, marketID, to string) (*model.Market, error) {
	m, err := e.store.GetMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	if !model.CanTransition(m.Status, to) {
		return nil, domain.InvalidStatef("cannot transition market from %s to %s", m.Status, to)
	}
	if err := e.store.UpdateMarketStatus(ctx, marketID, m.Status, to); err != nil {
		return nil, err
	}
	return e.store.GetMarket(ctx, marketID)
}

// Prices returns the instantaneous YES/NO prices implied by the pool.
func (e *Executor) Prices(ctx context.Context, marketID string) (priceYes, priceNo decimal.Decimal, err error) {
	r, err := e.store.GetReserves(ctx, marketID)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	priceYes, priceNo = cpmm.Price(r.Yes, r.No)
	return priceYes, priceNo, nil
}

// QuoteResult previews a buy without mutating any state.
type QuoteResult struct {
	MarketID string          `json:"market_id"`
	Side     string          `json:"side"`
	Amount   decimal.Decimal `json:"amount"`
	Shares   decimal.Decimal `json:"shares"`
	AvgPrice decimal.Decimal `json:"avg_price"`
	Impact   cpmm.Impact     `json:"impact"`
}

// Quote previews buying `amount` of the given outcome against the pool.
func (e *Executor) Quote(ctx context.Context, marketID, outcomeID string, amount decimal.Decimal) (*QuoteResult, error) {
	m, err := e.store.GetMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	side, ok := m.OutcomeSide(outcomeID)
	if !ok {
		return nil, domain.Validationf("outcome %s does not belong to market %s", outcomeID, marketID)
	}
	r, err := e.store.GetReserves(ctx, marketID)
	if err != nil {
		return nil, err
	}

	q, err := cpmm.Buy(r.Yes, r.No, side, amount)
	if err != nil {
		return nil, mapCPMMErr(err)
	}
	impact, err := cpmm.MarketImpact(r.Yes, r.No, side, amount)
	if err != nil {
		return nil, mapCPMMErr(err)
	}
	return &QuoteResult{
		MarketID: marketID,
		Side:     side,
		Amount:   amount,
		Shares:   q.Shares,
		AvgPrice: q.AvgPrice,
		Impact:   impact,
	}, nil
}

// QuoteShares previews the cost of acquiring `shares` of the given
// outcome, the inverse of Quote.
func (e *Executor) QuoteShares(ctx context.Context, marketID, outcomeID string, shares decimal.Decimal) (*QuoteResult, error) {
	m, err := e.store.GetMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	side, ok := m.OutcomeSide(outcomeID)
	if !ok {
		return nil, domain.Validationf("outcome %s does not belong to market %s", outcomeID, marketID)
	}
	r, err := e.store.GetReserves(ctx, marketID)
	if err != nil {
		return nil, err
	}

	cost, err := cpmm.CostForShares(r.Yes, r.No, side, shares)
	if err != nil {
		return nil, mapCPMMErr(err)
	}
	impact, err := cpmm.MarketImpact(r.Yes, r.No, side, cost)
	if err != nil {
		return nil, mapCPMMErr(err)
	}
	return &QuoteResult{
		MarketID: marketID,
		Side:     side,
		Amount:   cost,
		Shares:   shares,
		AvgPrice: cost.Div(shares),
		Impact:   impact,
	}, nil
}

// --- Bets ---

// BetRequest places a bet. Exactly one of PointsStake and TokenStake must
// be positive. Price is optional: when zero the executor derives it from
// the market's last fill.
type BetRequest struct {
	UserID      string
	MarketID    string
	OutcomeID   string
	PointsStake decimal.Decimal
	TokenStake  decimal.Decimal
	Price       decimal.Decimal
}

// PlaceBet validates the request, resolves the execution price, debits
// points stakes under the user's lock, and records a pending trade. The
// debit and the trade record share the trade ID for audit.
func (e *Executor) PlaceBet(ctx context.Context, req BetRequest) (*model.Trade, error) {
	if req.UserID == "" {
		return nil, domain.Validationf("user_id is required")
	}
	isPoints := req.PointsStake.IsPositive()
	isToken := req.TokenStake.IsPositive()
	if isPoints == isToken {
		return nil, domain.Validationf("exactly one of points_stake and token_stake must be positive")
	}

	m, err := e.store.GetMarket(ctx, req.MarketID)
	if err != nil {
		return nil, err
	}
	if m.Status != model.MarketOpen {
		return nil, domain.InvalidStatef("market %s is %s, not open", m.ID, m.Status)
	}
	if !time.Now().Before(m.ClosesAt) {
		return nil, domain.InvalidStatef("market %s closed at %s", m.ID, m.ClosesAt.Format(time.RFC3339))
	}
	side, ok := m.OutcomeSide(req.OutcomeID)
	if !ok {
		return nil, domain.Validationf("outcome %s does not belong to market %s", req.OutcomeID, req.MarketID)
	}

	price, err := e.resolvePrice(ctx, req.MarketID, side, req.Price)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	t := &model.Trade{
		ID:          uuid.New().String(),
		UserID:      req.UserID,
		MarketID:    req.MarketID,
		OutcomeID:   req.OutcomeID,
		Side:        side,
		Price:       price,
		PointsStake: req.PointsStake,
		TokenStake:  req.TokenStake,
		Status:      model.TradePending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	// The user lock serializes the balance check and the debit against
	// concurrent bets by the same user.
	unlock := e.userLocks.Lock(req.UserID)
	defer unlock()

	if isPoints {
		if _, err := e.store.AppendPointsEntry(ctx, &model.PointsEntry{
			UserID:  req.UserID,
			Delta:   req.PointsStake.Neg(),
			Reason:  model.ReasonBetPlaced,
			RefType: model.RefTrade,
			RefID:   t.ID,
		}); err != nil {
			return nil, err
		}
	}

	if err := e.store.CreateTrade(ctx, t); err != nil {
		if isPoints {
			e.refund(ctx, t, model.ReasonBetRefund)
		}
		return nil, err
	}

	e.logger.Info("bet placed",
		"trade_id", t.ID,
		"user_id", t.UserID,
		"market_id", t.MarketID,
		"side", t.Side,
		"price", t.Price.String())
	return t, nil
}

// Fill executes a pending trade against the pool: reserves move through a
// compare-and-set loop, the position absorbs the fill, and the trade
// transitions to filled. Any failure after the reserves moved is
// compensated: the pool is moved back, the position restored, the stake
// refunded, and the trade marked failed. The user's lock is held across
// the position read-modify-write so concurrent fills for the same user
// cannot lose updates.
func (e *Executor) Fill(ctx context.Context, tradeID string) (*model.Trade, error) {
	t, err := e.store.GetTrade(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	if t.Status != model.TradePending {
		return nil, domain.InvalidStatef("trade %s is %s, not pending", t.ID, t.Status)
	}

	// The market may have closed between placement and confirmation. The
	// trade stays pending so the owner can still cancel for a refund.
	m, err := e.store.GetMarket(ctx, t.MarketID)
	if err != nil {
		return nil, err
	}
	if m.Status != model.MarketOpen {
		return nil, domain.InvalidStatef("market %s is %s, not open", m.ID, m.Status)
	}
	if !time.Now().Before(m.ClosesAt) {
		return nil, domain.InvalidStatef("market %s closed at %s", m.ID, m.ClosesAt.Format(time.RFC3339))
	}

	unlock := e.userLocks.Lock(t.UserID)
	defer unlock()

	stake, isPoints := t.Stake()
	quantity := stake.Div(t.Price)

	mv, err := e.moveReserves(ctx, t.MarketID, t.Side, stake)
	if err != nil {
		e.fail(ctx, t, isPoints, err)
		return nil, err
	}

	snapshot, err := e.positionSnapshot(ctx, t)
	if err != nil {
		e.revertReserves(ctx, t.MarketID, mv)
		e.fail(ctx, t, isPoints, err)
		return nil, err
	}

	if _, err := e.positions.ApplyFill(ctx, ledger.Fill{
		UserID:    t.UserID,
		MarketID:  t.MarketID,
		OutcomeID: t.OutcomeID,
		Quantity:  quantity,
		Price:     t.Price,
		IsPoints:  isPoints,
	}); err != nil {
		e.revertReserves(ctx, t.MarketID, mv)
		e.fail(ctx, t, isPoints, err)
		return nil, err
	}

	if err := e.store.MarkTradeFilled(ctx, t.ID, quantity, mv.shares); err != nil {
		if snapshot != nil {
			if rerr := e.positions.Restore(ctx, snapshot); rerr != nil {
				e.logger.Error("position restore failed after fill error",
					"trade_id", t.ID, "error", rerr)
			}
		}
		e.revertReserves(ctx, t.MarketID, mv)
		e.fail(ctx, t, isPoints, err)
		return nil, err
	}

	metrics.TradesTotal.WithLabelValues(model.TradeFilled).Inc()
	e.logger.Info("trade filled",
		"trade_id", t.ID,
		"market_id", t.MarketID,
		"quantity", quantity.String(),
		"pool_shares", mv.shares.String())

	e.notifier.BetFilled(ctx, notify.BetFilled{
		TradeID:   t.ID,
		UserID:    t.UserID,
		MarketID:  t.MarketID,
		OutcomeID: t.OutcomeID,
		Side:      t.Side,
		Price:     t.Price,
		Quantity:  quantity,
		FilledAt:  time.Now().UTC(),
	})
	if e.hub != nil {
		pYes, pNo := cpmm.Price(mv.newYes, mv.newNo)
		e.hub.PriceUpdate(t.MarketID, pYes, pNo)
	}

	return e.store.GetTrade(ctx, t.ID)
}

// Cancel voids a still-pending trade and refunds its points debit. Only
// the trade's owner may cancel; filled, failed, or already-cancelled
// trades return invalid state.
func (e *Executor) Cancel(ctx context.Context, tradeID, userID string) (*model.Trade, error) {
	t, err := e.store.GetTrade(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	if t.UserID != userID {
		return nil, domain.NotFoundf("trade %s not found", tradeID)
	}
	if err := e.store.UpdateTradeStatus(ctx, t.ID, model.TradePending, model.TradeCancelled); err != nil {
		return nil, err
	}
	if _, isPoints := t.Stake(); isPoints {
		e.refund(ctx, t, model.ReasonBetCancelled)
	}
	metrics.TradesTotal.WithLabelValues(model.TradeCancelled).Inc()
	e.logger.Info("trade cancelled", "trade_id", t.ID, "user_id", userID)
	return e.store.GetTrade(ctx, t.ID)
}

// --- internals ---

// resolvePrice implements the execution-price rule: an explicit price is
// validated against the configured bounds; otherwise the last filled
// trade anchors the price with a one-step spread (YES above, NO below),
// clamped to the bounds. A market with no fills prices at 0.5.
func (e *Executor) resolvePrice(ctx context.Context, marketID, side string, explicit decimal.Decimal) (decimal.Decimal, error) {
	if !explicit.IsZero() {
		if explicit.LessThan(e.cfg.MinPrice) || explicit.GreaterThan(e.cfg.MaxPrice) {
			return decimal.Zero, domain.Validationf("price %s outside [%s, %s]", explicit, e.cfg.MinPrice, e.cfg.MaxPrice)
		}
		return explicit, nil
	}

	last, err := e.store.GetLastFilledTrade(ctx, marketID)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrNotFound):
		return decimal.NewFromFloat(0.5), nil
	default:
		return decimal.Zero, err
	}

	price := last.Price
	if side == model.SideYes {
		price = price.Add(e.cfg.SpreadStep)
	} else {
		price = price.Sub(e.cfg.SpreadStep)
	}
	if price.LessThan(e.cfg.MinPrice) {
		price = e.cfg.MinPrice
	}
	if price.GreaterThan(e.cfg.MaxPrice) {
		price = e.cfg.MaxPrice
	}
	return price, nil
}

// reserveMove records a committed pool update together with the deltas
// needed to undo it.
type reserveMove struct {
	shares   decimal.Decimal
	newYes   decimal.Decimal
	newNo    decimal.Decimal
	deltaYes decimal.Decimal
	deltaNo  decimal.Decimal
}

// moveReserves applies the buy to the pool under compare-and-set,
// re-reading and retrying on lost races up to the configured bound.
func (e *Executor) moveReserves(ctx context.Context, marketID, side string, amount decimal.Decimal) (reserveMove, error) {
	for attempt := 0; attempt <= e.cfg.ReserveRetries; attempt++ {
		r, rerr := e.store.GetReserves(ctx, marketID)
		if rerr != nil {
			return reserveMove{}, rerr
		}
		q, qerr := cpmm.Buy(r.Yes, r.No, side, amount)
		if qerr != nil {
			return reserveMove{}, mapCPMMErr(qerr)
		}

		uerr := e.store.UpdateReserves(ctx, marketID, r.Yes, r.No, q.NewYes, q.NewNo)
		if uerr == nil {
			return reserveMove{
				shares:   q.Shares,
				newYes:   q.NewYes,
				newNo:    q.NewNo,
				deltaYes: q.NewYes.Sub(r.Yes),
				deltaNo:  q.NewNo.Sub(r.No),
			}, nil
		}
		if !errors.Is(uerr, domain.ErrConflict) {
			return reserveMove{}, uerr
		}
		metrics.ReserveRetries.Inc()
	}
	return reserveMove{},
		domain.Conflictf("reserve update for market %s lost %d races", marketID, e.cfg.ReserveRetries+1)
}

// revertReserves undoes a committed pool update after a downstream fill
// step failed, using the same compare-and-set loop. Best-effort: an
// exhausted revert is logged, not returned, since the caller is already
// unwinding a failure.
func (e *Executor) revertReserves(ctx context.Context, marketID string, mv reserveMove) {
	for attempt := 0; attempt <= e.cfg.ReserveRetries; attempt++ {
		r, err := e.store.GetReserves(ctx, marketID)
		if err != nil {
			e.logger.Error("reserve revert read failed", "market_id", marketID, "error", err)
			return
		}
		err = e.store.UpdateReserves(ctx, marketID, r.Yes, r.No,
			r.Yes.Sub(mv.deltaYes), r.No.Sub(mv.deltaNo))
		if err == nil {
			return
		}
		if !errors.Is(err, domain.ErrConflict) {
			e.logger.Error("reserve revert failed", "market_id", marketID, "error", err)
			return
		}
		metrics.ReserveRetries.Inc()
	}
	e.logger.Error("reserve revert lost all races", "market_id", marketID,
		"delta_yes", mv.deltaYes.String(), "delta_no", mv.deltaNo.String())
}

// positionSnapshot captures the pre-fill position for compensation. A nil
// snapshot means the fill will create the position.
func (e *Executor) positionSnapshot(ctx context.Context, t *model.Trade) (*model.Position, error) {
	pos, err := e.positions.Get(ctx, t.UserID, t.MarketID, t.OutcomeID)
	if err == nil {
		return pos, nil
	}
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	return nil, err
}

// fail compensates a broken fill: refund the points debit and park the
// trade in failed state. Both steps are best-effort and logged; the trade
// record keeps the audit trail either way.
func (e *Executor) fail(ctx context.Context, t *model.Trade, isPoints bool, cause error) {
	if isPoints {
		e.refund(ctx, t, model.ReasonBetRefund)
	}
	if err := e.store.UpdateTradeStatus(ctx, t.ID, model.TradePending, model.TradeFailed); err != nil {
		e.logger.Error("trade failure transition failed", "trade_id", t.ID, "error", err)
	}
	metrics.TradesTotal.WithLabelValues(model.TradeFailed).Inc()
	e.logger.Warn("trade failed", "trade_id", t.ID, "error", cause)
}

func (e *Executor) refund(ctx context.Context, t *model.Trade, reason string) {
	if _, err := e.store.AppendPointsEntry(ctx, &model.PointsEntry{
		UserID:  t.UserID,
		Delta:   t.PointsStake,
		Reason:  reason,
		RefType: model.RefTrade,
		RefID:   t.ID,
	}); err != nil {
		e.logger.Error("stake refund failed", "trade_id", t.ID, "user_id", t.UserID, "error", err)
	}
}

func mapCPMMErr(err error) error {
	switch {
	case errors.Is(err, cpmm.ErrIlliquidMarket):
		return &domain.Error{Code: domain.CodeIlliquidMarket, Message: "market reserves are degenerate", Err: err}
	case errors.Is(err, cpmm.ErrAmountExhaustsPool):
		return &domain.Error{Code: domain.CodeIlliquidMarket, Message: "trade too large for pool depth", Err: err}
	case errors.Is(err, cpmm.ErrInvalidAmount), errors.Is(err, cpmm.ErrInvalidShares):
		return &domain.Error{Code: domain.CodeValidation, Message: err.Error(), Err: err}
	default:
		return err
	}
}
