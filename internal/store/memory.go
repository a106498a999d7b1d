package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/imanuelcio/be-moodswing-sub000/internal/domain"
	"github.com/imanuelcio/be-moodswing-sub000/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu          sync.Mutex
	markets     map[string]*model.Market
	reserves    map[string]*model.Reserves
	positions   map[string]*model.Position // by position ID
	posIndex    map[string]string          // user|market|outcome -> position ID
	ledger      map[string][]model.PointsEntry
	trades      map[string]*model.Trade
	tradeOrder  []string
	resolutions map[string]*model.Resolution // by market ID
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		markets:     make(map[string]*model.Market),
		reserves:    make(map[string]*model.Reserves),
		positions:   make(map[string]*model.Position),
		posIndex:    make(map[string]string),
		ledger:      make(map[string][]model.PointsEntry),
		trades:      make(map[string]*model.Trade),
		resolutions: make(map[string]*model.Resolution),
	}
}

func posKey(userID, marketID, outcomeID string) string {
	return userID + "|" + marketID + "|" + outcomeID
}

// --- Markets ---

func (s *MemoryStore) CreateMarket(_ context.Context, m *model.Market, r *model.Reserves) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.markets[m.ID]; ok {
		return domain.Conflictf("market %s already exists", m.ID)
	}
	mc := *m
	rc := *r
	s.markets[m.ID] = &mc
	s.reserves[r.MarketID] = &rc
	return nil
}

func (s *MemoryStore) GetMarket(_ context.Context, id string) (*model.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[id]
	if !ok {
		return nil, domain.NotFoundf("market not found")
	}
	mc := *m
	return &mc, nil
}

func (s *MemoryStore) ListMarkets(_ context.Context, status string) ([]model.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var markets []model.Market
	for _, m := range s.markets {
		if status == "" || m.Status == status {
			markets = append(markets, *m)
		}
	}
	sort.Slice(markets, func(i, j int) bool {
		return markets[i].CreatedAt.After(markets[j].CreatedAt)
	})
	return markets, nil
}

func (s *MemoryStore) UpdateMarketStatus(_ context.Context, id, from, to string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[id]
	if !ok {
		return domain.NotFoundf("market not found")
	}
	if m.Status != from {
		return domain.InvalidStatef("market is not %s", from)
	}
	m.Status = to
	m.UpdatedAt = time.Now().UTC()
	return nil
}

// --- Reserves ---

func (s *MemoryStore) GetReserves(_ context.Context, marketID string) (*model.Reserves, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reserves[marketID]
	if !ok {
		return nil, domain.NotFoundf("reserves not found for market")
	}
	rc := *r
	return &rc, nil
}

func (s *MemoryStore) UpdateReserves(_ context.Context, marketID string, oldYes, oldNo, newYes, newNo decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reserves[marketID]
	if !ok {
		return domain.NotFoundf("reserves not found for market")
	}
	if !r.Yes.Equal(oldYes) || !r.No.Equal(oldNo) {
		return domain.Conflictf("reserves changed concurrently")
	}
	r.Yes = newYes
	r.No = newNo
	r.UpdatedAt = time.Now().UTC()
	return nil
}

// --- Positions ---

func (s *MemoryStore) GetPosition(_ context.Context, userID, marketID, outcomeID string) (*model.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.posIndex[posKey(userID, marketID, outcomeID)]
	if !ok {
		return nil, domain.NotFoundf("position not found")
	}
	pc := *s.positions[id]
	return &pc, nil
}

func (s *MemoryStore) UpsertPosition(_ context.Context, p *model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := posKey(p.UserID, p.MarketID, p.OutcomeID)
	if existingID, ok := s.posIndex[key]; ok {
		pc := *p
		pc.ID = existingID
		s.positions[existingID] = &pc
		return nil
	}
	pc := *p
	s.positions[p.ID] = &pc
	s.posIndex[key] = p.ID
	return nil
}

func (s *MemoryStore) ListPositionsByMarket(_ context.Context, marketID, afterID string, limit int) ([]model.Position, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for id, p := range s.positions {
		if p.MarketID == marketID && id > afterID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}

	positions := make([]model.Position, 0, len(ids))
	for _, id := range ids {
		positions = append(positions, *s.positions[id])
	}

	next := ""
	if len(positions) == limit {
		next = positions[len(positions)-1].ID
	}
	return positions, next, nil
}

func (s *MemoryStore) ListPositionsByUser(_ context.Context, userID string) ([]model.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var positions []model.Position
	for _, p := range s.positions {
		if p.UserID == userID {
			positions = append(positions, *p)
		}
	}
	sort.Slice(positions, func(i, j int) bool {
		return positions[i].CreatedAt.Before(positions[j].CreatedAt)
	})
	return positions, nil
}

func (s *MemoryStore) LiquidatePositions(_ context.Context, marketID, losingOutcomeID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	var count int64
	for _, p := range s.positions {
		if p.MarketID != marketID || p.OutcomeID != losingOutcomeID || p.SettledAt != nil {
			continue
		}
		if !p.Quantity.IsPositive() && !p.TokenQuantity.IsPositive() {
			continue
		}
		p.RealizedPnL = p.RealizedPnL.Sub(p.Quantity.Mul(p.AvgPrice))
		p.Quantity = decimal.Zero
		p.TokenQuantity = decimal.Zero
		t := now
		p.SettledAt = &t
		p.UpdatedAt = now
		count++
	}
	return count, nil
}

func (s *MemoryStore) ApplySettlementCredits(_ context.Context, credits []model.SettlementCredit) ([]model.PointsEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	var applied []model.PointsEntry
	for _, c := range credits {
		p, ok := s.positions[c.PositionID]
		if !ok || p.SettledAt != nil {
			continue // already paid, skip
		}
		p.RealizedPnL = p.RealizedPnL.Add(c.Payout.Sub(p.Quantity.Mul(p.AvgPrice)))
		t := now
		p.SettledAt = &t
		p.UpdatedAt = now

		if c.Payout.IsPositive() {
			entry := s.appendLocked(&model.PointsEntry{
				UserID:  c.UserID,
				Delta:   c.Payout,
				Reason:  model.ReasonResolutionWin,
				RefType: model.RefPosition,
				RefID:   c.PositionID,
			})
			applied = append(applied, *entry)
		}
	}
	return applied, nil
}

// --- Points ledger ---

func (s *MemoryStore) GetPointsBalance(_ context.Context, userID string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balanceLocked(userID), nil
}

func (s *MemoryStore) balanceLocked(userID string) decimal.Decimal {
	entries := s.ledger[userID]
	if len(entries) == 0 {
		return decimal.Zero
	}
	return entries[len(entries)-1].BalanceAfter
}

func (s *MemoryStore) appendLocked(e *model.PointsEntry) *model.PointsEntry {
	out := *e
	if out.ID == "" {
		out.ID = newLedgerID()
	}
	out.BalanceAfter = s.balanceLocked(e.UserID).Add(e.Delta)
	if out.CreatedAt.IsZero() {
		out.CreatedAt = time.Now().UTC()
	}
	s.ledger[e.UserID] = append(s.ledger[e.UserID], out)
	return &out
}

func (s *MemoryStore) AppendPointsEntry(_ context.Context, e *model.PointsEntry) (*model.PointsEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.Delta.IsNegative() && s.balanceLocked(e.UserID).Add(e.Delta).IsNegative() {
		return nil, domain.ErrInsufficientBalance
	}
	return s.appendLocked(e), nil
}

func (s *MemoryStore) ListPointsEntries(_ context.Context, userID string, limit int) ([]model.PointsEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.ledger[userID]
	var entries []model.PointsEntry
	for i := len(all) - 1; i >= 0 && len(entries) < limit; i-- {
		entries = append(entries, all[i])
	}
	return entries, nil
}

// --- Trades ---

func (s *MemoryStore) CreateTrade(_ context.Context, t *model.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.trades[t.ID]; ok {
		return domain.Conflictf("trade %s already exists", t.ID)
	}
	tc := *t
	s.trades[t.ID] = &tc
	s.tradeOrder = append(s.tradeOrder, t.ID)
	return nil
}

func (s *MemoryStore) GetTrade(_ context.Context, id string) (*model.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.trades[id]
	if !ok {
		return nil, domain.NotFoundf("trade not found")
	}
	tc := *t
	return &tc, nil
}

func (s *MemoryStore) GetLastFilledTrade(_ context.Context, marketID string) (*model.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := len(s.tradeOrder) - 1; i >= 0; i-- {
		t := s.trades[s.tradeOrder[i]]
		if t.MarketID == marketID && t.Status == model.TradeFilled {
			tc := *t
			return &tc, nil
		}
	}
	return nil, domain.NotFoundf("no filled trades for market")
}

func (s *MemoryStore) MarkTradeFilled(_ context.Context, id string, quantity, poolShares decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.trades[id]
	if !ok {
		return domain.NotFoundf("trade not found")
	}
	if t.Status != model.TradePending {
		return domain.InvalidStatef("trade is not pending")
	}
	t.Status = model.TradeFilled
	t.Quantity = quantity
	t.PoolShares = poolShares
	t.UpdatedAt = time.Now().UTC()

	// Keep the trade at the tail of the order so "last filled" follows
	// fill order, not creation order.
	for i, tid := range s.tradeOrder {
		if tid == id {
			s.tradeOrder = append(append(s.tradeOrder[:i:i], s.tradeOrder[i+1:]...), id)
			break
		}
	}
	return nil
}

func (s *MemoryStore) UpdateTradeStatus(_ context.Context, id, from, to string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.trades[id]
	if !ok {
		return domain.NotFoundf("trade not found")
	}
	if t.Status != from {
		return domain.InvalidStatef("trade is not %s", from)
	}
	t.Status = to
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// --- Resolution ---

func (s *MemoryStore) CreateResolution(_ context.Context, r *model.Resolution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.resolutions[r.MarketID]; ok {
		return domain.ErrAlreadyResolved
	}
	m, ok := s.markets[r.MarketID]
	if !ok {
		return domain.NotFoundf("market not found")
	}
	if m.Status != model.MarketClosed && m.Status != model.MarketDisputed {
		return domain.InvalidStatef("market is not closed or disputed")
	}

	rc := *r
	s.resolutions[r.MarketID] = &rc
	m.Status = model.MarketResolved
	m.WinningOutcomeID = r.WinningOutcomeID
	m.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) GetResolution(_ context.Context, marketID string) (*model.Resolution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.resolutions[marketID]
	if !ok {
		return nil, domain.NotFoundf("resolution not found")
	}
	rc := *r
	return &rc, nil
}
