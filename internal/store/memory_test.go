package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/imanuelcio/be-moodswing-sub000/internal/domain"
	"github.com/imanuelcio/be-moodswing-sub000/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func seedMarket(t *testing.T, s *MemoryStore) *model.Market {
	t.Helper()
	now := time.Now().UTC()
	m := &model.Market{
		ID:           uuid.New().String(),
		Question:     "q",
		Status:       model.MarketOpen,
		YesOutcomeID: uuid.New().String(),
		NoOutcomeID:  uuid.New().String(),
		ClosesAt:     now.Add(time.Hour),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	r := &model.Reserves{MarketID: m.ID, Yes: d(100), No: d(100), UpdatedAt: now}
	if err := s.CreateMarket(context.Background(), m, r); err != nil {
		t.Fatalf("CreateMarket: %v", err)
	}
	return m
}

func TestUpdateReservesCompareAndSet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	m := seedMarket(t, s)

	if err := s.UpdateReserves(ctx, m.ID, d(100), d(100), d(110), d(91)); err != nil {
		t.Fatalf("UpdateReserves: %v", err)
	}
	// A writer holding the stale pair loses.
	err := s.UpdateReserves(ctx, m.ID, d(100), d(100), d(120), d(84))
	if !errors.Is(err, domain.ErrConflict) {
		t.Errorf("stale update err = %v, want conflict", err)
	}

	r, _ := s.GetReserves(ctx, m.ID)
	if !r.Yes.Equal(d(110)) || !r.No.Equal(d(91)) {
		t.Errorf("reserves = %s/%s, want 110/91", r.Yes, r.No)
	}
}

func TestAppendPointsEntryRejectsOverdraft(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if _, err := s.AppendPointsEntry(ctx, &model.PointsEntry{
		UserID: "u1", Delta: d(100), Reason: model.ReasonAdminCredit,
	}); err != nil {
		t.Fatalf("credit: %v", err)
	}
	_, err := s.AppendPointsEntry(ctx, &model.PointsEntry{
		UserID: "u1", Delta: d(-150), Reason: model.ReasonBetPlaced,
	})
	if !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("overdraft err = %v, want insufficient balance", err)
	}

	// The rejected debit left no trace.
	bal, _ := s.GetPointsBalance(ctx, "u1")
	if !bal.Equal(d(100)) {
		t.Errorf("balance = %s, want 100", bal)
	}
	entries, _ := s.ListPointsEntries(ctx, "u1", 10)
	if len(entries) != 1 {
		t.Errorf("ledger has %d entries, want 1", len(entries))
	}
}

func TestBalanceIsRunningTotal(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	deltas := []float64{500, -100, -80, 200}
	for _, dt := range deltas {
		if _, err := s.AppendPointsEntry(ctx, &model.PointsEntry{
			UserID: "u1", Delta: d(dt), Reason: model.ReasonAdminCredit,
		}); err != nil {
			t.Fatalf("append %v: %v", dt, err)
		}
	}
	bal, _ := s.GetPointsBalance(ctx, "u1")
	if !bal.Equal(d(520)) {
		t.Errorf("balance = %s, want 520", bal)
	}

	entries, _ := s.ListPointsEntries(ctx, "u1", 10)
	if len(entries) != 4 {
		t.Fatalf("ledger has %d entries, want 4", len(entries))
	}
	// Newest first, balance_after chains backwards.
	if !entries[0].BalanceAfter.Equal(d(520)) || !entries[3].BalanceAfter.Equal(d(500)) {
		t.Errorf("balance chain broken: %s ... %s", entries[0].BalanceAfter, entries[3].BalanceAfter)
	}
}

func TestCreateResolutionFlipsMarketAtomically(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	m := seedMarket(t, s)
	if err := s.UpdateMarketStatus(ctx, m.ID, model.MarketOpen, model.MarketClosed); err != nil {
		t.Fatalf("close: %v", err)
	}

	r := &model.Resolution{
		ID:               uuid.New().String(),
		MarketID:         m.ID,
		WinningOutcomeID: m.YesOutcomeID,
		Source:           "admin",
		CreatedAt:        time.Now().UTC(),
	}
	if err := s.CreateResolution(ctx, r); err != nil {
		t.Fatalf("CreateResolution: %v", err)
	}

	got, _ := s.GetMarket(ctx, m.ID)
	if got.Status != model.MarketResolved || got.WinningOutcomeID != m.YesOutcomeID {
		t.Errorf("market = %s/%s, want resolved/%s", got.Status, got.WinningOutcomeID, m.YesOutcomeID)
	}

	// One resolution per market, ever.
	dup := *r
	dup.ID = uuid.New().String()
	if err := s.CreateResolution(ctx, &dup); !errors.Is(err, domain.ErrAlreadyResolved) {
		t.Errorf("duplicate err = %v, want already resolved", err)
	}
}

func TestCreateResolutionRequiresClosedOrDisputed(t *testing.T) {
	s := NewMemoryStore()
	m := seedMarket(t, s) // still open

	err := s.CreateResolution(context.Background(), &model.Resolution{
		ID:               uuid.New().String(),
		MarketID:         m.ID,
		WinningOutcomeID: m.YesOutcomeID,
		Source:           "admin",
		CreatedAt:        time.Now().UTC(),
	})
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("err = %v, want invalid state", err)
	}
}

func TestGetLastFilledTradeTracksFillOrder(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	m := seedMarket(t, s)

	mk := func(price float64) *model.Trade {
		now := time.Now().UTC()
		t := &model.Trade{
			ID:        uuid.New().String(),
			UserID:    "u1",
			MarketID:  m.ID,
			OutcomeID: m.YesOutcomeID,
			Side:      model.SideYes,
			Price:     d(price),
			Status:    model.TradePending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		return t
	}

	first, second := mk(0.5), mk(0.6)
	for _, tr := range []*model.Trade{first, second} {
		if err := s.CreateTrade(ctx, tr); err != nil {
			t.Fatalf("CreateTrade: %v", err)
		}
	}

	if _, err := s.GetLastFilledTrade(ctx, m.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("no fills yet, err = %v, want not found", err)
	}

	// Fill in reverse creation order; the last *fill* wins.
	if err := s.MarkTradeFilled(ctx, second.ID, d(10), d(9)); err != nil {
		t.Fatalf("fill second: %v", err)
	}
	if err := s.MarkTradeFilled(ctx, first.ID, d(10), d(9)); err != nil {
		t.Fatalf("fill first: %v", err)
	}

	last, err := s.GetLastFilledTrade(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetLastFilledTrade: %v", err)
	}
	if last.ID != first.ID {
		t.Errorf("last filled = %s, want %s", last.ID, first.ID)
	}
}

func TestUpdateTradeStatusGuardsTransitions(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	m := seedMarket(t, s)

	tr := &model.Trade{
		ID: uuid.New().String(), UserID: "u1", MarketID: m.ID,
		OutcomeID: m.YesOutcomeID, Side: model.SideYes,
		Price: d(0.5), Status: model.TradePending,
	}
	if err := s.CreateTrade(ctx, tr); err != nil {
		t.Fatalf("CreateTrade: %v", err)
	}
	if err := s.UpdateTradeStatus(ctx, tr.ID, model.TradePending, model.TradeCancelled); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := s.MarkTradeFilled(ctx, tr.ID, d(1), d(1)); !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("fill cancelled trade err = %v, want invalid state", err)
	}
}
