package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/imanuelcio/be-moodswing-sub000/internal/domain"
	"github.com/imanuelcio/be-moodswing-sub000/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func newService() (*Service, *store.MemoryStore) {
	st := store.NewMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(st, logger), st
}

func TestApplyFillCreatesPosition(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	pos, err := svc.ApplyFill(ctx, Fill{
		UserID:    "u1",
		MarketID:  "m1",
		OutcomeID: "o-yes",
		Quantity:  d(20),
		Price:     d(0.5),
		IsPoints:  true,
	})
	if err != nil {
		t.Fatalf("ApplyFill: %v", err)
	}
	if pos.ID == "" {
		t.Error("expected a generated position ID")
	}
	if !pos.Quantity.Equal(d(20)) {
		t.Errorf("quantity = %s, want 20", pos.Quantity)
	}
	if !pos.TokenQuantity.IsZero() {
		t.Errorf("token quantity = %s, want 0", pos.TokenQuantity)
	}
	if !pos.AvgPrice.Equal(d(0.5)) {
		t.Errorf("avg price = %s, want 0.5", pos.AvgPrice)
	}
}

func TestApplyFillWeightedAverage(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	// 10 shares at 0.40, then 30 shares at 0.60:
	// avg = (10*0.40 + 30*0.60) / 40 = 0.55
	if _, err := svc.ApplyFill(ctx, Fill{
		UserID: "u1", MarketID: "m1", OutcomeID: "o-yes",
		Quantity: d(10), Price: d(0.40), IsPoints: true,
	}); err != nil {
		t.Fatalf("first fill: %v", err)
	}
	pos, err := svc.ApplyFill(ctx, Fill{
		UserID: "u1", MarketID: "m1", OutcomeID: "o-yes",
		Quantity: d(30), Price: d(0.60), IsPoints: true,
	})
	if err != nil {
		t.Fatalf("second fill: %v", err)
	}
	if !pos.Quantity.Equal(d(40)) {
		t.Errorf("quantity = %s, want 40", pos.Quantity)
	}
	if !pos.AvgPrice.Equal(d(0.55)) {
		t.Errorf("avg price = %s, want 0.55", pos.AvgPrice)
	}
}

func TestApplyFillSeparatesStakeUnits(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	if _, err := svc.ApplyFill(ctx, Fill{
		UserID: "u1", MarketID: "m1", OutcomeID: "o-yes",
		Quantity: d(10), Price: d(0.5), IsPoints: true,
	}); err != nil {
		t.Fatalf("points fill: %v", err)
	}
	pos, err := svc.ApplyFill(ctx, Fill{
		UserID: "u1", MarketID: "m1", OutcomeID: "o-yes",
		Quantity: d(5), Price: d(0.5), IsPoints: false,
	})
	if err != nil {
		t.Fatalf("token fill: %v", err)
	}
	if !pos.Quantity.Equal(d(10)) || !pos.TokenQuantity.Equal(d(5)) {
		t.Errorf("quantities = %s / %s, want 10 / 5", pos.Quantity, pos.TokenQuantity)
	}
}

func TestApplyFillRejectsBadInput(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	cases := []struct {
		name string
		fill Fill
	}{
		{"zero quantity", Fill{UserID: "u1", MarketID: "m1", OutcomeID: "o", Quantity: d(0), Price: d(0.5)}},
		{"negative quantity", Fill{UserID: "u1", MarketID: "m1", OutcomeID: "o", Quantity: d(-1), Price: d(0.5)}},
		{"zero price", Fill{UserID: "u1", MarketID: "m1", OutcomeID: "o", Quantity: d(1), Price: d(0)}},
		{"price of one", Fill{UserID: "u1", MarketID: "m1", OutcomeID: "o", Quantity: d(1), Price: d(1)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.ApplyFill(ctx, tc.fill); !errors.Is(err, domain.ErrValidation) {
				t.Errorf("err = %v, want validation error", err)
			}
		})
	}
}

func TestGetUnknownPosition(t *testing.T) {
	svc, _ := newService()
	_, err := svc.Get(context.Background(), "u1", "m1", "o-yes")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("err = %v, want not found", err)
	}
}

func TestLiquidateZeroesLosers(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	if _, err := svc.ApplyFill(ctx, Fill{
		UserID: "u1", MarketID: "m1", OutcomeID: "o-no",
		Quantity: d(15), Price: d(0.5), IsPoints: true,
	}); err != nil {
		t.Fatalf("fill: %v", err)
	}

	n, err := svc.Liquidate(ctx, "m1", "o-no")
	if err != nil {
		t.Fatalf("Liquidate: %v", err)
	}
	if n != 1 {
		t.Fatalf("liquidated = %d, want 1", n)
	}

	pos, err := svc.Get(ctx, "u1", "m1", "o-no")
	if err != nil {
		t.Fatalf("Get after liquidate: %v", err)
	}
	if !pos.Quantity.IsZero() || !pos.TokenQuantity.IsZero() {
		t.Errorf("quantities = %s / %s, want both zero", pos.Quantity, pos.TokenQuantity)
	}
	if pos.SettledAt == nil {
		t.Error("expected settled_at to be set")
	}

	// Second run touches nothing.
	n, err = svc.Liquidate(ctx, "m1", "o-no")
	if err != nil {
		t.Fatalf("second Liquidate: %v", err)
	}
	if n != 0 {
		t.Errorf("second liquidation affected %d positions, want 0", n)
	}
}

func TestListForMarketPagination(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	for _, user := range []string{"u1", "u2", "u3", "u4", "u5"} {
		if _, err := svc.ApplyFill(ctx, Fill{
			UserID: user, MarketID: "m1", OutcomeID: "o-yes",
			Quantity: d(1), Price: d(0.5), IsPoints: true,
		}); err != nil {
			t.Fatalf("fill for %s: %v", user, err)
		}
	}

	seen := map[string]bool{}
	cursor := ""
	pages := 0
	for {
		batch, next, err := svc.ListForMarket(ctx, "m1", cursor, 2)
		if err != nil {
			t.Fatalf("ListForMarket: %v", err)
		}
		pages++
		for _, p := range batch {
			if seen[p.ID] {
				t.Fatalf("position %s returned twice", p.ID)
			}
			seen[p.ID] = true
		}
		if next == "" {
			break
		}
		cursor = next
	}
	if len(seen) != 5 {
		t.Errorf("saw %d positions, want 5", len(seen))
	}
	if pages != 3 {
		t.Errorf("took %d pages, want 3", pages)
	}
}

func TestListForMarketRejectsBadLimit(t *testing.T) {
	svc, _ := newService()
	if _, _, err := svc.ListForMarket(context.Background(), "m1", "", 0); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("err = %v, want validation error", err)
	}
}
