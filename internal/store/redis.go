package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/imanuelcio/be-moodswing-sub000/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for hot market and reserve reads. Writes go to the primary store
// and invalidate the cache, so a reader always observes its own writes.
// Balances, positions, trades, and resolutions are never cached: the core
// requires authoritative reads for those.
type CachedStore struct {
	Store
	rdb *redis.Client
	ttl time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		Store: primary,
		rdb:   rdb,
		ttl:   ttl,
	}
}

func marketKey(id string) string   { return fmt.Sprintf("market:%s", id) }
func reservesKey(id string) string { return fmt.Sprintf("reserves:%s", id) }

// --- Read-through ---

func (s *CachedStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	data, err := s.rdb.Get(ctx, marketKey(id)).Bytes()
	if err == nil {
		var m model.Market
		if json.Unmarshal(data, &m) == nil {
			return &m, nil
		}
	}

	m, err := s.Store.GetMarket(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheJSON(ctx, marketKey(id), m)
	return m, nil
}

func (s *CachedStore) GetReserves(ctx context.Context, marketID string) (*model.Reserves, error) {
	data, err := s.rdb.Get(ctx, reservesKey(marketID)).Bytes()
	if err == nil {
		var r model.Reserves
		if json.Unmarshal(data, &r) == nil {
			return &r, nil
		}
	}

	r, err := s.Store.GetReserves(ctx, marketID)
	if err != nil {
		return nil, err
	}
	s.cacheJSON(ctx, reservesKey(marketID), r)
	return r, nil
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateMarket(ctx context.Context, m *model.Market, r *model.Reserves) error {
	if err := s.Store.CreateMarket(ctx, m, r); err != nil {
		return err
	}
	s.cacheJSON(ctx, marketKey(m.ID), m)
	s.cacheJSON(ctx, reservesKey(r.MarketID), r)
	return nil
}

func (s *CachedStore) UpdateMarketStatus(ctx context.Context, id, from, to string) error {
	if err := s.Store.UpdateMarketStatus(ctx, id, from, to); err != nil {
		return err
	}
	s.rdb.Del(ctx, marketKey(id))
	return nil
}

func (s *CachedStore) UpdateReserves(ctx context.Context, marketID string, oldYes, oldNo, newYes, newNo decimal.Decimal) error {
	if err := s.Store.UpdateReserves(ctx, marketID, oldYes, oldNo, newYes, newNo); err != nil {
		return err
	}
	s.rdb.Del(ctx, reservesKey(marketID))
	return nil
}

func (s *CachedStore) CreateResolution(ctx context.Context, r *model.Resolution) error {
	if err := s.Store.CreateResolution(ctx, r); err != nil {
		return err
	}
	s.rdb.Del(ctx, marketKey(r.MarketID))
	return nil
}

func (s *CachedStore) cacheJSON(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}
