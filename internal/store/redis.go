package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lemx/clearing-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary. A Redis outage only
// costs cache hits.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) InsertPosition(ctx context.Context, p *model.Position) error {
	if err := s.primary.InsertPosition(ctx, p); err != nil {
		return err
	}
	s.rdb.Del(ctx, positionsKey(p.Side, p.DeliveryTime))
	return nil
}

func (s *CachedStore) WriteResult(ctx context.Context, r *model.StoredResult) error {
	if err := s.primary.WriteResult(ctx, r); err != nil {
		return err
	}
	s.rdb.Del(ctx, resultKeyString(r.DeliveryTime, r.Variant))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetOpenPositions(ctx context.Context, side model.Side, deliveryTime int64) ([]model.Position, error) {
	key := positionsKey(side, deliveryTime)
	var positions []model.Position
	if s.get(ctx, key, &positions) {
		return positions, nil
	}

	positions, err := s.primary.GetOpenPositions(ctx, side, deliveryTime)
	if err != nil {
		return nil, err
	}
	s.set(ctx, key, positions)
	return positions, nil
}

func (s *CachedStore) GetResult(ctx context.Context, deliveryTime int64, variant string) (*model.StoredResult, error) {
	key := resultKeyString(deliveryTime, variant)
	var r model.StoredResult
	if s.get(ctx, key, &r) {
		return &r, nil
	}

	res, err := s.primary.GetResult(ctx, deliveryTime, variant)
	if err != nil {
		return nil, err
	}
	s.set(ctx, key, res)
	return res, nil
}

// --- Passthrough (not cached) ---

// GetUserOpenQuantity guards the per-user limit and must see every insert.
func (s *CachedStore) GetUserOpenQuantity(ctx context.Context, userID string, side model.Side, deliveryTime int64) (int64, error) {
	return s.primary.GetUserOpenQuantity(ctx, userID, side, deliveryTime)
}

// GetSettlementState is not cached: the runner's read-modify-write under
// its interval lock must always see the latest state.
func (s *CachedStore) GetSettlementState(ctx context.Context, deliveryTime int64) (*model.SettlementState, error) {
	return s.primary.GetSettlementState(ctx, deliveryTime)
}

func (s *CachedStore) PutSettlementState(ctx context.Context, st *model.SettlementState) error {
	return s.primary.PutSettlementState(ctx, st)
}

// --- Cache helpers ---

func (s *CachedStore) get(ctx context.Context, key string, dst any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func (s *CachedStore) set(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func positionsKey(side model.Side, ts int64) string { return fmt.Sprintf("positions:%s:%d", side, ts) }
func resultKeyString(ts int64, variant string) string { return fmt.Sprintf("result:%d:%s", ts, variant) }
