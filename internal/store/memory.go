package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lemx/clearing-engine/internal/model"
)

type resultKey struct {
	deliveryTime int64
	variant      string
}

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu         sync.RWMutex
	seq        int64
	positions  []model.Position
	results    map[resultKey]model.StoredResult
	settlement map[int64]model.SettlementState
	now        func() time.Time
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		results:    make(map[resultKey]model.StoredResult),
		settlement: make(map[int64]model.SettlementState),
		now:        time.Now,
	}
}

func (s *MemoryStore) InsertPosition(_ context.Context, p *model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.positions {
		if p.ID != "" && existing.ID == p.ID {
			return fmt.Errorf("position %s already exists", p.ID)
		}
	}

	s.seq++
	p.Seq = s.seq
	p.SubmittedAt = s.now().UTC()
	if p.Status == "" {
		p.Status = model.StatusOpen
	}
	s.positions = append(s.positions, *p)
	return nil
}

func (s *MemoryStore) GetOpenPositions(_ context.Context, side model.Side, deliveryTime int64) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []model.Position{}
	for _, p := range s.positions {
		if p.Side == side && p.DeliveryTime == deliveryTime && p.Status == model.StatusOpen {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Seq < result[j].Seq })
	return result, nil
}

func (s *MemoryStore) GetUserOpenQuantity(_ context.Context, userID string, side model.Side, deliveryTime int64) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total int64
	for _, p := range s.positions {
		if p.UserID == userID && p.Side == side && p.DeliveryTime == deliveryTime && p.Status == model.StatusOpen {
			total += p.Quantity
		}
	}
	return total, nil
}

func (s *MemoryStore) WriteResult(_ context.Context, r *model.StoredResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.settlement[r.DeliveryTime].Status == model.SettlementSettled {
		return fmt.Errorf("%w: %d", ErrSettled, r.DeliveryTime)
	}
	s.results[resultKey{r.DeliveryTime, r.Variant}] = *r
	return nil
}

func (s *MemoryStore) GetResult(_ context.Context, deliveryTime int64, variant string) (*model.StoredResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.results[resultKey{deliveryTime, variant}]
	if !ok {
		return nil, fmt.Errorf("%w: result %d/%s", ErrNotFound, deliveryTime, variant)
	}
	return &r, nil
}

func (s *MemoryStore) GetSettlementState(_ context.Context, deliveryTime int64) (*model.SettlementState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.settlement[deliveryTime]
	if !ok {
		return nil, fmt.Errorf("%w: settlement state %d", ErrNotFound, deliveryTime)
	}
	st.Variants = append([]string(nil), st.Variants...)
	return &st, nil
}

func (s *MemoryStore) PutSettlementState(_ context.Context, st *model.SettlementState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to avoid external mutation.
	c := *st
	c.Variants = append([]string(nil), st.Variants...)
	s.settlement[st.DeliveryTime] = c
	return nil
}
