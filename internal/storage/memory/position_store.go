package memory

import (
	"context"
	"sort"
	"sync"

	"copytrade-engine/internal/domain"
	"copytrade-engine/internal/storage"
)

// PositionStore is an in-memory implementation of storage.PositionStore.
type PositionStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Position // keyed by position_id
}

// NewPositionStore creates a new in-memory position store.
func NewPositionStore() *PositionStore {
	return &PositionStore{
		data: make(map[string]*domain.Position),
	}
}

// Insert adds a new position. Returns ErrDuplicateKey if position_id exists.
func (s *PositionStore) Insert(_ context.Context, p *domain.Position) error {
	if p == nil || p.PositionID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[p.PositionID]; exists {
		return storage.ErrDuplicateKey
	}

	s.data[p.PositionID] = clonePosition(p)
	return nil
}

// Update replaces an existing position. Returns ErrNotFound if not exists.
func (s *PositionStore) Update(_ context.Context, p *domain.Position) error {
	if p == nil || p.PositionID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[p.PositionID]; !exists {
		return storage.ErrNotFound
	}

	s.data[p.PositionID] = clonePosition(p)
	return nil
}

// GetByID retrieves a position by its ID. Returns ErrNotFound if not exists.
func (s *PositionStore) GetByID(_ context.Context, positionID string) (*domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, exists := s.data[positionID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return clonePosition(p), nil
}

// GetOpen retrieves positions still awaiting an exit decision, ordered by
// entry time ASC.
func (s *PositionStore) GetOpen(_ context.Context) ([]*domain.Position, error) {
	return s.collect(func(p *domain.Position) bool { return p.Open() }), nil
}

// GetByStatus retrieves positions in a given status, ordered by entry time ASC.
func (s *PositionStore) GetByStatus(_ context.Context, status domain.PositionStatus) ([]*domain.Position, error) {
	return s.collect(func(p *domain.Position) bool { return p.Status == status }), nil
}

// GetByTimeRange retrieves positions entered within [start, end] (inclusive),
// ordered by entry time ASC.
func (s *PositionStore) GetByTimeRange(_ context.Context, start, end int64) ([]*domain.Position, error) {
	return s.collect(func(p *domain.Position) bool {
		return p.EntryTimeMs >= start && p.EntryTimeMs <= end
	}), nil
}

func (s *PositionStore) collect(match func(*domain.Position) bool) []*domain.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Position
	for _, p := range s.data {
		if match(p) {
			result = append(result, clonePosition(p))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].EntryTimeMs != result[j].EntryTimeMs {
			return result[i].EntryTimeMs < result[j].EntryTimeMs
		}
		return result[i].PositionID < result[j].PositionID
	})
	return result
}

func clonePosition(p *domain.Position) *domain.Position {
	cp := *p
	if p.ExitPrice != nil {
		v := *p.ExitPrice
		cp.ExitPrice = &v
	}
	if p.ExitTimeMs != nil {
		v := *p.ExitTimeMs
		cp.ExitTimeMs = &v
	}
	if p.ProfitLossPct != nil {
		v := *p.ProfitLossPct
		cp.ProfitLossPct = &v
	}
	cp.ToleranceRules.Increases = append([]domain.ToleranceBand(nil), p.ToleranceRules.Increases...)
	if p.ValidatorLog != nil {
		vl := *p.ValidatorLog
		cp.ValidatorLog = &vl
	}
	return &cp
}

var _ storage.PositionStore = (*PositionStore)(nil)
