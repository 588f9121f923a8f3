package memory

import (
	"context"
	"sort"
	"sync"

	"copytrade-engine/internal/domain"
	"copytrade-engine/internal/storage"
)

// PriceCheckStore is an in-memory implementation of storage.PriceCheckStore.
type PriceCheckStore struct {
	mu   sync.RWMutex
	data map[string]*domain.PriceCheck // keyed by check_id
}

// NewPriceCheckStore creates a new in-memory price check store.
func NewPriceCheckStore() *PriceCheckStore {
	return &PriceCheckStore{
		data: make(map[string]*domain.PriceCheck),
	}
}

// Insert adds a new check. Returns ErrDuplicateKey if check_id exists.
func (s *PriceCheckStore) Insert(_ context.Context, c *domain.PriceCheck) error {
	if c == nil || c.CheckID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[c.CheckID]; exists {
		return storage.ErrDuplicateKey
	}

	cp := *c
	s.data[c.CheckID] = &cp
	return nil
}

// InsertBulk adds multiple checks atomically. Fails entire batch on any
// duplicate.
func (s *PriceCheckStore) InsertBulk(_ context.Context, checks []*domain.PriceCheck) error {
	if len(checks) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[string]struct{}, len(checks))
	for _, c := range checks {
		if c == nil || c.CheckID == "" {
			return storage.ErrInvalidInput
		}
		if _, exists := s.data[c.CheckID]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[c.CheckID]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[c.CheckID] = struct{}{}
	}

	for _, c := range checks {
		cp := *c
		s.data[c.CheckID] = &cp
	}
	return nil
}

// GetByPositionID retrieves all checks for a position, ordered by checked_at
// ASC with live checks before backfilled ones on ties.
func (s *PriceCheckStore) GetByPositionID(_ context.Context, positionID string) ([]*domain.PriceCheck, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.PriceCheck
	for _, c := range s.data {
		if c.PositionID == positionID {
			cp := *c
			result = append(result, &cp)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CheckedAt != result[j].CheckedAt {
			return result[i].CheckedAt < result[j].CheckedAt
		}
		if result[i].IsBackfill != result[j].IsBackfill {
			return !result[i].IsBackfill
		}
		return result[i].CheckID < result[j].CheckID
	})
	return result, nil
}

var _ storage.PriceCheckStore = (*PriceCheckStore)(nil)
