package memory

import (
	"context"
	"sync"

	"copytrade-engine/internal/domain"
	"copytrade-engine/internal/storage"
)

// BreakerStateStore is an in-memory implementation of
// storage.BreakerStateStore. Snapshots append; Latest returns the newest by
// updated_at.
type BreakerStateStore struct {
	mu        sync.RWMutex
	snapshots []*domain.BreakerState
}

// NewBreakerStateStore creates a new in-memory breaker state store.
func NewBreakerStateStore() *BreakerStateStore {
	return &BreakerStateStore{}
}

// Save appends a snapshot.
func (s *BreakerStateStore) Save(_ context.Context, state *domain.BreakerState) error {
	if state == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *state
	cp.RecentOutcomes = append([]bool(nil), state.RecentOutcomes...)
	s.snapshots = append(s.snapshots, &cp)
	return nil
}

// Latest retrieves the most recent snapshot.
func (s *BreakerStateStore) Latest(_ context.Context) (*domain.BreakerState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.snapshots) == 0 {
		return nil, storage.ErrNotFound
	}

	newest := s.snapshots[0]
	for _, snap := range s.snapshots[1:] {
		if snap.UpdatedAtMs >= newest.UpdatedAtMs {
			newest = snap
		}
	}

	cp := *newest
	cp.RecentOutcomes = append([]bool(nil), newest.RecentOutcomes...)
	return &cp, nil
}

var _ storage.BreakerStateStore = (*BreakerStateStore)(nil)
