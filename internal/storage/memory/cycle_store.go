package memory

import (
	"context"
	"sort"
	"sync"

	"copytrade-engine/internal/domain"
	"copytrade-engine/internal/storage"
)

// CycleStore is an in-memory implementation of storage.CycleStore.
type CycleStore struct {
	mu   sync.RWMutex
	data map[string]*domain.PriceCycle // keyed by cycle_id
}

// NewCycleStore creates a new in-memory cycle store.
func NewCycleStore() *CycleStore {
	return &CycleStore{
		data: make(map[string]*domain.PriceCycle),
	}
}

// Insert adds a closed cycle. Returns ErrDuplicateKey if cycle_id exists,
// ErrInvalidInput if the cycle is still active.
func (s *CycleStore) Insert(_ context.Context, c *domain.PriceCycle) error {
	if c == nil || c.CycleID == "" {
		return storage.ErrInvalidInput
	}
	if c.Active() {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[c.CycleID]; exists {
		return storage.ErrDuplicateKey
	}

	cp := cloneCycle(c)
	s.data[c.CycleID] = cp
	return nil
}

// GetByID retrieves a cycle by its ID. Returns ErrNotFound if not exists.
func (s *CycleStore) GetByID(_ context.Context, cycleID string) (*domain.PriceCycle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, exists := s.data[cycleID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return cloneCycle(c), nil
}

// GetByThreshold retrieves cycles for an (instrument, threshold_bps) series,
// ordered by seq ASC.
func (s *CycleStore) GetByThreshold(_ context.Context, instrument string, thresholdBps int64) ([]*domain.PriceCycle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.PriceCycle
	for _, c := range s.data {
		if c.Instrument == instrument && c.ThresholdBps == thresholdBps {
			result = append(result, cloneCycle(c))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Seq < result[j].Seq
	})
	return result, nil
}

// GetByTimeRange retrieves cycles whose start time falls within [start, end]
// (inclusive), ordered by start time ASC then cycle_id for a stable order.
func (s *CycleStore) GetByTimeRange(_ context.Context, instrument string, start, end int64) ([]*domain.PriceCycle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.PriceCycle
	for _, c := range s.data {
		if c.Instrument == instrument && c.StartTimeMs >= start && c.StartTimeMs <= end {
			result = append(result, cloneCycle(c))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].StartTimeMs != result[j].StartTimeMs {
			return result[i].StartTimeMs < result[j].StartTimeMs
		}
		return result[i].CycleID < result[j].CycleID
	})
	return result, nil
}

func cloneCycle(c *domain.PriceCycle) *domain.PriceCycle {
	cp := *c
	if c.EndTimeMs != nil {
		end := *c.EndTimeMs
		cp.EndTimeMs = &end
	}
	return &cp
}

var _ storage.CycleStore = (*CycleStore)(nil)
