package memory

import (
	"context"
	"sort"
	"sync"

	"copytrade-engine/internal/domain"
	"copytrade-engine/internal/storage"
)

type tickKey struct {
	instrument  string
	timestampMs int64
}

// PricePointStore is an in-memory implementation of storage.PricePointStore.
type PricePointStore struct {
	mu     sync.RWMutex
	data   map[tickKey]*domain.PricePoint
	latest map[string]*domain.PricePoint
}

// NewPricePointStore creates a new in-memory price point store.
func NewPricePointStore() *PricePointStore {
	return &PricePointStore{
		data:   make(map[tickKey]*domain.PricePoint),
		latest: make(map[string]*domain.PricePoint),
	}
}

// InsertBulk adds multiple points. Fails entire batch on duplicate
// (instrument, timestamp_ms).
func (s *PricePointStore) InsertBulk(_ context.Context, points []*domain.PricePoint) error {
	if len(points) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[tickKey]struct{}, len(points))
	for _, p := range points {
		if p == nil || p.Instrument == "" {
			return storage.ErrInvalidInput
		}
		k := tickKey{p.Instrument, p.TimestampMs}
		if _, exists := s.data[k]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[k]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[k] = struct{}{}
	}

	for _, p := range points {
		cp := *p
		s.data[tickKey{p.Instrument, p.TimestampMs}] = &cp
		if cur, ok := s.latest[p.Instrument]; !ok || p.TimestampMs > cur.TimestampMs {
			s.latest[p.Instrument] = &cp
		}
	}
	return nil
}

// GetByTimeRange retrieves points for an instrument within [start, end]
// (inclusive), ordered by timestamp ASC.
func (s *PricePointStore) GetByTimeRange(_ context.Context, instrument string, start, end int64) ([]*domain.PricePoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.PricePoint
	for k, p := range s.data {
		if k.instrument == instrument && k.timestampMs >= start && k.timestampMs <= end {
			cp := *p
			result = append(result, &cp)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].TimestampMs < result[j].TimestampMs
	})
	return result, nil
}

// Latest retrieves the most recent point for an instrument.
func (s *PricePointStore) Latest(_ context.Context, instrument string) (*domain.PricePoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, exists := s.latest[instrument]
	if !exists {
		return nil, storage.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

var _ storage.PricePointStore = (*PricePointStore)(nil)
