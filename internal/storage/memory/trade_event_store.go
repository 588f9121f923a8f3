package memory

import (
	"context"
	"sort"
	"sync"

	"copytrade-engine/internal/domain"
	"copytrade-engine/internal/storage"
)

// TradeEventStore is an in-memory implementation of storage.TradeEventStore.
type TradeEventStore struct {
	mu   sync.RWMutex
	data map[string]*domain.TradeEvent // keyed by signature
}

// NewTradeEventStore creates a new in-memory trade event store.
func NewTradeEventStore() *TradeEventStore {
	return &TradeEventStore{
		data: make(map[string]*domain.TradeEvent),
	}
}

// Insert adds a new trade event. Returns ErrDuplicateKey if the signature
// was already recorded.
func (s *TradeEventStore) Insert(_ context.Context, e *domain.TradeEvent) error {
	if e == nil || e.Signature == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[e.Signature]; exists {
		return storage.ErrDuplicateKey
	}

	cp := *e
	s.data[e.Signature] = &cp
	return nil
}

// GetByWallet retrieves all events for a wallet, ordered by timestamp ASC.
func (s *TradeEventStore) GetByWallet(_ context.Context, wallet string) ([]*domain.TradeEvent, error) {
	return s.collect(func(e *domain.TradeEvent) bool { return e.Wallet == wallet }), nil
}

// GetByTimeRange retrieves events within [start, end] (inclusive), ordered
// by timestamp ASC.
func (s *TradeEventStore) GetByTimeRange(_ context.Context, start, end int64) ([]*domain.TradeEvent, error) {
	return s.collect(func(e *domain.TradeEvent) bool {
		return e.TimestampMs >= start && e.TimestampMs <= end
	}), nil
}

func (s *TradeEventStore) collect(match func(*domain.TradeEvent) bool) []*domain.TradeEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.TradeEvent
	for _, e := range s.data {
		if match(e) {
			cp := *e
			result = append(result, &cp)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].TimestampMs != result[j].TimestampMs {
			return result[i].TimestampMs < result[j].TimestampMs
		}
		return result[i].Signature < result[j].Signature
	})
	return result
}

var _ storage.TradeEventStore = (*TradeEventStore)(nil)
