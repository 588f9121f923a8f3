package memory

import (
	"context"
	"sort"
	"sync"

	"copytrade-engine/internal/domain"
	"copytrade-engine/internal/storage"
)

// FilterProjectStore is an in-memory implementation of
// storage.FilterProjectStore.
type FilterProjectStore struct {
	mu       sync.RWMutex
	projects []domain.FilterProject
}

// NewFilterProjectStore creates a new in-memory filter project store.
func NewFilterProjectStore() *FilterProjectStore {
	return &FilterProjectStore{}
}

// ReplaceAll swaps the stored configuration for the given set.
func (s *FilterProjectStore) ReplaceAll(_ context.Context, projects []domain.FilterProject) error {
	cp := make([]domain.FilterProject, len(projects))
	for i, p := range projects {
		cp[i] = p
		cp[i].Rules = append([]domain.FilterRule(nil), p.Rules...)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects = cp
	return nil
}

// GetAll retrieves every stored project, ordered by project_id ASC.
func (s *FilterProjectStore) GetAll(_ context.Context) ([]domain.FilterProject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.FilterProject, len(s.projects))
	for i, p := range s.projects {
		result[i] = p
		result[i].Rules = append([]domain.FilterRule(nil), p.Rules...)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ProjectID < result[j].ProjectID
	})
	return result, nil
}

var _ storage.FilterProjectStore = (*FilterProjectStore)(nil)
