package filters

import (
	"fmt"
	"sync/atomic"

	"copytrade-engine/internal/domain"
)

// ConfigStore holds the live filter configuration and hands out atomic
// snapshots. A filter toggle mid-evaluation must never produce a
// partially-old/partially-new rule set for a single decision, so readers
// take the whole published slice at once and the writer replaces it
// wholesale.
type ConfigStore struct {
	current atomic.Pointer[[]domain.FilterProject]
}

// NewConfigStore creates a store with an empty configuration.
func NewConfigStore() *ConfigStore {
	s := &ConfigStore{}
	empty := []domain.FilterProject{}
	s.current.Store(&empty)
	return s
}

// Replace validates and publishes a new configuration. The previous
// snapshot stays valid for evaluations already in flight.
func (s *ConfigStore) Replace(projects []domain.FilterProject) error {
	for i := range projects {
		if err := ValidateProject(&projects[i]); err != nil {
			return err
		}
	}
	cp := make([]domain.FilterProject, len(projects))
	copy(cp, projects)
	s.current.Store(&cp)
	return nil
}

// Snapshot returns the currently published configuration. The caller must
// treat the result as immutable.
func (s *ConfigStore) Snapshot() []domain.FilterProject {
	return *s.current.Load()
}

// ValidateProject checks rule-level invariants on configuration writes.
func ValidateProject(p *domain.FilterProject) error {
	if p.ProjectID == "" {
		return fmt.Errorf("filter project %q: missing project id", p.Name)
	}
	for _, r := range p.Rules {
		if r.MinuteOffset < 0 || r.MinuteOffset > domain.MaxMinuteOffset {
			return fmt.Errorf("rule %s: minute offset %d out of range [0, %d]",
				r.RuleID, r.MinuteOffset, domain.MaxMinuteOffset)
		}
		switch r.FieldType {
		case domain.FieldNumeric:
		case domain.FieldBoolean:
			if r.FromValue == nil || r.ToValue == nil || *r.FromValue != *r.ToValue ||
				(*r.FromValue != 0 && *r.FromValue != 1) {
				return fmt.Errorf("rule %s: boolean rule requires from_value == to_value in {0, 1}", r.RuleID)
			}
		default:
			return fmt.Errorf("rule %s: unknown field type %q", r.RuleID, r.FieldType)
		}
	}
	return nil
}
