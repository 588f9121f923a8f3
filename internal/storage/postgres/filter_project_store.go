package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"copytrade-engine/internal/domain"
	"copytrade-engine/internal/storage"
)

// FilterProjectStore implements storage.FilterProjectStore using PostgreSQL.
// Rules are stored as a JSONB document per project; the engine reads from an
// in-memory snapshot, so this table is touched only on config changes and at
// startup.
type FilterProjectStore struct {
	pool *Pool
}

// NewFilterProjectStore creates a new FilterProjectStore.
func NewFilterProjectStore(pool *Pool) *FilterProjectStore {
	return &FilterProjectStore{pool: pool}
}

// Compile-time interface check.
var _ storage.FilterProjectStore = (*FilterProjectStore)(nil)

// ReplaceAll swaps the stored configuration for the given set.
func (s *FilterProjectStore) ReplaceAll(ctx context.Context, projects []domain.FilterProject) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM filter_projects`); err != nil {
		return fmt.Errorf("clear filter projects: %w", err)
	}

	query := `
		INSERT INTO filter_projects (project_id, name, description, rules)
		VALUES ($1, $2, $3, $4)
	`
	for _, p := range projects {
		if p.ProjectID == "" {
			return storage.ErrInvalidInput
		}
		rules, err := json.Marshal(p.Rules)
		if err != nil {
			return fmt.Errorf("marshal rules for project %s: %w", p.ProjectID, err)
		}
		if _, err := tx.Exec(ctx, query, p.ProjectID, p.Name, p.Description, rules); err != nil {
			return fmt.Errorf("insert filter project %s: %w", p.ProjectID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetAll retrieves every stored project, ordered by project_id ASC.
func (s *FilterProjectStore) GetAll(ctx context.Context) ([]domain.FilterProject, error) {
	query := `
		SELECT project_id, name, description, rules
		FROM filter_projects
		ORDER BY project_id ASC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("get filter projects: %w", err)
	}
	defer rows.Close()

	var projects []domain.FilterProject
	for rows.Next() {
		var p domain.FilterProject
		var rules []byte
		if err := rows.Scan(&p.ProjectID, &p.Name, &p.Description, &rules); err != nil {
			return nil, fmt.Errorf("scan filter project row: %w", err)
		}
		if len(rules) > 0 {
			if err := json.Unmarshal(rules, &p.Rules); err != nil {
				return nil, fmt.Errorf("unmarshal rules for project %s: %w", p.ProjectID, err)
			}
		}
		projects = append(projects, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate filter project rows: %w", err)
	}

	return projects, nil
}
