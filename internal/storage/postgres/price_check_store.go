package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"copytrade-engine/internal/domain"
	"copytrade-engine/internal/storage"
)

// PriceCheckStore implements storage.PriceCheckStore using PostgreSQL.
type PriceCheckStore struct {
	pool *Pool
}

// NewPriceCheckStore creates a new PriceCheckStore.
func NewPriceCheckStore(pool *Pool) *PriceCheckStore {
	return &PriceCheckStore{pool: pool}
}

// Compile-time interface check.
var _ storage.PriceCheckStore = (*PriceCheckStore)(nil)

const checkColumns = `
	check_id, position_id, checked_at,
	current_price, entry_price, highest_price_so_far, reference_price,
	gain_from_entry, drop_from_high, tolerance_applied,
	basis, should_sell, would_sell, is_backfill
`

const insertCheckQuery = `
	INSERT INTO price_checks (` + checkColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
`

// Insert adds a new check. Returns ErrDuplicateKey if check_id exists.
func (s *PriceCheckStore) Insert(ctx context.Context, c *domain.PriceCheck) error {
	if c == nil || c.CheckID == "" {
		return storage.ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx, insertCheckQuery, checkArgs(c)...)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert price check: %w", err)
	}
	return nil
}

// InsertBulk adds multiple checks atomically. Fails entire batch on any
// duplicate.
func (s *PriceCheckStore) InsertBulk(ctx context.Context, checks []*domain.PriceCheck) error {
	if len(checks) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, c := range checks {
		if c == nil || c.CheckID == "" {
			return storage.ErrInvalidInput
		}
		if _, err := tx.Exec(ctx, insertCheckQuery, checkArgs(c)...); err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert price check in bulk: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// GetByPositionID retrieves all checks for a position, ordered by checked_at
// ASC with live checks before backfilled ones on ties.
func (s *PriceCheckStore) GetByPositionID(ctx context.Context, positionID string) ([]*domain.PriceCheck, error) {
	query := `
		SELECT ` + checkColumns + `
		FROM price_checks
		WHERE position_id = $1
		ORDER BY checked_at ASC, is_backfill ASC, check_id ASC
	`

	rows, err := s.pool.Query(ctx, query, positionID)
	if err != nil {
		return nil, fmt.Errorf("get price checks by position id: %w", err)
	}
	defer rows.Close()

	return scanChecks(rows)
}

func checkArgs(c *domain.PriceCheck) []any {
	return []any{
		c.CheckID, c.PositionID, c.CheckedAt,
		c.CurrentPrice, c.EntryPrice, c.HighestPriceSoFar, c.ReferencePrice,
		c.GainFromEntry, c.DropFromHigh, c.ToleranceApplied,
		c.Basis, c.ShouldSell, c.WouldSell, c.IsBackfill,
	}
}

// scanChecks scans multiple rows into a slice of PriceCheck.
func scanChecks(rows pgx.Rows) ([]*domain.PriceCheck, error) {
	var checks []*domain.PriceCheck

	for rows.Next() {
		var c domain.PriceCheck
		err := rows.Scan(
			&c.CheckID, &c.PositionID, &c.CheckedAt,
			&c.CurrentPrice, &c.EntryPrice, &c.HighestPriceSoFar, &c.ReferencePrice,
			&c.GainFromEntry, &c.DropFromHigh, &c.ToleranceApplied,
			&c.Basis, &c.ShouldSell, &c.WouldSell, &c.IsBackfill,
		)
		if err != nil {
			return nil, fmt.Errorf("scan price check row: %w", err)
		}
		checks = append(checks, &c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate price check rows: %w", err)
	}

	return checks, nil
}
