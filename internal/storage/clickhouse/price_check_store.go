package clickhouse

import (
	"context"
	"fmt"

	"copytrade-engine/internal/domain"
	"copytrade-engine/internal/storage"
)

// PriceCheckStore implements storage.PriceCheckStore using ClickHouse.
// It is the long-term archive of evaluation trails behind the Postgres
// durable store; analytical queries over many positions read from here.
type PriceCheckStore struct {
	conn *Conn
}

// NewPriceCheckStore creates a new PriceCheckStore.
func NewPriceCheckStore(conn *Conn) *PriceCheckStore {
	return &PriceCheckStore{conn: conn}
}

// Compile-time interface check.
var _ storage.PriceCheckStore = (*PriceCheckStore)(nil)

// Insert adds a single check.
func (s *PriceCheckStore) Insert(ctx context.Context, c *domain.PriceCheck) error {
	return s.InsertBulk(ctx, []*domain.PriceCheck{c})
}

// InsertBulk adds multiple checks. Fails the entire batch on a duplicate
// check_id.
func (s *PriceCheckStore) InsertBulk(ctx context.Context, checks []*domain.PriceCheck) error {
	if len(checks) == 0 {
		return nil
	}

	// Check for intra-batch duplicates
	seen := make(map[string]struct{})
	for _, c := range checks {
		if _, exists := seen[c.CheckID]; exists {
			return storage.ErrDuplicateKey
		}
		seen[c.CheckID] = struct{}{}
	}

	// Check for duplicates against existing rows. MergeTree does not enforce
	// uniqueness at insert time.
	for _, c := range checks {
		exists, err := s.exists(ctx, c.CheckID)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		if exists {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO price_checks (check_id, position_id, checked_at,
			current_price, entry_price, highest_price_so_far, reference_price,
			gain_from_entry, drop_from_high, tolerance_applied, basis,
			should_sell, would_sell, is_backfill)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, c := range checks {
		err := batch.Append(
			c.CheckID, c.PositionID, uint64(c.CheckedAt),
			c.CurrentPrice, c.EntryPrice, c.HighestPriceSoFar, c.ReferencePrice,
			c.GainFromEntry, c.DropFromHigh, c.ToleranceApplied, string(c.Basis),
			c.ShouldSell, c.WouldSell, c.IsBackfill,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetByPositionID retrieves all checks for a position, ordered by checked_at
// ASC with live checks before backfilled ones on ties.
func (s *PriceCheckStore) GetByPositionID(ctx context.Context, positionID string) ([]*domain.PriceCheck, error) {
	query := `
		SELECT check_id, position_id, checked_at,
			current_price, entry_price, highest_price_so_far, reference_price,
			gain_from_entry, drop_from_high, tolerance_applied, basis,
			should_sell, would_sell, is_backfill
		FROM price_checks
		WHERE position_id = ?
		ORDER BY checked_at ASC, is_backfill ASC, check_id ASC
	`

	rows, err := s.conn.Query(ctx, query, positionID)
	if err != nil {
		return nil, fmt.Errorf("query by position id: %w", err)
	}
	defer rows.Close()

	return scanPriceChecks(rows)
}

// exists checks if a check with the given ID exists.
func (s *PriceCheckStore) exists(ctx context.Context, checkID string) (bool, error) {
	query := `
		SELECT count(*) FROM price_checks
		WHERE check_id = ?
	`

	var count uint64
	err := s.conn.QueryRow(ctx, query, checkID).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// scanPriceChecks scans multiple rows.
func scanPriceChecks(rows chRows) ([]*domain.PriceCheck, error) {
	var checks []*domain.PriceCheck

	for rows.Next() {
		var c domain.PriceCheck
		var checkedAt uint64
		var basis string

		err := rows.Scan(
			&c.CheckID, &c.PositionID, &checkedAt,
			&c.CurrentPrice, &c.EntryPrice, &c.HighestPriceSoFar, &c.ReferencePrice,
			&c.GainFromEntry, &c.DropFromHigh, &c.ToleranceApplied, &basis,
			&c.ShouldSell, &c.WouldSell, &c.IsBackfill,
		)
		if err != nil {
			return nil, fmt.Errorf("scan price check row: %w", err)
		}

		c.CheckedAt = int64(checkedAt)
		c.Basis = domain.Basis(basis)
		checks = append(checks, &c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate price check rows: %w", err)
	}

	return checks, nil
}
