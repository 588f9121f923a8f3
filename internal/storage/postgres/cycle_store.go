package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"copytrade-engine/internal/domain"
	"copytrade-engine/internal/storage"
)

// CycleStore implements storage.CycleStore using PostgreSQL.
type CycleStore struct {
	pool *Pool
}

// NewCycleStore creates a new CycleStore.
func NewCycleStore(pool *Pool) *CycleStore {
	return &CycleStore{pool: pool}
}

// Compile-time interface check.
var _ storage.CycleStore = (*CycleStore)(nil)

const cycleColumns = `
	cycle_id, seq, instrument, threshold, threshold_bps,
	start_time_ms, end_time_ms,
	sequence_start_price, highest_price_reached, lowest_price_reached,
	max_percent_increase, max_percent_increase_from_lowest, data_point_count
`

// Insert adds a closed cycle. Returns ErrDuplicateKey if cycle_id exists,
// ErrInvalidInput if the cycle is still active.
func (s *CycleStore) Insert(ctx context.Context, c *domain.PriceCycle) error {
	if c == nil || c.CycleID == "" || c.Active() {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO price_cycles (` + cycleColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err := s.pool.Exec(ctx, query,
		c.CycleID, c.Seq, c.Instrument, c.Threshold, c.ThresholdBps,
		c.StartTimeMs, c.EndTimeMs,
		c.SequenceStartPrice, c.HighestPriceReached, c.LowestPriceReached,
		c.MaxPercentIncrease, c.MaxPercentIncreaseFromLowest, c.DataPointCount,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert price cycle: %w", err)
	}
	return nil
}

// GetByID retrieves a cycle by its ID. Returns ErrNotFound if not exists.
func (s *CycleStore) GetByID(ctx context.Context, cycleID string) (*domain.PriceCycle, error) {
	query := `SELECT ` + cycleColumns + ` FROM price_cycles WHERE cycle_id = $1`

	row := s.pool.QueryRow(ctx, query, cycleID)
	c, err := scanCycle(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get price cycle by id: %w", err)
	}
	return c, nil
}

// GetByThreshold retrieves cycles for an (instrument, threshold_bps) series,
// ordered by seq ASC.
func (s *CycleStore) GetByThreshold(ctx context.Context, instrument string, thresholdBps int64) ([]*domain.PriceCycle, error) {
	query := `
		SELECT ` + cycleColumns + `
		FROM price_cycles
		WHERE instrument = $1 AND threshold_bps = $2
		ORDER BY seq ASC
	`

	rows, err := s.pool.Query(ctx, query, instrument, thresholdBps)
	if err != nil {
		return nil, fmt.Errorf("get price cycles by threshold: %w", err)
	}
	defer rows.Close()

	return scanCycles(rows)
}

// GetByTimeRange retrieves cycles whose start time falls within [start, end]
// (inclusive), ordered by start time ASC.
func (s *CycleStore) GetByTimeRange(ctx context.Context, instrument string, start, end int64) ([]*domain.PriceCycle, error) {
	query := `
		SELECT ` + cycleColumns + `
		FROM price_cycles
		WHERE instrument = $1 AND start_time_ms >= $2 AND start_time_ms <= $3
		ORDER BY start_time_ms ASC, cycle_id ASC
	`

	rows, err := s.pool.Query(ctx, query, instrument, start, end)
	if err != nil {
		return nil, fmt.Errorf("get price cycles by time range: %w", err)
	}
	defer rows.Close()

	return scanCycles(rows)
}

// scanCycle scans a single row into a PriceCycle.
func scanCycle(row pgx.Row) (*domain.PriceCycle, error) {
	var c domain.PriceCycle

	err := row.Scan(
		&c.CycleID, &c.Seq, &c.Instrument, &c.Threshold, &c.ThresholdBps,
		&c.StartTimeMs, &c.EndTimeMs,
		&c.SequenceStartPrice, &c.HighestPriceReached, &c.LowestPriceReached,
		&c.MaxPercentIncrease, &c.MaxPercentIncreaseFromLowest, &c.DataPointCount,
	)
	if err != nil {
		return nil, err
	}

	return &c, nil
}

// scanCycles scans multiple rows into a slice of PriceCycle.
func scanCycles(rows pgx.Rows) ([]*domain.PriceCycle, error) {
	var cycles []*domain.PriceCycle

	for rows.Next() {
		c, err := scanCycle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan price cycle row: %w", err)
		}
		cycles = append(cycles, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate price cycle rows: %w", err)
	}

	return cycles, nil
}
