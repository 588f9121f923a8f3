package clickhouse

import (
	"context"
	"fmt"

	"copytrade-engine/internal/domain"
	"copytrade-engine/internal/storage"
)

// PricePointStore implements storage.PricePointStore using ClickHouse.
// It is the long-term tick archive behind the in-memory hot window; backfill
// and replay read from here.
type PricePointStore struct {
	conn *Conn
}

// NewPricePointStore creates a new PricePointStore.
func NewPricePointStore(conn *Conn) *PricePointStore {
	return &PricePointStore{conn: conn}
}

// Compile-time interface check.
var _ storage.PricePointStore = (*PricePointStore)(nil)

// InsertBulk adds multiple points. Fails entire batch on duplicate
// (instrument, timestamp_ms).
func (s *PricePointStore) InsertBulk(ctx context.Context, points []*domain.PricePoint) error {
	if len(points) == 0 {
		return nil
	}

	// Check for intra-batch duplicates
	type key struct {
		instrument  string
		timestampMs int64
	}
	seen := make(map[key]struct{})
	for _, p := range points {
		k := key{p.Instrument, p.TimestampMs}
		if _, exists := seen[k]; exists {
			return storage.ErrDuplicateKey
		}
		seen[k] = struct{}{}
	}

	// Check for duplicates against existing rows. MergeTree does not enforce
	// uniqueness at insert time.
	for _, p := range points {
		exists, err := s.exists(ctx, p.Instrument, p.TimestampMs)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		if exists {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO price_points (instrument, timestamp_ms, price)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, p := range points {
		if err := batch.Append(p.Instrument, uint64(p.TimestampMs), p.Price); err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetByTimeRange retrieves points for an instrument within [start, end]
// (inclusive), ordered by timestamp ASC.
func (s *PricePointStore) GetByTimeRange(ctx context.Context, instrument string, start, end int64) ([]*domain.PricePoint, error) {
	query := `
		SELECT instrument, timestamp_ms, price
		FROM price_points
		WHERE instrument = ? AND timestamp_ms >= ? AND timestamp_ms <= ?
		ORDER BY timestamp_ms ASC
	`

	rows, err := s.conn.Query(ctx, query, instrument, uint64(start), uint64(end))
	if err != nil {
		return nil, fmt.Errorf("query by time range: %w", err)
	}
	defer rows.Close()

	return scanPricePoints(rows)
}

// Latest retrieves the most recent point for an instrument.
func (s *PricePointStore) Latest(ctx context.Context, instrument string) (*domain.PricePoint, error) {
	query := `
		SELECT instrument, timestamp_ms, price
		FROM price_points
		WHERE instrument = ?
		ORDER BY timestamp_ms DESC
		LIMIT 1
	`

	rows, err := s.conn.Query(ctx, query, instrument)
	if err != nil {
		return nil, fmt.Errorf("query latest point: %w", err)
	}
	defer rows.Close()

	points, err := scanPricePoints(rows)
	if err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return nil, storage.ErrNotFound
	}
	return points[0], nil
}

// exists checks if a point with the given key exists.
func (s *PricePointStore) exists(ctx context.Context, instrument string, timestampMs int64) (bool, error) {
	query := `
		SELECT count(*) FROM price_points
		WHERE instrument = ? AND timestamp_ms = ?
	`

	var count uint64
	err := s.conn.QueryRow(ctx, query, instrument, uint64(timestampMs)).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// scanPricePoints scans multiple rows.
func scanPricePoints(rows chRows) ([]*domain.PricePoint, error) {
	var points []*domain.PricePoint

	for rows.Next() {
		var p domain.PricePoint
		var timestampMs uint64

		if err := rows.Scan(&p.Instrument, &timestampMs, &p.Price); err != nil {
			return nil, fmt.Errorf("scan price point row: %w", err)
		}

		p.TimestampMs = int64(timestampMs)
		points = append(points, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate price point rows: %w", err)
	}

	return points, nil
}
