package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"copytrade-engine/internal/domain"
	"copytrade-engine/internal/storage"
)

// TradeEventStore implements storage.TradeEventStore using PostgreSQL.
type TradeEventStore struct {
	pool *Pool
}

// NewTradeEventStore creates a new TradeEventStore.
func NewTradeEventStore(pool *Pool) *TradeEventStore {
	return &TradeEventStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TradeEventStore = (*TradeEventStore)(nil)

const tradeEventColumns = `
	signature, wallet, timestamp_ms, instrument, amount, direction, perp_direction
`

// Insert adds a new trade event. Returns ErrDuplicateKey if the signature
// was already recorded.
func (s *TradeEventStore) Insert(ctx context.Context, e *domain.TradeEvent) error {
	if e == nil || e.Signature == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO trade_events (` + tradeEventColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := s.pool.Exec(ctx, query,
		e.Signature, e.Wallet, e.TimestampMs, e.Instrument, e.Amount, e.Direction, e.PerpDirection,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert trade event: %w", err)
	}
	return nil
}

// GetByWallet retrieves all events for a wallet, ordered by timestamp ASC.
func (s *TradeEventStore) GetByWallet(ctx context.Context, wallet string) ([]*domain.TradeEvent, error) {
	query := `
		SELECT ` + tradeEventColumns + `
		FROM trade_events
		WHERE wallet = $1
		ORDER BY timestamp_ms ASC, signature ASC
	`

	rows, err := s.pool.Query(ctx, query, wallet)
	if err != nil {
		return nil, fmt.Errorf("get trade events by wallet: %w", err)
	}
	defer rows.Close()

	return scanTradeEvents(rows)
}

// GetByTimeRange retrieves events within [start, end] (inclusive), ordered by
// timestamp ASC.
func (s *TradeEventStore) GetByTimeRange(ctx context.Context, start, end int64) ([]*domain.TradeEvent, error) {
	query := `
		SELECT ` + tradeEventColumns + `
		FROM trade_events
		WHERE timestamp_ms >= $1 AND timestamp_ms <= $2
		ORDER BY timestamp_ms ASC, signature ASC
	`

	rows, err := s.pool.Query(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("get trade events by time range: %w", err)
	}
	defer rows.Close()

	return scanTradeEvents(rows)
}

// scanTradeEvents scans multiple rows into a slice of TradeEvent.
func scanTradeEvents(rows pgx.Rows) ([]*domain.TradeEvent, error) {
	var events []*domain.TradeEvent

	for rows.Next() {
		var e domain.TradeEvent
		err := rows.Scan(
			&e.Signature, &e.Wallet, &e.TimestampMs, &e.Instrument, &e.Amount, &e.Direction, &e.PerpDirection,
		)
		if err != nil {
			return nil, fmt.Errorf("scan trade event row: %w", err)
		}
		events = append(events, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trade event rows: %w", err)
	}

	return events, nil
}
