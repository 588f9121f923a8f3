package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"copytrade-engine/internal/domain"
	"copytrade-engine/internal/storage"
)

// PositionStore implements storage.PositionStore using PostgreSQL.
// Tolerance rules and the validator log are stored as JSONB snapshots so a
// position's entry provenance survives later configuration edits.
type PositionStore struct {
	pool *Pool
}

// NewPositionStore creates a new PositionStore.
func NewPositionStore(pool *Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

// Compile-time interface check.
var _ storage.PositionStore = (*PositionStore)(nil)

const positionColumns = `
	position_id, play_id, source, instrument,
	entry_price, entry_time_ms, status,
	exit_price, exit_time_ms, profit_loss_pct,
	highest_price_so_far, tolerance_rules, validator_log
`

// Insert adds a new position. Returns ErrDuplicateKey if position_id exists.
func (s *PositionStore) Insert(ctx context.Context, p *domain.Position) error {
	rules, validatorLog, err := marshalPositionDocs(p)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO positions (` + positionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err = s.pool.Exec(ctx, query,
		p.PositionID, p.PlayID, p.Source, p.Instrument,
		p.EntryPrice, p.EntryTimeMs, p.Status,
		p.ExitPrice, p.ExitTimeMs, p.ProfitLossPct,
		p.HighestPriceSoFar, rules, validatorLog,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert position: %w", err)
	}
	return nil
}

// Update replaces an existing position. Returns ErrNotFound if not exists.
func (s *PositionStore) Update(ctx context.Context, p *domain.Position) error {
	rules, validatorLog, err := marshalPositionDocs(p)
	if err != nil {
		return err
	}

	query := `
		UPDATE positions SET
			play_id = $2, source = $3, instrument = $4,
			entry_price = $5, entry_time_ms = $6, status = $7,
			exit_price = $8, exit_time_ms = $9, profit_loss_pct = $10,
			highest_price_so_far = $11, tolerance_rules = $12, validator_log = $13
		WHERE position_id = $1
	`

	tag, err := s.pool.Exec(ctx, query,
		p.PositionID, p.PlayID, p.Source, p.Instrument,
		p.EntryPrice, p.EntryTimeMs, p.Status,
		p.ExitPrice, p.ExitTimeMs, p.ProfitLossPct,
		p.HighestPriceSoFar, rules, validatorLog,
	)
	if err != nil {
		return fmt.Errorf("update position: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetByID retrieves a position by its ID. Returns ErrNotFound if not exists.
func (s *PositionStore) GetByID(ctx context.Context, positionID string) (*domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE position_id = $1`

	row := s.pool.QueryRow(ctx, query, positionID)
	p, err := scanPosition(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get position by id: %w", err)
	}
	return p, nil
}

// GetOpen retrieves positions still awaiting an exit decision, ordered by
// entry time ASC.
func (s *PositionStore) GetOpen(ctx context.Context) ([]*domain.Position, error) {
	query := `
		SELECT ` + positionColumns + `
		FROM positions
		WHERE status = $1
		ORDER BY entry_time_ms ASC, position_id ASC
	`

	rows, err := s.pool.Query(ctx, query, domain.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("get open positions: %w", err)
	}
	defer rows.Close()

	return scanPositions(rows)
}

// GetByStatus retrieves positions in a given status, ordered by entry time ASC.
func (s *PositionStore) GetByStatus(ctx context.Context, status domain.PositionStatus) ([]*domain.Position, error) {
	query := `
		SELECT ` + positionColumns + `
		FROM positions
		WHERE status = $1
		ORDER BY entry_time_ms ASC, position_id ASC
	`

	rows, err := s.pool.Query(ctx, query, status)
	if err != nil {
		return nil, fmt.Errorf("get positions by status: %w", err)
	}
	defer rows.Close()

	return scanPositions(rows)
}

// GetByTimeRange retrieves positions entered within [start, end] (inclusive),
// ordered by entry time ASC.
func (s *PositionStore) GetByTimeRange(ctx context.Context, start, end int64) ([]*domain.Position, error) {
	query := `
		SELECT ` + positionColumns + `
		FROM positions
		WHERE entry_time_ms >= $1 AND entry_time_ms <= $2
		ORDER BY entry_time_ms ASC, position_id ASC
	`

	rows, err := s.pool.Query(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("get positions by time range: %w", err)
	}
	defer rows.Close()

	return scanPositions(rows)
}

// marshalPositionDocs serializes the JSONB snapshot columns.
func marshalPositionDocs(p *domain.Position) (rules []byte, validatorLog []byte, err error) {
	if p == nil || p.PositionID == "" {
		return nil, nil, storage.ErrInvalidInput
	}

	rules, err = json.Marshal(p.ToleranceRules)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal tolerance rules: %w", err)
	}
	if p.ValidatorLog != nil {
		validatorLog, err = json.Marshal(p.ValidatorLog)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal validator log: %w", err)
		}
	}
	return rules, validatorLog, nil
}

// scanPosition scans a single row into a Position.
func scanPosition(row pgx.Row) (*domain.Position, error) {
	var p domain.Position
	var rules []byte
	var validatorLog []byte

	err := row.Scan(
		&p.PositionID, &p.PlayID, &p.Source, &p.Instrument,
		&p.EntryPrice, &p.EntryTimeMs, &p.Status,
		&p.ExitPrice, &p.ExitTimeMs, &p.ProfitLossPct,
		&p.HighestPriceSoFar, &rules, &validatorLog,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(rules, &p.ToleranceRules); err != nil {
		return nil, fmt.Errorf("unmarshal tolerance rules: %w", err)
	}
	if len(validatorLog) > 0 {
		var vl domain.ValidatorLog
		if err := json.Unmarshal(validatorLog, &vl); err != nil {
			return nil, fmt.Errorf("unmarshal validator log: %w", err)
		}
		p.ValidatorLog = &vl
	}

	return &p, nil
}

// scanPositions scans multiple rows into a slice of Position.
func scanPositions(rows pgx.Rows) ([]*domain.Position, error) {
	var positions []*domain.Position

	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan position row: %w", err)
		}
		positions = append(positions, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate position rows: %w", err)
	}

	return positions, nil
}
