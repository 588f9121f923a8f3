package storage

import (
	"context"

	"copytrade-engine/internal/domain"
)

// PricePointStore provides access to the raw price tick series.
type PricePointStore interface {
	// InsertBulk adds multiple points. Fails the entire batch on a duplicate
	// (instrument, timestamp_ms).
	InsertBulk(ctx context.Context, points []*domain.PricePoint) error

	// GetByTimeRange retrieves points for an instrument within [start, end]
	// (inclusive), ordered by timestamp ASC.
	GetByTimeRange(ctx context.Context, instrument string, start, end int64) ([]*domain.PricePoint, error)

	// Latest retrieves the most recent point for an instrument.
	// Returns ErrNotFound if the instrument has no points.
	Latest(ctx context.Context, instrument string) (*domain.PricePoint, error)
}

// CycleStore provides access to closed price cycles. Cycles are persisted
// once closed and never change afterwards; the in-flight cycle lives only in
// the tracker.
type CycleStore interface {
	// Insert adds a closed cycle. Returns ErrDuplicateKey if cycle_id exists,
	// ErrInvalidInput if the cycle is still active.
	Insert(ctx context.Context, c *domain.PriceCycle) error

	// GetByID retrieves a cycle by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, cycleID string) (*domain.PriceCycle, error)

	// GetByThreshold retrieves cycles for an (instrument, threshold_bps)
	// series, ordered by seq ASC.
	GetByThreshold(ctx context.Context, instrument string, thresholdBps int64) ([]*domain.PriceCycle, error)

	// GetByTimeRange retrieves cycles whose start time falls within
	// [start, end] (inclusive), ordered by start time ASC.
	GetByTimeRange(ctx context.Context, instrument string, start, end int64) ([]*domain.PriceCycle, error)
}

// PositionStore provides access to positions. Positions are the one mutable
// record: the trailing loop raises the running peak and sets the exit fields
// exactly once.
type PositionStore interface {
	// Insert adds a new position. Returns ErrDuplicateKey if position_id exists.
	Insert(ctx context.Context, p *domain.Position) error

	// Update replaces an existing position. Returns ErrNotFound if not exists.
	Update(ctx context.Context, p *domain.Position) error

	// GetByID retrieves a position by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, positionID string) (*domain.Position, error)

	// GetOpen retrieves positions still awaiting an exit decision, ordered by
	// entry time ASC.
	GetOpen(ctx context.Context) ([]*domain.Position, error)

	// GetByStatus retrieves positions in a given status, ordered by entry
	// time ASC.
	GetByStatus(ctx context.Context, status domain.PositionStatus) ([]*domain.Position, error)

	// GetByTimeRange retrieves positions entered within [start, end]
	// (inclusive), ordered by entry time ASC.
	GetByTimeRange(ctx context.Context, start, end int64) ([]*domain.Position, error)
}

// PriceCheckStore provides access to the append-only per-position evaluation
// trail.
type PriceCheckStore interface {
	// Insert adds a new check. Returns ErrDuplicateKey if check_id exists.
	Insert(ctx context.Context, c *domain.PriceCheck) error

	// InsertBulk adds multiple checks atomically. Fails entire batch on any
	// duplicate.
	InsertBulk(ctx context.Context, checks []*domain.PriceCheck) error

	// GetByPositionID retrieves all checks for a position, ordered by
	// checked_at ASC with live checks before backfilled ones on ties.
	GetByPositionID(ctx context.Context, positionID string) ([]*domain.PriceCheck, error)
}

// TradeEventStore provides access to observed source trades.
type TradeEventStore interface {
	// Insert adds a new trade event. Returns ErrDuplicateKey if the
	// signature was already recorded.
	Insert(ctx context.Context, e *domain.TradeEvent) error

	// GetByWallet retrieves all events for a wallet, ordered by timestamp ASC.
	GetByWallet(ctx context.Context, wallet string) ([]*domain.TradeEvent, error)

	// GetByTimeRange retrieves events within [start, end] (inclusive),
	// ordered by timestamp ASC.
	GetByTimeRange(ctx context.Context, start, end int64) ([]*domain.TradeEvent, error)
}

// BreakerStateStore persists circuit-breaker snapshots so a restart resumes
// with the same rolling window.
type BreakerStateStore interface {
	// Save appends a snapshot.
	Save(ctx context.Context, s *domain.BreakerState) error

	// Latest retrieves the most recent snapshot. Returns ErrNotFound if none
	// was ever saved.
	Latest(ctx context.Context) (*domain.BreakerState, error)
}

// FilterProjectStore persists filter project configuration between restarts.
// The live engine reads projects from an in-memory snapshot, not from here.
type FilterProjectStore interface {
	// ReplaceAll swaps the stored configuration for the given set.
	ReplaceAll(ctx context.Context, projects []domain.FilterProject) error

	// GetAll retrieves every stored project, ordered by project_id ASC.
	GetAll(ctx context.Context) ([]domain.FilterProject, error)
}
