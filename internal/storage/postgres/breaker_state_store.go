package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"copytrade-engine/internal/domain"
	"copytrade-engine/internal/storage"
)

// BreakerStateStore implements storage.BreakerStateStore using PostgreSQL.
// Snapshots append; a restart resumes from the newest one.
type BreakerStateStore struct {
	pool *Pool
}

// NewBreakerStateStore creates a new BreakerStateStore.
func NewBreakerStateStore(pool *Pool) *BreakerStateStore {
	return &BreakerStateStore{pool: pool}
}

// Compile-time interface check.
var _ storage.BreakerStateStore = (*BreakerStateStore)(nil)

// Save appends a snapshot.
func (s *BreakerStateStore) Save(ctx context.Context, state *domain.BreakerState) error {
	if state == nil {
		return storage.ErrInvalidInput
	}

	outcomes, err := json.Marshal(state.RecentOutcomes)
	if err != nil {
		return fmt.Errorf("marshal breaker outcomes: %w", err)
	}

	query := `
		INSERT INTO breaker_snapshots (
			window_size, recent_outcomes, wins, losses,
			win_rate, trip_threshold, tripped, updated_at_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err = s.pool.Exec(ctx, query,
		state.WindowSize, outcomes, state.Wins, state.Losses,
		state.WinRate, state.TripThreshold, state.Tripped, state.UpdatedAtMs,
	)
	if err != nil {
		return fmt.Errorf("insert breaker snapshot: %w", err)
	}
	return nil
}

// Latest retrieves the most recent snapshot.
func (s *BreakerStateStore) Latest(ctx context.Context) (*domain.BreakerState, error) {
	query := `
		SELECT window_size, recent_outcomes, wins, losses,
		       win_rate, trip_threshold, tripped, updated_at_ms
		FROM breaker_snapshots
		ORDER BY updated_at_ms DESC, id DESC
		LIMIT 1
	`

	var state domain.BreakerState
	var outcomes []byte
	err := s.pool.QueryRow(ctx, query).Scan(
		&state.WindowSize, &outcomes, &state.Wins, &state.Losses,
		&state.WinRate, &state.TripThreshold, &state.Tripped, &state.UpdatedAtMs,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get latest breaker snapshot: %w", err)
	}

	if err := json.Unmarshal(outcomes, &state.RecentOutcomes); err != nil {
		return nil, fmt.Errorf("unmarshal breaker outcomes: %w", err)
	}
	return &state, nil
}
