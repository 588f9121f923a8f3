// Package queries is the read-only composition layer over the stores,
// consumed by the status endpoint, reporting, and the external dashboard.
package queries

import (
	"context"
	"fmt"

	"copytrade-engine/internal/breaker"
	"copytrade-engine/internal/domain"
	"copytrade-engine/internal/storage"
)

// Service answers read queries. It never writes.
type Service struct {
	cycles    storage.CycleStore
	positions storage.PositionStore
	checks    storage.PriceCheckStore
	breaker   *breaker.CircuitBreaker
}

// NewService creates a query service.
func NewService(
	cycles storage.CycleStore,
	positions storage.PositionStore,
	checks storage.PriceCheckStore,
	cb *breaker.CircuitBreaker,
) *Service {
	return &Service{cycles: cycles, positions: positions, checks: checks, breaker: cb}
}

// CycleWindow is one (instrument, threshold) series over a time window.
// SeqGaps counts sequence numbers missing inside the window; persisted seq
// gaps indicate dropped cycle writes and warrant investigation.
type CycleWindow struct {
	Instrument   string
	ThresholdBps int64
	Cycles       []*domain.PriceCycle
	SeqGaps      int64
}

// RecentCycles returns the closed cycles for one threshold series whose
// start time falls within [fromMs, toMs].
func (s *Service) RecentCycles(ctx context.Context, instrument string, thresholdBps int64, fromMs, toMs int64) (*CycleWindow, error) {
	all, err := s.cycles.GetByTimeRange(ctx, instrument, fromMs, toMs)
	if err != nil {
		return nil, fmt.Errorf("cycles for %s in [%d, %d]: %w", instrument, fromMs, toMs, err)
	}

	w := &CycleWindow{Instrument: instrument, ThresholdBps: thresholdBps}
	for _, c := range all {
		if c.ThresholdBps == thresholdBps {
			w.Cycles = append(w.Cycles, c)
		}
	}

	// Store order is start time ASC; seq is strictly increasing per series,
	// so adjacent entries expose missing rows directly.
	for i := 1; i < len(w.Cycles); i++ {
		if d := w.Cycles[i].Seq - w.Cycles[i-1].Seq; d > 1 {
			w.SeqGaps += d - 1
		}
	}
	return w, nil
}

// PositionDetail is a position with its full evaluation trail.
type PositionDetail struct {
	Position       *domain.Position
	Checks         []*domain.PriceCheck
	LiveChecks     int
	BackfillChecks int
}

// PositionDetail returns one position and its price checks in evaluation
// order.
func (s *Service) PositionDetail(ctx context.Context, positionID string) (*PositionDetail, error) {
	p, err := s.positions.GetByID(ctx, positionID)
	if err != nil {
		return nil, fmt.Errorf("position %s: %w", positionID, err)
	}

	checks, err := s.checks.GetByPositionID(ctx, positionID)
	if err != nil {
		return nil, fmt.Errorf("checks for position %s: %w", positionID, err)
	}

	d := &PositionDetail{Position: p, Checks: checks}
	for _, c := range checks {
		if c.IsBackfill {
			d.BackfillChecks++
		} else {
			d.LiveChecks++
		}
	}
	return d, nil
}

// ValidatorBreakdown returns the filter evaluation snapshot taken when the
// position was opened.
func (s *Service) ValidatorBreakdown(ctx context.Context, positionID string) (*domain.ValidatorLog, error) {
	p, err := s.positions.GetByID(ctx, positionID)
	if err != nil {
		return nil, fmt.Errorf("position %s: %w", positionID, err)
	}
	if p.ValidatorLog == nil {
		return nil, fmt.Errorf("position %s: %w", positionID, storage.ErrNotFound)
	}
	return p.ValidatorLog, nil
}

// BreakerStatus is the live breaker window plus the suppression count.
type BreakerStatus struct {
	domain.BreakerState
	Suppressed int64
}

// BreakerStatus returns the breaker's current state.
func (s *Service) BreakerStatus() BreakerStatus {
	return BreakerStatus{
		BreakerState: s.breaker.State(),
		Suppressed:   s.breaker.Suppressed(),
	}
}

// ResolvedPositions returns positions that entered within [fromMs, toMs] and
// closed with a realized outcome, in entry order.
func (s *Service) ResolvedPositions(ctx context.Context, fromMs, toMs int64) ([]*domain.Position, error) {
	all, err := s.positions.GetByTimeRange(ctx, fromMs, toMs)
	if err != nil {
		return nil, fmt.Errorf("positions in [%d, %d]: %w", fromMs, toMs, err)
	}

	var resolved []*domain.Position
	for _, p := range all {
		if p.Resolved() {
			resolved = append(resolved, p)
		}
	}
	return resolved, nil
}

// OpenPositions returns positions still awaiting an exit decision.
func (s *Service) OpenPositions(ctx context.Context) ([]*domain.Position, error) {
	return s.positions.GetOpen(ctx)
}
