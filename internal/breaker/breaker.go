// Package breaker implements the rolling win-rate circuit breaker that
// suppresses new entries while recent performance is poor.
package breaker

import (
	"sync"

	"copytrade-engine/internal/domain"
)

// CircuitBreaker keeps the last N resolved outcomes and a live win rate.
// It is level-triggered: tripped state is recomputed after every outcome and
// clears on its own once the win rate recovers; there is no manual reset.
//
// The window is the one piece of mutable state shared across concurrent
// evaluations, so every access goes through the mutex (single writer
// discipline). Reads may be stale by at most one outcome.
type CircuitBreaker struct {
	mu            sync.Mutex
	windowSize    int
	tripThreshold float64

	outcomes    []bool // ordered, oldest first; true = win
	wins        int
	tripped     bool
	suppressed  int64
	updatedAtMs int64
}

// New creates a breaker with the given window size and trip threshold
// (fraction, e.g. 0.35).
func New(windowSize int, tripThreshold float64) *CircuitBreaker {
	if windowSize <= 0 {
		windowSize = 20
	}
	return &CircuitBreaker{
		windowSize:    windowSize,
		tripThreshold: tripThreshold,
	}
}

// RecordOutcome appends a resolved win/loss, dropping the oldest outcome on
// overflow, and recomputes the tripped level.
func (b *CircuitBreaker) RecordOutcome(win bool, nowMs int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.outcomes = append(b.outcomes, win)
	if win {
		b.wins++
	}
	if len(b.outcomes) > b.windowSize {
		if b.outcomes[0] {
			b.wins--
		}
		b.outcomes = b.outcomes[1:]
	}

	b.tripped = b.winRateLocked() < b.tripThreshold
	b.updatedAtMs = nowMs
}

// IsTripped reports whether new entries are currently suppressed.
func (b *CircuitBreaker) IsTripped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tripped
}

// RecordSuppression counts a candidate rejected while tripped. Suppressions
// are a distinct outcome class; they never enter the win/loss window.
func (b *CircuitBreaker) RecordSuppression() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.suppressed++
}

// Suppressed returns the number of candidates rejected while tripped.
func (b *CircuitBreaker) Suppressed() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.suppressed
}

// State returns a snapshot of the rolling window for persistence and the
// query surface.
func (b *CircuitBreaker) State() domain.BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	recent := make([]bool, len(b.outcomes))
	copy(recent, b.outcomes)
	return domain.BreakerState{
		WindowSize:     b.windowSize,
		RecentOutcomes: recent,
		Wins:           b.wins,
		Losses:         len(b.outcomes) - b.wins,
		WinRate:        b.winRateLocked(),
		TripThreshold:  b.tripThreshold,
		Tripped:        b.tripped,
		UpdatedAtMs:    b.updatedAtMs,
	}
}

// Restore reloads a persisted window, e.g. after a restart.
func (b *CircuitBreaker) Restore(state domain.BreakerState) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.outcomes = b.outcomes[:0]
	b.wins = 0
	start := 0
	if len(state.RecentOutcomes) > b.windowSize {
		start = len(state.RecentOutcomes) - b.windowSize
	}
	for _, win := range state.RecentOutcomes[start:] {
		b.outcomes = append(b.outcomes, win)
		if win {
			b.wins++
		}
	}
	b.tripped = b.winRateLocked() < b.tripThreshold
	b.updatedAtMs = state.UpdatedAtMs
}

// winRateLocked computes wins over the actual window length. An empty
// window reports 1.0 so a fresh breaker never starts tripped.
func (b *CircuitBreaker) winRateLocked() float64 {
	if len(b.outcomes) == 0 {
		return 1.0
	}
	return float64(b.wins) / float64(len(b.outcomes))
}
