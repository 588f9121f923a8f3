// Package reporting produces operator-facing summaries of resolved positions
// and breaker activity, rendered as Markdown and CSV.
package reporting

import "time"

// Report is the operator summary over one time window.
type Report struct {
	GeneratedAt   time.Time
	WindowStartMs int64
	WindowEndMs   int64

	Summary PositionSummary

	// Per-source breakdown, sorted by source.
	Sources []SourceRow

	Breaker BreakerSection

	// Resolved positions in entry order.
	Positions []PositionRow
}

// PositionSummary aggregates realized outcomes.
type PositionSummary struct {
	TotalResolved int
	Wins          int // sold
	Losses        int // no_go
	WinRate       float64

	PnLMean   float64
	PnLMedian float64
	PnLMin    float64
	PnLMax    float64

	AvgHoldMs int64
}

// SourceRow aggregates outcomes per signal source.
type SourceRow struct {
	Source    string
	Resolved  int
	Wins      int
	WinRate   float64
	PnLMedian float64
}

// BreakerSection snapshots the circuit breaker at generation time.
type BreakerSection struct {
	WindowSize    int
	WindowLength  int
	WinRate       float64
	TripThreshold float64
	Tripped       bool
	Suppressed    int64
}

// PositionRow is one resolved position.
type PositionRow struct {
	PositionID  string
	Source      string
	Instrument  string
	EntryTimeMs int64
	ExitTimeMs  int64
	Status      string
	PnLPct      float64
	HoldMs      int64
}
