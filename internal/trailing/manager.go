// Package trailing owns open positions: on each evaluation it recomputes
// gain-from-entry and drop-from-peak, selects the adaptive tolerance band,
// and decides hold or sell. Every evaluation appends one immutable price
// check; should_sell is terminal.
package trailing

import (
	"errors"

	"copytrade-engine/internal/domain"
	"copytrade-engine/internal/idhash"
)

// ErrPositionClosed is returned when a live evaluation targets a position
// that already exited.
var ErrPositionClosed = errors.New("position is not open")

// Decision is the pure evaluation outcome for one price at one instant.
// It is shared by live ticks, backfill, and replay so all three paths run
// the identical algorithm.
type Decision struct {
	Gain          float64 // (current - entry) / entry
	NewHighest    float64 // running peak including the current price
	DropFromHigh  float64 // (highest - current) / highest
	DropFromBasis float64 // drawdown measured from the selected basis
	Basis         domain.Basis
	Reference     float64 // price the drawdown was measured from
	Tolerance     float64
	Clamped       bool // tolerance came from a clamp over a config gap
	ShouldSell    bool
}

// Decide evaluates one price against the position's tolerance rules.
// The basis is the post-entry peak while the position is at or above entry,
// and the entry price while underwater.
func Decide(entryPrice, highestSoFar, currentPrice float64, rules domain.ToleranceRules) Decision {
	d := Decision{
		Gain:       (currentPrice - entryPrice) / entryPrice,
		NewHighest: highestSoFar,
	}
	if currentPrice > d.NewHighest {
		d.NewHighest = currentPrice
	}
	d.DropFromHigh = (d.NewHighest - currentPrice) / d.NewHighest

	if d.Gain >= 0 {
		d.Basis = domain.BasisHighest
		d.Reference = d.NewHighest
		d.DropFromBasis = d.DropFromHigh
		d.Tolerance, d.Clamped = rules.SelectTolerance(d.Gain)
	} else {
		d.Basis = domain.BasisEntry
		d.Reference = entryPrice
		d.DropFromBasis = (entryPrice - currentPrice) / entryPrice
		d.Tolerance = rules.Decrease
	}

	d.ShouldSell = d.DropFromBasis >= d.Tolerance
	return d
}

// Evaluation is the result of one live tick for an open position.
type Evaluation struct {
	ShouldSell bool
	Clamped    bool
	Check      domain.PriceCheck
}

// Manager applies decisions to positions. Positions do not share mutable
// state, so one manager serves any number of per-position loops.
type Manager struct{}

// NewManager creates a trailing-stop manager.
func NewManager() *Manager {
	return &Manager{}
}

// OnTick evaluates an open position against the current price. On a sell
// decision the position is closed in place: status by realized P/L sign,
// exit fields set, and no further checks may be appended.
func (m *Manager) OnTick(p *domain.Position, currentPrice float64, nowMs int64) (Evaluation, error) {
	if !p.Open() {
		return Evaluation{}, ErrPositionClosed
	}

	highest := p.HighestPriceSoFar
	if highest == 0 {
		highest = p.EntryPrice
	}

	d := Decide(p.EntryPrice, highest, currentPrice, p.ToleranceRules)
	p.HighestPriceSoFar = d.NewHighest

	check := buildCheck(p, currentPrice, nowMs, d, false)

	if d.ShouldSell {
		closePosition(p, currentPrice, nowMs, d.Gain)
	}

	return Evaluation{ShouldSell: d.ShouldSell, Clamped: d.Clamped, Check: check}, nil
}

// Backfill reconstructs checks for an evaluation gap using the same
// algorithm as live ticks. Backfilled checks are flagged and never close a
// position: a position that already closed live must not be flipped
// retroactively, and an open position only exits on a live evaluation. The
// decision the algorithm computed is still recorded on each check as
// would_sell so gap inspection stays complete.
func (m *Manager) Backfill(p *domain.Position, points []*domain.PricePoint) []domain.PriceCheck {
	highest := p.HighestPriceSoFar
	if highest == 0 {
		highest = p.EntryPrice
	}

	var checks []domain.PriceCheck
	for _, pt := range points {
		if p.ExitTimeMs != nil && pt.TimestampMs >= *p.ExitTimeMs {
			break
		}
		d := Decide(p.EntryPrice, highest, pt.Price, p.ToleranceRules)
		highest = d.NewHighest

		shadow := *p
		shadow.HighestPriceSoFar = highest
		checks = append(checks, buildCheck(&shadow, pt.Price, pt.TimestampMs, d, true))
	}

	if p.Open() && highest > p.HighestPriceSoFar {
		p.HighestPriceSoFar = highest
	}
	return checks
}

// buildCheck materializes the immutable per-evaluation record.
func buildCheck(p *domain.Position, currentPrice float64, nowMs int64, d Decision, backfill bool) domain.PriceCheck {
	return domain.PriceCheck{
		CheckID:           idhash.ComputeCheckID(p.PositionID, nowMs, backfill),
		PositionID:        p.PositionID,
		CheckedAt:         nowMs,
		CurrentPrice:      currentPrice,
		EntryPrice:        p.EntryPrice,
		HighestPriceSoFar: d.NewHighest,
		ReferencePrice:    d.Reference,
		GainFromEntry:     d.Gain,
		DropFromHigh:      d.DropFromHigh,
		ToleranceApplied:  d.Tolerance,
		Basis:             d.Basis,
		ShouldSell:        d.ShouldSell && !backfill,
		WouldSell:         d.ShouldSell,
		IsBackfill:        backfill,
	}
}

// closePosition finalizes the exit. Positive realized P/L sells; zero or
// negative closes as no_go.
func closePosition(p *domain.Position, exitPrice float64, nowMs int64, gain float64) {
	p.Status = domain.StatusNoGo
	if gain > 0 {
		p.Status = domain.StatusSold
	}
	p.ExitPrice = &exitPrice
	exitTime := nowMs
	p.ExitTimeMs = &exitTime
	pnl := gain
	p.ProfitLossPct = &pnl
}
