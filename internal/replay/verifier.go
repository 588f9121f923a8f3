// Package replay re-runs the trailing-stop decision function over a
// position's stored evaluation trail and verifies that the recorded
// trajectory and exit fields are reproduced exactly. Deterministic IDs plus
// a pure decision function mean any divergence is either data corruption or
// an algorithm change, and both must surface.
package replay

import (
	"context"
	"fmt"
	"math"

	"copytrade-engine/internal/domain"
	"copytrade-engine/internal/idhash"
	"copytrade-engine/internal/storage"
	"copytrade-engine/internal/trailing"
)

// FloatTolerance bounds float64 comparisons of derived ratios.
const FloatTolerance = 1e-9

// FieldDivergence is one mismatch between a stored and a replayed value.
type FieldDivergence struct {
	CheckID  string      // empty for position-level fields
	Field    string      // field name
	Expected interface{} // stored value
	Actual   interface{} // replayed value
}

// PositionResult is the verification outcome for one position.
type PositionResult struct {
	PositionID  string
	Status      domain.PositionStatus
	LiveChecks  int
	Match       bool
	Divergences []FieldDivergence
}

// Report aggregates verification over many positions.
type Report struct {
	TotalPositions     int
	MatchedPositions   int
	DivergentPositions int
	Results            []PositionResult
}

// Verifier replays positions from the durable stores.
type Verifier struct {
	positions storage.PositionStore
	checks    storage.PriceCheckStore
}

// NewVerifier creates a replay verifier.
func NewVerifier(positions storage.PositionStore, checks storage.PriceCheckStore) *Verifier {
	return &Verifier{positions: positions, checks: checks}
}

// VerifyPosition replays one position's live check trail.
func (v *Verifier) VerifyPosition(ctx context.Context, positionID string) (*PositionResult, error) {
	p, err := v.positions.GetByID(ctx, positionID)
	if err != nil {
		return nil, fmt.Errorf("load position %s: %w", positionID, err)
	}

	all, err := v.checks.GetByPositionID(ctx, positionID)
	if err != nil {
		return nil, fmt.Errorf("load checks for %s: %w", positionID, err)
	}

	// Backfilled checks are reconstructions, not decisions; only the live
	// trail is the record of what the engine actually did.
	var live []*domain.PriceCheck
	for _, c := range all {
		if !c.IsBackfill {
			live = append(live, c)
		}
	}

	result := &PositionResult{
		PositionID: positionID,
		Status:     p.Status,
		LiveChecks: len(live),
	}
	result.Divergences = v.replayTrail(p, live)
	result.Match = len(result.Divergences) == 0
	return result, nil
}

// VerifyRange replays every position entered within [fromMs, toMs].
func (v *Verifier) VerifyRange(ctx context.Context, fromMs, toMs int64) (*Report, error) {
	positions, err := v.positions.GetByTimeRange(ctx, fromMs, toMs)
	if err != nil {
		return nil, fmt.Errorf("load positions in [%d, %d]: %w", fromMs, toMs, err)
	}

	report := &Report{TotalPositions: len(positions)}
	for _, p := range positions {
		r, err := v.VerifyPosition(ctx, p.PositionID)
		if err != nil {
			return nil, err
		}
		report.Results = append(report.Results, *r)
		if r.Match {
			report.MatchedPositions++
		} else {
			report.DivergentPositions++
		}
	}
	return report, nil
}

// replayTrail re-derives every live decision and collects each field that
// does not reproduce. Each check is replayed from its own stored peak: the
// decision function's outputs are identical whether seeded with the true
// prior peak or with the resulting peak, and backfill may legitimately raise
// the peak between live checks, so the stored peak is the only sound seed.
// Structural peak invariants are verified separately.
func (v *Verifier) replayTrail(p *domain.Position, live []*domain.PriceCheck) []FieldDivergence {
	var divs []FieldDivergence

	prevHighest := p.EntryPrice
	terminalSeen := false

	for _, stored := range live {
		if terminalSeen {
			divs = append(divs, FieldDivergence{
				CheckID:  stored.CheckID,
				Field:    "trail",
				Expected: "no checks after terminal should_sell",
				Actual:   "check appended after sell",
			})
			continue
		}

		// The peak only ever rises and always covers the current price.
		if stored.HighestPriceSoFar < prevHighest-FloatTolerance ||
			stored.HighestPriceSoFar < stored.CurrentPrice-FloatTolerance {
			divs = append(divs, FieldDivergence{
				CheckID:  stored.CheckID,
				Field:    "highest_price_so_far",
				Expected: fmt.Sprintf(">= max(%v, %v)", prevHighest, stored.CurrentPrice),
				Actual:   stored.HighestPriceSoFar,
			})
		}
		prevHighest = stored.HighestPriceSoFar

		d := trailing.Decide(p.EntryPrice, stored.HighestPriceSoFar, stored.CurrentPrice, p.ToleranceRules)

		divs = append(divs, compareCheck(stored, p, d)...)

		if stored.ShouldSell {
			terminalSeen = true
			divs = append(divs, compareExit(p, stored, d)...)
		}
	}

	if p.Resolved() && !terminalSeen {
		divs = append(divs, FieldDivergence{
			Field:    "trail",
			Expected: "a terminal should_sell check for a resolved position",
			Actual:   fmt.Sprintf("%d live checks, none terminal", len(live)),
		})
	}
	return divs
}

// compareCheck diffs one stored check against its replayed decision.
func compareCheck(stored *domain.PriceCheck, p *domain.Position, d trailing.Decision) []FieldDivergence {
	var divs []FieldDivergence
	diverge := func(field string, expected, actual interface{}) {
		divs = append(divs, FieldDivergence{CheckID: stored.CheckID, Field: field, Expected: expected, Actual: actual})
	}

	if wantID := idhash.ComputeCheckID(p.PositionID, stored.CheckedAt, false); stored.CheckID != wantID {
		diverge("check_id", wantID, stored.CheckID)
	}
	if !floatEquals(stored.EntryPrice, p.EntryPrice) {
		diverge("entry_price", p.EntryPrice, stored.EntryPrice)
	}
	if !floatEquals(stored.HighestPriceSoFar, d.NewHighest) {
		diverge("highest_price_so_far", d.NewHighest, stored.HighestPriceSoFar)
	}
	if !floatEquals(stored.ReferencePrice, d.Reference) {
		diverge("reference_price", d.Reference, stored.ReferencePrice)
	}
	if !floatEquals(stored.GainFromEntry, d.Gain) {
		diverge("gain_from_entry", d.Gain, stored.GainFromEntry)
	}
	if !floatEquals(stored.DropFromHigh, d.DropFromHigh) {
		diverge("drop_from_high", d.DropFromHigh, stored.DropFromHigh)
	}
	if !floatEquals(stored.ToleranceApplied, d.Tolerance) {
		diverge("tolerance_applied", d.Tolerance, stored.ToleranceApplied)
	}
	if stored.Basis != d.Basis {
		diverge("basis", d.Basis, stored.Basis)
	}
	if stored.ShouldSell != d.ShouldSell {
		diverge("should_sell", d.ShouldSell, stored.ShouldSell)
	}
	return divs
}

// compareExit checks the position's exit fields against the terminal check.
func compareExit(p *domain.Position, terminal *domain.PriceCheck, d trailing.Decision) []FieldDivergence {
	var divs []FieldDivergence
	diverge := func(field string, expected, actual interface{}) {
		divs = append(divs, FieldDivergence{Field: field, Expected: expected, Actual: actual})
	}

	wantStatus := domain.StatusNoGo
	if d.Gain > 0 {
		wantStatus = domain.StatusSold
	}
	if p.Status != wantStatus {
		diverge("status", wantStatus, p.Status)
	}
	if p.ExitPrice == nil || !floatEquals(*p.ExitPrice, terminal.CurrentPrice) {
		diverge("exit_price", terminal.CurrentPrice, p.ExitPrice)
	}
	if p.ExitTimeMs == nil || *p.ExitTimeMs != terminal.CheckedAt {
		diverge("exit_time_ms", terminal.CheckedAt, p.ExitTimeMs)
	}
	if p.ProfitLossPct == nil || !floatEquals(*p.ProfitLossPct, d.Gain) {
		diverge("profit_loss_pct", d.Gain, p.ProfitLossPct)
	}
	return divs
}

// floatEquals compares two float64 values within FloatTolerance.
func floatEquals(a, b float64) bool {
	return math.Abs(a-b) <= FloatTolerance
}
