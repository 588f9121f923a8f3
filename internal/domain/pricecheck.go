package domain

// Basis identifies the reference a drawdown is measured from.
type Basis string

// Drawdown bases. "highest" trails the post-entry peak; "entry" protects
// against a stop below the entry price while the position is underwater.
const (
	BasisHighest Basis = "highest"
	BasisEntry   Basis = "entry"
)

// PriceCheck is one immutable evaluation record for an open position.
// Exactly one row is appended per evaluation tick; the most recent row
// reflects the position's current risk state. ShouldSell is terminal:
// no further checks are appended after it is set.
type PriceCheck struct {
	CheckID    string // deterministic hash
	PositionID string
	CheckedAt  int64 // evaluation timestamp (ms)

	CurrentPrice      float64
	EntryPrice        float64
	HighestPriceSoFar float64
	ReferencePrice    float64 // price the drawdown was measured from

	GainFromEntry float64 // (current - entry) / entry
	DropFromHigh  float64 // (highest - current) / highest

	ToleranceApplied float64 // band selected for this evaluation
	Basis            Basis
	ShouldSell       bool // terminal; never set on a backfilled check
	WouldSell        bool // what the algorithm computed, kept even on backfill
	IsBackfill       bool // computed retroactively after a gap
}
