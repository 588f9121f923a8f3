package domain

// PositionStatus enumerates the lifecycle states of a position.
type PositionStatus string

// Position statuses. A position is open only while pending.
const (
	StatusPending   PositionStatus = "pending"
	StatusSold      PositionStatus = "sold"
	StatusNoGo      PositionStatus = "no_go"
	StatusCancelled PositionStatus = "cancelled"
)

// Position represents an accepted trade signal and its lifecycle.
// The validator log and tolerance rules are point-in-time snapshots taken
// at entry; later filter edits must not change a historical position's
// provenance.
type Position struct {
	PositionID string // deterministic hash
	PlayID     string // originating play configuration
	Source     string // wallet or signal source that produced the entry
	Instrument string // traded instrument

	EntryPrice  float64
	EntryTimeMs int64

	Status        PositionStatus
	ExitPrice     *float64 // nil while open
	ExitTimeMs    *int64   // nil while open
	ProfitLossPct *float64 // realized P/L fraction; nil while open

	HighestPriceSoFar float64 // running post-entry peak

	ToleranceRules ToleranceRules // tiered exit bands attached at entry
	ValidatorLog   *ValidatorLog  // filter evaluation snapshot at entry
}

// Open reports whether the position is still being evaluated.
func (p *Position) Open() bool {
	return p.Status == StatusPending
}

// Resolved reports whether the position closed with a realized outcome.
// Cancelled positions are not resolved and never reach the circuit breaker.
func (p *Position) Resolved() bool {
	return p.Status == StatusSold || p.Status == StatusNoGo
}
