package domain

// PricePoint represents a single raw price tick for an instrument.
// Points are append-only and strictly time-ordered per instrument;
// out-of-order arrivals are rejected upstream, never reordered.
type PricePoint struct {
	Instrument  string  // instrument identifier (mint or pair symbol)
	TimestampMs int64   // Unix timestamp in milliseconds
	Price       float64 // observed price
}

// PriceCycle represents a tracked interval where price deviated beyond a
// threshold from a floating reference and has not yet reverted.
// One active cycle exists per (instrument, threshold) at a time; multiple
// thresholds run independent concurrent cycles over the same feed.
type PriceCycle struct {
	CycleID      string  // deterministic hash
	Seq          int64   // per-(instrument, threshold) sequence number
	Instrument   string  // instrument identifier
	Threshold    float64 // opening threshold as a fraction (0.003 = 0.30%)
	ThresholdBps int64   // threshold in basis points; the storage key

	StartTimeMs int64  // cycle open timestamp (ms)
	EndTimeMs   *int64 // cycle close timestamp (ms); nil while active

	SequenceStartPrice float64 // floating reference at cycle open
	HighestPriceReached float64 // monotonically non-decreasing over the cycle
	LowestPriceReached  float64 // monotonically non-increasing over the cycle

	MaxPercentIncrease           float64 // (highest - reference) / reference
	MaxPercentIncreaseFromLowest float64 // (highest - lowest) / lowest

	DataPointCount int // ticks observed while the cycle was active
}

// Active reports whether the cycle is still open.
func (c *PriceCycle) Active() bool {
	return c.EndTimeMs == nil
}

// CycleTransition describes a single tracker state change emitted by one
// tick. At most one transition per (instrument, threshold) per tick.
type CycleTransition struct {
	Kind  TransitionKind
	Cycle *PriceCycle // snapshot at the time of the transition
}

// TransitionKind enumerates cycle tracker transitions.
type TransitionKind string

// Transition kinds.
const (
	TransitionOpen  TransitionKind = "open"
	TransitionClose TransitionKind = "close"
)
