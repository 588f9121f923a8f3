// Package cycles tracks qualifying price moves ("cycles") per instrument.
// Each (instrument, threshold) pair is an independent state machine over the
// same feed; thresholds are different sensitivity lenses, so overlapping
// cycles across thresholds are intentional.
package cycles

import (
	"errors"
	"sync"

	"copytrade-engine/internal/domain"
	"copytrade-engine/internal/idhash"
)

// ErrOutOfOrder is returned for a tick whose timestamp is not strictly
// greater than the last tick seen for the instrument. The tick must not
// mutate cycle state; callers still persist it raw.
var ErrOutOfOrder = errors.New("out-of-order price tick")

// Diagnostics holds tracker counters surfaced to dashboards. Gaps in
// persisted cycle sequence numbers are computed by the query layer; the
// tracker itself only counts what it observes.
type Diagnostics struct {
	TicksObserved      int64
	OutOfOrderRejected int64
	CyclesOpened       int64
	CyclesClosed       int64
}

// stateKey identifies one (instrument, threshold) state machine.
// Thresholds are keyed in basis points to avoid float map keys.
type stateKey struct {
	instrument   string
	thresholdBps int64
}

// thresholdState is the per-(instrument, threshold) tracker state.
type thresholdState struct {
	threshold float64
	reference float64 // floating sequence_start_price
	haveRef   bool
	seq       int64
	active    *domain.PriceCycle
}

// Tracker consumes the ordered tick stream and emits cycle transitions.
// Safe for concurrent use; each tick for a given instrument still has to
// arrive in timestamp order.
type Tracker struct {
	mu         sync.Mutex
	thresholds []float64
	stability  float64 // close band as a multiple of the opening threshold
	states     map[stateKey]*thresholdState
	lastSeenMs map[string]int64
	diag       Diagnostics
}

// New creates a Tracker for the given opening thresholds (fractions, e.g.
// 0.003 for 0.30%). The close stability band uses the same magnitude as the
// opening threshold; stabilityFactor scales it and defaults to 1.0.
func New(thresholds []float64, stabilityFactor float64) *Tracker {
	if stabilityFactor <= 0 {
		stabilityFactor = 1.0
	}
	return &Tracker{
		thresholds: thresholds,
		stability:  stabilityFactor,
		states:     make(map[stateKey]*thresholdState),
		lastSeenMs: make(map[string]int64),
	}
}

// Observe processes one tick and returns zero or one transition per tracked
// threshold. Out-of-order ticks return ErrOutOfOrder without mutating state.
func (t *Tracker) Observe(instrument string, price float64, timestampMs int64) ([]domain.CycleTransition, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if last, ok := t.lastSeenMs[instrument]; ok && timestampMs <= last {
		t.diag.OutOfOrderRejected++
		return nil, ErrOutOfOrder
	}
	t.lastSeenMs[instrument] = timestampMs
	t.diag.TicksObserved++

	var transitions []domain.CycleTransition
	for _, threshold := range t.thresholds {
		key := stateKey{instrument: instrument, thresholdBps: toBps(threshold)}
		st, ok := t.states[key]
		if !ok {
			st = &thresholdState{threshold: threshold}
			t.states[key] = st
		}

		if tr := t.step(st, instrument, price, timestampMs); tr != nil {
			transitions = append(transitions, *tr)
		}
	}
	return transitions, nil
}

// step advances one state machine by one tick.
func (t *Tracker) step(st *thresholdState, instrument string, price float64, timestampMs int64) *domain.CycleTransition {
	if !st.haveRef {
		// First tick seen establishes the floating reference.
		st.reference = price
		st.haveRef = true
		return nil
	}

	pctChange := (price - st.reference) / st.reference

	if st.active == nil {
		if abs(pctChange) < st.threshold {
			return nil
		}
		st.seq++
		cycle := &domain.PriceCycle{
			CycleID:             idhash.ComputeCycleID(instrument, toBps(st.threshold), st.seq, timestampMs),
			Seq:                 st.seq,
			Instrument:          instrument,
			Threshold:           st.threshold,
			ThresholdBps:        toBps(st.threshold),
			StartTimeMs:         timestampMs,
			SequenceStartPrice:  st.reference,
			HighestPriceReached: price,
			LowestPriceReached:  price,
			MaxPercentIncrease:  (price - st.reference) / st.reference,
			DataPointCount:      1,
		}
		st.active = cycle
		t.diag.CyclesOpened++
		return &domain.CycleTransition{Kind: domain.TransitionOpen, Cycle: snapshot(cycle)}
	}

	cycle := st.active
	cycle.DataPointCount++
	if price > cycle.HighestPriceReached {
		cycle.HighestPriceReached = price
	}
	if price < cycle.LowestPriceReached {
		cycle.LowestPriceReached = price
	}

	maxInc := (cycle.HighestPriceReached - cycle.SequenceStartPrice) / cycle.SequenceStartPrice
	if maxInc > cycle.MaxPercentIncrease {
		cycle.MaxPercentIncrease = maxInc
	}
	maxFromLowest := (cycle.HighestPriceReached - cycle.LowestPriceReached) / cycle.LowestPriceReached
	if maxFromLowest > cycle.MaxPercentIncreaseFromLowest {
		cycle.MaxPercentIncreaseFromLowest = maxFromLowest
	}

	// Close when price reverts within the stability band of the reference.
	// The closing tick's price seeds the next reference.
	if abs(pctChange) < st.threshold*t.stability {
		end := timestampMs
		cycle.EndTimeMs = &end
		st.active = nil
		st.reference = price
		t.diag.CyclesClosed++
		return &domain.CycleTransition{Kind: domain.TransitionClose, Cycle: snapshot(cycle)}
	}

	return nil
}

// ActiveCycle returns a snapshot of the currently open cycle for the pair,
// or nil when no cycle is active.
func (t *Tracker) ActiveCycle(instrument string, threshold float64) *domain.PriceCycle {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.states[stateKey{instrument: instrument, thresholdBps: toBps(threshold)}]
	if !ok || st.active == nil {
		return nil
	}
	return snapshot(st.active)
}

// Diagnostics returns a copy of the tracker counters.
func (t *Tracker) Diagnostics() Diagnostics {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.diag
}

// snapshot copies a cycle so emitted transitions stay immutable while the
// tracker keeps mutating its own state.
func snapshot(c *domain.PriceCycle) *domain.PriceCycle {
	cp := *c
	if c.EndTimeMs != nil {
		end := *c.EndTimeMs
		cp.EndTimeMs = &end
	}
	return &cp
}

// toBps converts a fractional threshold to basis points for stable keying.
func toBps(threshold float64) int64 {
	return int64(threshold*10000 + 0.5)
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
