package cycles

import (
	"math"
	"testing"

	"copytrade-engine/internal/domain"
)

// feed pushes a strictly ordered tick sequence through the tracker and
// collects every transition.
func feed(t *testing.T, tr *Tracker, instrument string, prices []float64) []domain.CycleTransition {
	t.Helper()
	var all []domain.CycleTransition
	for i, p := range prices {
		transitions, err := tr.Observe(instrument, p, int64(1000+i*1000))
		if err != nil {
			t.Fatalf("tick %d: Observe failed: %v", i, err)
		}
		all = append(all, transitions...)
	}
	return all
}

func TestTracker_OpensAndPeaks(t *testing.T) {
	// Feed [100, 100.35, 100.5, 100.1] at threshold 0.3%: cycle opens on the
	// second tick (+0.35%), peaks at 100.5, closes on the reversion to 100.1.
	tr := New([]float64{0.003}, 1.0)
	transitions := feed(t, tr, "SOL-USDC", []float64{100, 100.35, 100.5, 100.1})

	if len(transitions) != 2 {
		t.Fatalf("expected open+close, got %d transitions", len(transitions))
	}
	if transitions[0].Kind != domain.TransitionOpen {
		t.Errorf("first transition = %s, want open", transitions[0].Kind)
	}
	open := transitions[0].Cycle
	if open.StartTimeMs != 2000 {
		t.Errorf("cycle opened at %d, want 2000", open.StartTimeMs)
	}
	if open.SequenceStartPrice != 100 {
		t.Errorf("sequence_start_price = %v, want 100", open.SequenceStartPrice)
	}

	closed := transitions[1].Cycle
	if closed.EndTimeMs == nil || *closed.EndTimeMs != 4000 {
		t.Errorf("cycle close time = %v, want 4000", closed.EndTimeMs)
	}
	if closed.HighestPriceReached != 100.5 {
		t.Errorf("highest_price_reached = %v, want 100.5", closed.HighestPriceReached)
	}
	wantMax := (100.5 - 100.0) / 100.0
	if math.Abs(closed.MaxPercentIncrease-wantMax) > 1e-12 {
		t.Errorf("max_percent_increase = %v, want %v", closed.MaxPercentIncrease, wantMax)
	}
}

func TestTracker_ClosedCycleInvariant(t *testing.T) {
	// For any closed cycle: max_percent_increase == (highest - reference) / reference.
	tr := New([]float64{0.003}, 1.0)
	transitions := feed(t, tr, "SOL-USDC",
		[]float64{100, 100.4, 100.9, 100.7, 101.2, 100.8, 100.05})

	var closed *domain.PriceCycle
	for _, trn := range transitions {
		if trn.Kind == domain.TransitionClose {
			closed = trn.Cycle
		}
	}
	if closed == nil {
		t.Fatal("no cycle closed")
	}
	want := (closed.HighestPriceReached - closed.SequenceStartPrice) / closed.SequenceStartPrice
	if closed.MaxPercentIncrease != want {
		t.Errorf("max_percent_increase = %v, want %v", closed.MaxPercentIncrease, want)
	}
}

func TestTracker_MonotonicHighLow(t *testing.T) {
	tr := New([]float64{0.003}, 1.0)
	prices := []float64{100, 100.5, 100.2, 100.9, 100.4, 101.0, 100.6}

	var prevHigh, prevLow float64
	for i, p := range prices {
		if _, err := tr.Observe("SOL-USDC", p, int64(1000+i*1000)); err != nil {
			t.Fatalf("Observe failed: %v", err)
		}
		active := tr.ActiveCycle("SOL-USDC", 0.003)
		if active == nil {
			continue
		}
		if prevHigh != 0 && active.HighestPriceReached < prevHigh {
			t.Errorf("tick %d: highest decreased from %v to %v", i, prevHigh, active.HighestPriceReached)
		}
		if prevLow != 0 && active.LowestPriceReached > prevLow {
			t.Errorf("tick %d: lowest increased from %v to %v", i, prevLow, active.LowestPriceReached)
		}
		prevHigh = active.HighestPriceReached
		prevLow = active.LowestPriceReached
	}
}

func TestTracker_DownwardCycle(t *testing.T) {
	// A drop beyond the threshold opens a cycle just like a rise.
	tr := New([]float64{0.003}, 1.0)
	transitions := feed(t, tr, "SOL-USDC", []float64{100, 99.6})

	if len(transitions) != 1 || transitions[0].Kind != domain.TransitionOpen {
		t.Fatalf("expected one open transition, got %v", transitions)
	}
	if transitions[0].Cycle.MaxPercentIncrease >= 0 {
		t.Errorf("downward open should carry negative max_percent_increase, got %v",
			transitions[0].Cycle.MaxPercentIncrease)
	}
}

func TestTracker_IndependentThresholds(t *testing.T) {
	// 0.2% opens on a +0.25% move; 0.5% stays flat. Cycles overlap freely.
	tr := New([]float64{0.002, 0.005}, 1.0)
	feed(t, tr, "SOL-USDC", []float64{100, 100.25})

	if tr.ActiveCycle("SOL-USDC", 0.002) == nil {
		t.Error("0.2% threshold should have an active cycle")
	}
	if tr.ActiveCycle("SOL-USDC", 0.005) != nil {
		t.Error("0.5% threshold should not have opened")
	}

	// The larger threshold opens later without disturbing the first.
	if _, err := tr.Observe("SOL-USDC", 100.6, 3000); err != nil {
		t.Fatalf("Observe failed: %v", err)
	}
	if tr.ActiveCycle("SOL-USDC", 0.005) == nil {
		t.Error("0.5% threshold should have opened on +0.6%")
	}
	if got := tr.ActiveCycle("SOL-USDC", 0.002); got == nil || got.Seq != 1 {
		t.Errorf("0.2%% cycle disturbed by 0.5%% open: %+v", got)
	}
}

func TestTracker_RejectsOutOfOrder(t *testing.T) {
	tr := New([]float64{0.003}, 1.0)
	if _, err := tr.Observe("SOL-USDC", 100, 2000); err != nil {
		t.Fatalf("Observe failed: %v", err)
	}

	before := tr.ActiveCycle("SOL-USDC", 0.003)
	if _, err := tr.Observe("SOL-USDC", 150, 2000); err != ErrOutOfOrder {
		t.Fatalf("expected ErrOutOfOrder for equal timestamp, got %v", err)
	}
	if _, err := tr.Observe("SOL-USDC", 150, 1500); err != ErrOutOfOrder {
		t.Fatalf("expected ErrOutOfOrder for earlier timestamp, got %v", err)
	}

	// Rejected ticks must not have mutated state.
	after := tr.ActiveCycle("SOL-USDC", 0.003)
	if (before == nil) != (after == nil) {
		t.Error("rejected tick mutated cycle state")
	}
	if tr.Diagnostics().OutOfOrderRejected != 2 {
		t.Errorf("OutOfOrderRejected = %d, want 2", tr.Diagnostics().OutOfOrderRejected)
	}
}

func TestTracker_NewReferenceAfterClose(t *testing.T) {
	tr := New([]float64{0.003}, 1.0)
	// Open at 100.35, close at 100.05; the close price becomes the reference,
	// so the next +0.4% move from 100.05 opens a second cycle.
	transitions := feed(t, tr, "SOL-USDC", []float64{100, 100.35, 100.05, 100.46})

	var opens int
	var last *domain.PriceCycle
	for _, trn := range transitions {
		if trn.Kind == domain.TransitionOpen {
			opens++
			last = trn.Cycle
		}
	}
	if opens != 2 {
		t.Fatalf("expected 2 opens, got %d", opens)
	}
	if last.SequenceStartPrice != 100.05 {
		t.Errorf("second cycle reference = %v, want 100.05 (the closing price)", last.SequenceStartPrice)
	}
	if last.Seq != 2 {
		t.Errorf("second cycle seq = %d, want 2", last.Seq)
	}
}
