package breaker

import "testing"

func TestBreaker_TripsOnAllLosses(t *testing.T) {
	b := New(10, 0.35)
	if b.IsTripped() {
		t.Fatal("fresh breaker must not start tripped")
	}

	for i := 0; i < 10; i++ {
		b.RecordOutcome(false, int64(1000+i))
	}
	if !b.IsTripped() {
		t.Error("a window of all losses must trip the breaker")
	}
	if got := b.State().WinRate; got != 0 {
		t.Errorf("win rate = %v, want 0", got)
	}
}

func TestBreaker_RecoversOnWins(t *testing.T) {
	b := New(10, 0.35)
	for i := 0; i < 10; i++ {
		b.RecordOutcome(false, int64(i))
	}
	if !b.IsTripped() {
		t.Fatal("breaker should be tripped")
	}

	// Feed wins until the rolling win rate climbs back above the threshold.
	// After 4 wins the window is [6 losses, 4 wins] -> 40% >= 35%.
	for i := 0; i < 4; i++ {
		b.RecordOutcome(true, int64(100+i))
	}
	if b.IsTripped() {
		t.Errorf("breaker should have recovered at win rate %v", b.State().WinRate)
	}
}

func TestBreaker_LevelTriggered(t *testing.T) {
	// The gate re-trips whenever the level condition holds again; it is not
	// a one-shot latch.
	b := New(4, 0.5)
	b.RecordOutcome(true, 1)
	b.RecordOutcome(true, 2)
	b.RecordOutcome(false, 3)
	b.RecordOutcome(false, 4)
	if b.IsTripped() {
		t.Fatal("50% win rate is not below a 50% threshold")
	}
	b.RecordOutcome(false, 5) // window now [true, false, false, false]
	if !b.IsTripped() {
		t.Error("win rate 25% must trip")
	}
	b.RecordOutcome(true, 6) // window now [false, false, false, true]
	if !b.IsTripped() {
		t.Error("win rate 25% must keep the breaker tripped")
	}
	b.RecordOutcome(true, 7)
	b.RecordOutcome(true, 8) // window now [false, true, true, true]
	if b.IsTripped() {
		t.Error("win rate 75% must clear the trip")
	}
}

func TestBreaker_WindowNeverExceedsSize(t *testing.T) {
	b := New(5, 0.35)
	for i := 0; i < 50; i++ {
		b.RecordOutcome(i%2 == 0, int64(i))
	}
	if got := len(b.State().RecentOutcomes); got != 5 {
		t.Errorf("window length = %d, want 5", got)
	}
}

func TestBreaker_SuppressionsAreNotLosses(t *testing.T) {
	b := New(10, 0.35)
	b.RecordOutcome(true, 1)
	b.RecordSuppression()
	b.RecordSuppression()

	state := b.State()
	if len(state.RecentOutcomes) != 1 {
		t.Errorf("suppressions leaked into the outcome window: %v", state.RecentOutcomes)
	}
	if b.Suppressed() != 2 {
		t.Errorf("suppressed = %d, want 2", b.Suppressed())
	}
}

func TestBreaker_Restore(t *testing.T) {
	b := New(10, 0.35)
	for i := 0; i < 10; i++ {
		b.RecordOutcome(false, int64(i))
	}
	state := b.State()

	restored := New(10, 0.35)
	restored.Restore(state)
	if !restored.IsTripped() {
		t.Error("restored breaker must recompute the tripped level")
	}
	if got := len(restored.State().RecentOutcomes); got != 10 {
		t.Errorf("restored window length = %d, want 10", got)
	}
}
