package queries

import (
	"context"
	"strconv"
	"testing"

	"copytrade-engine/internal/breaker"
	"copytrade-engine/internal/domain"
	"copytrade-engine/internal/storage/memory"
)

func ptr[T any](v T) *T { return &v }

func closedCycle(instrument string, thresholdBps, seq, startMs int64) *domain.PriceCycle {
	end := startMs + 500
	return &domain.PriceCycle{
		CycleID:      instrument + "-" + strconv.FormatInt(thresholdBps, 10) + "-" + string(rune('a'+seq)),
		Seq:          seq,
		Instrument:   instrument,
		Threshold:    float64(thresholdBps) / 10_000,
		ThresholdBps: thresholdBps,
		StartTimeMs:  startMs,
		EndTimeMs:    &end,
	}
}

func TestRecentCycles_CountsSeqGaps(t *testing.T) {
	ctx := context.Background()
	cycleStore := memory.NewCycleStore()

	// Seq 4 is missing from the 30bps series; the 50bps series is noise.
	for _, c := range []*domain.PriceCycle{
		closedCycle("SOL-USDC", 30, 1, 1000),
		closedCycle("SOL-USDC", 30, 2, 2000),
		closedCycle("SOL-USDC", 30, 3, 3000),
		closedCycle("SOL-USDC", 30, 5, 5000),
		closedCycle("SOL-USDC", 50, 1, 1500),
	} {
		if err := cycleStore.Insert(ctx, c); err != nil {
			t.Fatalf("seed cycle: %v", err)
		}
	}

	svc := NewService(cycleStore, memory.NewPositionStore(), memory.NewPriceCheckStore(), breaker.New(4, 0.5))

	w, err := svc.RecentCycles(ctx, "SOL-USDC", 30, 0, 10_000)
	if err != nil {
		t.Fatalf("RecentCycles failed: %v", err)
	}
	if len(w.Cycles) != 4 {
		t.Errorf("window has %d cycles, want 4 (50bps series excluded)", len(w.Cycles))
	}
	if w.SeqGaps != 1 {
		t.Errorf("seq gaps = %d, want 1", w.SeqGaps)
	}

	// A narrower window drops the early cycles.
	w, err = svc.RecentCycles(ctx, "SOL-USDC", 30, 2500, 10_000)
	if err != nil {
		t.Fatalf("RecentCycles failed: %v", err)
	}
	if len(w.Cycles) != 2 {
		t.Errorf("narrow window has %d cycles, want 2", len(w.Cycles))
	}
}

func TestPositionDetail(t *testing.T) {
	ctx := context.Background()
	positions := memory.NewPositionStore()
	checks := memory.NewPriceCheckStore()

	p := &domain.Position{
		PositionID:  "pos-1",
		Instrument:  "SOL-USDC",
		EntryPrice:  100,
		EntryTimeMs: 1000,
		Status:      domain.StatusPending,
		ValidatorLog: &domain.ValidatorLog{
			SchemaVersion: domain.ValidatorSchemaVersion,
			Passed:        true,
		},
	}
	if err := positions.Insert(ctx, p); err != nil {
		t.Fatalf("seed position: %v", err)
	}
	for _, c := range []*domain.PriceCheck{
		{CheckID: "c1", PositionID: "pos-1", CheckedAt: 2000},
		{CheckID: "c2", PositionID: "pos-1", CheckedAt: 3000, IsBackfill: true},
		{CheckID: "c3", PositionID: "pos-1", CheckedAt: 4000},
	} {
		if err := checks.Insert(ctx, c); err != nil {
			t.Fatalf("seed check: %v", err)
		}
	}

	svc := NewService(memory.NewCycleStore(), positions, checks, breaker.New(4, 0.5))

	d, err := svc.PositionDetail(ctx, "pos-1")
	if err != nil {
		t.Fatalf("PositionDetail failed: %v", err)
	}
	if len(d.Checks) != 3 || d.LiveChecks != 2 || d.BackfillChecks != 1 {
		t.Errorf("detail = %d checks (%d live, %d backfill), want 3/2/1",
			len(d.Checks), d.LiveChecks, d.BackfillChecks)
	}

	vlog, err := svc.ValidatorBreakdown(ctx, "pos-1")
	if err != nil {
		t.Fatalf("ValidatorBreakdown failed: %v", err)
	}
	if !vlog.Passed {
		t.Error("validator breakdown lost the pass flag")
	}

	if _, err := svc.PositionDetail(ctx, "missing"); err == nil {
		t.Error("missing position did not error")
	}
}

func TestBreakerStatusAndResolvedPositions(t *testing.T) {
	ctx := context.Background()
	positions := memory.NewPositionStore()

	cb := breaker.New(4, 0.5)
	cb.RecordOutcome(true, 1000)
	cb.RecordOutcome(false, 2000)
	cb.RecordSuppression()

	seed := []*domain.Position{
		{PositionID: "p1", EntryTimeMs: 1000, Status: domain.StatusSold, ProfitLossPct: ptr(0.02)},
		{PositionID: "p2", EntryTimeMs: 2000, Status: domain.StatusPending},
		{PositionID: "p3", EntryTimeMs: 3000, Status: domain.StatusNoGo, ProfitLossPct: ptr(-0.01)},
		{PositionID: "p4", EntryTimeMs: 4000, Status: domain.StatusCancelled},
	}
	for _, p := range seed {
		if err := positions.Insert(ctx, p); err != nil {
			t.Fatalf("seed position: %v", err)
		}
	}

	svc := NewService(memory.NewCycleStore(), positions, memory.NewPriceCheckStore(), cb)

	st := svc.BreakerStatus()
	if st.Wins != 1 || st.Losses != 1 || st.Suppressed != 1 {
		t.Errorf("breaker status = %+v, want 1 win, 1 loss, 1 suppression", st)
	}

	resolved, err := svc.ResolvedPositions(ctx, 0, 10_000)
	if err != nil {
		t.Fatalf("ResolvedPositions failed: %v", err)
	}
	if len(resolved) != 2 {
		t.Fatalf("resolved = %d positions, want 2 (pending and cancelled excluded)", len(resolved))
	}
	if resolved[0].PositionID != "p1" || resolved[1].PositionID != "p3" {
		t.Errorf("resolved order wrong: %s, %s", resolved[0].PositionID, resolved[1].PositionID)
	}
}
