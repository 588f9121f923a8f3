package reporting

import (
	"context"
	"strings"
	"testing"
	"time"

	"copytrade-engine/internal/breaker"
	"copytrade-engine/internal/domain"
	"copytrade-engine/internal/queries"
	"copytrade-engine/internal/storage/memory"
)

func ptr[T any](v T) *T { return &v }

func resolvedPosition(id, source string, entryMs int64, status domain.PositionStatus, pnl float64) *domain.Position {
	exitMs := entryMs + 60_000
	return &domain.Position{
		PositionID:    id,
		Source:        source,
		Instrument:    "SOL-USDC",
		EntryPrice:    100,
		EntryTimeMs:   entryMs,
		Status:        status,
		ExitPrice:     ptr(100 * (1 + pnl)),
		ExitTimeMs:    &exitMs,
		ProfitLossPct: &pnl,
	}
}

func newTestGenerator(t *testing.T) (*Generator, *memory.PositionStore, *breaker.CircuitBreaker) {
	t.Helper()
	positions := memory.NewPositionStore()
	cb := breaker.New(4, 0.5)
	svc := queries.NewService(memory.NewCycleStore(), positions, memory.NewPriceCheckStore(), cb)
	gen := NewGenerator(svc).WithClock(func() time.Time {
		return time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	})
	return gen, positions, cb
}

func TestGenerate(t *testing.T) {
	gen, positions, cb := newTestGenerator(t)
	ctx := context.Background()

	seed := []*domain.Position{
		resolvedPosition("pos-1", "wallet-a", 1000, domain.StatusSold, 0.02),
		resolvedPosition("pos-2", "wallet-a", 2000, domain.StatusNoGo, -0.01),
		resolvedPosition("pos-3", "wallet-b", 3000, domain.StatusSold, 0.04),
		{PositionID: "pos-4", Source: "wallet-b", EntryTimeMs: 4000, Status: domain.StatusPending},
	}
	for _, p := range seed {
		if err := positions.Insert(ctx, p); err != nil {
			t.Fatalf("seed position: %v", err)
		}
	}
	cb.RecordOutcome(true, 1000)
	cb.RecordOutcome(false, 2000)

	r, err := gen.Generate(ctx, 0, 10_000)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if r.Summary.TotalResolved != 3 || r.Summary.Wins != 2 || r.Summary.Losses != 1 {
		t.Errorf("summary = %+v, want 3 resolved, 2 wins, 1 loss", r.Summary)
	}
	if r.Summary.WinRate < 0.666 || r.Summary.WinRate > 0.667 {
		t.Errorf("win rate = %v, want 2/3", r.Summary.WinRate)
	}
	if r.Summary.PnLMedian != 0.02 {
		t.Errorf("median = %v, want 0.02", r.Summary.PnLMedian)
	}
	if r.Summary.PnLMin != -0.01 || r.Summary.PnLMax != 0.04 {
		t.Errorf("pnl range = [%v, %v], want [-0.01, 0.04]", r.Summary.PnLMin, r.Summary.PnLMax)
	}
	if r.Summary.AvgHoldMs != 60_000 {
		t.Errorf("avg hold = %d, want 60000", r.Summary.AvgHoldMs)
	}

	if len(r.Sources) != 2 || r.Sources[0].Source != "wallet-a" || r.Sources[1].Source != "wallet-b" {
		t.Fatalf("sources = %+v, want wallet-a then wallet-b", r.Sources)
	}
	if r.Sources[0].Resolved != 2 || r.Sources[0].Wins != 1 {
		t.Errorf("wallet-a row = %+v, want 2 resolved, 1 win", r.Sources[0])
	}

	if r.Breaker.WindowLength != 2 || r.Breaker.WinRate != 0.5 {
		t.Errorf("breaker section = %+v, want window 2 at 0.5", r.Breaker)
	}
	if len(r.Positions) != 3 {
		t.Errorf("position rows = %d, want 3 (pending excluded)", len(r.Positions))
	}
}

func TestGenerate_EmptyWindow(t *testing.T) {
	gen, _, _ := newTestGenerator(t)

	r, err := gen.Generate(context.Background(), 0, 10_000)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if r.Summary.TotalResolved != 0 {
		t.Errorf("empty window reported %d resolved", r.Summary.TotalResolved)
	}

	md := RenderMarkdown(r)
	if !strings.Contains(md, "No resolved positions in window.") {
		t.Error("markdown missing empty-window text")
	}
}

func TestRenderMarkdown(t *testing.T) {
	gen, positions, _ := newTestGenerator(t)
	ctx := context.Background()

	if err := positions.Insert(ctx, resolvedPosition("pos-markdown-1", "wallet-a", 1000, domain.StatusSold, 0.02)); err != nil {
		t.Fatalf("seed position: %v", err)
	}

	r, err := gen.Generate(ctx, 0, 10_000)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	md := RenderMarkdown(r)
	for _, want := range []string{
		"# Copytrade Engine Report",
		"Generated: 2026-08-29T12:00:00Z",
		"| Resolved Positions | 1 |",
		"Status: **CLEAR**",
		"| wallet-a | 1 | 1 | 1.0000 |",
		"| pos-markdown | wallet-a | SOL-USDC |",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q", want)
		}
	}
}

func TestRenderCSV(t *testing.T) {
	rows := []PositionRow{
		{PositionID: "pos-1", Source: "wallet-a", Instrument: "SOL-USDC",
			EntryTimeMs: 1000, ExitTimeMs: 61_000, Status: "sold", PnLPct: 0.02, HoldMs: 60_000},
	}

	csv := RenderCSV(rows)
	lines := strings.Split(strings.TrimSpace(csv), "\n")
	if len(lines) != 2 {
		t.Fatalf("csv has %d lines, want header + 1 row", len(lines))
	}
	if lines[0] != "position_id,source,instrument,entry_time_ms,exit_time_ms,status,pnl_pct,hold_ms" {
		t.Errorf("unexpected header: %s", lines[0])
	}
	if lines[1] != "pos-1,wallet-a,SOL-USDC,1000,61000,sold,0.020000,60000" {
		t.Errorf("unexpected row: %s", lines[1])
	}
}
