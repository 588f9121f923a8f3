package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"copytrade-engine/internal/breaker"
	"copytrade-engine/internal/domain"
	"copytrade-engine/internal/queries"
	"copytrade-engine/internal/reporting"
	"copytrade-engine/internal/storage/memory"
)

func newTestScheduler(t *testing.T) (*Scheduler, *memory.BreakerStateStore, *memory.PricePointStore, *memory.PricePointStore) {
	t.Helper()

	cb := breaker.New(4, 0.5)
	breakerStore := memory.NewBreakerStateStore()
	hot := memory.NewPricePointStore()
	archive := memory.NewPricePointStore()
	positions := memory.NewPositionStore()

	gen := reporting.NewGenerator(
		queries.NewService(memory.NewCycleStore(), positions, memory.NewPriceCheckStore(), cb),
	).WithClock(func() time.Time {
		return time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	})

	cfg := DefaultConfig()
	cfg.Instruments = []string{"SOL-USDC"}
	cfg.ReportDir = filepath.Join(t.TempDir(), "reports")

	s := New(context.Background(), cfg, cb, breakerStore, hot, archive, gen, nil, zerolog.Nop())
	return s, breakerStore, hot, archive
}

func TestRegisterAll(t *testing.T) {
	s, _, _, _ := newTestScheduler(t)
	if err := s.RegisterAll(); err != nil {
		t.Fatalf("RegisterAll failed: %v", err)
	}
	// Snapshot + archive + report registered; cache probe skipped without a
	// cache.
	if got := len(s.Cron.Entries()); got != 3 {
		t.Errorf("registered %d cron entries, want 3", got)
	}
}

func TestCheckArchiveTask(t *testing.T) {
	s, _, _, _ := newTestScheduler(t)
	ctx := context.Background()

	positions := memory.NewPositionStore()
	checks := memory.NewPriceCheckStore()
	archive := memory.NewPriceCheckStore()
	s.WithCheckArchive(positions, checks, archive)

	if err := s.RegisterAll(); err != nil {
		t.Fatalf("RegisterAll failed: %v", err)
	}
	if got := len(s.Cron.Entries()); got != 4 {
		t.Errorf("registered %d cron entries, want 4 with trail sync enabled", got)
	}

	now := time.Now().UnixMilli()
	exitPrice, exitMs, pnl := 101.0, now-1000, 0.01
	seed := []*domain.Position{
		{PositionID: "pos-sold", Source: "wallet-a", Instrument: "SOL-USDC",
			EntryPrice: 100, EntryTimeMs: now - 60_000, Status: domain.StatusSold,
			ExitPrice: &exitPrice, ExitTimeMs: &exitMs, ProfitLossPct: &pnl},
		{PositionID: "pos-open", Source: "wallet-a", Instrument: "SOL-USDC",
			EntryPrice: 100, EntryTimeMs: now - 30_000, Status: domain.StatusPending},
	}
	for _, p := range seed {
		if err := positions.Insert(ctx, p); err != nil {
			t.Fatalf("seed position: %v", err)
		}
	}
	trail := []*domain.PriceCheck{
		{CheckID: "chk-1", PositionID: "pos-sold", CheckedAt: now - 30_000, CurrentPrice: 100.5},
		{CheckID: "chk-2", PositionID: "pos-sold", CheckedAt: now - 1000, CurrentPrice: 101.0, ShouldSell: true, WouldSell: true},
		{CheckID: "chk-3", PositionID: "pos-open", CheckedAt: now - 1000, CurrentPrice: 100.2},
	}
	for _, c := range trail {
		if err := checks.Insert(ctx, c); err != nil {
			t.Fatalf("seed check: %v", err)
		}
	}

	s.checkArchiveTask()
	// Second run must be a no-op, not an error storm.
	s.checkArchiveTask()

	synced, err := archive.GetByPositionID(ctx, "pos-sold")
	if err != nil {
		t.Fatalf("read archive: %v", err)
	}
	if len(synced) != 2 {
		t.Errorf("archived %d checks for resolved position, want 2", len(synced))
	}
	if open, _ := archive.GetByPositionID(ctx, "pos-open"); len(open) != 0 {
		t.Errorf("open position trail synced early: %d checks", len(open))
	}
}

func TestRegisterAll_RejectsBadSpec(t *testing.T) {
	s, _, _, _ := newTestScheduler(t)
	s.cfg.SnapshotCron = "not a cron spec"
	if err := s.RegisterAll(); err == nil {
		t.Fatal("invalid cron spec accepted")
	}
}

func TestSnapshotTask(t *testing.T) {
	s, breakerStore, _, _ := newTestScheduler(t)

	s.breaker.RecordOutcome(true, 1000)
	s.breaker.RecordOutcome(false, 2000)
	s.snapshotTask()

	state, err := breakerStore.Latest(context.Background())
	if err != nil {
		t.Fatalf("no snapshot persisted: %v", err)
	}
	if state.Wins != 1 || state.Losses != 1 {
		t.Errorf("snapshot = %+v, want 1 win, 1 loss", state)
	}
}

func TestArchiveTask(t *testing.T) {
	s, _, hot, archive := newTestScheduler(t)
	ctx := context.Background()

	now := time.Now().UnixMilli()
	points := []*domain.PricePoint{
		{Instrument: "SOL-USDC", TimestampMs: now - 2000, Price: 100.1},
		{Instrument: "SOL-USDC", TimestampMs: now - 1000, Price: 100.2},
	}
	if err := hot.InsertBulk(ctx, points); err != nil {
		t.Fatalf("seed hot store: %v", err)
	}

	s.archiveTask()

	synced, err := archive.GetByTimeRange(ctx, "SOL-USDC", 0, now)
	if err != nil {
		t.Fatalf("read archive: %v", err)
	}
	if len(synced) != 2 {
		t.Errorf("archived %d points, want 2", len(synced))
	}
}

func TestGenerateReport(t *testing.T) {
	s, _, _, _ := newTestScheduler(t)

	if err := s.GenerateReport(0, 10_000); err != nil {
		t.Fatalf("GenerateReport failed: %v", err)
	}

	entries, err := os.ReadDir(s.cfg.ReportDir)
	if err != nil {
		t.Fatalf("read report dir: %v", err)
	}
	var md, csv bool
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".md") {
			md = true
		}
		if strings.HasSuffix(e.Name(), ".csv") {
			csv = true
		}
	}
	if !md || !csv {
		t.Errorf("report dir missing outputs: md=%v csv=%v", md, csv)
	}
}
