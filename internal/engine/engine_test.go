package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"copytrade-engine/internal/breaker"
	"copytrade-engine/internal/domain"
	"copytrade-engine/internal/filters"
	"copytrade-engine/internal/gate"
	"copytrade-engine/internal/observability"
	"copytrade-engine/internal/storage/memory"
)

// promauto registers into the process-global registry, so the package shares
// one instance across tests.
var testMetrics = observability.NewMetrics("copytrade_engine_engine_test")

func ptr[T any](v T) *T { return &v }

type stubFeatures struct {
	vector domain.FeatureVector
	err    error
}

func (s *stubFeatures) Features(_ context.Context, _, _ string, _ int64) (domain.FeatureVector, error) {
	return s.vector, s.err
}

// passingProject matches any vector carrying entry-minute volume >= 10.
func passingProject() domain.FilterProject {
	return domain.FilterProject{
		ProjectID: "proj-1",
		Name:      "baseline",
		Rules: []domain.FilterRule{{
			RuleID:    "rule-1",
			ProjectID: "proj-1",
			Section:   "entry",
			FieldName: "volume",
			FieldType: domain.FieldNumeric,
			FromValue: ptr(10.0),
			IsActive:  true,
		}},
	}
}

func testRules() domain.ToleranceRules {
	return domain.ToleranceRules{
		SchemaVersion: domain.ToleranceSchemaVersion,
		Increases:     []domain.ToleranceBand{{GainFrom: 0, Tolerance: 0.0012}},
		Decrease:      0.01,
	}
}

type testEnv struct {
	engine    *Engine
	breaker   *breaker.CircuitBreaker
	positions *memory.PositionStore
	checks    *memory.PriceCheckStore
	breakers  *memory.BreakerStateStore
	prices    *memory.PricePointStore
	features  *stubFeatures
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cb := breaker.New(4, 0.5)
	cfgStore := filters.NewConfigStore()
	if err := cfgStore.Replace([]domain.FilterProject{passingProject()}); err != nil {
		t.Fatalf("seed filter config: %v", err)
	}

	prices := memory.NewPricePointStore()
	g := gate.New(gate.DefaultConfig(), PriceWindow{Store: prices})

	features := &stubFeatures{vector: domain.FeatureVector{
		{Section: "entry", MinuteOffset: 0, FieldName: "volume"}: 50,
	}}

	positions := memory.NewPositionStore()
	checks := memory.NewPriceCheckStore()
	breakers := memory.NewBreakerStateStore()

	cfg := DefaultConfig()
	cfg.ToleranceRules = testRules()

	eng, err := New(cfg, cb, cfgStore, g, features,
		positions, checks, breakers, nil, zerolog.Nop(), testMetrics)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	return &testEnv{
		engine: eng, breaker: cb, positions: positions, checks: checks,
		breakers: breakers, prices: prices, features: features,
	}
}

// seedGateWindow stores a flat short-horizon trend ending at nowMs so the
// continuation gate passes.
func (env *testEnv) seedGateWindow(t *testing.T, instrument string, nowMs int64, price float64) {
	t.Helper()
	points := []*domain.PricePoint{
		{Instrument: instrument, TimestampMs: nowMs - 90_000, Price: price},
		{Instrument: instrument, TimestampMs: nowMs, Price: price},
	}
	if err := env.prices.InsertBulk(context.Background(), points); err != nil {
		t.Fatalf("seed gate window: %v", err)
	}
}

func buyEvent(wallet, instrument string, ts int64) *domain.TradeEvent {
	return &domain.TradeEvent{
		Wallet:      wallet,
		Signature:   "sig-" + wallet,
		TimestampMs: ts,
		Instrument:  instrument,
		Direction:   domain.DirectionBuy,
	}
}

func TestHandleTrade_OpensPosition(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.seedGateWindow(t, "SOL-USDC", 10_000, 100.2)
	env.engine.HandleTick(ctx, &domain.PricePoint{Instrument: "SOL-USDC", Price: 100.2, TimestampMs: 10_000})
	env.engine.HandleTrade(ctx, buyEvent("wallet-a", "SOL-USDC", 10_000))
	env.engine.Flush(ctx)

	if env.engine.OpenCount() != 1 {
		t.Fatalf("open count = %d, want 1", env.engine.OpenCount())
	}

	open, err := env.positions.GetOpen(ctx)
	if err != nil {
		t.Fatalf("GetOpen failed: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("persisted %d open positions, want 1", len(open))
	}

	p := open[0]
	if p.EntryPrice != 100.2 {
		t.Errorf("entry price = %v, want the last observed tick 100.2", p.EntryPrice)
	}
	if p.Source != "wallet-a" || p.Status != domain.StatusPending {
		t.Errorf("unexpected position: source=%s status=%s", p.Source, p.Status)
	}
	if p.ValidatorLog == nil || !p.ValidatorLog.Passed {
		t.Error("position missing its passing validator log snapshot")
	}
	if len(p.ValidatorLog.Projects) != 1 || p.ValidatorLog.Projects[0].RulesPassed != 1 {
		t.Errorf("validator log breakdown incomplete: %+v", p.ValidatorLog)
	}
}

func TestHandleTrade_IgnoresSells(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.seedGateWindow(t, "SOL-USDC", 10_000, 100.2)
	env.engine.HandleTick(ctx, &domain.PricePoint{Instrument: "SOL-USDC", Price: 100.2, TimestampMs: 10_000})

	ev := buyEvent("wallet-a", "SOL-USDC", 10_000)
	ev.Direction = domain.DirectionSell
	env.engine.HandleTrade(ctx, ev)

	if env.engine.OpenCount() != 0 {
		t.Error("sell event opened a position")
	}
}

func TestHandleTrade_BreakerSuppressesBeforeFilters(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Four straight losses trips a window-4 breaker with a 0.5 threshold.
	for i := 0; i < 4; i++ {
		env.breaker.RecordOutcome(false, int64(i))
	}
	if !env.breaker.IsTripped() {
		t.Fatal("breaker should be tripped after four losses")
	}

	env.seedGateWindow(t, "SOL-USDC", 10_000, 100.2)
	env.engine.HandleTick(ctx, &domain.PricePoint{Instrument: "SOL-USDC", Price: 100.2, TimestampMs: 10_000})
	env.engine.HandleTrade(ctx, buyEvent("wallet-a", "SOL-USDC", 10_000))

	if env.engine.OpenCount() != 0 {
		t.Error("tripped breaker still admitted a candidate")
	}
	if env.breaker.Suppressed() != 1 {
		t.Errorf("suppressed = %d, want 1", env.breaker.Suppressed())
	}
	// Suppressions never enter the win/loss window.
	if got := len(env.breaker.State().RecentOutcomes); got != 4 {
		t.Errorf("window length = %d, want 4", got)
	}
}

func TestHandleTrade_FilterRejection(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.features.vector = domain.FeatureVector{
		{Section: "entry", MinuteOffset: 0, FieldName: "volume"}: 5, // below from_value
	}

	env.seedGateWindow(t, "SOL-USDC", 10_000, 100.2)
	env.engine.HandleTick(ctx, &domain.PricePoint{Instrument: "SOL-USDC", Price: 100.2, TimestampMs: 10_000})
	env.engine.HandleTrade(ctx, buyEvent("wallet-a", "SOL-USDC", 10_000))

	if env.engine.OpenCount() != 0 {
		t.Error("failing filter vector still opened a position")
	}
}

func TestHandleTrade_GateFailsClosedWithoutData(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Last tick known, but the gate's re-sample window is empty.
	env.engine.HandleTick(ctx, &domain.PricePoint{Instrument: "SOL-USDC", Price: 100.2, TimestampMs: 10_000})
	env.engine.HandleTrade(ctx, buyEvent("wallet-a", "SOL-USDC", 10_000))

	if env.engine.OpenCount() != 0 {
		t.Error("gate admitted a candidate without price data")
	}
}

func TestEvaluateAt_TrailingSellFeedsBreaker(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.seedGateWindow(t, "SOL-USDC", 10_000, 100.2)
	env.engine.HandleTick(ctx, &domain.PricePoint{Instrument: "SOL-USDC", Price: 100.2, TimestampMs: 10_000})
	env.engine.HandleTrade(ctx, buyEvent("wallet-a", "SOL-USDC", 10_000))

	// Peak, then a drop past the 0.12% band.
	env.engine.HandleTick(ctx, &domain.PricePoint{Instrument: "SOL-USDC", Price: 100.5, TimestampMs: 20_000})
	env.engine.EvaluateAt(ctx, 20_000)
	if env.engine.OpenCount() != 1 {
		t.Fatal("position closed at its peak")
	}

	env.engine.HandleTick(ctx, &domain.PricePoint{Instrument: "SOL-USDC", Price: 100.37, TimestampMs: 30_000})
	env.engine.EvaluateAt(ctx, 30_000)
	env.engine.Flush(ctx)

	if env.engine.OpenCount() != 0 {
		t.Fatal("sell decision left the position open")
	}

	sold, err := env.positions.GetByStatus(ctx, domain.StatusSold)
	if err != nil {
		t.Fatalf("GetByStatus failed: %v", err)
	}
	if len(sold) != 1 {
		t.Fatalf("persisted %d sold positions, want 1", len(sold))
	}
	if sold[0].ExitPrice == nil || *sold[0].ExitPrice != 100.37 {
		t.Errorf("exit price = %v, want 100.37", sold[0].ExitPrice)
	}

	checks, err := env.checks.GetByPositionID(ctx, sold[0].PositionID)
	if err != nil {
		t.Fatalf("GetByPositionID failed: %v", err)
	}
	if len(checks) != 2 {
		t.Fatalf("recorded %d checks, want 2", len(checks))
	}
	if checks[0].ShouldSell || !checks[1].ShouldSell {
		t.Errorf("check trail should end with the terminal sell: %+v", checks)
	}

	// The win lands in the breaker window; a persisted snapshot follows.
	state := env.breaker.State()
	if state.Wins != 1 || len(state.RecentOutcomes) != 1 {
		t.Errorf("breaker window = %+v, want one recorded win", state)
	}
	if _, err := env.breakers.Latest(ctx); err != nil {
		t.Errorf("no breaker snapshot persisted after resolution: %v", err)
	}
}

func TestManualClose(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.seedGateWindow(t, "SOL-USDC", 10_000, 100.2)
	env.engine.HandleTick(ctx, &domain.PricePoint{Instrument: "SOL-USDC", Price: 100.2, TimestampMs: 10_000})
	env.engine.HandleTrade(ctx, buyEvent("wallet-a", "SOL-USDC", 10_000))
	env.engine.Flush(ctx)

	open, _ := env.positions.GetOpen(ctx)
	if len(open) != 1 {
		t.Fatalf("expected one open position, got %d", len(open))
	}
	id := open[0].PositionID

	if err := env.engine.ManualClose(ctx, id, 15_000); err != nil {
		t.Fatalf("ManualClose failed: %v", err)
	}
	if env.engine.OpenCount() != 0 {
		t.Error("manual close left the position in the live set")
	}

	p, err := env.positions.GetByID(ctx, id)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if p.Status != domain.StatusCancelled {
		t.Errorf("status = %s, want cancelled", p.Status)
	}
	if p.ProfitLossPct != nil {
		t.Error("cancelled position must not carry a realized P/L")
	}

	// Cancelled positions never reach the breaker.
	if got := len(env.breaker.State().RecentOutcomes); got != 0 {
		t.Errorf("breaker window length = %d, want 0", got)
	}

	if err := env.engine.ManualClose(ctx, id, 16_000); !errors.Is(err, ErrPositionNotOpen) {
		t.Errorf("second ManualClose: got %v, want ErrPositionNotOpen", err)
	}
}

func TestRestore(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	seed := &domain.Position{
		PositionID:        "pos-restored",
		PlayID:            "default",
		Source:            "wallet-a",
		Instrument:        "SOL-USDC",
		EntryPrice:        100,
		EntryTimeMs:       1000,
		Status:            domain.StatusPending,
		HighestPriceSoFar: 101,
		ToleranceRules:    testRules(),
	}
	if err := env.positions.Insert(ctx, seed); err != nil {
		t.Fatalf("seed position: %v", err)
	}
	if err := env.breakers.Save(ctx, &domain.BreakerState{
		WindowSize:     4,
		RecentOutcomes: []bool{false, false, false, false},
		Losses:         4,
		TripThreshold:  0.5,
		Tripped:        true,
		UpdatedAtMs:    5000,
	}); err != nil {
		t.Fatalf("seed breaker snapshot: %v", err)
	}

	if err := env.engine.Restore(ctx); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if env.engine.OpenCount() != 1 {
		t.Errorf("open count after restore = %d, want 1", env.engine.OpenCount())
	}
	if !env.breaker.IsTripped() {
		t.Error("restored breaker lost its tripped window")
	}
}
