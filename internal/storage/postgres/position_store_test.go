package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"copytrade-engine/internal/domain"
	"copytrade-engine/internal/storage"
)

func TestPositionStoreIntegration(t *testing.T) {
	if os.Getenv("INTEGRATION") == "" {
		t.Skip("set INTEGRATION=1 to run postgres integration tests")
	}

	pool, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	positions := NewPositionStore(pool)
	checks := NewPriceCheckStore(pool)

	p := &domain.Position{
		PositionID:  "pos-1",
		PlayID:      "play-1",
		Source:      "wallet-abc",
		Instrument:  "SOL-USDC",
		EntryPrice:  100,
		EntryTimeMs: 1000,
		Status:      domain.StatusPending,
		ToleranceRules: domain.ToleranceRules{
			SchemaVersion: domain.ToleranceSchemaVersion,
			Increases: []domain.ToleranceBand{
				{GainFrom: 0, GainTo: ptr(0.003), Tolerance: 0.002},
				{GainFrom: 0.003, Tolerance: 0.0012},
			},
			Decrease: 0.02,
		},
		ValidatorLog: &domain.ValidatorLog{
			SchemaVersion: domain.ValidatorSchemaVersion,
			EvaluatedAt:   1000,
			Passed:        true,
		},
	}

	require.NoError(t, positions.Insert(ctx, p))
	require.ErrorIs(t, positions.Insert(ctx, p), storage.ErrDuplicateKey)

	got, err := positions.GetByID(ctx, "pos-1")
	require.NoError(t, err)
	require.Equal(t, p.ToleranceRules, got.ToleranceRules, "tolerance snapshot must round-trip through jsonb")
	require.NotNil(t, got.ValidatorLog)
	require.True(t, got.ValidatorLog.Passed)

	// Close the position and verify the update path.
	got.Status = domain.StatusSold
	got.HighestPriceSoFar = 100.5
	got.ExitPrice = ptr(100.37)
	got.ExitTimeMs = ptr(int64(5000))
	got.ProfitLossPct = ptr(0.0037)
	require.NoError(t, positions.Update(ctx, got))

	open, err := positions.GetOpen(ctx)
	require.NoError(t, err)
	require.Empty(t, open)

	sold, err := positions.GetByStatus(ctx, domain.StatusSold)
	require.NoError(t, err)
	require.Len(t, sold, 1)
	require.Equal(t, 100.37, *sold[0].ExitPrice)

	// Evaluation trail: live check before backfill on equal timestamps.
	require.NoError(t, checks.InsertBulk(ctx, []*domain.PriceCheck{
		{CheckID: "chk-2b", PositionID: "pos-1", CheckedAt: 2000, Basis: domain.BasisHighest, IsBackfill: true},
		{CheckID: "chk-2", PositionID: "pos-1", CheckedAt: 2000, Basis: domain.BasisHighest},
		{CheckID: "chk-1", PositionID: "pos-1", CheckedAt: 1500, Basis: domain.BasisEntry},
	}))

	trail, err := checks.GetByPositionID(ctx, "pos-1")
	require.NoError(t, err)
	require.Len(t, trail, 3)
	require.Equal(t, "chk-1", trail[0].CheckID)
	require.Equal(t, "chk-2", trail[1].CheckID)
	require.Equal(t, "chk-2b", trail[2].CheckID)
}
