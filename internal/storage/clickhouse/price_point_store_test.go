package clickhouse

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"copytrade-engine/internal/domain"
	"copytrade-engine/internal/storage"
)

func TestPricePointStoreIntegration(t *testing.T) {
	if os.Getenv("INTEGRATION") == "" {
		t.Skip("set INTEGRATION=1 to run clickhouse integration tests")
	}

	conn, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	store := NewPricePointStore(conn)

	points := []*domain.PricePoint{
		{Instrument: "SOL-USDC", TimestampMs: 1000, Price: 100.0},
		{Instrument: "SOL-USDC", TimestampMs: 2000, Price: 100.35},
		{Instrument: "SOL-USDC", TimestampMs: 3000, Price: 100.5},
		{Instrument: "BONK-USDC", TimestampMs: 1500, Price: 0.002},
	}
	require.NoError(t, store.InsertBulk(ctx, points))

	// Replayed batch must be rejected whole.
	require.ErrorIs(t, store.InsertBulk(ctx, []*domain.PricePoint{
		{Instrument: "SOL-USDC", TimestampMs: 4000, Price: 100.1},
		{Instrument: "SOL-USDC", TimestampMs: 2000, Price: 100.35},
	}), storage.ErrDuplicateKey)

	got, err := store.GetByTimeRange(ctx, "SOL-USDC", 1000, 2000)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, int64(1000), got[0].TimestampMs)
	require.Equal(t, int64(2000), got[1].TimestampMs)

	latest, err := store.Latest(ctx, "SOL-USDC")
	require.NoError(t, err)
	require.Equal(t, int64(3000), latest.TimestampMs)

	_, err = store.Latest(ctx, "UNKNOWN")
	require.ErrorIs(t, err, storage.ErrNotFound)
}
