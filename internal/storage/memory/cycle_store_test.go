package memory

import (
	"context"
	"errors"
	"testing"

	"copytrade-engine/internal/domain"
	"copytrade-engine/internal/storage"
)

func closedCycle(id string, seq int64, startMs int64) *domain.PriceCycle {
	end := startMs + 5000
	return &domain.PriceCycle{
		CycleID:             id,
		Seq:                 seq,
		Instrument:          "SOL-USDC",
		Threshold:           0.003,
		ThresholdBps:        30,
		StartTimeMs:         startMs,
		EndTimeMs:           &end,
		SequenceStartPrice:  100,
		HighestPriceReached: 100.5,
		LowestPriceReached:  100,
		MaxPercentIncrease:  0.005,
		DataPointCount:      4,
	}
}

func TestCycleStore_InsertAndGet(t *testing.T) {
	s := NewCycleStore()
	ctx := context.Background()

	c := closedCycle("cycle-1", 1, 1000)
	if err := s.Insert(ctx, c); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := s.Insert(ctx, c); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("duplicate insert: got %v, want ErrDuplicateKey", err)
	}

	got, err := s.GetByID(ctx, "cycle-1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Seq != 1 || got.HighestPriceReached != 100.5 {
		t.Errorf("retrieved cycle mismatch: %+v", got)
	}

	if _, err := s.GetByID(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("missing cycle: got %v, want ErrNotFound", err)
	}
}

func TestCycleStore_RejectsActiveCycle(t *testing.T) {
	s := NewCycleStore()

	c := closedCycle("cycle-1", 1, 1000)
	c.EndTimeMs = nil
	if err := s.Insert(context.Background(), c); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("active cycle insert: got %v, want ErrInvalidInput", err)
	}
}

func TestCycleStore_GetByThresholdOrdersBySeq(t *testing.T) {
	s := NewCycleStore()
	ctx := context.Background()

	for _, c := range []*domain.PriceCycle{
		closedCycle("cycle-3", 3, 30_000),
		closedCycle("cycle-1", 1, 10_000),
		closedCycle("cycle-2", 2, 20_000),
	} {
		if err := s.Insert(ctx, c); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	other := closedCycle("cycle-other", 1, 15_000)
	other.Threshold = 0.005
	other.ThresholdBps = 50
	if err := s.Insert(ctx, other); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	got, err := s.GetByThreshold(ctx, "SOL-USDC", 30)
	if err != nil {
		t.Fatalf("GetByThreshold failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d cycles, want 3", len(got))
	}
	for i, c := range got {
		if c.Seq != int64(i+1) {
			t.Errorf("cycle %d has seq %d, want %d", i, c.Seq, i+1)
		}
	}
}
