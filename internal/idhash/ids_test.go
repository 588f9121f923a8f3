package idhash

import "testing"

func TestComputeCycleID_Deterministic(t *testing.T) {
	a := ComputeCycleID("SOL-USDC", 30, 7, 1700000000000)
	b := ComputeCycleID("SOL-USDC", 30, 7, 1700000000000)
	if a != b {
		t.Errorf("same inputs produced different IDs: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("expected 64-char hex ID, got %d chars", len(a))
	}
}

func TestComputeCycleID_InputSensitivity(t *testing.T) {
	base := ComputeCycleID("SOL-USDC", 30, 7, 1700000000000)

	variants := []string{
		ComputeCycleID("SOL-USDT", 30, 7, 1700000000000),
		ComputeCycleID("SOL-USDC", 25, 7, 1700000000000),
		ComputeCycleID("SOL-USDC", 30, 8, 1700000000000),
		ComputeCycleID("SOL-USDC", 30, 7, 1700000000001),
	}
	for i, v := range variants {
		if v == base {
			t.Errorf("variant %d collided with base ID", i)
		}
	}
}

func TestComputeCheckID_BackfillDistinct(t *testing.T) {
	live := ComputeCheckID("pos-1", 1700000000000, false)
	backfill := ComputeCheckID("pos-1", 1700000000000, true)
	if live == backfill {
		t.Error("live and backfill checks at the same timestamp must not collide")
	}
}

func TestComputePositionID_Deterministic(t *testing.T) {
	a := ComputePositionID("play-1", "wallet-abc", "SOL-USDC", 1700000000000)
	b := ComputePositionID("play-1", "wallet-abc", "SOL-USDC", 1700000000000)
	if a != b {
		t.Errorf("same inputs produced different IDs: %s vs %s", a, b)
	}
}
