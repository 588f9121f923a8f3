package filters

import (
	"testing"

	"copytrade-engine/internal/domain"
)

func TestConfigStore_SnapshotIsolation(t *testing.T) {
	store := NewConfigStore()
	original := []domain.FilterProject{{
		ProjectID: "p1",
		Name:      "v1",
		Rules:     []domain.FilterRule{numericRule("r1", "gain_1m", f(0), f(1))},
	}}
	if err := store.Replace(original); err != nil {
		t.Fatalf("Replace failed: %v", err)
	}

	snap := store.Snapshot()

	// Publishing a new config must not change a snapshot already taken.
	replacement := []domain.FilterProject{{ProjectID: "p2", Name: "v2"}}
	if err := store.Replace(replacement); err != nil {
		t.Fatalf("Replace failed: %v", err)
	}

	if len(snap) != 1 || snap[0].ProjectID != "p1" {
		t.Errorf("snapshot changed after Replace: %+v", snap)
	}
	if got := store.Snapshot(); len(got) != 1 || got[0].ProjectID != "p2" {
		t.Errorf("new snapshot = %+v, want replacement config", got)
	}
}

func TestValidateProject(t *testing.T) {
	badOffset := numericRule("r1", "gain_1m", f(0), f(1))
	badOffset.MinuteOffset = domain.MaxMinuteOffset + 1
	if err := ValidateProject(&domain.FilterProject{
		ProjectID: "p1", Rules: []domain.FilterRule{badOffset},
	}); err == nil {
		t.Error("minute offset beyond the window must be rejected")
	}

	badBool := numericRule("r2", "is_perp", f(0), f(1))
	badBool.FieldType = domain.FieldBoolean
	if err := ValidateProject(&domain.FilterProject{
		ProjectID: "p1", Rules: []domain.FilterRule{badBool},
	}); err == nil {
		t.Error("boolean rule with from != to must be rejected")
	}
}
