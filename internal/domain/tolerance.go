package domain

import (
	"errors"
	"fmt"
)

// ToleranceSchemaVersion is the current tolerance_rules document version.
const ToleranceSchemaVersion = 1

// ToleranceBand is one tiered drawdown allowance keyed by gain bucket.
// The band covers the half-open interval [GainFrom, GainTo); a nil GainTo
// means unbounded. Ties at a boundary resolve to the higher-gain band.
type ToleranceBand struct {
	GainFrom  float64  `json:"gain_from"`
	GainTo    *float64 `json:"gain_to,omitempty"` // nil = +inf
	Tolerance float64  `json:"tolerance"`
}

// Covers reports whether gain falls inside the band's interval.
func (b ToleranceBand) Covers(gain float64) bool {
	if gain < b.GainFrom {
		return false
	}
	return b.GainTo == nil || gain < *b.GainTo
}

// ToleranceRules is the schema-versioned tiered band document attached to a
// position at entry. Increases are ordered by GainFrom ascending and apply
// while gain_from_entry >= 0; Decrease is the single entry-relative fallback
// used while the position is underwater.
type ToleranceRules struct {
	SchemaVersion int             `json:"schema_version"`
	Increases     []ToleranceBand `json:"increases"`
	Decrease      float64         `json:"decrease"`
}

// Validation errors.
var (
	ErrNoToleranceBands   = errors.New("tolerance rules: no increase bands defined")
	ErrBandsNotAscending  = errors.New("tolerance rules: bands not ordered by gain_from ascending")
	ErrToleranceIncreases = errors.New("tolerance rules: tolerances must be non-increasing across gain buckets")
)

// Validate checks structural invariants: at least one band, bands ordered by
// GainFrom ascending, and tolerances non-increasing as the gain bucket
// increases (lock in profit progressively).
func (r ToleranceRules) Validate() error {
	if len(r.Increases) == 0 {
		return ErrNoToleranceBands
	}
	for i, b := range r.Increases {
		if b.Tolerance <= 0 {
			return fmt.Errorf("tolerance rules: band %d has non-positive tolerance %v", i, b.Tolerance)
		}
		if i == 0 {
			continue
		}
		prev := r.Increases[i-1]
		if b.GainFrom <= prev.GainFrom {
			return ErrBandsNotAscending
		}
		if b.Tolerance > prev.Tolerance {
			return ErrToleranceIncreases
		}
	}
	if r.Decrease <= 0 {
		return fmt.Errorf("tolerance rules: non-positive decrease tolerance %v", r.Decrease)
	}
	return nil
}

// SelectTolerance returns the tolerance for a non-negative gain bucket.
// When no band covers the gain (a configuration gap), the selection clamps
// to the nearest defined band instead of failing the evaluation; clamped
// reports that fallback so callers can log the gap.
func (r ToleranceRules) SelectTolerance(gain float64) (tolerance float64, clamped bool) {
	for _, b := range r.Increases {
		if b.Covers(gain) {
			return b.Tolerance, false
		}
	}
	if len(r.Increases) == 0 {
		return 0, true
	}
	if gain < r.Increases[0].GainFrom {
		return r.Increases[0].Tolerance, true
	}
	return r.Increases[len(r.Increases)-1].Tolerance, true
}
