// Package gate applies the continuation check: a short-horizon trend
// re-sample taken immediately before entry to avoid buying a crash or
// chasing an already-exhausted move.
package gate

import (
	"context"
	"fmt"

	"copytrade-engine/internal/domain"
	"copytrade-engine/internal/lookup"
)

// Tier selects which gates are enabled. Conservative enables all of them.
type Tier string

// Risk tiers.
const (
	TierConservative Tier = "conservative"
	TierModerate     Tier = "moderate"
	TierAggressive   Tier = "aggressive"
)

// Rejection reasons.
const (
	ReasonPerpMismatch = "perp_mode_mismatch"
	ReasonCrash        = "short_horizon_crash"
	ReasonChase        = "short_horizon_chase"
	ReasonNoData       = "insufficient_price_data"
)

// PriceSource supplies the recent tick window the gate re-samples.
type PriceSource interface {
	Recent(ctx context.Context, instrument string, fromMs, toMs int64) ([]*domain.PricePoint, error)
}

// Config holds gate thresholds.
type Config struct {
	Tier     Tier
	PerpMode domain.PerpMode

	// HorizonMs is the short re-sample window, ~1 minute.
	HorizonMs int64
	// CrashThreshold rejects when the short-horizon change falls below it
	// (negative fraction, e.g. -0.02). Protects against buying a collapse.
	CrashThreshold float64
	// ChaseCap rejects when price already ran up beyond it before entry
	// (positive fraction, e.g. 0.03). Avoids buying the top. Intentionally
	// asymmetric from the crash gate.
	ChaseCap float64
}

// DefaultConfig returns the conservative tier with a one-minute horizon.
func DefaultConfig() Config {
	return Config{
		Tier:           TierConservative,
		PerpMode:       domain.PerpModeAny,
		HorizonMs:      60_000,
		CrashThreshold: -0.02,
		ChaseCap:       0.03,
	}
}

// Result is the gate decision with its audit fields.
type Result struct {
	Passed      bool
	Reason      string  // empty when passed
	ShortChange float64 // re-sampled short-horizon change, when computed
}

// Gate is pure over its config and the price window; it may be invoked
// concurrently for many candidates.
type Gate struct {
	cfg    Config
	prices PriceSource
}

// New creates a continuation gate.
func New(cfg Config, prices PriceSource) *Gate {
	return &Gate{cfg: cfg, prices: prices}
}

// crashEnabled reports whether the crash gate applies under the tier.
func (g *Gate) crashEnabled() bool {
	return g.cfg.Tier == TierConservative || g.cfg.Tier == TierModerate
}

// chaseEnabled reports whether the chase gate applies under the tier.
func (g *Gate) chaseEnabled() bool {
	return g.cfg.Tier == TierConservative
}

// Check re-samples the short-horizon trend for a candidate entry.
// Missing price data fails closed whenever any trend gate is enabled.
func (g *Gate) Check(ctx context.Context, instrument string, direction domain.PerpDirection, nowMs int64) (Result, error) {
	if !g.cfg.PerpMode.Matches(direction) {
		return Result{Reason: ReasonPerpMismatch}, nil
	}

	if !g.crashEnabled() && !g.chaseEnabled() {
		return Result{Passed: true}, nil
	}

	points, err := g.prices.Recent(ctx, instrument, nowMs-2*g.cfg.HorizonMs, nowMs)
	if err != nil {
		return Result{}, fmt.Errorf("gate price window for %s: %w", instrument, err)
	}

	change, err := lookup.ChangeOver(nowMs, g.cfg.HorizonMs, points)
	if err != nil {
		// Fail closed: without a trend sample the gate cannot clear entry.
		return Result{Reason: ReasonNoData}, nil
	}

	if g.crashEnabled() && change < g.cfg.CrashThreshold {
		return Result{Reason: ReasonCrash, ShortChange: change}, nil
	}
	if g.chaseEnabled() && change > g.cfg.ChaseCap {
		return Result{Reason: ReasonChase, ShortChange: change}, nil
	}

	return Result{Passed: true, ShortChange: change}, nil
}
