// Package idhash generates deterministic record identifiers so a replay of
// the same event history regenerates byte-identical rows.
package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ComputeCycleID computes a deterministic cycle_id.
// Formula: SHA256(instrument|threshold_bps|seq|start_time_ms)
func ComputeCycleID(instrument string, thresholdBps int64, seq int64, startTimeMs int64) string {
	return hash(fmt.Sprintf("%s|%d|%d|%d", instrument, thresholdBps, seq, startTimeMs))
}

// ComputePositionID computes a deterministic position_id.
// Formula: SHA256(play_id|source|instrument|entry_time_ms)
func ComputePositionID(playID, source, instrument string, entryTimeMs int64) string {
	return hash(fmt.Sprintf("%s|%s|%s|%d", playID, source, instrument, entryTimeMs))
}

// ComputeCheckID computes a deterministic price-check ID.
// Formula: SHA256(position_id|checked_at_ms|backfill)
// Backfill participates in the key so a retroactive check never collides
// with a live one taken at the same timestamp.
func ComputeCheckID(positionID string, checkedAtMs int64, backfill bool) string {
	return hash(fmt.Sprintf("%s|%d|%t", positionID, checkedAtMs, backfill))
}

// hash returns the hex-encoded SHA256 of data (64 characters).
func hash(data string) string {
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}
