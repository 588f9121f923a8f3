package reporting

import (
	"fmt"
	"strings"
)

// RenderCSV renders resolved positions as a CSV string.
func RenderCSV(positions []PositionRow) string {
	var sb strings.Builder

	// Header
	sb.WriteString("position_id,source,instrument,entry_time_ms,exit_time_ms,status,pnl_pct,hold_ms\n")

	// Rows
	for _, p := range positions {
		sb.WriteString(fmt.Sprintf("%s,%s,%s,%d,%d,%s,%.6f,%d\n",
			p.PositionID,
			p.Source,
			p.Instrument,
			p.EntryTimeMs,
			p.ExitTimeMs,
			p.Status,
			p.PnLPct,
			p.HoldMs,
		))
	}

	return sb.String()
}
