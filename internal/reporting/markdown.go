package reporting

import (
	"fmt"
	"strings"
	"time"
)

// RenderMarkdown renders a report as a Markdown string.
func RenderMarkdown(r *Report) string {
	var sb strings.Builder

	// Header
	sb.WriteString("# Copytrade Engine Report\n\n")
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("Window: %d - %d (ms)\n\n", r.WindowStartMs, r.WindowEndMs))

	// Summary
	sb.WriteString("## Summary\n\n")
	sb.WriteString("| Metric | Value |\n")
	sb.WriteString("|--------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Resolved Positions | %d |\n", r.Summary.TotalResolved))
	sb.WriteString(fmt.Sprintf("| Wins (sold) | %d |\n", r.Summary.Wins))
	sb.WriteString(fmt.Sprintf("| Losses (no_go) | %d |\n", r.Summary.Losses))
	sb.WriteString(fmt.Sprintf("| Win Rate | %.4f |\n", r.Summary.WinRate))
	sb.WriteString(fmt.Sprintf("| P/L Mean | %.6f |\n", r.Summary.PnLMean))
	sb.WriteString(fmt.Sprintf("| P/L Median | %.6f |\n", r.Summary.PnLMedian))
	sb.WriteString(fmt.Sprintf("| P/L Min | %.6f |\n", r.Summary.PnLMin))
	sb.WriteString(fmt.Sprintf("| P/L Max | %.6f |\n", r.Summary.PnLMax))
	sb.WriteString(fmt.Sprintf("| Avg Hold (ms) | %d |\n", r.Summary.AvgHoldMs))
	sb.WriteString("\n")

	// Circuit breaker
	sb.WriteString("## Circuit Breaker\n\n")
	status := "CLEAR"
	if r.Breaker.Tripped {
		status = "TRIPPED"
	}
	sb.WriteString(fmt.Sprintf("Status: **%s** | Win Rate: %.4f (threshold %.4f) | Window: %d/%d | Suppressed Entries: %d\n\n",
		status, r.Breaker.WinRate, r.Breaker.TripThreshold,
		r.Breaker.WindowLength, r.Breaker.WindowSize, r.Breaker.Suppressed))

	// Per-source breakdown
	sb.WriteString("## By Source\n\n")
	if len(r.Sources) > 0 {
		sb.WriteString("| Source | Resolved | Wins | WinRate | P/L Median |\n")
		sb.WriteString("|--------|----------|------|---------|------------|\n")
		for _, s := range r.Sources {
			sb.WriteString(fmt.Sprintf("| %s | %d | %d | %.4f | %.6f |\n",
				s.Source, s.Resolved, s.Wins, s.WinRate, s.PnLMedian))
		}
	} else {
		sb.WriteString("No resolved positions in window.\n")
	}
	sb.WriteString("\n")

	// Positions
	sb.WriteString("## Resolved Positions\n\n")
	if len(r.Positions) > 0 {
		sb.WriteString("| Position | Source | Instrument | Entry (ms) | Status | P/L | Hold (ms) |\n")
		sb.WriteString("|----------|--------|------------|------------|--------|-----|----------|\n")
		for _, p := range r.Positions {
			sb.WriteString(fmt.Sprintf("| %s | %s | %s | %d | %s | %.6f | %d |\n",
				shortID(p.PositionID), p.Source, p.Instrument,
				p.EntryTimeMs, p.Status, p.PnLPct, p.HoldMs))
		}
	} else {
		sb.WriteString("No resolved positions in window.\n")
	}
	sb.WriteString("\n")

	return sb.String()
}

// shortID truncates a 64-character hash for table readability.
func shortID(id string) string {
	if len(id) <= 12 {
		return id
	}
	return id[:12]
}
