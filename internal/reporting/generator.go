package reporting

import (
	"context"
	"fmt"
	"sort"
	"time"

	"copytrade-engine/internal/domain"
	"copytrade-engine/internal/queries"
)

// Generator produces reports from the query surface.
type Generator struct {
	queries *queries.Service
	now     func() time.Time // Injectable clock for deterministic output
}

// NewGenerator creates a report generator.
func NewGenerator(q *queries.Service) *Generator {
	return &Generator{
		queries: q,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock sets a custom clock function for deterministic output.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Generate builds the operator report for positions entered within
// [fromMs, toMs].
func (g *Generator) Generate(ctx context.Context, fromMs, toMs int64) (*Report, error) {
	resolved, err := g.queries.ResolvedPositions(ctx, fromMs, toMs)
	if err != nil {
		return nil, fmt.Errorf("generate report: %w", err)
	}

	r := &Report{
		GeneratedAt:   g.now(),
		WindowStartMs: fromMs,
		WindowEndMs:   toMs,
		Summary:       summarize(resolved),
		Sources:       bySource(resolved),
		Positions:     positionRows(resolved),
	}

	st := g.queries.BreakerStatus()
	r.Breaker = BreakerSection{
		WindowSize:    st.WindowSize,
		WindowLength:  len(st.RecentOutcomes),
		WinRate:       st.WinRate,
		TripThreshold: st.TripThreshold,
		Tripped:       st.Tripped,
		Suppressed:    st.Suppressed,
	}

	return r, nil
}

// summarize aggregates realized outcomes across all resolved positions.
func summarize(resolved []*domain.Position) PositionSummary {
	s := PositionSummary{TotalResolved: len(resolved)}
	if len(resolved) == 0 {
		return s
	}

	var pnls []float64
	var holdTotal int64
	for _, p := range resolved {
		if p.Status == domain.StatusSold {
			s.Wins++
		} else {
			s.Losses++
		}
		pnl := realizedPnL(p)
		pnls = append(pnls, pnl)
		if p.ExitTimeMs != nil {
			holdTotal += *p.ExitTimeMs - p.EntryTimeMs
		}
	}

	s.WinRate = float64(s.Wins) / float64(len(resolved))
	s.AvgHoldMs = holdTotal / int64(len(resolved))

	sort.Float64s(pnls)
	s.PnLMin = pnls[0]
	s.PnLMax = pnls[len(pnls)-1]
	s.PnLMedian = median(pnls)
	var sum float64
	for _, v := range pnls {
		sum += v
	}
	s.PnLMean = sum / float64(len(pnls))
	return s
}

// bySource groups outcomes per signal source, sorted by source.
func bySource(resolved []*domain.Position) []SourceRow {
	groups := make(map[string][]*domain.Position)
	for _, p := range resolved {
		groups[p.Source] = append(groups[p.Source], p)
	}

	var rows []SourceRow
	for source, ps := range groups {
		row := SourceRow{Source: source, Resolved: len(ps)}
		var pnls []float64
		for _, p := range ps {
			if p.Status == domain.StatusSold {
				row.Wins++
			}
			pnls = append(pnls, realizedPnL(p))
		}
		row.WinRate = float64(row.Wins) / float64(len(ps))
		sort.Float64s(pnls)
		row.PnLMedian = median(pnls)
		rows = append(rows, row)
	}

	sort.Slice(rows, func(i, j int) bool {
		return rows[i].Source < rows[j].Source
	})
	return rows
}

// positionRows builds the per-position table in entry order.
func positionRows(resolved []*domain.Position) []PositionRow {
	rows := make([]PositionRow, len(resolved))
	for i, p := range resolved {
		row := PositionRow{
			PositionID:  p.PositionID,
			Source:      p.Source,
			Instrument:  p.Instrument,
			EntryTimeMs: p.EntryTimeMs,
			Status:      string(p.Status),
			PnLPct:      realizedPnL(p),
		}
		if p.ExitTimeMs != nil {
			row.ExitTimeMs = *p.ExitTimeMs
			row.HoldMs = *p.ExitTimeMs - p.EntryTimeMs
		}
		rows[i] = row
	}
	return rows
}

func realizedPnL(p *domain.Position) float64 {
	if p.ProfitLossPct == nil {
		return 0
	}
	return *p.ProfitLossPct
}

// median of a sorted slice.
func median(sorted []float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
