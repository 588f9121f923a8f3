package ingestion

import (
	"errors"
	"sort"

	"copytrade-engine/internal/domain"
)

// ErrInvalidOrdering is returned when events are not properly ordered.
var ErrInvalidOrdering = errors.New("events are not in deterministic order")

// SortPricePoints orders points by (instrument ASC, timestamp_ms ASC).
func SortPricePoints(points []*domain.PricePoint) {
	sort.Slice(points, func(i, j int) bool {
		return comparePricePoints(points[i], points[j]) < 0
	})
}

// SortTradeEvents orders events by (timestamp_ms ASC, signature ASC).
func SortTradeEvents(events []*domain.TradeEvent) {
	sort.Slice(events, func(i, j int) bool {
		return compareTradeEvents(events[i], events[j]) < 0
	})
}

// ValidatePricePointOrdering checks that points are strictly ordered.
// Returns ErrInvalidOrdering if not.
func ValidatePricePointOrdering(points []*domain.PricePoint) error {
	for i := 1; i < len(points); i++ {
		if comparePricePoints(points[i-1], points[i]) >= 0 {
			return ErrInvalidOrdering
		}
	}
	return nil
}

// ValidateTradeEventOrdering checks that events are strictly ordered.
// Returns ErrInvalidOrdering if not.
func ValidateTradeEventOrdering(events []*domain.TradeEvent) error {
	for i := 1; i < len(events); i++ {
		if compareTradeEvents(events[i-1], events[i]) >= 0 {
			return ErrInvalidOrdering
		}
	}
	return nil
}

// comparePricePoints returns:
//   - negative if a < b
//   - zero if a == b
//   - positive if a > b
//
// Order: (instrument ASC, timestamp_ms ASC)
func comparePricePoints(a, b *domain.PricePoint) int {
	if a.Instrument != b.Instrument {
		if a.Instrument < b.Instrument {
			return -1
		}
		return 1
	}
	if a.TimestampMs != b.TimestampMs {
		if a.TimestampMs < b.TimestampMs {
			return -1
		}
		return 1
	}
	return 0
}

// compareTradeEvents returns comparison result for trade events.
// Order: (timestamp_ms ASC, signature ASC)
func compareTradeEvents(a, b *domain.TradeEvent) int {
	if a.TimestampMs != b.TimestampMs {
		if a.TimestampMs < b.TimestampMs {
			return -1
		}
		return 1
	}
	if a.Signature != b.Signature {
		if a.Signature < b.Signature {
			return -1
		}
		return 1
	}
	return 0
}
