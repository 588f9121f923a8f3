// Package lookup provides at-or-before price lookups over ordered tick
// windows, shared by the continuation gate and the replay verifier.
package lookup

import (
	"errors"

	"copytrade-engine/internal/domain"
)

// ErrNoPriceData is returned when a lookup window is empty.
var ErrNoPriceData = errors.New("no price data available")

// PriceAt returns the price at or before the target timestamp.
// If no point precedes the target, the first available price is returned.
func PriceAt(targetMs int64, points []*domain.PricePoint) (float64, error) {
	if len(points) == 0 {
		return 0, ErrNoPriceData
	}

	for i := len(points) - 1; i >= 0; i-- {
		if points[i].TimestampMs <= targetMs {
			return points[i].Price, nil
		}
	}

	return points[0].Price, nil
}

// ChangeOver returns the fractional price change over the window ending at
// nowMs: (price(now) - price(now - windowMs)) / price(now - windowMs).
func ChangeOver(nowMs, windowMs int64, points []*domain.PricePoint) (float64, error) {
	current, err := PriceAt(nowMs, points)
	if err != nil {
		return 0, err
	}
	past, err := PriceAt(nowMs-windowMs, points)
	if err != nil {
		return 0, err
	}
	if past == 0 {
		return 0, ErrNoPriceData
	}
	return (current - past) / past, nil
}
