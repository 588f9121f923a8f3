package domain

// TradeEvent represents an observed wallet trade from the ingestion feed.
type TradeEvent struct {
	Wallet        string  // base58 wallet address
	Signature     string  // transaction signature
	TimestampMs   int64   // Unix timestamp in milliseconds
	Instrument    string  // traded instrument
	Amount        float64 // trade size in quote units
	Direction     TradeDirection
	PerpDirection PerpDirection // empty for spot trades
}

// TradeDirection is the side of a trade event.
type TradeDirection string

// Trade directions.
const (
	DirectionBuy  TradeDirection = "buy"
	DirectionSell TradeDirection = "sell"
)

// PerpDirection is the directionality of a perp trade, if any.
type PerpDirection string

// Perp directions. Spot trades carry PerpNone.
const (
	PerpNone  PerpDirection = ""
	PerpLong  PerpDirection = "long"
	PerpShort PerpDirection = "short"
)

// PerpMode filters which candidate directionality is eligible for entry.
type PerpMode string

// Perp modes. A candidate with no direction never matches a directional mode.
const (
	PerpModeAny       PerpMode = "any"
	PerpModeLongOnly  PerpMode = "long_only"
	PerpModeShortOnly PerpMode = "short_only"
)

// Matches reports whether a candidate with the given direction is eligible
// under this mode.
func (m PerpMode) Matches(d PerpDirection) bool {
	switch m {
	case PerpModeAny:
		return true
	case PerpModeLongOnly:
		return d == PerpLong
	case PerpModeShortOnly:
		return d == PerpShort
	default:
		return false
	}
}
