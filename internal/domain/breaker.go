package domain

// BreakerState is a snapshot of the circuit breaker's rolling window.
type BreakerState struct {
	WindowSize     int     // configured maximum window length
	RecentOutcomes []bool  // ordered, oldest first; true = win
	Wins           int
	Losses         int
	WinRate        float64 // wins / len(RecentOutcomes); 1.0 when empty
	TripThreshold  float64
	Tripped        bool
	UpdatedAtMs    int64
}
