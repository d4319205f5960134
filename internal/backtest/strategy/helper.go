package strategy

import (
	"time"

	"github.com/contactkeval/wheel-replay/internal/data"
)

// --------------------------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------------------------

// Moneyness returns how far out of the money strike is, as a fraction of
// spot: (spot-strike)/spot for puts, (strike-spot)/spot for calls. Negative
// values are in the money.
func Moneyness(side data.Side, spot, strike float64) float64 {
	if side == data.Put {
		return (spot - strike) / spot
	}
	return (strike - spot) / spot
}

// DaysBetween counts calendar days from a to b.
func DaysBetween(a, b time.Time) int {
	return int(data.Day(b).Sub(data.Day(a)).Hours() / 24)
}

// YearFraction is the days between a and b over a 365-day year.
func YearFraction(a, b time.Time) float64 {
	return float64(DaysBetween(a, b)) / 365.0
}
