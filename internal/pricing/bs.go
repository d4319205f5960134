package pricing

import (
	"math"
)

// DefaultRate is the flat continuously-compounded risk-free rate used when
// callers do not supply one.
const DefaultRate = 0.02

// BlackScholesPrice calculates the price of a European option using the Black-Scholes model.
//
// Parameters:
//   - isCall: true for call option, false for put option
//   - S: spot price of the underlying asset
//   - K: strike price of the option
//   - T: time to expiry in years
//   - r: risk-free interest rate (annual, continuous compounding)
//   - sigma: volatility of the underlying asset (annual, as a decimal)
//
// Returns:
//
//	The theoretical price of the option. If T, sigma, S or K is zero or negative,
//	returns the intrinsic value of the option instead.
func BlackScholesPrice(
	isCall bool,
	S float64, // spot
	K float64, // strike
	T float64, // time to expiry in years
	r float64, // risk-free rate
	sigma float64, // volatility
) float64 {

	if T <= 0 || sigma <= 0 || S <= 0 || K <= 0 {
		return Intrinsic(isCall, S, K)
	}

	sqrtT := math.Sqrt(T)
	d1 := (math.Log(S/K) + (r+0.5*sigma*sigma)*T) / (sigma * sqrtT)
	d2 := d1 - sigma*sqrtT
	disc := math.Exp(-r * T)

	if isCall {
		return S*normCDF(d1) - K*disc*normCDF(d2)
	}
	return K*disc*normCDF(-d2) - S*normCDF(-d1)
}

// Intrinsic returns the exercise value of an option: max(0, S-K) for calls,
// max(0, K-S) for puts.
func Intrinsic(isCall bool, S, K float64) float64 {
	if isCall {
		return math.Max(0, S-K)
	}
	return math.Max(0, K-S)
}

// normCDF is the standard normal cumulative distribution function.
func normCDF(x float64) float64 {
	return 0.5 * (1 + math.Erf(x/math.Sqrt2))
}
