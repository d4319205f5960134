package pricing

import "math"

// Solver defaults.
const (
	DefaultIterations = 60
	VolLow            = 1e-4
	VolHigh           = 5.0
	PriceTolerance    = 1e-4
)

type ivParams struct {
	rate       float64
	iterations int
}

// IVOption tweaks EstimateImpliedVol.
type IVOption func(*ivParams)

// WithRate overrides the risk-free rate (default DefaultRate).
func WithRate(r float64) IVOption {
	return func(p *ivParams) { p.rate = r }
}

// WithIterations overrides the bisection iteration cap (default DefaultIterations).
func WithIterations(n int) IVOption {
	return func(p *ivParams) {
		if n > 0 {
			p.iterations = n
		}
	}
}

// EstimateImpliedVol backs out the Black-Scholes volatility that reproduces
// premium, by bisection on [VolLow, VolHigh].
//
// The second return value is false when any of premium, S, K or T is not
// positive, or when premium lies outside the prices produced by the bracket
// endpoints. Otherwise the midpoint is returned as soon as its model price
// is within PriceTolerance of premium, or after the iteration cap.
func EstimateImpliedVol(premium, S, K, T float64, isCall bool, opts ...IVOption) (float64, bool) {
	p := ivParams{rate: DefaultRate, iterations: DefaultIterations}
	for _, o := range opts {
		o(&p)
	}

	if !(premium > 0 && S > 0 && K > 0 && T > 0) {
		return 0, false
	}

	price := func(sigma float64) float64 {
		return BlackScholesPrice(isCall, S, K, T, p.rate, sigma)
	}

	low, high := VolLow, VolHigh
	if premium < price(low) || premium > price(high) {
		return 0, false
	}

	var mid float64
	for i := 0; i < p.iterations; i++ {
		mid = 0.5 * (low + high)
		pm := price(mid)
		if math.Abs(pm-premium) < PriceTolerance {
			return mid, true
		}
		if pm > premium {
			high = mid
		} else {
			low = mid
		}
	}
	return 0.5 * (low + high), true
}
