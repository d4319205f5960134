package pricing

import (
	"math"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestBlackScholesPutCallParity(t *testing.T) {
	S, K, T, r, sigma := 3.0, 2.9, 45.0/365.0, 0.03, 0.25

	call := BlackScholesPrice(true, S, K, T, r, sigma)
	put := BlackScholesPrice(false, S, K, T, r, sigma)

	lhs := call - put
	rhs := S - K*math.Exp(-r*T)
	if math.Abs(lhs-rhs) > 1e-9 {
		t.Fatalf("put-call parity violated: LHS=%f RHS=%f", lhs, rhs)
	}
}

func TestBlackScholesIntrinsicFallback(t *testing.T) {
	cases := []struct {
		name   string
		isCall bool
		S, K   float64
		T      float64
		sigma  float64
		want   float64
	}{
		{"expired put in the money", false, 2.5, 2.8, 0, 0.3, 0.3},
		{"expired put out of the money", false, 3.0, 2.8, 0, 0.3, 0},
		{"zero vol call in the money", true, 3.2, 3.0, 0.1, 0, 0.2},
		{"zero vol call out of the money", true, 2.9, 3.0, 0.1, 0, 0},
		{"non-positive spot put", false, 0, 2.0, 0.1, 0.2, 2.0},
		{"non-positive strike call", true, 2.0, 0, 0.1, 0.2, 2.0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := BlackScholesPrice(tc.isCall, tc.S, tc.K, tc.T, DefaultRate, tc.sigma)
			if math.Abs(got-tc.want) > 1e-12 {
				t.Fatalf("expected %f, got %f", tc.want, got)
			}
		})
	}
}

func TestEstimateImpliedVolRejectsInvalidInputs(t *testing.T) {
	cases := []struct {
		name             string
		premium, S, K, T float64
	}{
		{"zero premium", 0, 3, 2.85, 0.08},
		{"negative premium", -0.01, 3, 2.85, 0.08},
		{"zero spot", 0.03, 0, 2.85, 0.08},
		{"zero strike", 0.03, 3, 0, 0.08},
		{"zero time", 0.03, 3, 2.85, 0},
		{"NaN premium", math.NaN(), 3, 2.85, 0.08},
		// a put worth more than the 500% vol price cannot be bracketed
		{"above bracket", 2.84, 3, 2.85, 0.08},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if v, ok := EstimateImpliedVol(tc.premium, tc.S, tc.K, tc.T, false); ok {
				t.Fatalf("expected no solution, got %f", v)
			}
		})
	}
}

func TestEstimateImpliedVolBelowIntrinsic(t *testing.T) {
	// deep ITM put priced below its zero-vol value
	if v, ok := EstimateImpliedVol(0.01, 2.0, 3.0, 0.1, false); ok {
		t.Fatalf("expected no solution below bracket, got %f", v)
	}
}

func TestEstimateImpliedVolRecoversKnownVol(t *testing.T) {
	S, K, T := 2.50, 2.35, 30.0/365.0
	premium := BlackScholesPrice(false, S, K, T, DefaultRate, 0.22)

	iv, ok := EstimateImpliedVol(premium, S, K, T, false)
	if !ok {
		t.Fatal("expected a solution")
	}
	if math.Abs(iv-0.22) > 1e-3 {
		t.Fatalf("expected iv near 0.22, got %f", iv)
	}
}

func TestEstimateImpliedVolOptions(t *testing.T) {
	S, K, T := 2.50, 2.65, 60.0/365.0
	premium := BlackScholesPrice(true, S, K, T, 0.05, 0.3)

	iv, ok := EstimateImpliedVol(premium, S, K, T, true, WithRate(0.05), WithIterations(200))
	if !ok {
		t.Fatal("expected a solution")
	}
	if math.Abs(iv-0.3) > 1e-3 {
		t.Fatalf("expected iv near 0.30, got %f", iv)
	}

	// a single iteration returns the midpoint of the halved bracket
	iv, ok = EstimateImpliedVol(premium, S, K, T, true, WithRate(0.05), WithIterations(1))
	if !ok {
		t.Fatal("expected a solution")
	}
	if iv < VolLow || iv > VolHigh {
		t.Fatalf("iv %f outside bracket", iv)
	}
}

func TestProperty_ImpliedVolRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("solved vol is inside the bracket and reprices the premium", prop.ForAll(
		func(sigma, spot, moneyness, T float64, isCall bool) bool {
			K := spot * moneyness
			premium := BlackScholesPrice(isCall, spot, K, T, DefaultRate, sigma)
			if premium <= 1e-6 {
				return true
			}
			iv, ok := EstimateImpliedVol(premium, spot, K, T, isCall)
			if !ok {
				return false
			}
			if iv < VolLow || iv > VolHigh {
				return false
			}
			repriced := BlackScholesPrice(isCall, spot, K, T, DefaultRate, iv)
			return math.Abs(repriced-premium) < 1e-3
		},
		gen.Float64Range(0.05, 2.0),
		gen.Float64Range(1.0, 10.0),
		gen.Float64Range(0.8, 1.2),
		gen.Float64Range(0.02, 1.0),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
