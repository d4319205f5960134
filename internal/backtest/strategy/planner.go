// Package strategy contains the wheel's decision logic: which contracts
// exist for an underlying, which one to sell on an entry date, and how the
// position moves between selling puts and selling calls.
//
// Responsibilities:
//   - Build an option catalog from raw contract listings
//   - Pick the nearest-expiry out-of-the-money contract within a band
//   - Vet candidates against an optional user expression
//   - Track cash, shares, margin and the wheel phase across cycles
//
// Design notes:
//   - This package is deterministic given inputs and does no I/O
//   - Logging is informational only and does not affect execution
//   - Errors are typed where useful and wrapped for caller inspection
package strategy

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Knetic/govaluate"

	"github.com/contactkeval/wheel-replay/internal/data"
	"github.com/contactkeval/wheel-replay/internal/logger"
)

//
// ==========================
// Error taxonomy
// ==========================
//

var (
	ErrInvalidBand             = errors.New("invalid OTM band")
	ErrInvalidFilterExpression = errors.New("invalid contract filter expression")
)

//
// ==========================
// Domain Types
// ==========================
//

// OTMBand bounds how far out of the money a sold contract may be, as a
// fraction of spot. Both ends are inclusive.
type OTMBand struct {
	Min float64 `json:"min" mapstructure:"min"`
	Max float64 `json:"max" mapstructure:"max"`
}

// Validate requires 0 <= Min < Max.
func (b OTMBand) Validate() error {
	if !(b.Min >= 0) || !(b.Max > b.Min) {
		return fmt.Errorf("%w: [%g, %g]", ErrInvalidBand, b.Min, b.Max)
	}
	return nil
}

// Contains reports whether otm lies in [Min, Max].
func (b OTMBand) Contains(otm float64) bool {
	return otm >= b.Min && otm <= b.Max
}

// Candidate is a contract that passed the mandatory selection predicate,
// together with its moneyness on the trade date.
type Candidate struct {
	Contract OptionContract
	OTM      float64
	DTE      int
}

// Filter vets a candidate after the mandatory predicate. It must be
// deterministic.
type Filter interface {
	Accept(tradeDate time.Time, spot float64, c Candidate) bool
}

//
// ==========================
// Contract Selection
// ==========================
//

// PickContract chooses the contract to sell on tradeDate.
//
// A contract qualifies when it is on the requested side, is listed on or
// before tradeDate, is not delisted before tradeDate, matures strictly after
// tradeDate, and its OTM fraction lies inside band. Optional filters then
// vet each qualifier.
//
// Among the survivors the earliest maturity wins, then the smallest OTM
// fraction, then the lexically smallest code.
//
// Parameters:
//   - tradeDate: entry date
//   - spot: underlying close on tradeDate
//   - side: PUT or CALL
//   - cat: option catalog
//   - band: inclusive OTM band
//   - filters: optional extra predicates
//
// Returns:
//   - Candidate: the chosen contract and its moneyness
//   - bool: false when nothing qualifies
func PickContract(
	tradeDate time.Time,
	spot float64,
	side data.Side,
	cat *Catalog,
	band OTMBand,
	filters ...Filter,
) (Candidate, bool) {

	if cat == nil || spot <= 0 {
		return Candidate{}, false
	}
	d := data.Day(tradeDate)

	var pool []Candidate
	for _, c := range cat.contracts {
		if c.Side != side || c.ListDate.After(d) || !c.MaturityDate.After(d) {
			continue
		}
		if !c.DelistDate.IsZero() && c.DelistDate.Before(d) {
			continue
		}
		otm := Moneyness(side, spot, c.Strike)
		if !band.Contains(otm) {
			continue
		}
		cand := Candidate{Contract: c, OTM: otm, DTE: DaysBetween(d, c.MaturityDate)}
		if !acceptAll(filters, d, spot, cand) {
			logger.Tracef("event=candidate_filtered code=%s", c.Code)
			continue
		}
		pool = append(pool, cand)
	}

	if len(pool) == 0 {
		logger.Debugf(
			"event=no_contract date=%s side=%s spot=%.4f band=[%.4f,%.4f]",
			d.Format(time.DateOnly), side, spot, band.Min, band.Max,
		)
		return Candidate{}, false
	}

	sort.Slice(pool, func(i, j int) bool {
		a, b := pool[i], pool[j]
		if !a.Contract.MaturityDate.Equal(b.Contract.MaturityDate) {
			return a.Contract.MaturityDate.Before(b.Contract.MaturityDate)
		}
		if a.OTM != b.OTM {
			return a.OTM < b.OTM
		}
		return a.Contract.Code < b.Contract.Code
	})

	best := pool[0]
	logger.Debugf(
		"event=contract_picked date=%s side=%s code=%s strike=%.4f otm=%.4f dte=%d candidates=%d",
		d.Format(time.DateOnly), side, best.Contract.Code, best.Contract.Strike, best.OTM, best.DTE, len(pool),
	)
	return best, true
}

func acceptAll(filters []Filter, d time.Time, spot float64, c Candidate) bool {
	for _, f := range filters {
		if f != nil && !f.Accept(d, spot, c) {
			return false
		}
	}
	return true
}

//
// ==========================
// Expression filter
// ==========================
//

// ContractFilter is a boolean govaluate expression over a candidate.
//
// Variables available to the expression:
//   - strike, spot, otm, multiplier: float64
//   - dte: calendar days to maturity
//   - is_put, is_call: bool
//
// Example: "dte >= 20 && dte <= 45 && strike >= 2.0"
type ContractFilter struct {
	source string
	expr   *govaluate.EvaluableExpression
}

// NewContractFilter compiles expr. An empty expression yields a nil filter
// and no error; PickContract ignores nil filters.
func NewContractFilter(expr string) (*ContractFilter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, nil
	}
	compiled, err := govaluate.NewEvaluableExpression(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidFilterExpression, expr, err)
	}
	// A dry run against a sample candidate catches unknown variables and
	// type mismatches before the backtest starts.
	if _, err := compiled.Evaluate(filterParams(1, Candidate{Contract: OptionContract{Side: data.Put}})); err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidFilterExpression, expr, err)
	}
	return &ContractFilter{source: expr, expr: compiled}, nil
}

func filterParams(spot float64, c Candidate) map[string]interface{} {
	return map[string]interface{}{
		"strike":     c.Contract.Strike,
		"spot":       spot,
		"otm":        c.OTM,
		"dte":        float64(c.DTE),
		"multiplier": c.Contract.Multiplier,
		"is_put":     c.Contract.Side == data.Put,
		"is_call":    c.Contract.Side == data.Call,
	}
}

func (f *ContractFilter) String() string { return f.source }

// Accept evaluates the expression. Evaluation errors and non-boolean
// results reject the candidate.
func (f *ContractFilter) Accept(_ time.Time, spot float64, c Candidate) bool {
	if f == nil {
		return true
	}
	result, err := f.expr.Evaluate(filterParams(spot, c))
	if err != nil {
		logger.Debugf("event=filter_error expr=%q code=%s err=%v", f.source, c.Contract.Code, err)
		return false
	}
	ok, isBool := result.(bool)
	return isBool && ok
}
