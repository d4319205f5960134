package engine

import (
	"math"
	"time"

	"github.com/contactkeval/wheel-replay/internal/data"
)

// IV provenance on a TradeRecord.
const (
	IVFromQuote = "quote"
	IVSolved    = "solved"
	IVNone      = "none"
)

// TradeRecord is one executed monthly cycle.
type TradeRecord struct {
	Month           string    `json:"month"` // YYYYMM
	Side            data.Side `json:"side"`
	ContractCode    string    `json:"option_code"`
	EntryDate       time.Time `json:"entry_date"`
	Maturity        time.Time `json:"expiry"`
	Strike          float64   `json:"strike"`
	Spot            float64   `json:"spot"`
	OTMPct          float64   `json:"otm_pct"`
	Premium         float64   `json:"premium"`
	SettlementDate  time.Time `json:"settlement_date"`
	SettlementPrice float64   `json:"expiry_price"`
	Assigned        bool      `json:"assigned"`
	Cash            float64   `json:"cash_balance"`
	Shares          int64     `json:"shares"`
	HoldingValue    float64   `json:"holding_value"`
	PortfolioValue  float64   `json:"portfolio_value"`
	ImpliedVol      *float64  `json:"implied_vol"`
	IVSource        string    `json:"iv_source"`
}

// EquityPoint is the portfolio snapshot after a cycle settles.
type EquityPoint struct {
	Date           time.Time `json:"date"`
	Cash           float64   `json:"cash"`
	HoldingValue   float64   `json:"holding_value"`
	PortfolioValue float64   `json:"portfolio_value"`
}

// Summary holds the run's final metrics. Pointer fields are nil when the
// metric does not apply.
type Summary struct {
	Underlying      string    `json:"underlying"`
	StartDate       time.Time `json:"start_date"`
	EndDate         time.Time `json:"end_date"`
	Periods         int       `json:"periods"`
	PutCycles       int       `json:"put_cycles"`
	CallCycles      int       `json:"call_cycles"`
	Assignments     int       `json:"assignments"`
	SkippedMonths   int       `json:"skipped_months"`
	Unsettled       int       `json:"unsettled_cycles"`
	EndingValue     float64   `json:"ending_value"`
	Cash            float64   `json:"cash"`
	Shares          int64     `json:"shares"`
	LastPrice       float64   `json:"last_price"`
	MaxMargin       float64   `json:"max_margin"`
	InitialCapital  float64   `json:"initial_capital"`
	ReturnOnCapital *float64  `json:"return_on_capital"`
	ReturnOnMargin  *float64  `json:"return_on_margin"`
	Annualized      *float64  `json:"annualized_return"`
	MaxDrawdown     float64   `json:"max_drawdown"`
}

// Ledger accumulates records and equity points in simulation order.
type Ledger struct {
	Records []TradeRecord
	Equity  []EquityPoint

	skipped   int
	unsettled int
}

func (l *Ledger) append(r TradeRecord) {
	l.Records = append(l.Records, r)
	l.Equity = append(l.Equity, EquityPoint{
		Date:           r.SettlementDate,
		Cash:           r.Cash,
		HoldingValue:   r.HoldingValue,
		PortfolioValue: r.PortfolioValue,
	})
}

func (l *Ledger) skip()     { l.skipped++ }
func (l *Ledger) unsettle() { l.unsettled++ }

// summaryInputs is the end-of-run state Summarize needs beyond the ledger.
type summaryInputs struct {
	underlying      string
	start, end      time.Time
	initialCapital  float64
	cash            float64
	shares          int64
	maxMargin       float64
	firstClose      float64
	lastClose       float64
	firstMultiplier float64
}

// summarize derives the final metrics.
//
// With initial capital, returns are measured on capital. Without it,
// ending value is divided by margin, which is the running maximum put
// margin or, when no put was sold, one contract's notional at the first
// close. Margin framing starts from zero cash, so that ratio is already a
// return and annualizes as (1+ROM)^(365/days) - 1.
func (l *Ledger) summarize(in summaryInputs) Summary {
	s := Summary{
		Underlying:     in.underlying,
		StartDate:      in.start,
		EndDate:        in.end,
		Periods:        len(l.Records),
		SkippedMonths:  l.skipped,
		Unsettled:      l.unsettled,
		Cash:           in.cash,
		Shares:         in.shares,
		LastPrice:      in.lastClose,
		InitialCapital: in.initialCapital,
		MaxDrawdown:    MaxDrawdown(l.Equity),
	}
	for _, r := range l.Records {
		if r.Side == data.Put {
			s.PutCycles++
		} else {
			s.CallCycles++
		}
		if r.Assigned {
			s.Assignments++
		}
	}

	s.EndingValue = in.cash + float64(in.shares)*in.lastClose
	s.MaxMargin = in.maxMargin
	if s.MaxMargin == 0 {
		s.MaxMargin = in.firstMultiplier * in.firstClose
	}

	days := in.end.Sub(in.start).Hours() / 24
	if in.initialCapital > 0 {
		roc := (s.EndingValue - in.initialCapital) / in.initialCapital
		s.ReturnOnCapital = &roc
		if days > 0 {
			s.Annualized = annualize(1+roc, days)
		}
		return s
	}

	if s.MaxMargin > 0 {
		rom := s.EndingValue / s.MaxMargin
		s.ReturnOnMargin = &rom
		if days > 0 && 1+rom > 0 {
			s.Annualized = annualize(1+rom, days)
		}
	}
	return s
}

func annualize(growth, days float64) *float64 {
	v := math.Pow(growth, 365/days) - 1
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// MaxDrawdown returns the largest peak-to-trough fall of the portfolio
// value as a fraction of the peak, as a non-positive number. Points before
// the first positive peak are ignored.
func MaxDrawdown(points []EquityPoint) float64 {
	peak, worst := 0.0, 0.0
	for _, p := range points {
		if p.PortfolioValue > peak {
			peak = p.PortfolioValue
			continue
		}
		if peak <= 0 {
			continue
		}
		if dd := (p.PortfolioValue - peak) / peak; dd < worst {
			worst = dd
		}
	}
	return worst
}
