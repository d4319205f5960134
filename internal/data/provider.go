// Package data provides market data provider implementations.
//
// A Provider supplies the raw series a backtest consumes: underlying daily
// bars, the exchange trading calendar, option contract reference rows and
// per-day option quotes. Providers may be chained through Secondary() so a
// cache or local fixture can fall back to a live source.
package data

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// DateLayout is the compact date format used by exchange data feeds and
// in trade records (e.g. 20230103).
const DateLayout = "20060102"

// ErrNoData is returned when a provider has no data for the request.
var ErrNoData = errors.New("no data")

// Side is the option right.
type Side string

const (
	Put  Side = "PUT"
	Call Side = "CALL"
)

// IsCall reports whether s is the call side.
func (s Side) IsCall() bool { return s == Call }

// Short returns the single-letter exchange code (P or C).
func (s Side) Short() string {
	if s == Call {
		return "C"
	}
	return "P"
}

// ParseSide accepts P/PUT/C/CALL in any case.
func ParseSide(v string) (Side, error) {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "P", "PUT":
		return Put, nil
	case "C", "CALL":
		return Call, nil
	}
	return "", fmt.Errorf("unknown option side %q", v)
}

// Bar simplified OHLC
type Bar struct {
	Date  time.Time
	Open  float64
	High  float64
	Low   float64
	Close float64
	Vol   float64
}

// ContractRow is one option contract as listed by the exchange reference
// feed. Zero values mean the field was missing or unparseable.
type ContractRow struct {
	Code         string    `json:"code"`     // tradable contract id, e.g. 10004567.SZ
	OptCode      string    `json:"opt_code"` // exchange product code, e.g. OP159915.SZ
	Name         string    `json:"name"`
	Side         Side      `json:"side"`
	Strike       float64   `json:"strike"`
	Multiplier   float64   `json:"multiplier"`
	ListDate     time.Time `json:"list_date"`
	DelistDate   time.Time `json:"delist_date"`
	MaturityDate time.Time `json:"maturity_date"`
}

// Quote is a contract's daily close and, when the feed carries it, the
// implied volatility the exchange published for that close.
type Quote struct {
	Date       time.Time `json:"date"`
	Close      float64   `json:"close"`
	ImpliedVol *float64  `json:"implied_vol,omitempty"`
}

// Provider supplies market data
type Provider interface {
	Name() string
	Secondary() Provider
	GetPriceHistory(ctx context.Context, code string, from, to time.Time) ([]Bar, error)
	GetTradingCalendar(ctx context.Context, exchange string, from, to time.Time) ([]time.Time, error)
	GetOptionContracts(ctx context.Context, exchange, underlying string) ([]ContractRow, error)
	// GetOptionQuote returns ErrNoData when the contract did not trade on date.
	GetOptionQuote(ctx context.Context, contractCode string, date time.Time) (Quote, error)
	GetFundName(ctx context.Context, code string) (string, error)
}

// ExchangeFor infers the listing exchange from a ts_code style suffix.
func ExchangeFor(code string) string {
	if strings.HasSuffix(strings.ToUpper(code), ".SH") {
		return "SSE"
	}
	return "SZSE"
}

// Day truncates t to midnight UTC of its calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDay parses YYYYMMDD or YYYY-MM-DD into a UTC day.
func ParseDay(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	layout := DateLayout
	if strings.Contains(s, "-") {
		layout = time.DateOnly
	}
	t, err := time.Parse(layout, s)
	if err != nil {
		return time.Time{}, err
	}
	return Day(t), nil
}

// --------------------------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------------------------

// OptionSymbolFromParts formats an OCC option ticker with the O: prefix
// used by Massive: <root><YYMMDD><C|P><strike*1000 padded to 8 digits>.
func OptionSymbolFromParts(underlying string, expiryDate time.Time, side Side, strike float64) string {
	expDt := expiryDate.UTC().Format("060102")
	strikeInt := int(math.Round(strike * 1000))
	return fmt.Sprintf("O:%s%s%s%08d", strings.ToUpper(underlying), expDt, side.Short(), strikeInt)
}
