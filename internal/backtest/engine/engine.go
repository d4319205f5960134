// Package engine replays the wheel strategy over historical data.
//
// An Engine loads the trading calendar, the underlying's closes and the
// option catalog through a data.Provider, then walks the monthly entry
// dates with a single strategy.State, producing a trade ledger, an equity
// curve and summary metrics. Given the same provider data, two runs
// produce identical results.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	sch "github.com/contactkeval/wheel-replay/internal/backtest/scheduler"
	st "github.com/contactkeval/wheel-replay/internal/backtest/strategy"
	"github.com/contactkeval/wheel-replay/internal/data"
	"github.com/contactkeval/wheel-replay/internal/logger"
	"github.com/contactkeval/wheel-replay/internal/pricing"
)

const (
	VerbosityError = iota // 0
	VerbosityInfo         // 1
	VerbosityDebug        // 2
	VerbosityTrace        // 3
)

// Config holds the parameters of one backtest.
type Config struct {
	Underlying     string     `json:"underlying"`                // e.g. "159915.SZ"
	Exchange       string     `json:"exchange,omitempty"`        // derived from the code suffix when empty
	StartDate      time.Time  `json:"start_date"`                // inclusive
	EndDate        time.Time  `json:"end_date"`                  // inclusive
	Band           st.OTMBand `json:"otm_band"`                  // inclusive OTM band
	InitialCapital float64    `json:"initial_capital,omitempty"` // 0 selects margin framing
	Rate           float64    `json:"rate,omitempty"`            // risk-free rate for the IV solver
	ContractFilter string     `json:"contract_filter,omitempty"` // optional govaluate expression
}

// Validate checks the parameters a run depends on.
func (c Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Underlying) == "":
		return invalidConfig("underlying", c.Underlying, "required")
	case c.StartDate.IsZero() || c.EndDate.IsZero():
		return invalidConfig("date_range", fmt.Sprintf("%s..%s", c.StartDate.Format(data.DateLayout), c.EndDate.Format(data.DateLayout)), "start and end are required")
	case c.StartDate.After(c.EndDate):
		return invalidConfig("start_date", c.StartDate.Format(data.DateLayout), "after end date")
	case c.InitialCapital < 0 || math.IsNaN(c.InitialCapital):
		return invalidConfig("initial_capital", c.InitialCapital, "must be >= 0")
	case c.Rate < 0 || math.IsNaN(c.Rate):
		return invalidConfig("rate", c.Rate, "must be >= 0")
	}
	if err := c.Band.Validate(); err != nil {
		return fmt.Errorf("%w: otm_band: %w", ErrInvalidConfig, err)
	}
	return nil
}

// Inputs are the immutable structures a simulation reads.
type Inputs struct {
	Calendar   *sch.TradingCalendar
	Series     *sch.PriceSeries
	Catalog    *st.Catalog
	EntryDates []time.Time
	FundName   string
}

// Result is the outcome of a run.
type Result struct {
	Config  Config        `json:"config"`
	Trades  []TradeRecord `json:"trades"`
	Equity  []EquityPoint `json:"equity_curve"`
	Summary Summary       `json:"summary"`
}

type Engine struct {
	cfg    Config
	prov   data.Provider
	filter *st.ContractFilter
}

// NewEngine validates cfg and binds it to prov.
func NewEngine(cfg Config, prov data.Provider) (*Engine, error) {
	if prov == nil {
		return nil, invalidConfig("provider", nil, "required")
	}
	if cfg.Rate == 0 {
		cfg.Rate = pricing.DefaultRate
	}
	cfg.Underlying = strings.ToUpper(strings.TrimSpace(cfg.Underlying))
	cfg.StartDate, cfg.EndDate = data.Day(cfg.StartDate), data.Day(cfg.EndDate)
	if cfg.Exchange == "" {
		cfg.Exchange = data.ExchangeFor(cfg.Underlying)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	filter, err := st.NewContractFilter(cfg.ContractFilter)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return &Engine{cfg: cfg, prov: prov, filter: filter}, nil
}

// Config returns the normalized configuration.
func (e *Engine) Config() Config { return e.cfg }

// Run loads inputs and simulates.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	in, err := e.Load(ctx)
	if err != nil {
		return nil, err
	}
	return e.Simulate(ctx, in)
}

// Load fetches and builds everything the simulation reads. Any failure
// here aborts the run.
func (e *Engine) Load(ctx context.Context) (*Inputs, error) {
	cfg := e.cfg
	log := logger.With(map[string]string{
		"underlying": cfg.Underlying,
		"exchange":   cfg.Exchange,
		"provider":   e.prov.Name(),
	})
	log.Info().
		Str("from", cfg.StartDate.Format(data.DateLayout)).
		Str("to", cfg.EndDate.Format(data.DateLayout)).
		Msg("event=load")

	days, err := e.prov.GetTradingCalendar(ctx, cfg.Exchange, cfg.StartDate, cfg.EndDate)
	if err != nil {
		return nil, e.dataError("trading_calendar", ErrNoCalendar, err)
	}
	cal, err := sch.NewTradingCalendar(days)
	if err != nil {
		return nil, e.dataError("trading_calendar", ErrNoCalendar, err)
	}

	bars, err := e.prov.GetPriceHistory(ctx, cfg.Underlying, cfg.StartDate, cfg.EndDate)
	if err != nil {
		return nil, e.dataError("price_history", ErrNoPriceData, err)
	}
	series, err := sch.NewPriceSeries(bars, cal)
	if err != nil {
		return nil, e.dataError("price_history", ErrNoPriceData, err)
	}

	fundName, err := e.prov.GetFundName(ctx, cfg.Underlying)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Debug().Err(err).Msg("event=fund_name_missing")
	}

	rows, err := e.prov.GetOptionContracts(ctx, cfg.Exchange, cfg.Underlying)
	if err != nil {
		return nil, e.dataError("option_contracts", ErrCatalogEmpty, err)
	}
	cat, err := st.BuildCatalog(cfg.Underlying, fundName, rows)
	if err != nil {
		return nil, e.dataError("option_catalog", err, nil)
	}

	entries := sch.MonthlyEntryDates(series)
	if len(entries) == 0 {
		return nil, e.dataError("entry_dates", ErrNoEntryDates, nil)
	}

	log.Info().
		Int("trading_days", cal.Len()).
		Int("closes", series.Len()).
		Int("contracts", cat.Len()).
		Int("entry_dates", len(entries)).
		Str("fund", fundName).
		Msg("event=loaded")
	return &Inputs{
		Calendar:   cal,
		Series:     series,
		Catalog:    cat,
		EntryDates: entries,
		FundName:   fundName,
	}, nil
}

// Simulate replays every entry date in order. It only reads in; quotes
// are fetched through the provider and memoized for this call.
func (e *Engine) Simulate(ctx context.Context, in *Inputs) (*Result, error) {
	if in == nil || in.Calendar == nil || in.Series == nil || in.Catalog == nil {
		return nil, errors.New("simulate: incomplete inputs")
	}

	x := &executor{
		cfg:     e.cfg,
		in:      in,
		quotes:  newQuoteCache(e.prov, in.Calendar),
		state:   st.NewState(e.cfg.InitialCapital),
		ledger:  &Ledger{},
		filters: e.filters(),
	}

	for _, entry := range in.EntryDates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := x.cycle(ctx, entry); err != nil {
			return nil, err
		}
	}

	_, firstClose := in.Series.First()
	_, lastClose := in.Series.Last()
	firstMultiplier := 0.0
	if contracts := in.Catalog.Contracts(); len(contracts) > 0 {
		firstMultiplier = contracts[0].Multiplier
	}

	summary := x.ledger.summarize(summaryInputs{
		underlying:      e.cfg.Underlying,
		start:           e.cfg.StartDate,
		end:             e.cfg.EndDate,
		initialCapital:  e.cfg.InitialCapital,
		cash:            x.state.Cash,
		shares:          x.state.Shares,
		maxMargin:       x.state.MaxMargin,
		firstClose:      firstClose,
		lastClose:       lastClose,
		firstMultiplier: firstMultiplier,
	})

	logger.Infof(
		"event=done periods=%d skipped=%d assignments=%d ending=%.2f quotes_cached=%d",
		summary.Periods, summary.SkippedMonths, summary.Assignments, summary.EndingValue, x.quotes.size(),
	)
	return &Result{
		Config:  e.cfg,
		Trades:  x.ledger.Records,
		Equity:  x.ledger.Equity,
		Summary: summary,
	}, nil
}

func (e *Engine) filters() []st.Filter {
	if e.filter == nil {
		return nil
	}
	return []st.Filter{e.filter}
}

func (e *Engine) dataError(op string, category, cause error) error {
	if errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		return cause
	}
	return &DataError{
		Op:         op,
		Underlying: e.cfg.Underlying,
		Err:        category,
		Cause:      cause,
	}
}
