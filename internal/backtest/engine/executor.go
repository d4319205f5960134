package engine

import (
	"context"
	"time"

	sch "github.com/contactkeval/wheel-replay/internal/backtest/scheduler"
	st "github.com/contactkeval/wheel-replay/internal/backtest/strategy"
	"github.com/contactkeval/wheel-replay/internal/data"
	"github.com/contactkeval/wheel-replay/internal/logger"
	"github.com/contactkeval/wheel-replay/internal/pricing"
)

// executor owns the mutable state of one simulation.
type executor struct {
	cfg     Config
	in      *Inputs
	quotes  *quoteCache
	state   *st.State
	ledger  *Ledger
	filters []st.Filter
}

// cycle runs one monthly entry. Gaps (no spot, no contract, no quote)
// skip the month; only context errors are returned.
func (x *executor) cycle(ctx context.Context, entry time.Time) error {
	month := sch.MonthTag(entry)
	side := x.state.Side()

	spot, ok := x.in.Series.Close(entry)
	if !ok {
		x.skip(month, side, "no_spot")
		return nil
	}

	cand, ok := st.PickContract(entry, spot, side, x.in.Catalog, x.cfg.Band, x.filters...)
	if !ok {
		x.skip(month, side, "no_contract")
		return nil
	}
	c := cand.Contract

	quote, ok, err := x.quotes.lookup(ctx, c.Code, entry)
	if err != nil {
		return err
	}
	if !ok {
		x.skip(month, side, "no_quote")
		return nil
	}

	iv, ivSource := x.impliedVol(quote, entry, spot, c)
	premium := x.state.CollectPremium(c, quote.Close)

	settleDate, settle, ok := x.in.Series.PriceOnOrBefore(c.MaturityDate)
	if !ok {
		// The premium stays credited but no record is written.
		x.state.MarkUnsettled()
		x.ledger.unsettle()
		logger.Debugf(
			"event=unsettled month=%s code=%s maturity=%s premium=%.2f",
			month, c.Code, c.MaturityDate.Format(data.DateLayout), premium,
		)
		return nil
	}

	outcome := x.state.Settle(c, settle)
	holding := x.state.HoldingValue(settle)
	record := TradeRecord{
		Month:           month,
		Side:            side,
		ContractCode:    c.Code,
		EntryDate:       entry,
		Maturity:        c.MaturityDate,
		Strike:          c.Strike,
		Spot:            spot,
		OTMPct:          cand.OTM,
		Premium:         premium,
		SettlementDate:  settleDate,
		SettlementPrice: settle,
		Assigned:        outcome == st.Assigned || outcome == st.PartiallyCalled,
		Cash:            x.state.Cash,
		Shares:          x.state.Shares,
		HoldingValue:    holding,
		PortfolioValue:  x.state.Cash + holding,
		ImpliedVol:      iv,
		IVSource:        ivSource,
	}
	x.ledger.append(record)

	logger.Infof(
		"event=cycle month=%s side=%s code=%s strike=%.4f spot=%.4f premium=%.2f settle=%.4f outcome=%s cash=%.2f shares=%d",
		month, side, c.Code, c.Strike, spot, premium, settle, outcome, x.state.Cash, x.state.Shares,
	)
	return nil
}

// impliedVol prefers the quoted volatility and otherwise solves for it
// from the premium, using calendar days to maturity over 365.
func (x *executor) impliedVol(q data.Quote, entry time.Time, spot float64, c st.OptionContract) (*float64, string) {
	if q.ImpliedVol != nil {
		v := *q.ImpliedVol
		return &v, IVFromQuote
	}
	days := st.DaysBetween(entry, c.MaturityDate)
	if days < 0 {
		days = 0
	}
	t := float64(days) / 365
	v, ok := pricing.EstimateImpliedVol(q.Close, spot, c.Strike, t, c.Side.IsCall(), pricing.WithRate(x.cfg.Rate))
	if !ok {
		logger.Tracef("event=iv_unsolved code=%s premium=%.4f spot=%.4f strike=%.4f t=%.4f", c.Code, q.Close, spot, c.Strike, t)
		return nil, IVNone
	}
	return &v, IVSolved
}

func (x *executor) skip(month string, side data.Side, reason string) {
	x.ledger.skip()
	logger.Debugf("event=skip month=%s side=%s reason=%s", month, side, reason)
}
