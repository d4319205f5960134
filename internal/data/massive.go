// This file contains a Massive-backed Provider for US-listed underlyings.
//
// Design notes:
//   - Uses the official Massive client (client-go/v2) for aggregates,
//     options reference data and ticker details
//   - Option quotes are the daily aggregate close of the OCC ticker; the
//     feed carries no implied volatility, so the solver fills it in
//   - The trading calendar is derived from a reference ticker's bars
package data

import (
	"context"
	"fmt"
	"strings"
	"time"

	massive "github.com/massive-com/client-go/v2/rest"
	"github.com/massive-com/client-go/v2/rest/models"

	"github.com/contactkeval/wheel-replay/internal/logger"
)

// Massive reference data has no listing date; contracts are assumed
// tradable for this long before expiry.
const massiveListingWindow = 365 * 24 * time.Hour

// massiveAPI is the subset of the Massive client used here.
type massiveAPI interface {
	dailyAggs(ctx context.Context, ticker string, from, to time.Time) ([]models.Agg, error)
	optionContracts(ctx context.Context, underlying string, from, to time.Time) ([]models.OptionsContract, error)
	tickerName(ctx context.Context, ticker string) (string, error)
}

// MassiveProvider implements the Provider interface using Massive APIs.
type MassiveProvider struct {
	api       massiveAPI
	secondary Provider

	// calendarTicker supplies trading days (default SPY).
	calendarTicker string
	// expiry window applied to contract listings; zero means unbounded
	from, to time.Time
}

// MassiveOption configures a MassiveProvider.
type MassiveOption func(*MassiveProvider)

// WithMassiveCalendarTicker sets the ticker whose bars define trading days.
func WithMassiveCalendarTicker(t string) MassiveOption {
	return func(m *MassiveProvider) { m.calendarTicker = t }
}

// WithMassiveExpiryWindow limits contract listings to expiries in [from, to].
func WithMassiveExpiryWindow(from, to time.Time) MassiveOption {
	return func(m *MassiveProvider) { m.from, m.to = from, to }
}

// WithMassiveSecondary sets a fallback provider.
func WithMassiveSecondary(p Provider) MassiveOption {
	return func(m *MassiveProvider) { m.secondary = p }
}

// NewMassiveDataProvider constructs a Massive-backed data provider.
//
// Parameters:
//   - apiKey: Massive API key for authentication
//   - opts: optional calendar ticker, expiry window and secondary provider
func NewMassiveDataProvider(apiKey string, opts ...MassiveOption) *MassiveProvider {
	logger.Infof("initializing Massive data provider")
	return newMassiveProvider(&sdkClient{c: massive.New(apiKey)}, opts...)
}

func newMassiveProvider(api massiveAPI, opts ...MassiveOption) *MassiveProvider {
	m := &MassiveProvider{api: api, calendarTicker: "SPY"}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *MassiveProvider) Name() string        { return "massive" }
func (m *MassiveProvider) Secondary() Provider { return m.secondary }

func (m *MassiveProvider) GetPriceHistory(ctx context.Context, code string, from, to time.Time) ([]Bar, error) {
	logger.Debugf(
		"fetching bars: %s from=%s to=%s",
		code,
		from.Format(time.DateOnly),
		to.Format(time.DateOnly),
	)

	aggs, err := m.api.dailyAggs(ctx, code, from, to)
	if err != nil {
		return nil, fmt.Errorf("massive aggs %s: %w", code, err)
	}
	if len(aggs) == 0 {
		if m.secondary != nil {
			return m.secondary.GetPriceHistory(ctx, code, from, to)
		}
		return nil, fmt.Errorf("massive aggs %s: %w", code, ErrNoData)
	}

	out := make([]Bar, 0, len(aggs))
	for _, a := range aggs {
		out = append(out, barFromAgg(a))
	}
	logger.Tracef("bars received: %d records", len(out))
	return out, nil
}

// GetTradingCalendar returns the days the calendar ticker traded. The
// exchange argument is ignored; US options share one session calendar.
func (m *MassiveProvider) GetTradingCalendar(ctx context.Context, exchange string, from, to time.Time) ([]time.Time, error) {
	aggs, err := m.api.dailyAggs(ctx, m.calendarTicker, from, to)
	if err != nil {
		return nil, fmt.Errorf("massive calendar via %s: %w", m.calendarTicker, err)
	}
	if len(aggs) == 0 {
		if m.secondary != nil {
			return m.secondary.GetTradingCalendar(ctx, exchange, from, to)
		}
		return nil, fmt.Errorf("massive calendar via %s: %w", m.calendarTicker, ErrNoData)
	}
	out := make([]time.Time, 0, len(aggs))
	for _, a := range aggs {
		out = append(out, Day(time.Time(a.Timestamp)))
	}
	return out, nil
}

func (m *MassiveProvider) GetOptionContracts(ctx context.Context, exchange, underlying string) ([]ContractRow, error) {
	root := massiveRoot(underlying)
	logger.Tracef("fetching option contracts: %s", root)

	contracts, err := m.api.optionContracts(ctx, root, m.from, m.to)
	if err != nil {
		return nil, fmt.Errorf("massive contracts %s: %w", root, err)
	}

	out := make([]ContractRow, 0, len(contracts))
	for _, c := range contracts {
		row, ok := rowFromContract(c)
		if !ok {
			continue
		}
		out = append(out, row)
	}
	if len(out) == 0 {
		if m.secondary != nil {
			return m.secondary.GetOptionContracts(ctx, exchange, underlying)
		}
		return nil, fmt.Errorf("massive contracts %s: %w", root, ErrNoData)
	}
	logger.Debugf("event=option_contracts underlying=%s rows=%d", root, len(out))
	return out, nil
}

func (m *MassiveProvider) GetOptionQuote(ctx context.Context, contractCode string, date time.Time) (Quote, error) {
	d := Day(date)
	aggs, err := m.api.dailyAggs(ctx, contractCode, d, d)
	if err != nil {
		return Quote{}, fmt.Errorf("massive option aggs %s: %w", contractCode, err)
	}
	for _, a := range aggs {
		if Day(time.Time(a.Timestamp)).Equal(d) && a.Close > 0 {
			return Quote{Date: d, Close: a.Close}, nil
		}
	}
	if m.secondary != nil {
		return m.secondary.GetOptionQuote(ctx, contractCode, date)
	}
	return Quote{}, fmt.Errorf("massive option aggs %s on %s: %w", contractCode, d.Format(DateLayout), ErrNoData)
}

func (m *MassiveProvider) GetFundName(ctx context.Context, code string) (string, error) {
	name, err := m.api.tickerName(ctx, massiveRoot(code))
	if err != nil || name == "" {
		if m.secondary != nil {
			return m.secondary.GetFundName(ctx, code)
		}
		if err == nil {
			err = ErrNoData
		}
		return "", fmt.Errorf("massive ticker details %s: %w", code, err)
	}
	return name, nil
}

// massiveRoot strips an exchange suffix such as ".US".
func massiveRoot(code string) string {
	root, _, _ := strings.Cut(strings.ToUpper(code), ".")
	return root
}

func barFromAgg(a models.Agg) Bar {
	return Bar{
		Date:  Day(time.Time(a.Timestamp)),
		Open:  a.Open,
		High:  a.High,
		Low:   a.Low,
		Close: a.Close,
		Vol:   a.Volume,
	}
}

func rowFromContract(c models.OptionsContract) (ContractRow, bool) {
	side, err := ParseSide(c.ContractType)
	if err != nil {
		return ContractRow{}, false
	}
	maturity := Day(time.Time(c.ExpirationDate))
	ticker := c.Ticker
	if ticker == "" {
		ticker = OptionSymbolFromParts(c.UnderlyingTicker, maturity, side, c.StrikePrice)
	}
	return ContractRow{
		Code:         ticker,
		OptCode:      ticker,
		Name:         fmt.Sprintf("%s %s %s %.2f", c.UnderlyingTicker, maturity.Format(time.DateOnly), side, c.StrikePrice),
		Side:         side,
		Strike:       c.StrikePrice,
		Multiplier:   c.SharesPerContract,
		ListDate:     maturity.Add(-massiveListingWindow),
		MaturityDate: maturity,
	}, true
}

// --------------------------------------------------------------------------------------------
// SDK adapter
// --------------------------------------------------------------------------------------------

type sdkClient struct {
	c *massive.Client
}

func (s *sdkClient) dailyAggs(ctx context.Context, ticker string, from, to time.Time) ([]models.Agg, error) {
	params := models.ListAggsParams{
		Ticker:     ticker,
		Multiplier: 1,
		Timespan:   "day",
		From:       models.Millis(from),
		To:         models.Millis(to),
	}.WithAdjusted(true).WithLimit(50000)

	var out []models.Agg
	iter := s.c.ListAggs(ctx, params)
	for iter.Next() {
		out = append(out, iter.Item())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *sdkClient) optionContracts(ctx context.Context, underlying string, from, to time.Time) ([]models.OptionsContract, error) {
	params := models.ListOptionsContractsParams{}.
		WithUnderlyingTicker(models.EQ, underlying).
		WithExpired(true).
		WithLimit(1000)
	if !from.IsZero() {
		params = params.WithExpirationDate(models.GTE, models.Date(from))
	}
	if !to.IsZero() {
		params = params.WithExpirationDate(models.LTE, models.Date(to))
	}

	var out []models.OptionsContract
	iter := s.c.ListOptionsContracts(ctx, params)
	for iter.Next() {
		out = append(out, iter.Item())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *sdkClient) tickerName(ctx context.Context, ticker string) (string, error) {
	res, err := s.c.GetTickerDetails(ctx, &models.GetTickerDetailsParams{Ticker: ticker})
	if err != nil {
		return "", err
	}
	return res.Results.Name, nil
}
