package data

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/massive-com/client-go/v2/rest/models"
)

type aggFixture struct {
	date  time.Time
	close float64
}

// fakeMassive stands in for the Massive SDK.
type fakeMassive struct {
	aggs      map[string][]aggFixture
	contracts []models.OptionsContract
	names     map[string]string
	err       error

	lastFrom, lastTo time.Time
}

func (f *fakeMassive) dailyAggs(ctx context.Context, ticker string, from, to time.Time) ([]models.Agg, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []models.Agg
	for _, a := range f.aggs[ticker] {
		if a.date.Before(from) || a.date.After(to) {
			continue
		}
		out = append(out, models.Agg{
			Open:      a.close,
			High:      a.close,
			Low:       a.close,
			Close:     a.close,
			Volume:    100,
			Timestamp: models.Millis(a.date),
		})
	}
	return out, nil
}

func (f *fakeMassive) optionContracts(ctx context.Context, underlying string, from, to time.Time) ([]models.OptionsContract, error) {
	f.lastFrom, f.lastTo = from, to
	if f.err != nil {
		return nil, f.err
	}
	var out []models.OptionsContract
	for _, c := range f.contracts {
		if c.UnderlyingTicker == underlying {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeMassive) tickerName(ctx context.Context, ticker string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.names[ticker], nil
}

func TestMassiveProvider_HTTPError(t *testing.T) {
	p := newMassiveProvider(&fakeMassive{err: errors.New("internal error")})
	start, end := testDateRange()

	if _, err := p.GetPriceHistory(context.Background(), "AAPL", start, end); err == nil {
		t.Fatal("expected error, got nil")
	}
	if _, err := p.GetOptionContracts(context.Background(), "", "AAPL"); err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestMassiveProvider_CalendarFromReferenceTicker(t *testing.T) {
	fake := &fakeMassive{aggs: map[string][]aggFixture{
		"QQQ": {{day(2025, 1, 2), 500}, {day(2025, 1, 3), 505}},
	}}
	p := newMassiveProvider(fake, WithMassiveCalendarTicker("QQQ"))
	start, end := testDateRange()

	days, err := p.GetTradingCalendar(context.Background(), "SZSE", start, end)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(days) != 2 || !days[0].Equal(day(2025, 1, 2)) {
		t.Fatalf("unexpected calendar %v", days)
	}
}

func TestMassiveProvider_OptionContracts(t *testing.T) {
	fake := &fakeMassive{contracts: []models.OptionsContract{
		{
			Ticker:            "O:SPY250117P00580000",
			UnderlyingTicker:  "SPY",
			ContractType:      "put",
			StrikePrice:       580,
			SharesPerContract: 100,
			ExpirationDate:    models.Date(day(2025, 1, 17)),
		},
		{
			Ticker:           "O:SPY250117X00580000",
			UnderlyingTicker: "SPY",
			ContractType:     "other",
		},
	}}
	from, to := day(2025, 1, 1), day(2025, 3, 31)
	p := newMassiveProvider(fake, WithMassiveExpiryWindow(from, to))

	rows, err := p.GetOptionContracts(context.Background(), "", "spy.us")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	r := rows[0]
	if r.Side != Put || r.Strike != 580 || r.Multiplier != 100 {
		t.Fatalf("unexpected row %+v", r)
	}
	if !r.MaturityDate.Equal(day(2025, 1, 17)) || !r.ListDate.Before(r.MaturityDate) {
		t.Fatalf("unexpected dates list=%v maturity=%v", r.ListDate, r.MaturityDate)
	}
	if !fake.lastFrom.Equal(from) || !fake.lastTo.Equal(to) {
		t.Fatalf("expiry window not forwarded: %v..%v", fake.lastFrom, fake.lastTo)
	}
}

func TestMassiveProvider_ContractWithoutTicker(t *testing.T) {
	fake := &fakeMassive{contracts: []models.OptionsContract{{
		UnderlyingTicker:  "SPY",
		ContractType:      "call",
		StrikePrice:       600.5,
		SharesPerContract: 100,
		ExpirationDate:    models.Date(day(2025, 2, 21)),
	}}}
	p := newMassiveProvider(fake)

	rows, err := p.GetOptionContracts(context.Background(), "", "SPY")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 1 || rows[0].Code != "O:SPY250221C00600500" {
		t.Fatalf("unexpected rows %+v", rows)
	}
}

func TestMassiveProvider_OptionQuote(t *testing.T) {
	sym := OptionSymbolFromParts("SPY", day(2025, 1, 17), Put, 580)
	fake := &fakeMassive{aggs: map[string][]aggFixture{
		sym: {{day(2025, 1, 2), 12.14}},
	}}
	p := newMassiveProvider(fake)

	q, err := p.GetOptionQuote(context.Background(), sym, day(2025, 1, 2))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.Close != 12.14 || q.ImpliedVol != nil {
		t.Fatalf("unexpected quote %+v", q)
	}

	if _, err := p.GetOptionQuote(context.Background(), sym, day(2025, 1, 3)); !errors.Is(err, ErrNoData) {
		t.Fatalf("expected ErrNoData, got %v", err)
	}
}

func TestMassiveProvider_FundNameFallsBack(t *testing.T) {
	secondary := NewMemoryProvider(nil)
	secondary.SetFundName("SPY", "SPDR S&P 500")

	p := newMassiveProvider(&fakeMassive{names: map[string]string{}}, WithMassiveSecondary(secondary))
	name, err := p.GetFundName(context.Background(), "SPY")
	if err != nil || name != "SPDR S&P 500" {
		t.Fatalf("expected secondary name, got %q (%v)", name, err)
	}

	p = newMassiveProvider(&fakeMassive{names: map[string]string{"SPY": "SPDR S&P 500 ETF Trust"}})
	name, err = p.GetFundName(context.Background(), "SPY")
	if err != nil || name != "SPDR S&P 500 ETF Trust" {
		t.Fatalf("unexpected name %q (%v)", name, err)
	}
}
