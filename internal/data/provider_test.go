package data

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testDateRange() (time.Time, time.Time) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	return start, end
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func writeFixtureDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		BarsFile: "code,date,open,high,low,close,vol\n" +
			"159915.SZ,20250102,2.0,2.1,1.9,2.05,1000\n" +
			"159915.SZ,20250103,2.05,2.1,2.0,2.08,1200\n" +
			"159915.SZ,20250106,2.08,2.2,2.0,bad,900\n" +
			"159915.SZ,20250120,2.1,2.2,2.0,2.15,800\n",
		CalendarFile: "exchange,date\nSZSE,20250102\nSZSE,20250103\nSZSE,20250106\n",
		ContractsFile: "exchange,code,opt_code,name,side,strike,multiplier,list_date,delist_date,maturity_date\n" +
			"SZSE,90001.SZ,OP159915.SZ,创业板ETF沽1月1850,P,1.85,10000,20241201,,20250122\n" +
			"SZSE,90002.SZ,OP159915.SZ,创业板ETF购1月2200,C,2.2,,20241201,,20250122\n",
		QuotesFile: "code,date,close,implied_vol\n90001.SZ,20250102,0.03,\n90001.SZ,20250103,0.025,0.21\n",
		FundsFile:  "code,name\n159915.SZ,创业板ETF\n",
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return dir
}

func TestDataProviderContract_GetPriceHistory(t *testing.T) {
	start, end := testDateRange()

	csvProv, err := LoadCSVDir(writeFixtureDir(t), nil)
	if err != nil {
		t.Fatalf("load csv dir: %v", err)
	}

	massiveProv := newMassiveProvider(&fakeMassive{aggs: map[string][]aggFixture{
		"159915.SZ": {{day(2025, 1, 2), 2.05}, {day(2025, 1, 3), 2.08}},
	}})

	providers := []struct {
		name     string
		provider Provider
	}{
		{"csv", csvProv},
		{"massive", massiveProv},
	}

	for _, prov := range providers {
		t.Run(prov.name, func(t *testing.T) {
			bars, err := prov.provider.GetPriceHistory(context.Background(), "159915.SZ", start, end)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(bars) == 0 {
				t.Fatalf("expected non-empty bars")
			}
			for i, b := range bars {
				if b.Date.Before(start) || b.Date.After(end) {
					t.Fatalf("bar date out of range: %v", b.Date)
				}
				if i > 0 && !bars[i-1].Date.Before(b.Date) {
					t.Fatalf("bars not ascending at %d", i)
				}
			}
		})
	}
}

func TestLoadCSVDir(t *testing.T) {
	m, err := LoadCSVDir(writeFixtureDir(t), nil)
	if err != nil {
		t.Fatalf("load csv dir: %v", err)
	}
	ctx := context.Background()

	cal, err := m.GetTradingCalendar(ctx, "SZSE", time.Time{}, time.Time{})
	if err != nil || len(cal) != 3 {
		t.Fatalf("expected 3 calendar days, got %d (%v)", len(cal), err)
	}

	rows, err := m.GetOptionContracts(ctx, "SZSE", "159915.SZ")
	if err != nil {
		t.Fatalf("contracts: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].Side != Put || rows[0].Strike != 1.85 || rows[0].Multiplier != 10000 {
		t.Fatalf("unexpected first row %+v", rows[0])
	}
	if !rows[0].DelistDate.IsZero() {
		t.Fatalf("expected empty delist date, got %v", rows[0].DelistDate)
	}
	if rows[1].Multiplier != 0 {
		t.Fatalf("missing multiplier should load as zero, got %f", rows[1].Multiplier)
	}

	q, err := m.GetOptionQuote(ctx, "90001.SZ", day(2025, 1, 2))
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if q.Close != 0.03 || q.ImpliedVol != nil {
		t.Fatalf("unexpected quote %+v", q)
	}
	q, err = m.GetOptionQuote(ctx, "90001.SZ", day(2025, 1, 3))
	if err != nil || q.ImpliedVol == nil || *q.ImpliedVol != 0.21 {
		t.Fatalf("expected implied vol 0.21, got %+v (%v)", q, err)
	}

	if _, err := m.GetOptionQuote(ctx, "90001.SZ", day(2025, 1, 6)); !errors.Is(err, ErrNoData) {
		t.Fatalf("expected ErrNoData, got %v", err)
	}

	name, err := m.GetFundName(ctx, "159915.SZ")
	if err != nil || name != "创业板ETF" {
		t.Fatalf("unexpected fund name %q (%v)", name, err)
	}
}

func TestMemoryProviderFallsBackToSecondary(t *testing.T) {
	ctx := context.Background()
	secondary := NewMemoryProvider(nil)
	secondary.SetFundName("510050.SH", "上证50ETF")
	secondary.AddQuote("X", Quote{Date: day(2025, 1, 2), Close: 0.1})

	primary := NewMemoryProvider(secondary)
	if primary.Secondary() != secondary {
		t.Fatal("secondary not wired")
	}

	name, err := primary.GetFundName(ctx, "510050.SH")
	if err != nil || name != "上证50ETF" {
		t.Fatalf("expected secondary fund name, got %q (%v)", name, err)
	}
	if _, err := primary.GetOptionQuote(ctx, "X", day(2025, 1, 2)); err != nil {
		t.Fatalf("expected secondary quote, got %v", err)
	}
	if primary.QuoteCalls() != 1 || secondary.QuoteCalls() != 1 {
		t.Fatalf("unexpected call counts %d/%d", primary.QuoteCalls(), secondary.QuoteCalls())
	}
	if _, err := primary.GetPriceHistory(ctx, "510050.SH", time.Time{}, time.Time{}); !errors.Is(err, ErrNoData) {
		t.Fatalf("expected ErrNoData, got %v", err)
	}
}

func TestExchangeFor(t *testing.T) {
	cases := map[string]string{
		"510050.SH": "SSE",
		"510300.sh": "SSE",
		"159915.SZ": "SZSE",
		"159919":    "SZSE",
	}
	for code, want := range cases {
		if got := ExchangeFor(code); got != want {
			t.Fatalf("ExchangeFor(%s) = %s, want %s", code, got, want)
		}
	}
}

func TestParseSide(t *testing.T) {
	for _, v := range []string{"P", "put", " PUT "} {
		if s, err := ParseSide(v); err != nil || s != Put {
			t.Fatalf("ParseSide(%q) = %v, %v", v, s, err)
		}
	}
	for _, v := range []string{"C", "call"} {
		if s, err := ParseSide(v); err != nil || s != Call {
			t.Fatalf("ParseSide(%q) = %v, %v", v, s, err)
		}
	}
	if _, err := ParseSide("straddle"); err == nil {
		t.Fatal("expected error for unknown side")
	}
}

func TestParseDay(t *testing.T) {
	for _, v := range []string{"20230103", "2023-01-03"} {
		d, err := ParseDay(v)
		if err != nil || !d.Equal(day(2023, 1, 3)) {
			t.Fatalf("ParseDay(%q) = %v, %v", v, d, err)
		}
	}
	if _, err := ParseDay("2023/01/03"); err == nil {
		t.Fatal("expected error for unsupported layout")
	}
}

func TestOptionSymbolFromParts(t *testing.T) {
	got := OptionSymbolFromParts("spy", day(2025, 1, 17), Put, 580)
	if got != "O:SPY250117P00580000" {
		t.Fatalf("unexpected symbol %s", got)
	}
}
