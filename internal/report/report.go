// Package report writes backtest results to disk: the full result as
// JSON, the trade log as CSV, and an HTML page with summary, equity chart
// and trade table.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/contactkeval/wheel-replay/internal/backtest/engine"
	"github.com/contactkeval/wheel-replay/internal/data"
)

// File names written into the report directory.
const (
	JSONFile = "wheel_trades.json"
	CSVFile  = "wheel_trades.csv"
	HTMLFile = "wheel_report.html"
)

// WriteAll creates outdir and writes every report into it. It returns the
// written paths in JSON, CSV, HTML order.
func WriteAll(res *engine.Result, outdir string) ([]string, error) {
	if err := os.MkdirAll(outdir, 0o755); err != nil {
		return nil, fmt.Errorf("creating report dir %s: %w", outdir, err)
	}
	writers := []struct {
		name  string
		write func(io.Writer) error
	}{
		{JSONFile, func(w io.Writer) error { return RenderJSON(w, res) }},
		{CSVFile, func(w io.Writer) error { return RenderCSV(w, res.Trades) }},
		{HTMLFile, func(w io.Writer) error { return RenderHTML(w, res) }},
	}
	paths := make([]string, 0, len(writers))
	for _, wr := range writers {
		path := filepath.Join(outdir, wr.name)
		if err := writeFile(path, wr.write); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func WriteJSON(res *engine.Result, outdir string) error {
	return writeFile(filepath.Join(outdir, JSONFile), func(w io.Writer) error { return RenderJSON(w, res) })
}

func WriteCSV(trades []engine.TradeRecord, outdir string) error {
	return writeFile(filepath.Join(outdir, CSVFile), func(w io.Writer) error { return RenderCSV(w, trades) })
}

func WriteHTML(res *engine.Result, outdir string) error {
	return writeFile(filepath.Join(outdir, HTMLFile), func(w io.Writer) error { return RenderHTML(w, res) })
}

func writeFile(path string, render func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := render(f); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}

// RenderJSON writes the indented result.
func RenderJSON(w io.Writer, res *engine.Result) error {
	b, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	_, err = w.Write(append(b, '\n'))
	return err
}

// CSVHeader lists the trade log columns.
var CSVHeader = []string{
	"month", "side", "option_code", "entry_date", "expiry", "strike", "spot",
	"otm_pct(%)", "premium", "implied_vol(%)", "iv_source", "settlement_date",
	"expiry_price", "assigned", "cash_balance", "shares", "holding_value", "portfolio_value",
}

// RenderCSV writes one row per trade. Money is rounded to two places,
// prices to four, percentages to two.
func RenderCSV(w io.Writer, trades []engine.TradeRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return err
	}
	for _, t := range trades {
		if err := cw.Write(csvRow(t)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func csvRow(t engine.TradeRecord) []string {
	return []string{
		t.Month,
		string(t.Side),
		t.ContractCode,
		t.EntryDate.Format(data.DateLayout),
		t.Maturity.Format(data.DateLayout),
		fixed(t.Strike, 4),
		fixed(t.Spot, 4),
		percent(t.OTMPct),
		fixed(t.Premium, 2),
		optionalPercent(t.ImpliedVol),
		t.IVSource,
		t.SettlementDate.Format(data.DateLayout),
		fixed(t.SettlementPrice, 4),
		strconv.FormatBool(t.Assigned),
		fixed(t.Cash, 2),
		strconv.FormatInt(t.Shares, 10),
		fixed(t.HoldingValue, 2),
		fixed(t.PortfolioValue, 2),
	}
}

func fixed(v float64, places int32) string {
	return decimal.NewFromFloat(v).StringFixed(places)
}

func percent(v float64) string {
	return decimal.NewFromFloat(v).Shift(2).StringFixed(2)
}

func optionalPercent(v *float64) string {
	if v == nil {
		return ""
	}
	return percent(*v)
}
