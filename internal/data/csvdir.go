package data

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/contactkeval/wheel-replay/internal/logger"
)

// Files read by LoadCSVDir. Each has a header row; column order is free.
const (
	BarsFile      = "bars.csv"      // code,date,open,high,low,close,vol
	CalendarFile  = "calendar.csv"  // exchange,date
	ContractsFile = "contracts.csv" // exchange,code,opt_code,name,side,strike,multiplier,list_date,delist_date,maturity_date
	QuotesFile    = "quotes.csv"    // code,date,close,implied_vol
	FundsFile     = "funds.csv"     // code,name
)

// LoadCSVDir builds a MemoryProvider from the CSV files in dir. Missing
// files are skipped so a directory may hold a partial data set and rely on
// secondary for the rest.
func LoadCSVDir(dir string, secondary Provider) (*MemoryProvider, error) {
	logger.Infof("loading local data directory %s", dir)
	m := NewMemoryProvider(secondary)

	loaders := []struct {
		file string
		load func(row csvRow) error
	}{
		{BarsFile, func(r csvRow) error {
			d, err := ParseDay(r.get("date"))
			if err != nil {
				return err
			}
			m.AddBars(r.get("code"), Bar{
				Date:  d,
				Open:  r.float("open"),
				High:  r.float("high"),
				Low:   r.float("low"),
				Close: r.float("close"),
				Vol:   r.float("vol"),
			})
			return nil
		}},
		{CalendarFile, func(r csvRow) error {
			d, err := ParseDay(r.get("date"))
			if err != nil {
				return err
			}
			m.AddTradingDays(r.get("exchange"), d)
			return nil
		}},
		{ContractsFile, func(r csvRow) error {
			side, err := ParseSide(r.get("side"))
			if err != nil {
				return err
			}
			row := ContractRow{
				Code:       r.get("code"),
				OptCode:    r.get("opt_code"),
				Name:       r.get("name"),
				Side:       side,
				Strike:     zeroIfNaN(r.float("strike")),
				Multiplier: zeroIfNaN(r.float("multiplier")),
			}
			// unparseable dates stay zero and are dropped by catalog cleaning
			row.ListDate, _ = ParseDay(r.get("list_date"))
			row.DelistDate, _ = ParseDay(r.get("delist_date"))
			row.MaturityDate, _ = ParseDay(r.get("maturity_date"))
			m.AddContracts(r.get("exchange"), row)
			return nil
		}},
		{QuotesFile, func(r csvRow) error {
			d, err := ParseDay(r.get("date"))
			if err != nil {
				return err
			}
			q := Quote{Date: d, Close: r.float("close")}
			if math.IsNaN(q.Close) {
				return fmt.Errorf("bad close %q", r.get("close"))
			}
			if iv := r.float("implied_vol"); !math.IsNaN(iv) {
				q.ImpliedVol = &iv
			}
			m.AddQuote(r.get("code"), q)
			return nil
		}},
		{FundsFile, func(r csvRow) error {
			m.SetFundName(r.get("code"), r.get("name"))
			return nil
		}},
	}

	for _, l := range loaders {
		if err := readCSV(filepath.Join(dir, l.file), l.load); err != nil {
			return nil, err
		}
	}
	return m, nil
}

type csvRow struct {
	cols   map[string]int
	record []string
}

func (r csvRow) get(name string) string {
	i, ok := r.cols[name]
	if !ok || i >= len(r.record) {
		return ""
	}
	return strings.TrimSpace(r.record[i])
}

// float returns NaN for empty or unparseable cells.
func (r csvRow) float(name string) float64 {
	v, err := strconv.ParseFloat(r.get(name), 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

func zeroIfNaN(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return v
}

func readCSV(path string, load func(csvRow) error) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		logger.Debugf("local data file %s not present, skipping", path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read header %s: %w", path, err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}

	line := 1
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		line++
		if err != nil {
			return fmt.Errorf("read %s line %d: %w", path, line, err)
		}
		if err := load(csvRow{cols: cols, record: rec}); err != nil {
			logger.Debugf("skipping %s line %d: %v", filepath.Base(path), line, err)
		}
	}
}
