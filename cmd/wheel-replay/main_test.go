package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contactkeval/wheel-replay/internal/backtest/engine"
	"github.com/contactkeval/wheel-replay/internal/config"
	"github.com/contactkeval/wheel-replay/internal/report"
	"github.com/contactkeval/wheel-replay/internal/store"
)

// writeDataDir lays out a csv provider directory: flat 2.0 closes on the
// January 2023 weekdays and one put paying 0.03.
func writeDataDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	var bars, cal strings.Builder
	bars.WriteString("code,date,open,high,low,close,vol\n")
	cal.WriteString("exchange,date\n")
	for d := time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC); d.Month() == time.January; d = d.AddDate(0, 0, 1) {
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			continue
		}
		fmt.Fprintf(&bars, "159915.SZ,%s,2,2,2,2,1000\n", d.Format("20060102"))
		fmt.Fprintf(&cal, "SZSE,%s\n", d.Format("20060102"))
	}

	files := map[string]string{
		"bars.csv":     bars.String(),
		"calendar.csv": cal.String(),
		"contracts.csv": "exchange,code,opt_code,name,side,strike,multiplier,list_date,delist_date,maturity_date\n" +
			"SZSE,P1900,OP159915.SZ,创业板ETF沽1月1900,P,1.9,10000,20221201,,20230125\n",
		"quotes.csv": "code,date,close,implied_vol\nP1900,20230102,0.03,0.25\n",
		"funds.csv":  "code,name\n159915.SZ,创业板ETF\n",
	}
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	return dir
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		if k, _, _ := strings.Cut(kv, "="); strings.HasPrefix(k, config.EnvPrefix+"_") {
			t.Setenv(k, "")
			os.Unsetenv(k)
		}
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	color.NoColor = true
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--env-file", filepath.Join(t.TempDir(), "missing.env")))
	err := cmd.Execute()
	return out.String(), err
}

func TestRunWritesReports(t *testing.T) {
	clearEnv(t)
	dataDir := writeDataDir(t)
	outDir := filepath.Join(t.TempDir(), "reports")

	out, err := execute(t, "run",
		"--provider", "csv",
		"--data-dir", dataDir,
		"--cache", "",
		"--out", outDir,
		"--start", "20230101",
		"--end", "20230131",
		"--verbosity", "0",
	)
	require.NoError(t, err, out)

	assert.Contains(t, out, "Underlying:")
	assert.Contains(t, out, "159915.SZ")
	assert.Contains(t, out, "1 (1 put, 0 call)")
	assert.Contains(t, out, "300.00")
	for _, name := range []string{report.JSONFile, report.CSVFile, report.HTMLFile} {
		assert.FileExists(t, filepath.Join(outDir, name))
	}

	csv, err := os.ReadFile(filepath.Join(outDir, report.CSVFile))
	require.NoError(t, err)
	assert.Contains(t, string(csv), "202301,PUT,P1900,20230102,20230125,1.9000,2.0000,5.00,300.00,25.00,quote")
}

func TestRunThroughCache(t *testing.T) {
	clearEnv(t)
	dataDir := writeDataDir(t)
	cachePath := filepath.Join(t.TempDir(), "cache.db")

	for i := 0; i < 2; i++ {
		out, err := execute(t, "run",
			"--provider", "csv",
			"--data-dir", dataDir,
			"--cache", cachePath,
			"--out", t.TempDir(),
			"--start", "20230101",
			"--end", "20230131",
			"--verbosity", "0",
		)
		require.NoError(t, err, out)
	}
	assert.FileExists(t, cachePath)

	out, err := execute(t, "cache", "purge", "quote", "--cache", cachePath, "--verbosity", "0")
	require.NoError(t, err)
	assert.Contains(t, out, "purged 1 entries")
}

func TestRunInvalidConfig(t *testing.T) {
	clearEnv(t)
	_, err := execute(t, "run", "--otm-min", "0.2", "--otm-max", "0.1")
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrInvalidConfig)
	assert.Equal(t, 2, exitCode(err))
}

func TestBuildProviderRequiresCredentials(t *testing.T) {
	for _, p := range []string{config.ProviderTushare, config.ProviderMassive} {
		_, _, err := buildProvider(&config.Config{Provider: p})
		assert.ErrorIs(t, err, engine.ErrInvalidConfig, p)
	}
}

func TestBuildProviderWrapsCache(t *testing.T) {
	cfg := &config.Config{
		Provider:  config.ProviderCSV,
		DataDir:   writeDataDir(t),
		CachePath: filepath.Join(t.TempDir(), "c.db"),
	}
	prov, closer, err := buildProvider(cfg)
	require.NoError(t, err)
	defer closer()

	cached, ok := prov.(*store.CachedProvider)
	require.True(t, ok)
	assert.Equal(t, "memory", cached.Secondary().Name())
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "wheel-replay dev\n", out)
}

func TestPrintSummary(t *testing.T) {
	color.NoColor = true
	rom := 0.015
	var buf bytes.Buffer
	printSummary(&buf, engine.Summary{
		Underlying:     "159915.SZ",
		StartDate:      time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:        time.Date(2023, 1, 31, 0, 0, 0, 0, time.UTC),
		Periods:        1,
		PutCycles:      1,
		EndingValue:    300,
		ReturnOnMargin: &rom,
	})
	out := buf.String()

	assert.Contains(t, out, "Window:            20230101 - 20230131")
	assert.Contains(t, out, "Return on margin:  1.50%")
	assert.Contains(t, out, "Annualized:        n/a")
	assert.NotContains(t, out, "Return on capital")
	assert.NotContains(t, out, "Unsettled")
}
