package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/contactkeval/wheel-replay/internal/backtest/engine"
	"github.com/contactkeval/wheel-replay/internal/data"
)

var (
	labelColor = color.New(color.Bold)
	gainColor  = color.New(color.FgGreen)
	lossColor  = color.New(color.FgRed)
)

// printSummary writes the run's headline numbers, coloring returns by sign.
func printSummary(w io.Writer, s engine.Summary) {
	line := func(label, value string) {
		fmt.Fprintf(w, "%s %s\n", labelColor.Sprintf("%-18s", label+":"), value)
	}

	line("Underlying", s.Underlying)
	line("Window", s.StartDate.Format(data.DateLayout)+" - "+s.EndDate.Format(data.DateLayout))
	line("Trades", fmt.Sprintf("%d (%d put, %d call)", s.Periods, s.PutCycles, s.CallCycles))
	line("Assignments", fmt.Sprint(s.Assignments))
	line("Skipped months", fmt.Sprint(s.SkippedMonths))
	if s.Unsettled > 0 {
		line("Unsettled cycles", fmt.Sprint(s.Unsettled))
	}
	line("Ending value", signed(s.EndingValue, fmt.Sprintf("%.2f", s.EndingValue)))
	line("Shares held", fmt.Sprintf("%d @ %.4f", s.Shares, s.LastPrice))
	if s.ReturnOnCapital != nil {
		line("Return on capital", pct(s.ReturnOnCapital))
	}
	line("Return on margin", pct(s.ReturnOnMargin))
	line("Annualized", pct(s.Annualized))
	line("Max drawdown", signed(s.MaxDrawdown, fmt.Sprintf("%.2f%%", s.MaxDrawdown*100)))
}

func pct(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return signed(*v, fmt.Sprintf("%.2f%%", *v*100))
}

func signed(v float64, text string) string {
	switch {
	case v > 0:
		return gainColor.Sprint(text)
	case v < 0:
		return lossColor.Sprint(text)
	}
	return text
}
