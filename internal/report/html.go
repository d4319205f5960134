package report

import (
	"embed"
	"html/template"
	"io"

	"github.com/shopspring/decimal"

	"github.com/contactkeval/wheel-replay/internal/backtest/engine"
	"github.com/contactkeval/wheel-replay/internal/data"
)

//go:embed templates/report.html.tmpl
var templateFS embed.FS

var reportTemplate = template.Must(template.ParseFS(templateFS, "templates/report.html.tmpl"))

// htmlView is what the report template renders. Numbers arrive
// preformatted so the page shows the same rounding as the CSV.
type htmlView struct {
	Summary         engine.Summary
	Window          string
	EndingValue     string
	ReturnOnCapital string
	ReturnOnMargin  string
	Annualized      string
	MaxDrawdown     string
	Header          []string
	Rows            [][]string
	Labels          []string
	Cash            []float64
	Holding         []float64
	Portfolio       []float64
}

// RenderHTML writes a standalone page with the run summary, an equity
// chart and the trade table.
func RenderHTML(w io.Writer, res *engine.Result) error {
	return reportTemplate.Execute(w, newHTMLView(res))
}

func newHTMLView(res *engine.Result) htmlView {
	s := res.Summary
	v := htmlView{
		Summary:        s,
		Window:         s.StartDate.Format(data.DateLayout) + " - " + s.EndDate.Format(data.DateLayout),
		EndingValue:    fixed(s.EndingValue, 2),
		ReturnOnMargin: ratio(s.ReturnOnMargin),
		Annualized:     ratio(s.Annualized),
		MaxDrawdown:    percent(s.MaxDrawdown) + "%",
		Header:         CSVHeader,
	}
	if s.ReturnOnCapital != nil {
		v.ReturnOnCapital = ratio(s.ReturnOnCapital)
	}
	for _, t := range res.Trades {
		v.Rows = append(v.Rows, csvRow(t))
	}
	for _, p := range res.Equity {
		v.Labels = append(v.Labels, p.Date.Format(data.DateLayout))
		v.Cash = append(v.Cash, round2(p.Cash))
		v.Holding = append(v.Holding, round2(p.HoldingValue))
		v.Portfolio = append(v.Portfolio, round2(p.PortfolioValue))
	}
	return v
}

// ratio renders a return as a percentage, or "n/a" when it is undefined.
func ratio(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return percent(*v) + "%"
}

func round2(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(2).Float64()
	return f
}
