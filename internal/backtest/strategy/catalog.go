package strategy

import (
	"errors"
	"math"
	"strings"
	"time"

	"github.com/contactkeval/wheel-replay/internal/data"
	"github.com/contactkeval/wheel-replay/internal/logger"
)

//
// ==========================
// Error taxonomy
// ==========================
//

var (
	ErrCatalogEmpty      = errors.New("option catalog empty")
	ErrCatalogUnmatched  = errors.New("no option contracts matched the underlying")
	ErrCatalogIncomplete = errors.New("option contract metadata incomplete after cleaning")
)

//
// ==========================
// Domain Types
// ==========================
//

// OptionContract is a listed option eligible for selection. Every contract
// in a Catalog has a positive strike and multiplier, a listing date, and a
// maturity after its listing date. A zero DelistDate means none is known.
type OptionContract struct {
	Code         string    `json:"code"`
	Name         string    `json:"name"`
	Side         data.Side `json:"side"`
	Strike       float64   `json:"strike"`
	Multiplier   float64   `json:"multiplier"`
	ListDate     time.Time `json:"list_date"`
	DelistDate   time.Time `json:"delist_date,omitzero"`
	MaturityDate time.Time `json:"maturity_date"`
}

// Catalog is the immutable set of contracts written on one underlying.
type Catalog struct {
	underlying string
	matchedBy  string
	contracts  []OptionContract
}

// Underlying returns the code the catalog was built for.
func (c *Catalog) Underlying() string { return c.underlying }

// MatchedBy describes which rule selected the contracts, e.g.
// "opt_code:159915" or "name:创业板ETF".
func (c *Catalog) MatchedBy() string { return c.matchedBy }

func (c *Catalog) Len() int { return len(c.contracts) }

// Contracts returns a copy of the catalog's contracts.
func (c *Catalog) Contracts() []OptionContract {
	return append([]OptionContract(nil), c.contracts...)
}

// NewCatalog wraps already-clean contracts, for callers that build
// fixtures directly.
func NewCatalog(underlying string, contracts []OptionContract) *Catalog {
	return &Catalog{
		underlying: underlying,
		matchedBy:  "fixture",
		contracts:  append([]OptionContract(nil), contracts...),
	}
}

//
// ==========================
// Catalog construction
// ==========================
//

// BuildCatalog selects the rows written on underlying and cleans them.
//
// Rows whose product code contains the underlying's numeric root (the part
// before the first '.') are taken first. If none match, fundName keyword
// variants are tried in order against contract names, case-insensitively:
// the name itself, without "ETF", with "ETF" read as "ETF期权", and without
// the "上证"/"深证" prefix. The first non-empty match wins. An empty fundName
// falls back to the numeric root.
//
// Rows missing strike, multiplier, listing or maturity, or maturing on or
// before listing, are then dropped.
func BuildCatalog(underlying, fundName string, rows []data.ContractRow) (*Catalog, error) {
	if len(rows) == 0 {
		return nil, ErrCatalogEmpty
	}

	root, _, _ := strings.Cut(strings.ToUpper(strings.TrimSpace(underlying)), ".")

	matched, how := matchByCode(rows, root)
	if len(matched) == 0 {
		name := strings.TrimSpace(fundName)
		if name == "" {
			name = root
		}
		matched, how = matchByName(rows, name)
	}
	if len(matched) == 0 {
		return nil, ErrCatalogUnmatched
	}

	contracts := make([]OptionContract, 0, len(matched))
	for _, r := range matched {
		if !validRow(r) {
			logger.Tracef("dropping incomplete contract row %s", r.Code)
			continue
		}
		contracts = append(contracts, OptionContract{
			Code:         r.Code,
			Name:         r.Name,
			Side:         r.Side,
			Strike:       r.Strike,
			Multiplier:   r.Multiplier,
			ListDate:     data.Day(r.ListDate),
			DelistDate:   dayOrZero(r.DelistDate),
			MaturityDate: data.Day(r.MaturityDate),
		})
	}
	if len(contracts) == 0 {
		return nil, ErrCatalogIncomplete
	}

	logger.Infof(
		"event=catalog underlying=%s matched_by=%s rows=%d kept=%d",
		underlying, how, len(matched), len(contracts),
	)
	return &Catalog{underlying: underlying, matchedBy: how, contracts: contracts}, nil
}

func matchByCode(rows []data.ContractRow, root string) ([]data.ContractRow, string) {
	if root == "" {
		return nil, ""
	}
	var out []data.ContractRow
	for _, r := range rows {
		code := r.OptCode
		if code == "" {
			code = r.Code
		}
		if strings.Contains(strings.ToUpper(code), root) {
			out = append(out, r)
		}
	}
	return out, "opt_code:" + root
}

func matchByName(rows []data.ContractRow, name string) ([]data.ContractRow, string) {
	for _, kw := range nameKeywords(name) {
		lkw := strings.ToLower(kw)
		var out []data.ContractRow
		for _, r := range rows {
			if strings.Contains(strings.ToLower(r.Name), lkw) {
				out = append(out, r)
			}
		}
		if len(out) > 0 {
			return out, "name:" + kw
		}
	}
	return nil, ""
}

// nameKeywords lists the fallback search terms for a fund name, in the
// order they are tried, without blanks or repeats.
func nameKeywords(name string) []string {
	candidates := []string{
		name,
		strings.TrimSpace(strings.ReplaceAll(name, "ETF", "")),
		strings.TrimSpace(strings.ReplaceAll(name, "ETF", "ETF期权")),
		strings.TrimSpace(strings.ReplaceAll(strings.ReplaceAll(name, "上证", ""), "深证", "")),
	}
	seen := make(map[string]bool, len(candidates))
	out := make([]string, 0, len(candidates))
	for _, kw := range candidates {
		if kw == "" || seen[kw] {
			continue
		}
		seen[kw] = true
		out = append(out, kw)
	}
	return out
}

func validRow(r data.ContractRow) bool {
	switch {
	case !(r.Strike > 0) || math.IsInf(r.Strike, 0):
		return false
	case !(r.Multiplier > 0) || math.IsInf(r.Multiplier, 0):
		return false
	case r.ListDate.IsZero() || r.MaturityDate.IsZero():
		return false
	case !data.Day(r.MaturityDate).After(data.Day(r.ListDate)):
		return false
	case r.Side != data.Put && r.Side != data.Call:
		return false
	}
	return true
}

func dayOrZero(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return data.Day(t)
}
