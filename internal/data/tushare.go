package data

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/contactkeval/wheel-replay/internal/logger"
)

// TushareBaseURL is the Tushare Pro HTTP endpoint.
const TushareBaseURL = "https://api.tushare.pro"

// tushareQuotaCode is returned in the body (with HTTP 200) when the
// per-minute call quota of an API has been used up.
const tushareQuotaCode = 40203

// TushareProvider implements Provider on top of the Tushare Pro HTTP API.
//
// Every call is a POST of {api_name, token, params, fields}; the response
// is a column-oriented table. The provider is safe for concurrent use.
type TushareProvider struct {
	token     string
	client    *resty.Client
	limiter   *rate.Limiter
	secondary Provider

	// sleep waits out a quota window; replaced in tests.
	sleep           func(ctx context.Context, d time.Duration) error
	maxQuotaRetries int
}

// TushareOption configures a TushareProvider.
type TushareOption func(*TushareProvider)

// WithTushareBaseURL points the client at another endpoint (tests, proxies).
func WithTushareBaseURL(u string) TushareOption {
	return func(t *TushareProvider) { t.client.SetBaseURL(u) }
}

// WithTushareRateLimit caps outgoing calls per minute. Non-positive disables limiting.
func WithTushareRateLimit(perMinute int) TushareOption {
	return func(t *TushareProvider) {
		if perMinute <= 0 {
			t.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		t.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 5)
	}
}

// WithTushareRetry sets HTTP-level retries for 429 and 5xx responses.
func WithTushareRetry(count int, wait time.Duration) TushareOption {
	return func(t *TushareProvider) {
		t.client.SetRetryCount(count).SetRetryWaitTime(wait).SetRetryMaxWaitTime(4 * wait)
	}
}

// WithTushareSecondary sets a fallback provider for empty results.
func WithTushareSecondary(p Provider) TushareOption {
	return func(t *TushareProvider) { t.secondary = p }
}

// NewTushareProvider constructs a Tushare-backed data provider.
//
// Parameters:
//   - token: Tushare Pro API token
//   - opts: optional overrides (endpoint, rate limit, retries, secondary)
func NewTushareProvider(token string, opts ...TushareOption) *TushareProvider {
	logger.Infof("initializing Tushare data provider")

	t := &TushareProvider{
		token: token,
		client: resty.New().
			SetBaseURL(TushareBaseURL).
			SetTimeout(60*time.Second).
			SetHeader("Content-Type", "application/json").
			SetHeader("Accept", "application/json").
			SetRetryCount(3).
			SetRetryWaitTime(2 * time.Second).
			SetRetryMaxWaitTime(20 * time.Second).
			AddRetryCondition(func(r *resty.Response, err error) bool {
				if r == nil {
					return err != nil
				}
				return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= 500
			}),
		limiter:         rate.NewLimiter(rate.Every(time.Minute/200), 5),
		sleep:           sleepCtx,
		maxQuotaRetries: 3,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

func (t *TushareProvider) Name() string        { return "tushare" }
func (t *TushareProvider) Secondary() Provider { return t.secondary }

// GetPriceHistory loads daily bars, preferring the fund feed and falling
// back to the equity feed when the fund feed has nothing for code.
func (t *TushareProvider) GetPriceHistory(ctx context.Context, code string, from, to time.Time) ([]Bar, error) {
	params := map[string]any{
		"ts_code":    code,
		"start_date": from.Format(DateLayout),
		"end_date":   to.Format(DateLayout),
	}
	fields := []string{"trade_date", "open", "high", "low", "close", "vol"}

	for _, api := range []string{"fund_daily", "daily"} {
		tbl, err := t.query(ctx, api, params, fields)
		if err != nil {
			return nil, fmt.Errorf("tushare %s %s: %w", api, code, err)
		}
		if len(tbl.Items) == 0 {
			logger.Debugf("event=price_history api=%s code=%s empty", api, code)
			continue
		}

		out := make([]Bar, 0, len(tbl.Items))
		for _, r := range tbl.records() {
			d := r.day("trade_date")
			if d.IsZero() {
				continue
			}
			out = append(out, Bar{
				Date:  d,
				Open:  r.numOrNaN("open"),
				High:  r.numOrNaN("high"),
				Low:   r.numOrNaN("low"),
				Close: r.numOrNaN("close"),
				Vol:   r.numOrNaN("vol"),
			})
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
		logger.Tracef("bars received: %d records from %s", len(out), api)
		return out, nil
	}

	if t.secondary != nil {
		logger.Tracef("delegating price history for %s to secondary provider", code)
		return t.secondary.GetPriceHistory(ctx, code, from, to)
	}
	return nil, fmt.Errorf("tushare price history %s: %w", code, ErrNoData)
}

func (t *TushareProvider) GetTradingCalendar(ctx context.Context, exchange string, from, to time.Time) ([]time.Time, error) {
	tbl, err := t.query(ctx, "trade_cal", map[string]any{
		"exchange":   exchange,
		"start_date": from.Format(DateLayout),
		"end_date":   to.Format(DateLayout),
		"is_open":    "1",
	}, []string{"cal_date", "is_open"})
	if err != nil {
		return nil, fmt.Errorf("tushare trade_cal %s: %w", exchange, err)
	}

	var out []time.Time
	for _, r := range tbl.records() {
		if open, ok := r.num("is_open"); ok && open != 1 {
			continue
		}
		if d := r.day("cal_date"); !d.IsZero() {
			out = append(out, d)
		}
	}
	if len(out) == 0 {
		if t.secondary != nil {
			return t.secondary.GetTradingCalendar(ctx, exchange, from, to)
		}
		return nil, fmt.Errorf("tushare trade_cal %s: %w", exchange, ErrNoData)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

// GetOptionContracts lists every option on exchange; narrowing to the
// underlying is left to the caller since the feed cannot filter by it.
func (t *TushareProvider) GetOptionContracts(ctx context.Context, exchange, underlying string) ([]ContractRow, error) {
	tbl, err := t.query(ctx, "opt_basic", map[string]any{"exchange": exchange}, []string{
		"ts_code", "name", "opt_code", "call_put", "exercise_price", "per_unit",
		"list_date", "delist_date", "maturity_date",
	})
	if err != nil {
		return nil, fmt.Errorf("tushare opt_basic %s: %w", exchange, err)
	}

	out := make([]ContractRow, 0, len(tbl.Items))
	for _, r := range tbl.records() {
		side, err := ParseSide(r.str("call_put"))
		if err != nil {
			logger.Tracef("skipping contract %s: %v", r.str("ts_code"), err)
			continue
		}
		strike, _ := r.num("exercise_price")
		unit, _ := r.num("per_unit")
		out = append(out, ContractRow{
			Code:         r.str("ts_code"),
			OptCode:      r.str("opt_code"),
			Name:         r.str("name"),
			Side:         side,
			Strike:       strike,
			Multiplier:   unit,
			ListDate:     r.day("list_date"),
			DelistDate:   r.day("delist_date"),
			MaturityDate: r.day("maturity_date"),
		})
	}
	if len(out) == 0 {
		if t.secondary != nil {
			return t.secondary.GetOptionContracts(ctx, exchange, underlying)
		}
		return nil, fmt.Errorf("tushare opt_basic %s: %w", exchange, ErrNoData)
	}
	logger.Debugf("event=option_contracts exchange=%s rows=%d", exchange, len(out))
	return out, nil
}

func (t *TushareProvider) GetOptionQuote(ctx context.Context, contractCode string, date time.Time) (Quote, error) {
	tbl, err := t.query(ctx, "opt_daily", map[string]any{
		"ts_code":    contractCode,
		"trade_date": date.Format(DateLayout),
	}, []string{"ts_code", "trade_date", "close", "implied_vol"})
	if err != nil {
		return Quote{}, fmt.Errorf("tushare opt_daily %s %s: %w", contractCode, date.Format(DateLayout), err)
	}

	for _, r := range tbl.records() {
		px, ok := r.num("close")
		if !ok {
			continue
		}
		q := Quote{Date: Day(date), Close: px}
		if iv, ok := r.num("implied_vol"); ok {
			q.ImpliedVol = &iv
		}
		return q, nil
	}

	if t.secondary != nil {
		return t.secondary.GetOptionQuote(ctx, contractCode, date)
	}
	return Quote{}, fmt.Errorf("tushare opt_daily %s %s: %w", contractCode, date.Format(DateLayout), ErrNoData)
}

func (t *TushareProvider) GetFundName(ctx context.Context, code string) (string, error) {
	tbl, err := t.query(ctx, "fund_basic", map[string]any{"ts_code": code}, []string{"ts_code", "name"})
	if err != nil {
		return "", fmt.Errorf("tushare fund_basic %s: %w", code, err)
	}
	for _, r := range tbl.records() {
		if name := r.str("name"); name != "" {
			return name, nil
		}
	}
	if t.secondary != nil {
		return t.secondary.GetFundName(ctx, code)
	}
	return "", fmt.Errorf("tushare fund_basic %s: %w", code, ErrNoData)
}

// --------------------------------------------------------------------------------------------
// Wire format
// --------------------------------------------------------------------------------------------

type tushareRequest struct {
	APIName string         `json:"api_name"`
	Token   string         `json:"token"`
	Params  map[string]any `json:"params"`
	Fields  string         `json:"fields"`
}

type tushareResponse struct {
	RequestID string       `json:"request_id"`
	Code      int          `json:"code"`
	Msg       string       `json:"msg"`
	Data      tushareTable `json:"data"`
}

type tushareTable struct {
	Fields []string `json:"fields"`
	Items  [][]any  `json:"items"`
}

type tushareRecord map[string]any

func (tbl tushareTable) records() []tushareRecord {
	out := make([]tushareRecord, 0, len(tbl.Items))
	for _, item := range tbl.Items {
		rec := make(tushareRecord, len(tbl.Fields))
		for i, f := range tbl.Fields {
			if i < len(item) {
				rec[f] = item[i]
			}
		}
		out = append(out, rec)
	}
	return out
}

func (r tushareRecord) str(k string) string {
	switch v := r[k].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

// num accepts JSON numbers and numeric strings; null and NaN are absent.
func (r tushareRecord) num(k string) (float64, bool) {
	var f float64
	switch v := r[k].(type) {
	case float64:
		f = v
	case string:
		p, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		f = p
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func (r tushareRecord) numOrNaN(k string) float64 {
	if f, ok := r.num(k); ok {
		return f
	}
	return math.NaN()
}

func (r tushareRecord) day(k string) time.Time {
	s := r.str(k)
	if s == "" {
		return time.Time{}
	}
	d, err := ParseDay(s)
	if err != nil {
		return time.Time{}
	}
	return d
}

// query executes one API call, waiting out quota windows.
//
// Behavior:
//   - Honors the client-side rate limiter before each attempt
//   - On the per-minute quota error, sleeps until the next minute boundary
//     and retries, at most maxQuotaRetries times
//   - Any other non-zero code is returned as an error
func (t *TushareProvider) query(ctx context.Context, api string, params map[string]any, fields []string) (tushareTable, error) {
	body := tushareRequest{
		APIName: api,
		Token:   t.token,
		Params:  params,
		Fields:  strings.Join(fields, ","),
	}

	for attempt := 0; ; attempt++ {
		if err := t.limiter.Wait(ctx); err != nil {
			return tushareTable{}, err
		}

		logger.Tracef("event=tushare_request api=%s params=%v attempt=%d", api, params, attempt)
		resp, err := t.client.R().SetContext(ctx).SetBody(body).Post("/")
		if err != nil {
			return tushareTable{}, fmt.Errorf("request: %w", err)
		}
		if resp.IsError() {
			return tushareTable{}, fmt.Errorf("unexpected status code: %d", resp.StatusCode())
		}

		var out tushareResponse
		if err := json.Unmarshal(resp.Body(), &out); err != nil {
			return tushareTable{}, fmt.Errorf("decode: %w", err)
		}

		switch {
		case out.Code == 0:
			return out.Data, nil
		case out.Code == tushareQuotaCode && attempt < t.maxQuotaRetries:
			now := time.Now()
			wait := time.Until(now.Truncate(time.Minute).Add(time.Minute))
			logger.Infof("rate limit hit on %s, sleeping for %s", api, wait)
			if err := t.sleep(ctx, wait); err != nil {
				return tushareTable{}, err
			}
		default:
			logger.Errorf("tushare API error api=%s code=%d msg=%s", api, out.Code, out.Msg)
			return tushareTable{}, fmt.Errorf("tushare returned code %d: %s", out.Code, out.Msg)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
