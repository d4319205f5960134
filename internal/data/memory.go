package data

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryProvider serves fixture data held in memory. It backs offline runs
// (see LoadCSVDir) and tests. Lookups that miss are delegated to the
// secondary provider when one is set.
type MemoryProvider struct {
	mu        sync.RWMutex
	bars      map[string][]Bar
	calendars map[string][]time.Time
	contracts map[string][]ContractRow
	quotes    map[string]map[time.Time]Quote
	funds     map[string]string
	secondary Provider

	quoteCalls atomic.Int64
}

// NewMemoryProvider returns an empty provider falling back to secondary (may be nil).
func NewMemoryProvider(secondary Provider) *MemoryProvider {
	return &MemoryProvider{
		bars:      map[string][]Bar{},
		calendars: map[string][]time.Time{},
		contracts: map[string][]ContractRow{},
		quotes:    map[string]map[time.Time]Quote{},
		funds:     map[string]string{},
		secondary: secondary,
	}
}

func (m *MemoryProvider) Name() string        { return "memory" }
func (m *MemoryProvider) Secondary() Provider { return m.secondary }

// AddBars appends daily bars for code.
func (m *MemoryProvider) AddBars(code string, bars ...Bar) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range bars {
		b.Date = Day(b.Date)
		m.bars[code] = append(m.bars[code], b)
	}
	sort.SliceStable(m.bars[code], func(i, j int) bool { return m.bars[code][i].Date.Before(m.bars[code][j].Date) })
}

// AddTradingDays appends open days to an exchange calendar.
func (m *MemoryProvider) AddTradingDays(exchange string, days ...time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range days {
		m.calendars[exchange] = append(m.calendars[exchange], Day(d))
	}
	sort.Slice(m.calendars[exchange], func(i, j int) bool { return m.calendars[exchange][i].Before(m.calendars[exchange][j]) })
}

// AddContracts appends reference rows listed on exchange.
func (m *MemoryProvider) AddContracts(exchange string, rows ...ContractRow) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contracts[exchange] = append(m.contracts[exchange], rows...)
}

// AddQuote records a contract's quote for q.Date.
func (m *MemoryProvider) AddQuote(contractCode string, q Quote) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q.Date = Day(q.Date)
	if m.quotes[contractCode] == nil {
		m.quotes[contractCode] = map[time.Time]Quote{}
	}
	m.quotes[contractCode][q.Date] = q
}

// SetFundName registers the display name of a fund.
func (m *MemoryProvider) SetFundName(code, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.funds[code] = name
}

// QuoteCalls reports how many times GetOptionQuote was invoked.
func (m *MemoryProvider) QuoteCalls() int64 { return m.quoteCalls.Load() }

func (m *MemoryProvider) GetPriceHistory(ctx context.Context, code string, from, to time.Time) ([]Bar, error) {
	m.mu.RLock()
	var out []Bar
	for _, b := range m.bars[code] {
		if inRange(b.Date, from, to) {
			out = append(out, b)
		}
	}
	m.mu.RUnlock()

	if len(out) == 0 {
		if m.secondary != nil {
			return m.secondary.GetPriceHistory(ctx, code, from, to)
		}
		return nil, fmt.Errorf("price history %s: %w", code, ErrNoData)
	}
	return out, nil
}

func (m *MemoryProvider) GetTradingCalendar(ctx context.Context, exchange string, from, to time.Time) ([]time.Time, error) {
	m.mu.RLock()
	var out []time.Time
	for _, d := range m.calendars[exchange] {
		if inRange(d, from, to) {
			out = append(out, d)
		}
	}
	m.mu.RUnlock()

	if len(out) == 0 {
		if m.secondary != nil {
			return m.secondary.GetTradingCalendar(ctx, exchange, from, to)
		}
		return nil, fmt.Errorf("trading calendar %s: %w", exchange, ErrNoData)
	}
	return out, nil
}

func (m *MemoryProvider) GetOptionContracts(ctx context.Context, exchange, underlying string) ([]ContractRow, error) {
	m.mu.RLock()
	out := append([]ContractRow(nil), m.contracts[exchange]...)
	m.mu.RUnlock()

	if len(out) == 0 {
		if m.secondary != nil {
			return m.secondary.GetOptionContracts(ctx, exchange, underlying)
		}
		return nil, fmt.Errorf("option contracts %s: %w", exchange, ErrNoData)
	}
	return out, nil
}

func (m *MemoryProvider) GetOptionQuote(ctx context.Context, contractCode string, date time.Time) (Quote, error) {
	m.quoteCalls.Add(1)

	m.mu.RLock()
	q, ok := m.quotes[contractCode][Day(date)]
	m.mu.RUnlock()

	if !ok {
		if m.secondary != nil {
			return m.secondary.GetOptionQuote(ctx, contractCode, date)
		}
		return Quote{}, fmt.Errorf("quote %s on %s: %w", contractCode, date.Format(DateLayout), ErrNoData)
	}
	return q, nil
}

func (m *MemoryProvider) GetFundName(ctx context.Context, code string) (string, error) {
	m.mu.RLock()
	name, ok := m.funds[code]
	m.mu.RUnlock()

	if !ok {
		if m.secondary != nil {
			return m.secondary.GetFundName(ctx, code)
		}
		return "", fmt.Errorf("fund name %s: %w", code, ErrNoData)
	}
	return name, nil
}

// inRange treats zero bounds as open.
func inRange(d, from, to time.Time) bool {
	if !from.IsZero() && d.Before(Day(from)) {
		return false
	}
	if !to.IsZero() && d.After(Day(to)) {
		return false
	}
	return true
}
