package scheduler

import (
	"math"
	"sort"
	"time"

	"github.com/contactkeval/wheel-replay/internal/data"
	"github.com/contactkeval/wheel-replay/internal/logger"
)

// PriceSeries maps trading dates to the underlying's positive close.
// It is immutable after construction.
type PriceSeries struct {
	dates  []time.Time
	closes map[time.Time]float64
}

// NewPriceSeries cleans bars into a series. Bars with a NaN, infinite or
// non-positive close are dropped, as are duplicate dates (first wins).
// When cal is non-nil, dates the calendar does not list are dropped too.
func NewPriceSeries(bars []data.Bar, cal *TradingCalendar) (*PriceSeries, error) {
	s := &PriceSeries{closes: make(map[time.Time]float64, len(bars))}

	dropped := 0
	for _, b := range bars {
		c := b.Close
		if b.Date.IsZero() || math.IsNaN(c) || math.IsInf(c, 0) || c <= 0 {
			dropped++
			continue
		}
		d := data.Day(b.Date)
		if cal != nil && !cal.Contains(d) {
			dropped++
			continue
		}
		if _, dup := s.closes[d]; dup {
			continue
		}
		s.closes[d] = c
		s.dates = append(s.dates, d)
	}
	if dropped > 0 {
		logger.Debugf("event=price_series dropped=%d kept=%d", dropped, len(s.dates))
	}
	if len(s.dates) == 0 {
		return nil, ErrEmptySeries
	}
	sort.Slice(s.dates, func(i, j int) bool { return s.dates[i].Before(s.dates[j]) })
	return s, nil
}

// Dates returns a copy of the series dates in ascending order.
func (s *PriceSeries) Dates() []time.Time {
	return append([]time.Time(nil), s.dates...)
}

func (s *PriceSeries) Len() int { return len(s.dates) }

// First returns the earliest date and its close.
func (s *PriceSeries) First() (time.Time, float64) {
	d := s.dates[0]
	return d, s.closes[d]
}

// Last returns the latest date and its close.
func (s *PriceSeries) Last() (time.Time, float64) {
	d := s.dates[len(s.dates)-1]
	return d, s.closes[d]
}

// Close returns the close recorded on d.
func (s *PriceSeries) Close(d time.Time) (float64, bool) {
	c, ok := s.closes[data.Day(d)]
	return c, ok
}

// PriceOnOrBefore walks back one calendar day at a time from d until a
// recorded close is found. It reports false once the walk passes the
// first date of the series.
func (s *PriceSeries) PriceOnOrBefore(d time.Time) (time.Time, float64, bool) {
	first := s.dates[0]
	cur := data.Day(d)
	for {
		if c, ok := s.closes[cur]; ok {
			return cur, c, true
		}
		cur = cur.AddDate(0, 0, -1)
		if cur.Before(first) {
			return time.Time{}, 0, false
		}
	}
}
