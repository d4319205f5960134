// Package scheduler holds the date machinery of a backtest: the exchange
// trading calendar, the underlying's close series, and the entry dates
// the strategy acts on.
//
// All dates are normalized to midnight UTC so they can be used as map keys
// and compared with Equal regardless of the feed's time zone.
package scheduler

import (
	"errors"
	"sort"
	"time"

	"github.com/contactkeval/wheel-replay/internal/data"
)

var (
	ErrEmptyCalendar = errors.New("empty trading calendar")
	ErrEmptySeries   = errors.New("empty price series")
)

// Direction selects which way NearestTradingDay scans.
type Direction int

const (
	Forward Direction = iota
	Backward
)

func (d Direction) String() string {
	if d == Backward {
		return "backward"
	}
	return "forward"
}

// TradingCalendar is an ordered, deduplicated set of open exchange days.
// It is immutable after construction.
type TradingCalendar struct {
	days []time.Time
	set  map[time.Time]struct{}
}

// NewTradingCalendar normalizes, sorts and deduplicates days.
func NewTradingCalendar(days []time.Time) (*TradingCalendar, error) {
	set := make(map[time.Time]struct{}, len(days))
	out := make([]time.Time, 0, len(days))
	for _, d := range days {
		if d.IsZero() {
			continue
		}
		d = data.Day(d)
		if _, dup := set[d]; dup {
			continue
		}
		set[d] = struct{}{}
		out = append(out, d)
	}
	if len(out) == 0 {
		return nil, ErrEmptyCalendar
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return &TradingCalendar{days: out, set: set}, nil
}

// Days returns a copy of the calendar in ascending order.
func (c *TradingCalendar) Days() []time.Time {
	return append([]time.Time(nil), c.days...)
}

func (c *TradingCalendar) Len() int         { return len(c.days) }
func (c *TradingCalendar) First() time.Time { return c.days[0] }
func (c *TradingCalendar) Last() time.Time  { return c.days[len(c.days)-1] }

// Contains reports whether d is an open day.
func (c *TradingCalendar) Contains(d time.Time) bool {
	_, ok := c.set[data.Day(d)]
	return ok
}

// NearestTradingDay returns the first open day strictly after (Forward) or
// strictly before (Backward) d, stepping one calendar day at a time. It
// reports false as soon as a step lands outside [First, Last].
func (c *TradingCalendar) NearestTradingDay(d time.Time, dir Direction) (time.Time, bool) {
	step := 1
	if dir == Backward {
		step = -1
	}
	first, last := c.First(), c.Last()

	cur := data.Day(d)
	for {
		cur = cur.AddDate(0, 0, step)
		if cur.Before(first) || cur.After(last) {
			return time.Time{}, false
		}
		if _, ok := c.set[cur]; ok {
			return cur, true
		}
	}
}
