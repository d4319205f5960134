package engine

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/contactkeval/wheel-replay/internal/backtest/strategy"
)

// Typed errors allow callers and tests to detect failure categories
// without string matching. All of them abort a run before simulation.
var (
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrNoPriceData   = errors.New("no price data")
	ErrNoCalendar    = errors.New("no trading calendar")
	ErrNoEntryDates  = errors.New("no entry dates in range")

	ErrCatalogEmpty      = strategy.ErrCatalogEmpty
	ErrCatalogUnmatched  = strategy.ErrCatalogUnmatched
	ErrCatalogIncomplete = strategy.ErrCatalogIncomplete
)

// DataError describes a data-loading failure. It matches its category
// sentinel (Err) and the underlying provider error (Cause) with errors.Is.
type DataError struct {
	Op         string    // provider operation, e.g. "price_history"
	Underlying string    // underlying code
	Date       time.Time // date involved, zero when not applicable
	Field      string    // offending field, empty when not applicable
	Err        error     // category sentinel
	Cause      error     // provider error, may be nil
}

func (e *DataError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", e.Op, e.Underlying)
	if !e.Date.IsZero() {
		fmt.Fprintf(&b, " on %s", e.Date.Format(time.DateOnly))
	}
	if e.Field != "" {
		fmt.Fprintf(&b, " field=%s", e.Field)
	}
	fmt.Fprintf(&b, ": %v", e.Err)
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

func (e *DataError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

func invalidConfig(field string, value any, msg string) error {
	return fmt.Errorf("%w: %s=%v: %s", ErrInvalidConfig, field, value, msg)
}
