package engine

import (
	"context"
	"errors"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/contactkeval/wheel-replay/internal/backtest/scheduler"
	"github.com/contactkeval/wheel-replay/internal/data"
	"github.com/contactkeval/wheel-replay/internal/logger"
)

// quoteEntry is what the cache holds for a (contract, entry date) key.
// ok=false records a miss so the provider is not asked twice.
type quoteEntry struct {
	quote data.Quote
	ok    bool
}

// quoteCache memoizes option quotes for one run. Entries never expire;
// the cache is discarded with the run.
type quoteCache struct {
	prov data.Provider
	cal  *scheduler.TradingCalendar
	c    *cache.Cache
}

func newQuoteCache(prov data.Provider, cal *scheduler.TradingCalendar) *quoteCache {
	return &quoteCache{prov: prov, cal: cal, c: cache.New(cache.NoExpiration, 0)}
}

func quoteKey(code string, d time.Time) string {
	return code + "|" + d.Format(data.DateLayout)
}

// lookup returns the quote for code on entry, falling back to the next
// trading day when the entry date has none. Only context errors are
// returned; any other provider failure counts as a miss.
func (q *quoteCache) lookup(ctx context.Context, code string, entry time.Time) (data.Quote, bool, error) {
	key := quoteKey(code, entry)
	if v, found := q.c.Get(key); found {
		e := v.(quoteEntry)
		return e.quote, e.ok, nil
	}

	quote, ok, err := q.fetch(ctx, code, entry)
	if err == nil && !ok {
		if next, has := q.cal.NearestTradingDay(entry, scheduler.Forward); has {
			logger.Tracef("event=quote_fallback code=%s entry=%s next=%s", code, entry.Format(data.DateLayout), next.Format(data.DateLayout))
			quote, ok, err = q.fetch(ctx, code, next)
		}
	}
	if err != nil {
		return data.Quote{}, false, err
	}

	q.c.Set(key, quoteEntry{quote: quote, ok: ok}, cache.NoExpiration)
	return quote, ok, nil
}

// fetch reports a row without a positive close as a miss; it carries no
// usable premium.
func (q *quoteCache) fetch(ctx context.Context, code string, d time.Time) (data.Quote, bool, error) {
	quote, err := q.prov.GetOptionQuote(ctx, code, d)
	switch {
	case err == nil && quote.Close > 0:
		return quote, true, nil
	case err == nil:
		return data.Quote{}, false, nil
	case ctx.Err() != nil:
		return data.Quote{}, false, ctx.Err()
	case !errors.Is(err, data.ErrNoData):
		logger.Warnf("event=quote_error code=%s date=%s err=%v", code, d.Format(data.DateLayout), err)
	}
	return data.Quote{}, false, nil
}

// size reports how many keys are memoized.
func (q *quoteCache) size() int { return q.c.ItemCount() }
