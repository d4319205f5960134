package store

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contactkeval/wheel-replay/internal/data"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func openTemp(t *testing.T, secondary data.Provider) (*CachedProvider, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "cache.db")
	c, err := Open(path, secondary)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c, path
}

func TestBarsAreCached(t *testing.T) {
	mem := data.NewMemoryProvider(nil)
	mem.AddBars("159915.SZ",
		data.Bar{Date: date(2023, 1, 3), Open: 2, High: 2.1, Low: 1.9, Close: 2.05, Vol: 100},
		data.Bar{Date: date(2023, 1, 4), Open: math.NaN(), High: math.NaN(), Low: math.NaN(), Close: 2.1, Vol: math.NaN()},
	)
	c, _ := openTemp(t, mem)
	ctx := context.Background()

	first, err := c.GetPriceHistory(ctx, "159915.SZ", date(2023, 1, 1), date(2023, 1, 31))
	require.NoError(t, err)
	require.Len(t, first, 2)

	// later data at the source does not leak into a cached range
	mem.AddBars("159915.SZ", data.Bar{Date: date(2023, 1, 5), Close: 2.2})

	second, err := c.GetPriceHistory(ctx, "159915.SZ", date(2023, 1, 1), date(2023, 1, 31))
	require.NoError(t, err)
	require.Len(t, second, 2)
	assert.Equal(t, first[0], second[0])
	assert.True(t, math.IsNaN(second[1].Open))
	assert.InDelta(t, 2.1, second[1].Close, 1e-12)
	assert.Equal(t, date(2023, 1, 4), second[1].Date)

	hits, misses := c.Stats()
	assert.EqualValues(t, 1, hits)
	assert.EqualValues(t, 1, misses)
}

func TestAbsenceIsCached(t *testing.T) {
	mem := data.NewMemoryProvider(nil)
	c, _ := openTemp(t, mem)
	ctx := context.Background()

	_, err := c.GetOptionQuote(ctx, "90001.SZ", date(2023, 1, 3))
	assert.ErrorIs(t, err, data.ErrNoData)
	_, err = c.GetOptionQuote(ctx, "90001.SZ", date(2023, 1, 3))
	assert.ErrorIs(t, err, data.ErrNoData)
	assert.EqualValues(t, 1, mem.QuoteCalls())
}

func TestQuoteRoundTrip(t *testing.T) {
	mem := data.NewMemoryProvider(nil)
	iv := 0.23
	mem.AddQuote("90001.SZ", data.Quote{Date: date(2023, 1, 3), Close: 0.0321, ImpliedVol: &iv})
	mem.AddQuote("90002.SZ", data.Quote{Date: date(2023, 1, 3), Close: 0.05})
	c, _ := openTemp(t, mem)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		q, err := c.GetOptionQuote(ctx, "90001.SZ", date(2023, 1, 3))
		require.NoError(t, err)
		assert.InDelta(t, 0.0321, q.Close, 1e-12)
		require.NotNil(t, q.ImpliedVol)
		assert.InDelta(t, 0.23, *q.ImpliedVol, 1e-12)

		q, err = c.GetOptionQuote(ctx, "90002.SZ", date(2023, 1, 3))
		require.NoError(t, err)
		assert.Nil(t, q.ImpliedVol)
	}
	assert.EqualValues(t, 2, mem.QuoteCalls())
}

func TestContractsAndCalendar(t *testing.T) {
	mem := data.NewMemoryProvider(nil)
	mem.AddTradingDays("SZSE", date(2023, 1, 3), date(2023, 1, 4))
	mem.AddContracts("SZSE", data.ContractRow{
		Code: "90001.SZ", OptCode: "OP159915", Name: "创业板ETF购1月2000", Side: data.Call,
		Strike: 2, Multiplier: 10000, ListDate: date(2022, 12, 1), MaturityDate: date(2023, 1, 25),
	})
	c, _ := openTemp(t, mem)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		days, err := c.GetTradingCalendar(ctx, "SZSE", time.Time{}, time.Time{})
		require.NoError(t, err)
		assert.Equal(t, []time.Time{date(2023, 1, 3), date(2023, 1, 4)}, days)

		rows, err := c.GetOptionContracts(ctx, "SZSE", "159915.SZ")
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "创业板ETF购1月2000", rows[0].Name)
		assert.Equal(t, data.Call, rows[0].Side)
		assert.True(t, rows[0].DelistDate.IsZero())
		assert.Equal(t, date(2023, 1, 25), rows[0].MaturityDate)
	}
	hits, misses := c.Stats()
	assert.EqualValues(t, 2, hits)
	assert.EqualValues(t, 2, misses)
}

func TestCachePersistsAcrossOpen(t *testing.T) {
	mem := data.NewMemoryProvider(nil)
	mem.SetFundName("159915.SZ", "创业板ETF")
	c, path := openTemp(t, mem)

	name, err := c.GetFundName(context.Background(), "159915.SZ")
	require.NoError(t, err)
	assert.Equal(t, "创业板ETF", name)
	require.NoError(t, c.Close())

	reopened, err := Open(path, data.NewMemoryProvider(nil))
	require.NoError(t, err)
	defer reopened.Close()

	name, err = reopened.GetFundName(context.Background(), "159915.SZ")
	require.NoError(t, err)
	assert.Equal(t, "创业板ETF", name)
}

type failingProvider struct {
	data.Provider
	calls int
}

func (f *failingProvider) GetFundName(ctx context.Context, code string) (string, error) {
	f.calls++
	return "", errors.New("upstream timeout")
}

func TestErrorsAreNotCached(t *testing.T) {
	fp := &failingProvider{Provider: data.NewMemoryProvider(nil)}
	c, _ := openTemp(t, fp)

	for i := 0; i < 2; i++ {
		_, err := c.GetFundName(context.Background(), "159915.SZ")
		require.Error(t, err)
		assert.NotErrorIs(t, err, data.ErrNoData)
	}
	assert.Equal(t, 2, fp.calls)
}

func TestPurge(t *testing.T) {
	mem := data.NewMemoryProvider(nil)
	mem.SetFundName("159915.SZ", "创业板ETF")
	c, _ := openTemp(t, mem)
	ctx := context.Background()

	_, err := c.GetFundName(ctx, "159915.SZ")
	require.NoError(t, err)
	_, _ = c.GetOptionQuote(ctx, "X", date(2023, 1, 3))

	n, err := c.Purge(ctx, kindQuote)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = c.Purge(ctx, "")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestOpenRequiresSecondary(t *testing.T) {
	_, err := Open(":memory:", nil)
	assert.Error(t, err)

	c, err := Open(":memory:", data.NewMemoryProvider(nil))
	require.NoError(t, err)
	assert.Equal(t, "sqlite-cache", c.Name())
	assert.NotNil(t, c.Secondary())
	assert.NoError(t, c.Close())
}
