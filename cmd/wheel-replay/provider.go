package main

import (
	"fmt"

	"github.com/contactkeval/wheel-replay/internal/backtest/engine"
	"github.com/contactkeval/wheel-replay/internal/config"
	"github.com/contactkeval/wheel-replay/internal/data"
	"github.com/contactkeval/wheel-replay/internal/logger"
	"github.com/contactkeval/wheel-replay/internal/store"
)

// buildProvider constructs the configured data provider, wrapped in the
// SQLite cache unless CachePath is empty. The returned func releases it.
func buildProvider(cfg *config.Config) (data.Provider, func(), error) {
	var prov data.Provider
	switch cfg.Provider {
	case config.ProviderTushare:
		if cfg.Tushare.Token == "" {
			return nil, nil, fmt.Errorf("%w: tushare token missing; set TUSHARE_TOKEN", engine.ErrInvalidConfig)
		}
		prov = data.NewTushareProvider(
			cfg.Tushare.Token,
			data.WithTushareBaseURL(cfg.Tushare.BaseURL),
			data.WithTushareRateLimit(cfg.Tushare.RatePerMinute),
		)
	case config.ProviderMassive:
		if cfg.Massive.APIKey == "" {
			return nil, nil, fmt.Errorf("%w: massive api key missing; set MASSIVE_API_KEY", engine.ErrInvalidConfig)
		}
		start, _ := data.ParseDay(cfg.StartDate)
		end, _ := data.ParseDay(cfg.EndDate)
		prov = data.NewMassiveDataProvider(
			cfg.Massive.APIKey,
			data.WithMassiveCalendarTicker(cfg.Massive.CalendarTicker),
			// contracts sold near the end of the window mature after it
			data.WithMassiveExpiryWindow(start, end.AddDate(0, 2, 0)),
		)
	case config.ProviderCSV:
		m, err := data.LoadCSVDir(cfg.DataDir, nil)
		if err != nil {
			return nil, nil, err
		}
		prov = m
	default:
		return nil, nil, fmt.Errorf("%w: unknown provider %q", engine.ErrInvalidConfig, cfg.Provider)
	}

	if cfg.CachePath == "" {
		return prov, func() {}, nil
	}
	cached, err := store.Open(cfg.CachePath, prov)
	if err != nil {
		return nil, nil, err
	}
	return cached, func() {
		hits, misses := cached.Stats()
		logger.Debugf("event=cache_stats hits=%d misses=%d", hits, misses)
		if err := cached.Close(); err != nil {
			logger.Warnf("closing cache: %v", err)
		}
	}, nil
}
