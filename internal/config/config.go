// Package config loads run settings from defaults, an optional config
// file, a .env file, WHEEL_* environment variables and command-line flags,
// in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/contactkeval/wheel-replay/internal/backtest/engine"
	"github.com/contactkeval/wheel-replay/internal/backtest/strategy"
	"github.com/contactkeval/wheel-replay/internal/data"
)

// EnvPrefix prefixes every environment override, e.g. WHEEL_UNDERLYING.
const EnvPrefix = "WHEEL"

// Known data providers.
const (
	ProviderTushare = "tushare"
	ProviderMassive = "massive"
	ProviderCSV     = "csv"
)

type Config struct {
	Underlying     string  `mapstructure:"underlying" json:"underlying"`
	StartDate      string  `mapstructure:"start_date" json:"start_date"` // YYYYMMDD
	EndDate        string  `mapstructure:"end_date" json:"end_date"`     // YYYYMMDD
	OTMMin         float64 `mapstructure:"otm_min" json:"otm_min"`
	OTMMax         float64 `mapstructure:"otm_max" json:"otm_max"`
	InitialCapital float64 `mapstructure:"initial_capital" json:"initial_capital"`
	Rate           float64 `mapstructure:"rate" json:"rate"`
	ContractFilter string  `mapstructure:"contract_filter" json:"contract_filter,omitempty"`

	Provider  string `mapstructure:"provider" json:"provider"`
	DataDir   string `mapstructure:"data_dir" json:"data_dir,omitempty"`     // csv provider only
	CachePath string `mapstructure:"cache_path" json:"cache_path,omitempty"` // empty disables the cache
	ReportDir string `mapstructure:"report_dir" json:"report_dir"`
	Verbosity int    `mapstructure:"verbosity" json:"verbosity"` // 0=errors,1=info,2=debug,3=trace

	Log     LogConfig     `mapstructure:"log" json:"log"`
	Tushare TushareConfig `mapstructure:"tushare" json:"-"`
	Massive MassiveConfig `mapstructure:"massive" json:"-"`
	Server  ServerConfig  `mapstructure:"server" json:"server"`
}

type LogConfig struct {
	File       string `mapstructure:"file" json:"file,omitempty"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" json:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" json:"max_age_days"`
	NoColor    bool   `mapstructure:"no_color" json:"no_color"`
}

type TushareConfig struct {
	Token         string `mapstructure:"token"`
	BaseURL       string `mapstructure:"base_url"`
	RatePerMinute int    `mapstructure:"rate_per_minute"`
}

type MassiveConfig struct {
	APIKey         string `mapstructure:"api_key"`
	CalendarTicker string `mapstructure:"calendar_ticker"`
}

type ServerConfig struct {
	Addr              string  `mapstructure:"addr" json:"addr"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" json:"requests_per_second"`
	Burst             int     `mapstructure:"burst" json:"burst"`
}

// now is replaced in tests.
var now = time.Now

// DefaultCachePath is ~/.cache/wheel-replay/cache.db.
func DefaultCachePath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join(".cache", "wheel-replay", "cache.db")
	}
	return filepath.Join(dir, "wheel-replay", "cache.db")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("underlying", "159915.SZ")
	v.SetDefault("start_date", "20230101")
	v.SetDefault("end_date", now().Format(data.DateLayout))
	v.SetDefault("otm_min", 0.05)
	v.SetDefault("otm_max", 0.10)
	v.SetDefault("initial_capital", 0.0)
	v.SetDefault("rate", 0.02)
	v.SetDefault("contract_filter", "")
	v.SetDefault("provider", ProviderTushare)
	v.SetDefault("data_dir", "")
	v.SetDefault("cache_path", DefaultCachePath())
	v.SetDefault("report_dir", "./out")
	v.SetDefault("verbosity", engine.VerbosityInfo)

	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 20)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("log.no_color", false)

	v.SetDefault("tushare.token", "")
	v.SetDefault("tushare.base_url", data.TushareBaseURL)
	v.SetDefault("tushare.rate_per_minute", 200)

	v.SetDefault("massive.api_key", "")
	v.SetDefault("massive.calendar_ticker", "SPY")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.requests_per_second", 1.0)
	v.SetDefault("server.burst", 3)
}

// FlagKeys maps config keys to the command-line flags that override them.
var FlagKeys = map[string]string{
	"underlying":      "underlying",
	"start_date":      "start",
	"end_date":        "end",
	"otm_min":         "otm-min",
	"otm_max":         "otm-max",
	"initial_capital": "capital",
	"rate":            "rate",
	"contract_filter": "filter",
	"provider":        "provider",
	"data_dir":        "data-dir",
	"cache_path":      "cache",
	"report_dir":      "out",
	"verbosity":       "verbosity",
	"log.file":        "log-file",
	"server.addr":     "addr",
}

// LoadOptions selects the optional sources Load reads.
type LoadOptions struct {
	ConfigFile string         // JSON, YAML or TOML; empty skips
	EnvFile    string         // dotenv file; missing is not an error
	Flags      *pflag.FlagSet // flags named in FlagKeys; may be nil
}

// Load resolves and validates the configuration.
func Load(opts LoadOptions) (*Config, error) {
	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading %s: %w", opts.EnvFile, err)
		}
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// credentials also come from their conventional unprefixed names
	if err := v.BindEnv("tushare.token", EnvPrefix+"_TUSHARE_TOKEN", "TUSHARE_TOKEN"); err != nil {
		return nil, err
	}
	if err := v.BindEnv("massive.api_key", EnvPrefix+"_MASSIVE_API_KEY", "MASSIVE_API_KEY"); err != nil {
		return nil, err
	}

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", opts.ConfigFile, err)
		}
	}

	if opts.Flags != nil {
		for key, name := range FlagKeys {
			if f := opts.Flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, err
				}
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.Underlying = strings.ToUpper(strings.TrimSpace(c.Underlying))
	c.Provider = strings.ToLower(strings.TrimSpace(c.Provider))
	c.StartDate = compactDate(c.StartDate)
	c.EndDate = compactDate(c.EndDate)
}

// compactDate rewrites YYYY-MM-DD as YYYYMMDD and leaves anything else.
func compactDate(s string) string {
	s = strings.TrimSpace(s)
	if d, err := data.ParseDay(s); err == nil {
		return d.Format(data.DateLayout)
	}
	return s
}

// Validate checks every setting a run depends on.
func (c *Config) Validate() error {
	if c.Underlying == "" {
		return &ValidationError{Field: "underlying", Value: c.Underlying, Msg: "required"}
	}
	start, err := data.ParseDay(c.StartDate)
	if err != nil {
		return &ValidationError{Field: "start_date", Value: c.StartDate, Msg: "expected YYYYMMDD"}
	}
	end, err := data.ParseDay(c.EndDate)
	if err != nil {
		return &ValidationError{Field: "end_date", Value: c.EndDate, Msg: "expected YYYYMMDD"}
	}
	if start.After(end) {
		return &ValidationError{Field: "start_date", Value: c.StartDate, Msg: "after end_date " + c.EndDate}
	}
	if c.OTMMin < 0 {
		return &ValidationError{Field: "otm_min", Value: c.OTMMin, Msg: "must be >= 0"}
	}
	if c.OTMMax <= c.OTMMin {
		return &ValidationError{Field: "otm_max", Value: c.OTMMax, Msg: "must exceed otm_min"}
	}
	if c.InitialCapital < 0 {
		return &ValidationError{Field: "initial_capital", Value: c.InitialCapital, Msg: "must be >= 0"}
	}
	if c.Rate < 0 {
		return &ValidationError{Field: "rate", Value: c.Rate, Msg: "must be >= 0"}
	}
	if _, err := strategy.NewContractFilter(c.ContractFilter); err != nil {
		return &ValidationError{Field: "contract_filter", Value: c.ContractFilter, Msg: err.Error()}
	}
	switch c.Provider {
	case ProviderTushare, ProviderMassive:
	case ProviderCSV:
		if c.DataDir == "" {
			return &ValidationError{Field: "data_dir", Value: c.DataDir, Msg: "required by the csv provider"}
		}
	default:
		return &ValidationError{Field: "provider", Value: c.Provider, Msg: "unknown provider"}
	}
	if c.Verbosity < engine.VerbosityError || c.Verbosity > engine.VerbosityTrace {
		return &ValidationError{Field: "verbosity", Value: c.Verbosity, Msg: "must be 0..3"}
	}
	return nil
}

// EngineConfig converts the settings into engine parameters.
func (c *Config) EngineConfig() (engine.Config, error) {
	if err := c.Validate(); err != nil {
		return engine.Config{}, err
	}
	start, _ := data.ParseDay(c.StartDate)
	end, _ := data.ParseDay(c.EndDate)
	return engine.Config{
		Underlying:     c.Underlying,
		StartDate:      start,
		EndDate:        end,
		Band:           strategy.OTMBand{Min: c.OTMMin, Max: c.OTMMax},
		InitialCapital: c.InitialCapital,
		Rate:           c.Rate,
		ContractFilter: c.ContractFilter,
	}, nil
}

// Overrides is a partial run request; nil fields keep the loaded value.
type Overrides struct {
	Underlying     *string  `json:"underlying,omitempty"`
	StartDate      *string  `json:"start_date,omitempty"`
	EndDate        *string  `json:"end_date,omitempty"`
	OTMMin         *float64 `json:"otm_min,omitempty"`
	OTMMax         *float64 `json:"otm_max,omitempty"`
	InitialCapital *float64 `json:"initial_capital,omitempty"`
	Rate           *float64 `json:"rate,omitempty"`
	ContractFilter *string  `json:"contract_filter,omitempty"`
}

// WithOverrides returns a validated copy of c with o applied.
func (c *Config) WithOverrides(o Overrides) (*Config, error) {
	out := *c
	c = &out
	if o.Underlying != nil {
		c.Underlying = *o.Underlying
	}
	if o.StartDate != nil {
		c.StartDate = *o.StartDate
	}
	if o.EndDate != nil {
		c.EndDate = *o.EndDate
	}
	if o.OTMMin != nil {
		c.OTMMin = *o.OTMMin
	}
	if o.OTMMax != nil {
		c.OTMMax = *o.OTMMax
	}
	if o.InitialCapital != nil {
		c.InitialCapital = *o.InitialCapital
	}
	if o.Rate != nil {
		c.Rate = *o.Rate
	}
	if o.ContractFilter != nil {
		c.ContractFilter = *o.ContractFilter
	}
	c.normalize()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// ValidationError reports one invalid setting. It matches
// engine.ErrInvalidConfig with errors.Is.
type ValidationError struct {
	Field string
	Value any
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%v: %s=%v: %s", engine.ErrInvalidConfig, e.Field, e.Value, e.Msg)
}

func (e *ValidationError) Unwrap() error { return engine.ErrInvalidConfig }
