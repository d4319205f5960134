package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/contactkeval/wheel-replay/internal/backtest/engine"
	"github.com/contactkeval/wheel-replay/internal/config"
	"github.com/contactkeval/wheel-replay/internal/data"
	"github.com/contactkeval/wheel-replay/internal/logger"
	"github.com/contactkeval/wheel-replay/internal/report"
	"github.com/contactkeval/wheel-replay/internal/server"
	"github.com/contactkeval/wheel-replay/internal/store"
)

var version = "dev"

type rootOptions struct {
	configFile string
	envFile    string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	if errors.Is(err, engine.ErrInvalidConfig) {
		return 2
	}
	return 1
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "wheel-replay",
		Short:         "Backtest the options wheel on exchange-listed ETF options",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (JSON, YAML or TOML)")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file with credentials")

	pf := root.PersistentFlags()
	pf.String("underlying", "", "underlying code, e.g. 159915.SZ")
	pf.String("start", "", "first date, YYYYMMDD")
	pf.String("end", "", "last date, YYYYMMDD")
	pf.Float64("otm-min", 0, "lower OTM bound as a fraction of spot")
	pf.Float64("otm-max", 0, "upper OTM bound as a fraction of spot")
	pf.Float64("capital", 0, "initial capital; 0 reports return on margin")
	pf.Float64("rate", 0, "risk-free rate for implied volatility")
	pf.String("filter", "", "extra contract filter expression, e.g. \"dte <= 40\"")
	pf.String("provider", "", "data provider: tushare, massive or csv")
	pf.String("data-dir", "", "directory of CSV files for the csv provider")
	pf.String("cache", "", "SQLite cache path; an empty value disables caching")
	pf.Int("verbosity", 0, "0=errors 1=info 2=debug 3=trace")
	pf.String("log-file", "", "also log to this rotating file")

	root.AddCommand(newRunCmd(opts), newServeCmd(opts), newCacheCmd(opts), newVersionCmd())
	return root
}

// loadConfig resolves settings and configures logging from them.
func loadConfig(cmd *cobra.Command, opts *rootOptions) (*config.Config, error) {
	cfg, err := config.Load(config.LoadOptions{
		ConfigFile: opts.configFile,
		EnvFile:    opts.envFile,
		Flags:      cmd.Flags(),
	})
	if err != nil {
		return nil, err
	}
	logger.Configure(logger.Options{
		Verbosity:  cfg.Verbosity,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		NoColor:    cfg.Log.NoColor,
	})
	return cfg, nil
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one backtest and write reports",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			prov, closer, err := buildProvider(cfg)
			if err != nil {
				return err
			}
			defer closer()

			ecfg, err := cfg.EngineConfig()
			if err != nil {
				return err
			}
			eng, err := engine.NewEngine(ecfg, prov)
			if err != nil {
				return err
			}

			start := time.Now()
			res, err := eng.Run(cmd.Context())
			if err != nil {
				return err
			}
			paths, err := report.WriteAll(res, cfg.ReportDir)
			if err != nil {
				return err
			}
			printSummary(cmd.OutOrStdout(), res.Summary)
			for _, p := range paths {
				fmt.Fprintln(cmd.OutOrStdout(), "wrote", p)
			}
			logger.Infof("event=done elapsed=%s trades=%d", time.Since(start).Round(time.Millisecond), len(res.Trades))
			return nil
		},
	}
	cmd.Flags().String("out", "", "report directory")
	return cmd
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve backtests over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			prov, closer, err := buildProvider(cfg)
			if err != nil {
				return err
			}
			defer closer()
			return server.New(cfg, prov).ListenAndServe(cmd.Context())
		},
	}
	cmd.Flags().String("addr", "", "listen address")
	return cmd
}

func newCacheCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the local data cache",
	}
	cmd.AddCommand(&cobra.Command{
		Use:       "purge [kind]",
		Short:     "Delete cached entries, optionally of one kind",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: store.Kinds,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			if cfg.CachePath == "" {
				return fmt.Errorf("%w: cache_path is empty", engine.ErrInvalidConfig)
			}
			kind := ""
			if len(args) == 1 {
				kind = args[0]
			}
			db, err := store.Open(cfg.CachePath, data.NewMemoryProvider(nil))
			if err != nil {
				return err
			}
			defer db.Close()
			n, err := db.Purge(cmd.Context(), kind)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %d entries from %s\n", n, cfg.CachePath)
			return nil
		},
	})
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "wheel-replay", version)
		},
	}
}
