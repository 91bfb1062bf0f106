package main

import (
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/stockrun/stockrun/internal/confidence"
	"github.com/stockrun/stockrun/internal/config"
	"github.com/stockrun/stockrun/internal/data"
	"github.com/stockrun/stockrun/internal/engine"
	"github.com/stockrun/stockrun/internal/filter"
	"github.com/stockrun/stockrun/internal/metrics"
	"github.com/stockrun/stockrun/internal/strategy"
)

// app is the assembled application: one provider chain, one strategy,
// one filter pipeline and one metrics registry.
type app struct {
	cfg      config.Config
	engine   *engine.Engine
	guard    *data.Guard
	registry *metrics.Registry
}

// loadApp reads flags and config, sets up logging and wires the engine.
func loadApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	setupLogging(cfg.Logging)
	return buildApp(cfg)
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")

	var cfg config.Config
	var err error
	if path == "" {
		cfg = config.Default()
	} else if cfg, err = config.Load(path); err != nil {
		return config.Config{}, err
	}

	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	if interval, _ := cmd.Flags().GetString("interval"); interval != "" {
		cfg.Data.Interval = interval
	}
	if limit, _ := cmd.Flags().GetInt("limit"); limit > 0 {
		cfg.Data.BarLimit = limit
	}
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.Server.Addr = addr
	}
	return cfg, nil
}

func setupLogging(cfg config.Logging) {
	zerolog.TimeFieldFormat = time.RFC3339

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	console := cfg.Format == "console" ||
		(cfg.Format == "auto" && term.IsTerminal(int(os.Stderr.Fd())))
	if console {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
}

func buildApp(cfg config.Config) (*app, error) {
	var provider data.Provider = data.NewBinanceProvider(cfg.Data.APIKey, cfg.Data.SecretKey)
	if cfg.Data.Cache.Enabled {
		store := redis.NewClient(&redis.Options{
			Addr:     cfg.Data.Cache.Addr,
			Password: cfg.Data.Cache.Password,
			DB:       cfg.Data.Cache.DB,
		})
		provider = data.NewCache(provider, store, cfg.Data.Cache.TTL())
		log.Info().Str("addr", cfg.Data.Cache.Addr).Msg("bar cache enabled")
	}
	guard := data.NewGuard(provider, cfg.Data.Guard.GuardConfig())

	scorer, err := confidence.NewScorer(cfg.Confidence)
	if err != nil {
		return nil, err
	}
	strat, err := strategy.NewSupportResistance(cfg.Strategy, scorer)
	if err != nil {
		return nil, err
	}
	pipeline, err := filter.New(cfg.Filter.Criteria())
	if err != nil {
		return nil, err
	}

	registry := metrics.NewRegistry()
	eng, err := engine.New(guard, strat, engine.Options{
		Interval: cfg.Data.Interval,
		BarLimit: cfg.Data.BarLimit,
		Pipeline: pipeline,
		Metrics:  registry,
	})
	if err != nil {
		return nil, err
	}

	return &app{cfg: cfg, engine: eng, guard: guard, registry: registry}, nil
}
