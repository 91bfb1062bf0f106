// Package config loads and validates the application configuration from
// YAML. Unknown keys are rejected so typos fail fast instead of being
// silently ignored.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/stockrun/stockrun/internal/confidence"
	"github.com/stockrun/stockrun/internal/data"
	"github.com/stockrun/stockrun/internal/domain"
	"github.com/stockrun/stockrun/internal/filter"
	"github.com/stockrun/stockrun/internal/risk"
	"github.com/stockrun/stockrun/internal/scheduler"
	"github.com/stockrun/stockrun/internal/strategy"
)

// Logging selects the log level and output format.
type Logging struct {
	Level string `yaml:"level"`
	// Format is "auto" (console on a TTY, JSON otherwise), "json" or
	// "console".
	Format string `yaml:"format"`
}

// CacheConfig configures the Redis bar cache.
type CacheConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Addr       string `yaml:"addr"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	TTLSeconds int    `yaml:"ttl_seconds"`
}

// TTL converts the configured seconds.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// GuardSettings configures the provider rate limiter and breaker.
type GuardSettings struct {
	RequestsPerSecond  float64 `yaml:"requests_per_second"`
	Burst              int     `yaml:"burst"`
	MaxFailures        uint32  `yaml:"max_failures"`
	OpenTimeoutSeconds int     `yaml:"open_timeout_seconds"`
}

// GuardConfig converts to the data-layer form.
func (g GuardSettings) GuardConfig() data.GuardConfig {
	return data.GuardConfig{
		RequestsPerSecond: g.RequestsPerSecond,
		Burst:             g.Burst,
		MaxFailures:       g.MaxFailures,
		OpenTimeout:       time.Duration(g.OpenTimeoutSeconds) * time.Second,
	}
}

// DataConfig selects and tunes the market data source.
type DataConfig struct {
	Provider  string        `yaml:"provider"`
	APIKey    string        `yaml:"api_key"`
	SecretKey string        `yaml:"secret_key"`
	Interval  string        `yaml:"interval"`
	BarLimit  int           `yaml:"bar_limit"`
	Cache     CacheConfig   `yaml:"cache"`
	Guard     GuardSettings `yaml:"guard"`
}

// SchedulerSettings configures the periodic analysis loop.
type SchedulerSettings struct {
	IntervalMinutes int                   `yaml:"interval_minutes"`
	Symbols         []string              `yaml:"symbols"`
	Hours           scheduler.MarketHours `yaml:"market_hours"`
}

// SchedulerConfig converts to the scheduler form.
func (s SchedulerSettings) SchedulerConfig() scheduler.Config {
	return scheduler.Config{
		Interval: time.Duration(s.IntervalMinutes) * time.Minute,
		Symbols:  s.Symbols,
		Hours:    s.Hours,
	}
}

// FilterSettings configures the signal filter pipeline.
type FilterSettings struct {
	MinConfidence          float64  `yaml:"min_confidence"`
	MaxConfidence          float64  `yaml:"max_confidence"`
	AllowedSides           []string `yaml:"allowed_sides"`
	MinPositionSize        float64  `yaml:"min_position_size"`
	MaxPositionSize        float64  `yaml:"max_position_size"`
	TradingHourStart       int      `yaml:"trading_hour_start"`
	TradingHourEnd         int      `yaml:"trading_hour_end"`
	RemoveDuplicates       bool     `yaml:"remove_duplicates"`
	DuplicateWindowMinutes int      `yaml:"duplicate_window_minutes"`
	MinRiskReward          float64  `yaml:"min_risk_reward"`
	AllowedConditions      []string `yaml:"allowed_market_conditions"`
	MaxSignalsPerDay       int      `yaml:"max_signals_per_day"`
	MinQualityScore        float64  `yaml:"min_quality_score"`
}

// Criteria converts to the filter form.
func (f FilterSettings) Criteria() filter.Criteria {
	sides := make([]domain.Side, 0, len(f.AllowedSides))
	for _, s := range f.AllowedSides {
		sides = append(sides, domain.Side(s))
	}
	conditions := make([]filter.MarketCondition, 0, len(f.AllowedConditions))
	for _, c := range f.AllowedConditions {
		conditions = append(conditions, filter.MarketCondition(c))
	}
	return filter.Criteria{
		MinConfidence:     f.MinConfidence,
		MaxConfidence:     f.MaxConfidence,
		AllowedSides:      sides,
		MinPositionSize:   f.MinPositionSize,
		MaxPositionSize:   f.MaxPositionSize,
		TradingHourStart:  f.TradingHourStart,
		TradingHourEnd:    f.TradingHourEnd,
		RemoveDuplicates:  f.RemoveDuplicates,
		DuplicateWindow:   time.Duration(f.DuplicateWindowMinutes) * time.Minute,
		MinRiskReward:     f.MinRiskReward,
		AllowedConditions: conditions,
		MaxSignalsPerDay:  f.MaxSignalsPerDay,
		MinQualityScore:   f.MinQualityScore,
	}
}

// PortfolioConfig configures the ledger and its optional persistence.
type PortfolioConfig struct {
	InitialCash    float64 `yaml:"initial_cash"`
	PostgresDSN    string  `yaml:"postgres_dsn"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// Config is the full application configuration.
type Config struct {
	Logging    Logging           `yaml:"logging"`
	Data       DataConfig        `yaml:"data"`
	Scheduler  SchedulerSettings `yaml:"scheduler"`
	Strategy   strategy.Config   `yaml:"strategy"`
	Confidence confidence.Config `yaml:"confidence"`
	Filter     FilterSettings    `yaml:"filter"`
	Risk       risk.Config       `yaml:"risk"`
	Portfolio  PortfolioConfig   `yaml:"portfolio"`
	Server     ServerConfig      `yaml:"server"`
}

// Default returns the full default configuration.
func Default() Config {
	return Config{
		Logging: Logging{Level: "info", Format: "auto"},
		Data: DataConfig{
			Provider: "binance",
			Interval: "1d",
			BarLimit: 120,
			Cache: CacheConfig{
				Addr:       "localhost:6379",
				TTLSeconds: 300,
			},
			Guard: GuardSettings{
				RequestsPerSecond:  5,
				Burst:              10,
				MaxFailures:        5,
				OpenTimeoutSeconds: 30,
			},
		},
		Scheduler: SchedulerSettings{
			IntervalMinutes: 15,
			Symbols:         []string{"BTCUSDT"},
		},
		Strategy:   strategy.DefaultConfig(),
		Confidence: confidence.DefaultConfig(),
		Filter: FilterSettings{
			MaxConfidence:          1.0,
			MaxPositionSize:        1.0,
			RemoveDuplicates:       true,
			DuplicateWindowMinutes: 30,
			MinQualityScore:        0.50,
		},
		Risk: risk.DefaultConfig(),
		Portfolio: PortfolioConfig{
			InitialCash:    10000,
			TimeoutSeconds: 5,
		},
		Server: ServerConfig{Addr: ":8080"},
	}
}

// Load reads a YAML file over the defaults. Unknown keys are an error.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(raw)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(raw []byte) (Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every section.
func (c Config) Validate() error {
	switch c.Logging.Format {
	case "auto", "json", "console":
	default:
		return &domain.InvalidParameterError{Param: "logging.format", Reason: "must be auto, json or console"}
	}
	if c.Data.Provider == "" {
		return &domain.InvalidParameterError{Param: "data.provider", Reason: "must not be empty"}
	}
	if c.Data.BarLimit <= 0 {
		return &domain.InvalidParameterError{Param: "data.bar_limit", Reason: "must be positive"}
	}
	if c.Data.Cache.Enabled && c.Data.Cache.TTLSeconds <= 0 {
		return &domain.InvalidParameterError{Param: "data.cache.ttl_seconds", Reason: "must be positive when the cache is enabled"}
	}
	if err := c.Scheduler.SchedulerConfig().Validate(); err != nil {
		return err
	}
	if err := c.Strategy.Validate(); err != nil {
		return err
	}
	if err := c.Confidence.Weights.Validate(); err != nil {
		return err
	}
	if err := c.Filter.Criteria().Validate(); err != nil {
		return err
	}
	if err := c.Risk.Validate(); err != nil {
		return err
	}
	if c.Portfolio.InitialCash < 0 {
		return &domain.InvalidParameterError{Param: "portfolio.initial_cash", Reason: "must be non-negative"}
	}
	if c.Server.Addr == "" {
		return &domain.InvalidParameterError{Param: "server.addr", Reason: "must not be empty"}
	}
	return nil
}
