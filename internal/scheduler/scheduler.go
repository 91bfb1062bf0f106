// Package scheduler drives periodic symbol analysis, honoring an
// exchange session window.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/stockrun/stockrun/internal/domain"
)

// MarketHours describes the tradable session. The zero value means
// always open (24/7 venues).
type MarketHours struct {
	// OpenHour and CloseHour bound the session (inclusive open,
	// exclusive close) in Timezone. Both zero means no hour window.
	OpenHour  int    `yaml:"open_hour"`
	CloseHour int    `yaml:"close_hour"`
	Timezone  string `yaml:"timezone"`
	// SkipWeekends closes the session on Saturday and Sunday.
	SkipWeekends bool `yaml:"skip_weekends"`
}

// Location resolves the configured timezone, defaulting to UTC.
func (m MarketHours) Location() (*time.Location, error) {
	if m.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(m.Timezone)
}

// IsOpen reports whether the session is open at the given instant.
func (m MarketHours) IsOpen(t time.Time) bool {
	loc, err := m.Location()
	if err != nil {
		log.Warn().Err(err).Str("timezone", m.Timezone).Msg("bad market timezone, assuming UTC")
		loc = time.UTC
	}
	local := t.In(loc)

	if m.SkipWeekends {
		switch local.Weekday() {
		case time.Saturday, time.Sunday:
			return false
		}
	}
	if m.OpenHour == 0 && m.CloseHour == 0 {
		return true
	}
	h := local.Hour()
	return h >= m.OpenHour && h < m.CloseHour
}

// Runner analyzes one symbol.
type Runner func(ctx context.Context, symbol string) error

// Config holds the loop parameters.
type Config struct {
	Interval time.Duration `yaml:"interval"`
	Symbols  []string      `yaml:"symbols"`
	Hours    MarketHours   `yaml:"market_hours"`
}

// Validate rejects unusable parameters.
func (c Config) Validate() error {
	if c.Interval <= 0 {
		return &domain.InvalidParameterError{Param: "interval", Reason: "must be positive"}
	}
	if len(c.Symbols) == 0 {
		return &domain.InvalidParameterError{Param: "symbols", Reason: "must not be empty"}
	}
	if c.Hours.OpenHour < 0 || c.Hours.OpenHour > 23 || c.Hours.CloseHour < 0 || c.Hours.CloseHour > 24 {
		return &domain.InvalidParameterError{Param: "market_hours", Reason: "open in [0,23], close in [0,24]"}
	}
	if _, err := c.Hours.Location(); err != nil {
		return &domain.InvalidParameterError{Param: "timezone", Reason: err.Error()}
	}
	return nil
}

// Scheduler runs the configured symbols on every tick while the market
// is open.
type Scheduler struct {
	cfg Config
	run Runner
	now func() time.Time
}

// New builds a scheduler.
func New(cfg Config, run Runner) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if run == nil {
		return nil, &domain.InvalidParameterError{Param: "runner", Reason: "must not be nil"}
	}
	return &Scheduler{cfg: cfg, run: run, now: time.Now}, nil
}

// Run blocks until the context is cancelled, analyzing all symbols
// immediately and then on every interval tick. Per-symbol failures are
// logged and do not stop the loop.
func (s *Scheduler) Run(ctx context.Context) error {
	log.Info().
		Dur("interval", s.cfg.Interval).
		Int("symbols", len(s.cfg.Symbols)).
		Msg("scheduler started")

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.runAll(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

func (s *Scheduler) runAll(ctx context.Context) {
	if !s.cfg.Hours.IsOpen(s.now()) {
		log.Debug().Msg("market closed, skipping cycle")
		return
	}
	for _, symbol := range s.cfg.Symbols {
		if ctx.Err() != nil {
			return
		}
		if err := s.run(ctx, symbol); err != nil {
			log.Error().Err(err).Str("symbol", symbol).Msg("analysis failed")
		}
	}
}
