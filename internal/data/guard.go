package data

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/stockrun/stockrun/internal/domain"
)

// GuardConfig bounds the request rate and trips the breaker on repeated
// provider failures.
type GuardConfig struct {
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	MaxFailures       uint32        `yaml:"max_failures"`
	OpenTimeout       time.Duration `yaml:"open_timeout"`
}

// DefaultGuardConfig allows 5 rps with a burst of 10 and opens the
// breaker after 5 consecutive failures for 30 seconds.
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		RequestsPerSecond: 5,
		Burst:             10,
		MaxFailures:       5,
		OpenTimeout:       30 * time.Second,
	}
}

// Guard wraps a provider with a token-bucket rate limiter and a circuit
// breaker. Requests wait for a token, then run through the breaker.
type Guard struct {
	next    Provider
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// NewGuard builds the guarding decorator.
func NewGuard(next Provider, cfg GuardConfig) *Guard {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}

	settings := gobreaker.Settings{
		Name:    next.Name(),
		Timeout: cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("provider", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("provider breaker state change")
		},
	}

	return &Guard{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

func (g *Guard) Name() string { return g.next.Name() }

// Bars waits for rate-limit clearance, then calls the wrapped provider
// under the breaker.
func (g *Guard) Bars(ctx context.Context, symbol, interval string, limit int) (domain.Bars, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	out, err := g.breaker.Execute(func() (interface{}, error) {
		return g.next.Bars(ctx, symbol, interval, limit)
	})
	if err != nil {
		return nil, err
	}
	return out.(domain.Bars), nil
}

// BreakerState reports the current circuit state for health endpoints.
func (g *Guard) BreakerState() gobreaker.State {
	return g.breaker.State()
}
