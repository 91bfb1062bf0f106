// Package risk sizes positions and derives stop, target and portfolio
// exposure figures from price history.
package risk

import (
	"math"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/stockrun/stockrun/internal/domain"
)

// SizingMethod selects how position size is derived.
type SizingMethod string

const (
	SizeFixedPercent SizingMethod = "fixed_percent"
	SizeRiskBased    SizingMethod = "risk_based"
	SizeFixedAmount  SizingMethod = "fixed_amount"
)

// ExposureLevel grades total portfolio exposure.
type ExposureLevel string

const (
	ExposureLow      ExposureLevel = "low"
	ExposureMedium   ExposureLevel = "medium"
	ExposureHigh     ExposureLevel = "high"
	ExposureCritical ExposureLevel = "critical"
)

// tradingDaysPerYear annualizes daily return volatility.
const tradingDaysPerYear = 252

// Config holds the risk parameters.
type Config struct {
	StopLossPct    float64      `yaml:"stop_loss_pct"`
	TakeProfitPct  float64      `yaml:"take_profit_pct"`
	Sizing         SizingMethod `yaml:"sizing"`
	PositionPct    float64      `yaml:"position_pct"`
	RiskPerTrade   float64      `yaml:"risk_per_trade"`
	FixedAmount    float64      `yaml:"fixed_amount"`
	MaxPositionPct float64      `yaml:"max_position_pct"`
	MaxExposurePct float64      `yaml:"max_exposure_pct"`
}

// DefaultConfig returns conservative defaults: 5% stop, 10% target, 10%
// of balance per position, 2% risk per trade, 80% total exposure cap.
func DefaultConfig() Config {
	return Config{
		StopLossPct:    0.05,
		TakeProfitPct:  0.10,
		Sizing:         SizeFixedPercent,
		PositionPct:    0.10,
		RiskPerTrade:   0.02,
		FixedAmount:    1000,
		MaxPositionPct: 0.25,
		MaxExposurePct: 0.80,
	}
}

// Validate rejects unusable parameters.
func (c Config) Validate() error {
	if c.StopLossPct <= 0 || c.StopLossPct >= 1 {
		return &domain.InvalidParameterError{Param: "stop_loss_pct", Reason: "must be in (0,1)"}
	}
	if c.TakeProfitPct <= 0 {
		return &domain.InvalidParameterError{Param: "take_profit_pct", Reason: "must be positive"}
	}
	switch c.Sizing {
	case SizeFixedPercent, SizeRiskBased, SizeFixedAmount:
	default:
		return &domain.InvalidParameterError{Param: "sizing", Reason: "must be fixed_percent, risk_based or fixed_amount"}
	}
	if c.MaxPositionPct <= 0 || c.MaxPositionPct > 1 {
		return &domain.InvalidParameterError{Param: "max_position_pct", Reason: "must be in (0,1]"}
	}
	if c.MaxExposurePct <= 0 || c.MaxExposurePct > 1 {
		return &domain.InvalidParameterError{Param: "max_exposure_pct", Reason: "must be in (0,1]"}
	}
	return nil
}

// Manager applies the configured risk policy.
type Manager struct {
	cfg Config
}

// NewManager builds a manager after validating the config.
func NewManager(cfg Config) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Manager{cfg: cfg}, nil
}

// StopLoss returns the percent-based stop for the side.
func (m *Manager) StopLoss(price float64, side domain.Side) float64 {
	if side == domain.SideSell {
		return price * (1 + m.cfg.StopLossPct)
	}
	return price * (1 - m.cfg.StopLossPct)
}

// TakeProfit returns the percent-based target for the side.
func (m *Manager) TakeProfit(price float64, side domain.Side) float64 {
	if side == domain.SideSell {
		return price * (1 - m.cfg.TakeProfitPct)
	}
	return price * (1 + m.cfg.TakeProfitPct)
}

// DynamicStop widens the stop with volatility but never past the
// percent-based stop.
func (m *Manager) DynamicStop(price, atr, multiplier float64, side domain.Side) float64 {
	floor := m.StopLoss(price, side)
	if atr <= 0 || multiplier <= 0 {
		return floor
	}
	if side == domain.SideSell {
		return math.Min(price+atr*multiplier, floor)
	}
	return math.Max(price-atr*multiplier, floor)
}

// PositionSize returns the notional to commit for a trade, capped at the
// per-position maximum.
func (m *Manager) PositionSize(balance, price, stopLoss float64) float64 {
	if balance <= 0 || price <= 0 {
		return 0
	}

	var notional float64
	switch m.cfg.Sizing {
	case SizeRiskBased:
		riskPerUnit := math.Abs(price - stopLoss)
		if riskPerUnit <= 0 {
			log.Warn().Float64("price", price).Msg("risk-based sizing without stop distance, falling back to fixed percent")
			notional = balance * m.cfg.PositionPct
			break
		}
		units := balance * m.cfg.RiskPerTrade / riskPerUnit
		notional = units * price
	case SizeFixedAmount:
		notional = m.cfg.FixedAmount
	default:
		notional = balance * m.cfg.PositionPct
	}

	maxNotional := balance * m.cfg.MaxPositionPct
	if notional > maxNotional {
		notional = maxNotional
	}
	if notional < 0 {
		notional = 0
	}
	return notional
}

// ValidateTrade reports whether a new position of the given notional
// keeps total exposure under the cap.
func (m *Manager) ValidateTrade(balance, currentExposure, notional float64) error {
	if notional <= 0 {
		return &domain.InvalidParameterError{Param: "notional", Reason: "must be positive"}
	}
	if balance <= 0 {
		return &domain.InvalidParameterError{Param: "balance", Reason: "must be positive"}
	}
	if notional > balance*m.cfg.MaxPositionPct {
		return &domain.InvalidParameterError{Param: "notional", Reason: "exceeds per-position cap"}
	}
	if currentExposure+notional > balance*m.cfg.MaxExposurePct {
		return &domain.InvalidParameterError{Param: "notional", Reason: "exceeds total exposure cap"}
	}
	return nil
}

// ExposureLevelFor grades the exposure ratio.
func ExposureLevelFor(ratio float64) ExposureLevel {
	switch {
	case ratio >= 0.9:
		return ExposureCritical
	case ratio >= 0.8:
		return ExposureHigh
	case ratio >= 0.6:
		return ExposureMedium
	}
	return ExposureLow
}

// Returns converts a close series into simple period returns.
func Returns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	out := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			continue
		}
		out = append(out, closes[i]/closes[i-1]-1)
	}
	return out
}

// Volatility annualizes the standard deviation of period returns.
func Volatility(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))

	var sq float64
	for _, r := range returns {
		d := r - mean
		sq += d * d
	}
	std := math.Sqrt(sq / float64(len(returns)-1))
	return std * math.Sqrt(tradingDaysPerYear)
}

// MaxDrawdown returns the largest peak-to-trough loss fraction of an
// equity curve.
func MaxDrawdown(equity []float64) float64 {
	if len(equity) == 0 {
		return 0
	}
	peak := equity[0]
	var worst float64
	for _, v := range equity {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			dd := (peak - v) / peak
			if dd > worst {
				worst = dd
			}
		}
	}
	return worst
}

// VaR returns the historical value-at-risk of period returns at the
// given confidence, expressed as a positive loss fraction.
func VaR(returns []float64, confidence float64) float64 {
	if len(returns) == 0 || confidence <= 0 || confidence >= 1 {
		return 0
	}
	sorted := make([]float64, len(returns))
	copy(sorted, returns)
	sort.Float64s(sorted)

	idx := int(float64(len(sorted)) * (1 - confidence))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	v := sorted[idx]
	if v >= 0 {
		return 0
	}
	return -v
}

// Metrics aggregates the history-derived figures for one symbol.
type Metrics struct {
	Volatility  float64 `json:"volatility"`
	MaxDrawdown float64 `json:"max_drawdown"`
	VaR95       float64 `json:"var_95"`
}

// ComputeMetrics derives metrics from a close series.
func ComputeMetrics(closes []float64) Metrics {
	returns := Returns(closes)
	return Metrics{
		Volatility:  Volatility(returns),
		MaxDrawdown: MaxDrawdown(closes),
		VaR95:       VaR(returns, 0.95),
	}
}

// PortfolioRisk summarizes account-level exposure.
type PortfolioRisk struct {
	Balance       float64       `json:"balance"`
	Exposure      float64       `json:"exposure"`
	ExposureRatio float64       `json:"exposure_ratio"`
	Level         ExposureLevel `json:"level"`
	PositionCount int           `json:"position_count"`
}

// AssessPortfolio grades the current exposure against the balance.
func AssessPortfolio(balance, exposure float64, positions int) PortfolioRisk {
	pr := PortfolioRisk{
		Balance:       balance,
		Exposure:      exposure,
		PositionCount: positions,
	}
	if balance > 0 {
		pr.ExposureRatio = exposure / balance
	}
	pr.Level = ExposureLevelFor(pr.ExposureRatio)
	return pr
}
