// Package confidence scores candidate trading signals. Five weighted
// component scores combine into one [0,1] value with a per-factor breakdown.
// A component that cannot be computed degrades to its 0.5 neutral baseline
// instead of failing the whole score.
package confidence

import (
	"math"

	"github.com/rs/zerolog/log"

	"github.com/stockrun/stockrun/internal/domain"
	"github.com/stockrun/stockrun/internal/indicators"
	"github.com/stockrun/stockrun/internal/levels"
)

// Weights distribute the five component scores. They must sum to 1.0.
type Weights struct {
	Technical    float64 `yaml:"technical_indicators"`
	LevelQuality float64 `yaml:"support_resistance"`
	Market       float64 `yaml:"market_environment"`
	RiskReward   float64 `yaml:"risk_reward"`
	Volume       float64 `yaml:"volume_confirmation"`
}

// DefaultWeights returns the documented default split.
func DefaultWeights() Weights {
	return Weights{
		Technical:    0.35,
		LevelQuality: 0.25,
		Market:       0.20,
		RiskReward:   0.15,
		Volume:       0.05,
	}
}

// Validate checks the unit-sum constraint within a small tolerance.
func (w Weights) Validate() error {
	sum := w.Technical + w.LevelQuality + w.Market + w.RiskReward + w.Volume
	if math.Abs(sum-1.0) > 1e-6 {
		return &domain.InvalidParameterError{Param: "weights", Reason: "must sum to 1.0"}
	}
	for _, v := range []float64{w.Technical, w.LevelQuality, w.Market, w.RiskReward, w.Volume} {
		if v < 0 {
			return &domain.InvalidParameterError{Param: "weights", Reason: "must be non-negative"}
		}
	}
	return nil
}

// Config holds the scorer's weights and thresholds.
type Config struct {
	Weights Weights `yaml:"weights"`

	RSIOversold          float64 `yaml:"rsi_oversold"`
	RSIOverbought        float64 `yaml:"rsi_overbought"`
	RSIExtremeOversold   float64 `yaml:"rsi_extreme_oversold"`
	RSIExtremeOverbought float64 `yaml:"rsi_extreme_overbought"`

	VolumeSurge  float64 `yaml:"volume_surge_threshold"`
	VolumeStrong float64 `yaml:"volume_strong_threshold"`

	MinTouches         int     `yaml:"min_touches"`
	StrongTouches      int     `yaml:"strong_touches"`
	ProximityExcellent float64 `yaml:"proximity_excellent"`
	ProximityGood      float64 `yaml:"proximity_good"`
	ProximityFair      float64 `yaml:"proximity_fair"`

	RRExcellent  float64 `yaml:"rr_excellent"`
	RRGood       float64 `yaml:"rr_good"`
	RRAcceptable float64 `yaml:"rr_acceptable"`
	RRMinimum    float64 `yaml:"rr_minimum"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Weights:              DefaultWeights(),
		RSIOversold:          30,
		RSIOverbought:        70,
		RSIExtremeOversold:   20,
		RSIExtremeOverbought: 80,
		VolumeSurge:          1.5,
		VolumeStrong:         2.0,
		MinTouches:           2,
		StrongTouches:        4,
		ProximityExcellent:   0.5,
		ProximityGood:        1.0,
		ProximityFair:        2.0,
		RRExcellent:          3.0,
		RRGood:               2.5,
		RRAcceptable:         2.0,
		RRMinimum:            1.5,
	}
}

// Tier buckets an overall confidence value.
type Tier string

const (
	TierVeryHigh Tier = "very_high"
	TierHigh     Tier = "high"
	TierMedium   Tier = "medium"
	TierLow      Tier = "low"
	TierVeryLow  Tier = "very_low"
)

// MarketData is the externally supplied market-condition input.
type MarketData struct {
	VolumeRatio   float64           `json:"volume_ratio"`
	Volatility    float64           `json:"volatility"`
	TrendStrength float64           `json:"trend_strength"`
	Regime        indicators.Regime `json:"volatility_regime"`
}

// RiskLevels is an optional externally supplied stop/target pair.
type RiskLevels struct {
	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"`
}

// Input bundles everything the scorer consumes for one signal.
type Input struct {
	Side     domain.Side
	Price    float64
	Snapshot *indicators.Snapshot
	Levels   *levels.Analysis
	Market   *MarketData
	Risk     *RiskLevels
}

// Components are the five raw scores before weighting, each in [0,1].
type Components struct {
	Technical    float64 `json:"technical_indicators"`
	LevelQuality float64 `json:"support_resistance"`
	Market       float64 `json:"market_environment"`
	RiskReward   float64 `json:"risk_reward"`
	Volume       float64 `json:"volume_confirmation"`
}

// Breakdown is the scored result with its per-factor decomposition. It is
// purely derived and discarded after use.
type Breakdown struct {
	Overall        float64    `json:"overall_confidence"`
	Tier           Tier       `json:"confidence_level"`
	Components     Components `json:"components"`
	Weights        Weights    `json:"weights_used"`
	QualityScore   int        `json:"quality_score"`
	Recommendation string     `json:"recommendation"`
	RiskLabel      string     `json:"risk_assessment"`
	Confirmations  int        `json:"confirmations"`
	Degraded       bool       `json:"degraded,omitempty"`
}

// Scorer computes weighted signal confidence.
type Scorer struct {
	cfg Config
}

// NewScorer builds a scorer; the weights are validated up front.
func NewScorer(cfg Config) (*Scorer, error) {
	if err := cfg.Weights.Validate(); err != nil {
		return nil, err
	}
	return &Scorer{cfg: cfg}, nil
}

const neutral = 0.5

// Score computes the weighted confidence for one candidate signal. It never
// fails: component errors degrade to the neutral baseline, and an unusable
// input yields the safe default result with the Degraded flag set.
func (s *Scorer) Score(in Input) *Breakdown {
	if in.Snapshot == nil || in.Price <= 0 || (in.Side != domain.SideBuy && in.Side != domain.SideSell) {
		log.Warn().Str("side", string(in.Side)).Msg("confidence input unusable, returning default score")
		return s.defaultBreakdown()
	}

	comps := Components{
		Technical:    s.component("technical_indicators", func() (float64, error) { return s.technical(in) }),
		LevelQuality: s.component("support_resistance", func() (float64, error) { return s.levelQuality(in) }),
		Market:       s.component("market_environment", func() (float64, error) { return s.marketEnvironment(in) }),
		RiskReward:   s.component("risk_reward", func() (float64, error) { return s.riskReward(in) }),
		Volume:       s.component("volume_confirmation", func() (float64, error) { return s.volume(in) }),
	}

	w := s.cfg.Weights
	overall := comps.Technical*w.Technical +
		comps.LevelQuality*w.LevelQuality +
		comps.Market*w.Market +
		comps.RiskReward*w.RiskReward +
		comps.Volume*w.Volume

	confirmations := s.countConfirmations(in)
	overall = s.adjust(overall, in, confirmations)
	overall = domain.Clamp01(overall)

	return &Breakdown{
		Overall:        overall,
		Tier:           TierFor(overall),
		Components:     comps,
		Weights:        w,
		QualityScore:   qualityScore(overall),
		Recommendation: recommendation(overall),
		RiskLabel:      riskLabel(overall),
		Confirmations:  confirmations,
	}
}

// component substitutes the neutral baseline when a computation fails,
// keeping one bad indicator from zeroing out the whole signal.
func (s *Scorer) component(name string, fn func() (float64, error)) float64 {
	v, err := fn()
	if err != nil {
		log.Warn().Err(&domain.ComponentDegradedError{Component: name, Cause: err}).
			Msg("confidence component degraded to neutral")
		return neutral
	}
	return domain.Clamp01(v)
}

func (s *Scorer) technical(in Input) (float64, error) {
	snap := in.Snapshot
	score := neutral

	score += s.rsiConfirmation(in.Side, snap.RSI.Value)
	score += macdConfirmation(in.Side, snap.MACD)
	score += maConfirmation(in.Side, snap.PricePosition)
	score += atrConfirmation(snap.ATR.Regime)

	return score, nil
}

func (s *Scorer) rsiConfirmation(side domain.Side, rsi float64) float64 {
	if side == domain.SideBuy {
		switch {
		case rsi <= s.cfg.RSIExtremeOversold:
			return 0.25
		case rsi <= s.cfg.RSIOversold:
			return 0.15
		case rsi <= 40:
			return 0.05
		}
		return 0
	}
	switch {
	case rsi >= s.cfg.RSIExtremeOverbought:
		return 0.25
	case rsi >= s.cfg.RSIOverbought:
		return 0.15
	case rsi >= 60:
		return 0.05
	}
	return 0
}

func macdConfirmation(side domain.Side, m indicators.MACDState) float64 {
	if side == domain.SideBuy {
		switch {
		case m.Cross == indicators.CrossGolden:
			return 0.2
		case m.Zone == indicators.ZoneBullish && m.HistogramTrend == indicators.TrendRising:
			return 0.1
		}
		return 0
	}
	switch {
	case m.Cross == indicators.CrossDeath:
		return 0.2
	case m.Zone == indicators.ZoneBearish && m.HistogramTrend == indicators.TrendFalling:
		return 0.1
	}
	return 0
}

func maConfirmation(side domain.Side, pos indicators.PricePosition) float64 {
	var ratio float64
	var ok bool
	if side == domain.SideBuy {
		ratio, ok = pos.AboveRatio()
	} else {
		ratio, ok = pos.BelowRatio()
	}
	if !ok {
		return 0
	}
	switch {
	case ratio >= 0.8:
		return 0.15
	case ratio >= 0.6:
		return 0.1
	case ratio >= 0.4:
		return 0.05
	}
	return 0
}

func atrConfirmation(regime indicators.Regime) float64 {
	switch regime {
	case indicators.RegimeNormal:
		return 0.05
	case indicators.RegimeLow:
		return 0.02
	}
	return 0
}

func (s *Scorer) levelQuality(in Input) (float64, error) {
	if in.Levels == nil {
		return 0, &domain.InvalidParameterError{Param: "levels", Reason: "missing level analysis"}
	}

	pool := in.Levels.Support
	if in.Side == domain.SideSell {
		pool = in.Levels.Resistance
	}
	if len(pool) == 0 {
		return neutral, nil
	}

	nearest := pool[0]
	for _, lvl := range pool[1:] {
		if math.Abs(lvl.Price-in.Price) < math.Abs(nearest.Price-in.Price) {
			nearest = lvl
		}
	}
	return neutral + s.levelScore(nearest, in.Price), nil
}

func (s *Scorer) levelScore(lvl levels.PriceLevel, price float64) float64 {
	var score float64

	switch {
	case lvl.TouchCount >= s.cfg.StrongTouches:
		score += 0.2
	case lvl.TouchCount >= s.cfg.MinTouches:
		score += 0.1
	}

	distPct := math.Abs(lvl.Price-price) / price * 100
	switch {
	case distPct <= s.cfg.ProximityExcellent:
		score += 0.15
	case distPct <= s.cfg.ProximityGood:
		score += 0.1
	case distPct <= s.cfg.ProximityFair:
		score += 0.05
	}

	switch lvl.Rating {
	case levels.RatingStrong:
		score += 0.15
	case levels.RatingMedium:
		score += 0.1
	default:
		score += 0.05
	}
	return score
}

func (s *Scorer) marketEnvironment(in Input) (float64, error) {
	if in.Market == nil {
		return 0, &domain.InvalidParameterError{Param: "market", Reason: "missing market data"}
	}
	score := neutral

	// Trend consistency across the reference averages.
	if ratio, ok := in.Snapshot.PricePosition.AboveRatio(); ok {
		score += math.Abs(ratio-0.5) * 2 * 0.1
	}

	regime := in.Market.Regime
	if regime == "" {
		regime = in.Snapshot.ATR.Regime
	}
	switch regime {
	case indicators.RegimeNormal:
		score += 0.05
	case indicators.RegimeLow, indicators.RegimeHigh:
		score += 0.02
	}

	switch {
	case in.Market.VolumeRatio >= 1.5:
		score += 0.05
	case in.Market.VolumeRatio >= 1.2:
		score += 0.03
	}
	return score, nil
}

func (s *Scorer) riskReward(in Input) (float64, error) {
	if in.Risk == nil {
		return neutral, nil
	}
	risk := math.Abs(in.Price - in.Risk.StopLoss)
	reward := math.Abs(in.Risk.TakeProfit - in.Price)
	if risk <= 0 {
		return neutral, nil
	}

	ratio := reward / risk
	switch {
	case ratio >= s.cfg.RRExcellent:
		return 1.0, nil
	case ratio >= s.cfg.RRGood:
		return 0.8, nil
	case ratio >= s.cfg.RRAcceptable:
		return 0.6, nil
	case ratio >= s.cfg.RRMinimum:
		return 0.4, nil
	}
	return 0.2, nil
}

func (s *Scorer) volume(in Input) (float64, error) {
	if in.Market == nil {
		return 0, &domain.InvalidParameterError{Param: "market", Reason: "missing market data"}
	}
	switch {
	case in.Market.VolumeRatio >= s.cfg.VolumeStrong:
		return 1.0, nil
	case in.Market.VolumeRatio >= s.cfg.VolumeSurge:
		return 0.7, nil
	case in.Market.VolumeRatio >= 1.2:
		return 0.4, nil
	}
	return 0.2, nil
}

// adjust applies the extreme-RSI and multi-confirmation bonuses.
func (s *Scorer) adjust(overall float64, in Input, confirmations int) float64 {
	rsi := in.Snapshot.RSI.Value
	if in.Side == domain.SideBuy && rsi <= s.cfg.RSIExtremeOversold {
		overall += 0.10
	}
	if in.Side == domain.SideSell && rsi >= s.cfg.RSIExtremeOverbought {
		overall += 0.10
	}
	if confirmations >= 3 {
		overall += 0.05
	}
	return overall
}

// countConfirmations tallies independent agreeing indicators: an extreme
// RSI, a MACD cross, and a strong moving-average majority.
func (s *Scorer) countConfirmations(in Input) int {
	count := 0
	snap := in.Snapshot

	if snap.RSI.Value <= s.cfg.RSIOversold || snap.RSI.Value >= s.cfg.RSIOverbought {
		count++
	}
	if snap.MACD.Cross != indicators.CrossNone {
		count++
	}
	if ratio, ok := snap.PricePosition.AboveRatio(); ok && (ratio >= 0.7 || ratio <= 0.3) {
		count++
	}
	return count
}

func (s *Scorer) defaultBreakdown() *Breakdown {
	return &Breakdown{
		Overall: neutral,
		Tier:    TierMedium,
		Components: Components{
			Technical:    neutral,
			LevelQuality: neutral,
			Market:       neutral,
			RiskReward:   neutral,
			Volume:       neutral,
		},
		Weights:        s.cfg.Weights,
		QualityScore:   5,
		Recommendation: recommendation(neutral),
		RiskLabel:      riskLabel(neutral),
		Degraded:       true,
	}
}

// TierFor buckets an overall confidence value.
func TierFor(confidence float64) Tier {
	switch {
	case confidence >= 0.85:
		return TierVeryHigh
	case confidence >= 0.75:
		return TierHigh
	case confidence >= 0.65:
		return TierMedium
	case confidence >= 0.50:
		return TierLow
	}
	return TierVeryLow
}

func qualityScore(confidence float64) int {
	q := int(confidence * 10)
	if q < 1 {
		q = 1
	}
	if q > 10 {
		q = 10
	}
	return q
}

func recommendation(confidence float64) string {
	switch {
	case confidence >= 0.85:
		return "strongly recommended"
	case confidence >= 0.75:
		return "recommended"
	case confidence >= 0.65:
		return "execute with caution"
	case confidence >= 0.50:
		return "wait and observe"
	}
	return "not recommended"
}

// riskLabel uses its own thresholds, deliberately offset from the tiers.
func riskLabel(confidence float64) string {
	switch {
	case confidence >= 0.80:
		return "low risk"
	case confidence >= 0.65:
		return "moderate risk"
	case confidence >= 0.50:
		return "elevated risk"
	}
	return "high risk"
}
