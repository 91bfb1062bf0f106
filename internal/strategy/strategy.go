// Package strategy turns indicator and level analysis into at most one
// trading signal per run. The support/resistance strategy emits a buy
// candidate near support and a sell candidate near resistance, enhances the
// base confidence with indicator confirmations, and discards candidates
// below the configured minimum.
package strategy

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/stockrun/stockrun/internal/confidence"
	"github.com/stockrun/stockrun/internal/domain"
	"github.com/stockrun/stockrun/internal/indicators"
	"github.com/stockrun/stockrun/internal/levels"
)

// Config holds the strategy parameters.
type Config struct {
	Window             int           `yaml:"window"`
	MinChangePct       float64       `yaml:"min_change_pct"`
	Tolerance          float64       `yaml:"tolerance"`
	ProximityThreshold float64       `yaml:"proximity_threshold"`
	MinConfidence      float64       `yaml:"min_confidence"`
	ATRMultiplier      float64       `yaml:"atr_multiplier"`
	MinStrength        levels.Rating `yaml:"min_strength_rating"`

	Indicators indicators.Config `yaml:"indicators"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Window:             5,
		MinChangePct:       1.0,
		Tolerance:          0.5,
		ProximityThreshold: 2.0,
		MinConfidence:      0.6,
		ATRMultiplier:      2.0,
		MinStrength:        levels.RatingWeak,
		Indicators:         indicators.DefaultConfig(),
	}
}

// Validate rejects unusable parameters.
func (c Config) Validate() error {
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return &domain.InvalidParameterError{Param: "min_confidence", Reason: "must be in [0,1]"}
	}
	if c.ATRMultiplier <= 0 {
		return &domain.InvalidParameterError{Param: "atr_multiplier", Reason: "must be positive"}
	}
	return c.Indicators.Validate()
}

// Confirmations records which indicator groups back the candidate.
type Confirmations struct {
	RSI           bool    `json:"rsi"`
	MACD          bool    `json:"macd"`
	MovingAverage bool    `json:"moving_average"`
	Count         int     `json:"count"`
	Strength      float64 `json:"strength"`
}

// Result is one orchestrator run: the derived analyses plus zero or one
// signal and, when a signal was produced, its confidence breakdown.
type Result struct {
	Snapshot  *indicators.Snapshot  `json:"snapshot"`
	Levels    *levels.Analysis      `json:"levels"`
	Signal    *domain.TradingSignal `json:"signal,omitempty"`
	Breakdown *confidence.Breakdown `json:"breakdown,omitempty"`
}

// SupportResistance is the support/resistance signal strategy.
type SupportResistance struct {
	cfg    Config
	scorer *confidence.Scorer
}

// NewSupportResistance builds the strategy.
func NewSupportResistance(cfg Config, scorer *confidence.Scorer) (*SupportResistance, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if scorer == nil {
		return nil, &domain.InvalidParameterError{Param: "scorer", Reason: "must not be nil"}
	}
	return &SupportResistance{cfg: cfg, scorer: scorer}, nil
}

// Name identifies the strategy in logs and reports.
func (s *SupportResistance) Name() string { return "support_resistance" }

// Analyze runs the full pipeline over one bar series. Market data is
// optional; without it the confidence scorer degrades those components to
// neutral.
func (s *SupportResistance) Analyze(bars domain.Bars, market *confidence.MarketData) (*Result, error) {
	snap, err := indicators.Compute(bars, s.cfg.Indicators)
	if err != nil {
		return nil, fmt.Errorf("compute indicators: %w", err)
	}

	la, err := levels.Analyze(bars, levels.Config{
		Window:             s.cfg.Window,
		MinChangePct:       s.cfg.MinChangePct,
		Tolerance:          s.cfg.Tolerance,
		ProximityThreshold: s.cfg.ProximityThreshold,
	})
	if err != nil {
		return nil, fmt.Errorf("analyze levels: %w", err)
	}

	res := &Result{Snapshot: snap, Levels: la}

	price := bars.Last().Close
	ts := bars.Last().Timestamp

	// One candidate per run; the position label already picked the nearer
	// side when both levels are in range.
	switch la.Position.Label {
	case levels.NearSupport:
		lvl := la.Position.NearestSupport
		if lvl != nil && lvl.Rating.AtLeast(s.cfg.MinStrength) {
			res.Signal = s.buildBuySignal(price, ts, snap, lvl, la.Position.SupportDistance)
		}
	case levels.NearResistance:
		lvl := la.Position.NearestResistance
		if lvl != nil && lvl.Rating.AtLeast(s.cfg.MinStrength) {
			res.Signal = s.buildSellSignal(price, ts, snap, lvl, la.Position.ResistanceDistance)
		}
	}

	if res.Signal != nil {
		res.Breakdown = s.scorer.Score(confidence.Input{
			Side:     res.Signal.Side,
			Price:    price,
			Snapshot: snap,
			Levels:   la,
			Market:   market,
			Risk:     &confidence.RiskLevels{StopLoss: *res.Signal.StopLoss, TakeProfit: *res.Signal.TakeProfit},
		})
		log.Info().
			Str("side", string(res.Signal.Side)).
			Float64("confidence", res.Signal.Confidence).
			Float64("price", price).
			Msg("signal generated")
	}
	return res, nil
}

func (s *SupportResistance) buildBuySignal(price float64, ts time.Time, snap *indicators.Snapshot, lvl *levels.PriceLevel, dist *levels.Distance) *domain.TradingSignal {
	base := baseConfidence(lvl, dist)
	conf := s.buyConfirmations(snap)
	trendStrength := buyTrendStrength(snap)

	enhanced := enhance(base, conf, trendStrength)
	if enhanced < s.cfg.MinConfidence {
		log.Debug().Float64("confidence", enhanced).Msg("buy candidate below minimum confidence")
		return nil
	}

	// Stop at the less risky of the support floor and the ATR distance.
	stop := math.Max(lvl.Price*0.98, price-snap.ATR.Value*s.cfg.ATRMultiplier)
	risk := price - stop
	target := price + risk*rewardMultiple(conf.Strength)

	sig, err := domain.NewSignal(domain.SideBuy, domain.ActionEnter, enhanced, price, ts, buyReason(lvl, conf, trendStrength))
	if err != nil {
		log.Error().Err(err).Msg("buy signal construction failed")
		return nil
	}
	if _, err := sig.WithRiskLevels(stop, target); err != nil {
		log.Error().Err(err).Msg("buy signal risk levels rejected")
		return nil
	}
	sig.PositionSize = positionSize(enhanced, conf.Count)
	sig.Metadata = signalMetadata(lvl, dist, snap.ATR.Value, conf)
	return sig
}

func (s *SupportResistance) buildSellSignal(price float64, ts time.Time, snap *indicators.Snapshot, lvl *levels.PriceLevel, dist *levels.Distance) *domain.TradingSignal {
	base := baseConfidence(lvl, dist)
	conf := s.sellConfirmations(snap)
	trendStrength := sellTrendStrength(snap)

	enhanced := enhance(base, conf, trendStrength)
	if enhanced < s.cfg.MinConfidence {
		log.Debug().Float64("confidence", enhanced).Msg("sell candidate below minimum confidence")
		return nil
	}

	stop := math.Min(lvl.Price*1.02, price+snap.ATR.Value*s.cfg.ATRMultiplier)
	risk := stop - price
	target := price - risk*rewardMultiple(conf.Strength)
	if target <= 0 {
		log.Debug().Float64("target", target).Msg("sell candidate target not positive, discarding")
		return nil
	}

	sig, err := domain.NewSignal(domain.SideSell, domain.ActionEnter, enhanced, price, ts, sellReason(lvl, conf, trendStrength))
	if err != nil {
		log.Error().Err(err).Msg("sell signal construction failed")
		return nil
	}
	if _, err := sig.WithRiskLevels(stop, target); err != nil {
		log.Error().Err(err).Msg("sell signal risk levels rejected")
		return nil
	}
	sig.PositionSize = positionSize(enhanced, conf.Count)
	sig.Metadata = signalMetadata(lvl, dist, snap.ATR.Value, conf)
	return sig
}

// baseConfidence scores the level itself: strength rating, touch count and
// distance to price.
func baseConfidence(lvl *levels.PriceLevel, dist *levels.Distance) float64 {
	c := 0.5

	switch lvl.Rating {
	case levels.RatingStrong:
		c += 0.2
	case levels.RatingMedium:
		c += 0.1
	}

	c += math.Min(0.15, float64(lvl.TouchCount)*0.05)

	if dist != nil {
		switch {
		case dist.Percent <= 1.0:
			c += 0.15
		case dist.Percent <= 2.0:
			c += 0.1
		case dist.Percent <= 3.0:
			c += 0.05
		}
	}
	return domain.Clamp01(c)
}

func (s *SupportResistance) buyConfirmations(snap *indicators.Snapshot) Confirmations {
	var c Confirmations

	if snap.RSI.Value <= 35 {
		c.RSI = true
		c.Count++
		c.Strength += 0.2
		if snap.RSI.Value <= 25 {
			c.Strength += 0.1
		}
	}

	switch {
	case snap.MACD.Cross == indicators.CrossGolden:
		c.MACD = true
		c.Count++
		c.Strength += 0.25
	case snap.MACD.Zone == indicators.ZoneBullish && snap.MACD.HistogramTrend == indicators.TrendRising:
		c.MACD = true
		c.Count++
		c.Strength += 0.15
	}

	if ratio, ok := snap.PricePosition.AboveRatio(); ok && ratio >= 0.5 {
		c.MovingAverage = true
		c.Count++
		c.Strength += 0.1 + (ratio-0.5)*0.2
	}
	return c
}

func (s *SupportResistance) sellConfirmations(snap *indicators.Snapshot) Confirmations {
	var c Confirmations

	if snap.RSI.Value >= 65 {
		c.RSI = true
		c.Count++
		c.Strength += 0.2
		if snap.RSI.Value >= 75 {
			c.Strength += 0.1
		}
	}

	switch {
	case snap.MACD.Cross == indicators.CrossDeath:
		c.MACD = true
		c.Count++
		c.Strength += 0.25
	case snap.MACD.Zone == indicators.ZoneBearish && snap.MACD.HistogramTrend == indicators.TrendFalling:
		c.MACD = true
		c.Count++
		c.Strength += 0.15
	}

	if ratio, ok := snap.PricePosition.BelowRatio(); ok && ratio >= 0.5 {
		c.MovingAverage = true
		c.Count++
		c.Strength += 0.1 + (ratio-0.5)*0.2
	}
	return c
}

// buyTrendStrength adds the trend and volatility context for a long entry:
// a moving-average majority above price and falling volatility.
func buyTrendStrength(snap *indicators.Snapshot) float64 {
	var strength float64
	if ratio, ok := snap.PricePosition.AboveRatio(); ok {
		switch {
		case ratio >= 0.6:
			strength = 0.15
		case ratio >= 0.4:
			strength = 0.05
		}
	}
	if snap.ATR.Trend == indicators.TrendFalling {
		strength += 0.05
	}
	return strength
}

func sellTrendStrength(snap *indicators.Snapshot) float64 {
	var strength float64
	if ratio, ok := snap.PricePosition.BelowRatio(); ok {
		switch {
		case ratio >= 0.6:
			strength = 0.15
		case ratio >= 0.4:
			strength = 0.05
		}
	}
	if snap.ATR.Trend == indicators.TrendRising {
		strength += 0.05
	}
	return strength
}

// volumeConfirmBase is the flat volume contribution; per-bar volume
// profiling is not part of this strategy.
const volumeConfirmBase = 0.05

func enhance(base float64, conf Confirmations, trendStrength float64) float64 {
	enhanced := base + conf.Strength + volumeConfirmBase + trendStrength
	if conf.Count >= 2 {
		enhanced += 0.1
	}
	if conf.Count >= 3 {
		enhanced += 0.05
	}
	return domain.Clamp01(enhanced)
}

func rewardMultiple(confirmationStrength float64) float64 {
	switch {
	case confirmationStrength >= 0.3:
		return 3.0
	case confirmationStrength >= 0.15:
		return 2.5
	}
	return 2.0
}

func positionSize(conf float64, confirmationCount int) float64 {
	mult := 1.0
	switch {
	case confirmationCount >= 3:
		mult = 1.2
	case confirmationCount >= 2:
		mult = 1.1
	}
	size := conf * 0.5 * mult
	return math.Max(0.05, math.Min(0.6, size))
}

func buyReason(lvl *levels.PriceLevel, conf Confirmations, trendStrength float64) string {
	parts := []string{fmt.Sprintf("near %s support %.2f", lvl.Rating, lvl.Price)}

	var confirms []string
	if conf.RSI {
		confirms = append(confirms, "RSI oversold")
	}
	if conf.MACD {
		confirms = append(confirms, "MACD bullish")
	}
	if conf.MovingAverage {
		confirms = append(confirms, "MA support")
	}
	if len(confirms) > 0 {
		parts = append(parts, "confirmed by "+strings.Join(confirms, ", "))
	}
	if trendStrength >= 0.15 {
		parts = append(parts, "uptrend")
	}
	return strings.Join(parts, "; ")
}

func sellReason(lvl *levels.PriceLevel, conf Confirmations, trendStrength float64) string {
	parts := []string{fmt.Sprintf("near %s resistance %.2f", lvl.Rating, lvl.Price)}

	var confirms []string
	if conf.RSI {
		confirms = append(confirms, "RSI overbought")
	}
	if conf.MACD {
		confirms = append(confirms, "MACD bearish")
	}
	if conf.MovingAverage {
		confirms = append(confirms, "MA resistance")
	}
	if len(confirms) > 0 {
		parts = append(parts, "confirmed by "+strings.Join(confirms, ", "))
	}
	if trendStrength >= 0.15 {
		parts = append(parts, "downtrend")
	}
	return strings.Join(parts, "; ")
}

func signalMetadata(lvl *levels.PriceLevel, dist *levels.Distance, atr float64, conf Confirmations) map[string]string {
	md := map[string]string{
		"level_price":        fmt.Sprintf("%.4f", lvl.Price),
		"level_rating":       string(lvl.Rating),
		"level_touches":      fmt.Sprintf("%d", lvl.TouchCount),
		"atr":                fmt.Sprintf("%.4f", atr),
		"confirmation_count": fmt.Sprintf("%d", conf.Count),
		"confirmation_rsi":   fmt.Sprintf("%t", conf.RSI),
		"confirmation_macd":  fmt.Sprintf("%t", conf.MACD),
		"confirmation_ma":    fmt.Sprintf("%t", conf.MovingAverage),
	}
	if dist != nil {
		md["distance_pct"] = fmt.Sprintf("%.4f", dist.Percent)
	}
	return md
}
