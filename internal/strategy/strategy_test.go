package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockrun/stockrun/internal/confidence"
	"github.com/stockrun/stockrun/internal/domain"
	"github.com/stockrun/stockrun/internal/indicators"
	"github.com/stockrun/stockrun/internal/levels"
)

func newStrategy(t *testing.T, cfg Config) *SupportResistance {
	t.Helper()
	scorer, err := confidence.NewScorer(confidence.DefaultConfig())
	require.NoError(t, err)
	s, err := NewSupportResistance(cfg, scorer)
	require.NoError(t, err)
	return s
}

func snapshotWith(rsi float64, cross indicators.Cross, side indicators.PriceSide) *indicators.Snapshot {
	return &indicators.Snapshot{
		Price: 99,
		RSI:   indicators.RSIState{Value: rsi, OversoldLevel: 30, OverboughtLevel: 70},
		MACD: indicators.MACDState{
			Cross:          cross,
			ZeroCross:      indicators.ZeroCrossNone,
			Zone:           indicators.ZoneTransition,
			HistogramTrend: indicators.TrendUnknown,
		},
		ATR: indicators.ATRState{Value: 1.5, Regime: indicators.RegimeNormal, Trend: indicators.TrendUnknown},
		PricePosition: indicators.PricePosition{
			VsSMA20: side,
			VsSMA50: side,
			VsEMA12: side,
		},
	}
}

func strongSupport(price float64) *levels.PriceLevel {
	return &levels.PriceLevel{
		Price:       price,
		TouchCount:  4,
		AvgStrength: 3.5,
		Rating:      levels.RatingStrong,
		Kind:        levels.KindSupport,
	}
}

func TestNewSupportResistance_Validation(t *testing.T) {
	scorer, err := confidence.NewScorer(confidence.DefaultConfig())
	require.NoError(t, err)

	_, err = NewSupportResistance(DefaultConfig(), nil)
	assert.Error(t, err, "scorer is required")

	bad := DefaultConfig()
	bad.ATRMultiplier = 0
	_, err = NewSupportResistance(bad, scorer)
	var invalid *domain.InvalidParameterError
	require.ErrorAs(t, err, &invalid)
}

func TestBaseConfidence(t *testing.T) {
	tests := []struct {
		name string
		lvl  levels.PriceLevel
		dist *levels.Distance
		want float64
	}{
		{
			"strong four touches close by",
			levels.PriceLevel{Rating: levels.RatingStrong, TouchCount: 4},
			&levels.Distance{Percent: 0.5},
			1.0,
		},
		{
			"medium two touches mid distance",
			levels.PriceLevel{Rating: levels.RatingMedium, TouchCount: 2},
			&levels.Distance{Percent: 1.5},
			0.8,
		},
		{
			"weak single touch far away",
			levels.PriceLevel{Rating: levels.RatingWeak, TouchCount: 1},
			&levels.Distance{Percent: 5.0},
			0.55,
		},
		{
			"touch bonus is capped",
			levels.PriceLevel{Rating: levels.RatingWeak, TouchCount: 10},
			nil,
			0.65,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, baseConfidence(&tt.lvl, tt.dist), 1e-9)
		})
	}
}

func TestBuyConfirmations_FullStack(t *testing.T) {
	s := newStrategy(t, DefaultConfig())

	snap := snapshotWith(25, indicators.CrossGolden, indicators.PriceAbove)
	c := s.buyConfirmations(snap)

	assert.True(t, c.RSI)
	assert.True(t, c.MACD)
	assert.True(t, c.MovingAverage)
	assert.Equal(t, 3, c.Count)
	// 0.2+0.1 deep oversold, 0.25 golden cross, 0.1+0.1 full MA ratio.
	assert.InDelta(t, 0.75, c.Strength, 1e-9)
}

func TestBuyConfirmations_BullishZoneFallback(t *testing.T) {
	s := newStrategy(t, DefaultConfig())

	snap := snapshotWith(50, indicators.CrossNone, indicators.PriceUnknown)
	snap.MACD.Zone = indicators.ZoneBullish
	snap.MACD.HistogramTrend = indicators.TrendRising

	c := s.buyConfirmations(snap)
	assert.True(t, c.MACD)
	assert.Equal(t, 1, c.Count)
	assert.InDelta(t, 0.15, c.Strength, 1e-9)
}

func TestSellConfirmations_FullStack(t *testing.T) {
	s := newStrategy(t, DefaultConfig())

	snap := snapshotWith(78, indicators.CrossDeath, indicators.PriceBelow)
	c := s.sellConfirmations(snap)

	assert.True(t, c.RSI)
	assert.True(t, c.MACD)
	assert.True(t, c.MovingAverage)
	assert.Equal(t, 3, c.Count)
	assert.InDelta(t, 0.75, c.Strength, 1e-9)
}

func TestTrendStrength(t *testing.T) {
	snap := snapshotWith(50, indicators.CrossNone, indicators.PriceAbove)
	snap.ATR.Trend = indicators.TrendFalling
	assert.InDelta(t, 0.20, buyTrendStrength(snap), 1e-9, "strong uptrend plus calming volatility")
	assert.InDelta(t, 0.0, sellTrendStrength(snap), 1e-9)

	snap = snapshotWith(50, indicators.CrossNone, indicators.PriceBelow)
	snap.ATR.Trend = indicators.TrendRising
	assert.InDelta(t, 0.20, sellTrendStrength(snap), 1e-9)
}

func TestRewardMultiple(t *testing.T) {
	assert.Equal(t, 3.0, rewardMultiple(0.35))
	assert.Equal(t, 2.5, rewardMultiple(0.2))
	assert.Equal(t, 2.0, rewardMultiple(0.1))
}

func TestPositionSize(t *testing.T) {
	assert.InDelta(t, 0.6, positionSize(1.0, 3), 1e-9, "upper clamp")
	assert.InDelta(t, 0.05, positionSize(0.08, 0), 1e-9, "lower clamp")
	assert.InDelta(t, 0.44, positionSize(0.8, 2), 1e-9)
}

func TestBuildBuySignal_StrongSupportWithConfirmations(t *testing.T) {
	s := newStrategy(t, DefaultConfig())

	snap := snapshotWith(25, indicators.CrossGolden, indicators.PriceAbove)
	lvl := strongSupport(98.5)
	dist := &levels.Distance{Price: 0.5, Percent: 0.505}
	ts := time.Date(2025, 6, 2, 15, 0, 0, 0, time.UTC)

	sig := s.buildBuySignal(99.0, ts, snap, lvl, dist)
	require.NotNil(t, sig)

	assert.Equal(t, domain.SideBuy, sig.Side)
	assert.Equal(t, domain.ActionEnter, sig.Action)
	assert.GreaterOrEqual(t, sig.Confidence, 0.75)

	require.NotNil(t, sig.StopLoss)
	require.NotNil(t, sig.TakeProfit)
	// Support floor 98.5*0.98 beats the ATR stop 99-1.5*2.
	assert.InDelta(t, 96.53, *sig.StopLoss, 1e-9)
	assert.Less(t, *sig.StopLoss, 99.0)
	assert.Greater(t, *sig.TakeProfit, 99.0)
	// Full confirmation strength earns the 3:1 reward multiple.
	assert.InDelta(t, 99.0+(99.0-96.53)*3.0, *sig.TakeProfit, 1e-9)

	rr, ok := sig.RiskReward()
	require.True(t, ok)
	assert.InDelta(t, 3.0, rr, 1e-9)

	assert.InDelta(t, 0.6, sig.PositionSize, 1e-9)
	assert.Equal(t, "3", sig.Metadata["confirmation_count"])
	assert.Equal(t, "strong", sig.Metadata["level_rating"])
	assert.Contains(t, sig.Reason, "strong support 98.50")
	assert.Contains(t, sig.Reason, "RSI oversold")
}

func TestBuildBuySignal_BelowMinimumDiscarded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinConfidence = 0.7
	s := newStrategy(t, cfg)

	snap := snapshotWith(50, indicators.CrossNone, indicators.PriceUnknown)
	lvl := &levels.PriceLevel{Price: 95, TouchCount: 1, Rating: levels.RatingWeak, Kind: levels.KindSupport}

	sig := s.buildBuySignal(99.0, time.Now(), snap, lvl, nil)
	assert.Nil(t, sig, "0.55 base plus flat volume confirm stays under 0.7")
}

func TestBuildSellSignal_StrongResistance(t *testing.T) {
	s := newStrategy(t, DefaultConfig())

	snap := snapshotWith(78, indicators.CrossDeath, indicators.PriceBelow)
	lvl := &levels.PriceLevel{
		Price:       101.5,
		TouchCount:  4,
		AvgStrength: 3.2,
		Rating:      levels.RatingStrong,
		Kind:        levels.KindResistance,
	}
	dist := &levels.Distance{Price: 0.5, Percent: 0.495}

	sig := s.buildSellSignal(101.0, time.Now().UTC(), snap, lvl, dist)
	require.NotNil(t, sig)

	assert.Equal(t, domain.SideSell, sig.Side)
	require.NotNil(t, sig.StopLoss)
	require.NotNil(t, sig.TakeProfit)
	// Resistance ceiling 101.5*1.02 beats the ATR stop 101+1.5*2.
	assert.InDelta(t, 103.53, *sig.StopLoss, 1e-9)
	assert.Greater(t, *sig.StopLoss, 101.0)
	assert.Less(t, *sig.TakeProfit, 101.0)
	assert.Contains(t, sig.Reason, "RSI overbought")
}

func oscillatingBars(n int) domain.Bars {
	cycle := []float64{100, 102, 104, 106, 104, 102, 100, 98, 96, 94, 96, 98}
	bars := make(domain.Bars, n)
	base := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		c := cycle[i%len(cycle)]
		bars[i] = domain.PriceBar{
			Open:      c,
			High:      c * 1.005,
			Low:       c * 0.995,
			Close:     c,
			Volume:    1000,
			Timestamp: base.Add(time.Duration(i) * time.Hour),
		}
	}
	return bars
}

func TestAnalyze_EndToEnd(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Window = 3
	s := newStrategy(t, cfg)

	// Range-bound series: price finishes mid-range, away from both levels.
	res, err := s.Analyze(oscillatingBars(37), nil)
	require.NoError(t, err)

	require.NotNil(t, res.Snapshot)
	require.NotNil(t, res.Levels)
	assert.NotEmpty(t, res.Levels.Resistance)
	assert.NotEmpty(t, res.Levels.Support)
	assert.NotEqual(t, levels.NearSupport, res.Levels.Position.Label)
	assert.NotEqual(t, levels.NearResistance, res.Levels.Position.Label)
	assert.Nil(t, res.Signal, "no signal without a level in proximity range")
	assert.Nil(t, res.Breakdown)
}

func TestAnalyze_InsufficientData(t *testing.T) {
	s := newStrategy(t, DefaultConfig())

	_, err := s.Analyze(oscillatingBars(10), nil)
	var insufficient *domain.InsufficientDataError
	require.ErrorAs(t, err, &insufficient)
}
