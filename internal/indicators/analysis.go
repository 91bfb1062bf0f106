package indicators

import (
	"math"

	"github.com/rs/zerolog/log"

	"github.com/stockrun/stockrun/internal/domain"
)

// Cross labels a crossover between the MACD line and its signal line,
// detected between the last two samples.
type Cross string

const (
	CrossGolden Cross = "golden_cross"
	CrossDeath  Cross = "death_cross"
	CrossNone   Cross = "none"
)

// ZeroCross labels a MACD line crossing of the zero axis.
type ZeroCross string

const (
	ZeroCrossAbove ZeroCross = "crossed_above"
	ZeroCrossBelow ZeroCross = "crossed_below"
	ZeroCrossNone  ZeroCross = "none"
)

// Zone labels where the MACD line and signal line currently sit.
type Zone string

const (
	ZoneBullish    Zone = "bullish"
	ZoneBearish    Zone = "bearish"
	ZoneTransition Zone = "transition"
)

// Trend is a short-window direction.
type Trend string

const (
	TrendRising  Trend = "rising"
	TrendFalling Trend = "falling"
	TrendUnknown Trend = "unknown"
)

// Regime classifies the current volatility environment.
type Regime string

const (
	RegimeHigh   Regime = "high"
	RegimeLow    Regime = "low"
	RegimeNormal Regime = "normal"
)

// PriceSide is the current price's relation to a moving average.
type PriceSide string

const (
	PriceAbove   PriceSide = "above"
	PriceBelow   PriceSide = "below"
	PriceUnknown PriceSide = "unknown"
)

// RSIState is the classified latest RSI value.
type RSIState struct {
	Value           float64 `json:"value"`
	Oversold        bool    `json:"oversold"`
	Overbought      bool    `json:"overbought"`
	OversoldLevel   float64 `json:"oversold_level"`
	OverboughtLevel float64 `json:"overbought_level"`
}

// MACDState is the classified latest MACD triple.
type MACDState struct {
	MACD           float64   `json:"macd"`
	Signal         float64   `json:"signal"`
	Histogram      float64   `json:"histogram"`
	Cross          Cross     `json:"cross"`
	ZeroCross      ZeroCross `json:"zero_cross"`
	Zone           Zone      `json:"zone"`
	HistogramTrend Trend     `json:"histogram_trend"`
}

// StopDistance is a suggested ATR-multiple stop placement.
type StopDistance struct {
	Multiplier float64 `json:"multiplier"`
	LongStop   float64 `json:"long_stop"`
	ShortStop  float64 `json:"short_stop"`
	Distance   float64 `json:"distance"`
}

// ATRState is the classified latest ATR value.
type ATRState struct {
	Value         float64        `json:"value"`
	Percent       float64        `json:"percent"`
	Regime        Regime         `json:"regime"`
	Trend         Trend          `json:"trend"`
	TrendChange   float64        `json:"trend_change_pct"`
	StopDistances []StopDistance `json:"stop_distances"`
}

// MovingAverages carries the latest standard moving-average values.
type MovingAverages struct {
	SMA20 float64 `json:"sma_20"`
	SMA50 float64 `json:"sma_50"`
	EMA12 float64 `json:"ema_12"`
	EMA26 float64 `json:"ema_26"`
}

// PricePosition is the current price's side of each reference average.
type PricePosition struct {
	VsSMA20 PriceSide `json:"vs_sma_20"`
	VsSMA50 PriceSide `json:"vs_sma_50"`
	VsEMA12 PriceSide `json:"vs_ema_12"`
}

// AboveRatio returns the share of defined positions that are above, and
// false when no position is defined.
func (p PricePosition) AboveRatio() (float64, bool) {
	above, total := 0, 0
	for _, side := range []PriceSide{p.VsSMA20, p.VsSMA50, p.VsEMA12} {
		switch side {
		case PriceAbove:
			above++
			total++
		case PriceBelow:
			total++
		}
	}
	if total == 0 {
		return 0, false
	}
	return float64(above) / float64(total), true
}

// BelowRatio mirrors AboveRatio for the bearish side.
func (p PricePosition) BelowRatio() (float64, bool) {
	r, ok := p.AboveRatio()
	if !ok {
		return 0, false
	}
	return 1 - r, true
}

// Snapshot is the full derived indicator state for one run. Recomputed from
// scratch on every call, never mutated in place.
type Snapshot struct {
	Price          float64        `json:"price"`
	RSI            RSIState       `json:"rsi"`
	MACD           MACDState      `json:"macd"`
	ATR            ATRState       `json:"atr"`
	MovingAverages MovingAverages `json:"moving_averages"`
	PricePosition  PricePosition  `json:"price_position"`
}

// Config carries the indicator periods and classification levels.
type Config struct {
	RSIPeriod       int     `yaml:"rsi_period"`
	RSIOversold     float64 `yaml:"rsi_oversold"`
	RSIOverbought   float64 `yaml:"rsi_overbought"`
	MACDFastPeriod  int     `yaml:"macd_fast_period"`
	MACDSlowPeriod  int     `yaml:"macd_slow_period"`
	MACDSignalSpan  int     `yaml:"macd_signal_period"`
	ATRPeriod       int     `yaml:"atr_period"`
	RegimeLookback  int     `yaml:"regime_lookback"`
	TrendLookback   int     `yaml:"trend_lookback"`
	StopMultipliers []float64 `yaml:"stop_multipliers"`
}

// DefaultConfig returns the standard periods: RSI(14), MACD(12,26,9),
// ATR(14), regime over the last 20 samples.
func DefaultConfig() Config {
	return Config{
		RSIPeriod:       14,
		RSIOversold:     30,
		RSIOverbought:   70,
		MACDFastPeriod:  12,
		MACDSlowPeriod:  26,
		MACDSignalSpan:  9,
		ATRPeriod:       14,
		RegimeLookback:  20,
		TrendLookback:   5,
		StopMultipliers: []float64{1.5, 2.0, 2.5},
	}
}

// Validate rejects unusable periods.
func (c Config) Validate() error {
	if c.RSIPeriod <= 0 || c.MACDFastPeriod <= 0 || c.MACDSlowPeriod <= 0 || c.MACDSignalSpan <= 0 || c.ATRPeriod <= 0 {
		return &domain.InvalidParameterError{Param: "period", Reason: "all periods must be positive"}
	}
	if c.MACDFastPeriod >= c.MACDSlowPeriod {
		return &domain.InvalidParameterError{Param: "macd_fast_period", Reason: "must be smaller than slow period"}
	}
	return nil
}

// Compute derives the full indicator snapshot for a bar series.
func Compute(bars domain.Bars, cfg Config) (*Snapshot, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := bars.Validate(); err != nil {
		return nil, err
	}

	closes := bars.Closes()
	price := closes[len(closes)-1]

	rsi, err := RSI(closes, cfg.RSIPeriod)
	if err != nil {
		return nil, err
	}
	macd, err := MACD(closes, cfg.MACDFastPeriod, cfg.MACDSlowPeriod, cfg.MACDSignalSpan)
	if err != nil {
		return nil, err
	}
	atr, err := ATR(bars.Highs(), bars.Lows(), closes, cfg.ATRPeriod)
	if err != nil {
		return nil, err
	}

	sma20 := SMA(closes, 20)
	sma50 := SMA(closes, 50)
	ema12 := EMA(closes, 12)
	ema26 := EMA(closes, 26)

	snap := &Snapshot{
		Price: price,
		RSI:   classifyRSI(rsi, cfg),
		MACD:  ClassifyMACD(macd),
		ATR:   classifyATR(atr, price, cfg),
		MovingAverages: MovingAverages{
			SMA20: sma20[len(sma20)-1],
			SMA50: sma50[len(sma50)-1],
			EMA12: ema12[len(ema12)-1],
			EMA26: ema26[len(ema26)-1],
		},
		PricePosition: PricePosition{
			VsSMA20: classifyPriceSide(price, sma20[len(sma20)-1]),
			VsSMA50: classifyPriceSide(price, sma50[len(sma50)-1]),
			VsEMA12: classifyPriceSide(price, ema12[len(ema12)-1]),
		},
	}

	log.Debug().
		Float64("price", price).
		Float64("rsi", snap.RSI.Value).
		Str("macd_cross", string(snap.MACD.Cross)).
		Str("atr_regime", string(snap.ATR.Regime)).
		Msg("indicator snapshot computed")

	return snap, nil
}

func classifyRSI(rsi []float64, cfg Config) RSIState {
	v, _ := lastValid(rsi)
	return RSIState{
		Value:           v,
		Oversold:        v <= cfg.RSIOversold,
		Overbought:      v >= cfg.RSIOverbought,
		OversoldLevel:   cfg.RSIOversold,
		OverboughtLevel: cfg.RSIOverbought,
	}
}

// ClassifyMACD derives cross, zero-axis and zone labels from the last two
// samples of the MACD series.
func ClassifyMACD(m *MACDResult) MACDState {
	n := len(m.Line)
	cur, curSig, curHist := m.Line[n-1], m.Signal[n-1], m.Histogram[n-1]

	state := MACDState{
		MACD:           cur,
		Signal:         curSig,
		Histogram:      curHist,
		Cross:          CrossNone,
		ZeroCross:      ZeroCrossNone,
		HistogramTrend: TrendUnknown,
	}

	if n >= 2 {
		prev, prevSig := m.Line[n-2], m.Signal[n-2]
		switch {
		case prev <= prevSig && cur > curSig:
			state.Cross = CrossGolden
		case prev >= prevSig && cur < curSig:
			state.Cross = CrossDeath
		}
		switch {
		case prev <= 0 && cur > 0:
			state.ZeroCross = ZeroCrossAbove
		case prev >= 0 && cur < 0:
			state.ZeroCross = ZeroCrossBelow
		}
	}

	switch {
	case cur > 0 && curSig > 0:
		state.Zone = ZoneBullish
	case cur < 0 && curSig < 0:
		state.Zone = ZoneBearish
	default:
		state.Zone = ZoneTransition
	}

	if n >= 5 {
		if m.Histogram[n-1] > m.Histogram[n-5] {
			state.HistogramTrend = TrendRising
		} else {
			state.HistogramTrend = TrendFalling
		}
	}
	return state
}

func classifyATR(atr []float64, price float64, cfg Config) ATRState {
	valid := validValues(atr)
	cur := valid[len(valid)-1]

	state := ATRState{
		Value:  cur,
		Regime: RegimeNormal,
		Trend:  TrendUnknown,
	}
	if price > 0 {
		state.Percent = cur / price * 100
	}

	// Regime needs a full lookback window; with less data only the trend
	// direction is reported.
	if len(valid) >= cfg.RegimeLookback {
		window := valid[len(valid)-cfg.RegimeLookback:]
		m, sd := mean(window), stddev(window)
		switch {
		case cur > m+sd:
			state.Regime = RegimeHigh
		case cur < m-sd:
			state.Regime = RegimeLow
		}
	}

	if len(valid) >= 2 {
		n := cfg.TrendLookback
		if n > len(valid) {
			n = len(valid)
		}
		recent := valid[len(valid)-n:]
		first, last := recent[0], recent[len(recent)-1]
		if last > first {
			state.Trend = TrendRising
		} else {
			state.Trend = TrendFalling
		}
		if first != 0 {
			state.TrendChange = (last - first) / first * 100
		}
	}

	for _, mult := range cfg.StopMultipliers {
		d := cur * mult
		state.StopDistances = append(state.StopDistances, StopDistance{
			Multiplier: mult,
			LongStop:   price - d,
			ShortStop:  price + d,
			Distance:   d,
		})
	}
	return state
}

func classifyPriceSide(price, avg float64) PriceSide {
	if math.IsNaN(avg) {
		return PriceUnknown
	}
	if price > avg {
		return PriceAbove
	}
	return PriceBelow
}
