// Package indicators computes technical indicators from raw price series:
// RSI, MACD, ATR and moving averages, plus qualitative state classification
// for each. Series outputs are aligned with the input; warmup positions hold
// NaN until enough data has accumulated.
package indicators

import (
	"math"

	"github.com/stockrun/stockrun/internal/domain"
)

// RSI computes the Relative Strength Index over the close series.
//
// The first `period` price changes seed the average gain/loss via a simple
// mean; later samples propagate with Wilder's recurrence
// avg = (avg_prev*(period-1) + x) / period.
//
// Zero-loss policy: when the average loss is exactly 0, RSI is 100 if there
// were gains and 50 for a flat series. Requires len(prices) >= period+1.
func RSI(prices []float64, period int) ([]float64, error) {
	if period <= 0 {
		return nil, &domain.InvalidParameterError{Param: "period", Reason: "must be positive"}
	}
	if len(prices) < period+1 {
		return nil, &domain.InsufficientDataError{Op: "rsi", Need: period + 1, Got: len(prices)}
	}

	out := nanSeries(len(prices))

	var gainSum, lossSum float64
	for i := 1; i <= period; i++ {
		d := prices[i] - prices[i-1]
		if d > 0 {
			gainSum += d
		} else {
			lossSum -= d
		}
	}
	avgGain := gainSum / float64(period)
	avgLoss := lossSum / float64(period)
	out[period] = rsiValue(avgGain, avgLoss)

	p := float64(period)
	for i := period + 1; i < len(prices); i++ {
		d := prices[i] - prices[i-1]
		gain, loss := 0.0, 0.0
		if d > 0 {
			gain = d
		} else {
			loss = -d
		}
		avgGain = (avgGain*(p-1) + gain) / p
		avgLoss = (avgLoss*(p-1) + loss) / p
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out, nil
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// SMA computes a simple moving average. Positions before a full window use
// the mean of whatever samples are available, so the output has no warmup
// gap.
func SMA(prices []float64, period int) []float64 {
	out := make([]float64, len(prices))
	var sum float64
	for i, p := range prices {
		sum += p
		if i >= period {
			sum -= prices[i-period]
			out[i] = sum / float64(period)
		} else {
			out[i] = sum / float64(i+1)
		}
	}
	return out
}

// EMA computes an exponential moving average with alpha = 2/(period+1),
// seeded at the first sample.
func EMA(prices []float64, period int) []float64 {
	out := make([]float64, len(prices))
	if len(prices) == 0 {
		return out
	}
	alpha := 2.0 / (float64(period) + 1)
	out[0] = prices[0]
	for i := 1; i < len(prices); i++ {
		out[i] = alpha*prices[i] + (1-alpha)*out[i-1]
	}
	return out
}

// MACDResult holds the three MACD series, all aligned with the input.
type MACDResult struct {
	Line      []float64
	Signal    []float64
	Histogram []float64
}

// MACD computes the MACD line (fast EMA minus slow EMA), its signal line and
// the histogram. Requires len(prices) >= slow+signal and fast < slow.
func MACD(prices []float64, fast, slow, signal int) (*MACDResult, error) {
	if fast <= 0 || slow <= 0 || signal <= 0 {
		return nil, &domain.InvalidParameterError{Param: "period", Reason: "all periods must be positive"}
	}
	if fast >= slow {
		return nil, &domain.InvalidParameterError{Param: "fast_period", Reason: "must be smaller than slow period"}
	}
	if len(prices) < slow+signal {
		return nil, &domain.InsufficientDataError{Op: "macd", Need: slow + signal, Got: len(prices)}
	}

	emaFast := EMA(prices, fast)
	emaSlow := EMA(prices, slow)

	line := make([]float64, len(prices))
	for i := range prices {
		line[i] = emaFast[i] - emaSlow[i]
	}
	signalLine := EMA(line, signal)
	hist := make([]float64, len(prices))
	for i := range prices {
		hist[i] = line[i] - signalLine[i]
	}
	return &MACDResult{Line: line, Signal: signalLine, Histogram: hist}, nil
}

// ATR computes the Average True Range. The true range is
// max(high-low, |high-prev_close|, |low-prev_close|); the first bar uses
// high-low only. The first `period` true ranges seed a simple mean, after
// which Wilder's recurrence applies. Requires len >= period+1.
func ATR(highs, lows, closes []float64, period int) ([]float64, error) {
	if period <= 0 {
		return nil, &domain.InvalidParameterError{Param: "period", Reason: "must be positive"}
	}
	n := len(closes)
	if len(highs) != n || len(lows) != n {
		return nil, &domain.InvalidParameterError{Param: "series", Reason: "high/low/close lengths differ"}
	}
	if n < period+1 {
		return nil, &domain.InsufficientDataError{Op: "atr", Need: period + 1, Got: n}
	}

	tr := make([]float64, n)
	tr[0] = highs[0] - lows[0]
	for i := 1; i < n; i++ {
		hl := highs[i] - lows[i]
		hc := math.Abs(highs[i] - closes[i-1])
		lc := math.Abs(lows[i] - closes[i-1])
		tr[i] = math.Max(hl, math.Max(hc, lc))
	}

	out := nanSeries(n)
	var sum float64
	for i := 0; i < period; i++ {
		sum += tr[i]
	}
	out[period-1] = sum / float64(period)

	p := float64(period)
	for i := period; i < n; i++ {
		out[i] = (out[i-1]*(p-1) + tr[i]) / p
	}
	return out, nil
}

func nanSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

func lastValid(series []float64) (float64, bool) {
	for i := len(series) - 1; i >= 0; i-- {
		if !math.IsNaN(series[i]) {
			return series[i], true
		}
	}
	return 0, false
}

func validValues(series []float64) []float64 {
	out := make([]float64, 0, len(series))
	for _, v := range series {
		if !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	return out
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// sample standard deviation
func stddev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	var sum float64
	for _, x := range xs {
		sum += (x - m) * (x - m)
	}
	return math.Sqrt(sum / float64(len(xs)-1))
}
