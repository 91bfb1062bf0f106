// Package engine ties the data layer to the strategy and filter: it
// fetches bars, derives market context, runs the analysis and funnels
// any signals through the filter pipeline.
package engine

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/stockrun/stockrun/internal/confidence"
	"github.com/stockrun/stockrun/internal/data"
	"github.com/stockrun/stockrun/internal/domain"
	"github.com/stockrun/stockrun/internal/filter"
	"github.com/stockrun/stockrun/internal/indicators"
	"github.com/stockrun/stockrun/internal/metrics"
	"github.com/stockrun/stockrun/internal/risk"
	"github.com/stockrun/stockrun/internal/strategy"
)

const marketLookback = 20

// Options tunes the bar fetch and wires optional collaborators.
type Options struct {
	Interval string
	BarLimit int
	// Pipeline filters scan output. Nil means signals pass unfiltered.
	Pipeline *filter.Pipeline
	// Metrics receives scan and signal counters when set.
	Metrics *metrics.Registry
}

// Engine runs the per-symbol analysis pipeline.
type Engine struct {
	provider data.Provider
	strat    *strategy.SupportResistance
	opts     Options
	now      func() time.Time
}

// New builds an engine over a provider and a strategy.
func New(provider data.Provider, strat *strategy.SupportResistance, opts Options) (*Engine, error) {
	if provider == nil {
		return nil, &domain.InvalidParameterError{Param: "provider", Reason: "must not be nil"}
	}
	if strat == nil {
		return nil, &domain.InvalidParameterError{Param: "strategy", Reason: "must not be nil"}
	}
	if opts.Interval == "" {
		opts.Interval = "1d"
	}
	if opts.BarLimit <= 0 {
		opts.BarLimit = 120
	}
	return &Engine{provider: provider, strat: strat, opts: opts, now: time.Now}, nil
}

// Analysis is the outcome for one symbol.
type Analysis struct {
	Symbol string              `json:"symbol"`
	Result *strategy.Result    `json:"result"`
	Market *filter.MarketState `json:"market"`
}

// Analyze fetches bars for one symbol and runs the strategy over them.
// Any emitted signal is stamped with the symbol.
func (e *Engine) Analyze(ctx context.Context, symbol string) (*Analysis, error) {
	bars, err := e.fetch(ctx, symbol)
	if err != nil {
		return nil, err
	}

	market := marketData(bars)
	res, err := e.strat.Analyze(bars, market)
	if err != nil {
		return nil, err
	}
	if res.Signal != nil {
		res.Signal.Symbol = symbol
	}
	return &Analysis{
		Symbol: symbol,
		Result: res,
		Market: &filter.MarketState{
			Volatility:    market.Volatility,
			VolumeRatio:   market.VolumeRatio,
			TrendStrength: market.TrendStrength,
		},
	}, nil
}

// ScanResult aggregates one pass over a symbol list.
type ScanResult struct {
	Analyses []*Analysis             `json:"analyses"`
	Signals  []*domain.TradingSignal `json:"signals"`
	Report   *filter.Report          `json:"report,omitempty"`
	Market   *filter.MarketState     `json:"market,omitempty"`
	Errors   map[string]string       `json:"errors,omitempty"`
}

// Scan analyzes every symbol, pools the emitted signals and runs them
// through the filter pipeline. Per-symbol failures are collected, not
// fatal.
func (e *Engine) Scan(ctx context.Context, symbols []string) (*ScanResult, error) {
	out := &ScanResult{Errors: map[string]string{}}
	var raw []*domain.TradingSignal

	for _, symbol := range symbols {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var timer *metrics.ScanTimer
		if e.opts.Metrics != nil {
			timer = e.opts.Metrics.StartScan(symbol)
		}

		analysis, err := e.Analyze(ctx, symbol)
		if err != nil {
			if timer != nil {
				timer.Stop("error")
			}
			log.Error().Err(err).Str("symbol", symbol).Msg("scan failed")
			out.Errors[symbol] = err.Error()
			continue
		}
		if timer != nil {
			timer.Stop("success")
		}

		out.Analyses = append(out.Analyses, analysis)
		if sig := analysis.Result.Signal; sig != nil {
			raw = append(raw, sig)
		}
	}
	if len(out.Errors) == 0 {
		out.Errors = nil
	}

	out.Market = poolMarket(out.Analyses)
	if e.opts.Pipeline == nil {
		out.Signals = raw
	} else {
		out.Signals, out.Report = e.opts.Pipeline.Apply(raw, out.Market, e.now())
	}

	if e.opts.Metrics != nil {
		for _, sig := range out.Signals {
			e.opts.Metrics.RecordSignal(sig.Symbol, string(sig.Side))
		}
		if out.Report != nil {
			removals := make(map[string]int, len(out.Report.Stages))
			for _, stage := range out.Report.Stages {
				removals[stage.Name] = stage.Removed
			}
			e.opts.Metrics.RecordStageRemovals(removals)
		}
	}
	return out, nil
}

func (e *Engine) fetch(ctx context.Context, symbol string) (domain.Bars, error) {
	bars, err := e.provider.Bars(ctx, symbol, e.opts.Interval, e.opts.BarLimit)
	if e.opts.Metrics != nil {
		result := "success"
		if err != nil {
			result = "error"
		}
		e.opts.Metrics.RecordProviderCall(e.provider.Name(), result)
	}
	return bars, err
}

// marketData derives the market-condition inputs from the bar series
// itself: relative volume over the recent window, non-annualized return
// volatility and price drift against the window mean.
func marketData(bars domain.Bars) *confidence.MarketData {
	closes := bars.Closes()
	vols := bars.Volumes()

	md := &confidence.MarketData{VolumeRatio: 1}

	lookback := marketLookback
	if lookback > len(vols)-1 {
		lookback = len(vols) - 1
	}
	if lookback > 0 {
		var sum float64
		for _, v := range vols[len(vols)-1-lookback : len(vols)-1] {
			sum += v
		}
		if avg := sum / float64(lookback); avg > 0 {
			md.VolumeRatio = vols[len(vols)-1] / avg
		}
	}

	md.Volatility = risk.Volatility(risk.Returns(closes)) / math.Sqrt(252)

	sma := indicators.SMA(closes, marketLookback)
	if mean := sma[len(sma)-1]; mean > 0 {
		drift := (closes[len(closes)-1]/mean - 1) * 10
		md.TrendStrength = math.Max(-1, math.Min(1, drift))
	}
	return md
}

// poolMarket averages the per-symbol states so batch-level filtering has
// a single market reading. Nil when nothing was analyzed.
func poolMarket(analyses []*Analysis) *filter.MarketState {
	if len(analyses) == 0 {
		return nil
	}
	var pooled filter.MarketState
	for _, a := range analyses {
		pooled.Volatility += a.Market.Volatility
		pooled.VolumeRatio += a.Market.VolumeRatio
		pooled.TrendStrength += a.Market.TrendStrength
	}
	n := float64(len(analyses))
	pooled.Volatility /= n
	pooled.VolumeRatio /= n
	pooled.TrendStrength /= n
	return &pooled
}
