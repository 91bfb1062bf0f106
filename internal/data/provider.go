// Package data fetches historical price bars from market data providers and
// layers caching, rate limiting and circuit breaking around them.
package data

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"

	"github.com/stockrun/stockrun/internal/domain"
)

// Provider serves historical bars for a symbol.
type Provider interface {
	Name() string
	Bars(ctx context.Context, symbol, interval string, limit int) (domain.Bars, error)
}

// BinanceProvider fetches klines from the Binance REST API.
type BinanceProvider struct {
	client *binance.Client
}

// NewBinanceProvider builds a provider. Keys may be empty for public
// endpoints such as klines.
func NewBinanceProvider(apiKey, secretKey string) *BinanceProvider {
	return &BinanceProvider{client: binance.NewClient(apiKey, secretKey)}
}

func (p *BinanceProvider) Name() string { return "binance" }

// Bars fetches up to limit klines for the symbol at the given interval
// (Binance notation: "1m", "1h", "1d", ...).
func (p *BinanceProvider) Bars(ctx context.Context, symbol, interval string, limit int) (domain.Bars, error) {
	if symbol == "" {
		return nil, &domain.InvalidParameterError{Param: "symbol", Reason: "must not be empty"}
	}
	if limit <= 0 {
		return nil, &domain.InvalidParameterError{Param: "limit", Reason: "must be positive"}
	}

	klines, err := p.client.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance klines %s %s: %w", symbol, interval, err)
	}

	bars := make(domain.Bars, 0, len(klines))
	for _, k := range klines {
		bar, err := barFromKline(k)
		if err != nil {
			return nil, fmt.Errorf("binance kline %s: %w", symbol, err)
		}
		bars = append(bars, bar)
	}
	if err := bars.Validate(); err != nil {
		return nil, fmt.Errorf("binance klines %s: %w", symbol, err)
	}
	return bars, nil
}

func barFromKline(k *binance.Kline) (domain.PriceBar, error) {
	fields := []struct {
		name string
		raw  string
		dst  *float64
	}{
		{"open", k.Open, nil},
		{"high", k.High, nil},
		{"low", k.Low, nil},
		{"close", k.Close, nil},
		{"volume", k.Volume, nil},
	}

	var bar domain.PriceBar
	dsts := []*float64{&bar.Open, &bar.High, &bar.Low, &bar.Close, &bar.Volume}
	for i, f := range fields {
		v, err := strconv.ParseFloat(f.raw, 64)
		if err != nil {
			return domain.PriceBar{}, fmt.Errorf("parse %s %q: %w", f.name, f.raw, err)
		}
		*dsts[i] = v
	}
	bar.Timestamp = time.UnixMilli(k.OpenTime).UTC()
	return bar, nil
}
