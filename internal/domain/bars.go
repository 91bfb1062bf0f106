// Package domain holds the core market data types shared by the analysis
// engine: price bars, trading signals and the error taxonomy.
package domain

import (
	"time"
)

// PriceBar is one OHLCV observation. Timestamps across a series must be
// strictly increasing; the series itself is owned by the caller and never
// mutated by the engine.
type PriceBar struct {
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}

// Bars is an ordered OHLCV series.
type Bars []PriceBar

// Validate checks that the series is non-empty, carries positive prices and
// strictly increasing timestamps.
func (b Bars) Validate() error {
	if len(b) == 0 {
		return &InsufficientDataError{Op: "bars", Need: 1, Got: 0}
	}
	for i, bar := range b {
		if bar.Open <= 0 || bar.High <= 0 || bar.Low <= 0 || bar.Close <= 0 {
			return &InvalidParameterError{Param: "bars", Reason: "prices must be positive"}
		}
		if bar.High < bar.Low {
			return &InvalidParameterError{Param: "bars", Reason: "high below low"}
		}
		if i > 0 && !bar.Timestamp.After(b[i-1].Timestamp) {
			return &InvalidParameterError{Param: "bars", Reason: "timestamps must be strictly increasing"}
		}
	}
	return nil
}

// Closes extracts the close-price series.
func (b Bars) Closes() []float64 {
	out := make([]float64, len(b))
	for i, bar := range b {
		out[i] = bar.Close
	}
	return out
}

// Highs extracts the high-price series.
func (b Bars) Highs() []float64 {
	out := make([]float64, len(b))
	for i, bar := range b {
		out[i] = bar.High
	}
	return out
}

// Lows extracts the low-price series.
func (b Bars) Lows() []float64 {
	out := make([]float64, len(b))
	for i, bar := range b {
		out[i] = bar.Low
	}
	return out
}

// Volumes extracts the volume series.
func (b Bars) Volumes() []float64 {
	out := make([]float64, len(b))
	for i, bar := range b {
		out[i] = bar.Volume
	}
	return out
}

// Last returns the most recent bar. Panics on an empty series; callers are
// expected to Validate first.
func (b Bars) Last() PriceBar {
	return b[len(b)-1]
}
