// Package levels detects local price extrema, clusters them into support and
// resistance levels with a strength rating, and locates the current price
// relative to the nearest levels.
package levels

import (
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/stockrun/stockrun/internal/domain"
)

// Kind distinguishes support from resistance.
type Kind string

const (
	KindSupport    Kind = "support"
	KindResistance Kind = "resistance"
)

// Rating grades a level by touch count and average touch strength.
type Rating string

const (
	RatingStrong Rating = "strong"
	RatingMedium Rating = "medium"
	RatingWeak   Rating = "weak"
)

// rank orders ratings for minimum-strength comparisons.
func (r Rating) rank() int {
	switch r {
	case RatingStrong:
		return 3
	case RatingMedium:
		return 2
	default:
		return 1
	}
}

// AtLeast reports whether r meets the given minimum rating.
func (r Rating) AtLeast(min Rating) bool {
	return r.rank() >= min.rank()
}

// Extremum is one local high or low.
type Extremum struct {
	Index     int       `json:"index"`
	Price     float64   `json:"price"`
	Strength  float64   `json:"strength"`
	Timestamp time.Time `json:"timestamp"`
}

// PriceLevel is a cluster of extrema acting as one support or resistance
// zone. Its identity is the cluster, not a single touch, and the rating is
// derived purely from touch count and average strength.
type PriceLevel struct {
	Price       float64    `json:"price"`
	TouchCount  int        `json:"touch_count"`
	AvgStrength float64    `json:"avg_strength"`
	Rating      Rating     `json:"strength_rating"`
	Kind        Kind       `json:"kind"`
	LatestTouch int        `json:"latest_touch_index"`
	RangeMin    float64    `json:"range_min"`
	RangeMax    float64    `json:"range_max"`
	Touches     []Extremum `json:"touches"`
}

// PositionLabel describes where the current price sits between levels.
type PositionLabel string

const (
	NearResistance    PositionLabel = "near_resistance"
	NearSupport       PositionLabel = "near_support"
	LeaningResistance PositionLabel = "leaning_resistance"
	LeaningSupport    PositionLabel = "leaning_support"
	Neutral           PositionLabel = "neutral"
)

// Distance is a signed gap to a level in price and percent terms.
type Distance struct {
	Price   float64 `json:"price_diff"`
	Percent float64 `json:"percentage"`
}

// CurrentPosition is a view of the price relative to the nearest levels,
// recomputed whenever levels are.
type CurrentPosition struct {
	Price              float64       `json:"current_price"`
	Label              PositionLabel `json:"label"`
	NearestResistance  *PriceLevel   `json:"nearest_resistance,omitempty"`
	NearestSupport     *PriceLevel   `json:"nearest_support,omitempty"`
	ResistanceDistance *Distance     `json:"resistance_distance,omitempty"`
	SupportDistance    *Distance     `json:"support_distance,omitempty"`
}

// Analysis is the full level-detection result for one run.
type Analysis struct {
	Highs      []Extremum      `json:"highs"`
	Lows       []Extremum      `json:"lows"`
	Resistance []PriceLevel    `json:"resistance_levels"`
	Support    []PriceLevel    `json:"support_levels"`
	Position   CurrentPosition `json:"current_position"`
}

// Config holds the detection parameters.
type Config struct {
	// Window is the half-width of the extremum search window.
	Window int `yaml:"window"`
	// MinChangePct filters out extrema whose swing is below this percent.
	MinChangePct float64 `yaml:"min_change_pct"`
	// Tolerance is the clustering distance in percent of the cluster average.
	Tolerance float64 `yaml:"tolerance"`
	// ProximityThreshold is the near-level distance in percent.
	ProximityThreshold float64 `yaml:"proximity_threshold"`
}

// DefaultConfig mirrors the documented defaults.
func DefaultConfig() Config {
	return Config{
		Window:             5,
		MinChangePct:       1.0,
		Tolerance:          0.5,
		ProximityThreshold: 2.0,
	}
}

// Validate rejects unusable parameters.
func (c Config) Validate() error {
	if c.Window <= 0 {
		return &domain.InvalidParameterError{Param: "window", Reason: "must be positive"}
	}
	if c.MinChangePct < 0 {
		return &domain.InvalidParameterError{Param: "min_change_pct", Reason: "must be non-negative"}
	}
	if c.Tolerance < 0 {
		return &domain.InvalidParameterError{Param: "tolerance", Reason: "must be non-negative"}
	}
	if c.ProximityThreshold <= 0 {
		return &domain.InvalidParameterError{Param: "proximity_threshold", Reason: "must be positive"}
	}
	return nil
}

// Analyze runs extremum detection, clustering and the current-position view
// over a bar series.
func Analyze(bars domain.Bars, cfg Config) (*Analysis, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := bars.Validate(); err != nil {
		return nil, err
	}
	need := cfg.Window*2 + 1
	if len(bars) < need {
		return nil, &domain.InsufficientDataError{Op: "levels", Need: need, Got: len(bars)}
	}

	highs, lows := FindExtrema(bars, cfg.Window, cfg.MinChangePct)

	a := &Analysis{
		Highs:      highs,
		Lows:       lows,
		Resistance: Cluster(highs, cfg.Tolerance, KindResistance),
		Support:    Cluster(lows, cfg.Tolerance, KindSupport),
	}
	a.Position = Locate(bars.Last().Close, a.Resistance, a.Support, cfg.ProximityThreshold)

	log.Debug().
		Int("highs", len(highs)).
		Int("lows", len(lows)).
		Int("resistance", len(a.Resistance)).
		Int("support", len(a.Support)).
		Str("position", string(a.Position.Label)).
		Msg("level analysis complete")

	return a, nil
}

// FindExtrema scans interior indices with a symmetric window. An index is a
// local high when its close equals the window maximum and the drop to the
// window minimum meets the minimum-change filter; lows mirror that. A bar
// that satisfies both rules independently is reported on both sides.
func FindExtrema(bars domain.Bars, window int, minChangePct float64) (highs, lows []Extremum) {
	closes := bars.Closes()
	for i := window; i < len(closes)-window; i++ {
		cur := closes[i]
		winMin, winMax := windowBounds(closes, i-window, i+window)

		if cur == winMax && winMin > 0 {
			change := (cur - winMin) / winMin * 100
			if change >= minChangePct {
				highs = append(highs, Extremum{Index: i, Price: cur, Strength: change, Timestamp: bars[i].Timestamp})
			}
		}
		if cur == winMin && cur > 0 {
			change := (winMax - cur) / cur * 100
			if change >= minChangePct {
				lows = append(lows, Extremum{Index: i, Price: cur, Strength: change, Timestamp: bars[i].Timestamp})
			}
		}
	}
	return highs, lows
}

func windowBounds(xs []float64, lo, hi int) (min, max float64) {
	min, max = xs[lo], xs[lo]
	for _, v := range xs[lo+1 : hi+1] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max
}

// Cluster greedily groups price-sorted extrema: a point joins the current
// cluster while its percent distance from the cluster's running average
// price stays within the tolerance.
func Cluster(extrema []Extremum, tolerance float64, kind Kind) []PriceLevel {
	if len(extrema) == 0 {
		return nil
	}

	sorted := make([]Extremum, len(extrema))
	copy(sorted, extrema)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Price < sorted[j].Price })

	var clusters [][]Extremum
	current := []Extremum{sorted[0]}
	sum := sorted[0].Price

	for _, e := range sorted[1:] {
		avg := sum / float64(len(current))
		if math.Abs(e.Price-avg)/avg*100 <= tolerance {
			current = append(current, e)
			sum += e.Price
		} else {
			clusters = append(clusters, current)
			current = []Extremum{e}
			sum = e.Price
		}
	}
	clusters = append(clusters, current)

	levels := make([]PriceLevel, 0, len(clusters))
	for _, c := range clusters {
		levels = append(levels, buildLevel(c, kind))
	}

	// Strongest first: touch count, then average strength.
	sort.Slice(levels, func(i, j int) bool {
		if levels[i].TouchCount != levels[j].TouchCount {
			return levels[i].TouchCount > levels[j].TouchCount
		}
		return levels[i].AvgStrength > levels[j].AvgStrength
	})
	return levels
}

func buildLevel(cluster []Extremum, kind Kind) PriceLevel {
	var priceSum, strengthSum float64
	latest := cluster[0].Index
	rangeMin, rangeMax := cluster[0].Price, cluster[0].Price

	for _, e := range cluster {
		priceSum += e.Price
		strengthSum += e.Strength
		if e.Index > latest {
			latest = e.Index
		}
		if e.Price < rangeMin {
			rangeMin = e.Price
		}
		if e.Price > rangeMax {
			rangeMax = e.Price
		}
	}

	n := float64(len(cluster))
	level := PriceLevel{
		Price:       priceSum / n,
		TouchCount:  len(cluster),
		AvgStrength: strengthSum / n,
		Kind:        kind,
		LatestTouch: latest,
		RangeMin:    rangeMin,
		RangeMax:    rangeMax,
		Touches:     cluster,
	}
	level.Rating = rate(level.TouchCount, level.AvgStrength)
	return level
}

func rate(touches int, avgStrength float64) Rating {
	switch {
	case touches >= 4 && avgStrength >= 3.0:
		return RatingStrong
	case touches >= 2 && avgStrength >= 2.0:
		return RatingMedium
	default:
		return RatingWeak
	}
}

// Locate finds the nearest resistance above and support below the price and
// labels the position against the proximity threshold.
func Locate(price float64, resistance, support []PriceLevel, proximityPct float64) CurrentPosition {
	pos := CurrentPosition{Price: price, Label: Neutral}

	for i := range resistance {
		lvl := &resistance[i]
		if lvl.Price <= price {
			continue
		}
		if pos.NearestResistance == nil || lvl.Price < pos.NearestResistance.Price {
			pos.NearestResistance = lvl
		}
	}
	for i := range support {
		lvl := &support[i]
		if lvl.Price >= price {
			continue
		}
		if pos.NearestSupport == nil || lvl.Price > pos.NearestSupport.Price {
			pos.NearestSupport = lvl
		}
	}

	if pos.NearestResistance != nil {
		pos.ResistanceDistance = &Distance{
			Price:   pos.NearestResistance.Price - price,
			Percent: (pos.NearestResistance.Price - price) / price * 100,
		}
	}
	if pos.NearestSupport != nil {
		pos.SupportDistance = &Distance{
			Price:   price - pos.NearestSupport.Price,
			Percent: (price - pos.NearestSupport.Price) / price * 100,
		}
	}

	rd, sd := pos.ResistanceDistance, pos.SupportDistance
	switch {
	case rd != nil && sd != nil && rd.Percent <= proximityPct && sd.Percent <= proximityPct:
		// Both in range: the nearer level wins.
		if sd.Percent <= rd.Percent {
			pos.Label = NearSupport
		} else {
			pos.Label = NearResistance
		}
	case rd != nil && rd.Percent <= proximityPct:
		pos.Label = NearResistance
	case sd != nil && sd.Percent <= proximityPct:
		pos.Label = NearSupport
	case rd != nil && sd != nil:
		if rd.Percent < sd.Percent {
			pos.Label = LeaningResistance
		} else {
			pos.Label = LeaningSupport
		}
	}
	return pos
}
