// Package filter runs scored signals through a staged acceptance pipeline
// and reports what each stage removed. Signals are never mutated; quality
// scores live in the report.
package filter

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/stockrun/stockrun/internal/domain"
)

// MarketCondition is a coarse market classification used by the
// condition allow-list stage.
type MarketCondition string

const (
	ConditionNormal          MarketCondition = "normal"
	ConditionHighVolatility  MarketCondition = "high_volatility"
	ConditionLowLiquidity    MarketCondition = "low_liquidity"
	ConditionStrongTrend     MarketCondition = "strong_trend"
	ConditionStrongDowntrend MarketCondition = "strong_downtrend"
)

// MarketState is the raw market reading the pipeline classifies.
type MarketState struct {
	Volatility    float64 `json:"volatility"`
	VolumeRatio   float64 `json:"volume_ratio"`
	TrendStrength float64 `json:"trend_strength"`
}

// Assess maps the raw reading onto a condition. Volatility dominates,
// then liquidity, then trend.
func (m MarketState) Assess() MarketCondition {
	switch {
	case m.Volatility > 0.05:
		return ConditionHighVolatility
	case m.VolumeRatio < 0.5:
		return ConditionLowLiquidity
	case m.TrendStrength > 0.7:
		return ConditionStrongTrend
	case m.TrendStrength < -0.7:
		return ConditionStrongDowntrend
	}
	return ConditionNormal
}

// Grade buckets a quality score.
type Grade string

const (
	GradeExcellent Grade = "excellent"
	GradeGood      Grade = "good"
	GradeFair      Grade = "fair"
	GradePoor      Grade = "poor"
)

// GradeFor buckets a quality score into a grade.
func GradeFor(score float64) Grade {
	switch {
	case score >= 0.85:
		return GradeExcellent
	case score >= 0.75:
		return GradeGood
	case score >= 0.65:
		return GradeFair
	}
	return GradePoor
}

// Criteria configures the pipeline. Zero-valued optional stages are
// skipped entirely.
type Criteria struct {
	MinConfidence float64 `yaml:"min_confidence"`
	MaxConfidence float64 `yaml:"max_confidence"`

	AllowedSides []domain.Side `yaml:"allowed_sides"`

	MinPositionSize float64 `yaml:"min_position_size"`
	MaxPositionSize float64 `yaml:"max_position_size"`

	// TradingHourStart/End bound the signal timestamp's hour (UTC,
	// inclusive start, exclusive end). Both zero disables the stage.
	TradingHourStart int `yaml:"trading_hour_start"`
	TradingHourEnd   int `yaml:"trading_hour_end"`

	RemoveDuplicates bool          `yaml:"remove_duplicates"`
	DuplicateWindow  time.Duration `yaml:"duplicate_window"`

	MinRiskReward float64 `yaml:"min_risk_reward"`

	AllowedConditions []MarketCondition `yaml:"allowed_market_conditions"`

	MaxSignalsPerDay int `yaml:"max_signals_per_day"`

	MinQualityScore float64 `yaml:"min_quality_score"`
}

// DefaultCriteria returns the documented defaults: confidence and
// position size unbounded inside [0,1], duplicate removal over a 30
// minute window, and the 0.50 quality floor.
func DefaultCriteria() Criteria {
	return Criteria{
		MinConfidence:    0.0,
		MaxConfidence:    1.0,
		MaxPositionSize:  1.0,
		RemoveDuplicates: true,
		DuplicateWindow:  30 * time.Minute,
		MinQualityScore:  0.50,
	}
}

// Validate rejects inverted ranges and out-of-domain bounds.
func (c Criteria) Validate() error {
	if c.MinConfidence < 0 || c.MaxConfidence > 1 || c.MinConfidence > c.MaxConfidence {
		return &domain.InvalidParameterError{Param: "confidence range", Reason: "must satisfy 0 <= min <= max <= 1"}
	}
	if c.MinPositionSize < 0 || c.MinPositionSize > c.MaxPositionSize {
		return &domain.InvalidParameterError{Param: "position size range", Reason: "must satisfy 0 <= min <= max"}
	}
	if c.TradingHourStart < 0 || c.TradingHourStart > 23 || c.TradingHourEnd < 0 || c.TradingHourEnd > 24 {
		return &domain.InvalidParameterError{Param: "trading hours", Reason: "start in [0,23], end in [0,24]"}
	}
	if c.RemoveDuplicates && c.DuplicateWindow <= 0 {
		return &domain.InvalidParameterError{Param: "duplicate_window", Reason: "must be positive when duplicate removal is on"}
	}
	if c.MinRiskReward < 0 {
		return &domain.InvalidParameterError{Param: "min_risk_reward", Reason: "must be non-negative"}
	}
	if c.MaxSignalsPerDay < 0 {
		return &domain.InvalidParameterError{Param: "max_signals_per_day", Reason: "must be non-negative"}
	}
	if c.MinQualityScore < 0 || c.MinQualityScore > 1 {
		return &domain.InvalidParameterError{Param: "min_quality_score", Reason: "must be in [0,1]"}
	}
	return nil
}

// StageReport records one stage's effect.
type StageReport struct {
	Name    string   `json:"name"`
	Before  int      `json:"before"`
	After   int      `json:"after"`
	Removed int      `json:"removed"`
	Reasons []string `json:"reasons,omitempty"`
}

// Efficiency summarizes the whole run.
type Efficiency struct {
	FilterRate    float64 `json:"filter_rate"`
	RetentionRate float64 `json:"retention_rate"`
}

// QualityAnalysis aggregates confidence and grades over the surviving
// signals.
type QualityAnalysis struct {
	AvgConfidence float64       `json:"avg_confidence"`
	MinConfidence float64       `json:"min_confidence"`
	MaxConfidence float64       `json:"max_confidence"`
	StdConfidence float64       `json:"std_confidence"`
	Grades        map[Grade]int `json:"grade_distribution"`
}

// SignalQuality is the per-signal quality verdict, keyed into the report
// rather than written onto the signal.
type SignalQuality struct {
	Score float64 `json:"score"`
	Grade Grade   `json:"grade"`
}

// Report is the full outcome of one pipeline run.
type Report struct {
	Input           int                      `json:"input"`
	Output          int                      `json:"output"`
	Stages          []StageReport            `json:"stages"`
	Efficiency      Efficiency               `json:"efficiency"`
	Quality         QualityAnalysis          `json:"quality"`
	SignalQuality   map[string]SignalQuality `json:"signal_quality"`
	Top             []*domain.TradingSignal  `json:"top_signals"`
	Recommendations []string                 `json:"recommendations,omitempty"`
}

// Pipeline applies criteria to signal batches and keeps running stats.
type Pipeline struct {
	criteria Criteria
	stats    Stats
}

// New builds a pipeline after validating the criteria.
func New(criteria Criteria) (*Pipeline, error) {
	if err := criteria.Validate(); err != nil {
		return nil, err
	}
	if criteria.RemoveDuplicates && criteria.DuplicateWindow == 0 {
		criteria.DuplicateWindow = 30 * time.Minute
	}
	return &Pipeline{criteria: criteria}, nil
}

// Apply runs the stages in order and returns the surviving signals plus
// the report. The market state is optional; without it the condition
// stage is skipped. Input signals are never modified.
func (p *Pipeline) Apply(signals []*domain.TradingSignal, market *MarketState, now time.Time) ([]*domain.TradingSignal, *Report) {
	report := &Report{
		Input:         len(signals),
		SignalQuality: map[string]SignalQuality{},
	}

	kept := make([]*domain.TradingSignal, len(signals))
	copy(kept, signals)

	kept = p.stage(report, "confidence_range", kept, func(s *domain.TradingSignal) (bool, string) {
		if s.Confidence < p.criteria.MinConfidence || s.Confidence > p.criteria.MaxConfidence {
			return false, fmt.Sprintf("confidence %.2f outside [%.2f, %.2f]", s.Confidence, p.criteria.MinConfidence, p.criteria.MaxConfidence)
		}
		return true, ""
	})

	if len(p.criteria.AllowedSides) > 0 {
		kept = p.stage(report, "side", kept, func(s *domain.TradingSignal) (bool, string) {
			for _, side := range p.criteria.AllowedSides {
				if s.Side == side {
					return true, ""
				}
			}
			return false, fmt.Sprintf("side %s not allowed", s.Side)
		})
	}

	kept = p.stage(report, "position_size", kept, func(s *domain.TradingSignal) (bool, string) {
		if s.PositionSize < p.criteria.MinPositionSize || s.PositionSize > p.criteria.MaxPositionSize {
			return false, fmt.Sprintf("position size %.2f outside [%.2f, %.2f]", s.PositionSize, p.criteria.MinPositionSize, p.criteria.MaxPositionSize)
		}
		return true, ""
	})

	if p.criteria.TradingHourStart != 0 || p.criteria.TradingHourEnd != 0 {
		kept = p.stage(report, "trading_hours", kept, func(s *domain.TradingSignal) (bool, string) {
			h := s.Timestamp.UTC().Hour()
			if h < p.criteria.TradingHourStart || h >= p.criteria.TradingHourEnd {
				return false, fmt.Sprintf("hour %d outside window [%d, %d)", h, p.criteria.TradingHourStart, p.criteria.TradingHourEnd)
			}
			return true, ""
		})
	}

	if p.criteria.RemoveDuplicates {
		kept = p.removeDuplicates(report, kept)
	}

	if p.criteria.MinRiskReward > 0 {
		kept = p.stage(report, "risk_reward", kept, func(s *domain.TradingSignal) (bool, string) {
			rr, ok := s.RiskReward()
			if !ok {
				return true, ""
			}
			if rr < p.criteria.MinRiskReward {
				return false, fmt.Sprintf("risk/reward %.2f below %.2f", rr, p.criteria.MinRiskReward)
			}
			return true, ""
		})
	}

	if len(p.criteria.AllowedConditions) > 0 && market != nil {
		condition := market.Assess()
		allowed := false
		for _, c := range p.criteria.AllowedConditions {
			if c == condition {
				allowed = true
				break
			}
		}
		kept = p.stage(report, "market_conditions", kept, func(s *domain.TradingSignal) (bool, string) {
			if !allowed {
				return false, fmt.Sprintf("market condition %s not allowed", condition)
			}
			return true, ""
		})
	}

	if p.criteria.MaxSignalsPerDay > 0 {
		kept = p.capDaily(report, kept)
	}

	kept = p.qualityFloor(report, kept, market, now)

	report.Output = len(kept)
	report.Efficiency = efficiency(report.Input, report.Output)
	report.Quality = analyzeQuality(kept, report.SignalQuality)
	report.Top = topByConfidence(kept, 3)
	report.Recommendations = recommend(report)

	p.stats.record(report)

	log.Debug().
		Int("input", report.Input).
		Int("output", report.Output).
		Float64("retention", report.Efficiency.RetentionRate).
		Msg("filter pipeline complete")

	return kept, report
}

// stage applies one predicate, collecting removal reasons.
func (p *Pipeline) stage(report *Report, name string, in []*domain.TradingSignal, keep func(*domain.TradingSignal) (bool, string)) []*domain.TradingSignal {
	out := in[:0:0]
	var reasons []string
	for _, s := range in {
		ok, reason := keep(s)
		if ok {
			out = append(out, s)
		} else {
			reasons = append(reasons, reason)
		}
	}
	report.Stages = append(report.Stages, StageReport{
		Name:    name,
		Before:  len(in),
		After:   len(out),
		Removed: len(in) - len(out),
		Reasons: reasons,
	})
	return out
}

// removeDuplicates keeps the earliest of any same-side signals whose
// prices sit within 1% of each other inside the duplicate window.
func (p *Pipeline) removeDuplicates(report *Report, in []*domain.TradingSignal) []*domain.TradingSignal {
	sorted := make([]*domain.TradingSignal, len(in))
	copy(sorted, in)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	var out []*domain.TradingSignal
	var reasons []string
	for _, s := range sorted {
		dup := false
		for _, existing := range out {
			if s.Side != existing.Side {
				continue
			}
			if math.Abs(s.Price-existing.Price)/existing.Price >= 0.01 {
				continue
			}
			if s.Timestamp.Sub(existing.Timestamp) <= p.criteria.DuplicateWindow {
				dup = true
				reasons = append(reasons, fmt.Sprintf("duplicate of %s signal at %.2f", existing.Side, existing.Price))
				break
			}
		}
		if !dup {
			out = append(out, s)
		}
	}

	report.Stages = append(report.Stages, StageReport{
		Name:    "duplicates",
		Before:  len(in),
		After:   len(out),
		Removed: len(in) - len(out),
		Reasons: reasons,
	})
	return out
}

// capDaily keeps the N highest-confidence signals.
func (p *Pipeline) capDaily(report *Report, in []*domain.TradingSignal) []*domain.TradingSignal {
	sorted := make([]*domain.TradingSignal, len(in))
	copy(sorted, in)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Confidence > sorted[j].Confidence })

	out := sorted
	var reasons []string
	if len(sorted) > p.criteria.MaxSignalsPerDay {
		out = sorted[:p.criteria.MaxSignalsPerDay]
		for _, s := range sorted[p.criteria.MaxSignalsPerDay:] {
			reasons = append(reasons, fmt.Sprintf("over daily cap, confidence %.2f", s.Confidence))
		}
	}

	report.Stages = append(report.Stages, StageReport{
		Name:    "daily_cap",
		Before:  len(in),
		After:   len(out),
		Removed: len(in) - len(out),
		Reasons: reasons,
	})
	return out
}

// qualityFloor scores each survivor and drops those under the minimum.
// Scores for every evaluated signal land in the report.
func (p *Pipeline) qualityFloor(report *Report, in []*domain.TradingSignal, market *MarketState, now time.Time) []*domain.TradingSignal {
	var out []*domain.TradingSignal
	var reasons []string
	for _, s := range in {
		score := QualityScore(s, market, now)
		report.SignalQuality[s.ID] = SignalQuality{Score: score, Grade: GradeFor(score)}
		if score >= p.criteria.MinQualityScore {
			out = append(out, s)
		} else {
			reasons = append(reasons, fmt.Sprintf("quality %.2f below %.2f", score, p.criteria.MinQualityScore))
		}
	}

	report.Stages = append(report.Stages, StageReport{
		Name:    "quality",
		Before:  len(in),
		After:   len(out),
		Removed: len(in) - len(out),
		Reasons: reasons,
	})
	return out
}

// QualityScore weighs confidence, risk/reward, indicator confirmations,
// market fit and freshness into one [0,1] score. Missing inputs score
// their component at the neutral 0.5.
func QualityScore(s *domain.TradingSignal, market *MarketState, now time.Time) float64 {
	rrScore := 0.5
	if rr, ok := s.RiskReward(); ok {
		rrScore = math.Min(1.0, (rr-1.0)/2.0)
		if rrScore < 0 {
			rrScore = 0
		}
	}

	confirmRatio := 0.5
	if raw, ok := s.Metadata["confirmation_count"]; ok {
		if n, err := strconv.Atoi(raw); err == nil {
			confirmRatio = math.Min(1.0, float64(n)/3.0)
		}
	}

	fit := 0.5
	if market != nil {
		fit = marketFit(s.Side, market.Assess())
	}

	hoursOld := now.Sub(s.Timestamp).Hours()
	freshness := math.Max(0, 1.0-hoursOld/24.0)
	if freshness > 1 {
		freshness = 1
	}

	score := s.Confidence*0.4 + rrScore*0.25 + confirmRatio*0.2 + fit*0.1 + freshness*0.05
	return domain.Clamp01(score)
}

// marketFit scores how well a side suits a condition.
func marketFit(side domain.Side, condition MarketCondition) float64 {
	type key struct {
		side      domain.Side
		condition MarketCondition
	}
	fits := map[key]float64{
		{domain.SideBuy, ConditionNormal}:           0.8,
		{domain.SideBuy, ConditionStrongTrend}:      0.9,
		{domain.SideBuy, ConditionStrongDowntrend}:  0.3,
		{domain.SideBuy, ConditionHighVolatility}:   0.6,
		{domain.SideBuy, ConditionLowLiquidity}:     0.4,
		{domain.SideSell, ConditionNormal}:          0.8,
		{domain.SideSell, ConditionStrongTrend}:     0.3,
		{domain.SideSell, ConditionStrongDowntrend}: 0.9,
		{domain.SideSell, ConditionHighVolatility}:  0.6,
		{domain.SideSell, ConditionLowLiquidity}:    0.4,
	}
	if fit, ok := fits[key{side, condition}]; ok {
		return fit
	}
	return 0.5
}

func efficiency(input, output int) Efficiency {
	if input == 0 {
		return Efficiency{}
	}
	return Efficiency{
		FilterRate:    float64(input-output) / float64(input),
		RetentionRate: float64(output) / float64(input),
	}
}

func analyzeQuality(signals []*domain.TradingSignal, quality map[string]SignalQuality) QualityAnalysis {
	qa := QualityAnalysis{Grades: map[Grade]int{}}
	if len(signals) == 0 {
		return qa
	}

	qa.MinConfidence = signals[0].Confidence
	qa.MaxConfidence = signals[0].Confidence
	var sum float64
	for _, s := range signals {
		sum += s.Confidence
		if s.Confidence < qa.MinConfidence {
			qa.MinConfidence = s.Confidence
		}
		if s.Confidence > qa.MaxConfidence {
			qa.MaxConfidence = s.Confidence
		}
		if q, ok := quality[s.ID]; ok {
			qa.Grades[q.Grade]++
		}
	}
	qa.AvgConfidence = sum / float64(len(signals))

	var sq float64
	for _, s := range signals {
		d := s.Confidence - qa.AvgConfidence
		sq += d * d
	}
	qa.StdConfidence = math.Sqrt(sq / float64(len(signals)))
	return qa
}

func topByConfidence(signals []*domain.TradingSignal, n int) []*domain.TradingSignal {
	sorted := make([]*domain.TradingSignal, len(signals))
	copy(sorted, signals)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Confidence > sorted[j].Confidence })
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

// recommend flags criteria that look too loose or too tight for the
// observed batch.
func recommend(report *Report) []string {
	var recs []string
	if report.Input == 0 {
		return nil
	}
	if report.Efficiency.FilterRate > 0.8 {
		recs = append(recs, "over 80% of signals filtered, consider relaxing criteria")
	}
	if report.Efficiency.FilterRate < 0.2 {
		recs = append(recs, "under 20% of signals filtered, consider tightening criteria")
	}
	for _, st := range report.Stages {
		if st.Before > 0 && float64(st.Removed)/float64(st.Before) > 0.5 {
			recs = append(recs, fmt.Sprintf("stage %s removed over half its input", st.Name))
		}
	}
	return recs
}

// StatsSnapshot is a point-in-time copy of the pipeline totals.
type StatsSnapshot struct {
	Runs          int            `json:"runs"`
	TotalInput    int            `json:"total_input"`
	TotalOutput   int            `json:"total_output"`
	StageRemovals map[string]int `json:"stage_removals"`
}

// Stats accumulates pipeline totals across runs.
type Stats struct {
	mu   sync.Mutex
	snap StatsSnapshot
}

func (s *Stats) record(report *Report) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap.StageRemovals == nil {
		s.snap.StageRemovals = map[string]int{}
	}
	s.snap.Runs++
	s.snap.TotalInput += report.Input
	s.snap.TotalOutput += report.Output
	for _, st := range report.Stages {
		s.snap.StageRemovals[st.Name] += st.Removed
	}
}

// Snapshot returns a copy safe to read concurrently with Apply.
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.snap
	out.StageRemovals = map[string]int{}
	for k, v := range s.snap.StageRemovals {
		out.StageRemovals[k] = v
	}
	return out
}

// Reset clears the accumulated totals.
func (s *Stats) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = StatsSnapshot{StageRemovals: map[string]int{}}
}

// Merge folds another snapshot into this accumulator.
func (s *Stats) Merge(other StatsSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap.StageRemovals == nil {
		s.snap.StageRemovals = map[string]int{}
	}
	s.snap.Runs += other.Runs
	s.snap.TotalInput += other.TotalInput
	s.snap.TotalOutput += other.TotalOutput
	for k, v := range other.StageRemovals {
		s.snap.StageRemovals[k] += v
	}
}

// Stats exposes the pipeline's accumulator.
func (p *Pipeline) Stats() *Stats {
	return &p.stats
}
