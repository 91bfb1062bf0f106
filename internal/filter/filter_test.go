package filter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockrun/stockrun/internal/domain"
)

var testNow = time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

func makeSignal(t *testing.T, side domain.Side, conf, price float64, ts time.Time) *domain.TradingSignal {
	t.Helper()
	s, err := domain.NewSignal(side, domain.ActionEnter, conf, price, ts, "test")
	require.NoError(t, err)
	s.PositionSize = 0.2
	return s
}

func withRisk(t *testing.T, s *domain.TradingSignal, stop, target float64) *domain.TradingSignal {
	t.Helper()
	_, err := s.WithRiskLevels(stop, target)
	require.NoError(t, err)
	return s
}

func stageByName(t *testing.T, report *Report, name string) StageReport {
	t.Helper()
	for _, st := range report.Stages {
		if st.Name == name {
			return st
		}
	}
	t.Fatalf("stage %s not in report", name)
	return StageReport{}
}

func TestMarketState_Assess(t *testing.T) {
	tests := []struct {
		name  string
		state MarketState
		want  MarketCondition
	}{
		{"volatility dominates", MarketState{Volatility: 0.08, VolumeRatio: 0.1, TrendStrength: 0.9}, ConditionHighVolatility},
		{"thin volume", MarketState{Volatility: 0.01, VolumeRatio: 0.4}, ConditionLowLiquidity},
		{"strong uptrend", MarketState{Volatility: 0.01, VolumeRatio: 1.0, TrendStrength: 0.8}, ConditionStrongTrend},
		{"strong downtrend", MarketState{Volatility: 0.01, VolumeRatio: 1.0, TrendStrength: -0.8}, ConditionStrongDowntrend},
		{"normal", MarketState{Volatility: 0.01, VolumeRatio: 1.0, TrendStrength: 0.2}, ConditionNormal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.state.Assess())
		})
	}
}

func TestGradeFor(t *testing.T) {
	assert.Equal(t, GradeExcellent, GradeFor(0.9))
	assert.Equal(t, GradeGood, GradeFor(0.78))
	assert.Equal(t, GradeFair, GradeFor(0.7))
	assert.Equal(t, GradePoor, GradeFor(0.5))
}

func TestCriteria_Validate(t *testing.T) {
	require.NoError(t, DefaultCriteria().Validate())

	inverted := DefaultCriteria()
	inverted.MinConfidence = 0.9
	inverted.MaxConfidence = 0.5
	assert.Error(t, inverted.Validate())

	badHours := DefaultCriteria()
	badHours.TradingHourStart = 25
	assert.Error(t, badHours.Validate())

	badQuality := DefaultCriteria()
	badQuality.MinQualityScore = 1.5
	assert.Error(t, badQuality.Validate())
}

func TestApply_ConfidenceRange(t *testing.T) {
	crit := DefaultCriteria()
	crit.MinConfidence = 0.6
	crit.RemoveDuplicates = false
	crit.MinQualityScore = 0
	p, err := New(crit)
	require.NoError(t, err)

	high := makeSignal(t, domain.SideBuy, 0.8, 100, testNow)
	low := makeSignal(t, domain.SideBuy, 0.4, 200, testNow)

	kept, report := p.Apply([]*domain.TradingSignal{high, low}, nil, testNow)

	require.Len(t, kept, 1)
	assert.Equal(t, high.ID, kept[0].ID)

	st := stageByName(t, report, "confidence_range")
	assert.Equal(t, 1, st.Removed)
	require.Len(t, st.Reasons, 1)
	assert.Contains(t, st.Reasons[0], "confidence 0.40")
}

func TestApply_SideAllowList(t *testing.T) {
	crit := DefaultCriteria()
	crit.AllowedSides = []domain.Side{domain.SideBuy}
	crit.RemoveDuplicates = false
	crit.MinQualityScore = 0
	p, err := New(crit)
	require.NoError(t, err)

	buy := makeSignal(t, domain.SideBuy, 0.7, 100, testNow)
	sell := makeSignal(t, domain.SideSell, 0.7, 200, testNow)

	kept, _ := p.Apply([]*domain.TradingSignal{buy, sell}, nil, testNow)
	require.Len(t, kept, 1)
	assert.Equal(t, domain.SideBuy, kept[0].Side)
}

func TestApply_DuplicateRemovalKeepsEarliest(t *testing.T) {
	crit := DefaultCriteria()
	crit.MinQualityScore = 0
	p, err := New(crit)
	require.NoError(t, err)

	first := makeSignal(t, domain.SideBuy, 0.7, 100.0, testNow)
	nearDup := makeSignal(t, domain.SideBuy, 0.9, 100.5, testNow.Add(10*time.Minute))
	otherSide := makeSignal(t, domain.SideSell, 0.7, 100.2, testNow.Add(5*time.Minute))
	farPrice := makeSignal(t, domain.SideBuy, 0.7, 102.0, testNow.Add(5*time.Minute))

	kept, report := p.Apply([]*domain.TradingSignal{nearDup, first, otherSide, farPrice}, nil, testNow)

	ids := make(map[string]bool, len(kept))
	for _, s := range kept {
		ids[s.ID] = true
	}
	assert.True(t, ids[first.ID], "earliest of the pair survives")
	assert.False(t, ids[nearDup.ID], "later near-price same-side signal is a duplicate")
	assert.True(t, ids[otherSide.ID], "side differs, not a duplicate")
	assert.True(t, ids[farPrice.ID], "price gap over 1 percent, not a duplicate")

	assert.Equal(t, 1, stageByName(t, report, "duplicates").Removed)
}

func TestApply_DuplicateOutsideWindowSurvives(t *testing.T) {
	crit := DefaultCriteria()
	crit.MinQualityScore = 0
	p, err := New(crit)
	require.NoError(t, err)

	first := makeSignal(t, domain.SideBuy, 0.7, 100.0, testNow)
	later := makeSignal(t, domain.SideBuy, 0.7, 100.1, testNow.Add(45*time.Minute))

	kept, _ := p.Apply([]*domain.TradingSignal{first, later}, nil, testNow)
	assert.Len(t, kept, 2)
}

func TestApply_MinRiskReward(t *testing.T) {
	crit := DefaultCriteria()
	crit.RemoveDuplicates = false
	crit.MinQualityScore = 0
	crit.MinRiskReward = 2.0
	p, err := New(crit)
	require.NoError(t, err)

	good := withRisk(t, makeSignal(t, domain.SideBuy, 0.7, 100, testNow), 98, 106)
	poor := withRisk(t, makeSignal(t, domain.SideBuy, 0.7, 200, testNow), 196, 204)
	noRisk := makeSignal(t, domain.SideBuy, 0.7, 300, testNow)

	kept, report := p.Apply([]*domain.TradingSignal{good, poor, noRisk}, nil, testNow)

	require.Len(t, kept, 2)
	assert.Equal(t, 1, stageByName(t, report, "risk_reward").Removed)

	ids := map[string]bool{kept[0].ID: true, kept[1].ID: true}
	assert.True(t, ids[good.ID])
	assert.True(t, ids[noRisk.ID], "signals without risk levels pass the ratio stage")
}

func TestApply_MarketConditions(t *testing.T) {
	crit := DefaultCriteria()
	crit.RemoveDuplicates = false
	crit.MinQualityScore = 0
	crit.AllowedConditions = []MarketCondition{ConditionNormal, ConditionStrongTrend}
	p, err := New(crit)
	require.NoError(t, err)

	s := makeSignal(t, domain.SideBuy, 0.7, 100, testNow)

	kept, _ := p.Apply([]*domain.TradingSignal{s}, &MarketState{Volatility: 0.08}, testNow)
	assert.Empty(t, kept, "high volatility is not on the allow-list")

	kept, _ = p.Apply([]*domain.TradingSignal{s}, &MarketState{Volatility: 0.01, VolumeRatio: 1.0}, testNow)
	assert.Len(t, kept, 1)

	kept, _ = p.Apply([]*domain.TradingSignal{s}, nil, testNow)
	assert.Len(t, kept, 1, "stage is skipped without market data")
}

func TestApply_DailyCapKeepsHighestConfidence(t *testing.T) {
	crit := DefaultCriteria()
	crit.RemoveDuplicates = false
	crit.MinQualityScore = 0
	crit.MaxSignalsPerDay = 2
	p, err := New(crit)
	require.NoError(t, err)

	a := makeSignal(t, domain.SideBuy, 0.9, 100, testNow)
	b := makeSignal(t, domain.SideBuy, 0.6, 200, testNow)
	c := makeSignal(t, domain.SideBuy, 0.8, 300, testNow)

	kept, report := p.Apply([]*domain.TradingSignal{b, a, c}, nil, testNow)

	require.Len(t, kept, 2)
	assert.Equal(t, a.ID, kept[0].ID)
	assert.Equal(t, c.ID, kept[1].ID)
	assert.Equal(t, 1, stageByName(t, report, "daily_cap").Removed)
}

func TestApply_QualityFloor(t *testing.T) {
	p, err := New(DefaultCriteria())
	require.NoError(t, err)

	strong := withRisk(t, makeSignal(t, domain.SideBuy, 0.8, 100, testNow), 98, 106)
	strong.Metadata = map[string]string{"confirmation_count": "3"}
	stale := makeSignal(t, domain.SideBuy, 0.3, 200, testNow.Add(-30*time.Hour))

	kept, report := p.Apply([]*domain.TradingSignal{strong, stale}, nil, testNow)

	require.Len(t, kept, 1)
	assert.Equal(t, strong.ID, kept[0].ID)

	q, ok := report.SignalQuality[strong.ID]
	require.True(t, ok)
	// 0.8*0.4 + 1.0*0.25 + 1.0*0.2 + 0.5*0.1 + 1.0*0.05
	assert.InDelta(t, 0.87, q.Score, 1e-9)
	assert.Equal(t, GradeExcellent, q.Grade)

	q, ok = report.SignalQuality[stale.ID]
	require.True(t, ok)
	assert.Less(t, q.Score, 0.5)
	assert.Equal(t, GradePoor, q.Grade)
	assert.Equal(t, 1, stageByName(t, report, "quality").Removed)
}

func TestQualityScore_NeutralDefaults(t *testing.T) {
	s := makeSignal(t, domain.SideBuy, 0.5, 100, testNow)

	// 0.5*0.4 + 0.5*0.25 + 0.5*0.2 + 0.5*0.1 + 1.0*0.05
	assert.InDelta(t, 0.525, QualityScore(s, nil, testNow), 1e-9)
}

func TestMarketFit(t *testing.T) {
	assert.Equal(t, 0.9, marketFit(domain.SideBuy, ConditionStrongTrend))
	assert.Equal(t, 0.3, marketFit(domain.SideSell, ConditionStrongTrend))
	assert.Equal(t, 0.9, marketFit(domain.SideSell, ConditionStrongDowntrend))
	assert.Equal(t, 0.5, marketFit(domain.SideHold, ConditionNormal))
}

func TestApply_Idempotent(t *testing.T) {
	crit := DefaultCriteria()
	crit.MinConfidence = 0.5
	crit.MaxSignalsPerDay = 2
	crit.MinRiskReward = 1.5
	p, err := New(crit)
	require.NoError(t, err)

	batch := []*domain.TradingSignal{
		withRisk(t, makeSignal(t, domain.SideBuy, 0.9, 100, testNow), 98, 106),
		withRisk(t, makeSignal(t, domain.SideBuy, 0.85, 100.3, testNow.Add(10*time.Minute)), 98, 106),
		withRisk(t, makeSignal(t, domain.SideSell, 0.8, 150, testNow), 153, 144),
		withRisk(t, makeSignal(t, domain.SideBuy, 0.4, 120, testNow), 118, 126),
	}

	first, _ := p.Apply(batch, nil, testNow)
	second, report := p.Apply(first, nil, testNow)

	require.Equal(t, len(first), len(second), "a filtered batch passes unchanged")
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
	}
	for _, st := range report.Stages {
		assert.Zero(t, st.Removed, "stage %s removed signals on the second pass", st.Name)
	}
}

func TestApply_ReportShape(t *testing.T) {
	p, err := New(DefaultCriteria())
	require.NoError(t, err)

	a := withRisk(t, makeSignal(t, domain.SideBuy, 0.9, 100, testNow), 98, 106)
	a.Metadata = map[string]string{"confirmation_count": "3"}
	b := withRisk(t, makeSignal(t, domain.SideSell, 0.7, 200, testNow), 204, 192)
	b.Metadata = map[string]string{"confirmation_count": "2"}

	kept, report := p.Apply([]*domain.TradingSignal{a, b}, nil, testNow)

	assert.Equal(t, 2, report.Input)
	assert.Equal(t, len(kept), report.Output)
	assert.InDelta(t, 1.0, report.Efficiency.RetentionRate, 1e-9)
	assert.InDelta(t, 0.8, report.Quality.AvgConfidence, 1e-9)
	assert.InDelta(t, 0.7, report.Quality.MinConfidence, 1e-9)
	assert.InDelta(t, 0.9, report.Quality.MaxConfidence, 1e-9)
	require.NotEmpty(t, report.Top)
	assert.Equal(t, a.ID, report.Top[0].ID)
	assert.Contains(t, report.Recommendations, "under 20% of signals filtered, consider tightening criteria")
}

func TestApply_EmptyInput(t *testing.T) {
	p, err := New(DefaultCriteria())
	require.NoError(t, err)

	kept, report := p.Apply(nil, nil, testNow)
	assert.Empty(t, kept)
	assert.Zero(t, report.Input)
	assert.Empty(t, report.Recommendations)
	assert.Zero(t, report.Efficiency.FilterRate)
}

func TestStats_RecordResetMerge(t *testing.T) {
	crit := DefaultCriteria()
	crit.MinConfidence = 0.6
	crit.RemoveDuplicates = false
	crit.MinQualityScore = 0
	p, err := New(crit)
	require.NoError(t, err)

	p.Apply([]*domain.TradingSignal{
		makeSignal(t, domain.SideBuy, 0.8, 100, testNow),
		makeSignal(t, domain.SideBuy, 0.4, 200, testNow),
	}, nil, testNow)

	snap := p.Stats().Snapshot()
	assert.Equal(t, 1, snap.Runs)
	assert.Equal(t, 2, snap.TotalInput)
	assert.Equal(t, 1, snap.TotalOutput)
	assert.Equal(t, 1, snap.StageRemovals["confidence_range"])

	var merged Stats
	merged.Merge(snap)
	merged.Merge(snap)
	combined := merged.Snapshot()
	assert.Equal(t, 2, combined.Runs)
	assert.Equal(t, 4, combined.TotalInput)

	p.Stats().Reset()
	assert.Zero(t, p.Stats().Snapshot().Runs)
}