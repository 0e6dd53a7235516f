package performance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/developer-mesh/orchestration-core/pkg/models"
	"github.com/developer-mesh/orchestration-core/pkg/observability"
)

func newTracker() *Tracker {
	return NewTracker(nil, observability.NewNoopLogger(), observability.NewNoopMetricsClient())
}

func floatPtr(v float64) *float64 { return &v }

func TestRecordCountsStayConsistent(t *testing.T) {
	tr := newTracker()

	for i := 0; i < 7; i++ {
		tr.Record("claude", models.TaskCodeGeneration, true, nil, nil, nil)
	}
	for i := 0; i < 3; i++ {
		tr.Record("claude", models.TaskCodeGeneration, false, nil, nil, nil)
	}

	m, ok := tr.Metrics("claude", models.TaskCodeGeneration)
	require.True(t, ok)
	assert.EqualValues(t, 10, m.Total)
	assert.EqualValues(t, 7, m.Successful)
	assert.EqualValues(t, 3, m.Failed)
	assert.Equal(t, m.Total, m.Successful+m.Failed)
	assert.InDelta(t, 0.7, m.SuccessRate(), 1e-9)
}

func TestRecordEMASeedsThenSmooths(t *testing.T) {
	tr := newTracker()

	tr.Record("claude", models.TaskGeneral, true, floatPtr(1000), nil, nil)
	m, _ := tr.Metrics("claude", models.TaskGeneral)
	assert.InDelta(t, 1000, m.AvgLatencyMs, 1e-9)

	tr.Record("claude", models.TaskGeneral, true, floatPtr(2000), nil, nil)
	m, _ = tr.Metrics("claude", models.TaskGeneral)
	// 0.1*2000 + 0.9*1000
	assert.InDelta(t, 1100, m.AvgLatencyMs, 1e-9)
}

func TestRecordNilOptionalsLeaveEMAsAlone(t *testing.T) {
	tr := newTracker()

	tr.Record("claude", models.TaskGeneral, true, floatPtr(500), floatPtr(0.01), nil)
	tr.Record("claude", models.TaskGeneral, true, nil, nil, nil)

	m, _ := tr.Metrics("claude", models.TaskGeneral)
	assert.InDelta(t, 500, m.AvgLatencyMs, 1e-9)
	assert.InDelta(t, 0.01, m.AvgCost, 1e-9)
	assert.Zero(t, m.AvgQuality)
}

func TestRecommendationWeightNeutralUnderMinSamples(t *testing.T) {
	tr := newTracker()

	for i := 0; i < 9; i++ {
		tr.Record("claude", models.TaskGeneral, true, nil, nil, nil)
	}
	assert.InDelta(t, 0.5, tr.RecommendationWeight("claude", models.TaskGeneral), 1e-9)
	assert.InDelta(t, 0.5, tr.RecommendationWeight("unknown", models.TaskGeneral), 1e-9)
}

func TestRecommendationWeightFormula(t *testing.T) {
	tr := newTracker()
	now := time.Now()
	tr.now = func() time.Time { return now }

	// 50 samples, 40 successes, fresh.
	for i := 0; i < 40; i++ {
		tr.Record("claude", models.TaskGeneral, true, nil, nil, nil)
	}
	for i := 0; i < 10; i++ {
		tr.Record("claude", models.TaskGeneral, false, nil, nil, nil)
	}

	// confidence = min(1, 50/100) * 0.5^0 = 0.5
	// weight = 0.7*0.8 + 0.3*0.5
	assert.InDelta(t, 0.71, tr.RecommendationWeight("claude", models.TaskGeneral), 1e-9)

	// One week later the confidence has halved.
	tr.now = func() time.Time { return now.Add(168 * time.Hour) }
	// weight = 0.7*0.8 + 0.3*0.25
	assert.InDelta(t, 0.635, tr.RecommendationWeight("claude", models.TaskGeneral), 1e-9)
}

func TestProviderMetricsStatsAndPercentiles(t *testing.T) {
	pm := NewProviderMetrics(100, observability.NewNoopLogger(), observability.NewNoopMetricsClient())

	for i := 1; i <= 100; i++ {
		pm.Record(Sample{
			Provider:  models.ProviderAnthropic,
			TaskType:  models.TaskGeneral,
			LatencyMs: float64(i * 10),
			Cost:      0.01,
			Success:   i <= 90,
		})
	}

	stats := pm.Stats(models.ProviderAnthropic, RangeHour, "")
	assert.Equal(t, 100, stats.Samples)
	assert.InDelta(t, 0.9, stats.SuccessRate, 1e-9)
	assert.InDelta(t, 0.01, stats.AvgCost, 1e-9)
	assert.InDelta(t, 510, stats.P50LatencyMs, 1e-9)
	assert.InDelta(t, 960, stats.P95LatencyMs, 1e-9)
	assert.InDelta(t, 1000, stats.P99LatencyMs, 1e-9)
}

func TestProviderMetricsRingOverwritesOldest(t *testing.T) {
	pm := NewProviderMetrics(10, observability.NewNoopLogger(), observability.NewNoopMetricsClient())

	for i := 0; i < 25; i++ {
		pm.Record(Sample{Provider: models.ProviderOpenAI, Success: true})
	}

	stats := pm.Stats(models.ProviderOpenAI, RangeHour, "")
	assert.Equal(t, 10, stats.Samples)
}

func TestProviderMetricsWinRates(t *testing.T) {
	pm := NewProviderMetrics(100, observability.NewNoopLogger(), observability.NewNoopMetricsClient())

	for i := 0; i < 10; i++ {
		pm.Record(Sample{Provider: models.ProviderAnthropic, TaskType: models.TaskCodeGeneration, Success: true})
		pm.Record(Sample{Provider: models.ProviderOpenAI, TaskType: models.TaskCodeGeneration, Success: i < 5})
	}

	rates := pm.WinRates(models.TaskCodeGeneration, RangeHour)
	assert.InDelta(t, 1.0, rates[models.ProviderAnthropic], 1e-9)
	assert.InDelta(t, 0.5, rates[models.ProviderOpenAI], 1e-9)
}

func TestProviderMetricsCostPerformanceCurveSorted(t *testing.T) {
	pm := NewProviderMetrics(100, observability.NewNoopLogger(), observability.NewNoopMetricsClient())

	pm.Record(Sample{Provider: models.ProviderAnthropic, Cost: 0.05, Success: true})
	pm.Record(Sample{Provider: models.ProviderOpenAI, Cost: 0.01, Success: true})
	pm.Record(Sample{Provider: models.ProviderGoogle, Cost: 0.03, Success: false})

	curve := pm.CostPerformanceCurve("", RangeHour)
	require.Len(t, curve, 3)
	assert.Equal(t, models.ProviderOpenAI, curve[0].Provider)
	assert.Equal(t, models.ProviderGoogle, curve[1].Provider)
	assert.Equal(t, models.ProviderAnthropic, curve[2].Provider)
}

func TestDetectAnomaliesCostSpike(t *testing.T) {
	pm := NewProviderMetrics(100, observability.NewNoopLogger(), observability.NewNoopMetricsClient())

	// Baseline providers around $0.01; the expensive one at $0.05.
	for i := 0; i < 10; i++ {
		pm.Record(Sample{Provider: models.ProviderOpenAI, Cost: 0.01, LatencyMs: 100, Success: true})
		pm.Record(Sample{Provider: models.ProviderGoogle, Cost: 0.01, LatencyMs: 100, Success: true})
		pm.Record(Sample{Provider: models.ProviderAnthropic, Cost: 0.05, LatencyMs: 100, Success: true})
	}

	anomalies := pm.DetectAnomalies(models.ProviderAnthropic, "", RangeHour)
	require.Len(t, anomalies, 1)
	assert.Equal(t, AnomalyCost, anomalies[0].Kind)
	assert.InDelta(t, 0.05, anomalies[0].Value, 1e-9)
}

func TestDetectAnomaliesNeedsMinimumSamples(t *testing.T) {
	pm := NewProviderMetrics(100, observability.NewNoopLogger(), observability.NewNoopMetricsClient())

	for i := 0; i < 5; i++ {
		pm.Record(Sample{Provider: models.ProviderAnthropic, Cost: 10.0, Success: true})
		pm.Record(Sample{Provider: models.ProviderOpenAI, Cost: 0.01, Success: true})
	}
	assert.Empty(t, pm.DetectAnomalies(models.ProviderAnthropic, "", RangeHour))
}

func TestDetectAnomaliesSuccessRateCollapse(t *testing.T) {
	pm := NewProviderMetrics(200, observability.NewNoopLogger(), observability.NewNoopMetricsClient())

	for i := 0; i < 20; i++ {
		pm.Record(Sample{Provider: models.ProviderOpenAI, Cost: 0.01, LatencyMs: 100, Success: true})
		pm.Record(Sample{Provider: models.ProviderAnthropic, Cost: 0.01, LatencyMs: 100, Success: i < 5})
	}

	anomalies := pm.DetectAnomalies(models.ProviderAnthropic, "", RangeHour)
	require.Len(t, anomalies, 1)
	assert.Equal(t, AnomalySuccessRate, anomalies[0].Kind)
}
