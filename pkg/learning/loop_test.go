package learning

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/developer-mesh/orchestration-core/pkg/models"
	"github.com/developer-mesh/orchestration-core/pkg/observability"
)

func floatPtr(v float64) *float64 { return &v }
func intPtr(v int) *int           { return &v }

func TestScore(t *testing.T) {
	tests := []struct {
		name string
		fb   models.FeedbackData
		want float64
	}{
		{
			name: "plain success",
			fb:   models.FeedbackData{Outcome: models.OutcomeSuccess},
			want: 1.0,
		},
		{
			name: "plain partial",
			fb:   models.FeedbackData{Outcome: models.OutcomePartial},
			want: 0.5,
		},
		{
			name: "plain failure",
			fb:   models.FeedbackData{Outcome: models.OutcomeFailure},
			want: 0.0,
		},
		{
			name: "success averaged with quality",
			fb:   models.FeedbackData{Outcome: models.OutcomeSuccess, QualityScore: floatPtr(0.6)},
			want: 0.8,
		},
		{
			name: "merged pr bonus clamps at one",
			fb:   models.FeedbackData{Outcome: models.OutcomeSuccess, PRMerged: true},
			want: 1.0,
		},
		{
			name: "reverted pr drags success down",
			fb:   models.FeedbackData{Outcome: models.OutcomeSuccess, PRReverted: true},
			want: 0.5,
		},
		{
			name: "reverted failure clamps at zero",
			fb:   models.FeedbackData{Outcome: models.OutcomeFailure, PRReverted: true},
			want: 0.0,
		},
		{
			name: "user rating blends last",
			fb:   models.FeedbackData{Outcome: models.OutcomeSuccess, UserRating: intPtr(3)},
			want: 0.8,
		},
		{
			name: "full stack",
			fb: models.FeedbackData{
				Outcome:      models.OutcomePartial,
				QualityScore: floatPtr(0.9),
				PRMerged:     true,
				UserRating:   intPtr(4),
			},
			// (0.5+0.9)/2 = 0.7, +0.2 = 0.9, (0.9+0.8)/2 = 0.85
			want: 0.85,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Score(tt.fb), 1e-9)
		})
	}
}

func TestProcessFeedbackMovesWeightSlowly(t *testing.T) {
	loop := NewLoop(observability.NewNoopLogger(), observability.NewNoopMetricsClient())

	// Unseen pair starts neutral.
	assert.InDelta(t, 0.5, loop.ModelWeight("claude", models.TaskCodeGeneration), 1e-9)

	w := loop.ProcessFeedback(models.FeedbackData{
		ModelID:  "claude",
		TaskType: models.TaskCodeGeneration,
		Outcome:  models.OutcomeSuccess,
	})
	// 0.1*1.0 + 0.9*0.5
	assert.InDelta(t, 0.55, w, 1e-9)
	assert.InDelta(t, 0.55, loop.ModelWeight("claude", models.TaskCodeGeneration), 1e-9)

	w = loop.ProcessFeedback(models.FeedbackData{
		ModelID:  "claude",
		TaskType: models.TaskCodeGeneration,
		Outcome:  models.OutcomeFailure,
	})
	// 0.1*0.0 + 0.9*0.55
	assert.InDelta(t, 0.495, w, 1e-9)
}

func TestModelWeightIsPerTaskType(t *testing.T) {
	loop := NewLoop(observability.NewNoopLogger(), observability.NewNoopMetricsClient())

	loop.ProcessFeedback(models.FeedbackData{
		ModelID:  "claude",
		TaskType: models.TaskCodeGeneration,
		Outcome:  models.OutcomeSuccess,
	})

	assert.InDelta(t, 0.55, loop.ModelWeight("claude", models.TaskCodeGeneration), 1e-9)
	assert.InDelta(t, 0.5, loop.ModelWeight("claude", models.TaskReasoning), 1e-9)
}

func TestABTestLifecycle(t *testing.T) {
	tester := NewABTester(observability.NewNoopLogger())

	id, err := tester.StartTest(ABTestConfig{
		ModelA:       "claude",
		ModelB:       "gpt",
		TaskType:     models.TaskCodeGeneration,
		TrafficSplit: 0.5,
		MinSamples:   5,
		DurationDays: 7,
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	// Assignment only ever returns an arm of the test.
	for i := 0; i < 50; i++ {
		model, err := tester.Assign(id)
		require.NoError(t, err)
		assert.Contains(t, []string{"claude", "gpt"}, model)
	}

	for i := 0; i < 10; i++ {
		require.NoError(t, tester.RecordObservation(id, "claude", true, 1.0))
		require.NoError(t, tester.RecordObservation(id, "gpt", i < 5, 0.5))
	}

	analysis, err := tester.Analyze(id)
	require.NoError(t, err)
	assert.Equal(t, "claude", analysis.Winner)
	assert.Equal(t, 10, analysis.ArmA.Samples)
	assert.InDelta(t, 1.0, analysis.ArmA.SuccessRate, 1e-9)
	assert.InDelta(t, 0.5, analysis.ArmB.SuccessRate, 1e-9)
	assert.InDelta(t, 0.5, analysis.ArmB.MeanScore, 1e-9)
}

func TestABTestExpiredStopsTakingTraffic(t *testing.T) {
	tester := NewABTester(observability.NewNoopLogger())
	start := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	current := start
	tester.now = func() time.Time { return current }

	id, err := tester.StartTest(ABTestConfig{
		ModelA:       "claude",
		ModelB:       "gpt",
		TaskType:     models.TaskCodeGeneration,
		TrafficSplit: 0.5,
		MinSamples:   5,
		DurationDays: 7,
	})
	require.NoError(t, err)

	_, err = tester.Assign(id)
	require.NoError(t, err)

	current = start.AddDate(0, 0, 8)
	_, err = tester.Assign(id)
	assert.Error(t, err)

	// Late observations are still silently dropped.
	require.NoError(t, tester.RecordObservation(id, "claude", true, 1.0))
	analysis, err := tester.Analyze(id)
	require.NoError(t, err)
	assert.Zero(t, analysis.ArmA.Samples)
}

func TestABTestSymmetry(t *testing.T) {
	// Swapping the arms swaps the winner.
	run := func(a, b string, aWins bool) string {
		tester := NewABTester(observability.NewNoopLogger())
		id, err := tester.StartTest(ABTestConfig{
			ModelA:       a,
			ModelB:       b,
			TaskType:     models.TaskReasoning,
			TrafficSplit: 0.5,
			MinSamples:   4,
			DurationDays: 1,
		})
		require.NoError(t, err)
		winner := map[bool]string{true: a, false: b}[aWins]
		loser := map[bool]string{true: b, false: a}[aWins]
		for i := 0; i < 4; i++ {
			require.NoError(t, tester.RecordObservation(id, winner, true, 1.0))
			require.NoError(t, tester.RecordObservation(id, loser, false, 0.0))
		}
		analysis, err := tester.Analyze(id)
		require.NoError(t, err)
		return analysis.Winner
	}

	assert.Equal(t, "claude", run("claude", "gpt", true))
	assert.Equal(t, "claude", run("gpt", "claude", false))
}

func TestABTestInsufficientSamples(t *testing.T) {
	tester := NewABTester(observability.NewNoopLogger())
	id, err := tester.StartTest(ABTestConfig{
		ModelA:       "claude",
		ModelB:       "gpt",
		TaskType:     models.TaskReasoning,
		TrafficSplit: 0.5,
		MinSamples:   10,
		DurationDays: 7,
	})
	require.NoError(t, err)

	require.NoError(t, tester.RecordObservation(id, "claude", true, 1.0))

	analysis, err := tester.Analyze(id)
	require.NoError(t, err)
	assert.Equal(t, string(VerdictInsufficientSamples), analysis.Winner)
}

func TestABTestInconclusiveWithinThreshold(t *testing.T) {
	tester := NewABTester(observability.NewNoopLogger())
	id, err := tester.StartTest(ABTestConfig{
		ModelA:       "claude",
		ModelB:       "gpt",
		TaskType:     models.TaskReasoning,
		TrafficSplit: 0.5,
		MinSamples:   20,
		DurationDays: 7,
	})
	require.NoError(t, err)

	// 100% vs 96%: a four-point gap stays inconclusive.
	for i := 0; i < 25; i++ {
		require.NoError(t, tester.RecordObservation(id, "claude", true, 1.0))
		require.NoError(t, tester.RecordObservation(id, "gpt", i != 0, 1.0))
	}

	analysis, err := tester.Analyze(id)
	require.NoError(t, err)
	assert.Equal(t, string(VerdictInconclusive), analysis.Winner)
}

func TestStartTestValidation(t *testing.T) {
	tester := NewABTester(observability.NewNoopLogger())

	_, err := tester.StartTest(ABTestConfig{
		ModelA: "claude", ModelB: "claude", TaskType: models.TaskReasoning,
		TrafficSplit: 0.5, MinSamples: 1, DurationDays: 1,
	})
	assert.Error(t, err)

	_, err = tester.StartTest(ABTestConfig{
		ModelA: "claude", ModelB: "gpt", TaskType: models.TaskReasoning,
		TrafficSplit: 1.5, MinSamples: 1, DurationDays: 1,
	})
	assert.Error(t, err)

	_, err = tester.Assign("no-such-test")
	assert.Error(t, err)
}
