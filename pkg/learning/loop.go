// Package learning folds execution feedback into per-model weights the
// router scores with, and runs A/B tests between model pairs.
package learning

import (
	"sync"
	"time"

	"github.com/developer-mesh/orchestration-core/pkg/models"
	"github.com/developer-mesh/orchestration-core/pkg/observability"
)

// weightAlpha is the EMA factor for learned weights.
const weightAlpha = 0.1

// DefaultWeight is returned for pairs with no recorded feedback.
const DefaultWeight = 0.5

// PR signal adjustments on the feedback score.
const (
	prMergedBonus    = 0.2
	prRevertedMalus  = 0.5
	userRatingDenorm = 5.0
)

type weightKey struct {
	modelID  string
	taskType models.TaskType
}

// Loop maintains learned weights per (model, task type). Weights move
// slowly: each feedback shifts them a tenth of the way to its score.
type Loop struct {
	mu      sync.RWMutex
	weights map[weightKey]float64
	logger  observability.Logger
	metrics observability.MetricsClient
	now     func() time.Time
}

// NewLoop creates a learning loop.
func NewLoop(logger observability.Logger, metrics observability.MetricsClient) *Loop {
	return &Loop{
		weights: make(map[weightKey]float64),
		logger:  logger.WithPrefix("learning"),
		metrics: metrics,
		now:     time.Now,
	}
}

// Score converts feedback into a [0,1] score: the outcome base,
// averaged with the quality score when present, adjusted by PR merge
// and revert signals, then averaged with the normalized user rating
// when present.
func Score(fb models.FeedbackData) float64 {
	score := outcomeBase(fb.Outcome)
	if fb.QualityScore != nil {
		score = (score + *fb.QualityScore) / 2
	}
	if fb.PRMerged {
		score += prMergedBonus
	}
	if fb.PRReverted {
		score -= prRevertedMalus
	}
	if fb.UserRating != nil {
		score = (score + float64(*fb.UserRating)/userRatingDenorm) / 2
	}
	return clamp01(score)
}

// ProcessFeedback folds one feedback record into the pair's learned
// weight and into any running A/B test observing the model.
func (l *Loop) ProcessFeedback(fb models.FeedbackData) float64 {
	score := Score(fb)
	key := weightKey{fb.ModelID, fb.TaskType}

	l.mu.Lock()
	prev, ok := l.weights[key]
	if !ok {
		prev = DefaultWeight
	}
	updated := weightAlpha*score + (1-weightAlpha)*prev
	l.weights[key] = updated
	l.mu.Unlock()

	l.logger.Debug("feedback processed", map[string]interface{}{
		"model_id":  fb.ModelID,
		"task_type": string(fb.TaskType),
		"score":     score,
		"weight":    updated,
	})
	l.metrics.RecordHistogram("learning_feedback_score", score, map[string]string{
		"model": fb.ModelID,
	})
	return updated
}

// ModelWeight returns the learned weight for the pair, DefaultWeight
// when unseen.
func (l *Loop) ModelWeight(modelID string, taskType models.TaskType) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if w, ok := l.weights[weightKey{modelID, taskType}]; ok {
		return w
	}
	return DefaultWeight
}

func outcomeBase(outcome models.FeedbackOutcome) float64 {
	switch outcome {
	case models.OutcomeSuccess:
		return 1.0
	case models.OutcomePartial:
		return 0.5
	default:
		return 0.0
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
