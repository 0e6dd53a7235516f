// Package performance records execution outcomes and serves the
// time-decayed recommendation weights the router scores with.
package performance

import (
	"math"
	"sync"
	"time"

	"github.com/developer-mesh/orchestration-core/pkg/models"
	"github.com/developer-mesh/orchestration-core/pkg/observability"
)

// EMA smoothing factor for latency, cost and quality.
const emaAlpha = 0.1

// Recommendation weight parameters.
const (
	// minSamples below which the weight is neutral.
	minSamples = 10
	// neutralWeight returned when sample size is insufficient.
	neutralWeight = 0.5
	// decayHalfLifeHours is the confidence half-life (one week).
	decayHalfLifeHours = 168.0
)

// Store persists per-(model, task type) metrics. The in-memory map is
// the default; a durable implementation may back it.
type Store interface {
	Get(modelID string, taskType models.TaskType) (models.PerformanceMetrics, bool)
	Put(metrics models.PerformanceMetrics)
	All() []models.PerformanceMetrics
}

// memoryStore is the default Store.
type memoryStore struct {
	mu      sync.RWMutex
	metrics map[metricKey]models.PerformanceMetrics
}

type metricKey struct {
	modelID  string
	taskType models.TaskType
}

// NewMemoryStore creates the default in-memory store.
func NewMemoryStore() Store {
	return &memoryStore{metrics: make(map[metricKey]models.PerformanceMetrics)}
}

func (s *memoryStore) Get(modelID string, taskType models.TaskType) (models.PerformanceMetrics, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.metrics[metricKey{modelID, taskType}]
	return m, ok
}

func (s *memoryStore) Put(m models.PerformanceMetrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics[metricKey{m.ModelID, m.TaskType}] = m
}

func (s *memoryStore) All() []models.PerformanceMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.PerformanceMetrics, 0, len(s.metrics))
	for _, m := range s.metrics {
		out = append(out, m)
	}
	return out
}

// Tracker serializes recording and reads over a Store. Safe for
// interleaved record/read from arbitrary workers.
type Tracker struct {
	mu      sync.Mutex
	store   Store
	logger  observability.Logger
	metrics observability.MetricsClient
	now     func() time.Time
}

// NewTracker creates a tracker over the given store. A nil store gets
// the in-memory default.
func NewTracker(store Store, logger observability.Logger, metrics observability.MetricsClient) *Tracker {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Tracker{
		store:   store,
		logger:  logger.WithPrefix("performance"),
		metrics: metrics,
		now:     time.Now,
	}
}

// Record folds one execution outcome into the (model, task type)
// metrics. Latency, cost and quality update their EMAs only when
// supplied (non-nil).
func (t *Tracker) Record(modelID string, taskType models.TaskType, success bool, latencyMs, cost, quality *float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	m, ok := t.store.Get(modelID, taskType)
	if !ok {
		m = models.PerformanceMetrics{ModelID: modelID, TaskType: taskType}
	}

	m.Total++
	if success {
		m.Successful++
	} else {
		m.Failed++
	}
	if latencyMs != nil {
		m.AvgLatencyMs = ema(m.AvgLatencyMs, *latencyMs, m.Total)
	}
	if cost != nil {
		m.AvgCost = ema(m.AvgCost, *cost, m.Total)
	}
	if quality != nil {
		m.AvgQuality = ema(m.AvgQuality, *quality, m.Total)
	}
	m.LastUpdated = t.now().UTC()
	t.store.Put(m)

	t.metrics.RecordCounter("performance_samples_total", 1, map[string]string{
		"model":   modelID,
		"success": boolLabel(success),
	})
}

// Metrics returns the current metrics for the pair, if recorded.
func (t *Tracker) Metrics(modelID string, taskType models.TaskType) (models.PerformanceMetrics, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.store.Get(modelID, taskType)
}

// RecommendationWeight returns a [0,1] weight for the pair: neutral
// 0.5 under minSamples, otherwise 0.7·success_rate + 0.3·confidence
// where confidence decays with a one-week half-life since the last
// update.
func (t *Tracker) RecommendationWeight(modelID string, taskType models.TaskType) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	m, ok := t.store.Get(modelID, taskType)
	if !ok || m.Total < minSamples {
		return neutralWeight
	}

	sampleConfidence := math.Min(1, float64(m.Total)/100)
	ageHours := t.now().Sub(m.LastUpdated).Hours()
	if ageHours < 0 {
		ageHours = 0
	}
	confidence := sampleConfidence * math.Pow(0.5, ageHours/decayHalfLifeHours)

	return 0.7*m.SuccessRate() + 0.3*confidence
}

// ema folds value into prev. The first sample seeds the average
// directly so early values are not dragged toward zero.
func ema(prev, value float64, total int64) float64 {
	if total <= 1 || prev == 0 {
		return value
	}
	return emaAlpha*value + (1-emaAlpha)*prev
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
