package performance

import (
	"sort"
	"sync"
	"time"

	"github.com/developer-mesh/orchestration-core/pkg/models"
	"github.com/developer-mesh/orchestration-core/pkg/observability"
)

// DefaultRingSize bounds the provider sample ring.
const DefaultRingSize = 10000

// anomalyMinSamples is the floor below which no anomaly is emitted.
const anomalyMinSamples = 10

// TimeRange selects the lookback window for provider statistics.
type TimeRange string

// Supported lookback windows.
const (
	RangeHour  TimeRange = "1h"
	RangeDay   TimeRange = "24h"
	RangeWeek  TimeRange = "7d"
	RangeMonth TimeRange = "30d"
)

// Duration converts the range to a time.Duration.
func (r TimeRange) Duration() time.Duration {
	switch r {
	case RangeHour:
		return time.Hour
	case RangeDay:
		return 24 * time.Hour
	case RangeWeek:
		return 7 * 24 * time.Hour
	case RangeMonth:
		return 30 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// Sample is one recorded provider execution.
type Sample struct {
	Provider       models.Provider
	TaskType       models.TaskType
	TokensIn       int
	TokensOut      int
	Cost           float64
	LatencyMs      float64
	Success        bool
	ToolCallsCount int
	Timestamp      time.Time
}

// ProviderStats summarizes a provider over a window.
type ProviderStats struct {
	Provider     models.Provider `json:"provider"`
	Samples      int             `json:"samples"`
	SuccessRate  float64         `json:"success_rate"`
	AvgCost      float64         `json:"avg_cost"`
	AvgLatencyMs float64         `json:"avg_latency_ms"`
	P50LatencyMs float64         `json:"p50_latency_ms"`
	P95LatencyMs float64         `json:"p95_latency_ms"`
	P99LatencyMs float64         `json:"p99_latency_ms"`
	AvgTokensIn  float64         `json:"avg_tokens_in"`
	AvgTokensOut float64         `json:"avg_tokens_out"`
}

// CostPerformancePoint is one provider on the cost/quality curve.
type CostPerformancePoint struct {
	Provider    models.Provider `json:"provider"`
	AvgCost     float64         `json:"avg_cost"`
	SuccessRate float64         `json:"success_rate"`
}

// AnomalyKind labels what an anomaly report flags.
type AnomalyKind string

// Anomaly kinds.
const (
	AnomalyCost        AnomalyKind = "cost"
	AnomalyLatency     AnomalyKind = "latency"
	AnomalySuccessRate AnomalyKind = "success_rate"
)

// Anomaly flags a provider deviating from the cross-provider baseline.
// Anomalies warn; they never block a call.
type Anomaly struct {
	Provider models.Provider `json:"provider"`
	Kind     AnomalyKind     `json:"kind"`
	Value    float64         `json:"value"`
	Baseline float64         `json:"baseline"`
	Message  string          `json:"message"`
}

// ProviderMetrics keeps a bounded ring of execution samples and
// derives windowed statistics, win rates, cost curves and anomaly
// reports from it. Samples may arrive out of wall-clock order.
type ProviderMetrics struct {
	mu      sync.RWMutex
	ring    []Sample
	next    int
	filled  bool
	size    int
	logger  observability.Logger
	metrics observability.MetricsClient
	now     func() time.Time
}

// NewProviderMetrics creates a provider metrics recorder with the
// given ring size (DefaultRingSize when <= 0).
func NewProviderMetrics(size int, logger observability.Logger, metrics observability.MetricsClient) *ProviderMetrics {
	if size <= 0 {
		size = DefaultRingSize
	}
	return &ProviderMetrics{
		ring:    make([]Sample, size),
		size:    size,
		logger:  logger.WithPrefix("provider-metrics"),
		metrics: metrics,
		now:     time.Now,
	}
}

// Record appends one sample, overwriting the oldest when the ring is
// full.
func (pm *ProviderMetrics) Record(s Sample) {
	if s.Timestamp.IsZero() {
		s.Timestamp = pm.now().UTC()
	}

	pm.mu.Lock()
	pm.ring[pm.next] = s
	pm.next = (pm.next + 1) % pm.size
	if pm.next == 0 {
		pm.filled = true
	}
	pm.mu.Unlock()

	pm.metrics.RecordCounter("provider_samples_total", 1, map[string]string{
		"provider": string(s.Provider),
		"success":  boolLabel(s.Success),
	})
}

// Stats computes windowed statistics for a provider, optionally
// filtered by task type (empty matches all).
func (pm *ProviderMetrics) Stats(provider models.Provider, window TimeRange, taskType models.TaskType) ProviderStats {
	samples := pm.collect(window, func(s *Sample) bool {
		return s.Provider == provider && (taskType == "" || s.TaskType == taskType)
	})

	stats := ProviderStats{Provider: provider, Samples: len(samples)}
	if len(samples) == 0 {
		return stats
	}

	latencies := make([]float64, 0, len(samples))
	var successes int
	var costSum, latencySum, inSum, outSum float64
	for _, s := range samples {
		if s.Success {
			successes++
		}
		costSum += s.Cost
		latencySum += s.LatencyMs
		inSum += float64(s.TokensIn)
		outSum += float64(s.TokensOut)
		latencies = append(latencies, s.LatencyMs)
	}

	n := float64(len(samples))
	stats.SuccessRate = float64(successes) / n
	stats.AvgCost = costSum / n
	stats.AvgLatencyMs = latencySum / n
	stats.AvgTokensIn = inSum / n
	stats.AvgTokensOut = outSum / n

	sort.Float64s(latencies)
	stats.P50LatencyMs = percentile(latencies, 0.50)
	stats.P95LatencyMs = percentile(latencies, 0.95)
	stats.P99LatencyMs = percentile(latencies, 0.99)
	return stats
}

// WinRates returns the per-provider success rate on a task class over
// the window.
func (pm *ProviderMetrics) WinRates(taskType models.TaskType, window TimeRange) map[models.Provider]float64 {
	samples := pm.collect(window, func(s *Sample) bool {
		return taskType == "" || s.TaskType == taskType
	})

	totals := make(map[models.Provider]int)
	wins := make(map[models.Provider]int)
	for _, s := range samples {
		totals[s.Provider]++
		if s.Success {
			wins[s.Provider]++
		}
	}

	rates := make(map[models.Provider]float64, len(totals))
	for p, total := range totals {
		rates[p] = float64(wins[p]) / float64(total)
	}
	return rates
}

// CostPerformanceCurve returns (provider, avg cost, success rate)
// points sorted by cost ascending.
func (pm *ProviderMetrics) CostPerformanceCurve(taskType models.TaskType, window TimeRange) []CostPerformancePoint {
	samples := pm.collect(window, func(s *Sample) bool {
		return taskType == "" || s.TaskType == taskType
	})

	type agg struct {
		cost  float64
		wins  int
		total int
	}
	byProvider := make(map[models.Provider]*agg)
	for _, s := range samples {
		a := byProvider[s.Provider]
		if a == nil {
			a = &agg{}
			byProvider[s.Provider] = a
		}
		a.cost += s.Cost
		a.total++
		if s.Success {
			a.wins++
		}
	}

	curve := make([]CostPerformancePoint, 0, len(byProvider))
	for p, a := range byProvider {
		curve = append(curve, CostPerformancePoint{
			Provider:    p,
			AvgCost:     a.cost / float64(a.total),
			SuccessRate: float64(a.wins) / float64(a.total),
		})
	}
	sort.Slice(curve, func(i, j int) bool { return curve[i].AvgCost < curve[j].AvgCost })
	return curve
}

// DetectAnomalies compares the provider against the cross-provider
// mean over the window and flags cost > 2x baseline, latency > 2x
// baseline, or success rate < 0.5x baseline. Nothing is emitted under
// anomalyMinSamples.
func (pm *ProviderMetrics) DetectAnomalies(provider models.Provider, taskType models.TaskType, window TimeRange) []Anomaly {
	stats := pm.Stats(provider, window, taskType)
	if stats.Samples < anomalyMinSamples {
		return nil
	}

	all := pm.collect(window, func(s *Sample) bool {
		return s.Provider != provider && (taskType == "" || s.TaskType == taskType)
	})
	if len(all) < anomalyMinSamples {
		return nil
	}

	var costSum, latencySum float64
	var wins int
	for _, s := range all {
		costSum += s.Cost
		latencySum += s.LatencyMs
		if s.Success {
			wins++
		}
	}
	n := float64(len(all))
	baseCost := costSum / n
	baseLatency := latencySum / n
	baseSuccess := float64(wins) / n

	var anomalies []Anomaly
	if baseCost > 0 && stats.AvgCost > 2*baseCost {
		anomalies = append(anomalies, Anomaly{
			Provider: provider, Kind: AnomalyCost,
			Value: stats.AvgCost, Baseline: baseCost,
			Message: "average cost exceeds 2x cross-provider baseline",
		})
	}
	if baseLatency > 0 && stats.AvgLatencyMs > 2*baseLatency {
		anomalies = append(anomalies, Anomaly{
			Provider: provider, Kind: AnomalyLatency,
			Value: stats.AvgLatencyMs, Baseline: baseLatency,
			Message: "average latency exceeds 2x cross-provider baseline",
		})
	}
	if baseSuccess > 0 && stats.SuccessRate < 0.5*baseSuccess {
		anomalies = append(anomalies, Anomaly{
			Provider: provider, Kind: AnomalySuccessRate,
			Value: stats.SuccessRate, Baseline: baseSuccess,
			Message: "success rate below half the cross-provider baseline",
		})
	}

	for _, a := range anomalies {
		pm.logger.Warn("provider anomaly detected", map[string]interface{}{
			"provider": string(a.Provider),
			"kind":     string(a.Kind),
			"value":    a.Value,
			"baseline": a.Baseline,
		})
	}
	return anomalies
}

// collect snapshots ring entries inside the window matching the
// predicate.
func (pm *ProviderMetrics) collect(window TimeRange, match func(*Sample) bool) []Sample {
	cutoff := pm.now().Add(-window.Duration())

	pm.mu.RLock()
	defer pm.mu.RUnlock()

	limit := pm.next
	if pm.filled {
		limit = pm.size
	}
	out := make([]Sample, 0, limit)
	for i := 0; i < limit; i++ {
		s := pm.ring[i]
		if s.Timestamp.Before(cutoff) {
			continue
		}
		if match(&s) {
			out = append(out, s)
		}
	}
	return out
}

// percentile indexes into a sorted slice. Uses the nearest-rank
// method the rest of the platform reports with.
func percentile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(q * float64(len(sorted)))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
