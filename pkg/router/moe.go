package router

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/developer-mesh/orchestration-core/pkg/cost"
	"github.com/developer-mesh/orchestration-core/pkg/learning"
	"github.com/developer-mesh/orchestration-core/pkg/models"
	"github.com/developer-mesh/orchestration-core/pkg/observability"
	"github.com/developer-mesh/orchestration-core/pkg/performance"
	"github.com/developer-mesh/orchestration-core/pkg/registry"
	"github.com/developer-mesh/orchestration-core/pkg/resilience"
)

// Composite score weights. The composite is 0-100 before bonuses.
const (
	qualityWeight        = 50.0
	costEfficiencyWeight = 20.0
	performanceWeight    = 15.0
	learnedWeight        = 10.0
	preferredBonus       = 5.0
	diversityBonus       = 3.0
	vendorMatchBonus     = 2.0
)

// parallelConfidence is the fixed confidence of parallel decisions.
const parallelConfidence = 0.95

// selectionHistorySize is how many recent selections feed the vendor
// diversity bonus.
const selectionHistorySize = 5

// maxFallbacks caps the fallback list on standard decisions.
const maxFallbacks = 3

// scoredCandidate pairs a model with its composite score and
// prediction.
type scoredCandidate struct {
	model      *models.ModelDefinition
	prediction cost.Prediction
	score      float64
	reasons    []string
}

// MoERouter scores registry candidates against a request and produces
// a routing decision. All reads resolve against one registry snapshot
// per call.
type MoERouter struct {
	registry  *registry.Registry
	predictor *cost.Predictor
	tracker   *performance.Tracker
	breaker   *resilience.CircuitBreaker
	loop      *learning.Loop
	hybrid    *HybridRouter

	mu     sync.Mutex
	recent []models.Provider // providers of the last selections

	logger  observability.Logger
	metrics observability.MetricsClient
	now     func() time.Time
}

// NewMoERouter wires the router from its collaborators.
func NewMoERouter(
	reg *registry.Registry,
	predictor *cost.Predictor,
	tracker *performance.Tracker,
	breaker *resilience.CircuitBreaker,
	loop *learning.Loop,
	hybrid *HybridRouter,
	logger observability.Logger,
	metrics observability.MetricsClient,
) *MoERouter {
	return &MoERouter{
		registry:  reg,
		predictor: predictor,
		tracker:   tracker,
		breaker:   breaker,
		loop:      loop,
		hybrid:    hybrid,
		logger:    logger.WithPrefix("moe-router"),
		metrics:   metrics,
		now:       time.Now,
	}
}

// SelectModel routes one request: filter, parallel check, composite
// scoring, selection. Failures come back as an error-strategy decision
// with confidence zero, never a panic.
func (r *MoERouter) SelectModel(req models.RoutingRequest) models.RoutingDecision {
	req = req.Normalized()
	start := r.now()

	decision := r.selectModel(req)
	decision.Timestamp = r.now().UTC()

	r.metrics.RecordCounter("routing_requests_total", 1, map[string]string{
		"task_type": string(req.TaskType),
		"strategy":  string(decision.Strategy),
	})
	r.metrics.RecordDuration("routing_duration_seconds", r.now().Sub(start), map[string]string{
		"task_type": string(req.TaskType),
	})
	r.logger.Info("model selected", map[string]interface{}{
		"request_id": req.RequestID,
		"model":      decision.SelectedModel,
		"strategy":   string(decision.Strategy),
		"confidence": decision.Confidence,
	})
	return decision
}

func (r *MoERouter) selectModel(req models.RoutingRequest) models.RoutingDecision {
	snap := r.registry.Snapshot()
	if snap == nil {
		return errorDecision(req, "no model catalog loaded", nil)
	}

	candidates, evidence, lastFilter := r.filter(snap, req)
	if len(candidates) == 0 {
		return errorDecision(req, fmt.Sprintf("no candidate models remain; last exclusion: %s", lastFilter), evidence)
	}

	defs := make([]*models.ModelDefinition, len(candidates))
	for i, c := range candidates {
		defs[i] = c.model
	}
	if r.hybrid.ShouldUseParallel(req, defs) {
		if d, ok := r.parallelDecision(req, defs, evidence); ok {
			return d
		}
	}

	r.score(snap, req, candidates)
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	top := candidates[0]
	fallbacks := make([]string, 0, maxFallbacks)
	for _, c := range candidates[1:] {
		if len(fallbacks) == maxFallbacks {
			break
		}
		fallbacks = append(fallbacks, c.model.ID)
	}

	r.remember(top.model.Provider)

	confidence := top.score / 100
	if confidence > 1 {
		confidence = 1
	}

	// Evidence weights live on the unit scale; the raw composite stays
	// in the description.
	evidence = append(evidence, models.Evidence{
		ID:          uuid.New().String(),
		Source:      "composite_score",
		Description: fmt.Sprintf("%s scored %.1f (%s)", top.model.ID, top.score, strings.Join(top.reasons, ", ")),
		Weight:      confidence,
		Timestamp:   r.now().UTC(),
	})

	return models.RoutingDecision{
		SelectedModel:    top.model.ID,
		Rationale:        rationale(top, req),
		Confidence:       confidence,
		Evidence:         evidence,
		EstimatedCost:    top.prediction.ExpectedCost,
		EstimatedQuality: top.model.QualityScore,
		FallbackModels:   fallbacks,
		Strategy:         models.StrategyStandard,
	}
}

// filter excludes candidates that cannot serve the request, recording
// evidence per exclusion. Returns the survivors with their cost
// predictions and the description of the last exclusion applied.
func (r *MoERouter) filter(snap *registry.Snapshot, req models.RoutingRequest) ([]*scoredCandidate, []models.Evidence, string) {
	var candidates []*scoredCandidate
	var evidence []models.Evidence
	lastFilter := "empty catalog"

	exclude := func(m *models.ModelDefinition, reason string) {
		lastFilter = fmt.Sprintf("%s: %s", m.ID, reason)
		evidence = append(evidence, models.Evidence{
			ID:          uuid.New().String(),
			Source:      "filter",
			Description: lastFilter,
			Weight:      1,
			Timestamp:   r.now().UTC(),
		})
	}

	for _, m := range snap.Models() {
		if !m.Enabled {
			exclude(m, "disabled")
			continue
		}
		if r.breaker.IsOpen(m.Provider) {
			exclude(m, fmt.Sprintf("provider %s circuit open", m.Provider))
			continue
		}
		if m.QualityScore < req.QualityRequirement {
			exclude(m, fmt.Sprintf("quality %.2f below requirement %.2f", m.QualityScore, req.QualityRequirement))
			continue
		}
		if req.ContextSize > 0 && m.ContextWindow < req.ContextSize {
			exclude(m, fmt.Sprintf("context window %d below %d", m.ContextWindow, req.ContextSize))
			continue
		}
		if missing := missingCapability(m, req); missing != "" {
			exclude(m, "missing capability "+missing)
			continue
		}
		if req.LatencyRequirementMs > 0 && m.LatencyP95Ms > 0 && m.LatencyP95Ms > req.LatencyRequirementMs {
			exclude(m, fmt.Sprintf("p95 latency %.0fms above %.0fms", m.LatencyP95Ms, req.LatencyRequirementMs))
			continue
		}
		pred := r.predictor.Predict(m, req)
		if !pred.WithinBudget {
			exclude(m, fmt.Sprintf("estimated cost $%.4f exceeds budget $%.4f", pred.MaxCost, req.CostBudget))
			continue
		}
		candidates = append(candidates, &scoredCandidate{model: m, prediction: pred})
	}
	return candidates, evidence, lastFilter
}

func missingCapability(m *models.ModelDefinition, req models.RoutingRequest) string {
	switch {
	case req.RequiresStreaming && !m.SupportsStreaming && !m.HasCapability(models.CapabilityStreaming):
		return string(models.CapabilityStreaming)
	case req.RequiresTools && !m.HasCapability(models.CapabilityTools) && !m.HasCapability(models.CapabilityFunctionCalling):
		return string(models.CapabilityTools)
	case req.RequiresVision && !m.HasCapability(models.CapabilityVision):
		return string(models.CapabilityVision)
	case req.RequiresJSONMode && !m.HasCapability(models.CapabilityJSONMode):
		return string(models.CapabilityJSONMode)
	}
	return ""
}

// score computes the composite for each candidate in place.
func (r *MoERouter) score(snap *registry.Snapshot, req models.RoutingRequest, candidates []*scoredCandidate) {
	recentProviders := r.recentProviders()

	for _, c := range candidates {
		m := c.model
		quality := m.QualityScore * qualityWeight
		costEff := c.prediction.CostEfficiencyScore * costEfficiencyWeight
		perf := r.tracker.RecommendationWeight(m.ID, req.TaskType) * performanceWeight
		learned := r.loop.ModelWeight(m.ID, req.TaskType) * learnedWeight

		c.score = quality + costEff + perf + learned
		c.reasons = []string{
			fmt.Sprintf("quality %.1f", quality),
			fmt.Sprintf("cost efficiency %.1f", costEff),
			fmt.Sprintf("historical performance %.1f", perf),
			fmt.Sprintf("learned weight %.1f", learned),
		}

		if snap.IsPreferred(req.TaskType, m.ID) {
			c.score += preferredBonus
			c.reasons = append(c.reasons, "task preference")
		}
		if req.VendorDiversity && !recentProviders[m.Provider] {
			c.score += diversityBonus
			c.reasons = append(c.reasons, "vendor diversity")
		}
		if req.VendorPreference != "" && m.Provider == req.VendorPreference {
			c.score += vendorMatchBonus
			c.reasons = append(c.reasons, "vendor preference")
		}
	}
}

// parallelDecision builds the fan-out decision. Falls through to
// standard scoring when the diverse set is too small.
func (r *MoERouter) parallelDecision(req models.RoutingRequest, defs []*models.ModelDefinition, evidence []models.Evidence) (models.RoutingDecision, bool) {
	set := r.hybrid.SelectParallelModels(req, defs, DefaultParallelModels)
	if len(set) < 2 {
		return models.RoutingDecision{}, false
	}

	ids := make([]string, len(set))
	var totalCost, maxQuality float64
	for i, m := range set {
		ids[i] = m.ID
		totalCost += r.predictor.Predict(m, req).ExpectedCost
		if m.QualityScore > maxQuality {
			maxQuality = m.QualityScore
		}
	}

	metadata := map[string]any{"consensus_strategy": string(models.ConsensusJudge)}
	if judge := r.hybrid.SelectJudgeModel(defs, ids); judge != nil {
		metadata["judge_model"] = judge.ID
	}

	r.remember(set[0].Provider)

	return models.RoutingDecision{
		SelectedModel:    ids[0],
		Rationale:        fmt.Sprintf("parallel execution of %s for %s task with judge consensus", strings.Join(ids, ", "), req.TaskType),
		Confidence:       parallelConfidence,
		Evidence:         evidence,
		EstimatedCost:    totalCost,
		EstimatedQuality: maxQuality,
		FallbackModels:   ids[1:],
		ParallelModels:   ids,
		Strategy:         models.StrategyParallel,
		Metadata:         metadata,
	}, true
}

// RecordRequestOutcome feeds an execution result back into the circuit
// breaker and the performance tracker.
func (r *MoERouter) RecordRequestOutcome(modelID string, success bool, latencyMs, costUSD, quality *float64, errMsg string) {
	var taskType models.TaskType = models.TaskGeneral
	var provider models.Provider

	if snap := r.registry.Snapshot(); snap != nil {
		if m := snap.Model(modelID); m != nil {
			provider = m.Provider
		}
	}

	if provider != "" {
		if success {
			r.breaker.RecordSuccess(provider)
		} else {
			r.breaker.RecordFailure(provider)
		}
	}
	r.tracker.Record(modelID, taskType, success, latencyMs, costUSD, quality)

	if !success && errMsg != "" {
		r.logger.Warn("request failed", map[string]interface{}{
			"model": modelID,
			"error": errMsg,
		})
	}
}

// RecordTaskOutcome is RecordRequestOutcome with an explicit task type
// so per-task performance stays separable.
func (r *MoERouter) RecordTaskOutcome(modelID string, taskType models.TaskType, success bool, latencyMs, costUSD, quality *float64) {
	if snap := r.registry.Snapshot(); snap != nil {
		if m := snap.Model(modelID); m != nil {
			if success {
				r.breaker.RecordSuccess(m.Provider)
			} else {
				r.breaker.RecordFailure(m.Provider)
			}
		}
	}
	r.tracker.Record(modelID, taskType, success, latencyMs, costUSD, quality)
}

func (r *MoERouter) remember(provider models.Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recent = append(r.recent, provider)
	if len(r.recent) > selectionHistorySize {
		r.recent = r.recent[len(r.recent)-selectionHistorySize:]
	}
}

func (r *MoERouter) recentProviders() map[models.Provider]bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[models.Provider]bool, len(r.recent))
	for _, p := range r.recent {
		out[p] = true
	}
	return out
}

func rationale(c *scoredCandidate, req models.RoutingRequest) string {
	return fmt.Sprintf("selected %s for %s task based on %s with final score %.1f",
		c.model.ID, req.TaskType, strings.Join(c.reasons, ", "), c.score)
}

func errorDecision(req models.RoutingRequest, reason string, evidence []models.Evidence) models.RoutingDecision {
	return models.RoutingDecision{
		SelectedModel: "none",
		Rationale:     reason,
		Confidence:    0,
		Evidence:      evidence,
		Strategy:      models.StrategyError,
	}
}
