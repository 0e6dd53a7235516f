// Package router selects models for routing requests: the MoE router
// scores candidates on a weighted composite, and the hybrid router
// decides when a request warrants parallel multi-model execution.
package router

import (
	"sort"

	"github.com/developer-mesh/orchestration-core/pkg/cost"
	"github.com/developer-mesh/orchestration-core/pkg/models"
	"github.com/developer-mesh/orchestration-core/pkg/observability"
)

// DefaultParallelModels is the fan-out size for parallel execution.
const DefaultParallelModels = 3

// Parallel trigger thresholds.
const (
	parallelQualityFloor = 0.9
	parallelBudgetFloor  = 0.05
)

// parallelTaskTypes always trigger parallel consideration.
var parallelTaskTypes = map[models.TaskType]bool{
	models.TaskSecurityAudit: true,
	models.TaskCodeReview:    true,
	models.TaskPlanning:      true,
	models.TaskReasoning:     true,
}

// TradeoffReport quantifies what a parallel fan-out buys over the best
// single model.
type TradeoffReport struct {
	NumModels          int     `json:"num_models"`
	TotalCost          float64 `json:"total_cost"`
	MaxQuality         float64 `json:"max_quality"`
	QualityImprovement float64 `json:"quality_improvement"`
	WithinBudget       bool    `json:"within_budget"`
}

// HybridRouter decides between single-model and parallel execution and
// assembles the parallel set.
type HybridRouter struct {
	predictor *cost.Predictor
	logger    observability.Logger
}

// NewHybridRouter creates a hybrid router.
func NewHybridRouter(predictor *cost.Predictor, logger observability.Logger) *HybridRouter {
	return &HybridRouter{
		predictor: predictor,
		logger:    logger.WithPrefix("hybrid-router"),
	}
}

// ShouldUseParallel reports whether the request warrants fan-out:
// explicitly enabled, a high-stakes task type, high quality demand
// with budget to spend, or metadata marking it critical. Fan-out needs
// at least two candidates.
func (h *HybridRouter) ShouldUseParallel(req models.RoutingRequest, available []*models.ModelDefinition) bool {
	if len(available) < 2 {
		return false
	}
	if req.EnableParallel {
		return true
	}
	if parallelTaskTypes[req.TaskType] {
		return true
	}
	if req.QualityRequirement >= parallelQualityFloor && req.CostBudget >= parallelBudgetFloor {
		return true
	}
	return req.Critical()
}

// SelectParallelModels picks up to n models, preferring provider
// diversity: one model per provider until providers are exhausted,
// then the remaining highest-quality models.
func (h *HybridRouter) SelectParallelModels(req models.RoutingRequest, candidates []*models.ModelDefinition, n int) []*models.ModelDefinition {
	if n <= 0 {
		n = DefaultParallelModels
	}

	byQuality := make([]*models.ModelDefinition, len(candidates))
	copy(byQuality, candidates)
	sort.SliceStable(byQuality, func(i, j int) bool {
		return byQuality[i].QualityScore > byQuality[j].QualityScore
	})

	selected := make([]*models.ModelDefinition, 0, n)
	usedProviders := make(map[models.Provider]bool)
	usedModels := make(map[string]bool)

	for _, m := range byQuality {
		if len(selected) == n {
			break
		}
		if usedProviders[m.Provider] {
			continue
		}
		selected = append(selected, m)
		usedProviders[m.Provider] = true
		usedModels[m.ID] = true
	}
	for _, m := range byQuality {
		if len(selected) == n {
			break
		}
		if usedModels[m.ID] {
			continue
		}
		selected = append(selected, m)
		usedModels[m.ID] = true
	}
	return selected
}

// SelectJudgeModel picks the highest-quality model outside the
// parallel set to arbitrate its outputs. When every candidate is in
// the set, the highest-quality candidate judges its peers.
func (h *HybridRouter) SelectJudgeModel(candidates []*models.ModelDefinition, parallelSet []string) *models.ModelDefinition {
	inSet := make(map[string]bool, len(parallelSet))
	for _, id := range parallelSet {
		inSet[id] = true
	}

	var judge, best *models.ModelDefinition
	for _, m := range candidates {
		if best == nil || m.QualityScore > best.QualityScore {
			best = m
		}
		if inSet[m.ID] {
			continue
		}
		if judge == nil || m.QualityScore > judge.QualityScore {
			judge = m
		}
	}
	if judge != nil {
		return judge
	}
	return best
}

// CalculateCostQualityTradeoff sums the parallel set's expected cost
// and compares its best quality against the best single candidate
// overall.
func (h *HybridRouter) CalculateCostQualityTradeoff(req models.RoutingRequest, parallelSet, candidates []*models.ModelDefinition) TradeoffReport {
	report := TradeoffReport{NumModels: len(parallelSet), WithinBudget: true}

	for _, m := range parallelSet {
		pred := h.predictor.Predict(m, req)
		report.TotalCost += pred.ExpectedCost
		if m.QualityScore > report.MaxQuality {
			report.MaxQuality = m.QualityScore
		}
	}

	var bestSingle float64
	for _, m := range candidates {
		if m.QualityScore > bestSingle {
			bestSingle = m.QualityScore
		}
	}
	report.QualityImprovement = report.MaxQuality - bestSingle

	if req.CostBudget > 0 {
		report.WithinBudget = report.TotalCost <= req.CostBudget
	}
	return report
}
