// Package cost estimates token usage and spend for a routing request
// against a candidate model. The predictor is pure: a fixed
// (model, request) pair always yields the same prediction.
package cost

import (
	"strings"

	"github.com/developer-mesh/orchestration-core/pkg/models"
)

// Prediction is the outcome of a cost estimate for one model.
type Prediction struct {
	MinCost             float64 `json:"min_cost"`
	MaxCost             float64 `json:"max_cost"`
	ExpectedCost        float64 `json:"expected_cost"`
	EstimatedInput      int     `json:"estimated_input_tokens"`
	EstimatedOutput     int     `json:"estimated_output_tokens"`
	WithinBudget        bool    `json:"within_budget"`
	CostEfficiencyScore float64 `json:"cost_efficiency_score"`
}

// taskMultiplier scales baseline token estimates per task type.
type taskMultiplier struct {
	input  float64
	output float64
}

// Fixed per-task token multipliers.
var taskMultipliers = map[models.TaskType]taskMultiplier{
	models.TaskReasoning:      {input: 1.2, output: 2.5},
	models.TaskCodeGeneration: {input: 1.0, output: 3.0},
	models.TaskCodeReview:     {input: 1.5, output: 1.5},
	models.TaskPlanning:       {input: 1.2, output: 2.0},
	models.TaskSecurityAudit:  {input: 1.5, output: 2.0},
	models.TaskSummarization:  {input: 2.0, output: 0.5},
	models.TaskLongContext:    {input: 5.0, output: 1.5},
	models.TaskDocumentation:  {input: 1.0, output: 2.0},
	models.TaskGeneral:        {input: 1.0, output: 1.0},
}

// Baseline token estimation constants.
const (
	minInputTokens      = 100
	wordsToTokens       = 1.3
	verboseOutputTokens = 1500
	terseOutputTokens   = 300
	costSpread          = 0.3 // min/max are ±30% of expected
)

var (
	verboseHints = []string{"detailed", "comprehensive", "thorough"}
	terseHints   = []string{"simple", "brief", "quick"}
)

// Predictor estimates cost. It holds no mutable state.
type Predictor struct{}

// NewPredictor creates a cost predictor.
func NewPredictor() *Predictor { return &Predictor{} }

// Predict estimates spend for running the request on the model. Caller
// supplied token estimates take precedence over heuristics.
func (p *Predictor) Predict(model *models.ModelDefinition, req models.RoutingRequest) Prediction {
	inputTokens := req.EstimatedInputTokens
	if inputTokens <= 0 {
		inputTokens = p.estimateInputTokens(req)
	}
	outputTokens := req.EstimatedOutputTokens
	if outputTokens <= 0 {
		outputTokens = p.estimateOutputTokens(req)
	}

	expected := float64(inputTokens)/1000*model.CostPer1KInput +
		float64(outputTokens)/1000*model.CostPer1KOutput

	pred := Prediction{
		MinCost:         expected * (1 - costSpread),
		MaxCost:         expected * (1 + costSpread),
		ExpectedCost:    expected,
		EstimatedInput:  inputTokens,
		EstimatedOutput: outputTokens,
		WithinBudget:    true,
	}
	if req.CostBudget > 0 {
		pred.WithinBudget = pred.MaxCost <= req.CostBudget
	}
	pred.CostEfficiencyScore = clamp01(1 / (1 + expected*100))
	return pred
}

func (p *Predictor) estimateInputTokens(req models.RoutingRequest) int {
	words := len(strings.Fields(req.TaskDescription))
	tokens := float64(words) * wordsToTokens
	if tokens < minInputTokens {
		tokens = minInputTokens
	}
	if m, ok := taskMultipliers[req.TaskType]; ok {
		tokens *= m.input
	}
	return int(tokens)
}

func (p *Predictor) estimateOutputTokens(req models.RoutingRequest) int {
	desc := strings.ToLower(req.TaskDescription)
	tokens := float64(models.DefaultOutputTokens)
	if containsAny(desc, verboseHints) {
		tokens = verboseOutputTokens
	} else if containsAny(desc, terseHints) {
		tokens = terseOutputTokens
	}
	if m, ok := taskMultipliers[req.TaskType]; ok {
		tokens *= m.output
	}
	return int(tokens)
}

func containsAny(s string, hints []string) bool {
	for _, h := range hints {
		if strings.Contains(s, h) {
			return true
		}
	}
	return false
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
