package models

import "time"

// RoutingStrategy labels how a RoutingDecision expects to be executed.
type RoutingStrategy string

// Routing strategies.
const (
	StrategyStandard RoutingStrategy = "standard"
	StrategyParallel RoutingStrategy = "parallel"
	StrategyError    RoutingStrategy = "error"
)

// RoutingRequest describes one unit of work to route to a model.
type RoutingRequest struct {
	RequestID             string         `json:"request_id,omitempty"`
	TaskType              TaskType       `json:"task_type"`
	TaskDescription       string         `json:"task_description"`
	EstimatedInputTokens  int            `json:"estimated_input_tokens,omitempty"`
	EstimatedOutputTokens int            `json:"estimated_output_tokens,omitempty"`
	ContextSize           int            `json:"context_size,omitempty"`
	CostBudget            float64        `json:"cost_budget,omitempty"`
	QualityRequirement    float64        `json:"quality_requirement,omitempty"`
	LatencyRequirementMs  float64        `json:"latency_requirement_ms,omitempty"`
	RequiresStreaming     bool           `json:"requires_streaming,omitempty"`
	RequiresTools         bool           `json:"requires_tools,omitempty"`
	RequiresVision        bool           `json:"requires_vision,omitempty"`
	RequiresJSONMode      bool           `json:"requires_json_mode,omitempty"`
	VendorPreference      Provider       `json:"vendor_preference,omitempty"`
	VendorDiversity       bool           `json:"vendor_diversity,omitempty"`
	EnableParallel        bool           `json:"enable_parallel,omitempty"`
	Metadata              map[string]any `json:"metadata,omitempty"`
}

// Default request values applied when a field is unset. Output token
// defaulting lives in the cost predictor, which refines the 500-token
// baseline from the task description.
const (
	DefaultOutputTokens       = 500
	DefaultQualityRequirement = 0.7
)

// Normalized returns a copy with defaults applied. The original
// request is never mutated.
func (r RoutingRequest) Normalized() RoutingRequest {
	if r.QualityRequirement == 0 {
		r.QualityRequirement = DefaultQualityRequirement
	}
	return r
}

// Critical reports whether the request metadata marks it critical.
func (r *RoutingRequest) Critical() bool {
	v, ok := r.Metadata["critical"]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

// Evidence is a named, weighted reason attached to a decision.
// Evidence is append-only inside a decision and appended in the order
// it is generated.
type Evidence struct {
	ID          string    `json:"id"`
	Source      string    `json:"source"`
	Description string    `json:"description"`
	Weight      float64   `json:"weight"`
	Timestamp   time.Time `json:"timestamp"`
}

// RoutingDecision is the outcome of model selection. A decision only
// references model ids present in the registry snapshot that produced
// it.
type RoutingDecision struct {
	SelectedModel    string          `json:"selected_model"`
	Rationale        string          `json:"rationale"`
	Confidence       float64         `json:"confidence"`
	Evidence         []Evidence      `json:"evidence,omitempty"`
	EstimatedCost    float64         `json:"estimated_cost"`
	EstimatedQuality float64         `json:"estimated_quality"`
	FallbackModels   []string        `json:"fallback_models,omitempty"`
	// ParallelModels is set only when Strategy is StrategyParallel.
	// SelectedModel mirrors ParallelModels[0]; callers that support
	// fan-out must check Strategy and handle the full set.
	ParallelModels  []string        `json:"parallel_models,omitempty"`
	Strategy        RoutingStrategy `json:"routing_strategy"`
	Timestamp       time.Time       `json:"timestamp"`
	Metadata        map[string]any  `json:"metadata,omitempty"`
}

// ConsensusStrategy selects how parallel fan-out outputs collapse to
// one answer.
type ConsensusStrategy string

// Consensus strategies for parallel execution.
const (
	ConsensusJudge           ConsensusStrategy = "judge"
	ConsensusQualityWeighted ConsensusStrategy = "quality_weighted"
	ConsensusVoting          ConsensusStrategy = "voting"
	ConsensusFirstSuccess    ConsensusStrategy = "first_success"
)
