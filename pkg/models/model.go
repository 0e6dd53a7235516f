// Package models defines the shared data model of the orchestration
// core: model catalog entries, routing requests and decisions, swarm
// executions, feedback, and quota types. Types here are plain data;
// behavior lives in the owning component packages.
package models

import "time"

// Provider identifies an LLM vendor.
type Provider string

// Known providers. The catalog may introduce others; the core treats
// the provider as an opaque key for circuit breaking, rate limiting
// and metrics.
const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
	ProviderGoogle    Provider = "google"
	ProviderBedrock   Provider = "bedrock"
	ProviderMistral   Provider = "mistral"
	ProviderLocal     Provider = "local"
)

// Capability describes a feature a model supports.
type Capability string

// Model capabilities.
const (
	CapabilityReasoning       Capability = "reasoning"
	CapabilityCode            Capability = "code"
	CapabilityTools           Capability = "tools"
	CapabilityVision          Capability = "vision"
	CapabilityLongContext     Capability = "long_context"
	CapabilityJSONMode        Capability = "json_mode"
	CapabilityFunctionCalling Capability = "function_calling"
	CapabilityStreaming       Capability = "streaming"
)

// TaskType classifies the work a routing request represents.
type TaskType string

// Task types.
const (
	TaskCodeGeneration TaskType = "code_generation"
	TaskCodeReview     TaskType = "code_review"
	TaskReasoning      TaskType = "reasoning"
	TaskPlanning       TaskType = "planning"
	TaskSecurityAudit  TaskType = "security_audit"
	TaskSummarization  TaskType = "summarization"
	TaskLongContext    TaskType = "long_context"
	TaskDocumentation  TaskType = "documentation"
	TaskGeneral        TaskType = "general"
)

// ModelDefinition is one entry of the model catalog. Definitions are
// immutable after load; updates happen by reloading the registry into
// a new snapshot.
type ModelDefinition struct {
	ID                string       `json:"id" mapstructure:"id" validate:"required"`
	Provider          Provider     `json:"provider" mapstructure:"provider" validate:"required"`
	Capabilities      []Capability `json:"capabilities" mapstructure:"capabilities"`
	CostPer1KInput    float64      `json:"cost_per_1k_input" mapstructure:"cost_per_1k_input" validate:"gte=0"`
	CostPer1KOutput   float64      `json:"cost_per_1k_output" mapstructure:"cost_per_1k_output" validate:"gte=0"`
	ContextWindow     int          `json:"context_window" mapstructure:"context_window" validate:"gt=0"`
	QualityScore      float64      `json:"quality_score" mapstructure:"quality_score" validate:"gte=0,lte=1"`
	MaxOutputTokens   int          `json:"max_output_tokens,omitempty" mapstructure:"max_output_tokens"`
	SupportsStreaming bool         `json:"supports_streaming" mapstructure:"supports_streaming"`
	LatencyP50Ms      float64      `json:"latency_p50_ms,omitempty" mapstructure:"latency_p50_ms"`
	LatencyP95Ms      float64      `json:"latency_p95_ms,omitempty" mapstructure:"latency_p95_ms"`
	Enabled           bool         `json:"enabled" mapstructure:"enabled"`
	FallbackModels    []string     `json:"fallback_models,omitempty" mapstructure:"fallback_models"`
	Tags              []string     `json:"tags,omitempty" mapstructure:"tags"`
}

// HasCapability reports whether the model advertises the capability.
func (m *ModelDefinition) HasCapability(cap Capability) bool {
	for _, c := range m.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// TaskPreference lists the models preferred for a task type, in order.
type TaskPreference struct {
	Preferred []string `json:"preferred" mapstructure:"preferred"`
}

// PerformanceMetrics aggregates outcomes for a (model, task type)
// pair. Counters and EMAs are owned by the performance tracker and
// mutated only under its lock.
type PerformanceMetrics struct {
	ModelID       string    `json:"model_id"`
	TaskType      TaskType  `json:"task_type"`
	Total         int64     `json:"total"`
	Successful    int64     `json:"successful"`
	Failed        int64     `json:"failed"`
	AvgLatencyMs  float64   `json:"avg_latency_ms"`
	AvgCost       float64   `json:"avg_cost"`
	AvgQuality    float64   `json:"avg_quality"`
	LastUpdated   time.Time `json:"last_updated"`
}

// SuccessRate returns successful/total, or 0 when no samples exist.
func (p *PerformanceMetrics) SuccessRate() float64 {
	if p.Total == 0 {
		return 0
	}
	return float64(p.Successful) / float64(p.Total)
}
