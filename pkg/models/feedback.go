package models

import "time"

// FeedbackOutcome is the coarse result of an executed request.
type FeedbackOutcome string

// Feedback outcomes.
const (
	OutcomeSuccess FeedbackOutcome = "success"
	OutcomePartial FeedbackOutcome = "partial"
	OutcomeFailure FeedbackOutcome = "failure"
)

// FeedbackData carries execution feedback into the learning loop.
// Optional fields use pointers so absence is distinguishable from a
// zero value.
type FeedbackData struct {
	RequestID       string          `json:"request_id"`
	ModelID         string          `json:"model_id"`
	TaskType        TaskType        `json:"task_type"`
	Outcome         FeedbackOutcome `json:"outcome"`
	QualityScore    *float64        `json:"quality_score,omitempty"`
	ActualCost      *float64        `json:"actual_cost,omitempty"`
	ActualLatencyMs *float64        `json:"actual_latency_ms,omitempty"`
	PRMerged        bool            `json:"pr_merged,omitempty"`
	PRReverted      bool            `json:"pr_reverted,omitempty"`
	UserRating      *int            `json:"user_rating,omitempty"` // 1..5
	ErrorMessage    string          `json:"error_message,omitempty"`
	Timestamp       time.Time       `json:"timestamp"`
}
