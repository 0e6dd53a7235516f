// Package errors defines the classified error type shared across the
// orchestration core. Classification drives the surfacing policy:
// transient kinds are retried locally, hard kinds surface to the
// caller with a correlation id.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies an orchestration error.
type Kind int

const (
	// KindUnknown indicates an unclassified error.
	KindUnknown Kind = iota
	// KindConfig indicates a registry load or validation failure.
	// Fails process startup, never silent.
	KindConfig
	// KindNoCandidate indicates filtering left zero models.
	KindNoCandidate
	// KindBudgetExceeded indicates every candidate was over budget.
	KindBudgetExceeded
	// KindQuotaDenied indicates the quota service rejected the request.
	KindQuotaDenied
	// KindRateLimited indicates the rate limiter would block beyond
	// the caller's timeout.
	KindRateLimited
	// KindCircuitOpen indicates the provider's breaker is open.
	KindCircuitOpen
	// KindProviderFailure indicates an outbound call errored.
	KindProviderFailure
	// KindDecomposition indicates a swarm decomposition could not be
	// parsed; handled locally by the fixed fallback plan.
	KindDecomposition
	// KindCyclicDAG indicates DAG wave scheduling stalled with
	// subtasks remaining.
	KindCyclicDAG
)

// Retryable reports whether the kind is handled by local retry.
func (k Kind) Retryable() bool {
	switch k {
	case KindRateLimited, KindProviderFailure, KindDecomposition:
		return true
	}
	return false
}

// String returns the kind's wire label.
func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config_error"
	case KindNoCandidate:
		return "no_candidate"
	case KindBudgetExceeded:
		return "budget_exceeded"
	case KindQuotaDenied:
		return "quota_denied"
	case KindRateLimited:
		return "rate_limited"
	case KindCircuitOpen:
		return "circuit_open"
	case KindProviderFailure:
		return "provider_failure"
	case KindDecomposition:
		return "decomposition_error"
	case KindCyclicDAG:
		return "cyclic_dag"
	default:
		return "unknown"
	}
}

// ClassifiedError is an error with classification and correlation
// context. Every user-visible failure carries a short reason and the
// request id it belongs to.
type ClassifiedError struct {
	Kind      Kind      `json:"kind"`
	Reason    string    `json:"reason"`
	RequestID string    `json:"request_id,omitempty"`
	Component string    `json:"component,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	cause error
}

// Error implements the error interface.
func (e *ClassifiedError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("[%s] %s (request_id: %s)", e.Kind, e.Reason, e.RequestID)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Reason)
}

// Unwrap returns the underlying error.
func (e *ClassifiedError) Unwrap() error { return e.cause }

// New creates a new classified error.
func New(kind Kind, reason string) *ClassifiedError {
	return &ClassifiedError{
		Kind:      kind,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	}
}

// Newf creates a new classified error with a formatted reason.
func Newf(kind Kind, format string, args ...interface{}) *ClassifiedError {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap wraps err with a classification, preserving it for errors.Is /
// errors.As chains.
func Wrap(err error, kind Kind, reason string) *ClassifiedError {
	e := New(kind, reason)
	e.cause = err
	return e
}

// WithRequestID attaches the correlation id and returns the error.
func (e *ClassifiedError) WithRequestID(id string) *ClassifiedError {
	e.RequestID = id
	return e
}

// WithComponent attaches the originating component and returns the
// error.
func (e *ClassifiedError) WithComponent(component string) *ClassifiedError {
	e.Component = component
	return e
}

// KindOf extracts the classification from an error chain, or
// KindUnknown when none is present.
func KindOf(err error) Kind {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindUnknown
}

// IsRetryable reports whether the error chain carries a retryable
// classification.
func IsRetryable(err error) bool {
	return KindOf(err).Retryable()
}
