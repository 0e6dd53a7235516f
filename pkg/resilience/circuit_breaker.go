// Package resilience provides the failure-isolation primitives every
// outbound model invocation passes through: per-provider circuit
// breakers and per-provider rate limiters.
package resilience

import (
	"sync"
	"time"

	"github.com/developer-mesh/orchestration-core/pkg/models"
	"github.com/developer-mesh/orchestration-core/pkg/observability"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

// Circuit breaker states.
const (
	CircuitClosed   CircuitState = iota // normal operation, requests allowed
	CircuitOpen                         // tripped, requests blocked until retry time
	CircuitHalfOpen                     // probing whether the provider recovered
)

// String returns the state's wire label.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig holds configuration for a provider breaker.
type CircuitBreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that trips
	// the circuit.
	FailureThreshold int `mapstructure:"failure_threshold"`
	// RetryTimeout is how long the circuit stays open before a
	// half-open probe is allowed.
	RetryTimeout time.Duration `mapstructure:"retry_timeout"`
}

// Default breaker parameters.
const (
	DefaultFailureThreshold = 5
	DefaultRetryTimeout     = 60 * time.Second
)

// breakerState is the mutable per-provider record. Owned exclusively
// by the CircuitBreaker that created it.
type breakerState struct {
	state        CircuitState
	failureCount int
	lastFailure  time.Time
	lastSuccess  time.Time
	nextRetryAt  time.Time
}

// BreakerStatus is a read-only snapshot of one provider's breaker.
type BreakerStatus struct {
	Provider     models.Provider `json:"provider"`
	State        string          `json:"state"`
	FailureCount int             `json:"failure_count"`
	LastFailure  time.Time       `json:"last_failure,omitempty"`
	LastSuccess  time.Time       `json:"last_success,omitempty"`
	NextRetryAt  time.Time       `json:"next_retry_at,omitempty"`
}

// CircuitBreaker tracks one state machine per provider. Transitions
// happen only inside this type.
type CircuitBreaker struct {
	mu       sync.Mutex
	breakers map[models.Provider]*breakerState
	config   CircuitBreakerConfig
	logger   observability.Logger
	metrics  observability.MetricsClient
	now      func() time.Time
}

// NewCircuitBreaker creates a per-provider circuit breaker with the
// given configuration, applying defaults for zero fields.
func NewCircuitBreaker(config CircuitBreakerConfig, logger observability.Logger, metrics observability.MetricsClient) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultFailureThreshold
	}
	if config.RetryTimeout <= 0 {
		config.RetryTimeout = DefaultRetryTimeout
	}
	return &CircuitBreaker{
		breakers: make(map[models.Provider]*breakerState),
		config:   config,
		logger:   logger.WithPrefix("circuit-breaker"),
		metrics:  metrics,
		now:      time.Now,
	}
}

// RecordFailure counts a provider failure and trips the circuit when
// the consecutive-failure threshold is reached.
func (cb *CircuitBreaker) RecordFailure(provider models.Provider) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	b := cb.get(provider)
	b.failureCount++
	b.lastFailure = cb.now()

	if b.failureCount >= cb.config.FailureThreshold && b.state != CircuitOpen {
		cb.transition(provider, b, CircuitOpen)
		b.nextRetryAt = cb.now().Add(cb.config.RetryTimeout)
	}
}

// RecordSuccess resets the failure count and closes a half-open
// circuit.
func (cb *CircuitBreaker) RecordSuccess(provider models.Provider) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	b := cb.get(provider)
	b.failureCount = 0
	b.lastSuccess = cb.now()
	if b.state == CircuitHalfOpen {
		cb.transition(provider, b, CircuitClosed)
	}
}

// IsOpen reports whether the provider is currently excluded. An open
// circuit whose retry time has passed transitions to half-open and
// admits the probe request.
func (cb *CircuitBreaker) IsOpen(provider models.Provider) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	b := cb.get(provider)
	if b.state != CircuitOpen {
		return false
	}
	if !cb.now().Before(b.nextRetryAt) {
		cb.transition(provider, b, CircuitHalfOpen)
		return false
	}
	return true
}

// Status returns a snapshot of the provider's breaker.
func (cb *CircuitBreaker) Status(provider models.Provider) BreakerStatus {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	b := cb.get(provider)
	return BreakerStatus{
		Provider:     provider,
		State:        b.state.String(),
		FailureCount: b.failureCount,
		LastFailure:  b.lastFailure,
		LastSuccess:  b.lastSuccess,
		NextRetryAt:  b.nextRetryAt,
	}
}

// AllStatuses returns snapshots for every tracked provider.
func (cb *CircuitBreaker) AllStatuses() []BreakerStatus {
	cb.mu.Lock()
	providers := make([]models.Provider, 0, len(cb.breakers))
	for p := range cb.breakers {
		providers = append(providers, p)
	}
	cb.mu.Unlock()

	out := make([]BreakerStatus, 0, len(providers))
	for _, p := range providers {
		out = append(out, cb.Status(p))
	}
	return out
}

// get returns the provider's state, creating a closed breaker on
// first sight. Caller must hold cb.mu.
func (cb *CircuitBreaker) get(provider models.Provider) *breakerState {
	b, ok := cb.breakers[provider]
	if !ok {
		b = &breakerState{state: CircuitClosed}
		cb.breakers[provider] = b
	}
	return b
}

// transition moves the breaker and emits the state-change metric.
// Caller must hold cb.mu.
func (cb *CircuitBreaker) transition(provider models.Provider, b *breakerState, to CircuitState) {
	from := b.state
	b.state = to

	cb.logger.Warn("circuit breaker state change", map[string]interface{}{
		"provider": string(provider),
		"from":     from.String(),
		"to":       to.String(),
		"failures": b.failureCount,
	})
	cb.metrics.RecordCounter("circuit_breaker_state_changes_total", 1, map[string]string{
		"provider": string(provider),
		"from":     from.String(),
		"to":       to.String(),
	})
	cb.metrics.RecordGauge("circuit_breaker_state", float64(to), map[string]string{
		"provider": string(provider),
	})
}
