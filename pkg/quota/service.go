package quota

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/developer-mesh/orchestration-core/pkg/models"
	"github.com/developer-mesh/orchestration-core/pkg/observability"
	"github.com/developer-mesh/orchestration-core/pkg/resilience"
)

// Counter TTLs leave a margin past the period so a Get near the
// boundary never reads an expired-but-current bucket.
const (
	dayCounterTTL   = 48 * time.Hour
	monthCounterTTL = 62 * 24 * time.Hour
)

// CheckRequest carries one admission check.
type CheckRequest struct {
	Scope           models.QuotaScope
	Identifier      string
	EstimatedCost   float64
	EstimatedTokens int
	// AdminOverride short-circuits every check to allowed.
	AdminOverride bool
}

// Service answers quota checks and records usage. Rate limits are
// probed through the shared limiter counters, never acquired; blocking
// acquisition belongs to the invocation path.
type Service struct {
	mu       sync.RWMutex
	configs  map[string]models.QuotaConfig
	store    UsageStore
	limiters *resilience.RateLimiterManager
	logger   observability.Logger
	metrics  observability.MetricsClient
	now      func() time.Time
}

// NewService creates a quota service. A nil store gets the in-memory
// default.
func NewService(store UsageStore, limiters *resilience.RateLimiterManager, logger observability.Logger, metrics observability.MetricsClient) *Service {
	if store == nil {
		store = NewMemoryUsageStore()
	}
	return &Service{
		configs:  make(map[string]models.QuotaConfig),
		store:    store,
		limiters: limiters,
		logger:   logger.WithPrefix("quota"),
		metrics:  metrics,
		now:      time.Now,
	}
}

// SetConfig installs or replaces the quota for a (scope, identifier)
// pair and registers its rate limits with the limiter manager.
func (s *Service) SetConfig(config models.QuotaConfig) {
	key := configKey(config.Scope, config.Identifier)

	s.mu.Lock()
	s.configs[key] = config
	s.mu.Unlock()

	s.limiters.Configure(key, resilience.RateLimiterConfig{
		RequestsPerMinute: config.RateLimits.RequestsPerMinute,
		RequestsPerHour:   config.RateLimits.RequestsPerHour,
		RequestsPerDay:    config.RateLimits.RequestsPerDay,
		TokensPerMinute:   config.RateLimits.TokensPerMinute,
		TokensPerHour:     config.RateLimits.TokensPerHour,
		TokensPerDay:      config.RateLimits.TokensPerDay,
	})
}

// Config returns the quota for the pair, if configured.
func (s *Service) Config(scope models.QuotaScope, identifier string) (models.QuotaConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.configs[configKey(scope, identifier)]
	return c, ok
}

// Check runs the admission checks in order: admin override, missing or
// disabled config, rate-limit probe, daily cost, monthly cost,
// per-request cap. The first failing check produces the denial; store
// read errors log and fail open.
func (s *Service) Check(ctx context.Context, req CheckRequest) models.QuotaResult {
	result := s.check(ctx, req)

	s.metrics.RecordCounter("quota_checks_total", 1, map[string]string{
		"scope":   string(req.Scope),
		"allowed": boolLabel(result.Allowed),
		"type":    string(result.QuotaType),
	})
	if !result.Allowed {
		s.logger.Info("quota denied", map[string]interface{}{
			"scope":      string(req.Scope),
			"identifier": req.Identifier,
			"type":       string(result.QuotaType),
			"reason":     result.Reason,
		})
	}
	return result
}

func (s *Service) check(ctx context.Context, req CheckRequest) models.QuotaResult {
	if req.AdminOverride {
		return models.QuotaResult{Allowed: true, Reason: "admin override", QuotaType: models.QuotaNone}
	}

	config, ok := s.Config(req.Scope, req.Identifier)
	if !ok || !config.Enabled {
		return models.QuotaResult{Allowed: true, QuotaType: models.QuotaNone}
	}

	key := configKey(req.Scope, req.Identifier)
	limiter := s.limiters.Get(key)
	if !limiter.Probe(req.EstimatedTokens) {
		remaining := limiter.Remaining()
		return models.QuotaResult{
			Allowed:           false,
			Reason:            "rate limit exceeded",
			RemainingRequests: &remaining,
			QuotaType:         models.QuotaRateLimit,
		}
	}

	if config.CostQuota.DailyLimit > 0 {
		start, resetAt := dailyPeriod(s.now().UTC(), config.CostQuota.ResetHour)
		spent := s.readCost(ctx, dayKey(key, start))
		if spent+req.EstimatedCost > config.CostQuota.DailyLimit {
			remaining := remainingCost(config.CostQuota.DailyLimit, spent)
			return models.QuotaResult{
				Allowed:       false,
				Reason:        fmt.Sprintf("daily cost limit $%.2f reached", config.CostQuota.DailyLimit),
				RemainingCost: &remaining,
				ResetAt:       &resetAt,
				QuotaType:     models.QuotaDaily,
			}
		}
	}

	if config.CostQuota.MonthlyLimit > 0 {
		start, resetAt := monthlyPeriod(s.now().UTC(), config.CostQuota.ResetDay, config.CostQuota.ResetHour)
		spent := s.readCost(ctx, monthKey(key, start))
		if spent+req.EstimatedCost > config.CostQuota.MonthlyLimit {
			remaining := remainingCost(config.CostQuota.MonthlyLimit, spent)
			return models.QuotaResult{
				Allowed:       false,
				Reason:        fmt.Sprintf("monthly cost limit $%.2f reached", config.CostQuota.MonthlyLimit),
				RemainingCost: &remaining,
				ResetAt:       &resetAt,
				QuotaType:     models.QuotaMonthly,
			}
		}
	}

	if config.CostQuota.PerRequestLimit > 0 && req.EstimatedCost > config.CostQuota.PerRequestLimit {
		remaining := config.CostQuota.PerRequestLimit
		return models.QuotaResult{
			Allowed:       false,
			Reason:        fmt.Sprintf("per-request cost limit $%.2f exceeded", config.CostQuota.PerRequestLimit),
			RemainingCost: &remaining,
			QuotaType:     models.QuotaPerRequest,
		}
	}

	return models.QuotaResult{Allowed: true, QuotaType: models.QuotaNone}
}

// RecordUsage folds actual spend into the day and month counters, plus
// per-provider-day and per-tool-day breakdowns when supplied.
func (s *Service) RecordUsage(ctx context.Context, scope models.QuotaScope, identifier string, cost float64, provider models.Provider, tool string) {
	config, _ := s.Config(scope, identifier)
	now := s.now().UTC()
	key := configKey(scope, identifier)

	dayStart, _ := dailyPeriod(now, config.CostQuota.ResetHour)
	monthStart, _ := monthlyPeriod(now, config.CostQuota.ResetDay, config.CostQuota.ResetHour)

	s.incr(ctx, dayKey(key, dayStart), cost, dayCounterTTL)
	s.incr(ctx, monthKey(key, monthStart), cost, monthCounterTTL)
	if provider != "" {
		s.incr(ctx, dayKey("provider:"+string(provider), dayStart), cost, dayCounterTTL)
	}
	if tool != "" {
		s.incr(ctx, dayKey("tool:"+tool, dayStart), cost, dayCounterTTL)
	}

	s.metrics.RecordHistogram("quota_usage_cost_usd", cost, map[string]string{
		"scope": string(scope),
	})
}

// Usage returns the current-period day and month spend for the pair.
func (s *Service) Usage(ctx context.Context, scope models.QuotaScope, identifier string) (day, month float64) {
	config, _ := s.Config(scope, identifier)
	now := s.now().UTC()
	key := configKey(scope, identifier)

	dayStart, _ := dailyPeriod(now, config.CostQuota.ResetHour)
	monthStart, _ := monthlyPeriod(now, config.CostQuota.ResetDay, config.CostQuota.ResetHour)
	return s.readCost(ctx, dayKey(key, dayStart)), s.readCost(ctx, monthKey(key, monthStart))
}

// Close releases the usage store.
func (s *Service) Close() error {
	return s.store.Close()
}

func (s *Service) readCost(ctx context.Context, key string) float64 {
	spent, err := s.store.Get(ctx, key)
	if err != nil {
		// Fail open: an unreachable store must not take routing down.
		s.logger.Warn("usage store read failed", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
		return 0
	}
	return spent
}

func (s *Service) incr(ctx context.Context, key string, amount float64, ttl time.Duration) {
	if _, err := s.store.IncrBy(ctx, key, amount, ttl); err != nil {
		s.logger.Warn("usage store increment failed", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
	}
}

func configKey(scope models.QuotaScope, identifier string) string {
	return string(scope) + ":" + identifier
}

func dayKey(key string, periodStart time.Time) string {
	return "quota:cost:" + key + ":day:" + periodStart.Format("2006-01-02")
}

func monthKey(key string, periodStart time.Time) string {
	return "quota:cost:" + key + ":month:" + periodStart.Format("2006-01-02")
}

// dailyPeriod returns the start of the current quota day and its reset
// time. The quota day begins at resetHour UTC.
func dailyPeriod(now time.Time, resetHour int) (start, resetAt time.Time) {
	if resetHour < 0 || resetHour > 23 {
		resetHour = 0
	}
	start = time.Date(now.Year(), now.Month(), now.Day(), resetHour, 0, 0, 0, time.UTC)
	if now.Before(start) {
		start = start.AddDate(0, 0, -1)
	}
	return start, start.AddDate(0, 0, 1)
}

// monthlyPeriod returns the start of the current quota month and its
// reset time. The quota month begins on resetDay at resetHour UTC.
func monthlyPeriod(now time.Time, resetDay, resetHour int) (start, resetAt time.Time) {
	if resetDay < 1 || resetDay > 28 {
		resetDay = 1
	}
	if resetHour < 0 || resetHour > 23 {
		resetHour = 0
	}
	start = time.Date(now.Year(), now.Month(), resetDay, resetHour, 0, 0, 0, time.UTC)
	if now.Before(start) {
		start = start.AddDate(0, -1, 0)
	}
	return start, start.AddDate(0, 1, 0)
}

func remainingCost(limit, spent float64) float64 {
	if spent >= limit {
		return 0
	}
	return limit - spent
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
