package models

import "time"

// QuotaScope is the level a quota applies at.
type QuotaScope string

// Quota scopes.
const (
	ScopeUser     QuotaScope = "user"
	ScopeTeam     QuotaScope = "team"
	ScopeProject  QuotaScope = "project"
	ScopeTool     QuotaScope = "tool"
	ScopeProvider QuotaScope = "provider"
)

// QuotaType identifies which limit produced a quota result.
type QuotaType string

// Quota types.
const (
	QuotaNone       QuotaType = "none"
	QuotaRateLimit  QuotaType = "rate_limit"
	QuotaDaily      QuotaType = "daily"
	QuotaMonthly    QuotaType = "monthly"
	QuotaPerRequest QuotaType = "per_request"
)

// RateLimits bounds request and token throughput per window. Zero
// means unlimited for that window.
type RateLimits struct {
	RequestsPerMinute int `json:"requests_per_minute,omitempty" mapstructure:"requests_per_minute"`
	RequestsPerHour   int `json:"requests_per_hour,omitempty" mapstructure:"requests_per_hour"`
	RequestsPerDay    int `json:"requests_per_day,omitempty" mapstructure:"requests_per_day"`
	TokensPerMinute   int `json:"tokens_per_minute,omitempty" mapstructure:"tokens_per_minute"`
	TokensPerHour     int `json:"tokens_per_hour,omitempty" mapstructure:"tokens_per_hour"`
	TokensPerDay      int `json:"tokens_per_day,omitempty" mapstructure:"tokens_per_day"`
}

// CostQuota bounds spend. Zero means unlimited for that limit.
type CostQuota struct {
	DailyLimit      float64 `json:"daily_limit,omitempty" mapstructure:"daily_limit"`
	MonthlyLimit    float64 `json:"monthly_limit,omitempty" mapstructure:"monthly_limit"`
	PerRequestLimit float64 `json:"per_request_limit,omitempty" mapstructure:"per_request_limit"`
	// ResetDay is the day of month monthly quotas reset (default 1).
	ResetDay int `json:"reset_day,omitempty" mapstructure:"reset_day"`
	// ResetHour is the UTC hour daily quotas reset (default 0).
	ResetHour int `json:"reset_hour,omitempty" mapstructure:"reset_hour"`
}

// QuotaConfig binds limits to a (scope, identifier) pair.
type QuotaConfig struct {
	Scope      QuotaScope `json:"scope" mapstructure:"scope"`
	Identifier string     `json:"identifier" mapstructure:"identifier"`
	RateLimits RateLimits `json:"rate_limits" mapstructure:"rate_limits"`
	CostQuota  CostQuota  `json:"cost_quota" mapstructure:"cost_quota"`
	Enabled    bool       `json:"enabled" mapstructure:"enabled"`
}

// QuotaResult is the typed outcome of a quota check. Denials are a
// normal return value, never an error.
type QuotaResult struct {
	Allowed           bool       `json:"allowed"`
	Reason            string     `json:"reason,omitempty"`
	RemainingRequests *int       `json:"remaining_requests,omitempty"`
	RemainingCost     *float64   `json:"remaining_cost,omitempty"`
	ResetAt           *time.Time `json:"reset_at,omitempty"`
	QuotaType         QuotaType  `json:"quota_type"`
}
