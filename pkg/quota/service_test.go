package quota

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/developer-mesh/orchestration-core/pkg/models"
	"github.com/developer-mesh/orchestration-core/pkg/observability"
	"github.com/developer-mesh/orchestration-core/pkg/resilience"
)

func newTestService(t *testing.T, store UsageStore) *Service {
	t.Helper()
	logger := observability.NewNoopLogger()
	metrics := observability.NewNoopMetricsClient()
	limiters := resilience.NewRateLimiterManager(nil, logger, metrics)
	return NewService(store, limiters, logger, metrics)
}

func TestCheckAdminOverride(t *testing.T) {
	svc := newTestService(t, nil)
	svc.SetConfig(models.QuotaConfig{
		Scope:      models.ScopeUser,
		Identifier: "u1",
		CostQuota:  models.CostQuota{DailyLimit: 0.01},
		Enabled:    true,
	})

	result := svc.Check(context.Background(), CheckRequest{
		Scope:         models.ScopeUser,
		Identifier:    "u1",
		EstimatedCost: 100.0,
		AdminOverride: true,
	})

	assert.True(t, result.Allowed)
	assert.Equal(t, models.QuotaNone, result.QuotaType)
}

func TestCheckNoConfigAllows(t *testing.T) {
	svc := newTestService(t, nil)

	result := svc.Check(context.Background(), CheckRequest{
		Scope:         models.ScopeUser,
		Identifier:    "unknown",
		EstimatedCost: 5.0,
	})

	assert.True(t, result.Allowed)
	assert.Equal(t, models.QuotaNone, result.QuotaType)
}

func TestCheckDisabledConfigAllows(t *testing.T) {
	svc := newTestService(t, nil)
	svc.SetConfig(models.QuotaConfig{
		Scope:      models.ScopeUser,
		Identifier: "u1",
		CostQuota:  models.CostQuota{DailyLimit: 0.01},
		Enabled:    false,
	})

	result := svc.Check(context.Background(), CheckRequest{
		Scope:         models.ScopeUser,
		Identifier:    "u1",
		EstimatedCost: 5.0,
	})

	assert.True(t, result.Allowed)
}

func TestCheckDailyLimitReached(t *testing.T) {
	svc := newTestService(t, nil)
	svc.SetConfig(models.QuotaConfig{
		Scope:      models.ScopeUser,
		Identifier: "u1",
		CostQuota:  models.CostQuota{DailyLimit: 1.00},
		Enabled:    true,
	})

	ctx := context.Background()
	svc.RecordUsage(ctx, models.ScopeUser, "u1", 0.99, models.ProviderAnthropic, "editor")

	result := svc.Check(ctx, CheckRequest{
		Scope:         models.ScopeUser,
		Identifier:    "u1",
		EstimatedCost: 0.02,
	})

	assert.False(t, result.Allowed)
	assert.Equal(t, models.QuotaDaily, result.QuotaType)
	require.NotNil(t, result.RemainingCost)
	assert.InDelta(t, 0.01, *result.RemainingCost, 1e-9)
	require.NotNil(t, result.ResetAt)
	assert.True(t, result.ResetAt.After(time.Now().UTC()))
}

func TestCheckUnderDailyLimitAllows(t *testing.T) {
	svc := newTestService(t, nil)
	svc.SetConfig(models.QuotaConfig{
		Scope:      models.ScopeUser,
		Identifier: "u1",
		CostQuota:  models.CostQuota{DailyLimit: 1.00},
		Enabled:    true,
	})

	ctx := context.Background()
	svc.RecordUsage(ctx, models.ScopeUser, "u1", 0.50, "", "")

	result := svc.Check(ctx, CheckRequest{
		Scope:         models.ScopeUser,
		Identifier:    "u1",
		EstimatedCost: 0.25,
	})

	assert.True(t, result.Allowed)
}

func TestCheckMonthlyLimit(t *testing.T) {
	svc := newTestService(t, nil)
	svc.SetConfig(models.QuotaConfig{
		Scope:      models.ScopeTeam,
		Identifier: "platform",
		CostQuota:  models.CostQuota{MonthlyLimit: 10.00},
		Enabled:    true,
	})

	ctx := context.Background()
	svc.RecordUsage(ctx, models.ScopeTeam, "platform", 9.95, "", "")

	result := svc.Check(ctx, CheckRequest{
		Scope:         models.ScopeTeam,
		Identifier:    "platform",
		EstimatedCost: 0.10,
	})

	assert.False(t, result.Allowed)
	assert.Equal(t, models.QuotaMonthly, result.QuotaType)
	require.NotNil(t, result.RemainingCost)
	assert.InDelta(t, 0.05, *result.RemainingCost, 1e-9)
}

func TestCheckPerRequestLimit(t *testing.T) {
	svc := newTestService(t, nil)
	svc.SetConfig(models.QuotaConfig{
		Scope:      models.ScopeUser,
		Identifier: "u1",
		CostQuota:  models.CostQuota{PerRequestLimit: 0.50},
		Enabled:    true,
	})

	result := svc.Check(context.Background(), CheckRequest{
		Scope:         models.ScopeUser,
		Identifier:    "u1",
		EstimatedCost: 0.75,
	})

	assert.False(t, result.Allowed)
	assert.Equal(t, models.QuotaPerRequest, result.QuotaType)
}

func TestCheckRateLimitProbe(t *testing.T) {
	svc := newTestService(t, nil)
	svc.SetConfig(models.QuotaConfig{
		Scope:      models.ScopeUser,
		Identifier: "u1",
		RateLimits: models.RateLimits{RequestsPerMinute: 2},
		Enabled:    true,
	})

	ctx := context.Background()
	limiter := svc.limiters.Get(configKey(models.ScopeUser, "u1"))
	for i := 0; i < 2; i++ {
		require.NoError(t, limiter.Acquire(ctx, 0))
		limiter.Release()
	}

	result := svc.Check(ctx, CheckRequest{
		Scope:      models.ScopeUser,
		Identifier: "u1",
	})

	assert.False(t, result.Allowed)
	assert.Equal(t, models.QuotaRateLimit, result.QuotaType)
	require.NotNil(t, result.RemainingRequests)
	assert.Equal(t, 0, *result.RemainingRequests)
}

func TestRecordUsageProviderAndToolBreakdown(t *testing.T) {
	store := NewMemoryUsageStore()
	svc := newTestService(t, store)

	ctx := context.Background()
	svc.RecordUsage(ctx, models.ScopeUser, "u1", 0.30, models.ProviderOpenAI, "search")

	dayStart, _ := dailyPeriod(time.Now().UTC(), 0)
	providerSpend, err := store.Get(ctx, dayKey("provider:openai", dayStart))
	require.NoError(t, err)
	assert.InDelta(t, 0.30, providerSpend, 1e-9)

	toolSpend, err := store.Get(ctx, dayKey("tool:search", dayStart))
	require.NoError(t, err)
	assert.InDelta(t, 0.30, toolSpend, 1e-9)
}

func TestUsageReportsBothPeriods(t *testing.T) {
	svc := newTestService(t, nil)
	svc.SetConfig(models.QuotaConfig{
		Scope:      models.ScopeUser,
		Identifier: "u1",
		Enabled:    true,
	})

	ctx := context.Background()
	svc.RecordUsage(ctx, models.ScopeUser, "u1", 0.40, "", "")
	svc.RecordUsage(ctx, models.ScopeUser, "u1", 0.10, "", "")

	day, month := svc.Usage(ctx, models.ScopeUser, "u1")
	assert.InDelta(t, 0.50, day, 1e-9)
	assert.InDelta(t, 0.50, month, 1e-9)
}

func TestDailyPeriodResetHour(t *testing.T) {
	tests := []struct {
		name      string
		now       time.Time
		resetHour int
		wantStart time.Time
	}{
		{
			name:      "after reset hour",
			now:       time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC),
			resetHour: 6,
			wantStart: time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC),
		},
		{
			name:      "before reset hour rolls back a day",
			now:       time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC),
			resetHour: 6,
			wantStart: time.Date(2026, 3, 9, 6, 0, 0, 0, time.UTC),
		},
		{
			name:      "default midnight",
			now:       time.Date(2026, 3, 10, 0, 30, 0, 0, time.UTC),
			resetHour: 0,
			wantStart: time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, resetAt := dailyPeriod(tt.now, tt.resetHour)
			assert.Equal(t, tt.wantStart, start)
			assert.Equal(t, tt.wantStart.AddDate(0, 0, 1), resetAt)
		})
	}
}

func TestMonthlyPeriodResetDay(t *testing.T) {
	start, resetAt := monthlyPeriod(time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC), 5, 0)
	assert.Equal(t, time.Date(2026, 2, 5, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC), resetAt)

	start, resetAt = monthlyPeriod(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC), 5, 0)
	assert.Equal(t, time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2026, 4, 5, 0, 0, 0, 0, time.UTC), resetAt)
}

func TestRedisUsageStore(t *testing.T) {
	mr := miniredis.RunT(t)
	store := NewRedisUsageStoreFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	ctx := context.Background()
	val, err := store.IncrBy(ctx, "quota:cost:user:u1:day:2026-03-10", 0.25, dayCounterTTL)
	require.NoError(t, err)
	assert.InDelta(t, 0.25, val, 1e-9)

	val, err = store.IncrBy(ctx, "quota:cost:user:u1:day:2026-03-10", 0.50, dayCounterTTL)
	require.NoError(t, err)
	assert.InDelta(t, 0.75, val, 1e-9)

	got, err := store.Get(ctx, "quota:cost:user:u1:day:2026-03-10")
	require.NoError(t, err)
	assert.InDelta(t, 0.75, got, 1e-9)

	got, err = store.Get(ctx, "quota:cost:missing")
	require.NoError(t, err)
	assert.Zero(t, got)

	assert.True(t, mr.TTL("quota:cost:user:u1:day:2026-03-10") > 0)
}

func TestRedisUsageStoreCloseOwnership(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	owned, err := NewRedisUsageStore(ctx, &redis.Options{Addr: mr.Addr()})
	require.NoError(t, err)
	require.NoError(t, owned.Close())
	_, err = owned.IncrBy(ctx, "quota:cost:user:u1:day:2026-03-10", 0.25, dayCounterTTL)
	assert.Error(t, err, "closing an owned store releases its client")

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	wrapped := NewRedisUsageStoreFromClient(client)
	require.NoError(t, wrapped.Close())
	assert.NoError(t, client.Ping(ctx).Err(), "caller keeps ownership of a wrapped client")
}

func TestRedisStoreBacksService(t *testing.T) {
	mr := miniredis.RunT(t)
	store := NewRedisUsageStoreFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	svc := newTestService(t, store)
	svc.SetConfig(models.QuotaConfig{
		Scope:      models.ScopeUser,
		Identifier: "u1",
		CostQuota:  models.CostQuota{DailyLimit: 1.00},
		Enabled:    true,
	})

	ctx := context.Background()
	svc.RecordUsage(ctx, models.ScopeUser, "u1", 0.99, "", "")

	result := svc.Check(ctx, CheckRequest{
		Scope:         models.ScopeUser,
		Identifier:    "u1",
		EstimatedCost: 0.02,
	})

	assert.False(t, result.Allowed)
	assert.Equal(t, models.QuotaDaily, result.QuotaType)
}
