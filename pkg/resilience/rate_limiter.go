package resilience

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	orcherrors "github.com/developer-mesh/orchestration-core/pkg/errors"
	"github.com/developer-mesh/orchestration-core/pkg/models"
	"github.com/developer-mesh/orchestration-core/pkg/observability"
)

// RateLimiterConfig bounds one identifier's throughput. Zero limits
// are unenforced.
type RateLimiterConfig struct {
	RequestsPerMinute     int `mapstructure:"requests_per_minute"`
	RequestsPerHour       int `mapstructure:"requests_per_hour"`
	RequestsPerDay        int `mapstructure:"requests_per_day"`
	TokensPerMinute       int `mapstructure:"tokens_per_minute"`
	TokensPerHour         int `mapstructure:"tokens_per_hour"`
	TokensPerDay          int `mapstructure:"tokens_per_day"`
	MaxConcurrentRequests int `mapstructure:"max_concurrent_requests"`
}

// DefaultMaxConcurrentRequests bounds in-flight calls per identifier.
const DefaultMaxConcurrentRequests = 10

// DefaultProviderLimits are the stock vendor limits. Fully
// overridable through configuration.
var DefaultProviderLimits = map[models.Provider]RateLimiterConfig{
	models.ProviderAnthropic: {RequestsPerMinute: 50, TokensPerMinute: 40000},
	models.ProviderOpenAI:    {RequestsPerMinute: 60, TokensPerMinute: 90000},
	models.ProviderGoogle:    {RequestsPerMinute: 60, TokensPerMinute: 60000},
}

// entry is one admitted request in the sliding window.
type entry struct {
	at     time.Time
	tokens int
}

// window pairs a limit with its duration.
type window struct {
	limit    int
	duration time.Duration
	tokens   bool // counts tokens instead of requests
}

// RateLimiter enforces sliding-window request and token limits for a
// single identifier, plus a concurrency semaphore. Acquire blocks;
// Probe does not.
type RateLimiter struct {
	name    string
	config  RateLimiterConfig
	windows []window

	mu      sync.Mutex
	entries []entry

	sem     *semaphore.Weighted
	logger  observability.Logger
	metrics observability.MetricsClient
	now     func() time.Time
	sleep   func(context.Context, time.Duration) error
}

// NewRateLimiter creates a rate limiter for one identifier.
func NewRateLimiter(name string, config RateLimiterConfig, logger observability.Logger, metrics observability.MetricsClient) *RateLimiter {
	if config.MaxConcurrentRequests <= 0 {
		config.MaxConcurrentRequests = DefaultMaxConcurrentRequests
	}

	rl := &RateLimiter{
		name:    name,
		config:  config,
		sem:     semaphore.NewWeighted(int64(config.MaxConcurrentRequests)),
		logger:  logger.WithPrefix("rate-limiter"),
		metrics: metrics,
		now:     time.Now,
		sleep:   sleepCtx,
	}
	rl.windows = buildWindows(config)
	return rl
}

func buildWindows(c RateLimiterConfig) []window {
	var ws []window
	add := func(limit int, d time.Duration, tokens bool) {
		if limit > 0 {
			ws = append(ws, window{limit: limit, duration: d, tokens: tokens})
		}
	}
	add(c.RequestsPerMinute, time.Minute, false)
	add(c.RequestsPerHour, time.Hour, false)
	add(c.RequestsPerDay, 24*time.Hour, false)
	add(c.TokensPerMinute, time.Minute, true)
	add(c.TokensPerHour, time.Hour, true)
	add(c.TokensPerDay, 24*time.Hour, true)
	return ws
}

// Acquire blocks until every configured window admits the request and
// a concurrency slot is free, then records the usage. The caller must
// invoke Release on every exit path afterwards. Context cancellation
// surfaces as a rate-limited error.
func (rl *RateLimiter) Acquire(ctx context.Context, estimatedTokens int) error {
	if err := rl.sem.Acquire(ctx, 1); err != nil {
		return orcherrors.Wrap(err, orcherrors.KindRateLimited, rl.name+" concurrency slot unavailable")
	}

	for {
		wait, ok := rl.admit(estimatedTokens)
		if ok {
			return nil
		}
		rl.metrics.RecordCounter("rate_limiter_waits_total", 1, map[string]string{"identifier": rl.name})
		if err := rl.sleep(ctx, wait); err != nil {
			rl.sem.Release(1)
			return orcherrors.Wrap(err, orcherrors.KindRateLimited, rl.name+" wait cancelled")
		}
	}
}

// Release frees the concurrency slot taken by a successful Acquire.
func (rl *RateLimiter) Release() {
	rl.sem.Release(1)
}

// Probe reports whether the request would be admitted right now,
// without recording usage or taking a slot. The quota service checks
// through this.
func (rl *RateLimiter) Probe(estimatedTokens int) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.prune()
	_, bounded := rl.boundingWindow(estimatedTokens)
	return !bounded
}

// Remaining returns how many more requests the tightest request
// window admits, or -1 when unlimited.
func (rl *RateLimiter) Remaining() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.prune()

	remaining := -1
	now := rl.now()
	for _, w := range rl.windows {
		if w.tokens {
			continue
		}
		used := rl.usage(now, w)
		left := w.limit - used
		if left < 0 {
			left = 0
		}
		if remaining == -1 || left < remaining {
			remaining = left
		}
	}
	return remaining
}

// admit checks all windows and records usage when admitted. On denial
// it returns the wait until the oldest entry of the bounding window
// expires.
func (rl *RateLimiter) admit(estimatedTokens int) (time.Duration, bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.prune()

	if wait, bounded := rl.boundingWindow(estimatedTokens); bounded {
		return wait, false
	}
	rl.entries = append(rl.entries, entry{at: rl.now(), tokens: estimatedTokens})
	return 0, true
}

// boundingWindow returns the wait imposed by the first window that
// rejects the request. Caller must hold rl.mu.
func (rl *RateLimiter) boundingWindow(estimatedTokens int) (time.Duration, bool) {
	now := rl.now()
	for _, w := range rl.windows {
		used := rl.usage(now, w)
		var needed int
		if w.tokens {
			needed = estimatedTokens
		} else {
			needed = 1
		}
		if used+needed <= w.limit {
			continue
		}
		oldest := rl.oldestIn(now, w.duration)
		if oldest == nil {
			// Request alone exceeds the window limit; wait a full
			// period rather than spinning.
			return w.duration, true
		}
		wait := oldest.at.Add(w.duration).Sub(now)
		if wait <= 0 {
			wait = 10 * time.Millisecond
		}
		return wait, true
	}
	return 0, false
}

func (rl *RateLimiter) usage(now time.Time, w window) int {
	cutoff := now.Add(-w.duration)
	total := 0
	for i := range rl.entries {
		if rl.entries[i].at.Before(cutoff) {
			continue
		}
		if w.tokens {
			total += rl.entries[i].tokens
		} else {
			total++
		}
	}
	return total
}

func (rl *RateLimiter) oldestIn(now time.Time, d time.Duration) *entry {
	cutoff := now.Add(-d)
	for i := range rl.entries {
		if !rl.entries[i].at.Before(cutoff) {
			return &rl.entries[i]
		}
	}
	return nil
}

// prune drops entries older than the widest window. Caller must hold
// rl.mu.
func (rl *RateLimiter) prune() {
	widest := time.Minute
	for _, w := range rl.windows {
		if w.duration > widest {
			widest = w.duration
		}
	}
	cutoff := rl.now().Add(-widest)
	firstLive := len(rl.entries)
	for i := range rl.entries {
		if !rl.entries[i].at.Before(cutoff) {
			firstLive = i
			break
		}
	}
	if firstLive > 0 {
		rl.entries = append(rl.entries[:0], rl.entries[firstLive:]...)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RateLimiterManager manages one limiter per identifier, creating
// them on first use from the provider defaults.
type RateLimiterManager struct {
	mu       sync.RWMutex
	limiters map[string]*RateLimiter
	configs  map[string]RateLimiterConfig
	logger   observability.Logger
	metrics  observability.MetricsClient
}

// NewRateLimiterManager creates a manager seeded with per-identifier
// overrides. Unknown identifiers fall back to DefaultProviderLimits,
// then to an unlimited config with the default concurrency cap.
func NewRateLimiterManager(overrides map[string]RateLimiterConfig, logger observability.Logger, metrics observability.MetricsClient) *RateLimiterManager {
	configs := make(map[string]RateLimiterConfig)
	for provider, cfg := range DefaultProviderLimits {
		configs[string(provider)] = cfg
	}
	for name, cfg := range overrides {
		configs[name] = cfg
	}
	return &RateLimiterManager{
		limiters: make(map[string]*RateLimiter),
		configs:  configs,
		logger:   logger,
		metrics:  metrics,
	}
}

// Configure installs or replaces the identifier's limits. Any cached
// limiter is dropped so the next Get rebuilds it; its window history
// does not carry over.
func (m *RateLimiterManager) Configure(name string, cfg RateLimiterConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[name] = cfg
	delete(m.limiters, name)
}

// Get returns the limiter for the identifier, creating it if needed.
func (m *RateLimiterManager) Get(name string) *RateLimiter {
	m.mu.RLock()
	rl, ok := m.limiters[name]
	m.mu.RUnlock()
	if ok {
		return rl
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if rl, ok = m.limiters[name]; ok {
		return rl
	}
	rl = NewRateLimiter(name, m.configs[name], m.logger, m.metrics)
	m.limiters[name] = rl
	return rl
}
