package observability

import (
	"time"

	"golang.org/x/time/rate"
)

// noopMetricsClient discards all metrics. It is the default when
// metrics are disabled.
type noopMetricsClient struct{}

// NewNoopMetricsClient creates a metrics client that discards
// everything.
func NewNoopMetricsClient() MetricsClient { return &noopMetricsClient{} }

func (m *noopMetricsClient) RecordCounter(name string, value float64, labels map[string]string)   {}
func (m *noopMetricsClient) RecordGauge(name string, value float64, labels map[string]string)     {}
func (m *noopMetricsClient) RecordHistogram(name string, value float64, labels map[string]string) {}
func (m *noopMetricsClient) RecordDuration(name string, duration time.Duration, labels map[string]string) {
}
func (m *noopMetricsClient) RecordOperation(component, operation string, success bool, durationSeconds float64, labels map[string]string) {
}
func (m *noopMetricsClient) StartTimer(name string, labels map[string]string) func() {
	return func() {}
}
func (m *noopMetricsClient) Close() error { return nil }

// BoundedMetricsClient wraps another MetricsClient and drops emissions
// beyond a rate ceiling. It keeps hot paths from stalling on a slow or
// saturated metrics backend: recording is best-effort by contract.
type BoundedMetricsClient struct {
	inner   MetricsClient
	limiter *rate.Limiter
	dropped MetricsClient // where drop counts go; the inner client itself
}

// NewBoundedMetricsClient wraps inner with an emission ceiling of
// maxPerSecond samples (burst 2x). Zero or negative maxPerSecond
// disables the bound.
func NewBoundedMetricsClient(inner MetricsClient, maxPerSecond float64) MetricsClient {
	if maxPerSecond <= 0 {
		return inner
	}
	return &BoundedMetricsClient{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(maxPerSecond), int(maxPerSecond*2)),
		dropped: inner,
	}
}

func (b *BoundedMetricsClient) allow() bool { return b.limiter.Allow() }

// RecordCounter implements MetricsClient.RecordCounter.
func (b *BoundedMetricsClient) RecordCounter(name string, value float64, labels map[string]string) {
	if b.allow() {
		b.inner.RecordCounter(name, value, labels)
	}
}

// RecordGauge implements MetricsClient.RecordGauge.
func (b *BoundedMetricsClient) RecordGauge(name string, value float64, labels map[string]string) {
	if b.allow() {
		b.inner.RecordGauge(name, value, labels)
	}
}

// RecordHistogram implements MetricsClient.RecordHistogram.
func (b *BoundedMetricsClient) RecordHistogram(name string, value float64, labels map[string]string) {
	if b.allow() {
		b.inner.RecordHistogram(name, value, labels)
	}
}

// RecordDuration implements MetricsClient.RecordDuration.
func (b *BoundedMetricsClient) RecordDuration(name string, duration time.Duration, labels map[string]string) {
	if b.allow() {
		b.inner.RecordDuration(name, duration, labels)
	}
}

// RecordOperation implements MetricsClient.RecordOperation.
func (b *BoundedMetricsClient) RecordOperation(component, operation string, success bool, durationSeconds float64, labels map[string]string) {
	if b.allow() {
		b.inner.RecordOperation(component, operation, success, durationSeconds, labels)
	}
}

// StartTimer implements MetricsClient.StartTimer.
func (b *BoundedMetricsClient) StartTimer(name string, labels map[string]string) func() {
	start := time.Now()
	return func() {
		b.RecordDuration(name, time.Since(start), labels)
	}
}

// Close implements MetricsClient.Close.
func (b *BoundedMetricsClient) Close() error { return b.inner.Close() }
