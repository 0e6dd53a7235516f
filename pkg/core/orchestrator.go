// Package core is the composition root of the orchestration core. It
// constructs every component explicitly at boot, wires them together,
// and exposes the facade operations the enveloping service calls.
// Nothing here is lazily initialized or global.
package core

import (
	"context"
	"time"

	"github.com/developer-mesh/orchestration-core/pkg/audit"
	"github.com/developer-mesh/orchestration-core/pkg/cost"
	orcherrors "github.com/developer-mesh/orchestration-core/pkg/errors"
	"github.com/developer-mesh/orchestration-core/pkg/learning"
	"github.com/developer-mesh/orchestration-core/pkg/models"
	"github.com/developer-mesh/orchestration-core/pkg/observability"
	"github.com/developer-mesh/orchestration-core/pkg/performance"
	"github.com/developer-mesh/orchestration-core/pkg/quota"
	"github.com/developer-mesh/orchestration-core/pkg/registry"
	"github.com/developer-mesh/orchestration-core/pkg/resilience"
	"github.com/developer-mesh/orchestration-core/pkg/router"
	"github.com/developer-mesh/orchestration-core/pkg/swarm"
)

// Config assembles the orchestrator. CatalogPath or Catalog must be
// set; everything else has working defaults.
type Config struct {
	// CatalogPath points at the model catalog document.
	CatalogPath string `mapstructure:"catalog_path"`
	// Catalog holds an inline catalog document; used when CatalogPath
	// is empty. CatalogFormat names its encoding (default yaml).
	Catalog       []byte `mapstructure:"-"`
	CatalogFormat string `mapstructure:"catalog_format"`

	CircuitBreaker resilience.CircuitBreakerConfig           `mapstructure:"circuit_breaker"`
	RateLimits     map[string]resilience.RateLimiterConfig   `mapstructure:"rate_limits"`
	Quotas         []models.QuotaConfig                      `mapstructure:"quotas"`
	Swarm          swarm.Config                              `mapstructure:"swarm"`
	Audit          audit.Config                              `mapstructure:"audit"`
	// ProviderMetricsRingSize bounds the provider sample ring.
	ProviderMetricsRingSize int `mapstructure:"provider_metrics_ring_size"`
}

// Dependencies are the caller-supplied collaborators the core does not
// implement itself.
type Dependencies struct {
	// Decomposer splits a swarm task into subtasks. Nil gets the fixed
	// fallback plan for every task.
	Decomposer swarm.Decomposer
	// Agents executes subtasks. Required for ExecuteSwarm.
	Agents swarm.AgentRegistry
	// QuotaStore persists usage counters. Nil gets in-memory.
	QuotaStore quota.UsageStore
	// PerformanceStore persists model metrics. Nil gets in-memory.
	PerformanceStore performance.Store
}

// Orchestrator owns every component of the core. Construct with New at
// process boot; Close at shutdown.
type Orchestrator struct {
	registry        *registry.Registry
	predictor       *cost.Predictor
	tracker         *performance.Tracker
	providerMetrics *performance.ProviderMetrics
	breaker         *resilience.CircuitBreaker
	limiters        *resilience.RateLimiterManager
	quota           *quota.Service
	loop            *learning.Loop
	abtester        *learning.ABTester
	hybrid          *router.HybridRouter
	router          *router.MoERouter
	audit           *audit.Logger
	coordinator     *swarm.Coordinator

	logger  observability.Logger
	metrics observability.MetricsClient
	tracer  observability.Tracer
}

// New builds and wires the full core. A catalog that fails validation
// aborts construction; the process must not start without one.
func New(cfg Config, deps Dependencies, logger observability.Logger, metrics observability.MetricsClient, tracer observability.Tracer) (*Orchestrator, error) {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoopMetricsClient()
	}
	if tracer == nil {
		tracer = observability.NewNoopTracer()
	}

	reg := registry.New(logger)
	switch {
	case cfg.CatalogPath != "":
		if err := reg.Load(cfg.CatalogPath); err != nil {
			return nil, err
		}
	case len(cfg.Catalog) > 0:
		format := cfg.CatalogFormat
		if format == "" {
			format = "yaml"
		}
		if err := reg.LoadFromBytes(cfg.Catalog, format); err != nil {
			return nil, err
		}
	default:
		return nil, orcherrors.New(orcherrors.KindConfig, "no model catalog configured")
	}

	predictor := cost.NewPredictor()
	tracker := performance.NewTracker(deps.PerformanceStore, logger, metrics)
	providerMetrics := performance.NewProviderMetrics(cfg.ProviderMetricsRingSize, logger, metrics)
	breaker := resilience.NewCircuitBreaker(cfg.CircuitBreaker, logger, metrics)
	limiters := resilience.NewRateLimiterManager(cfg.RateLimits, logger, metrics)

	quotaSvc := quota.NewService(deps.QuotaStore, limiters, logger, metrics)
	for _, q := range cfg.Quotas {
		quotaSvc.SetConfig(q)
	}

	loop := learning.NewLoop(logger, metrics)
	abtester := learning.NewABTester(logger)
	hybrid := router.NewHybridRouter(predictor, logger)
	moe := router.NewMoERouter(reg, predictor, tracker, breaker, loop, hybrid, logger, metrics)

	auditLogger, err := audit.NewLogger(cfg.Audit, logger, metrics)
	if err != nil {
		return nil, orcherrors.Wrap(err, orcherrors.KindConfig, "constructing audit logger")
	}

	decomposer := deps.Decomposer
	if decomposer == nil {
		decomposer = swarm.DecomposerFunc(func(context.Context, models.RoutingRequest) ([]*models.SubTask, error) {
			return nil, orcherrors.New(orcherrors.KindDecomposition, "no decomposer configured")
		})
	}
	var coordinator *swarm.Coordinator
	if deps.Agents != nil {
		coordinator = swarm.NewCoordinator(decomposer, deps.Agents, cfg.Swarm, logger, metrics)
	}

	return &Orchestrator{
		registry:        reg,
		predictor:       predictor,
		tracker:         tracker,
		providerMetrics: providerMetrics,
		breaker:         breaker,
		limiters:        limiters,
		quota:           quotaSvc,
		loop:            loop,
		abtester:        abtester,
		hybrid:          hybrid,
		router:          moe,
		audit:           auditLogger,
		coordinator:     coordinator,
		logger:          logger.WithPrefix("core"),
		metrics:         metrics,
		tracer:          tracer,
	}, nil
}

// Route selects a model for the request.
func (o *Orchestrator) Route(ctx context.Context, req models.RoutingRequest) models.RoutingDecision {
	start := time.Now()
	_, span := observability.TraceOperation(ctx, o.tracer, "router", "select_model")
	defer span.End()
	span.SetAttribute(string(observability.AttrTaskType), string(req.TaskType))

	decision := o.router.SelectModel(req)
	o.metrics.RecordOperation("router", "select_model", decision.Strategy != models.StrategyError, time.Since(start).Seconds(), nil)

	span.SetAttribute(string(observability.AttrModel), decision.SelectedModel)
	span.SetAttribute(string(observability.AttrStrategy), string(decision.Strategy))
	span.SetAttribute(string(observability.AttrCost), decision.EstimatedCost)
	if decision.Strategy == models.StrategyError {
		span.SetStatus(2, decision.Rationale)
	}
	return decision
}

// RecordOutcome feeds one execution result back into the learning
// loop, the performance tracker, the circuit breaker, and the provider
// metrics ring.
func (o *Orchestrator) RecordOutcome(ctx context.Context, fb models.FeedbackData) {
	_, span := observability.TraceOperation(ctx, o.tracer, "learning", "record_outcome")
	defer span.End()
	span.SetAttribute(string(observability.AttrModel), fb.ModelID)

	success := fb.Outcome == models.OutcomeSuccess
	o.router.RecordTaskOutcome(fb.ModelID, fb.TaskType, success, fb.ActualLatencyMs, fb.ActualCost, fb.QualityScore)
	o.loop.ProcessFeedback(fb)

	if snap := o.registry.Snapshot(); snap != nil {
		if m := snap.Model(fb.ModelID); m != nil {
			sample := performance.Sample{
				Provider: m.Provider,
				TaskType: fb.TaskType,
				Success:  success,
			}
			if fb.ActualCost != nil {
				sample.Cost = *fb.ActualCost
			}
			if fb.ActualLatencyMs != nil {
				sample.LatencyMs = *fb.ActualLatencyMs
			}
			o.providerMetrics.Record(sample)

			if fb.ActualCost != nil {
				o.metrics.RecordCounter("model_cost_usd_total", *fb.ActualCost, map[string]string{
					"model": fb.ModelID,
				})
			}
		}
	}
}

// ExecuteSwarm runs a task as a swarm. Requires agents to have been
// supplied at construction.
func (o *Orchestrator) ExecuteSwarm(ctx context.Context, task models.RoutingRequest, taskContext map[string]any) (*models.AgentResult, error) {
	start := time.Now()
	ctx, span := observability.TraceOperation(ctx, o.tracer, "swarm", "execute")
	defer span.End()
	span.SetAttribute(string(observability.AttrTaskType), string(task.TaskType))

	if o.coordinator == nil {
		err := orcherrors.New(orcherrors.KindConfig, "swarm execution requires an agent registry")
		span.RecordError(err)
		return nil, err
	}

	result, err := o.coordinator.Execute(ctx, task, taskContext)
	if err != nil {
		span.RecordError(err)
	}
	if result != nil {
		span.SetAttribute(string(observability.AttrStatus), result.Success)
		span.SetAttribute(string(observability.AttrCost), result.Cost)
	}
	o.metrics.RecordOperation("swarm", "execute", err == nil && result != nil && result.Success, time.Since(start).Seconds(), nil)
	return result, err
}

// CheckQuota runs the admission checks for one prospective request.
func (o *Orchestrator) CheckQuota(ctx context.Context, req quota.CheckRequest) models.QuotaResult {
	start := time.Now()
	ctx, span := observability.TraceOperation(ctx, o.tracer, "quota", "check")
	defer span.End()

	result := o.quota.Check(ctx, req)
	span.SetAttribute(string(observability.AttrStatus), result.Allowed)
	o.metrics.RecordOperation("quota", "check", result.Allowed, time.Since(start).Seconds(), nil)
	return result
}

// RecordUsage folds actual spend into the quota counters.
func (o *Orchestrator) RecordUsage(ctx context.Context, scope models.QuotaScope, identifier string, costUSD float64, provider models.Provider, tool string) {
	ctx, span := observability.TraceOperation(ctx, o.tracer, "quota", "record_usage")
	defer span.End()
	o.quota.RecordUsage(ctx, scope, identifier, costUSD, provider, tool)
}

// AcquireProvider blocks until the provider's rate limits admit a
// request. Callers must ReleaseProvider on every exit path afterwards.
func (o *Orchestrator) AcquireProvider(ctx context.Context, provider models.Provider, estimatedTokens int) error {
	start := time.Now()
	_, span := observability.TraceOperation(ctx, o.tracer, "rate_limiter", "acquire")
	defer span.End()
	span.SetAttribute(string(observability.AttrProvider), string(provider))

	err := o.limiters.Get(string(provider)).Acquire(ctx, estimatedTokens)
	if err != nil {
		span.RecordError(err)
	}
	o.metrics.RecordOperation("rate_limiter", "acquire", err == nil, time.Since(start).Seconds(), nil)
	return err
}

// ReleaseProvider frees the slot taken by AcquireProvider.
func (o *Orchestrator) ReleaseProvider(provider models.Provider) {
	o.limiters.Get(string(provider)).Release()
}

// Accessors for the components the enveloping service reads from
// directly.

// Registry returns the model catalog registry.
func (o *Orchestrator) Registry() *registry.Registry { return o.registry }

// Audit returns the audit logger.
func (o *Orchestrator) Audit() *audit.Logger { return o.audit }

// Learning returns the learning loop.
func (o *Orchestrator) Learning() *learning.Loop { return o.loop }

// ABTester returns the A/B test runner.
func (o *Orchestrator) ABTester() *learning.ABTester { return o.abtester }

// ProviderMetrics returns the provider metrics recorder.
func (o *Orchestrator) ProviderMetrics() *performance.ProviderMetrics { return o.providerMetrics }

// BreakerStatuses snapshots every provider circuit breaker.
func (o *Orchestrator) BreakerStatuses() []resilience.BreakerStatus {
	return o.breaker.AllStatuses()
}

// Close releases held resources. Safe to call once at shutdown.
func (o *Orchestrator) Close() error {
	err := o.quota.Close()
	if mErr := o.metrics.Close(); err == nil {
		err = mErr
	}
	return err
}
