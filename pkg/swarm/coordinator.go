package swarm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	orcherrors "github.com/developer-mesh/orchestration-core/pkg/errors"
	"github.com/developer-mesh/orchestration-core/pkg/models"
	"github.com/developer-mesh/orchestration-core/pkg/observability"
)

// DefaultMaxParallelAgents bounds concurrent subtask execution.
const DefaultMaxParallelAgents = 10

// AgentRegistry is the caller-supplied surface the coordinator routes
// subtasks through. The core never talks to model providers directly.
type AgentRegistry interface {
	FindAgentsByCapability(ctx context.Context, capability string, onlyAvailable bool) ([]string, error)
	RouteTask(ctx context.Context, task models.RoutingRequest) (string, error)
	AcquireAgent(ctx context.Context, agentID, subtaskID string) (bool, error)
	ReleaseAgent(ctx context.Context, agentID, subtaskID string, success bool, execTimeMs float64)
	ExecuteTask(ctx context.Context, task models.RoutingRequest, taskContext map[string]any, preferredAgent string) (*models.AgentResult, error)
}

// Config tunes the coordinator.
type Config struct {
	MaxParallelAgents int `mapstructure:"max_parallel_agents"`
	// RetryInitialInterval seeds the per-subtask retry backoff.
	RetryInitialInterval time.Duration `mapstructure:"retry_initial_interval"`
}

// Coordinator runs one task as a swarm: decompose, choose a strategy,
// execute, aggregate.
type Coordinator struct {
	decomposer Decomposer
	agents     AgentRegistry
	config     Config
	logger     observability.Logger
	metrics    observability.MetricsClient
	now        func() time.Time
}

// NewCoordinator creates a swarm coordinator.
func NewCoordinator(decomposer Decomposer, agents AgentRegistry, config Config, logger observability.Logger, metrics observability.MetricsClient) *Coordinator {
	if config.MaxParallelAgents <= 0 {
		config.MaxParallelAgents = DefaultMaxParallelAgents
	}
	if config.RetryInitialInterval <= 0 {
		config.RetryInitialInterval = 100 * time.Millisecond
	}
	return &Coordinator{
		decomposer: decomposer,
		agents:     agents,
		config:     config,
		logger:     logger.WithPrefix("swarm"),
		metrics:    metrics,
		now:        time.Now,
	}
}

// Execute runs the full swarm for one task. Individual subtask
// failures do not abort the run; the aggregate result reports them. A
// stalled DAG aborts with a cyclic-dag error alongside the partial
// result.
func (c *Coordinator) Execute(ctx context.Context, task models.RoutingRequest, taskContext map[string]any) (*models.AgentResult, error) {
	start := c.now()
	swarmID := uuid.New().String()

	subtasks := c.plan(ctx, swarmID, task)
	exec := &models.SwarmExecution{
		SwarmID:    swarmID,
		ParentTask: task.TaskDescription,
		SubTasks:   subtasks,
		Strategy:   ChooseStrategy(subtasks),
		StartedAt:  start.UTC(),
	}

	c.logger.Info("swarm started", map[string]interface{}{
		"swarm_id": swarmID,
		"strategy": string(exec.Strategy),
		"subtasks": len(subtasks),
	})

	var mu sync.Mutex
	var execErr error
	switch exec.Strategy {
	case models.SwarmParallel:
		c.runParallel(ctx, exec, &mu, subtasks, taskContext)
	case models.SwarmSequential:
		c.runSequential(ctx, exec, &mu, taskContext)
	default:
		execErr = c.runDAG(ctx, exec, &mu, taskContext)
	}

	exec.CompletedAt = c.now().UTC()
	exec.TotalTimeMs = float64(exec.CompletedAt.Sub(exec.StartedAt).Milliseconds())

	result := c.aggregate(exec)
	c.metrics.RecordDuration("swarm_duration_seconds", c.now().Sub(start), map[string]string{
		"strategy": string(exec.Strategy),
		"success":  boolLabel(result.Success),
	})
	c.logger.Info("swarm finished", map[string]interface{}{
		"swarm_id":  swarmID,
		"completed": exec.CompletedSubtasks,
		"failed":    exec.FailedSubtasks,
		"cost":      exec.TotalCost,
	})
	return result, execErr
}

// plan decomposes the task, falling back to the fixed three-step chain
// when the decomposer errors or returns an invalid plan.
func (c *Coordinator) plan(ctx context.Context, swarmID string, task models.RoutingRequest) []*models.SubTask {
	subtasks, err := c.decomposer.Decompose(ctx, task)
	if err == nil {
		err = ValidatePlan(subtasks)
	}
	if err != nil {
		c.logger.Warn("decomposition invalid, using fallback plan", map[string]interface{}{
			"swarm_id": swarmID,
			"error":    err.Error(),
		})
		subtasks = FallbackPlan(swarmID, task)
	}

	now := c.now().UTC()
	for _, st := range subtasks {
		if st.ParentTaskID == "" {
			st.ParentTaskID = swarmID
		}
		if st.Status == "" {
			st.Status = models.SubTaskPending
		}
		if st.MaxAttempts <= 0 {
			st.MaxAttempts = models.DefaultMaxAttempts
		}
		if st.CreatedAt.IsZero() {
			st.CreatedAt = now
		}
	}
	return subtasks
}

func (c *Coordinator) runParallel(ctx context.Context, exec *models.SwarmExecution, mu *sync.Mutex, wave []*models.SubTask, taskContext map[string]any) {
	sem := semaphore.NewWeighted(int64(c.config.MaxParallelAgents))
	var wg sync.WaitGroup

	for _, st := range wave {
		wg.Add(1)
		go func(st *models.SubTask) {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				c.fail(exec, mu, st, "cancelled before start: "+err.Error())
				return
			}
			defer sem.Release(1)
			c.runSubTask(ctx, exec, mu, st, taskContext)
		}(st)
	}
	wg.Wait()
}

func (c *Coordinator) runSequential(ctx context.Context, exec *models.SwarmExecution, mu *sync.Mutex, taskContext map[string]any) {
	for _, st := range exec.SubTasks {
		if ctx.Err() != nil {
			c.fail(exec, mu, st, "cancelled before start: "+ctx.Err().Error())
			continue
		}
		c.runSubTask(ctx, exec, mu, st, taskContext)
	}
}

// runDAG schedules waves of subtasks whose dependencies all completed
// successfully. A pass that finds no runnable subtask while some
// remain means the graph is cyclic or blocked by failures.
func (c *Coordinator) runDAG(ctx context.Context, exec *models.SwarmExecution, mu *sync.Mutex, taskContext map[string]any) error {
	byID := make(map[string]*models.SubTask, len(exec.SubTasks))
	for _, st := range exec.SubTasks {
		byID[st.ID] = st
	}

	for {
		var wave []*models.SubTask
		remaining := 0
		for _, st := range exec.SubTasks {
			if st.Status.Terminal() {
				continue
			}
			remaining++
			ready := true
			for _, dep := range st.Dependencies {
				if d := byID[dep]; d == nil || d.Status != models.SubTaskCompleted {
					ready = false
					break
				}
			}
			if ready {
				wave = append(wave, st)
			}
		}

		if remaining == 0 {
			return nil
		}
		if len(wave) == 0 {
			for _, st := range exec.SubTasks {
				if !st.Status.Terminal() {
					c.fail(exec, mu, st, "dependency graph stalled")
				}
			}
			return orcherrors.Newf(orcherrors.KindCyclicDAG,
				"dependency graph stalled with %d subtasks unrunnable", remaining)
		}

		c.runParallel(ctx, exec, mu, wave, taskContext)
	}
}

// runSubTask executes one subtask with retries. Attempts are strictly
// ordered; the agent is acquired and released around every attempt.
func (c *Coordinator) runSubTask(ctx context.Context, exec *models.SwarmExecution, mu *sync.Mutex, st *models.SubTask, taskContext map[string]any) {
	st.Status = models.SubTaskRunning
	st.StartedAt = c.now().UTC()

	policy := backoff.WithContext(
		backoff.WithMaxRetries(
			newBackoff(c.config.RetryInitialInterval),
			uint64(st.MaxAttempts-1),
		), ctx)

	var result *models.AgentResult
	err := backoff.Retry(func() error {
		st.Attempts++
		r, attemptErr := c.attempt(ctx, st, taskContext)
		if attemptErr != nil {
			return attemptErr
		}
		if !r.Success {
			result = r
			return fmt.Errorf("agent reported failure: %s", r.Error)
		}
		result = r
		return nil
	}, policy)

	st.CompletedAt = c.now().UTC()
	st.Result = result

	if err != nil || result == nil || !result.Success {
		reason := "agent execution failed"
		if err != nil {
			reason = err.Error()
		}
		c.fail(exec, mu, st, reason)
		return
	}

	st.Status = models.SubTaskCompleted
	mu.Lock()
	exec.CompletedSubtasks++
	exec.TotalCost += result.Cost
	mu.Unlock()

	c.metrics.RecordCounter("swarm_subtasks_total", 1, map[string]string{"status": "completed"})
}

// attempt is one routed execution: route, acquire, execute, release.
func (c *Coordinator) attempt(ctx context.Context, st *models.SubTask, taskContext map[string]any) (*models.AgentResult, error) {
	var agentID string
	id, err := c.agents.RouteTask(ctx, st.Task)
	if err != nil || id == "" {
		// No direct route; fall back to any available agent advertising
		// the task type as a capability.
		if agents, findErr := c.agents.FindAgentsByCapability(ctx, string(st.Task.TaskType), true); findErr == nil && len(agents) > 0 {
			id = agents[0]
		}
	}
	if id != "" {
		acquired, acqErr := c.agents.AcquireAgent(ctx, id, st.ID)
		if acqErr == nil && acquired {
			agentID = id
			st.AssignedAgent = id
		}
	}

	start := c.now()
	result, err := c.agents.ExecuteTask(ctx, st.Task, taskContext, agentID)
	elapsedMs := float64(c.now().Sub(start).Milliseconds())

	if agentID != "" {
		success := err == nil && result != nil && result.Success
		c.agents.ReleaseAgent(ctx, agentID, st.ID, success, elapsedMs)
	}
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, fmt.Errorf("agent returned no result")
	}
	if result.DurationMs == 0 {
		result.DurationMs = elapsedMs
	}
	return result, nil
}

func (c *Coordinator) fail(exec *models.SwarmExecution, mu *sync.Mutex, st *models.SubTask, reason string) {
	st.Status = models.SubTaskFailed
	if st.Result == nil {
		st.Result = &models.AgentResult{Success: false, Error: reason}
	}
	if st.CompletedAt.IsZero() {
		st.CompletedAt = c.now().UTC()
	}

	mu.Lock()
	exec.FailedSubtasks++
	if st.Result != nil {
		exec.TotalCost += st.Result.Cost
	}
	mu.Unlock()

	c.metrics.RecordCounter("swarm_subtasks_total", 1, map[string]string{"status": "failed"})
	c.logger.Warn("subtask failed", map[string]interface{}{
		"swarm_id":   exec.SwarmID,
		"subtask_id": st.ID,
		"attempts":   st.Attempts,
		"reason":     reason,
	})
}

// aggregate folds subtask results into one swarm-level result: outputs
// of successful subtasks unioned, evidence and artifacts concatenated,
// totals summed. The swarm succeeds only when nothing failed.
func (c *Coordinator) aggregate(exec *models.SwarmExecution) *models.AgentResult {
	agg := &models.AgentResult{
		Output:     make(map[string]any),
		Cost:       exec.TotalCost,
		DurationMs: exec.TotalTimeMs,
	}

	for _, st := range exec.SubTasks {
		if st.Result == nil {
			continue
		}
		if st.Status == models.SubTaskCompleted {
			for k, v := range st.Result.Output {
				agg.Output[k] = v
			}
		}
		agg.Evidence = append(agg.Evidence, st.Result.Evidence...)
		agg.Artifacts = append(agg.Artifacts, st.Result.Artifacts...)
	}

	total := len(exec.SubTasks)
	successRate := 0.0
	if total > 0 {
		successRate = float64(exec.CompletedSubtasks) / float64(total)
	}
	agg.Success = exec.FailedSubtasks == 0
	if !agg.Success {
		agg.Error = fmt.Sprintf("%d of %d subtasks failed", exec.FailedSubtasks, total)
	}
	agg.Metadata = map[string]any{
		"swarm_id":           exec.SwarmID,
		"strategy":           string(exec.Strategy),
		"total_subtasks":     total,
		"completed_subtasks": exec.CompletedSubtasks,
		"failed_subtasks":    exec.FailedSubtasks,
		"success_rate":       successRate,
	}
	return agg
}

func newBackoff(initial time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxElapsedTime = 0
	return b
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
