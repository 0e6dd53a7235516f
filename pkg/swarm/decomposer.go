// Package swarm decomposes a task into subtasks and coordinates their
// execution across agents: all at once, in order, or as dependency
// waves over a DAG.
package swarm

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/developer-mesh/orchestration-core/pkg/models"
)

// Decomposer produces an ordered subtask plan for a task. An LLM-backed
// implementation may return malformed plans; the coordinator validates
// every plan and falls back to a fixed one when validation fails.
type Decomposer interface {
	Decompose(ctx context.Context, task models.RoutingRequest) ([]*models.SubTask, error)
}

// DecomposerFunc adapts a function to the Decomposer interface.
type DecomposerFunc func(ctx context.Context, task models.RoutingRequest) ([]*models.SubTask, error)

// Decompose implements Decomposer.
func (f DecomposerFunc) Decompose(ctx context.Context, task models.RoutingRequest) ([]*models.SubTask, error) {
	return f(ctx, task)
}

// ValidatePlan checks a decomposition: at least one subtask, unique
// non-empty ids, dependencies referencing sibling ids only, and no
// subtask depending on itself.
func ValidatePlan(subtasks []*models.SubTask) error {
	if len(subtasks) == 0 {
		return fmt.Errorf("plan contains no subtasks")
	}

	ids := make(map[string]bool, len(subtasks))
	for _, st := range subtasks {
		if st == nil || st.ID == "" {
			return fmt.Errorf("plan contains a subtask without an id")
		}
		if ids[st.ID] {
			return fmt.Errorf("duplicate subtask id %q", st.ID)
		}
		ids[st.ID] = true
	}
	for _, st := range subtasks {
		for _, dep := range st.Dependencies {
			if dep == st.ID {
				return fmt.Errorf("subtask %q depends on itself", st.ID)
			}
			if !ids[dep] {
				return fmt.Errorf("subtask %q depends on unknown id %q", st.ID, dep)
			}
		}
	}
	return nil
}

// FallbackPlan is the fixed three-step chain used when decomposition
// fails or validates badly: prepare, execute, validate.
func FallbackPlan(parentTaskID string, task models.RoutingRequest) []*models.SubTask {
	now := time.Now().UTC()
	steps := []struct {
		name string
		desc string
	}{
		{"prepare", "Prepare inputs and context for: " + task.TaskDescription},
		{"execute", "Execute the main task: " + task.TaskDescription},
		{"validate", "Validate the outcome of: " + task.TaskDescription},
	}

	subtasks := make([]*models.SubTask, len(steps))
	var prev string
	for i, step := range steps {
		st := &models.SubTask{
			ID:           uuid.New().String(),
			ParentTaskID: parentTaskID,
			Task: models.RoutingRequest{
				TaskType:        task.TaskType,
				TaskDescription: step.desc,
				Metadata:        map[string]any{"step": step.name},
			},
			Status:      models.SubTaskPending,
			MaxAttempts: models.DefaultMaxAttempts,
			CreatedAt:   now,
		}
		if prev != "" {
			st.Dependencies = []string{prev}
		}
		subtasks[i] = st
		prev = st.ID
	}
	return subtasks
}

// ChooseStrategy picks the execution strategy for a validated plan:
// parallel when nothing depends on anything, sequential when the graph
// is a simple chain, dag otherwise.
func ChooseStrategy(subtasks []*models.SubTask) models.SwarmStrategy {
	anyDeps := false
	for _, st := range subtasks {
		if len(st.Dependencies) > 0 {
			anyDeps = true
			break
		}
	}
	if !anyDeps {
		return models.SwarmParallel
	}

	// A chain has exactly one root, every other node exactly one
	// dependency, and no id depended on twice.
	roots := 0
	dependedOn := make(map[string]int)
	for _, st := range subtasks {
		switch len(st.Dependencies) {
		case 0:
			roots++
		case 1:
			dependedOn[st.Dependencies[0]]++
		default:
			return models.SwarmDAG
		}
	}
	if roots != 1 {
		return models.SwarmDAG
	}
	for _, count := range dependedOn {
		if count > 1 {
			return models.SwarmDAG
		}
	}
	return models.SwarmSequential
}
