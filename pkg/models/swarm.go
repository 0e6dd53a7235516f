package models

import "time"

// SwarmStrategy is how a swarm executes its subtasks.
type SwarmStrategy string

// Swarm strategies.
const (
	SwarmParallel   SwarmStrategy = "parallel"
	SwarmSequential SwarmStrategy = "sequential"
	SwarmDAG        SwarmStrategy = "dag"
)

// SubTaskStatus is the lifecycle state of a subtask. Transitions are
// monotonic: pending → assigned → running → completed|failed, with no
// revival after a terminal state.
type SubTaskStatus string

// Subtask states.
const (
	SubTaskPending   SubTaskStatus = "pending"
	SubTaskAssigned  SubTaskStatus = "assigned"
	SubTaskRunning   SubTaskStatus = "running"
	SubTaskCompleted SubTaskStatus = "completed"
	SubTaskFailed    SubTaskStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s SubTaskStatus) Terminal() bool {
	return s == SubTaskCompleted || s == SubTaskFailed
}

// DefaultMaxAttempts is the per-subtask retry budget.
const DefaultMaxAttempts = 3

// SubTask is one decomposed unit of a swarm execution. Dependencies
// reference sibling subtask ids; the dependency graph must be acyclic.
type SubTask struct {
	ID            string         `json:"id"`
	ParentTaskID  string         `json:"parent_task_id"`
	Task          RoutingRequest `json:"task"`
	AssignedAgent string         `json:"assigned_agent,omitempty"`
	Status        SubTaskStatus  `json:"status"`
	Result        *AgentResult   `json:"result,omitempty"`
	Dependencies  []string       `json:"dependencies,omitempty"`
	Attempts      int            `json:"attempts"`
	MaxAttempts   int            `json:"max_attempts"`
	CreatedAt     time.Time      `json:"created_at"`
	StartedAt     time.Time      `json:"started_at,omitempty"`
	CompletedAt   time.Time      `json:"completed_at,omitempty"`
}

// SwarmExecution tracks one coordinated swarm run. It is owned by the
// coordinator that created it and destroyed once terminal and flushed.
type SwarmExecution struct {
	SwarmID           string        `json:"swarm_id"`
	ParentTask        string        `json:"parent_task"`
	SubTasks          []*SubTask    `json:"subtasks"`
	Strategy          SwarmStrategy `json:"strategy"`
	CompletedSubtasks int           `json:"completed_subtasks"`
	FailedSubtasks    int           `json:"failed_subtasks"`
	TotalCost         float64       `json:"total_cost"`
	TotalTimeMs       float64       `json:"total_time_ms"`
	StartedAt         time.Time     `json:"started_at"`
	CompletedAt       time.Time     `json:"completed_at,omitempty"`
}

// AgentResult is the outcome of one agent execution: either a
// subtask's result or the aggregate of a whole swarm.
type AgentResult struct {
	Success    bool           `json:"success"`
	Output     map[string]any `json:"output,omitempty"`
	Evidence   []Evidence     `json:"evidence,omitempty"`
	Artifacts  []string       `json:"artifacts,omitempty"`
	Error      string         `json:"error,omitempty"`
	Cost       float64        `json:"cost"`
	DurationMs float64        `json:"duration_ms"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}
