package workflow

import (
	"time"
)

// TaskStatus is the lifecycle state of a task. The only permitted
// transitions are pending -> assigned -> in_progress -> completed|failed.
type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusAssigned   TaskStatus = "assigned"
	StatusInProgress TaskStatus = "in_progress"
	StatusCompleted  TaskStatus = "completed"
	StatusFailed     TaskStatus = "failed"

	// StatusBlocked is reserved for future use. No transition in the
	// engine produces it.
	StatusBlocked TaskStatus = "blocked"
)

// Terminal reports whether a task in this status can no longer change.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Pattern selects how the engine drives a workflow's task list.
type Pattern string

const (
	PatternSequential   Pattern = "sequential"
	PatternParallel     Pattern = "parallel"
	PatternHierarchical Pattern = "hierarchical"
	PatternNetwork      Pattern = "network"
)

// EdgeType governs when an edge is followed during graph traversal.
type EdgeType string

const (
	EdgeSuccess     EdgeType = "success"
	EdgeError       EdgeType = "error"
	EdgeConditional EdgeType = "conditional"
	EdgeData        EdgeType = "data"
)

// Task is a unit of work with required capabilities, priority and
// dependencies. IDs are unique within the owning workflow.
type Task struct {
	ID                   string         `json:"id"`
	Name                 string         `json:"name"`
	Description          string         `json:"description,omitempty"`
	RequiredCapabilities []string       `json:"required_capabilities"`
	AssignedAgent        string         `json:"assigned_agent,omitempty"`
	Status               TaskStatus     `json:"status"`
	Priority             int            `json:"priority"` // 1-10, higher is more urgent
	Dependencies         []string       `json:"dependencies,omitempty"`
	Input                map[string]any `json:"input,omitempty"`
	Output               map[string]any `json:"output,omitempty"`
	CreatedAt            time.Time      `json:"created_at"`
	StartedAt            *time.Time     `json:"started_at,omitempty"`
	CompletedAt          *time.Time     `json:"completed_at,omitempty"`
}

// Edge is a typed connection between two nodes. Ports are logical slot
// names carried for display tooling; traversal ignores them.
type Edge struct {
	ID          string            `json:"id"`
	SourceNode  string            `json:"source_node"`
	TargetNode  string            `json:"target_node"`
	SourcePort  string            `json:"source_port,omitempty"`
	TargetPort  string            `json:"target_port,omitempty"`
	Type        EdgeType          `json:"type"`
	Condition   string            `json:"condition,omitempty"`
	DataMapping map[string]string `json:"data_mapping,omitempty"`
}

// OutcomeStatus is the result classification of a single node or task
// invocation.
type OutcomeStatus string

const (
	OutcomeSuccess OutcomeStatus = "success"
	OutcomeFailed  OutcomeStatus = "failed"
)

// Outcome is the uniform result of executing one node or task.
type Outcome struct {
	Status       OutcomeStatus  `json:"status"`
	Output       map[string]any `json:"output,omitempty"`
	Error        string         `json:"error,omitempty"`
	QualityScore float64        `json:"quality_score,omitempty"`
}

// Succeeded reports whether the outcome carries a successful status.
func (o Outcome) Succeeded() bool {
	return o.Status == OutcomeSuccess
}

// Failure builds a failed outcome from an error.
func Failure(err error) Outcome {
	return Outcome{Status: OutcomeFailed, Error: err.Error()}
}
