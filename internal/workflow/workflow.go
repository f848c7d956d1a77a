package workflow

import (
	"errors"
	"fmt"
	"iter"
	"time"
)

var (
	ErrUnknownWorkflow   = errors.New("unknown workflow")
	ErrUnknownNode       = errors.New("unknown node")
	ErrUnknownTask       = errors.New("unknown task")
	ErrCyclicDependency  = errors.New("cyclic task dependency")
	ErrDuplicateTemplate = errors.New("duplicate template")
	ErrUnknownTemplate   = errors.New("unknown template")
)

// Status values for a workflow as a whole.
const (
	WorkflowActive    = "active"
	WorkflowCompleted = "completed"
	WorkflowFailed    = "failed"
)

// Workflow is a named collection of tasks and/or graph nodes plus a
// declared collaboration pattern. Deadline and budget are display-only
// metadata.
type Workflow struct {
	ID                  string     `json:"id"`
	Name                string     `json:"name"`
	Description         string     `json:"description,omitempty"`
	Objectives          []string   `json:"objectives,omitempty"`
	Tasks               []*Task    `json:"tasks,omitempty"`
	Nodes               []Node     `json:"-"`
	Edges               []Edge     `json:"edges,omitempty"`
	ParticipatingAgents []string   `json:"participating_agents,omitempty"`
	Pattern             Pattern    `json:"pattern"`
	Status              string     `json:"status"`
	Deadline            *time.Time `json:"deadline,omitempty"`
	Budget              float64    `json:"budget,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// New creates an empty workflow with the given pattern.
func New(id, name string, pattern Pattern) *Workflow {
	now := time.Now()
	return &Workflow{
		ID:        id,
		Name:      name,
		Pattern:   pattern,
		Status:    WorkflowActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// AddTask appends a task. Status defaults to pending, priority to 5.
func (w *Workflow) AddTask(t *Task) {
	if t.Status == "" {
		t.Status = StatusPending
	}
	if t.Priority == 0 {
		t.Priority = 5
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	w.Tasks = append(w.Tasks, t)
	w.UpdatedAt = time.Now()
}

// AddNode appends a graph node.
func (w *Workflow) AddNode(n Node) {
	w.Nodes = append(w.Nodes, n)
	w.UpdatedAt = time.Now()
}

// AddEdge connects two existing nodes. Both endpoints must already be
// present in the workflow.
func (w *Workflow) AddEdge(e Edge) error {
	if w.NodeByID(e.SourceNode) == nil {
		return fmt.Errorf("edge %s source %q: %w", e.ID, e.SourceNode, ErrUnknownNode)
	}
	if w.NodeByID(e.TargetNode) == nil {
		return fmt.Errorf("edge %s target %q: %w", e.ID, e.TargetNode, ErrUnknownNode)
	}
	w.Edges = append(w.Edges, e)
	w.UpdatedAt = time.Now()
	return nil
}

// NodeByID returns the node with the given id, or nil.
func (w *Workflow) NodeByID(id string) Node {
	for _, n := range w.Nodes {
		if n.ID() == id {
			return n
		}
	}
	return nil
}

// TaskByID returns the task with the given id, or nil.
func (w *Workflow) TaskByID(id string) *Task {
	for _, t := range w.Tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// OutgoingEdges returns the edges leaving a node, in insertion order.
func (w *Workflow) OutgoingEdges(nodeID string) []Edge {
	var out []Edge
	for _, e := range w.Edges {
		if e.SourceNode == nodeID {
			out = append(out, e)
		}
	}
	return out
}

// TriggerNodes returns every trigger node, in insertion order.
func (w *Workflow) TriggerNodes() []Node {
	var out []Node
	for _, n := range w.Nodes {
		if _, ok := n.(*TriggerNode); ok {
			out = append(out, n)
		}
	}
	return out
}

// Validate checks the workflow's structural integrity: every edge must
// reference existing nodes, every task dependency must reference an
// existing task, and the task dependency graph must be acyclic. It is a
// pure read; validating twice gives the same answer.
func (w *Workflow) Validate() error {
	for _, e := range w.Edges {
		if w.NodeByID(e.SourceNode) == nil {
			return fmt.Errorf("edge %s source %q: %w", e.ID, e.SourceNode, ErrUnknownNode)
		}
		if w.NodeByID(e.TargetNode) == nil {
			return fmt.Errorf("edge %s target %q: %w", e.ID, e.TargetNode, ErrUnknownNode)
		}
	}

	for _, t := range w.Tasks {
		for _, dep := range t.Dependencies {
			if w.TaskByID(dep) == nil {
				return fmt.Errorf("task %s dependency %q: %w", t.ID, dep, ErrUnknownTask)
			}
		}
	}

	return w.checkAcyclic()
}

// checkAcyclic runs Kahn's algorithm over the task dependency graph.
func (w *Workflow) checkAcyclic() error {
	inDegree := make(map[string]int, len(w.Tasks))
	dependents := make(map[string][]string)
	for _, t := range w.Tasks {
		inDegree[t.ID] = len(t.Dependencies)
		for _, dep := range t.Dependencies {
			dependents[dep] = append(dependents[dep], t.ID)
		}
	}

	queue := make([]string, 0, len(w.Tasks))
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}

	processed := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		processed++

		for _, next := range dependents[id] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if processed != len(w.Tasks) {
		return fmt.Errorf("workflow %s: %w", w.ID, ErrCyclicDependency)
	}
	return nil
}

// DependentCount returns how many tasks (transitively one step away)
// list the given task as a dependency.
func (w *Workflow) DependentCount(taskID string) int {
	count := 0
	for _, t := range w.Tasks {
		for _, dep := range t.Dependencies {
			if dep == taskID {
				count++
			}
		}
	}
	return count
}

// ReadyTasks yields tasks that are pending with every dependency
// completed. The sequence is lazy and restartable; ranging over it again
// re-evaluates against current task statuses.
func (w *Workflow) ReadyTasks() iter.Seq[*Task] {
	return func(yield func(*Task) bool) {
		for _, t := range w.Tasks {
			if t.Status != StatusPending {
				continue
			}
			ready := true
			for _, dep := range t.Dependencies {
				d := w.TaskByID(dep)
				if d == nil || d.Status != StatusCompleted {
					ready = false
					break
				}
			}
			if ready && !yield(t) {
				return
			}
		}
	}
}
