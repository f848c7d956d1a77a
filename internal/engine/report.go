package engine

import (
	"time"

	"github.com/troupehq/troupe/internal/registry"
	"github.com/troupehq/troupe/internal/workflow"
)

// TaskResult is one task's entry in the run report.
type TaskResult struct {
	TaskID    string           `json:"task_id"`
	TaskName  string           `json:"task_name,omitempty"`
	Agent     string           `json:"agent"`
	Outcome   workflow.Outcome `json:"outcome"`
	StartedAt time.Time        `json:"started_at"`
	Elapsed   time.Duration    `json:"elapsed"`
}

// NodeResult is one graph step's entry in the run report.
type NodeResult struct {
	NodeID    string            `json:"node_id"`
	NodeName  string            `json:"node_name,omitempty"`
	Kind      workflow.NodeKind `json:"kind"`
	Outcome   workflow.Outcome  `json:"outcome"`
	StartedAt time.Time         `json:"started_at"`
	Elapsed   time.Duration     `json:"elapsed"`
}

// Insights summarizes collaboration behavior observed during a run.
type Insights struct {
	TotalTasks     int            `json:"total_tasks"`
	CompletedTasks int            `json:"completed_tasks"`
	FailedTasks    int            `json:"failed_tasks"`
	SuccessRate    float64        `json:"success_rate"`
	TasksPerAgent  map[string]int `json:"tasks_per_agent,omitempty"`
	BusiestAgent   string         `json:"busiest_agent,omitempty"`
	AverageElapsed time.Duration  `json:"average_elapsed,omitempty"`
}

// Report is the full record of one workflow execution.
type Report struct {
	ID           string           `json:"id"`
	WorkflowID   string           `json:"workflow_id"`
	WorkflowName string           `json:"workflow_name,omitempty"`
	Pattern      workflow.Pattern `json:"pattern"`
	Status       string           `json:"status"`
	TaskResults  []TaskResult     `json:"task_results,omitempty"`
	NodeResults  []NodeResult     `json:"node_results,omitempty"`
	Unassignable []string         `json:"unassignable,omitempty"`
	Insights     Insights         `json:"insights"`
	StartedAt    time.Time        `json:"started_at"`
	CompletedAt  time.Time        `json:"completed_at"`
}

func computeInsights(r *Report) Insights {
	in := Insights{
		TotalTasks:    len(r.TaskResults),
		TasksPerAgent: make(map[string]int),
	}

	var totalElapsed time.Duration
	for _, tr := range r.TaskResults {
		in.TasksPerAgent[tr.Agent]++
		totalElapsed += tr.Elapsed
		if tr.Outcome.Succeeded() {
			in.CompletedTasks++
		} else {
			in.FailedTasks++
		}
	}

	if in.TotalTasks > 0 {
		in.SuccessRate = float64(in.CompletedTasks) / float64(in.TotalTasks)
		in.AverageElapsed = totalElapsed / time.Duration(in.TotalTasks)
	}
	for agent, n := range in.TasksPerAgent {
		if in.BusiestAgent == "" || n > in.TasksPerAgent[in.BusiestAgent] ||
			(n == in.TasksPerAgent[in.BusiestAgent] && agent < in.BusiestAgent) {
			in.BusiestAgent = agent
		}
	}
	return in
}

func registryPerf(taskID string, elapsed time.Duration, quality float64) registry.PerformanceSample {
	return registry.PerformanceSample{
		TaskID:       taskID,
		Duration:     elapsed,
		QualityScore: quality,
		CompletedAt:  time.Now(),
	}
}
