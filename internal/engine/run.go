package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/troupehq/troupe/internal/workflow"
)

// run is the state of one workflow execution: the session handed to the
// gateway and the variable scope accumulated across node steps.
type run struct {
	engine    *Engine
	workflow  *workflow.Workflow
	sessionID string

	varsMu sync.Mutex
	vars   map[string]any
}

// invoke calls a collaborator through the gateway, applying the
// per-invocation timeout and converting cancellation into a failed
// outcome.
func (r *run) invoke(ctx context.Context, name string, params map[string]any) workflow.Outcome {
	if r.engine.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.engine.timeout)
		defer cancel()
	}

	res := r.engine.gateway.Invoke(ctx, name, params, r.sessionID)
	if ctx.Err() != nil && !res.Success {
		return workflow.Outcome{Status: workflow.OutcomeFailed, Error: ctx.Err().Error()}
	}
	if !res.Success {
		return workflow.Outcome{Status: workflow.OutcomeFailed, Error: res.Error}
	}

	out := workflow.Outcome{Status: workflow.OutcomeSuccess, Output: res.Result}
	if q, ok := res.Result["quality_score"].(float64); ok {
		out.QualityScore = q
	}
	return out
}

// executeTask drives one task through in_progress to a terminal status,
// releasing the agent's reservation and recording a performance sample
// on every exit path.
func (r *run) executeTask(ctx context.Context, t *workflow.Task) TaskResult {
	started := time.Now()
	t.Status = workflow.StatusInProgress
	t.StartedAt = &started

	r.engine.publishEvent(r.workflow.ID, "task_started", map[string]any{
		"task_id": t.ID, "agent": t.AssignedAgent,
	})

	outcome := r.invoke(ctx, t.AssignedAgent, map[string]any{
		"task_id":               t.ID,
		"task_name":             t.Name,
		"description":           t.Description,
		"required_capabilities": t.RequiredCapabilities,
		"input":                 t.Input,
	})

	completed := time.Now()
	t.CompletedAt = &completed
	if outcome.Succeeded() {
		t.Status = workflow.StatusCompleted
		t.Output = outcome.Output
	} else {
		t.Status = workflow.StatusFailed
	}

	r.engine.registry.Release(t.AssignedAgent, t.ID)
	quality := outcome.QualityScore
	if quality == 0 && outcome.Succeeded() {
		quality = 1.0
	}
	r.engine.registry.RecordPerformance(t.AssignedAgent, registryPerf(t.ID, completed.Sub(started), quality))

	r.engine.publishEvent(r.workflow.ID, "task_finished", map[string]any{
		"task_id": t.ID, "agent": t.AssignedAgent, "status": t.Status,
	})

	return TaskResult{
		TaskID:    t.ID,
		TaskName:  t.Name,
		Agent:     t.AssignedAgent,
		Outcome:   outcome,
		StartedAt: started,
		Elapsed:   completed.Sub(started),
	}
}

// orderBatch sorts tasks by priority descending, then by fewer
// dependents, then id. Sequential execution order and in-batch FIFO
// order both come from here.
func (r *run) orderBatch(batch []*workflow.Task) []*workflow.Task {
	out := append([]*workflow.Task(nil), batch...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		di, dj := r.workflow.DependentCount(out[i].ID), r.workflow.DependentCount(out[j].ID)
		if di != dj {
			return di < dj
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// setVars merges a payload into the run variable scope.
func (r *run) setVars(m map[string]any) {
	r.varsMu.Lock()
	defer r.varsMu.Unlock()
	for k, v := range m {
		r.vars[k] = v
	}
}

func (r *run) snapshotVars() map[string]any {
	r.varsMu.Lock()
	defer r.varsMu.Unlock()
	out := make(map[string]any, len(r.vars))
	for k, v := range r.vars {
		out[k] = v
	}
	return out
}

// stepContext adapts one node invocation to the ExecContext interface.
type stepContext struct {
	run   *run
	input map[string]any
}

func (s *stepContext) Input() map[string]any { return s.input }
func (s *stepContext) Vars() map[string]any  { return s.run.snapshotVars() }

func (s *stepContext) InvokeAgent(ctx context.Context, agentName string, input map[string]any) workflow.Outcome {
	return s.run.invoke(ctx, agentName, input)
}

func (s *stepContext) InvokeTool(ctx context.Context, toolName string, params map[string]any) workflow.Outcome {
	return s.run.invoke(ctx, toolName, params)
}
