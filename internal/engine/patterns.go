package engine

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/troupehq/troupe/internal/bus"
	"github.com/troupehq/troupe/internal/registry"
	"github.com/troupehq/troupe/internal/workflow"
)

// runSequential executes the batch one task at a time in total order.
// After each task finishes, its result is broadcast to every other
// participant before the next task starts.
func (r *run) runSequential(ctx context.Context, batch []*workflow.Task) []TaskResult {
	var results []TaskResult
	for _, t := range r.orderBatch(batch) {
		if ctx.Err() != nil {
			results = append(results, r.cancelTask(ctx, t))
			continue
		}

		res := r.executeTask(ctx, t)
		results = append(results, res)

		r.engine.mail.Publish(r.workflow.ParticipatingAgents, bus.Message{
			WorkflowID: r.workflow.ID,
			From:       t.AssignedAgent,
			Subject:    "task_" + string(t.Status),
			Payload: map[string]any{
				"task_id": t.ID,
				"task":    t.Name,
				"status":  t.Status,
				"output":  t.Output,
			},
		})
	}
	return results
}

// runParallel groups the batch by assigned agent. Each agent's tasks
// run FIFO within one goroutine; the agent batches run concurrently and
// the engine waits for all of them before merging results.
func (r *run) runParallel(ctx context.Context, batch []*workflow.Task) []TaskResult {
	byAgent := make(map[string][]*workflow.Task)
	for _, t := range r.orderBatch(batch) {
		byAgent[t.AssignedAgent] = append(byAgent[t.AssignedAgent], t)
	}

	var (
		mu      sync.Mutex
		results []TaskResult
		wg      sync.WaitGroup
	)
	for agent, tasks := range byAgent {
		wg.Add(1)
		go func(agent string, tasks []*workflow.Task) {
			defer wg.Done()
			for _, t := range tasks {
				res := r.executeTask(ctx, t)
				mu.Lock()
				results = append(results, res)
				mu.Unlock()
			}
		}(agent, tasks)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].TaskID < results[j].TaskID })
	return results
}

// runNetwork launches every task concurrently regardless of owner. One
// task's failure is an ordinary failed outcome and never cancels its
// siblings.
func (r *run) runNetwork(ctx context.Context, batch []*workflow.Task) []TaskResult {
	results := make([]TaskResult, len(batch))

	var wg sync.WaitGroup
	for i, t := range batch {
		wg.Add(1)
		go func(i int, t *workflow.Task) {
			defer wg.Done()
			results[i] = r.executeTask(ctx, t)
		}(i, t)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].TaskID < results[j].TaskID })
	return results
}

// runHierarchical hands the whole batch to a coordinator agent in a
// single gateway call; sub-delegation is opaque to the engine. Without
// a coordinator among the participants it falls back to Network.
func (r *run) runHierarchical(ctx context.Context, batch []*workflow.Task) []TaskResult {
	coordinator := ""
	for _, name := range r.workflow.ParticipatingAgents {
		snap, err := r.engine.registry.Get(name)
		if err != nil {
			continue
		}
		if snap.Role == registry.RoleCoordinator {
			coordinator = name
			break
		}
	}
	if coordinator == "" {
		slog.Debug("no coordinator among participants, falling back to network",
			"workflow", r.workflow.ID)
		return r.runNetwork(ctx, batch)
	}

	batch = r.orderBatch(batch)
	descriptors := make([]map[string]any, 0, len(batch))
	for _, t := range batch {
		t.Status = workflow.StatusInProgress
		now := time.Now()
		t.StartedAt = &now
		descriptors = append(descriptors, map[string]any{
			"task_id":               t.ID,
			"task_name":             t.Name,
			"description":           t.Description,
			"required_capabilities": t.RequiredCapabilities,
			"input":                 t.Input,
		})
	}

	started := time.Now()
	outcome := r.invoke(ctx, coordinator, map[string]any{
		"workflow_id": r.workflow.ID,
		"tasks":       descriptors,
	})
	elapsed := time.Since(started)

	// Per-task outputs, when the coordinator reports them, are keyed by
	// task id under "results".
	perTask, _ := outcome.Output["results"].(map[string]any)

	results := make([]TaskResult, 0, len(batch))
	for _, t := range batch {
		completed := time.Now()
		t.CompletedAt = &completed

		taskOutcome := outcome
		if out, ok := perTask[t.ID].(map[string]any); ok {
			taskOutcome = workflow.Outcome{Status: outcome.Status, Output: out}
		}
		if taskOutcome.Succeeded() {
			t.Status = workflow.StatusCompleted
			t.Output = taskOutcome.Output
		} else {
			t.Status = workflow.StatusFailed
		}

		r.engine.registry.Release(t.AssignedAgent, t.ID)
		results = append(results, TaskResult{
			TaskID:    t.ID,
			TaskName:  t.Name,
			Agent:     coordinator,
			Outcome:   taskOutcome,
			StartedAt: started,
			Elapsed:   elapsed,
		})
	}

	quality := outcome.QualityScore
	if quality == 0 && outcome.Succeeded() {
		quality = 1.0
	}
	r.engine.registry.RecordPerformance(coordinator, registryPerf("batch:"+r.workflow.ID, elapsed, quality))

	return results
}

// cancelTask marks a task failed when the run's context ended before it
// could start.
func (r *run) cancelTask(ctx context.Context, t *workflow.Task) TaskResult {
	now := time.Now()
	t.Status = workflow.StatusFailed
	t.CompletedAt = &now
	r.engine.registry.Release(t.AssignedAgent, t.ID)

	return TaskResult{
		TaskID:    t.ID,
		TaskName:  t.Name,
		Agent:     t.AssignedAgent,
		Outcome:   workflow.Outcome{Status: workflow.OutcomeFailed, Error: ctx.Err().Error()},
		StartedAt: now,
	}
}
