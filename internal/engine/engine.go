// Package engine drives workflow execution: it binds ready tasks to
// agents, fans collaborator calls out through the gateway according to
// the workflow's collaboration pattern, and folds the outcomes into a
// run report.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/troupehq/troupe/internal/assign"
	"github.com/troupehq/troupe/internal/bus"
	"github.com/troupehq/troupe/internal/gateway"
	"github.com/troupehq/troupe/internal/registry"
	"github.com/troupehq/troupe/internal/store"
	"github.com/troupehq/troupe/internal/workflow"
)

// Invoker is the collaborator boundary the engine calls through. The
// gateway implements it; tests substitute fakes.
type Invoker interface {
	Invoke(ctx context.Context, toolName string, params map[string]any, sessionID string) gateway.Result
	CleanupSession(sessionID string)
}

// Engine executes workflows against one registry and gateway. Task and
// workflow status fields are owned exclusively by the engine; nothing
// else mutates them during a run.
type Engine struct {
	registry *registry.Registry
	assigner *assign.Assigner
	gateway  Invoker
	mail     *bus.Mailboxes

	events  *bus.Client
	store   *store.Store
	timeout time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithEvents publishes run events onto NATS for external observers.
func WithEvents(c *bus.Client) Option {
	return func(e *Engine) { e.events = c }
}

// WithStore persists run reports append-only.
func WithStore(s *store.Store) Option {
	return func(e *Engine) { e.store = s }
}

// WithInvokeTimeout bounds each collaborator invocation. Zero means no
// timeout.
func WithInvokeTimeout(d time.Duration) Option {
	return func(e *Engine) { e.timeout = d }
}

func New(reg *registry.Registry, gw Invoker, mail *bus.Mailboxes, opts ...Option) *Engine {
	e := &Engine{
		registry: reg,
		assigner: assign.New(reg),
		gateway:  gw,
		mail:     mail,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute validates and runs a workflow to completion. Graph workflows
// (those with trigger nodes) are walked edge by edge; task-list
// workflows are driven in assignment cycles per the declared pattern.
// The returned report is also persisted when a store is attached.
func (e *Engine) Execute(ctx context.Context, w *workflow.Workflow, input map[string]any) (*Report, error) {
	if err := w.Validate(); err != nil {
		return nil, fmt.Errorf("validate workflow %s: %w", w.ID, err)
	}

	sessionID := uuid.New().String()
	defer e.gateway.CleanupSession(sessionID)

	run := &run{
		engine:    e,
		workflow:  w,
		sessionID: sessionID,
		vars:      make(map[string]any),
	}

	report := &Report{
		ID:           uuid.New().String(),
		WorkflowID:   w.ID,
		WorkflowName: w.Name,
		Pattern:      w.Pattern,
		StartedAt:    time.Now(),
	}

	e.publishEvent(w.ID, "workflow_started", map[string]any{"pattern": w.Pattern})
	slog.Info("workflow execution started", "workflow", w.ID, "pattern", w.Pattern)

	if len(w.TriggerNodes()) > 0 {
		report.NodeResults = run.walk(ctx, input)
	}
	if len(w.Tasks) > 0 {
		e.runTaskCycles(ctx, w, run, report)
	}

	report.CompletedAt = time.Now()
	report.Status = workflow.WorkflowCompleted
	for _, tr := range report.TaskResults {
		if tr.Outcome.Status == workflow.OutcomeFailed {
			report.Status = workflow.WorkflowFailed
			break
		}
	}
	if report.Status != workflow.WorkflowFailed {
		for _, nr := range report.NodeResults {
			if nr.Outcome.Status == workflow.OutcomeFailed {
				report.Status = workflow.WorkflowFailed
				break
			}
		}
	}
	w.Status = report.Status
	w.UpdatedAt = time.Now()

	report.Insights = computeInsights(report)

	e.publishEvent(w.ID, "workflow_finished", map[string]any{"status": report.Status})
	slog.Info("workflow execution finished",
		"workflow", w.ID, "status", report.Status, "elapsed", report.CompletedAt.Sub(report.StartedAt))

	e.persistReport(report)
	return report, nil
}

// runTaskCycles alternates assignment and pattern execution until no
// pending task can make progress.
func (e *Engine) runTaskCycles(ctx context.Context, w *workflow.Workflow, run *run, report *Report) {
	for {
		res, err := e.assigner.Assign(w)
		if err != nil {
			slog.Error("assignment failed", "workflow", w.ID, "error", err)
			report.Unassignable = append(report.Unassignable, res.Unassignable...)
			return
		}
		if len(res.Assignments) == 0 {
			report.Unassignable = append(report.Unassignable, res.Unassignable...)
			return
		}

		var batch []*workflow.Task
		for id := range res.Assignments {
			batch = append(batch, w.TaskByID(id))
		}

		var results []TaskResult
		switch w.Pattern {
		case workflow.PatternSequential:
			results = run.runSequential(ctx, batch)
		case workflow.PatternParallel:
			results = run.runParallel(ctx, batch)
		case workflow.PatternHierarchical:
			results = run.runHierarchical(ctx, batch)
		default:
			results = run.runNetwork(ctx, batch)
		}
		report.TaskResults = append(report.TaskResults, results...)

		if ctx.Err() != nil {
			return
		}
	}
}

func (e *Engine) publishEvent(workflowID, event string, payload map[string]any) {
	if e.events == nil {
		return
	}
	body := map[string]any{
		"event":       event,
		"workflow_id": workflowID,
		"at":          time.Now(),
	}
	for k, v := range payload {
		body[k] = v
	}
	if err := e.events.PublishJSON(bus.TopicWorkflowEvents(workflowID), body); err != nil {
		slog.Debug("event publish failed", "workflow", workflowID, "event", event, "error", err)
	}
}

func (e *Engine) persistReport(r *Report) {
	if e.store == nil {
		return
	}
	body, err := json.Marshal(r)
	if err != nil {
		slog.Warn("marshal run report", "report", r.ID, "error", err)
		return
	}
	err = e.store.SaveRunReport(&store.RunReport{
		ID:         r.ID,
		WorkflowID: r.WorkflowID,
		Pattern:    string(r.Pattern),
		Status:     r.Status,
		Report:     string(body),
		StartedAt:  r.StartedAt,
	})
	if err != nil {
		slog.Warn("persist run report", "report", r.ID, "error", err)
	}
}
