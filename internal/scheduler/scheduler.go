// Package scheduler fires scheduled workflow runs. It polls the store
// for due entries and hands each to the execution engine.
package scheduler

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/troupehq/troupe/internal/bus"
	"github.com/troupehq/troupe/internal/config"
	"github.com/troupehq/troupe/internal/engine"
	"github.com/troupehq/troupe/internal/schedule"
	"github.com/troupehq/troupe/internal/store"
	"github.com/troupehq/troupe/internal/workflow"
)

type Scheduler struct {
	store        *store.Store
	workflows    *workflow.Manager
	engine       *engine.Engine
	events       *bus.Client
	pollInterval time.Duration
	reloadCh     chan struct{}
}

func New(st *store.Store, mgr *workflow.Manager, eng *engine.Engine, events *bus.Client, cfg config.SchedulerConfig) *Scheduler {
	return &Scheduler{
		store:        st,
		workflows:    mgr,
		engine:       eng,
		events:       events,
		pollInterval: cfg.PollInterval,
		reloadCh:     make(chan struct{}, 1),
	}
}

// UpdatePollInterval changes the poll cadence and signals the run loop
// to reset its ticker.
func (s *Scheduler) UpdatePollInterval(d time.Duration) {
	s.pollInterval = d
	select {
	case s.reloadCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	if s.pollInterval == 0 {
		s.pollInterval = 30 * time.Second
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	slog.Info("scheduler started", "poll_interval", s.pollInterval)

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopped")
			return
		case <-s.reloadCh:
			ticker.Reset(s.pollInterval)
			slog.Info("scheduler poll interval reloaded", "poll_interval", s.pollInterval)
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

func (s *Scheduler) poll(ctx context.Context) {
	runs, err := s.store.GetDueRuns(time.Now())
	if err != nil {
		slog.Error("failed to get due runs", "error", err)
		return
	}

	for _, run := range runs {
		s.fire(ctx, run)
	}
}

func (s *Scheduler) fire(ctx context.Context, run store.ScheduledRun) {
	slog.Info("firing scheduled run", "id", run.ID, "name", run.Name, "workflow", run.WorkflowID)

	lastStatus, lastError := "success", ""
	if err := s.executeWorkflow(ctx, run); err != nil {
		lastStatus = "error"
		lastError = err.Error()
		slog.Error("scheduled run failed", "id", run.ID, "error", err)
	}

	nextRun := schedule.NextRun(run.Schedule)
	if err := s.store.UpdateRunResult(run.ID, lastStatus, lastError, nextRun); err != nil {
		slog.Error("failed to update scheduled run", "id", run.ID, "error", err)
	}

	if s.events != nil {
		_ = s.events.PublishJSON(bus.TopicWorkflowEvents(run.WorkflowID), map[string]any{
			"event":        "scheduled_run_fired",
			"scheduled_id": run.ID,
			"status":       lastStatus,
			"at":           time.Now().UTC(),
		})
	}

	// One-shot schedules have no next fire time once they have run.
	if nextRun == nil {
		slog.Info("no next run, completing schedule", "id", run.ID, "name", run.Name)
		if err := s.store.UpdateRunStatus(run.ID, "completed"); err != nil {
			slog.Error("failed to complete scheduled run", "id", run.ID, "error", err)
		}
	}
}

func (s *Scheduler) executeWorkflow(ctx context.Context, run store.ScheduledRun) error {
	w, err := s.workflows.Get(run.WorkflowID)
	if err != nil {
		return err
	}

	var input map[string]any
	if run.Input != "" {
		if err := json.Unmarshal([]byte(run.Input), &input); err != nil {
			slog.Warn("scheduled run input is not valid JSON, ignoring",
				"id", run.ID, "error", err)
		}
	}

	report, err := s.engine.Execute(ctx, w, input)
	if err != nil {
		return err
	}
	if report.Status == workflow.WorkflowFailed {
		slog.Warn("scheduled run finished with failures", "id", run.ID, "report", report.ID)
	}
	return nil
}
