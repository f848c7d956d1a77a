package scheduler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/troupehq/troupe/internal/bus"
	"github.com/troupehq/troupe/internal/config"
	"github.com/troupehq/troupe/internal/engine"
	"github.com/troupehq/troupe/internal/gateway"
	"github.com/troupehq/troupe/internal/registry"
	"github.com/troupehq/troupe/internal/store"
	"github.com/troupehq/troupe/internal/workflow"
)

type stubGateway struct{ calls int }

func (s *stubGateway) Invoke(ctx context.Context, toolName string, params map[string]any, sessionID string) gateway.Result {
	s.calls++
	return gateway.Result{Success: true, Result: map[string]any{}}
}

func (s *stubGateway) CleanupSession(sessionID string) {}

func TestFireExecutesDueRun(t *testing.T) {
	st, err := store.New(config.StoreConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	defer st.Close()

	reg := registry.New(nil)
	if err := reg.Register(registry.Registration{
		Name:               "ada",
		Capabilities:       []registry.Capability{{Name: "analysis"}},
		MaxConcurrentTasks: 2,
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	gw := &stubGateway{}
	eng := engine.New(reg, gw, bus.NewMailboxes(nil))
	mgr := workflow.NewManager()

	w := mgr.Create("nightly report", "", workflow.PatternSequential)
	w.ParticipatingAgents = []string{"ada"}
	w.AddTask(&workflow.Task{ID: "t1", RequiredCapabilities: []string{"analysis"}})

	next := time.Now().Add(-time.Minute).UTC()
	run := store.ScheduledRun{
		ID:         "sr1",
		WorkflowID: w.ID,
		Name:       "nightly",
		Schedule:   `{"kind":"interval","interval_ms":3600000}`,
		Input:      `{"source":"schedule"}`,
		Status:     "active",
		NextRunAt:  &next,
	}
	if err := st.SaveScheduledRun(&run); err != nil {
		t.Fatalf("save run: %v", err)
	}

	s := New(st, mgr, eng, nil, config.SchedulerConfig{PollInterval: time.Second})
	s.fire(context.Background(), run)

	if gw.calls != 1 {
		t.Fatalf("gateway calls = %d, want 1", gw.calls)
	}

	got, err := st.GetScheduledRun("sr1")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.LastStatus != "success" {
		t.Errorf("last status = %q, want success", got.LastStatus)
	}
	if got.NextRunAt == nil || !got.NextRunAt.After(time.Now()) {
		t.Errorf("next run = %v, want future time", got.NextRunAt)
	}
}

func TestFireCompletesOneShot(t *testing.T) {
	st, err := store.New(config.StoreConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	defer st.Close()

	eng := engine.New(registry.New(nil), &stubGateway{}, bus.NewMailboxes(nil))
	mgr := workflow.NewManager()
	w := mgr.Create("one-off", "", workflow.PatternSequential)

	next := time.Now().Add(-time.Minute).UTC()
	run := store.ScheduledRun{
		ID:         "sr2",
		WorkflowID: w.ID,
		Name:       "one-off",
		Schedule:   `{"kind":"once","at_ms":1}`,
		Status:     "active",
		NextRunAt:  &next,
	}
	if err := st.SaveScheduledRun(&run); err != nil {
		t.Fatalf("save run: %v", err)
	}

	s := New(st, mgr, eng, nil, config.SchedulerConfig{PollInterval: time.Second})
	s.fire(context.Background(), run)

	got, _ := st.GetScheduledRun("sr2")
	if got.Status != "completed" {
		t.Errorf("status = %q, want completed", got.Status)
	}
}

func TestFireUnknownWorkflowRecordsError(t *testing.T) {
	st, err := store.New(config.StoreConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	defer st.Close()

	eng := engine.New(registry.New(nil), &stubGateway{}, bus.NewMailboxes(nil))

	next := time.Now().Add(-time.Minute).UTC()
	run := store.ScheduledRun{
		ID:         "sr3",
		WorkflowID: "nope",
		Name:       "orphan",
		Schedule:   `{"kind":"interval","interval_ms":3600000}`,
		Status:     "active",
		NextRunAt:  &next,
	}
	if err := st.SaveScheduledRun(&run); err != nil {
		t.Fatalf("save run: %v", err)
	}

	s := New(st, workflow.NewManager(), eng, nil, config.SchedulerConfig{PollInterval: time.Second})
	s.fire(context.Background(), run)

	got, _ := st.GetScheduledRun("sr3")
	if got.LastStatus != "error" {
		t.Errorf("last status = %q, want error", got.LastStatus)
	}
	if got.LastError == "" {
		t.Error("last error should be recorded")
	}
}
