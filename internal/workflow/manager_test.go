package workflow

import (
	"errors"
	"testing"
)

func TestManagerExportImport(t *testing.T) {
	m := NewManager()
	w := m.Create("pipeline", "doc pipeline", PatternSequential)
	w.ParticipatingAgents = []string{"ada", "lin"}
	w.AddNode(&TriggerNode{NodeMeta: NodeMeta{NodeID: "start", NodeName: "start"}})
	w.AddNode(&AgentNode{NodeMeta: NodeMeta{NodeID: "summarize"}, AgentName: "ada"})
	if err := w.AddEdge(Edge{ID: "e1", SourceNode: "start", TargetNode: "summarize", Type: EdgeSuccess}); err != nil {
		t.Fatalf("add edge: %v", err)
	}
	w.AddTask(&Task{ID: "t1", RequiredCapabilities: []string{"summarize"}})

	def, err := m.Export(w.ID)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(def.Nodes) != 2 || len(def.Edges) != 1 || len(def.Tasks) != 1 {
		t.Fatalf("definition = %d nodes, %d edges, %d tasks", len(def.Nodes), len(def.Edges), len(def.Tasks))
	}

	other := NewManager()
	got, err := other.Import(def)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if got.ID != w.ID {
		t.Errorf("id = %q, want %q", got.ID, w.ID)
	}
	if got.NodeByID("summarize") == nil {
		t.Error("agent node lost in import")
	}
	if got.NodeByID("summarize").Kind() != KindAgent {
		t.Errorf("kind = %s, want agent", got.NodeByID("summarize").Kind())
	}
}

func TestManagerImportRejectsInvalid(t *testing.T) {
	m := NewManager()
	def := Definition{
		Name:    "broken",
		Pattern: PatternSequential,
		Tasks: []*Task{
			{ID: "t1", Dependencies: []string{"t2"}},
			{ID: "t2", Dependencies: []string{"t1"}},
		},
	}
	if _, err := m.Import(def); !errors.Is(err, ErrCyclicDependency) {
		t.Fatalf("import = %v, want ErrCyclicDependency", err)
	}
}

func TestManagerGetUnknown(t *testing.T) {
	m := NewManager()
	if _, err := m.Get("nope"); !errors.Is(err, ErrUnknownWorkflow) {
		t.Fatalf("get = %v, want ErrUnknownWorkflow", err)
	}
}

func TestTemplateInstancesDoNotCollide(t *testing.T) {
	m := NewManager()
	def := Definition{
		Name:    "review",
		Pattern: PatternSequential,
		Nodes: []NodeEnvelope{
			{ID: "start", Kind: KindTrigger, Name: "start"},
			{ID: "check", Kind: KindCondition, Condition: "score >= 80"},
		},
		Edges: []Edge{
			{ID: "e1", SourceNode: "start", TargetNode: "check", Type: EdgeSuccess},
		},
		Tasks: []*Task{
			{ID: "t1", Status: StatusCompleted, AssignedAgent: "old", Output: map[string]any{"x": 1}},
			{ID: "t2", Dependencies: []string{"t1"}},
		},
	}
	if err := m.RegisterTemplate("review", def); err != nil {
		t.Fatalf("register template: %v", err)
	}
	if err := m.RegisterTemplate("review", def); !errors.Is(err, ErrDuplicateTemplate) {
		t.Fatalf("duplicate register = %v, want ErrDuplicateTemplate", err)
	}

	a, err := m.CreateFromTemplate("review", "review run 1")
	if err != nil {
		t.Fatalf("instantiate: %v", err)
	}
	b, err := m.CreateFromTemplate("review", "review run 2")
	if err != nil {
		t.Fatalf("instantiate: %v", err)
	}

	if a.ID == b.ID {
		t.Fatal("instances share a workflow id")
	}
	if a.Nodes[0].ID() == b.Nodes[0].ID() {
		t.Error("instances share node ids")
	}
	if a.Tasks[0].ID == b.Tasks[0].ID {
		t.Error("instances share task ids")
	}

	// Template execution state is reset on instantiation.
	for _, task := range a.Tasks {
		if task.Status != StatusPending {
			t.Errorf("task %s status = %s, want pending", task.ID, task.Status)
		}
		if task.AssignedAgent != "" || task.Output != nil {
			t.Errorf("task %s carries stale execution state", task.ID)
		}
	}

	// Dependencies follow the renamed ids.
	dep := a.Tasks[1].Dependencies[0]
	if a.TaskByID(dep) == nil {
		t.Errorf("dependency %q does not resolve inside the instance", dep)
	}

	if err := a.Validate(); err != nil {
		t.Errorf("instance validate: %v", err)
	}
}

func TestCreateFromUnknownTemplate(t *testing.T) {
	m := NewManager()
	if _, err := m.CreateFromTemplate("nope", "x"); !errors.Is(err, ErrUnknownTemplate) {
		t.Fatalf("instantiate = %v, want ErrUnknownTemplate", err)
	}
}

func TestManagerListCountsCompleted(t *testing.T) {
	m := NewManager()
	w := m.Create("counts", "", PatternParallel)
	w.AddTask(&Task{ID: "t1", Status: StatusCompleted})
	w.AddTask(&Task{ID: "t2"})

	list := m.List()
	if len(list) != 1 {
		t.Fatalf("list = %d entries, want 1", len(list))
	}
	if list[0].Tasks != 2 || list[0].CompletedTasks != 1 {
		t.Errorf("summary = %d/%d, want 1 of 2 completed", list[0].CompletedTasks, list[0].Tasks)
	}
}
