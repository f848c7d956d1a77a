package engine

import (
	"context"
	"testing"

	"github.com/troupehq/troupe/internal/bus"
	"github.com/troupehq/troupe/internal/gateway"
	"github.com/troupehq/troupe/internal/registry"
	"github.com/troupehq/troupe/internal/workflow"
)

func graphWorkflow(t *testing.T) *workflow.Workflow {
	t.Helper()
	w := workflow.New("g1", "pipeline", workflow.PatternSequential)
	w.AddNode(&workflow.TriggerNode{NodeMeta: workflow.NodeMeta{NodeID: "start", NodeName: "start"}})
	return w
}

func addEdge(t *testing.T, w *workflow.Workflow, e workflow.Edge) {
	t.Helper()
	if err := w.AddEdge(e); err != nil {
		t.Fatalf("add edge %s: %v", e.ID, err)
	}
}

func TestWalkSuccessChainStopsOnFailure(t *testing.T) {
	gw := &fakeGateway{
		handler: func(toolName string, params map[string]any) gateway.Result {
			if toolName == "flaky" {
				return gateway.Result{Success: false, Error: "transport down"}
			}
			return gateway.Result{Success: true, Result: map[string]any{}}
		},
	}
	e := New(registry.New(nil), gw, bus.NewMailboxes(nil))

	w := graphWorkflow(t)
	w.AddNode(&workflow.ToolNode{NodeMeta: workflow.NodeMeta{NodeID: "n2", NodeName: "fetch"}, ToolName: "flaky"})
	w.AddNode(&workflow.ToolNode{NodeMeta: workflow.NodeMeta{NodeID: "n3", NodeName: "summarize"}, ToolName: "steady"})
	addEdge(t, w, workflow.Edge{ID: "e1", SourceNode: "start", TargetNode: "n2", Type: workflow.EdgeSuccess})
	addEdge(t, w, workflow.Edge{ID: "e2", SourceNode: "n2", TargetNode: "n3", Type: workflow.EdgeSuccess})

	report, err := e.Execute(context.Background(), w, map[string]any{"q": "report"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	// The walk records start and n2 but never advances past the failure.
	if len(report.NodeResults) != 2 {
		t.Fatalf("node results = %d, want 2", len(report.NodeResults))
	}
	if report.NodeResults[1].NodeID != "n2" {
		t.Errorf("last node = %s, want n2", report.NodeResults[1].NodeID)
	}
	if report.NodeResults[1].Outcome.Succeeded() {
		t.Error("n2 should have failed")
	}
	for _, nr := range report.NodeResults {
		if nr.NodeID == "n3" {
			t.Fatal("n3 must remain unexecuted")
		}
	}
	if report.Status != workflow.WorkflowFailed {
		t.Errorf("status = %q, want failed", report.Status)
	}
}

func TestWalkErrorEdgeRoutesFailure(t *testing.T) {
	gw := &fakeGateway{
		handler: func(toolName string, params map[string]any) gateway.Result {
			if toolName == "flaky" {
				return gateway.Result{Success: false, Error: "boom"}
			}
			return gateway.Result{Success: true, Result: map[string]any{"recovered": true}}
		},
	}
	e := New(registry.New(nil), gw, bus.NewMailboxes(nil))

	w := graphWorkflow(t)
	w.AddNode(&workflow.ToolNode{NodeMeta: workflow.NodeMeta{NodeID: "n2"}, ToolName: "flaky"})
	w.AddNode(&workflow.ToolNode{NodeMeta: workflow.NodeMeta{NodeID: "ok"}, ToolName: "primary"})
	w.AddNode(&workflow.ToolNode{NodeMeta: workflow.NodeMeta{NodeID: "recover"}, ToolName: "fallback"})
	addEdge(t, w, workflow.Edge{ID: "e1", SourceNode: "start", TargetNode: "n2", Type: workflow.EdgeSuccess})
	addEdge(t, w, workflow.Edge{ID: "e2", SourceNode: "n2", TargetNode: "ok", Type: workflow.EdgeSuccess})
	addEdge(t, w, workflow.Edge{ID: "e3", SourceNode: "n2", TargetNode: "recover", Type: workflow.EdgeError})

	report, err := e.Execute(context.Background(), w, nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	last := report.NodeResults[len(report.NodeResults)-1]
	if last.NodeID != "recover" {
		t.Fatalf("last node = %s, want recover", last.NodeID)
	}
	for _, nr := range report.NodeResults {
		if nr.NodeID == "ok" {
			t.Fatal("success branch must not run after a failure")
		}
	}
}

func TestWalkConditionalEdge(t *testing.T) {
	gw := &fakeGateway{
		handler: func(toolName string, params map[string]any) gateway.Result {
			return gateway.Result{Success: true, Result: map[string]any{"score": 87.0}}
		},
	}
	e := New(registry.New(nil), gw, bus.NewMailboxes(nil))

	w := graphWorkflow(t)
	w.AddNode(&workflow.ToolNode{NodeMeta: workflow.NodeMeta{NodeID: "grade"}, ToolName: "grader"})
	w.AddNode(&workflow.ToolNode{NodeMeta: workflow.NodeMeta{NodeID: "publish"}, ToolName: "publisher"})
	w.AddNode(&workflow.ToolNode{NodeMeta: workflow.NodeMeta{NodeID: "rework"}, ToolName: "editor"})
	addEdge(t, w, workflow.Edge{ID: "e1", SourceNode: "start", TargetNode: "grade", Type: workflow.EdgeSuccess})
	addEdge(t, w, workflow.Edge{ID: "e2", SourceNode: "grade", TargetNode: "publish", Type: workflow.EdgeConditional, Condition: "score >= 80"})
	addEdge(t, w, workflow.Edge{ID: "e3", SourceNode: "grade", TargetNode: "rework", Type: workflow.EdgeData})

	report, err := e.Execute(context.Background(), w, nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	last := report.NodeResults[len(report.NodeResults)-1]
	if last.NodeID != "publish" {
		t.Fatalf("last node = %s, want publish", last.NodeID)
	}
}

func TestWalkDataMappingRenamesFields(t *testing.T) {
	var sawParams map[string]any
	gw := &fakeGateway{
		handler: func(toolName string, params map[string]any) gateway.Result {
			if toolName == "producer" {
				return gateway.Result{Success: true, Result: map[string]any{"raw_text": "hello"}}
			}
			sawParams = params
			return gateway.Result{Success: true, Result: map[string]any{}}
		},
	}
	e := New(registry.New(nil), gw, bus.NewMailboxes(nil))

	w := graphWorkflow(t)
	w.AddNode(&workflow.ToolNode{NodeMeta: workflow.NodeMeta{NodeID: "p"}, ToolName: "producer"})
	w.AddNode(&workflow.ToolNode{NodeMeta: workflow.NodeMeta{NodeID: "c"}, ToolName: "consumer"})
	addEdge(t, w, workflow.Edge{ID: "e1", SourceNode: "start", TargetNode: "p", Type: workflow.EdgeSuccess})
	addEdge(t, w, workflow.Edge{
		ID: "e2", SourceNode: "p", TargetNode: "c",
		Type:        workflow.EdgeData,
		DataMapping: map[string]string{"raw_text": "document"},
	})

	if _, err := e.Execute(context.Background(), w, nil); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if sawParams["document"] != "hello" {
		t.Errorf("consumer params = %v, want document=hello", sawParams)
	}
}

func TestWalkVisitedGuardTerminatesLoops(t *testing.T) {
	gw := &fakeGateway{}
	e := New(registry.New(nil), gw, bus.NewMailboxes(nil))

	w := graphWorkflow(t)
	w.AddNode(&workflow.ToolNode{NodeMeta: workflow.NodeMeta{NodeID: "a"}, ToolName: "ping"})
	w.AddNode(&workflow.ToolNode{NodeMeta: workflow.NodeMeta{NodeID: "b"}, ToolName: "pong"})
	addEdge(t, w, workflow.Edge{ID: "e1", SourceNode: "start", TargetNode: "a", Type: workflow.EdgeSuccess})
	addEdge(t, w, workflow.Edge{ID: "e2", SourceNode: "a", TargetNode: "b", Type: workflow.EdgeSuccess})
	addEdge(t, w, workflow.Edge{ID: "e3", SourceNode: "b", TargetNode: "a", Type: workflow.EdgeSuccess})

	report, err := e.Execute(context.Background(), w, nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	// start, a, b; the b->a edge hits the visited guard.
	if len(report.NodeResults) != 3 {
		t.Fatalf("node results = %d, want 3", len(report.NodeResults))
	}
}

func TestWalkConditionNodeRouting(t *testing.T) {
	gw := &fakeGateway{
		handler: func(toolName string, params map[string]any) gateway.Result {
			return gateway.Result{Success: true, Result: map[string]any{"confidence": 0.4}}
		},
	}
	e := New(registry.New(nil), gw, bus.NewMailboxes(nil))

	w := graphWorkflow(t)
	w.AddNode(&workflow.ToolNode{NodeMeta: workflow.NodeMeta{NodeID: "classify"}, ToolName: "classifier"})
	w.AddNode(&workflow.ConditionNode{NodeMeta: workflow.NodeMeta{NodeID: "check"}, Condition: "confidence >= 0.8"})
	w.AddNode(&workflow.OutputNode{NodeMeta: workflow.NodeMeta{NodeID: "accept"}})
	w.AddNode(&workflow.OutputNode{NodeMeta: workflow.NodeMeta{NodeID: "review"}})
	addEdge(t, w, workflow.Edge{ID: "e1", SourceNode: "start", TargetNode: "classify", Type: workflow.EdgeSuccess})
	addEdge(t, w, workflow.Edge{ID: "e2", SourceNode: "classify", TargetNode: "check", Type: workflow.EdgeSuccess})
	addEdge(t, w, workflow.Edge{ID: "e3", SourceNode: "check", TargetNode: "accept", Type: workflow.EdgeConditional, Condition: "result"})
	addEdge(t, w, workflow.Edge{ID: "e4", SourceNode: "check", TargetNode: "review", Type: workflow.EdgeData})

	report, err := e.Execute(context.Background(), w, nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	last := report.NodeResults[len(report.NodeResults)-1]
	if last.NodeID != "review" {
		t.Fatalf("last node = %s, want review", last.NodeID)
	}
}
