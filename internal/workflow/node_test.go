package workflow

import (
	"context"
	"testing"
)

// stubContext is a minimal ExecContext for exercising nodes directly.
type stubContext struct {
	input map[string]any
	vars  map[string]any
	agent func(name string, input map[string]any) Outcome
	tool  func(name string, params map[string]any) Outcome
}

func (s stubContext) Input() map[string]any { return s.input }
func (s stubContext) Vars() map[string]any  { return s.vars }

func (s stubContext) InvokeAgent(_ context.Context, name string, input map[string]any) Outcome {
	if s.agent != nil {
		return s.agent(name, input)
	}
	return Outcome{Status: OutcomeSuccess}
}

func (s stubContext) InvokeTool(_ context.Context, name string, params map[string]any) Outcome {
	if s.tool != nil {
		return s.tool(name, params)
	}
	return Outcome{Status: OutcomeSuccess}
}

func TestTriggerNodePassesInputThrough(t *testing.T) {
	n := &TriggerNode{NodeMeta: NodeMeta{NodeID: "start"}}
	out := n.Execute(context.Background(), stubContext{input: map[string]any{"doc": "x"}})
	if !out.Succeeded() || out.Output["doc"] != "x" {
		t.Fatalf("outcome = %+v, want passthrough success", out)
	}
}

func TestAgentNodeMergesConfigUnderInput(t *testing.T) {
	var gotName string
	var gotInput map[string]any

	n := &AgentNode{
		NodeMeta:  NodeMeta{NodeID: "n1", Config: map[string]any{"mode": "fast", "doc": "from-config"}},
		AgentName: "ada",
	}
	ec := stubContext{
		input: map[string]any{"doc": "from-input"},
		agent: func(name string, input map[string]any) Outcome {
			gotName = name
			gotInput = input
			return Outcome{Status: OutcomeSuccess}
		},
	}

	n.Execute(context.Background(), ec)
	if gotName != "ada" {
		t.Errorf("agent = %q, want ada", gotName)
	}
	if gotInput["mode"] != "fast" {
		t.Errorf("config key missing: %v", gotInput)
	}
	if gotInput["doc"] != "from-input" {
		t.Errorf("input should shadow config, got %v", gotInput["doc"])
	}
}

func TestToolNodeInvokesTool(t *testing.T) {
	var gotName string
	n := &ToolNode{NodeMeta: NodeMeta{NodeID: "n1"}, ToolName: "search"}
	ec := stubContext{
		input: map[string]any{"q": "go"},
		tool: func(name string, params map[string]any) Outcome {
			gotName = name
			return Outcome{Status: OutcomeSuccess, Output: params}
		},
	}

	out := n.Execute(context.Background(), ec)
	if gotName != "search" {
		t.Errorf("tool = %q, want search", gotName)
	}
	if out.Output["q"] != "go" {
		t.Errorf("params not forwarded: %v", out.Output)
	}
}

func TestTransformNodeRenamesFields(t *testing.T) {
	n := &TransformNode{
		NodeMeta: NodeMeta{NodeID: "n1"},
		Mapping:  map[string]string{"raw_text": "document"},
	}
	out := n.Execute(context.Background(), stubContext{
		input: map[string]any{"raw_text": "hello", "lang": "en"},
	})

	if out.Output["document"] != "hello" {
		t.Errorf("renamed field missing: %v", out.Output)
	}
	if _, ok := out.Output["raw_text"]; ok {
		t.Error("original field should be gone")
	}
	if out.Output["lang"] != "en" {
		t.Error("unmapped field should pass through")
	}
}

func TestNodeEnvelopeRoundTrip(t *testing.T) {
	nodes := []Node{
		&TriggerNode{NodeMeta: NodeMeta{NodeID: "n1", NodeName: "start"}},
		&AgentNode{NodeMeta: NodeMeta{NodeID: "n2"}, AgentName: "ada"},
		&ToolNode{NodeMeta: NodeMeta{NodeID: "n3"}, ToolName: "search"},
		&ConditionNode{NodeMeta: NodeMeta{NodeID: "n4"}, Condition: "x > 1"},
		&TransformNode{NodeMeta: NodeMeta{NodeID: "n5"}, Mapping: map[string]string{"a": "b"}},
		&ActionNode{NodeMeta: NodeMeta{NodeID: "n6"}},
		&OutputNode{NodeMeta: NodeMeta{NodeID: "n7"}},
	}

	for _, n := range nodes {
		env := EncodeNode(n)
		back, err := DecodeNode(env)
		if err != nil {
			t.Fatalf("decode %s: %v", n.ID(), err)
		}
		if back.ID() != n.ID() || back.Kind() != n.Kind() {
			t.Errorf("round trip changed %s: got %s/%s", n.ID(), back.ID(), back.Kind())
		}
	}

	if _, err := DecodeNode(NodeEnvelope{ID: "x", Kind: "bogus"}); err == nil {
		t.Error("unknown kind should fail to decode")
	}
}
