package workflow

import (
	"context"
	"fmt"
)

// NodeKind identifies a node variant on the wire. Execution never
// branches on these strings; the engine dispatches through the Node
// interface.
type NodeKind string

const (
	KindTrigger   NodeKind = "trigger"
	KindAgent     NodeKind = "agent"
	KindAction    NodeKind = "action"
	KindCondition NodeKind = "condition"
	KindTransform NodeKind = "data_transform"
	KindOutput    NodeKind = "output"
	KindTool      NodeKind = "tool"
)

// ExecContext is what a node sees of the surrounding execution: the
// payload flowing into it, the accumulated run variables, and the
// collaborator boundary for agent and tool work.
type ExecContext interface {
	// Input is the payload flowing into the current node.
	Input() map[string]any
	// Vars is the accumulated execution context for the whole run.
	Vars() map[string]any
	// InvokeAgent runs the named agent's logic through the gateway.
	InvokeAgent(ctx context.Context, agentName string, input map[string]any) Outcome
	// InvokeTool calls the named external tool through the gateway.
	InvokeTool(ctx context.Context, toolName string, params map[string]any) Outcome
}

// Node is a graph-execution primitive. Each variant maps an invocation
// to exactly one Outcome.
type Node interface {
	ID() string
	Name() string
	Kind() NodeKind
	Execute(ctx context.Context, ec ExecContext) Outcome
}

// NodeMeta carries the fields every node variant shares. Position is
// opaque display metadata and is never consumed by execution.
type NodeMeta struct {
	NodeID      string
	NodeName    string
	Description string
	Position    map[string]float64
	Config      map[string]any
}

func (m NodeMeta) ID() string   { return m.NodeID }
func (m NodeMeta) Name() string { return m.NodeName }

// TriggerNode starts a walk. Its outcome is the original input payload.
type TriggerNode struct {
	NodeMeta
}

func (n *TriggerNode) Kind() NodeKind { return KindTrigger }

func (n *TriggerNode) Execute(_ context.Context, ec ExecContext) Outcome {
	return Outcome{Status: OutcomeSuccess, Output: ec.Input()}
}

// AgentNode delegates to a named agent's logic via the gateway.
type AgentNode struct {
	NodeMeta
	AgentName string
}

func (n *AgentNode) Kind() NodeKind { return KindAgent }

func (n *AgentNode) Execute(ctx context.Context, ec ExecContext) Outcome {
	input := mergeMaps(n.Config, ec.Input())
	return ec.InvokeAgent(ctx, n.AgentName, input)
}

// ToolNode calls an external tool via the gateway. Node config is merged
// under the incoming payload to form the call parameters.
type ToolNode struct {
	NodeMeta
	ToolName string
}

func (n *ToolNode) Kind() NodeKind { return KindTool }

func (n *ToolNode) Execute(ctx context.Context, ec ExecContext) Outcome {
	params := mergeMaps(n.Config, ec.Input())
	return ec.InvokeTool(ctx, n.ToolName, params)
}

// ConditionNode evaluates its predicate against the run variables. The
// outcome status is always success; output["result"] holds the verdict.
type ConditionNode struct {
	NodeMeta
	Condition string
}

func (n *ConditionNode) Kind() NodeKind { return KindCondition }

func (n *ConditionNode) Execute(_ context.Context, ec ExecContext) Outcome {
	scope := mergeMaps(ec.Vars(), ec.Input())
	result := EvalCondition(n.Condition, scope)
	return Outcome{
		Status: OutcomeSuccess,
		Output: map[string]any{"result": result, "condition": n.Condition},
	}
}

// TransformNode renames fields of the incoming payload. Fields not named
// in the mapping pass through unchanged.
type TransformNode struct {
	NodeMeta
	Mapping map[string]string
}

func (n *TransformNode) Kind() NodeKind { return KindTransform }

func (n *TransformNode) Execute(_ context.Context, ec ExecContext) Outcome {
	in := ec.Input()
	out := make(map[string]any, len(in))
	for k, v := range in {
		if renamed, ok := n.Mapping[k]; ok {
			out[renamed] = v
		} else {
			out[k] = v
		}
	}
	return Outcome{Status: OutcomeSuccess, Output: out}
}

// ActionNode is a built-in side-effect placeholder. It succeeds and
// passes its payload through, annotated with the configured action name.
type ActionNode struct {
	NodeMeta
}

func (n *ActionNode) Kind() NodeKind { return KindAction }

func (n *ActionNode) Execute(_ context.Context, ec ExecContext) Outcome {
	out := mergeMaps(n.Config, ec.Input())
	return Outcome{Status: OutcomeSuccess, Output: out}
}

// OutputNode terminates a branch, capturing whatever reached it.
type OutputNode struct {
	NodeMeta
}

func (n *OutputNode) Kind() NodeKind { return KindOutput }

func (n *OutputNode) Execute(_ context.Context, ec ExecContext) Outcome {
	return Outcome{Status: OutcomeSuccess, Output: ec.Input()}
}

// NodeEnvelope is the wire form of a node. Only the fields relevant to
// the node's kind are populated.
type NodeEnvelope struct {
	ID          string             `json:"id"`
	Kind        NodeKind           `json:"kind"`
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	Position    map[string]float64 `json:"position,omitempty"`
	Config      map[string]any     `json:"config,omitempty"`
	AgentName   string             `json:"agent_name,omitempty"`
	ToolName    string             `json:"tool_name,omitempty"`
	Condition   string             `json:"condition,omitempty"`
	Mapping     map[string]string  `json:"mapping,omitempty"`
	Inputs      []string           `json:"inputs,omitempty"`
	Outputs     []string           `json:"outputs,omitempty"`
}

// EncodeNode converts a node into its wire form.
func EncodeNode(n Node) NodeEnvelope {
	env := NodeEnvelope{ID: n.ID(), Kind: n.Kind(), Name: n.Name()}

	fill := func(m NodeMeta) {
		env.Description = m.Description
		env.Position = m.Position
		env.Config = m.Config
	}

	switch v := n.(type) {
	case *TriggerNode:
		fill(v.NodeMeta)
	case *AgentNode:
		fill(v.NodeMeta)
		env.AgentName = v.AgentName
	case *ToolNode:
		fill(v.NodeMeta)
		env.ToolName = v.ToolName
	case *ConditionNode:
		fill(v.NodeMeta)
		env.Condition = v.Condition
	case *TransformNode:
		fill(v.NodeMeta)
		env.Mapping = v.Mapping
	case *ActionNode:
		fill(v.NodeMeta)
	case *OutputNode:
		fill(v.NodeMeta)
	}
	return env
}

// DecodeNode converts a wire envelope back into the matching variant.
func DecodeNode(env NodeEnvelope) (Node, error) {
	meta := NodeMeta{
		NodeID:      env.ID,
		NodeName:    env.Name,
		Description: env.Description,
		Position:    env.Position,
		Config:      env.Config,
	}

	switch env.Kind {
	case KindTrigger:
		return &TriggerNode{NodeMeta: meta}, nil
	case KindAgent:
		return &AgentNode{NodeMeta: meta, AgentName: env.AgentName}, nil
	case KindTool:
		return &ToolNode{NodeMeta: meta, ToolName: env.ToolName}, nil
	case KindCondition:
		return &ConditionNode{NodeMeta: meta, Condition: env.Condition}, nil
	case KindTransform:
		return &TransformNode{NodeMeta: meta, Mapping: env.Mapping}, nil
	case KindAction:
		return &ActionNode{NodeMeta: meta}, nil
	case KindOutput:
		return &OutputNode{NodeMeta: meta}, nil
	default:
		return nil, fmt.Errorf("unknown node kind %q", env.Kind)
	}
}

func mergeMaps(base, overlay map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}
