package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/troupehq/troupe/internal/workflow"
)

// walk traverses the workflow graph from each trigger node. At every
// step the current node executes, its outcome is recorded, and the
// first outgoing edge whose type matches the outcome selects the next
// node. A node is never revisited within one walk.
func (r *run) walk(ctx context.Context, input map[string]any) []NodeResult {
	var results []NodeResult
	for _, trigger := range r.workflow.TriggerNodes() {
		results = append(results, r.walkFrom(ctx, trigger, input)...)
	}
	return results
}

func (r *run) walkFrom(ctx context.Context, start workflow.Node, input map[string]any) []NodeResult {
	var results []NodeResult
	visited := make(map[string]bool)

	node := start
	payload := input
	for node != nil {
		if visited[node.ID()] {
			slog.Warn("walk revisited node, terminating",
				"workflow", r.workflow.ID, "node", node.ID())
			break
		}
		visited[node.ID()] = true

		if ctx.Err() != nil {
			results = append(results, NodeResult{
				NodeID:   node.ID(),
				NodeName: node.Name(),
				Kind:     node.Kind(),
				Outcome:  workflow.Outcome{Status: workflow.OutcomeFailed, Error: ctx.Err().Error()},
			})
			break
		}

		started := time.Now()
		outcome := node.Execute(ctx, &stepContext{run: r, input: payload})
		results = append(results, NodeResult{
			NodeID:    node.ID(),
			NodeName:  node.Name(),
			Kind:      node.Kind(),
			Outcome:   outcome,
			StartedAt: started,
			Elapsed:   time.Since(started),
		})
		r.setVars(outcome.Output)

		edge, ok := r.nextEdge(node, outcome)
		if !ok {
			break
		}
		payload = applyMapping(outcome.Output, edge.DataMapping)
		node = r.workflow.NodeByID(edge.TargetNode)
	}
	return results
}

// nextEdge picks the first outgoing edge matching the outcome: success
// edges only on success, error edges only on failure, conditional edges
// when their predicate holds against the run variables, data edges
// unconditionally.
func (r *run) nextEdge(node workflow.Node, outcome workflow.Outcome) (workflow.Edge, bool) {
	for _, e := range r.workflow.OutgoingEdges(node.ID()) {
		switch e.Type {
		case workflow.EdgeSuccess:
			if outcome.Succeeded() {
				return e, true
			}
		case workflow.EdgeError:
			if !outcome.Succeeded() {
				return e, true
			}
		case workflow.EdgeConditional:
			if workflow.EvalCondition(e.Condition, r.snapshotVars()) {
				return e, true
			}
		case workflow.EdgeData:
			return e, true
		}
	}
	return workflow.Edge{}, false
}

// applyMapping renames payload fields per the edge's data mapping.
// Unmapped fields pass through unchanged.
func applyMapping(payload map[string]any, mapping map[string]string) map[string]any {
	if len(mapping) == 0 {
		return payload
	}
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		if renamed, ok := mapping[k]; ok {
			out[renamed] = v
		} else {
			out[k] = v
		}
	}
	return out
}
