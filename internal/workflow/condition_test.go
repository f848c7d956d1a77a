package workflow

import (
	"context"
	"testing"
)

func TestEvalCondition(t *testing.T) {
	scope := map[string]any{
		"score":      85.0,
		"count":      3,
		"status":     "approved",
		"flag":       true,
		"empty":      "",
		"confidence": 0.4,
	}

	cases := []struct {
		expr string
		want bool
	}{
		{"", true},
		{"score >= 80", true},
		{"score > 90", false},
		{"score == 85", true},
		{"score != 85", false},
		{"count <= 3", true},
		{"count < 3", false},
		{"confidence >= 0.5", false},
		{`status == approved`, true},
		{`status == "approved"`, true},
		{"status != rejected", true},
		{"flag", true},
		{"empty", false},
		{"missing", false},
		{"missing > 10", false},
	}

	for _, tc := range cases {
		if got := EvalCondition(tc.expr, scope); got != tc.want {
			t.Errorf("EvalCondition(%q) = %v, want %v", tc.expr, got, tc.want)
		}
	}
}

func TestEvalConditionStringNumbers(t *testing.T) {
	scope := map[string]any{"version": "2"}
	if !EvalCondition("version >= 2", scope) {
		t.Error("numeric string should compare numerically")
	}
}

func TestConditionNodeVerdict(t *testing.T) {
	n := &ConditionNode{
		NodeMeta:  NodeMeta{NodeID: "gate", NodeName: "quality gate"},
		Condition: "score >= 80",
	}

	out := n.Execute(context.Background(), stubContext{vars: map[string]any{"score": 90.0}})
	if !out.Succeeded() {
		t.Fatal("condition nodes always succeed")
	}
	if out.Output["result"] != true {
		t.Errorf("result = %v, want true", out.Output["result"])
	}

	out = n.Execute(context.Background(), stubContext{vars: map[string]any{"score": 10.0}})
	if out.Output["result"] != false {
		t.Errorf("result = %v, want false", out.Output["result"])
	}
}
