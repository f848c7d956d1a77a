package workflow

import (
	"fmt"
	"strconv"
	"strings"
)

// EvalCondition evaluates a small comparison predicate against a scope.
// Supported forms:
//
//	"field == value"   "field != value"
//	"field > 10"       "field >= 10"
//	"field < 10"       "field <= 10"
//	"field"            truthy check (non-zero, non-empty, true)
//
// An empty expression evaluates to true. Unknown fields and malformed
// expressions evaluate to false so that a bad predicate never routes a
// walk down a conditional edge by accident.
func EvalCondition(expr string, scope map[string]any) bool {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return true
	}

	for _, op := range []string{"==", "!=", ">=", "<=", ">", "<"} {
		idx := strings.Index(expr, op)
		if idx < 0 {
			continue
		}
		field := strings.TrimSpace(expr[:idx])
		rhs := strings.TrimSpace(expr[idx+len(op):])
		val, ok := scope[field]
		if !ok {
			return false
		}
		return compare(val, op, rhs)
	}

	// Bare field: truthy check
	val, ok := scope[expr]
	if !ok {
		return false
	}
	return truthy(val)
}

func compare(val any, op, rhs string) bool {
	// Numeric comparison when both sides parse as floats
	if lf, ok := toFloat(val); ok {
		if rf, err := strconv.ParseFloat(rhs, 64); err == nil {
			switch op {
			case "==":
				return lf == rf
			case "!=":
				return lf != rf
			case ">":
				return lf > rf
			case ">=":
				return lf >= rf
			case "<":
				return lf < rf
			case "<=":
				return lf <= rf
			}
			return false
		}
	}

	ls := fmt.Sprintf("%v", val)
	rs := strings.Trim(rhs, `"'`)
	switch op {
	case "==":
		return ls == rs
	case "!=":
		return ls != rs
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t != "" && t != "false" && t != "0"
	case nil:
		return false
	}
	if f, ok := toFloat(v); ok {
		return f != 0
	}
	return true
}
