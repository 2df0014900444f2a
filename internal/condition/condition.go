// Package condition evaluates route guards against node outputs. A route is
// an ordered sequence of conditions folded left to right; each condition's
// own logical operator governs how the next clause combines with the result
// accumulated so far.
package condition

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"nodeflow/internal/domain"
)

// Evaluate folds the condition sequence over the given context. An empty
// sequence evaluates true (an unguarded route always fires).
func Evaluate(conds []domain.Condition, context map[string]any) (bool, error) {
	if len(conds) == 0 {
		return true, nil
	}
	acc, err := evalOne(conds[0], context)
	if err != nil {
		return false, err
	}
	for i := 1; i < len(conds); i++ {
		// Short-circuit: the remaining clause still has to be well formed,
		// but its value cannot change the outcome.
		op := conds[i-1].Combinator()
		if op == domain.LogicalAnd && !acc {
			continue
		}
		if op == domain.LogicalOr && acc {
			continue
		}
		next, err := evalOne(conds[i], context)
		if err != nil {
			return false, err
		}
		if op == domain.LogicalAnd {
			acc = acc && next
		} else {
			acc = acc || next
		}
	}
	return acc, nil
}

func evalOne(c domain.Condition, context map[string]any) (bool, error) {
	val, found := Lookup(context, c.Variable)

	switch c.Operator {
	case domain.OpIsEmpty:
		return !found || isEmpty(val), nil
	case domain.OpIsNotEmpty:
		return found && !isEmpty(val), nil
	}

	if !found {
		return false, fmt.Errorf("%w: %s", domain.ErrVariableNotFound, c.Variable)
	}

	switch c.Operator {
	case domain.OpEquals:
		return looseEquals(val, c.Value), nil
	case domain.OpNumberEquals:
		a, b, err := numericPair(val, c.Value)
		if err != nil {
			return false, err
		}
		return a == b, nil
	case domain.OpGreaterThan:
		a, b, err := numericPair(val, c.Value)
		if err != nil {
			return false, err
		}
		return a > b, nil
	case domain.OpLessThan:
		a, b, err := numericPair(val, c.Value)
		if err != nil {
			return false, err
		}
		return a < b, nil
	case domain.OpContains:
		return contains(val, c.Value)
	case domain.OpStartsWith:
		return strings.HasPrefix(asString(val), asString(c.Value)), nil
	case domain.OpNotStartsWith:
		return !strings.HasPrefix(asString(val), asString(c.Value)), nil
	}
	return false, fmt.Errorf("unsupported operator %q", c.Operator)
}

// Lookup resolves a dot-path into nested maps, e.g. "result.score".
func Lookup(context map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	var cur any = context
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	switch t := v.(type) {
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	}
	return false
}

// looseEquals compares values, normalizing numeric types first so that a
// JSON-decoded float64 compares equal to an int literal.
func looseEquals(a, b any) bool {
	if af, aok := toNumber(a); aok {
		if bf, bok := toNumber(b); bok {
			return af == bf
		}
	}
	return reflect.DeepEqual(a, b)
}

func toNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	}
	return 0, false
}

func numericPair(a, b any) (float64, float64, error) {
	af, ok := toNumber(a)
	if !ok {
		return 0, 0, fmt.Errorf("%w: %T is not numeric", domain.ErrTypeMismatch, a)
	}
	bf, ok := toNumber(b)
	if !ok {
		return 0, 0, fmt.Errorf("%w: %T is not numeric", domain.ErrTypeMismatch, b)
	}
	return af, bf, nil
}

func contains(haystack, needle any) (bool, error) {
	switch h := haystack.(type) {
	case string:
		return strings.Contains(h, asString(needle)), nil
	case []any:
		for _, item := range h {
			if looseEquals(item, needle) {
				return true, nil
			}
		}
		return false, nil
	case map[string]any:
		_, ok := h[asString(needle)]
		return ok, nil
	}
	return false, fmt.Errorf("%w: contains needs a string, array, or object", domain.ErrTypeMismatch)
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
