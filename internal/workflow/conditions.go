package workflow

import (
	"encoding/json"

	"github.com/Sonni4154/opsflow/internal/domain"
)

// EvaluateConditions reports whether an event satisfies a trigger's
// condition set. A nil set always matches. Clauses combine with AND; a
// missing or mistyped payload field fails its clause rather than erroring.
func EvaluateConditions(set *domain.ConditionSet, event domain.TriggerEvent) bool {
	if set == nil {
		return true
	}
	for _, clause := range set.Clauses {
		if !evaluateClause(clause, event.Payload) {
			return false
		}
	}
	if w := set.Window; w != nil {
		if !w.Contains(event.OccurredAt.Hour()) {
			return false
		}
	}
	return true
}

func evaluateClause(clause domain.FieldClause, payload map[string]any) bool {
	raw, ok := payload[clause.Field]
	if !ok {
		return false
	}

	if clause.Operator == domain.OpEquals {
		return equalValues(raw, clause.Value)
	}

	// Ordering operators compare numbers only.
	a, aok := toFloat(raw)
	b, bok := toFloat(clause.Value)
	if !aok || !bok {
		return false
	}
	switch clause.Operator {
	case domain.OpLessThan:
		return a < b
	case domain.OpGreaterThan:
		return a > b
	case domain.OpGreaterEqual:
		return a >= b
	case domain.OpLessEqual:
		return a <= b
	}
	return false
}

func equalValues(a, b any) bool {
	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(b)
		return ok && af == bf
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
