package domain

import "fmt"

type CompareOp string

const (
	OpEquals       CompareOp = "equals"
	OpLessThan     CompareOp = "less_than"
	OpGreaterThan  CompareOp = "greater_than"
	OpGreaterEqual CompareOp = "greater_equal"
	OpLessEqual    CompareOp = "less_equal"
)

// KnownOperator reports whether op is a supported comparison operator.
func KnownOperator(op CompareOp) bool {
	switch op {
	case OpEquals, OpLessThan, OpGreaterThan, OpGreaterEqual, OpLessEqual:
		return true
	}
	return false
}

// ConditionSet narrows a trigger to specific payloads and times of day.
// All clauses combine with AND. A nil ConditionSet always matches.
type ConditionSet struct {
	Clauses []FieldClause `json:"clauses,omitempty"`
	Window  *TimeWindow   `json:"window,omitempty"`
}

// FieldClause compares one payload field against a literal. A missing or
// mistyped field fails the clause; it never raises.
type FieldClause struct {
	Field    string    `json:"field"`
	Operator CompareOp `json:"operator"`
	Value    any       `json:"value"`
}

// TimeWindow restricts a trigger to hours of the day, inclusive at both
// ends, evaluated against the event's occurrence time. Start greater than
// End spans midnight (e.g. 22-6).
type TimeWindow struct {
	StartHour int `json:"start_hour"`
	EndHour   int `json:"end_hour"`
}

// Contains reports whether hour falls inside the window.
func (w TimeWindow) Contains(hour int) bool {
	if w.StartHour <= w.EndHour {
		return hour >= w.StartHour && hour <= w.EndHour
	}
	return hour >= w.StartHour || hour <= w.EndHour
}

// Validate rejects empty or malformed condition sets. A non-nil set must
// constrain something.
func (c *ConditionSet) Validate() error {
	if c == nil {
		return nil
	}
	if len(c.Clauses) == 0 && c.Window == nil {
		return fmt.Errorf("conditions: at least one clause or window required")
	}
	for i, cl := range c.Clauses {
		if cl.Field == "" {
			return fmt.Errorf("conditions: clause %d: field required", i)
		}
		if !KnownOperator(cl.Operator) {
			return fmt.Errorf("conditions: clause %d: unknown operator %q", i, cl.Operator)
		}
		if cl.Value == nil {
			return fmt.Errorf("conditions: clause %d: value required", i)
		}
	}
	if w := c.Window; w != nil {
		if w.StartHour < 0 || w.StartHour > 23 {
			return fmt.Errorf("conditions: window start_hour %d out of range 0-23", w.StartHour)
		}
		if w.EndHour < 0 || w.EndHour > 23 {
			return fmt.Errorf("conditions: window end_hour %d out of range 0-23", w.EndHour)
		}
	}
	return nil
}
