package domain

// Operator is a comparison applied by the condition evaluator against a
// value resolved from a node's output.
type Operator string

const (
	OpContains      Operator = "contains"
	OpEquals        Operator = "equals"
	OpGreaterThan   Operator = "greater_than"
	OpLessThan      Operator = "less_than"
	OpStartsWith    Operator = "starts_with"
	OpNotStartsWith Operator = "not_starts_with"
	OpIsEmpty       Operator = "is_empty"
	OpIsNotEmpty    Operator = "is_not_empty"
	OpNumberEquals  Operator = "number_equals"
)

type LogicalOperator string

const (
	LogicalAnd LogicalOperator = "AND"
	LogicalOr  LogicalOperator = "OR"
)

// Condition is one clause of a route guard. Variable is a dot-path into the
// source node's output. LogicalOperator says how the NEXT clause combines
// with the result accumulated so far; it defaults to AND and is ignored on
// the last clause of a sequence.
type Condition struct {
	Variable        string          `json:"variable"`
	Operator        Operator        `json:"operator"`
	Value           any             `json:"value,omitempty"`
	LogicalOperator LogicalOperator `json:"logical_operator,omitempty"`
}

// Combinator returns the logical operator with the AND default applied.
func (c Condition) Combinator() LogicalOperator {
	if c.LogicalOperator == LogicalOr {
		return LogicalOr
	}
	return LogicalAnd
}
