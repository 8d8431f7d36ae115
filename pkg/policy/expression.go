package policy

import (
	"fmt"
)

// Expression is a node of a compiled policy.
type Expression interface {
	// Evaluate reports the node value for subject. subject may be nil.
	Evaluate(subject Subject) bool

	// String renders the node in canonical policy syntax.
	String() string
}

// Operator is a binary logical operator.
type Operator string

const (
	// OperatorAnd is logical conjunction.
	OperatorAnd Operator = keywordAnd

	// OperatorOr is logical disjunction.
	OperatorOr Operator = keywordOr
)

// PolicyExpression is a leaf: a bound rule collection or a constant.
type PolicyExpression struct {
	// Name is the source atom.
	Name string

	// Collection is the bound rule collection, nil for literals and unknown names.
	Collection RuleCollection

	// Literal is the value used when Collection is nil.
	Literal bool
}

// Evaluate implements Expression.
func (e *PolicyExpression) Evaluate(subject Subject) bool {
	if e.Collection != nil {
		return e.Collection.EvaluateRuleSet(subject)
	}
	return e.Literal
}

// String implements Expression.
func (e *PolicyExpression) String() string {
	return e.Name
}

// Bound reports whether the leaf references a rule collection.
func (e *PolicyExpression) Bound() bool {
	return e.Collection != nil
}

// LogicalExpression combines two operands. Both operands are always evaluated.
type LogicalExpression struct {
	Operator Operator
	Left     Expression
	Right    Expression
}

// Evaluate implements Expression.
func (e *LogicalExpression) Evaluate(subject Subject) bool {
	left := e.Left.Evaluate(subject)
	right := e.Right.Evaluate(subject)
	switch e.Operator {
	case OperatorAnd:
		return left && right
	case OperatorOr:
		return left || right
	default:
		return false
	}
}

// String implements Expression.
func (e *LogicalExpression) String() string {
	return fmt.Sprintf("(%s %s %s)", e.Left, e.Operator, e.Right)
}

// NegateExpression inverts its operand.
type NegateExpression struct {
	Operand Expression
}

// Evaluate implements Expression.
func (e *NegateExpression) Evaluate(subject Subject) bool {
	return !e.Operand.Evaluate(subject)
}

// String implements Expression.
func (e *NegateExpression) String() string {
	if _, ok := e.Operand.(*LogicalExpression); ok {
		return "not " + e.Operand.String()
	}
	return fmt.Sprintf("not (%s)", e.Operand)
}
