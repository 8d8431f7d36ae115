package policy

import (
	"fmt"
)

// Reason classifies why a policy string was rejected.
type Reason string

const (
	// ReasonIncompleteParse means tokens remained after a complete expression.
	ReasonIncompleteParse Reason = "incomplete-parse"

	// ReasonInvalidExpression means an operator appeared where an operand was expected.
	ReasonInvalidExpression Reason = "invalid-expression"

	// ReasonUnexpectedEnd means the input ended inside an expression.
	ReasonUnexpectedEnd Reason = "unexpected-end"

	// ReasonUnexpectedParentheses means parentheses were unbalanced or missing.
	ReasonUnexpectedParentheses Reason = "unexpected-parentheses"
)

// ParseError reports a rejected policy string.
type ParseError struct {
	// Reason is the rejection class.
	Reason Reason

	// Policy is the full policy text.
	Policy string

	// Offset is the byte offset of the offending token, or len(Policy) at end of input.
	Offset int

	// Token is the offending token text, empty at end of input.
	Token string
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	if e.Token == "" {
		return fmt.Sprintf("policy %q: %s at offset %d", e.Policy, e.Reason, e.Offset)
	}
	return fmt.Sprintf("policy %q: %s at offset %d near %q", e.Policy, e.Reason, e.Offset, e.Token)
}
