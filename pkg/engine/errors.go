package engine

import (
	"errors"
	"fmt"
)

// Kind is the closed set of error kinds reported across process boundaries.
type Kind string

const (
	// KindGeneral is an unclassified internal failure.
	KindGeneral Kind = "general"

	// KindInvalidArgument indicates malformed caller input.
	// Examples: bad property value, out-of-range priority.
	KindInvalidArgument Kind = "invalid_argument"

	// KindNotFound indicates a referenced work order, rule or storage id does not exist.
	KindNotFound Kind = "not_found"

	// KindPendingOperation indicates the requested action conflicts with one already in flight.
	KindPendingOperation Kind = "pending_operation"

	// KindVSDUnavailable indicates no storage backend could be selected for a transfer.
	KindVSDUnavailable Kind = "vsd_unavailable"

	// KindInvalidPolicy indicates a policy string failed to tokenize or parse.
	KindInvalidPolicy Kind = "invalid_policy"

	// KindInvalidProperty indicates an unparseable persisted property.
	KindInvalidProperty Kind = "invalid_property"

	// KindCancelFailed indicates a cancel request was rejected by the current state.
	KindCancelFailed Kind = "cancel_failed"

	// KindSuspendFailed indicates a suspend request was rejected by the current state.
	KindSuspendFailed Kind = "suspend_failed"

	// KindResumeFailed indicates a resume request was rejected by the current state.
	KindResumeFailed Kind = "resume_failed"
)

var kindCodes = map[Kind]int{
	KindGeneral:          1,
	KindInvalidArgument:  2,
	KindNotFound:         3,
	KindPendingOperation: 4,
	KindVSDUnavailable:   5,
	KindInvalidPolicy:    6,
	KindInvalidProperty:  7,
	KindCancelFailed:     8,
	KindSuspendFailed:    9,
	KindResumeFailed:     10,
}

// Code returns the integer wire code of the kind. Unknown kinds report the General code.
func (k Kind) Code() int {
	if code, ok := kindCodes[k]; ok {
		return code
	}
	return kindCodes[KindGeneral]
}

// KindFromCode maps a wire code back to its kind. Unknown codes map to KindGeneral.
func KindFromCode(code int) Kind {
	for kind, c := range kindCodes {
		if c == code {
			return kind
		}
	}
	return KindGeneral
}

// PolicyReason refines KindInvalidPolicy errors.
type PolicyReason string

const (
	// ReasonIncompleteParse means tokens remained after a complete expression.
	ReasonIncompleteParse PolicyReason = "incomplete-parse"

	// ReasonInvalidExpression means a token appeared where an operand was expected.
	ReasonInvalidExpression PolicyReason = "invalid-expression"

	// ReasonUnexpectedEnd means the token stream ended inside an expression.
	ReasonUnexpectedEnd PolicyReason = "unexpected-end"

	// ReasonUnexpectedParentheses means parentheses were unbalanced or missing.
	ReasonUnexpectedParentheses PolicyReason = "unexpected-parentheses"
)

// Error is a classified error with work order context.
// nolint:revive // Error mirrors the wire-level error record
type Error struct {
	// Kind is the error classification.
	Kind Kind `json:"kind"`

	// Reason is the InvalidPolicy sub-kind, empty for other kinds.
	Reason PolicyReason `json:"reason,omitempty"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// WorkOrder is the db index of the work order involved, or -1.
	WorkOrder int64 `json:"work_order"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// NewError creates an error of the given kind.
func NewError(kind Kind, message string, err error) *Error {
	return &Error{
		Kind:      kind,
		Message:   message,
		WorkOrder: -1,
		Err:       err,
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	head := fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	if e.Reason != "" {
		head = fmt.Sprintf("[%s/%s] %s", e.Kind, e.Reason, e.Message)
	}
	if e.WorkOrder >= 0 && e.Operation != "" {
		head = fmt.Sprintf("%s (work_order=%d, operation=%s)", head, e.WorkOrder, e.Operation)
	} else if e.WorkOrder >= 0 {
		head = fmt.Sprintf("%s (work_order=%d)", head, e.WorkOrder)
	} else if e.Operation != "" {
		head = fmt.Sprintf("%s (operation=%s)", head, e.Operation)
	}
	if e.Err != nil {
		return head + ": " + e.Err.Error()
	}
	return head
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on kind, and on reason when the target carries one.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if e.Kind != t.Kind {
		return false
	}
	return t.Reason == "" || e.Reason == t.Reason
}

// Code returns the integer wire code for this error.
func (e *Error) Code() int {
	return e.Kind.Code()
}

// WithReason sets the InvalidPolicy sub-kind.
func (e *Error) WithReason(reason PolicyReason) *Error {
	e.Reason = reason
	return e
}

// WithWorkOrder adds work order context to an error.
func (e *Error) WithWorkOrder(index int64) *Error {
	e.WorkOrder = index
	return e
}

// WithOperation adds operation context to an error.
func (e *Error) WithOperation(operation string) *Error {
	e.Operation = operation
	return e
}

// WithDetail adds a detail field to the error context.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Sentinels for errors.Is comparisons.
var (
	ErrGeneral          = &Error{Kind: KindGeneral}
	ErrInvalidArgument  = &Error{Kind: KindInvalidArgument}
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrPendingOperation = &Error{Kind: KindPendingOperation}
	ErrVSDUnavailable   = &Error{Kind: KindVSDUnavailable}
	ErrInvalidPolicy    = &Error{Kind: KindInvalidPolicy}
	ErrInvalidProperty  = &Error{Kind: KindInvalidProperty}
	ErrCancelFailed     = &Error{Kind: KindCancelFailed}
	ErrSuspendFailed    = &Error{Kind: KindSuspendFailed}
	ErrResumeFailed     = &Error{Kind: KindResumeFailed}
)

// KindOf returns the kind of err, KindGeneral for unclassified errors and "" for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindGeneral
}

// IsKind returns true if err is classified with the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// IsRetryable returns true if the failure may clear on a later scheduling pass.
func IsRetryable(err error) bool {
	return IsKind(err, KindVSDUnavailable) || IsKind(err, KindPendingOperation)
}
