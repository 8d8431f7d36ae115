package engine

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExecutionState is the scheduling-visible lifecycle stage of a work order.
type ExecutionState string

const (
	// StateUndefined is the zero value. It is never a valid state after initialization.
	StateUndefined ExecutionState = ""

	// StatePending indicates the work order has not been considered by the scheduler yet.
	StatePending ExecutionState = "pending"

	// StateQueued indicates the work order passed policy and storage checks and awaits a slot.
	StateQueued ExecutionState = "queued"

	// StateActive indicates the work order is transferring.
	StateActive ExecutionState = "active"

	// StateBlocked indicates the work order cannot run until an external condition changes.
	StateBlocked ExecutionState = "blocked"

	// StateWaiting indicates the work order policy currently evaluates to false.
	StateWaiting ExecutionState = "waiting"

	// StateCompleted indicates the work order is finished or was cancelled.
	StateCompleted ExecutionState = "completed"

	// StateSuspended indicates a caller suspended the work order.
	StateSuspended ExecutionState = "suspended"
)

// ParseExecutionState parses a persisted state token. Matching is case-insensitive.
func ParseExecutionState(s string) (ExecutionState, error) {
	state := ExecutionState(strings.ToLower(strings.TrimSpace(s)))
	if err := state.Validate(); err != nil {
		return StateUndefined, err
	}
	return state, nil
}

// IsTerminal returns true if the state represents a final state.
func (s ExecutionState) IsTerminal() bool {
	return s == StateCompleted
}

// IsSchedulable returns true if the scheduler may move the work order forward.
func (s ExecutionState) IsSchedulable() bool {
	switch s {
	case StatePending, StateQueued, StateBlocked, StateWaiting:
		return true
	default:
		return false
	}
}

// Validate checks if the execution state is valid. StateUndefined is not valid.
func (s ExecutionState) Validate() error {
	switch s {
	case StatePending, StateQueued, StateActive, StateBlocked,
		StateWaiting, StateCompleted, StateSuspended:
		return nil
	default:
		return NewError(KindInvalidProperty, fmt.Sprintf("invalid execution state: %q", string(s)), nil)
	}
}

// String returns the token form, "undefined" for the zero value.
func (s ExecutionState) String() string {
	if s == StateUndefined {
		return "undefined"
	}
	return string(s)
}

// OrderAction is a caller-requested action pending against a work order.
// The set is open: values beyond the ones declared here are carried through
// persistence untouched and left pending by the scheduler.
type OrderAction string

const (
	// ActionPending means no action is pending.
	ActionPending OrderAction = "pending"

	// ActionCancel requests the work order be cancelled.
	ActionCancel OrderAction = "cancel"

	// ActionSuspend requests the work order be suspended.
	ActionSuspend OrderAction = "suspend"

	// ActionResume requests a suspended work order be resumed.
	ActionResume OrderAction = "resume"
)

// ParseOrderAction parses a persisted action token. Any well-formed token is accepted.
func ParseOrderAction(s string) (OrderAction, error) {
	token := strings.ToLower(strings.TrimSpace(s))
	action := OrderAction(token)
	if err := action.Validate(); err != nil {
		return ActionPending, err
	}
	return action, nil
}

// IsPending returns true if no action is pending.
func (a OrderAction) IsPending() bool {
	return a == ActionPending || a == ""
}

// IsKnown returns true for the actions the scheduler knows how to apply.
func (a OrderAction) IsKnown() bool {
	switch a {
	case ActionPending, ActionCancel, ActionSuspend, ActionResume:
		return true
	default:
		return false
	}
}

// Validate checks the action is a well-formed token: non-empty, lowercase letters, digits, '-' or '_'.
func (a OrderAction) Validate() error {
	if a == "" {
		return NewError(KindInvalidProperty, "empty order action", nil)
	}
	for _, r := range string(a) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			continue
		}
		return NewError(KindInvalidProperty, fmt.Sprintf("invalid order action: %q", string(a)), nil)
	}
	return nil
}

// EventType represents the type of event published for work order activity.
type EventType string

const (
	// EventTypeProgressUpdate indicates a WithNotify mutation on a work order.
	EventTypeProgressUpdate EventType = "progress_update"

	// EventTypePassStarted indicates a scheduling pass has started.
	EventTypePassStarted EventType = "pass_started"

	// EventTypePassCompleted indicates a scheduling pass has completed.
	EventTypePassCompleted EventType = "pass_completed"

	// EventTypeStorageSelected indicates a storage backend was bound to a work order.
	EventTypeStorageSelected EventType = "storage_selected"

	// EventTypePolicyRejected indicates a work order policy failed to parse.
	EventTypePolicyRejected EventType = "policy_rejected"

	// EventTypeActionApplied indicates a pending order action was serviced.
	EventTypeActionApplied EventType = "action_applied"

	// EventTypeError indicates an error occurred.
	EventTypeError EventType = "error"

	// EventTypeWarning indicates a warning was raised.
	EventTypeWarning EventType = "warning"
)

// Severity returns the severity level of the event type.
func (e EventType) Severity() string {
	switch e {
	case EventTypeError, EventTypePolicyRejected:
		return "error"
	case EventTypeWarning:
		return "warning"
	default:
		return "info"
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s ExecutionState) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *ExecutionState) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	state, err := ParseExecutionState(str)
	if err != nil {
		return err
	}
	*s = state
	return nil
}
