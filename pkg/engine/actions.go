package engine

import (
	"fmt"
)

// failureKind returns the rejection kind for action.
func failureKind(action OrderAction) Kind {
	switch action {
	case ActionCancel:
		return KindCancelFailed
	case ActionSuspend:
		return KindSuspendFailed
	case ActionResume:
		return KindResumeFailed
	default:
		return KindInvalidArgument
	}
}

// RequestAction is the caller entry point for cancel, suspend, resume and
// extension actions. It rejects requests against completed work orders with
// the action's failure kind, and requests that conflict with a different
// action already pending with KindPendingOperation.
func (w *WorkOrder) RequestAction(n Notifier, action OrderAction) error {
	if err := action.Validate(); err != nil {
		return NewError(KindInvalidArgument, err.Error(), nil).WithOperation("request_action")
	}

	w.mu.Lock()
	state := w.stateLocked()
	current := w.actionLocked()
	index := w.dbIndex

	if state == StateCompleted && action != ActionPending {
		w.mu.Unlock()
		return NewError(failureKind(action), fmt.Sprintf("work order is %s", state), nil).
			WithWorkOrder(index).
			WithOperation(string(action))
	}
	if !current.IsPending() && action != ActionPending && current != action {
		w.mu.Unlock()
		return NewError(KindPendingOperation, fmt.Sprintf("action %s already pending", current), nil).
			WithWorkOrder(index).
			WithOperation(string(action)).
			WithDetail("pending", string(current))
	}

	w.action = action
	w.touchLocked()
	w.recalculateLocked()
	w.mu.Unlock()

	w.notify(n)
	return nil
}

// ApplyPendingAction services the pending action and reports whether the work
// order changed. On success the action returns to PENDING, except cancel which
// is kept as the terminal reason. A rejected action is consumed and its failure
// kind returned. Extension actions are left pending.
func (w *WorkOrder) ApplyPendingAction(n Notifier) (bool, error) {
	w.mu.Lock()
	action := w.actionLocked()
	state := w.stateLocked()
	index := w.dbIndex

	if action.IsPending() || (action == ActionCancel && state == StateCompleted) {
		w.mu.Unlock()
		return false, nil
	}

	var (
		next    ExecutionState
		rejectf string
	)
	switch action {
	case ActionCancel:
		next = StateCompleted
	case ActionSuspend:
		if state == StateCompleted || state == StateSuspended {
			rejectf = "cannot suspend a %s work order"
		}
		next = StateSuspended
	case ActionResume:
		if state != StateSuspended {
			rejectf = "cannot resume a %s work order"
		}
		next = StateQueued
	default:
		w.logger.Warn().
			Int64("work_order", index).
			Str("action", string(action)).
			Msg("Unknown order action left pending")
		w.mu.Unlock()
		return false, nil
	}

	if rejectf != "" {
		w.action = ActionPending
		w.touchLocked()
		w.recalculateLocked()
		w.mu.Unlock()

		w.notify(n)
		return true, NewError(failureKind(action), fmt.Sprintf(rejectf, state), nil).
			WithWorkOrder(index).
			WithOperation(string(action))
	}

	w.state = next
	if action != ActionCancel {
		w.action = ActionPending
	}
	w.touchLocked()
	w.recalculateLocked()
	w.mu.Unlock()

	w.notify(n)
	return true, nil
}
