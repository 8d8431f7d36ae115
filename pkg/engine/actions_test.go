package engine

import (
	"testing"
)

func TestRequestAction(t *testing.T) {
	tests := []struct {
		name     string
		state    ExecutionState
		current  OrderAction
		request  OrderAction
		wantKind Kind
	}{
		{"cancel queued", StateQueued, ActionPending, ActionCancel, ""},
		{"suspend active", StateActive, ActionPending, ActionSuspend, ""},
		{"repeat same action", StateActive, ActionSuspend, ActionSuspend, ""},
		{"extension action", StateQueued, ActionPending, OrderAction("throttle"), ""},
		{"conflicting action", StateActive, ActionSuspend, ActionCancel, KindPendingOperation},
		{"cancel completed", StateCompleted, ActionPending, ActionCancel, KindCancelFailed},
		{"suspend completed", StateCompleted, ActionPending, ActionSuspend, KindSuspendFailed},
		{"resume completed", StateCompleted, ActionPending, ActionResume, KindResumeFailed},
		{"extension on completed", StateCompleted, ActionPending, OrderAction("throttle"), KindInvalidArgument},
		{"malformed action", StateQueued, ActionPending, OrderAction("Drop Table"), KindInvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wo := newTestWorkOrder()
			wo.SetExecutionState(tt.state)
			wo.SetOrderAction(tt.current)
			n := &countingNotifier{}

			err := wo.RequestAction(n, tt.request)
			if tt.wantKind == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if wo.OrderAction() != tt.request {
					t.Errorf("action = %s, want %s", wo.OrderAction(), tt.request)
				}
				if n.count != 1 {
					t.Errorf("expected one notification, got %d", n.count)
				}
				if wo.Priority().Band != BandActionPending {
					t.Errorf("expected action band, got %d", wo.Priority().Band)
				}
				return
			}

			if !IsKind(err, tt.wantKind) {
				t.Fatalf("expected %s, got %v", tt.wantKind, err)
			}
			if wo.OrderAction() != tt.current {
				t.Errorf("rejected request must not change the action, got %s", wo.OrderAction())
			}
			if n.count != 0 {
				t.Error("rejected request must not notify")
			}
		})
	}
}

func TestApplyPendingAction(t *testing.T) {
	tests := []struct {
		name        string
		state       ExecutionState
		action      OrderAction
		wantChanged bool
		wantState   ExecutionState
		wantAction  OrderAction
		wantKind    Kind
	}{
		{"nothing pending", StateQueued, ActionPending, false, StateQueued, ActionPending, ""},
		{"cancel active", StateActive, ActionCancel, true, StateCompleted, ActionCancel, ""},
		{"cancel already applied", StateCompleted, ActionCancel, false, StateCompleted, ActionCancel, ""},
		{"suspend queued", StateQueued, ActionSuspend, true, StateSuspended, ActionPending, ""},
		{"suspend suspended", StateSuspended, ActionSuspend, true, StateSuspended, ActionPending, KindSuspendFailed},
		{"resume suspended", StateSuspended, ActionResume, true, StateQueued, ActionPending, ""},
		{"resume active", StateActive, ActionResume, true, StateActive, ActionPending, KindResumeFailed},
		{"extension stays pending", StateQueued, OrderAction("throttle"), false, StateQueued, OrderAction("throttle"), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wo := newTestWorkOrder()
			wo.SetExecutionState(tt.state)
			wo.SetOrderAction(tt.action)
			n := &countingNotifier{}

			changed, err := wo.ApplyPendingAction(n)
			if tt.wantKind != "" {
				if !IsKind(err, tt.wantKind) {
					t.Fatalf("expected %s, got %v", tt.wantKind, err)
				}
			} else if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if changed != tt.wantChanged {
				t.Errorf("changed = %v, want %v", changed, tt.wantChanged)
			}
			if wo.ExecutionState() != tt.wantState {
				t.Errorf("state = %s, want %s", wo.ExecutionState(), tt.wantState)
			}
			if wo.OrderAction() != tt.wantAction {
				t.Errorf("action = %s, want %s", wo.OrderAction(), tt.wantAction)
			}
			if changed && n.count != 1 {
				t.Errorf("expected one notification, got %d", n.count)
			}
			if !changed && n.count != 0 {
				t.Errorf("expected no notification, got %d", n.count)
			}
		})
	}
}

func TestApplyPendingAction_CancelledOrderIsIdle(t *testing.T) {
	wo := newTestWorkOrder()
	wo.SetExecutionState(StateActive)

	if err := wo.RequestAction(nil, ActionCancel); err != nil {
		t.Fatalf("RequestAction failed: %v", err)
	}
	if _, err := wo.ApplyPendingAction(nil); err != nil {
		t.Fatalf("ApplyPendingAction failed: %v", err)
	}

	if got := wo.Priority().Band; got != BandIdle {
		t.Errorf("cancelled order should be idle, got band %d", got)
	}
	if err := wo.RequestAction(nil, ActionResume); !IsKind(err, KindResumeFailed) {
		t.Errorf("expected resume failure on a cancelled order, got %v", err)
	}
}
