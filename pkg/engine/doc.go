// Package engine provides the work order record and its scheduling model.
//
// # Overview
//
// A work order is a policy-gated unit of content transfer. It owns an ordered
// list of packages, scheduling attributes, an execution state, a pending
// order action, access rules and an optional policy string.
//
// # Core Domain Types
//
//   - WorkOrder: the mutable, lock-protected record
//   - Package: one transfer unit (size, source URI, local path, progress)
//   - ExecutionState: pending, queued, active, blocked, waiting, completed, suspended
//   - OrderAction: pending, cancel, suspend, resume, plus extension actions
//   - PriorityKey: the total-order scheduling key
//   - AccessControl: user, group and world permission levels
//   - Document: the tagged-property persisted form
//   - Error: the closed error taxonomy with integer codes
//
// # State and Notification
//
// Plain setters only store values. The WithNotify variants, RequestAction and
// ApplyPendingAction store, recompute the priority key under the same lock and
// then notify the Notifier passed by the caller:
//
//	wo.SetExecutionStateWithNotify(host, engine.StateQueued)
//	if err := wo.RequestAction(host, engine.ActionSuspend); err != nil {
//	    // engine.KindPendingOperation, engine.KindSuspendFailed, ...
//	}
//
// Reading an absent or unparseable execution state or order action never fails:
// the value is logged, replaced by pending and stored.
//
// # Priority
//
// Keys compare by band (pending action, active, runnable, blocked, idle), then
// urgent first, mandatory first, higher relative priority, earlier priority
// time, lower attempt and finally lower database index.
//
// # Policies
//
// The policy string is compiled lazily against a policy.Rules on first call to
// Policy and cached. Parse failures surface as KindInvalidPolicy errors carrying
// the parser's reason.
package engine
