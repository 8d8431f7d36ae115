// Package scheduler decides when work orders may run.
//
// A Scheduler pass visits work orders in priority order. For each order it
// services the pending order action, evaluates the order's policy and, when
// the policy holds, selects a storage backend:
//
//	policy fails to parse   -> BLOCKED
//	policy is false         -> WAITING
//	no backend qualifies    -> BLOCKED
//	backend selected        -> QUEUED
//
// Once every order has been evaluated, QUEUED orders are promoted to ACTIVE
// in priority order until Options.MaxActive orders are active. Every state
// change goes through the work order's notifying setters.
//
// The Manager is the scheduler host: it owns the storage registry and
// implements engine.Notifier by publishing telemetry events and persisting
// notified work orders.
package scheduler
