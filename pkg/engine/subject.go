package engine

import (
	"errors"
	"time"

	"github.com/openfroyo/workorders/pkg/policy"
)

// PolicyInput implements policy.Subject. The document exposes scheduling
// attributes, labels, transfer totals and the assigned storage id. A nil work
// order has no input.
func (w *WorkOrder) PolicyInput() map[string]interface{} {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.policyInputLocked()
}

func (w *WorkOrder) policyInputLocked() map[string]interface{} {
	labels := make(map[string]interface{}, len(w.labels))
	for _, k := range w.labelKeysLocked() {
		labels[k] = w.labels[k]
	}

	var total, done int64
	for _, p := range w.packages {
		total += p.ContentSize
		done += p.BytesTransferred
	}

	var expiration int64
	if !w.expiration.IsZero() {
		expiration = w.expiration.UnixMilli()
	}

	return map[string]interface{}{
		"index":             w.dbIndex,
		"state":             string(w.stateLocked()),
		"action":            string(w.actionLocked()),
		"urgent":            w.urgent,
		"mandatory":         w.mandatory,
		"relative_priority": w.relativePriority,
		"attempt":           w.attempt,
		"uid":               w.uid,
		"labels":            labels,
		"created":           w.created.UnixMilli(),
		"expiration":        expiration,
		"now":               time.Now().UnixMilli(),
		"transfer": map[string]interface{}{
			"packages":         len(w.packages),
			"total_bytes":      total,
			"downloaded_bytes": done,
			"remaining_bytes":  w.remainingLocked(),
		},
		"storage": map[string]interface{}{
			"id": w.storageID,
		},
	}
}

// PolicyText returns the persisted policy string.
func (w *WorkOrder) PolicyText() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.policyText
}

// SetPolicyText replaces the policy string and discards any compiled policy.
func (w *WorkOrder) SetPolicyText(text string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if text != w.policyText {
		w.policyText = text
		w.resetPolicyLocked()
	}
	w.touchLocked()
}

// ResetPolicy discards the compiled policy so the next Policy call re-parses.
func (w *WorkOrder) ResetPolicy() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.resetPolicyLocked()
}

func (w *WorkOrder) resetPolicyLocked() {
	w.policy = nil
	w.policyErr = nil
	w.parsed = false
}

// Policy returns the compiled policy, parsing the policy string against rules
// on first access. The result is cached; ResetPolicy or a new policy string
// forces a re-parse. An empty policy string yields a nil Policy, which allows
// everything. Parse failures are returned as KindInvalidPolicy errors.
//
// rules is only consulted by the parse that fills the cache. Later calls
// return the cached policy whatever rules they pass; call ResetPolicy before
// switching to a different rule set. Reloads through a policy.Registry are
// seen without a re-parse because parsed names resolve through its handles.
func (w *WorkOrder) Policy(rules policy.Rules) (*policy.Policy, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.parsed {
		return w.policy, w.policyErr
	}
	w.parsed = true

	if w.policyText == "" {
		return nil, nil
	}

	p, err := policy.Compile(w.policyText, rules)
	if err != nil {
		w.policyErr = policyError(err, w.dbIndex)
		return nil, w.policyErr
	}

	if unresolved := p.Unresolved(); len(unresolved) > 0 {
		w.logger.Warn().
			Int64("work_order", w.dbIndex).
			Strs("rules", unresolved).
			Msg("Policy references unknown rules, treating them as false")
	}
	w.policy = p
	return p, nil
}

// EvaluatePolicy compiles the policy if needed and evaluates it against the work order.
func (w *WorkOrder) EvaluatePolicy(rules policy.Rules) (bool, error) {
	return w.EvaluatePolicyFor(rules, w)
}

// EvaluatePolicyFor evaluates the work order's policy against subject, which
// may extend the work order with candidate data such as a storage backend.
func (w *WorkOrder) EvaluatePolicyFor(rules policy.Rules, subject policy.Subject) (bool, error) {
	p, err := w.Policy(rules)
	if err != nil {
		return false, err
	}
	return p.Evaluate(subject), nil
}

func policyError(err error, index int64) *Error {
	var perr *policy.ParseError
	if errors.As(err, &perr) {
		return NewError(KindInvalidPolicy, "policy failed to parse", err).
			WithReason(PolicyReason(perr.Reason)).
			WithWorkOrder(index).
			WithOperation("parse_policy").
			WithDetail("offset", perr.Offset)
	}
	return NewError(KindInvalidPolicy, "policy failed to parse", err).WithWorkOrder(index)
}
