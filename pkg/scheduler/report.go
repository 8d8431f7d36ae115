package scheduler

import (
	"fmt"
	"time"

	"github.com/openfroyo/workorders/pkg/engine"
	"github.com/openfroyo/workorders/pkg/storage"
)

// Outcome is what a pass did with one work order.
type Outcome string

const (
	// OutcomeNotRun means the pass was cancelled before reaching the work order.
	OutcomeNotRun Outcome = "not-run"

	// OutcomeSkipped means the work order was not schedulable (completed, suspended or active).
	OutcomeSkipped Outcome = "skipped"

	// OutcomeInvalidPolicy means the policy failed to parse. The work order is BLOCKED.
	OutcomeInvalidPolicy Outcome = "invalid-policy"

	// OutcomeWaiting means the policy evaluated to false. The work order is WAITING.
	OutcomeWaiting Outcome = "waiting"

	// OutcomeNoStorage means no backend qualified. The work order is BLOCKED.
	OutcomeNoStorage Outcome = "no-storage"

	// OutcomeQueued means a backend was selected. The work order is QUEUED.
	OutcomeQueued Outcome = "queued"

	// OutcomeActivated means the work order was queued and promoted to ACTIVE.
	OutcomeActivated Outcome = "activated"

	// OutcomeFailed means selection returned an error.
	OutcomeFailed Outcome = "failed"
)

// OrderResult records the pass result for one work order.
type OrderResult struct {
	// WorkOrder is the db index of the work order.
	WorkOrder int64 `json:"work_order"`

	// Outcome is what the pass did.
	Outcome Outcome `json:"outcome"`

	// State is the execution state after the pass.
	State engine.ExecutionState `json:"state"`

	// ActionApplied reports whether a pending order action was serviced.
	ActionApplied bool `json:"action_applied,omitempty"`

	// Selection is the storage selection, when one ran.
	Selection *storage.Selection `json:"selection,omitempty"`

	// Err is the error behind a non-success outcome, or a rejected order action.
	Err error `json:"-"`
}

// PassReport summarizes one scheduling pass.
type PassReport struct {
	// ID identifies the pass in logs, spans and events.
	ID string `json:"id"`

	// StartedAt is when the pass started.
	StartedAt time.Time `json:"started_at"`

	// Duration is how long the pass took.
	Duration time.Duration `json:"duration"`

	// Results holds one entry per work order, in priority order at pass start.
	Results []OrderResult `json:"results"`
}

// Counts returns the number of work orders per outcome.
func (r *PassReport) Counts() map[string]int {
	counts := make(map[string]int)
	for _, res := range r.Results {
		counts[string(res.Outcome)]++
	}
	return counts
}

// Result returns the result for the work order with the given db index.
func (r *PassReport) Result(index int64) (OrderResult, bool) {
	for _, res := range r.Results {
		if res.WorkOrder == index {
			return res, true
		}
	}
	return OrderResult{}, false
}

// String renders a one line summary.
func (r *PassReport) String() string {
	c := r.Counts()
	return fmt.Sprintf("pass %s: %d orders, %d activated, %d queued, %d waiting, %d blocked (%s)",
		r.ID, len(r.Results), c[string(OutcomeActivated)], c[string(OutcomeQueued)],
		c[string(OutcomeWaiting)], c[string(OutcomeInvalidPolicy)]+c[string(OutcomeNoStorage)],
		r.Duration.Round(time.Millisecond))
}
