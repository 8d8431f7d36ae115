package engine

import (
	"fmt"
	"sort"
	"time"
)

// PriorityKey is the total-order scheduling key of a work order.
// Lower keys are scheduled first; see Compare.
type PriorityKey struct {
	// Band groups work orders by scheduling relevance.
	Band int `json:"band"`

	Urgent           bool  `json:"urgent"`
	Mandatory        bool  `json:"mandatory"`
	RelativePriority int   `json:"relative_priority"`
	PriorityTime     int64 `json:"priority_time"`
	Attempt          int   `json:"attempt"`

	// Index is the database index, the final deterministic tie-break.
	Index int64 `json:"index"`
}

// Scheduling bands, lowest first.
const (
	BandActionPending = iota
	BandActive
	BandRunnable
	BandBlocked
	BandIdle
)

// priorityInput is the attribute snapshot the key is computed from.
type priorityInput struct {
	state            ExecutionState
	action           OrderAction
	urgent           bool
	mandatory        bool
	relativePriority int
	priorityTime     time.Time
	attempt          int
	index            int64
}

func bandOf(state ExecutionState, action OrderAction) int {
	if !action.IsPending() && !(action == ActionCancel && state == StateCompleted) {
		return BandActionPending
	}
	switch state {
	case StateActive:
		return BandActive
	case StatePending, StateQueued, StateWaiting:
		return BandRunnable
	case StateBlocked:
		return BandBlocked
	default:
		return BandIdle
	}
}

// calculatePriority is a pure function of its input.
func calculatePriority(in priorityInput) PriorityKey {
	return PriorityKey{
		Band:             bandOf(in.state, in.action),
		Urgent:           in.urgent,
		Mandatory:        in.mandatory,
		RelativePriority: in.relativePriority,
		PriorityTime:     in.priorityTime.UnixNano(),
		Attempt:          in.attempt,
		Index:            in.index,
	}
}

// Compare orders keys: band ascending, urgent first, mandatory first, relative
// priority descending, priority time ascending, attempt ascending, then index
// ascending. It returns -1, 0 or +1.
func (k PriorityKey) Compare(o PriorityKey) int {
	switch {
	case k.Band != o.Band:
		return cmpInt(int64(k.Band), int64(o.Band))
	case k.Urgent != o.Urgent:
		if k.Urgent {
			return -1
		}
		return 1
	case k.Mandatory != o.Mandatory:
		if k.Mandatory {
			return -1
		}
		return 1
	case k.RelativePriority != o.RelativePriority:
		return cmpInt(int64(o.RelativePriority), int64(k.RelativePriority))
	case k.PriorityTime != o.PriorityTime:
		return cmpInt(k.PriorityTime, o.PriorityTime)
	case k.Attempt != o.Attempt:
		return cmpInt(int64(k.Attempt), int64(o.Attempt))
	default:
		return cmpInt(k.Index, o.Index)
	}
}

// Less reports whether k schedules before o.
func (k PriorityKey) Less(o PriorityKey) bool {
	return k.Compare(o) < 0
}

// String renders the key for logs.
func (k PriorityKey) String() string {
	return fmt.Sprintf("band=%d urgent=%t mandatory=%t priority=%d time=%d attempt=%d index=%d",
		k.Band, k.Urgent, k.Mandatory, k.RelativePriority, k.PriorityTime, k.Attempt, k.Index)
}

func cmpInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func (w *WorkOrder) snapshotLocked() priorityInput {
	return priorityInput{
		state:            w.stateLocked(),
		action:           w.actionLocked(),
		urgent:           w.urgent,
		mandatory:        w.mandatory,
		relativePriority: w.relativePriority,
		priorityTime:     w.priorityTimeLocked(),
		attempt:          w.attempt,
		index:            w.dbIndex,
	}
}

func (w *WorkOrder) recalculateLocked() {
	w.priority = calculatePriority(w.snapshotLocked())
}

// CalculateExecutionPriority recomputes and stores the scheduling key.
func (w *WorkOrder) CalculateExecutionPriority() PriorityKey {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.recalculateLocked()
	return w.priority
}

// Priority returns the stored scheduling key as of the last recomputation.
func (w *WorkOrder) Priority() PriorityKey {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.priority
}

// ComparePriority orders two work orders by their stored keys.
func ComparePriority(a, b *WorkOrder) int {
	return a.Priority().Compare(b.Priority())
}

// SortByPriority sorts orders in scheduling order using the stored keys.
func SortByPriority(orders []*WorkOrder) {
	keys := make(map[*WorkOrder]PriorityKey, len(orders))
	for _, wo := range orders {
		keys[wo] = wo.Priority()
	}
	sort.SliceStable(orders, func(i, j int) bool {
		return keys[orders[i]].Less(keys[orders[j]])
	})
}
