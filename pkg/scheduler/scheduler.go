package scheduler

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openfroyo/workorders/pkg/engine"
	"github.com/openfroyo/workorders/pkg/policy"
	"github.com/openfroyo/workorders/pkg/storage"
	"github.com/openfroyo/workorders/pkg/telemetry"
)

// DefaultWorkers is the worker pool size used when Options.Workers is unset.
const DefaultWorkers = 4

// Options configures a Scheduler.
type Options struct {
	// Workers is the maximum number of work orders evaluated concurrently.
	Workers int

	// MaxActive caps the number of ACTIVE work orders. Zero means no cap.
	MaxActive int
}

// Scheduler runs scheduling passes over a set of work orders.
type Scheduler struct {
	selector  *storage.Selector
	rules     policy.Rules
	notifier  engine.Notifier
	telemetry *telemetry.Telemetry
	logger    *telemetry.Logger

	workers   int
	maxActive int

	// passMu serializes passes; work orders may be shared between them.
	passMu sync.Mutex
}

// New creates a scheduler. State transitions are reported to notifier. A nil
// telemetry bundle records nothing.
func New(
	selector *storage.Selector,
	rules policy.Rules,
	notifier engine.Notifier,
	tel *telemetry.Telemetry,
	opts Options,
) *Scheduler {
	if tel == nil {
		tel = telemetry.NopTelemetry()
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	return &Scheduler{
		selector:  selector,
		rules:     rules,
		notifier:  notifier,
		telemetry: tel,
		logger:    tel.Logger.NewComponentLogger("scheduler"),
		workers:   workers,
		maxActive: opts.MaxActive,
	}
}

// RunPass evaluates every work order once. Orders are visited in priority
// order by a bounded worker pool; afterwards the highest priority QUEUED
// orders are promoted to ACTIVE until MaxActive orders are active. A cancelled
// context stops the pass before promotion and is returned with the partial
// report.
func (s *Scheduler) RunPass(ctx context.Context, orders []*engine.WorkOrder) (*PassReport, error) {
	s.passMu.Lock()
	defer s.passMu.Unlock()

	report := &PassReport{
		ID:        uuid.New().String(),
		StartedAt: time.Now(),
		Results:   make([]OrderResult, len(orders)),
	}
	logger := s.logger.WithPass(report.ID)

	ctx, span := s.telemetry.Tracer.StartPassSpan(ctx, report.ID, len(orders))
	defer span.End()

	_ = s.telemetry.Events.PublishPassStarted(report.ID, len(orders))
	logger.Debug().Int("orders", len(orders)).Msg("Scheduling pass started")

	sorted := append([]*engine.WorkOrder(nil), orders...)
	engine.SortByPriority(sorted)
	for i, wo := range sorted {
		report.Results[i] = OrderResult{
			WorkOrder: wo.Index(),
			Outcome:   OutcomeNotRun,
			State:     wo.ExecutionState(),
		}
	}

	s.evaluateParallel(ctx, report.ID, sorted, report.Results)

	if err := ctx.Err(); err != nil {
		report.Duration = time.Since(report.StartedAt)
		s.telemetry.Metrics.RecordPass("cancelled", report.Duration)
		telemetry.RecordError(span, err)
		logger.Warn().Err(err).Msg("Scheduling pass cancelled")
		return report, err
	}

	s.promote(report.ID, sorted, report.Results)

	report.Duration = time.Since(report.StartedAt)
	s.recordPass(sorted, report)
	telemetry.RecordSuccess(span)

	logger.Info().
		Int("orders", len(orders)).
		Interface("outcomes", report.Counts()).
		Dur("duration", report.Duration).
		Msg("Scheduling pass completed")
	return report, nil
}

// evaluateParallel evaluates orders with a bounded worker pool. Each worker
// writes only the result slot of the order it took from the queue.
func (s *Scheduler) evaluateParallel(ctx context.Context, passID string, orders []*engine.WorkOrder, results []OrderResult) {
	workerCount := s.workers
	if len(orders) < workerCount {
		workerCount = len(orders)
	}

	workQueue := make(chan int, len(orders))
	for i := range orders {
		workQueue <- i
	}
	close(workQueue)

	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for idx := range workQueue {
				select {
				case <-ctx.Done():
					return
				default:
				}
				results[idx] = s.evaluate(ctx, passID, orders[idx])
			}
		}()
	}

	wg.Wait()
}

// evaluate services the pending action, then moves a schedulable order to
// WAITING, BLOCKED or QUEUED.
func (s *Scheduler) evaluate(ctx context.Context, passID string, wo *engine.WorkOrder) (res OrderResult) {
	index := wo.Index()
	res.WorkOrder = index

	ctx, span := s.telemetry.Tracer.StartWorkOrderSpan(ctx, index, wo.ExecutionState().String())
	defer func() {
		telemetry.AnnotateOutcome(span, string(res.Outcome), res.State.String())
		span.End()
	}()

	logger := s.logger.WithPass(passID).WithWorkOrder(index)

	action := wo.OrderAction()
	applied, err := wo.ApplyPendingAction(s.notifier)
	res.ActionApplied = applied
	if err != nil {
		res.Err = err
		s.recordError(passID, index, err)
		logger.Warn().Err(err).Str("action", string(action)).Msg("Order action rejected")
	} else if applied {
		telemetry.AddWorkOrderEvent(span, index, engine.EventTypeActionApplied, "order action applied",
			telemetry.AttrOrderAction.String(string(action)))
		_ = s.telemetry.Events.PublishActionApplied(passID, index, action, wo.ExecutionState())
		logger.Info().Str("action", string(action)).Str("state", wo.ExecutionState().String()).Msg("Order action applied")
	}

	state := wo.ExecutionState()
	if !state.IsSchedulable() {
		res.Outcome = OutcomeSkipped
		res.State = state
		return s.finish(res)
	}

	ok, err := s.evaluatePolicy(ctx, passID, wo)
	if err != nil {
		res.Err = err
		res.Outcome = OutcomeInvalidPolicy
		res.State = s.transition(wo, engine.StateBlocked)
		return s.finish(res)
	}
	if !ok {
		res.Outcome = OutcomeWaiting
		res.State = s.transition(wo, engine.StateWaiting)
		return s.finish(res)
	}

	sel, err := s.selectStorage(ctx, passID, wo)
	res.Selection = &sel
	switch {
	case err != nil:
		res.Err = err
		res.Outcome = OutcomeFailed
		res.State = s.transition(wo, engine.StateBlocked)
		s.recordError(passID, index, err)
	case !sel.Found():
		res.Err = sel.Err()
		res.Outcome = OutcomeNoStorage
		res.State = s.transition(wo, engine.StateBlocked)
		s.recordError(passID, index, res.Err)
	default:
		res.Outcome = OutcomeQueued
		if wo.ExecutionState() == engine.StateQueued && sel.Changed() {
			// Rebinding without a state change still has to reach the host.
			telemetry.AddWorkOrderEvent(span, index, engine.EventTypeProgressUpdate, "storage rebound",
				telemetry.AttrStorageID.String(sel.BackendID))
			s.notify(wo)
		}
		res.State = s.transition(wo, engine.StateQueued)
	}
	return s.finish(res)
}

func (s *Scheduler) evaluatePolicy(ctx context.Context, passID string, wo *engine.WorkOrder) (bool, error) {
	_, span := s.telemetry.Tracer.StartPolicySpan(ctx, wo.Index(), wo.PolicyText())
	defer span.End()

	ok, err := wo.EvaluatePolicy(s.rules)
	if err != nil {
		telemetry.RecordError(span, err)
		telemetry.AnnotatePolicy(span, "invalid")
		s.telemetry.Metrics.RecordPolicyEvaluation("invalid")
		_ = s.telemetry.Events.PublishPolicyRejected(passID, wo.Index(), wo.PolicyText(), err)
		s.recordErrorMetric(err)
		s.logger.WithPass(passID).WithWorkOrder(wo.Index()).Warn().
			Err(err).
			Str("policy", wo.PolicyText()).
			Msg("Policy rejected")
		return false, err
	}

	result := "pass"
	if !ok {
		result = "fail"
	}
	telemetry.AnnotatePolicy(span, result)
	s.telemetry.Metrics.RecordPolicyEvaluation(result)
	telemetry.RecordSuccess(span)
	return ok, nil
}

func (s *Scheduler) selectStorage(ctx context.Context, passID string, wo *engine.WorkOrder) (storage.Selection, error) {
	ctx, span := s.telemetry.Tracer.StartSelectionSpan(ctx, wo.Index(), wo.StorageID())
	defer span.End()

	timer := telemetry.NewTimer()
	sel, err := s.selector.Select(ctx, wo)
	s.telemetry.Metrics.RecordSelection(string(sel.Step), sel.Found(), sel.ProgressReset, timer.Duration())
	if err != nil {
		telemetry.RecordError(span, err)
		return sel, err
	}
	if sel.Found() {
		telemetry.AnnotateSelection(span, sel.BackendID, string(sel.Step), sel.ProgressReset)
		_ = s.telemetry.Events.PublishStorageSelected(passID, wo.Index(), sel.BackendID, string(sel.Step), sel.ProgressReset)
	}
	telemetry.RecordSuccess(span)
	return sel, nil
}

// transition moves wo to state through the notifying path. Orders already in
// state are left alone.
func (s *Scheduler) transition(wo *engine.WorkOrder, state engine.ExecutionState) engine.ExecutionState {
	if wo.ExecutionState() != state {
		wo.SetExecutionStateWithNotify(s.notifier, state)
	}
	return state
}

// notify reports a change that left the execution state alone.
func (s *Scheduler) notify(wo *engine.WorkOrder) {
	if s.notifier != nil {
		s.notifier.NotifyProgressUpdate(wo)
	}
}

// promote moves QUEUED orders to ACTIVE in priority order while active slots remain.
func (s *Scheduler) promote(passID string, orders []*engine.WorkOrder, results []OrderResult) {
	active := 0
	for _, wo := range orders {
		if wo.ExecutionState() == engine.StateActive {
			active++
		}
	}

	candidates := make([]int, 0, len(orders))
	for i, wo := range orders {
		if results[i].Outcome == OutcomeQueued && wo.ExecutionState() == engine.StateQueued {
			candidates = append(candidates, i)
		}
	}
	sortByPriority(candidates, orders)

	for _, i := range candidates {
		if s.maxActive > 0 && active >= s.maxActive {
			break
		}
		orders[i].SetExecutionStateWithNotify(s.notifier, engine.StateActive)
		results[i].Outcome = OutcomeActivated
		results[i].State = engine.StateActive
		active++
		s.logger.WithPass(passID).
			WithWorkOrder(orders[i].Index()).
			WithBackend(orders[i].StorageID()).
			Info().Msg("Work order activated")
	}
}

// sortByPriority orders the indices by the current priority of their orders.
func sortByPriority(indices []int, orders []*engine.WorkOrder) {
	byOrder := make(map[*engine.WorkOrder]int, len(indices))
	subset := make([]*engine.WorkOrder, len(indices))
	for n, i := range indices {
		subset[n] = orders[i]
		byOrder[orders[i]] = i
	}
	engine.SortByPriority(subset)
	for n, wo := range subset {
		indices[n] = byOrder[wo]
	}
}

func (s *Scheduler) finish(res OrderResult) OrderResult {
	s.telemetry.Metrics.RecordOutcome(string(res.Outcome))
	return res
}

func (s *Scheduler) recordError(passID string, index int64, err error) {
	s.recordErrorMetric(err)
	_ = s.telemetry.Events.PublishError(passID, index, err)
}

func (s *Scheduler) recordErrorMetric(err error) {
	kind := engine.KindOf(err)
	s.telemetry.Metrics.RecordError(string(kind), strconv.Itoa(kind.Code()))
}

func (s *Scheduler) recordPass(orders []*engine.WorkOrder, report *PassReport) {
	byState := make(map[string]int)
	active := 0
	for _, wo := range orders {
		state := wo.ExecutionState()
		byState[state.String()]++
		if state == engine.StateActive {
			active++
		}
	}

	s.telemetry.Metrics.RecordPass("success", report.Duration)
	s.telemetry.Metrics.SetOrdersByState(byState)
	s.telemetry.Metrics.SetActiveOrders(float64(active))
	_ = s.telemetry.Events.PublishPassCompleted(report.ID, report.Counts(), report.Duration)
}
