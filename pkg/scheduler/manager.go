package scheduler

import (
	"context"
	"time"

	"github.com/openfroyo/workorders/pkg/engine"
	"github.com/openfroyo/workorders/pkg/storage"
	"github.com/openfroyo/workorders/pkg/stores"
	"github.com/openfroyo/workorders/pkg/telemetry"
)

// persistTimeout bounds the store writes made from a notification.
const persistTimeout = 5 * time.Second

// Manager is the scheduler host. It owns the storage backend registry and
// receives progress notifications from work orders: every notification is
// published as a telemetry event and, when a store is configured, the work
// order is written back and a notification row appended.
type Manager struct {
	registry  *storage.Registry
	store     stores.Store
	telemetry *telemetry.Telemetry
	logger    *telemetry.Logger
}

// NewManager creates a manager. store may be nil for an in-memory host.
func NewManager(registry *storage.Registry, store stores.Store, tel *telemetry.Telemetry) *Manager {
	if registry == nil {
		registry = storage.NewRegistry()
	}
	if tel == nil {
		tel = telemetry.NopTelemetry()
	}
	return &Manager{
		registry:  registry,
		store:     store,
		telemetry: tel,
		logger:    tel.Logger.NewComponentLogger("manager"),
	}
}

// Registry returns the storage backend registry.
func (m *Manager) Registry() *storage.Registry {
	return m.registry
}

// Store returns the configured store, nil when running in memory.
func (m *Manager) Store() stores.Store {
	return m.store
}

// NotifyProgressUpdate implements engine.Notifier. Failures are logged; a
// notification is never refused.
func (m *Manager) NotifyProgressUpdate(wo *engine.WorkOrder) {
	state := wo.ExecutionState()
	logger := m.logger.WithWorkOrder(wo.Index())
	m.telemetry.Metrics.RecordNotification(state.String())
	if err := m.telemetry.Events.PublishProgressUpdate(wo); err != nil {
		logger.Debug().Err(err).Msg("Progress event dropped")
	}

	if m.store == nil || wo.Index() <= 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := m.store.UpdateWorkOrder(ctx, wo); err != nil {
		logger.Error().Err(err).Msg("Failed to persist work order")
		return
	}
	if err := m.store.AppendNotification(ctx, stores.NotificationFromWorkOrder(wo)); err != nil {
		logger.Error().Err(err).Msg("Failed to record notification")
	}
}

// Submit persists a new work order and returns its db index. New orders
// start PENDING.
func (m *Manager) Submit(ctx context.Context, wo *engine.WorkOrder) (int64, error) {
	if m.store == nil {
		return 0, engine.NewError(engine.KindGeneral, "no store configured", nil).WithOperation("submit")
	}
	if wo.ExecutionState() == engine.StateUndefined {
		wo.SetExecutionState(engine.StatePending)
	}
	if err := m.store.CreateWorkOrder(ctx, wo); err != nil {
		return 0, err
	}
	m.logger.WithWorkOrder(wo.Index()).Info().
		Str("uid", wo.UID()).
		Int("packages", wo.PackageCount()).
		Msg("Work order submitted")
	m.NotifyProgressUpdate(wo)
	return wo.Index(), nil
}

// RequestAction records a caller action on a persisted work order. The
// action is serviced by the next pass.
func (m *Manager) RequestAction(ctx context.Context, index int64, action engine.OrderAction) (*engine.WorkOrder, error) {
	if m.store == nil {
		return nil, engine.NewError(engine.KindGeneral, "no store configured", nil).WithOperation(string(action))
	}
	wo, err := m.store.GetWorkOrder(ctx, index)
	if err != nil {
		return nil, err
	}
	if err := wo.RequestAction(m, action); err != nil {
		return wo, err
	}
	return wo, nil
}

// Orders returns the persisted work orders that a pass should consider:
// everything except completed orders.
func (m *Manager) Orders(ctx context.Context) ([]*engine.WorkOrder, error) {
	if m.store == nil {
		return nil, nil
	}
	all, err := m.store.ListWorkOrders(ctx, stores.WorkOrderFilter{})
	if err != nil {
		return nil, err
	}
	orders := all[:0]
	for _, wo := range all {
		if !wo.ExecutionState().IsTerminal() {
			orders = append(orders, wo)
		}
	}
	return orders, nil
}
