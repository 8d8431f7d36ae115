package scheduler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/workorders/pkg/engine"
	"github.com/openfroyo/workorders/pkg/policy"
	"github.com/openfroyo/workorders/pkg/storage"
	"github.com/openfroyo/workorders/pkg/stores"
	"github.com/openfroyo/workorders/pkg/telemetry"
)

func newStore(t *testing.T) *stores.SQLiteStore {
	t.Helper()
	store, err := stores.NewSQLiteStore(stores.Config{Path: ":memory:"}, quiet)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Init(ctx))
	require.NoError(t, store.Migrate(ctx))
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func submitted(path string) *engine.WorkOrder {
	wo := engine.NewWorkOrder(engine.Package{
		ContentSize: 100,
		SourceURI:   "https://cdn.example.com" + path,
		LocalPath:   path,
	})
	wo.SetLogger(quiet)
	return wo
}

func TestManager_SubmitPersistsAndNotifies(t *testing.T) {
	store := newStore(t)
	m := NewManager(nil, store, nil)
	ctx := context.Background()

	id, err := m.Submit(ctx, submitted("/a"))
	require.NoError(t, err)
	assert.Positive(t, id)

	got, err := store.GetWorkOrder(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, engine.StatePending, got.ExecutionState())

	notes, err := store.ListNotifications(ctx, &id, 10, 0)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, id, notes[0].WorkOrderID)
}

func TestManager_WithoutStore(t *testing.T) {
	m := NewManager(nil, nil, nil)
	ctx := context.Background()

	_, err := m.Submit(ctx, submitted("/a"))
	assert.Error(t, err)

	_, err = m.RequestAction(ctx, 1, engine.ActionCancel)
	assert.Error(t, err)

	orders, err := m.Orders(ctx)
	require.NoError(t, err)
	assert.Empty(t, orders)

	// Notifications are still accepted.
	m.NotifyProgressUpdate(submitted("/b"))
	assert.Equal(t, 0, m.Registry().Len())
}

func TestManager_RequestActionNotFound(t *testing.T) {
	m := NewManager(nil, newStore(t), nil)

	_, err := m.RequestAction(context.Background(), 42, engine.ActionSuspend)
	assert.True(t, engine.IsKind(err, engine.KindNotFound))
}

func TestManager_PassPersistsTransitions(t *testing.T) {
	store := newStore(t)
	registry := newRegistry(t, 1000)
	m := NewManager(registry, store, telemetry.NopTelemetry())
	ctx := context.Background()

	keep, err := m.Submit(ctx, submitted("/keep"))
	require.NoError(t, err)
	drop, err := m.Submit(ctx, submitted("/drop"))
	require.NoError(t, err)

	_, err = m.RequestAction(ctx, drop, engine.ActionCancel)
	require.NoError(t, err)

	// A second, conflicting action is refused while cancel is pending.
	_, err = m.RequestAction(ctx, drop, engine.ActionSuspend)
	assert.True(t, engine.IsKind(err, engine.KindPendingOperation))

	selector := storage.NewSelector(m.Registry(), quiet)
	s := New(selector, policy.NewRuleMap(), m, nil, Options{MaxActive: 1})

	orders, err := m.Orders(ctx)
	require.NoError(t, err)
	require.Len(t, orders, 2)

	_, err = s.RunPass(ctx, orders)
	require.NoError(t, err)

	got, err := store.GetWorkOrder(ctx, keep)
	require.NoError(t, err)
	assert.Equal(t, engine.StateActive, got.ExecutionState())
	assert.Equal(t, "a", got.StorageID())

	got, err = store.GetWorkOrder(ctx, drop)
	require.NoError(t, err)
	assert.Equal(t, engine.StateCompleted, got.ExecutionState())

	counts, err := store.CountWorkOrdersByState(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[engine.StateActive])
	assert.Equal(t, 1, counts[engine.StateCompleted])

	// Completed orders are no longer offered to passes.
	orders, err = m.Orders(ctx)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, keep, orders[0].Index())

	notes, err := store.ListNotifications(ctx, &keep, 10, 0)
	require.NoError(t, err)
	assert.Len(t, notes, 3)
}

func TestManager_PassPersistsStorageRebinding(t *testing.T) {
	store := newStore(t)
	registry := newRegistry(t, 1000, 1000)
	m := NewManager(registry, store, telemetry.NopTelemetry())
	ctx := context.Background()

	first := submitted("/first")
	require.NoError(t, first.SetRelativePriority(90))
	_, err := m.Submit(ctx, first)
	require.NoError(t, err)
	low, err := m.Submit(ctx, submitted("/low"))
	require.NoError(t, err)

	selector := storage.NewSelector(m.Registry(), quiet)
	s := New(selector, policy.NewRuleMap(), m, nil, Options{MaxActive: 1})

	orders, err := m.Orders(ctx)
	require.NoError(t, err)
	_, err = s.RunPass(ctx, orders)
	require.NoError(t, err)

	stored, err := store.GetWorkOrder(ctx, low)
	require.NoError(t, err)
	require.Equal(t, engine.StateQueued, stored.ExecutionState())
	require.Equal(t, "b", stored.StorageID())

	// Partial progress on b, then b goes away.
	require.NoError(t, stored.SetPackagesIndex(0))
	require.NoError(t, stored.SetPackageProgress(0, 40))
	require.NoError(t, store.UpdateWorkOrder(ctx, stored))
	require.NoError(t, registry.Remove("b"))

	orders, err = m.Orders(ctx)
	require.NoError(t, err)
	report, err := s.RunPass(ctx, orders)
	require.NoError(t, err)

	var sel *storage.Selection
	for _, r := range report.Results {
		if r.WorkOrder == low {
			sel = r.Selection
			assert.Equal(t, OutcomeQueued, r.Outcome)
		}
	}
	require.NotNil(t, sel)
	assert.Equal(t, "a", sel.BackendID)
	assert.True(t, sel.ProgressReset)

	got, err := store.GetWorkOrder(ctx, low)
	require.NoError(t, err)
	assert.Equal(t, engine.StateQueued, got.ExecutionState())
	assert.Equal(t, "a", got.StorageID())
	assert.Equal(t, int64(0), got.DownloadedBytes())
}
