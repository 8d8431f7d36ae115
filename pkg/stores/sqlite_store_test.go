package stores

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/workorders/pkg/engine"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	return store
}

func newTestOrder(path string, size int64) *engine.WorkOrder {
	return engine.NewWorkOrder(engine.Package{
		ContentSize: size,
		SourceURI:   "https://cdn.example.com" + path,
		LocalPath:   path,
		MimeType:    "application/octet-stream",
	})
}

// TestStoreLifecycle tests database initialization and closure
func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

func TestNewSQLiteStoreRequiresPath(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}, zerolog.Nop()); err == nil {
		t.Fatal("expected error for empty path")
	}
}

// TestStoreMigrations tests database migrations
func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()

	for _, table := range []string{"work_orders", "notifications"} {
		var count int
		err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count)
		if err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}

	// Running migrations twice is a no-op
	if err := store.Migrate(ctx); err != nil {
		t.Errorf("second migration failed: %v", err)
	}
}

func TestStoreOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orders.db")

	store, err := NewSQLiteStore(Config{Path: path}, zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	wo := newTestOrder("/disk.bin", 10)
	if err := store.CreateWorkOrder(ctx, wo); err != nil {
		t.Fatalf("failed to create work order: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("database file missing: %v", err)
	}

	reopened, _ := NewSQLiteStore(Config{Path: path}, zerolog.Nop())
	if err := reopened.Init(ctx); err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.GetWorkOrder(ctx, wo.Index())
	if err != nil {
		t.Fatalf("failed to get work order: %v", err)
	}
	if got.Packages()[0].LocalPath != "/disk.bin" {
		t.Errorf("unexpected package path %q", got.Packages()[0].LocalPath)
	}
}

// TestWorkOrderCRUD tests work order CRUD operations
func TestWorkOrderCRUD(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()

	wo := newTestOrder("/maps/region-1.pkg", 4096)
	wo.SetUID("app.maps")
	wo.SetUrgent(true)
	_ = wo.SetRelativePriority(70)
	wo.SetPolicyText("wifi and not (roaming)")
	wo.SetLabel("function_group", "maps")

	if wo.Index() >= 0 {
		t.Fatalf("expected unpersisted index, got %d", wo.Index())
	}

	// Create
	if err := store.CreateWorkOrder(ctx, wo); err != nil {
		t.Fatalf("failed to create work order: %v", err)
	}
	if wo.Index() <= 0 {
		t.Fatalf("expected assigned index, got %d", wo.Index())
	}

	// Get
	got, err := store.GetWorkOrder(ctx, wo.Index())
	if err != nil {
		t.Fatalf("failed to get work order: %v", err)
	}
	if got.Index() != wo.Index() {
		t.Errorf("expected index %d, got %d", wo.Index(), got.Index())
	}
	if got.UID() != "app.maps" {
		t.Errorf("expected uid app.maps, got %s", got.UID())
	}
	if !got.Urgent() || got.RelativePriority() != 70 {
		t.Errorf("scheduling attributes not restored: urgent=%t priority=%d", got.Urgent(), got.RelativePriority())
	}
	if got.PolicyText() != "wifi and not (roaming)" {
		t.Errorf("unexpected policy %q", got.PolicyText())
	}
	if v, _ := got.Label("function_group"); v != "maps" {
		t.Errorf("expected label maps, got %q", v)
	}

	// Update
	wo.SetExecutionState(engine.StateQueued)
	wo.SetStorageID("internal")
	if err := store.UpdateWorkOrder(ctx, wo); err != nil {
		t.Fatalf("failed to update work order: %v", err)
	}

	got, err = store.GetWorkOrder(ctx, wo.Index())
	if err != nil {
		t.Fatalf("failed to get updated work order: %v", err)
	}
	if got.ExecutionState() != engine.StateQueued {
		t.Errorf("expected state queued, got %s", got.ExecutionState())
	}
	if got.StorageID() != "internal" {
		t.Errorf("expected storage internal, got %s", got.StorageID())
	}

	// Delete
	if err := store.DeleteWorkOrder(ctx, wo.Index()); err != nil {
		t.Fatalf("failed to delete work order: %v", err)
	}

	_, err = store.GetWorkOrder(ctx, wo.Index())
	if !engine.IsKind(err, engine.KindNotFound) {
		t.Errorf("expected not found after delete, got %v", err)
	}
}

func TestWorkOrderNotFound(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()

	if _, err := store.GetWorkOrder(ctx, 42); !engine.IsKind(err, engine.KindNotFound) {
		t.Errorf("get: expected not found, got %v", err)
	}
	if err := store.DeleteWorkOrder(ctx, 42); !engine.IsKind(err, engine.KindNotFound) {
		t.Errorf("delete: expected not found, got %v", err)
	}

	ghost := newTestOrder("/ghost", 1)
	ghost.SetIndex(42)
	if err := store.UpdateWorkOrder(ctx, ghost); !engine.IsKind(err, engine.KindNotFound) {
		t.Errorf("update: expected not found, got %v", err)
	}

	unsaved := newTestOrder("/unsaved", 1)
	if err := store.UpdateWorkOrder(ctx, unsaved); !engine.IsKind(err, engine.KindInvalidArgument) {
		t.Errorf("update unsaved: expected invalid argument, got %v", err)
	}
}

func TestListWorkOrdersPriorityOrder(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	low := newTestOrder("/low", 1)
	_ = low.SetRelativePriority(10)
	low.SetPriorityTime(base)

	high := newTestOrder("/high", 1)
	_ = high.SetRelativePriority(90)
	high.SetPriorityTime(base.Add(time.Hour))

	urgent := newTestOrder("/urgent", 1)
	urgent.SetUrgent(true)
	urgent.SetPriorityTime(base.Add(2 * time.Hour))

	earlyTie := newTestOrder("/early", 1)
	_ = earlyTie.SetRelativePriority(10)
	earlyTie.SetPriorityTime(base.Add(-time.Hour))

	for _, wo := range []*engine.WorkOrder{low, high, urgent, earlyTie} {
		if err := store.CreateWorkOrder(ctx, wo); err != nil {
			t.Fatalf("failed to create work order: %v", err)
		}
	}

	orders, err := store.ListWorkOrders(ctx, WorkOrderFilter{})
	if err != nil {
		t.Fatalf("failed to list work orders: %v", err)
	}

	want := []string{"/urgent", "/high", "/early", "/low"}
	if len(orders) != len(want) {
		t.Fatalf("expected %d orders, got %d", len(want), len(orders))
	}
	for i, path := range want {
		if got := orders[i].Packages()[0].LocalPath; got != path {
			t.Errorf("position %d: expected %s, got %s", i, path, got)
		}
	}

	page, err := store.ListWorkOrders(ctx, WorkOrderFilter{Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("failed to page work orders: %v", err)
	}
	if len(page) != 2 || page[0].Packages()[0].LocalPath != "/high" {
		t.Errorf("unexpected page: %d orders", len(page))
	}
}

func TestListWorkOrdersFilter(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()

	a := newTestOrder("/a", 1)
	a.SetUID("app.a")
	b := newTestOrder("/b", 1)
	b.SetUID("app.b")
	b.SetExecutionState(engine.StateBlocked)

	for _, wo := range []*engine.WorkOrder{a, b} {
		if err := store.CreateWorkOrder(ctx, wo); err != nil {
			t.Fatalf("failed to create work order: %v", err)
		}
	}

	tests := []struct {
		name   string
		filter WorkOrderFilter
		want   int
	}{
		{"all", WorkOrderFilter{}, 2},
		{"by state", WorkOrderFilter{State: engine.StateBlocked}, 1},
		{"by uid", WorkOrderFilter{UID: "app.a"}, 1},
		{"no match", WorkOrderFilter{UID: "app.c"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orders, err := store.ListWorkOrders(ctx, tt.filter)
			if err != nil {
				t.Fatalf("failed to list: %v", err)
			}
			if len(orders) != tt.want {
				t.Errorf("expected %d orders, got %d", tt.want, len(orders))
			}
		})
	}

	counts, err := store.CountWorkOrdersByState(ctx)
	if err != nil {
		t.Fatalf("failed to count: %v", err)
	}
	if counts[engine.StatePending] != 1 || counts[engine.StateBlocked] != 1 {
		t.Errorf("unexpected counts: %v", counts)
	}
}

func TestCreateWorkOrderRejectsInvalid(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	wo := newTestOrder("/bad", -5)
	err := store.CreateWorkOrder(context.Background(), wo)
	if !engine.IsKind(err, engine.KindInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	if wo.Index() >= 0 {
		t.Errorf("index should stay unassigned, got %d", wo.Index())
	}
}

// TestNotifications tests the append-only notification log
func TestNotifications(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()

	wo := newTestOrder("/n", 100)
	if err := store.CreateWorkOrder(ctx, wo); err != nil {
		t.Fatalf("failed to create work order: %v", err)
	}
	other := newTestOrder("/other", 100)
	if err := store.CreateWorkOrder(ctx, other); err != nil {
		t.Fatalf("failed to create work order: %v", err)
	}

	base := time.Now().UTC()
	for i, state := range []engine.ExecutionState{engine.StateQueued, engine.StateActive} {
		wo.SetExecutionState(state)
		n := NotificationFromWorkOrder(wo)
		n.Timestamp = base.Add(time.Duration(i) * time.Second)
		if err := store.AppendNotification(ctx, n); err != nil {
			t.Fatalf("failed to append notification: %v", err)
		}
		if n.ID == 0 {
			t.Error("expected notification ID to be set")
		}
	}
	if err := store.AppendNotification(ctx, NotificationFromWorkOrder(other)); err != nil {
		t.Fatalf("failed to append notification: %v", err)
	}

	id := wo.Index()
	list, err := store.ListNotifications(ctx, &id, 10, 0)
	if err != nil {
		t.Fatalf("failed to list notifications: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(list))
	}
	if list[0].ExecutionState != engine.StateActive {
		t.Errorf("expected newest first, got %s", list[0].ExecutionState)
	}

	all, err := store.ListNotifications(ctx, nil, 0, 0)
	if err != nil {
		t.Fatalf("failed to list all notifications: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 notifications, got %d", len(all))
	}

	// Notifications cascade with their work order
	if err := store.DeleteWorkOrder(ctx, id); err != nil {
		t.Fatalf("failed to delete work order: %v", err)
	}
	list, err = store.ListNotifications(ctx, &id, 10, 0)
	if err != nil {
		t.Fatalf("failed to list notifications: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("expected notifications to cascade, got %d", len(list))
	}
}

func TestTransactions(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()

	tx, err := store.BeginTx(ctx)
	if err != nil {
		t.Fatalf("failed to begin transaction: %v", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO work_orders (document, created_at, updated_at) VALUES (?, ?, ?)`,
		[]byte(`{}`), time.Now(), time.Now()); err != nil {
		t.Fatalf("failed to insert: %v", err)
	}
	if err := store.RollbackTx(tx); err != nil {
		t.Fatalf("failed to rollback: %v", err)
	}

	counts, err := store.CountWorkOrdersByState(ctx)
	if err != nil {
		t.Fatalf("failed to count: %v", err)
	}
	if len(counts) != 0 {
		t.Errorf("expected rollback to discard insert, got %v", counts)
	}
}
