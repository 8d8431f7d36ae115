package stores

import (
	"context"
	"database/sql"
	"time"

	"github.com/openfroyo/workorders/pkg/engine"
)

// WorkOrderFilter narrows ListWorkOrders. Zero values do not filter.
type WorkOrderFilter struct {
	// State restricts results to one execution state.
	State engine.ExecutionState

	// UID restricts results to one client identity.
	UID string

	// StorageID restricts results to one storage backend.
	StorageID string

	// Limit caps the number of results, 0 for no limit.
	Limit int

	// Offset skips the first results.
	Offset int
}

// Notification is one persisted progress update of a work order
type Notification struct {
	ID             int64                 `json:"id"`
	WorkOrderID    int64                 `json:"work_order_id"`
	ExecutionState engine.ExecutionState `json:"execution_state"`
	OrderAction    engine.OrderAction    `json:"order_action"`
	StorageID      string                `json:"storage_id,omitempty"`
	Progress       int                   `json:"progress"`
	Summary        string                `json:"summary"`
	Timestamp      time.Time             `json:"timestamp"`
}

// NotificationFromWorkOrder snapshots wo as a notification.
func NotificationFromWorkOrder(wo *engine.WorkOrder) *Notification {
	return &Notification{
		WorkOrderID:    wo.Index(),
		ExecutionState: wo.ExecutionState(),
		OrderAction:    wo.OrderAction(),
		StorageID:      wo.StorageID(),
		Progress:       wo.ProgressPercent(),
		Summary:        wo.SummaryStatus(),
		Timestamp:      time.Now().UTC(),
	}
}

// Store defines the interface for the persistence layer
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Transaction support
	BeginTx(ctx context.Context) (*sql.Tx, error)
	CommitTx(tx *sql.Tx) error
	RollbackTx(tx *sql.Tx) error

	// Work order operations
	CreateWorkOrder(ctx context.Context, wo *engine.WorkOrder) error
	GetWorkOrder(ctx context.Context, id int64) (*engine.WorkOrder, error)
	UpdateWorkOrder(ctx context.Context, wo *engine.WorkOrder) error
	ListWorkOrders(ctx context.Context, filter WorkOrderFilter) ([]*engine.WorkOrder, error)
	DeleteWorkOrder(ctx context.Context, id int64) error
	CountWorkOrdersByState(ctx context.Context) (map[engine.ExecutionState]int, error)

	// Notification operations
	AppendNotification(ctx context.Context, n *Notification) error
	ListNotifications(ctx context.Context, workOrderID *int64, limit, offset int) ([]*Notification, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
