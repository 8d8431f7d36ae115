package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rs/zerolog"

	"github.com/openfroyo/workorders/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	cfg    Config
	logger zerolog.Logger
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config, logger zerolog.Logger) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	// Every connection to :memory: opens its own database.
	if cfg.Path == ":memory:" {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{
		cfg:    cfg,
		logger: logger.With().Str("component", "sqlite-store").Logger(),
	}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := s.cfg.Path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	if s.cfg.Path != ":memory:" {
		dsn += "&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Ensure foreign keys are enabled (connection-level setting)
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// BeginTx starts a new transaction
func (s *SQLiteStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
}

// CommitTx commits a transaction
func (s *SQLiteStore) CommitTx(tx *sql.Tx) error {
	return tx.Commit()
}

// RollbackTx rolls back a transaction
func (s *SQLiteStore) RollbackTx(tx *sql.Tx) error {
	return tx.Rollback()
}

// workOrderRow holds the indexed columns derived from a work order.
type workOrderRow struct {
	state            string
	action           string
	uid              string
	storageID        string
	urgent           bool
	mandatory        bool
	relativePriority int
	priorityTime     int64
	document         []byte
	createdAt        time.Time
	updatedAt        time.Time
}

func rowOf(wo *engine.WorkOrder) (workOrderRow, error) {
	doc, err := json.Marshal(wo.Document())
	if err != nil {
		return workOrderRow{}, fmt.Errorf("failed to encode work order: %w", err)
	}
	return workOrderRow{
		state:            string(wo.ExecutionState()),
		action:           string(wo.OrderAction()),
		uid:              wo.UID(),
		storageID:        wo.StorageID(),
		urgent:           wo.Urgent(),
		mandatory:        wo.Mandatory(),
		relativePriority: wo.RelativePriority(),
		priorityTime:     wo.PriorityTime().UnixNano(),
		document:         doc,
		createdAt:        wo.Created(),
		updatedAt:        time.Now().UTC(),
	}, nil
}

// CreateWorkOrder inserts wo and assigns its database index.
func (s *SQLiteStore) CreateWorkOrder(ctx context.Context, wo *engine.WorkOrder) error {
	if err := wo.Validate(); err != nil {
		return err
	}

	tx, err := s.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row, err := rowOf(wo)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO work_orders (
			execution_state, order_action, uid, storage_id, urgent, mandatory,
			relative_priority, priority_time, document, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := tx.ExecContext(ctx, query,
		row.state,
		row.action,
		row.uid,
		row.storageID,
		row.urgent,
		row.mandatory,
		row.relativePriority,
		row.priorityTime,
		row.document,
		row.createdAt,
		row.updatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create work order: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get work order ID: %w", err)
	}

	// The document carries the index, so it is written again once known.
	previous := wo.Index()
	wo.SetIndex(id)
	doc, err := json.Marshal(wo.Document())
	if err != nil {
		wo.SetIndex(previous)
		return fmt.Errorf("failed to encode work order: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE work_orders SET document = ? WHERE id = ?`, doc, id); err != nil {
		wo.SetIndex(previous)
		return fmt.Errorf("failed to store work order document: %w", err)
	}

	if err := tx.Commit(); err != nil {
		wo.SetIndex(previous)
		return fmt.Errorf("failed to commit work order: %w", err)
	}
	return nil
}

// GetWorkOrder retrieves a work order by database index
func (s *SQLiteStore) GetWorkOrder(ctx context.Context, id int64) (*engine.WorkOrder, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx, `SELECT document FROM work_orders WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id, "get_work_order")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get work order: %w", err)
	}
	return s.decode(id, doc)
}

func (s *SQLiteStore) decode(id int64, doc []byte) (*engine.WorkOrder, error) {
	wo, err := engine.DecodeWorkOrder(doc, s.logger)
	if err != nil {
		var werr *engine.Error
		if errors.As(err, &werr) {
			return nil, werr.WithWorkOrder(id)
		}
		return nil, err
	}
	wo.SetIndex(id)
	return wo, nil
}

// UpdateWorkOrder stores the current document and indexed columns of wo.
func (s *SQLiteStore) UpdateWorkOrder(ctx context.Context, wo *engine.WorkOrder) error {
	id := wo.Index()
	if id < 0 {
		return engine.NewError(engine.KindInvalidArgument, "work order has not been persisted", nil).
			WithOperation("update_work_order")
	}

	row, err := rowOf(wo)
	if err != nil {
		return err
	}

	query := `
		UPDATE work_orders
		SET execution_state = ?, order_action = ?, uid = ?, storage_id = ?, urgent = ?, mandatory = ?,
			relative_priority = ?, priority_time = ?, document = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := s.db.ExecContext(ctx, query,
		row.state,
		row.action,
		row.uid,
		row.storageID,
		row.urgent,
		row.mandatory,
		row.relativePriority,
		row.priorityTime,
		row.document,
		row.updatedAt,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to update work order: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return notFound(id, "update_work_order")
	}
	return nil
}

// ListWorkOrders lists work orders in scheduling order: urgent first, then
// mandatory, higher relative priority and earlier priority time.
func (s *SQLiteStore) ListWorkOrders(ctx context.Context, filter WorkOrderFilter) ([]*engine.WorkOrder, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.State != engine.StateUndefined {
		where = append(where, "execution_state = ?")
		args = append(args, string(filter.State))
	}
	if filter.UID != "" {
		where = append(where, "uid = ?")
		args = append(args, filter.UID)
	}
	if filter.StorageID != "" {
		where = append(where, "storage_id = ?")
		args = append(args, filter.StorageID)
	}

	query := `SELECT id, document FROM work_orders`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY urgent DESC, mandatory DESC, relative_priority DESC, priority_time ASC, id ASC"

	limit := filter.Limit
	if limit <= 0 {
		limit = -1
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list work orders: %w", err)
	}
	defer rows.Close()

	orders := []*engine.WorkOrder{}
	for rows.Next() {
		var (
			id  int64
			doc []byte
		)
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, fmt.Errorf("failed to scan work order: %w", err)
		}
		wo, err := s.decode(id, doc)
		if err != nil {
			s.logger.Warn().Err(err).Int64("work_order", id).Msg("Skipping undecodable work order")
			continue
		}
		orders = append(orders, wo)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating work orders: %w", err)
	}

	return orders, nil
}

// DeleteWorkOrder deletes a work order and its notifications
func (s *SQLiteStore) DeleteWorkOrder(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM work_orders WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete work order: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return notFound(id, "delete_work_order")
	}

	return nil
}

// CountWorkOrdersByState returns the number of work orders per execution state.
func (s *SQLiteStore) CountWorkOrdersByState(ctx context.Context) (map[engine.ExecutionState]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT execution_state, COUNT(*) FROM work_orders GROUP BY execution_state`)
	if err != nil {
		return nil, fmt.Errorf("failed to count work orders: %w", err)
	}
	defer rows.Close()

	counts := make(map[engine.ExecutionState]int)
	for rows.Next() {
		var (
			state string
			count int
		)
		if err := rows.Scan(&state, &count); err != nil {
			return nil, fmt.Errorf("failed to scan work order count: %w", err)
		}
		counts[engine.ExecutionState(state)] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating work order counts: %w", err)
	}

	return counts, nil
}

// AppendNotification appends a progress notification to the log
func (s *SQLiteStore) AppendNotification(ctx context.Context, n *Notification) error {
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now().UTC()
	}

	query := `
		INSERT INTO notifications (work_order_id, execution_state, order_action, storage_id, progress, summary, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		n.WorkOrderID,
		string(n.ExecutionState),
		string(n.OrderAction),
		n.StorageID,
		n.Progress,
		n.Summary,
		n.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append notification: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get notification ID: %w", err)
	}

	n.ID = id
	return nil
}

// ListNotifications retrieves notifications, newest first, optionally for one work order
func (s *SQLiteStore) ListNotifications(ctx context.Context, workOrderID *int64, limit, offset int) ([]*Notification, error) {
	if limit <= 0 {
		limit = -1
	}

	query := `
		SELECT id, work_order_id, execution_state, order_action, storage_id, progress, summary, timestamp
		FROM notifications
		WHERE (? IS NULL OR work_order_id = ?)
		ORDER BY timestamp DESC, id DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, workOrderID, workOrderID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	notifications := []*Notification{}
	for rows.Next() {
		var (
			n      Notification
			state  string
			action string
		)
		err := rows.Scan(
			&n.ID,
			&n.WorkOrderID,
			&state,
			&action,
			&n.StorageID,
			&n.Progress,
			&n.Summary,
			&n.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		n.ExecutionState = engine.ExecutionState(state)
		n.OrderAction = engine.OrderAction(action)
		notifications = append(notifications, &n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notifications: %w", err)
	}

	return notifications, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

func notFound(id int64, operation string) error {
	return engine.NewError(engine.KindNotFound, fmt.Sprintf("work order not found: %d", id), nil).
		WithWorkOrder(id).
		WithOperation(operation)
}
