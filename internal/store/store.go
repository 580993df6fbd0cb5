// Package store provides the SQLite persistence layer for the workshop
// reconciliation engine.
//
// The database runs embedded with WAL mode for concurrent access. The
// schema carries the engine's one hard cross-call invariant as a partial
// unique index: at most one active (not-completed) task may exist per
// (inspection, signature). Racing reconcile calls that both try to create
// a task for the same defect hit the index; the loser receives
// ErrDuplicateActive and retries as an update against the row that won.
//
// Tables:
//   - vehicles, inspections, inspection_items: references owned by the
//     surrounding system, mirrored here for lookups and back-references
//   - tasks: remediation work items
//   - task_transitions: append-only status history
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/fleetworks/fleetworks/internal/inspection"
	"github.com/fleetworks/fleetworks/internal/task"
)

// Store wraps the SQLite database connection.
type Store struct {
	conn *sql.DB
	path string
}

// Vehicle is a fleet vehicle reference. The engine only needs its
// identity; descriptive fields exist for operator-facing listings.
type Vehicle struct {
	ID        string
	Label     string
	CreatedAt time.Time
}

// Inspection is one vehicle inspection submission, owned by the
// inspection workflow. The engine reads its id and vehicle reference.
type Inspection struct {
	ID          string
	VehicleID   string
	Inspector   string
	Status      string
	SubmittedAt time.Time
}

// Open creates a database connection at the specified path.
//
// The database is opened in embedded mode with WAL for concurrent reads.
// If it doesn't exist it is created; call InitSchema to create tables.
// The caller MUST call Close() when done.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{conn: conn, path: path}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := s.conn.Exec(pragma); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to apply %s: %w", pragma, err)
		}
	}

	return s, nil
}

// RawDB returns the underlying sql.DB connection.
func (s *Store) RawDB() *sql.DB {
	return s.conn
}

// Close closes the database connection after checkpointing the WAL.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	s.conn = nil
	return nil
}

// InitSchema creates the database schema if it doesn't exist.
// Idempotent - safe to call multiple times.
func (s *Store) InitSchema() error {
	return s.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the database schema with context support.
func (s *Store) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS vehicles (
		id TEXT PRIMARY KEY,
		label TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS inspections (
		id TEXT PRIMARY KEY,
		vehicle_id TEXT NOT NULL,
		inspector TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'submitted',
		submitted_at TEXT NOT NULL,
		FOREIGN KEY (vehicle_id) REFERENCES vehicles(id)
	);

	CREATE TABLE IF NOT EXISTS inspection_items (
		id TEXT PRIMARY KEY,
		inspection_id TEXT NOT NULL,
		item_number INTEGER NOT NULL,
		description TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'ok',
		comment TEXT NOT NULL DEFAULT '',
		day INTEGER NOT NULL DEFAULT 1,
		FOREIGN KEY (inspection_id) REFERENCES inspections(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		vehicle_id TEXT NOT NULL,
		inspection_id TEXT,
		primary_item_id TEXT,
		signature TEXT NOT NULL DEFAULT '',
		item_number INTEGER NOT NULL DEFAULT 0,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		comment TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		created_by TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		completed_at TEXT,

		FOREIGN KEY (vehicle_id) REFERENCES vehicles(id)
	);

	CREATE TABLE IF NOT EXISTS task_transitions (
		id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL,
		kind TEXT NOT NULL DEFAULT 'status',
		status TEXT NOT NULL,
		from_status TEXT NOT NULL DEFAULT '',
		to_status TEXT NOT NULL DEFAULT '',
		actor TEXT NOT NULL DEFAULT '',
		note TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		FOREIGN KEY (task_id) REFERENCES tasks(id) ON DELETE CASCADE
	);

	-- Invariant: one active task per (inspection, signature). Completed
	-- tasks fall out of the index, so recurring defects can accumulate
	-- history. NULL inspection_id rows (manual tasks) never collide.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_tasks_active_signature
	    ON tasks(inspection_id, signature) WHERE completed_at IS NULL;

	CREATE INDEX IF NOT EXISTS idx_tasks_vehicle ON tasks(vehicle_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
	CREATE INDEX IF NOT EXISTS idx_tasks_inspection ON tasks(inspection_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_type ON tasks(type);

	-- Composite index for lock resolution queries
	CREATE INDEX IF NOT EXISTS idx_tasks_vehicle_status
	    ON tasks(vehicle_id, type, status);

	CREATE INDEX IF NOT EXISTS idx_transitions_task ON task_transitions(task_id);
	CREATE INDEX IF NOT EXISTS idx_items_inspection ON inspection_items(inspection_id);
	`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// UpsertVehicle inserts or refreshes a vehicle reference.
func (s *Store) UpsertVehicle(ctx context.Context, v Vehicle) error {
	if v.ID == "" {
		return fmt.Errorf("vehicle id is required")
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}

	_, err := s.conn.ExecContext(ctx, `
	INSERT INTO vehicles (id, label, created_at)
	VALUES (?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		label = CASE WHEN excluded.label = '' THEN vehicles.label ELSE excluded.label END
	`, v.ID, v.Label, v.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to upsert vehicle %s: %w", v.ID, err)
	}
	return nil
}

// GetVehicle retrieves a vehicle by ID.
// Returns ErrNotFound if the vehicle doesn't exist.
func (s *Store) GetVehicle(ctx context.Context, id string) (*Vehicle, error) {
	row := s.conn.QueryRowContext(ctx, `
	SELECT id, label, created_at FROM vehicles WHERE id = ?
	`, id)

	var v Vehicle
	var createdAt string
	if err := row.Scan(&v.ID, &v.Label, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("vehicle %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query vehicle %s: %w", id, err)
	}
	v.CreatedAt = parseTime(createdAt)
	return &v, nil
}

// UpsertInspection inserts or refreshes an inspection reference.
func (s *Store) UpsertInspection(ctx context.Context, ins Inspection) error {
	if ins.ID == "" {
		return fmt.Errorf("inspection id is required")
	}
	if ins.VehicleID == "" {
		return fmt.Errorf("inspection vehicle id is required")
	}
	if ins.SubmittedAt.IsZero() {
		ins.SubmittedAt = time.Now().UTC()
	}
	if ins.Status == "" {
		ins.Status = "submitted"
	}

	_, err := s.conn.ExecContext(ctx, `
	INSERT INTO inspections (id, vehicle_id, inspector, status, submitted_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		inspector = excluded.inspector,
		status = excluded.status,
		submitted_at = excluded.submitted_at
	`, ins.ID, ins.VehicleID, ins.Inspector, ins.Status, ins.SubmittedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to upsert inspection %s: %w", ins.ID, err)
	}
	return nil
}

// GetInspection retrieves an inspection by ID.
// Returns ErrNotFound if the inspection doesn't exist.
func (s *Store) GetInspection(ctx context.Context, id string) (*Inspection, error) {
	row := s.conn.QueryRowContext(ctx, `
	SELECT id, vehicle_id, inspector, status, submitted_at
	FROM inspections WHERE id = ?
	`, id)

	var ins Inspection
	var submittedAt string
	if err := row.Scan(&ins.ID, &ins.VehicleID, &ins.Inspector, &ins.Status, &submittedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("inspection %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query inspection %s: %w", id, err)
	}
	ins.SubmittedAt = parseTime(submittedAt)
	return &ins, nil
}

// UpsertItems writes the checklist rows of an inspection. Existing rows
// with the same ID are refreshed, so re-submitting an edited inspection
// keeps item IDs stable.
func (s *Store) UpsertItems(ctx context.Context, inspectionID string, items []inspection.Item) error {
	if len(items) == 0 {
		return nil
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO inspection_items (id, inspection_id, item_number, description, status, comment, day)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		item_number = excluded.item_number,
		description = excluded.description,
		status = excluded.status,
		comment = excluded.comment,
		day = excluded.day
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare item upsert: %w", err)
	}
	defer stmt.Close()

	for _, it := range items {
		if _, err := stmt.ExecContext(ctx, it.ID, inspectionID, it.Number, it.Description, it.Status, it.Comment, it.Day); err != nil {
			return fmt.Errorf("failed to upsert item %s: %w", it.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit item upsert: %w", err)
	}
	return nil
}

// GetItem retrieves a single inspection item by ID.
// Returns ErrNotFound if the item doesn't exist.
func (s *Store) GetItem(ctx context.Context, id string) (*inspection.Item, error) {
	row := s.conn.QueryRowContext(ctx, `
	SELECT id, item_number, description, status, comment, day
	FROM inspection_items WHERE id = ?
	`, id)

	var it inspection.Item
	if err := row.Scan(&it.ID, &it.Number, &it.Description, &it.Status, &it.Comment, &it.Day); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("inspection item %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query inspection item %s: %w", id, err)
	}
	return &it, nil
}

// ListItems retrieves all checklist rows of an inspection, ordered by
// day then item number.
func (s *Store) ListItems(ctx context.Context, inspectionID string) ([]inspection.Item, error) {
	rows, err := s.conn.QueryContext(ctx, `
	SELECT id, item_number, description, status, comment, day
	FROM inspection_items
	WHERE inspection_id = ?
	ORDER BY day ASC, item_number ASC
	`, inspectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query inspection items: %w", err)
	}
	defer rows.Close()

	var items []inspection.Item
	for rows.Next() {
		var it inspection.Item
		if err := rows.Scan(&it.ID, &it.Number, &it.Description, &it.Status, &it.Comment, &it.Day); err != nil {
			return nil, fmt.Errorf("failed to scan inspection item: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating inspection items: %w", err)
	}
	return items, nil
}

// CreateTask inserts a new task row.
//
// If an active task already exists for the same (inspection, signature),
// the partial unique index fires and ErrDuplicateActive is returned; the
// reconciler retries as an update against the row that won the race.
func (s *Store) CreateTask(ctx context.Context, t *task.Task) error {
	t.SetDefaults()
	if err := t.Validate(); err != nil {
		return fmt.Errorf("invalid task: %w", err)
	}

	_, err := s.conn.ExecContext(ctx, `
	INSERT INTO tasks (
		id, type, vehicle_id, inspection_id, primary_item_id,
		signature, item_number, title, description, comment,
		status, created_by, created_at, updated_at, completed_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		t.ID,
		t.Type,
		t.VehicleID,
		nullIfEmpty(t.InspectionID),
		nullIfEmpty(t.PrimaryItemID),
		t.Signature,
		t.ItemNumber,
		t.Title,
		t.Description,
		t.Comment,
		string(t.Status),
		t.CreatedBy,
		t.CreatedAt.Format(time.RFC3339),
		t.UpdatedAt.Format(time.RFC3339),
		timeToNullString(t.CompletedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("task for inspection %s signature %q: %w", t.InspectionID, t.Signature, ErrDuplicateActive)
		}
		return fmt.Errorf("failed to insert task: %w", err)
	}

	return nil
}

// UpdateTaskContent refreshes the mutable content fields of a task in
// place: title, description, comment and the primary-item back-reference.
// Status and signature are never touched here.
func (s *Store) UpdateTaskContent(ctx context.Context, id, title, description, comment, primaryItemID string) error {
	res, err := s.conn.ExecContext(ctx, `
	UPDATE tasks SET
		title = ?,
		description = ?,
		comment = ?,
		primary_item_id = ?,
		updated_at = ?
	WHERE id = ?
	`, title, description, comment, nullIfEmpty(primaryItemID), time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("failed to update task %s: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return nil
}

// GetTask retrieves a single task by ID.
// Returns ErrNotFound if the task doesn't exist.
func (s *Store) GetTask(ctx context.Context, id string) (*task.Task, error) {
	row := s.conn.QueryRowContext(ctx, taskSelect+` WHERE id = ?`, id)

	t, err := scanTask(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query task %s: %w", id, err)
	}
	return t, nil
}

// TaskFilter configures the ListTasks query.
type TaskFilter struct {
	// InspectionID filters by originating inspection (empty = all).
	InspectionID string
	// VehicleID filters by vehicle (empty = all).
	VehicleID string
	// Type filters by task type (empty = all types).
	Type string
	// Statuses filters to tasks in any of the given statuses (nil = all).
	Statuses []task.Status
	// Since filters to tasks created at or after this time (zero = all).
	Since time.Time
	// Limit restricts the number of results (0 = no limit).
	Limit int
	// Offset skips the first N results (for pagination).
	Offset int
}

// ListTasks retrieves tasks matching the given filters.
// Results are ordered by created_at ASC so the earliest-created task in a
// signature group comes first.
func (s *Store) ListTasks(ctx context.Context, filter TaskFilter) ([]*task.Task, error) {
	var conditions []string
	var args []interface{}

	if filter.InspectionID != "" {
		conditions = append(conditions, "inspection_id = ?")
		args = append(args, filter.InspectionID)
	}
	if filter.VehicleID != "" {
		conditions = append(conditions, "vehicle_id = ?")
		args = append(args, filter.VehicleID)
	}
	if filter.Type != "" {
		conditions = append(conditions, "type = ?")
		args = append(args, filter.Type)
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		conditions = append(conditions, "status IN ("+strings.Join(placeholders, ", ")+")")
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, filter.Since.UTC().Format(time.RFC3339))
	}

	query := taskSelect
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}
	return tasks, nil
}

// AppendTransition atomically records a status transition: the task row's
// status (and completed_at) is updated and the history record inserted in
// one transaction. The history is append-only; existing records are never
// modified.
func (s *Store) AppendTransition(ctx context.Context, t *task.Task, rec task.Transition) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
	UPDATE tasks SET status = ?, updated_at = ?, completed_at = ?
	WHERE id = ?
	`, string(t.Status), t.UpdatedAt.Format(time.RFC3339), timeToNullString(t.CompletedAt), t.ID)
	if err != nil {
		return fmt.Errorf("failed to update task status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("task %s: %w", t.ID, ErrNotFound)
	}

	_, err = tx.ExecContext(ctx, `
	INSERT INTO task_transitions (id, task_id, kind, status, from_status, to_status, actor, note, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID,
		rec.TaskID,
		string(rec.Kind),
		string(rec.Status),
		string(rec.From),
		string(rec.To),
		rec.Actor,
		rec.Note,
		rec.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert transition: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transition: %w", err)
	}
	return nil
}

// ListTransitions retrieves a task's full status history in creation order.
func (s *Store) ListTransitions(ctx context.Context, taskID string) ([]task.Transition, error) {
	rows, err := s.conn.QueryContext(ctx, `
	SELECT id, task_id, kind, status, from_status, to_status, actor, note, created_at
	FROM task_transitions
	WHERE task_id = ?
	ORDER BY created_at ASC, id ASC
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transitions: %w", err)
	}
	defer rows.Close()

	var history []task.Transition
	for rows.Next() {
		var rec task.Transition
		var kind, status, from, to, createdAt string
		if err := rows.Scan(&rec.ID, &rec.TaskID, &kind, &status, &from, &to, &rec.Actor, &rec.Note, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan transition: %w", err)
		}
		rec.Kind = task.TransitionKind(kind)
		rec.Status = task.Status(status)
		rec.From = task.Status(from)
		rec.To = task.Status(to)
		rec.CreatedAt = parseTime(createdAt)
		history = append(history, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transitions: %w", err)
	}
	return history, nil
}

// CountTasksByStatus returns task counts grouped by status, for board
// statistics.
func (s *Store) CountTasksByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := s.conn.QueryContext(ctx, `
	SELECT status, COUNT(*) FROM tasks GROUP BY status
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to count tasks: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan task count: %w", err)
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task counts: %w", err)
	}
	return counts, nil
}

const taskSelect = `
	SELECT id, type, vehicle_id, inspection_id, primary_item_id,
	       signature, item_number, title, description, comment,
	       status, created_by, created_at, updated_at, completed_at
	FROM tasks`

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*task.Task, error) {
	var t task.Task
	var inspectionID, primaryItemID, completedAt sql.NullString
	var status, createdAt, updatedAt string

	err := row.Scan(
		&t.ID,
		&t.Type,
		&t.VehicleID,
		&inspectionID,
		&primaryItemID,
		&t.Signature,
		&t.ItemNumber,
		&t.Title,
		&t.Description,
		&t.Comment,
		&status,
		&t.CreatedBy,
		&createdAt,
		&updatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	t.InspectionID = inspectionID.String
	t.PrimaryItemID = primaryItemID.String
	t.Status = task.Status(status)
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	t.CompletedAt = nullStringToTime(completedAt)

	return &t, nil
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// timeToNullString converts a time pointer to a nullable string for SQL.
func timeToNullString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: t.Format(time.RFC3339), Valid: true}
}

// nullStringToTime converts a nullable SQL string to a time pointer.
func nullStringToTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

// Empty strings are stored as NULL so the partial unique index and
// foreign keys behave (NULLs never collide).
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
