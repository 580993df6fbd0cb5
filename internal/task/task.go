// Package task provides the workshop remediation task model and its
// status lifecycle.
//
// Tasks are the durable work items the reconciliation engine creates from
// inspection defects. Workshop staff move a task through its lifecycle
// (pending, logged, on_hold, in_progress, completed); every move is
// recorded in an append-only transition history that is the authoritative
// audit trail for what happened, when, and by whom.
package task

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TypeInspectionDefect tags tasks created by the reconciliation engine
// from inspection defects. Manually created workshop tasks carry other
// type tags and are never touched by the reconciler.
const TypeInspectionDefect = "inspection_defect"

// Status is the lifecycle state of a task.
type Status string

const (
	// StatusPending is the initial state of a reconciler-created task,
	// before workshop staff have acknowledged it.
	StatusPending Status = "pending"

	// StatusLogged means the task has been accepted into the workshop queue.
	StatusLogged Status = "logged"

	// StatusOnHold means work is paused (parts on order, vehicle away).
	StatusOnHold Status = "on_hold"

	// StatusInProgress means workshop staff are actively working the task.
	StatusInProgress Status = "in_progress"

	// StatusCompleted closes the remediation episode. Completed tasks are
	// historical: a recurring defect gets a new task, not a reopened one.
	StatusCompleted Status = "completed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusLogged, StatusOnHold, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

// Active reports whether a task in this status is still being worked.
// Everything except completed is active.
func (s Status) Active() bool {
	return s.Valid() && s != StatusCompleted
}

// Task is one remediation work item.
type Task struct {
	// ID is the task's identifier (UUID).
	ID string

	// Type tags the task's origin; reconciler-created tasks use
	// TypeInspectionDefect.
	Type string

	// VehicleID references the vehicle the defect was found on.
	VehicleID string

	// InspectionID references the originating inspection. Empty for
	// manually created tasks.
	InspectionID string

	// PrimaryItemID is the back-reference to the representative
	// inspection item. Empty for legacy and manual tasks; the lock
	// resolver falls back to parsing the title when it is missing.
	PrimaryItemID string

	// Signature is the defect identity this task remediates. Set once at
	// creation and never changed, even if the checklist template's
	// wording is later edited.
	Signature string

	// ItemNumber is the checklist item number the defect was reported on.
	ItemNumber int

	Title       string
	Description string
	Comment     string

	Status    Status
	CreatedBy string

	CreatedAt time.Time
	UpdatedAt time.Time

	// CompletedAt is set while the task is in completed status and nil
	// otherwise. The storage layer's uniqueness constraint keys on it:
	// at most one task per (inspection, signature) may have a nil
	// CompletedAt.
	CompletedAt *time.Time
}

// Active reports whether the task is still being worked.
func (t *Task) Active() bool {
	return t.Status.Active()
}

// Validate checks the task's field values.
func (t *Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("id is required")
	}
	if t.Type == "" {
		return fmt.Errorf("type is required")
	}
	if t.VehicleID == "" {
		return fmt.Errorf("vehicle id is required")
	}
	if t.Title == "" {
		return fmt.Errorf("title is required")
	}
	if !t.Status.Valid() {
		return fmt.Errorf("invalid status %q", t.Status)
	}
	if t.Type == TypeInspectionDefect && t.Signature == "" {
		return fmt.Errorf("signature is required for inspection defect tasks")
	}
	if t.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required")
	}
	if t.UpdatedAt.IsZero() {
		return fmt.Errorf("updated_at is required")
	}
	return nil
}

// SetDefaults applies default values for optional fields.
func (t *Task) SetDefaults() {
	now := time.Now().UTC()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Type == "" {
		t.Type = TypeInspectionDefect
	}
	if t.Status == "" {
		t.Status = StatusPending
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = now
	}
}
