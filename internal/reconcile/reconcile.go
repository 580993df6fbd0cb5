// Package reconcile turns inspection defects into durable workshop tasks.
//
// The reconciler is the engine's write side: given a freshly submitted (or
// re-submitted) inspection and its collapsed defect list, it creates or
// updates remediation tasks so that re-running reconciliation for the same
// content is a no-op beyond a field refresh. Identity is the defect
// Signature; the storage layer's partial unique index guarantees at most
// one active task per (inspection, signature) even across racing calls.
//
// Workflow:
//  1. Inspection form submits defects (pre-collapsed, one per signature)
//  2. Reconcile upserts tasks and returns created/updated counts
//  3. Workshop staff progress tasks through their lifecycle (Transition)
//  4. The next inspection's form asks the lock resolver which items are
//     already being worked
package reconcile

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fleetworks/fleetworks/internal/inspection"
	"github.com/fleetworks/fleetworks/internal/policy"
	"github.com/fleetworks/fleetworks/internal/store"
	"github.com/fleetworks/fleetworks/internal/task"
)

// Events receives task change notifications from the engine. Implemented
// by the board broadcast handler; a nil Events is valid and means no one
// is listening. The engine itself never sends messages or notifications
// beyond this in-process hook.
type Events interface {
	TaskCreated(t *task.Task)
	TaskUpdated(t *task.Task)
}

// DuplicateGroup flags a signature with more than one existing task row
// for the same inspection. It is a data-integrity signal for admin
// cleanup and does not block reconciliation.
type DuplicateGroup struct {
	Signature string   `json:"signature"`
	TaskIDs   []string `json:"task_ids"`
}

// Result summarizes one reconcile call. It is surfaced to the inspector
// as a submission confirmation ("N defects logged, M updated") and to
// admins as a cleanup signal (DuplicateGroups).
type Result struct {
	Created         int              `json:"created"`
	Updated         int              `json:"updated"`
	Skipped         int              `json:"skipped"`
	DuplicateGroups []DuplicateGroup `json:"duplicate_groups,omitempty"`

	// Errors holds per-defect failures. The batch never aborts for a
	// single bad defect; the inspector still gets partial success.
	Errors []*DefectError `json:"errors,omitempty"`
}

// Reconciler upserts remediation tasks from inspection defects. It is
// stateless: all state lives in the injected store.
type Reconciler struct {
	store  *store.Store
	policy policy.Policy
	events Events
	logger *log.Logger

	// now is swappable for tests.
	now func() time.Time
}

// New creates a Reconciler over the given store with the default policy.
func New(st *store.Store, logger *log.Logger) *Reconciler {
	return NewWithPolicy(st, policy.Default(), logger)
}

// NewWithPolicy creates a Reconciler with an explicit reopen policy.
func NewWithPolicy(st *store.Store, pol policy.Policy, logger *log.Logger) *Reconciler {
	if logger == nil {
		logger = log.Default()
	}
	return &Reconciler{
		store:  st,
		policy: pol,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetEvents registers a task change listener (e.g. the board broadcaster).
func (r *Reconciler) SetEvents(ev Events) {
	r.events = ev
}

// Reconcile upserts tasks for the defects of one inspection.
//
// defects must be the already-collapsed per-inspection list (see
// inspection.CollapseItems); no two entries may share a signature.
//
// Guarantees:
//   - Unknown inspection or vehicle fails the whole call with ErrNotFound
//     before any writes.
//   - Malformed defects are rejected individually (ValidationError in
//     Result.Errors) and never abort the batch.
//   - Re-running with unchanged input yields Created=0 and
//     Updated=len(defects): every defect matches its own active task.
//   - A defect whose previous task is completed gets a new task (a new
//     remediation episode), unless the reopen policy suppresses it
//     (counted in Skipped; the default policy never skips).
func (r *Reconciler) Reconcile(ctx context.Context, inspectionID, vehicleID, actorID string, defects []inspection.Defect) (*Result, error) {
	ins, err := r.store.GetInspection(ctx, inspectionID)
	if err != nil {
		return nil, err
	}
	if _, err := r.store.GetVehicle(ctx, vehicleID); err != nil {
		return nil, err
	}
	if ins.VehicleID != vehicleID {
		return nil, fmt.Errorf("inspection %s belongs to vehicle %s, not %s: %w", inspectionID, ins.VehicleID, vehicleID, ErrNotFound)
	}

	groups, err := r.loadSignatureGroups(ctx, inspectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load existing tasks: %w", err)
	}

	result := &Result{}

	for i := range defects {
		d := &defects[i]

		if err := d.Validate(); err != nil {
			result.Errors = append(result.Errors, &DefectError{
				ItemNumber: d.ItemNumber,
				Err:        &ValidationError{ItemNumber: d.ItemNumber, Reason: err.Error()},
			})
			continue
		}

		sig := d.Signature()
		group := groups[sig]

		if len(group) > 1 {
			result.DuplicateGroups = append(result.DuplicateGroups, DuplicateGroup{
				Signature: sig,
				TaskIDs:   taskIDs(group),
			})
		}

		if err := r.reconcileDefect(ctx, ins, vehicleID, actorID, d, sig, group, result); err != nil {
			result.Errors = append(result.Errors, &DefectError{
				ItemNumber: d.ItemNumber,
				Signature:  sig,
				Err:        err,
			})
		}
	}

	return result, nil
}

// reconcileDefect applies the upsert decision for one defect against its
// signature group.
func (r *Reconciler) reconcileDefect(ctx context.Context, ins *store.Inspection, vehicleID, actorID string, d *inspection.Defect, sig string, group []*task.Task, result *Result) error {
	// An active task exists: refresh its content in place. When several
	// active tasks exist (shouldn't happen, but tolerated) the
	// earliest-created one wins and the rest are left untouched; the
	// group was already reported for cleanup.
	if active := earliestActive(group); active != nil {
		if err := r.updateTask(ctx, active, ins.ID, d); err != nil {
			return err
		}
		result.Updated++
		return nil
	}

	// Only completed tasks exist: this is a recurring defect. Policy may
	// suppress reopening within a cooldown of the last completion.
	if len(group) > 0 {
		if completedAt := latestCompletion(group); completedAt != nil &&
			r.policy.SuppressReopen(*completedAt, r.now()) {
			result.Skipped++
			return nil
		}
	}

	_, err := r.createTask(ctx, ins, vehicleID, actorID, d, sig)
	if err == nil {
		result.Created++
		return nil
	}

	// Uniqueness race: another call created the active task between our
	// group load and this insert. Retry once as an update against the
	// row that won.
	if store.IsConflict(err) {
		winner, ferr := r.findActiveTask(ctx, ins.ID, sig)
		if ferr != nil {
			return fmt.Errorf("conflict retry failed: %w", ferr)
		}
		if uerr := r.updateTask(ctx, winner, ins.ID, d); uerr != nil {
			return fmt.Errorf("conflict retry failed: %w", uerr)
		}
		result.Updated++
		return nil
	}

	return err
}

// loadSignatureGroups loads all inspection-defect tasks of the inspection
// grouped by signature. The stored signature wins; legacy rows without
// one are regrouped by parsing their title text with the normalization
// rules of the signature itself.
func (r *Reconciler) loadSignatureGroups(ctx context.Context, inspectionID string) (map[string][]*task.Task, error) {
	existing, err := r.store.ListTasks(ctx, store.TaskFilter{
		InspectionID: inspectionID,
		Type:         task.TypeInspectionDefect,
	})
	if err != nil {
		return nil, err
	}

	groups := make(map[string][]*task.Task)
	for _, t := range existing {
		sig := t.Signature
		if sig == "" {
			if n, desc, ok := inspection.ParseItemRef(t.Title, t.Description); ok {
				sig = inspection.Signature(n, desc)
			}
		}
		if sig == "" {
			r.logger.Printf("Warning: task %s has no recoverable signature, excluded from grouping", t.ID)
			continue
		}
		groups[sig] = append(groups[sig], t)
	}
	return groups, nil
}

func (r *Reconciler) createTask(ctx context.Context, ins *store.Inspection, vehicleID, actorID string, d *inspection.Defect, sig string) (*task.Task, error) {
	now := r.now()
	t := &task.Task{
		Type:          task.TypeInspectionDefect,
		VehicleID:     vehicleID,
		InspectionID:  ins.ID,
		PrimaryItemID: d.PrimaryItemID,
		Signature:     sig,
		ItemNumber:    d.ItemNumber,
		Title:         taskTitle(d),
		Description:   taskDescription(ins.ID, d),
		Comment:       d.Comment,
		Status:        task.StatusPending,
		CreatedBy:     actorID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := r.store.CreateTask(ctx, t); err != nil {
		return nil, err
	}

	if r.events != nil {
		r.events.TaskCreated(t)
	}
	return t, nil
}

func (r *Reconciler) updateTask(ctx context.Context, t *task.Task, inspectionID string, d *inspection.Defect) error {
	title := taskTitle(d)
	description := taskDescription(inspectionID, d)

	if err := r.store.UpdateTaskContent(ctx, t.ID, title, description, d.Comment, d.PrimaryItemID); err != nil {
		return err
	}

	t.Title = title
	t.Description = description
	t.Comment = d.Comment
	t.PrimaryItemID = d.PrimaryItemID

	if r.events != nil {
		r.events.TaskUpdated(t)
	}
	return nil
}

// findActiveTask re-reads the single active task for an (inspection,
// signature) pair after a create conflict.
func (r *Reconciler) findActiveTask(ctx context.Context, inspectionID, sig string) (*task.Task, error) {
	tasks, err := r.store.ListTasks(ctx, store.TaskFilter{
		InspectionID: inspectionID,
		Type:         task.TypeInspectionDefect,
	})
	if err != nil {
		return nil, err
	}
	for _, t := range tasks {
		if t.Signature == sig && t.Active() {
			return t, nil
		}
	}
	return nil, fmt.Errorf("active task for signature %q: %w", sig, store.ErrNotFound)
}

// Transition applies a status change to a task and appends the history
// record atomically. Invalid transitions are rejected with
// task.ErrInvalidTransition and leave the task unchanged.
func (r *Reconciler) Transition(ctx context.Context, taskID string, req task.TransitionRequest) (*task.Task, error) {
	t, err := r.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	history, err := r.store.ListTransitions(ctx, taskID)
	if err != nil {
		return nil, err
	}

	rec, err := task.Apply(t, history, req)
	if err != nil {
		return nil, err
	}

	if err := r.store.AppendTransition(ctx, t, rec); err != nil {
		return nil, err
	}

	if r.events != nil {
		r.events.TaskUpdated(t)
	}
	return t, nil
}

// earliestActive returns the earliest-created active task of a group, or
// nil when every task is completed. Groups are already in created_at
// order (ListTasks orders ascending), but this does not rely on it.
func earliestActive(group []*task.Task) *task.Task {
	var found *task.Task
	for _, t := range group {
		if !t.Active() {
			continue
		}
		if found == nil || t.CreatedAt.Before(found.CreatedAt) {
			found = t
		}
	}
	return found
}

// latestCompletion returns the most recent completion time in a group of
// completed tasks.
func latestCompletion(group []*task.Task) *time.Time {
	var latest *time.Time
	for _, t := range group {
		if t.CompletedAt == nil {
			continue
		}
		if latest == nil || t.CompletedAt.After(*latest) {
			latest = t.CompletedAt
		}
	}
	return latest
}

func taskIDs(group []*task.Task) []string {
	ids := make([]string, 0, len(group))
	for _, t := range group {
		ids = append(ids, t.ID)
	}
	sort.Strings(ids)
	return ids
}

// taskTitle renders the task title in the "Item <n>: <description>" form
// the legacy parser also understands.
func taskTitle(d *inspection.Defect) string {
	return fmt.Sprintf("Item %d: %s", d.ItemNumber, strings.TrimSpace(d.Description))
}

// taskDescription summarizes where and when the defect was reported.
func taskDescription(inspectionID string, d *inspection.Defect) string {
	if len(d.AffectedDays) == 0 {
		return fmt.Sprintf("Reported on inspection %s", inspectionID)
	}
	days := make([]string, len(d.AffectedDays))
	for i, day := range d.AffectedDays {
		days[i] = strconv.Itoa(day)
	}
	return fmt.Sprintf("Reported on inspection %s (day %s)", inspectionID, strings.Join(days, ", "))
}
