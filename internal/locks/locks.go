// Package locks answers "is this defect already being worked on?" for the
// inspection form.
//
// A checklist item is locked when an in-progress remediation task exists
// for the vehicle; the inspection form renders such rows disabled so the
// inspector doesn't re-report a defect workshop staff is already fixing.
// The lock set is advisory and read-time only: it never blocks writes, and
// a slightly stale view is acceptable.
package locks

import (
	"context"
	"errors"
	"log"

	"github.com/fleetworks/fleetworks/internal/inspection"
	"github.com/fleetworks/fleetworks/internal/store"
	"github.com/fleetworks/fleetworks/internal/task"
)

// LockedStatuses are the task statuses that lock a checklist item.
// pending tasks haven't been accepted into the workshop queue yet and
// completed tasks are history; neither locks.
var LockedStatuses = []task.Status{
	task.StatusLogged,
	task.StatusOnHold,
	task.StatusInProgress,
}

// PlaceholderDescription is shown when neither the back-reference nor the
// task text yields an item description. Losing visibility into an active
// task is worse than showing it generically.
const PlaceholderDescription = "(unresolved checklist item)"

// LockedItem is one checklist row locked by an active task, surfaced to
// the inspection form.
type LockedItem struct {
	ItemNumber  int         `json:"item_number"`
	Description string      `json:"description"`
	Status      task.Status `json:"status"`
	TaskID      string      `json:"task_id"`
	Comment     string      `json:"comment"`
}

// Resolver computes the locked checklist items for a vehicle.
type Resolver struct {
	store  *store.Store
	logger *log.Logger
}

// New creates a Resolver over the given store.
func New(st *store.Store, logger *log.Logger) *Resolver {
	if logger == nil {
		logger = log.Default()
	}
	return &Resolver{store: st, logger: logger}
}

// ComputeLockedItems returns the checklist items currently locked by
// in-progress remediation tasks on the vehicle.
//
// Resolution degrades per item, never for the whole vehicle:
//  1. the task's back-reference to its inspection item
//  2. parsing the task's stored title/description (legacy rows)
//  3. a placeholder entry, with a warning logged for operator follow-up
//
// Every task in a locked status appears exactly once.
func (r *Resolver) ComputeLockedItems(ctx context.Context, vehicleID string) ([]LockedItem, error) {
	tasks, err := r.store.ListTasks(ctx, store.TaskFilter{
		VehicleID: vehicleID,
		Type:      task.TypeInspectionDefect,
		Statuses:  LockedStatuses,
	})
	if err != nil {
		return nil, err
	}

	items := make([]LockedItem, 0, len(tasks))
	for _, t := range tasks {
		items = append(items, r.resolve(ctx, t))
	}
	return items, nil
}

// resolve maps one task to its locked item, degrading through the
// fallback paths as needed.
func (r *Resolver) resolve(ctx context.Context, t *task.Task) LockedItem {
	locked := LockedItem{
		Status:  t.Status,
		TaskID:  t.ID,
		Comment: t.Comment,
	}

	// Primary path: structured back-reference to the inspection item.
	if t.PrimaryItemID != "" {
		item, err := r.store.GetItem(ctx, t.PrimaryItemID)
		switch {
		case err == nil:
			locked.ItemNumber = item.Number
			locked.Description = item.Description
			return locked
		case !errors.Is(err, store.ErrNotFound):
			r.logger.Printf("Warning: failed to resolve item %s for task %s: %v", t.PrimaryItemID, t.ID, err)
		}
		// A dangling back-reference falls through to the parse path.
	}

	// Fallback path: derive item number/description from the task text
	// using the signature normalization rules.
	if n, desc, ok := inspection.ParseItemRef(t.Title, t.Description); ok {
		locked.ItemNumber = n
		locked.Description = desc
		return locked
	}

	// Last resort: keep the task visible with a placeholder rather than
	// dropping it from the lock set.
	r.logger.Printf("Warning: task %s has no resolvable checklist item (vehicle %s); returning placeholder", t.ID, t.VehicleID)
	locked.ItemNumber = t.ItemNumber
	locked.Description = PlaceholderDescription
	return locked
}
