package reconcile

import (
	"context"
	"errors"
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/fleetworks/fleetworks/internal/inspection"
	"github.com/fleetworks/fleetworks/internal/policy"
	"github.com/fleetworks/fleetworks/internal/store"
	"github.com/fleetworks/fleetworks/internal/task"
)

func testEnv(t *testing.T) (*store.Store, *Reconciler) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if err := s.InitSchema(); err != nil {
		t.Fatalf("failed to init schema: %v", err)
	}

	logger := log.New(io.Discard, "", 0)
	return s, New(s, logger)
}

func seed(t *testing.T, s *store.Store, vehicleID, inspectionID string) {
	t.Helper()
	ctx := context.Background()
	if err := s.UpsertVehicle(ctx, store.Vehicle{ID: vehicleID}); err != nil {
		t.Fatalf("UpsertVehicle: %v", err)
	}
	if err := s.UpsertInspection(ctx, store.Inspection{ID: inspectionID, VehicleID: vehicleID}); err != nil {
		t.Fatalf("UpsertInspection: %v", err)
	}
}

func brakeDefect() inspection.Defect {
	return inspection.Defect{
		ItemNumber:    4,
		Description:   "Brake Pads",
		AffectedDays:  []int{1, 2},
		Comment:       "worn left side",
		PrimaryItemID: "i-1",
	}
}

func TestReconcileCreates(t *testing.T) {
	s, r := testEnv(t)
	seed(t, s, "V-102", "insp-77")
	ctx := context.Background()

	res, err := r.Reconcile(ctx, "insp-77", "V-102", "insp-user", []inspection.Defect{brakeDefect()})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if res.Created != 1 || res.Updated != 0 || res.Skipped != 0 {
		t.Errorf("result = %+v, want 1 created", res)
	}
	if len(res.Errors) != 0 {
		t.Errorf("unexpected errors: %v", res.Errors)
	}

	tasks, err := s.ListTasks(ctx, store.TaskFilter{InspectionID: "insp-77"})
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("len(tasks) = %d, want 1", len(tasks))
	}

	tk := tasks[0]
	if tk.Signature != "4|brake pads" {
		t.Errorf("Signature = %q", tk.Signature)
	}
	if tk.Title != "Item 4: Brake Pads" {
		t.Errorf("Title = %q", tk.Title)
	}
	if tk.Description != "Reported on inspection insp-77 (day 1, 2)" {
		t.Errorf("Description = %q", tk.Description)
	}
	if tk.Status != task.StatusPending {
		t.Errorf("Status = %q", tk.Status)
	}
	if tk.CreatedBy != "insp-user" {
		t.Errorf("CreatedBy = %q", tk.CreatedBy)
	}
	if tk.PrimaryItemID != "i-1" {
		t.Errorf("PrimaryItemID = %q", tk.PrimaryItemID)
	}
}

func TestReconcileIdempotent(t *testing.T) {
	s, r := testEnv(t)
	seed(t, s, "V-102", "insp-77")
	ctx := context.Background()

	defects := []inspection.Defect{brakeDefect()}
	if _, err := r.Reconcile(ctx, "insp-77", "V-102", "insp-user", defects); err != nil {
		t.Fatalf("first Reconcile: %v", err)
	}

	res, err := r.Reconcile(ctx, "insp-77", "V-102", "insp-user", defects)
	if err != nil {
		t.Fatalf("second Reconcile: %v", err)
	}
	if res.Created != 0 || res.Updated != 1 {
		t.Errorf("second run result = %+v, want 0 created / 1 updated", res)
	}

	tasks, err := s.ListTasks(ctx, store.TaskFilter{InspectionID: "insp-77"})
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(tasks) != 1 {
		t.Errorf("len(tasks) = %d, want 1 (no duplicate created)", len(tasks))
	}
}

func TestReconcileRefreshesContent(t *testing.T) {
	s, r := testEnv(t)
	seed(t, s, "V-102", "insp-77")
	ctx := context.Background()

	if _, err := r.Reconcile(ctx, "insp-77", "V-102", "u", []inspection.Defect{brakeDefect()}); err != nil {
		t.Fatalf("first Reconcile: %v", err)
	}

	// The inspector edits the submission: new comment, extra day.
	edited := brakeDefect()
	edited.Comment = "now metal on metal"
	edited.AffectedDays = []int{1, 2, 3}

	if _, err := r.Reconcile(ctx, "insp-77", "V-102", "u", []inspection.Defect{edited}); err != nil {
		t.Fatalf("second Reconcile: %v", err)
	}

	tasks, _ := s.ListTasks(ctx, store.TaskFilter{InspectionID: "insp-77"})
	if len(tasks) != 1 {
		t.Fatalf("len(tasks) = %d, want 1", len(tasks))
	}
	if tasks[0].Comment != "now metal on metal" {
		t.Errorf("Comment = %q, want refreshed", tasks[0].Comment)
	}
	if tasks[0].Description != "Reported on inspection insp-77 (day 1, 2, 3)" {
		t.Errorf("Description = %q", tasks[0].Description)
	}
}

func TestReconcileUpdateKeepsStatus(t *testing.T) {
	s, r := testEnv(t)
	seed(t, s, "V-102", "insp-77")
	ctx := context.Background()

	if _, err := r.Reconcile(ctx, "insp-77", "V-102", "u", []inspection.Defect{brakeDefect()}); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	tasks, _ := s.ListTasks(ctx, store.TaskFilter{InspectionID: "insp-77"})
	id := tasks[0].ID

	// Workshop staff start working the task.
	if _, err := r.Transition(ctx, id, task.TransitionRequest{To: task.StatusLogged}); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if _, err := r.Transition(ctx, id, task.TransitionRequest{To: task.StatusInProgress}); err != nil {
		t.Fatalf("Transition: %v", err)
	}

	// A re-submission must not reset the task's progress.
	if _, err := r.Reconcile(ctx, "insp-77", "V-102", "u", []inspection.Defect{brakeDefect()}); err != nil {
		t.Fatalf("re-Reconcile: %v", err)
	}

	got, err := s.GetTask(ctx, id)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Status != task.StatusInProgress {
		t.Errorf("Status = %q, want in_progress preserved", got.Status)
	}
}

func TestReconcileRecurringDefect(t *testing.T) {
	s, r := testEnv(t)
	seed(t, s, "V-102", "insp-77")
	ctx := context.Background()

	if _, err := r.Reconcile(ctx, "insp-77", "V-102", "u", []inspection.Defect{brakeDefect()}); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	tasks, _ := s.ListTasks(ctx, store.TaskFilter{InspectionID: "insp-77"})
	id := tasks[0].ID
	for _, to := range []task.Status{task.StatusLogged, task.StatusCompleted} {
		if _, err := r.Transition(ctx, id, task.TransitionRequest{To: to}); err != nil {
			t.Fatalf("Transition(%s): %v", to, err)
		}
	}

	// Same defect reported again: new remediation episode, new task.
	res, err := r.Reconcile(ctx, "insp-77", "V-102", "u", []inspection.Defect{brakeDefect()})
	if err != nil {
		t.Fatalf("re-Reconcile: %v", err)
	}
	if res.Created != 1 || res.Updated != 0 || res.Skipped != 0 {
		t.Errorf("result = %+v, want 1 created", res)
	}

	tasks, _ = s.ListTasks(ctx, store.TaskFilter{InspectionID: "insp-77"})
	if len(tasks) != 2 {
		t.Fatalf("len(tasks) = %d, want 2 (history preserved)", len(tasks))
	}

	completed, err := s.GetTask(ctx, id)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if completed.Status != task.StatusCompleted {
		t.Errorf("old task status = %q, want completed untouched", completed.Status)
	}
}

func TestReconcileReopenCooldownSkips(t *testing.T) {
	s, _ := testEnv(t)
	seed(t, s, "V-102", "insp-77")
	ctx := context.Background()

	logger := log.New(io.Discard, "", 0)
	r := NewWithPolicy(s, policy.Policy{ReopenCooldown: 48 * time.Hour}, logger)

	if _, err := r.Reconcile(ctx, "insp-77", "V-102", "u", []inspection.Defect{brakeDefect()}); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	tasks, _ := s.ListTasks(ctx, store.TaskFilter{InspectionID: "insp-77"})
	id := tasks[0].ID
	for _, to := range []task.Status{task.StatusLogged, task.StatusCompleted} {
		if _, err := r.Transition(ctx, id, task.TransitionRequest{To: to}); err != nil {
			t.Fatalf("Transition(%s): %v", to, err)
		}
	}

	// Within the cooldown the recurrence is suppressed.
	res, err := r.Reconcile(ctx, "insp-77", "V-102", "u", []inspection.Defect{brakeDefect()})
	if err != nil {
		t.Fatalf("re-Reconcile: %v", err)
	}
	if res.Skipped != 1 || res.Created != 0 {
		t.Errorf("result = %+v, want 1 skipped", res)
	}

	// After the cooldown a new task is created.
	r.now = func() time.Time { return time.Now().UTC().Add(72 * time.Hour) }
	res, err = r.Reconcile(ctx, "insp-77", "V-102", "u", []inspection.Defect{brakeDefect()})
	if err != nil {
		t.Fatalf("post-cooldown Reconcile: %v", err)
	}
	if res.Created != 1 || res.Skipped != 0 {
		t.Errorf("result = %+v, want 1 created", res)
	}
}

func TestReconcileConflictRetriesAsUpdate(t *testing.T) {
	s, r := testEnv(t)
	seed(t, s, "V-102", "insp-77")
	ctx := context.Background()

	// Two defects with the same signature in one batch. The group
	// snapshot is loaded once at the start, so the second defect sees no
	// existing task, tries to create, and hits the partial unique index;
	// the retry path must resolve it as an update against the row the
	// first defect created.
	first := brakeDefect()
	second := brakeDefect()
	second.Description = "brake  PADS"
	second.Comment = "second report"

	res, err := r.Reconcile(ctx, "insp-77", "V-102", "u", []inspection.Defect{first, second})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if res.Created != 1 || res.Updated != 1 || res.Skipped != 0 {
		t.Errorf("result = %+v, want 1 created / 1 updated", res)
	}
	if len(res.Errors) != 0 {
		t.Errorf("conflict surfaced as error instead of retry: %v", res.Errors)
	}

	tasks, err := s.ListTasks(ctx, store.TaskFilter{InspectionID: "insp-77"})
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("len(tasks) = %d, want 1 active task", len(tasks))
	}
	if tasks[0].Comment != "second report" {
		t.Errorf("Comment = %q, want refreshed by the retry-as-update", tasks[0].Comment)
	}
	if tasks[0].Status != task.StatusPending {
		t.Errorf("Status = %q, want pending", tasks[0].Status)
	}
}

func TestReconcileUnknownInspection(t *testing.T) {
	s, r := testEnv(t)
	seed(t, s, "V-102", "insp-77")
	ctx := context.Background()

	_, err := r.Reconcile(ctx, "missing", "V-102", "u", []inspection.Defect{brakeDefect()})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}

	// No writes happened.
	tasks, _ := s.ListTasks(ctx, store.TaskFilter{})
	if len(tasks) != 0 {
		t.Errorf("tasks written on failed precheck: %d", len(tasks))
	}
}

func TestReconcileVehicleMismatch(t *testing.T) {
	s, r := testEnv(t)
	seed(t, s, "V-102", "insp-77")
	seed(t, s, "V-200", "insp-88")
	ctx := context.Background()

	_, err := r.Reconcile(ctx, "insp-77", "V-200", "u", []inspection.Defect{brakeDefect()})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestReconcileCollectsValidationErrors(t *testing.T) {
	s, r := testEnv(t)
	seed(t, s, "V-102", "insp-77")
	ctx := context.Background()

	defects := []inspection.Defect{
		{ItemNumber: 0, Description: "Brake Pads"}, // bad item number
		{ItemNumber: 7, Description: "   "},        // blank description
		brakeDefect(),                              // valid
	}

	res, err := r.Reconcile(ctx, "insp-77", "V-102", "u", defects)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if res.Created != 1 {
		t.Errorf("Created = %d, want 1 (batch continues past bad defects)", res.Created)
	}
	if len(res.Errors) != 2 {
		t.Fatalf("len(Errors) = %d, want 2", len(res.Errors))
	}
	for _, de := range res.Errors {
		if !IsValidation(de) {
			t.Errorf("error %v is not a validation error", de)
		}
	}
}

func TestReconcileReportsDuplicateGroups(t *testing.T) {
	s, r := testEnv(t)
	seed(t, s, "V-102", "insp-77")
	ctx := context.Background()

	// Manufacture a duplicate group: one completed and one active task for
	// the same signature, plus a second completed one.
	mk := func(status task.Status) string {
		tk := &task.Task{
			Type:         task.TypeInspectionDefect,
			VehicleID:    "V-102",
			InspectionID: "insp-77",
			Signature:    "4|brake pads",
			ItemNumber:   4,
			Title:        "Item 4: Brake Pads",
			Status:       task.StatusPending,
		}
		if status == task.StatusCompleted {
			now := time.Now().UTC()
			tk.Status = task.StatusCompleted
			tk.CompletedAt = &now
		}
		if err := s.CreateTask(ctx, tk); err != nil {
			t.Fatalf("CreateTask: %v", err)
		}
		return tk.ID
	}
	mk(task.StatusCompleted)
	activeID := mk(task.StatusPending)

	res, err := r.Reconcile(ctx, "insp-77", "V-102", "u", []inspection.Defect{brakeDefect()})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(res.DuplicateGroups) != 1 {
		t.Fatalf("len(DuplicateGroups) = %d, want 1", len(res.DuplicateGroups))
	}
	g := res.DuplicateGroups[0]
	if g.Signature != "4|brake pads" || len(g.TaskIDs) != 2 {
		t.Errorf("group = %+v", g)
	}

	// The active task was updated; reconciliation was not blocked.
	if res.Updated != 1 {
		t.Errorf("Updated = %d, want 1", res.Updated)
	}
	got, err := s.GetTask(ctx, activeID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Comment != "worn left side" {
		t.Errorf("active task not refreshed: %+v", got)
	}
}

func TestReconcileLegacyTitleGrouping(t *testing.T) {
	s, r := testEnv(t)
	seed(t, s, "V-102", "insp-77")
	ctx := context.Background()

	// A legacy task row: no stored signature, identity only in the title.
	legacy := &task.Task{
		Type:         task.TypeInspectionDefect,
		VehicleID:    "V-102",
		InspectionID: "insp-77",
		Signature:    "ignored",
		ItemNumber:   4,
		Title:        "Item 4: Brake   Pads",
	}
	if err := s.CreateTask(ctx, legacy); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	// Clear the signature the way a legacy row would look.
	if _, err := s.RawDB().Exec(`UPDATE tasks SET signature = '' WHERE id = ?`, legacy.ID); err != nil {
		t.Fatalf("clear signature: %v", err)
	}

	res, err := r.Reconcile(ctx, "insp-77", "V-102", "u", []inspection.Defect{brakeDefect()})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if res.Updated != 1 || res.Created != 0 {
		t.Errorf("result = %+v, want legacy row matched and updated", res)
	}
}

type recordingEvents struct {
	created []string
	updated []string
}

func (e *recordingEvents) TaskCreated(t *task.Task) { e.created = append(e.created, t.ID) }
func (e *recordingEvents) TaskUpdated(t *task.Task) { e.updated = append(e.updated, t.ID) }

func TestReconcileEmitsEvents(t *testing.T) {
	s, r := testEnv(t)
	seed(t, s, "V-102", "insp-77")
	ctx := context.Background()

	ev := &recordingEvents{}
	r.SetEvents(ev)

	if _, err := r.Reconcile(ctx, "insp-77", "V-102", "u", []inspection.Defect{brakeDefect()}); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(ev.created) != 1 {
		t.Errorf("created events = %v, want 1", ev.created)
	}

	if _, err := r.Reconcile(ctx, "insp-77", "V-102", "u", []inspection.Defect{brakeDefect()}); err != nil {
		t.Fatalf("re-Reconcile: %v", err)
	}
	if len(ev.updated) != 1 {
		t.Errorf("updated events = %v, want 1", ev.updated)
	}

	if _, err := r.Transition(ctx, ev.created[0], task.TransitionRequest{To: task.StatusLogged}); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if len(ev.updated) != 2 {
		t.Errorf("updated events after transition = %v, want 2", ev.updated)
	}
}

func TestTransitionInvalid(t *testing.T) {
	s, r := testEnv(t)
	seed(t, s, "V-102", "insp-77")
	ctx := context.Background()

	if _, err := r.Reconcile(ctx, "insp-77", "V-102", "u", []inspection.Defect{brakeDefect()}); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	tasks, _ := s.ListTasks(ctx, store.TaskFilter{InspectionID: "insp-77"})
	id := tasks[0].ID

	_, err := r.Transition(ctx, id, task.TransitionRequest{To: task.StatusCompleted})
	if !errors.Is(err, task.ErrInvalidTransition) {
		t.Errorf("pending -> completed error = %v, want ErrInvalidTransition", err)
	}

	// The task is unchanged and has no history.
	got, _ := s.GetTask(ctx, id)
	if got.Status != task.StatusPending {
		t.Errorf("Status = %q, want pending", got.Status)
	}
	history, _ := s.ListTransitions(ctx, id)
	if len(history) != 0 {
		t.Errorf("history written for rejected transition: %d", len(history))
	}
}

func TestTransitionUndoRoundTrip(t *testing.T) {
	s, r := testEnv(t)
	seed(t, s, "V-102", "insp-77")
	ctx := context.Background()

	if _, err := r.Reconcile(ctx, "insp-77", "V-102", "u", []inspection.Defect{brakeDefect()}); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	tasks, _ := s.ListTasks(ctx, store.TaskFilter{InspectionID: "insp-77"})
	id := tasks[0].ID

	if _, err := r.Transition(ctx, id, task.TransitionRequest{To: task.StatusLogged}); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	got, err := r.Transition(ctx, id, task.TransitionRequest{Undo: true, Actor: "mech-1"})
	if err != nil {
		t.Fatalf("undo: %v", err)
	}
	if got.Status != task.StatusPending {
		t.Errorf("Status = %q, want pending", got.Status)
	}

	// The undo itself is a history record, not a rewrite.
	history, err := s.ListTransitions(ctx, id)
	if err != nil {
		t.Fatalf("ListTransitions: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("len(history) = %d, want 2", len(history))
	}
	if history[1].Kind != task.KindUndo {
		t.Errorf("Kind = %q, want undo", history[1].Kind)
	}
}

func TestTransitionResumeRoundTrip(t *testing.T) {
	s, r := testEnv(t)
	seed(t, s, "V-102", "insp-77")
	ctx := context.Background()

	if _, err := r.Reconcile(ctx, "insp-77", "V-102", "u", []inspection.Defect{brakeDefect()}); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	tasks, _ := s.ListTasks(ctx, store.TaskFilter{InspectionID: "insp-77"})
	id := tasks[0].ID

	for _, to := range []task.Status{task.StatusLogged, task.StatusCompleted} {
		if _, err := r.Transition(ctx, id, task.TransitionRequest{To: to}); err != nil {
			t.Fatalf("Transition(%s): %v", to, err)
		}
	}

	got, err := r.Transition(ctx, id, task.TransitionRequest{Resume: true})
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if got.Status != task.StatusLogged {
		t.Errorf("Status = %q, want logged", got.Status)
	}
	if got.CompletedAt != nil {
		t.Error("CompletedAt not cleared")
	}

	// Resuming put the signature back in play: a second active task for
	// the same signature must be rejected by the store.
	dup := &task.Task{
		Type:         task.TypeInspectionDefect,
		VehicleID:    "V-102",
		InspectionID: "insp-77",
		Signature:    "4|brake pads",
		ItemNumber:   4,
		Title:        "Item 4: Brake Pads",
	}
	if err := s.CreateTask(ctx, dup); !errors.Is(err, store.ErrDuplicateActive) {
		t.Errorf("duplicate create error = %v, want ErrDuplicateActive", err)
	}
}

func TestTransitionMissingTask(t *testing.T) {
	_, r := testEnv(t)
	_, err := r.Transition(context.Background(), "missing", task.TransitionRequest{To: task.StatusLogged})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}
