package task

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidTransition is returned when a requested status change is not
// allowed from the task's current state. Check with errors.Is().
var ErrInvalidTransition = errors.New("invalid status transition")

// TransitionKind distinguishes how a history record came to be.
type TransitionKind string

const (
	// KindStatus is a normal forward status change.
	KindStatus TransitionKind = "status"

	// KindUndo reverts the task to the state it held before its most
	// recent transition.
	KindUndo TransitionKind = "undo"

	// KindResumed reopens a completed task back into the workshop queue.
	KindResumed TransitionKind = "resumed"
)

// Transition is one immutable entry of a task's status history. History is
// append-only: even an undo is recorded as a new entry rather than
// rewriting earlier ones.
type Transition struct {
	ID     string
	TaskID string

	// Kind records whether this was a forward change, an undo, or a resume.
	Kind TransitionKind

	// Status is the task status after this transition was applied.
	Status Status

	// From and To record the state change for the audit trail.
	From Status
	To   Status

	Actor     string
	Note      string
	CreatedAt time.Time
}

// TransitionRequest describes a requested status change.
type TransitionRequest struct {
	// To is the target status for a forward transition. Ignored when
	// Undo or Resume is set.
	To Status

	// Undo reverts the task to its immediately preceding state. The
	// target is derived from the history, not fixed.
	Undo bool

	// Resume reopens a completed task back to logged. This is the only
	// way out of completed.
	Resume bool

	Actor string
	Note  string
}

// forward is the allowed forward-transition table. completed is terminal
// here; it is only left via a resume request.
var forward = map[Status][]Status{
	StatusPending:    {StatusLogged},
	StatusLogged:     {StatusOnHold, StatusInProgress, StatusCompleted},
	StatusOnHold:     {StatusInProgress, StatusCompleted},
	StatusInProgress: {StatusOnHold, StatusCompleted},
	StatusCompleted:  {},
}

// CanTransition reports whether a forward move from one status to another
// is allowed.
func CanTransition(from, to Status) bool {
	for _, s := range forward[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Apply validates a transition request against the task's current state
// and history, mutates the task, and returns the history record to
// append. On error the task is left unchanged.
//
// history must be the task's full transition history in creation order;
// undo uses it to derive the preceding state.
func Apply(t *Task, history []Transition, req TransitionRequest) (Transition, error) {
	switch {
	case req.Undo:
		return applyUndo(t, history, req)
	case req.Resume:
		return applyResume(t, req)
	default:
		return applyForward(t, req)
	}
}

func applyForward(t *Task, req TransitionRequest) (Transition, error) {
	if !req.To.Valid() {
		return Transition{}, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, req.To)
	}
	if !CanTransition(t.Status, req.To) {
		return Transition{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, req.To)
	}

	rec := newTransition(t, KindStatus, req.To, req)
	move(t, req.To, rec.CreatedAt)
	return rec, nil
}

func applyResume(t *Task, req TransitionRequest) (Transition, error) {
	if t.Status != StatusCompleted {
		return Transition{}, fmt.Errorf("%w: resume from %s (only completed tasks can be resumed)", ErrInvalidTransition, t.Status)
	}

	rec := newTransition(t, KindResumed, StatusLogged, req)
	move(t, StatusLogged, rec.CreatedAt)
	return rec, nil
}

func applyUndo(t *Task, history []Transition, req TransitionRequest) (Transition, error) {
	if t.Status == StatusCompleted {
		return Transition{}, fmt.Errorf("%w: undo from completed (use resume)", ErrInvalidTransition)
	}

	prev, ok := previousState(history)
	if !ok {
		return Transition{}, fmt.Errorf("%w: undo with empty history", ErrInvalidTransition)
	}

	rec := newTransition(t, KindUndo, prev.status, req)
	move(t, prev.status, rec.CreatedAt)
	if prev.status == StatusCompleted {
		// Reverting a resume restores the original completion time, not
		// the time of the undo.
		completed := prev.at
		t.CompletedAt = &completed
	}
	return rec, nil
}

// stackEntry is one reachable state during history replay: the status and
// when it was entered.
type stackEntry struct {
	status Status
	at     time.Time
}

// previousState replays the history as a stack to find the state the
// task held before its most recent effective transition. Undo entries pop
// the entry they cancel, so repeated undos keep walking backwards.
func previousState(history []Transition) (stackEntry, bool) {
	stack := []stackEntry{{status: StatusPending}}
	for _, rec := range history {
		if rec.Kind == KindUndo {
			if len(stack) > 1 {
				stack = stack[:len(stack)-1]
			}
			continue
		}
		stack = append(stack, stackEntry{status: rec.Status, at: rec.CreatedAt})
	}
	if len(stack) < 2 {
		return stackEntry{}, false
	}
	return stack[len(stack)-2], true
}

func newTransition(t *Task, kind TransitionKind, to Status, req TransitionRequest) Transition {
	return Transition{
		ID:        uuid.NewString(),
		TaskID:    t.ID,
		Kind:      kind,
		Status:    to,
		From:      t.Status,
		To:        to,
		Actor:     req.Actor,
		Note:      req.Note,
		CreatedAt: time.Now().UTC(),
	}
}

// move applies the status change to the task and keeps CompletedAt in
// step with the status.
func move(t *Task, to Status, at time.Time) {
	t.Status = to
	t.UpdatedAt = at
	if to == StatusCompleted {
		completed := at
		t.CompletedAt = &completed
	} else {
		t.CompletedAt = nil
	}
}
