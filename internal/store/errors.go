package store

import (
	"errors"
	"strings"
)

// Common errors returned by store operations.
//
// These can be checked with errors.Is():
//
//	if errors.Is(err, store.ErrDuplicateActive) {
//	    // Another reconcile call won the create race; retry as update.
//	}
var (
	// ErrNotFound is returned when the requested row doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateActive is returned when inserting a task would violate
	// the one-active-task-per-(inspection, signature) invariant.
	ErrDuplicateActive = errors.New("active task already exists for this signature")
)

// IsConflict reports whether the error is the uniqueness race on the
// active-task index.
func IsConflict(err error) bool {
	return errors.Is(err, ErrDuplicateActive)
}

// isUniqueViolation detects SQLite unique constraint failures. The
// database/sql driver surfaces them as opaque errors, so this matches on
// the stable SQLite error text.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
