package reconcile

import (
	"errors"
	"fmt"

	"github.com/fleetworks/fleetworks/internal/store"
)

// ErrNotFound is returned when the inspection or vehicle referenced by a
// reconcile call doesn't exist. The whole call fails before any writes.
// This aliases the store sentinel so callers can check either package.
var ErrNotFound = store.ErrNotFound

// ValidationError marks a malformed defect. It is collected per defect
// and never aborts the batch.
type ValidationError struct {
	ItemNumber int
	Reason     string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid defect (item %d): %s", e.ItemNumber, e.Reason)
}

// DefectError records a per-defect failure inside a reconcile batch.
// Processing continues for the remaining defects.
type DefectError struct {
	ItemNumber int
	Signature  string
	Err        error
}

func (e *DefectError) Error() string {
	return fmt.Sprintf("defect item %d: %v", e.ItemNumber, e.Err)
}

func (e *DefectError) Unwrap() error {
	return e.Err
}

// IsValidation reports whether the error is a per-defect validation
// failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
