package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means the target document does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict means an insert collided with an existing primary key.
	ErrConflict = errors.New("document already exists")
	// ErrRemoteConflict means a pushed write lost to a newer remote row.
	// It is resolved internally by the remote-wins path and never
	// surfaced to callers of the store.
	ErrRemoteConflict = errors.New("remote row is newer")
	// ErrPendingExists means a pending borrow request already exists
	// for the (book, borrower) pair.
	ErrPendingExists = errors.New("pending request already exists")
	// ErrNotPending means a request transition was attempted on a
	// request already in a terminal state.
	ErrNotPending = errors.New("request is not pending")
	// ErrForbidden means the caller does not own the target document.
	ErrForbidden = errors.New("operation not allowed")
)

// ValidationError reports a document field violating its declared shape.
type ValidationError struct {
	Collection string
	Field      string
	Reason     string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s.%s %s", e.Collection, e.Field, e.Reason)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
