package shopping

import (
	"context"
	"errors"
	"fmt"

	"github.com/Lucaslls20/Lista-de-Compras/docstore"
	"github.com/Lucaslls20/Lista-de-Compras/live"
)

// Error kinds. Every error returned by this package matches exactly one of
// them with errors.Is, except context cancellation which is returned as is.
var (
	// ErrAuthRequired is returned when no owner identity is available.
	// It is the same value as live.ErrAuthRequired.
	ErrAuthRequired = live.ErrAuthRequired

	// ErrInvalidArgument is returned for blank or malformed input. It is
	// always reported before any remote call.
	ErrInvalidArgument = errors.New("shopping: invalid argument")

	// ErrPermissionDenied is returned when a document belongs to another owner
	// or the store rejects the caller's credentials.
	ErrPermissionDenied = errors.New("shopping: permission denied")

	// ErrNotFound is returned when a referenced document is missing.
	ErrNotFound = errors.New("shopping: not found")

	// ErrConnection is returned for transport and service failures.
	// It is the same value as live.ErrConnection.
	ErrConnection = live.ErrConnection

	// ErrCascadeDeleteFailed is returned when a cascade delete batch could not
	// be committed. Nothing was deleted.
	ErrCascadeDeleteFailed = errors.New("shopping: cascade delete failed")
)

// Error describes a failed operation. Both its Kind and its cause match
// with errors.Is.
type Error struct {
	Op   string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// CascadeDeleteError reports a cascade delete that was not applied.
type CascadeDeleteError struct {
	// Collection and ID name the parent being deleted. ID is empty for an
	// owner-wide delete.
	Collection string
	ID         string
	Err        error
}

func (e *CascadeDeleteError) Error() string {
	target := e.Collection
	if e.ID != "" {
		target += "/" + e.ID
	}
	return fmt.Sprintf("cascade delete %s: %v", target, e.Err)
}

func (e *CascadeDeleteError) Unwrap() []error {
	return []error{ErrCascadeDeleteFailed, e.Err}
}

func newError(op string, kind error, format string, args ...any) error {
	return &Error{Op: op, Kind: kind, Err: fmt.Errorf(format, args...)}
}

// classify tags a document store or live query error with its kind.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	kind := ErrConnection
	switch {
	case errors.Is(err, ErrAuthRequired):
		kind = ErrAuthRequired
	case errors.Is(err, docstore.ErrNotFound):
		kind = ErrNotFound
	case errors.Is(err, docstore.ErrPermission):
		kind = ErrPermissionDenied
	case errors.Is(err, docstore.ErrInvalidDocument):
		kind = ErrInvalidArgument
	}
	return &Error{Op: op, Kind: kind, Err: err}
}
