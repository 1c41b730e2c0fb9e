package docstore

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a document doesn't exist.
	ErrNotFound = errors.New("docstore: document not found")

	// ErrAlreadyExists is returned when inserting a document with an existing ID.
	ErrAlreadyExists = errors.New("docstore: document already exists")

	// ErrPermission is returned when the backend rejects the caller's credentials.
	ErrPermission = errors.New("docstore: permission denied")

	// ErrUnavailable is returned for transport and service failures.
	ErrUnavailable = errors.New("docstore: backend unavailable")

	// ErrBatchTooLarge is returned when a batch holds more operations than the backend allows.
	ErrBatchTooLarge = errors.New("docstore: batch exceeds operation limit")

	// ErrInvalidDocument is returned when fields cannot be stored by the backend.
	ErrInvalidDocument = errors.New("docstore: invalid document")
)

// wrap attaches a sentinel kind and the operation name to a backend error.
// Context errors pass through with the operation name only, so callers can
// still test them with errors.Is.
func wrap(op string, kind, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if kind == nil || errors.Is(err, kind) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, kind, err)
}
