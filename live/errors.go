package live

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrAuthRequired is returned when a binding has no owner to scope to.
	ErrAuthRequired = errors.New("live: owner identity required")

	// ErrConnection is returned when the document store cannot serve the query.
	ErrConnection = errors.New("live: connection error")
)

// connectionError tags a store failure as ErrConnection, keeping the cause
// reachable. Context errors are returned unchanged.
func connectionError(collection string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("live %s: %w: %w", collection, ErrConnection, err)
}
