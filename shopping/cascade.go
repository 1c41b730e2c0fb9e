package shopping

import (
	"context"
	"errors"
	"log/slog"

	"github.com/Lucaslls20/Lista-de-Compras/docstore"
)

// DefaultRegistry returns the shopping list relationships: Items belong to
// a Store through their storeId field.
func DefaultRegistry() *docstore.Registry {
	r := docstore.NewRegistry()
	r.Register(docstore.Relationship{
		ParentCollection: StoresCollection,
		ChildCollection:  ItemsCollection,
		ParentKeyField:   FieldStoreID,
	})
	return r
}

// maxCascadeDepth bounds how deep relationships are followed.
const maxCascadeDepth = 8

// CascadeDeleter deletes documents together with every descendant recorded
// in its registry, as one atomic batch.
//
// The batch relies on the store's all-or-nothing guarantee: when the commit
// fails nothing is deleted and no compensation is attempted. Delete ops are
// unconditional, so documents already removed by a concurrent delete do not
// fail the batch.
type CascadeDeleter struct {
	store    docstore.Store
	registry *docstore.Registry
	logger   *slog.Logger
}

// NewCascadeDeleter creates a cascade delete coordinator.
func NewCascadeDeleter(s docstore.Store, registry *docstore.Registry, logger *slog.Logger) *CascadeDeleter {
	if logger == nil {
		logger = slog.Default()
	}
	if registry == nil {
		registry = DefaultRegistry()
	}
	return &CascadeDeleter{
		store:    s,
		registry: registry,
		logger:   logger,
	}
}

// Delete removes the document collection/id and all its descendants.
// Failures are reported as *CascadeDeleteError.
func (c *CascadeDeleter) Delete(ctx context.Context, collection, id string) error {
	c.logger.Info("processing cascade delete",
		"collection", collection,
		"id", id,
	)

	ops, err := c.collect(ctx, collection, id, 0)
	if err != nil {
		return c.fail(collection, id, err)
	}
	ops = append(ops, docstore.DeleteOp(collection, id))

	if err := c.store.Batch(ctx, ops); err != nil {
		return c.fail(collection, id, err)
	}

	c.logger.Info("cascade delete completed",
		"collection", collection,
		"id", id,
		"childrenDeleted", len(ops)-1,
	)
	return nil
}

// DeleteAll removes every document of collection whose ownerField equals
// ownerID, with all their descendants, in a single batch. It returns how
// many top-level documents were deleted.
func (c *CascadeDeleter) DeleteAll(ctx context.Context, collection, ownerField, ownerID string) (int, error) {
	c.logger.Info("processing owner-wide cascade delete",
		"collection", collection,
		"ownerId", ownerID,
	)

	parents, err := docstore.QueryConsistent(ctx, c.store, collection, docstore.Eq(ownerField, ownerID))
	if err != nil {
		return 0, c.fail(collection, "", err)
	}
	if len(parents) == 0 {
		return 0, nil
	}

	var ops []docstore.Op
	for _, p := range parents {
		children, err := c.collect(ctx, collection, p.ID, 0)
		if err != nil {
			return 0, c.fail(collection, "", err)
		}
		ops = append(ops, children...)
		ops = append(ops, docstore.DeleteOp(collection, p.ID))
	}

	if err := c.store.Batch(ctx, ops); err != nil {
		return 0, c.fail(collection, "", err)
	}

	c.logger.Info("owner-wide cascade delete completed",
		"collection", collection,
		"ownerId", ownerID,
		"deleted", len(parents),
		"ops", len(ops),
	)
	return len(parents), nil
}

// collect returns delete ops for every descendant of collection/id,
// deepest first.
func (c *CascadeDeleter) collect(ctx context.Context, collection, id string, depth int) ([]docstore.Op, error) {
	if depth >= maxCascadeDepth {
		return nil, nil
	}
	var ops []docstore.Op
	for _, rel := range c.registry.ChildrenOf(collection) {
		children, err := docstore.QueryConsistent(ctx, c.store, rel.ChildCollection, docstore.Eq(rel.ParentKeyField, id))
		if err != nil {
			return nil, err
		}
		for _, child := range children {
			if c.registry.HasChildren(rel.ChildCollection) {
				grandchildren, err := c.collect(ctx, rel.ChildCollection, child.ID, depth+1)
				if err != nil {
					return nil, err
				}
				ops = append(ops, grandchildren...)
			}
			ops = append(ops, docstore.DeleteOp(rel.ChildCollection, child.ID))
		}
	}
	return ops, nil
}

func (c *CascadeDeleter) fail(collection, id string, err error) error {
	c.logger.Error("cascade delete failed",
		"collection", collection,
		"id", id,
		"error", err,
	)
	cause := err
	if !errors.Is(err, docstore.ErrBatchTooLarge) {
		cause = classify("cascade delete", err)
	}
	return &CascadeDeleteError{
		Collection: collection,
		ID:         id,
		Err:        cause,
	}
}
