package shopping

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/Lucaslls20/Lista-de-Compras/docstore"
	"github.com/Lucaslls20/Lista-de-Compras/live"
)

// StoreRepository manages the stores collection for one owner at a time.
type StoreRepository struct {
	store    docstore.Store
	cascade  *CascadeDeleter
	identity Identity
	logger   *slog.Logger
	now      func() time.Time
}

// NewStoreRepository creates a store repository. A nil identity resolves
// owners from the request context (see WithOwner).
func NewStoreRepository(s docstore.Store, cascade *CascadeDeleter, identity Identity, logger *slog.Logger) *StoreRepository {
	if logger == nil {
		logger = slog.Default()
	}
	if identity == nil {
		identity = ContextIdentity{}
	}
	if cascade == nil {
		cascade = NewCascadeDeleter(s, DefaultRegistry(), logger)
	}
	return &StoreRepository{
		store:    s,
		cascade:  cascade,
		identity: identity,
		logger:   logger,
		now:      time.Now,
	}
}

// CreateStore inserts a new store and returns its id.
func (r *StoreRepository) CreateStore(ctx context.Context, title, ownerID string) (string, error) {
	const op = "create store"
	ownerID, err := resolveOwner(ctx, op, r.identity, ownerID)
	if err != nil {
		return "", err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return "", newError(op, ErrInvalidArgument, "title is blank")
	}

	id, err := r.store.Insert(ctx, StoresCollection, storeFields(title, ownerID, r.now()))
	if err != nil {
		return "", classify(op, err)
	}
	return id, nil
}

// ListStores returns the owner's stores as a live query, oldest first.
func (r *StoreRepository) ListStores(ctx context.Context, ownerID string) (*live.Binding[Store], error) {
	ownerID, err := resolveOwner(ctx, "list stores", r.identity, ownerID)
	if err != nil {
		return nil, err
	}
	return live.NewBinding(r.store, live.Scope{
		Collection: StoresCollection,
		OwnerField: FieldOwnerID,
		OwnerID:    ownerID,
	}, DecodeStore, live.WithOrder(CompareStores), live.WithLogger[Store](r.logger)), nil
}

// GetStore reads one store owned by the owner.
func (r *StoreRepository) GetStore(ctx context.Context, storeID, ownerID string) (Store, error) {
	const op = "get store"
	ownerID, err := resolveOwner(ctx, op, r.identity, ownerID)
	if err != nil {
		return Store{}, err
	}
	if strings.TrimSpace(storeID) == "" {
		return Store{}, newError(op, ErrInvalidArgument, "store id is blank")
	}
	return getOwnedStore(ctx, r.store, op, storeID, ownerID)
}

// DeleteStore deletes a store and all of its items atomically.
//
// The store is read first: a store owned by someone else fails with
// ErrPermissionDenied. A store that is already gone is not an error; any
// items still referencing it are removed.
func (r *StoreRepository) DeleteStore(ctx context.Context, storeID, ownerID string) error {
	const op = "delete store"
	ownerID, err := resolveOwner(ctx, op, r.identity, ownerID)
	if err != nil {
		return err
	}
	if strings.TrimSpace(storeID) == "" {
		return newError(op, ErrInvalidArgument, "store id is blank")
	}

	if _, err := getOwnedStore(ctx, r.store, op, storeID, ownerID); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return r.cascade.Delete(ctx, StoresCollection, storeID)
}

// DeleteAllStores deletes every store of the owner, with their items, in
// one atomic batch. It returns how many stores were deleted.
func (r *StoreRepository) DeleteAllStores(ctx context.Context, ownerID string) (int, error) {
	ownerID, err := resolveOwner(ctx, "delete all stores", r.identity, ownerID)
	if err != nil {
		return 0, err
	}
	return r.cascade.DeleteAll(ctx, StoresCollection, FieldOwnerID, ownerID)
}

// getOwnedStore reads a store and checks it belongs to ownerID.
func getOwnedStore(ctx context.Context, s docstore.Store, op, storeID, ownerID string) (Store, error) {
	doc, err := s.Get(ctx, StoresCollection, storeID)
	if err != nil {
		return Store{}, classify(op, err)
	}
	if doc.String(FieldOwnerID) != ownerID {
		return Store{}, newError(op, ErrPermissionDenied, "store %s belongs to another owner", storeID)
	}
	store, err := DecodeStore(doc)
	if err != nil {
		return Store{}, &Error{Op: op, Kind: ErrInvalidArgument, Err: err}
	}
	return store, nil
}
