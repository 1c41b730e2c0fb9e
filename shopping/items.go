package shopping

import (
	"context"
	"log/slog"
	"strings"

	"github.com/Lucaslls20/Lista-de-Compras/docstore"
	"github.com/Lucaslls20/Lista-de-Compras/live"
)

// ItemRepository manages the items of one owner's stores.
type ItemRepository struct {
	store    docstore.Store
	identity Identity
	logger   *slog.Logger
}

// NewItemRepository creates an item repository. A nil identity resolves
// owners from the request context (see WithOwner).
func NewItemRepository(s docstore.Store, identity Identity, logger *slog.Logger) *ItemRepository {
	if logger == nil {
		logger = slog.Default()
	}
	if identity == nil {
		identity = ContextIdentity{}
	}
	return &ItemRepository{
		store:    s,
		identity: identity,
		logger:   logger,
	}
}

// AddItem inserts an uncompleted item into a store the owner holds.
func (r *ItemRepository) AddItem(ctx context.Context, storeID, ownerID, title string) (string, error) {
	const op = "add item"
	ownerID, err := resolveOwner(ctx, op, r.identity, ownerID)
	if err != nil {
		return "", err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return "", newError(op, ErrInvalidArgument, "title is blank")
	}
	if strings.TrimSpace(storeID) == "" {
		return "", newError(op, ErrInvalidArgument, "store id is blank")
	}

	if _, err := getOwnedStore(ctx, r.store, op, storeID, ownerID); err != nil {
		return "", err
	}

	id, err := r.store.Insert(ctx, ItemsCollection, itemFields(title, storeID, ownerID))
	if err != nil {
		return "", classify(op, err)
	}
	return id, nil
}

// ListItems returns a store's items as a live query, ordered by title.
// Only items matching both the owner and the store are ever delivered.
func (r *ItemRepository) ListItems(ctx context.Context, storeID, ownerID string) (*live.Binding[Item], error) {
	const op = "list items"
	ownerID, err := resolveOwner(ctx, op, r.identity, ownerID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(storeID) == "" {
		return nil, newError(op, ErrInvalidArgument, "store id is blank")
	}
	return live.NewBinding(r.store, live.Scope{
		Collection:  ItemsCollection,
		OwnerField:  FieldOwnerID,
		OwnerID:     ownerID,
		ParentField: FieldStoreID,
		ParentID:    storeID,
	}, DecodeItem, live.WithOrder(CompareItems), live.WithLogger[Item](r.logger)), nil
}

// GetItem reads one item owned by the owner.
func (r *ItemRepository) GetItem(ctx context.Context, itemID, ownerID string) (Item, error) {
	const op = "get item"
	ownerID, err := resolveOwner(ctx, op, r.identity, ownerID)
	if err != nil {
		return Item{}, err
	}
	if strings.TrimSpace(itemID) == "" {
		return Item{}, newError(op, ErrInvalidArgument, "item id is blank")
	}
	return r.getOwned(ctx, op, itemID, ownerID)
}

// ToggleCompleted stores !currentCompleted on the item of the current
// identity.
//
// The write is a plain single-field update: two toggles issued with the
// same currentCompleted both write the same value, and concurrent writers
// resolve as last write wins.
func (r *ItemRepository) ToggleCompleted(ctx context.Context, itemID string, currentCompleted bool) error {
	const op = "toggle item"
	ownerID, err := resolveOwner(ctx, op, r.identity, "")
	if err != nil {
		return err
	}
	if strings.TrimSpace(itemID) == "" {
		return newError(op, ErrInvalidArgument, "item id is blank")
	}
	if _, err := r.getOwned(ctx, op, itemID, ownerID); err != nil {
		return err
	}

	err = r.store.Update(ctx, ItemsCollection, itemID, map[string]any{FieldCompleted: !currentCompleted})
	return classify(op, err)
}

// DeleteItem deletes an item after re-reading it to confirm ownership.
func (r *ItemRepository) DeleteItem(ctx context.Context, itemID, ownerID string) error {
	const op = "delete item"
	ownerID, err := resolveOwner(ctx, op, r.identity, ownerID)
	if err != nil {
		return err
	}
	if strings.TrimSpace(itemID) == "" {
		return newError(op, ErrInvalidArgument, "item id is blank")
	}
	if _, err := r.getOwned(ctx, op, itemID, ownerID); err != nil {
		return err
	}
	return classify(op, r.store.Delete(ctx, ItemsCollection, itemID))
}

// ClearCompleted deletes every completed item of a store in one atomic
// batch and returns how many were deleted.
func (r *ItemRepository) ClearCompleted(ctx context.Context, storeID, ownerID string) (int, error) {
	const op = "clear completed"
	ownerID, err := resolveOwner(ctx, op, r.identity, ownerID)
	if err != nil {
		return 0, err
	}
	if strings.TrimSpace(storeID) == "" {
		return 0, newError(op, ErrInvalidArgument, "store id is blank")
	}
	if _, err := getOwnedStore(ctx, r.store, op, storeID, ownerID); err != nil {
		return 0, err
	}

	docs, err := docstore.QueryConsistent(ctx, r.store, ItemsCollection,
		docstore.Eq(FieldStoreID, storeID),
		docstore.Eq(FieldOwnerID, ownerID),
		docstore.Eq(FieldCompleted, true),
	)
	if err != nil {
		return 0, classify(op, err)
	}
	if len(docs) == 0 {
		return 0, nil
	}

	ops := make([]docstore.Op, 0, len(docs))
	for _, doc := range docs {
		ops = append(ops, docstore.DeleteOp(ItemsCollection, doc.ID))
	}
	if err := r.store.Batch(ctx, ops); err != nil {
		return 0, classify(op, err)
	}

	r.logger.Info("cleared completed items",
		"storeId", storeID,
		"count", len(ops),
	)
	return len(ops), nil
}

// getOwned reads an item and checks it belongs to ownerID.
func (r *ItemRepository) getOwned(ctx context.Context, op, itemID, ownerID string) (Item, error) {
	doc, err := r.store.Get(ctx, ItemsCollection, itemID)
	if err != nil {
		return Item{}, classify(op, err)
	}
	if doc.String(FieldOwnerID) != ownerID {
		return Item{}, newError(op, ErrPermissionDenied, "item %s belongs to another owner", itemID)
	}
	item, err := DecodeItem(doc)
	if err != nil {
		return Item{}, &Error{Op: op, Kind: ErrInvalidArgument, Err: err}
	}
	return item, nil
}
