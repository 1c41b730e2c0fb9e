// Package shopping implements owner-scoped shopping lists on top of a
// remote document store.
//
// A Store is a named shopping destination; an Item is one entry on a
// Store's checklist. Both live in the document store and are only ever
// read back through live queries, so every client converges on the
// committed remote state.
//
// # Ownership
//
// Every document carries the ownerId of the user who created it. Reads are
// scoped to the owner, and mutations that target an existing document read
// it first and fail with ErrPermissionDenied when it belongs to someone
// else. The owner is passed explicitly or resolved through an Identity; with
// neither, operations fail with ErrAuthRequired before touching the store.
//
// # Cascade deletes
//
// Deleting a Store deletes all of its Items in the same atomic batch. The
// CascadeDeleter is the only code path that deletes Stores.
//
// # Usage
//
//	src := docstore.NewMemory(docstore.DefaultConfig())
//	cascade := shopping.NewCascadeDeleter(src, shopping.DefaultRegistry(), logger)
//	stores := shopping.NewStoreRepository(src, cascade, nil, logger)
//	items := shopping.NewItemRepository(src, nil, logger)
//
//	sid, err := stores.CreateStore(ctx, "Market", "u1")
//	iid, err := items.AddItem(ctx, sid, "u1", "Milk")
//
//	binding, err := items.ListItems(ctx, sid, "u1")
//	for list, err := range binding.Snapshots(ctx) {
//		// render list
//	}
package shopping
