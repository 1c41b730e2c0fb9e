package shopping

import (
	"cmp"
	"fmt"
	"strings"
	"time"

	"github.com/Lucaslls20/Lista-de-Compras/docstore"
)

// Collection names.
const (
	StoresCollection = "stores"
	ItemsCollection  = "shoppingItems"
)

// Document field names.
const (
	FieldTitle     = "title"
	FieldCompleted = "completed"
	FieldDateAdded = "dateAdded"
	FieldOwnerID   = "ownerId"
	FieldStoreID   = "storeId"
)

// Store is a named shopping destination holding Items.
type Store struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	// Completed is kept for compatibility with existing documents and is
	// always false for new stores.
	Completed bool      `json:"completed"`
	DateAdded time.Time `json:"dateAdded"`
	OwnerID   string    `json:"ownerId"`
}

// Item is one entry on a Store's checklist.
type Item struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Completed bool   `json:"completed"`
	StoreID   string `json:"storeId"`
	OwnerID   string `json:"ownerId"`
}

// DecodeStore maps a document onto a Store, rejecting documents that lack
// a required field.
func DecodeStore(doc docstore.Document) (Store, error) {
	s := Store{ID: doc.ID}
	var err error
	if s.Title, err = requiredString(doc, FieldTitle); err != nil {
		return Store{}, err
	}
	if s.OwnerID, err = requiredString(doc, FieldOwnerID); err != nil {
		return Store{}, err
	}
	raw, err := requiredString(doc, FieldDateAdded)
	if err != nil {
		return Store{}, err
	}
	if s.DateAdded, err = time.Parse(time.RFC3339Nano, raw); err != nil {
		return Store{}, fmt.Errorf("store %s: field %s: %w", doc.ID, FieldDateAdded, err)
	}
	s.Completed, _ = doc.Bool(FieldCompleted)
	return s, nil
}

// DecodeItem maps a document onto an Item, rejecting documents that lack a
// required field.
func DecodeItem(doc docstore.Document) (Item, error) {
	it := Item{ID: doc.ID}
	var err error
	if it.Title, err = requiredString(doc, FieldTitle); err != nil {
		return Item{}, err
	}
	if it.StoreID, err = requiredString(doc, FieldStoreID); err != nil {
		return Item{}, err
	}
	if it.OwnerID, err = requiredString(doc, FieldOwnerID); err != nil {
		return Item{}, err
	}
	completed, ok := doc.Bool(FieldCompleted)
	if !ok {
		return Item{}, fmt.Errorf("item %s: field %s missing or not a boolean", doc.ID, FieldCompleted)
	}
	it.Completed = completed
	return it, nil
}

func requiredString(doc docstore.Document, field string) (string, error) {
	v := doc.String(field)
	if v == "" {
		return "", fmt.Errorf("document %s: field %s missing or empty", doc.ID, field)
	}
	return v, nil
}

func storeFields(title, ownerID string, now time.Time) map[string]any {
	return map[string]any{
		FieldTitle:     title,
		FieldCompleted: false,
		FieldDateAdded: now.UTC().Format(time.RFC3339Nano),
		FieldOwnerID:   ownerID,
	}
}

func itemFields(title, storeID, ownerID string) map[string]any {
	return map[string]any{
		FieldTitle:     title,
		FieldCompleted: false,
		FieldStoreID:   storeID,
		FieldOwnerID:   ownerID,
	}
}

// CompareStores orders stores oldest first, then by title.
func CompareStores(a, b Store) int {
	if c := a.DateAdded.Compare(b.DateAdded); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Title, b.Title); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// CompareItems orders items by title, ignoring case, then by id.
func CompareItems(a, b Item) int {
	if c := cmp.Compare(strings.ToLower(a.Title), strings.ToLower(b.Title)); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}
