package docstore

import (
	"context"
	"maps"
	"reflect"

	"github.com/google/uuid"
)

// Document is one stored document: its identifier plus named fields.
//
// Field values are limited to string, bool, int64, float64 and nil.
// Timestamps travel as RFC 3339 strings so every backend round-trips them
// the same way.
type Document struct {
	// ID is assigned by the store on insert and never changes.
	ID string

	// Fields holds the document body, without the identifier attribute.
	Fields map[string]any
}

// String returns a string field, or "" when missing or not a string.
func (d Document) String(field string) string {
	s, _ := d.Fields[field].(string)
	return s
}

// Bool returns a boolean field and whether it was present as a boolean.
func (d Document) Bool(field string) (bool, bool) {
	b, ok := d.Fields[field].(bool)
	return b, ok
}

// Filter is an equality constraint on one field.
type Filter struct {
	Field string
	Value any
}

// Eq returns a filter requiring field == value.
func Eq(field string, value any) Filter {
	return Filter{Field: field, Value: value}
}

// Matches reports whether fields satisfy every filter.
func Matches(fields map[string]any, filters []Filter) bool {
	for _, f := range filters {
		v, ok := fields[f.Field]
		if !ok || !valuesEqual(v, f.Value) {
			return false
		}
	}
	return true
}

// valuesEqual compares field values, treating all numeric kinds as float64
// because backends do not preserve the integer/float distinction.
func valuesEqual(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// OpKind identifies the kind of a write operation.
type OpKind int

const (
	OpInsert OpKind = iota + 1
	OpUpdate
	OpDelete
)

func (k OpKind) String() string {
	switch k {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	}
	return "unknown"
}

// Op is a single write inside an atomic [Store.Batch].
type Op struct {
	Kind       OpKind
	Collection string

	// ID identifies the document. Insert ops with an empty ID get one
	// assigned by the store.
	ID string

	// Fields is the full body for inserts and the patched fields for updates.
	// Ignored for deletes.
	Fields map[string]any
}

// InsertOp returns an insert operation. Pass id "" to have one assigned.
func InsertOp(collection, id string, fields map[string]any) Op {
	return Op{Kind: OpInsert, Collection: collection, ID: id, Fields: fields}
}

// UpdateOp returns an update operation patching fields.
func UpdateOp(collection, id string, fields map[string]any) Op {
	return Op{Kind: OpUpdate, Collection: collection, ID: id, Fields: fields}
}

// DeleteOp returns an idempotent delete operation.
func DeleteOp(collection, id string) Op {
	return Op{Kind: OpDelete, Collection: collection, ID: id}
}

// Change describes a committed write to one document.
//
// Old and New are the document images before and after the write when the
// backend knows them. A nil image means "unknown"; a change with both images
// nil wakes every watcher of the collection.
type Change struct {
	Collection string
	ID         string
	Kind       OpKind
	Old        map[string]any
	New        map[string]any
}

// Snapshot is one delivery of a live query: the full matching set at the
// time of the query. Seq increases strictly within a watch. A snapshot with
// a non-nil Err is the last one delivered.
type Snapshot struct {
	Seq  uint64
	Docs []Document
	Err  error
}

// Querier runs point-in-time equality queries.
type Querier interface {
	Query(ctx context.Context, collection string, filters ...Filter) ([]Document, error)
}

// ConsistentQuerier is implemented by stores whose default Query may miss
// recent writes. QueryConsistent sees every write committed before it runs.
type ConsistentQuerier interface {
	QueryConsistent(ctx context.Context, collection string, filters ...Filter) ([]Document, error)
}

// QueryConsistent runs a read-your-writes query on q, using its
// QueryConsistent method when it has one and Query otherwise.
func QueryConsistent(ctx context.Context, q Querier, collection string, filters ...Filter) ([]Document, error) {
	if cq, ok := q.(ConsistentQuerier); ok {
		return cq.QueryConsistent(ctx, collection, filters...)
	}
	return q.Query(ctx, collection, filters...)
}

// Store is the remote document store consumed by the sync layer.
type Store interface {
	Querier

	// Insert stores a new document and returns its assigned identifier.
	Insert(ctx context.Context, collection string, fields map[string]any) (string, error)

	// Update sets the given fields on an existing document.
	// Returns ErrNotFound if the document doesn't exist.
	Update(ctx context.Context, collection, id string, fields map[string]any) error

	// Delete removes a document. Deleting a missing document is a no-op.
	Delete(ctx context.Context, collection, id string) error

	// Get reads a document. Returns ErrNotFound if it doesn't exist.
	Get(ctx context.Context, collection, id string) (Document, error)

	// Watch starts a live query. The channel closes when ctx is cancelled or
	// after a snapshot carrying an error.
	Watch(ctx context.Context, collection string, filters ...Filter) (<-chan Snapshot, error)

	// Batch applies every op atomically.
	Batch(ctx context.Context, ops []Op) error
}

// NewID returns a fresh document identifier.
func NewID() string {
	return uuid.NewString()
}

// cloneFields copies a field map so callers cannot mutate stored state.
func cloneFields(fields map[string]any) map[string]any {
	if fields == nil {
		return map[string]any{}
	}
	return maps.Clone(fields)
}
