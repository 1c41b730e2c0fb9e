package docstore

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
)

// Memory is an in-process document store. It honours the same contract as
// the remote backends, including atomic batches and live queries, and is
// used for development and tests.
type Memory struct {
	mu          sync.RWMutex
	collections map[string]map[string]map[string]any
	config      Config
	feed        *Feed
}

// NewMemory creates an empty in-memory store.
func NewMemory(config Config) *Memory {
	config.validate()
	return &Memory{
		collections: make(map[string]map[string]map[string]any),
		config:      config,
		feed:        NewFeed(config.NumShards),
	}
}

// Feed returns the change feed live queries subscribe to.
func (m *Memory) Feed() *Feed {
	return m.feed
}

// Insert stores a new document under a fresh identifier.
func (m *Memory) Insert(ctx context.Context, collection string, fields map[string]any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := NewID()
	if err := m.Batch(ctx, []Op{InsertOp(collection, id, fields)}); err != nil {
		return "", err
	}
	return id, nil
}

// Update sets fields on an existing document.
func (m *Memory) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	return m.Batch(ctx, []Op{UpdateOp(collection, id, fields)})
}

// Delete removes a document if present.
func (m *Memory) Delete(ctx context.Context, collection, id string) error {
	return m.Batch(ctx, []Op{DeleteOp(collection, id)})
}

// Get reads a document.
func (m *Memory) Get(ctx context.Context, collection, id string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	fields, ok := m.collections[collection][id]
	if !ok {
		return Document{}, fmt.Errorf("memory get %s/%s: %w", collection, id, ErrNotFound)
	}
	return Document{ID: id, Fields: cloneFields(fields)}, nil
}

// Query returns matching documents ordered by identifier.
func (m *Memory) Query(ctx context.Context, collection string, filters ...Filter) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var docs []Document
	for id, fields := range m.collections[collection] {
		if Matches(fields, filters) {
			docs = append(docs, Document{ID: id, Fields: cloneFields(fields)})
		}
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs, nil
}

// Watch starts a live query over the in-memory data.
func (m *Memory) Watch(ctx context.Context, collection string, filters ...Filter) (<-chan Snapshot, error) {
	return Watch(ctx, m, m.feed, collection, filters...), nil
}

// Batch validates every op before applying any, so a failing op leaves the
// store untouched.
func (m *Memory) Batch(ctx context.Context, ops []Op) error {
	if len(ops) == 0 {
		return nil
	}
	if len(ops) > m.config.MaxBatchOps {
		return fmt.Errorf("memory batch of %d ops: %w", len(ops), ErrBatchTooLarge)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	ops = slices.Clone(ops)
	m.mu.Lock()
	for i, op := range ops {
		if op.Kind == OpInsert && op.ID == "" {
			ops[i].ID = NewID()
		}
	}
	if err := m.check(ops); err != nil {
		m.mu.Unlock()
		return err
	}
	changes := make([]Change, 0, len(ops))
	for _, op := range ops {
		if c, ok := m.apply(op); ok {
			changes = append(changes, c)
		}
	}
	m.mu.Unlock()

	m.feed.Publish(changes...)
	return nil
}

// check validates ops against current state plus the effect of earlier ops
// in the same batch. Caller must hold m.mu.
func (m *Memory) check(ops []Op) error {
	exists := func(collection, id string) bool {
		_, ok := m.collections[collection][id]
		return ok
	}
	pending := make(map[string]bool)
	for _, op := range ops {
		key := op.Collection + "/" + op.ID
		present, seen := pending[key]
		if !seen {
			present = exists(op.Collection, op.ID)
		}
		switch op.Kind {
		case OpInsert:
			if present {
				return fmt.Errorf("memory insert %s: %w", key, ErrAlreadyExists)
			}
			pending[key] = true
		case OpUpdate:
			if !present {
				return fmt.Errorf("memory update %s: %w", key, ErrNotFound)
			}
		case OpDelete:
			pending[key] = false
		default:
			return fmt.Errorf("memory batch: unsupported op %v: %w", op.Kind, ErrInvalidDocument)
		}
	}
	return nil
}

// apply performs one validated op. Caller must hold m.mu.
func (m *Memory) apply(op Op) (Change, bool) {
	coll, ok := m.collections[op.Collection]
	if !ok {
		coll = make(map[string]map[string]any)
		m.collections[op.Collection] = coll
	}
	old, existed := coll[op.ID]

	switch op.Kind {
	case OpInsert:
		coll[op.ID] = cloneFields(op.Fields)
		return Change{Collection: op.Collection, ID: op.ID, Kind: OpInsert, New: cloneFields(op.Fields)}, true
	case OpUpdate:
		next := cloneFields(old)
		for k, v := range op.Fields {
			next[k] = v
		}
		coll[op.ID] = next
		return Change{Collection: op.Collection, ID: op.ID, Kind: OpUpdate, Old: old, New: cloneFields(next)}, true
	case OpDelete:
		if !existed {
			return Change{}, false
		}
		delete(coll, op.ID)
		return Change{Collection: op.Collection, ID: op.ID, Kind: OpDelete, Old: old}, true
	}
	return Change{}, false
}
