package docstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/datastore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// datastoreMaxMutations is the Cloud Datastore commit mutation limit.
const datastoreMaxMutations = 500

// Datastore stores each collection as a Cloud Datastore kind, keyed by name.
type Datastore struct {
	client *datastore.Client
	config Config
	feed   *Feed
}

// NewDatastore creates a Cloud Datastore-backed store.
// The client honours DATASTORE_EMULATOR_HOST for local development.
func NewDatastore(client *datastore.Client, config Config) *Datastore {
	config.validate()
	if config.MaxBatchOps > datastoreMaxMutations {
		config.MaxBatchOps = datastoreMaxMutations
	}
	return &Datastore{
		client: client,
		config: config,
		feed:   NewFeed(config.NumShards),
	}
}

// Feed returns the change feed live queries subscribe to.
func (s *Datastore) Feed() *Feed {
	return s.feed
}

// Close closes the underlying datastore client.
func (s *Datastore) Close() error {
	return s.client.Close()
}

// Insert creates an entity under a fresh name key inside a transaction so an
// existing entity is never overwritten.
func (s *Datastore) Insert(ctx context.Context, collection string, fields map[string]any) (string, error) {
	id := NewID()
	if err := s.Batch(ctx, []Op{InsertOp(collection, id, fields)}); err != nil {
		return "", err
	}
	return id, nil
}

// Update merges fields into an existing entity.
func (s *Datastore) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	return s.Batch(ctx, []Op{UpdateOp(collection, id, fields)})
}

// Delete removes an entity. Datastore deletes of missing keys succeed.
func (s *Datastore) Delete(ctx context.Context, collection, id string) error {
	if err := s.client.Delete(ctx, s.key(collection, id)); err != nil {
		return s.mapError(fmt.Sprintf("datastore delete %s/%s", collection, id), err)
	}
	s.feed.Publish(Change{Collection: collection, ID: id, Kind: OpDelete})
	return nil
}

// Get reads an entity.
func (s *Datastore) Get(ctx context.Context, collection, id string) (Document, error) {
	var props datastore.PropertyList
	if err := s.client.Get(ctx, s.key(collection, id), &props); err != nil {
		return Document{}, s.mapError(fmt.Sprintf("datastore get %s/%s", collection, id), err)
	}
	return Document{ID: id, Fields: fromProperties(props)}, nil
}

// Query runs an equality-filtered query over a kind.
func (s *Datastore) Query(ctx context.Context, collection string, filters ...Filter) ([]Document, error) {
	op := "datastore query " + collection
	q := datastore.NewQuery(s.config.Table(collection))
	for _, f := range filters {
		v, err := toPropertyValue(f.Value)
		if err != nil {
			return nil, wrap(op, nil, err)
		}
		q = q.Filter(f.Field+" =", v)
	}

	var entities []datastore.PropertyList
	keys, err := s.client.GetAll(ctx, q, &entities)
	if err != nil {
		return nil, s.mapError(op, err)
	}

	docs := make([]Document, len(keys))
	for i, key := range keys {
		docs[i] = Document{ID: key.Name, Fields: fromProperties(entities[i])}
	}
	return docs, nil
}

// Watch starts a live query over the Datastore kinds. Datastore has no
// change stream, so only writes made through this store are observed.
func (s *Datastore) Watch(ctx context.Context, collection string, filters ...Filter) (<-chan Snapshot, error) {
	return WatchWithLag(ctx, s, s.feed, s.config.IndexLag, collection, filters...), nil
}

// Batch applies ops inside one Datastore transaction.
func (s *Datastore) Batch(ctx context.Context, ops []Op) error {
	if len(ops) == 0 {
		return nil
	}
	if len(ops) > s.config.MaxBatchOps {
		return fmt.Errorf("datastore batch of %d ops: %w", len(ops), ErrBatchTooLarge)
	}

	var changes []Change
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		changes = changes[:0]
		for _, op := range ops {
			id := op.ID
			if op.Kind == OpInsert && id == "" {
				id = NewID()
			}
			key := s.key(op.Collection, id)

			switch op.Kind {
			case OpInsert:
				var existing datastore.PropertyList
				err := tx.Get(key, &existing)
				if err == nil {
					return fmt.Errorf("insert %s/%s: %w", op.Collection, id, ErrAlreadyExists)
				}
				if !errors.Is(err, datastore.ErrNoSuchEntity) {
					return err
				}
				props, err := toProperties(op.Fields)
				if err != nil {
					return err
				}
				if _, err := tx.Put(key, &props); err != nil {
					return err
				}
				changes = append(changes, Change{Collection: op.Collection, ID: id, Kind: OpInsert, New: cloneFields(op.Fields)})

			case OpUpdate:
				var current datastore.PropertyList
				if err := tx.Get(key, &current); err != nil {
					if errors.Is(err, datastore.ErrNoSuchEntity) {
						return fmt.Errorf("update %s/%s: %w", op.Collection, id, ErrNotFound)
					}
					return err
				}
				old := fromProperties(current)
				next := cloneFields(old)
				for k, v := range op.Fields {
					next[k] = v
				}
				props, err := toProperties(next)
				if err != nil {
					return err
				}
				if _, err := tx.Put(key, &props); err != nil {
					return err
				}
				changes = append(changes, Change{Collection: op.Collection, ID: id, Kind: OpUpdate, Old: old, New: next})

			case OpDelete:
				if err := tx.Delete(key); err != nil {
					return err
				}
				changes = append(changes, Change{Collection: op.Collection, ID: id, Kind: OpDelete})

			default:
				return fmt.Errorf("unsupported op %v: %w", op.Kind, ErrInvalidDocument)
			}
		}
		return nil
	})
	if err != nil {
		return s.mapError("datastore batch", err)
	}

	s.feed.Publish(changes...)
	return nil
}

func (s *Datastore) key(collection, id string) *datastore.Key {
	return datastore.NameKey(s.config.Table(collection), id, nil)
}

// mapError converts Datastore and gRPC errors into package sentinels.
func (s *Datastore) mapError(op string, err error) error {
	for _, known := range []error{ErrNotFound, ErrAlreadyExists, ErrInvalidDocument} {
		if errors.Is(err, known) {
			return wrap(op, known, err)
		}
	}
	if errors.Is(err, datastore.ErrNoSuchEntity) {
		return wrap(op, ErrNotFound, err)
	}
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated:
		return wrap(op, ErrPermission, err)
	case codes.AlreadyExists:
		return wrap(op, ErrAlreadyExists, err)
	case codes.InvalidArgument:
		return wrap(op, ErrInvalidDocument, err)
	}
	return wrap(op, ErrUnavailable, err)
}

// toProperties converts fields into a Datastore property list sorted by name.
func toProperties(fields map[string]any) (datastore.PropertyList, error) {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	props := make(datastore.PropertyList, 0, len(names))
	for _, name := range names {
		v, err := toPropertyValue(fields[name])
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
		props = append(props, datastore.Property{Name: name, Value: v})
	}
	return props, nil
}

// toPropertyValue normalises a field value to a type Datastore accepts.
func toPropertyValue(v any) (any, error) {
	switch n := v.(type) {
	case nil, string, bool, int64, float64, time.Time:
		return n, nil
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case float32:
		return float64(n), nil
	}
	return nil, fmt.Errorf("%w: unsupported value type %T", ErrInvalidDocument, v)
}

func fromProperties(props datastore.PropertyList) map[string]any {
	fields := make(map[string]any, len(props))
	for _, p := range props {
		fields[p.Name] = p.Value
	}
	return fields
}
