// Package live exposes owner-scoped live queries over a document store as
// typed, ordered snapshot streams.
//
// A Binding describes one query. Each call to Subscribe or each range over
// Snapshots starts an independent watch with its own snapshot sequence;
// nothing is shared between subscribers.
//
//	b := live.NewBinding(store, live.Scope{
//		Collection: "stores",
//		OwnerField: "ownerId",
//		OwnerID:    "u1",
//	}, decodeStore)
//
//	for stores, err := range b.Snapshots(ctx) {
//		if err != nil {
//			return err
//		}
//		render(stores)
//	}
package live

import (
	"context"
	"iter"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/Lucaslls20/Lista-de-Compras/docstore"
)

// Scope selects the documents a binding observes: a collection, the owner
// they belong to and, optionally, their parent document.
type Scope struct {
	Collection string

	// OwnerField holds the owner identifier in each document.
	OwnerField string
	// OwnerID is required; an empty value fails with ErrAuthRequired.
	OwnerID string

	// ParentField and ParentID narrow the scope to children of one parent.
	// Both are ignored when ParentField is empty.
	ParentField string
	ParentID    string
}

func (s Scope) filters() []docstore.Filter {
	filters := []docstore.Filter{docstore.Eq(s.OwnerField, s.OwnerID)}
	if s.ParentField != "" {
		filters = append(filters, docstore.Eq(s.ParentField, s.ParentID))
	}
	return filters
}

// contains re-checks scope membership on the client side.
func (s Scope) contains(doc docstore.Document) bool {
	if doc.String(s.OwnerField) != s.OwnerID {
		return false
	}
	return s.ParentField == "" || doc.String(s.ParentField) == s.ParentID
}

// Snapshot is one delivery of a subscription. Seq increases strictly within
// a subscription. A snapshot with a non-nil Err is the last one.
type Snapshot[T any] struct {
	Seq   uint64
	Items []T
	Err   error
}

// Option configures a Binding.
type Option[T any] func(*Binding[T])

// WithOrder sorts every delivered snapshot with cmp.
func WithOrder[T any](cmp func(a, b T) int) Option[T] {
	return func(b *Binding[T]) {
		b.cmp = cmp
	}
}

// WithLogger sets the logger used to report dropped documents.
func WithLogger[T any](logger *slog.Logger) Option[T] {
	return func(b *Binding[T]) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// Binding is a reusable, scoped live query decoding documents into T.
type Binding[T any] struct {
	src    docstore.Store
	scope  Scope
	decode func(docstore.Document) (T, error)
	cmp    func(a, b T) int
	logger *slog.Logger
}

// NewBinding creates a binding. No remote call is made until it is
// subscribed to.
func NewBinding[T any](src docstore.Store, scope Scope, decode func(docstore.Document) (T, error), opts ...Option[T]) *Binding[T] {
	b := &Binding[T]{
		src:    src,
		scope:  scope,
		decode: decode,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Scope returns the binding's scope.
func (b *Binding[T]) Scope() Scope {
	return b.scope
}

// Subscribe starts a watch and calls fn with every snapshot, starting with
// the current matching set. fn runs on a single goroutine per subscription.
//
// A store failure is delivered once as a snapshot whose Err wraps
// ErrConnection, after which the subscription ends; it is never retried.
func (b *Binding[T]) Subscribe(ctx context.Context, fn func(Snapshot[T])) (*Subscription, error) {
	if b.scope.OwnerID == "" {
		return nil, ErrAuthRequired
	}

	ctx, cancel := context.WithCancel(ctx)
	ch, err := b.src.Watch(ctx, b.scope.Collection, b.scope.filters()...)
	if err != nil {
		cancel()
		return nil, connectionError(b.scope.Collection, err)
	}

	sub := &Subscription{cancel: cancel, done: make(chan struct{})}
	sub.active.Store(true)

	go func() {
		defer close(sub.done)
		defer cancel()

		for snap := range ch {
			out := Snapshot[T]{Seq: snap.Seq}
			if snap.Err != nil {
				out.Err = connectionError(b.scope.Collection, snap.Err)
			} else {
				out.Items = b.project(snap.Docs)
			}

			if !sub.deliver(func() { fn(out) }) || out.Err != nil {
				return
			}
		}
	}()

	return sub, nil
}

// Snapshots returns the live query as an iterator. Every range over it
// starts a fresh watch, which stops when the loop exits or ctx is done.
// A store failure is yielded once as a non-nil error and ends the sequence.
func (b *Binding[T]) Snapshots(ctx context.Context) iter.Seq2[[]T, error] {
	return func(yield func([]T, error) bool) {
		if b.scope.OwnerID == "" {
			yield(nil, ErrAuthRequired)
			return
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		ch, err := b.src.Watch(ctx, b.scope.Collection, b.scope.filters()...)
		if err != nil {
			yield(nil, connectionError(b.scope.Collection, err))
			return
		}
		for snap := range ch {
			if snap.Err != nil {
				yield(nil, connectionError(b.scope.Collection, snap.Err))
				return
			}
			if !yield(b.project(snap.Docs), nil) {
				return
			}
		}
	}
}

// Current returns the matching set once, without watching.
func (b *Binding[T]) Current(ctx context.Context) ([]T, error) {
	if b.scope.OwnerID == "" {
		return nil, ErrAuthRequired
	}
	docs, err := b.src.Query(ctx, b.scope.Collection, b.scope.filters()...)
	if err != nil {
		return nil, connectionError(b.scope.Collection, err)
	}
	return b.project(docs), nil
}

// project drops out-of-scope and undecodable documents, then orders the rest.
func (b *Binding[T]) project(docs []docstore.Document) []T {
	items := make([]T, 0, len(docs))
	for _, doc := range docs {
		if !b.scope.contains(doc) {
			b.logger.Warn("dropping out-of-scope document",
				"collection", b.scope.Collection,
				"id", doc.ID,
			)
			continue
		}
		item, err := b.decode(doc)
		if err != nil {
			b.logger.Warn("dropping malformed document",
				"collection", b.scope.Collection,
				"id", doc.ID,
				"error", err,
			)
			continue
		}
		items = append(items, item)
	}
	if b.cmp != nil {
		slices.SortStableFunc(items, b.cmp)
	}
	return items
}

// Subscription is the handle of one running subscription.
type Subscription struct {
	// mu is held across the active check and the callback.
	mu         sync.Mutex
	active     atomic.Bool
	inCallback atomic.Bool
	cancel     context.CancelFunc
	done       chan struct{}
}

// testHookDelivering runs after a delivery passes its active check.
var testHookDelivering func()

// deliver runs call unless the subscription was cancelled.
func (s *Subscription) deliver(call func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active.Load() {
		return false
	}
	if testHookDelivering != nil {
		testHookDelivering()
	}
	s.inCallback.Store(true)
	defer s.inCallback.Store(false)
	call()
	return true
}

// Cancel stops the subscription. Once it returns no callback starts; only
// one that was already running may still be in progress. Calling Cancel
// more than once is safe, including from inside the callback.
func (s *Subscription) Cancel() {
	s.active.Store(false)
	s.cancel()
	if s.inCallback.Load() {
		// Locking here would deadlock when called from the callback.
		return
	}
	// Wait out a delivery that passed its active check but has not
	// entered the callback yet.
	s.mu.Lock()
	defer s.mu.Unlock()
}

// Done is closed once the subscription's goroutine has exited, either after
// Cancel, after its context ended or after an error snapshot.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}
