package docstore_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Lucaslls20/Lista-de-Compras/docstore"
)

func newMemory() *docstore.Memory {
	return docstore.NewMemory(docstore.DefaultConfig())
}

func TestMemory_InsertGet(t *testing.T) {
	ctx := context.Background()
	m := newMemory()

	id, err := m.Insert(ctx, "stores", map[string]any{"title": "Market", "ownerId": "u1"})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if id == "" {
		t.Fatal("expected assigned id")
	}

	doc, err := m.Get(ctx, "stores", id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if doc.ID != id || doc.String("title") != "Market" {
		t.Errorf("unexpected document %+v", doc)
	}
}

func TestMemory_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	m := newMemory()
	id, _ := m.Insert(ctx, "stores", map[string]any{"title": "Market"})

	doc, _ := m.Get(ctx, "stores", id)
	doc.Fields["title"] = "changed"

	again, _ := m.Get(ctx, "stores", id)
	if again.String("title") != "Market" {
		t.Errorf("stored document was mutated through a read: %q", again.String("title"))
	}
}

func TestMemory_GetNotFound(t *testing.T) {
	_, err := newMemory().Get(context.Background(), "stores", "missing")
	if !errors.Is(err, docstore.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemory_Update(t *testing.T) {
	ctx := context.Background()
	m := newMemory()
	id, _ := m.Insert(ctx, "shoppingItems", map[string]any{"title": "Milk", "completed": false})

	if err := m.Update(ctx, "shoppingItems", id, map[string]any{"completed": true}); err != nil {
		t.Fatalf("update: %v", err)
	}
	doc, _ := m.Get(ctx, "shoppingItems", id)
	if done, _ := doc.Bool("completed"); !done {
		t.Error("expected completed=true")
	}
	if doc.String("title") != "Milk" {
		t.Error("update must keep untouched fields")
	}
}

func TestMemory_UpdateMissing(t *testing.T) {
	err := newMemory().Update(context.Background(), "shoppingItems", "missing", map[string]any{"completed": true})
	if !errors.Is(err, docstore.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemory_DeleteIdempotent(t *testing.T) {
	ctx := context.Background()
	m := newMemory()
	id, _ := m.Insert(ctx, "stores", map[string]any{"title": "Market"})

	for i := 0; i < 2; i++ {
		if err := m.Delete(ctx, "stores", id); err != nil {
			t.Fatalf("delete #%d: %v", i+1, err)
		}
	}
	if _, err := m.Get(ctx, "stores", id); !errors.Is(err, docstore.ErrNotFound) {
		t.Errorf("expected document gone, got %v", err)
	}
}

func TestMemory_QueryFilters(t *testing.T) {
	ctx := context.Background()
	m := newMemory()
	m.Insert(ctx, "shoppingItems", map[string]any{"title": "Milk", "ownerId": "u1", "storeId": "s1"})
	m.Insert(ctx, "shoppingItems", map[string]any{"title": "Eggs", "ownerId": "u1", "storeId": "s2"})
	m.Insert(ctx, "shoppingItems", map[string]any{"title": "Bread", "ownerId": "u2", "storeId": "s1"})

	tests := []struct {
		name    string
		filters []docstore.Filter
		want    int
	}{
		{"no filters", nil, 3},
		{"owner", []docstore.Filter{docstore.Eq("ownerId", "u1")}, 2},
		{"owner and store", []docstore.Filter{docstore.Eq("ownerId", "u1"), docstore.Eq("storeId", "s1")}, 1},
		{"store only", []docstore.Filter{docstore.Eq("storeId", "s1")}, 2},
		{"no match", []docstore.Filter{docstore.Eq("ownerId", "u3")}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs, err := m.Query(ctx, "shoppingItems", tt.filters...)
			if err != nil {
				t.Fatalf("query: %v", err)
			}
			if len(docs) != tt.want {
				t.Errorf("expected %d documents, got %d", tt.want, len(docs))
			}
		})
	}
}

func TestMemory_BatchAtomic(t *testing.T) {
	ctx := context.Background()
	m := newMemory()
	id, _ := m.Insert(ctx, "stores", map[string]any{"title": "Market"})

	// The update of a missing document must cancel the delete too.
	err := m.Batch(ctx, []docstore.Op{
		docstore.DeleteOp("stores", id),
		docstore.UpdateOp("shoppingItems", "missing", map[string]any{"completed": true}),
	})
	if !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := m.Get(ctx, "stores", id); err != nil {
		t.Errorf("store should survive a failed batch: %v", err)
	}
}

func TestMemory_BatchDeleteMissingIsNoop(t *testing.T) {
	err := newMemory().Batch(context.Background(), []docstore.Op{
		docstore.DeleteOp("stores", "missing"),
		docstore.DeleteOp("shoppingItems", "missing"),
	})
	if err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}

func TestMemory_BatchTooLarge(t *testing.T) {
	cfg := docstore.DefaultConfig()
	cfg.MaxBatchOps = 2
	m := docstore.NewMemory(cfg)

	ops := []docstore.Op{
		docstore.DeleteOp("stores", "a"),
		docstore.DeleteOp("stores", "b"),
		docstore.DeleteOp("stores", "c"),
	}
	if err := m.Batch(context.Background(), ops); !errors.Is(err, docstore.ErrBatchTooLarge) {
		t.Errorf("expected ErrBatchTooLarge, got %v", err)
	}
}

func TestMemory_DefaultBatchAboveDynamoLimit(t *testing.T) {
	m := newMemory()
	ops := make([]docstore.Op, 150)
	for i := range ops {
		ops[i] = docstore.InsertOp("shoppingItems", fmt.Sprintf("i%d", i), map[string]any{"storeId": "s1"})
	}
	if err := m.Batch(context.Background(), ops); err != nil {
		t.Fatalf("expected 150-op batch to commit, got %v", err)
	}
	docs, err := m.Query(context.Background(), "shoppingItems", docstore.Eq("storeId", "s1"))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(docs) != 150 {
		t.Errorf("expected 150 docs, got %d", len(docs))
	}
}

func TestMemory_BatchInsertDuplicate(t *testing.T) {
	err := newMemory().Batch(context.Background(), []docstore.Op{
		docstore.InsertOp("stores", "fixed", map[string]any{"title": "A"}),
		docstore.InsertOp("stores", "fixed", map[string]any{"title": "B"}),
	})
	if !errors.Is(err, docstore.ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestMemory_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := newMemory().Insert(ctx, "stores", map[string]any{"title": "A"}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

// --- Watch ---

func nextSnapshot(t *testing.T, ch <-chan docstore.Snapshot) docstore.Snapshot {
	t.Helper()
	select {
	case snap, ok := <-ch:
		if !ok {
			t.Fatal("watch channel closed unexpectedly")
		}
		return snap
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
	}
	return docstore.Snapshot{}
}

// waitFor reads snapshots until pred holds for one of them.
func waitFor(t *testing.T, ch <-chan docstore.Snapshot, pred func(docstore.Snapshot) bool) docstore.Snapshot {
	t.Helper()
	for {
		snap := nextSnapshot(t, ch)
		if pred(snap) {
			return snap
		}
	}
}

func TestWatch_InitialAndUpdates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := newMemory()
	m.Insert(ctx, "stores", map[string]any{"title": "Market", "ownerId": "u1"})

	ch, err := m.Watch(ctx, "stores", docstore.Eq("ownerId", "u1"))
	if err != nil {
		t.Fatalf("watch: %v", err)
	}

	first := nextSnapshot(t, ch)
	if first.Seq != 1 || len(first.Docs) != 1 {
		t.Fatalf("expected initial snapshot with one doc, got seq=%d docs=%d", first.Seq, len(first.Docs))
	}

	m.Insert(ctx, "stores", map[string]any{"title": "Bakery", "ownerId": "u1"})
	snap := waitFor(t, ch, func(s docstore.Snapshot) bool { return len(s.Docs) == 2 })
	if snap.Seq <= first.Seq {
		t.Errorf("expected increasing sequence, got %d after %d", snap.Seq, first.Seq)
	}
}

func TestWatch_IgnoresOtherOwners(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := newMemory()

	ch, _ := m.Watch(ctx, "stores", docstore.Eq("ownerId", "u1"))
	nextSnapshot(t, ch)

	m.Insert(ctx, "stores", map[string]any{"title": "Other", "ownerId": "u2"})

	select {
	case snap := <-ch:
		t.Fatalf("unexpected snapshot for another owner's write: %+v", snap)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWatch_SeesDeletes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := newMemory()
	id, _ := m.Insert(ctx, "stores", map[string]any{"title": "Market", "ownerId": "u1"})

	ch, _ := m.Watch(ctx, "stores", docstore.Eq("ownerId", "u1"))
	nextSnapshot(t, ch)

	m.Delete(ctx, "stores", id)
	waitFor(t, ch, func(s docstore.Snapshot) bool { return len(s.Docs) == 0 })
}

func TestWatch_CancelClosesAndUnregisters(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	m := newMemory()

	ch, _ := m.Watch(ctx, "stores", docstore.Eq("ownerId", "u1"))
	nextSnapshot(t, ch)
	cancel()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				if n := m.Feed().Watchers(); n != 0 {
					t.Errorf("expected watcher removed, %d remain", n)
				}
				return
			}
		case <-deadline:
			t.Fatal("channel not closed after cancel")
		}
	}
}

type failingQuerier struct{ err error }

func (f failingQuerier) Query(context.Context, string, ...docstore.Filter) ([]docstore.Document, error) {
	return nil, f.err
}

func TestWatch_ErrorEndsStream(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	feed := docstore.NewFeed(1)
	boom := fmt.Errorf("dial: %w", docstore.ErrUnavailable)

	ch := docstore.Watch(ctx, failingQuerier{err: boom}, feed, "stores")
	snap := nextSnapshot(t, ch)
	if !errors.Is(snap.Err, docstore.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable snapshot, got %v", snap.Err)
	}

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected channel closed after error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after error")
	}
}

// laggingIndex serves queries from a secondary index that misses each
// document on the first query that could have returned it.
type laggingIndex struct {
	m    *docstore.Memory
	mu   sync.Mutex
	seen map[string]bool
}

func (l *laggingIndex) Query(ctx context.Context, collection string, filters ...docstore.Filter) ([]docstore.Document, error) {
	docs, err := l.m.Query(ctx, collection, filters...)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	var visible []docstore.Document
	for _, d := range docs {
		if l.seen[d.ID] {
			visible = append(visible, d)
		}
		l.seen[d.ID] = true
	}
	return visible, nil
}

func TestWatchWithLag_SettlesStaleIndex(t *testing.T) {
	tests := []struct {
		name      string
		lag       time.Duration
		wantFresh bool
	}{
		{"no lag keeps the stale snapshot", 0, false},
		{"lag re-queries once", 20 * time.Millisecond, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			m := newMemory()
			idx := &laggingIndex{m: m, seen: map[string]bool{}}

			ch := docstore.WatchWithLag(ctx, idx, m.Feed(), tt.lag, "stores", docstore.Eq("ownerId", "u1"))
			first := nextSnapshot(t, ch)
			if len(first.Docs) != 0 {
				t.Fatalf("expected empty initial snapshot, got %d docs", len(first.Docs))
			}

			if _, err := m.Insert(ctx, "stores", map[string]any{"title": "Market", "ownerId": "u1"}); err != nil {
				t.Fatalf("insert: %v", err)
			}

			last := first
			quiet := time.After(200 * time.Millisecond)
			for done := false; !done; {
				select {
				case snap, ok := <-ch:
					if !ok {
						t.Fatal("watch channel closed unexpectedly")
					}
					if snap.Seq <= last.Seq {
						t.Fatalf("expected increasing sequence, got %d after %d", snap.Seq, last.Seq)
					}
					last = snap
				case <-quiet:
					done = true
				}
			}

			if fresh := len(last.Docs) == 1; fresh != tt.wantFresh {
				t.Errorf("expected last snapshot fresh=%v, got %d docs", tt.wantFresh, len(last.Docs))
			}
		})
	}
}

func TestWatchWithLag_NoRepeatWhenUnchanged(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := newMemory()
	if _, err := m.Insert(ctx, "stores", map[string]any{"title": "Market", "ownerId": "u1"}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	ch := docstore.WatchWithLag(ctx, m, m.Feed(), 10*time.Millisecond, "stores", docstore.Eq("ownerId", "u1"))
	if first := nextSnapshot(t, ch); len(first.Docs) != 1 {
		t.Fatalf("expected one doc, got %d", len(first.Docs))
	}

	select {
	case snap := <-ch:
		t.Errorf("expected no repeat snapshot, got seq=%d", snap.Seq)
	case <-time.After(100 * time.Millisecond):
	}
}
