package live

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Lucaslls20/Lista-de-Compras/docstore"
)

func TestSubscription_CancelWaitsForCheckedDelivery(t *testing.T) {
	paused := make(chan struct{})
	resume := make(chan struct{})
	var hooked atomic.Bool
	testHookDelivering = func() {
		if hooked.CompareAndSwap(false, true) {
			close(paused)
			<-resume
		}
	}
	t.Cleanup(func() { testHookDelivering = nil })

	mem := docstore.NewMemory(docstore.DefaultConfig())
	b := NewBinding(mem, Scope{Collection: "stores", OwnerField: "ownerId", OwnerID: "u1"},
		func(doc docstore.Document) (string, error) { return doc.ID, nil })

	var calls atomic.Int32
	sub, err := b.Subscribe(context.Background(), func(Snapshot[string]) {
		calls.Add(1)
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	select {
	case <-paused:
	case <-time.After(2 * time.Second):
		t.Fatal("first delivery never started")
	}

	returned := make(chan int32, 1)
	go func() {
		sub.Cancel()
		returned <- calls.Load()
	}()

	select {
	case <-returned:
		t.Fatal("Cancel returned while a checked delivery had not run its callback")
	case <-time.After(50 * time.Millisecond):
	}
	close(resume)

	var atReturn int32
	select {
	case atReturn = <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("Cancel never returned")
	}
	if atReturn != 1 {
		t.Errorf("expected the checked delivery to finish before Cancel returned, got %d calls", atReturn)
	}

	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not stop")
	}
	if _, err := mem.Insert(context.Background(), "stores", map[string]any{"ownerId": "u1"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if got := calls.Load(); got != atReturn {
		t.Errorf("expected no callback after Cancel returned, got %d more", got-atReturn)
	}
}
