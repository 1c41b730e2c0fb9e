package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Lucaslls20/Lista-de-Compras/docstore"
	"github.com/Lucaslls20/Lista-de-Compras/shopping"
)

type testRunner struct {
	*runner
	src    *docstore.Memory
	out    *bytes.Buffer
	errOut *bytes.Buffer
}

func newTestRunner(t *testing.T, owner string) *testRunner {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	src := docstore.NewMemory(docstore.DefaultConfig())
	identity := shopping.StaticIdentity(owner)
	cascade := shopping.NewCascadeDeleter(src, shopping.DefaultRegistry(), logger)
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	return &testRunner{
		runner: &runner{
			stores:     shopping.NewStoreRepository(src, cascade, identity, logger),
			items:      shopping.NewItemRepository(src, identity, logger),
			out:        out,
			errOut:     errOut,
			watchRetry: time.Second,
		},
		src:    src,
		out:    out,
		errOut: errOut,
	}
}

var idPattern = regexp.MustCompile(`added (?:store|item) (\S+)`)

// exec runs args and returns stdout, resetting both buffers.
func (tr *testRunner) exec(t *testing.T, want int, args ...string) string {
	t.Helper()
	code := tr.run(context.Background(), args)
	out := tr.out.String()
	if code != want {
		t.Fatalf("%v: exit %d, want %d\nstdout: %s\nstderr: %s", args, code, want, out, tr.errOut.String())
	}
	tr.out.Reset()
	tr.errOut.Reset()
	return out
}

func (tr *testRunner) add(t *testing.T, args ...string) string {
	t.Helper()
	out := tr.exec(t, 0, args...)
	m := idPattern.FindStringSubmatch(out)
	if m == nil {
		t.Fatalf("%v: no id in output %q", args, out)
	}
	return m[1]
}

func TestRun_Scenario(t *testing.T) {
	tr := newTestRunner(t, "u1")

	sid := tr.add(t, "add-store", "Market")
	if out := tr.exec(t, 0, "stores"); !strings.Contains(out, "Market") || !strings.Contains(out, sid) {
		t.Errorf("stores output missing store: %s", out)
	}

	iid := tr.add(t, "add", sid, "Milk")
	tr.add(t, "add", sid, "Whole", "wheat", "bread")

	out := tr.exec(t, 0, "items", sid)
	for _, want := range []string{"Market", "Milk", "Whole wheat bread", boxUnchecked, "0/2"} {
		if !strings.Contains(out, want) {
			t.Errorf("items output missing %q: %s", want, out)
		}
	}

	if out := tr.exec(t, 0, "toggle", iid); !strings.Contains(out, "marked done") {
		t.Errorf("unexpected toggle output %q", out)
	}
	if out := tr.exec(t, 0, "items", sid); !strings.Contains(out, boxChecked) || !strings.Contains(out, "1/2") {
		t.Errorf("expected one checked item: %s", out)
	}
	if out := tr.exec(t, 0, "toggle", iid, "true"); !strings.Contains(out, "marked pending") {
		t.Errorf("unexpected toggle output %q", out)
	}
	tr.exec(t, 0, "toggle", iid, "false")

	if out := tr.exec(t, 0, "clear", sid); !strings.Contains(out, "1 completed items cleared") {
		t.Errorf("unexpected clear output %q", out)
	}

	tr.exec(t, 0, "rm-store", sid)
	if docs, _ := tr.src.Query(context.Background(), shopping.ItemsCollection); len(docs) != 0 {
		t.Errorf("expected items removed with the store, got %d", len(docs))
	}
	if out := tr.exec(t, 0, "stores"); !strings.Contains(out, "Stores (0)") {
		t.Errorf("expected no stores: %s", out)
	}
}

func TestRun_Usage(t *testing.T) {
	tr := newTestRunner(t, "u1")
	tests := [][]string{
		nil,
		{"bogus"},
		{"add-store"},
		{"rm-store"},
		{"items"},
		{"add", "only-store"},
		{"toggle"},
		{"toggle", "id", "maybe"},
		{"rm"},
		{"clear"},
		{"watch", "a", "b"},
	}
	for _, args := range tests {
		tr.exec(t, 2, args...)
	}
	tr.exec(t, 0, "help")
}

func TestRun_Errors(t *testing.T) {
	tr := newTestRunner(t, "u1")
	tr.exec(t, 2, "add-store", "   ")
	tr.exec(t, 1, "items", "missing")
	tr.exec(t, 1, "rm", "missing")

	anon := newTestRunner(t, "")
	anon.exec(t, 2, "stores")
}

func TestRun_RemoveAllStores(t *testing.T) {
	tr := newTestRunner(t, "u1")
	sid := tr.add(t, "add-store", "Market")
	tr.add(t, "add-store", "Bakery")
	tr.add(t, "add", sid, "Milk")

	if out := tr.exec(t, 0, "rm-all-stores"); !strings.Contains(out, "2 stores deleted") {
		t.Errorf("unexpected output %q", out)
	}
	if docs, _ := tr.src.Query(context.Background(), shopping.ItemsCollection); len(docs) != 0 {
		t.Errorf("expected no items, got %d", len(docs))
	}
}

func TestDoWatch_PrintsUpdates(t *testing.T) {
	tr := newTestRunner(t, "u1")
	sid := tr.add(t, "add-store", "Market")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := &syncBuffer{}
	tr.runner.out = out
	errc := make(chan error, 1)
	go func() { errc <- tr.doWatch(ctx, sid) }()

	waitFor(t, out, "nothing to buy")
	if _, err := tr.items.AddItem(context.Background(), sid, "", "Milk"); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	waitFor(t, out, "Milk")

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("expected nil after cancel, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestDoWatch_MissingStore(t *testing.T) {
	tr := newTestRunner(t, "u1")
	if err := tr.doWatch(context.Background(), "missing"); err == nil {
		t.Fatal("expected error for missing store")
	}
}

func TestProgressBar(t *testing.T) {
	tests := []struct {
		done, total, width int
		want               string
	}{
		{0, 0, 4, "[░░░░] 0/1"},
		{1, 2, 4, "[██░░] 1/2"},
		{3, 3, 3, "[███] 3/3"},
	}
	for _, tt := range tests {
		if got := progressBar(tt.done, tt.total, tt.width); got != tt.want {
			t.Errorf("progressBar(%d, %d, %d) = %q, want %q", tt.done, tt.total, tt.width, got, tt.want)
		}
	}
}

// syncBuffer is a bytes.Buffer safe for a writer and a polling reader.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func waitFor(t *testing.T, b *syncBuffer, want string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !strings.Contains(b.String(), want) {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %q in %q", want, b.String())
		}
		time.Sleep(5 * time.Millisecond)
	}
}
