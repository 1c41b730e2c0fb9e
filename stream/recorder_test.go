package stream

import (
	"sync"

	"github.com/Lucaslls20/Lista-de-Compras/docstore"
)

// recorder is a Publisher that keeps every change it receives.
type recorder struct {
	mu      sync.Mutex
	changes []docstore.Change
	calls   int
}

func (r *recorder) Publish(changes ...docstore.Change) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.changes = append(r.changes, changes...)
}

func (r *recorder) snapshot() []docstore.Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]docstore.Change(nil), r.changes...)
}
