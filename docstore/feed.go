package docstore

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Lucaslls20/Lista-de-Compras/internal/shard"
)

// Feed fans committed changes out to live query watchers.
//
// Watchers are partitioned across shards by their collection and filters so
// registering and removing watchers only locks one partition.
type Feed struct {
	shards []*feedShard
	nextID atomic.Uint64
}

type feedShard struct {
	mu       sync.RWMutex
	watchers map[uint64]*watcher
}

// watcher is woken through signal, a one-slot channel: notifications that
// arrive while the watcher is busy collapse into a single pending wake-up.
type watcher struct {
	collection string
	filters    []Filter
	signal     chan struct{}
}

// NewFeed creates a feed with numShards partitions (clamped to 1..256).
func NewFeed(numShards int) *Feed {
	if numShards < 1 {
		numShards = 1
	}
	if numShards > shard.MaxShards {
		numShards = shard.MaxShards
	}
	f := &Feed{shards: make([]*feedShard, numShards)}
	for i := range f.shards {
		f.shards[i] = &feedShard{watchers: make(map[uint64]*watcher)}
	}
	return f
}

// Publish notifies every watcher whose query may be affected by the changes.
func (f *Feed) Publish(changes ...Change) {
	for _, s := range f.shards {
		s.mu.RLock()
		for _, w := range s.watchers {
			for _, c := range changes {
				if w.wants(c) {
					w.wake()
					break
				}
			}
		}
		s.mu.RUnlock()
	}
}

// Watchers returns the number of registered watchers.
func (f *Feed) Watchers() int {
	n := 0
	for _, s := range f.shards {
		s.mu.RLock()
		n += len(s.watchers)
		s.mu.RUnlock()
	}
	return n
}

// register adds a watcher and returns it with its removal function.
func (f *Feed) register(collection string, filters []Filter) (*watcher, func()) {
	w := &watcher{
		collection: collection,
		filters:    filters,
		signal:     make(chan struct{}, 1),
	}
	id := f.nextID.Add(1)
	s := f.shards[shard.Index(watchKey(collection, filters), len(f.shards))]

	s.mu.Lock()
	s.watchers[id] = w
	s.mu.Unlock()

	var once sync.Once
	return w, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.watchers, id)
			s.mu.Unlock()
		})
	}
}

func (w *watcher) wants(c Change) bool {
	if c.Collection != w.collection {
		return false
	}
	if c.Old == nil && c.New == nil {
		return true
	}
	return (c.Old != nil && Matches(c.Old, w.filters)) ||
		(c.New != nil && Matches(c.New, w.filters))
}

func (w *watcher) wake() {
	select {
	case w.signal <- struct{}{}:
	default:
	}
}

func watchKey(collection string, filters []Filter) string {
	pairs := make(map[string]string, len(filters))
	for _, f := range filters {
		pairs[f.Field] = fmt.Sprint(f.Value)
	}
	return shard.WatchKey(collection, pairs)
}
