package docstore

import (
	"cmp"
	"context"
	"reflect"
	"slices"
	"time"
)

// Watch runs a live query: it delivers the current result of q, then a new
// full result every time feed reports a change that may affect it.
//
// The watcher is registered before the first query runs, so no change
// committed after Watch returns can be missed. Queries run one at a time on
// a single goroutine, which keeps delivered snapshots in commit order.
// A query error is delivered as the final snapshot; Watch never retries.
// The returned channel is closed when ctx is done or after an error.
func Watch(ctx context.Context, q Querier, feed *Feed, collection string, filters ...Filter) <-chan Snapshot {
	return WatchWithLag(ctx, q, feed, 0, collection, filters...)
}

// WatchWithLag is Watch for a querier whose reads can trail its writes.
// When lag is positive every query is run once more lag later, and the
// result is delivered only if it differs from the last snapshot. A change
// that the first query missed is picked up by the second. A change the
// index shows later than lag still stays hidden until the next wake-up.
func WatchWithLag(ctx context.Context, q Querier, feed *Feed, lag time.Duration, collection string, filters ...Filter) <-chan Snapshot {
	out := make(chan Snapshot)
	w, unregister := feed.register(collection, filters)

	go func() {
		defer close(out)
		defer unregister()

		var seq uint64
		var last []Document
		send := func(docs []Document, err error) bool {
			seq++
			select {
			case out <- Snapshot{Seq: seq, Docs: docs, Err: err}:
				last = docs
				return err == nil
			case <-ctx.Done():
				return false
			}
		}

		var timer *time.Timer
		defer func() {
			if timer != nil {
				timer.Stop()
			}
		}()

		for {
			docs, err := q.Query(ctx, collection, filters...)
			if ctx.Err() != nil {
				return
			}
			if !send(docs, err) {
				return
			}

			var settle <-chan time.Time
			if lag > 0 {
				if timer == nil {
					timer = time.NewTimer(lag)
				} else {
					timer.Reset(lag)
				}
				settle = timer.C
			}

		wait:
			for {
				select {
				case <-w.signal:
					break wait
				case <-settle:
					settle = nil
					docs, err := q.Query(ctx, collection, filters...)
					if ctx.Err() != nil {
						return
					}
					if err == nil && sameDocs(last, docs) {
						continue
					}
					if !send(docs, err) {
						return
					}
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}

// sameDocs reports whether a and b hold the same documents in any order.
func sameDocs(a, b []Document) bool {
	if len(a) != len(b) {
		return false
	}
	byID := func(x, y Document) int { return cmp.Compare(x.ID, y.ID) }
	a = slices.SortedFunc(slices.Values(a), byID)
	b = slices.SortedFunc(slices.Values(b), byID)
	return reflect.DeepEqual(a, b)
}
