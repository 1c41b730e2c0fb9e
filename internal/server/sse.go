package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/Lucaslls20/Lista-de-Compras/live"
	"github.com/Lucaslls20/Lista-de-Compras/shopping"
)

// streamSnapshots writes every snapshot of b as a "snapshot" event until the
// client goes away. Bindings never retry on their own; after a connection
// error the stream announces it with a "retry" event and resubscribes with
// exponential backoff. Any other error ends the stream with an "error"
// event.
func streamSnapshots[T any](s *Server, w http.ResponseWriter, r *http.Request, b *live.Binding[T]) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondWithError(w, http.StatusInternalServerError, "Streaming unsupported")
		return
	}

	ctx := r.Context()
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	var id uint64
	send := func(event string, payload any) error {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		id++
		if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", id, event, data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = s.streamRetry

	err := backoff.RetryNotify(func() error {
		for items, err := range b.Snapshots(ctx) {
			if err != nil {
				if errors.Is(err, shopping.ErrConnection) {
					return err
				}
				return backoff.Permanent(err)
			}
			bo.Reset()
			if err := send("snapshot", items); err != nil {
				return backoff.Permanent(err)
			}
		}
		return nil
	}, backoff.WithContext(bo, ctx), func(err error, wait time.Duration) {
		s.logger.Warn("live stream interrupted, resubscribing",
			"path", r.URL.Path,
			"wait", wait,
			"error", err,
		)
		_ = send("retry", map[string]string{"error": err.Error(), "wait": wait.String()})
	})

	if err != nil && ctx.Err() == nil {
		s.logger.Error("live stream ended", "path", r.URL.Path, "error", err)
		_ = send("error", map[string]string{"error": err.Error()})
	}
}
