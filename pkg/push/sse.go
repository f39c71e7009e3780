package push

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// ServeSSE streams batches as server-sent events, one "data:" message per batch, which is what a
// browser EventSource expects. It returns when the request context ends or the client falls too
// far behind.
func ServeSSE(w http.ResponseWriter, r *http.Request, l Log, queueSize int) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return errors.New("response writer does not support streaming")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	c := newConn(queueSize)
	logger := slog.With("conn", c.id.String())
	logger.Info("subscribing", "remote", r.RemoteAddr)
	l.Subscribe(c)
	defer l.Unsubscribe(c)

	t := time.NewTicker(pingInterval)
	defer t.Stop()
	for {
		select {
		case raw := <-c.send:
			if _, err := fmt.Fprintf(w, "data: %s\n\n", raw); err != nil {
				return fmt.Errorf("failed to write event: %w", err)
			}
			flusher.Flush()
		case <-t.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return fmt.Errorf("failed to ping: %w", err)
			}
			flusher.Flush()
		case <-c.done:
			logger.Info("unsubscribing", "err", c.reason())
			return c.reason()
		case <-r.Context().Done():
			logger.Info("unsubscribing")
			return nil
		}
	}
}
