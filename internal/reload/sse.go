package reload

import (
	"fmt"
	"net/http"
	"time"

	"github.com/conneroisu/docsmith/internal/logging"
)

// DefaultKeepAlive is the interval between SSE comment frames.
const DefaultKeepAlive = 15 * time.Second

// SSEHandler streams reload notifications as server-sent events. Each
// notification is one frame named "reload" whose data is the payload.
func SSEHandler(b *Broadcaster, keepAlive time.Duration, logger logging.Logger) http.Handler {
	if keepAlive <= 0 {
		keepAlive = DefaultKeepAlive
	}
	if logger == nil {
		logger = logging.Discard()
	}
	logger = logger.WithComponent("sse")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		sub, err := b.Subscribe()
		if err != nil {
			http.Error(w, "reload stream closed", http.StatusServiceUnavailable)
			return
		}
		defer b.Unsubscribe(sub)

		h := w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, ": connected\n\n")
		flusher.Flush()

		ctx := r.Context()
		logger.Debug(ctx, "Reload stream opened", "remote", r.RemoteAddr)

		ticker := time.NewTicker(keepAlive)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				logger.Debug(ctx, "Reload stream closed", "remote", r.RemoteAddr)
				return
			case msg, ok := <-sub.Messages():
				if !ok {
					// Dropped or shutting down; the browser reconnects.
					return
				}
				if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Type, msg.Data); err != nil {
					return
				}
				flusher.Flush()
			case <-ticker.C:
				if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	})
}
