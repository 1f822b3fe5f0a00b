package reload

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/conneroisu/docsmith/internal/logging"
)

const (
	writeTimeout = 10 * time.Second
	pingPeriod   = 54 * time.Second
)

// WebSocketHandler delivers reload notifications as JSON messages of the
// form {"type":"reload","data":"<payload>"}. Incoming frames are ignored.
func WebSocketHandler(b *Broadcaster, logger logging.Logger) http.Handler {
	if logger == nil {
		logger = logging.Discard()
	}
	logger = logger.WithComponent("websocket")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			CompressionMode: websocket.CompressionDisabled,
		})
		if err != nil {
			logger.Warn(r.Context(), err, "WebSocket upgrade failed", "remote", r.RemoteAddr)
			return
		}
		defer conn.CloseNow()

		sub, err := b.Subscribe()
		if err != nil {
			conn.Close(websocket.StatusTryAgainLater, "reload stream closed")
			return
		}
		defer b.Unsubscribe(sub)

		ctx := conn.CloseRead(r.Context())
		logger.Debug(ctx, "WebSocket client connected", "remote", r.RemoteAddr)

		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub.Messages():
				if !ok {
					conn.Close(websocket.StatusGoingAway, "")
					return
				}
				if err := write(ctx, conn, msg); err != nil {
					logger.Debug(ctx, "WebSocket write failed", "error", err)
					return
				}
			case <-ticker.C:
				pingCtx, cancel := context.WithTimeout(ctx, writeTimeout)
				err := conn.Ping(pingCtx)
				cancel()
				if err != nil {
					return
				}
			}
		}
	})
}

func write(ctx context.Context, conn *websocket.Conn, msg Message) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, msg)
}
