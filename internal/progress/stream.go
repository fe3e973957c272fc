package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alexjbarnes/workspace-sync/internal/syncer"
	"github.com/coder/websocket"
)

// writeTimeout bounds a single event write to a WebSocket client.
const writeTimeout = 10 * time.Second

// Handler streams progress events to WebSocket clients as JSON text
// messages. A client that connects mid-run first receives the latest
// event. Messages from the client are ignored.
func (h *Hub) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			h.logger.Debug("progress: websocket accept failed", slog.String("error", err.Error()))
			return
		}
		defer conn.CloseNow()

		ctx := conn.CloseRead(r.Context())

		events, unsubscribe := h.Subscribe()
		defer unsubscribe()

		if last, ok := h.Last(); ok {
			if err := writeEvent(ctx, conn, last); err != nil {
				return
			}
		}

		for {
			select {
			case <-ctx.Done():
				conn.Close(websocket.StatusNormalClosure, "bye")
				return
			case ev, ok := <-events:
				if !ok {
					return
				}

				if err := writeEvent(ctx, conn, ev); err != nil {
					h.logger.Debug("progress: client write failed", slog.String("error", err.Error()))
					return
				}
			}
		}
	})
}

func writeEvent(ctx context.Context, conn *websocket.Conn, ev syncer.Progress) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshaling progress: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	return conn.Write(ctx, websocket.MessageText, data)
}
