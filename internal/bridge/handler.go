package bridge

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
)

// Handler accepts telephony media-stream WebSocket connections and runs one
// [Session] per connection.
type Handler struct {
	params SessionParams
	logger *slog.Logger
}

// NewHandler creates a Handler whose sessions are built from params.
func NewHandler(params SessionParams) *Handler {
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{params: params, logger: logger}
}

var _ http.Handler = (*Handler)(nil)

// ServeHTTP upgrades the connection and blocks for the lifetime of the call.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// The telephony provider connects with no browser origin.
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.logger.Warn("bridge: accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "session ended")

	ctx := r.Context()
	events := make(chan StreamEvent, 16)

	// Reader: decode inbound envelopes onto the event channel. Malformed
	// envelopes are dropped, never fatal to the session.
	go func() {
		defer close(events)
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var ev StreamEvent
			if err := json.Unmarshal(data, &ev); err != nil {
				h.logger.Warn("bridge: malformed envelope dropped", "err", err)
				continue
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	sess := NewSession(h.params)
	sess.Run(ctx, events, &twilioSender{ctx: ctx, conn: conn})
}
