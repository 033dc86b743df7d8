package transport

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/pearconnect/connect-server/internal/config"
	apperrors "github.com/pearconnect/connect-server/internal/errors"
)

// WebSocketHandler upgrades requests and attaches them to a Handler.
type WebSocketHandler struct {
	handler  Handler
	upgrader websocket.Upgrader
	buffer   int
	// ctx bounds the lifetime of per-frame work such as limiter lookups.
	ctx context.Context
}

func NewWebSocketHandler(ctx context.Context, h Handler) *WebSocketHandler {
	return &WebSocketHandler{
		handler: h,
		ctx:     ctx,
		buffer:  config.WSSendBuffer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Companion apps and the bundled web client connect from other
			// origins on the LAN.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Str("remoteAddr", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	conn := newWSConn(ws, r.RemoteAddr, h.buffer)
	go conn.writePump()

	sessionID, err := h.handler.Connect(conn, r.RemoteAddr)
	if err != nil {
		reason := "Server unavailable"
		if appErr, ok := apperrors.AsAppError(err); ok {
			reason = appErr.Message
		}
		msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, reason)
		_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(config.WSWriteWait))
		conn.Close()
		return
	}

	go conn.readPump(h.ctx, h.handler, sessionID)
}
