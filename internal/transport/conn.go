package transport

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/pearconnect/connect-server/internal/config"
	"github.com/pearconnect/connect-server/internal/service"
)

// Handler is the core's view of a transport. hub.Hub implements it.
type Handler interface {
	Connect(conn service.Conn, remoteAddr string) (string, error)
	HandleFrame(ctx context.Context, sessionID, remoteAddr string, frame []byte)
	Disconnected(sessionID string)
}

// wsConn owns one WebSocket. The read pump feeds frames to the Handler; the
// write pump drains send and keeps the connection alive with pings.
type wsConn struct {
	ws         *websocket.Conn
	remoteAddr string
	send       chan []byte
	done       chan struct{}
	closeOnce  sync.Once
}

var _ service.Conn = (*wsConn)(nil)

func newWSConn(ws *websocket.Conn, remoteAddr string, buffer int) *wsConn {
	if buffer <= 0 {
		buffer = config.WSSendBuffer
	}
	return &wsConn{
		ws:         ws,
		remoteAddr: remoteAddr,
		send:       make(chan []byte, buffer),
		done:       make(chan struct{}),
	}
}

// Send never blocks: a full buffer or a closing connection drops the frame.
func (c *wsConn) Send(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Close asks the write pump to send a close frame and shut the socket. The
// read pump then fails and reports the disconnect.
func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	return nil
}

func (c *wsConn) writePump() {
	ticker := time.NewTicker(config.WSPingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case <-c.done:
			c.ws.SetWriteDeadline(time.Now().Add(config.WSWriteWait))
			c.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case frame := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(config.WSWriteWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Debug().Err(err).Str("remoteAddr", c.remoteAddr).Msg("websocket write failed")
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(config.WSWriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsConn) readPump(ctx context.Context, h Handler, sessionID string) {
	defer func() {
		c.Close()
		h.Disconnected(sessionID)
	}()

	c.ws.SetReadLimit(config.WSMaxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(config.WSPongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(config.WSPongWait))
		return nil
	})

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseAbnormalClosure) {
				log.Debug().Err(err).Str("sessionId", sessionID).Msg("websocket read failed")
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		h.HandleFrame(ctx, sessionID, c.remoteAddr, data)
	}
}
