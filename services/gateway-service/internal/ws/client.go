package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Room joins are unauthenticated by design; origin checks belong to the
	// proxy in front of the gateway.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// InboundHandler receives each client→server frame.
type InboundHandler func(ctx context.Context, c *Client, event string, data json.RawMessage)

type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

type inboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// ServeWS upgrades the request and runs the client's pumps until disconnect.
func ServeWS(hub *Hub, handler InboundHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			hub.logger.Warn("websocket upgrade failed", "err", err)
			return
		}
		c := &Client{hub: hub, conn: conn, send: make(chan []byte, sendBuffer)}
		hub.register(c)

		// The request context is canceled the moment this handler returns,
		// and the connection outlives the handler. The pumps get a
		// connection-scoped context instead, canceled on disconnect.
		ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))

		go c.writePump()
		go c.readPump(ctx, cancel, handler)
	}
}

func (c *Client) readPump(ctx context.Context, cancel context.CancelFunc, handler InboundHandler) {
	defer func() {
		cancel()
		c.hub.unregister(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "err", err)
			}
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(raw, &frame); err != nil || frame.Event == "" {
			// One malformed frame never kills the connection loop.
			c.hub.logger.Warn("malformed client frame", "err", err)
			continue
		}
		handler(ctx, c, frame.Event, frame.Data)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case raw, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
