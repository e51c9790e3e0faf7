package hub

import (
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// sendQueueSize bounds the per-client outbound queue; overflow drops
	// messages for that client only.
	sendQueueSize = 2048

	// writeWait bounds a single write so one stuck socket cannot wedge its
	// pump.
	writeWait = 5 * time.Second

	// pongWait is how long a client may stay silent before its reads fail.
	pongWait = 60 * time.Second

	// pingPeriod must be shorter than pongWait so pings keep the read
	// deadline alive.
	pingPeriod = 30 * time.Second

	// maxWriteFailures is how many consecutive write errors a client gets
	// before it is disconnected.
	maxWriteFailures = 5
)

// Client is one websocket subscriber with its own bounded outbound queue and
// a pair of pump goroutines.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// NewClient wraps an upgraded connection. Call Start after registering it
// with the hub.
func NewClient(h *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendQueueSize),
	}
}

// Start launches the read and write pumps. Both unregister the client on
// exit, which closes the connection and the send queue.
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}

// writePump drains the send queue onto the socket and keeps the connection
// alive with periodic pings. Transient write errors are tolerated up to
// maxWriteFailures in a row.
func (c *Client) writePump() {
	defer c.hub.Unregister(c)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				// Hub closed the queue.
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					return
				}
				failures++
				if failures >= maxWriteFailures {
					slog.Warn("Disconnecting unresponsive client",
						slog.Int("failures", failures),
						slog.Any("error", err))
					return
				}
				continue
			}
			failures = 0

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump consumes inbound frames so pings, pongs and close frames are
// processed. Client payloads are ignored; this feed is one-way.
func (c *Client) readPump() {
	defer c.hub.Unregister(c)

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Debug("WebSocket read failed", slog.Any("error", err))
			}
			return
		}
	}
}
