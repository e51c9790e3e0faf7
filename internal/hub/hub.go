// Package hub fans realtime events out to websocket subscribers. Delivery is
// best-effort: a subscriber that cannot keep up loses messages, never the
// connection and never the publisher's throughput.
package hub

import (
	"context"
	"log/slog"

	"broker_go/internal/infra"
)

// broadcastQueueSize absorbs bursts from the tick pipeline before the fan-out
// loop catches up.
const broadcastQueueSize = 8192

// Hub owns the set of connected clients. All map access happens in Run's
// goroutine; other goroutines talk to it through channels only.
type Hub struct {
	clients    map[*Client]struct{}
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

// NewHub creates a hub. Call Run to start it.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan []byte, broadcastQueueSize),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run processes registrations and broadcasts until the context is cancelled,
// then disconnects every remaining client.
func (h *Hub) Run(ctx context.Context) {
	slog.Info("Hub started")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				h.drop(client)
				infra.GlobalMetrics.DecrementClients()
			}
			slog.Info("Hub stopped", slog.Int("disconnected", len(h.clients)))
			return

		case client := <-h.register:
			h.clients[client] = struct{}{}
			infra.GlobalMetrics.IncrementClients()
			slog.Info("Client registered", slog.Int("clients", len(h.clients)))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				h.drop(client)
				infra.GlobalMetrics.DecrementClients()
				slog.Info("Client unregistered", slog.Int("clients", len(h.clients)))
			}

		case message := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Slow consumer: drop the message, keep the client.
					// The write pump decides when a client is truly dead.
					infra.GlobalMetrics.RecordDroppedMessage()
					slog.Warn("Client send queue full, dropping message",
						slog.Int("queued", len(client.send)))
				}
			}
		}
	}
}

// Register hands a new client to the run loop. After shutdown the connection
// is closed instead.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		if client.conn != nil {
			client.conn.Close()
		}
	}
}

// Unregister removes a client and closes its connection. Safe to call more
// than once and after shutdown.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Publish queues a message for broadcast to all clients. Never blocks: when
// the broadcast queue is full the message is dropped.
func (h *Hub) Publish(message []byte) {
	select {
	case h.broadcast <- message:
	default:
		infra.GlobalMetrics.RecordDroppedMessage()
		slog.Warn("Broadcast queue full, dropping message")
	}
}

func (h *Hub) drop(client *Client) {
	close(client.send)
	if client.conn != nil {
		client.conn.Close()
	}
}
