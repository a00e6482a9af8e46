package server

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"github.com/JonesHong/web-asr-core/internal/notify"
)

// EventHub broadcasts detection events to connected WebSocket clients.
// It implements stream.EventSink so the session manager can publish
// speech and wakeword events without knowing about transports.
type EventHub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*hubClient]struct{}
}

// hubClient is a single WebSocket subscriber with a buffered send queue
type hubClient struct {
	conn *websocket.Conn
	send chan []byte
}

// NewEventHub creates an event hub ready to accept WebSocket subscribers
func NewEventHub(logger *slog.Logger) *EventHub {
	return &EventHub{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Monitoring endpoint, origin checks are left to the deployment
				return true
			},
		},
		clients: make(map[*hubClient]struct{}),
	}
}

// Publish sends an event to every connected subscriber. Snapshot audio is
// excluded from the wire format, subscribers only see event metadata.
func (h *EventHub) Publish(event *notify.Event) {
	payload, err := sonic.Marshal(event)
	if err != nil {
		h.logger.Error("Failed to marshal event for broadcast",
			slog.String("event_id", event.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		select {
		case client.send <- payload:
		default:
			// Slow subscriber, drop the event rather than block detection
			h.logger.Warn("Dropping event for slow WebSocket client",
				slog.String("event_id", event.ID),
			)
		}
	}
}

// ServeHTTP upgrades the request to a WebSocket and registers the subscriber
func (h *EventHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed",
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("error", err.Error()),
		)
		return
	}

	client := &hubClient{
		conn: conn,
		send: make(chan []byte, 64),
	}

	h.mu.Lock()
	h.clients[client] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("WebSocket client connected",
		slog.String("remote_addr", r.RemoteAddr),
		slog.Int("client_count", count),
	)

	go h.writePump(client)
	go h.readPump(client, r.RemoteAddr)
}

// writePump forwards queued events to the client connection
func (h *EventHub) writePump(client *hubClient) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case payload, ok := <-client.send:
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			client.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := client.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				h.removeClient(client)
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.removeClient(client)
				return
			}
		}
	}
}

// readPump consumes and discards client messages so pongs and close
// frames are processed, and detects disconnects
func (h *EventHub) readPump(client *hubClient, remoteAddr string) {
	defer func() {
		h.removeClient(client)
		h.logger.Info("WebSocket client disconnected",
			slog.String("remote_addr", remoteAddr),
		)
	}()

	client.conn.SetReadLimit(512)
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// removeClient unregisters and closes a subscriber
func (h *EventHub) removeClient(client *hubClient) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	h.mu.Unlock()

	client.conn.Close()
}

// ClientCount returns the number of connected subscribers
func (h *EventHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects all subscribers
func (h *EventHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		delete(h.clients, client)
		close(client.send)
		client.conn.Close()
	}
}
