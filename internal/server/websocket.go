package server

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/jeongseonghan/gam-linksim/internal/link"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // dashboard is served from anywhere on the local network
	},
}

// WSMessage represents a WebSocket message.
type WSMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// WSHub manages WebSocket connections. It implements link.Observer.
type WSHub struct {
	clients map[*websocket.Conn]bool
	mu      sync.RWMutex
	writeMu sync.Mutex
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub() *WSHub {
	return &WSHub{
		clients: make(map[*websocket.Conn]bool),
	}
}

// AddClient registers a new WebSocket connection.
func (h *WSHub) AddClient(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[conn] = true
	log.Printf("[DEBUG] WebSocket client connected (%d total)", len(h.clients))
}

// RemoveClient removes a WebSocket connection.
func (h *WSHub) RemoveClient(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.clients[conn] {
		return
	}
	delete(h.clients, conn)
	conn.Close()
	log.Printf("[DEBUG] WebSocket client disconnected (%d remaining)", len(h.clients))
}

// Clients returns the number of connected clients.
func (h *WSHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseAll disconnects every client.
func (h *WSHub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
		delete(h.clients, conn)
	}
}

// Broadcast sends a message to all connected clients.
func (h *WSHub) Broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[ERROR] WebSocket marshal error: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	// gorilla allows one concurrent writer per connection.
	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	for conn := range h.clients {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Printf("[WARN] WebSocket write error: %v", err)
			go h.RemoveClient(conn)
		}
	}
}

// Observe broadcasts a transmission result.
func (h *WSHub) Observe(r link.Result) {
	h.Broadcast(WSMessage{
		Type:    "result",
		Payload: r,
	})
}

// BroadcastStatus sends a driver state change to all clients.
func (h *WSHub) BroadcastStatus(state link.DriverState, message string) {
	h.Broadcast(WSMessage{
		Type: "status",
		Payload: map[string]string{
			"state":   state.String(),
			"message": message,
		},
	})
}

// BroadcastSummary sends the aggregate statistics to all clients.
func (h *WSHub) BroadcastSummary(s link.Summary) {
	h.Broadcast(WSMessage{
		Type:    "summary",
		Payload: s,
	})
}
