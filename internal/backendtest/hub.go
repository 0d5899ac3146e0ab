package backendtest

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/gorilla/websocket"

	"fanlink-client/internal/models"
)

// Hub maintains the active push connections, keyed by identity. One
// identity may hold several connections (multiple tabs in the source
// system).
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*websocket.Conn]bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[string]map[*websocket.Conn]bool)}
}

// Add registers a connection for an identity.
func (h *Hub) Add(identityID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[identityID]; !ok {
		h.clients[identityID] = make(map[*websocket.Conn]bool)
	}
	h.clients[identityID][conn] = true
}

// Remove drops a connection.
func (h *Hub) Remove(identityID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.clients[identityID]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.clients, identityID)
		}
	}
}

// Push delivers a new-message envelope to every connection of the
// identity. Dead connections are dropped.
func (h *Hub) Push(identityID string, msg models.Message) {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients[identityID]))
	for conn := range h.clients[identityID] {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	env := models.Envelope{Type: models.EnvelopeMessage, Message: &msg}
	payload, _ := json.Marshal(env)
	for _, conn := range conns {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			log.Printf("websocket write error: %v", err)
			_ = conn.Close()
			h.Remove(identityID, conn)
		}
	}
}

// Connected reports how many connections an identity currently holds.
func (h *Hub) Connected(identityID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[identityID])
}
