package websocket

import (
	"encoding/json"
	"log"
	"sync"
)

// Hub maintains the set of connected POS terminals and fans sync
// events out to them
type Hub struct {
	// Registered terminals map: TerminalID -> Client
	clients map[string]*Client

	// Register requests
	register chan *Client

	// Unregister requests
	unregister chan *Client

	// Outbound fan-out messages
	broadcast chan []byte

	// Mutex for thread-safe access to clients map
	mu sync.RWMutex
}

// NewHub creates a new Hub instance
func NewHub() *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 64),
		clients:    make(map[string]*Client),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if client.TerminalID != "" {
				// If a terminal reconnects, close the old connection
				if old, ok := h.clients[client.TerminalID]; ok {
					close(old.send)
					delete(h.clients, client.TerminalID)
				}
				h.clients[client.TerminalID] = client
				log.Printf("📱 Terminal connected: %s", client.TerminalID)
			}
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if client.TerminalID != "" {
				if _, ok := h.clients[client.TerminalID]; ok {
					delete(h.clients, client.TerminalID)
					close(client.send)
					log.Printf("📴 Terminal disconnected: %s", client.TerminalID)
				}
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.RLock()
			for id, client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Buffer full, terminal is stalled
					log.Printf("⚠️ WS: dropping event for stalled terminal %s", id)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// forget drops a map entry without closing the send channel; used
// when a connection re-identifies under its real terminal id
func (h *Hub) forget(terminalID string) {
	h.mu.Lock()
	delete(h.clients, terminalID)
	h.mu.Unlock()
}

// Broadcast sends a typed event to every connected terminal
func (h *Hub) Broadcast(event string, data interface{}) {
	msg, err := json.Marshal(map[string]interface{}{
		"type": event,
		"data": data,
	})
	if err != nil {
		log.Printf("Error marshaling event %s: %v", event, err)
		return
	}

	select {
	case h.broadcast <- msg:
	default:
		log.Printf("⚠️ WS: broadcast queue full, dropping %s event", event)
	}
}

