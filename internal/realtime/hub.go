package realtime

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/websocket"

	"github.com/packcycle/packcycle/internal/services"
)

// Message is the payload delivered to connected subscribers.
type Message struct {
	Event   string `json:"event"`
	UserID  string `json:"user_id,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

type client struct {
	conn *websocket.Conn
	send chan Message
}

// Hub fans package events out to per-user WebSocket subscribers.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*client]struct{}
}

// NewHub constructs a hub instance.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]map[*client]struct{}),
	}
}

// Serve upgrades the HTTP connection to a WebSocket and registers the user
// subscriber. It blocks until the peer disconnects.
func (h *Hub) Serve(userID string, w http.ResponseWriter, r *http.Request) {
	server := websocket.Server{
		Handshake: func(config *websocket.Config, req *http.Request) error {
			config.Protocol = append(config.Protocol, "json")
			return nil
		},
		Handler: func(conn *websocket.Conn) {
			_ = conn.SetDeadline(time.Now().Add(5 * time.Minute))
			cl := &client{
				conn: conn,
				send: make(chan Message, 16),
			}

			h.addClient(userID, cl)
			defer h.removeClient(userID, cl)

			go h.writeLoop(cl)
			h.readLoop(cl)
		},
	}

	server.ServeHTTP(w, r)
}

// Broadcast delivers a message to every subscriber of the user.
func (h *Hub) Broadcast(userID string, msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients[userID] {
		select {
		case client.send <- msg:
		default:
			// Drop if buffer full to avoid blocking all clients.
		}
	}
}

// Bind subscribes the hub to the dispatcher so every package event reaches
// the owning user's sockets. The returned function detaches the hub again.
func (h *Hub) Bind(events *services.Dispatcher) func() {
	return events.Subscribe(func(e services.Event) {
		if e.UserID == "" {
			return
		}
		h.Broadcast(e.UserID, Message{
			Event:   e.Type,
			UserID:  e.UserID,
			Payload: e.Payload,
		})
	})
}

// SubscriberCount reports how many sockets the user currently holds.
func (h *Hub) SubscriberCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

func (h *Hub) addClient(userID string, cl *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[userID] == nil {
		h.clients[userID] = make(map[*client]struct{})
	}
	h.clients[userID][cl] = struct{}{}
}

func (h *Hub) removeClient(userID string, cl *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients := h.clients[userID]; clients != nil {
		delete(clients, cl)
		if len(clients) == 0 {
			delete(h.clients, userID)
		}
	}
	close(cl.send)
	_ = cl.conn.Close()
}

func (h *Hub) writeLoop(cl *client) {
	for msg := range cl.send {
		if err := websocket.JSON.Send(cl.conn, msg); err != nil {
			break
		}
	}
}

func (h *Hub) readLoop(cl *client) {
	defer cl.conn.Close()

	for {
		var payload any
		if err := websocket.JSON.Receive(cl.conn, &payload); err != nil {
			break
		}
	}
}
