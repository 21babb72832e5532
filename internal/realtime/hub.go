package realtime

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// Subscriber identity headers, matching the gRPC metadata keys.
const (
	UserIDHeader = "X-User-Id"
	RoleHeader   = "X-Role"
)

// Message is a payload addressed to one user's subscribers. Operator
// subscribers receive every message.
type Message struct {
	UserID string
	Data   []byte
}

type subscriber struct {
	userID   string
	operator bool
}

func (s subscriber) wants(msg Message) bool {
	return s.operator || (s.userID != "" && s.userID == msg.UserID)
}

// Hub manages WebSocket subscribers and pushes order updates to them.
// A subscriber is scoped to one user through the X-User-Id header or the
// user_id query parameter; only X-Role: operator gets the unfiltered feed.
// Unscoped connections are refused.
type Hub struct {
	mu       sync.Mutex
	clients  map[*websocket.Conn]subscriber
	messages chan Message
	upgrader websocket.Upgrader
}

// NewHub constructs a Hub with a buffer of pending messages.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 256
	}
	return &Hub{
		clients:  make(map[*websocket.Conn]subscriber),
		messages: make(chan Message, buffer),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Run delivers queued messages until ctx ends, then closes every connection.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for conn := range h.clients {
				conn.Close()
				delete(h.clients, conn)
			}
			h.mu.Unlock()
			return
		case msg := <-h.messages:
			h.deliver(msg)
		}
	}
}

// Broadcast queues msg without blocking. It reports false when the queue is full.
func (h *Hub) Broadcast(msg Message) bool {
	select {
	case h.messages <- msg:
		return true
	default:
		return false
	}
}

// Clients returns the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and keeps the subscriber until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sub := subscriberFrom(r)
	if !sub.operator && sub.userID == "" {
		http.Error(w, "user_id or operator role required", http.StatusUnauthorized)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	h.mu.Lock()
	h.clients[conn] = sub
	h.mu.Unlock()

	// Subscribers never send; reading only detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.mu.Lock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		conn.Close()
	}
	h.mu.Unlock()
}

func (h *Hub) deliver(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, sub := range h.clients {
		if !sub.wants(msg) {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, msg.Data); err != nil {
			conn.Close()
			delete(h.clients, conn)
		}
	}
}

func subscriberFrom(r *http.Request) subscriber {
	userID := strings.TrimSpace(r.Header.Get(UserIDHeader))
	if userID == "" {
		userID = strings.TrimSpace(r.URL.Query().Get("user_id"))
	}
	return subscriber{
		userID:   userID,
		operator: strings.EqualFold(r.Header.Get(RoleHeader), "operator"),
	}
}
