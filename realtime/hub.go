// realtime/hub.go - Per-session client registry and fan-out
package realtime

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Hub tracks which clients are subscribed to which session. Fan-out is
// best effort: a full client buffer drops the client, never the event.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]map[*Client]struct{} // room code -> clients
}

func NewHub() *Hub {
	return &Hub{
		sessions: make(map[string]map[*Client]struct{}),
	}
}

// Register subscribes a client to a session's broadcasts.
func (h *Hub) Register(code string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.sessions[code]
	if !ok {
		clients = make(map[*Client]struct{})
		h.sessions[code] = clients
	}
	clients[c] = struct{}{}
	c.Code = code
}

// Unregister removes a client. The last client out drops the session
// entry entirely.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.sessions[c.Code]
	if !ok {
		return
	}
	delete(clients, c)
	if len(clients) == 0 {
		delete(h.sessions, c.Code)
	}
}

// Broadcast sends an event to every client subscribed to the session.
func (h *Hub) Broadcast(code, event string, payload interface{}) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.sessions[code] {
		c.Send(event, payload)
	}
}

// BroadcastExcept sends to everyone in the session but one client.
func (h *Hub) BroadcastExcept(code string, skip *Client, event string, payload interface{}) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.sessions[code] {
		if c == skip {
			continue
		}
		c.Send(event, payload)
	}
}

// ClientCount reports how many clients a session currently has.
func (h *Hub) ClientCount(code string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[code])
}

// SessionBroadcaster binds a hub to one session so the game loop can
// broadcast without knowing about room codes.
type SessionBroadcaster struct {
	hub  *Hub
	code string
}

func NewSessionBroadcaster(hub *Hub, code string) *SessionBroadcaster {
	return &SessionBroadcaster{hub: hub, code: code}
}

func (b *SessionBroadcaster) Broadcast(event string, payload interface{}) {
	if b.hub.ClientCount(b.code) == 0 {
		log.Debug().Str("room_code", b.code).Str("event", event).Msg("broadcast to empty session")
	}
	b.hub.Broadcast(b.code, event, payload)
}
