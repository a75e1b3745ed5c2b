// Package realtime authenticates websocket connections and routes events to them
// by role and by user identity.
package realtime

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trezcool/ratiba/core"
	"github.com/trezcool/ratiba/core/auth"
	"github.com/trezcool/ratiba/core/schedule"
)

// Event is the frame pushed to clients.
type Event struct {
	Name    string      `json:"event"`
	Payload interface{} `json:"payload"`
	SentAt  time.Time   `json:"sent_at"`
}

func roleScope(role string) string   { return "role:" + role }
func userScope(userID string) string { return "user:" + userID }

// Hub owns the connected-user directory and the subscription scopes.
// Delivery is best effort: a client whose send buffer is full misses the event.
type Hub struct {
	mu        sync.RWMutex
	directory map[string]*Client             // userID -> latest connection
	scopes    map[string]map[*Client]struct{} // "role:<role>" | "user:<id>" -> connections

	logger  core.Logger
	dropped uint64
}

var _ schedule.Notifier = (*Hub)(nil)

func NewHub(logger core.Logger) *Hub {
	return &Hub{
		directory: make(map[string]*Client),
		scopes:    make(map[string]map[*Client]struct{}),
		logger:    logger,
	}
}

// Register makes `c` the connection of its user (replacing any previous one in the directory)
// and subscribes it to its role and user scopes.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.directory[c.identity.UserID] = c
	for _, scope := range []string{roleScope(c.identity.Role), userScope(c.identity.UserID)} {
		if h.scopes[scope] == nil {
			h.scopes[scope] = make(map[*Client]struct{})
		}
		h.scopes[scope][c] = struct{}{}
	}
}

// Unregister unsubscribes `c` and closes its send channel.
// The directory entry is only removed if it still points at `c`.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if cur, ok := h.directory[c.identity.UserID]; ok && cur.id == c.id {
		delete(h.directory, c.identity.UserID)
	}
	removed := false
	for _, scope := range []string{roleScope(c.identity.Role), userScope(c.identity.UserID)} {
		if subs, ok := h.scopes[scope]; ok {
			if _, ok = subs[c]; ok {
				delete(subs, c)
				removed = true
			}
			if len(subs) == 0 {
				delete(h.scopes, scope)
			}
		}
	}
	if removed {
		close(c.send)
	}
}

// EmitToRoles delivers the event once to every connection subscribed to any of `roles`.
func (h *Hub) EmitToRoles(roles []string, event string, payload interface{}) {
	msg, err := encode(event, payload)
	if err != nil {
		h.logger.Error(fmt.Sprintf("encoding event %s: %v", event, err), err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	seen := make(map[*Client]struct{})
	for _, role := range roles {
		for c := range h.scopes[roleScope(role)] {
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			h.deliver(c, msg)
		}
	}
}

// EmitToUser delivers the event to the directory connection of `userID`, if connected.
func (h *Hub) EmitToUser(userID string, event string, payload interface{}) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	c, ok := h.directory[userID]
	if !ok {
		return
	}
	msg, err := encode(event, payload)
	if err != nil {
		h.logger.Error(fmt.Sprintf("encoding event %s: %v", event, err), err)
		return
	}
	h.deliver(c, msg)
}

// deliver must be called with h.mu held.
func (h *Hub) deliver(c *Client, msg []byte) {
	select {
	case c.send <- msg:
	default:
		atomic.AddUint64(&h.dropped, 1)
	}
}

// Connected reports whether `userID` has a connection in the directory.
func (h *Hub) Connected(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.directory[userID]
	return ok
}

// ConnectionID returns the id of the directory connection of `userID`.
func (h *Hub) ConnectionID(userID string) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if c, ok := h.directory[userID]; ok {
		return c.id, true
	}
	return "", false
}

// Dropped returns how many deliveries were dropped on full buffers.
func (h *Hub) Dropped() uint64 {
	return atomic.LoadUint64(&h.dropped)
}

// CloseAll disconnects every client; used on shutdown.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	clients := make([]*Client, 0)
	for _, subs := range h.scopes {
		for c := range subs {
			clients = append(clients, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.Close()
	}
}

func encode(event string, payload interface{}) ([]byte, error) {
	return json.Marshal(Event{Name: event, Payload: payload, SentAt: time.Now().UTC()})
}

// Identity returns the identity a client authenticated as.
func (c *Client) Identity() auth.Identity { return c.identity }
