// README: Connection registry for per-user event delivery.
package ws

import (
	"sync"

	"github.com/sirupsen/logrus"
)

type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	log     *logrus.Logger
}

func NewHub(log *logrus.Logger) *Hub {
	return &Hub{clients: make(map[string]*Client), log: log}
}

func clientKey(role, userID string) string { return role + ":" + userID }

// Add registers the client, displacing any previous connection for the same
// user and role.
func (h *Hub) Add(c *Client) {
	h.mu.Lock()
	prev := h.clients[c.Key]
	h.clients[c.Key] = c
	h.mu.Unlock()
	if prev != nil {
		prev.Close()
	}
}

// Remove drops the client if it is still the registered connection.
func (h *Hub) Remove(c *Client) {
	h.mu.Lock()
	if h.clients[c.Key] == c {
		delete(h.clients, c.Key)
	}
	h.mu.Unlock()
}

// SendToUser queues a message for one connection and reports whether a
// connection was there to take it. A full send buffer drops the connection;
// the client reconnects and refetches.
func (h *Hub) SendToUser(role, userID string, msg []byte) bool {
	h.mu.RLock()
	c := h.clients[clientKey(role, userID)]
	h.mu.RUnlock()
	if c == nil {
		return false
	}
	select {
	case c.Send <- msg:
		return true
	default:
		h.log.WithField("client", c.Key).Warn("send buffer full, dropping connection")
		c.Close()
		return false
	}
}

// Broadcast queues a message for every connection.
func (h *Hub) Broadcast(msg []byte) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		select {
		case c.Send <- msg:
		default:
			c.Close()
		}
	}
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
